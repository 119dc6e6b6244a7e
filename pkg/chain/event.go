package chain

import (
	"fmt"
	"math/big"

	"github.com/catalogfi/xswap/pkg/contract"
	"github.com/catalogfi/xswap/pkg/escrow"
	"github.com/catalogfi/xswap/pkg/events"
	"github.com/ethereum/go-ethereum/common"
)

// EventKind tags the chain events observed by watchers.
type EventKind uint8

const (
	OrderFilled EventKind = iota + 1
	OrderCancelled
	DstEscrowDeployed
	EscrowCreated
	EscrowWithdrawn
	EscrowCancelled
)

func (kind EventKind) String() string {
	switch kind {
	case OrderFilled:
		return contract.EventNameOrderFilled
	case OrderCancelled:
		return contract.EventNameOrderCancelled
	case DstEscrowDeployed:
		return contract.EventNameDstEscrowDeployed
	case EscrowCreated:
		return escrow.EventNameCreated
	case EscrowWithdrawn:
		return escrow.EventNameWithdrawn
	case EscrowCancelled:
		return escrow.EventNameCancelled
	default:
		return fmt.Sprintf("event(%d)", uint8(kind))
	}
}

// Event is a chain log relevant to swaps.
type Event struct {
	Kind      EventKind
	ChainID   uint64
	Block     uint64
	TxHash    common.Hash
	OrderHash common.Hash

	// Resolver is set for OrderFilled and DstEscrowDeployed.
	Resolver common.Address
	Escrow   common.Address
	Amount   *big.Int
	// Secret is set for EscrowWithdrawn.
	Secret []byte
}

// FromEvent converts a state machine event into a chain event. Events that
// watchers don't care about are reported with ok false.
func FromEvent(evt events.Event, block uint64, txHash common.Hash) (Event, bool) {
	out := Event{Block: block, TxHash: txHash}
	switch evt := evt.(type) {
	case contract.OrderFilled:
		out.Kind = OrderFilled
		out.ChainID = evt.ChainID
		out.OrderHash = evt.OrderHash
		out.Resolver = evt.Resolver
		out.Escrow = evt.Escrow
	case contract.OrderCancelled:
		out.Kind = OrderCancelled
		out.ChainID = evt.ChainID
		out.OrderHash = evt.OrderHash
	case contract.DstEscrowDeployed:
		out.Kind = DstEscrowDeployed
		out.ChainID = evt.ChainID
		out.OrderHash = evt.OrderHash
		out.Resolver = evt.Resolver
		out.Escrow = evt.Escrow
		out.Amount = evt.Amount
	case escrow.EscrowCreated:
		out.Kind = EscrowCreated
		out.ChainID = evt.Escrow.ChainID
		out.OrderHash = evt.Escrow.OrderHash
		out.Escrow = evt.Escrow.Address
		out.Amount = evt.Escrow.Amount
	case escrow.EscrowWithdrawn:
		out.Kind = EscrowWithdrawn
		out.ChainID = evt.ChainID
		out.OrderHash = evt.OrderHash
		out.Escrow = evt.Escrow
		out.Secret = evt.Secret
	case escrow.EscrowCancelled:
		out.Kind = EscrowCancelled
		out.ChainID = evt.ChainID
		out.OrderHash = evt.OrderHash
		out.Escrow = evt.Escrow
	default:
		return Event{}, false
	}
	return out, true
}
