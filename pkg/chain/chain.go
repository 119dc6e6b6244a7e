// Package chain defines how the coordinator and resolvers talk to a ledger.
// Implementations live in the local (in-process) and evm (JSON-RPC)
// subpackages.
package chain

import (
	"context"
	"math/big"

	"github.com/catalogfi/xswap/pkg/contract"
	"github.com/catalogfi/xswap/pkg/escrow"
	"github.com/catalogfi/xswap/pkg/order"
	"github.com/ethereum/go-ethereum/common"
)

// Receipt is the confirmed outcome of a transaction.
type Receipt struct {
	TxHash  common.Hash
	Block   uint64
	GasUsed uint64
	// Escrow is the escrow address reported by the transaction's events, if any.
	Escrow common.Address
}

// TxOpts tune a transaction. Zero values let the client pick.
type TxOpts struct {
	GasLimit uint64
	GasPrice *big.Int
}

// Reader is the read-only view of a chain used by the coordinator.
type Reader interface {
	ChainID() uint64
	Domain() order.Domain

	// ValidateOrderConditions returns nil if the order can be executed now.
	ValidateOrderConditions(ctx context.Context, o order.Order) error
	ValidateOrderSignature(ctx context.Context, o order.Order, sig []byte) (bool, error)
	IsResolver(ctx context.Context, addr common.Address) (bool, error)
	OrderStatus(ctx context.Context, orderHash common.Hash) (contract.Status, error)

	// Escrow returns the order's escrow on this chain. Missing escrows are
	// reported with status escrow.Uncreated.
	Escrow(ctx context.Context, orderHash common.Hash) (*escrow.Escrow, error)
	GasPrice(ctx context.Context) (*big.Int, error)
	LatestTime(ctx context.Context) (uint64, error)

	// Watch pushes typed chain events to sink until ctx is done.
	Watch(ctx context.Context, sink chan<- Event) error
}

// Client is a Reader that also signs and sends transactions as one account.
// Every write waits for the transaction to be confirmed.
type Client interface {
	Reader

	Address() common.Address
	EstimateExecute(ctx context.Context, o order.Order, sig []byte) (uint64, error)
	ExecuteOrder(ctx context.Context, o order.Order, sig []byte, opts TxOpts) (*Receipt, error)
	DeployDestinationEscrow(ctx context.Context, o order.Order, amount *big.Int, opts TxOpts) (*Receipt, error)
	CancelOrder(ctx context.Context, o order.Order) (*Receipt, error)
	Withdraw(ctx context.Context, orderHash common.Hash, secret []byte) (*Receipt, error)
	Cancel(ctx context.Context, orderHash common.Hash) (*Receipt, error)
}
