package contract

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

const (
	EventNameOrderFilled        = "OrderFilled"
	EventNameOrderCancelled     = "OrderCancelled"
	EventNameResolverAuthorized = "ResolverAuthorized"
	EventNameDstEscrowDeployed  = "DstEscrowDeployed"
)

// OrderFilled is emitted once per order, when its source escrow is locked.
type OrderFilled struct {
	ChainID   uint64
	OrderHash common.Hash
	Resolver  common.Address
	Taker     common.Address
	Escrow    common.Address
}

func (OrderFilled) EventName() string { return EventNameOrderFilled }

type OrderCancelled struct {
	ChainID   uint64
	OrderHash common.Hash
	Maker     common.Address
}

func (OrderCancelled) EventName() string { return EventNameOrderCancelled }

type ResolverAuthorized struct {
	ChainID    uint64
	Resolver   common.Address
	Authorized bool
}

func (ResolverAuthorized) EventName() string { return EventNameResolverAuthorized }

type DstEscrowDeployed struct {
	ChainID   uint64
	OrderHash common.Hash
	Resolver  common.Address
	Escrow    common.Address
	Amount    *big.Int
}

func (DstEscrowDeployed) EventName() string { return EventNameDstEscrowDeployed }
