// Package escrow implements the per chain hash-time-locked escrow. An escrow
// holds one side of a swap and is released exactly once: to its beneficiary
// with the secret before TimeoutWithdraw, or back to the depositor from
// TimeoutCancel on.
package escrow

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Status of an escrow. Withdrawn and Cancelled are terminal.
type Status uint8

const (
	Uncreated Status = iota
	Locked
	Withdrawn
	Cancelled
)

func (s Status) String() string {
	switch s {
	case Uncreated:
		return "uncreated"
	case Locked:
		return "locked"
	case Withdrawn:
		return "withdrawn"
	case Cancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == Withdrawn || s == Cancelled
}

// Side tells which leg of the swap an escrow holds.
type Side uint8

const (
	// Source escrows hold the maker's asset for the resolver.
	Source Side = iota
	// Destination escrows hold the resolver's asset for the maker.
	Destination
)

func (side Side) String() string {
	if side == Destination {
		return "destination"
	}
	return "source"
}

// InitCodeHash stands in for the escrow clone's init code when deriving
// addresses, so addresses match CREATE2 deployments by the factory.
var InitCodeHash = crypto.Keccak256([]byte("xswap.escrow.v1"))

// Address returns the deterministic escrow address of an order on the chain
// served by factory.
func Address(factory common.Address, orderHash common.Hash) common.Address {
	return crypto.CreateAddress2(factory, orderHash, InitCodeHash)
}

// Escrow is the custody record of one swap leg.
type Escrow struct {
	Address         common.Address
	OrderHash       common.Hash
	Side            Side
	ChainID         uint64
	Depositor       common.Address
	Beneficiary     common.Address
	Asset           common.Address
	Amount          *big.Int
	SecretHash      common.Hash
	TimeoutWithdraw uint64
	TimeoutCancel   uint64
	CreatedAt       uint64
	Status          Status
	Secret          []byte // set once withdrawn
}

// Clone returns a deep copy.
func (e *Escrow) Clone() *Escrow {
	if e == nil {
		return nil
	}
	clone := *e
	if e.Amount != nil {
		clone.Amount = new(big.Int).Set(e.Amount)
	}
	if e.Secret != nil {
		clone.Secret = append([]byte(nil), e.Secret...)
	}
	return &clone
}

// Params describes an escrow to create.
type Params struct {
	OrderHash       common.Hash
	Side            Side
	Depositor       common.Address
	Beneficiary     common.Address
	Asset           common.Address
	Amount          *big.Int
	SecretHash      common.Hash
	TimeoutWithdraw uint64
	TimeoutCancel   uint64
}

// Validate checks the creation invariants: a positive amount and a withdraw
// window that strictly precedes the cancel window.
func (p Params) Validate() error {
	if p.Amount == nil || p.Amount.Sign() <= 0 {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidParams)
	}
	if p.TimeoutWithdraw >= p.TimeoutCancel {
		return fmt.Errorf("%w: withdraw %v, cancel %v", ErrInvalidTimeouts, p.TimeoutWithdraw, p.TimeoutCancel)
	}
	if p.Beneficiary == (common.Address{}) || p.Depositor == (common.Address{}) {
		return fmt.Errorf("%w: zero party address", ErrInvalidParams)
	}
	return nil
}
