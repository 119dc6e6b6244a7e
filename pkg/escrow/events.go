package escrow

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Names of the events emitted by the factory.
const (
	EventNameCreated   = "EscrowCreated"
	EventNameWithdrawn = "EscrowWithdrawn"
	EventNameCancelled = "EscrowCancelled"
	EventNameRescued   = "FundsRescued"
)

type EscrowCreated struct {
	Escrow *Escrow
}

func (EscrowCreated) EventName() string { return EventNameCreated }

type EscrowWithdrawn struct {
	ChainID     uint64
	OrderHash   common.Hash
	Escrow      common.Address
	Beneficiary common.Address
	Secret      []byte
}

func (EscrowWithdrawn) EventName() string { return EventNameWithdrawn }

type EscrowCancelled struct {
	ChainID   uint64
	OrderHash common.Hash
	Escrow    common.Address
	Depositor common.Address
}

func (EscrowCancelled) EventName() string { return EventNameCancelled }

type FundsRescued struct {
	ChainID   uint64
	OrderHash common.Hash
	Escrow    common.Address
	Asset     common.Address
	Amount    *big.Int
}

func (FundsRescued) EventName() string { return EventNameRescued }
