package escrow

import "github.com/catalogfi/xswap/pkg/fault"

var (
	ErrNotCreator           = fault.New(fault.Authorization, "escrow: caller is not the factory creator")
	ErrNotDepositor         = fault.New(fault.Authorization, "escrow: caller is not the depositor")
	ErrEscrowExists         = fault.New(fault.Conflict, "escrow: already created")
	ErrEscrowNotFound       = fault.New(fault.Validation, "escrow: not found")
	ErrNotLocked            = fault.New(fault.Conflict, "escrow: not locked")
	ErrInvalidSecret        = fault.New(fault.Validation, "escrow: invalid secret")
	ErrWithdrawWindowClosed = fault.New(fault.Validation, "escrow: withdraw window closed")
	ErrCancelWindowNotOpen  = fault.New(fault.Validation, "escrow: cancel window not open")
	ErrInvalidTimeouts      = fault.New(fault.FundSafety, "escrow: withdraw timeout must precede cancel timeout")
	ErrInvalidParams        = fault.New(fault.Validation, "escrow: invalid parameters")
	ErrRescueLocked         = fault.New(fault.FundSafety, "escrow: funds not rescuable")
	ErrInsufficientBalance  = fault.New(fault.Validation, "escrow: insufficient balance")
)
