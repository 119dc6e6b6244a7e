package contract

import "github.com/catalogfi/xswap/pkg/fault"

var (
	ErrUnauthorizedResolver  = fault.New(fault.Authorization, "UnauthorizedResolver")
	ErrNotMaker              = fault.New(fault.Authorization, "NotMaker")
	ErrNotOwner              = fault.New(fault.Authorization, "NotOwner")
	ErrInvalidSignature      = fault.New(fault.Validation, "InvalidSignature")
	ErrOrderConditionsNotMet = fault.New(fault.Validation, "OrderConditionsNotMet")
	ErrWrongChain            = fault.New(fault.Validation, "WrongChain")
	ErrInsufficientAmount    = fault.New(fault.Validation, "InsufficientDestinationAmount")
	ErrOrderAlreadyFilled    = fault.New(fault.Conflict, "OrderAlreadyFilled")
	ErrOrderAlreadyCancelled = fault.New(fault.Conflict, "OrderAlreadyCancelled")
	ErrOrderBeingExecuted    = fault.New(fault.Conflict, "OrderBeingExecuted")
	ErrInvalidTimelocks      = fault.New(fault.FundSafety, "InvalidTimelocks")
)
