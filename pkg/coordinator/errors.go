package coordinator

import "github.com/catalogfi/xswap/pkg/fault"

var (
	ErrUnknownChain      = fault.New(fault.Validation, "chain not served by this coordinator")
	ErrInvalidSignature  = fault.New(fault.Validation, "invalid signature")
	ErrInvalidSecret     = fault.New(fault.Validation, "secret does not match the order's secret hash")
	ErrEscrowsNotLocked  = fault.New(fault.FundSafety, "escrows are not locked on both chains")
	ErrEscrowMismatch    = fault.New(fault.FundSafety, "escrow does not match the order")
	ErrChainUnavailable  = fault.New(fault.Transient, "chain unavailable")
	ErrUnauthorized      = fault.New(fault.Authorization, "unauthorized")
	ErrResolverMismatch  = fault.New(fault.Authorization, "message resolver does not match the connection")
	ErrUnexpectedMessage = fault.New(fault.Validation, "unexpected message")
)
