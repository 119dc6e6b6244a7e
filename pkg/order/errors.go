package order

import "github.com/catalogfi/xswap/pkg/fault"

var (
	ErrInvalidSignature = fault.New(fault.Validation, "invalid signature")
	ErrOrderExpired     = fault.New(fault.Validation, "order expired")
	ErrPredicateFailed  = fault.New(fault.Validation, "predicate failed")
	ErrInvalidAmount    = fault.New(fault.Validation, "invalid amount")
)
