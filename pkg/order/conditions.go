package order

import (
	"encoding/binary"
	"fmt"
	"math/big"
)

// Env is the chain state an order's conditions are evaluated against.
type Env struct {
	Now     uint64 // unix seconds
	Block   uint64
	ChainID uint64
}

// Evaluator decides whether an order predicate holds.
type Evaluator interface {
	Evaluate(predicate []byte, env Env) (bool, error)
}

// Op is a predicate clause operator.
type Op byte

const (
	OpTimestampBelow     Op = 0x01
	OpTimestampAtOrAfter Op = 0x02
	OpBlockBelow         Op = 0x03
	OpChainIs            Op = 0x04
)

const clauseLength = 9

// Clause is one predicate condition. A predicate is a concatenation of
// clauses that must all hold.
type Clause struct {
	Op  Op
	Arg uint64
}

// EncodePredicate serialises clauses into the predicate byte format.
func EncodePredicate(clauses ...Clause) []byte {
	out := make([]byte, 0, len(clauses)*clauseLength)
	for _, clause := range clauses {
		buf := make([]byte, clauseLength)
		buf[0] = byte(clause.Op)
		binary.BigEndian.PutUint64(buf[1:], clause.Arg)
		out = append(out, buf...)
	}
	return out
}

// DecodePredicate parses a predicate into its clauses.
func DecodePredicate(predicate []byte) ([]Clause, error) {
	if len(predicate)%clauseLength != 0 {
		return nil, fmt.Errorf("malformed predicate of length %v", len(predicate))
	}
	clauses := make([]Clause, 0, len(predicate)/clauseLength)
	for i := 0; i < len(predicate); i += clauseLength {
		clauses = append(clauses, Clause{
			Op:  Op(predicate[i]),
			Arg: binary.BigEndian.Uint64(predicate[i+1 : i+clauseLength]),
		})
	}
	return clauses, nil
}

// ClauseEvaluator evaluates the built-in clause format.
type ClauseEvaluator struct{}

func (ClauseEvaluator) Evaluate(predicate []byte, env Env) (bool, error) {
	clauses, err := DecodePredicate(predicate)
	if err != nil {
		return false, err
	}
	for _, clause := range clauses {
		var ok bool
		switch clause.Op {
		case OpTimestampBelow:
			ok = env.Now < clause.Arg
		case OpTimestampAtOrAfter:
			ok = env.Now >= clause.Arg
		case OpBlockBelow:
			ok = env.Block < clause.Arg
		case OpChainIs:
			ok = env.ChainID == clause.Arg
		default:
			return false, fmt.Errorf("unknown predicate op 0x%x", byte(clause.Op))
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// ValidateConditions checks the order with the built-in predicate evaluator.
func ValidateConditions(o Order, env Env) error {
	return ValidateConditionsWith(o, env, ClauseEvaluator{})
}

// ValidateConditionsWith checks that the order is not expired, its amounts are
// valid uint256 values greater than zero and its predicate, if any, holds.
func ValidateConditionsWith(o Order, env Env, evaluator Evaluator) error {
	if err := validAmount("maker amount", o.MakerAmount); err != nil {
		return err
	}
	if err := validAmount("taker amount", o.TakerAmount); err != nil {
		return err
	}
	if env.Now > o.Deadline {
		return fmt.Errorf("%w: deadline %v, now %v", ErrOrderExpired, o.Deadline, env.Now)
	}
	if len(o.Predicate) == 0 {
		return nil
	}
	if evaluator == nil {
		evaluator = ClauseEvaluator{}
	}
	ok, err := evaluator.Evaluate(o.Predicate, env)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPredicateFailed, err)
	}
	if !ok {
		return ErrPredicateFailed
	}
	return nil
}

func validAmount(name string, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("%w: %v must be positive", ErrInvalidAmount, name)
	}
	if amount.BitLen() > 256 {
		return fmt.Errorf("%w: %v overflows uint256", ErrInvalidAmount, name)
	}
	return nil
}
