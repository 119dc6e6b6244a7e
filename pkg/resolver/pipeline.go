package resolver

import (
	"context"
	"fmt"
	"math/big"

	"github.com/catalogfi/xswap/pkg/chain"
	"github.com/catalogfi/xswap/pkg/contract"
	"github.com/catalogfi/xswap/pkg/fault"
	"github.com/catalogfi/xswap/pkg/order"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

var (
	ErrUnsupportedChain = fault.New(fault.Validation, "chain not supported")
	ErrUnprofitable     = fault.New(fault.Validation, "order not profitable")
	ErrGasTooHigh       = fault.New(fault.Transient, "gas price above maximum")
	ErrNotAuthorized    = fault.New(fault.Authorization, "resolver not authorized")
	ErrNotOpen          = fault.New(fault.Conflict, "order is not open")
	ErrSecretMismatch   = fault.New(fault.Validation, "secret does not match the order")
)

// Plan is an order that passed every check.
type Plan struct {
	Source      chain.Client
	Destination chain.Client
	Profit      decimal.Decimal
	LockAmount  *big.Int
	Quote       Quote
}

// Quote breaks down the estimated profit, all values in price units.
type Quote struct {
	Revenue     decimal.Decimal
	Cost        decimal.Decimal
	Gas         decimal.Decimal
	ImpliedRate decimal.Decimal
	MarketRate  decimal.Decimal
}

// Evaluate runs the decision pipeline. It stops at the first failing check and
// returns why.
func (r *Resolver) Evaluate(ctx context.Context, o order.Order) (Plan, error) {
	src, ok := r.chain(o.SourceChain)
	if !ok {
		return Plan{}, fmt.Errorf("%w: source %v", ErrUnsupportedChain, o.SourceChain)
	}
	dst, ok := r.chain(o.DestinationChain)
	if !ok {
		return Plan{}, fmt.Errorf("%w: destination %v", ErrUnsupportedChain, o.DestinationChain)
	}

	srcGasPrice, err := src.GasPrice(ctx)
	if err != nil {
		return Plan{}, fmt.Errorf("source gas price: %w", err)
	}
	dstGasPrice, err := dst.GasPrice(ctx)
	if err != nil {
		return Plan{}, fmt.Errorf("destination gas price: %w", err)
	}

	for _, gasPrice := range []*big.Int{srcGasPrice, dstGasPrice} {
		if decimal.NewFromBigInt(gasPrice, 0).GreaterThan(r.opts.MaxGasPrice) {
			return Plan{}, fmt.Errorf("%w: %v > %v", ErrGasTooHigh, gasPrice, r.opts.MaxGasPrice)
		}
	}

	quote, err := r.quote(ctx, o, srcGasPrice, dstGasPrice)
	if err != nil {
		return Plan{}, err
	}
	profit := quote.Revenue.Sub(quote.Cost).Sub(quote.Gas)
	if profit.LessThan(r.opts.MinProfit) {
		return Plan{}, fmt.Errorf("%w: profit %v below %v (implied rate %v, market rate %v)", ErrUnprofitable, profit.StringFixed(6), r.opts.MinProfit, quote.ImpliedRate.StringFixed(6), quote.MarketRate.StringFixed(6))
	}

	if err := src.ValidateOrderConditions(ctx, o); err != nil {
		return Plan{}, err
	}
	status, err := src.OrderStatus(ctx, order.Hash(o))
	if err != nil {
		return Plan{}, err
	}
	if status != contract.None {
		return Plan{}, fmt.Errorf("%w: %v", ErrNotOpen, status)
	}

	for _, client := range []chain.Client{src, dst} {
		ok, err := client.IsResolver(ctx, r.address)
		if err != nil {
			return Plan{}, err
		}
		if !ok {
			return Plan{}, fmt.Errorf("%w: on chain %v", ErrNotAuthorized, client.ChainID())
		}
	}

	return Plan{
		Source:      src,
		Destination: dst,
		Profit:      profit,
		LockAmount:  o.MinTakerAmount(),
		Quote:       quote,
	}, nil
}

// quote prices the order: the maker's amount earned on the source chain,
// against the amount locked for the maker and the gas of both transactions.
func (r *Resolver) quote(ctx context.Context, o order.Order, srcGasPrice, dstGasPrice *big.Int) (Quote, error) {
	makerPrice, err := r.prices.Price(ctx, o.SourceChain, o.MakerAsset)
	if err != nil {
		return Quote{}, err
	}
	takerPrice, err := r.prices.Price(ctx, o.DestinationChain, o.TakerAsset)
	if err != nil {
		return Quote{}, err
	}
	srcNative, err := r.prices.Price(ctx, o.SourceChain, common.Address{})
	if err != nil {
		return Quote{}, err
	}
	dstNative, err := r.prices.Price(ctx, o.DestinationChain, common.Address{})
	if err != nil {
		return Quote{}, err
	}

	makerAmount := decimal.NewFromBigInt(o.MakerAmount, 0)
	lockAmount := decimal.NewFromBigInt(o.MinTakerAmount(), 0)
	srcGas := decimal.NewFromBigInt(srcGasPrice, 0).Mul(decimal.NewFromInt(int64(r.opts.ExecuteGas))).Mul(srcNative)
	dstGas := decimal.NewFromBigInt(dstGasPrice, 0).Mul(decimal.NewFromInt(int64(r.opts.DeployGas))).Mul(dstNative)

	quote := Quote{
		Revenue: makerAmount.Mul(makerPrice),
		Cost:    lockAmount.Mul(takerPrice),
		Gas:     srcGas.Add(dstGas),
	}
	if !makerAmount.IsZero() {
		quote.ImpliedRate = lockAmount.Div(makerAmount)
	}
	if !takerPrice.IsZero() {
		quote.MarketRate = makerPrice.Div(takerPrice)
	}
	return quote, nil
}
