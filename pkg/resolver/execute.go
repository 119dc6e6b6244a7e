package resolver

import (
	"context"
	"time"

	"github.com/catalogfi/xswap/pkg/chain"
	"github.com/catalogfi/xswap/pkg/fault"
	"github.com/catalogfi/xswap/pkg/order"
	"github.com/catalogfi/xswap/pkg/protocol"
	"go.uber.org/zap"
)

const evaluateTimeout = 30 * time.Second

// process evaluates a broadcast order and executes it if every check passes.
// It reports whether the order is done with. orderCtx is cancelled with the
// order; it only bounds the work done before the order is filled.
func (r *Resolver) process(ctx, orderCtx context.Context, msg protocol.NewOrder) bool {
	logger := r.logger.With(zap.String("id", msg.OrderID))
	if order.Hash(msg.Order) != msg.OrderHash {
		logger.Warn("❌ [Skip] order hash does not match the order")
		return false
	}
	executed, err := r.store.CheckAction(Executed, msg.OrderID)
	if err != nil {
		logger.Error("check action", zap.Error(err))
		return false
	}
	if executed {
		return true
	}

	evalCtx, cancel := context.WithTimeout(orderCtx, evaluateTimeout)
	plan, err := r.Evaluate(evalCtx, msg.Order)
	cancel()
	if aborted(ctx, orderCtx) {
		logger.Info("❌ [Skip] order cancelled")
		return true
	}
	if err != nil {
		if fault.Is(err, fault.Conflict) {
			logger.Debug("❌ [Skip]", zap.Error(err))
		} else {
			logger.Info("❌ [Skip]", zap.Error(err))
		}
		return false
	}
	logger.Info("✅ [Match]", zap.Stringer("profit", plan.Profit))
	return r.execute(ctx, orderCtx, logger, msg, plan)
}

// aborted reports whether the order was cancelled while the resolver keeps
// running.
func aborted(ctx, orderCtx context.Context) bool {
	return ctx.Err() == nil && orderCtx.Err() != nil
}

// execute fills the order on the source chain and locks the maker's side on
// the destination chain. Once the fill is sent the order is ours, so only the
// steps before it follow orderCtx.
func (r *Resolver) execute(ctx, orderCtx context.Context, logger *zap.Logger, msg protocol.NewOrder, plan Plan) bool {
	r.send(protocol.OrderPicked{
		OrderID:         msg.OrderID,
		Resolver:        r.address,
		EstimatedProfit: plan.Profit,
		EstimatedGas:    r.opts.ExecuteGas + r.opts.DeployGas,
	})

	gas, err := plan.Source.EstimateExecute(orderCtx, msg.Order, msg.Signature)
	if aborted(ctx, orderCtx) {
		logger.Info("❌ [Skip] order cancelled before execution")
		return true
	}
	if err != nil {
		r.fail(logger, msg.OrderID, "estimate", err)
		return false
	}
	limit := uint64(float64(gas) * r.opts.GasMultiplier)
	receipt, err := plan.Source.ExecuteOrder(ctx, msg.Order, msg.Signature, chain.TxOpts{GasLimit: limit})
	if err != nil {
		r.fail(logger, msg.OrderID, "execute", err)
		return false
	}
	logger.Info("✅ [Execute]", zap.Stringer("tx", receipt.TxHash), zap.Stringer("escrow", receipt.Escrow))

	swap := Swap{OrderID: msg.OrderID, OrderHash: msg.OrderHash, Order: msg.Order}
	if err := r.store.PutSwap(swap); err != nil {
		logger.Error("store swap", zap.Error(err))
	}
	if err := r.store.StoreAction(Executed, msg.OrderID); err != nil {
		logger.Error("store action", zap.Error(err))
	}

	lock, err := plan.Destination.DeployDestinationEscrow(ctx, msg.Order, plan.LockAmount, chain.TxOpts{})
	if err != nil {
		r.fail(logger, msg.OrderID, "lock destination", err)
		return true
	}
	if err := r.store.StoreAction(LockedDestination, msg.OrderID); err != nil {
		logger.Error("store action", zap.Error(err))
	}
	logger.Info("✅ [Lock]", zap.Stringer("tx", lock.TxHash), zap.Stringer("amount", plan.LockAmount))

	r.send(protocol.OrderExecuted{
		OrderID:       msg.OrderID,
		TxHash:        receipt.TxHash,
		EscrowAddress: receipt.Escrow,
		GasUsed:       receipt.GasUsed + lock.GasUsed,
	})
	return true
}

func (r *Resolver) fail(logger *zap.Logger, orderID, step string, err error) {
	if fault.Is(err, fault.Conflict) {
		logger.Debug(step, zap.Error(err))
	} else {
		logger.Error(step, zap.Error(err))
	}
	r.send(protocol.OrderExecutionFailed{OrderID: orderID, Error: err.Error()})
}
