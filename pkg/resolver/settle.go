package resolver

import (
	"context"
	"fmt"

	"github.com/catalogfi/xswap/pkg/chain"
	"github.com/catalogfi/xswap/pkg/escrow"
	"github.com/catalogfi/xswap/pkg/order"
	"github.com/catalogfi/xswap/pkg/protocol"
	"go.uber.org/zap"
)

// settle withdraws both escrows of a swap with the maker's secret: first the
// destination escrow, which pays the maker, then the source escrow, which pays
// the resolver.
func (r *Resolver) settle(ctx context.Context, msg protocol.SecretAvailable) bool {
	logger := r.logger.With(zap.String("id", msg.OrderID))
	swap, ok, err := r.store.Swap(msg.OrderID)
	if err != nil {
		logger.Error("load swap", zap.Error(err))
		return false
	}
	if !ok {
		logger.Debug("secret for a swap that is not ours or already settled")
		return false
	}
	if order.SecretHash(msg.Secret) != swap.Order.SecretHash {
		logger.Warn("refusing secret", zap.Error(ErrSecretMismatch))
		return false
	}
	if err := r.withdraw(ctx, logger, swap, msg.Secret); err != nil {
		logger.Error("withdraw", zap.Error(err))
		return false
	}
	return true
}

func (r *Resolver) withdraw(ctx context.Context, logger *zap.Logger, swap Swap, secret []byte) error {
	src, dst, err := r.clients(swap)
	if err != nil {
		return err
	}
	err = r.once(WithdrewDestination, swap.OrderID, func() error {
		return r.withdrawEscrow(ctx, logger, dst, swap, secret)
	})
	if err != nil {
		return fmt.Errorf("destination: %w", err)
	}
	err = r.once(WithdrewSource, swap.OrderID, func() error {
		return r.withdrawEscrow(ctx, logger, src, swap, secret)
	})
	if err != nil {
		return fmt.Errorf("source: %w", err)
	}
	return r.store.RemoveSwap(swap.OrderID)
}

// withdrawEscrow treats an escrow already withdrawn by someone else as done.
func (r *Resolver) withdrawEscrow(ctx context.Context, logger *zap.Logger, client chain.Client, swap Swap, secret []byte) error {
	receipt, err := client.Withdraw(ctx, swap.OrderHash, secret)
	if err != nil {
		esc, readErr := client.Escrow(ctx, swap.OrderHash)
		if readErr == nil && esc.Status == escrow.Withdrawn {
			return nil
		}
		return err
	}
	logger.Info("✅ [Withdraw]", zap.Uint64("chain", client.ChainID()), zap.Stringer("tx", receipt.TxHash))
	return nil
}

// once runs fn unless action was already recorded for the order, and records
// it on success.
func (r *Resolver) once(action Action, orderID string, fn func() error) error {
	done, err := r.store.CheckAction(action, orderID)
	if err != nil {
		return err
	}
	if done {
		return nil
	}
	if err := fn(); err != nil {
		return err
	}
	return r.store.StoreAction(action, orderID)
}

func (r *Resolver) clients(swap Swap) (chain.Client, chain.Client, error) {
	src, ok := r.chain(swap.Order.SourceChain)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %v", ErrUnsupportedChain, swap.Order.SourceChain)
	}
	dst, ok := r.chain(swap.Order.DestinationChain)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %v", ErrUnsupportedChain, swap.Order.DestinationChain)
	}
	return src, dst, nil
}

// Sweep settles what the coordinator never told us about: it refunds our
// destination escrows whose cancel window opened, withdraws the source escrow
// of swaps whose secret was revealed on chain and forgets settled swaps.
func (r *Resolver) Sweep(ctx context.Context) {
	swaps, err := r.store.Swaps()
	if err != nil {
		r.logger.Error("load swaps", zap.Error(err))
		return
	}
	for _, swap := range swaps {
		if ctx.Err() != nil {
			return
		}
		if err := r.sweep(ctx, swap); err != nil {
			r.logger.Warn("sweep", zap.String("id", swap.OrderID), zap.Error(err))
		}
	}
}

func (r *Resolver) sweep(ctx context.Context, swap Swap) error {
	logger := r.logger.With(zap.String("id", swap.OrderID))
	src, dst, err := r.clients(swap)
	if err != nil {
		return err
	}

	dstEscrow, err := dst.Escrow(ctx, swap.OrderHash)
	if err != nil {
		return err
	}
	switch dstEscrow.Status {
	case escrow.Withdrawn:
		// The maker withdrew and published the secret.
		return r.withdraw(ctx, logger, swap, dstEscrow.Secret)
	case escrow.Locked:
		now, err := dst.LatestTime(ctx)
		if err != nil {
			return err
		}
		if now < dstEscrow.TimeoutCancel {
			return nil
		}
		err = r.once(CancelledDestination, swap.OrderID, func() error {
			receipt, err := dst.Cancel(ctx, swap.OrderHash)
			if err != nil {
				return err
			}
			logger.Info("✅ [Refund]", zap.Uint64("chain", dst.ChainID()), zap.Stringer("tx", receipt.TxHash))
			return nil
		})
		if err != nil {
			return err
		}
	}

	// Without a withdrawal on the destination chain the source escrow goes
	// back to the maker once its cancel window opens.
	srcEscrow, err := src.Escrow(ctx, swap.OrderHash)
	if err != nil {
		return err
	}
	if srcEscrow.Status == escrow.Locked {
		now, err := src.LatestTime(ctx)
		if err != nil {
			return err
		}
		if now < srcEscrow.TimeoutCancel {
			return nil
		}
		err = r.once(CancelledSource, swap.OrderID, func() error {
			_, err := src.Cancel(ctx, swap.OrderHash)
			return err
		})
		if err != nil {
			return err
		}
	}
	return r.store.RemoveSwap(swap.OrderID)
}
