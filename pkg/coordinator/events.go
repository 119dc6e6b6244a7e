package coordinator

import (
	"context"
	"errors"

	"github.com/catalogfi/xswap/pkg/chain"
	"github.com/catalogfi/xswap/pkg/order"
	"github.com/catalogfi/xswap/pkg/protocol"
	"github.com/catalogfi/xswap/pkg/store"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.uber.org/zap"
)

// handleEvent folds a chain event into the orderbook. The contract is the
// authority on fills and cancellations, so chain events override whatever
// resolvers reported.
func (c *Coordinator) handleEvent(ctx context.Context, evt chain.Event) error {
	c.views.Invalidate(evt.OrderHash)

	record, err := c.store.OrderByHash(evt.OrderHash)
	if errors.Is(err, store.ErrOrderNotFound) {
		c.logger.Debug("event for unknown order", zap.Stringer("kind", evt.Kind), zap.Stringer("order", evt.OrderHash))
		return nil
	}
	if err != nil {
		return err
	}
	logger := c.logger.With(zap.String("id", record.OrderID), zap.Uint64("chain", evt.ChainID), zap.Stringer("kind", evt.Kind))

	switch evt.Kind {
	case chain.OrderFilled:
		err := c.store.RecordFill(record.OrderID, store.Execution{
			Resolver:      evt.Resolver.Hex(),
			TxHash:        evt.TxHash.Hex(),
			EscrowAddress: evt.Escrow.Hex(),
		})
		if err != nil {
			return err
		}
		if record.Status == store.Cancelled {
			logger.Warn("order filled on chain after it was cancelled in the orderbook", zap.Stringer("resolver", evt.Resolver))
		}
		logger.Info("order filled on chain", zap.Stringer("resolver", evt.Resolver), zap.Stringer("escrow", evt.Escrow))
	case chain.OrderCancelled:
		err := c.store.Cancel(record.OrderID)
		if errors.Is(err, store.ErrOrderClosed) {
			logger.Debug("cancelled order already executed")
			return nil
		}
		if err != nil {
			return err
		}
		logger.Info("order cancelled on chain")
		c.broadcastCancelled(record)
	case chain.EscrowWithdrawn:
		return c.secretRevealed(ctx, record, evt.Secret)
	default:
		logger.Debug("chain event", zap.Stringer("escrow", evt.Escrow))
	}
	return nil
}

// secretRevealed stores a secret published by an escrow withdrawal and hands
// it to the executing resolver if it never received it.
func (c *Coordinator) secretRevealed(_ context.Context, record store.Order, secret []byte) error {
	if len(secret) == 0 || order.SecretHash(secret) != common.HexToHash(record.SecretHash) {
		c.logger.Warn("withdrawal revealed a secret that does not match", zap.String("id", record.OrderID))
		return nil
	}
	if record.Secret != "" {
		return nil
	}
	if err := c.store.PutSecret(record.OrderID, hexutil.Encode(secret)); err != nil {
		return err
	}
	c.logger.Info("secret revealed on chain", zap.String("id", record.OrderID))
	if record.Resolver != "" {
		c.hub.Send(record.Resolver, protocol.SecretAvailable{OrderID: record.OrderID, Secret: secret})
	}
	return nil
}
