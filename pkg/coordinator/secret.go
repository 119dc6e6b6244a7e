package coordinator

import (
	"context"
	"errors"
	"fmt"

	"github.com/catalogfi/xswap/pkg/escrow"
	"github.com/catalogfi/xswap/pkg/fault"
	"github.com/catalogfi/xswap/pkg/order"
	"github.com/catalogfi/xswap/pkg/protocol"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.uber.org/zap"
)

// ReleaseMessage is the text a maker signs (EIP-191) to release the secret
// of an order.
func ReleaseMessage(orderHash common.Hash) string {
	return fmt.Sprintf("xswap: release secret for order %v", orderHash.Hex())
}

// SubmitSecret accepts the maker's secret and relays it to the resolver that
// executed the order. The secret is withheld unless both escrows are locked
// on chain with the order's parameters.
func (c *Coordinator) SubmitSecret(ctx context.Context, orderID string, secret, sig []byte) error {
	record, err := c.store.Order(orderID)
	if err != nil {
		return err
	}
	o, _, err := decodeRecord(record)
	if err != nil {
		return err
	}
	hash := common.HexToHash(record.OrderHash)
	if err := verifyPersonal(ReleaseMessage(hash), sig, o.Maker); err != nil {
		return err
	}
	if order.SecretHash(secret) != o.SecretHash {
		return ErrInvalidSecret
	}

	src, err := c.confirmEscrows(ctx, o, hash)
	if err != nil {
		reason := "unlocked"
		if errors.Is(err, ErrEscrowMismatch) {
			reason = "mismatch"
			if nerr := c.notifier.Notify(fmt.Sprintf("secret for order %v withheld: %v", orderID, err)); nerr != nil {
				c.logger.Warn("notify", zap.Error(nerr))
			}
		}
		if fault.Is(err, fault.FundSafety) {
			c.metrics.secretsWithheld.WithLabelValues(reason).Inc()
		}
		c.logger.Warn("secret withheld", zap.String("id", orderID), zap.Error(err))
		return err
	}

	if err := c.store.PutSecret(orderID, hexutil.Encode(secret)); err != nil {
		return err
	}
	resolver := record.Resolver
	if resolver == "" {
		resolver = src.Beneficiary.Hex()
	}
	delivered := c.hub.Send(resolver, protocol.SecretAvailable{OrderID: orderID, Secret: secret})
	c.metrics.secretsReleased.Inc()
	c.logger.Info("secret released", zap.String("id", orderID), zap.String("resolver", resolver), zap.Bool("delivered", delivered))
	return nil
}

// confirmEscrows reads both escrows of an order and checks that they are
// locked, hold the agreed assets for the right parties and that the
// destination escrow can still be withdrawn before the source one.
func (c *Coordinator) confirmEscrows(ctx context.Context, o order.Order, hash common.Hash) (*escrow.Escrow, error) {
	srcChain, err := c.chain(o.SourceChain)
	if err != nil {
		return nil, err
	}
	dstChain, err := c.chain(o.DestinationChain)
	if err != nil {
		return nil, err
	}

	readCtx, cancel := context.WithTimeout(ctx, chainReadTimeout)
	defer cancel()
	src, err := srcChain.Escrow(readCtx, hash)
	if err != nil {
		return nil, fmt.Errorf("%w: source escrow: %v", ErrChainUnavailable, err)
	}
	dst, err := dstChain.Escrow(readCtx, hash)
	if err != nil {
		return nil, fmt.Errorf("%w: destination escrow: %v", ErrChainUnavailable, err)
	}
	now, err := dstChain.LatestTime(readCtx)
	if err != nil {
		return nil, fmt.Errorf("%w: destination time: %v", ErrChainUnavailable, err)
	}
	return src, checkEscrows(o, src, dst, now)
}

func checkEscrows(o order.Order, src, dst *escrow.Escrow, now uint64) error {
	if src == nil || src.Status != escrow.Locked {
		return fmt.Errorf("%w: source escrow is %v", ErrEscrowsNotLocked, statusOf(src))
	}
	if dst == nil || dst.Status != escrow.Locked {
		return fmt.Errorf("%w: destination escrow is %v", ErrEscrowsNotLocked, statusOf(dst))
	}

	switch {
	case src.Depositor != o.Maker:
		return fmt.Errorf("%w: source depositor %v", ErrEscrowMismatch, src.Depositor.Hex())
	case src.Asset != o.MakerAsset:
		return fmt.Errorf("%w: source asset %v", ErrEscrowMismatch, src.Asset.Hex())
	case src.Amount == nil || src.Amount.Cmp(o.MakerAmount) != 0:
		return fmt.Errorf("%w: source amount %v", ErrEscrowMismatch, src.Amount)
	case src.SecretHash != o.SecretHash:
		return fmt.Errorf("%w: source secret hash", ErrEscrowMismatch)
	case dst.Beneficiary != o.Maker:
		return fmt.Errorf("%w: destination beneficiary %v", ErrEscrowMismatch, dst.Beneficiary.Hex())
	case dst.Asset != o.TakerAsset:
		return fmt.Errorf("%w: destination asset %v", ErrEscrowMismatch, dst.Asset.Hex())
	case dst.Amount == nil || dst.Amount.Cmp(o.MinTakerAmount()) < 0:
		return fmt.Errorf("%w: destination amount %v below %v", ErrEscrowMismatch, dst.Amount, o.MinTakerAmount())
	case dst.SecretHash != o.SecretHash:
		return fmt.Errorf("%w: destination secret hash", ErrEscrowMismatch)
	case dst.TimeoutWithdraw >= src.TimeoutWithdraw:
		return fmt.Errorf("%w: destination withdraw deadline %v not before source %v", ErrEscrowMismatch, dst.TimeoutWithdraw, src.TimeoutWithdraw)
	case now >= dst.TimeoutWithdraw:
		return fmt.Errorf("%w: destination withdraw window closed at %v", ErrEscrowsNotLocked, dst.TimeoutWithdraw)
	}
	return nil
}

func statusOf(e *escrow.Escrow) escrow.Status {
	if e == nil {
		return escrow.Uncreated
	}
	return e.Status
}
