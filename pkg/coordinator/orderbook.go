package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/catalogfi/xswap/pkg/fault"
	"github.com/catalogfi/xswap/pkg/order"
	"github.com/catalogfi/xswap/pkg/protocol"
	"github.com/catalogfi/xswap/pkg/store"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Submission is an accepted order.
type Submission struct {
	OrderID   string      `json:"orderId"`
	OrderHash common.Hash `json:"orderHash"`
}

// CancelMessage is the text a maker signs (EIP-191) to withdraw an order from
// the orderbook.
func CancelMessage(orderHash common.Hash) string {
	return fmt.Sprintf("xswap: cancel order %v", orderHash.Hex())
}

// SubmitOrder validates the maker's signature against the source chain's
// domain, stores the order as pending and broadcasts it to resolvers serving
// both chains.
func (c *Coordinator) SubmitOrder(ctx context.Context, o order.Order, sig []byte) (Submission, error) {
	src, err := c.chain(o.SourceChain)
	if err != nil {
		return Submission{}, err
	}
	if _, err := c.chain(o.DestinationChain); err != nil {
		return Submission{}, err
	}
	if o.SourceChain == o.DestinationChain {
		return Submission{}, fmt.Errorf("%w: source and destination chain are both %v", ErrUnknownChain, o.SourceChain)
	}
	if !order.VerifySignature(o, src.Domain(), sig) {
		return Submission{}, fmt.Errorf("%w: not signed by maker %v", ErrInvalidSignature, o.Maker.Hex())
	}
	if err := src.ValidateOrderConditions(ctx, o); err != nil {
		switch {
		case errors.Is(err, order.ErrPredicateFailed):
			// Predicates may only hold later.
			c.logger.Debug("order predicate does not hold yet", zap.String("maker", o.Maker.Hex()), zap.Error(err))
		case fault.Is(err, fault.Transient), fault.KindOf(err) == fault.Unknown:
			return Submission{}, fmt.Errorf("%w: %v", ErrChainUnavailable, err)
		default:
			return Submission{}, err
		}
	}

	payload, err := json.Marshal(o)
	if err != nil {
		return Submission{}, err
	}
	hash := order.Hash(o)
	record := store.Order{
		OrderID:          uuid.NewString(),
		OrderHash:        hash.Hex(),
		Maker:            o.Maker.Hex(),
		SourceChain:      o.SourceChain,
		DestinationChain: o.DestinationChain,
		SecretHash:       o.SecretHash.Hex(),
		Payload:          string(payload),
		Signature:        hexutil.Encode(sig),
		Status:           store.Pending,
	}
	if err := c.store.CreateOrder(&record); err != nil {
		return Submission{}, err
	}
	c.metrics.submitted.Inc()
	c.logger.Info("order submitted", zap.String("id", record.OrderID), zap.String("hash", record.OrderHash), zap.String("maker", record.Maker))

	c.hub.Broadcast(protocol.NewOrder{
		OrderID:   record.OrderID,
		OrderHash: hash,
		Order:     o,
		Signature: sig,
	}, o.SourceChain, o.DestinationChain)
	return Submission{OrderID: record.OrderID, OrderHash: hash}, nil
}

func (c *Coordinator) Orders(filter store.Filter) ([]store.Order, error) {
	return c.store.Orders(filter)
}

func (c *Coordinator) Order(orderID string) (store.Order, error) {
	return c.store.Order(orderID)
}

// CancelOrder withdraws an order that has not been executed from the
// orderbook. sig is the maker's EIP-191 signature over CancelMessage.
func (c *Coordinator) CancelOrder(orderID string, sig []byte) error {
	record, err := c.store.Order(orderID)
	if err != nil {
		return err
	}
	if err := verifyPersonal(CancelMessage(common.HexToHash(record.OrderHash)), sig, common.HexToAddress(record.Maker)); err != nil {
		return err
	}
	if err := c.store.Cancel(orderID); err != nil {
		return err
	}
	c.logger.Info("order cancelled by maker", zap.String("id", orderID))
	c.broadcastCancelled(record)
	return nil
}

func (c *Coordinator) broadcastCancelled(record store.Order) {
	c.hub.Broadcast(protocol.OrderCancelled{OrderID: record.OrderID}, record.SourceChain, record.DestinationChain)
}

// handleMessage applies a resolver message. It runs on the main loop only.
func (c *Coordinator) handleMessage(ctx context.Context, in Inbound) error {
	switch msg := in.Message.(type) {
	case protocol.SubscribeResolver:
		return c.resync(in.Resolver)
	case protocol.OrderPicked:
		if !sameAddress(msg.Resolver.Hex(), in.Resolver) {
			return fmt.Errorf("%w: picked by %v", ErrResolverMismatch, msg.Resolver.Hex())
		}
		if err := c.store.Pick(msg.OrderID, in.Resolver, msg.EstimatedProfit.String(), msg.EstimatedGas); err != nil {
			return err
		}
		c.logger.Info("order picked", zap.String("id", msg.OrderID), zap.String("resolver", in.Resolver), zap.Stringer("profit", msg.EstimatedProfit))
		return nil
	case protocol.OrderExecuted:
		err := c.store.MarkExecuted(msg.OrderID, store.Execution{
			Resolver:      in.Resolver,
			TxHash:        msg.TxHash.Hex(),
			EscrowAddress: msg.EscrowAddress.Hex(),
			GasUsed:       msg.GasUsed,
		})
		if err != nil {
			return err
		}
		c.logger.Info("order executed", zap.String("id", msg.OrderID), zap.String("resolver", in.Resolver), zap.Stringer("tx", msg.TxHash))
		return nil
	case protocol.OrderExecutionFailed:
		return c.executionFailed(in.Resolver, msg)
	default:
		return fmt.Errorf("%w: %v from resolver", ErrUnexpectedMessage, in.Message.Type())
	}
}

// executionFailed puts the order back to pending and offers it again.
func (c *Coordinator) executionFailed(resolver string, msg protocol.OrderExecutionFailed) error {
	c.metrics.failures.Inc()
	record, err := c.store.Order(msg.OrderID)
	if err != nil {
		return err
	}
	if !sameAddress(record.Resolver, resolver) {
		return fmt.Errorf("%w: order picked by %v", ErrResolverMismatch, record.Resolver)
	}
	if err := c.store.ReleasePick(msg.OrderID, msg.Error); err != nil {
		return err
	}
	c.logger.Warn("order execution failed", zap.String("id", msg.OrderID), zap.String("resolver", resolver), zap.String("error", msg.Error))
	if err := c.notifier.Notify(fmt.Sprintf("execution of order %v by %v failed: %v", msg.OrderID, resolver, msg.Error)); err != nil {
		c.logger.Warn("notify", zap.Error(err))
	}

	newOrder, err := newOrderMessage(record)
	if err != nil {
		return err
	}
	c.hub.Broadcast(newOrder, record.SourceChain, record.DestinationChain)
	return nil
}

// resync sends a freshly subscribed resolver the pending orders it can serve
// and the secrets of the orders it executed.
func (c *Coordinator) resync(resolver string) error {
	pending, err := c.store.Orders(store.Filter{Status: store.Pending})
	if err != nil {
		return err
	}
	for _, record := range pending {
		msg, err := newOrderMessage(record)
		if err != nil {
			c.logger.Error("decode stored order", zap.String("id", record.OrderID), zap.Error(err))
			continue
		}
		c.hub.SendFor(resolver, msg, record.SourceChain, record.DestinationChain)
	}

	executed, err := c.store.Orders(store.Filter{Status: store.Executed})
	if err != nil {
		return err
	}
	for _, record := range executed {
		if record.Secret == "" || !sameAddress(record.Resolver, resolver) {
			continue
		}
		secret, err := hexutil.Decode(record.Secret)
		if err != nil {
			c.logger.Error("decode stored secret", zap.String("id", record.OrderID), zap.Error(err))
			continue
		}
		c.hub.Send(resolver, protocol.SecretAvailable{OrderID: record.OrderID, Secret: secret})
	}
	return nil
}

func (c *Coordinator) logMessageError(in Inbound, err error) {
	logger := c.logger.With(zap.String("resolver", in.Resolver), zap.String("type", string(in.Message.Type())))
	switch fault.KindOf(err) {
	case fault.Conflict:
		logger.Debug("resolver message ignored", zap.Error(err))
	case fault.Validation, fault.Authorization:
		logger.Warn("resolver message rejected", zap.Error(err))
	default:
		logger.Error("resolver message", zap.Error(err))
	}
}

func newOrderMessage(record store.Order) (protocol.NewOrder, error) {
	o, sig, err := decodeRecord(record)
	if err != nil {
		return protocol.NewOrder{}, err
	}
	return protocol.NewOrder{
		OrderID:   record.OrderID,
		OrderHash: common.HexToHash(record.OrderHash),
		Order:     o,
		Signature: sig,
	}, nil
}

func decodeRecord(record store.Order) (order.Order, []byte, error) {
	var o order.Order
	if err := json.Unmarshal([]byte(record.Payload), &o); err != nil {
		return order.Order{}, nil, fmt.Errorf("decode order %v: %w", record.OrderID, err)
	}
	sig, err := hexutil.Decode(record.Signature)
	if err != nil {
		return order.Order{}, nil, fmt.Errorf("decode signature of %v: %w", record.OrderID, err)
	}
	return o, sig, nil
}

// verifyPersonal checks an EIP-191 personal signature over msg.
func verifyPersonal(msg string, sig []byte, signer common.Address) error {
	recovered, err := order.RecoverDigest(common.BytesToHash(accounts.TextHash([]byte(msg))), sig)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if recovered != signer {
		return fmt.Errorf("%w: signed by %v", ErrUnauthorized, recovered.Hex())
	}
	return nil
}

func sameAddress(a, b string) bool {
	return common.IsHexAddress(a) && common.IsHexAddress(b) && common.HexToAddress(a) == common.HexToAddress(b)
}
