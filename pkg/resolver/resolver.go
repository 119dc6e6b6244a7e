// Package resolver decides which broadcast orders are worth executing,
// executes them on both chains and settles them once the maker's secret
// arrives.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/catalogfi/xswap/pkg/chain"
	"github.com/catalogfi/xswap/pkg/fault"
	"github.com/catalogfi/xswap/pkg/price"
	"github.com/catalogfi/xswap/pkg/protocol"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ErrNotConnected is returned by a Sender without a live connection.
var ErrNotConnected = fault.New(fault.Transient, "not connected to the coordinator")

// Sender delivers messages to the coordinator.
type Sender interface {
	Send(msg protocol.Message) error
}

type SenderFunc func(msg protocol.Message) error

func (f SenderFunc) Send(msg protocol.Message) error { return f(msg) }

type Options struct {
	MinProfit     decimal.Decimal // in price units
	MaxGasPrice   decimal.Decimal // in wei
	GasMultiplier float64
	SweepInterval time.Duration

	// ExecuteGas and DeployGas are the gas units assumed when pricing an
	// order, before it is estimated on chain.
	ExecuteGas uint64
	DeployGas  uint64
}

func NewOptions() Options {
	return Options{
		MinProfit:     decimal.Zero,
		MaxGasPrice:   decimal.New(100, 9),
		GasMultiplier: 1.2,
		SweepInterval: time.Minute,
		ExecuteGas:    200000,
		DeployGas:     150000,
	}
}

func (opts Options) WithMinProfit(profit decimal.Decimal) Options {
	opts.MinProfit = profit
	return opts
}

func (opts Options) WithMaxGasPrice(gasPrice decimal.Decimal) Options {
	opts.MaxGasPrice = gasPrice
	return opts
}

func (opts Options) WithGasMultiplier(multiplier float64) Options {
	opts.GasMultiplier = multiplier
	return opts
}

func (opts Options) WithSweepInterval(interval time.Duration) Options {
	opts.SweepInterval = interval
	return opts
}

type Resolver struct {
	logger  *zap.Logger
	address common.Address
	chains  map[uint64]chain.Client
	prices  price.Source
	store   Store
	sender  Sender
	opts    Options

	// inflight, completed and aborts are owned by the Run loop.
	inflight  map[string]struct{}
	completed map[string]struct{}
	aborts    map[string]context.CancelFunc
	results   chan result

	wg *sync.WaitGroup
}

type result struct {
	key      string
	complete bool
}

// New returns a resolver acting as the owner of every chain client.
func New(logger *zap.Logger, chains []chain.Client, prices price.Source, store Store, sender Sender, opts Options) (*Resolver, error) {
	if len(chains) < 2 {
		return nil, errors.New("a resolver needs at least two chains")
	}
	if opts.GasMultiplier < 1 {
		return nil, fmt.Errorf("gas multiplier %v below 1", opts.GasMultiplier)
	}
	clients := make(map[uint64]chain.Client, len(chains))
	address := chains[0].Address()
	for _, client := range chains {
		if client.Address() != address {
			return nil, fmt.Errorf("chain %v uses account %v, expected %v", client.ChainID(), client.Address().Hex(), address.Hex())
		}
		clients[client.ChainID()] = client
	}

	return &Resolver{
		logger:    logger,
		address:   address,
		chains:    clients,
		prices:    prices,
		store:     store,
		sender:    sender,
		opts:      opts,
		inflight:  map[string]struct{}{},
		completed: map[string]struct{}{},
		aborts:    map[string]context.CancelFunc{},
		results:   make(chan result, 64),
		wg:        new(sync.WaitGroup),
	}, nil
}

func (r *Resolver) Address() common.Address { return r.address }

// Capabilities is what the resolver announces when subscribing.
func (r *Resolver) Capabilities() protocol.Capabilities {
	chains := make([]uint64, 0, len(r.chains))
	for id := range r.chains {
		chains = append(chains, id)
	}
	return protocol.Capabilities{
		Chains:      chains,
		MaxGasPrice: r.opts.MaxGasPrice,
		MinProfit:   r.opts.MinProfit,
	}
}

// Run handles coordinator messages and sweeps refunds until ctx is done. It
// waits for running executions before returning.
func (r *Resolver) Run(ctx context.Context, messages <-chan protocol.Message) error {
	defer r.wg.Wait()

	var sweep <-chan time.Time
	if r.opts.SweepInterval > 0 {
		ticker := time.NewTicker(r.opts.SweepInterval)
		defer ticker.Stop()
		sweep = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			r.handle(ctx, msg)
		case res := <-r.results:
			delete(r.inflight, res.key)
			delete(r.aborts, res.key)
			if res.complete {
				r.completed[res.key] = struct{}{}
			}
		case <-sweep:
			r.spawn(ctx, "sweep", func(ctx context.Context) bool {
				r.Sweep(ctx)
				return false
			})
		}
	}
}

func (r *Resolver) handle(ctx context.Context, msg protocol.Message) {
	switch msg := msg.(type) {
	case protocol.NewOrder:
		key := "order:" + msg.OrderID
		orderCtx, abort := context.WithCancel(ctx)
		started := r.spawn(ctx, key, func(ctx context.Context) bool {
			defer abort()
			return r.process(ctx, orderCtx, msg)
		})
		if !started {
			abort()
			return
		}
		r.aborts[key] = abort
	case protocol.SecretAvailable:
		r.spawn(ctx, "secret:"+msg.OrderID, func(ctx context.Context) bool {
			return r.settle(ctx, msg)
		})
	case protocol.OrderCancelled:
		key := "order:" + msg.OrderID
		if abort, ok := r.aborts[key]; ok {
			r.logger.Info("order cancelled, aborting", zap.String("id", msg.OrderID))
			abort()
		} else {
			r.logger.Debug("order cancelled", zap.String("id", msg.OrderID))
		}
		r.completed[key] = struct{}{}
	default:
		r.logger.Debug("ignoring message", zap.String("type", string(msg.Type())))
	}
}

// spawn runs fn unless the same key is in flight or completed, and reports
// whether it did.
func (r *Resolver) spawn(ctx context.Context, key string, fn func(ctx context.Context) bool) bool {
	if _, ok := r.inflight[key]; ok {
		r.logger.Debug("skipping, in flight", zap.String("key", key))
		return false
	}
	if _, ok := r.completed[key]; ok {
		r.logger.Debug("skipping, already handled", zap.String("key", key))
		return false
	}
	r.inflight[key] = struct{}{}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		complete := fn(ctx)
		select {
		case r.results <- result{key: key, complete: complete}:
		case <-ctx.Done():
		}
	}()
	return true
}

func (r *Resolver) send(msg protocol.Message) {
	if err := r.sender.Send(msg); err != nil {
		r.logger.Warn("send to coordinator", zap.String("type", string(msg.Type())), zap.Error(err))
	}
}

func (r *Resolver) chain(id uint64) (chain.Client, bool) {
	client, ok := r.chains[id]
	return client, ok
}
