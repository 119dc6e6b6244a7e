// Package coordinator runs the off-chain orderbook: it accepts signed orders,
// broadcasts them to resolvers, follows execution on the chains and relays
// the maker's secret once both escrows are safely locked.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/catalogfi/xswap/pkg/chain"
	"github.com/catalogfi/xswap/pkg/notify"
	"github.com/catalogfi/xswap/pkg/protocol"
	"github.com/catalogfi/xswap/pkg/store"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// Options configure a Coordinator. Zero values are replaced by defaults.
type Options struct {
	CacheSize      int
	CacheTTL       time.Duration
	HealthInterval time.Duration
	WatchRetry     time.Duration
}

func (opts Options) withDefaults() Options {
	if opts.CacheSize <= 0 {
		opts.CacheSize = 1024
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 10 * time.Second
	}
	if opts.HealthInterval <= 0 {
		opts.HealthInterval = 30 * time.Second
	}
	if opts.WatchRetry <= 0 {
		opts.WatchRetry = 5 * time.Second
	}
	return opts
}

// Inbound is a message received from an authenticated resolver.
type Inbound struct {
	Resolver string
	Message  protocol.Message
}

type Coordinator struct {
	logger   *zap.Logger
	store    store.Store
	chains   map[uint64]chain.Reader
	hub      *Hub
	notifier notify.Notifier
	metrics  *metrics
	views    *viewCache
	opts     Options

	inbound chan Inbound
	events  chan chain.Event

	// health is the last snapshot taken by the health ticker.
	healthMu sync.RWMutex
	health   Health
}

func New(logger *zap.Logger, st store.Store, chains []chain.Reader, notifier notify.Notifier, opts Options) (*Coordinator, error) {
	if len(chains) == 0 {
		return nil, errors.New("coordinator needs at least one chain")
	}
	if notifier == nil {
		notifier = notify.NewLog(logger)
	}
	opts = opts.withDefaults()

	readers := make(map[uint64]chain.Reader, len(chains))
	for _, reader := range chains {
		if _, ok := readers[reader.ChainID()]; ok {
			return nil, fmt.Errorf("chain %v configured twice", reader.ChainID())
		}
		readers[reader.ChainID()] = reader
	}
	views, err := newViewCache(opts.CacheSize, opts.CacheTTL)
	if err != nil {
		return nil, err
	}

	c := &Coordinator{
		logger:   logger,
		store:    st,
		chains:   readers,
		notifier: notifier,
		metrics:  newMetrics(),
		views:    views,
		opts:     opts,
		inbound:  make(chan Inbound, 256),
		events:   make(chan chain.Event, 256),
	}
	c.hub = newHub(logger.With(zap.String("component", "hub")), c.inbound, c.metrics)
	return c, nil
}

func (c *Coordinator) Hub() *Hub { return c.hub }

func (c *Coordinator) chain(id uint64) (chain.Reader, error) {
	reader, ok := c.chains[id]
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrUnknownChain, id)
	}
	return reader, nil
}

// Run consumes resolver messages, chain events and health ticks until ctx is
// done. One watcher goroutine is started per chain.
func (c *Coordinator) Run(ctx context.Context) error {
	wg := new(sync.WaitGroup)
	for _, reader := range c.chains {
		wg.Add(1)
		go func(reader chain.Reader) {
			defer wg.Done()
			c.watch(ctx, reader)
		}(reader)
	}
	defer wg.Wait()

	ticker := time.NewTicker(c.opts.HealthInterval)
	defer ticker.Stop()
	c.checkHealth(ctx)

	for {
		select {
		case <-ctx.Done():
			c.hub.Close()
			return nil
		case in := <-c.inbound:
			if err := c.handleMessage(ctx, in); err != nil {
				c.logMessageError(in, err)
			}
		case evt := <-c.events:
			c.metrics.chainEvents.WithLabelValues(evt.Kind.String()).Inc()
			if err := c.handleEvent(ctx, evt); err != nil {
				c.logger.Error("handle chain event", zap.Stringer("kind", evt.Kind), zap.Uint64("chain", evt.ChainID), zap.Stringer("order", evt.OrderHash), zap.Error(err))
			}
		case <-ticker.C:
			c.checkHealth(ctx)
		}
	}
}

// watch restarts the chain watcher until ctx is done.
func (c *Coordinator) watch(ctx context.Context, reader chain.Reader) {
	logger := c.logger.With(zap.Uint64("chain", reader.ChainID()))
	for {
		err := reader.Watch(ctx, c.events)
		if ctx.Err() != nil {
			return
		}
		logger.Warn("chain watcher stopped", zap.Error(err), zap.Duration("retry", c.opts.WatchRetry))
		select {
		case <-ctx.Done():
			return
		case <-time.After(c.opts.WatchRetry):
		}
	}
}

// IsResolver reports whether addr is an authorized resolver on any chain.
func (c *Coordinator) IsResolver(ctx context.Context, addr common.Address) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, chainReadTimeout)
	defer cancel()

	var lastErr error
	for _, reader := range c.chains {
		ok, err := reader.IsResolver(ctx, addr)
		if err != nil {
			lastErr = err
			continue
		}
		if ok {
			return true, nil
		}
	}
	if lastErr != nil {
		return false, fmt.Errorf("%w: %v", ErrChainUnavailable, lastErr)
	}
	return false, nil
}
