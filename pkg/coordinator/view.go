package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/catalogfi/xswap/pkg/escrow"
	"github.com/catalogfi/xswap/pkg/store"
	"github.com/ethereum/go-ethereum/common"
	lru "github.com/hashicorp/golang-lru"
	"go.uber.org/zap"
)

const chainReadTimeout = 10 * time.Second

type EscrowView struct {
	Address         common.Address `json:"address"`
	Status          string         `json:"status"`
	Depositor       common.Address `json:"depositor"`
	Beneficiary     common.Address `json:"beneficiary"`
	Asset           common.Address `json:"asset"`
	Amount          string         `json:"amount"`
	TimeoutWithdraw uint64         `json:"timeoutWithdraw"`
	TimeoutCancel   uint64         `json:"timeoutCancel"`
}

func newEscrowView(e *escrow.Escrow) *EscrowView {
	if e == nil || e.Status == escrow.Uncreated {
		return nil
	}
	view := &EscrowView{
		Address:         e.Address,
		Status:          e.Status.String(),
		Depositor:       e.Depositor,
		Beneficiary:     e.Beneficiary,
		Asset:           e.Asset,
		TimeoutWithdraw: e.TimeoutWithdraw,
		TimeoutCancel:   e.TimeoutCancel,
	}
	if e.Amount != nil {
		view.Amount = e.Amount.String()
	}
	return view
}

// ChainView is what the chains say about an order.
type ChainView struct {
	Status      string      `json:"status"`
	Source      *EscrowView `json:"sourceEscrow,omitempty"`
	Destination *EscrowView `json:"destinationEscrow,omitempty"`
	FetchedAt   time.Time   `json:"fetchedAt"`
	// Stale is set when the chains could not be reached and the view is the
	// last one fetched, or missing.
	Stale bool `json:"stale"`
}

type OrderView struct {
	Order store.Order `json:"order"`
	Chain ChainView   `json:"chain"`
}

type viewEntry struct {
	view    ChainView
	expired bool
}

type viewCache struct {
	cache *lru.Cache
	ttl   time.Duration
	nowFn func() time.Time
}

func newViewCache(size int, ttl time.Duration) (*viewCache, error) {
	cache, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &viewCache{cache: cache, ttl: ttl, nowFn: time.Now}, nil
}

// Get returns the cached view and whether it is still fresh.
func (v *viewCache) Get(hash common.Hash) (ChainView, bool, bool) {
	cached, ok := v.cache.Get(hash)
	if !ok {
		return ChainView{}, false, false
	}
	entry := cached.(viewEntry)
	fresh := !entry.expired && v.nowFn().Sub(entry.view.FetchedAt) < v.ttl
	return entry.view, fresh, true
}

func (v *viewCache) Put(hash common.Hash, view ChainView) {
	v.cache.Add(hash, viewEntry{view: view})
}

// Invalidate forces the next read to hit the chains while keeping the view
// around as a stale fallback.
func (v *viewCache) Invalidate(hash common.Hash) {
	cached, ok := v.cache.Peek(hash)
	if !ok {
		return
	}
	entry := cached.(viewEntry)
	entry.expired = true
	v.cache.Add(hash, entry)
}

// OrderView returns the stored order along with its on-chain state. Chain
// reads are cached, a failed read falls back to the last view marked stale.
func (c *Coordinator) OrderView(ctx context.Context, orderID string) (OrderView, error) {
	record, err := c.store.Order(orderID)
	if err != nil {
		return OrderView{}, err
	}
	hash := common.HexToHash(record.OrderHash)
	cached, fresh, found := c.views.Get(hash)
	if fresh {
		return OrderView{Order: record, Chain: cached}, nil
	}

	view, err := c.fetchView(ctx, record, hash)
	if err != nil {
		c.logger.Warn("fetch on-chain view", zap.String("id", orderID), zap.Error(err))
		if !found {
			cached = ChainView{}
		}
		cached.Stale = true
		return OrderView{Order: record, Chain: cached}, nil
	}
	c.views.Put(hash, view)
	return OrderView{Order: record, Chain: view}, nil
}

func (c *Coordinator) fetchView(ctx context.Context, record store.Order, hash common.Hash) (ChainView, error) {
	src, err := c.chain(record.SourceChain)
	if err != nil {
		return ChainView{}, err
	}
	dst, err := c.chain(record.DestinationChain)
	if err != nil {
		return ChainView{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, chainReadTimeout)
	defer cancel()
	status, err := src.OrderStatus(ctx, hash)
	if err != nil {
		return ChainView{}, fmt.Errorf("order status: %w", err)
	}
	srcEscrow, err := src.Escrow(ctx, hash)
	if err != nil {
		return ChainView{}, fmt.Errorf("source escrow: %w", err)
	}
	dstEscrow, err := dst.Escrow(ctx, hash)
	if err != nil {
		return ChainView{}, fmt.Errorf("destination escrow: %w", err)
	}
	return ChainView{
		Status:      status.String(),
		Source:      newEscrowView(srcEscrow),
		Destination: newEscrowView(dstEscrow),
		FetchedAt:   c.views.nowFn(),
	}, nil
}
