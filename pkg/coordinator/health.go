package coordinator

import (
	"context"
	"time"

	"github.com/catalogfi/xswap/pkg/store"
	"go.uber.org/zap"
)

type ChainHealth struct {
	Time  uint64 `json:"time,omitempty"`
	Error string `json:"error,omitempty"`
}

type Health struct {
	Healthy   bool                   `json:"healthy"`
	Chains    map[uint64]ChainHealth `json:"chains"`
	Orders    map[store.Status]int64 `json:"orders"`
	Resolvers int                    `json:"resolvers"`
	CheckedAt time.Time              `json:"checkedAt"`
}

// checkHealth reads the time of every chain and refreshes the order gauges.
func (c *Coordinator) checkHealth(ctx context.Context) {
	health := Health{
		Healthy:   true,
		Chains:    make(map[uint64]ChainHealth, len(c.chains)),
		Resolvers: c.hub.Connected(),
		CheckedAt: time.Now(),
	}
	for id, reader := range c.chains {
		readCtx, cancel := context.WithTimeout(ctx, chainReadTimeout)
		now, err := reader.LatestTime(readCtx)
		cancel()
		if err != nil {
			health.Healthy = false
			health.Chains[id] = ChainHealth{Error: err.Error()}
			c.logger.Warn("chain unhealthy", zap.Uint64("chain", id), zap.Error(err))
			continue
		}
		health.Chains[id] = ChainHealth{Time: now}
	}

	counts, err := c.store.Counts()
	if err != nil {
		health.Healthy = false
		c.logger.Error("count orders", zap.Error(err))
	} else {
		health.Orders = counts
		c.metrics.setCounts(counts)
	}

	c.healthMu.Lock()
	c.health = health
	c.healthMu.Unlock()
}

// Health returns the chain times of the last check at CheckedAt, with order
// and resolver counts read at call time.
func (c *Coordinator) Health() Health {
	c.healthMu.RLock()
	health := c.health
	c.healthMu.RUnlock()

	health.Resolvers = c.hub.Connected()
	counts, err := c.store.Counts()
	if err != nil {
		c.logger.Error("count orders", zap.Error(err))
		health.Healthy = false
		health.Orders = nil
		return health
	}
	health.Orders = counts
	return health
}
