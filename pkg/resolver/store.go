package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/catalogfi/xswap/pkg/order"
	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
)

// Action is a chain action taken on a swap.
type Action string

const (
	Executed             Action = "executed"
	LockedDestination    Action = "locked-destination"
	WithdrewDestination  Action = "withdrew-destination"
	WithdrewSource       Action = "withdrew-source"
	CancelledDestination Action = "cancelled-destination"
	CancelledSource      Action = "cancelled-source"
)

// Swap is an order this resolver executed.
type Swap struct {
	OrderID   string      `json:"orderId"`
	OrderHash common.Hash `json:"orderHash"`
	Order     order.Order `json:"order"`
}

type Store interface {
	// StoreAction keeps track of an action that has been done on the order.
	StoreAction(action Action, orderID string) error

	// CheckAction returns if an action has been done on the order previously.
	CheckAction(action Action, orderID string) (bool, error)

	// PutSwap remembers an executed order until it settles.
	PutSwap(swap Swap) error

	Swap(orderID string) (Swap, bool, error)

	// Swaps returns every unsettled swap ordered by id.
	Swaps() ([]Swap, error)

	RemoveSwap(orderID string) error
}

const (
	keySwaps     = "xswap:swaps"
	storeTimeout = 2 * time.Second
)

type redisStore struct {
	client *redis.Client
}

func NewRedisStore(redisURL string) (Store, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return redisStore{client: redis.NewClient(opts)}, nil
}

func (rs redisStore) StoreAction(action Action, orderID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	return rs.client.Set(ctx, actionKey(action, orderID), true, 0).Err()
}

func (rs redisStore) CheckAction(action Action, orderID string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	ok, err := rs.client.Get(ctx, actionKey(action, orderID)).Bool()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	return ok, err
}

func (rs redisStore) PutSwap(swap Swap) error {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	data, err := json.Marshal(swap)
	if err != nil {
		return err
	}
	return rs.client.HSet(ctx, keySwaps, swap.OrderID, data).Err()
}

func (rs redisStore) Swap(orderID string) (Swap, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	data, err := rs.client.HGet(ctx, keySwaps, orderID).Bytes()
	if errors.Is(err, redis.Nil) {
		return Swap{}, false, nil
	}
	if err != nil {
		return Swap{}, false, err
	}
	var swap Swap
	if err := json.Unmarshal(data, &swap); err != nil {
		return Swap{}, false, fmt.Errorf("decode swap %v: %w", orderID, err)
	}
	return swap, true, nil
}

func (rs redisStore) Swaps() ([]Swap, error) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	values, err := rs.client.HGetAll(ctx, keySwaps).Result()
	if err != nil {
		return nil, err
	}
	swaps := make([]Swap, 0, len(values))
	for id, data := range values {
		var swap Swap
		if err := json.Unmarshal([]byte(data), &swap); err != nil {
			return nil, fmt.Errorf("decode swap %v: %w", id, err)
		}
		swaps = append(swaps, swap)
	}
	sortSwaps(swaps)
	return swaps, nil
}

func (rs redisStore) RemoveSwap(orderID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	return rs.client.HDel(ctx, keySwaps, orderID).Err()
}

func actionKey(action Action, orderID string) string {
	return fmt.Sprintf("xswap:action:%v-%v", action, orderID)
}

type memoryStore struct {
	mu      *sync.RWMutex
	actions map[string]struct{}
	swaps   map[string]Swap
}

// NewMemoryStore keeps actions for the lifetime of the process.
func NewMemoryStore() Store {
	return &memoryStore{
		mu:      new(sync.RWMutex),
		actions: map[string]struct{}{},
		swaps:   map[string]Swap{},
	}
}

func (ms *memoryStore) StoreAction(action Action, orderID string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.actions[actionKey(action, orderID)] = struct{}{}
	return nil
}

func (ms *memoryStore) CheckAction(action Action, orderID string) (bool, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	_, ok := ms.actions[actionKey(action, orderID)]
	return ok, nil
}

func (ms *memoryStore) PutSwap(swap Swap) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.swaps[swap.OrderID] = swap
	return nil
}

func (ms *memoryStore) Swap(orderID string) (Swap, bool, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	swap, ok := ms.swaps[orderID]
	return swap, ok, nil
}

func (ms *memoryStore) Swaps() ([]Swap, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	swaps := make([]Swap, 0, len(ms.swaps))
	for _, swap := range ms.swaps {
		swaps = append(swaps, swap)
	}
	sortSwaps(swaps)
	return swaps, nil
}

func (ms *memoryStore) RemoveSwap(orderID string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	delete(ms.swaps, orderID)
	return nil
}

func sortSwaps(swaps []Swap) {
	sort.Slice(swaps, func(i, j int) bool {
		return swaps[i].OrderID < swaps[j].OrderID
	})
}
