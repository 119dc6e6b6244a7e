// Package price quotes asset prices for the resolver's profitability check.
// Prices are per base unit of an asset; the zero address is the chain's
// native asset.
package price

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/catalogfi/xswap/pkg/fault"
	"github.com/ethereum/go-ethereum/common"
	lru "github.com/hashicorp/golang-lru"
	"github.com/shopspring/decimal"
)

var ErrNoPrice = fault.New(fault.Transient, "price unavailable")

type Source interface {
	Price(ctx context.Context, chainID uint64, asset common.Address) (decimal.Decimal, error)
}

// Quote is a price with the time it was fetched. Stale quotes come from the
// cache after the source failed.
type Quote struct {
	Price decimal.Decimal `json:"price"`
	At    time.Time       `json:"at"`
	Stale bool            `json:"stale"`
}

// Static serves fixed prices keyed by "chainID:asset".
type Static map[string]decimal.Decimal

func Key(chainID uint64, asset common.Address) string {
	return fmt.Sprintf("%d:%s", chainID, asset.Hex())
}

// ParseStatic reads prices keyed by "chainID:asset" with decimal string values.
func ParseStatic(prices map[string]string) (Static, error) {
	static := Static{}
	for key, value := range prices {
		price, err := decimal.NewFromString(value)
		if err != nil {
			return nil, fmt.Errorf("price %v: %w", key, err)
		}
		var chainID uint64
		var asset string
		if _, err := fmt.Sscanf(key, "%d:%s", &chainID, &asset); err != nil || !common.IsHexAddress(asset) {
			return nil, fmt.Errorf("invalid price key %q", key)
		}
		static[Key(chainID, common.HexToAddress(asset))] = price
	}
	return static, nil
}

func (s Static) Price(_ context.Context, chainID uint64, asset common.Address) (decimal.Decimal, error) {
	price, ok := s[Key(chainID, asset)]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %v", ErrNoPrice, Key(chainID, asset))
	}
	return price, nil
}

// HTTP fetches prices from `GET <url>?chain=<id>&asset=<address>`, which
// answers `{"price": "<decimal>"}`.
type HTTP struct {
	url    string
	client *http.Client
}

func NewHTTP(url string, timeout time.Duration) *HTTP {
	return &HTTP{url: url, client: &http.Client{Timeout: timeout}}
}

func (h *HTTP) Price(ctx context.Context, chainID uint64, asset common.Address) (decimal.Decimal, error) {
	query := url.Values{}
	query.Set("chain", strconv.FormatUint(chainID, 10))
	query.Set("asset", asset.Hex())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.url+"?"+query.Encode(), nil)
	if err != nil {
		return decimal.Zero, err
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", ErrNoPrice, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("%w: status %v", ErrNoPrice, resp.StatusCode)
	}

	var body struct {
		Price decimal.Decimal `json:"price"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", ErrNoPrice, err)
	}
	return body.Price, nil
}

// Fallback asks each source in turn until one answers.
type Fallback []Source

func (sources Fallback) Price(ctx context.Context, chainID uint64, asset common.Address) (decimal.Decimal, error) {
	err := fmt.Errorf("%w: no source", ErrNoPrice)
	for _, source := range sources {
		var price decimal.Decimal
		price, err = source.Price(ctx, chainID, asset)
		if err == nil {
			return price, nil
		}
	}
	return decimal.Zero, err
}

// Cache keeps the last quote per asset. Fresh quotes are served from the
// cache; once they expire the source is asked again, and if it fails the last
// quote is returned marked stale.
type Cache struct {
	source Source
	ttl    time.Duration
	nowFn  func() time.Time
	cache  *lru.Cache
}

func NewCache(source Source, size int, ttl time.Duration) (*Cache, error) {
	cache, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &Cache{source: source, ttl: ttl, nowFn: time.Now, cache: cache}, nil
}

func (c *Cache) SetNowFunc(now func() time.Time) {
	c.nowFn = now
}

func (c *Cache) Quote(ctx context.Context, chainID uint64, asset common.Address) (Quote, error) {
	key := Key(chainID, asset)
	cached, ok := c.cache.Get(key)
	if ok {
		quote := cached.(Quote)
		if c.nowFn().Sub(quote.At) < c.ttl {
			return quote, nil
		}
	}

	price, err := c.source.Price(ctx, chainID, asset)
	if err != nil {
		if ok {
			quote := cached.(Quote)
			quote.Stale = true
			return quote, nil
		}
		return Quote{}, err
	}
	quote := Quote{Price: price, At: c.nowFn()}
	c.cache.Add(key, quote)
	return quote, nil
}

// Price makes the cache a Source.
func (c *Cache) Price(ctx context.Context, chainID uint64, asset common.Address) (decimal.Decimal, error) {
	quote, err := c.Quote(ctx, chainID, asset)
	return quote.Price, err
}
