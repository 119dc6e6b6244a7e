// Package config loads the JSON configuration of the coordinator and the
// resolver. Secrets may be left out of the file and given as environment
// variables instead.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/catalogfi/xswap/pkg/contract"
	"github.com/shopspring/decimal"
)

type ChainKind string

const (
	KindLocal ChainKind = "local"
	KindEVM   ChainKind = "evm"
)

// Duration is a time.Duration written as a Go duration string in JSON.
type Duration time.Duration

func (d Duration) Duration() time.Duration { return time.Duration(d) }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	duration, err := time.ParseDuration(str)
	if err != nil {
		return err
	}
	*d = Duration(duration)
	return nil
}

type Chain struct {
	ID            uint64    `json:"id"`
	Kind          ChainKind `json:"kind"`
	RPC           string    `json:"rpc"`
	Contract      string    `json:"contract"`
	DomainName    string    `json:"domainName"`
	DomainVersion string    `json:"domainVersion"`
	StartBlock    uint64    `json:"startBlock"`

	// Timelocks only apply to local chains.
	Timelocks *contract.Timelocks `json:"timelocks,omitempty"`
}

// LocalTimelocks returns the configured timelocks or the defaults.
func (chain Chain) LocalTimelocks() contract.Timelocks {
	if chain.Timelocks == nil {
		return contract.DefaultTimelocks
	}
	return *chain.Timelocks
}

func (chain Chain) Validate() error {
	switch chain.Kind {
	case KindLocal:
	case KindEVM:
		if chain.RPC == "" {
			return fmt.Errorf("chain %v: missing rpc", chain.ID)
		}
		if chain.Contract == "" {
			return fmt.Errorf("chain %v: missing contract", chain.ID)
		}
	default:
		return fmt.Errorf("chain %v: unknown kind %q", chain.ID, chain.Kind)
	}
	return nil
}

type Discord struct {
	Token   string `json:"token"`
	Channel string `json:"channel"`
}

type Coordinator struct {
	Addr           string   `json:"addr"`
	DB             string   `json:"db"`
	JWTSecret      string   `json:"jwtSecret"`
	Chains         []Chain  `json:"chains"`
	CacheSize      int      `json:"cacheSize"`
	CacheTTL       Duration `json:"cacheTTL"`
	SubmitRate     float64  `json:"submitRate"`
	SubmitBurst    int      `json:"submitBurst"`
	SubmitClients  int      `json:"submitClients"`
	HealthInterval Duration `json:"healthInterval"`
	Discord        Discord  `json:"discord"`
	Sentry         string   `json:"sentry"`
	Dev            bool     `json:"dev"`
}

func DefaultCoordinator() Coordinator {
	return Coordinator{
		Addr:           ":8080",
		DB:             "xswap.db",
		CacheSize:      1024,
		CacheTTL:       Duration(15 * time.Second),
		SubmitRate:     5,
		SubmitBurst:    10,
		SubmitClients:  4096,
		HealthInterval: Duration(30 * time.Second),
	}
}

func (cfg Coordinator) Validate() error {
	if cfg.JWTSecret == "" {
		return fmt.Errorf("missing jwt secret")
	}
	if len(cfg.Chains) == 0 {
		return fmt.Errorf("no chains configured")
	}
	for _, chain := range cfg.Chains {
		if err := chain.Validate(); err != nil {
			return err
		}
	}
	return nil
}

type Resolver struct {
	Coordinator   string            `json:"coordinator"`
	PrivateKey    string            `json:"privateKey"`
	Chains        []Chain           `json:"chains"`
	Redis         string            `json:"redis"`
	MinProfit     decimal.Decimal   `json:"minProfit"`
	MaxGasPrice   decimal.Decimal   `json:"maxGasPrice"`
	GasMultiplier float64           `json:"gasMultiplier"`
	PriceURL      string            `json:"priceUrl"`
	FallbackURL   string            `json:"fallbackPriceUrl"`
	Prices        map[string]string `json:"prices"`
	PriceTTL      Duration          `json:"priceTTL"`
	SweepInterval Duration          `json:"sweepInterval"`
	Sentry        string            `json:"sentry"`
	Dev           bool              `json:"dev"`
}

func DefaultResolver() Resolver {
	return Resolver{
		Coordinator:   "http://localhost:8080",
		MinProfit:     decimal.Zero,
		MaxGasPrice:   decimal.New(100, 9),
		GasMultiplier: 1.2,
		PriceTTL:      Duration(time.Minute),
		SweepInterval: Duration(time.Minute),
	}
}

func (cfg Resolver) Validate() error {
	if cfg.PrivateKey == "" {
		return fmt.Errorf("missing private key")
	}
	if cfg.Coordinator == "" {
		return fmt.Errorf("missing coordinator url")
	}
	if cfg.GasMultiplier < 1 {
		return fmt.Errorf("gas multiplier %v below 1", cfg.GasMultiplier)
	}
	if len(cfg.Chains) < 2 {
		return fmt.Errorf("a resolver needs at least two chains")
	}
	for _, chain := range cfg.Chains {
		if err := chain.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// LoadCoordinator reads the coordinator config from path, if it exists, on
// top of the defaults and applies the environment overrides.
func LoadCoordinator(path string) (Coordinator, error) {
	cfg := DefaultCoordinator()
	if err := load(path, &cfg); err != nil {
		return cfg, err
	}
	override(&cfg.JWTSecret, "JWT_SECRET")
	override(&cfg.DB, "DB_URL")
	override(&cfg.Sentry, "SENTRY_DSN")
	override(&cfg.Discord.Token, "DISCORD_TOKEN")
	return cfg, cfg.Validate()
}

// LoadResolver reads the resolver config the same way as LoadCoordinator.
func LoadResolver(path string) (Resolver, error) {
	cfg := DefaultResolver()
	if err := load(path, &cfg); err != nil {
		return cfg, err
	}
	override(&cfg.PrivateKey, "PRIVATE_KEY")
	override(&cfg.Coordinator, "COORDINATOR_URL")
	override(&cfg.Redis, "REDIS_URL")
	override(&cfg.Sentry, "SENTRY_DSN")
	return cfg, cfg.Validate()
}

func load(path string, v interface{}) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("invalid config %v: %w", path, err)
	}
	return nil
}

func override(field *string, env string) {
	if value := strings.TrimSpace(os.Getenv(env)); value != "" {
		*field = value
	}
}
