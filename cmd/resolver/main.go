package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/catalogfi/xswap/pkg/chain"
	"github.com/catalogfi/xswap/pkg/chain/evm"
	"github.com/catalogfi/xswap/pkg/config"
	"github.com/catalogfi/xswap/pkg/price"
	"github.com/catalogfi/xswap/pkg/protocol"
	"github.com/catalogfi/xswap/pkg/resolver"
	"github.com/catalogfi/xswap/pkg/rest"
	"github.com/catalogfi/xswap/pkg/util"
	"go.uber.org/zap"
)

const priceTimeout = 10 * time.Second

func main() {
	path := "resolver.json"
	if len(os.Args) > 1 {
		path = os.Args[1]
	} else if env := os.Getenv("CONFIG"); env != "" {
		path = env
	}
	cfg, err := config.LoadResolver(path)
	if err != nil {
		panic(err)
	}
	logger, err := util.NewLogger(cfg.Dev, cfg.Sentry)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	key, err := util.ParseKey(cfg.PrivateKey)
	if err != nil {
		logger.Fatal("private key", zap.Error(err))
	}

	clients := make([]chain.Client, 0, len(cfg.Chains))
	for _, chainCfg := range cfg.Chains {
		if chainCfg.Kind == config.KindLocal {
			logger.Fatal("local chains only run inside devnet", zap.Uint64("chain", chainCfg.ID))
		}
		client, err := evm.Dial(logger, chainCfg, key)
		if err != nil {
			logger.Fatal("dial chain", zap.Uint64("chain", chainCfg.ID), zap.Error(err))
		}
		clients = append(clients, client)
	}

	prices, err := priceSource(cfg)
	if err != nil {
		logger.Fatal("prices", zap.Error(err))
	}

	var actions resolver.Store
	if cfg.Redis != "" {
		actions, err = resolver.NewRedisStore(cfg.Redis)
		if err != nil {
			logger.Fatal("redis", zap.Error(err))
		}
	} else {
		logger.Warn("no redis configured, actions are kept in memory")
		actions = resolver.NewMemoryStore()
	}

	var session *resolver.Session
	sender := resolver.SenderFunc(func(msg protocol.Message) error {
		return session.Send(msg)
	})
	opts := resolver.NewOptions().
		WithMinProfit(cfg.MinProfit).
		WithMaxGasPrice(cfg.MaxGasPrice).
		WithGasMultiplier(cfg.GasMultiplier).
		WithSweepInterval(cfg.SweepInterval.Duration())
	r, err := resolver.New(logger, clients, prices, actions, sender, opts)
	if err != nil {
		logger.Fatal("resolver", zap.Error(err))
	}
	session = resolver.NewSession(logger, rest.NewClient(cfg.Coordinator, key), r.Address(), r.Capabilities())

	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 2)
	go func() { errs <- session.Run(ctx) }()
	go func() { errs <- r.Run(ctx, session.Messages()) }()
	logger.Info("resolver started", zap.Stringer("address", r.Address()), zap.String("coordinator", cfg.Coordinator))

	// waiting system signal
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGQUIT, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigs
	logger.Info("shutting down", zap.String("signal", sig.String()))
	cancel()
	<-errs
	<-errs
}

// priceSource tries the price feeds in order and falls back to the static
// prices of the config.
func priceSource(cfg config.Resolver) (price.Source, error) {
	static, err := price.ParseStatic(cfg.Prices)
	if err != nil {
		return nil, err
	}
	var sources price.Fallback
	if cfg.PriceURL != "" {
		sources = append(sources, price.NewHTTP(cfg.PriceURL, priceTimeout))
	}
	if cfg.FallbackURL != "" {
		sources = append(sources, price.NewHTTP(cfg.FallbackURL, priceTimeout))
	}
	sources = append(sources, static)
	return price.NewCache(sources, 256, cfg.PriceTTL.Duration())
}
