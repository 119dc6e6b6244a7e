package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/catalogfi/xswap/pkg/chain"
	"github.com/catalogfi/xswap/pkg/chain/evm"
	"github.com/catalogfi/xswap/pkg/config"
	"github.com/catalogfi/xswap/pkg/coordinator"
	"github.com/catalogfi/xswap/pkg/notify"
	"github.com/catalogfi/xswap/pkg/store"
	"github.com/catalogfi/xswap/pkg/util"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.LoadCoordinator(configPath())
	if err != nil {
		panic(err)
	}
	logger, err := util.NewLogger(cfg.Dev, cfg.Sentry)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	db, err := store.Open(cfg.DB)
	if err != nil {
		logger.Fatal("open database", zap.Error(err))
	}
	st, err := store.NewStore(db)
	if err != nil {
		logger.Fatal("migrate database", zap.Error(err))
	}

	readers := make([]chain.Reader, 0, len(cfg.Chains))
	for _, chainCfg := range cfg.Chains {
		if chainCfg.Kind == config.KindLocal {
			logger.Fatal("local chains only run inside devnet", zap.Uint64("chain", chainCfg.ID))
		}
		reader, err := evm.Dial(logger, chainCfg, nil)
		if err != nil {
			logger.Fatal("dial chain", zap.Uint64("chain", chainCfg.ID), zap.Error(err))
		}
		readers = append(readers, reader)
	}

	notifier, err := notify.New(logger, cfg.Discord.Token, cfg.Discord.Channel)
	if err != nil {
		logger.Fatal("notifier", zap.Error(err))
	}
	coord, err := coordinator.New(logger, st, readers, notifier, coordinator.Options{
		CacheSize:      cfg.CacheSize,
		CacheTTL:       cfg.CacheTTL.Duration(),
		HealthInterval: cfg.HealthInterval.Duration(),
	})
	if err != nil {
		logger.Fatal("coordinator", zap.Error(err))
	}
	server := coordinator.NewServer(logger, coord, coordinator.NewAuth(cfg.JWTSecret, st), cfg.SubmitRate, cfg.SubmitBurst)
	if err := server.SetSubmitClients(cfg.SubmitClients); err != nil {
		logger.Fatal("rate limit", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 2)
	go func() { errs <- coord.Run(ctx) }()
	go func() { errs <- server.Run(ctx, cfg.Addr) }()
	logger.Info("coordinator started", zap.String("addr", cfg.Addr), zap.Int("chains", len(readers)))

	// waiting system signal
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGQUIT, syscall.SIGINT, syscall.SIGTERM)
	running := 2
	select {
	case sig := <-sigs:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-errs:
		logger.Error("stopped", zap.Error(err))
		running--
	}
	cancel()
	for ; running > 0; running-- {
		<-errs
	}
}

func configPath() string {
	if len(os.Args) > 1 {
		return os.Args[1]
	}
	if path := os.Getenv("CONFIG"); path != "" {
		return path
	}
	return "coordinator.json"
}
