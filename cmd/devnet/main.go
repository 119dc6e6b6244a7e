package main

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/catalogfi/xswap/pkg/chain"
	"github.com/catalogfi/xswap/pkg/chain/local"
	"github.com/catalogfi/xswap/pkg/contract"
	"github.com/catalogfi/xswap/pkg/coordinator"
	"github.com/catalogfi/xswap/pkg/escrow"
	"github.com/catalogfi/xswap/pkg/order"
	"github.com/catalogfi/xswap/pkg/price"
	"github.com/catalogfi/xswap/pkg/protocol"
	"github.com/catalogfi/xswap/pkg/resolver"
	"github.com/catalogfi/xswap/pkg/rest"
	"github.com/catalogfi/xswap/pkg/store"
	"github.com/catalogfi/xswap/pkg/util"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/fatih/color"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	addr        = "localhost:8080"
	resolverKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	makerKey    = "59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"
)

var (
	owner      = common.HexToAddress("0x000000000000000000000000000000000000dEaD")
	makerAsset = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	takerAsset = common.HexToAddress("0x00000000000000000000000000000000000000b2")
)

func main() {
	loggerConfig := zap.NewDevelopmentConfig()
	loggerConfig.EncoderConfig.TimeKey = ""
	loggerConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	loggerConfig.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	logger, err := loggerConfig.Build()
	if err != nil {
		panic(err)
	}

	rKey, err := util.ParseKey(resolverKey)
	if err != nil {
		panic(err)
	}
	mKey, err := util.ParseKey(makerKey)
	if err != nil {
		panic(err)
	}
	resolverAddr := crypto.PubkeyToAddress(rKey.PublicKey)
	maker := crypto.PubkeyToAddress(mKey.PublicKey)

	// Two local ledgers with a funded maker and resolver.
	src, err := local.New(1, owner, contract.DefaultTimelocks)
	if err != nil {
		panic(err)
	}
	dst, err := local.New(2, owner, contract.DefaultTimelocks)
	if err != nil {
		panic(err)
	}
	for _, ch := range []*local.Chain{src, dst} {
		if err := ch.Authorize(resolverAddr, true); err != nil {
			panic(err)
		}
	}
	src.Mint(makerAsset, maker, big.NewInt(1_000_000))
	dst.Mint(takerAsset, resolverAddr, big.NewInt(1_000_000))

	db, err := store.Open("file::memory:?cache=shared")
	if err != nil {
		panic(err)
	}
	st, err := store.NewStore(db)
	if err != nil {
		panic(err)
	}
	coord, err := coordinator.New(logger.Named("coordinator"), st, []chain.Reader{src.Client(owner), dst.Client(owner)}, nil, coordinator.Options{})
	if err != nil {
		panic(err)
	}
	server := coordinator.NewServer(logger.Named("server"), coord, coordinator.NewAuth("devnet", st), 0, 0)

	prices := price.Static{
		price.Key(1, makerAsset):       decimal.NewFromInt(1),
		price.Key(2, takerAsset):       decimal.NewFromInt(10),
		price.Key(1, common.Address{}): decimal.New(1, -12),
		price.Key(2, common.Address{}): decimal.New(1, -12),
	}
	var session *resolver.Session
	sender := resolver.SenderFunc(func(msg protocol.Message) error {
		return session.Send(msg)
	})
	r, err := resolver.New(logger.Named("resolver"), []chain.Client{src.Client(resolverAddr), dst.Client(resolverAddr)}, prices, resolver.NewMemoryStore(), sender, resolver.NewOptions().WithSweepInterval(10*time.Second))
	if err != nil {
		panic(err)
	}
	session = resolver.NewSession(logger.Named("session"), rest.NewClient("http://"+addr, rKey), resolverAddr, r.Capabilities())
	session.SetBackoff(time.Second, 10*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go coord.Run(ctx)
	go server.Run(ctx, addr)
	go session.Run(ctx)
	go r.Run(ctx, session.Messages())

	color.Green("devnet running on %v", addr)
	color.Cyan("maker    %v (key %v)", maker.Hex(), makerKey)
	color.Cyan("resolver %v (key %v)", resolverAddr.Hex(), resolverKey)
	color.Cyan("chain 1 contract %v, maker asset %v", src.Contract().Address().Hex(), makerAsset.Hex())
	color.Cyan("chain 2 contract %v, taker asset %v", dst.Contract().Address().Hex(), takerAsset.Hex())

	if os.Getenv("DEVNET_DEMO") != "" {
		go func() {
			if err := demo(ctx, src, dst, mKey); err != nil {
				color.Red("demo swap failed: %v", err)
				return
			}
			color.Green("demo swap settled: maker received %v, resolver received %v",
				dst.BalanceOf(takerAsset, maker), src.BalanceOf(makerAsset, resolverAddr))
		}()
	}

	// waiting system signal
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGQUIT, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
}

// demo swaps 5000 of the maker asset for 100 of the taker asset through the
// coordinator and releases the secret once the resolver locked its side.
func demo(ctx context.Context, src, dst *local.Chain, key *ecdsa.PrivateKey) error {
	client := rest.NewClient("http://"+addr, nil)
	secret, secretHash, err := order.NewSecret()
	if err != nil {
		return err
	}
	o := order.Order{
		Salt:             big.NewInt(time.Now().UnixNano()),
		Maker:            crypto.PubkeyToAddress(key.PublicKey),
		MakerAsset:       makerAsset,
		TakerAsset:       takerAsset,
		MakerAmount:      big.NewInt(5000),
		TakerAmount:      big.NewInt(100),
		Deadline:         src.Now() + 600,
		SecretHash:       secretHash,
		SourceChain:      src.ID(),
		DestinationChain: dst.ID(),
	}
	sig, err := order.Sign(o, src.Contract().Domain(), key)
	if err != nil {
		return err
	}

	// Give the resolver time to connect.
	var submission coordinator.Submission
	for attempt := 0; ; attempt++ {
		submission, err = client.SubmitOrder(o, sig)
		if err == nil {
			break
		}
		if attempt == 10 {
			return err
		}
		if !sleep(ctx, time.Second) {
			return ctx.Err()
		}
	}
	color.Yellow("submitted order %v", submission.OrderID)

	for dst.Contract().Factory().Get(submission.OrderHash).Status != escrow.Locked {
		if !sleep(ctx, 200*time.Millisecond) {
			return ctx.Err()
		}
	}
	color.Yellow("destination escrow locked, releasing the secret")

	release, err := crypto.Sign(accounts.TextHash([]byte(coordinator.ReleaseMessage(submission.OrderHash))), key)
	if err != nil {
		return err
	}
	release[crypto.RecoveryIDOffset] += 27
	if err := client.SubmitSecret(submission.OrderID, secret, release); err != nil {
		return err
	}

	for src.Contract().Factory().Get(submission.OrderHash).Status != escrow.Withdrawn {
		if !sleep(ctx, 200*time.Millisecond) {
			return ctx.Err()
		}
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
