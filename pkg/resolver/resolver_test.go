package resolver_test

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"time"

	"github.com/catalogfi/xswap/pkg/chain"
	"github.com/catalogfi/xswap/pkg/chain/local"
	"github.com/catalogfi/xswap/pkg/contract"
	"github.com/catalogfi/xswap/pkg/escrow"
	"github.com/catalogfi/xswap/pkg/fault"
	"github.com/catalogfi/xswap/pkg/order"
	"github.com/catalogfi/xswap/pkg/price"
	"github.com/catalogfi/xswap/pkg/protocol"
	"github.com/catalogfi/xswap/pkg/resolver"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Resolver", func() {
	var (
		owner      = common.HexToAddress("0x01")
		makerAsset = common.HexToAddress("0xaaaa")
		takerAsset = common.HexToAddress("0xbbbb")

		ctx    context.Context
		cancel context.CancelFunc
		done   chan struct{}

		src, dst *local.Chain
		makerKey *ecdsa.PrivateKey
		maker    common.Address
		addr     common.Address

		r        *resolver.Resolver
		messages chan protocol.Message
		sent     chan protocol.Message

		secret []byte
	)

	newOrder := func(id string, makerAmount, takerAmount int64, dstChain uint64) protocol.NewOrder {
		var secretHash common.Hash
		var err error
		secret, secretHash, err = order.NewSecret()
		Expect(err).Should(BeNil())
		o := order.Order{
			Salt:             big.NewInt(time.Now().UnixNano()),
			Maker:            maker,
			MakerAsset:       makerAsset,
			TakerAsset:       takerAsset,
			MakerAmount:      big.NewInt(makerAmount),
			TakerAmount:      big.NewInt(takerAmount),
			Deadline:         src.Now() + 600,
			SecretHash:       secretHash,
			SourceChain:      1,
			DestinationChain: dstChain,
		}
		sig, err := order.Sign(o, src.Contract().Domain(), makerKey)
		Expect(err).Should(BeNil())
		return protocol.NewOrder{OrderID: id, OrderHash: order.Hash(o), Order: o, Signature: sig}
	}

	BeforeEach(func() {
		var err error
		src, err = local.New(1, owner, contract.DefaultTimelocks)
		Expect(err).Should(BeNil())
		dst, err = local.New(2, owner, contract.DefaultTimelocks)
		Expect(err).Should(BeNil())

		makerKey, err = crypto.GenerateKey()
		Expect(err).Should(BeNil())
		maker = crypto.PubkeyToAddress(makerKey.PublicKey)
		resolverKey, err := crypto.GenerateKey()
		Expect(err).Should(BeNil())
		addr = crypto.PubkeyToAddress(resolverKey.PublicKey)

		Expect(src.Authorize(addr, true)).Should(Succeed())
		Expect(dst.Authorize(addr, true)).Should(Succeed())
		src.Mint(makerAsset, maker, big.NewInt(5000))
		dst.Mint(takerAsset, addr, big.NewInt(1000))

		prices := price.Static{
			price.Key(1, makerAsset):       decimal.NewFromInt(1),
			price.Key(2, takerAsset):       decimal.NewFromInt(10),
			price.Key(1, common.Address{}): decimal.New(1, -12),
			price.Key(2, common.Address{}): decimal.New(1, -12),
		}
		sent = make(chan protocol.Message, 16)
		sender := resolver.SenderFunc(func(msg protocol.Message) error {
			sent <- msg
			return nil
		})
		opts := resolver.NewOptions().
			WithMinProfit(decimal.NewFromInt(100)).
			WithSweepInterval(0)
		r, err = resolver.New(zap.NewNop(), []chain.Client{src.Client(addr), dst.Client(addr)}, prices, resolver.NewMemoryStore(), sender, opts)
		Expect(err).Should(BeNil())

		messages = make(chan protocol.Message, 16)
		ctx, cancel = context.WithCancel(context.Background())
		done = make(chan struct{})
		go func() {
			defer GinkgoRecover()
			defer close(done)
			Expect(r.Run(ctx, messages)).Should(Succeed())
		}()
	})

	AfterEach(func() {
		cancel()
		Eventually(done).Should(BeClosed())
	})

	execute := func(msg protocol.NewOrder) protocol.OrderExecuted {
		messages <- msg
		var picked protocol.Message
		Eventually(sent).Should(Receive(&picked))
		Expect(picked).Should(BeAssignableToTypeOf(protocol.OrderPicked{}))
		Expect(picked.(protocol.OrderPicked).Resolver).Should(Equal(addr))

		var executed protocol.Message
		Eventually(sent).Should(Receive(&executed))
		Expect(executed).Should(BeAssignableToTypeOf(protocol.OrderExecuted{}))
		return executed.(protocol.OrderExecuted)
	}

	It("should announce its chains and limits", func() {
		caps := r.Capabilities()
		Expect(caps.Chains).Should(ConsistOf(uint64(1), uint64(2)))
		Expect(caps.Supports(1, 2)).Should(BeTrue())
		Expect(caps.MinProfit.Equal(decimal.NewFromInt(100))).Should(BeTrue())
	})

	It("should execute a profitable order on both chains", func() {
		msg := newOrder("a", 5000, 100, 2)
		executed := execute(msg)
		Expect(executed.OrderID).Should(Equal("a"))
		Expect(executed.EscrowAddress).Should(Equal(src.Contract().GetOrderEscrow(msg.OrderHash)))
		Expect(executed.GasUsed).Should(Equal(local.ExecuteGas + local.DeployGas))

		Expect(src.Contract().GetOrderStatus(msg.OrderHash)).Should(Equal(contract.Filled))
		lock := dst.Contract().Factory().Get(msg.OrderHash)
		Expect(lock.Status).Should(Equal(escrow.Locked))
		Expect(lock.Beneficiary).Should(Equal(maker))
		Expect(lock.Amount).Should(Equal(big.NewInt(100)))
	})

	It("should execute an order once", func() {
		msg := newOrder("a", 5000, 100, 2)
		messages <- msg
		messages <- msg
		execute(msg)
		Consistently(sent, 200*time.Millisecond).ShouldNot(Receive())
	})

	Context("when a check fails", func() {
		It("should skip unprofitable orders", func() {
			msg := newOrder("a", 5000, 600, 2)
			messages <- msg
			Consistently(sent, 200*time.Millisecond).ShouldNot(Receive())
			Expect(src.Contract().GetOrderStatus(msg.OrderHash)).Should(Equal(contract.None))

			_, err := r.Evaluate(context.Background(), msg.Order)
			Expect(err).Should(MatchError(resolver.ErrUnprofitable))
		})

		It("should skip orders while gas is too expensive", func() {
			src.SetGasPrice(big.NewInt(200e9))
			msg := newOrder("a", 5000, 100, 2)
			_, err := r.Evaluate(context.Background(), msg.Order)
			Expect(err).Should(MatchError(resolver.ErrGasTooHigh))
			Expect(fault.KindOf(err)).Should(Equal(fault.Transient))
		})

		It("should skip orders of unsupported chains", func() {
			msg := newOrder("a", 5000, 100, 3)
			messages <- msg
			Consistently(sent, 200*time.Millisecond).ShouldNot(Receive())
			_, err := r.Evaluate(context.Background(), msg.Order)
			Expect(err).Should(MatchError(resolver.ErrUnsupportedChain))
		})

		It("should skip orders it is not authorized for", func() {
			Expect(dst.Authorize(addr, false)).Should(Succeed())
			_, err := r.Evaluate(context.Background(), newOrder("a", 5000, 100, 2).Order)
			Expect(err).Should(MatchError(resolver.ErrNotAuthorized))
		})

		It("should skip expired orders", func() {
			msg := newOrder("a", 5000, 100, 2)
			src.Advance(time.Hour)
			_, err := r.Evaluate(context.Background(), msg.Order)
			Expect(err).Should(MatchError(order.ErrOrderExpired))
		})

		It("should skip filled orders", func() {
			msg := newOrder("a", 5000, 100, 2)
			execute(msg)
			_, err := r.Evaluate(context.Background(), msg.Order)
			Expect(err).Should(MatchError(resolver.ErrNotOpen))
		})

		It("should report a failed execution", func() {
			msg := newOrder("a", 6000, 100, 2)
			messages <- msg

			var picked, failed protocol.Message
			Eventually(sent).Should(Receive(&picked))
			Expect(picked).Should(BeAssignableToTypeOf(protocol.OrderPicked{}))
			Eventually(sent).Should(Receive(&failed))
			Expect(failed).Should(BeAssignableToTypeOf(protocol.OrderExecutionFailed{}))
			Expect(failed.(protocol.OrderExecutionFailed).OrderID).Should(Equal("a"))
			Expect(src.Contract().GetOrderStatus(msg.OrderHash)).Should(Equal(contract.None))
		})
	})

	Context("settlement", func() {
		var msg protocol.NewOrder

		BeforeEach(func() {
			msg = newOrder("a", 5000, 100, 2)
			execute(msg)
		})

		It("should withdraw both escrows with the secret", func() {
			messages <- protocol.SecretAvailable{OrderID: "a", Secret: secret}

			Eventually(func() escrow.Status {
				return src.Contract().Factory().Get(msg.OrderHash).Status
			}).Should(Equal(escrow.Withdrawn))
			Expect(dst.Contract().Factory().Get(msg.OrderHash).Status).Should(Equal(escrow.Withdrawn))
			Expect(dst.BalanceOf(takerAsset, maker)).Should(Equal(big.NewInt(100)))
			Expect(src.BalanceOf(makerAsset, addr)).Should(Equal(big.NewInt(5000)))

			By("Ignoring a second delivery")
			messages <- protocol.SecretAvailable{OrderID: "a", Secret: secret}
			Consistently(sent, 200*time.Millisecond).ShouldNot(Receive())
		})

		It("should refuse a secret that does not match", func() {
			messages <- protocol.SecretAvailable{OrderID: "a", Secret: []byte("wrong")}
			Consistently(func() escrow.Status {
				return dst.Contract().Factory().Get(msg.OrderHash).Status
			}, 200*time.Millisecond).Should(Equal(escrow.Locked))
		})

		It("should refund the destination escrow once it can be cancelled", func() {
			r.Sweep(context.Background())
			Expect(dst.Contract().Factory().Get(msg.OrderHash).Status).Should(Equal(escrow.Locked))

			dst.Advance(4 * time.Hour)
			r.Sweep(context.Background())
			Expect(dst.Contract().Factory().Get(msg.OrderHash).Status).Should(Equal(escrow.Cancelled))
			Expect(dst.BalanceOf(takerAsset, addr)).Should(Equal(big.NewInt(1000)))

			By("Returning the maker's funds once the source escrow can be cancelled")
			Expect(src.Contract().Factory().Get(msg.OrderHash).Status).Should(Equal(escrow.Locked))
			src.Advance(5 * time.Hour)
			r.Sweep(context.Background())
			Expect(src.Contract().Factory().Get(msg.OrderHash).Status).Should(Equal(escrow.Cancelled))
			Expect(src.BalanceOf(makerAsset, maker)).Should(Equal(big.NewInt(5000)))
		})

		It("should withdraw the source escrow with a secret revealed on chain", func() {
			_, err := dst.Client(maker).Withdraw(context.Background(), msg.OrderHash, secret)
			Expect(err).Should(BeNil())

			r.Sweep(context.Background())
			Expect(src.Contract().Factory().Get(msg.OrderHash).Status).Should(Equal(escrow.Withdrawn))
			Expect(src.BalanceOf(makerAsset, addr)).Should(Equal(big.NewInt(5000)))
		})
	})

	Context("when an order is cancelled", func() {
		It("should stop working on it", func() {
			prices := &blockingPrices{asked: make(chan struct{}, 4), released: make(chan error, 4)}
			sender := resolver.SenderFunc(func(msg protocol.Message) error {
				sent <- msg
				return nil
			})
			blocked, err := resolver.New(zap.NewNop(), []chain.Client{src.Client(addr), dst.Client(addr)}, prices, resolver.NewMemoryStore(), sender, resolver.NewOptions().WithSweepInterval(0))
			Expect(err).Should(BeNil())

			msgs := make(chan protocol.Message, 4)
			runCtx, stop := context.WithCancel(context.Background())
			stopped := make(chan struct{})
			go func() {
				defer GinkgoRecover()
				defer close(stopped)
				Expect(blocked.Run(runCtx, msgs)).Should(Succeed())
			}()
			defer func() {
				stop()
				Eventually(stopped).Should(BeClosed())
			}()

			msg := newOrder("a", 5000, 100, 2)
			msgs <- msg
			Eventually(prices.asked).Should(Receive())
			msgs <- protocol.OrderCancelled{OrderID: "a"}

			var released error
			Eventually(prices.released).Should(Receive(&released))
			Expect(errors.Is(released, context.Canceled)).Should(BeTrue())

			By("Ignoring the order when it is broadcast again")
			msgs <- msg
			Consistently(prices.asked, 200*time.Millisecond).ShouldNot(Receive())
			Expect(sent).ShouldNot(Receive())
			Expect(src.Contract().GetOrderStatus(msg.OrderHash)).Should(Equal(contract.None))
		})
	})
})

// blockingPrices holds every price request until its context is done.
type blockingPrices struct {
	asked    chan struct{}
	released chan error
}

func (p *blockingPrices) Price(ctx context.Context, chainID uint64, asset common.Address) (decimal.Decimal, error) {
	p.asked <- struct{}{}
	<-ctx.Done()
	p.released <- ctx.Err()
	return decimal.Zero, ctx.Err()
}
