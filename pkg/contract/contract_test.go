package contract_test

import (
	"crypto/ecdsa"
	"errors"
	"math/big"
	"sync"

	"github.com/catalogfi/xswap/pkg/chain/local"
	"github.com/catalogfi/xswap/pkg/contract"
	"github.com/catalogfi/xswap/pkg/escrow"
	"github.com/catalogfi/xswap/pkg/events"
	"github.com/catalogfi/xswap/pkg/fault"
	"github.com/catalogfi/xswap/pkg/order"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Order execution contract", func() {
	var (
		owner      = common.HexToAddress("0x0000000000000000000000000000000000000001")
		resolver   = common.HexToAddress("0x0000000000000000000000000000000000000101")
		resolver2  = common.HexToAddress("0x0000000000000000000000000000000000000202")
		makerAsset = common.HexToAddress("0x000000000000000000000000000000000000aaaa")
		takerAsset = common.HexToAddress("0x000000000000000000000000000000000000bbbb")

		ledger   *local.Ledger
		src      *contract.Contract
		recorder *events.Recorder
		now      uint64
		key      *ecdsa.PrivateKey
		maker    common.Address
		o        order.Order
		sig      []byte
		secret   []byte
	)

	BeforeEach(func() {
		var err error
		key, err = crypto.GenerateKey()
		Expect(err).Should(BeNil())
		maker = crypto.PubkeyToAddress(key.PublicKey)

		now = 1_700_000_000
		ledger = local.NewLedger()
		ledger.Mint(makerAsset, maker, big.NewInt(1_000_000))

		src, err = contract.New(common.HexToAddress("0x5c"), 1, owner, ledger, contract.DefaultTimelocks)
		Expect(err).Should(BeNil())
		recorder = new(events.Recorder)
		src.SetEmitter(recorder)
		src.SetNowFunc(func() uint64 { return now })
		Expect(src.SetResolverAuthorization(owner, resolver, true)).Should(Succeed())
		recorder.Reset()

		var secretHash common.Hash
		secret, secretHash, err = order.NewSecret()
		Expect(err).Should(BeNil())
		o = order.Order{
			Salt:             big.NewInt(42),
			Maker:            maker,
			MakerAsset:       makerAsset,
			TakerAsset:       takerAsset,
			MakerAmount:      big.NewInt(1000),
			TakerAmount:      big.NewInt(2000),
			Deadline:         now + 600,
			SecretHash:       secretHash,
			SourceChain:      1,
			DestinationChain: 2,
			SlippageBps:      100,
		}
		sig, err = order.Sign(o, src.Domain(), key)
		Expect(err).Should(BeNil())
	})

	Context("when validating orders", func() {
		It("should agree with the order package", func() {
			Expect(src.GetOrderHash(o)).Should(Equal(order.Hash(o)))
			Expect(src.ValidateOrderSignature(o, sig)).Should(BeTrue())
			Expect(src.ValidateOrderConditions(o)).Should(Succeed())
		})

		It("should reject orders meant for another chain", func() {
			o.SourceChain = 2
			err := src.ValidateOrderConditions(o)
			Expect(errors.Is(err, contract.ErrOrderConditionsNotMet)).Should(BeTrue())
			Expect(errors.Is(err, contract.ErrWrongChain)).Should(BeTrue())
		})

		It("should reject a signature for another domain", func() {
			other := order.NewDomain(1, common.HexToAddress("0x5d"))
			badSig, err := order.Sign(o, other, key)
			Expect(err).Should(BeNil())
			Expect(src.ValidateOrderSignature(o, badSig)).Should(BeFalse())
			_, err = src.ExecuteOrder(resolver, o, badSig, common.Address{})
			Expect(errors.Is(err, contract.ErrInvalidSignature)).Should(BeTrue())
		})
	})

	Context("when executing orders", func() {
		It("should lock the maker's funds in the source escrow", func() {
			addr, err := src.ExecuteOrder(resolver, o, sig, common.Address{})
			Expect(err).Should(BeNil())

			orderHash := order.Hash(o)
			Expect(src.GetOrderStatus(orderHash)).Should(Equal(contract.Filled))
			Expect(src.GetOrderEscrow(orderHash)).Should(Equal(addr))
			Expect(ledger.BalanceOf(makerAsset, addr).Int64()).Should(Equal(int64(1000)))

			esc := src.Factory().Get(orderHash)
			Expect(esc.Status).Should(Equal(escrow.Locked))
			Expect(esc.Depositor).Should(Equal(maker))
			Expect(esc.Beneficiary).Should(Equal(resolver))
			Expect(esc.TimeoutWithdraw).Should(Equal(now + contract.DefaultTimelocks.SrcWithdrawal))
			Expect(esc.TimeoutCancel).Should(Equal(now + contract.DefaultTimelocks.SrcCancellation))

			var filled []contract.OrderFilled
			for _, evt := range recorder.Events() {
				if evt, ok := evt.(contract.OrderFilled); ok {
					filled = append(filled, evt)
				}
			}
			Expect(filled).Should(Equal([]contract.OrderFilled{{
				ChainID:   1,
				OrderHash: orderHash,
				Resolver:  resolver,
				Taker:     resolver,
				Escrow:    addr,
			}}))

			By("letting the resolver claim with the secret")
			_, err = src.Factory().Withdraw(orderHash, secret)
			Expect(err).Should(BeNil())
			Expect(ledger.BalanceOf(makerAsset, resolver).Int64()).Should(Equal(int64(1000)))
		})

		It("should fail for an expired order", func() {
			now = o.Deadline + 1
			_, err := src.ExecuteOrder(resolver, o, sig, common.Address{})
			Expect(errors.Is(err, contract.ErrOrderConditionsNotMet)).Should(BeTrue())
			Expect(errors.Is(err, order.ErrOrderExpired)).Should(BeTrue())
			Expect(src.GetOrderStatus(order.Hash(o))).Should(Equal(contract.None))
			Expect(recorder.Events()).Should(BeEmpty())
		})

		It("should fail when the predicate does not hold", func() {
			o.Predicate = order.EncodePredicate(order.Clause{Op: order.OpTimestampAtOrAfter, Arg: now + 60})
			sig, err := order.Sign(o, src.Domain(), key)
			Expect(err).Should(BeNil())
			_, err = src.ExecuteOrder(resolver, o, sig, common.Address{})
			Expect(errors.Is(err, contract.ErrOrderConditionsNotMet)).Should(BeTrue())
			Expect(errors.Is(err, order.ErrPredicateFailed)).Should(BeTrue())

			now += 60
			_, err = src.ExecuteOrder(resolver, o, sig, common.Address{})
			Expect(err).Should(BeNil())
		})

		It("should only accept authorized resolvers", func() {
			_, err := src.ExecuteOrder(resolver2, o, sig, common.Address{})
			Expect(errors.Is(err, contract.ErrUnauthorizedResolver)).Should(BeTrue())
			Expect(fault.KindOf(err)).Should(Equal(fault.Authorization))

			_, err = src.ExecuteOrder(resolver, o, sig, common.Address{})
			Expect(err).Should(BeNil())
		})

		It("should let exactly one of two racing resolvers fill the order", func() {
			Expect(src.SetResolverAuthorization(owner, resolver2, true)).Should(Succeed())

			var wg sync.WaitGroup
			errs := make([]error, 2)
			for i, r := range []common.Address{resolver, resolver2} {
				wg.Add(1)
				go func(i int, r common.Address) {
					defer GinkgoRecover()
					defer wg.Done()
					_, errs[i] = src.ExecuteOrder(r, o, sig, common.Address{})
				}(i, r)
			}
			wg.Wait()

			succeeded := 0
			for _, err := range errs {
				if err == nil {
					succeeded++
					continue
				}
				Expect(errors.Is(err, contract.ErrOrderAlreadyFilled)).Should(BeTrue())
				Expect(fault.KindOf(err)).Should(Equal(fault.Conflict))
			}
			Expect(succeeded).Should(Equal(1))
			Expect(src.GetOrderStatus(order.Hash(o))).Should(Equal(contract.Filled))
			Expect(ledger.BalanceOf(makerAsset, maker).Int64()).Should(Equal(int64(999_000)))
		})

		It("should abort when the interaction fails", func() {
			src.SetInteraction(func(orderHash common.Hash, o order.Order, r common.Address) error {
				return errors.New("hook reverted")
			})
			_, err := src.ExecuteOrder(resolver, o, sig, common.Address{})
			Expect(err).Should(HaveOccurred())
			Expect(src.GetOrderStatus(order.Hash(o))).Should(Equal(contract.None))
			Expect(ledger.BalanceOf(makerAsset, maker).Int64()).Should(Equal(int64(1_000_000)))
		})

		It("should let the interaction read the contract but not touch the order", func() {
			Expect(src.SetResolverAuthorization(owner, resolver2, true)).Should(Succeed())
			var calls int
			src.SetInteraction(func(orderHash common.Hash, hooked order.Order, r common.Address) error {
				calls++
				Expect(r).Should(Equal(resolver))
				Expect(src.IsResolver(r)).Should(BeTrue())
				Expect(src.GetOrderStatus(orderHash)).Should(Equal(contract.None))

				_, err := src.ExecuteOrder(resolver2, hooked, sig, common.Address{})
				Expect(errors.Is(err, contract.ErrOrderBeingExecuted)).Should(BeTrue())
				Expect(errors.Is(src.CancelOrder(maker, hooked), contract.ErrOrderBeingExecuted)).Should(BeTrue())
				return nil
			})

			escrowAddr, err := src.ExecuteOrder(resolver, o, sig, common.Address{})
			Expect(err).Should(BeNil())
			Expect(calls).Should(Equal(1))
			Expect(src.GetOrderStatus(order.Hash(o))).Should(Equal(contract.Filled))
			Expect(src.GetOrderEscrow(order.Hash(o))).Should(Equal(escrowAddr))
			Expect(src.Factory().Get(order.Hash(o)).Beneficiary).Should(Equal(resolver))
		})

		It("should leave the order open when the maker cannot pay", func() {
			o.MakerAmount = big.NewInt(2_000_000)
			sig, err := order.Sign(o, src.Domain(), key)
			Expect(err).Should(BeNil())
			_, err = src.ExecuteOrder(resolver, o, sig, common.Address{})
			Expect(errors.Is(err, escrow.ErrInsufficientBalance)).Should(BeTrue())
			Expect(src.GetOrderStatus(order.Hash(o))).Should(Equal(contract.None))
		})
	})

	Context("when cancelling orders", func() {
		It("should cancel once and only for the maker", func() {
			Expect(errors.Is(src.CancelOrder(resolver, o), contract.ErrNotMaker)).Should(BeTrue())

			Expect(src.CancelOrder(maker, o)).Should(Succeed())
			Expect(src.GetOrderStatus(order.Hash(o))).Should(Equal(contract.Cancelled))
			Expect(recorder.Events()).Should(ContainElement(contract.OrderCancelled{
				ChainID:   1,
				OrderHash: order.Hash(o),
				Maker:     maker,
			}))

			err := src.CancelOrder(maker, o)
			Expect(errors.Is(err, contract.ErrOrderAlreadyCancelled)).Should(BeTrue())

			_, err = src.ExecuteOrder(resolver, o, sig, common.Address{})
			Expect(errors.Is(err, contract.ErrOrderAlreadyCancelled)).Should(BeTrue())
		})

		It("should not cancel a filled order", func() {
			_, err := src.ExecuteOrder(resolver, o, sig, common.Address{})
			Expect(err).Should(BeNil())
			err = src.CancelOrder(maker, o)
			Expect(errors.Is(err, contract.ErrOrderAlreadyFilled)).Should(BeTrue())
		})
	})

	Context("when deploying destination escrows", func() {
		var dst *contract.Contract

		BeforeEach(func() {
			var err error
			dst, err = contract.New(common.HexToAddress("0xd5"), 2, owner, ledger, contract.DefaultTimelocks)
			Expect(err).Should(BeNil())
			dst.SetNowFunc(func() uint64 { return now })
			Expect(dst.SetResolverAuthorization(owner, resolver, true)).Should(Succeed())
			ledger.Mint(takerAsset, resolver, big.NewInt(10_000))
		})

		It("should lock the resolver's funds for the maker", func() {
			addr, err := dst.DeployDestinationEscrow(resolver, o, o.MinTakerAmount())
			Expect(err).Should(BeNil())
			esc := dst.Factory().Get(order.Hash(o))
			Expect(esc.Address).Should(Equal(addr))
			Expect(esc.Side).Should(Equal(escrow.Destination))
			Expect(esc.Beneficiary).Should(Equal(maker))
			Expect(esc.Amount.Int64()).Should(Equal(int64(1980)))
			Expect(esc.TimeoutWithdraw).Should(Equal(now + contract.DefaultTimelocks.DstWithdrawal))

			_, err = dst.DeployDestinationEscrow(resolver, o, o.TakerAmount)
			Expect(errors.Is(err, escrow.ErrEscrowExists)).Should(BeTrue())
		})

		It("should reject amounts beyond the slippage", func() {
			_, err := dst.DeployDestinationEscrow(resolver, o, big.NewInt(1979))
			Expect(errors.Is(err, contract.ErrInsufficientAmount)).Should(BeTrue())
		})

		It("should reject the wrong chain", func() {
			_, err := src.DeployDestinationEscrow(resolver, o, o.TakerAmount)
			Expect(errors.Is(err, contract.ErrWrongChain)).Should(BeTrue())
		})
	})

	Context("when managing resolvers", func() {
		It("should only let the owner change the allow-list", func() {
			err := src.SetResolverAuthorization(resolver, resolver2, true)
			Expect(errors.Is(err, contract.ErrNotOwner)).Should(BeTrue())
			Expect(src.IsResolver(resolver2)).Should(BeFalse())

			Expect(src.SetResolverAuthorization(owner, resolver, false)).Should(Succeed())
			Expect(src.IsResolver(resolver)).Should(BeFalse())
			Expect(recorder.Events()).Should(ContainElement(contract.ResolverAuthorized{
				ChainID:    1,
				Resolver:   resolver,
				Authorized: false,
			}))
		})
	})

	Context("when configuring timelocks", func() {
		It("should require the destination window to close first", func() {
			timelocks := contract.DefaultTimelocks
			timelocks.DstWithdrawal = timelocks.SrcWithdrawal
			_, err := contract.New(common.HexToAddress("0x5e"), 1, owner, ledger, timelocks)
			Expect(errors.Is(err, contract.ErrInvalidTimelocks)).Should(BeTrue())
		})
	})
})
