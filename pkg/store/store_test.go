package store_test

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/catalogfi/xswap/pkg/fault"
	"github.com/catalogfi/xswap/pkg/store"
	"github.com/ethereum/go-ethereum/common"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Store", func() {
	var (
		s     store.Store
		maker = common.HexToAddress("0x01")
	)

	newOrder := func(id string) *store.Order {
		return &store.Order{
			OrderID:   id,
			OrderHash: common.BytesToHash([]byte(id)).Hex(),
			Maker:     maker.Hex(),
			Payload:   "{}",
		}
	}

	BeforeEach(func() {
		db, err := store.Open(filepath.Join(GinkgoT().TempDir(), "test.db"))
		Expect(err).Should(BeNil())
		s, err = store.NewStore(db)
		Expect(err).Should(BeNil())
	})

	It("should store orders as pending and reject duplicates", func() {
		Expect(s.CreateOrder(newOrder("a"))).Should(Succeed())
		order, err := s.Order("a")
		Expect(err).Should(BeNil())
		Expect(order.Status).Should(Equal(store.Pending))

		dup := newOrder("b")
		dup.OrderHash = order.OrderHash
		err = s.CreateOrder(dup)
		Expect(errors.Is(err, store.ErrDuplicateOrder)).Should(BeTrue())

		_, err = s.Order("missing")
		Expect(errors.Is(err, store.ErrOrderNotFound)).Should(BeTrue())
	})

	It("should filter orders by maker and status", func() {
		for i := 0; i < 3; i++ {
			Expect(s.CreateOrder(newOrder(fmt.Sprint(i)))).Should(Succeed())
		}
		other := newOrder("other")
		other.Maker = common.HexToAddress("0x02").Hex()
		Expect(s.CreateOrder(other)).Should(Succeed())
		Expect(s.Pick("1", "r", "1", 10)).Should(Succeed())

		orders, err := s.Orders(store.Filter{Maker: maker})
		Expect(err).Should(BeNil())
		Expect(orders).Should(HaveLen(3))

		orders, err = s.Orders(store.Filter{Maker: maker, Status: store.Picked})
		Expect(err).Should(BeNil())
		Expect(orders).Should(HaveLen(1))
		Expect(orders[0].OrderID).Should(Equal("1"))

		counts, err := s.Counts()
		Expect(err).Should(BeNil())
		Expect(counts).Should(Equal(map[store.Status]int64{
			store.Pending:   3,
			store.Picked:    1,
			store.Executed:  0,
			store.Cancelled: 0,
		}))
	})

	It("should let the last pick win and reject picks on closed orders", func() {
		Expect(s.CreateOrder(newOrder("a"))).Should(Succeed())
		Expect(s.Pick("a", "r1", "1.5", 100)).Should(Succeed())
		Expect(s.Pick("a", "r2", "2.5", 200)).Should(Succeed())

		order, err := s.Order("a")
		Expect(err).Should(BeNil())
		Expect(order.Resolver).Should(Equal("r2"))
		Expect(order.EstimatedGas).Should(Equal(uint64(200)))

		Expect(s.MarkExecuted("a", store.Execution{TxHash: "0xtx", EscrowAddress: "0xesc", GasUsed: 150})).Should(Succeed())
		err = s.Pick("a", "r3", "1", 1)
		Expect(errors.Is(err, store.ErrOrderClosed)).Should(BeTrue())
		Expect(fault.KindOf(err)).Should(Equal(fault.Conflict))

		By("accepting a duplicate execution report")
		Expect(s.MarkExecuted("a", store.Execution{})).Should(Succeed())
		order, err = s.Order("a")
		Expect(err).Should(BeNil())
		Expect(order.Status).Should(Equal(store.Executed))
		Expect(order.TxHash).Should(Equal("0xtx"))
		Expect(order.Resolver).Should(Equal("r2"))
	})

	It("should release failed picks back to pending", func() {
		Expect(s.CreateOrder(newOrder("a"))).Should(Succeed())
		err := s.ReleasePick("a", "reverted")
		Expect(errors.Is(err, store.ErrNotPicked)).Should(BeTrue())

		Expect(s.Pick("a", "r1", "1", 1)).Should(Succeed())
		Expect(s.ReleasePick("a", "reverted")).Should(Succeed())
		order, err := s.Order("a")
		Expect(err).Should(BeNil())
		Expect(order.Status).Should(Equal(store.Pending))
		Expect(order.Error).Should(Equal("reverted"))
		Expect(order.Resolver).Should(BeEmpty())
	})

	It("should only cancel open orders", func() {
		Expect(s.CreateOrder(newOrder("a"))).Should(Succeed())
		Expect(s.CreateOrder(newOrder("b"))).Should(Succeed())
		Expect(s.Cancel("a")).Should(Succeed())
		Expect(s.Cancel("a")).Should(Succeed())

		err := s.Pick("a", "r1", "1", 1)
		Expect(errors.Is(err, store.ErrOrderClosed)).Should(BeTrue())

		Expect(s.MarkExecuted("b", store.Execution{})).Should(Succeed())
		err = s.Cancel("b")
		Expect(errors.Is(err, store.ErrOrderClosed)).Should(BeTrue())
	})

	It("should let a fill seen on chain override an off-chain cancel", func() {
		Expect(s.CreateOrder(newOrder("a"))).Should(Succeed())
		Expect(s.Cancel("a")).Should(Succeed())

		err := s.MarkExecuted("a", store.Execution{Resolver: "r1"})
		Expect(errors.Is(err, store.ErrOrderClosed)).Should(BeTrue())

		Expect(s.RecordFill("a", store.Execution{Resolver: "r2", TxHash: "0xtx", EscrowAddress: "0xesc"})).Should(Succeed())
		order, err := s.Order("a")
		Expect(err).Should(BeNil())
		Expect(order.Status).Should(Equal(store.Executed))
		Expect(order.Resolver).Should(Equal("r2"))
		Expect(order.EscrowAddress).Should(Equal("0xesc"))

		Expect(errors.Is(s.RecordFill("missing", store.Execution{}), store.ErrOrderNotFound)).Should(BeTrue())
	})

	It("should keep secrets", func() {
		Expect(s.CreateOrder(newOrder("a"))).Should(Succeed())
		Expect(s.PutSecret("a", "0x1234")).Should(Succeed())
		order, err := s.OrderByHash(common.BytesToHash([]byte("a")))
		Expect(err).Should(BeNil())
		Expect(order.Secret).Should(Equal("0x1234"))
		Expect(errors.Is(s.PutSecret("missing", "0x"), store.ErrOrderNotFound)).Should(BeTrue())
	})

	It("should consume nonces once", func() {
		Expect(s.PutNonce("n1", time.Minute)).Should(Succeed())
		Expect(s.PutNonce("n2", -time.Minute)).Should(Succeed())

		ok, err := s.ConsumeNonce("n1")
		Expect(err).Should(BeNil())
		Expect(ok).Should(BeTrue())
		ok, err = s.ConsumeNonce("n1")
		Expect(err).Should(BeNil())
		Expect(ok).Should(BeFalse())

		ok, err = s.ConsumeNonce("n2")
		Expect(err).Should(BeNil())
		Expect(ok).Should(BeFalse())
	})
})
