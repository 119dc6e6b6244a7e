package coordinator_test

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"time"

	"github.com/catalogfi/xswap/pkg/chain"
	"github.com/catalogfi/xswap/pkg/chain/local"
	"github.com/catalogfi/xswap/pkg/contract"
	"github.com/catalogfi/xswap/pkg/coordinator"
	"github.com/catalogfi/xswap/pkg/escrow"
	"github.com/catalogfi/xswap/pkg/fault"
	"github.com/catalogfi/xswap/pkg/order"
	"github.com/catalogfi/xswap/pkg/protocol"
	"github.com/catalogfi/xswap/pkg/rest"
	"github.com/catalogfi/xswap/pkg/store"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Coordinator", func() {
	var (
		owner      = common.HexToAddress("0x01")
		makerAsset = common.HexToAddress("0xaaaa")
		takerAsset = common.HexToAddress("0xbbbb")

		ctx    context.Context
		cancel context.CancelFunc
		done   chan struct{}

		src, dst    *local.Chain
		makerKey    *ecdsa.PrivateKey
		resolverKey *ecdsa.PrivateKey
		maker       common.Address
		resolver    common.Address

		st     store.Store
		coord  *coordinator.Coordinator
		server *httptest.Server
		client rest.Client

		secret []byte
		o      order.Order
		sig    []byte
	)

	statusOf := func(id string) store.Status {
		view, err := client.Order(id)
		Expect(err).Should(BeNil())
		return view.Order.Status
	}

	statusCode := func(err error) int {
		var restErr *rest.Error
		Expect(errors.As(err, &restErr)).Should(BeTrue())
		return restErr.Status
	}

	BeforeEach(func() {
		var err error
		src, err = local.New(1, owner, contract.DefaultTimelocks)
		Expect(err).Should(BeNil())
		dst, err = local.New(2, owner, contract.DefaultTimelocks)
		Expect(err).Should(BeNil())

		makerKey, err = crypto.GenerateKey()
		Expect(err).Should(BeNil())
		resolverKey, err = crypto.GenerateKey()
		Expect(err).Should(BeNil())
		maker = crypto.PubkeyToAddress(makerKey.PublicKey)
		resolver = crypto.PubkeyToAddress(resolverKey.PublicKey)
		Expect(src.Authorize(resolver, true)).Should(Succeed())
		Expect(dst.Authorize(resolver, true)).Should(Succeed())
		src.Mint(makerAsset, maker, big.NewInt(5000))
		dst.Mint(takerAsset, resolver, big.NewInt(1000))

		var secretHash common.Hash
		secret, secretHash, err = order.NewSecret()
		Expect(err).Should(BeNil())
		o = order.Order{
			Salt:             big.NewInt(1),
			Maker:            maker,
			MakerAsset:       makerAsset,
			TakerAsset:       takerAsset,
			MakerAmount:      big.NewInt(5000),
			TakerAmount:      big.NewInt(100),
			Deadline:         src.Now() + 600,
			SecretHash:       secretHash,
			SourceChain:      1,
			DestinationChain: 2,
		}
		sig, err = order.Sign(o, src.Contract().Domain(), makerKey)
		Expect(err).Should(BeNil())

		db, err := store.Open(filepath.Join(GinkgoT().TempDir(), "xswap.db"))
		Expect(err).Should(BeNil())
		st, err = store.NewStore(db)
		Expect(err).Should(BeNil())

		logger := zap.NewNop()
		coord, err = coordinator.New(logger, st, []chain.Reader{src.Client(owner), dst.Client(owner)}, nil, coordinator.Options{
			CacheTTL:       time.Millisecond,
			HealthInterval: 50 * time.Millisecond,
		})
		Expect(err).Should(BeNil())
		server = httptest.NewServer(coordinator.NewServer(logger, coord, coordinator.NewAuth("secret", st), 0, 0).Handler())
		client = rest.NewClient(server.URL, nil)

		ctx, cancel = context.WithCancel(context.Background())
		done = make(chan struct{})
		go func() {
			defer GinkgoRecover()
			defer close(done)
			Expect(coord.Run(ctx)).Should(Succeed())
		}()
	})

	AfterEach(func() {
		cancel()
		Eventually(done).Should(BeClosed())
		server.Close()
	})

	Context("orderbook", func() {
		It("should accept a signed order and broadcast it", func() {
			conn := connectResolver(server.URL, resolverKey, 1, 2)
			defer conn.close()

			submission, err := client.SubmitOrder(o, sig)
			Expect(err).Should(BeNil())
			Expect(submission.OrderHash).Should(Equal(order.Hash(o)))

			By("Broadcasting it to the resolver")
			msg := next[protocol.NewOrder](conn)
			Expect(msg.OrderID).Should(Equal(submission.OrderID))
			Expect(order.Hash(msg.Order)).Should(Equal(order.Hash(o)))
			Expect([]byte(msg.Signature)).Should(Equal(sig))

			By("Listing it as pending")
			orders, err := client.Orders(rest.Filter{Maker: maker, Status: store.Pending})
			Expect(err).Should(BeNil())
			Expect(orders).Should(HaveLen(1))
			Expect(orders[0].OrderID).Should(Equal(submission.OrderID))

			orders, err = client.Orders(rest.Filter{Status: store.Executed})
			Expect(err).Should(BeNil())
			Expect(orders).Should(BeEmpty())

			By("Reading its on-chain view")
			view, err := client.Order(submission.OrderID)
			Expect(err).Should(BeNil())
			Expect(view.Chain.Stale).Should(BeFalse())
			Expect(view.Chain.Status).Should(Equal("none"))
			Expect(view.Chain.Source).Should(BeNil())
		})

		It("should reject orders not signed by the maker", func() {
			other, err := crypto.GenerateKey()
			Expect(err).Should(BeNil())
			badSig, err := order.Sign(o, src.Contract().Domain(), other)
			Expect(err).Should(BeNil())

			_, err = client.SubmitOrder(o, badSig)
			Expect(statusCode(err)).Should(Equal(http.StatusBadRequest))
		})

		It("should reject orders signed for the destination domain", func() {
			dstSig, err := order.Sign(o, dst.Contract().Domain(), makerKey)
			Expect(err).Should(BeNil())
			_, err = client.SubmitOrder(o, dstSig)
			Expect(statusCode(err)).Should(Equal(http.StatusBadRequest))
		})

		It("should reject orders for unknown chains and duplicates", func() {
			unknown := o
			unknown.DestinationChain = 99
			unknownSig, err := order.Sign(unknown, src.Contract().Domain(), makerKey)
			Expect(err).Should(BeNil())
			_, err = client.SubmitOrder(unknown, unknownSig)
			Expect(statusCode(err)).Should(Equal(http.StatusBadRequest))

			_, err = client.SubmitOrder(o, sig)
			Expect(err).Should(BeNil())
			_, err = client.SubmitOrder(o, sig)
			Expect(statusCode(err)).Should(Equal(http.StatusConflict))
		})

		It("should reject expired orders", func() {
			src.Advance(time.Hour)
			_, err := client.SubmitOrder(o, sig)
			Expect(statusCode(err)).Should(Equal(http.StatusBadRequest))
		})

		It("should refuse orders whose conditions cannot be checked", func() {
			rpcDown := conditionsReader{Client: src.Client(owner), err: errors.New("validateOrderConditions: connection refused")}
			other, err := coordinator.New(zap.NewNop(), st, []chain.Reader{rpcDown, dst.Client(owner)}, nil, coordinator.Options{})
			Expect(err).Should(BeNil())

			_, err = other.SubmitOrder(context.Background(), o, sig)
			Expect(errors.Is(err, coordinator.ErrChainUnavailable)).Should(BeTrue())
			Expect(fault.KindOf(err)).Should(Equal(fault.Transient))
			orders, err := st.Orders(store.Filter{})
			Expect(err).Should(BeNil())
			Expect(orders).Should(BeEmpty())
		})

		It("should accept orders whose predicate only holds later", func() {
			notYet := conditionsReader{Client: src.Client(owner), err: fmt.Errorf("%w: %w", contract.ErrOrderConditionsNotMet, order.ErrPredicateFailed)}
			other, err := coordinator.New(zap.NewNop(), st, []chain.Reader{notYet, dst.Client(owner)}, nil, coordinator.Options{})
			Expect(err).Should(BeNil())

			submission, err := other.SubmitOrder(context.Background(), o, sig)
			Expect(err).Should(BeNil())
			Expect(statusOf(submission.OrderID)).Should(Equal(store.Pending))
		})

		It("should only broadcast to resolvers serving both chains", func() {
			conn := connectResolver(server.URL, resolverKey, 1, 3)
			defer conn.close()

			_, err := client.SubmitOrder(o, sig)
			Expect(err).Should(BeNil())
			Consistently(conn.msgs, 200*time.Millisecond).ShouldNot(Receive())
		})

		It("should let the maker cancel an order", func() {
			conn := connectResolver(server.URL, resolverKey, 1, 2)
			defer conn.close()
			submission, err := client.SubmitOrder(o, sig)
			Expect(err).Should(BeNil())
			next[protocol.NewOrder](conn)

			By("Refusing a cancellation signed by someone else")
			cancelMsg := coordinator.CancelMessage(submission.OrderHash)
			err = client.CancelOrder(submission.OrderID, personalSign(resolverKey, cancelMsg))
			Expect(statusCode(err)).Should(Equal(http.StatusForbidden))

			Expect(client.CancelOrder(submission.OrderID, personalSign(makerKey, cancelMsg))).Should(Succeed())
			Expect(next[protocol.OrderCancelled](conn).OrderID).Should(Equal(submission.OrderID))
			Expect(statusOf(submission.OrderID)).Should(Equal(store.Cancelled))

			By("Ignoring picks of the cancelled order")
			conn.send(protocol.OrderPicked{OrderID: submission.OrderID, Resolver: resolver})
			Consistently(func() store.Status { return statusOf(submission.OrderID) }, 200*time.Millisecond).Should(Equal(store.Cancelled))
		})

		It("should release a failed pick and offer the order again", func() {
			conn := connectResolver(server.URL, resolverKey, 1, 2)
			defer conn.close()
			submission, err := client.SubmitOrder(o, sig)
			Expect(err).Should(BeNil())
			next[protocol.NewOrder](conn)

			conn.send(protocol.OrderPicked{OrderID: submission.OrderID, Resolver: resolver, EstimatedGas: 185000})
			Eventually(func() store.Status { return statusOf(submission.OrderID) }).Should(Equal(store.Picked))

			conn.send(protocol.OrderExecutionFailed{OrderID: submission.OrderID, Error: "out of gas"})
			Expect(next[protocol.NewOrder](conn).OrderID).Should(Equal(submission.OrderID))
			view, err := client.Order(submission.OrderID)
			Expect(err).Should(BeNil())
			Expect(view.Order.Status).Should(Equal(store.Pending))
			Expect(view.Order.Error).Should(Equal("out of gas"))
		})

		It("should mark orders filled on chain as executed", func() {
			submission, err := client.SubmitOrder(o, sig)
			Expect(err).Should(BeNil())

			receipt, err := src.Client(resolver).ExecuteOrder(context.Background(), o, sig, chain.TxOpts{})
			Expect(err).Should(BeNil())

			Eventually(func() store.Status { return statusOf(submission.OrderID) }).Should(Equal(store.Executed))
			view, err := client.Order(submission.OrderID)
			Expect(err).Should(BeNil())
			Expect(view.Order.Resolver).Should(Equal(resolver.Hex()))
			Expect(view.Order.TxHash).Should(Equal(receipt.TxHash.Hex()))
			Expect(view.Order.EscrowAddress).Should(Equal(receipt.Escrow.Hex()))
			Expect(view.Chain.Status).Should(Equal("filled"))
			Expect(view.Chain.Source).ShouldNot(BeNil())
			Expect(view.Chain.Source.Status).Should(Equal("locked"))
		})

		It("should follow the chain when a cancelled order is filled anyway", func() {
			conn := connectResolver(server.URL, resolverKey, 1, 2)
			defer conn.close()
			submission, err := client.SubmitOrder(o, sig)
			Expect(err).Should(BeNil())
			next[protocol.NewOrder](conn)

			By("Cancelling it in the orderbook only")
			Expect(client.CancelOrder(submission.OrderID, personalSign(makerKey, coordinator.CancelMessage(submission.OrderHash)))).Should(Succeed())
			next[protocol.OrderCancelled](conn)

			By("Filling it on chain with another resolver")
			otherKey, err := crypto.GenerateKey()
			Expect(err).Should(BeNil())
			other := crypto.PubkeyToAddress(otherKey.PublicKey)
			Expect(src.Authorize(other, true)).Should(Succeed())
			Expect(dst.Authorize(other, true)).Should(Succeed())
			dst.Mint(takerAsset, other, big.NewInt(1000))
			otherConn := connectResolver(server.URL, otherKey, 1, 2)
			defer otherConn.close()

			_, err = src.Client(other).ExecuteOrder(context.Background(), o, sig, chain.TxOpts{})
			Expect(err).Should(BeNil())
			_, err = dst.Client(other).DeployDestinationEscrow(context.Background(), o, o.MinTakerAmount(), chain.TxOpts{})
			Expect(err).Should(BeNil())

			Eventually(func() store.Status { return statusOf(submission.OrderID) }).Should(Equal(store.Executed))
			view, err := client.Order(submission.OrderID)
			Expect(err).Should(BeNil())
			Expect(view.Order.Resolver).Should(Equal(other.Hex()))

			By("Relaying the secret to the resolver that filled it")
			Expect(client.SubmitSecret(submission.OrderID, secret, personalSign(makerKey, coordinator.ReleaseMessage(submission.OrderHash)))).Should(Succeed())
			msg := next[protocol.SecretAvailable](otherConn)
			Expect(msg.OrderID).Should(Equal(submission.OrderID))
			Expect([]byte(msg.Secret)).Should(Equal(secret))
			never[protocol.SecretAvailable](conn)
		})

		It("should withhold the secret while only the destination escrow is locked", func() {
			conn := connectResolver(server.URL, resolverKey, 1, 2)
			defer conn.close()
			submission, err := client.SubmitOrder(o, sig)
			Expect(err).Should(BeNil())
			next[protocol.NewOrder](conn)

			_, err = dst.Client(resolver).DeployDestinationEscrow(context.Background(), o, o.MinTakerAmount(), chain.TxOpts{})
			Expect(err).Should(BeNil())

			err = client.SubmitSecret(submission.OrderID, secret, personalSign(makerKey, coordinator.ReleaseMessage(submission.OrderHash)))
			Expect(statusCode(err)).Should(Equal(http.StatusPreconditionFailed))
			Expect(err.Error()).Should(ContainSubstring("source escrow is"))
			never[protocol.SecretAvailable](conn)
		})

		It("should mark orders cancelled on chain as cancelled", func() {
			submission, err := client.SubmitOrder(o, sig)
			Expect(err).Should(BeNil())
			_, err = src.Client(maker).CancelOrder(context.Background(), o)
			Expect(err).Should(BeNil())
			Eventually(func() store.Status { return statusOf(submission.OrderID) }).Should(Equal(store.Cancelled))
		})
	})

	Context("secret relay", func() {
		var (
			conn       *resolverConn
			submission coordinator.Submission
			release    []byte
		)

		BeforeEach(func() {
			conn = connectResolver(server.URL, resolverKey, 1, 2)
			var err error
			submission, err = client.SubmitOrder(o, sig)
			Expect(err).Should(BeNil())
			next[protocol.NewOrder](conn)
			release = personalSign(makerKey, coordinator.ReleaseMessage(submission.OrderHash))

			_, err = src.Client(resolver).ExecuteOrder(context.Background(), o, sig, chain.TxOpts{})
			Expect(err).Should(BeNil())
			Eventually(func() store.Status { return statusOf(submission.OrderID) }).Should(Equal(store.Executed))
		})

		AfterEach(func() {
			conn.close()
		})

		It("should withhold the secret until the destination escrow is locked", func() {
			err := client.SubmitSecret(submission.OrderID, secret, release)
			Expect(statusCode(err)).Should(Equal(http.StatusPreconditionFailed))
			Expect(err.Error()).Should(ContainSubstring("not locked"))

			By("Locking the destination escrow")
			_, err = dst.Client(resolver).DeployDestinationEscrow(context.Background(), o, o.MinTakerAmount(), chain.TxOpts{})
			Expect(err).Should(BeNil())

			Expect(client.SubmitSecret(submission.OrderID, secret, release)).Should(Succeed())
			msg := next[protocol.SecretAvailable](conn)
			Expect(msg.OrderID).Should(Equal(submission.OrderID))
			Expect([]byte(msg.Secret)).Should(Equal(secret))

			By("Redelivering the secret when the resolver reconnects")
			conn.close()
			conn = connectResolver(server.URL, resolverKey, 1, 2)
			Expect([]byte(next[protocol.SecretAvailable](conn).Secret)).Should(Equal(secret))
		})

		It("should withhold the secret once the destination withdraw window closed", func() {
			_, err := dst.Client(resolver).DeployDestinationEscrow(context.Background(), o, o.MinTakerAmount(), chain.TxOpts{})
			Expect(err).Should(BeNil())
			dst.Advance(2 * time.Hour)

			err = client.SubmitSecret(submission.OrderID, secret, release)
			Expect(statusCode(err)).Should(Equal(http.StatusPreconditionFailed))
		})

		DescribeTable("should withhold the secret from a destination escrow that does not match the order",
			func(mutate func(p *escrow.Params), reason string) {
				now := dst.Now()
				p := escrow.Params{
					OrderHash:       order.Hash(o),
					Side:            escrow.Destination,
					Depositor:       resolver,
					Beneficiary:     maker,
					Asset:           takerAsset,
					Amount:          o.MinTakerAmount(),
					SecretHash:      o.SecretHash,
					TimeoutWithdraw: now + contract.DefaultTimelocks.DstWithdrawal,
					TimeoutCancel:   now + contract.DefaultTimelocks.DstCancellation,
				}
				mutate(&p)
				_, err := dst.Contract().Factory().Create(dst.Contract().Address(), p)
				Expect(err).Should(BeNil())

				err = client.SubmitSecret(submission.OrderID, secret, release)
				Expect(statusCode(err)).Should(Equal(http.StatusPreconditionFailed))
				Expect(err.Error()).Should(ContainSubstring(coordinator.ErrEscrowMismatch.Error()))
				Expect(err.Error()).Should(ContainSubstring(reason))
				never[protocol.SecretAvailable](conn)
			},
			Entry("with a smaller amount", func(p *escrow.Params) {
				p.Amount = big.NewInt(50)
			}, "destination amount"),
			Entry("with another asset", func(p *escrow.Params) {
				p.Asset = common.HexToAddress("0xcccc")
				dst.Mint(p.Asset, resolver, big.NewInt(1000))
			}, "destination asset"),
			Entry("paying someone else", func(p *escrow.Params) {
				p.Beneficiary = resolver
			}, "destination beneficiary"),
			Entry("with a withdraw deadline after the source one", func(p *escrow.Params) {
				srcDeadline := src.Contract().Factory().Get(order.Hash(o)).TimeoutWithdraw
				p.TimeoutWithdraw = srcDeadline + 60
				p.TimeoutCancel = srcDeadline + 120
			}, "destination withdraw deadline"),
		)

		It("should reject wrong secrets and signatures", func() {
			_, err := dst.Client(resolver).DeployDestinationEscrow(context.Background(), o, o.MinTakerAmount(), chain.TxOpts{})
			Expect(err).Should(BeNil())

			err = client.SubmitSecret(submission.OrderID, []byte("not the secret"), release)
			Expect(statusCode(err)).Should(Equal(http.StatusBadRequest))

			err = client.SubmitSecret(submission.OrderID, secret, personalSign(resolverKey, coordinator.ReleaseMessage(submission.OrderHash)))
			Expect(statusCode(err)).Should(Equal(http.StatusForbidden))

			err = client.SubmitSecret("missing", secret, release)
			Expect(statusCode(err)).Should(Equal(http.StatusBadRequest))
		})

		It("should record a secret revealed by a withdrawal", func() {
			_, err := dst.Client(resolver).DeployDestinationEscrow(context.Background(), o, o.MinTakerAmount(), chain.TxOpts{})
			Expect(err).Should(BeNil())
			_, err = dst.Client(maker).Withdraw(context.Background(), order.Hash(o), secret)
			Expect(err).Should(BeNil())

			Expect([]byte(next[protocol.SecretAvailable](conn).Secret)).Should(Equal(secret))
		})
	})

	Context("http", func() {
		It("should refuse websocket connections without a token", func() {
			wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
			_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
			Expect(err).ShouldNot(BeNil())
			Expect(resp.StatusCode).Should(Equal(http.StatusUnauthorized))
		})

		It("should refuse websocket connections of unauthorized resolvers", func() {
			key, err := crypto.GenerateKey()
			Expect(err).Should(BeNil())
			stranger := rest.NewClient(server.URL, key)
			token, err := stranger.Login()
			Expect(err).Should(BeNil())
			Expect(stranger.SetJwt(token)).Should(Succeed())

			_, err = stranger.Dial(context.Background())
			Expect(err).ShouldNot(BeNil())
			Expect(err.Error()).Should(ContainSubstring("403"))
		})

		It("should refuse malformed sign-in messages", func() {
			resp, err := http.Post(server.URL+"/verify", "application/json", strings.NewReader(`{"message":"garbage","signature":"0x00"}`))
			Expect(err).Should(BeNil())
			Expect(resp.StatusCode).Should(Equal(http.StatusForbidden))
			resp.Body.Close()
		})

		It("should report health and metrics", func() {
			_, err := client.SubmitOrder(o, sig)
			Expect(err).Should(BeNil())

			Eventually(func() int64 {
				health, err := client.Health()
				if err != nil || !health.Healthy {
					return -1
				}
				return health.Orders[store.Pending]
			}).Should(Equal(int64(1)))

			resp, err := http.Get(server.URL + "/metrics")
			Expect(err).Should(BeNil())
			defer resp.Body.Close()
			body, err := io.ReadAll(resp.Body)
			Expect(err).Should(BeNil())
			Expect(string(body)).Should(ContainSubstring("xswap_orders_submitted_total 1"))
		})

		It("should rate limit order submissions", func() {
			limited := httptest.NewServer(coordinator.NewServer(zap.NewNop(), coord, coordinator.NewAuth("secret", st), 0.001, 1).Handler())
			defer limited.Close()

			post := func() int {
				resp, err := http.Post(limited.URL+"/orders", "application/json", strings.NewReader(`{}`))
				Expect(err).Should(BeNil())
				resp.Body.Close()
				return resp.StatusCode
			}
			Expect(post()).Should(Equal(http.StatusBadRequest))
			Expect(post()).Should(Equal(http.StatusTooManyRequests))
		})

		It("should only track the most recent clients", func() {
			server := coordinator.NewServer(zap.NewNop(), coord, coordinator.NewAuth("secret", st), 0.001, 1)
			Expect(server.SetSubmitClients(0)).ShouldNot(Succeed())
			Expect(server.SetSubmitClients(1)).Should(Succeed())
			limited := httptest.NewServer(server.Handler())
			defer limited.Close()

			post := func(ip string) int {
				req, err := http.NewRequest(http.MethodPost, limited.URL+"/orders", strings.NewReader(`{}`))
				Expect(err).Should(BeNil())
				req.Header.Set("Content-Type", "application/json")
				req.Header.Set("X-Forwarded-For", ip)
				resp, err := http.DefaultClient.Do(req)
				Expect(err).Should(BeNil())
				resp.Body.Close()
				return resp.StatusCode
			}
			Expect(post("10.0.0.1")).Should(Equal(http.StatusBadRequest))
			Expect(post("10.0.0.1")).Should(Equal(http.StatusTooManyRequests))

			By("Forgetting the first client once another one shows up")
			Expect(post("10.0.0.2")).Should(Equal(http.StatusBadRequest))
			Expect(post("10.0.0.1")).Should(Equal(http.StatusBadRequest))
		})

		It("should count orders as of the request", func() {
			slow, err := coordinator.New(zap.NewNop(), st, []chain.Reader{src.Client(owner), dst.Client(owner)}, nil, coordinator.Options{
				HealthInterval: time.Hour,
			})
			Expect(err).Should(BeNil())
			slowCtx, slowCancel := context.WithCancel(context.Background())
			slowDone := make(chan struct{})
			go func() {
				defer GinkgoRecover()
				defer close(slowDone)
				Expect(slow.Run(slowCtx)).Should(Succeed())
			}()
			defer func() {
				slowCancel()
				Eventually(slowDone).Should(BeClosed())
			}()

			Eventually(func() bool { return slow.Health().Healthy }).Should(BeTrue())
			checkedAt := slow.Health().CheckedAt
			Expect(slow.Health().Orders[store.Pending]).Should(BeZero())

			_, err = slow.SubmitOrder(context.Background(), o, sig)
			Expect(err).Should(BeNil())
			health := slow.Health()
			Expect(health.Orders[store.Pending]).Should(Equal(int64(1)))
			Expect(health.CheckedAt).Should(Equal(checkedAt))
		})
	})
})
