package rest_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"

	"github.com/catalogfi/xswap/pkg/rest"
	"github.com/catalogfi/xswap/pkg/store"
	"github.com/ethereum/go-ethereum/common"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Client", func() {
	var (
		server   *httptest.Server
		requests chan *http.Request
	)

	BeforeEach(func() {
		requests = make(chan *http.Request, 8)
		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requests <- r
			w.Header().Set("Content-Type", "application/json")
			switch r.URL.Path {
			case "/orders":
				w.Write([]byte(`[{"OrderID":"abc","Status":"pending"}]`))
			case "/health":
				w.WriteHeader(http.StatusServiceUnavailable)
				w.Write([]byte(`{"healthy":false}`))
			default:
				w.WriteHeader(http.StatusConflict)
				w.Write([]byte(`{"error":"order already executed or cancelled"}`))
			}
		}))
	})

	AfterEach(func() {
		server.Close()
	})

	It("should encode the order filter and send the token", func() {
		client := rest.NewClient(server.URL+"/", nil)
		Expect(client.SetJwt("token")).Should(Succeed())

		maker := common.HexToAddress("0xabcdef")
		orders, err := client.Orders(rest.Filter{Maker: maker, Status: store.Pending})
		Expect(err).Should(BeNil())
		Expect(orders).Should(HaveLen(1))
		Expect(orders[0].OrderID).Should(Equal("abc"))

		var req *http.Request
		Eventually(requests).Should(Receive(&req))
		Expect(req.URL.Query().Get("maker")).Should(Equal(maker.Hex()))
		Expect(req.URL.Query().Get("status")).Should(Equal("pending"))
		Expect(req.Header.Get("Authorization")).Should(Equal("token"))
	})

	It("should return coordinator errors with their status", func() {
		client := rest.NewClient(server.URL, nil)
		err := client.CancelOrder("abc", []byte{1})

		var restErr *rest.Error
		Expect(errors.As(err, &restErr)).Should(BeTrue())
		Expect(restErr.Status).Should(Equal(http.StatusConflict))
		Expect(restErr.Message).Should(Equal("order already executed or cancelled"))

		_, err = client.Health()
		Expect(errors.As(err, &restErr)).Should(BeTrue())
		Expect(restErr.Message).Should(Equal(http.StatusText(http.StatusServiceUnavailable)))
	})

	It("should refuse to log in or dial without credentials", func() {
		client := rest.NewClient(server.URL, nil)
		_, err := client.Login()
		Expect(err).ShouldNot(BeNil())
		_, err = client.Dial(context.Background())
		Expect(err).ShouldNot(BeNil())
		Expect(client.SetJwt("")).ShouldNot(Succeed())
	})
})
