package coordinator

import (
	"context"
	"net/http"
	"time"

	"github.com/catalogfi/xswap/pkg/fault"
	"github.com/catalogfi/xswap/pkg/order"
	"github.com/catalogfi/xswap/pkg/store"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	lru "github.com/hashicorp/golang-lru"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type SubmitRequest struct {
	Order     order.Order   `json:"order"`
	Signature hexutil.Bytes `json:"signature"`
}

type SecretRequest struct {
	Secret    hexutil.Bytes `json:"secret"`
	Signature hexutil.Bytes `json:"signature"`
}

type CancelRequest struct {
	Signature hexutil.Bytes `json:"signature"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type Server struct {
	router      *gin.Engine
	logger      *zap.Logger
	coordinator *Coordinator
	auth        *Auth
	baseCtx     context.Context

	submitRate  rate.Limit
	submitBurst int
	limiters    *lru.Cache
}

// DefaultSubmitClients is the number of client IPs whose submission limiters
// are kept. The least recently seen client is dropped first.
const DefaultSubmitClients = 4096

// NewServer builds the HTTP API. submitRate is the number of order
// submissions allowed per second and client IP, zero disables the limit.
func NewServer(logger *zap.Logger, coordinator *Coordinator, auth *Auth, submitRate float64, submitBurst int) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	config := cors.DefaultConfig()
	config.AllowAllOrigins = true
	config.AllowHeaders = append(config.AllowHeaders, "Authorization")
	router.Use(cors.New(config))

	if submitBurst <= 0 {
		submitBurst = 1
	}
	// lru.New only fails for a non-positive size.
	limiters, _ := lru.New(DefaultSubmitClients)
	s := &Server{
		router:      router,
		logger:      logger,
		coordinator: coordinator,
		auth:        auth,
		baseCtx:     context.Background(),
		submitRate:  rate.Limit(submitRate),
		submitBurst: submitBurst,
		limiters:    limiters,
	}

	router.POST("/orders", s.limit(), s.submitOrder())
	router.GET("/orders", s.orders())
	router.GET("/orders/:id", s.order())
	router.POST("/orders/:id/secret", s.submitSecret())
	router.POST("/orders/:id/cancel", s.cancelOrder())
	router.GET("/health", s.health())
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(coordinator.metrics.registry, promhttp.HandlerOpts{})))
	router.GET("/nonce", s.nonce())
	router.POST("/verify", s.verify())
	router.GET("/ws", auth.Authenticate, s.socket())
	return s
}

// SetSubmitClients bounds the number of client IPs tracked by the submission
// rate limit. Call it before serving.
func (s *Server) SetSubmitClients(size int) error {
	limiters, err := lru.New(size)
	if err != nil {
		return err
	}
	s.limiters = limiters
	return nil
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on addr until ctx is done.
func (s *Server) Run(ctx context.Context, addr string) error {
	s.baseCtx = ctx
	service := &http.Server{
		Addr:    addr,
		Handler: s.router,
	}

	errs := make(chan error, 1)
	go func() {
		if err := service.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errs <- err
		}
		close(errs)
	}()
	s.logger.Info("listening", zap.String("addr", addr))

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return service.Shutdown(shutdownCtx)
}

func (s *Server) fail(c *gin.Context, err error) {
	status := fault.HTTPStatus(err)
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		s.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func (s *Server) limit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.submitRate <= 0 {
			c.Next()
			return
		}
		ip := c.ClientIP()
		limiter := rate.NewLimiter(s.submitRate, s.submitBurst)
		if previous, ok, _ := s.limiters.PeekOrAdd(ip, limiter); ok {
			limiter = previous.(*rate.Limiter)
			s.limiters.Get(ip)
		}

		if !limiter.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
			return
		}
		c.Next()
	}
}

func (s *Server) submitOrder() gin.HandlerFunc {
	return func(c *gin.Context) {
		req := SubmitRequest{}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		submission, err := s.coordinator.SubmitOrder(c.Request.Context(), req.Order, req.Signature)
		if err != nil {
			s.fail(c, err)
			return
		}
		c.JSON(http.StatusCreated, submission)
	}
}

func (s *Server) orders() gin.HandlerFunc {
	return func(c *gin.Context) {
		filter := store.Filter{Status: store.Status(c.Query("status"))}
		if maker := c.Query("maker"); maker != "" {
			if !common.IsHexAddress(maker) {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid maker address"})
				return
			}
			filter.Maker = common.HexToAddress(maker)
		}
		switch filter.Status {
		case "", store.Pending, store.Picked, store.Executed, store.Cancelled:
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status"})
			return
		}

		records, err := s.coordinator.Orders(filter)
		if err != nil {
			s.fail(c, err)
			return
		}
		for i := range records {
			records[i].Secret = ""
		}
		c.JSON(http.StatusOK, records)
	}
}

func (s *Server) order() gin.HandlerFunc {
	return func(c *gin.Context) {
		view, err := s.coordinator.OrderView(c.Request.Context(), c.Param("id"))
		if err != nil {
			s.fail(c, err)
			return
		}
		view.Order.Secret = ""
		c.JSON(http.StatusOK, view)
	}
}

func (s *Server) submitSecret() gin.HandlerFunc {
	return func(c *gin.Context) {
		req := SecretRequest{}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := s.coordinator.SubmitSecret(c.Request.Context(), c.Param("id"), req.Secret, req.Signature); err != nil {
			s.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"released": true})
	}
}

func (s *Server) cancelOrder() gin.HandlerFunc {
	return func(c *gin.Context) {
		req := CancelRequest{}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := s.coordinator.CancelOrder(c.Param("id"), req.Signature); err != nil {
			s.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"cancelled": true})
	}
}

func (s *Server) health() gin.HandlerFunc {
	return func(c *gin.Context) {
		health := s.coordinator.Health()
		status := http.StatusOK
		if !health.Healthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, health)
	}
}

func (s *Server) nonce() gin.HandlerFunc {
	return func(c *gin.Context) {
		nonce, err := s.auth.Nonce()
		if err != nil {
			s.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"nonce": nonce})
	}
}

func (s *Server) verify() gin.HandlerFunc {
	return func(c *gin.Context) {
		req := VerifySiwe{}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		token, err := s.auth.Verify(req)
		if err != nil {
			s.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"token": token})
	}
}

// socket upgrades an authenticated resolver that is authorized on at least
// one chain.
func (s *Server) socket() gin.HandlerFunc {
	return func(c *gin.Context) {
		resolver := c.MustGet(resolverKey).(common.Address)
		authorized, err := s.coordinator.IsResolver(c.Request.Context(), resolver)
		if err != nil {
			s.fail(c, err)
			return
		}
		if !authorized {
			c.JSON(http.StatusForbidden, gin.H{"error": "not an authorized resolver"})
			return
		}

		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			s.logger.Debug("upgrade", zap.Error(err))
			return
		}
		s.coordinator.hub.Serve(s.baseCtx, ws, resolver)
	}
}
