package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/catalogfi/xswap/pkg/protocol"
	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	sendBuffer = 256
)

// Hub keeps one websocket connection per authenticated resolver. Each
// connection has its own writer goroutine; messages read from resolvers are
// handed to the coordinator loop.
type Hub struct {
	logger  *zap.Logger
	inbound chan<- Inbound
	metrics *metrics

	mu    sync.RWMutex
	conns map[string]*conn
}

type conn struct {
	resolver string
	ws       *websocket.Conn
	send     chan []byte
	done     chan struct{}
	once     sync.Once

	mu   sync.RWMutex
	caps *protocol.Capabilities
}

func (c *conn) close() {
	c.once.Do(func() { close(c.done) })
}

func (c *conn) supports(source, destination uint64) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.caps != nil && c.caps.Supports(source, destination)
}

func newHub(logger *zap.Logger, inbound chan<- Inbound, metrics *metrics) *Hub {
	return &Hub{
		logger:  logger,
		inbound: inbound,
		metrics: metrics,
		conns:   map[string]*conn{},
	}
}

// Serve runs a resolver connection until it fails or ctx is done. A newer
// connection of the same resolver replaces the older one.
func (h *Hub) Serve(ctx context.Context, ws *websocket.Conn, resolver common.Address) {
	c := &conn{
		resolver: resolver.Hex(),
		ws:       ws,
		send:     make(chan []byte, sendBuffer),
		done:     make(chan struct{}),
	}
	logger := h.logger.With(zap.String("resolver", c.resolver))

	h.mu.Lock()
	if old, ok := h.conns[c.resolver]; ok {
		logger.Info("replacing resolver connection")
		old.close()
	}
	h.conns[c.resolver] = c
	h.metrics.resolvers.Set(float64(len(h.conns)))
	h.mu.Unlock()
	logger.Info("resolver connected")

	defer func() {
		h.mu.Lock()
		if h.conns[c.resolver] == c {
			delete(h.conns, c.resolver)
		}
		h.metrics.resolvers.Set(float64(len(h.conns)))
		h.mu.Unlock()
		c.close()
		logger.Info("resolver disconnected")
	}()

	go h.write(ctx, c, logger)
	h.read(ctx, c, logger)
}

func (h *Hub) read(ctx context.Context, c *conn, logger *zap.Logger) {
	// Unblocks ReadMessage when the connection is replaced or closed.
	go func() {
		select {
		case <-c.done:
		case <-ctx.Done():
		}
		c.ws.Close()
	}()

	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug("read", zap.Error(err))
			}
			return
		}
		msg, err := protocol.Decode(data)
		if err != nil {
			logger.Warn("undecodable message", zap.Error(err))
			continue
		}
		if sub, ok := msg.(protocol.SubscribeResolver); ok {
			if sub.Resolver.Hex() != c.resolver {
				logger.Warn("subscription for another resolver", zap.Stringer("subscribed", sub.Resolver))
				continue
			}
			caps := sub.Capabilities
			c.mu.Lock()
			c.caps = &caps
			c.mu.Unlock()
			logger.Info("resolver subscribed", zap.Uint64s("chains", caps.Chains))
		}

		select {
		case h.inbound <- Inbound{Resolver: c.resolver, Message: msg}:
		case <-c.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (h *Hub) write(ctx context.Context, c *conn, logger *zap.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case data := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				logger.Debug("write", zap.Error(err))
				c.close()
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				logger.Debug("ping", zap.Error(err))
				c.close()
				return
			}
		case <-c.done:
			c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		case <-ctx.Done():
			c.close()
			return
		}
	}
}

func (c *conn) enqueue(data []byte) bool {
	select {
	case c.send <- data:
		return true
	case <-c.done:
		return false
	default:
		// A resolver that cannot keep up is dropped, it resyncs on reconnect.
		c.close()
		return false
	}
}

// Send queues msg for one resolver and reports whether it is connected.
func (h *Hub) Send(resolver string, msg protocol.Message) bool {
	c := h.conn(resolver)
	if c == nil {
		return false
	}
	data, err := protocol.Encode(msg)
	if err != nil {
		h.logger.Error("encode message", zap.String("type", string(msg.Type())), zap.Error(err))
		return false
	}
	return c.enqueue(data)
}

// SendFor sends msg to resolver if it serves both chains.
func (h *Hub) SendFor(resolver string, msg protocol.Message, source, destination uint64) bool {
	c := h.conn(resolver)
	if c == nil || !c.supports(source, destination) {
		return false
	}
	return h.Send(resolver, msg)
}

// Broadcast sends msg to every subscribed resolver serving both chains and
// returns how many were reached.
func (h *Hub) Broadcast(msg protocol.Message, source, destination uint64) int {
	data, err := protocol.Encode(msg)
	if err != nil {
		h.logger.Error("encode message", zap.String("type", string(msg.Type())), zap.Error(err))
		return 0
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	sent := 0
	for _, c := range h.conns {
		if c.supports(source, destination) && c.enqueue(data) {
			sent++
		}
	}
	return sent
}

// Connected returns the number of connected resolvers.
func (h *Hub) Connected() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Close disconnects every resolver.
func (h *Hub) Close() {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.conns {
		c.close()
	}
}

func (h *Hub) conn(resolver string) *conn {
	if !common.IsHexAddress(resolver) {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.conns[common.HexToAddress(resolver).Hex()]
}
