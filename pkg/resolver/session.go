package resolver

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/catalogfi/xswap/pkg/protocol"
	"github.com/catalogfi/xswap/pkg/rest"
	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	DefaultMinBackoff = 5 * time.Second
	DefaultMaxBackoff = 5 * time.Minute
)

// Session keeps the resolver connected to the coordinator: it signs in,
// opens the websocket, subscribes and reconnects with a doubling back-off.
type Session struct {
	logger   *zap.Logger
	client   rest.Client
	resolver common.Address
	caps     protocol.Capabilities
	messages chan protocol.Message

	minBackoff time.Duration
	maxBackoff time.Duration

	mu   sync.Mutex
	conn *websocket.Conn
}

func NewSession(logger *zap.Logger, client rest.Client, resolver common.Address, caps protocol.Capabilities) *Session {
	return &Session{
		logger:     logger,
		client:     client,
		resolver:   resolver,
		caps:       caps,
		messages:   make(chan protocol.Message, 128),
		minBackoff: DefaultMinBackoff,
		maxBackoff: DefaultMaxBackoff,
	}
}

func (s *Session) SetBackoff(minimum, maximum time.Duration) {
	s.minBackoff, s.maxBackoff = minimum, maximum
}

// Messages returns the messages received from the coordinator.
func (s *Session) Messages() <-chan protocol.Message {
	return s.messages
}

func (s *Session) Send(msg protocol.Message) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return ErrNotConnected
	}
	s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// Connected reports whether the websocket is open.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// Run keeps the session alive until ctx is done.
func (s *Session) Run(ctx context.Context) error {
	fallback := s.minBackoff
	for {
		received, err := s.serve(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if received {
			fallback = s.minBackoff
		}
		s.logger.Warn("coordinator connection lost", zap.Error(err), zap.Duration("retry", fallback))

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(fallback):
		}
		if fallback < s.maxBackoff {
			fallback = fallback * 2
			if fallback > s.maxBackoff {
				fallback = s.maxBackoff
			}
		}
	}
}

// serve runs one connection and reports whether anything was received on it.
func (s *Session) serve(ctx context.Context) (bool, error) {
	token, err := s.client.Login()
	if err != nil {
		return false, fmt.Errorf("login: %w", err)
	}
	if err := s.client.SetJwt(token); err != nil {
		return false, err
	}
	conn, err := s.client.Dial(ctx)
	if err != nil {
		return false, err
	}

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
		case <-stop:
		}
		conn.Close()
	}()

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.conn = nil
		s.mu.Unlock()
	}()

	if err := s.Send(protocol.SubscribeResolver{Resolver: s.resolver, Capabilities: s.caps}); err != nil {
		return false, fmt.Errorf("subscribe: %w", err)
	}
	s.logger.Info("subscribed to the coordinator", zap.Uint64s("chains", s.caps.Chains))

	received := false
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return received, err
		}
		msg, err := protocol.Decode(data)
		if err != nil {
			s.logger.Warn("undecodable message", zap.Error(err))
			continue
		}
		received = true
		select {
		case s.messages <- msg:
		case <-ctx.Done():
			return received, ctx.Err()
		}
	}
}
