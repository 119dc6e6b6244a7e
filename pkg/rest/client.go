// Package rest is the client of the coordinator's HTTP and websocket API.
package rest

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/catalogfi/xswap/pkg/coordinator"
	"github.com/catalogfi/xswap/pkg/order"
	"github.com/catalogfi/xswap/pkg/store"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gorilla/websocket"
	"github.com/spruceid/siwe-go"
)

// Error is a non 2xx reply of the coordinator.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%d %s", e.Status, e.Message)
}

type Filter struct {
	Maker  common.Address
	Status store.Status
}

type Client interface {
	Login() (string, error)
	SetJwt(token string) error
	SubmitOrder(o order.Order, sig []byte) (coordinator.Submission, error)
	Orders(filter Filter) ([]store.Order, error)
	Order(orderID string) (coordinator.OrderView, error)
	SubmitSecret(orderID string, secret, sig []byte) error
	CancelOrder(orderID string, sig []byte) error
	Health() (coordinator.Health, error)

	// Dial opens the authenticated resolver websocket.
	Dial(ctx context.Context) (*websocket.Conn, error)
}

type client struct {
	url  string
	key  *ecdsa.PrivateKey
	http *http.Client
	jwt  string
}

// NewClient returns a client of the coordinator at url. key signs the
// sign-in message and may be nil for clients that never call Login.
func NewClient(url string, key *ecdsa.PrivateKey) Client {
	return &client{
		url:  strings.TrimSuffix(url, "/"),
		key:  key,
		http: &http.Client{Timeout: 30 * time.Second},
	}
}

// Login signs in with Ethereum and returns a JWT.
func (c *client) Login() (string, error) {
	if c.key == nil {
		return "", fmt.Errorf("login requires a key")
	}
	var nonce struct {
		Nonce string `json:"nonce"`
	}
	if err := c.do(http.MethodGet, "/nonce", nil, &nonce); err != nil {
		return "", fmt.Errorf("failed to get nonce: %w", err)
	}

	base, err := url.Parse(c.url)
	if err != nil {
		return "", err
	}
	address := crypto.PubkeyToAddress(c.key.PublicKey)
	msg, err := siwe.InitMessage(base.Host, address.Hex(), c.url, nonce.Nonce, map[string]interface{}{
		"statement": "Sign in to the xswap coordinator",
	})
	if err != nil {
		return "", err
	}
	text := msg.String()
	sig, err := crypto.Sign(accounts.TextHash([]byte(text)), c.key)
	if err != nil {
		return "", err
	}
	sig[crypto.RecoveryIDOffset] += 27

	var token struct {
		Token string `json:"token"`
	}
	req := coordinator.VerifySiwe{Message: text, Signature: hexutil.Encode(sig)}
	if err := c.do(http.MethodPost, "/verify", req, &token); err != nil {
		return "", fmt.Errorf("failed to verify: %w", err)
	}
	return token.Token, nil
}

func (c *client) SetJwt(token string) error {
	if token == "" {
		return fmt.Errorf("empty token")
	}
	c.jwt = token
	return nil
}

func (c *client) SubmitOrder(o order.Order, sig []byte) (coordinator.Submission, error) {
	var submission coordinator.Submission
	err := c.do(http.MethodPost, "/orders", coordinator.SubmitRequest{Order: o, Signature: sig}, &submission)
	return submission, err
}

func (c *client) Orders(filter Filter) ([]store.Order, error) {
	query := url.Values{}
	if filter.Maker != (common.Address{}) {
		query.Set("maker", filter.Maker.Hex())
	}
	if filter.Status != "" {
		query.Set("status", string(filter.Status))
	}
	path := "/orders"
	if len(query) > 0 {
		path += "?" + query.Encode()
	}
	var orders []store.Order
	err := c.do(http.MethodGet, path, nil, &orders)
	return orders, err
}

func (c *client) Order(orderID string) (coordinator.OrderView, error) {
	var view coordinator.OrderView
	err := c.do(http.MethodGet, "/orders/"+url.PathEscape(orderID), nil, &view)
	return view, err
}

func (c *client) SubmitSecret(orderID string, secret, sig []byte) error {
	req := coordinator.SecretRequest{Secret: secret, Signature: sig}
	return c.do(http.MethodPost, "/orders/"+url.PathEscape(orderID)+"/secret", req, nil)
}

func (c *client) CancelOrder(orderID string, sig []byte) error {
	req := coordinator.CancelRequest{Signature: sig}
	return c.do(http.MethodPost, "/orders/"+url.PathEscape(orderID)+"/cancel", req, nil)
}

func (c *client) Health() (coordinator.Health, error) {
	var health coordinator.Health
	err := c.do(http.MethodGet, "/health", nil, &health)
	return health, err
}

func (c *client) Dial(ctx context.Context) (*websocket.Conn, error) {
	if c.jwt == "" {
		return nil, fmt.Errorf("not logged in")
	}
	wsURL := "ws" + strings.TrimPrefix(c.url, "http") + "/ws"
	header := http.Header{}
	header.Set("Authorization", c.jwt)
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to connect to %v: %w (status %d)", wsURL, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("failed to connect to %v: %w", wsURL, err)
	}
	return conn, nil
}

func (c *client) do(method, path string, body, result interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, c.url+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.jwt != "" {
		req.Header.Set("Authorization", c.jwt)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("error reading reply: %v", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var reply struct {
			Error string `json:"error"`
		}
		if err := json.Unmarshal(data, &reply); err != nil || reply.Error == "" {
			reply.Error = http.StatusText(resp.StatusCode)
		}
		return &Error{Status: resp.StatusCode, Message: reply.Error}
	}
	if result == nil {
		return nil
	}
	return json.Unmarshal(data, result)
}
