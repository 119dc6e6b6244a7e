// Package local runs the order execution contract and its escrows in process.
// Transactions are applied one at a time, each in its own block, and their
// events are published to watchers in order. The clock only moves when told
// to, which makes timeouts easy to test.
package local

import (
	"context"
	"encoding/binary"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/catalogfi/xswap/pkg/chain"
	"github.com/catalogfi/xswap/pkg/contract"
	"github.com/catalogfi/xswap/pkg/events"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/event"
)

// Gas charged per transaction type.
const (
	ExecuteGas     uint64 = 185_000
	DeployGas      uint64 = 140_000
	WithdrawGas    uint64 = 65_000
	CancelGas      uint64 = 48_000
	CancelOrderGas uint64 = 40_000
	AuthorizeGas   uint64 = 30_000
)

// DefaultGasPrice is 1 gwei.
var DefaultGasPrice = big.NewInt(1_000_000_000)

// Chain is an in-process ledger.
type Chain struct {
	id       uint64
	owner    common.Address
	ledger   *Ledger
	contract *contract.Contract

	clock    atomic.Uint64
	block    atomic.Uint64
	gasPrice atomic.Pointer[big.Int]

	txMu    sync.Mutex
	nonce   uint64
	history []chain.Event
	feed    event.Feed

	pendingMu sync.Mutex
	pending   []events.Event
}

// New starts a chain whose contract is owned by owner. The clock starts at
// the current wall time.
func New(chainID uint64, owner common.Address, timelocks contract.Timelocks) (*Chain, error) {
	ledger := NewLedger()
	addr := crypto.CreateAddress(owner, chainID)
	c, err := contract.New(addr, chainID, owner, ledger, timelocks)
	if err != nil {
		return nil, err
	}

	ch := &Chain{
		id:       chainID,
		owner:    owner,
		ledger:   ledger,
		contract: c,
	}
	ch.clock.Store(uint64(time.Now().Unix()))
	ch.gasPrice.Store(DefaultGasPrice)
	c.SetNowFunc(ch.Now)
	c.SetBlockFunc(ch.Block)
	c.SetEmitter(events.EmitterFunc(func(evt events.Event) {
		ch.pendingMu.Lock()
		defer ch.pendingMu.Unlock()
		ch.pending = append(ch.pending, evt)
	}))
	return ch, nil
}

func (ch *Chain) ID() uint64 { return ch.id }

func (ch *Chain) Owner() common.Address { return ch.owner }

func (ch *Chain) Ledger() *Ledger { return ch.ledger }

// Contract gives direct access to the contract state. Writes must go through
// a Client so that they are serialized and published.
func (ch *Chain) Contract() *contract.Contract { return ch.contract }

// Now returns the chain time in unix seconds.
func (ch *Chain) Now() uint64 { return ch.clock.Load() }

// Block returns the latest block number.
func (ch *Chain) Block() uint64 { return ch.block.Load() }

func (ch *Chain) SetTime(unix uint64) { ch.clock.Store(unix) }

// Advance moves the clock forward.
func (ch *Chain) Advance(d time.Duration) {
	ch.clock.Add(uint64(d / time.Second))
}

func (ch *Chain) GasPrice() *big.Int { return new(big.Int).Set(ch.gasPrice.Load()) }

func (ch *Chain) SetGasPrice(price *big.Int) { ch.gasPrice.Store(new(big.Int).Set(price)) }

func (ch *Chain) Mint(asset, owner common.Address, amount *big.Int) {
	ch.ledger.Mint(asset, owner, amount)
}

func (ch *Chain) BalanceOf(asset, owner common.Address) *big.Int {
	return ch.ledger.BalanceOf(asset, owner)
}

// Authorize adds a resolver to the allow-list as the contract owner.
func (ch *Chain) Authorize(resolver common.Address, authorized bool) error {
	_, err := ch.transact(ch.owner, AuthorizeGas, func() error {
		return ch.contract.SetResolverAuthorization(ch.owner, resolver, authorized)
	})
	return err
}

// Client returns a client sending transactions from addr.
func (ch *Chain) Client(addr common.Address) *Client {
	return &Client{chain: ch, from: addr}
}

// Events returns every event published so far.
func (ch *Chain) Events() []chain.Event {
	ch.txMu.Lock()
	defer ch.txMu.Unlock()
	return append([]chain.Event(nil), ch.history...)
}

// Watch replays the chain's past events and then follows new ones until ctx
// is done.
func (ch *Chain) Watch(ctx context.Context, sink chan<- chain.Event) error {
	logs := make(chan chain.Event, 1024)
	ch.txMu.Lock()
	backlog := append([]chain.Event(nil), ch.history...)
	sub := ch.feed.Subscribe(logs)
	ch.txMu.Unlock()
	defer sub.Unsubscribe()

	for _, evt := range backlog {
		select {
		case sink <- evt:
		case <-ctx.Done():
			return nil
		}
	}
	for {
		select {
		case evt := <-logs:
			select {
			case sink <- evt:
			case <-ctx.Done():
				return nil
			}
		case err := <-sub.Err():
			return err
		case <-ctx.Done():
			return nil
		}
	}
}

// transact applies fn as one transaction in a new block. Events emitted by a
// failed transaction are discarded.
func (ch *Chain) transact(from common.Address, gas uint64, fn func() error) (*chain.Receipt, error) {
	ch.txMu.Lock()
	defer ch.txMu.Unlock()

	err := fn()
	ch.pendingMu.Lock()
	emitted := ch.pending
	ch.pending = nil
	ch.pendingMu.Unlock()
	if err != nil {
		return nil, err
	}

	block := ch.block.Add(1)
	ch.nonce++
	buf := make([]byte, 16)
	binary.BigEndian.PutUint64(buf[:8], ch.id)
	binary.BigEndian.PutUint64(buf[8:], ch.nonce)
	txHash := crypto.Keccak256Hash(buf, from.Bytes())

	receipt := &chain.Receipt{TxHash: txHash, Block: block, GasUsed: gas}
	for _, evt := range emitted {
		out, ok := chain.FromEvent(evt, block, txHash)
		if !ok {
			continue
		}
		if out.Kind == chain.OrderFilled || out.Kind == chain.DstEscrowDeployed {
			receipt.Escrow = out.Escrow
		}
		ch.history = append(ch.history, out)
		ch.feed.Send(out)
	}
	return receipt, nil
}
