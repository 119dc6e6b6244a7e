package escrow

import (
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/catalogfi/xswap/pkg/events"
	"github.com/catalogfi/xswap/pkg/order"
	"github.com/ethereum/go-ethereum/common"
)

// DefaultRescueDelay is how long after creation a depositor may sweep tokens
// that are not part of a locked swap.
const DefaultRescueDelay = 30 * 24 * time.Hour

// Ledger moves assets between accounts of one chain.
type Ledger interface {
	BalanceOf(asset, owner common.Address) *big.Int
	Transfer(asset, from, to common.Address, amount *big.Int) error
}

// Factory creates and settles the escrows of one chain. It is keyed by order
// hash, so each order has at most one escrow per chain.
type Factory struct {
	address     common.Address
	chainID     uint64
	creator     common.Address
	ledger      Ledger
	emitter     events.Emitter
	nowFn       func() uint64
	rescueDelay uint64

	mu      sync.RWMutex
	escrows map[common.Hash]*Escrow
}

// NewFactory returns a factory at the given address that only accepts escrow
// creation from creator.
func NewFactory(address common.Address, chainID uint64, creator common.Address, ledger Ledger) *Factory {
	return &Factory{
		address:     address,
		chainID:     chainID,
		creator:     creator,
		ledger:      ledger,
		emitter:     events.NoopEmitter{},
		nowFn:       func() uint64 { return uint64(time.Now().Unix()) },
		rescueDelay: uint64(DefaultRescueDelay / time.Second),
		escrows:     map[common.Hash]*Escrow{},
	}
}

// SetEmitter configures the event sink. Passing nil drops events.
func (f *Factory) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	f.emitter = emitter
}

// SetNowFunc overrides the clock, mostly for tests.
func (f *Factory) SetNowFunc(now func() uint64) {
	if now == nil {
		now = func() uint64 { return uint64(time.Now().Unix()) }
	}
	f.nowFn = now
}

// SetRescueDelay overrides DefaultRescueDelay.
func (f *Factory) SetRescueDelay(delay time.Duration) {
	f.rescueDelay = uint64(delay / time.Second)
}

// SetCreator changes the only address allowed to create escrows.
func (f *Factory) SetCreator(creator common.Address) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creator = creator
}

func (f *Factory) Address() common.Address { return f.address }

func (f *Factory) ChainID() uint64 { return f.chainID }

// AddressOf returns the address an order's escrow has, or would have, on this chain.
func (f *Factory) AddressOf(orderHash common.Hash) common.Address {
	return Address(f.address, orderHash)
}

// Create locks the escrow funds. The depositor's funds move to the escrow
// address in the same step, so a failed transfer leaves nothing behind.
func (f *Factory) Create(caller common.Address, params Params) (*Escrow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if caller != f.creator {
		return nil, ErrNotCreator
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if _, ok := f.escrows[params.OrderHash]; ok {
		return nil, fmt.Errorf("%w: order %v", ErrEscrowExists, params.OrderHash.Hex())
	}

	addr := Address(f.address, params.OrderHash)
	if err := f.ledger.Transfer(params.Asset, params.Depositor, addr, params.Amount); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInsufficientBalance, err)
	}

	esc := &Escrow{
		Address:         addr,
		OrderHash:       params.OrderHash,
		Side:            params.Side,
		ChainID:         f.chainID,
		Depositor:       params.Depositor,
		Beneficiary:     params.Beneficiary,
		Asset:           params.Asset,
		Amount:          new(big.Int).Set(params.Amount),
		SecretHash:      params.SecretHash,
		TimeoutWithdraw: params.TimeoutWithdraw,
		TimeoutCancel:   params.TimeoutCancel,
		CreatedAt:       f.nowFn(),
		Status:          Locked,
	}
	f.escrows[params.OrderHash] = esc
	f.emitter.Emit(EscrowCreated{Escrow: esc.Clone()})
	return esc.Clone(), nil
}

// Withdraw releases the funds to the beneficiary. Anyone holding the secret
// may call it, the beneficiary is fixed at creation.
func (f *Factory) Withdraw(orderHash common.Hash, secret []byte) (*Escrow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	esc, ok := f.escrows[orderHash]
	if !ok {
		return nil, ErrEscrowNotFound
	}
	if esc.Status != Locked {
		return nil, fmt.Errorf("%w: %v", ErrNotLocked, esc.Status)
	}
	if now := f.nowFn(); now >= esc.TimeoutWithdraw {
		return nil, fmt.Errorf("%w: now %v, timeout %v", ErrWithdrawWindowClosed, now, esc.TimeoutWithdraw)
	}
	if order.SecretHash(secret) != esc.SecretHash {
		return nil, ErrInvalidSecret
	}
	if err := f.ledger.Transfer(esc.Asset, esc.Address, esc.Beneficiary, esc.Amount); err != nil {
		return nil, err
	}

	esc.Status = Withdrawn
	esc.Secret = append([]byte(nil), secret...)
	f.emitter.Emit(EscrowWithdrawn{
		ChainID:     f.chainID,
		OrderHash:   orderHash,
		Escrow:      esc.Address,
		Beneficiary: esc.Beneficiary,
		Secret:      append([]byte(nil), secret...),
	})
	return esc.Clone(), nil
}

// Cancel refunds the depositor once the cancel window is open.
func (f *Factory) Cancel(orderHash common.Hash) (*Escrow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	esc, ok := f.escrows[orderHash]
	if !ok {
		return nil, ErrEscrowNotFound
	}
	if esc.Status != Locked {
		return nil, fmt.Errorf("%w: %v", ErrNotLocked, esc.Status)
	}
	if now := f.nowFn(); now < esc.TimeoutCancel {
		return nil, fmt.Errorf("%w: now %v, timeout %v", ErrCancelWindowNotOpen, now, esc.TimeoutCancel)
	}
	if err := f.ledger.Transfer(esc.Asset, esc.Address, esc.Depositor, esc.Amount); err != nil {
		return nil, err
	}

	esc.Status = Cancelled
	f.emitter.Emit(EscrowCancelled{
		ChainID:   f.chainID,
		OrderHash: orderHash,
		Escrow:    esc.Address,
		Depositor: esc.Depositor,
	})
	return esc.Clone(), nil
}

// Rescue returns tokens held at an escrow address to its depositor after the
// rescue delay. The swap amount itself stays untouchable while locked.
func (f *Factory) Rescue(caller common.Address, orderHash common.Hash, asset common.Address, amount *big.Int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	esc, ok := f.escrows[orderHash]
	if !ok {
		return ErrEscrowNotFound
	}
	if caller != esc.Depositor {
		return ErrNotDepositor
	}
	if now := f.nowFn(); now < esc.CreatedAt+f.rescueDelay {
		return fmt.Errorf("%w: rescue opens at %v", ErrRescueLocked, esc.CreatedAt+f.rescueDelay)
	}
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("%w: rescue amount must be positive", ErrInvalidParams)
	}

	available := f.ledger.BalanceOf(asset, esc.Address)
	if esc.Status == Locked && asset == esc.Asset {
		available = new(big.Int).Sub(available, esc.Amount)
	}
	if available.Cmp(amount) < 0 {
		return fmt.Errorf("%w: requested %v, available %v", ErrRescueLocked, amount, available)
	}
	if err := f.ledger.Transfer(asset, esc.Address, esc.Depositor, amount); err != nil {
		return err
	}
	f.emitter.Emit(FundsRescued{
		ChainID:   f.chainID,
		OrderHash: orderHash,
		Escrow:    esc.Address,
		Asset:     asset,
		Amount:    new(big.Int).Set(amount),
	})
	return nil
}

// Get returns a copy of the order's escrow. Unknown orders report Uncreated.
func (f *Factory) Get(orderHash common.Hash) *Escrow {
	f.mu.RLock()
	defer f.mu.RUnlock()

	esc, ok := f.escrows[orderHash]
	if !ok {
		return &Escrow{
			Address:   Address(f.address, orderHash),
			OrderHash: orderHash,
			ChainID:   f.chainID,
			Status:    Uncreated,
		}
	}
	return esc.Clone()
}
