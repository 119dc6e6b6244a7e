// Package contract implements the order execution contract: it verifies
// signed orders, lets authorized resolvers fill them by locking the maker's
// funds in a source escrow, and deploys the resolver's destination escrows.
package contract

import (
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/catalogfi/xswap/pkg/escrow"
	"github.com/catalogfi/xswap/pkg/events"
	"github.com/catalogfi/xswap/pkg/order"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Status is the on-chain state of an order.
type Status uint8

const (
	None Status = iota
	Filled
	Cancelled
)

func (s Status) String() string {
	switch s {
	case None:
		return "none"
	case Filled:
		return "filled"
	case Cancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// InteractionFunc is called with the order and its resolver before an
// execution changes any state. An error aborts the execution. It runs without
// the contract lock, so it may call back into the contract; the order stays
// closed to other executions and cancellations meanwhile.
type InteractionFunc func(orderHash common.Hash, o order.Order, resolver common.Address) error

// Contract is the order execution contract of one chain.
type Contract struct {
	address   common.Address
	chainID   uint64
	owner     common.Address
	domain    order.Domain
	timelocks Timelocks
	factory   *escrow.Factory

	evaluator   order.Evaluator
	interaction InteractionFunc
	emitter     events.Emitter
	nowFn       func() uint64
	blockFn     func() uint64

	mu        sync.Mutex
	statuses  map[common.Hash]Status
	escrows   map[common.Hash]common.Address
	resolvers map[common.Address]bool
	executing map[common.Hash]bool
}

// New deploys a contract at address. The escrow factory it owns lives at the
// address the contract's first CREATE would produce.
func New(address common.Address, chainID uint64, owner common.Address, ledger escrow.Ledger, timelocks Timelocks) (*Contract, error) {
	if err := timelocks.Validate(); err != nil {
		return nil, err
	}
	c := &Contract{
		address:   address,
		chainID:   chainID,
		owner:     owner,
		domain:    order.NewDomain(chainID, address),
		timelocks: timelocks,
		factory:   escrow.NewFactory(crypto.CreateAddress(address, 1), chainID, address, ledger),
		evaluator: order.ClauseEvaluator{},
		emitter:   events.NoopEmitter{},
		nowFn:     func() uint64 { return uint64(time.Now().Unix()) },
		blockFn:   func() uint64 { return 0 },
		statuses:  map[common.Hash]Status{},
		escrows:   map[common.Hash]common.Address{},
		resolvers: map[common.Address]bool{},
		executing: map[common.Hash]bool{},
	}
	return c, nil
}

// SetEmitter routes the events of the contract and its escrow factory.
func (c *Contract) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	c.emitter = emitter
	c.factory.SetEmitter(emitter)
}

// SetNowFunc overrides the clock of the contract and its escrow factory.
func (c *Contract) SetNowFunc(now func() uint64) {
	if now == nil {
		now = func() uint64 { return uint64(time.Now().Unix()) }
	}
	c.nowFn = now
	c.factory.SetNowFunc(now)
}

func (c *Contract) SetBlockFunc(block func() uint64) {
	if block == nil {
		block = func() uint64 { return 0 }
	}
	c.blockFn = block
}

func (c *Contract) SetEvaluator(evaluator order.Evaluator) {
	if evaluator == nil {
		evaluator = order.ClauseEvaluator{}
	}
	c.evaluator = evaluator
}

func (c *Contract) SetInteraction(fn InteractionFunc) {
	c.interaction = fn
}

func (c *Contract) Address() common.Address { return c.address }

func (c *Contract) ChainID() uint64 { return c.chainID }

func (c *Contract) Owner() common.Address { return c.owner }

func (c *Contract) Domain() order.Domain { return c.domain }

func (c *Contract) Timelocks() Timelocks { return c.timelocks }

func (c *Contract) Factory() *escrow.Factory { return c.factory }

// GetOrderHash returns the domain independent order hash.
func (c *Contract) GetOrderHash(o order.Order) common.Hash {
	return order.Hash(o)
}

// ValidateOrderSignature reports whether sig was produced by the order's maker
// over this contract's domain.
func (c *Contract) ValidateOrderSignature(o order.Order, sig []byte) bool {
	return order.VerifySignature(o, c.domain, sig)
}

// ValidateOrderConditions returns nil when the order can be executed on this
// chain right now. Failures wrap ErrOrderConditionsNotMet and the precise
// cause.
func (c *Contract) ValidateOrderConditions(o order.Order) error {
	if o.SourceChain != c.chainID {
		return fmt.Errorf("%w: %w: source chain %v", ErrOrderConditionsNotMet, ErrWrongChain, o.SourceChain)
	}
	env := order.Env{Now: c.nowFn(), Block: c.blockFn(), ChainID: c.chainID}
	if err := order.ValidateConditionsWith(o, env, c.evaluator); err != nil {
		return fmt.Errorf("%w: %w", ErrOrderConditionsNotMet, err)
	}
	return nil
}

// ExecuteOrder fills the order for taker, locking the maker's funds in the
// order's source escrow. Only one execution per order can succeed; a zero
// taker defaults to the calling resolver.
func (c *Contract) ExecuteOrder(caller common.Address, o order.Order, sig []byte, taker common.Address) (common.Address, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.resolvers[caller] {
		return common.Address{}, ErrUnauthorizedResolver
	}
	if !c.ValidateOrderSignature(o, sig) {
		return common.Address{}, ErrInvalidSignature
	}
	if err := c.ValidateOrderConditions(o); err != nil {
		return common.Address{}, err
	}
	orderHash := order.Hash(o)
	if err := c.checkOpen(orderHash); err != nil {
		return common.Address{}, err
	}
	if taker == (common.Address{}) {
		taker = caller
	}
	if c.interaction != nil {
		if err := c.interact(orderHash, o, caller); err != nil {
			return common.Address{}, fmt.Errorf("interaction failed: %w", err)
		}
		if err := c.checkOpen(orderHash); err != nil {
			return common.Address{}, err
		}
	}

	now := c.nowFn()
	esc, err := c.factory.Create(c.address, escrow.Params{
		OrderHash:       orderHash,
		Side:            escrow.Source,
		Depositor:       o.Maker,
		Beneficiary:     taker,
		Asset:           o.MakerAsset,
		Amount:          o.MakerAmount,
		SecretHash:      o.SecretHash,
		TimeoutWithdraw: now + c.timelocks.SrcWithdrawal,
		TimeoutCancel:   now + c.timelocks.SrcCancellation,
	})
	if err != nil {
		return common.Address{}, err
	}

	c.statuses[orderHash] = Filled
	c.escrows[orderHash] = esc.Address
	c.emitter.Emit(OrderFilled{
		ChainID:   c.chainID,
		OrderHash: orderHash,
		Resolver:  caller,
		Taker:     taker,
		Escrow:    esc.Address,
	})
	return esc.Address, nil
}

// DeployDestinationEscrow locks amount of the order's taker asset from the
// calling resolver for the maker. The amount may be below TakerAmount by at
// most the order's slippage.
func (c *Contract) DeployDestinationEscrow(caller common.Address, o order.Order, amount *big.Int) (common.Address, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.resolvers[caller] {
		return common.Address{}, ErrUnauthorizedResolver
	}
	if o.DestinationChain != c.chainID {
		return common.Address{}, fmt.Errorf("%w: destination chain %v", ErrWrongChain, o.DestinationChain)
	}
	now := c.nowFn()
	if now > o.Deadline {
		return common.Address{}, fmt.Errorf("%w: %w", ErrOrderConditionsNotMet, order.ErrOrderExpired)
	}
	if minAmount := o.MinTakerAmount(); amount == nil || amount.Cmp(minAmount) < 0 {
		return common.Address{}, fmt.Errorf("%w: %v below %v", ErrInsufficientAmount, amount, minAmount)
	}

	orderHash := order.Hash(o)
	esc, err := c.factory.Create(c.address, escrow.Params{
		OrderHash:       orderHash,
		Side:            escrow.Destination,
		Depositor:       caller,
		Beneficiary:     o.Maker,
		Asset:           o.TakerAsset,
		Amount:          amount,
		SecretHash:      o.SecretHash,
		TimeoutWithdraw: now + c.timelocks.DstWithdrawal,
		TimeoutCancel:   now + c.timelocks.DstCancellation,
	})
	if err != nil {
		return common.Address{}, err
	}

	c.escrows[orderHash] = esc.Address
	c.emitter.Emit(DstEscrowDeployed{
		ChainID:   c.chainID,
		OrderHash: orderHash,
		Resolver:  caller,
		Escrow:    esc.Address,
		Amount:    new(big.Int).Set(amount),
	})
	return esc.Address, nil
}

// CancelOrder lets the maker withdraw an order that has not been filled.
func (c *Contract) CancelOrder(caller common.Address, o order.Order) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if caller != o.Maker {
		return ErrNotMaker
	}
	orderHash := order.Hash(o)
	if err := c.checkOpen(orderHash); err != nil {
		return err
	}
	c.statuses[orderHash] = Cancelled
	c.emitter.Emit(OrderCancelled{
		ChainID:   c.chainID,
		OrderHash: orderHash,
		Maker:     o.Maker,
	})
	return nil
}

// SetResolverAuthorization adds or removes a resolver. Owner only.
func (c *Contract) SetResolverAuthorization(caller, resolver common.Address, authorized bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if caller != c.owner {
		return ErrNotOwner
	}
	if authorized {
		c.resolvers[resolver] = true
	} else {
		delete(c.resolvers, resolver)
	}
	c.emitter.Emit(ResolverAuthorized{
		ChainID:    c.chainID,
		Resolver:   resolver,
		Authorized: authorized,
	})
	return nil
}

func (c *Contract) IsResolver(addr common.Address) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resolvers[addr]
}

func (c *Contract) GetOrderStatus(orderHash common.Hash) Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statuses[orderHash]
}

// GetOrderEscrow returns the escrow locked for the order on this chain, or
// the zero address.
func (c *Contract) GetOrderEscrow(orderHash common.Hash) common.Address {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.escrows[orderHash]
}

// interact runs the interaction hook with c.mu released. c.mu must be held
// and is held again on return.
func (c *Contract) interact(orderHash common.Hash, o order.Order, caller common.Address) error {
	c.executing[orderHash] = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.executing, orderHash)
	}()
	return c.interaction(orderHash, o, caller)
}

func (c *Contract) checkOpen(orderHash common.Hash) error {
	if c.executing[orderHash] {
		return ErrOrderBeingExecuted
	}
	switch c.statuses[orderHash] {
	case Filled:
		return ErrOrderAlreadyFilled
	case Cancelled:
		return ErrOrderAlreadyCancelled
	}
	return nil
}
