// Package evm talks to a deployed order execution contract over JSON-RPC.
package evm

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/catalogfi/xswap/pkg/chain"
	"github.com/catalogfi/xswap/pkg/contract"
	"github.com/catalogfi/xswap/pkg/escrow"
	"github.com/catalogfi/xswap/pkg/fault"
	"github.com/catalogfi/xswap/pkg/order"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"
)

var (
	ErrReadOnly = fault.New(fault.Authorization, "client has no signing key")
	ErrReverted = fault.New(fault.Transient, "transaction reverted")
)

// Client is a chain.Client backed by an Ethereum node.
type Client struct {
	options  Options
	client   *ethclient.Client
	contract *bind.BoundContract
	logger   *zap.Logger

	key  *ecdsa.PrivateKey
	addr common.Address

	mu    sync.Mutex
	nonce uint64
}

var _ chain.Client = (*Client)(nil)

// New connects the client to the contract. Without a key the client is read
// only and every transaction fails with ErrReadOnly.
func New(logger *zap.Logger, options Options, client *ethclient.Client, key *ecdsa.PrivateKey) (*Client, error) {
	ctx, cancel := context.WithTimeout(context.Background(), options.CallTimeout)
	defer cancel()

	// Make sure the chain ID matches our expectation, so we know we are on the right chain.
	chainID, err := client.ChainID(ctx)
	if err != nil {
		return nil, err
	}
	if chainID.Uint64() != options.ChainID {
		return nil, fmt.Errorf("wrong chain ID, expect %v, got %v", options.ChainID, chainID)
	}

	c := &Client{
		options:  options,
		client:   client,
		contract: bind.NewBoundContract(options.Contract, parsedABI, client, client, client),
		logger:   logger.With(zap.Uint64("chain", options.ChainID)),
		key:      key,
	}
	if key != nil {
		c.addr = crypto.PubkeyToAddress(key.PublicKey)
		// Get the pending nonce, and we'll manually manage the nonce with the client.
		c.nonce, err = client.PendingNonceAt(ctx, c.addr)
		if err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Client) Address() common.Address { return c.addr }

func (c *Client) ChainID() uint64 { return c.options.ChainID }

func (c *Client) Domain() order.Domain { return c.options.Domain() }

func (c *Client) ValidateOrderConditions(ctx context.Context, o order.Order) error {
	if o.SourceChain != c.options.ChainID {
		return fmt.Errorf("%w: %w: source chain %v", contract.ErrOrderConditionsNotMet, contract.ErrWrongChain, o.SourceChain)
	}
	var ok bool
	if err := c.call(ctx, &ok, "validateOrderConditions", toTuple(o)); err != nil {
		return err
	}
	if ok {
		return nil
	}

	// The contract only reports a boolean, tell the deadline apart from the predicate here.
	now, err := c.LatestTime(ctx)
	if err == nil && now > o.Deadline {
		return fmt.Errorf("%w: %w", contract.ErrOrderConditionsNotMet, order.ErrOrderExpired)
	}
	return fmt.Errorf("%w: %w", contract.ErrOrderConditionsNotMet, order.ErrPredicateFailed)
}

func (c *Client) ValidateOrderSignature(ctx context.Context, o order.Order, sig []byte) (bool, error) {
	var ok bool
	err := c.call(ctx, &ok, "validateOrderSignature", toTuple(o), sig)
	return ok, err
}

func (c *Client) IsResolver(ctx context.Context, addr common.Address) (bool, error) {
	var ok bool
	err := c.call(ctx, &ok, "isResolver", addr)
	return ok, err
}

func (c *Client) OrderStatus(ctx context.Context, orderHash common.Hash) (contract.Status, error) {
	var status uint8
	if err := c.call(ctx, &status, "getOrderStatus", orderHash); err != nil {
		return contract.None, err
	}
	return contract.Status(status), nil
}

func (c *Client) Escrow(ctx context.Context, orderHash common.Hash) (*escrow.Escrow, error) {
	var tuple escrowTuple
	if err := c.call(ctx, &tuple, "getEscrow", orderHash); err != nil {
		return nil, err
	}
	return tuple.toEscrow(c.options.ChainID, orderHash), nil
}

func (c *Client) GasPrice(ctx context.Context) (*big.Int, error) {
	ctx, cancel := context.WithTimeout(ctx, c.options.CallTimeout)
	defer cancel()
	return c.client.SuggestGasPrice(ctx)
}

func (c *Client) LatestTime(ctx context.Context) (uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.options.CallTimeout)
	defer cancel()
	header, err := c.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return 0, err
	}
	return header.Time, nil
}

func (c *Client) EstimateExecute(ctx context.Context, o order.Order, sig []byte) (uint64, error) {
	data, err := parsedABI.Pack("executeOrder", toTuple(o), sig, c.addr)
	if err != nil {
		return 0, err
	}
	ctx, cancel := context.WithTimeout(ctx, c.options.CallTimeout)
	defer cancel()
	to := c.options.Contract
	return c.client.EstimateGas(ctx, ethereum.CallMsg{From: c.addr, To: &to, Data: data})
}

func (c *Client) ExecuteOrder(ctx context.Context, o order.Order, sig []byte, opts chain.TxOpts) (*chain.Receipt, error) {
	return c.transact(ctx, opts, "executeOrder", toTuple(o), sig, c.addr)
}

func (c *Client) DeployDestinationEscrow(ctx context.Context, o order.Order, amount *big.Int, opts chain.TxOpts) (*chain.Receipt, error) {
	return c.transact(ctx, opts, "deployDestinationEscrow", toTuple(o), amount)
}

func (c *Client) CancelOrder(ctx context.Context, o order.Order) (*chain.Receipt, error) {
	return c.transact(ctx, chain.TxOpts{}, "cancelOrder", toTuple(o))
}

func (c *Client) Withdraw(ctx context.Context, orderHash common.Hash, secret []byte) (*chain.Receipt, error) {
	return c.transact(ctx, chain.TxOpts{}, "withdraw", orderHash, secret)
}

func (c *Client) Cancel(ctx context.Context, orderHash common.Hash) (*chain.Receipt, error) {
	return c.transact(ctx, chain.TxOpts{}, "cancel", orderHash)
}

// Watch polls the contract logs in windows of BlockStep blocks.
func (c *Client) Watch(ctx context.Context, sink chan<- chain.Event) error {
	next := c.options.StartBlock
	if next == 0 {
		latest, err := c.blockNumber(ctx)
		if err != nil {
			return err
		}
		next = latest
	}
	step := c.options.BlockStep
	if step == 0 {
		step = 500
	}

	ticker := time.NewTicker(c.options.PollInterval)
	defer ticker.Stop()
	for {
		latest, err := c.blockNumber(ctx)
		if err != nil {
			c.logger.Warn("failed to get latest block", zap.Error(err))
		}
		for err == nil && next <= latest {
			end := next + step - 1
			if end > latest {
				end = latest
			}
			var logs []types.Log
			logs, err = c.filterLogs(ctx, next, end)
			if err != nil {
				c.logger.Warn("failed to filter logs", zap.Uint64("from", next), zap.Uint64("to", end), zap.Error(err))
				break
			}
			for _, log := range logs {
				evt, ok, decodeErr := c.decodeLog(log)
				if decodeErr != nil {
					c.logger.Error("failed to decode log", zap.String("tx", log.TxHash.Hex()), zap.Error(decodeErr))
					continue
				}
				if !ok {
					continue
				}
				select {
				case sink <- evt:
				case <-ctx.Done():
					return nil
				}
			}
			next = end + 1
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil
		}
	}
}

func (c *Client) blockNumber(ctx context.Context) (uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.options.CallTimeout)
	defer cancel()
	return c.client.BlockNumber(ctx)
}

func (c *Client) filterLogs(ctx context.Context, from, to uint64) ([]types.Log, error) {
	ctx, cancel := context.WithTimeout(ctx, c.options.CallTimeout)
	defer cancel()
	return c.client.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{c.options.Contract},
	})
}

func (c *Client) call(ctx context.Context, result interface{}, method string, params ...interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, c.options.CallTimeout)
	defer cancel()

	var out []interface{}
	if err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, method, params...); err != nil {
		return fmt.Errorf("%v: %w", method, err)
	}
	if len(out) == 0 {
		return fmt.Errorf("%v: empty result", method)
	}
	converted := abi.ConvertType(out[0], result)
	if converted == nil {
		return fmt.Errorf("%v: unexpected result type %T", method, out[0])
	}
	return nil
}

func (c *Client) transact(ctx context.Context, opts chain.TxOpts, method string, params ...interface{}) (*chain.Receipt, error) {
	if c.key == nil {
		return nil, ErrReadOnly
	}
	tx, err := c.send(ctx, opts, method, params...)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.options.MineTimeout)
	defer cancel()
	receipt, err := bind.WaitMined(ctx, c.client, tx)
	if err != nil {
		return nil, fmt.Errorf("%v: waiting for %v: %w", method, tx.Hash().Hex(), err)
	}
	// Check if transaction has been reverted
	if receipt.Status == types.ReceiptStatusFailed {
		return nil, fmt.Errorf("%w: %v, hash = %v", ErrReverted, method, receipt.TxHash.Hex())
	}

	out := &chain.Receipt{
		TxHash:  receipt.TxHash,
		Block:   receipt.BlockNumber.Uint64(),
		GasUsed: receipt.GasUsed,
	}
	for _, log := range receipt.Logs {
		evt, ok, err := c.decodeLog(*log)
		if err != nil || !ok {
			continue
		}
		if evt.Kind == chain.OrderFilled || evt.Kind == chain.DstEscrowDeployed {
			out.Escrow = evt.Escrow
		}
	}
	return out, nil
}

func (c *Client) send(ctx context.Context, opts chain.TxOpts, method string, params ...interface{}) (*types.Transaction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, c.options.CallTimeout)
	defer cancel()
	transactor, err := bind.NewKeyedTransactorWithChainID(c.key, new(big.Int).SetUint64(c.options.ChainID))
	if err != nil {
		return nil, err
	}
	transactor.Nonce = new(big.Int).SetUint64(c.nonce)
	transactor.Context = ctx
	transactor.GasLimit = opts.GasLimit
	if opts.GasPrice != nil {
		transactor.GasPrice = opts.GasPrice
	}

	tx, err := c.contract.Transact(transactor, method, params...)
	if err != nil {
		if strings.Contains(err.Error(), "nonce too low") {
			if inErr := c.calibrateNonce(); inErr != nil {
				return nil, fmt.Errorf("%v failed = %v, reset nonce failed = %v", method, err, inErr)
			}
		}
		return nil, err
	}
	c.nonce++
	return tx, nil
}

func (c *Client) calibrateNonce() error {
	ctx, cancel := context.WithTimeout(context.Background(), c.options.CallTimeout)
	defer cancel()

	nonce, err := c.client.PendingNonceAt(ctx, c.addr)
	if err != nil {
		return err
	}
	c.nonce = nonce
	return nil
}

// decodeLog turns a contract log into a chain event. Logs of other events are
// reported with ok false.
func (c *Client) decodeLog(log types.Log) (chain.Event, bool, error) {
	return decodeLog(c.contract, c.options.ChainID, log)
}

func decodeLog(bc *bind.BoundContract, chainID uint64, log types.Log) (chain.Event, bool, error) {
	if len(log.Topics) == 0 {
		return chain.Event{}, false, nil
	}
	evt := chain.Event{ChainID: chainID, Block: log.BlockNumber, TxHash: log.TxHash}
	switch log.Topics[0] {
	case parsedABI.Events["OrderFilled"].ID:
		var out logOrderFilled
		if err := bc.UnpackLog(&out, "OrderFilled", log); err != nil {
			return evt, false, err
		}
		evt.Kind = chain.OrderFilled
		evt.OrderHash = out.OrderHash
		evt.Resolver = out.Resolver
		evt.Escrow = out.Escrow
	case parsedABI.Events["OrderCancelled"].ID:
		var out logOrderCancelled
		if err := bc.UnpackLog(&out, "OrderCancelled", log); err != nil {
			return evt, false, err
		}
		evt.Kind = chain.OrderCancelled
		evt.OrderHash = out.OrderHash
	case parsedABI.Events["DstEscrowDeployed"].ID:
		var out logDstEscrowDeployed
		if err := bc.UnpackLog(&out, "DstEscrowDeployed", log); err != nil {
			return evt, false, err
		}
		evt.Kind = chain.DstEscrowDeployed
		evt.OrderHash = out.OrderHash
		evt.Resolver = out.Resolver
		evt.Escrow = out.Escrow
		evt.Amount = out.Amount
	case parsedABI.Events["EscrowCreated"].ID:
		var out logEscrowCreated
		if err := bc.UnpackLog(&out, "EscrowCreated", log); err != nil {
			return evt, false, err
		}
		evt.Kind = chain.EscrowCreated
		evt.OrderHash = out.OrderHash
		evt.Escrow = out.Escrow
		evt.Amount = out.Amount
	case parsedABI.Events["EscrowWithdrawn"].ID:
		var out logEscrowWithdrawn
		if err := bc.UnpackLog(&out, "EscrowWithdrawn", log); err != nil {
			return evt, false, err
		}
		evt.Kind = chain.EscrowWithdrawn
		evt.OrderHash = out.OrderHash
		evt.Escrow = out.Escrow
		evt.Secret = out.Secret
	case parsedABI.Events["EscrowCancelled"].ID:
		var out logEscrowCancelled
		if err := bc.UnpackLog(&out, "EscrowCancelled", log); err != nil {
			return evt, false, err
		}
		evt.Kind = chain.EscrowCancelled
		evt.OrderHash = out.OrderHash
		evt.Escrow = out.Escrow
	default:
		return evt, false, nil
	}
	return evt, true, nil
}
