package local

import (
	"context"
	"fmt"
	"math/big"

	"github.com/catalogfi/xswap/pkg/chain"
	"github.com/catalogfi/xswap/pkg/contract"
	"github.com/catalogfi/xswap/pkg/escrow"
	"github.com/catalogfi/xswap/pkg/fault"
	"github.com/catalogfi/xswap/pkg/order"
	"github.com/ethereum/go-ethereum/common"
)

var ErrOutOfGas = fault.New(fault.Validation, "out of gas")

// Client implements chain.Client for one account of a local chain.
type Client struct {
	chain *Chain
	from  common.Address
}

var _ chain.Client = (*Client)(nil)

func (client *Client) Address() common.Address { return client.from }

func (client *Client) ChainID() uint64 { return client.chain.id }

func (client *Client) Domain() order.Domain { return client.chain.contract.Domain() }

func (client *Client) ValidateOrderConditions(ctx context.Context, o order.Order) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return client.chain.contract.ValidateOrderConditions(o)
}

func (client *Client) ValidateOrderSignature(ctx context.Context, o order.Order, sig []byte) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return client.chain.contract.ValidateOrderSignature(o, sig), nil
}

func (client *Client) IsResolver(ctx context.Context, addr common.Address) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return client.chain.contract.IsResolver(addr), nil
}

func (client *Client) OrderStatus(ctx context.Context, orderHash common.Hash) (contract.Status, error) {
	if err := ctx.Err(); err != nil {
		return contract.None, err
	}
	return client.chain.contract.GetOrderStatus(orderHash), nil
}

func (client *Client) Escrow(ctx context.Context, orderHash common.Hash) (*escrow.Escrow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return client.chain.contract.Factory().Get(orderHash), nil
}

func (client *Client) GasPrice(ctx context.Context) (*big.Int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return client.chain.GasPrice(), nil
}

func (client *Client) LatestTime(ctx context.Context) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return client.chain.Now(), nil
}

func (client *Client) Watch(ctx context.Context, sink chan<- chain.Event) error {
	return client.chain.Watch(ctx, sink)
}

// EstimateExecute runs the execution checks without changing state, the way
// gas estimation reverts for a transaction that would fail.
func (client *Client) EstimateExecute(ctx context.Context, o order.Order, sig []byte) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	c := client.chain.contract
	if !c.IsResolver(client.from) {
		return 0, contract.ErrUnauthorizedResolver
	}
	if !c.ValidateOrderSignature(o, sig) {
		return 0, contract.ErrInvalidSignature
	}
	if err := c.ValidateOrderConditions(o); err != nil {
		return 0, err
	}
	switch c.GetOrderStatus(order.Hash(o)) {
	case contract.Filled:
		return 0, contract.ErrOrderAlreadyFilled
	case contract.Cancelled:
		return 0, contract.ErrOrderAlreadyCancelled
	}
	return ExecuteGas, nil
}

func (client *Client) ExecuteOrder(ctx context.Context, o order.Order, sig []byte, opts chain.TxOpts) (*chain.Receipt, error) {
	if err := client.checkTx(ctx, ExecuteGas, opts); err != nil {
		return nil, err
	}
	return client.chain.transact(client.from, ExecuteGas, func() error {
		_, err := client.chain.contract.ExecuteOrder(client.from, o, sig, client.from)
		return err
	})
}

func (client *Client) DeployDestinationEscrow(ctx context.Context, o order.Order, amount *big.Int, opts chain.TxOpts) (*chain.Receipt, error) {
	if err := client.checkTx(ctx, DeployGas, opts); err != nil {
		return nil, err
	}
	return client.chain.transact(client.from, DeployGas, func() error {
		_, err := client.chain.contract.DeployDestinationEscrow(client.from, o, amount)
		return err
	})
}

func (client *Client) CancelOrder(ctx context.Context, o order.Order) (*chain.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return client.chain.transact(client.from, CancelOrderGas, func() error {
		return client.chain.contract.CancelOrder(client.from, o)
	})
}

func (client *Client) Withdraw(ctx context.Context, orderHash common.Hash, secret []byte) (*chain.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return client.chain.transact(client.from, WithdrawGas, func() error {
		_, err := client.chain.contract.Factory().Withdraw(orderHash, secret)
		return err
	})
}

func (client *Client) Cancel(ctx context.Context, orderHash common.Hash) (*chain.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return client.chain.transact(client.from, CancelGas, func() error {
		_, err := client.chain.contract.Factory().Cancel(orderHash)
		return err
	})
}

func (client *Client) checkTx(ctx context.Context, gas uint64, opts chain.TxOpts) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if opts.GasLimit != 0 && opts.GasLimit < gas {
		return fmt.Errorf("%w: limit %v, need %v", ErrOutOfGas, opts.GasLimit, gas)
	}
	return nil
}
