package evm

import (
	"time"

	"github.com/catalogfi/xswap/pkg/order"
	"github.com/ethereum/go-ethereum/common"
)

type Options struct {
	ChainID       uint64
	Contract      common.Address
	DomainName    string
	DomainVersion string

	// StartBlock is where watching starts. Zero means the latest block.
	StartBlock   uint64
	BlockStep    uint64
	PollInterval time.Duration
	CallTimeout  time.Duration
	MineTimeout  time.Duration
}

func NewOptions(chainID uint64, contract common.Address) Options {
	return Options{
		ChainID:       chainID,
		Contract:      contract,
		DomainName:    order.DefaultDomainName,
		DomainVersion: order.DefaultDomainVersion,
		BlockStep:     500,
		PollInterval:  5 * time.Second,
		CallTimeout:   15 * time.Second,
		MineTimeout:   3 * time.Minute,
	}
}

func (opts Options) WithDomain(name, version string) Options {
	opts.DomainName = name
	opts.DomainVersion = version
	return opts
}

func (opts Options) WithStartBlock(block uint64) Options {
	opts.StartBlock = block
	return opts
}

func (opts Options) WithBlockStep(step uint64) Options {
	opts.BlockStep = step
	return opts
}

func (opts Options) WithPollInterval(interval time.Duration) Options {
	opts.PollInterval = interval
	return opts
}

func (opts Options) WithCallTimeout(timeout time.Duration) Options {
	opts.CallTimeout = timeout
	return opts
}

func (opts Options) Domain() order.Domain {
	return order.Domain{
		Name:              opts.DomainName,
		Version:           opts.DomainVersion,
		ChainID:           opts.ChainID,
		VerifyingContract: opts.Contract,
	}
}
