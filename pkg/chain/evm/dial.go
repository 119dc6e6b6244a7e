package evm

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/catalogfi/xswap/pkg/config"
	"github.com/catalogfi/xswap/pkg/util"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"
)

// Dial connects to a configured evm chain. A nil key gives a read only client.
func Dial(logger *zap.Logger, cfg config.Chain, key *ecdsa.PrivateKey) (*Client, error) {
	if cfg.Kind != config.KindEVM {
		return nil, fmt.Errorf("chain %v: kind %q cannot be dialed", cfg.ID, cfg.Kind)
	}
	addr, err := util.ParseAddress(cfg.Contract)
	if err != nil {
		return nil, fmt.Errorf("chain %v: %w", cfg.ID, err)
	}
	options := NewOptions(cfg.ID, addr).WithStartBlock(cfg.StartBlock)
	name, version := options.DomainName, options.DomainVersion
	if cfg.DomainName != "" {
		name = cfg.DomainName
	}
	if cfg.DomainVersion != "" {
		version = cfg.DomainVersion
	}
	options = options.WithDomain(name, version)

	client, err := ethclient.Dial(cfg.RPC)
	if err != nil {
		return nil, fmt.Errorf("chain %v: %w", cfg.ID, err)
	}
	return New(logger, options, client, key)
}
