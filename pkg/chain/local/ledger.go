package local

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Ledger keeps token balances per asset and owner.
type Ledger struct {
	mu       sync.RWMutex
	balances map[common.Address]map[common.Address]*big.Int
}

func NewLedger() *Ledger {
	return &Ledger{balances: map[common.Address]map[common.Address]*big.Int{}}
}

// Mint credits amount of asset to owner.
func (l *Ledger) Mint(asset, owner common.Address, amount *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.add(asset, owner, amount)
}

func (l *Ledger) BalanceOf(asset, owner common.Address) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if balance, ok := l.balances[asset][owner]; ok {
		return new(big.Int).Set(balance)
	}
	return big.NewInt(0)
}

func (l *Ledger) Transfer(asset, from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("invalid transfer amount %v", amount)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	balance := l.balances[asset][from]
	if balance == nil || balance.Cmp(amount) < 0 {
		return fmt.Errorf("balance of %v is %v, need %v", from.Hex(), balance, amount)
	}
	l.add(asset, from, new(big.Int).Neg(amount))
	l.add(asset, to, amount)
	return nil
}

func (l *Ledger) add(asset, owner common.Address, amount *big.Int) {
	accounts, ok := l.balances[asset]
	if !ok {
		accounts = map[common.Address]*big.Int{}
		l.balances[asset] = accounts
	}
	balance, ok := accounts[owner]
	if !ok {
		balance = big.NewInt(0)
	}
	accounts[owner] = new(big.Int).Add(balance, amount)
}
