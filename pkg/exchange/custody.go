package exchange

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Custody is the token-transfer authority backing the ledger. Deposits pair a
// TransferIn with a ledger credit of identical magnitude; withdrawals pair a
// ledger debit with a TransferOut. The exchange brackets ledger mutations with
// these calls and issues a compensating transfer when one leg fails.
type Custody interface {
	TransferIn(from common.Address, asset string, amount int64) error
	TransferOut(asset string, amount int64, to common.Address) error
}

// InMemoryVault is a process-local custody double: per-identity wallets plus
// one pooled balance per asset. Used by the devnet node and the test suite.
type InMemoryVault struct {
	mu      sync.Mutex
	wallets map[common.Address]map[string]int64
	pool    map[string]int64
}

func NewInMemoryVault() *InMemoryVault {
	return &InMemoryVault{
		wallets: make(map[common.Address]map[string]int64),
		pool:    make(map[string]int64),
	}
}

// Mint credits an identity's external wallet. Test and devnet setup only.
func (v *InMemoryVault) Mint(to common.Address, asset string, amount int64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.wallet(to)[asset] += amount
}

func (v *InMemoryVault) wallet(addr common.Address) map[string]int64 {
	w, ok := v.wallets[addr]
	if !ok {
		w = make(map[string]int64)
		v.wallets[addr] = w
	}
	return w
}

func (v *InMemoryVault) TransferIn(from common.Address, asset string, amount int64) error {
	if amount < 0 {
		return fmt.Errorf("negative transfer in: %d %s", amount, asset)
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	w := v.wallet(from)
	if w[asset] < amount {
		return fmt.Errorf("wallet %s has %d %s, need %d", from.Hex(), w[asset], asset, amount)
	}
	w[asset] -= amount
	v.pool[asset] += amount
	return nil
}

func (v *InMemoryVault) TransferOut(asset string, amount int64, to common.Address) error {
	if amount < 0 {
		return fmt.Errorf("negative transfer out: %d %s", amount, asset)
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.pool[asset] < amount {
		return fmt.Errorf("pool has %d %s, need %d", v.pool[asset], asset, amount)
	}
	v.pool[asset] -= amount
	v.wallet(to)[asset] += amount
	return nil
}

// WalletBalance reports an identity's external wallet balance for an asset.
func (v *InMemoryVault) WalletBalance(addr common.Address, asset string) int64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.wallet(addr)[asset]
}

// PoolBalance reports the pooled custody balance for an asset.
func (v *InMemoryVault) PoolBalance(asset string) int64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.pool[asset]
}
