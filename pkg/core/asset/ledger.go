package asset

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/jmkim-dev/tidebook/pkg/core/order"
)

// holding identifies one owner's stake in one token of one collection.
type holding struct {
	Collection common.Address
	TokenID    uint64
	Owner      common.Address
}

// Ledger is the execution substrate's transfer primitive: native wei
// balances per address and semi-fungible asset units per
// (collection, tokenId, owner). The marketplace core consumes it, it
// never reimplements its guarantees.
//
// Thread-safe; mutating marketplace calls are additionally serialized by
// the Exchange facade.
type Ledger struct {
	mu     sync.RWMutex
	native map[common.Address]int64
	units  map[holding]int64
}

func NewLedger() *Ledger {
	return &Ledger{
		native: make(map[common.Address]int64),
		units:  make(map[holding]int64),
	}
}

// Mint credits native funds to an address (bridge-in / genesis).
func (l *Ledger) Mint(addr common.Address, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("mint amount must be positive: %d", amount)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.native[addr] += amount
	return nil
}

// NativeBalance returns an address's native wei balance.
func (l *Ledger) NativeBalance(addr common.Address) int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.native[addr]
}

// Transfer moves native funds between addresses.
// Returns ErrInsufficientFunds if the sender's balance cannot cover it.
func (l *Ledger) Transfer(from, to common.Address, amount int64) error {
	if amount < 0 {
		return fmt.Errorf("transfer amount cannot be negative: %d", amount)
	}
	if amount == 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.native[from] < amount {
		return fmt.Errorf("%w: %s has %d, needs %d",
			order.ErrInsufficientFunds, from.Hex(), l.native[from], amount)
	}
	l.native[from] -= amount
	l.native[to] += amount
	return nil
}

// MintUnits credits asset units to an owner (collection mint).
func (l *Ledger) MintUnits(collection common.Address, tokenID uint64, owner common.Address, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("mint amount must be positive: %d", amount)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.units[holding{collection, tokenID, owner}] += amount
	return nil
}

// Units returns how many units of (collection, tokenId) an owner holds.
func (l *Ledger) Units(collection common.Address, tokenID uint64, owner common.Address) int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.units[holding{collection, tokenID, owner}]
}

// TransferUnits moves asset units between owners.
// Returns ErrAssetTransferFailed if the sender does not hold enough.
func (l *Ledger) TransferUnits(collection common.Address, tokenID uint64, from, to common.Address, amount int64) error {
	if amount < 0 {
		return fmt.Errorf("transfer amount cannot be negative: %d", amount)
	}
	if amount == 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	src := holding{collection, tokenID, from}
	if l.units[src] < amount {
		return fmt.Errorf("%w: %s holds %d of %s/%d, needs %d",
			order.ErrAssetTransferFailed, from.Hex(), l.units[src],
			collection.Hex(), tokenID, amount)
	}
	l.units[src] -= amount
	l.units[holding{collection, tokenID, to}] += amount
	return nil
}
