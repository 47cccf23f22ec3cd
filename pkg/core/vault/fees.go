package vault

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/jmkim-dev/tidebook/pkg/core/asset"
	"github.com/jmkim-dev/tidebook/pkg/core/order"
)

// FeeLedger accumulates protocol fee revenue. Accrued fees remain under
// the vault's custody address until the operator withdraws them.
type FeeLedger struct {
	ledger   *asset.Ledger
	operator common.Address
	balance  int64
}

// NewFeeLedger creates a fee ledger whose withdrawals are restricted to
// the given operator address.
func NewFeeLedger(ledger *asset.Ledger, operator common.Address) *FeeLedger {
	return &FeeLedger{ledger: ledger, operator: operator}
}

// Credit adds protocol revenue. Called synchronously during a match.
func (f *FeeLedger) Credit(amount int64) {
	f.balance += amount
}

// Balance returns the withdrawable fee revenue.
func (f *FeeLedger) Balance() int64 {
	return f.balance
}

// Operator returns the address authorized to withdraw fees.
func (f *FeeLedger) Operator() common.Address {
	return f.operator
}

// Withdraw pays accrued fees to a recipient.
// Returns ErrSenderInvalid unless the caller is the operator, and
// ErrInsufficientFeeBalance if the amount exceeds accrued revenue.
func (f *FeeLedger) Withdraw(to common.Address, amount int64, caller common.Address) error {
	if caller != f.operator {
		return fmt.Errorf("%w: %s is not the fee operator", order.ErrSenderInvalid, caller.Hex())
	}
	if amount <= 0 {
		return fmt.Errorf("withdraw amount must be positive: %d", amount)
	}
	if amount > f.balance {
		return fmt.Errorf("%w: have %d, need %d", order.ErrInsufficientFeeBalance, f.balance, amount)
	}

	f.balance -= amount
	if err := f.ledger.Transfer(Address, to, amount); err != nil {
		panic(fmt.Errorf("fee custody out of sync: %w", err))
	}
	return nil
}

// Restore reinstates a persisted fee balance during rehydration.
func (f *FeeLedger) Restore(balance int64) {
	f.balance = balance
}
