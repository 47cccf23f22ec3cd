package vault

import (
	"errors"
	"testing"

	"github.com/jmkim-dev/tidebook/pkg/core/asset"
	"github.com/jmkim-dev/tidebook/pkg/core/order"
)

func TestFeeLedger_Withdraw(t *testing.T) {
	l := asset.NewLedger()
	l.Mint(alice, 1_000)
	v := NewVault(l)
	fees := NewFeeLedger(l, bob)

	v.DepositNative(fpA, alice, 1_000)
	v.CollectFee(fpA, fees, 300)

	// Only the operator may withdraw
	err := fees.Withdraw(alice, 100, alice)
	if !errors.Is(err, order.ErrSenderInvalid) {
		t.Fatalf("non-operator withdraw error = %v, want ErrSenderInvalid", err)
	}

	err = fees.Withdraw(alice, 301, bob)
	if !errors.Is(err, order.ErrInsufficientFeeBalance) {
		t.Fatalf("over-withdraw error = %v, want ErrInsufficientFeeBalance", err)
	}

	if err := fees.Withdraw(alice, 100, bob); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if fees.Balance() != 200 {
		t.Errorf("fee balance = %d, want 200", fees.Balance())
	}
	if got := l.NativeBalance(alice); got != 100 {
		t.Errorf("recipient balance = %d, want 100", got)
	}

	if err := fees.Withdraw(alice, 0, bob); err == nil {
		t.Fatal("zero withdraw should fail")
	}
}
