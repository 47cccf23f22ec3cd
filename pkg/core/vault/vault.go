package vault

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/jmkim-dev/tidebook/pkg/core/asset"
	"github.com/jmkim-dev/tidebook/pkg/core/order"
)

// Address is the custodial ledger address all escrowed funds and asset
// units live under. Per-fingerprint attribution happens in the vault's
// own accounts; the ledger only sees one custodian.
var Address = common.BytesToAddress([]byte("tidebook/escrow-vault"))

// Account tracks what one open order has committed. For list orders the
// escrowed asset identity is recorded so cancellation and fills can
// return the exact units taken in.
type Account struct {
	NativeBalance int64          `json:"nativeBalance"`
	AssetUnits    int64          `json:"assetUnits"`
	Collection    common.Address `json:"collection"`
	TokenID       uint64         `json:"tokenId"`
}

// Vault is the custody ledger keyed by order fingerprint. Accounts are
// created on first deposit and never deleted; a retired order simply
// holds a zeroed account, preserving auditability.
//
// Release operations treat overdraw as a core bug and panic: a correct
// caller can never request more than it previously deposited.
type Vault struct {
	ledger   *asset.Ledger
	accounts map[common.Hash]*Account
}

func NewVault(ledger *asset.Ledger) *Vault {
	return &Vault{
		ledger:   ledger,
		accounts: make(map[common.Hash]*Account),
	}
}

func (v *Vault) account(fp common.Hash) *Account {
	acc, ok := v.accounts[fp]
	if !ok {
		acc = &Account{}
		v.accounts[fp] = acc
	}
	return acc
}

// Balance returns the escrowed native funds and asset units for a
// fingerprint. Unknown fingerprints read as zero.
func (v *Vault) Balance(fp common.Hash) (native int64, units int64) {
	acc, ok := v.accounts[fp]
	if !ok {
		return 0, 0
	}
	return acc.NativeBalance, acc.AssetUnits
}

// Lookup returns a copy of the escrow account for a fingerprint.
func (v *Vault) Lookup(fp common.Hash) (Account, bool) {
	acc, ok := v.accounts[fp]
	if !ok {
		return Account{}, false
	}
	return *acc, true
}

// DepositNative moves native funds from the payer into vault custody and
// credits the fingerprint's account.
// Returns ErrInsufficientFunds if the payer cannot cover the amount.
func (v *Vault) DepositNative(fp common.Hash, from common.Address, amount int64) error {
	if err := v.ledger.Transfer(from, Address, amount); err != nil {
		return err
	}
	v.account(fp).NativeBalance += amount
	return nil
}

// DepositAsset moves asset units from the maker into vault custody and
// credits the fingerprint's account, recording the asset identity.
// Returns ErrAssetTransferFailed if the maker does not hold the units.
func (v *Vault) DepositAsset(fp common.Hash, collection common.Address, tokenID uint64, from common.Address, amount int64) error {
	if err := v.ledger.TransferUnits(collection, tokenID, from, Address, amount); err != nil {
		return err
	}
	acc := v.account(fp)
	acc.AssetUnits += amount
	acc.Collection = collection
	acc.TokenID = tokenID
	return nil
}

// ReleaseNative debits the fingerprint's native escrow and pays it out.
// Panics on overdraw: the caller asked for more than was escrowed.
func (v *Vault) ReleaseNative(fp common.Hash, to common.Address, amount int64) {
	acc := v.account(fp)
	if acc.NativeBalance < amount {
		panic(fmt.Errorf("%w: release %d from %s holding %d",
			order.ErrInsufficientEscrow, amount, fp.Hex(), acc.NativeBalance))
	}
	acc.NativeBalance -= amount
	if err := v.ledger.Transfer(Address, to, amount); err != nil {
		panic(fmt.Errorf("vault custody out of sync: %w", err))
	}
}

// ReleaseAsset debits the fingerprint's asset escrow and transfers the
// units to the recipient. Panics on overdraw.
func (v *Vault) ReleaseAsset(fp common.Hash, to common.Address, amount int64) {
	acc := v.account(fp)
	if acc.AssetUnits < amount {
		panic(fmt.Errorf("%w: release %d units from %s holding %d",
			order.ErrInsufficientEscrow, amount, fp.Hex(), acc.AssetUnits))
	}
	acc.AssetUnits -= amount
	if err := v.ledger.TransferUnits(acc.Collection, acc.TokenID, Address, to, amount); err != nil {
		panic(fmt.Errorf("vault custody out of sync: %w", err))
	}
}

// MoveNative shifts native escrow between fingerprints without leaving
// vault custody. Used by edit to carry a bid's funds to its new
// identity. Panics on overdraw.
func (v *Vault) MoveNative(fromFp, toFp common.Hash, amount int64) {
	src := v.account(fromFp)
	if src.NativeBalance < amount {
		panic(fmt.Errorf("%w: move %d from %s holding %d",
			order.ErrInsufficientEscrow, amount, fromFp.Hex(), src.NativeBalance))
	}
	src.NativeBalance -= amount
	v.account(toFp).NativeBalance += amount
}

// MoveAsset shifts the full asset escrow of one fingerprint to another
// without re-transferring the underlying units. Used by edit on list
// orders.
func (v *Vault) MoveAsset(fromFp, toFp common.Hash) {
	src := v.account(fromFp)
	dst := v.account(toFp)
	dst.AssetUnits += src.AssetUnits
	dst.Collection = src.Collection
	dst.TokenID = src.TokenID
	src.AssetUnits = 0
}

// CollectFee debits the fingerprint's native escrow and accrues it to
// the fee ledger. Funds stay under vault custody until withdrawn.
// Panics on overdraw.
func (v *Vault) CollectFee(fp common.Hash, fees *FeeLedger, amount int64) {
	acc := v.account(fp)
	if acc.NativeBalance < amount {
		panic(fmt.Errorf("%w: fee %d from %s holding %d",
			order.ErrInsufficientEscrow, amount, fp.Hex(), acc.NativeBalance))
	}
	acc.NativeBalance -= amount
	fees.Credit(amount)
}

// Restore reinstates a persisted escrow account. Used when rehydrating
// state from storage; custody funds are assumed to already sit under the
// vault's ledger address.
func (v *Vault) Restore(fp common.Hash, acc Account) {
	copied := acc
	v.accounts[fp] = &copied
}

// Accounts returns a snapshot copy of every escrow account.
func (v *Vault) Accounts() map[common.Hash]Account {
	out := make(map[common.Hash]Account, len(v.accounts))
	for fp, acc := range v.accounts {
		out[fp] = *acc
	}
	return out
}

// TotalNative sums native escrow across all accounts. Together with the
// fee ledger balance it must equal the vault's ledger balance.
func (v *Vault) TotalNative() int64 {
	total := int64(0)
	for _, acc := range v.accounts {
		total += acc.NativeBalance
	}
	return total
}
