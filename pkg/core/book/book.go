package book

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/jmkim-dev/tidebook/pkg/core/asset"
	"github.com/jmkim-dev/tidebook/pkg/core/order"
	"github.com/jmkim-dev/tidebook/pkg/core/vault"
)

// Edit pairs an open order's fingerprint with its replacement.
type Edit struct {
	Old common.Hash `json:"old"`
	New order.Order `json:"new"`
}

// Book stores order records keyed by fingerprint and drives their
// lifecycle: Open on make, Closed on cancel or terminal fill. Records
// are never deleted; Closed is a permanent tombstone, so a fingerprint
// can never be re-listed once finalized.
//
// Mutating calls are all-or-nothing: they validate the whole batch
// (including aggregate funding) before touching book or escrow state.
// Callers are serialized by the Exchange facade.
type Book struct {
	Logger *zap.SugaredLogger

	codec    *order.Codec
	registry *asset.Registry
	ledger   *asset.Ledger
	vault    *vault.Vault
	records  map[common.Hash]*order.Record
}

func New(codec *order.Codec, registry *asset.Registry, ledger *asset.Ledger, v *vault.Vault) *Book {
	return &Book{
		codec:    codec,
		registry: registry,
		ledger:   ledger,
		vault:    v,
		records:  make(map[common.Hash]*order.Record),
	}
}

// Get returns the live record for a fingerprint.
func (b *Book) Get(fp common.Hash) (*order.Record, bool) {
	rec, ok := b.records[fp]
	return rec, ok
}

// FilledAmount reports fill progress for a fingerprint: the running fill
// count while open, order.FilledClosed once tombstoned, 0 for unknown
// fingerprints.
func (b *Book) FilledAmount(fp common.Hash) int64 {
	rec, ok := b.records[fp]
	if !ok {
		return 0
	}
	if rec.Closed {
		return order.FilledClosed
	}
	return rec.FillCount
}

// Fingerprint exposes the book's codec so callers reference orders the
// same way the book keys them.
func (b *Book) Fingerprint(o order.Order) common.Hash {
	return b.codec.Fingerprint(o)
}

// Make creates one record per order, escrowing what each commits: asset
// units from the maker for list orders, price*amount of the caller's
// native funds for bids. The supplied value must equal the aggregate bid
// requirement exactly; any mismatch fails the whole batch with
// ErrInsufficientFunds and no state change.
//
// Returns one fingerprint per input order, in input order.
func (b *Book) Make(orders []order.Order, caller common.Address, value int64) ([]common.Hash, error) {
	type planned struct {
		fp common.Hash
		o  order.Order
	}

	// Validation pass: nothing below may mutate state.
	plan := make([]planned, 0, len(orders))
	seen := make(map[common.Hash]bool, len(orders))
	neededUnits := make(map[unitsKey]int64)
	required := int64(0)

	for i, o := range orders {
		if err := o.Validate(); err != nil {
			return nil, fmt.Errorf("order %d: %w", i, err)
		}
		if !b.registry.Supported(o.Asset.Collection) {
			return nil, fmt.Errorf("order %d: %w: %s", i, order.ErrUnsupportedAsset, o.Asset.Collection.Hex())
		}

		fp := b.codec.Fingerprint(o)
		if rec, ok := b.records[fp]; ok {
			if rec.Closed {
				return nil, fmt.Errorf("order %d: %w: %s", i, order.ErrOrderAlreadyFinalized, fp.Hex())
			}
			return nil, fmt.Errorf("order %d: %w: %s", i, order.ErrDuplicateOrder, fp.Hex())
		}
		if seen[fp] {
			return nil, fmt.Errorf("order %d: %w: %s", i, order.ErrDuplicateOrder, fp.Hex())
		}
		seen[fp] = true

		switch o.Side {
		case order.List:
			k := unitsKey{o.Asset.Collection, o.Asset.TokenID, o.Maker}
			neededUnits[k] += o.Asset.Amount
		case order.Bid:
			required += o.Cost()
		}
		plan = append(plan, planned{fp: fp, o: o})
	}

	if value != required {
		return nil, fmt.Errorf("%w: supplied %d, batch requires %d", order.ErrInsufficientFunds, value, required)
	}
	if b.ledger.NativeBalance(caller) < required {
		return nil, fmt.Errorf("%w: caller %s short of %d", order.ErrInsufficientFunds, caller.Hex(), required)
	}
	for k, amount := range neededUnits {
		if b.ledger.Units(k.collection, k.tokenID, k.owner) < amount {
			return nil, fmt.Errorf("%w: %s holds fewer than %d of %s/%d",
				order.ErrAssetTransferFailed, k.owner.Hex(), amount, k.collection.Hex(), k.tokenID)
		}
	}

	// Execution pass: cannot fail after validation, state is serialized.
	fps := make([]common.Hash, 0, len(plan))
	for _, p := range plan {
		switch p.o.Side {
		case order.List:
			if err := b.vault.DepositAsset(p.fp, p.o.Asset.Collection, p.o.Asset.TokenID, p.o.Maker, p.o.Asset.Amount); err != nil {
				panic(fmt.Errorf("make escrow out of sync: %w", err))
			}
		case order.Bid:
			if err := b.vault.DepositNative(p.fp, caller, p.o.Cost()); err != nil {
				panic(fmt.Errorf("make escrow out of sync: %w", err))
			}
		}
		b.records[p.fp] = &order.Record{Order: p.o}
		fps = append(fps, p.fp)

		if b.Logger != nil {
			b.Logger.Infow("order_made",
				"fp", p.fp.Hex(), "side", p.o.Side.String(), "kind", p.o.Kind.String(),
				"maker", p.o.Maker.Hex(), "collection", p.o.Asset.Collection.Hex(),
				"token", p.o.Asset.TokenID, "amount", p.o.Asset.Amount, "price", p.o.Price)
		}
	}
	return fps, nil
}

type unitsKey struct {
	collection common.Address
	tokenID    uint64
	owner      common.Address
}

// Cancel tombstones each fingerprint and refunds its remaining escrow to
// the maker: native funds for bids, asset units for listings. Entries
// fail softly (false) when the record is missing, already closed, or not
// owned by the caller; the rest of the batch proceeds.
func (b *Book) Cancel(fps []common.Hash, caller common.Address) []bool {
	results := make([]bool, len(fps))
	for i, fp := range fps {
		rec, ok := b.records[fp]
		if !ok || rec.Closed || rec.Order.Maker != caller {
			continue
		}

		rec.Closed = true
		native, units := b.vault.Balance(fp)
		if native > 0 {
			b.vault.ReleaseNative(fp, rec.Order.Maker, native)
		}
		if units > 0 {
			b.vault.ReleaseAsset(fp, rec.Order.Maker, units)
		}
		results[i] = true

		if b.Logger != nil {
			b.Logger.Infow("order_cancelled",
				"fp", fp.Hex(), "refund_native", native, "refund_units", units)
		}
	}
	return results
}

// Edit replaces open orders in place, tombstoning the old fingerprint
// and carrying its escrow to the new one. List escrow moves without
// re-transferring the asset; bid escrow is topped up from the caller's
// supplied value or partially refunded to the maker, so the new account
// holds exactly the new order's cost.
//
// Slots fail softly with the zero fingerprint when the old record is
// not editable by the caller, the edit is a no-op (identical fields),
// or the replacement is invalid or names a maker other than the caller.
// Funding is all-or-nothing: the supplied
// value must equal the aggregate top-up required by the slots that do
// apply, else the whole call fails with ErrInsufficientFunds.
func (b *Book) Edit(edits []Edit, caller common.Address, value int64) ([]common.Hash, error) {
	type planned struct {
		idx   int
		oldFp common.Hash
		newFp common.Hash
		o     order.Order
		delta int64 // bids only: new cost minus carried escrow
	}

	// Simulation pass: decide which slots apply and what funding they
	// need, tracking in-batch tombstones so a duplicate edit of the same
	// order skips instead of double-spending its escrow.
	plan := make([]planned, 0, len(edits))
	closedInBatch := make(map[common.Hash]bool)
	createdInBatch := make(map[common.Hash]bool)
	required := int64(0)

	for i, e := range edits {
		rec, ok := b.records[e.Old]
		if !ok || rec.Closed || closedInBatch[e.Old] || rec.Order.Maker != caller {
			continue
		}

		newFp := b.codec.Fingerprint(e.New)
		if newFp == e.Old {
			// Identical fields hash identically: a genuine no-op.
			continue
		}
		if e.New.Validate() != nil || !b.registry.Supported(e.New.Asset.Collection) {
			continue
		}
		if e.New.Maker != caller {
			// The carried escrow belongs to the caller; a replacement
			// naming another maker would hand it to that account.
			continue
		}
		if e.New.Side != rec.Order.Side {
			// Carried escrow would no longer match the order's side.
			continue
		}
		if e.New.Side == order.List && e.New.Asset != rec.Order.Asset {
			// The escrowed units are for the old asset identity.
			continue
		}
		if _, exists := b.records[newFp]; exists || createdInBatch[newFp] {
			continue
		}

		p := planned{idx: i, oldFp: e.Old, newFp: newFp, o: e.New}
		if e.New.Side == order.Bid {
			carried, _ := b.vault.Balance(e.Old)
			p.delta = e.New.Cost() - carried
			if p.delta > 0 {
				required += p.delta
			}
		}
		closedInBatch[e.Old] = true
		createdInBatch[newFp] = true
		plan = append(plan, p)
	}

	if value != required {
		return nil, fmt.Errorf("%w: supplied %d, edits require %d", order.ErrInsufficientFunds, value, required)
	}
	if b.ledger.NativeBalance(caller) < required {
		return nil, fmt.Errorf("%w: caller %s short of %d", order.ErrInsufficientFunds, caller.Hex(), required)
	}

	// Execution pass.
	results := make([]common.Hash, len(edits))
	for _, p := range plan {
		old := b.records[p.oldFp]
		old.Closed = true
		b.records[p.newFp] = &order.Record{Order: p.o}

		switch p.o.Side {
		case order.List:
			b.vault.MoveAsset(p.oldFp, p.newFp)
		case order.Bid:
			carried, _ := b.vault.Balance(p.oldFp)
			b.vault.MoveNative(p.oldFp, p.newFp, carried)
			if p.delta > 0 {
				if err := b.vault.DepositNative(p.newFp, caller, p.delta); err != nil {
					panic(fmt.Errorf("edit escrow out of sync: %w", err))
				}
			} else if p.delta < 0 {
				b.vault.ReleaseNative(p.newFp, p.o.Maker, -p.delta)
			}
		}
		results[p.idx] = p.newFp

		if b.Logger != nil {
			b.Logger.Infow("order_edited",
				"old", p.oldFp.Hex(), "new", p.newFp.Hex(),
				"price", p.o.Price, "amount", p.o.Asset.Amount, "delta", p.delta)
		}
	}
	return results, nil
}

// Records returns a snapshot copy of every record.
func (b *Book) Records() map[common.Hash]order.Record {
	out := make(map[common.Hash]order.Record, len(b.records))
	for fp, rec := range b.records {
		out[fp] = *rec
	}
	return out
}

// Restore reinstates a persisted record during rehydration.
func (b *Book) Restore(fp common.Hash, rec order.Record) {
	copied := rec
	b.records[fp] = &copied
}
