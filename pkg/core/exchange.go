// Package core wires the marketplace's order book, escrow vault, match
// engine and fee ledger behind one serialized facade.
package core

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/jmkim-dev/tidebook/pkg/core/asset"
	"github.com/jmkim-dev/tidebook/pkg/core/book"
	"github.com/jmkim-dev/tidebook/pkg/core/engine"
	"github.com/jmkim-dev/tidebook/pkg/core/order"
	"github.com/jmkim-dev/tidebook/pkg/core/vault"
	"github.com/jmkim-dev/tidebook/pkg/storage"
	"github.com/jmkim-dev/tidebook/pkg/util"
)

// Options configures an Exchange.
type Options struct {
	Domain     order.Domain   // EIP-712 fingerprint domain
	FeeRateBps int64          // protocol fee in basis points
	Operator   common.Address // authorized for fee withdrawals
	Clock      util.Clock     // nil = wall clock
	Store      *storage.Store // nil = in-memory only
	Logger     *zap.SugaredLogger
}

// Exchange is the single entry point into the marketplace core. It owns
// the book, vault and fee ledger, serializes every mutating call under
// one mutex (the substrate's atomic-state-transition guarantee), and
// persists dirty state after each call when a store is configured.
type Exchange struct {
	mu sync.Mutex

	codec    *order.Codec
	ledger   *asset.Ledger
	registry *asset.Registry
	vault    *vault.Vault
	fees     *vault.FeeLedger
	book     *book.Book
	engine   *engine.Engine
	store    *storage.Store
	logger   *zap.SugaredLogger
}

// New creates an Exchange over the given substrate ledger and collection
// registry.
func New(ledger *asset.Ledger, registry *asset.Registry, opts Options) *Exchange {
	clock := opts.Clock
	if clock == nil {
		clock = util.RealClock{}
	}

	codec := order.NewCodec(opts.Domain)
	v := vault.NewVault(ledger)
	fees := vault.NewFeeLedger(ledger, opts.Operator)
	b := book.New(codec, registry, ledger, v)
	b.Logger = opts.Logger
	e := engine.New(b, v, fees, ledger, registry, clock, opts.FeeRateBps)
	e.Logger = opts.Logger

	return &Exchange{
		codec:    codec,
		ledger:   ledger,
		registry: registry,
		vault:    v,
		fees:     fees,
		book:     b,
		engine:   e,
		store:    opts.Store,
		logger:   opts.Logger,
	}
}

// Rehydrate reloads persisted book state, escrow accounts and the fee
// balance from the configured store. Call once at startup, before
// serving traffic.
func (x *Exchange) Rehydrate() error {
	if x.store == nil {
		return nil
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	records, err := x.store.LoadRecords()
	if err != nil {
		return fmt.Errorf("load records: %w", err)
	}
	for fp, rec := range records {
		x.book.Restore(fp, rec)
	}

	escrows, err := x.store.LoadEscrows()
	if err != nil {
		return fmt.Errorf("load escrows: %w", err)
	}
	for fp, acc := range escrows {
		x.vault.Restore(fp, acc)
	}

	feeBalance, err := x.store.LoadFeeBalance()
	if err != nil {
		return fmt.Errorf("load fee balance: %w", err)
	}
	x.fees.Restore(feeBalance)

	if x.logger != nil {
		x.logger.Infow("exchange_rehydrated",
			"records", len(records), "escrows", len(escrows), "fee_balance", feeBalance)
	}
	return nil
}

// Fingerprint computes the canonical hash of an order under the
// exchange's domain.
func (x *Exchange) Fingerprint(o order.Order) common.Hash {
	return x.codec.Fingerprint(o)
}

// Make creates orders, escrowing their commitments. See book.Book.Make.
func (x *Exchange) Make(orders []order.Order, caller common.Address, value int64) ([]common.Hash, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	fps, err := x.book.Make(orders, caller, value)
	if err != nil {
		return nil, err
	}
	x.persist(fps, nil)
	return fps, nil
}

// Cancel tombstones orders and refunds escrow. See book.Book.Cancel.
func (x *Exchange) Cancel(fps []common.Hash, caller common.Address) []bool {
	x.mu.Lock()
	defer x.mu.Unlock()

	results := x.book.Cancel(fps, caller)
	dirty := make([]common.Hash, 0, len(fps))
	for i, ok := range results {
		if ok {
			dirty = append(dirty, fps[i])
		}
	}
	x.persist(dirty, nil)
	return results
}

// Edit replaces open orders in place. See book.Book.Edit.
func (x *Exchange) Edit(edits []book.Edit, caller common.Address, value int64) ([]common.Hash, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	results, err := x.book.Edit(edits, caller, value)
	if err != nil {
		return nil, err
	}
	dirty := make([]common.Hash, 0, 2*len(edits))
	for i, newFp := range results {
		if newFp != order.ZeroFingerprint {
			dirty = append(dirty, edits[i].Old, newFp)
		}
	}
	x.persist(dirty, nil)
	return results, nil
}

// Match executes a single list/bid pair. See engine.Engine.Match.
func (x *Exchange) Match(sell, buy order.Order, caller common.Address, value int64) (*engine.Trade, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	trade, err := x.engine.Match(sell, buy, caller, value)
	if err != nil {
		return nil, err
	}
	x.persist([]common.Hash{trade.ListFp, trade.BidFp}, []*engine.Trade{trade})
	return trade, nil
}

// MatchBatch executes pairs with per-pair fault isolation. See
// engine.Engine.MatchBatch.
func (x *Exchange) MatchBatch(pairs []engine.Pair, caller common.Address, value int64) ([]bool, []*engine.Trade) {
	x.mu.Lock()
	defer x.mu.Unlock()

	results, trades := x.engine.MatchBatch(pairs, caller, value)
	dirty := make([]common.Hash, 0, 2*len(trades))
	for _, t := range trades {
		dirty = append(dirty, t.ListFp, t.BidFp)
	}
	x.persist(dirty, trades)
	return results, trades
}

// WithdrawFees pays accrued protocol fees to a recipient. Operator only.
func (x *Exchange) WithdrawFees(to common.Address, amount int64, caller common.Address) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if err := x.fees.Withdraw(to, amount, caller); err != nil {
		return err
	}
	if x.logger != nil {
		x.logger.Infow("fees_withdrawn", "to", to.Hex(), "amount", amount)
	}
	x.persist(nil, nil)
	return nil
}

// Order returns a copy of the record for a fingerprint.
func (x *Exchange) Order(fp common.Hash) (order.Record, bool) {
	x.mu.Lock()
	defer x.mu.Unlock()

	rec, ok := x.book.Get(fp)
	if !ok {
		return order.Record{}, false
	}
	return *rec, true
}

// FilledAmount reports fill progress: the running count while open,
// order.FilledClosed once tombstoned, 0 for unknown fingerprints.
func (x *Exchange) FilledAmount(fp common.Hash) int64 {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.book.FilledAmount(fp)
}

// VaultBalance returns the escrowed native funds and asset units for a
// fingerprint.
func (x *Exchange) VaultBalance(fp common.Hash) (native int64, units int64) {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.vault.Balance(fp)
}

// FeeBalance returns accrued, unwithdrawn protocol revenue.
func (x *Exchange) FeeBalance() int64 {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.fees.Balance()
}

// FeeRateBps returns the protocol fee rate in basis points.
func (x *Exchange) FeeRateBps() int64 {
	return x.engine.FeeRateBps()
}

// FeeOperator returns the address authorized to withdraw fees.
func (x *Exchange) FeeOperator() common.Address {
	return x.fees.Operator()
}

// Collections lists the supported asset collections.
func (x *Exchange) Collections() []*asset.Collection {
	return x.registry.List()
}

// RecentTrades returns up to limit executed trades, newest first.
// Empty without a configured store.
func (x *Exchange) RecentTrades(limit int) ([]*engine.Trade, error) {
	if x.store == nil {
		return nil, nil
	}
	return x.store.LoadRecentTrades(limit)
}

// persist flushes dirty fingerprints and new trades in one atomic
// batch. Persistence failure is logged, not returned: the in-memory
// state is authoritative and the call already committed.
func (x *Exchange) persist(fps []common.Hash, trades []*engine.Trade) {
	if x.store == nil {
		return
	}

	batch := x.store.NewBatch()
	defer batch.Close()

	for _, fp := range fps {
		if rec, ok := x.book.Get(fp); ok {
			if err := batch.SaveRecord(fp, *rec); err != nil {
				x.logPersistErr(err)
				return
			}
		}
		if acc, ok := x.vault.Lookup(fp); ok {
			if err := batch.SaveEscrow(fp, acc); err != nil {
				x.logPersistErr(err)
				return
			}
		}
	}
	for _, t := range trades {
		if err := batch.SaveTrade(t); err != nil {
			x.logPersistErr(err)
			return
		}
	}
	if err := batch.SaveFeeBalance(x.fees.Balance()); err != nil {
		x.logPersistErr(err)
		return
	}
	if err := batch.Commit(); err != nil {
		x.logPersistErr(err)
	}
}

func (x *Exchange) logPersistErr(err error) {
	if x.logger != nil {
		x.logger.Errorw("persist_failed", "err", err.Error())
	}
}
