package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"

	"github.com/jmkim-dev/tidebook/pkg/core/engine"
	"github.com/jmkim-dev/tidebook/pkg/core/order"
	"github.com/jmkim-dev/tidebook/pkg/core/vault"
)

// Store provides Pebble-based persistence for order records, escrow
// accounts, the fee balance and trade history. Callers serialize writes;
// the Exchange facade flushes after every mutating call so a restarted
// process can rehydrate the full book state.
type Store struct {
	db *pebble.DB
}

// NewStore opens a Pebble database at the given path.
func NewStore(dbPath string) (*Store, error) {
	opts := &pebble.Options{
		Cache:                    pebble.NewCache(128 << 20), // 128MB cache
		MemTableSize:             64 << 20,                   // 64MB memtable
		MaxConcurrentCompactions: func() int { return 3 },
		L0CompactionThreshold:    2,
		L0StopWritesThreshold:    12,
		LBaseMaxBytes:            64 << 20,
		MaxOpenFiles:             1000,
		BytesPerSync:             512 << 10,
	}

	db, err := pebble.Open(dbPath, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble db at %s: %w", dbPath, err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveRecord persists one order record.
func (s *Store) SaveRecord(fp common.Hash, rec order.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	if err := s.db.Set(recordKey(fp), data, pebble.Sync); err != nil {
		return fmt.Errorf("failed to save record: %w", err)
	}
	return nil
}

// LoadRecords loads every persisted order record.
func (s *Store) LoadRecords() (map[common.Hash]order.Record, error) {
	prefix := []byte(prefixRecord)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open record iterator: %w", err)
	}
	defer iter.Close()

	records := make(map[common.Hash]order.Record)
	for iter.First(); iter.Valid(); iter.Next() {
		fp, err := fingerprintFromKey(iter.Key(), prefixRecord)
		if err != nil {
			continue // Skip invalid entries
		}
		var rec order.Record
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			continue
		}
		records[fp] = rec
	}
	return records, nil
}

// SaveEscrow persists one escrow account.
func (s *Store) SaveEscrow(fp common.Hash, acc vault.Account) error {
	data, err := json.Marshal(acc)
	if err != nil {
		return fmt.Errorf("failed to marshal escrow account: %w", err)
	}
	if err := s.db.Set(escrowKey(fp), data, pebble.Sync); err != nil {
		return fmt.Errorf("failed to save escrow account: %w", err)
	}
	return nil
}

// LoadEscrows loads every persisted escrow account.
func (s *Store) LoadEscrows() (map[common.Hash]vault.Account, error) {
	prefix := []byte(prefixEscrow)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open escrow iterator: %w", err)
	}
	defer iter.Close()

	accounts := make(map[common.Hash]vault.Account)
	for iter.First(); iter.Valid(); iter.Next() {
		fp, err := fingerprintFromKey(iter.Key(), prefixEscrow)
		if err != nil {
			continue
		}
		var acc vault.Account
		if err := json.Unmarshal(iter.Value(), &acc); err != nil {
			continue
		}
		accounts[fp] = acc
	}
	return accounts, nil
}

// SaveFeeBalance persists the accrued protocol fee balance.
func (s *Store) SaveFeeBalance(balance int64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(balance))
	if err := s.db.Set(feesKey(), buf[:], pebble.Sync); err != nil {
		return fmt.Errorf("failed to save fee balance: %w", err)
	}
	return nil
}

// LoadFeeBalance loads the persisted fee balance, or 0 if none exists.
func (s *Store) LoadFeeBalance() (int64, error) {
	val, closer, err := s.db.Get(feesKey())
	if err == pebble.ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get fee balance: %w", err)
	}
	defer closer.Close()

	if len(val) != 8 {
		return 0, fmt.Errorf("invalid fee balance length: %d", len(val))
	}
	return int64(binary.BigEndian.Uint64(val)), nil
}

// SaveTrade persists an executed trade.
func (s *Store) SaveTrade(trade *engine.Trade) error {
	data, err := json.Marshal(trade)
	if err != nil {
		return fmt.Errorf("failed to marshal trade: %w", err)
	}
	// NoSync: trade history is reconstructable and batched behind the
	// synced record/escrow writes of the same call.
	if err := s.db.Set(tradeKey(trade.Timestamp, trade.ID), data, pebble.NoSync); err != nil {
		return fmt.Errorf("failed to save trade: %w", err)
	}
	return nil
}

// LoadRecentTrades loads the most recent N trades, newest first.
func (s *Store) LoadRecentTrades(limit int) ([]*engine.Trade, error) {
	prefix := []byte(prefixTrade)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open trade iterator: %w", err)
	}
	defer iter.Close()

	var trades []*engine.Trade
	for iter.Last(); iter.Valid() && len(trades) < limit; iter.Prev() {
		var trade engine.Trade
		if err := json.Unmarshal(iter.Value(), &trade); err != nil {
			continue
		}
		trades = append(trades, &trade)
	}
	return trades, nil
}

// Batch provides atomic multi-key writes for one marketplace call.
type Batch struct {
	batch *pebble.Batch
}

// NewBatch creates a new batch writer.
func (s *Store) NewBatch() *Batch {
	return &Batch{batch: s.db.NewBatch()}
}

// SaveRecord adds a record write to the batch.
func (b *Batch) SaveRecord(fp common.Hash, rec order.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return b.batch.Set(recordKey(fp), data, nil)
}

// SaveEscrow adds an escrow-account write to the batch.
func (b *Batch) SaveEscrow(fp common.Hash, acc vault.Account) error {
	data, err := json.Marshal(acc)
	if err != nil {
		return err
	}
	return b.batch.Set(escrowKey(fp), data, nil)
}

// SaveFeeBalance adds a fee-balance write to the batch.
func (b *Batch) SaveFeeBalance(balance int64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(balance))
	return b.batch.Set(feesKey(), buf[:], nil)
}

// SaveTrade adds a trade write to the batch.
func (b *Batch) SaveTrade(trade *engine.Trade) error {
	data, err := json.Marshal(trade)
	if err != nil {
		return err
	}
	return b.batch.Set(tradeKey(trade.Timestamp, trade.ID), data, nil)
}

// Commit writes the batch to Pebble atomically.
func (b *Batch) Commit() error {
	return b.batch.Commit(pebble.Sync)
}

// Close closes the batch without committing.
func (b *Batch) Close() error {
	return b.batch.Close()
}
