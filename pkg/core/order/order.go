package order

import (
	"fmt"
	"math"

	"github.com/ethereum/go-ethereum/common"
)

// Side distinguishes sell listings from standing buy bids
type Side uint8

const (
	List Side = iota + 1 // fixed-price sell offer for one asset unit
	Bid                  // standing buy offer, item- or collection-wide
)

func (s Side) String() string {
	switch s {
	case List:
		return "list"
	case Bid:
		return "bid"
	default:
		return "unknown"
	}
}

// SaleKind describes what a fixed-price order targets
type SaleKind uint8

const (
	FixedPriceForItem       SaleKind = iota + 1 // one specific (collection, tokenId)
	FixedPriceForCollection                     // any tokenId from the collection (bids only)
)

func (k SaleKind) String() string {
	switch k {
	case FixedPriceForItem:
		return "item"
	case FixedPriceForCollection:
		return "collection"
	default:
		return "unknown"
	}
}

// Asset identifies what an order commits
// TokenID is meaningful only for item-kind orders; collection-wide bids
// leave it at 0 and accept the seller's offered token at match time.
type Asset struct {
	Collection common.Address `json:"collection"`
	TokenID    uint64         `json:"tokenId"`
	Amount     int64          `json:"amount"` // 1 for item orders, N fills for collection bids
}

// Order is a maker-signed trading intent. Immutable once fingerprinted:
// any field change produces a different fingerprint and therefore a
// different book identity.
type Order struct {
	Side   Side           `json:"side"`
	Kind   SaleKind       `json:"kind"`
	Maker  common.Address `json:"maker"`
	Asset  Asset          `json:"asset"`
	Price  int64          `json:"price"`  // unit price in wei, > 0
	Expiry int64          `json:"expiry"` // unix seconds, 0 = never expires
	Salt   uint64         `json:"salt"`   // caller-chosen nonce, must be non-zero
}

// Cost returns the native funds a bid must escrow: Price per fill times
// the number of fills committed.
func (o Order) Cost() int64 {
	return o.Price * o.Asset.Amount
}

// Validate checks the field invariants every order must satisfy,
// independent of book state. Collection support is checked by the book
// against its registry.
func (o Order) Validate() error {
	if o.Side != List && o.Side != Bid {
		return fmt.Errorf("%w: side %d", ErrSideMismatch, o.Side)
	}
	if o.Kind != FixedPriceForItem && o.Kind != FixedPriceForCollection {
		return fmt.Errorf("%w: sale kind %d", ErrKindMismatch, o.Kind)
	}
	if o.Side == List && o.Kind != FixedPriceForItem {
		// Collection-wide listings are not representable.
		return fmt.Errorf("%w: list orders must be item-kind", ErrKindMismatch)
	}
	if o.Salt == 0 {
		return ErrZeroSalt
	}
	if o.Price <= 0 {
		return fmt.Errorf("%w: price %d", ErrInvalidPrice, o.Price)
	}
	if o.Asset.Amount <= 0 {
		return fmt.Errorf("%w: amount %d", ErrInvalidAmount, o.Asset.Amount)
	}
	if o.Kind == FixedPriceForItem && o.Asset.Amount != 1 {
		// An item order commits exactly one unit; a single fill retires
		// it, so any extra escrowed units could never be released.
		return fmt.Errorf("%w: item orders carry exactly 1 unit, got %d", ErrInvalidAmount, o.Asset.Amount)
	}
	if o.Price > math.MaxInt64/o.Asset.Amount {
		return fmt.Errorf("%w: price %d times amount %d overflows", ErrInvalidPrice, o.Price, o.Asset.Amount)
	}
	return nil
}

// FilledClosed is the terminal fill-count sentinel reported for closed
// fingerprints (cancelled or fully filled).
const FilledClosed = int64(math.MaxInt64)

// ZeroFingerprint marks a skipped slot in batch results.
var ZeroFingerprint = common.Hash{}

// Record is the book's mutable state for one fingerprint.
// Closed is a permanent tombstone: the fingerprint never reopens.
type Record struct {
	Order     Order `json:"order"`
	FillCount int64 `json:"fillCount"`
	Closed    bool  `json:"closed"`
}

// Remaining returns how many fills the record can still absorb.
func (r *Record) Remaining() int64 {
	return r.Order.Asset.Amount - r.FillCount
}

// Matchable reports whether the record can participate in a new match.
func (r *Record) Matchable() bool {
	return !r.Closed && r.FillCount < r.Order.Asset.Amount
}
