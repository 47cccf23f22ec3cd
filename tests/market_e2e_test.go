// file: tests/market_e2e_test.go
package tests

import (
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/jmkim-dev/tidebook/pkg/core"
	"github.com/jmkim-dev/tidebook/pkg/core/asset"
	"github.com/jmkim-dev/tidebook/pkg/core/book"
	"github.com/jmkim-dev/tidebook/pkg/core/engine"
	"github.com/jmkim-dev/tidebook/pkg/core/order"
	"github.com/jmkim-dev/tidebook/pkg/core/vault"
	"github.com/jmkim-dev/tidebook/pkg/util"
)

// End-to-end marketplace flows exercised through the Exchange facade,
// asserting ledger effects the way an external observer would see them.

const (
	eth001 = int64(10_000_000_000_000_000) // 0.01 ETH in wei
	now    = int64(1_700_000_000)
)

var (
	alice      = common.HexToAddress("0xA11CE00000000000000000000000000000000001") // seller
	bob        = common.HexToAddress("0xB0B0000000000000000000000000000000000002") // seller
	carol      = common.HexToAddress("0xCA20100000000000000000000000000000000003") // buyer
	operator   = common.HexToAddress("0xFEE0000000000000000000000000000000000004")
	collection = common.HexToAddress("0x1000000000000000000000000000000000000001")
)

type world struct {
	ledger   *asset.Ledger
	exchange *core.Exchange
}

func newWorld(t *testing.T) *world {
	t.Helper()
	ledger := asset.NewLedger()
	ledger.Mint(carol, 1_000*eth001)
	// alice owns tokens 1-3, bob owns tokens 4-5
	for id := uint64(1); id <= 3; id++ {
		ledger.MintUnits(collection, id, alice, 1)
	}
	for id := uint64(4); id <= 5; id++ {
		ledger.MintUnits(collection, id, bob, 1)
	}

	registry := asset.NewRegistry()
	if err := registry.Register(&asset.Collection{Address: collection, Name: "e2e"}); err != nil {
		t.Fatalf("register: %v", err)
	}

	x := core.New(ledger, registry, core.Options{
		Domain:     order.DefaultDomain(),
		FeeRateBps: 200, // 2%
		Operator:   operator,
		Clock:      util.FixedClock{T: time.Unix(now, 0)},
	})
	return &world{ledger: ledger, exchange: x}
}

func listing(maker common.Address, tokenID uint64, price int64, salt uint64) order.Order {
	return order.Order{
		Side:  order.List,
		Kind:  order.FixedPriceForItem,
		Maker: maker,
		Asset: order.Asset{Collection: collection, TokenID: tokenID, Amount: 1},
		Price: price,
		Salt:  salt,
	}
}

func collectionBid(maker common.Address, price, amount int64, salt uint64) order.Order {
	return order.Order{
		Side:  order.Bid,
		Kind:  order.FixedPriceForCollection,
		Maker: maker,
		Asset: order.Asset{Collection: collection, Amount: amount},
		Price: price,
		Salt:  salt,
	}
}

// A buyer purchases a fixed-price listing outright: pays 0.01, the
// seller nets 0.0098 after the 2% protocol fee, the asset changes hands.
func TestE2E_DirectPurchase(t *testing.T) {
	w := newWorld(t)
	x := w.exchange

	lst := listing(alice, 1, eth001, 1)
	if _, err := x.Make([]order.Order{lst}, alice, 0); err != nil {
		t.Fatalf("make: %v", err)
	}

	bid := order.Order{
		Side:  order.Bid,
		Kind:  order.FixedPriceForItem,
		Maker: carol,
		Asset: order.Asset{Collection: collection, TokenID: 1, Amount: 1},
		Price: eth001,
		Salt:  2,
	}
	trade, err := x.Match(lst, bid, carol, eth001)
	if err != nil {
		t.Fatalf("match: %v", err)
	}

	fee := eth001 * 200 / 10_000
	if trade.Fee != fee {
		t.Errorf("fee = %d, want %d", trade.Fee, fee)
	}
	if got := w.ledger.NativeBalance(alice); got != eth001-fee {
		t.Errorf("seller proceeds = %d, want %d", got, eth001-fee)
	}
	if got := w.ledger.Units(collection, 1, carol); got != 1 {
		t.Errorf("buyer units = %d, want 1", got)
	}
	if x.FeeBalance() != fee {
		t.Errorf("fee balance = %d, want %d", x.FeeBalance(), fee)
	}
}

// A collection-wide bid stands escrowed and absorbs fills from multiple
// sellers across distinct tokenIds until exhausted.
func TestE2E_CollectionBidSweep(t *testing.T) {
	w := newWorld(t)
	x := w.exchange

	bid := collectionBid(carol, eth001, 3, 1)
	bidFps, err := x.Make([]order.Order{bid}, carol, 3*eth001)
	if err != nil {
		t.Fatalf("make bid: %v", err)
	}
	bidFp := bidFps[0]

	fills := []struct {
		seller  common.Address
		tokenID uint64
	}{
		{alice, 1},
		{alice, 2},
		{bob, 4},
	}
	for i, fill := range fills {
		lst := listing(fill.seller, fill.tokenID, eth001, uint64(10+i))
		if _, err := x.Make([]order.Order{lst}, fill.seller, 0); err != nil {
			t.Fatalf("make listing %d: %v", i, err)
		}
		if _, err := x.Match(lst, bid, fill.seller, 0); err != nil {
			t.Fatalf("fill %d: %v", i, err)
		}
	}

	if x.FilledAmount(bidFp) != order.FilledClosed {
		t.Error("exhausted bid should read the closed sentinel")
	}
	for _, fill := range fills {
		if got := w.ledger.Units(collection, fill.tokenID, carol); got != 1 {
			t.Errorf("carol units of token %d = %d, want 1", fill.tokenID, got)
		}
	}

	fee := eth001 * 200 / 10_000
	if got := w.ledger.NativeBalance(alice); got != 2*(eth001-fee) {
		t.Errorf("alice proceeds = %d, want %d", got, 2*(eth001-fee))
	}
	if got := w.ledger.NativeBalance(bob); got != eth001-fee {
		t.Errorf("bob proceeds = %d, want %d", got, eth001-fee)
	}
}

// A partially filled bid refunds exactly its remaining escrow on
// cancellation, and its fingerprint reads the terminal sentinel forever.
func TestE2E_CancelPartiallyFilledBid(t *testing.T) {
	w := newWorld(t)
	x := w.exchange

	bid := collectionBid(carol, eth001, 5, 1)
	bidFps, err := x.Make([]order.Order{bid}, carol, 5*eth001)
	if err != nil {
		t.Fatalf("make bid: %v", err)
	}
	before := w.ledger.NativeBalance(carol)

	lst := listing(alice, 1, eth001, 2)
	if _, err := x.Make([]order.Order{lst}, alice, 0); err != nil {
		t.Fatalf("make listing: %v", err)
	}
	if _, err := x.Match(lst, bid, alice, 0); err != nil {
		t.Fatalf("match: %v", err)
	}

	if native, _ := x.VaultBalance(bidFps[0]); native != 4*eth001 {
		t.Fatalf("escrow after one fill = %d, want %d", native, 4*eth001)
	}

	results := x.Cancel(bidFps, carol)
	if !results[0] {
		t.Fatal("cancel should succeed")
	}
	if got := w.ledger.NativeBalance(carol); got != before+4*eth001 {
		t.Errorf("refund = %d, want exactly the unfilled escrow", got-before)
	}
	if x.FilledAmount(bidFps[0]) != order.FilledClosed {
		t.Error("cancelled bid should read the closed sentinel")
	}
}

// A cancelled listing returns the escrowed asset unit to the maker.
func TestE2E_CancelListingReturnsAsset(t *testing.T) {
	w := newWorld(t)
	x := w.exchange

	lst := listing(alice, 1, eth001, 1)
	fps, err := x.Make([]order.Order{lst}, alice, 0)
	if err != nil {
		t.Fatalf("make: %v", err)
	}
	if got := w.ledger.Units(collection, 1, alice); got != 0 {
		t.Fatalf("unit not escrowed, alice holds %d", got)
	}

	if results := x.Cancel(fps, alice); !results[0] {
		t.Fatal("cancel should succeed")
	}
	if got := w.ledger.Units(collection, 1, alice); got != 1 {
		t.Errorf("alice units after cancel = %d, want 1", got)
	}
}

// Editing a listing reprices it under a fresh fingerprint; the old
// identity is dead and matching happens at the new price.
func TestE2E_RepriceListing(t *testing.T) {
	w := newWorld(t)
	x := w.exchange

	lst := listing(alice, 1, eth001, 1)
	fps, err := x.Make([]order.Order{lst}, alice, 0)
	if err != nil {
		t.Fatalf("make: %v", err)
	}

	cheaper := lst
	cheaper.Price = eth001 / 2
	results, err := x.Edit([]book.Edit{{Old: fps[0], New: cheaper}}, alice, 0)
	if err != nil {
		t.Fatalf("edit: %v", err)
	}
	if x.FilledAmount(fps[0]) != order.FilledClosed {
		t.Error("old fingerprint should be tombstoned")
	}

	// Matching against the old order fails; the new one fills at half
	// price.
	bid := order.Order{
		Side:  order.Bid,
		Kind:  order.FixedPriceForItem,
		Maker: carol,
		Asset: order.Asset{Collection: collection, TokenID: 1, Amount: 1},
		Price: eth001,
		Salt:  2,
	}
	if _, err := x.Match(lst, bid, carol, eth001); !errors.Is(err, order.ErrOrderClosed) {
		t.Fatalf("match old error = %v, want ErrOrderClosed", err)
	}

	trade, err := x.Match(cheaper, bid, carol, eth001/2)
	if err != nil {
		t.Fatalf("match new: %v", err)
	}
	if trade.Price != eth001/2 {
		t.Errorf("fill price = %d, want %d", trade.Price, eth001/2)
	}
	if trade.ListFp != results[0] {
		t.Error("trade references the wrong listing")
	}
}

// A batch of pairs settles independently: bad pairs are skipped, good
// ones execute, and only the consumed budget leaves the buyer.
func TestE2E_BatchSweep(t *testing.T) {
	w := newWorld(t)
	x := w.exchange

	listings := []order.Order{
		listing(alice, 1, eth001, 1),
		listing(alice, 2, 2*eth001, 2),
		listing(bob, 4, eth001, 3),
	}
	for _, lst := range listings {
		if _, err := x.Make([]order.Order{lst}, lst.Maker, 0); err != nil {
			t.Fatalf("make: %v", err)
		}
	}

	adHoc := func(lst order.Order, salt uint64) order.Order {
		return order.Order{
			Side:  order.Bid,
			Kind:  order.FixedPriceForItem,
			Maker: carol,
			Asset: lst.Asset,
			Price: lst.Price,
			Salt:  salt,
		}
	}

	ghost := listing(bob, 5, eth001, 4) // never made
	pairs := []engine.Pair{
		{Sell: listings[0], Buy: adHoc(listings[0], 10)},
		{Sell: ghost, Buy: adHoc(ghost, 11)},
		{Sell: listings[1], Buy: adHoc(listings[1], 12)},
		{Sell: listings[2], Buy: adHoc(listings[2], 13)},
	}

	before := w.ledger.NativeBalance(carol)
	results, trades := x.MatchBatch(pairs, carol, 4*eth001)
	if !results[0] || results[1] || !results[2] || !results[3] {
		t.Fatalf("results = %v, want [true false true true]", results)
	}
	if len(trades) != 3 {
		t.Fatalf("got %d trades, want 3", len(trades))
	}
	if got := before - w.ledger.NativeBalance(carol); got != 4*eth001 {
		t.Errorf("spent = %d, want %d (1 + 2 + 1 fills)", got, 4*eth001)
	}

	// Conservation across the whole run
	total := w.ledger.NativeBalance(alice) + w.ledger.NativeBalance(bob) +
		w.ledger.NativeBalance(carol) + w.ledger.NativeBalance(vault.Address)
	if total != 1_000*eth001 {
		t.Fatalf("total native = %d, want %d", total, 1_000*eth001)
	}
}

// Fees accrue across trades and only the operator can withdraw them.
func TestE2E_FeeAccrualAndWithdrawal(t *testing.T) {
	w := newWorld(t)
	x := w.exchange

	for i, tokenID := range []uint64{1, 2} {
		lst := listing(alice, tokenID, eth001, uint64(1+i))
		if _, err := x.Make([]order.Order{lst}, alice, 0); err != nil {
			t.Fatalf("make: %v", err)
		}
		bid := order.Order{
			Side:  order.Bid,
			Kind:  order.FixedPriceForItem,
			Maker: carol,
			Asset: order.Asset{Collection: collection, TokenID: tokenID, Amount: 1},
			Price: eth001,
			Salt:  uint64(10 + i),
		}
		if _, err := x.Match(lst, bid, carol, eth001); err != nil {
			t.Fatalf("match: %v", err)
		}
	}

	fee := eth001 * 200 / 10_000
	if x.FeeBalance() != 2*fee {
		t.Fatalf("fee balance = %d, want %d", x.FeeBalance(), 2*fee)
	}

	if err := x.WithdrawFees(operator, 2*fee, carol); !errors.Is(err, order.ErrSenderInvalid) {
		t.Fatalf("non-operator withdraw error = %v, want ErrSenderInvalid", err)
	}
	if err := x.WithdrawFees(operator, 2*fee, operator); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if got := w.ledger.NativeBalance(operator); got != 2*fee {
		t.Errorf("operator balance = %d, want %d", got, 2*fee)
	}
	if x.FeeBalance() != 0 {
		t.Errorf("fee balance after withdrawal = %d, want 0", x.FeeBalance())
	}
}
