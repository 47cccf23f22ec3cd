package engine

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/jmkim-dev/tidebook/pkg/core/asset"
	"github.com/jmkim-dev/tidebook/pkg/core/book"
	"github.com/jmkim-dev/tidebook/pkg/core/order"
	"github.com/jmkim-dev/tidebook/pkg/core/vault"
	"github.com/jmkim-dev/tidebook/pkg/util"
)

// Pair is one list/bid combination submitted for matching.
type Pair struct {
	Sell order.Order `json:"sell"`
	Buy  order.Order `json:"buy"`
}

// Trade records one executed fill.
type Trade struct {
	ID         string         `json:"id"`
	ListFp     common.Hash    `json:"listFp"`
	BidFp      common.Hash    `json:"bidFp"`
	Collection common.Address `json:"collection"`
	TokenID    uint64         `json:"tokenId"`
	Price      int64          `json:"price"` // fill price, always the listing's price
	Fee        int64          `json:"fee"`
	Seller     common.Address `json:"seller"`
	Buyer      common.Address `json:"buyer"`
	Timestamp  int64          `json:"timestamp"` // unix seconds
}

// Engine validates and executes list/bid pairs against the book and the
// vault, extracting the protocol fee on every fill.
//
// A bid can be matched two ways: as a standing, escrowed record (the
// seller accepts it, attaching no funds) or as an ad hoc order the buyer
// supplies while fulfilling a listing (funds drawn from the buyer's
// attached value). The listing itself must always be a standing record,
// since the asset unit is delivered out of its escrow.
type Engine struct {
	Logger *zap.SugaredLogger

	book       *book.Book
	vault      *vault.Vault
	fees       *vault.FeeLedger
	ledger     *asset.Ledger
	registry   *asset.Registry
	clock      util.Clock
	feeRateBps int64
}

func New(b *book.Book, v *vault.Vault, fees *vault.FeeLedger, ledger *asset.Ledger, registry *asset.Registry, clock util.Clock, feeRateBps int64) *Engine {
	return &Engine{
		book:       b,
		vault:      v,
		fees:       fees,
		ledger:     ledger,
		registry:   registry,
		clock:      clock,
		feeRateBps: feeRateBps,
	}
}

// matchPlan is the outcome of a fully validated pair, ready to execute.
type matchPlan struct {
	listFp, bidFp common.Hash
	listRec       *order.Record
	bidRec        *order.Record // nil for ad hoc bids
	listOrd       order.Order
	bidOrd        order.Order
	adHoc         bool
	fillPrice     int64
}

// validate runs the full check sequence for one pair without mutating
// anything. budget is the native value still available to fund ad hoc
// bids; strictValue additionally enforces that a seller accepting a
// standing bid attaches exactly zero (single-match semantics, relaxed
// inside batches where the value is shared).
func (e *Engine) validate(sell, buy order.Order, caller common.Address, budget int64, strictValue bool) (*matchPlan, error) {
	sellFp := e.book.Fingerprint(sell)
	buyFp := e.book.Fingerprint(buy)
	if sellFp == buyFp {
		return nil, order.ErrSameOrder
	}

	// Exactly one list against one bid; accept either argument order.
	listOrd, bidOrd := sell, buy
	listFp, bidFp := sellFp, buyFp
	if listOrd.Side != order.List || bidOrd.Side != order.Bid {
		if sell.Side == order.Bid && buy.Side == order.List {
			listOrd, bidOrd = buy, sell
			listFp, bidFp = buyFp, sellFp
		} else {
			return nil, order.ErrSideMismatch
		}
	}

	// The listing is always item-kind; the bid either targets that same
	// item or is collection-wide.
	if listOrd.Kind != order.FixedPriceForItem {
		return nil, order.ErrKindMismatch
	}
	if bidOrd.Kind != order.FixedPriceForItem && bidOrd.Kind != order.FixedPriceForCollection {
		return nil, order.ErrKindMismatch
	}

	if listOrd.Asset.Collection != bidOrd.Asset.Collection {
		return nil, order.ErrAssetMismatch
	}
	// Collection-wide bids do not pre-commit a tokenId; the seller's
	// offered item supplies it.
	if bidOrd.Kind == order.FixedPriceForItem && listOrd.Asset.TokenID != bidOrd.Asset.TokenID {
		return nil, order.ErrAssetMismatch
	}

	if !e.registry.Supported(listOrd.Asset.Collection) {
		return nil, fmt.Errorf("%w: %s", order.ErrUnsupportedAsset, listOrd.Asset.Collection.Hex())
	}

	listRec, ok := e.book.Get(listFp)
	if !ok || !listRec.Matchable() {
		return nil, fmt.Errorf("%w: listing %s", order.ErrOrderClosed, listFp.Hex())
	}
	bidRec, bidPersisted := e.book.Get(bidFp)
	if bidPersisted && !bidRec.Matchable() {
		return nil, fmt.Errorf("%w: bid %s", order.ErrOrderClosed, bidFp.Hex())
	}

	now := e.clock.Now().Unix()
	if listOrd.Expiry != 0 && listOrd.Expiry < now {
		return nil, fmt.Errorf("%w: listing %s", order.ErrOrderExpired, listFp.Hex())
	}
	if bidOrd.Expiry != 0 && bidOrd.Expiry < now {
		return nil, fmt.Errorf("%w: bid %s", order.ErrOrderExpired, bidFp.Hex())
	}

	callerIsSeller := caller == listOrd.Maker
	callerIsBuyer := caller == bidOrd.Maker
	if callerIsSeller == callerIsBuyer {
		// Neither side, or both sides of a self-trade.
		return nil, order.ErrSenderInvalid
	}

	// A counterpart already validated at creation skips the salt check.
	if !bidPersisted && bidOrd.Salt == 0 {
		return nil, order.ErrZeroSalt
	}

	fillPrice := listOrd.Price
	switch {
	case callerIsSeller:
		if strictValue && budget != 0 {
			return nil, order.ErrUnexpectedValue
		}
		if !bidPersisted {
			// A seller can only accept a bid that stands escrowed.
			return nil, fmt.Errorf("%w: bid %s", order.ErrOrderClosed, bidFp.Hex())
		}
		// The bid escrowed price*amount at its own unit price; a dearer
		// listing would overdraw it.
		if bidOrd.Price < fillPrice {
			return nil, fmt.Errorf("%w: bid %d, listing %d", order.ErrPriceTooLow, bidOrd.Price, fillPrice)
		}
	case bidPersisted:
		// Buyer matching their own standing bid: payment comes from its
		// escrow, no fresh funds accepted.
		if strictValue && budget != 0 {
			return nil, order.ErrUnexpectedValue
		}
		if bidOrd.Price < fillPrice {
			return nil, fmt.Errorf("%w: bid %d, listing %d", order.ErrPriceTooLow, bidOrd.Price, fillPrice)
		}
	default:
		if budget < fillPrice {
			return nil, fmt.Errorf("%w: budget %d, fill price %d", order.ErrValueTooLow, budget, fillPrice)
		}
		if bidOrd.Price < fillPrice {
			return nil, fmt.Errorf("%w: bid %d, listing %d", order.ErrPriceTooLow, bidOrd.Price, fillPrice)
		}
		if e.ledger.NativeBalance(caller) < fillPrice {
			return nil, fmt.Errorf("%w: caller %s", order.ErrInsufficientFunds, caller.Hex())
		}
	}

	var rec *order.Record
	if bidPersisted {
		rec = bidRec
	}
	return &matchPlan{
		listFp: listFp, bidFp: bidFp,
		listRec: listRec, bidRec: rec,
		listOrd: listOrd, bidOrd: bidOrd,
		adHoc: !bidPersisted, fillPrice: fillPrice,
	}, nil
}

// execute commits a validated plan. It cannot fail: every transfer was
// prevalidated and state is serialized, so any escrow shortfall panics
// inside the vault as a core bug.
func (e *Engine) execute(p *matchPlan, caller common.Address) *Trade {
	fee := feeFor(p.fillPrice, e.feeRateBps)

	if p.adHoc {
		// Fund the bid's escrow slot from the buyer's attached value so
		// ad hoc and standing bids settle through the same path.
		if err := e.vault.DepositNative(p.bidFp, caller, p.fillPrice); err != nil {
			panic(fmt.Errorf("match escrow out of sync: %w", err))
		}
	}

	e.vault.CollectFee(p.bidFp, e.fees, fee)
	e.vault.ReleaseNative(p.bidFp, p.listOrd.Maker, p.fillPrice-fee)
	e.vault.ReleaseAsset(p.listFp, p.bidOrd.Maker, 1)

	// Listings are item-kind: a single fill exhausts them.
	p.listRec.FillCount++
	p.listRec.Closed = true

	if p.bidRec != nil {
		p.bidRec.FillCount++
		if p.bidRec.FillCount == p.bidRec.Order.Asset.Amount {
			p.bidRec.Closed = true
			if residual, _ := e.vault.Balance(p.bidFp); residual > 0 {
				// Zero by construction; return any drift to the maker
				// rather than stranding it.
				e.vault.ReleaseNative(p.bidFp, p.bidRec.Order.Maker, residual)
			}
		}
	}

	now := e.clock.Now().Unix()
	trade := &Trade{
		ID:         fmt.Sprintf("trade-%s-%d", p.listFp.Hex()[2:10], now),
		ListFp:     p.listFp,
		BidFp:      p.bidFp,
		Collection: p.listOrd.Asset.Collection,
		TokenID:    p.listOrd.Asset.TokenID,
		Price:      p.fillPrice,
		Fee:        fee,
		Seller:     p.listOrd.Maker,
		Buyer:      p.bidOrd.Maker,
		Timestamp:  now,
	}

	if e.Logger != nil {
		e.Logger.Infow("match_executed",
			"trade", trade.ID, "list", p.listFp.Hex(), "bid", p.bidFp.Hex(),
			"token", trade.TokenID, "price", trade.Price, "fee", trade.Fee,
			"seller", trade.Seller.Hex(), "buyer", trade.Buyer.Hex(), "ad_hoc", p.adHoc)
	}
	return trade
}

// feeFor computes floor(price*bps/10000) without the intermediate
// product, which overflows int64 for prices above ~0.046 ETH at the
// default rate.
func feeFor(price, bps int64) int64 {
	return price/10000*bps + price%10000*bps/10000
}

// Match validates and executes a single list/bid pair. The first failing
// check aborts with its named error and no state change. A seller
// accepting a standing bid must attach zero value; a buyer fulfilling a
// listing must attach at least the fill price, of which exactly the fill
// price is drawn.
func (e *Engine) Match(sell, buy order.Order, caller common.Address, value int64) (*Trade, error) {
	plan, err := e.validate(sell, buy, caller, value, true)
	if err != nil {
		return nil, err
	}
	return e.execute(plan, caller), nil
}

// MatchBatch processes pairs independently, isolating failures: a
// failing pair is recorded as false and the batch proceeds, keeping the
// state changes of earlier successful pairs. The attached value is a
// shared budget for buyer-side ad hoc payments; each successful ad hoc
// pair consumes its fill price from it, and whatever the batch does not
// consume never leaves the caller.
func (e *Engine) MatchBatch(pairs []Pair, caller common.Address, value int64) ([]bool, []*Trade) {
	results := make([]bool, len(pairs))
	trades := make([]*Trade, 0, len(pairs))
	budget := value

	for i, pair := range pairs {
		plan, err := e.validate(pair.Sell, pair.Buy, caller, budget, false)
		if err != nil {
			if e.Logger != nil {
				e.Logger.Infow("match_rejected", "pair", i, "err", err.Error())
			}
			continue
		}
		if plan.adHoc {
			budget -= plan.fillPrice
		}
		trades = append(trades, e.execute(plan, caller))
		results[i] = true
	}
	return results, trades
}

// FeeRateBps returns the protocol fee rate in basis points.
func (e *Engine) FeeRateBps() int64 {
	return e.feeRateBps
}
