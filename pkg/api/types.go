package api

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/jmkim-dev/tidebook/pkg/core/engine"
	"github.com/jmkim-dev/tidebook/pkg/core/order"
)

// API request/response types for REST endpoints and WebSocket messages.
// Prices cross the wire as decimal ether strings ("0.01") and are
// converted to wei internally.

var weiPerEther = decimal.New(1, 18)

// ParseEther converts a decimal ether string to wei.
func ParseEther(s string) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	wei := d.Mul(weiPerEther)
	if !wei.IsInteger() {
		return 0, fmt.Errorf("amount %q has sub-wei precision", s)
	}
	if !wei.BigInt().IsInt64() {
		return 0, fmt.Errorf("amount %q out of range", s)
	}
	return wei.IntPart(), nil
}

// FormatEther converts wei to a decimal ether string.
func FormatEther(wei int64) string {
	return decimal.New(wei, 0).Div(weiPerEther).String()
}

// ==============================
// REST Request Types
// ==============================

// OrderPayload is the wire form of an order.
type OrderPayload struct {
	Side       string `json:"side"`       // "list" or "bid"
	Kind       string `json:"kind"`       // "item" or "collection"
	Maker      string `json:"maker"`      // Ethereum address
	Collection string `json:"collection"` // NFT contract address
	TokenID    uint64 `json:"tokenId"`
	Amount     int64  `json:"amount"`
	Price      string `json:"price"`  // Decimal ether, e.g. "0.01"
	Expiry     int64  `json:"expiry"` // Unix seconds, 0 = never
	Salt       uint64 `json:"salt"`
}

// ToOrder converts the payload to a core order.
func (p OrderPayload) ToOrder() (order.Order, error) {
	var o order.Order

	switch p.Side {
	case "list":
		o.Side = order.List
	case "bid":
		o.Side = order.Bid
	default:
		return o, fmt.Errorf("invalid side %q", p.Side)
	}

	switch p.Kind {
	case "item":
		o.Kind = order.FixedPriceForItem
	case "collection":
		o.Kind = order.FixedPriceForCollection
	default:
		return o, fmt.Errorf("invalid kind %q", p.Kind)
	}

	if !common.IsHexAddress(p.Maker) {
		return o, fmt.Errorf("invalid maker address %q", p.Maker)
	}
	if !common.IsHexAddress(p.Collection) {
		return o, fmt.Errorf("invalid collection address %q", p.Collection)
	}

	price, err := ParseEther(p.Price)
	if err != nil {
		return o, err
	}

	o.Maker = common.HexToAddress(p.Maker)
	o.Asset = order.Asset{
		Collection: common.HexToAddress(p.Collection),
		TokenID:    p.TokenID,
		Amount:     p.Amount,
	}
	o.Price = price
	o.Expiry = p.Expiry
	o.Salt = p.Salt
	return o, nil
}

// PayloadFromOrder converts a core order back to wire form.
func PayloadFromOrder(o order.Order) OrderPayload {
	side := "list"
	if o.Side == order.Bid {
		side = "bid"
	}
	kind := "item"
	if o.Kind == order.FixedPriceForCollection {
		kind = "collection"
	}
	return OrderPayload{
		Side:       side,
		Kind:       kind,
		Maker:      o.Maker.Hex(),
		Collection: o.Asset.Collection.Hex(),
		TokenID:    o.Asset.TokenID,
		Amount:     o.Asset.Amount,
		Price:      FormatEther(o.Price),
		Expiry:     o.Expiry,
		Salt:       o.Salt,
	}
}

// MakeRequest is the payload for POST /api/v1/orders
type MakeRequest struct {
	Caller string         `json:"caller"`
	Value  string         `json:"value"` // Decimal ether backing all bids in the batch
	Orders []OrderPayload `json:"orders"`
}

// MakeResponse returns the fingerprints of the created orders
type MakeResponse struct {
	Fingerprints []string `json:"fingerprints"`
}

// CancelRequest is the payload for POST /api/v1/orders/cancel
type CancelRequest struct {
	Caller       string   `json:"caller"`
	Fingerprints []string `json:"fingerprints"`
}

// CancelResponse reports per-fingerprint outcomes
type CancelResponse struct {
	Results []bool `json:"results"`
}

// EditEntry pairs an existing order fingerprint with its replacement
type EditEntry struct {
	Old string       `json:"old"` // Fingerprint of the order being replaced
	New OrderPayload `json:"new"`
}

// EditRequest is the payload for POST /api/v1/orders/edit
type EditRequest struct {
	Caller string      `json:"caller"`
	Value  string      `json:"value"` // Decimal ether covering positive bid deltas
	Edits  []EditEntry `json:"edits"`
}

// EditResponse returns the new fingerprint per slot, zero hash for skipped slots
type EditResponse struct {
	Fingerprints []string `json:"fingerprints"`
}

// MatchRequest is the payload for POST /api/v1/match
type MatchRequest struct {
	Caller string       `json:"caller"`
	Value  string       `json:"value"` // Decimal ether, ad hoc buyer funds
	Sell   OrderPayload `json:"sell"`
	Buy    OrderPayload `json:"buy"`
}

// PairPayload is one sell/buy pair in a batch match
type PairPayload struct {
	Sell OrderPayload `json:"sell"`
	Buy  OrderPayload `json:"buy"`
}

// MatchBatchRequest is the payload for POST /api/v1/match/batch
type MatchBatchRequest struct {
	Caller string        `json:"caller"`
	Value  string        `json:"value"` // Shared budget across the batch
	Pairs  []PairPayload `json:"pairs"`
}

// MatchBatchResponse reports per-pair outcomes and executed trades
type MatchBatchResponse struct {
	Results []bool      `json:"results"`
	Trades  []TradeInfo `json:"trades"`
}

// WithdrawRequest is the payload for POST /api/v1/fees/withdraw
type WithdrawRequest struct {
	Caller string `json:"caller"` // Must be the fee operator
	To     string `json:"to"`
	Amount string `json:"amount"` // Decimal ether
}

// ==============================
// REST Response Types
// ==============================

// OrderInfo represents a stored order record
type OrderInfo struct {
	Fingerprint string       `json:"fingerprint"`
	Order       OrderPayload `json:"order"`
	FillCount   int64        `json:"fillCount"`
	Remaining   int64        `json:"remaining"`
	Closed      bool         `json:"closed"`
}

// VaultInfo represents an order's escrow account
type VaultInfo struct {
	Fingerprint   string `json:"fingerprint"`
	NativeBalance string `json:"nativeBalance"` // Decimal ether
	AssetUnits    int64  `json:"assetUnits"`
}

// CollectionInfo represents a tradeable NFT collection
type CollectionInfo struct {
	Address string `json:"address"`
	Name    string `json:"name"`
}

// FeesInfo represents the accrued fee ledger
type FeesInfo struct {
	Balance  string `json:"balance"` // Decimal ether
	RateBps  int64  `json:"rateBps"`
	Operator string `json:"operator"`
}

// TradeInfo represents an executed match
type TradeInfo struct {
	ID         string `json:"id"`
	ListFp     string `json:"listFingerprint"`
	BidFp      string `json:"bidFingerprint"`
	Collection string `json:"collection"`
	TokenID    uint64 `json:"tokenId"`
	Price      string `json:"price"` // Decimal ether
	Fee        string `json:"fee"`   // Decimal ether
	Seller     string `json:"seller"`
	Buyer      string `json:"buyer"`
	Timestamp  int64  `json:"timestamp"` // Unix seconds
}

func tradeInfo(t *engine.Trade) TradeInfo {
	return TradeInfo{
		ID:         t.ID,
		ListFp:     t.ListFp.Hex(),
		BidFp:      t.BidFp.Hex(),
		Collection: t.Collection.Hex(),
		TokenID:    t.TokenID,
		Price:      FormatEther(t.Price),
		Fee:        FormatEther(t.Fee),
		Seller:     t.Seller.Hex(),
		Buyer:      t.Buyer.Hex(),
		Timestamp:  t.Timestamp,
	}
}

// ErrorResponse is returned for all errors
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// ==============================
// WebSocket Message Types
// ==============================

// WSSubscribeRequest is sent by client to subscribe to channels
type WSSubscribeRequest struct {
	Op       string   `json:"op"`       // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"` // e.g., ["trades", "orders"]
}

// TradeUpdate is broadcast on the "trades" channel when a match executes
type TradeUpdate struct {
	Type  string    `json:"type"` // "trade"
	Trade TradeInfo `json:"trade"`
}

// OrderUpdate is broadcast on the "orders" channel when orders change state
type OrderUpdate struct {
	Type         string   `json:"type"`  // "order"
	Event        string   `json:"event"` // "made" | "cancelled" | "edited" | "filled"
	Fingerprints []string `json:"fingerprints"`
	Timestamp    int64    `json:"timestamp"` // Unix milliseconds
}
