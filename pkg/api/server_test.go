package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/jmkim-dev/tidebook/pkg/core"
	"github.com/jmkim-dev/tidebook/pkg/core/asset"
	"github.com/jmkim-dev/tidebook/pkg/core/order"
	"github.com/jmkim-dev/tidebook/pkg/util"
)

const priceWei = int64(10_000_000_000_000_000) // 0.01 ETH

var (
	seller     = common.HexToAddress("0xA11CE00000000000000000000000000000000001")
	buyer      = common.HexToAddress("0xB0B0000000000000000000000000000000000002")
	operator   = common.HexToAddress("0xFEE0000000000000000000000000000000000004")
	collection = common.HexToAddress("0x1000000000000000000000000000000000000001")
)

func newTestServer(t *testing.T) (*Server, *core.Exchange) {
	t.Helper()
	t.Setenv("OP_LOG_FILE", filepath.Join(t.TempDir(), "operations.log"))

	ledger := asset.NewLedger()
	ledger.Mint(buyer, 100*priceWei)
	ledger.MintUnits(collection, 1, seller, 1)

	registry := asset.NewRegistry()
	if err := registry.Register(&asset.Collection{Address: collection, Name: "test"}); err != nil {
		t.Fatalf("register: %v", err)
	}

	x := core.New(ledger, registry, core.Options{
		Domain:     order.DefaultDomain(),
		FeeRateBps: 200,
		Operator:   operator,
		Clock:      util.FixedClock{T: time.Unix(1_700_000_000, 0)},
	})
	return NewServer(x), x
}

func doJSON(t *testing.T, s *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func listingPayload() OrderPayload {
	return OrderPayload{
		Side:       "list",
		Kind:       "item",
		Maker:      seller.Hex(),
		Collection: collection.Hex(),
		TokenID:    1,
		Amount:     1,
		Price:      "0.01",
		Salt:       1,
	}
}

func bidPayload(salt uint64) OrderPayload {
	p := listingPayload()
	p.Side = "bid"
	p.Maker = buyer.Hex()
	p.Salt = salt
	return p
}

func TestParseEther(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"0.01", 10_000_000_000_000_000, false},
		{"1", 1_000_000_000_000_000_000, false},
		{"0", 0, false},
		{"0.000000000000000001", 1, false},
		{"0.0000000000000000001", 0, true}, // sub-wei
		{"abc", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseEther(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseEther(%q) expected error", tt.in)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("ParseEther(%q) = (%d, %v), want %d", tt.in, got, err, tt.want)
		}
	}

	if got := FormatEther(10_000_000_000_000_000); got != "0.01" {
		t.Errorf("FormatEther = %q, want 0.01", got)
	}
}

func TestServer_Health(t *testing.T) {
	s, _ := newTestServer(t)
	w := doJSON(t, s, "GET", "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
}

func TestServer_Collections(t *testing.T) {
	s, _ := newTestServer(t)
	w := doJSON(t, s, "GET", "/api/v1/collections", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var got []CollectionInfo
	decode(t, w, &got)
	if len(got) != 1 || got[0].Address != collection.Hex() {
		t.Fatalf("collections = %+v, want the registered one", got)
	}
}

func TestServer_MakeAndGetOrder(t *testing.T) {
	s, x := newTestServer(t)

	w := doJSON(t, s, "POST", "/api/v1/orders", MakeRequest{
		Caller: seller.Hex(),
		Value:  "0",
		Orders: []OrderPayload{listingPayload()},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("make status = %d: %s", w.Code, w.Body.String())
	}
	var made MakeResponse
	decode(t, w, &made)
	if len(made.Fingerprints) != 1 {
		t.Fatalf("got %d fingerprints, want 1", len(made.Fingerprints))
	}

	w = doJSON(t, s, "GET", "/api/v1/orders/"+made.Fingerprints[0], nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}
	var info OrderInfo
	decode(t, w, &info)
	if info.Order.Price != "0.01" || info.Closed || info.Order.Side != "list" {
		t.Fatalf("order info = %+v, want open 0.01 listing", info)
	}

	// The record really exists in the exchange
	o, err := listingPayload().ToOrder()
	if err != nil {
		t.Fatalf("to order: %v", err)
	}
	if _, ok := x.Order(x.Fingerprint(o)); !ok {
		t.Fatal("order missing from exchange")
	}
}

func TestServer_MakeRejectsBadRequests(t *testing.T) {
	s, _ := newTestServer(t)

	bad := listingPayload()
	bad.Side = "hold"
	tests := []struct {
		name string
		req  MakeRequest
	}{
		{"invalid side", MakeRequest{Caller: seller.Hex(), Value: "0", Orders: []OrderPayload{bad}}},
		{"invalid caller", MakeRequest{Caller: "nope", Value: "0", Orders: []OrderPayload{listingPayload()}}},
		{"value mismatch", MakeRequest{Caller: buyer.Hex(), Value: "0", Orders: []OrderPayload{bidPayload(1)}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(t, s, "POST", "/api/v1/orders", tt.req)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", w.Code)
			}
			var er ErrorResponse
			decode(t, w, &er)
			if er.Error == "" {
				t.Fatal("error response missing error field")
			}
		})
	}
}

func TestServer_MatchFlow(t *testing.T) {
	s, x := newTestServer(t)

	w := doJSON(t, s, "POST", "/api/v1/orders", MakeRequest{
		Caller: seller.Hex(),
		Value:  "0",
		Orders: []OrderPayload{listingPayload()},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("make status = %d", w.Code)
	}

	w = doJSON(t, s, "POST", "/api/v1/match", MatchRequest{
		Caller: buyer.Hex(),
		Value:  "0.01",
		Sell:   listingPayload(),
		Buy:    bidPayload(2),
	})
	if w.Code != http.StatusOK {
		t.Fatalf("match status = %d: %s", w.Code, w.Body.String())
	}
	var trade TradeInfo
	decode(t, w, &trade)
	if trade.Price != "0.01" || trade.Seller != seller.Hex() || trade.Buyer != buyer.Hex() {
		t.Fatalf("trade = %+v", trade)
	}
	// 2% of 0.01
	if trade.Fee != "0.0002" {
		t.Errorf("trade fee = %q, want 0.0002", trade.Fee)
	}

	// Fees endpoint reflects the accrual
	w = doJSON(t, s, "GET", "/api/v1/fees", nil)
	var fees FeesInfo
	decode(t, w, &fees)
	if fees.Balance != "0.0002" || fees.RateBps != 200 || fees.Operator != operator.Hex() {
		t.Fatalf("fees = %+v", fees)
	}

	// Filled endpoint reads the closed sentinel as a string
	o, _ := listingPayload().ToOrder()
	fp := x.Fingerprint(o)
	w = doJSON(t, s, "GET", "/api/v1/orders/"+fp.Hex()+"/filled", nil)
	var filled map[string]string
	decode(t, w, &filled)
	if filled["filled"] != "9223372036854775807" {
		t.Errorf("filled = %q, want the closed sentinel", filled["filled"])
	}
}

func TestServer_CancelAndVault(t *testing.T) {
	s, _ := newTestServer(t)

	w := doJSON(t, s, "POST", "/api/v1/orders", MakeRequest{
		Caller: buyer.Hex(),
		Value:  "0.01",
		Orders: []OrderPayload{bidPayload(1)},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("make status = %d", w.Code)
	}
	var made MakeResponse
	decode(t, w, &made)

	w = doJSON(t, s, "GET", "/api/v1/orders/"+made.Fingerprints[0]+"/vault", nil)
	var vaultInfo VaultInfo
	decode(t, w, &vaultInfo)
	if vaultInfo.NativeBalance != "0.01" {
		t.Fatalf("vault balance = %q, want 0.01", vaultInfo.NativeBalance)
	}

	w = doJSON(t, s, "POST", "/api/v1/orders/cancel", CancelRequest{
		Caller:       buyer.Hex(),
		Fingerprints: made.Fingerprints,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("cancel status = %d", w.Code)
	}
	var cancelled CancelResponse
	decode(t, w, &cancelled)
	if !cancelled.Results[0] {
		t.Fatal("cancel should succeed")
	}
}

func TestServer_UnknownFingerprint(t *testing.T) {
	s, _ := newTestServer(t)

	fp := common.HexToHash("0x01").Hex()
	w := doJSON(t, s, "GET", "/api/v1/orders/"+fp, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}

	w = doJSON(t, s, "GET", "/api/v1/orders/nothex", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestServer_TradesLimitValidation(t *testing.T) {
	s, _ := newTestServer(t)
	w := doJSON(t, s, "GET", "/api/v1/trades?limit=0", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	w = doJSON(t, s, "GET", "/api/v1/trades", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
}
