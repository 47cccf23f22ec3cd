package order

import (
	"errors"
	"math"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func validBid() Order {
	return Order{
		Side:  Bid,
		Kind:  FixedPriceForItem,
		Maker: common.HexToAddress("0xB0B0000000000000000000000000000000000001"),
		Asset: Asset{
			Collection: common.HexToAddress("0x1000000000000000000000000000000000000001"),
			TokenID:    7,
			Amount:     1,
		},
		Price: 1_000_000,
		Salt:  42,
	}
}

func TestOrder_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Order)
		wantErr error
	}{
		{
			name:   "valid item bid",
			mutate: func(o *Order) {},
		},
		{
			name: "valid collection bid",
			mutate: func(o *Order) {
				o.Kind = FixedPriceForCollection
				o.Asset.TokenID = 0
				o.Asset.Amount = 5
			},
		},
		{
			name:   "valid listing",
			mutate: func(o *Order) { o.Side = List },
		},
		{
			name:    "unknown side",
			mutate:  func(o *Order) { o.Side = 9 },
			wantErr: ErrSideMismatch,
		},
		{
			name:    "unknown sale kind",
			mutate:  func(o *Order) { o.Kind = 9 },
			wantErr: ErrKindMismatch,
		},
		{
			name: "collection-wide listing",
			mutate: func(o *Order) {
				o.Side = List
				o.Kind = FixedPriceForCollection
			},
			wantErr: ErrKindMismatch,
		},
		{
			name:    "zero salt",
			mutate:  func(o *Order) { o.Salt = 0 },
			wantErr: ErrZeroSalt,
		},
		{
			name:    "zero price",
			mutate:  func(o *Order) { o.Price = 0 },
			wantErr: ErrInvalidPrice,
		},
		{
			name:    "negative price",
			mutate:  func(o *Order) { o.Price = -1 },
			wantErr: ErrInvalidPrice,
		},
		{
			name:    "zero amount",
			mutate:  func(o *Order) { o.Asset.Amount = 0 },
			wantErr: ErrInvalidAmount,
		},
		{
			name: "multi-unit item listing",
			mutate: func(o *Order) {
				o.Side = List
				o.Asset.Amount = 2
			},
			wantErr: ErrInvalidAmount,
		},
		{
			name:    "multi-unit item bid",
			mutate:  func(o *Order) { o.Asset.Amount = 4 },
			wantErr: ErrInvalidAmount,
		},
		{
			name: "cost overflows int64",
			mutate: func(o *Order) {
				o.Kind = FixedPriceForCollection
				o.Asset.TokenID = 0
				o.Asset.Amount = 4
				o.Price = math.MaxInt64 / 2
			},
			wantErr: ErrInvalidPrice,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := validBid()
			tt.mutate(&o)
			err := o.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestOrder_Cost(t *testing.T) {
	o := validBid()
	o.Price = 1_000_000
	o.Asset.Amount = 5
	if got := o.Cost(); got != 5_000_000 {
		t.Errorf("Cost() = %d, want 5000000", got)
	}
}

func TestRecord_Lifecycle(t *testing.T) {
	o := validBid()
	o.Kind = FixedPriceForCollection
	o.Asset.TokenID = 0
	o.Asset.Amount = 3
	rec := &Record{Order: o}

	if !rec.Matchable() {
		t.Fatal("fresh record should be matchable")
	}
	if rec.Remaining() != 3 {
		t.Fatalf("Remaining() = %d, want 3", rec.Remaining())
	}

	rec.FillCount = 2
	if !rec.Matchable() || rec.Remaining() != 1 {
		t.Fatalf("partially filled record: matchable=%v remaining=%d", rec.Matchable(), rec.Remaining())
	}

	rec.FillCount = 3
	if rec.Matchable() {
		t.Fatal("fully filled record should not be matchable")
	}

	rec = &Record{Order: o, Closed: true}
	if rec.Matchable() {
		t.Fatal("closed record should not be matchable")
	}
}

func TestSide_String(t *testing.T) {
	if List.String() != "list" || Bid.String() != "bid" || Side(0).String() != "unknown" {
		t.Error("unexpected Side string values")
	}
	if FixedPriceForItem.String() != "item" || FixedPriceForCollection.String() != "collection" {
		t.Error("unexpected SaleKind string values")
	}
}
