package params

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Market.FeeRateBps != 200 {
		t.Errorf("FeeRateBps = %d, want 200", cfg.Market.FeeRateBps)
	}
	if cfg.Market.ChainID.Int64() != 1337 {
		t.Errorf("ChainID = %s, want 1337", cfg.Market.ChainID)
	}
	if cfg.Node.APIAddr != ":8080" {
		t.Errorf("APIAddr = %q, want :8080", cfg.Node.APIAddr)
	}
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	t.Setenv("FEE_RATE_BPS", "250")
	t.Setenv("FEE_OPERATOR", "0xFEE0000000000000000000000000000000000004")
	t.Setenv("CHAIN_ID", "1")
	t.Setenv("COLLECTIONS", "0x1000000000000000000000000000000000000001, 0x2000000000000000000000000000000000000002")
	t.Setenv("API_ADDR", ":9090")
	t.Setenv("DB_PATH", "/tmp/test.db")

	cfg := LoadFromEnv("nonexistent.env")

	if cfg.Market.FeeRateBps != 250 {
		t.Errorf("FeeRateBps = %d, want 250", cfg.Market.FeeRateBps)
	}
	if cfg.Market.Operator != common.HexToAddress("0xFEE0000000000000000000000000000000000004") {
		t.Errorf("Operator = %s", cfg.Market.Operator.Hex())
	}
	if cfg.Market.ChainID.Int64() != 1 {
		t.Errorf("ChainID = %s, want 1", cfg.Market.ChainID)
	}
	if len(cfg.Market.Collections) != 2 {
		t.Fatalf("Collections = %d entries, want 2", len(cfg.Market.Collections))
	}
	if cfg.Node.APIAddr != ":9090" || cfg.Node.DBPath != "/tmp/test.db" {
		t.Errorf("node config = %+v", cfg.Node)
	}
}

func TestLoadFromEnv_InvalidValuesIgnored(t *testing.T) {
	t.Setenv("FEE_RATE_BPS", "10001") // above 100%
	t.Setenv("FEE_OPERATOR", "not-an-address")
	t.Setenv("CHAIN_ID", "-5")
	t.Setenv("COLLECTIONS", "garbage,")

	cfg := LoadFromEnv("nonexistent.env")

	if cfg.Market.FeeRateBps != 200 {
		t.Errorf("FeeRateBps = %d, want default 200", cfg.Market.FeeRateBps)
	}
	if cfg.Market.Operator != (common.Address{}) {
		t.Errorf("Operator = %s, want zero", cfg.Market.Operator.Hex())
	}
	if cfg.Market.ChainID.Int64() != 1337 {
		t.Errorf("ChainID = %s, want default 1337", cfg.Market.ChainID)
	}
	if len(cfg.Market.Collections) != 0 {
		t.Errorf("Collections = %v, want empty", cfg.Market.Collections)
	}
}
