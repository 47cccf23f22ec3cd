package params

import (
	"math/big"
	"os"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
)

type Market struct {
	// FeeRateBps is the protocol fee charged on every fill, in basis
	// points of the fill price. 200 = 2%.
	FeeRateBps int64
	// Operator is the only address allowed to withdraw accrued fees.
	Operator common.Address
	// ChainID scopes order fingerprints to one deployment.
	ChainID *big.Int
	// Collections are registered as supported at startup.
	Collections []common.Address
}

type Node struct {
	APIAddr string
	DBPath  string
	LogFile string
}

type Config struct {
	Market Market
	Node   Node
}

func Default() Config {
	return Config{
		Market: Market{
			FeeRateBps: 200,
			ChainID:    big.NewInt(1337),
		},
		Node: Node{
			APIAddr: ":8080",
			DBPath:  "data/market.db",
			LogFile: "data/market.log",
		},
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	// Try to load .env file (optional - won't fail if not exists)
	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load() // loads .env from current directory
	}

	if bps := os.Getenv("FEE_RATE_BPS"); bps != "" {
		if v, err := strconv.ParseInt(bps, 10, 64); err == nil && v >= 0 && v < 10000 {
			cfg.Market.FeeRateBps = v
		}
	}

	if op := os.Getenv("FEE_OPERATOR"); op != "" && common.IsHexAddress(op) {
		cfg.Market.Operator = common.HexToAddress(op)
	}

	if id := os.Getenv("CHAIN_ID"); id != "" {
		if v, err := strconv.ParseInt(id, 10, 64); err == nil && v > 0 {
			cfg.Market.ChainID = big.NewInt(v)
		}
	}

	// Comma-separated list of supported collection addresses.
	// Example: "0xabc...,0xdef..."
	if cols := os.Getenv("COLLECTIONS"); cols != "" {
		for _, raw := range strings.Split(cols, ",") {
			raw = strings.TrimSpace(raw)
			if common.IsHexAddress(raw) {
				cfg.Market.Collections = append(cfg.Market.Collections, common.HexToAddress(raw))
			}
		}
	}

	if addr := os.Getenv("API_ADDR"); addr != "" {
		cfg.Node.APIAddr = addr
	}
	if path := os.Getenv("DB_PATH"); path != "" {
		cfg.Node.DBPath = path
	}
	if path := os.Getenv("LOG_FILE"); path != "" {
		cfg.Node.LogFile = path
	}

	return cfg
}
