package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/jmkim-dev/tidebook/params"
	"github.com/jmkim-dev/tidebook/pkg/api"
	"github.com/jmkim-dev/tidebook/pkg/core"
	"github.com/jmkim-dev/tidebook/pkg/core/asset"
	"github.com/jmkim-dev/tidebook/pkg/core/order"
	"github.com/jmkim-dev/tidebook/pkg/storage"
	"github.com/jmkim-dev/tidebook/pkg/util"
)

func main() {
	// Load config from .env file and environment variables
	cfg := params.LoadFromEnv("") // "" means load from .env in current directory

	// Setup logging (write to both console and file)
	logger, err := util.NewLoggerWithFile(cfg.Node.LogFile)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.Node.LogFile)

	// ---- Asset substrate ----
	ledger := asset.NewLedger()
	registry := asset.NewRegistry()
	for i, addr := range cfg.Market.Collections {
		c := &asset.Collection{
			Address: addr,
			Name:    fmt.Sprintf("collection-%d", i),
		}
		if err := registry.Register(c); err != nil {
			sugar.Fatalw("collection_register_failed", "addr", addr.Hex(), "err", err)
		}
		sugar.Infow("collection_registered", "addr", addr.Hex())
	}

	// ---- Storage ----
	store, err := storage.NewStore(cfg.Node.DBPath)
	if err != nil {
		sugar.Fatalw("store_open_failed", "path", cfg.Node.DBPath, "err", err)
	}
	defer store.Close()

	// ---- Exchange ----
	exchange := core.New(ledger, registry, core.Options{
		Domain: order.Domain{
			Name:    "Tidebook",
			Version: "1",
			ChainID: cfg.Market.ChainID,
		},
		FeeRateBps: cfg.Market.FeeRateBps,
		Operator:   cfg.Market.Operator,
		Clock:      util.RealClock{},
		Store:      store,
		Logger:     sugar,
	})

	if err := exchange.Rehydrate(); err != nil {
		sugar.Fatalw("rehydrate_failed", "err", err)
	}

	sugar.Infow("market_starting",
		"fee_rate_bps", cfg.Market.FeeRateBps,
		"operator", cfg.Market.Operator.Hex(),
		"collections", registry.Count(),
		"chain_id", cfg.Market.ChainID)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- API Server ----
	apiServer := api.NewServer(exchange)
	go func() {
		sugar.Infow("api_server_starting", "addr", cfg.Node.APIAddr)
		if err := apiServer.Start(cfg.Node.APIAddr); err != nil {
			sugar.Fatalw("api_server_failed", "err", err)
		}
	}()

	<-ctx.Done()
	sugar.Info("shutting down")
}
