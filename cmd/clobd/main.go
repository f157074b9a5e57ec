package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ethereum/go-ethereum/common"

	"github.com/quartzex/clob/params"
	"github.com/quartzex/clob/pkg/api"
	"github.com/quartzex/clob/pkg/exchange"
	"github.com/quartzex/clob/pkg/storage"
	"github.com/quartzex/clob/pkg/util"
)

func main() {
	// Load config from .env file and environment variables.
	cfg := params.LoadFromEnv("")

	logger, err := util.NewLoggerWithFile(cfg.Node.LogFile)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.Node.LogFile)

	store, err := storage.NewStore(cfg.Node.DBPath)
	if err != nil {
		sugar.Fatalw("store_open_failed", "path", cfg.Node.DBPath, "err", err)
	}
	defer store.Close()

	// Devnet custody: an in-process vault. A production deployment swaps in
	// a Custody implementation backed by the real transfer authority.
	vault := exchange.NewInMemoryVault()

	ex := exchange.New(cfg.Book, vault, store, util.RealClock{}, logger)
	if err := ex.Restore(); err != nil {
		sugar.Fatalw("restore_failed", "err", err)
	}

	// One-shot bootstrap from env on first run.
	if fc := os.Getenv("FEE_COLLECTOR"); fc != "" && common.IsHexAddress(fc) {
		if err := ex.InitializeGlobalState(common.HexToAddress(fc)); err != nil {
			sugar.Infow("global_state_bootstrap_skipped", "reason", err.Error())
		}
	}
	if pair := os.Getenv("BOOTSTRAP_PAIR"); pair != "" {
		parts := strings.SplitN(pair, "/", 2)
		if len(parts) == 2 {
			if err := ex.InitializeOrderBook(parts[0], parts[1]); err != nil {
				sugar.Infow("book_bootstrap_skipped", "pair", pair, "reason", err.Error())
			}
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	apiServer := api.NewServer(ex)
	go func() {
		sugar.Infow("api_server_starting", "addr", cfg.Node.APIAddr)
		if err := apiServer.Start(cfg.Node.APIAddr); err != nil {
			sugar.Fatalw("api_server_failed", "err", err)
		}
	}()

	sugar.Infow("node_started",
		"pairs", ex.Pairs(),
		"depth", cfg.Book.Depth,
		"maker_capacity", cfg.Book.MakerCapacity,
		"fee_bps", cfg.Book.FeeBps)

	<-ctx.Done()
	sugar.Info("shutting down")
}
