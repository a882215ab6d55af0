package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"tranchepool/config"
	"tranchepool/observability/logging"
	"tranchepool/pool"
	"tranchepool/pool/adapters"
	"tranchepool/services/poold"
	"tranchepool/storage"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/poold/config.yaml", "path to poold config")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("POOL_ENV"))

	svcCfg, err := poold.LoadConfig(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := logging.Setup("poold", env, logging.Options{
		File:       svcCfg.Log.File,
		MaxSizeMB:  svcCfg.Log.MaxSizeMB,
		MaxBackups: svcCfg.Log.MaxBackups,
	})

	poolCfg, err := config.Load(svcCfg.PoolConfig)
	if err != nil {
		log.Fatalf("load pool config: %v", err)
	}
	model, err := poolCfg.BuildModel()
	if err != nil {
		log.Fatalf("build rate model: %v", err)
	}
	gate, err := poolCfg.BuildGate()
	if err != nil {
		log.Fatalf("build collateral gate: %v", err)
	}

	if err := os.MkdirAll(poolCfg.DataDir, 0o755); err != nil {
		log.Fatalf("create data dir: %v", err)
	}
	db, err := storage.NewLevelDB(filepath.Join(poolCfg.DataDir, "pool"))
	if err != nil {
		log.Fatalf("open pool database: %v", err)
	}
	defer func() { _ = db.Close() }()

	p := pool.NewPool(poolCfg.CurrencyAddress(), model, gate)
	p.SetGracePeriod(poolCfg.GracePeriodSeconds)
	p.SetLiquidator(loggingLiquidator{})
	for _, token := range poolCfg.NoteTokenAddresses() {
		if err := p.RegisterAdapter(adapters.NewNoteAdapter(token)); err != nil {
			log.Fatalf("register note adapter %s: %v", token.Hex(), err)
		}
	}
	switch err := p.Restore(db); {
	case err == nil:
		logger.Info("restored pool state", "data_dir", poolCfg.DataDir)
	case errors.Is(err, storage.ErrKeyNotFound):
		if err := p.Initialize(db); err != nil {
			log.Fatalf("initialize pool state: %v", err)
		}
		logger.Info("initialized fresh pool state", "data_dir", poolCfg.DataDir)
	default:
		log.Fatalf("restore pool state: %v", err)
	}
	p.SetTimestamp(uint64(time.Now().Unix()))

	var idem *poold.IdempotencyStore
	if svcCfg.IdempotencyDB != "" {
		idem, err = poold.NewIdempotencyStore(svcCfg.IdempotencyDB, svcCfg.IdempotencyTTL)
		if err != nil {
			log.Fatalf("open idempotency store: %v", err)
		}
		defer func() { _ = idem.Close() }()
	}

	server, err := poold.NewServer(p, poold.Options{
		Store:       db,
		Idempotency: idem,
		Logger:      logger,
		RateLimit:   svcCfg.RateLimit,
		APITokens:   svcCfg.Auth.APITokens,
	})
	if err != nil {
		log.Fatalf("build server: %v", err)
	}

	httpServer := &http.Server{
		Addr:              svcCfg.ListenAddress,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("poold listening", "address", svcCfg.ListenAddress)
		serverErr <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("forcing server stop", "error", err)
			_ = httpServer.Close()
		}
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("serve http: %v", err)
		}
	}
}

// loggingLiquidator records expired-loan handoffs. Auction integration posts
// the outcome back through the liquidated endpoint.
type loggingLiquidator struct{}

func (loggingLiquidator) Liquidate(encodedReceipt []byte) {
	receipt, err := pool.DecodeLoanReceipt(encodedReceipt)
	if err != nil {
		log.Printf("liquidator received undecodable receipt: %v", err)
		return
	}
	hash, err := receipt.Hash()
	if err != nil {
		return
	}
	log.Printf("collateral handed to liquidation: loan=%s token=%s id=%s", hash.Hex(), receipt.CollateralToken.Hex(), receipt.CollateralTokenID.String())
}
