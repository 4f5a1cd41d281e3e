package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/uhyunpark/hyperfill/params"
	"github.com/uhyunpark/hyperfill/pkg/api"
	"github.com/uhyunpark/hyperfill/pkg/app/core/market"
	"github.com/uhyunpark/hyperfill/pkg/app/core/orderbook"
	"github.com/uhyunpark/hyperfill/pkg/app/spot"
	"github.com/uhyunpark/hyperfill/pkg/chain"
	"github.com/uhyunpark/hyperfill/pkg/crypto"
	"github.com/uhyunpark/hyperfill/pkg/metrics"
	"github.com/uhyunpark/hyperfill/pkg/settlement"
	"github.com/uhyunpark/hyperfill/pkg/storage"
	"github.com/uhyunpark/hyperfill/pkg/util"
)

func main() {
	// Load config from .env file and environment variables
	cfg, err := params.LoadFromEnv("")
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// Setup logging (write to both console and file)
	logger, err := util.NewLoggerWithFile(cfg.Node.LogFile, util.ParseLevel(cfg.Node.LogLevel))
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	logger.Info("logger_initialized", zap.String("log_file", cfg.Node.LogFile))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	epoch := orderbook.NewEpoch()
	logger.Info("book_epoch", zap.String("epoch", epoch))
	registry := market.NewMarketRegistry(orderbook.Options{
		PriceScale:    cfg.Settlement.PriceScale,
		QuantityScale: cfg.Settlement.QuantityScale,
		Epoch:         epoch,
	})

	opts := []spot.Option{spot.WithMetrics(m), spot.WithLogger(logger)}

	// ---- Settlement (optional) ----
	if cfg.Settlement.Enabled() {
		store, coord, err := setupSettlement(cfg, m, logger)
		if err != nil {
			logger.Fatal("settlement_init_failed", zap.Error(err))
		}
		defer store.Close()
		opts = append(opts, spot.WithSettler(coord), spot.WithLedger(store))
		logger.Info("settlement_enabled",
			zap.String("engine", coord.EngineAddress().Hex()),
			zap.Int("networks", len(coord.Networks())),
			zap.Bool("require_client_signatures", cfg.Settlement.RequireClientSignatures),
			zap.Bool("auto_settle", cfg.Settlement.AutoSettle))
	} else {
		logger.Warn("settlement_disabled", zap.String("reason", "ENGINE_PRIVATE_KEY not set"))
	}

	app := spot.NewApp(spot.Config{
		RequireCallerSignatures: cfg.Settlement.RequireClientSignatures,
		AutoSettle:              cfg.Settlement.AutoSettle,
	}, registry, opts...)

	// ---- API Server ----
	apiServer := api.NewServer(app, api.Options{
		CORSOrigins: cfg.Node.CORSOrigins,
		Metrics:     m.Handler(),
		Logger:      logger,
	})

	go func() {
		if err := apiServer.Start(cfg.Node.APIAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("api_server_failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("node_stopping")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("api_shutdown_failed", zap.Error(err))
	}
	app.Close()
}

func setupSettlement(cfg params.Config, m *metrics.Metrics, logger *zap.Logger) (*storage.PebbleStore, *settlement.Coordinator, error) {
	engine, err := crypto.FromPrivateKeyHex(cfg.Settlement.EnginePrivateKey)
	if err != nil {
		return nil, nil, err
	}
	scfg, err := cfg.Settlement.SettlementConfig()
	if err != nil {
		return nil, nil, err
	}
	keys, err := cfg.Settlement.Keyring()
	if err != nil {
		return nil, nil, err
	}

	store, err := storage.NewPebbleStore(filepath.Join(cfg.Node.DataDir, "settlement"))
	if err != nil {
		return nil, nil, err
	}

	dialer := &chain.EVMDialer{
		Key:      engine.PrivateKey(),
		GasPrice: cfg.Settlement.GasPrice(),
		Logger:   logger,
	}
	coord, err := settlement.NewCoordinator(scfg, dialer, engine,
		settlement.WithJournal(store),
		settlement.WithRecorder(m),
		settlement.WithKeyring(keys),
		settlement.WithLogger(logger),
	)
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	return store, coord, nil
}
