package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/p2plend/client/internal/blockchain"
	"github.com/p2plend/client/internal/config"
	"github.com/p2plend/client/internal/db"
	"github.com/p2plend/client/internal/domain/borrower"
	"github.com/p2plend/client/internal/domain/investor"
	"github.com/p2plend/client/internal/events"
	"github.com/p2plend/client/internal/http/handlers"
	"github.com/p2plend/client/internal/observability"
	"github.com/p2plend/client/internal/reconcile"
	postgresrepo "github.com/p2plend/client/internal/repository/postgres"
	"github.com/p2plend/client/internal/server"
	"github.com/p2plend/client/internal/session"
	"github.com/p2plend/client/internal/settings"
	"github.com/p2plend/client/internal/version"
	"github.com/p2plend/client/internal/views"
	"github.com/p2plend/client/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}
	logger := observability.NewLogger(cfg.Env, cfg.LogFile)
	metrics := observability.NewMetrics()

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, pool, err := openSettings(sigCtx, cfg)
	if err != nil {
		logger.Error("failed to open settings store", "store", cfg.SettingsStore, "err", err)
		os.Exit(1)
	}
	defer store.Close()
	if pool != nil {
		defer pool.Close()
	}

	fallback := blockchain.DefaultContract()
	if cfg.ContractAddress != "" {
		fallback = common.HexToAddress(cfg.ContractAddress)
	}
	resolver := settings.NewResolver(store, fallback, logger)

	manager := session.NewManager(
		session.NewRPCDialer(session.RPCConfig{
			URL:          cfg.RPCURL,
			KeystoreDir:  cfg.KeystoreDir,
			Passphrase:   cfg.Passphrase,
			PrivateKey:   cfg.PrivateKey,
			PollInterval: cfg.NetworkPoll,
		}, logger),
		resolver,
		session.Options{ExpectedChainID: cfg.ExpectedChainID(), GasLimit: cfg.GasLimit, Logger: logger},
	)

	gateway := blockchain.NewGateway(manager, logger, metrics)
	bus := events.NewBus(manager, logger, metrics)
	watcher := events.NewWatcher(manager, bus, events.WatcherConfig{
		StartBlock:    cfg.EventStartBlock,
		BlockBatch:    cfg.EventBlockBatch,
		Confirmations: cfg.EventConfirmations,
		PollInterval:  cfg.EventPoll,
	}, logger)

	borrowerSvc := borrower.NewService(gateway, manager, logger, metrics)
	investorSvc := investor.NewService(gateway, manager, logger, metrics, 0)

	hub := ws.NewHub()
	notifier := ws.NewNotifier(hub, logger)
	display := views.Display{Currency: cfg.DisplayCurrency, Rate: cfg.DisplayRate}

	reconciler := reconcile.New(reconcile.Deps{
		Session:   manager,
		Signals:   bus,
		Watcher:   watcher,
		Borrower:  borrowerSvc,
		Investor:  investorSvc,
		Publisher: notifier,
		Display:   display,
		Logger:    logger,
	})

	deps := server.Dependencies{
		Session:         manager,
		SessionHandler:  handlers.NewSessionHandler(reconciler, manager),
		BorrowerHandler: handlers.NewBorrowerHandler(borrowerSvc, reconciler, display),
		InvestorHandler: handlers.NewInvestorHandler(investorSvc, reconciler, display),
		SettingsHandler: handlers.NewSettingsHandler(resolver, reconciler),
		OpsHandler:      handlers.NewOpsHandler(gateway, display),
		Stream:          ws.NewHandler(hub, notifier, logger).HandleWebSocket,
		Metrics:         metrics.Handler(),
		Recorder:        metrics,
	}
	if pool != nil {
		deps.Pinger = pool
	}
	httpServer := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           server.NewRouter(cfg, logger, deps),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, ctx := errgroup.WithContext(sigCtx)
	g.Go(func() error {
		logger.Info("api server starting", "addr", cfg.Addr(), "version", version.Version)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		if err := reconciler.Start(ctx); err != nil {
			logger.Warn("ledger session not established, waiting for manual connect", "err", err)
		}
		<-ctx.Done()
		reconciler.Stop()
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server failed", "err", err)
		os.Exit(1)
	}
	logger.Info("api server stopped")
}

func openSettings(ctx context.Context, cfg config.Config) (settings.Store, *pgxpool.Pool, error) {
	switch cfg.SettingsStore {
	case config.SettingsPostgres:
		dbCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		pool, err := db.NewPostgresPool(dbCtx, cfg)
		if err != nil {
			return nil, nil, err
		}
		repo := postgresrepo.NewSettingsRepository(pool)
		if err := repo.EnsureSchema(dbCtx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return repo, pool, nil
	case config.SettingsMemory:
		return settings.NewMemoryStore(), nil, nil
	default:
		store, err := settings.OpenBolt(cfg.SettingsPath)
		if err != nil {
			return nil, nil, err
		}
		return store, nil, nil
	}
}
