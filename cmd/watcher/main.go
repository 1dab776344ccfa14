package main

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/p2plend/client/internal/blockchain"
	"github.com/p2plend/client/internal/config"
	"github.com/p2plend/client/internal/events"
	"github.com/p2plend/client/internal/observability"
	"github.com/p2plend/client/internal/session"
	"github.com/p2plend/client/internal/settings"
)

// watcher prints every ledger signal relevant to the wallet account as one JSON
// line on stdout. Logs go to stderr.
func main() {
	cfg, err := config.Load()
	if err != nil {
		observability.NewLoggerTo(os.Stderr, "local", "").Error("invalid configuration", "err", err)
		os.Exit(1)
	}
	logger := observability.NewLoggerTo(os.Stderr, cfg.Env, cfg.LogFile)

	contract := blockchain.DefaultContract()
	if cfg.ContractAddress != "" {
		contract = common.HexToAddress(cfg.ContractAddress)
	}
	manager := session.NewManager(
		session.NewRPCDialer(session.RPCConfig{
			URL:          cfg.RPCURL,
			KeystoreDir:  cfg.KeystoreDir,
			Passphrase:   cfg.Passphrase,
			PrivateKey:   cfg.PrivateKey,
			PollInterval: cfg.NetworkPoll,
		}, logger),
		settings.NewResolver(settings.NewMemoryStore(), contract, logger),
		session.Options{ExpectedChainID: cfg.ExpectedChainID(), Logger: logger},
	)

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	connectCtx, cancel := context.WithTimeout(sigCtx, 10*time.Second)
	snap, err := manager.Connect(connectCtx)
	cancel()
	if err != nil {
		logger.Error("failed to connect ledger session", "err", err)
		os.Exit(1)
	}
	defer manager.Disconnect()

	bus := events.NewBus(manager, logger, nil)
	defer bus.Close()
	subs := make([]*events.Subscription, 0, len(events.Categories))
	for _, category := range events.Categories {
		subs = append(subs, bus.Subscribe(category, 16))
	}

	watcher := events.NewWatcher(manager, bus, events.WatcherConfig{
		StartBlock:    cfg.EventStartBlock,
		BlockBatch:    cfg.EventBlockBatch,
		Confirmations: cfg.EventConfirmations,
		PollInterval:  cfg.EventPoll,
	}, logger)

	out := json.NewEncoder(os.Stdout)
	for _, sub := range subs {
		go func(sub *events.Subscription) {
			for {
				select {
				case <-sub.Done():
					return
				case sig := <-sub.C():
					if err := out.Encode(sig); err != nil {
						logger.Error("write signal failed", "err", err)
					}
				}
			}
		}(sub)
	}

	logger.Info("watcher started", "account", snap.Account.Hex(), "contract", snap.Contract.Hex(), "interval", cfg.EventPoll.String())
	if err := watcher.Run(sigCtx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("watcher failed", "err", err)
		os.Exit(1)
	}
	for _, sub := range subs {
		sub.Unsubscribe()
	}
	logger.Info("watcher stopped")
}
