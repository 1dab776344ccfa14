package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"github.com/p2plend/client/internal/blockchain"
)

// Dispatcher accepts decoded ledger events.
type Dispatcher interface {
	Dispatch(ctx context.Context, raw RawEvent) bool
}

type WatcherConfig struct {
	// StartBlock is the first block to scan. Zero starts at the head seen on the first poll.
	StartBlock    uint64
	BlockBatch    uint64
	Confirmations uint64
	PollInterval  time.Duration
}

// Watcher polls the bound contract's logs and feeds decoded events to a Dispatcher.
type Watcher struct {
	source     blockchain.BindingSource
	dispatcher Dispatcher
	cfg        WatcherConfig
	logger     *slog.Logger

	contract  common.Address
	cursor    uint64
	hasCursor bool
}

func NewWatcher(source blockchain.BindingSource, dispatcher Dispatcher, cfg WatcherConfig, logger *slog.Logger) *Watcher {
	if cfg.BlockBatch == 0 {
		cfg.BlockBatch = 500
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 4 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{source: source, dispatcher: dispatcher, cfg: cfg, logger: logger}
}

// Run polls until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()
	for {
		if err := w.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			if errors.Is(err, blockchain.ErrNotConnected) {
				w.logger.Debug("event watcher idle", "err", err)
			} else {
				w.logger.Error("event poll failed", "err", err)
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce scans at most one batch of confirmed blocks past the cursor.
func (w *Watcher) RunOnce(ctx context.Context) error {
	binding, err := w.source.Binding()
	if err != nil {
		return err
	}
	logs := binding.Logs()
	if logs == nil {
		return fmt.Errorf("binding has no log source")
	}
	if binding.Address != w.contract {
		w.contract = binding.Address
		w.hasCursor = false
	}

	latest, err := logs.BlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("read block number: %w", err)
	}
	if latest < w.cfg.Confirmations {
		return nil
	}
	safeHead := latest - w.cfg.Confirmations

	var fromBlock uint64
	switch {
	case w.hasCursor:
		fromBlock = w.cursor + 1
	case w.cfg.StartBlock > 0:
		fromBlock = w.cfg.StartBlock
	default:
		w.cursor, w.hasCursor = safeHead, true
		w.logger.Info("event watcher started at head", "block", safeHead, "contract", binding.Address.Hex())
		return nil
	}
	if fromBlock > safeHead {
		return nil
	}

	toBlock := min(safeHead, fromBlock+w.cfg.BlockBatch-1)
	entries, err := logs.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: []common.Address{binding.Address},
		Topics:    [][]common.Hash{watchedTopics},
	})
	if err != nil {
		return fmt.Errorf("filter logs %d-%d: %w", fromBlock, toBlock, err)
	}

	for _, entry := range entries {
		if entry.Removed {
			continue
		}
		raw, ok, err := decodeLog(entry)
		if err != nil {
			w.logger.Warn("skipping undecodable ledger log", "tx", entry.TxHash.Hex(), "index", entry.Index, "err", err)
			continue
		}
		if !ok {
			continue
		}
		w.dispatcher.Dispatch(ctx, raw)
	}

	w.cursor, w.hasCursor = toBlock, true
	return nil
}

// Cursor returns the last fully scanned block.
func (w *Watcher) Cursor() (uint64, bool) {
	return w.cursor, w.hasCursor
}
