package events

import (
	"context"
	"log/slog"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

type Category string

const (
	FundingChanged           Category = "funding-changed"
	InvestmentWithdrawn      Category = "investment-withdrawn"
	InvestmentPaybackChanged Category = "investment-payback-changed"
	MoneyWithdrawn           Category = "money-withdrawn"
)

// Categories lists every category the bus carries.
var Categories = []Category{FundingChanged, InvestmentWithdrawn, InvestmentPaybackChanged, MoneyWithdrawn}

// RawEvent is one decoded ledger event. Accounts is the event's address payload.
type RawEvent struct {
	Category    Category
	Accounts    []common.Address
	TxHash      common.Hash
	BlockNumber uint64
	LogIndex    uint
}

// Signal tells subscribers that something relevant to Account changed.
// It carries no ledger state.
type Signal struct {
	Category    Category       `json:"category"`
	Account     common.Address `json:"account"`
	TxHash      common.Hash    `json:"tx_hash"`
	BlockNumber uint64         `json:"block_number"`
	LogIndex    uint           `json:"log_index"`
}

// AccountSource yields the active account used for the relevance check.
type AccountSource interface {
	Account() (common.Address, bool)
}

type SignalRecorder interface {
	ObserveSignal(category string, relevant bool)
}

// Bus fans relevant ledger events out to per-category subscribers.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[Category]map[*Subscription]struct{}

	accounts AccountSource
	logger   *slog.Logger
	recorder SignalRecorder
}

func NewBus(accounts AccountSource, logger *slog.Logger, recorder SignalRecorder) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		subscribers: map[Category]map[*Subscription]struct{}{},
		accounts:    accounts,
		logger:      logger,
		recorder:    recorder,
	}
}

// Subscription receives the signals of one category until Unsubscribe.
type Subscription struct {
	bus      *Bus
	category Category
	ch       chan Signal
	done     chan struct{}
	once     sync.Once
}

func (s *Subscription) C() <-chan Signal {
	return s.ch
}

func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.bus.remove(s)
		close(s.done)
	})
}

func (b *Bus) Subscribe(category Category, buffer int) *Subscription {
	sub := &Subscription{
		bus:      b,
		category: category,
		ch:       make(chan Signal, buffer),
		done:     make(chan struct{}),
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subscribers[category]; !ok {
		b.subscribers[category] = map[*Subscription]struct{}{}
	}
	b.subscribers[category][sub] = struct{}{}
	return sub
}

func (b *Bus) remove(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if subs, ok := b.subscribers[sub.category]; ok {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(b.subscribers, sub.category)
		}
	}
}

// Dispatch emits one signal for raw if the active account is part of its
// payload. Duplicate raw events produce duplicate signals.
func (b *Bus) Dispatch(ctx context.Context, raw RawEvent) bool {
	account, ok := b.accounts.Account()
	relevant := ok && contains(raw.Accounts, account)
	if b.recorder != nil {
		b.recorder.ObserveSignal(string(raw.Category), relevant)
	}
	if !relevant {
		return false
	}

	sig := Signal{
		Category:    raw.Category,
		Account:     account,
		TxHash:      raw.TxHash,
		BlockNumber: raw.BlockNumber,
		LogIndex:    raw.LogIndex,
	}
	b.logger.Debug("ledger signal", "category", string(raw.Category), "account", account.Hex(), "tx", raw.TxHash.Hex())

	b.mu.RLock()
	subs := make([]*Subscription, 0, len(b.subscribers[raw.Category]))
	for s := range b.subscribers[raw.Category] {
		subs = append(subs, s)
	}
	b.mu.RUnlock()

	for _, s := range subs {
		select {
		case s.ch <- sig:
		case <-s.done:
		case <-ctx.Done():
			return true
		}
	}
	return true
}

// Close drops every subscription.
func (b *Bus) Close() {
	b.mu.RLock()
	var all []*Subscription
	for _, subs := range b.subscribers {
		for s := range subs {
			all = append(all, s)
		}
	}
	b.mu.RUnlock()
	for _, s := range all {
		s.Unsubscribe()
	}
}

func contains(list []common.Address, account common.Address) bool {
	for _, a := range list {
		if a == account {
			return true
		}
	}
	return false
}
