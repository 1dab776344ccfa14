package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/ethereum/go-ethereum/event"

	"github.com/p2plend/client/internal/domain/borrower"
	"github.com/p2plend/client/internal/domain/investor"
	"github.com/p2plend/client/internal/events"
	"github.com/p2plend/client/internal/session"
	"github.com/p2plend/client/internal/views"
	"github.com/p2plend/client/internal/ws"
)

const (
	eventBorrowerStage = "borrower_stage"
	eventCatalog       = "investor_catalog"
	eventSignal        = "ledger_signal"
	eventSession       = "session_status"
)

type Session interface {
	Connect(ctx context.Context) (session.Snapshot, error)
	Reconnect(ctx context.Context) (session.Snapshot, error)
	Disconnect()
	Snapshot() session.Snapshot
	NetworkStatus() session.NetworkStatus
	SubscribeAccountChanged(ch chan<- session.AccountChanged) event.Subscription
	SubscribeNetworkStatus(ch chan<- session.NetworkStatus) event.Subscription
}

type SignalSource interface {
	Subscribe(category events.Category, buffer int) *events.Subscription
}

type Watcher interface {
	Run(ctx context.Context) error
}

type Borrower interface {
	Reset(ctx context.Context) (borrower.State, error)
	Fallback() (borrower.State, error)
}

type Investor interface {
	Reload(ctx context.Context) (investor.Catalog, error)
}

type Publisher interface {
	Publish(channel, event string, data any) error
}

// Reconciler owns the per-session lifecycle: while a session is connected it
// keeps the signal subscriptions and the log watcher running and turns every
// signal into a re-derivation.
type Reconciler struct {
	session   Session
	signals   SignalSource
	watcher   Watcher
	borrower  Borrower
	investor  Investor
	publisher Publisher
	display   views.Display
	logger    *slog.Logger

	mu      sync.Mutex
	runCtx  context.Context
	cancel  context.CancelFunc
	feeds   []event.Subscription
	wg      sync.WaitGroup
	running bool

	// Session-scoped: set up on connect, torn down on disconnect.
	sessionCancel context.CancelFunc
	subs          []*events.Subscription
	sessionWG     *sync.WaitGroup
}

type Deps struct {
	Session   Session
	Signals   SignalSource
	Watcher   Watcher
	Borrower  Borrower
	Investor  Investor
	Publisher Publisher
	Display   views.Display
	Logger    *slog.Logger
}

func New(d Deps) *Reconciler {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return &Reconciler{
		session:   d.Session,
		signals:   d.Signals,
		watcher:   d.Watcher,
		borrower:  d.Borrower,
		investor:  d.Investor,
		publisher: d.Publisher,
		display:   d.Display,
		logger:    d.Logger,
	}
}

// Start follows the session feeds and connects. A failed connect leaves the
// reconciler running so a later Connect can recover.
func (r *Reconciler) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return nil
	}
	r.runCtx, r.cancel = context.WithCancel(ctx)
	r.running = true

	accountCh := make(chan session.AccountChanged, 8)
	networkCh := make(chan session.NetworkStatus, 8)
	r.feeds = []event.Subscription{
		r.session.SubscribeAccountChanged(accountCh),
		r.session.SubscribeNetworkStatus(networkCh),
	}
	r.wg.Add(1)
	go r.sessionLoop(r.runCtx, accountCh, networkCh)
	r.mu.Unlock()

	_, err := r.Connect(ctx)
	return err
}

// Connect establishes the session if needed, starts listening for signals and
// runs both derivations.
func (r *Reconciler) Connect(ctx context.Context) (session.Snapshot, error) {
	return r.connectWith(ctx, r.session.Connect)
}

// Reconnect swaps in a fresh session binding and runs both derivations.
func (r *Reconciler) Reconnect(ctx context.Context) (session.Snapshot, error) {
	return r.connectWith(ctx, r.session.Reconnect)
}

func (r *Reconciler) connectWith(ctx context.Context, connect func(context.Context) (session.Snapshot, error)) (session.Snapshot, error) {
	snap, err := connect(ctx)
	r.publishSession()
	if err != nil {
		r.stopSignals()
		r.logger.Warn("session not connected", "err", err)
		return snap, err
	}
	r.startSignals()
	r.Refresh(ctx)
	return snap, nil
}

// Disconnect drops the signal subscriptions and the watcher, then closes the session.
func (r *Reconciler) Disconnect() {
	r.stopSignals()
	r.session.Disconnect()
	r.publishSession()
}

// Refresh re-derives the borrower stage and reloads the investor catalog.
func (r *Reconciler) Refresh(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		r.refreshBorrower(ctx)
	}()
	go func() {
		defer wg.Done()
		r.refreshInvestor(ctx)
	}()
	wg.Wait()
}

// Stop tears down the session subscriptions and feeds, then disconnects.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.cancel()
	for _, feed := range r.feeds {
		feed.Unsubscribe()
	}
	r.feeds = nil
	r.mu.Unlock()

	r.stopSignals()
	r.wg.Wait()
	r.session.Disconnect()
	r.logger.Info("reconciler stopped")
}

// startSignals subscribes to every bus category and starts the watcher once
// per session. It is a no-op before Start or while already listening.
func (r *Reconciler) startSignals() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running || r.sessionCancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(r.runCtx)
	wg := &sync.WaitGroup{}
	r.sessionCancel, r.sessionWG = cancel, wg

	for _, category := range events.Categories {
		sub := r.signals.Subscribe(category, 16)
		r.subs = append(r.subs, sub)
		wg.Add(1)
		go r.signalLoop(ctx, wg, sub)
	}
	if r.watcher != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := r.watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				r.logger.Error("event watcher stopped", "err", err)
			}
		}()
	}
	r.logger.Debug("listening for ledger signals")
}

func (r *Reconciler) stopSignals() {
	r.mu.Lock()
	if r.sessionCancel == nil {
		r.mu.Unlock()
		return
	}
	r.sessionCancel()
	wg := r.sessionWG
	r.sessionCancel, r.sessionWG = nil, nil
	for _, sub := range r.subs {
		sub.Unsubscribe()
	}
	r.subs = nil
	r.mu.Unlock()

	wg.Wait()
	r.logger.Debug("stopped listening for ledger signals")
}

// listening reports whether session-scoped signal handling is active.
func (r *Reconciler) listening() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessionCancel != nil
}

func (r *Reconciler) signalLoop(ctx context.Context, wg *sync.WaitGroup, sub *events.Subscription) {
	defer wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.Done():
			return
		case sig := <-sub.C():
			r.publish(ws.ChannelSignals, eventSignal, sig)
			// Signals are handled concurrently; the last completed derivation wins.
			wg.Add(1)
			go func() {
				defer wg.Done()
				r.handle(ctx, sig)
			}()
		}
	}
}

func (r *Reconciler) handle(ctx context.Context, sig events.Signal) {
	r.logger.Info("ledger signal received", "category", string(sig.Category), "account", sig.Account.Hex(), "tx", sig.TxHash.Hex())
	switch sig.Category {
	case events.FundingChanged, events.InvestmentWithdrawn:
		r.refreshBorrower(ctx)
	case events.InvestmentPaybackChanged, events.MoneyWithdrawn:
		r.refreshInvestor(ctx)
	}
}

func (r *Reconciler) sessionLoop(ctx context.Context, accountCh <-chan session.AccountChanged, networkCh <-chan session.NetworkStatus) {
	defer r.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case change := <-accountCh:
			r.logger.Info("session account changed", "previous", change.Previous.Hex(), "account", change.Current.Hex(), "connected", change.Connected)
			r.publishSession()
		case status := <-networkCh:
			if status.Mismatch {
				r.logger.Warn("network mismatch", "chain_id", views.Network(status).ChainID, "expected", views.Network(status).Expected)
			}
			r.publishSession()
		}
	}
}

func (r *Reconciler) refreshBorrower(ctx context.Context) {
	state, err := r.borrower.Reset(ctx)
	if err != nil {
		r.logger.Warn("borrower derivation failed", "err", err)
	}
	r.publish(ws.ChannelBorrower, eventBorrowerStage, r.display.Borrower(state))
	if state.Stage != borrower.StageExpired {
		return
	}
	next, err := r.borrower.Fallback()
	if err != nil {
		// A newer derivation already replaced the expired stage.
		return
	}
	r.publish(ws.ChannelBorrower, eventBorrowerStage, r.display.Borrower(next))
}

func (r *Reconciler) refreshInvestor(ctx context.Context) {
	catalog, err := r.investor.Reload(ctx)
	if err != nil {
		r.logger.Warn("investor catalog reload failed", "err", err)
	}
	r.publish(ws.ChannelInvestor, eventCatalog, r.display.Catalog(catalog))
}

func (r *Reconciler) publishSession() {
	r.publish(ws.ChannelSession, eventSession, views.Session(r.session.Snapshot(), r.session.NetworkStatus()))
}

func (r *Reconciler) publish(channel, event string, data any) {
	if r.publisher == nil {
		return
	}
	if err := r.publisher.Publish(channel, event, data); err != nil {
		r.logger.Error("stream publish failed", "channel", channel, "event", event, "err", err)
	}
}

// PublishBorrower pushes a borrower state produced outside the signal loop.
func (r *Reconciler) PublishBorrower(state borrower.State) {
	r.publish(ws.ChannelBorrower, eventBorrowerStage, r.display.Borrower(state))
}

// PublishCatalog pushes an investor catalog produced outside the signal loop.
func (r *Reconciler) PublishCatalog(catalog investor.Catalog) {
	r.publish(ws.ChannelInvestor, eventCatalog, r.display.Catalog(catalog))
}
