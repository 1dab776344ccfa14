package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"
	"github.com/google/uuid"

	"github.com/p2plend/client/internal/blockchain"
)

const wrongChainMessage = "You are connected to the wrong chain! Please change to the expected ledger chain."

// NoAccountError is returned by Connect when the provider exposes no account.
type NoAccountError struct {
	Reason string
}

func (e *NoAccountError) Error() string {
	if e.Reason == "" {
		return "no account available"
	}
	return "no account available: " + e.Reason
}

func (e *NoAccountError) Unwrap() error {
	return blockchain.ErrNotConnected
}

// Snapshot is an immutable view of the session. A new snapshot replaces the
// old one on every change.
type Snapshot struct {
	ID        uuid.UUID
	Account   common.Address
	ChainID   *big.Int
	Contract  common.Address
	Connected bool
	Since     time.Time

	binding *blockchain.Binding
}

// NetworkStatus is the result of comparing the provider's chain with the expected one.
type NetworkStatus struct {
	ChainID   *big.Int
	Expected  *big.Int
	Mismatch  bool
	Message   string
	CheckedAt time.Time
}

// AccountChanged is published when the provider switches or drops the active account.
type AccountChanged struct {
	SessionID uuid.UUID
	Previous  common.Address
	Current   common.Address
	Connected bool
}

type Options struct {
	ExpectedChainID *big.Int
	GasLimit        uint64
	Logger          *slog.Logger
	Now             func() time.Time
}

// Manager owns the single live provider and contract binding of the process.
type Manager struct {
	dial     Dialer
	contract ContractSource
	expected *big.Int
	gasLimit uint64
	logger   *slog.Logger
	now      func() time.Time

	mu       sync.Mutex
	provider Provider
	watch    *watch

	state   atomic.Pointer[Snapshot]
	network atomic.Pointer[NetworkStatus]

	accountFeed event.Feed
	networkFeed event.Feed
}

type watch struct {
	subs []event.Subscription
	quit chan struct{}
}

func NewManager(dial Dialer, contract ContractSource, opts Options) *Manager {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	m := &Manager{
		dial:     dial,
		contract: contract,
		expected: opts.ExpectedChainID,
		gasLimit: opts.GasLimit,
		logger:   opts.Logger,
		now:      opts.Now,
	}
	m.state.Store(&Snapshot{})
	m.network.Store(&NetworkStatus{Expected: opts.ExpectedChainID})
	return m
}

// Connect acquires the provider and binds the contract. It is a no-op when
// already connected.
func (m *Manager) Connect(ctx context.Context) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if current := m.state.Load(); current.Connected {
		return *current, nil
	}
	return m.open(ctx)
}

// Reconnect builds a fresh provider and binding, swaps it in, then closes the old provider.
func (m *Manager) Reconnect(ctx context.Context) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.open(ctx)
}

// Disconnect unsubscribes from the provider and closes it.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()

	old := m.state.Load()
	m.state.Store(&Snapshot{})
	m.stopLocked()
	if old.Connected {
		m.logger.Info("session disconnected", "session_id", old.ID.String(), "account", old.Account.Hex())
	}
}

func (m *Manager) open(ctx context.Context) (Snapshot, error) {
	provider, err := m.dial(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("acquire provider: %w", err)
	}
	next, err := m.bind(ctx, provider)
	if err != nil {
		provider.Close()
		return Snapshot{}, err
	}

	// Swap first so callers never observe a half-built session.
	m.state.Store(next)
	m.stopLocked()
	m.provider = provider
	m.watch = m.startWatch(provider, next.ID)

	m.logger.Info("session connected",
		"session_id", next.ID.String(),
		"account", next.Account.Hex(),
		"chain_id", next.ChainID.String(),
		"contract", next.Contract.Hex(),
	)
	m.evaluateNetwork(next.ChainID)
	return *next, nil
}

func (m *Manager) bind(ctx context.Context, provider Provider) (*Snapshot, error) {
	accts, err := provider.Accounts(ctx)
	if err != nil {
		return nil, &NoAccountError{Reason: err.Error()}
	}
	if len(accts) == 0 {
		return nil, &NoAccountError{}
	}
	chainID, err := provider.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("read chain id: %w", err)
	}
	address, err := m.contract.ContractAddress(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve contract address: %w", err)
	}
	binding, err := m.newBinding(provider, address, accts[0], chainID)
	if err != nil {
		return nil, err
	}
	return &Snapshot{
		ID:        uuid.New(),
		Account:   accts[0],
		ChainID:   chainID,
		Contract:  address,
		Connected: true,
		Since:     m.now().UTC(),
		binding:   binding,
	}, nil
}

func (m *Manager) newBinding(provider Provider, address, account common.Address, chainID *big.Int) (*blockchain.Binding, error) {
	opts, err := provider.Transactor(account, chainID)
	if err != nil {
		return nil, fmt.Errorf("signer for %s: %w", account.Hex(), err)
	}
	if m.gasLimit > 0 {
		opts.GasLimit = m.gasLimit
	}
	return blockchain.Bind(provider.Backend(), address, opts, chainID), nil
}

func (m *Manager) stopLocked() {
	if m.watch != nil {
		close(m.watch.quit)
		for _, sub := range m.watch.subs {
			sub.Unsubscribe()
		}
		m.watch = nil
	}
	if m.provider != nil {
		m.provider.Close()
		m.provider = nil
	}
}

func (m *Manager) startWatch(provider Provider, id uuid.UUID) *watch {
	accountsCh := make(chan []common.Address, 4)
	chainCh := make(chan *big.Int, 4)
	w := &watch{
		subs: []event.Subscription{
			provider.SubscribeAccountsChanged(accountsCh),
			provider.SubscribeChainChanged(chainCh),
		},
		quit: make(chan struct{}),
	}
	go func() {
		for {
			select {
			case <-w.quit:
				return
			case accts := <-accountsCh:
				m.onAccountsChanged(provider, id, accts)
			case chainID := <-chainCh:
				m.onChainChanged(provider, id, chainID)
			}
		}
	}()
	return w
}

// onAccountsChanged swaps in the new active account. Derivations are not re-run here.
func (m *Manager) onAccountsChanged(provider Provider, id uuid.UUID, accts []common.Address) {
	current := m.state.Load()
	if current.ID != id {
		return
	}
	next := *current
	if len(accts) == 0 {
		next.Account = common.Address{}
		next.Connected = false
		next.binding = nil
	} else {
		if accts[0] == current.Account && current.Connected {
			return
		}
		binding, err := m.newBinding(provider, current.Contract, accts[0], current.ChainID)
		if err != nil {
			m.logger.Error("rebind after account change failed", "session_id", id.String(), "account", accts[0].Hex(), "err", err)
			next.Account = common.Address{}
			next.Connected = false
			next.binding = nil
		} else {
			next.Account = accts[0]
			next.Connected = true
			next.binding = binding
		}
	}
	if !m.state.CompareAndSwap(current, &next) {
		return
	}
	m.logger.Info("active account changed", "session_id", id.String(), "previous", current.Account.Hex(), "account", next.Account.Hex())
	m.accountFeed.Send(AccountChanged{
		SessionID: id,
		Previous:  current.Account,
		Current:   next.Account,
		Connected: next.Connected,
	})
}

func (m *Manager) onChainChanged(provider Provider, id uuid.UUID, chainID *big.Int) {
	current := m.state.Load()
	if current.ID != id || chainID == nil {
		return
	}
	next := *current
	next.ChainID = chainID
	if current.Connected {
		binding, err := m.newBinding(provider, current.Contract, current.Account, chainID)
		if err != nil {
			m.logger.Error("rebind after chain change failed", "session_id", id.String(), "chain_id", chainID.String(), "err", err)
		} else {
			next.binding = binding
		}
	}
	if !m.state.CompareAndSwap(current, &next) {
		return
	}
	m.evaluateNetwork(chainID)
}

func (m *Manager) evaluateNetwork(chainID *big.Int) {
	status := &NetworkStatus{
		ChainID:   chainID,
		Expected:  m.expected,
		CheckedAt: m.now().UTC(),
	}
	if m.expected != nil && (chainID == nil || chainID.Cmp(m.expected) != 0) {
		status.Mismatch = true
		status.Message = wrongChainMessage
		m.logger.Warn("connected to unexpected chain", "chain_id", bigString(chainID), "expected", m.expected.String())
	}
	m.network.Store(status)
	m.networkFeed.Send(*status)
}

// IsConnected reports whether an active account is present.
func (m *Manager) IsConnected() bool {
	return m.state.Load().Connected
}

func (m *Manager) Snapshot() Snapshot {
	return *m.state.Load()
}

// Account returns the active account, if any.
func (m *Manager) Account() (common.Address, bool) {
	s := m.state.Load()
	return s.Account, s.Connected
}

// Binding returns the live contract binding.
func (m *Manager) Binding() (*blockchain.Binding, error) {
	s := m.state.Load()
	if !s.Connected || s.binding == nil {
		return nil, blockchain.ErrNotConnected
	}
	return s.binding, nil
}

// NetworkStatus returns the last evaluated network check.
func (m *Manager) NetworkStatus() NetworkStatus {
	return *m.network.Load()
}

func (m *Manager) SubscribeAccountChanged(ch chan<- AccountChanged) event.Subscription {
	return m.accountFeed.Subscribe(ch)
}

func (m *Manager) SubscribeNetworkStatus(ch chan<- NetworkStatus) event.Subscription {
	return m.networkFeed.Subscribe(ch)
}

// IsNotConnected reports whether err means there is no usable session.
func IsNotConnected(err error) bool {
	var noAccount *NoAccountError
	return errors.Is(err, blockchain.ErrNotConnected) || errors.As(err, &noAccount)
}

func bigString(v *big.Int) string {
	if v == nil {
		return ""
	}
	return v.String()
}
