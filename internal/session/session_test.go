package session

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p2plend/client/internal/blockchain"
)

var (
	alice    = common.HexToAddress("0xaaaa000000000000000000000000000000000001")
	bob      = common.HexToAddress("0xbbbb000000000000000000000000000000000002")
	contract = common.HexToAddress("0xcccc000000000000000000000000000000000003")
)

type fakeProvider struct {
	mu       sync.Mutex
	accounts []common.Address
	chainID  *big.Int
	closed   bool
	// locked has no usable signer.
	locked common.Address

	accountsFeed event.Feed
	chainFeed    event.Feed
}

func (p *fakeProvider) Backend() blockchain.Backend { return nil }

func (p *fakeProvider) Accounts(context.Context) ([]common.Address, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]common.Address(nil), p.accounts...), nil
}

func (p *fakeProvider) ChainID(context.Context) (*big.Int, error) {
	return p.chainID, nil
}

func (p *fakeProvider) Transactor(account common.Address, _ *big.Int) (*bind.TransactOpts, error) {
	if account == p.locked {
		return nil, errors.New("account locked")
	}
	return &bind.TransactOpts{From: account}, nil
}

func (p *fakeProvider) SubscribeAccountsChanged(ch chan<- []common.Address) event.Subscription {
	return p.accountsFeed.Subscribe(ch)
}

func (p *fakeProvider) SubscribeChainChanged(ch chan<- *big.Int) event.Subscription {
	return p.chainFeed.Subscribe(ch)
}

func (p *fakeProvider) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
}

func (p *fakeProvider) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

type dialRecorder struct {
	providers []*fakeProvider
	next      func() *fakeProvider
}

func (d *dialRecorder) dial(context.Context) (Provider, error) {
	p := d.next()
	d.providers = append(d.providers, p)
	return p, nil
}

func newTestManager(expected int64, next func() *fakeProvider) (*Manager, *dialRecorder) {
	rec := &dialRecorder{next: next}
	m := NewManager(rec.dial, StaticContract(contract), Options{ExpectedChainID: big.NewInt(expected)})
	return m, rec
}

func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for notification")
	}
	var zero T
	return zero
}

func TestConnectWithoutAccountFails(t *testing.T) {
	m, rec := newTestManager(1337, func() *fakeProvider { return &fakeProvider{chainID: big.NewInt(1337)} })

	_, err := m.Connect(context.Background())
	var noAccount *NoAccountError
	require.ErrorAs(t, err, &noAccount)
	assert.ErrorIs(t, err, blockchain.ErrNotConnected)
	assert.True(t, IsNotConnected(err))
	assert.False(t, m.IsConnected())
	require.Len(t, rec.providers, 1)
	assert.True(t, rec.providers[0].isClosed())

	_, err = m.Binding()
	assert.ErrorIs(t, err, blockchain.ErrNotConnected)
}

func TestConnectIsIdempotent(t *testing.T) {
	m, rec := newTestManager(1337, func() *fakeProvider {
		return &fakeProvider{accounts: []common.Address{alice, bob}, chainID: big.NewInt(1337)}
	})

	first, err := m.Connect(context.Background())
	require.NoError(t, err)
	second, err := m.Connect(context.Background())
	require.NoError(t, err)

	assert.Len(t, rec.providers, 1)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, alice, first.Account)
	assert.Equal(t, contract, first.Contract)
	assert.True(t, m.IsConnected())

	binding, err := m.Binding()
	require.NoError(t, err)
	assert.Equal(t, alice, binding.Account)
	assert.Equal(t, contract, binding.Address)
	assert.False(t, m.NetworkStatus().Mismatch)
}

func TestNetworkMismatchIsWarningOnly(t *testing.T) {
	m, _ := newTestManager(1337, func() *fakeProvider {
		return &fakeProvider{accounts: []common.Address{alice}, chainID: big.NewInt(5)}
	})

	_, err := m.Connect(context.Background())
	require.NoError(t, err)

	status := m.NetworkStatus()
	assert.True(t, status.Mismatch)
	assert.NotEmpty(t, status.Message)
	assert.Equal(t, int64(5), status.ChainID.Int64())
	assert.True(t, m.IsConnected())
	_, err = m.Binding()
	assert.NoError(t, err)
}

func TestAccountChangeReplacesAccount(t *testing.T) {
	provider := &fakeProvider{accounts: []common.Address{alice}, chainID: big.NewInt(1337)}
	m, _ := newTestManager(1337, func() *fakeProvider { return provider })

	changes := make(chan AccountChanged, 4)
	sub := m.SubscribeAccountChanged(changes)
	defer sub.Unsubscribe()

	before, err := m.Connect(context.Background())
	require.NoError(t, err)

	provider.accountsFeed.Send([]common.Address{bob})
	got := receive(t, changes)
	assert.Equal(t, alice, got.Previous)
	assert.Equal(t, bob, got.Current)
	assert.True(t, got.Connected)
	assert.Equal(t, before.ID, got.SessionID)

	account, ok := m.Account()
	assert.True(t, ok)
	assert.Equal(t, bob, account)
	binding, err := m.Binding()
	require.NoError(t, err)
	assert.Equal(t, bob, binding.Account)

	provider.accountsFeed.Send([]common.Address{})
	got = receive(t, changes)
	assert.False(t, got.Connected)
	assert.False(t, m.IsConnected())
	_, err = m.Binding()
	assert.ErrorIs(t, err, blockchain.ErrNotConnected)
}

func TestFailedRebindDropsAccount(t *testing.T) {
	provider := &fakeProvider{accounts: []common.Address{alice}, chainID: big.NewInt(1337), locked: bob}
	m, _ := newTestManager(1337, func() *fakeProvider { return provider })

	changes := make(chan AccountChanged, 4)
	sub := m.SubscribeAccountChanged(changes)
	defer sub.Unsubscribe()

	_, err := m.Connect(context.Background())
	require.NoError(t, err)

	provider.accountsFeed.Send([]common.Address{bob})
	got := receive(t, changes)
	assert.Equal(t, alice, got.Previous)
	assert.Equal(t, common.Address{}, got.Current)
	assert.False(t, got.Connected)

	account, ok := m.Account()
	assert.False(t, ok)
	assert.Equal(t, common.Address{}, account)
	assert.False(t, m.IsConnected())
	assert.Equal(t, common.Address{}, m.Snapshot().Account)
}

func TestChainChangeReevaluatesNetwork(t *testing.T) {
	provider := &fakeProvider{accounts: []common.Address{alice}, chainID: big.NewInt(1337)}
	m, _ := newTestManager(1337, func() *fakeProvider { return provider })

	statuses := make(chan NetworkStatus, 4)
	sub := m.SubscribeNetworkStatus(statuses)
	defer sub.Unsubscribe()

	_, err := m.Connect(context.Background())
	require.NoError(t, err)
	assert.False(t, receive(t, statuses).Mismatch)

	provider.chainFeed.Send(big.NewInt(1))
	assert.True(t, receive(t, statuses).Mismatch)
	assert.Equal(t, int64(1), m.Snapshot().ChainID.Int64())

	provider.chainFeed.Send(big.NewInt(1337))
	assert.False(t, receive(t, statuses).Mismatch)
	assert.True(t, m.IsConnected())
}

func TestReconnectSwapsBindingAndClosesOldProvider(t *testing.T) {
	m, rec := newTestManager(1337, func() *fakeProvider {
		return &fakeProvider{accounts: []common.Address{alice}, chainID: big.NewInt(1337)}
	})

	first, err := m.Connect(context.Background())
	require.NoError(t, err)
	second, err := m.Reconnect(context.Background())
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
	require.Len(t, rec.providers, 2)
	assert.True(t, rec.providers[0].isClosed())
	assert.False(t, rec.providers[1].isClosed())
	assert.Equal(t, second.ID, m.Snapshot().ID)
}

func TestDisconnectClosesProvider(t *testing.T) {
	m, rec := newTestManager(1337, func() *fakeProvider {
		return &fakeProvider{accounts: []common.Address{alice}, chainID: big.NewInt(1337)}
	})

	_, err := m.Connect(context.Background())
	require.NoError(t, err)
	m.Disconnect()

	assert.False(t, m.IsConnected())
	assert.True(t, rec.providers[0].isClosed())
	_, err = m.Binding()
	assert.ErrorIs(t, err, blockchain.ErrNotConnected)

	_, err = m.Connect(context.Background())
	require.NoError(t, err)
	assert.Len(t, rec.providers, 2)
}

func TestDialFailureLeavesSessionDisconnected(t *testing.T) {
	m := NewManager(func(context.Context) (Provider, error) {
		return nil, errors.New("connection refused")
	}, StaticContract(contract), Options{})

	_, err := m.Connect(context.Background())
	require.Error(t, err)
	assert.False(t, m.IsConnected())
}
