package session

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/event"

	"github.com/p2plend/client/internal/blockchain"
)

// RPCConfig describes how to reach the node and which wallet signs.
// KeystoreDir takes precedence over PrivateKey.
type RPCConfig struct {
	URL          string
	KeystoreDir  string
	Passphrase   string
	PrivateKey   string
	PollInterval time.Duration
}

// RPCProvider talks to a node over JSON-RPC and signs with a local keystore or a raw key.
// Nodes don't push chain changes, so the chain id is polled.
type RPCProvider struct {
	client     *ethclient.Client
	keystore   *keystore.KeyStore
	passphrase string
	key        *ecdsa.PrivateKey
	logger     *slog.Logger

	accountsFeed event.Feed
	chainFeed    event.Feed

	walletSub event.Subscription
	quit      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewRPCDialer returns a Dialer that opens an RPCProvider per call.
func NewRPCDialer(cfg RPCConfig, logger *slog.Logger) Dialer {
	return func(ctx context.Context) (Provider, error) {
		return DialRPC(ctx, cfg, logger)
	}
}

func DialRPC(ctx context.Context, cfg RPCConfig, logger *slog.Logger) (*RPCProvider, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, fmt.Errorf("missing LEDGER_RPC_URL")
	}
	client, err := ethclient.DialContext(ctx, strings.TrimSpace(cfg.URL))
	if err != nil {
		return nil, fmt.Errorf("dial ledger node: %w", err)
	}
	p := &RPCProvider{
		client:     client,
		passphrase: cfg.Passphrase,
		logger:     logger,
		quit:       make(chan struct{}),
	}

	switch {
	case strings.TrimSpace(cfg.KeystoreDir) != "":
		p.keystore = keystore.NewKeyStore(cfg.KeystoreDir, keystore.StandardScryptN, keystore.StandardScryptP)
		events := make(chan accounts.WalletEvent, 8)
		p.walletSub = p.keystore.Subscribe(events)
		p.wg.Add(1)
		go p.forwardWalletEvents(events)
	case strings.TrimSpace(cfg.PrivateKey) != "":
		key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(cfg.PrivateKey), "0x"))
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("invalid WALLET_PRIVATE_KEY: %w", err)
		}
		p.key = key
	}

	chainID, err := client.ChainID(ctx)
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("read chain id: %w", err)
	}
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	p.wg.Add(1)
	go p.pollChainID(chainID, interval)
	return p, nil
}

func (p *RPCProvider) Backend() blockchain.Backend {
	return p.client
}

func (p *RPCProvider) Accounts(context.Context) ([]common.Address, error) {
	return p.accounts(), nil
}

func (p *RPCProvider) accounts() []common.Address {
	switch {
	case p.keystore != nil:
		list := p.keystore.Accounts()
		out := make([]common.Address, 0, len(list))
		for _, acc := range list {
			out = append(out, acc.Address)
		}
		return out
	case p.key != nil:
		return []common.Address{crypto.PubkeyToAddress(p.key.PublicKey)}
	default:
		return nil
	}
}

func (p *RPCProvider) ChainID(ctx context.Context) (*big.Int, error) {
	return p.client.ChainID(ctx)
}

func (p *RPCProvider) Transactor(account common.Address, chainID *big.Int) (*bind.TransactOpts, error) {
	switch {
	case p.keystore != nil:
		acc := accounts.Account{Address: account}
		if err := p.keystore.Unlock(acc, p.passphrase); err != nil {
			return nil, fmt.Errorf("unlock %s: %w", account.Hex(), err)
		}
		return bind.NewKeyStoreTransactorWithChainID(p.keystore, acc, chainID)
	case p.key != nil:
		if crypto.PubkeyToAddress(p.key.PublicKey) != account {
			return nil, fmt.Errorf("no key for account %s", account.Hex())
		}
		return bind.NewKeyedTransactorWithChainID(p.key, chainID)
	default:
		return nil, fmt.Errorf("no wallet configured")
	}
}

func (p *RPCProvider) SubscribeAccountsChanged(ch chan<- []common.Address) event.Subscription {
	return p.accountsFeed.Subscribe(ch)
}

func (p *RPCProvider) SubscribeChainChanged(ch chan<- *big.Int) event.Subscription {
	return p.chainFeed.Subscribe(ch)
}

func (p *RPCProvider) Close() {
	p.closeOnce.Do(func() {
		close(p.quit)
		if p.walletSub != nil {
			p.walletSub.Unsubscribe()
		}
		p.wg.Wait()
		p.client.Close()
	})
}

func (p *RPCProvider) forwardWalletEvents(events <-chan accounts.WalletEvent) {
	defer p.wg.Done()
	for {
		select {
		case <-p.quit:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Kind == accounts.WalletOpened {
				continue
			}
			p.logger.Info("wallet accounts changed", "kind", int(ev.Kind), "url", ev.Wallet.URL().String())
			p.accountsFeed.Send(p.accounts())
		}
	}
}

func (p *RPCProvider) pollChainID(last *big.Int, interval time.Duration) {
	defer p.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-p.quit:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			current, err := p.client.ChainID(ctx)
			cancel()
			if err != nil {
				p.logger.Warn("chain id poll failed", "err", err)
				continue
			}
			if current.Cmp(last) != 0 {
				p.logger.Info("chain changed", "from", last.String(), "to", current.String())
				last = current
				p.chainFeed.Send(current)
			}
		}
	}
}
