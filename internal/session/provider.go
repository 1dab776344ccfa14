package session

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"

	"github.com/p2plend/client/internal/blockchain"
)

// Provider is a wallet plus node connection. It pushes account and network
// changes to subscribers for as long as it stays open.
type Provider interface {
	Backend() blockchain.Backend
	Accounts(ctx context.Context) ([]common.Address, error)
	ChainID(ctx context.Context) (*big.Int, error)
	Transactor(account common.Address, chainID *big.Int) (*bind.TransactOpts, error)
	SubscribeAccountsChanged(ch chan<- []common.Address) event.Subscription
	SubscribeChainChanged(ch chan<- *big.Int) event.Subscription
	Close()
}

// Dialer acquires a fresh Provider.
type Dialer func(ctx context.Context) (Provider, error)

// ContractSource resolves the ledger contract address to bind on connect.
type ContractSource interface {
	ContractAddress(ctx context.Context) (common.Address, error)
}

// StaticContract is a ContractSource that always returns the same address.
type StaticContract common.Address

func (s StaticContract) ContractAddress(context.Context) (common.Address, error) {
	return common.Address(s), nil
}
