package blockchain

import (
	"context"
	_ "embed"
	"errors"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

//go:embed lending.abi.json
var lendingABIJSON string

// LendingABI is the parsed interface of the ledger contract.
var LendingABI = mustParseABI(lendingABIJSON)

// defaultContractHex can be replaced at link time with -ldflags -X.
var defaultContractHex = "0x5FbDB2315678afecb367f032d93F642f64180aa3"

// DefaultContract is the compiled-in ledger contract address.
func DefaultContract() common.Address {
	return common.HexToAddress(defaultContractHex)
}

// ErrNotConnected is returned by every ledger call made without an active session.
var ErrNotConnected = errors.New("ledger session not connected")

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic("blockchain: invalid embedded lending ABI: " + err.Error())
	}
	return parsed
}

// Backend is the node connection a Binding talks through. *ethclient.Client satisfies it.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
	LogSource
}

// LogSource is the subset of the node API the event watcher polls.
type LogSource interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
}

// Contract is the call/transact surface of a bound contract.
type Contract interface {
	Call(opts *bind.CallOpts, results *[]interface{}, method string, params ...interface{}) error
	Transact(opts *bind.TransactOpts, method string, params ...interface{}) (*types.Transaction, error)
}

// ReceiptWaiter blocks until a sent transaction is mined.
type ReceiptWaiter interface {
	WaitMined(ctx context.Context, tx *types.Transaction) (*types.Receipt, error)
}

// Binding is the live (contract, account, signer, chain) tuple of a connected session.
// It is immutable; account or network changes produce a new Binding.
type Binding struct {
	Address common.Address
	Account common.Address
	ChainID *big.Int

	contract Contract
	signer   bind.SignerFn
	gasLimit uint64
	waiter   ReceiptWaiter
	logs     LogSource
}

// Bind attaches the lending contract at address to backend, signing as opts.From.
func Bind(backend Backend, address common.Address, opts *bind.TransactOpts, chainID *big.Int) *Binding {
	contract := bind.NewBoundContract(address, LendingABI, backend, backend, backend)
	return NewBinding(address, opts, chainID, contract, backendWaiter{backend: backend}, backend)
}

// NewBinding assembles a Binding from its parts.
func NewBinding(address common.Address, opts *bind.TransactOpts, chainID *big.Int, contract Contract, waiter ReceiptWaiter, logs LogSource) *Binding {
	b := &Binding{
		Address:  address,
		ChainID:  chainID,
		contract: contract,
		waiter:   waiter,
		logs:     logs,
	}
	if opts != nil {
		b.Account = opts.From
		b.signer = opts.Signer
		b.gasLimit = opts.GasLimit
	}
	return b
}

// Logs returns the log source of the node this binding talks to.
func (b *Binding) Logs() LogSource {
	return b.logs
}

func (b *Binding) callOpts(ctx context.Context) *bind.CallOpts {
	return &bind.CallOpts{Context: ctx, From: b.Account}
}

func (b *Binding) transactOpts(ctx context.Context, value *big.Int) *bind.TransactOpts {
	return &bind.TransactOpts{
		From:     b.Account,
		Signer:   b.signer,
		Value:    value,
		GasLimit: b.gasLimit,
		Context:  ctx,
	}
}

type backendWaiter struct {
	backend bind.DeployBackend
}

func (w backendWaiter) WaitMined(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	return bind.WaitMined(ctx, w.backend, tx)
}
