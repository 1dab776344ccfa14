package blockchain

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/core/types"
)

const (
	kindQuery   = "query"
	kindExecute = "execute"
)

// BindingSource hands out the live binding of the current session.
type BindingSource interface {
	Binding() (*Binding, error)
}

// CallRecorder observes every ledger call.
type CallRecorder interface {
	ObserveLedgerCall(method, kind string, err error)
}

// Gateway is the typed call/send facade over the ledger contract.
type Gateway struct {
	source   BindingSource
	logger   *slog.Logger
	recorder CallRecorder
}

func NewGateway(source BindingSource, logger *slog.Logger, recorder CallRecorder) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{source: source, logger: logger, recorder: recorder}
}

// Query performs a read-only call as the active account.
func (g *Gateway) Query(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	out, err := g.query(ctx, method, args...)
	g.observe(method, kindQuery, err)
	return out, err
}

func (g *Gateway) query(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	binding, err := g.source.Binding()
	if err != nil {
		return nil, err
	}
	var out []interface{}
	if err := binding.contract.Call(binding.callOpts(ctx), &out, method, args...); err != nil {
		return nil, fmt.Errorf("call %s: %w", method, asRevert(method, err))
	}
	return out, nil
}

// Execute sends a state-changing transaction, optionally attaching value (in
// smallest units), and waits until it is mined.
func (g *Gateway) Execute(ctx context.Context, method string, value *big.Int, args ...interface{}) (*types.Receipt, error) {
	receipt, err := g.execute(ctx, method, value, args...)
	g.observe(method, kindExecute, err)
	return receipt, err
}

func (g *Gateway) execute(ctx context.Context, method string, value *big.Int, args ...interface{}) (*types.Receipt, error) {
	binding, err := g.source.Binding()
	if err != nil {
		return nil, err
	}
	tx, err := binding.contract.Transact(binding.transactOpts(ctx, value), method, args...)
	if err != nil {
		return nil, asRevert(method, err)
	}
	g.logger.Info("ledger transaction sent", "method", method, "tx", tx.Hash().Hex(), "account", binding.Account.Hex())

	receipt, err := binding.waiter.WaitMined(ctx, tx)
	if err != nil {
		return nil, fmt.Errorf("wait for %s: %w", method, err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return receipt, &RevertError{Method: method, TxHash: tx.Hash()}
	}
	return receipt, nil
}

func (g *Gateway) observe(method, kind string, err error) {
	if err != nil {
		g.logger.Warn("ledger call failed", "method", method, "kind", kind, "err", err)
	}
	if g.recorder != nil {
		g.recorder.ObserveLedgerCall(method, kind, err)
	}
}
