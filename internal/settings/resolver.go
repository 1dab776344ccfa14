package settings

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

var ErrInvalidAddress = errors.New("invalid contract address")

const (
	SourceStored  = "stored"
	SourceDefault = "default"
)

// Resolver returns the active ledger contract address. A stored value wins
// over the compiled-in default.
type Resolver struct {
	store    Store
	fallback common.Address
	logger   *slog.Logger
}

func NewResolver(store Store, fallback common.Address, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{store: store, fallback: fallback, logger: logger}
}

// ContractAddress is read on every connect so a stored change applies on the
// next connect or reconnect.
func (r *Resolver) ContractAddress(ctx context.Context) (common.Address, error) {
	addr, _, err := r.Contract(ctx)
	return addr, err
}

// Contract also reports whether the address came from the store or the default.
func (r *Resolver) Contract(ctx context.Context) (common.Address, string, error) {
	raw, ok, err := r.store.Get(ctx, KeyContractAddress)
	if err != nil {
		return common.Address{}, "", fmt.Errorf("read contract setting: %w", err)
	}
	if !ok || strings.TrimSpace(raw) == "" {
		return r.fallback, SourceDefault, nil
	}
	if !common.IsHexAddress(raw) {
		r.logger.Warn("stored contract address invalid, using default", "value", raw)
		return r.fallback, SourceDefault, nil
	}
	return common.HexToAddress(raw), SourceStored, nil
}

func (r *Resolver) SetContractAddress(ctx context.Context, raw string) (common.Address, error) {
	raw = strings.TrimSpace(raw)
	if !common.IsHexAddress(raw) {
		return common.Address{}, ErrInvalidAddress
	}
	addr := common.HexToAddress(raw)
	if err := r.store.Put(ctx, KeyContractAddress, addr.Hex()); err != nil {
		return common.Address{}, fmt.Errorf("store contract setting: %w", err)
	}
	r.logger.Info("contract address updated", "contract", addr.Hex())
	return addr, nil
}

func (r *Resolver) Default() common.Address {
	return r.fallback
}
