package blockchain

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// Decimals is the scale between a display unit and the ledger's smallest unit.
const Decimals = 18

// ToSmallestUnit scales a display amount by 10^18. Amounts that are negative
// or finer than one smallest unit are rejected.
func ToSmallestUnit(amount decimal.Decimal) (*big.Int, error) {
	if amount.IsNegative() {
		return nil, fmt.Errorf("amount must not be negative: %s", amount.String())
	}
	scaled := amount.Shift(Decimals)
	if !scaled.IsInteger() {
		return nil, fmt.Errorf("amount %s has more than %d decimals", amount.String(), Decimals)
	}
	return scaled.BigInt(), nil
}

// ToDisplayUnit converts a smallest-unit amount to display units.
func ToDisplayUnit(amount *big.Int) decimal.Decimal {
	if amount == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(amount, -Decimals)
}

// ToDisplayCurrency converts a smallest-unit amount with a display-currency rate
// (display-currency units per display unit), rounded to cents.
func ToDisplayCurrency(amount *big.Int, rate decimal.Decimal) decimal.Decimal {
	return ToDisplayUnit(amount).Mul(rate).Round(2)
}
