package blockchain

import (
	"errors"
	"math/big"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p2plend/client/internal/domain/loan"
)

func TestToSmallestUnit(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"1", "1000000000000000000"},
		{"0.000000000000000001", "1"},
		{"12.5", "12500000000000000000"},
		{"0", "0"},
	}
	for _, tc := range cases {
		got, err := ToSmallestUnit(decimal.RequireFromString(tc.in))
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got.String(), tc.in)
	}
}

func TestToSmallestUnitRejectsInvalidAmounts(t *testing.T) {
	_, err := ToSmallestUnit(decimal.RequireFromString("-1"))
	require.Error(t, err)

	_, err = ToSmallestUnit(decimal.RequireFromString("0.0000000000000000001"))
	require.Error(t, err)
}

func TestToDisplayCurrency(t *testing.T) {
	amount, _ := new(big.Int).SetString("2500000000000000000", 10)
	assert.Equal(t, "3000.5", ToDisplayCurrency(amount, decimal.RequireFromString("1200.2")).String())
	assert.True(t, ToDisplayUnit(nil).IsZero())
}

func TestUserMessage(t *testing.T) {
	assert.Equal(t, "", UserMessage(nil))
	assert.Contains(t, UserMessage(ErrNotConnected), "Not connected")
	assert.Equal(t, genericFailureMessage, UserMessage(errors.New("boom")))
	assert.Equal(t, genericFailureMessage, UserMessage(&RevertError{Method: methodWithdrawMoney}))
	assert.Equal(t, "You already have an open borrowing.", UserMessage(&RevertError{Method: methodRequestBorrowing, Reason: "Already borrowing"}))

	readErr := loan.NewReadError(loan.ReadInvestments, errors.New("timeout"))
	assert.Equal(t, readErr.Message(), UserMessage(readErr))
}
