package blockchain

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/p2plend/client/internal/domain/loan"
)

// Wire shapes of the ledger's tuple replies. Field names follow the ABI
// component names so go-ethereum can convert its reflected structs into them.

type requestTuple struct {
	Amount         *big.Int
	DurationMonths uint8
	Income         *big.Int
	Expenses       *big.Int
}

type conditionsTuple struct {
	MonthlyAmount *big.Int
	InterestRate  *big.Int
}

type activeLoanTuple struct {
	BorrowedAmount          *big.Int
	TotalDurationMonths     uint8
	AmountLeftToRepay       *big.Int
	DurationMonthsLeft      uint8
	MonthlyAmount           *big.Int
	InterestRate            *big.Int
	InvestorAddresses       []common.Address
	InvestorAmounts         []*big.Int
	TotalInvestorAmount     *big.Int
	Deleted                 bool
	PaidOut                 bool
	PaidBack                bool
	WithdrawalDate          *big.Int
	MostRecentRepaymentDate *big.Int
	FundingCompletedDate    *big.Int
}

type investmentTuple struct {
	BorrowerAddress               common.Address
	TotalAmountLended             *big.Int
	TotalAmountLendedWithInterest *big.Int
	MonthlyAmount                 *big.Int
	InterestRate                  *big.Int
	AmountPaidBack                *big.Int
	DurationMonthsLeft            *big.Int
	Deleted                       bool
	PaidBack                      bool
	StartDate                     *big.Int
	MostRecentRepaymentDate       *big.Int
	TotalDurationMonths           uint8
}

func singleOutput(method string, out []interface{}) (interface{}, error) {
	if len(out) != 1 {
		return nil, fmt.Errorf("decode %s: expected 1 output, got %d", method, len(out))
	}
	return out[0], nil
}

func convert[T any](method string, out []interface{}) (result T, err error) {
	var zero T
	raw, err := singleOutput(method, out)
	if err != nil {
		return zero, err
	}
	if typed, ok := raw.(T); ok {
		return typed, nil
	}
	// abi.ConvertType panics when the shapes don't line up.
	defer func() {
		if r := recover(); r != nil {
			result, err = zero, fmt.Errorf("decode %s: %v", method, r)
		}
	}()
	converted, ok := abi.ConvertType(raw, new(T)).(*T)
	if !ok || converted == nil {
		return zero, fmt.Errorf("decode %s: unexpected output type %T", method, raw)
	}
	return *converted, nil
}

func decodeRequest(out []interface{}) (loan.Request, error) {
	t, err := convert[requestTuple]("getBorrowingRequest", out)
	if err != nil {
		return loan.Request{}, err
	}
	return loan.Request{
		Amount:         orZero(t.Amount),
		DurationMonths: t.DurationMonths,
		Income:         orZero(t.Income),
		Expenses:       orZero(t.Expenses),
	}, nil
}

func decodeConditions(out []interface{}) (loan.Conditions, error) {
	t, err := convert[conditionsTuple]("getBorrowingConditions", out)
	if err != nil {
		return loan.Conditions{}, err
	}
	return loan.Conditions{
		MonthlyAmount: orZero(t.MonthlyAmount),
		InterestRate:  toUint64(t.InterestRate),
	}, nil
}

func decodeActiveLoan(method string, out []interface{}, borrower common.Address) (loan.ActiveLoan, error) {
	t, err := convert[activeLoanTuple](method, out)
	if err != nil {
		return loan.ActiveLoan{}, err
	}
	if len(t.InvestorAddresses) != len(t.InvestorAmounts) {
		return loan.ActiveLoan{}, fmt.Errorf("decode %s: %d investor addresses but %d amounts", method, len(t.InvestorAddresses), len(t.InvestorAmounts))
	}
	amounts := make([]*big.Int, len(t.InvestorAmounts))
	for i, a := range t.InvestorAmounts {
		amounts[i] = orZero(a)
	}
	return loan.ActiveLoan{
		BorrowedAmount:          orZero(t.BorrowedAmount),
		TotalDurationMonths:     t.TotalDurationMonths,
		AmountLeftToRepay:       orZero(t.AmountLeftToRepay),
		DurationMonthsLeft:      t.DurationMonthsLeft,
		MonthlyAmount:           orZero(t.MonthlyAmount),
		InterestRate:            toUint64(t.InterestRate),
		InvestorAddresses:       append([]common.Address(nil), t.InvestorAddresses...),
		InvestorAmounts:         amounts,
		TotalInvestorAmount:     orZero(t.TotalInvestorAmount),
		Deleted:                 t.Deleted,
		PaidOut:                 t.PaidOut,
		PaidBack:                t.PaidBack,
		WithdrawalDate:          toUint64(t.WithdrawalDate),
		MostRecentRepaymentDate: toUint64(t.MostRecentRepaymentDate),
		FundingCompletedDate:    toUint64(t.FundingCompletedDate),
		BorrowerAddress:         borrower,
	}, nil
}

func decodeInvestments(out []interface{}) ([]loan.Investment, error) {
	items, err := convert[[]investmentTuple]("getInvestments", out)
	if err != nil {
		return nil, err
	}
	result := make([]loan.Investment, 0, len(items))
	for _, t := range items {
		result = append(result, loan.Investment{
			BorrowerAddress:             t.BorrowerAddress,
			TotalAmountLent:             orZero(t.TotalAmountLended),
			TotalAmountLentWithInterest: orZero(t.TotalAmountLendedWithInterest),
			MonthlyAmount:               orZero(t.MonthlyAmount),
			InterestRate:                toUint64(t.InterestRate),
			AmountPaidBack:              orZero(t.AmountPaidBack),
			DurationMonthsLeft:          toUint64(t.DurationMonthsLeft),
			Deleted:                     t.Deleted,
			PaidBack:                    t.PaidBack,
			StartDate:                   toUint64(t.StartDate),
			MostRecentRepaymentDate:     toUint64(t.MostRecentRepaymentDate),
			TotalDurationMonths:         t.TotalDurationMonths,
		})
	}
	return result, nil
}

func decodeAddresses(method string, out []interface{}) ([]common.Address, error) {
	return convert[[]common.Address](method, out)
}

func decodeBool(method string, out []interface{}) (bool, error) {
	return convert[bool](method, out)
}

func decodeUint(method string, out []interface{}) (*big.Int, error) {
	v, err := convert[*big.Int](method, out)
	if err != nil {
		return nil, err
	}
	return orZero(v), nil
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

func toUint64(v *big.Int) uint64 {
	if v == nil || v.Sign() < 0 || !v.IsUint64() {
		return 0
	}
	return v.Uint64()
}
