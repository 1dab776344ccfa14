package loan

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Request is the borrowing request stored on the ledger for the calling account.
// The all-zero value is the "no request" sentinel.
type Request struct {
	Amount         *big.Int
	DurationMonths uint8
	Income         *big.Int
	Expenses       *big.Int
}

func (r Request) IsEmpty() bool {
	return isZero(r.Amount) && r.DurationMonths == 0 && isZero(r.Income) && isZero(r.Expenses)
}

// Conditions are computed by the ledger from a Request.
type Conditions struct {
	MonthlyAmount *big.Int
	InterestRate  uint64
}

type ActiveLoan struct {
	BorrowedAmount          *big.Int
	TotalDurationMonths     uint8
	AmountLeftToRepay       *big.Int
	DurationMonthsLeft      uint8
	MonthlyAmount           *big.Int
	InterestRate            uint64
	InvestorAddresses       []common.Address
	InvestorAmounts         []*big.Int
	TotalInvestorAmount     *big.Int
	Deleted                 bool
	PaidOut                 bool
	PaidBack                bool
	WithdrawalDate          uint64
	MostRecentRepaymentDate uint64
	FundingCompletedDate    uint64

	// BorrowerAddress is attached by the client; the ledger tuple does not carry it.
	BorrowerAddress common.Address
}

// InRepayment reports whether the loan is live and not yet paid back.
func (l ActiveLoan) InRepayment() bool {
	return !l.Deleted && !l.PaidBack && l.BorrowedAmount != nil && l.BorrowedAmount.Sign() > 0
}

// Expired reports a loan whose funding completed but that was deleted because
// the borrower never withdrew the money.
func (l ActiveLoan) Expired() bool {
	return l.FundingCompletedDate > 0 && l.Deleted
}

func (l ActiveLoan) FullyFunded() bool {
	return amountEqual(l.TotalInvestorAmount, l.BorrowedAmount)
}

// FundingRate is the committed share of the borrowed amount in percent.
func (l ActiveLoan) FundingRate() float64 {
	return percent(l.TotalInvestorAmount, l.BorrowedAmount)
}

// RemainingFunding is the amount investors can still commit, floored at zero.
func (l ActiveLoan) RemainingFunding() *big.Int {
	out := new(big.Int).Sub(orZero(l.BorrowedAmount), orZero(l.TotalInvestorAmount))
	if out.Sign() < 0 {
		return new(big.Int)
	}
	return out
}

// TotalWithInterest is the committed amount plus interest. InterestRate is in
// hundredths of a percent.
func (l ActiveLoan) TotalWithInterest() *big.Int {
	out := new(big.Int).Mul(orZero(l.TotalInvestorAmount), new(big.Int).SetUint64(10000+l.InterestRate))
	return out.Quo(out, big.NewInt(10000))
}

// PaidBackRate is the repaid share of TotalWithInterest in percent.
func (l ActiveLoan) PaidBackRate() float64 {
	total := l.TotalWithInterest()
	repaid := new(big.Int).Sub(total, orZero(l.AmountLeftToRepay))
	if repaid.Sign() < 0 {
		return 0
	}
	return percent(repaid, total)
}

type Investment struct {
	BorrowerAddress             common.Address
	TotalAmountLent             *big.Int
	TotalAmountLentWithInterest *big.Int
	MonthlyAmount               *big.Int
	InterestRate                uint64
	AmountPaidBack              *big.Int
	DurationMonthsLeft          uint64
	Deleted                     bool
	PaidBack                    bool
	StartDate                   uint64
	MostRecentRepaymentDate     uint64
	TotalDurationMonths         uint8
}

// PaidBackRate is the repaid share of the amount owed including interest, in percent.
func (i Investment) PaidBackRate() float64 {
	return percent(i.AmountPaidBack, i.TotalAmountLentWithInterest)
}

func isZero(v *big.Int) bool {
	return v == nil || v.Sign() == 0
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

func amountEqual(a, b *big.Int) bool {
	return orZero(a).Cmp(orZero(b)) == 0
}

func percent(part, whole *big.Int) float64 {
	if isZero(whole) {
		return 0
	}
	ratio := new(big.Rat).SetFrac(new(big.Int).Mul(orZero(part), big.NewInt(100)), whole)
	out, _ := ratio.Float64()
	return out
}
