package views

import (
	"errors"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/p2plend/client/internal/blockchain"
	"github.com/p2plend/client/internal/domain/borrower"
	"github.com/p2plend/client/internal/domain/investor"
	"github.com/p2plend/client/internal/domain/loan"
	"github.com/p2plend/client/internal/session"
)

// Display converts ledger amounts for presentation.
type Display struct {
	Currency string
	Rate     decimal.Decimal
}

type Amount struct {
	SmallestUnit    string `json:"smallest_unit"`
	DisplayUnit     string `json:"display_unit"`
	DisplayCurrency string `json:"display_currency"`
	Currency        string `json:"currency"`
}

func (d Display) Amount(v *big.Int) Amount {
	if v == nil {
		v = new(big.Int)
	}
	return Amount{
		SmallestUnit:    v.String(),
		DisplayUnit:     blockchain.ToDisplayUnit(v).String(),
		DisplayCurrency: blockchain.ToDisplayCurrency(v, d.Rate).StringFixed(2),
		Currency:        d.Currency,
	}
}

type ErrorView struct {
	Code     string `json:"code"`
	Category string `json:"category,omitempty"`
	Message  string `json:"message"`
}

// Error renders err with the user-facing message; nil stays nil.
func Error(err error, message string) *ErrorView {
	if err == nil {
		return nil
	}
	out := &ErrorView{Code: ErrorCode(err), Message: message}
	var readErr *loan.ReadError
	if errors.As(err, &readErr) {
		out.Category = string(readErr.Kind)
	}
	return out
}

// ErrorCode classifies err for API clients.
func ErrorCode(err error) string {
	var revert *blockchain.RevertError
	var readErr *loan.ReadError
	switch {
	case session.IsNotConnected(err):
		return "not_connected"
	case errors.As(err, &readErr):
		return "read_failed"
	case errors.As(err, &revert):
		return "transaction_reverted"
	default:
		return "failed"
	}
}

type RequestView struct {
	Amount         Amount `json:"amount"`
	DurationMonths uint8  `json:"duration_months"`
	Income         Amount `json:"income"`
	Expenses       Amount `json:"expenses"`
}

type ConditionsView struct {
	MonthlyAmount Amount `json:"monthly_amount"`
	InterestRate  uint64 `json:"interest_rate"`
}

type InvestorShare struct {
	Address string `json:"address"`
	Amount  Amount `json:"amount"`
}

type LoanView struct {
	BorrowerAddress         string          `json:"borrower_address"`
	BorrowedAmount          Amount          `json:"borrowed_amount"`
	TotalDurationMonths     uint8           `json:"total_duration_months"`
	AmountLeftToRepay       Amount          `json:"amount_left_to_repay"`
	DurationMonthsLeft      uint8           `json:"duration_months_left"`
	MonthlyAmount           Amount          `json:"monthly_amount"`
	InterestRate            uint64          `json:"interest_rate"`
	Investors               []InvestorShare `json:"investors"`
	TotalInvestorAmount     Amount          `json:"total_investor_amount"`
	RemainingFunding        Amount          `json:"remaining_funding"`
	FundingRate             float64         `json:"funding_rate"`
	TotalWithInterest       Amount          `json:"total_with_interest"`
	PaidBackRate            float64         `json:"paid_back_rate"`
	Deleted                 bool            `json:"deleted"`
	PaidOut                 bool            `json:"paid_out"`
	PaidBack                bool            `json:"paid_back"`
	WithdrawalDate          *time.Time      `json:"withdrawal_date,omitempty"`
	MostRecentRepaymentDate *time.Time      `json:"most_recent_repayment_date,omitempty"`
	FundingCompletedDate    *time.Time      `json:"funding_completed_date,omitempty"`
}

func (d Display) Loan(l loan.ActiveLoan) LoanView {
	investors := make([]InvestorShare, 0, len(l.InvestorAddresses))
	for i, addr := range l.InvestorAddresses {
		var amount *big.Int
		if i < len(l.InvestorAmounts) {
			amount = l.InvestorAmounts[i]
		}
		investors = append(investors, InvestorShare{Address: addr.Hex(), Amount: d.Amount(amount)})
	}
	return LoanView{
		BorrowerAddress:         l.BorrowerAddress.Hex(),
		BorrowedAmount:          d.Amount(l.BorrowedAmount),
		TotalDurationMonths:     l.TotalDurationMonths,
		AmountLeftToRepay:       d.Amount(l.AmountLeftToRepay),
		DurationMonthsLeft:      l.DurationMonthsLeft,
		MonthlyAmount:           d.Amount(l.MonthlyAmount),
		InterestRate:            l.InterestRate,
		Investors:               investors,
		TotalInvestorAmount:     d.Amount(l.TotalInvestorAmount),
		RemainingFunding:        d.Amount(l.RemainingFunding()),
		FundingRate:             l.FundingRate(),
		TotalWithInterest:       d.Amount(l.TotalWithInterest()),
		PaidBackRate:            l.PaidBackRate(),
		Deleted:                 l.Deleted,
		PaidOut:                 l.PaidOut,
		PaidBack:                l.PaidBack,
		WithdrawalDate:          unixTime(l.WithdrawalDate),
		MostRecentRepaymentDate: unixTime(l.MostRecentRepaymentDate),
		FundingCompletedDate:    unixTime(l.FundingCompletedDate),
	}
}

type BorrowerView struct {
	Stage      string          `json:"stage"`
	Account    string          `json:"account"`
	Request    *RequestView    `json:"request,omitempty"`
	Conditions *ConditionsView `json:"conditions,omitempty"`
	Loan       *LoanView       `json:"loan,omitempty"`
	Advisory   string          `json:"advisory,omitempty"`
	Error      *ErrorView      `json:"error,omitempty"`
	DerivedAt  time.Time       `json:"derived_at"`
}

func (d Display) Borrower(s borrower.State) BorrowerView {
	out := BorrowerView{
		Stage:     string(s.Stage),
		Account:   s.Account.Hex(),
		Advisory:  s.Advisory,
		Error:     Error(s.Err, borrower.UserMessage(s.Err)),
		DerivedAt: s.DerivedAt,
	}
	if s.Request != nil {
		out.Request = &RequestView{
			Amount:         d.Amount(s.Request.Amount),
			DurationMonths: s.Request.DurationMonths,
			Income:         d.Amount(s.Request.Income),
			Expenses:       d.Amount(s.Request.Expenses),
		}
	}
	if s.Conditions != nil {
		out.Conditions = &ConditionsView{
			MonthlyAmount: d.Amount(s.Conditions.MonthlyAmount),
			InterestRate:  s.Conditions.InterestRate,
		}
	}
	if s.Loan != nil {
		lv := d.Loan(*s.Loan)
		out.Loan = &lv
	}
	return out
}

type InvestmentView struct {
	BorrowerAddress             string     `json:"borrower_address"`
	TotalAmountLent             Amount     `json:"total_amount_lent"`
	TotalAmountLentWithInterest Amount     `json:"total_amount_lent_with_interest"`
	MonthlyAmount               Amount     `json:"monthly_amount"`
	InterestRate                uint64     `json:"interest_rate"`
	AmountPaidBack              Amount     `json:"amount_paid_back"`
	PaidBackRate                float64    `json:"paid_back_rate"`
	DurationMonthsLeft          uint64     `json:"duration_months_left"`
	TotalDurationMonths         uint8      `json:"total_duration_months"`
	PaidBack                    bool       `json:"paid_back"`
	StartDate                   *time.Time `json:"start_date,omitempty"`
	MostRecentRepaymentDate     *time.Time `json:"most_recent_repayment_date,omitempty"`
}

func (d Display) Investment(i loan.Investment) InvestmentView {
	return InvestmentView{
		BorrowerAddress:             i.BorrowerAddress.Hex(),
		TotalAmountLent:             d.Amount(i.TotalAmountLent),
		TotalAmountLentWithInterest: d.Amount(i.TotalAmountLentWithInterest),
		MonthlyAmount:               d.Amount(i.MonthlyAmount),
		InterestRate:                i.InterestRate,
		AmountPaidBack:              d.Amount(i.AmountPaidBack),
		PaidBackRate:                i.PaidBackRate(),
		DurationMonthsLeft:          i.DurationMonthsLeft,
		TotalDurationMonths:         i.TotalDurationMonths,
		PaidBack:                    i.PaidBack,
		StartDate:                   unixTime(i.StartDate),
		MostRecentRepaymentDate:     unixTime(i.MostRecentRepaymentDate),
	}
}

type FailureView struct {
	Address string    `json:"address"`
	Error   ErrorView `json:"error"`
}

type OpportunitiesView struct {
	Items    []LoanView    `json:"items"`
	Failures []FailureView `json:"failures"`
	Error    *ErrorView    `json:"error,omitempty"`
	LoadedAt time.Time     `json:"loaded_at"`
}

func (d Display) Opportunities(o investor.Opportunities) OpportunitiesView {
	out := OpportunitiesView{
		Items:    make([]LoanView, 0, len(o.Items)),
		Failures: make([]FailureView, 0, len(o.Failures)),
		Error:    Error(o.Err, investor.UserMessage(o.Err)),
		LoadedAt: o.LoadedAt,
	}
	for _, item := range o.Items {
		out.Items = append(out.Items, d.Loan(item))
	}
	for _, f := range o.Failures {
		out.Failures = append(out.Failures, FailureView{Address: f.Address.Hex(), Error: *Error(f.Err, investor.UserMessage(f.Err))})
	}
	return out
}

type InvestmentsView struct {
	Items    []InvestmentView `json:"items"`
	Error    *ErrorView       `json:"error,omitempty"`
	LoadedAt time.Time        `json:"loaded_at"`
}

func (d Display) Investments(in investor.Investments) InvestmentsView {
	out := InvestmentsView{
		Items:    make([]InvestmentView, 0, len(in.Items)),
		Error:    Error(in.Err, investor.UserMessage(in.Err)),
		LoadedAt: in.LoadedAt,
	}
	for _, item := range in.Items {
		out.Items = append(out.Items, d.Investment(item))
	}
	return out
}

type CatalogView struct {
	Account       string            `json:"account"`
	Opportunities OpportunitiesView `json:"opportunities"`
	Investments   InvestmentsView   `json:"investments"`
}

func (d Display) Catalog(c investor.Catalog) CatalogView {
	return CatalogView{
		Account:       c.Account.Hex(),
		Opportunities: d.Opportunities(c.Opportunities),
		Investments:   d.Investments(c.Investments),
	}
}

type NetworkView struct {
	ChainID   string    `json:"chain_id"`
	Expected  string    `json:"expected_chain_id"`
	Mismatch  bool      `json:"mismatch"`
	Message   string    `json:"message,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

func Network(n session.NetworkStatus) NetworkView {
	return NetworkView{
		ChainID:   bigString(n.ChainID),
		Expected:  bigString(n.Expected),
		Mismatch:  n.Mismatch,
		Message:   n.Message,
		CheckedAt: n.CheckedAt,
	}
}

type SessionView struct {
	ID        string      `json:"id,omitempty"`
	Connected bool        `json:"connected"`
	Account   string      `json:"account,omitempty"`
	ChainID   string      `json:"chain_id,omitempty"`
	Contract  string      `json:"contract,omitempty"`
	Since     *time.Time  `json:"since,omitempty"`
	Network   NetworkView `json:"network"`
}

func Session(s session.Snapshot, n session.NetworkStatus) SessionView {
	out := SessionView{Connected: s.Connected, Network: Network(n)}
	if s.ID != uuid.Nil {
		out.ID = s.ID.String()
		out.Account = s.Account.Hex()
		out.ChainID = bigString(s.ChainID)
		out.Contract = s.Contract.Hex()
		since := s.Since
		out.Since = &since
	}
	return out
}

func unixTime(ts uint64) *time.Time {
	if ts == 0 {
		return nil
	}
	t := time.Unix(int64(ts), 0).UTC()
	return &t
}

func bigString(v *big.Int) string {
	if v == nil {
		return ""
	}
	return v.String()
}
