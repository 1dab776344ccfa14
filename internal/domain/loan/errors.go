package loan

import "fmt"

// ReadKind names what a failed ledger read was loading.
type ReadKind string

const (
	ReadRequest            ReadKind = "request"
	ReadConditions         ReadKind = "conditions"
	ReadActiveLoan         ReadKind = "active-loan"
	ReadInvestments        ReadKind = "investments"
	ReadOpportunityDetail  ReadKind = "opportunity-detail"
	ReadBorrowingAddresses ReadKind = "borrowing-addresses"
	ReadPaybackPossible    ReadKind = "payback-possible"
	ReadWithdrawPossible   ReadKind = "withdraw-possible"
)

// ReadError reports a failed ledger query. It halts only the derivation that needed the read.
type ReadError struct {
	Kind ReadKind
	Err  error
}

func NewReadError(kind ReadKind, err error) *ReadError {
	return &ReadError{Kind: kind, Err: err}
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("load %s: %v", e.Kind, e.Err)
}

func (e *ReadError) Unwrap() error {
	return e.Err
}

// Message is the human-readable text shown for the failed read.
func (e *ReadError) Message() string {
	switch e.Kind {
	case ReadRequest:
		return "Could not load your borrowing request."
	case ReadConditions:
		return "Could not load the borrowing conditions."
	case ReadActiveLoan:
		return "Could not load your active loan."
	case ReadInvestments:
		return "Could not load your investments."
	case ReadOpportunityDetail:
		return "Could not load an investment opportunity."
	case ReadBorrowingAddresses:
		return "Could not load the list of open borrowings."
	case ReadPaybackPossible:
		return "Could not check whether a repayment is possible."
	case ReadWithdrawPossible:
		return "Could not check whether a withdrawal is possible."
	default:
		return "Could not load data from the ledger."
	}
}
