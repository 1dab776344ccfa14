package borrower

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/p2plend/client/internal/blockchain"
	"github.com/p2plend/client/internal/domain/loan"
)

type Stage string

const (
	StageUnknown         Stage = "unknown"
	StageNoRequest       Stage = "no_request"
	StageQuoted          Stage = "quoted"
	StageActiveRepayment Stage = "active_repayment"
	StageExpired         Stage = "expired"
)

const expiredAdvisory = "Your borrowing expired because the money was not withdrawn in time. The investors have been refunded; you can request a new borrowing."

var (
	ErrInvalidRequest       = errors.New("borrowing amount and duration must be positive")
	ErrPayBackNotPossible   = errors.New("pay back is not possible")
	ErrWithdrawNotPossible  = errors.New("withdrawal is not possible")
	ErrNoActiveBorrowing    = errors.New("no active borrowing")
	ErrFallbackNotAvailable = errors.New("fallback only applies to an expired borrowing")
)

// Ledger is the part of the contract gateway the borrower flow uses.
type Ledger interface {
	GetActiveBorrowing(ctx context.Context) (loan.ActiveLoan, error)
	GetBorrowingRequest(ctx context.Context) (loan.Request, error)
	GetBorrowingConditions(ctx context.Context) (loan.Conditions, error)
	RequestBorrowing(ctx context.Context, req loan.Request) error
	CommitBorrowing(ctx context.Context) error
	IsPayBackPossible(ctx context.Context) (bool, error)
	PayBackBorrower(ctx context.Context, monthlyAmount *big.Int) error
	IsWithdrawMoneyPossible(ctx context.Context) (bool, error)
	WithdrawMoney(ctx context.Context) error
}

type AccountSource interface {
	Account() (common.Address, bool)
}

type DerivationRecorder interface {
	ObserveDerivation(component, result string, err error)
}

// State is one completed derivation. Err is set when a read halted the pass.
type State struct {
	Stage      Stage
	Account    common.Address
	Request    *loan.Request
	Conditions *loan.Conditions
	Loan       *loan.ActiveLoan
	Advisory   string
	Err        error
	DerivedAt  time.Time
}

// Service derives the borrower's stage from the ledger. Concurrent passes are
// allowed; the last one to complete is kept.
type Service struct {
	ledger   Ledger
	accounts AccountSource
	logger   *slog.Logger
	recorder DerivationRecorder
	now      func() time.Time

	current atomic.Pointer[State]
}

func NewService(ledger Ledger, accounts AccountSource, logger *slog.Logger, recorder DerivationRecorder) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		ledger:   ledger,
		accounts: accounts,
		logger:   logger,
		recorder: recorder,
		now:      func() time.Time { return time.Now().UTC() },
	}
	s.current.Store(&State{Stage: StageUnknown})
	return s
}

// Current returns the last completed derivation.
func (s *Service) Current() State {
	return *s.current.Load()
}

// Derive runs a full pass. Checks run in priority order and the first match wins.
func (s *Service) Derive(ctx context.Context) (State, error) {
	state := s.derive(ctx)
	return s.publish(state), state.Err
}

// Reset discards the current stage and derives it again.
func (s *Service) Reset(ctx context.Context) (State, error) {
	return s.Derive(ctx)
}

func (s *Service) derive(ctx context.Context) State {
	state := s.blank(StageUnknown)

	active, err := s.ledger.GetActiveBorrowing(ctx)
	if err != nil {
		state.Err = loan.NewReadError(loan.ReadActiveLoan, err)
		return state
	}
	if active.InRepayment() {
		state.Stage = StageActiveRepayment
		state.Loan = &active
		return state
	}
	if active.Expired() {
		state.Stage = StageExpired
		state.Loan = &active
		state.Advisory = expiredAdvisory
		return state
	}

	req, err := s.ledger.GetBorrowingRequest(ctx)
	if err != nil {
		state.Err = loan.NewReadError(loan.ReadRequest, err)
		return state
	}
	if req.IsEmpty() {
		state.Stage = StageNoRequest
		return state
	}

	cond, err := s.ledger.GetBorrowingConditions(ctx)
	if err != nil {
		state.Err = loan.NewReadError(loan.ReadConditions, err)
		return state
	}
	state.Stage = StageQuoted
	state.Request = &req
	state.Conditions = &cond
	return state
}

// Fallback moves an expired borrowing back to the request entry point,
// keeping the advisory.
func (s *Service) Fallback() (State, error) {
	current := s.Current()
	if current.Stage != StageExpired {
		return current, ErrFallbackNotAvailable
	}
	next := s.blank(StageNoRequest)
	next.Advisory = current.Advisory
	return s.publish(next), nil
}

// RequestQuote submits req and reads back the conditions the ledger computed.
// A rejected request resets the stage to NoRequest.
func (s *Service) RequestQuote(ctx context.Context, req loan.Request) (State, error) {
	if req.Amount == nil || req.Amount.Sign() <= 0 || req.DurationMonths == 0 {
		return s.Current(), ErrInvalidRequest
	}
	if err := s.ledger.RequestBorrowing(ctx, req); err != nil {
		s.logger.Warn("borrowing request rejected", "err", err)
		return s.resetAfterFailure(err), err
	}

	state := s.blank(StageUnknown)
	cond, err := s.ledger.GetBorrowingConditions(ctx)
	if err != nil {
		state.Err = loan.NewReadError(loan.ReadConditions, err)
		return s.publish(state), state.Err
	}
	state.Stage = StageQuoted
	state.Request = &req
	state.Conditions = &cond
	return s.publish(state), nil
}

// Commit accepts the quoted conditions and re-derives.
func (s *Service) Commit(ctx context.Context) (State, error) {
	if err := s.ledger.CommitBorrowing(ctx); err != nil {
		s.logger.Warn("borrowing commit failed", "err", err)
		return s.resetAfterFailure(err), err
	}
	return s.Derive(ctx)
}

// PayBack pays one monthly installment of the active borrowing.
func (s *Service) PayBack(ctx context.Context) (State, error) {
	active, err := s.ledger.GetActiveBorrowing(ctx)
	if err != nil {
		return s.Current(), loan.NewReadError(loan.ReadActiveLoan, err)
	}
	if !active.InRepayment() {
		return s.Current(), ErrNoActiveBorrowing
	}
	ok, err := s.ledger.IsPayBackPossible(ctx)
	if err != nil {
		return s.Current(), loan.NewReadError(loan.ReadPaybackPossible, err)
	}
	if !ok {
		return s.Current(), ErrPayBackNotPossible
	}
	if err := s.ledger.PayBackBorrower(ctx, active.MonthlyAmount); err != nil {
		s.logger.Warn("pay back failed", "err", err)
		return s.Current(), err
	}
	return s.Derive(ctx)
}

// PayBackPossible reports whether the ledger currently accepts an installment.
func (s *Service) PayBackPossible(ctx context.Context) (bool, error) {
	ok, err := s.ledger.IsPayBackPossible(ctx)
	if err != nil {
		return false, loan.NewReadError(loan.ReadPaybackPossible, err)
	}
	return ok, nil
}

// WithdrawMoney pays the funded amount out to the borrower.
func (s *Service) WithdrawMoney(ctx context.Context) (State, error) {
	ok, err := s.ledger.IsWithdrawMoneyPossible(ctx)
	if err != nil {
		return s.Current(), loan.NewReadError(loan.ReadWithdrawPossible, err)
	}
	if !ok {
		return s.Current(), ErrWithdrawNotPossible
	}
	if err := s.ledger.WithdrawMoney(ctx); err != nil {
		s.logger.Warn("withdraw money failed", "err", err)
		return s.Current(), err
	}
	return s.Derive(ctx)
}

func (s *Service) resetAfterFailure(err error) State {
	state := s.blank(StageNoRequest)
	state.Advisory = UserMessage(err)
	return s.publish(state)
}

func (s *Service) blank(stage Stage) State {
	state := State{Stage: stage, DerivedAt: s.now()}
	if s.accounts != nil {
		state.Account, _ = s.accounts.Account()
	}
	return state
}

func (s *Service) publish(state State) State {
	stored := state
	s.current.Store(&stored)
	if state.Err != nil {
		s.logger.Warn("borrower derivation halted", "account", state.Account.Hex(), "err", state.Err)
	} else {
		s.logger.Debug("borrower stage derived", "account", state.Account.Hex(), "stage", string(state.Stage))
	}
	if s.recorder != nil {
		s.recorder.ObserveDerivation("borrower", string(state.Stage), state.Err)
	}
	return state
}

// UserMessage is the text shown for a failed borrower action.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidRequest):
		return "Please enter a positive amount and duration."
	case errors.Is(err, ErrPayBackNotPossible):
		return "Payback aborted or not successful."
	case errors.Is(err, ErrWithdrawNotPossible):
		return "Withdrawal aborted or not successful."
	case errors.Is(err, ErrNoActiveBorrowing):
		return "You have no active borrowing."
	case errors.Is(err, ErrFallbackNotAvailable):
		return "There is no expired borrowing to dismiss."
	default:
		return blockchain.UserMessage(err)
	}
}
