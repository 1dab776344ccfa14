package investor

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/p2plend/client/internal/blockchain"
	"github.com/p2plend/client/internal/domain/loan"
)

var (
	ErrInvalidAmount       = errors.New("investment amount must be positive")
	ErrWithdrawNotPossible = errors.New("withdrawal of this investment is not possible")
)

// Ledger is the part of the contract gateway the investor flow uses.
type Ledger interface {
	GetActiveBorrowingAddresses(ctx context.Context) ([]common.Address, error)
	GetActiveLendingByAddress(ctx context.Context, borrower common.Address) (loan.ActiveLoan, error)
	GetInvestments(ctx context.Context) ([]loan.Investment, error)
	InvestMoney(ctx context.Context, borrower common.Address, amount decimal.Decimal) error
	IsWithdrawInvestmentPossible(ctx context.Context, borrower common.Address) (bool, error)
	WithdrawInvestment(ctx context.Context, borrower common.Address) error
}

type AccountSource interface {
	Account() (common.Address, bool)
}

type DerivationRecorder interface {
	ObserveDerivation(component, result string, err error)
}

// ItemFailure records an opportunity whose detail could not be loaded.
type ItemFailure struct {
	Address common.Address
	Err     error
}

// Opportunities is one completed opportunity load, in ledger address order.
type Opportunities struct {
	Items    []loan.ActiveLoan
	Failures []ItemFailure
	Err      error
	LoadedAt time.Time
}

// Investments is one completed investment load, most recent first.
type Investments struct {
	Items    []loan.Investment
	Err      error
	LoadedAt time.Time
}

type Catalog struct {
	Account       common.Address
	Opportunities Opportunities
	Investments   Investments
}

// Eligible reports whether borrowing can be offered to self as an investment opportunity.
func Eligible(borrowing loan.ActiveLoan, self common.Address) bool {
	return !borrowing.PaidOut &&
		borrowing.BorrowerAddress != self &&
		!borrowing.FullyFunded() &&
		!borrowing.Deleted
}

type Service struct {
	ledger      Ledger
	accounts    AccountSource
	logger      *slog.Logger
	recorder    DerivationRecorder
	maxInFlight int
	now         func() time.Time

	opportunities atomic.Pointer[Opportunities]
	investments   atomic.Pointer[Investments]
}

// NewService builds the aggregator. maxInFlight caps concurrent detail fetches; zero means no cap.
func NewService(ledger Ledger, accounts AccountSource, logger *slog.Logger, recorder DerivationRecorder, maxInFlight int) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		ledger:      ledger,
		accounts:    accounts,
		logger:      logger,
		recorder:    recorder,
		maxInFlight: maxInFlight,
		now:         func() time.Time { return time.Now().UTC() },
	}
	s.opportunities.Store(&Opportunities{})
	s.investments.Store(&Investments{})
	return s
}

// Current returns the last completed loads.
func (s *Service) Current() Catalog {
	return Catalog{
		Account:       s.account(),
		Opportunities: *s.opportunities.Load(),
		Investments:   *s.investments.Load(),
	}
}

// LoadOpportunities fetches every outstanding borrowing concurrently and keeps
// the eligible ones. Per-item failures are recorded without aborting the batch.
func (s *Service) LoadOpportunities(ctx context.Context) (Opportunities, error) {
	result := Opportunities{Items: []loan.ActiveLoan{}}
	addresses, err := s.ledger.GetActiveBorrowingAddresses(ctx)
	if err != nil {
		result.Err = loan.NewReadError(loan.ReadBorrowingAddresses, err)
		return s.storeOpportunities(result), result.Err
	}

	type slot struct {
		borrowing loan.ActiveLoan
		err       error
	}
	slots := make([]slot, len(addresses))
	var g errgroup.Group
	if s.maxInFlight > 0 {
		g.SetLimit(s.maxInFlight)
	}
	for i, addr := range addresses {
		i, addr := i, addr
		g.Go(func() error {
			borrowing, err := s.ledger.GetActiveLendingByAddress(ctx, addr)
			slots[i] = slot{borrowing: borrowing, err: err}
			return nil
		})
	}
	_ = g.Wait()

	self := s.account()
	for i, sl := range slots {
		if sl.err != nil {
			failure := ItemFailure{Address: addresses[i], Err: loan.NewReadError(loan.ReadOpportunityDetail, sl.err)}
			result.Failures = append(result.Failures, failure)
			s.logger.Warn("opportunity detail failed", "borrower", addresses[i].Hex(), "err", sl.err)
			if s.recorder != nil {
				s.recorder.ObserveDerivation("opportunity", "failed", failure.Err)
			}
			continue
		}
		if Eligible(sl.borrowing, self) {
			result.Items = append(result.Items, sl.borrowing)
		}
	}
	return s.storeOpportunities(result), nil
}

// LoadInvestments fetches the active account's investments, drops deleted
// ones and reverses the ledger order.
func (s *Service) LoadInvestments(ctx context.Context) (Investments, error) {
	result := Investments{Items: []loan.Investment{}}
	all, err := s.ledger.GetInvestments(ctx)
	if err != nil {
		result.Err = loan.NewReadError(loan.ReadInvestments, err)
		return s.storeInvestments(result), result.Err
	}
	for i := len(all) - 1; i >= 0; i-- {
		if !all[i].Deleted {
			result.Items = append(result.Items, all[i])
		}
	}
	return s.storeInvestments(result), nil
}

// Reload refreshes both catalogs. The first read error is returned after both loads finish.
func (s *Service) Reload(ctx context.Context) (Catalog, error) {
	var g errgroup.Group
	g.Go(func() error {
		_, err := s.LoadOpportunities(ctx)
		return err
	})
	g.Go(func() error {
		_, err := s.LoadInvestments(ctx)
		return err
	})
	err := g.Wait()
	return s.Current(), err
}

// Invest commits amount display units to borrower. Both catalogs are
// refreshed on success only.
func (s *Service) Invest(ctx context.Context, borrower common.Address, amount decimal.Decimal) (Catalog, error) {
	if !amount.IsPositive() {
		return s.Current(), ErrInvalidAmount
	}
	if err := s.ledger.InvestMoney(ctx, borrower, amount); err != nil {
		s.logger.Warn("investment failed", "borrower", borrower.Hex(), "amount", amount.String(), "err", err)
		return s.Current(), err
	}
	s.logger.Info("investment committed", "borrower", borrower.Hex(), "amount", amount.String())
	return s.Reload(ctx)
}

func (s *Service) IsWithdrawPossible(ctx context.Context, borrower common.Address) (bool, error) {
	ok, err := s.ledger.IsWithdrawInvestmentPossible(ctx, borrower)
	if err != nil {
		return false, loan.NewReadError(loan.ReadWithdrawPossible, err)
	}
	return ok, nil
}

// WithdrawInvestment withdraws the investment in borrower's loan once the
// ledger allows it, and reloads both catalogs on success.
func (s *Service) WithdrawInvestment(ctx context.Context, borrower common.Address) (Catalog, error) {
	ok, err := s.IsWithdrawPossible(ctx, borrower)
	if err != nil {
		return s.Current(), err
	}
	if !ok {
		return s.Current(), ErrWithdrawNotPossible
	}
	if err := s.ledger.WithdrawInvestment(ctx, borrower); err != nil {
		s.logger.Warn("investment withdrawal failed", "borrower", borrower.Hex(), "err", err)
		return s.Current(), err
	}
	return s.Reload(ctx)
}

func (s *Service) account() common.Address {
	if s.accounts == nil {
		return common.Address{}
	}
	addr, _ := s.accounts.Account()
	return addr
}

func (s *Service) storeOpportunities(result Opportunities) Opportunities {
	result.LoadedAt = s.now()
	stored := result
	s.opportunities.Store(&stored)
	if s.recorder != nil {
		s.recorder.ObserveDerivation("opportunities", outcome(result.Err), result.Err)
	}
	return result
}

func (s *Service) storeInvestments(result Investments) Investments {
	result.LoadedAt = s.now()
	stored := result
	s.investments.Store(&stored)
	if s.recorder != nil {
		s.recorder.ObserveDerivation("investments", outcome(result.Err), result.Err)
	}
	return result
}

func outcome(err error) string {
	if err != nil {
		return "failed"
	}
	return "loaded"
}

// UserMessage is the text shown for a failed investor action.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidAmount):
		return "Please enter a positive amount to invest."
	case errors.Is(err, ErrWithdrawNotPossible):
		return "Withdrawal aborted or not successful."
	default:
		return blockchain.UserMessage(err)
	}
}
