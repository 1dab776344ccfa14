package borrower

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p2plend/client/internal/blockchain"
	"github.com/p2plend/client/internal/domain/loan"
)

var me = common.HexToAddress("0x000000000000000000000000000000000000beef")

type fakeLedger struct {
	active        loan.ActiveLoan
	request       loan.Request
	conditions    loan.Conditions
	activeErr     error
	requestErr    error
	conditionsErr error

	requestBorrowingErr error
	commitErr           error
	payBackPossible     bool
	payBackErr          error
	withdrawPossible    bool
	withdrawErr         error

	conditionReads int
	paidAmounts    []*big.Int
	withdrawals    int

	// onRequest and onCommit mutate ledger state the way the contract would.
	onRequest func(f *fakeLedger, req loan.Request)
	onCommit  func(f *fakeLedger)
}

func (f *fakeLedger) GetActiveBorrowing(context.Context) (loan.ActiveLoan, error) {
	return f.active, f.activeErr
}

func (f *fakeLedger) GetBorrowingRequest(context.Context) (loan.Request, error) {
	return f.request, f.requestErr
}

func (f *fakeLedger) GetBorrowingConditions(context.Context) (loan.Conditions, error) {
	f.conditionReads++
	return f.conditions, f.conditionsErr
}

func (f *fakeLedger) RequestBorrowing(_ context.Context, req loan.Request) error {
	if f.requestBorrowingErr != nil {
		return f.requestBorrowingErr
	}
	if f.onRequest != nil {
		f.onRequest(f, req)
	}
	return nil
}

func (f *fakeLedger) CommitBorrowing(context.Context) error {
	if f.commitErr != nil {
		return f.commitErr
	}
	if f.onCommit != nil {
		f.onCommit(f)
	}
	return nil
}

func (f *fakeLedger) IsPayBackPossible(context.Context) (bool, error) {
	return f.payBackPossible, nil
}

func (f *fakeLedger) PayBackBorrower(_ context.Context, amount *big.Int) error {
	if f.payBackErr != nil {
		return f.payBackErr
	}
	f.paidAmounts = append(f.paidAmounts, amount)
	return nil
}

func (f *fakeLedger) IsWithdrawMoneyPossible(context.Context) (bool, error) {
	return f.withdrawPossible, nil
}

func (f *fakeLedger) WithdrawMoney(context.Context) error {
	if f.withdrawErr != nil {
		return f.withdrawErr
	}
	f.withdrawals++
	return nil
}

type self struct{}

func (self) Account() (common.Address, bool) { return me, true }

func emptyRequest() loan.Request {
	return loan.Request{Amount: big.NewInt(0), Income: big.NewInt(0), Expenses: big.NewInt(0)}
}

func emptyLoan() loan.ActiveLoan {
	return loan.ActiveLoan{BorrowedAmount: big.NewInt(0), TotalInvestorAmount: big.NewInt(0)}
}

func repayingLoan() loan.ActiveLoan {
	return loan.ActiveLoan{
		BorrowedAmount:      big.NewInt(1000),
		TotalDurationMonths: 12,
		AmountLeftToRepay:   big.NewInt(1100),
		MonthlyAmount:       big.NewInt(92),
		TotalInvestorAmount: big.NewInt(1000),
	}
}

func newService(l *fakeLedger) *Service {
	return NewService(l, self{}, nil, nil)
}

func TestEmptyRequestDerivesNoRequest(t *testing.T) {
	ledger := &fakeLedger{
		active:        emptyLoan(),
		request:       emptyRequest(),
		conditionsErr: errors.New("conditions must not be read"),
	}
	svc := newService(ledger)

	state, err := svc.Derive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StageNoRequest, state.Stage)
	assert.Equal(t, me, state.Account)
	assert.Zero(t, ledger.conditionReads)
}

func TestActiveRepaymentTakesPriorityOverRequest(t *testing.T) {
	ledger := &fakeLedger{
		active:     repayingLoan(),
		request:    loan.Request{Amount: big.NewInt(5), DurationMonths: 3, Income: big.NewInt(1), Expenses: big.NewInt(1)},
		requestErr: errors.New("request must not be read"),
	}
	svc := newService(ledger)

	state, err := svc.Derive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StageActiveRepayment, state.Stage)
	require.NotNil(t, state.Loan)
	assert.Equal(t, int64(1000), state.Loan.BorrowedAmount.Int64())
}

func TestRequestThenQuote(t *testing.T) {
	ledger := &fakeLedger{active: emptyLoan(), request: emptyRequest()}
	ledger.onRequest = func(f *fakeLedger, req loan.Request) {
		f.request = req
		f.conditions = loan.Conditions{MonthlyAmount: big.NewInt(90), InterestRate: 500}
	}
	svc := newService(ledger)

	state, err := svc.Derive(context.Background())
	require.NoError(t, err)
	require.Equal(t, StageNoRequest, state.Stage)

	req := loan.Request{Amount: big.NewInt(1000), DurationMonths: 12, Income: big.NewInt(4000), Expenses: big.NewInt(1500)}
	state, err = svc.RequestQuote(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, StageQuoted, state.Stage)
	require.NotNil(t, state.Conditions)
	assert.Equal(t, int64(90), state.Conditions.MonthlyAmount.Int64())
	assert.Equal(t, uint64(500), state.Conditions.InterestRate)
	assert.Equal(t, StageQuoted, svc.Current().Stage)

	state, err = svc.Derive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StageQuoted, state.Stage)
}

func TestCommitDerivesActiveRepayment(t *testing.T) {
	ledger := &fakeLedger{
		active:     emptyLoan(),
		request:    loan.Request{Amount: big.NewInt(1000), DurationMonths: 12, Income: big.NewInt(1), Expenses: big.NewInt(1)},
		conditions: loan.Conditions{MonthlyAmount: big.NewInt(90), InterestRate: 500},
	}
	ledger.onCommit = func(f *fakeLedger) {
		f.active = repayingLoan()
		f.request = emptyRequest()
	}
	svc := newService(ledger)

	state, err := svc.Commit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StageActiveRepayment, state.Stage)
}

func TestExpiredThenFallback(t *testing.T) {
	ledger := &fakeLedger{
		active: loan.ActiveLoan{
			BorrowedAmount:       big.NewInt(1000),
			TotalInvestorAmount:  big.NewInt(1000),
			Deleted:              true,
			FundingCompletedDate: 1700000000,
		},
		request: emptyRequest(),
	}
	svc := newService(ledger)

	state, err := svc.Derive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StageExpired, state.Stage)
	assert.NotEmpty(t, state.Advisory)

	next, err := svc.Fallback()
	require.NoError(t, err)
	assert.Equal(t, StageNoRequest, next.Stage)
	assert.Equal(t, state.Advisory, next.Advisory)
	assert.Equal(t, StageNoRequest, svc.Current().Stage)

	_, err = svc.Fallback()
	assert.ErrorIs(t, err, ErrFallbackNotAvailable)
}

func TestDeletedLoanWithoutFundingIsNotExpired(t *testing.T) {
	ledger := &fakeLedger{
		active:  loan.ActiveLoan{BorrowedAmount: big.NewInt(1000), TotalInvestorAmount: big.NewInt(10), Deleted: true},
		request: emptyRequest(),
	}
	state, err := newService(ledger).Derive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StageNoRequest, state.Stage)
}

func TestReadFailuresHaltWithCategory(t *testing.T) {
	cases := []struct {
		name   string
		ledger *fakeLedger
		kind   loan.ReadKind
	}{
		{"active loan", &fakeLedger{activeErr: errors.New("timeout")}, loan.ReadActiveLoan},
		{"request", &fakeLedger{active: emptyLoan(), requestErr: errors.New("timeout")}, loan.ReadRequest},
		{"conditions", &fakeLedger{
			active:        emptyLoan(),
			request:       loan.Request{Amount: big.NewInt(1), DurationMonths: 1},
			conditionsErr: errors.New("timeout"),
		}, loan.ReadConditions},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := newService(tc.ledger)
			state, err := svc.Derive(context.Background())
			var readErr *loan.ReadError
			require.ErrorAs(t, err, &readErr)
			assert.Equal(t, tc.kind, readErr.Kind)
			assert.Equal(t, StageUnknown, state.Stage)
			assert.Equal(t, StageUnknown, svc.Current().Stage)
		})
	}
}

func TestRejectedRequestResetsToNoRequest(t *testing.T) {
	ledger := &fakeLedger{
		active:              emptyLoan(),
		request:             loan.Request{Amount: big.NewInt(1), DurationMonths: 1},
		conditions:          loan.Conditions{MonthlyAmount: big.NewInt(1)},
		requestBorrowingErr: &blockchain.RevertError{Method: "requestBorrowing", Reason: "Duration not allowed"},
	}
	svc := newService(ledger)
	_, err := svc.Derive(context.Background())
	require.NoError(t, err)
	require.Equal(t, StageQuoted, svc.Current().Stage)

	state, err := svc.RequestQuote(context.Background(), loan.Request{Amount: big.NewInt(1000), DurationMonths: 99})
	var revert *blockchain.RevertError
	require.ErrorAs(t, err, &revert)
	assert.Equal(t, StageNoRequest, state.Stage)
	assert.Equal(t, "The requested repayment duration is not allowed.", state.Advisory)
	assert.Equal(t, StageNoRequest, svc.Current().Stage)
}

func TestInvalidRequestIsNotSent(t *testing.T) {
	ledger := &fakeLedger{active: emptyLoan(), request: emptyRequest()}
	ledger.onRequest = func(*fakeLedger, loan.Request) { t.Fatal("request must not reach the ledger") }
	svc := newService(ledger)

	_, err := svc.RequestQuote(context.Background(), loan.Request{Amount: big.NewInt(0), DurationMonths: 12})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestFailedCommitResetsToNoRequest(t *testing.T) {
	ledger := &fakeLedger{
		active:     emptyLoan(),
		request:    loan.Request{Amount: big.NewInt(1), DurationMonths: 1},
		conditions: loan.Conditions{MonthlyAmount: big.NewInt(1)},
		commitErr:  errors.New("user rejected"),
	}
	svc := newService(ledger)

	state, err := svc.Commit(context.Background())
	require.Error(t, err)
	assert.Equal(t, StageNoRequest, state.Stage)
}

func TestPayBackSendsMonthlyAmount(t *testing.T) {
	ledger := &fakeLedger{active: repayingLoan(), payBackPossible: true}
	svc := newService(ledger)

	state, err := svc.PayBack(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StageActiveRepayment, state.Stage)
	require.Len(t, ledger.paidAmounts, 1)
	assert.Equal(t, int64(92), ledger.paidAmounts[0].Int64())
}

func TestPayBackNotPossible(t *testing.T) {
	ledger := &fakeLedger{active: repayingLoan()}
	svc := newService(ledger)

	_, err := svc.PayBack(context.Background())
	assert.ErrorIs(t, err, ErrPayBackNotPossible)
	assert.Equal(t, "Payback aborted or not successful.", UserMessage(err))
	assert.Empty(t, ledger.paidAmounts)
}

func TestWithdrawMoney(t *testing.T) {
	ledger := &fakeLedger{active: repayingLoan(), withdrawPossible: true}
	svc := newService(ledger)

	_, err := svc.WithdrawMoney(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, ledger.withdrawals)

	ledger.withdrawPossible = false
	_, err = svc.WithdrawMoney(context.Background())
	assert.ErrorIs(t, err, ErrWithdrawNotPossible)
	assert.Equal(t, "Withdrawal aborted or not successful.", UserMessage(err))
}

func TestDerivationIsIdempotent(t *testing.T) {
	ledger := &fakeLedger{
		active:     emptyLoan(),
		request:    loan.Request{Amount: big.NewInt(1000), DurationMonths: 12, Income: big.NewInt(1), Expenses: big.NewInt(1)},
		conditions: loan.Conditions{MonthlyAmount: big.NewInt(90), InterestRate: 500},
	}
	svc := newService(ledger)

	first, err := svc.Derive(context.Background())
	require.NoError(t, err)
	second, err := svc.Derive(context.Background())
	require.NoError(t, err)

	assert.Equal(t, first.Stage, second.Stage)
	assert.Equal(t, first.Request, second.Request)
	assert.Equal(t, first.Conditions, second.Conditions)
}

func TestNotConnectedSurfacesAsReadErrorWrappingSentinel(t *testing.T) {
	svc := newService(&fakeLedger{activeErr: blockchain.ErrNotConnected})
	_, err := svc.Derive(context.Background())
	assert.ErrorIs(t, err, blockchain.ErrNotConnected)
	assert.Contains(t, UserMessage(err), "Not connected")
}
