package investor

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p2plend/client/internal/domain/loan"
)

var (
	me      = common.HexToAddress("0x00000000000000000000000000000000000000e1")
	borrowA = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	borrowB = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	borrowC = common.HexToAddress("0x00000000000000000000000000000000000000c1")
)

type fakeLedger struct {
	mu           sync.Mutex
	addresses    []common.Address
	addressesErr error
	loans        map[common.Address]loan.ActiveLoan
	loanErrs     map[common.Address]error
	investments  []loan.Investment
	investErr    error
	withdrawable bool
	withdrawErr  error

	invested    []decimal.Decimal
	withdrawn   []common.Address
	detailReads int
	listReads   int
}

func (f *fakeLedger) GetActiveBorrowingAddresses(context.Context) ([]common.Address, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listReads++
	return f.addresses, f.addressesErr
}

func (f *fakeLedger) GetActiveLendingByAddress(_ context.Context, borrower common.Address) (loan.ActiveLoan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.detailReads++
	if err := f.loanErrs[borrower]; err != nil {
		return loan.ActiveLoan{}, err
	}
	l := f.loans[borrower]
	l.BorrowerAddress = borrower
	return l, nil
}

func (f *fakeLedger) GetInvestments(context.Context) ([]loan.Investment, error) {
	return f.investments, nil
}

func (f *fakeLedger) InvestMoney(_ context.Context, _ common.Address, amount decimal.Decimal) error {
	if f.investErr != nil {
		return f.investErr
	}
	f.invested = append(f.invested, amount)
	return nil
}

func (f *fakeLedger) IsWithdrawInvestmentPossible(context.Context, common.Address) (bool, error) {
	return f.withdrawable, nil
}

func (f *fakeLedger) WithdrawInvestment(_ context.Context, borrower common.Address) error {
	if f.withdrawErr != nil {
		return f.withdrawErr
	}
	f.withdrawn = append(f.withdrawn, borrower)
	return nil
}

type account common.Address

func (a account) Account() (common.Address, bool) { return common.Address(a), true }

func openLoan(borrowed, invested int64) loan.ActiveLoan {
	return loan.ActiveLoan{BorrowedAmount: big.NewInt(borrowed), TotalInvestorAmount: big.NewInt(invested)}
}

func TestEligibleBorderlines(t *testing.T) {
	withAddr := func(l loan.ActiveLoan, addr common.Address) loan.ActiveLoan {
		l.BorrowerAddress = addr
		return l
	}
	paidOut := openLoan(100, 10)
	paidOut.PaidOut = true
	deleted := openLoan(100, 10)
	deleted.Deleted = true

	cases := []struct {
		name string
		loan loan.ActiveLoan
		want bool
	}{
		{"open", withAddr(openLoan(100, 10), borrowA), true},
		{"nothing invested yet", withAddr(openLoan(100, 0), borrowA), true},
		{"fully funded", withAddr(openLoan(100, 100), borrowA), false},
		{"one unit short", withAddr(openLoan(100, 99), borrowA), true},
		{"own borrowing", withAddr(openLoan(100, 10), me), false},
		{"paid out", withAddr(paidOut, borrowA), false},
		{"deleted", withAddr(deleted, borrowA), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Eligible(tc.loan, me))
		})
	}
}

func TestLoadOpportunitiesSkipsFullyFunded(t *testing.T) {
	ledger := &fakeLedger{
		addresses: []common.Address{borrowA, borrowB},
		loans: map[common.Address]loan.ActiveLoan{
			borrowA: openLoan(1000, 1000),
			borrowB: openLoan(1000, 400),
		},
	}
	svc := NewService(ledger, account(me), nil, nil, 0)

	got, err := svc.LoadOpportunities(context.Background())
	require.NoError(t, err)
	require.Len(t, got.Items, 1)
	assert.Equal(t, borrowB, got.Items[0].BorrowerAddress)
	assert.Empty(t, got.Failures)
}

func TestLoadOpportunitiesKeepsAddressOrder(t *testing.T) {
	addrs := make([]common.Address, 20)
	loans := map[common.Address]loan.ActiveLoan{}
	for i := range addrs {
		addrs[i] = common.BigToAddress(big.NewInt(int64(i + 100)))
		loans[addrs[i]] = openLoan(1000, int64(i))
	}
	svc := NewService(&fakeLedger{addresses: addrs, loans: loans}, account(me), nil, nil, 3)

	got, err := svc.LoadOpportunities(context.Background())
	require.NoError(t, err)
	require.Len(t, got.Items, len(addrs))
	for i, item := range got.Items {
		assert.Equal(t, addrs[i], item.BorrowerAddress)
	}
}

func TestLoadOpportunitiesRecordsItemFailures(t *testing.T) {
	ledger := &fakeLedger{
		addresses: []common.Address{borrowA, borrowB, borrowC},
		loans: map[common.Address]loan.ActiveLoan{
			borrowA: openLoan(100, 1),
			borrowC: openLoan(100, 2),
		},
		loanErrs: map[common.Address]error{borrowB: errors.New("timeout")},
	}
	svc := NewService(ledger, account(me), nil, nil, 0)

	got, err := svc.LoadOpportunities(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, ledger.detailReads)
	require.Len(t, got.Items, 2)
	assert.Equal(t, borrowA, got.Items[0].BorrowerAddress)
	assert.Equal(t, borrowC, got.Items[1].BorrowerAddress)

	require.Len(t, got.Failures, 1)
	assert.Equal(t, borrowB, got.Failures[0].Address)
	var readErr *loan.ReadError
	require.ErrorAs(t, got.Failures[0].Err, &readErr)
	assert.Equal(t, loan.ReadOpportunityDetail, readErr.Kind)
}

func TestLoadOpportunitiesEmptyList(t *testing.T) {
	ledger := &fakeLedger{}
	svc := NewService(ledger, account(me), nil, nil, 0)

	got, err := svc.LoadOpportunities(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got.Items)
	assert.NotNil(t, got.Items)
	assert.Zero(t, ledger.detailReads)
}

func TestLoadOpportunitiesAddressListFailure(t *testing.T) {
	svc := NewService(&fakeLedger{addressesErr: errors.New("down")}, account(me), nil, nil, 0)

	_, err := svc.LoadOpportunities(context.Background())
	var readErr *loan.ReadError
	require.ErrorAs(t, err, &readErr)
	assert.Equal(t, loan.ReadBorrowingAddresses, readErr.Kind)
	assert.Error(t, svc.Current().Opportunities.Err)
}

func TestLoadInvestmentsReversesNonDeleted(t *testing.T) {
	ledger := &fakeLedger{investments: []loan.Investment{
		{BorrowerAddress: borrowA},
		{BorrowerAddress: borrowB},
		{BorrowerAddress: borrowC, Deleted: true},
	}}
	svc := NewService(ledger, account(me), nil, nil, 0)

	got, err := svc.LoadInvestments(context.Background())
	require.NoError(t, err)
	require.Len(t, got.Items, 2)
	assert.Equal(t, borrowB, got.Items[0].BorrowerAddress)
	assert.Equal(t, borrowA, got.Items[1].BorrowerAddress)
}

func TestReloadIsIdempotent(t *testing.T) {
	ledger := &fakeLedger{
		addresses:   []common.Address{borrowA, borrowB},
		loans:       map[common.Address]loan.ActiveLoan{borrowA: openLoan(10, 1), borrowB: openLoan(10, 10)},
		investments: []loan.Investment{{BorrowerAddress: borrowA}, {BorrowerAddress: borrowC}},
	}
	svc := NewService(ledger, account(me), nil, nil, 0)

	first, err := svc.Reload(context.Background())
	require.NoError(t, err)
	second, err := svc.Reload(context.Background())
	require.NoError(t, err)

	assert.Equal(t, first.Opportunities.Items, second.Opportunities.Items)
	assert.Equal(t, first.Investments.Items, second.Investments.Items)
}

func TestInvestRefreshesBothCatalogsOnSuccess(t *testing.T) {
	ledger := &fakeLedger{addresses: []common.Address{borrowA}, loans: map[common.Address]loan.ActiveLoan{borrowA: openLoan(10, 1)}}
	svc := NewService(ledger, account(me), nil, nil, 0)

	_, err := svc.Invest(context.Background(), borrowA, decimal.RequireFromString("1.5"))
	require.NoError(t, err)
	require.Len(t, ledger.invested, 1)
	assert.Equal(t, "1.5", ledger.invested[0].String())
	assert.Equal(t, 1, ledger.listReads)
	assert.Len(t, svc.Current().Opportunities.Items, 1)
}

func TestInvestFailureSkipsRefresh(t *testing.T) {
	ledger := &fakeLedger{investErr: errors.New("execution reverted: not enough")}
	svc := NewService(ledger, account(me), nil, nil, 0)

	_, err := svc.Invest(context.Background(), borrowA, decimal.NewFromInt(1))
	require.Error(t, err)
	assert.Zero(t, ledger.listReads)

	_, err = svc.Invest(context.Background(), borrowA, decimal.Zero)
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestWithdrawInvestment(t *testing.T) {
	ledger := &fakeLedger{withdrawable: true}
	svc := NewService(ledger, account(me), nil, nil, 0)

	_, err := svc.WithdrawInvestment(context.Background(), borrowA)
	require.NoError(t, err)
	assert.Equal(t, []common.Address{borrowA}, ledger.withdrawn)
	assert.Equal(t, 1, ledger.listReads)

	ledger.withdrawable = false
	_, err = svc.WithdrawInvestment(context.Background(), borrowB)
	assert.ErrorIs(t, err, ErrWithdrawNotPossible)
	assert.Len(t, ledger.withdrawn, 1)
}
