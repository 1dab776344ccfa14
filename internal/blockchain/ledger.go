package blockchain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/p2plend/client/internal/domain/loan"
)

const (
	methodRequestBorrowing             = "requestBorrowing"
	methodGetBorrowingRequest          = "getBorrowingRequest"
	methodGetBorrowingConditions       = "getBorrowingConditions"
	methodCommitBorrowing              = "commitBorrowing"
	methodGetActiveBorrowing           = "getActiveBorrowing"
	methodGetActiveLendingByAddress    = "getActiveLendingByAddress"
	methodGetActiveBorrowingAddresses  = "getActiveBorrowingAddresses"
	methodGetInvestments               = "getInvestments"
	methodInvestMoney                  = "investMoney"
	methodIsPayBackPossible            = "isPayBackPossible"
	methodPayBackBorrower              = "packBackBorrower"
	methodIsWithdrawMoneyPossible      = "isWithdrawMoneyPossible"
	methodWithdrawMoney                = "withdrawMoney"
	methodIsWithdrawInvestmentPossible = "isWithdrawInvestementPossible"
	methodWithdrawInvestment           = "withdrawInvestment"
	methodGetContractTime              = "getContractTime"
	methodSetContractTime              = "setContractTime"
	methodGetContractLiquidity         = "getContractLiquidity"
	methodProvideLiquidity             = "provideLiquidityToContract"
)

// RequestBorrowing stores a borrowing request; the ledger derives its conditions.
func (g *Gateway) RequestBorrowing(ctx context.Context, req loan.Request) error {
	_, err := g.Execute(ctx, methodRequestBorrowing, nil, orZero(req.Amount), req.DurationMonths, orZero(req.Income), orZero(req.Expenses))
	return err
}

func (g *Gateway) GetBorrowingRequest(ctx context.Context) (loan.Request, error) {
	out, err := g.Query(ctx, methodGetBorrowingRequest)
	if err != nil {
		return loan.Request{}, err
	}
	return decodeRequest(out)
}

func (g *Gateway) GetBorrowingConditions(ctx context.Context) (loan.Conditions, error) {
	out, err := g.Query(ctx, methodGetBorrowingConditions)
	if err != nil {
		return loan.Conditions{}, err
	}
	return decodeConditions(out)
}

func (g *Gateway) CommitBorrowing(ctx context.Context) error {
	_, err := g.Execute(ctx, methodCommitBorrowing, nil)
	return err
}

// GetActiveBorrowing returns the caller's own active loan.
func (g *Gateway) GetActiveBorrowing(ctx context.Context) (loan.ActiveLoan, error) {
	binding, err := g.source.Binding()
	if err != nil {
		return loan.ActiveLoan{}, err
	}
	out, err := g.Query(ctx, methodGetActiveBorrowing)
	if err != nil {
		return loan.ActiveLoan{}, err
	}
	return decodeActiveLoan(methodGetActiveBorrowing, out, binding.Account)
}

func (g *Gateway) GetActiveLendingByAddress(ctx context.Context, borrower common.Address) (loan.ActiveLoan, error) {
	out, err := g.Query(ctx, methodGetActiveLendingByAddress, borrower)
	if err != nil {
		return loan.ActiveLoan{}, err
	}
	return decodeActiveLoan(methodGetActiveLendingByAddress, out, borrower)
}

func (g *Gateway) GetActiveBorrowingAddresses(ctx context.Context) ([]common.Address, error) {
	out, err := g.Query(ctx, methodGetActiveBorrowingAddresses)
	if err != nil {
		return nil, err
	}
	return decodeAddresses(methodGetActiveBorrowingAddresses, out)
}

func (g *Gateway) GetInvestments(ctx context.Context) ([]loan.Investment, error) {
	out, err := g.Query(ctx, methodGetInvestments)
	if err != nil {
		return nil, err
	}
	return decodeInvestments(out)
}

// InvestMoney commits amount display units to the borrowing of borrower.
func (g *Gateway) InvestMoney(ctx context.Context, borrower common.Address, amount decimal.Decimal) error {
	value, err := ToSmallestUnit(amount)
	if err != nil {
		return err
	}
	if value.Sign() == 0 {
		return fmt.Errorf("investment amount must be positive")
	}
	_, err = g.Execute(ctx, methodInvestMoney, value, borrower)
	return err
}

func (g *Gateway) IsPayBackPossible(ctx context.Context) (bool, error) {
	out, err := g.Query(ctx, methodIsPayBackPossible)
	if err != nil {
		return false, err
	}
	return decodeBool(methodIsPayBackPossible, out)
}

// PayBackBorrower pays one installment. monthlyAmount is already in smallest units.
func (g *Gateway) PayBackBorrower(ctx context.Context, monthlyAmount *big.Int) error {
	_, err := g.Execute(ctx, methodPayBackBorrower, orZero(monthlyAmount))
	return err
}

func (g *Gateway) IsWithdrawMoneyPossible(ctx context.Context) (bool, error) {
	out, err := g.Query(ctx, methodIsWithdrawMoneyPossible)
	if err != nil {
		return false, err
	}
	return decodeBool(methodIsWithdrawMoneyPossible, out)
}

func (g *Gateway) WithdrawMoney(ctx context.Context) error {
	_, err := g.Execute(ctx, methodWithdrawMoney, nil)
	return err
}

func (g *Gateway) IsWithdrawInvestmentPossible(ctx context.Context, borrower common.Address) (bool, error) {
	out, err := g.Query(ctx, methodIsWithdrawInvestmentPossible, borrower)
	if err != nil {
		return false, err
	}
	return decodeBool(methodIsWithdrawInvestmentPossible, out)
}

func (g *Gateway) WithdrawInvestment(ctx context.Context, borrower common.Address) error {
	_, err := g.Execute(ctx, methodWithdrawInvestment, nil, borrower)
	return err
}

func (g *Gateway) GetContractTime(ctx context.Context) (*big.Int, error) {
	out, err := g.Query(ctx, methodGetContractTime)
	if err != nil {
		return nil, err
	}
	return decodeUint(methodGetContractTime, out)
}

func (g *Gateway) SetContractTime(ctx context.Context, timestamp *big.Int) error {
	_, err := g.Execute(ctx, methodSetContractTime, nil, orZero(timestamp))
	return err
}

func (g *Gateway) GetContractLiquidity(ctx context.Context) (*big.Int, error) {
	out, err := g.Query(ctx, methodGetContractLiquidity)
	if err != nil {
		return nil, err
	}
	return decodeUint(methodGetContractLiquidity, out)
}

// ProvideLiquidity sends amount display units to the contract's liquidity pool.
func (g *Gateway) ProvideLiquidity(ctx context.Context, amount decimal.Decimal) error {
	value, err := ToSmallestUnit(amount)
	if err != nil {
		return err
	}
	_, err = g.Execute(ctx, methodProvideLiquidity, value)
	return err
}
