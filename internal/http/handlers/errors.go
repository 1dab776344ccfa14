package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/p2plend/client/internal/blockchain"
	"github.com/p2plend/client/internal/domain/borrower"
	"github.com/p2plend/client/internal/domain/investor"
	"github.com/p2plend/client/internal/domain/loan"
	"github.com/p2plend/client/internal/session"
	"github.com/p2plend/client/internal/views"
)

// statusFor maps domain and ledger errors to HTTP status codes.
func statusFor(err error) int {
	var readErr *loan.ReadError
	var revert *blockchain.RevertError
	switch {
	case session.IsNotConnected(err):
		return http.StatusConflict
	case errors.As(err, &readErr):
		return http.StatusBadGateway
	case errors.As(err, &revert):
		return http.StatusUnprocessableEntity
	case errors.Is(err, borrower.ErrInvalidRequest), errors.Is(err, investor.ErrInvalidAmount):
		return http.StatusBadRequest
	case errors.Is(err, borrower.ErrPayBackNotPossible),
		errors.Is(err, borrower.ErrWithdrawNotPossible),
		errors.Is(err, borrower.ErrNoActiveBorrowing),
		errors.Is(err, borrower.ErrFallbackNotAvailable),
		errors.Is(err, investor.ErrWithdrawNotPossible):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, err error, message string) {
	status := statusFor(err)
	view := views.Error(err, message)
	if status == http.StatusUnprocessableEntity && view.Code == "failed" {
		view.Code = "not_possible"
	}
	body := gin.H{"error": view.Code, "message": view.Message}
	if view.Category != "" {
		body["category"] = view.Category
	}
	c.JSON(status, body)
}

func badRequest(c *gin.Context, code string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": code})
}

func addressParam(c *gin.Context) (common.Address, bool) {
	raw := strings.TrimSpace(c.Param("address"))
	if !common.IsHexAddress(raw) {
		badRequest(c, "invalid_address")
		return common.Address{}, false
	}
	return common.HexToAddress(raw), true
}

// parseAmount reads a positive display-unit amount such as "0.25".
func parseAmount(raw string) (decimal.Decimal, bool) {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil || !d.IsPositive() || d.Exponent() < -blockchain.Decimals {
		return decimal.Decimal{}, false
	}
	return d, true
}
