package handlers

import (
	"context"
	"errors"
	"math/big"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/p2plend/client/internal/blockchain"
	"github.com/p2plend/client/internal/domain/borrower"
	"github.com/p2plend/client/internal/domain/loan"
	"github.com/p2plend/client/internal/views"
)

type BorrowerService interface {
	Current() borrower.State
	Derive(ctx context.Context) (borrower.State, error)
	RequestQuote(ctx context.Context, req loan.Request) (borrower.State, error)
	Commit(ctx context.Context) (borrower.State, error)
	Fallback() (borrower.State, error)
	PayBack(ctx context.Context) (borrower.State, error)
	PayBackPossible(ctx context.Context) (bool, error)
	WithdrawMoney(ctx context.Context) (borrower.State, error)
}

// StatePublisher pushes a state produced by a request onto the realtime stream.
type StatePublisher interface {
	PublishBorrower(state borrower.State)
}

type BorrowerHandler struct {
	service   BorrowerService
	publisher StatePublisher
	display   views.Display
}

func NewBorrowerHandler(service BorrowerService, publisher StatePublisher, display views.Display) *BorrowerHandler {
	return &BorrowerHandler{service: service, publisher: publisher, display: display}
}

type quoteRequest struct {
	Amount         string `json:"amount" binding:"required"`
	DurationMonths uint8  `json:"duration_months" binding:"required"`
	Income         string `json:"income"`
	Expenses       string `json:"expenses"`
}

// GetBorrower returns the last derived stage; ?refresh=true or a session that
// was never derived runs a fresh derivation.
func (h *BorrowerHandler) GetBorrower(c *gin.Context) {
	state := h.service.Current()
	if c.Query("refresh") == "true" || state.DerivedAt.IsZero() {
		var err error
		state, err = h.service.Derive(c.Request.Context())
		if err != nil {
			writeError(c, err, borrower.UserMessage(err))
			return
		}
	}
	c.JSON(http.StatusOK, h.display.Borrower(state))
}

func (h *BorrowerHandler) RequestQuote(c *gin.Context) {
	var in quoteRequest
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, "invalid_request")
		return
	}
	amount, ok := parseAmount(in.Amount)
	if !ok {
		badRequest(c, "invalid_amount")
		return
	}
	req := loan.Request{DurationMonths: in.DurationMonths}
	var err error
	if req.Amount, err = blockchain.ToSmallestUnit(amount); err != nil {
		badRequest(c, "invalid_amount")
		return
	}
	if req.Income, err = optionalWhole(in.Income); err != nil {
		badRequest(c, "invalid_income")
		return
	}
	if req.Expenses, err = optionalWhole(in.Expenses); err != nil {
		badRequest(c, "invalid_expenses")
		return
	}
	h.respond(c, func(ctx context.Context) (borrower.State, error) {
		return h.service.RequestQuote(ctx, req)
	})
}

func (h *BorrowerHandler) Commit(c *gin.Context) {
	h.respond(c, h.service.Commit)
}

func (h *BorrowerHandler) Dismiss(c *gin.Context) {
	h.respond(c, func(context.Context) (borrower.State, error) {
		return h.service.Fallback()
	})
}

func (h *BorrowerHandler) PayBackPossible(c *gin.Context) {
	ok, err := h.service.PayBackPossible(c.Request.Context())
	if err != nil {
		writeError(c, err, borrower.UserMessage(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"possible": ok})
}

func (h *BorrowerHandler) PayBack(c *gin.Context) {
	h.respond(c, h.service.PayBack)
}

func (h *BorrowerHandler) WithdrawMoney(c *gin.Context) {
	h.respond(c, h.service.WithdrawMoney)
}

// respond runs op and publishes the resulting state even when op failed, since
// a failed write still moves the stage back to NoRequest.
func (h *BorrowerHandler) respond(c *gin.Context, op func(context.Context) (borrower.State, error)) {
	state, err := op(c.Request.Context())
	if h.publisher != nil {
		h.publisher.PublishBorrower(state)
	}
	if err != nil {
		writeError(c, err, borrower.UserMessage(err))
		return
	}
	c.JSON(http.StatusOK, h.display.Borrower(state))
}

var errNotWhole = errors.New("must be a non-negative whole number")

// optionalWhole reads income or expenses. The ledger takes them as plain
// integers, not as transferred value, so they are never scaled.
func optionalWhole(raw string) (*big.Int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return new(big.Int), nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return nil, err
	}
	if d.IsNegative() || !d.Equal(d.Truncate(0)) {
		return nil, errNotWhole
	}
	return d.BigInt(), nil
}
