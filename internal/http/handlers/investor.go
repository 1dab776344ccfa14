package handlers

import (
	"context"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/p2plend/client/internal/domain/investor"
	"github.com/p2plend/client/internal/views"
)

type InvestorService interface {
	Current() investor.Catalog
	LoadOpportunities(ctx context.Context) (investor.Opportunities, error)
	LoadInvestments(ctx context.Context) (investor.Investments, error)
	Invest(ctx context.Context, borrower common.Address, amount decimal.Decimal) (investor.Catalog, error)
	IsWithdrawPossible(ctx context.Context, borrower common.Address) (bool, error)
	WithdrawInvestment(ctx context.Context, borrower common.Address) (investor.Catalog, error)
}

type CatalogPublisher interface {
	PublishCatalog(catalog investor.Catalog)
}

type InvestorHandler struct {
	service   InvestorService
	publisher CatalogPublisher
	display   views.Display
}

func NewInvestorHandler(service InvestorService, publisher CatalogPublisher, display views.Display) *InvestorHandler {
	return &InvestorHandler{service: service, publisher: publisher, display: display}
}

type investRequest struct {
	Amount string `json:"amount" binding:"required"`
}

// ListOpportunities reloads the open borrowings. Per-item read failures are
// part of the body; only a failed address list is an error response.
func (h *InvestorHandler) ListOpportunities(c *gin.Context) {
	result, err := h.service.LoadOpportunities(c.Request.Context())
	if err != nil {
		writeError(c, err, investor.UserMessage(err))
		return
	}
	c.JSON(http.StatusOK, h.display.Opportunities(result))
}

func (h *InvestorHandler) ListInvestments(c *gin.Context) {
	result, err := h.service.LoadInvestments(c.Request.Context())
	if err != nil {
		writeError(c, err, investor.UserMessage(err))
		return
	}
	c.JSON(http.StatusOK, h.display.Investments(result))
}

func (h *InvestorHandler) Invest(c *gin.Context) {
	borrower, ok := addressParam(c)
	if !ok {
		return
	}
	var in investRequest
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, "invalid_request")
		return
	}
	amount, ok := parseAmount(in.Amount)
	if !ok {
		badRequest(c, "invalid_amount")
		return
	}
	catalog, err := h.service.Invest(c.Request.Context(), borrower, amount)
	if err != nil {
		writeError(c, err, investor.UserMessage(err))
		return
	}
	h.publish(catalog)
	c.JSON(http.StatusOK, h.display.Catalog(catalog))
}

func (h *InvestorHandler) WithdrawPossible(c *gin.Context) {
	borrower, ok := addressParam(c)
	if !ok {
		return
	}
	possible, err := h.service.IsWithdrawPossible(c.Request.Context(), borrower)
	if err != nil {
		writeError(c, err, investor.UserMessage(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"borrower_address": borrower.Hex(), "possible": possible})
}

func (h *InvestorHandler) Withdraw(c *gin.Context) {
	borrower, ok := addressParam(c)
	if !ok {
		return
	}
	catalog, err := h.service.WithdrawInvestment(c.Request.Context(), borrower)
	if err != nil {
		writeError(c, err, investor.UserMessage(err))
		return
	}
	h.publish(catalog)
	c.JSON(http.StatusOK, h.display.Catalog(catalog))
}

func (h *InvestorHandler) publish(catalog investor.Catalog) {
	if h.publisher != nil {
		h.publisher.PublishCatalog(catalog)
	}
}
