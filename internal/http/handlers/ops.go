package handlers

import (
	"context"
	"math/big"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/p2plend/client/internal/blockchain"
	"github.com/p2plend/client/internal/views"
)

// OpsLedger is the operator surface of the ledger: its clock and its liquidity pool.
type OpsLedger interface {
	GetContractTime(ctx context.Context) (*big.Int, error)
	SetContractTime(ctx context.Context, timestamp *big.Int) error
	GetContractLiquidity(ctx context.Context) (*big.Int, error)
	ProvideLiquidity(ctx context.Context, amount decimal.Decimal) error
}

type OpsHandler struct {
	ledger  OpsLedger
	display views.Display
}

func NewOpsHandler(ledger OpsLedger, display views.Display) *OpsHandler {
	return &OpsHandler{ledger: ledger, display: display}
}

type contractTimeRequest struct {
	Timestamp int64 `json:"timestamp" binding:"required"`
}

type liquidityRequest struct {
	Amount string `json:"amount" binding:"required"`
}

func (h *OpsHandler) GetContractTime(c *gin.Context) {
	ts, err := h.ledger.GetContractTime(c.Request.Context())
	if err != nil {
		writeError(c, err, blockchain.UserMessage(err))
		return
	}
	c.JSON(http.StatusOK, timeBody(ts))
}

func (h *OpsHandler) SetContractTime(c *gin.Context) {
	var in contractTimeRequest
	if err := c.ShouldBindJSON(&in); err != nil || in.Timestamp <= 0 {
		badRequest(c, "invalid_timestamp")
		return
	}
	ctx := c.Request.Context()
	if err := h.ledger.SetContractTime(ctx, big.NewInt(in.Timestamp)); err != nil {
		writeError(c, err, blockchain.UserMessage(err))
		return
	}
	ts, err := h.ledger.GetContractTime(ctx)
	if err != nil {
		writeError(c, err, blockchain.UserMessage(err))
		return
	}
	c.JSON(http.StatusOK, timeBody(ts))
}

func (h *OpsHandler) GetLiquidity(c *gin.Context) {
	amount, err := h.ledger.GetContractLiquidity(c.Request.Context())
	if err != nil {
		writeError(c, err, blockchain.UserMessage(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"liquidity": h.display.Amount(amount)})
}

func (h *OpsHandler) ProvideLiquidity(c *gin.Context) {
	var in liquidityRequest
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, "invalid_request")
		return
	}
	amount, ok := parseAmount(in.Amount)
	if !ok {
		badRequest(c, "invalid_amount")
		return
	}
	ctx := c.Request.Context()
	if err := h.ledger.ProvideLiquidity(ctx, amount); err != nil {
		writeError(c, err, blockchain.UserMessage(err))
		return
	}
	total, err := h.ledger.GetContractLiquidity(ctx)
	if err != nil {
		writeError(c, err, blockchain.UserMessage(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"liquidity": h.display.Amount(total)})
}

func timeBody(ts *big.Int) gin.H {
	body := gin.H{"timestamp": ts.String()}
	if ts.IsInt64() && ts.Sign() > 0 {
		body["time"] = time.Unix(ts.Int64(), 0).UTC()
	}
	return body
}
