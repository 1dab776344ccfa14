package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"

	"github.com/p2plend/client/internal/settings"
)

type ContractSettings interface {
	Contract(ctx context.Context) (common.Address, string, error)
	SetContractAddress(ctx context.Context, raw string) (common.Address, error)
	Default() common.Address
}

type SettingsHandler struct {
	settings ContractSettings
	session  SessionControl
}

func NewSettingsHandler(s ContractSettings, session SessionControl) *SettingsHandler {
	return &SettingsHandler{settings: s, session: session}
}

type contractRequest struct {
	Address   string `json:"address" binding:"required"`
	Reconnect bool   `json:"reconnect"`
}

func (h *SettingsHandler) GetContract(c *gin.Context) {
	addr, source, err := h.settings.Contract(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "settings_unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"address": addr.Hex(),
		"source":  source,
		"default": h.settings.Default().Hex(),
	})
}

// PutContract stores the address. It applies on the next connect, or right
// away when reconnect is set.
func (h *SettingsHandler) PutContract(c *gin.Context) {
	var in contractRequest
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, "invalid_request")
		return
	}
	addr, err := h.settings.SetContractAddress(c.Request.Context(), in.Address)
	if errors.Is(err, settings.ErrInvalidAddress) {
		badRequest(c, "invalid_address")
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "settings_unavailable"})
		return
	}
	reconnected := false
	if in.Reconnect && h.session != nil {
		if _, err := h.session.Reconnect(c.Request.Context()); err != nil {
			writeError(c, err, sessionMessage(err))
			return
		}
		reconnected = true
	}
	c.JSON(http.StatusOK, gin.H{"address": addr.Hex(), "source": settings.SourceStored, "reconnected": reconnected})
}
