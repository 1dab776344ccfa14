package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type ConnectionChecker interface {
	IsConnected() bool
}

type HealthHandler struct {
	session ConnectionChecker
	pinger  Pinger
}

// NewHealthHandler takes an optional pinger for the settings database.
func NewHealthHandler(session ConnectionChecker, pinger Pinger) *HealthHandler {
	return &HealthHandler{session: session, pinger: pinger}
}

func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "p2plend-client",
	})
}

func (h *HealthHandler) Ready(c *gin.Context) {
	ledger := "ok"
	if h.session == nil || !h.session.IsConnected() {
		ledger = "not_connected"
	}
	database := "n/a"
	if h.pinger != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		database = "ok"
		if h.pinger.Ping(ctx) != nil {
			database = "error"
		}
	}

	if ledger != "ok" || database == "error" {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":   "not_ready",
			"ledger":   ledger,
			"database": database,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":   "ready",
		"ledger":   ledger,
		"database": database,
	})
}
