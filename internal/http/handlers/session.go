package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/p2plend/client/internal/session"
	"github.com/p2plend/client/internal/views"
)

type SessionControl interface {
	Connect(ctx context.Context) (session.Snapshot, error)
	Reconnect(ctx context.Context) (session.Snapshot, error)
	Disconnect()
}

type SessionState interface {
	Snapshot() session.Snapshot
	NetworkStatus() session.NetworkStatus
}

type SessionHandler struct {
	control SessionControl
	state   SessionState
}

func NewSessionHandler(control SessionControl, state SessionState) *SessionHandler {
	return &SessionHandler{control: control, state: state}
}

type connectRequest struct {
	Reconnect bool `json:"reconnect"`
}

func (h *SessionHandler) GetSession(c *gin.Context) {
	c.JSON(http.StatusOK, views.Session(h.state.Snapshot(), h.state.NetworkStatus()))
}

// Connect is the manual retry after a failed or missing connection. An empty
// body connects; {"reconnect":true} replaces the current binding.
func (h *SessionHandler) Connect(c *gin.Context) {
	var req connectRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid_request")
			return
		}
	}
	connect := h.control.Connect
	if req.Reconnect {
		connect = h.control.Reconnect
	}
	if _, err := connect(c.Request.Context()); err != nil {
		writeError(c, err, sessionMessage(err))
		return
	}
	c.JSON(http.StatusOK, views.Session(h.state.Snapshot(), h.state.NetworkStatus()))
}

func (h *SessionHandler) Disconnect(c *gin.Context) {
	h.control.Disconnect()
	c.JSON(http.StatusOK, views.Session(h.state.Snapshot(), h.state.NetworkStatus()))
}

func sessionMessage(err error) string {
	if session.IsNotConnected(err) {
		return "No wallet account is available. Unlock an account and connect again."
	}
	return "Could not connect to the ledger node."
}
