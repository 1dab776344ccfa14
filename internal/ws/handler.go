package ws

import (
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/gin-gonic/gin"
	"golang.org/x/net/websocket"
)

// Replayer returns the last payload published on a channel, if any.
type Replayer interface {
	Latest(channel string) ([]byte, bool)
}

type Handler struct {
	hub    *Hub
	replay Replayer
	logger *slog.Logger
}

func NewHandler(hub *Hub, replay Replayer, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{hub: hub, replay: replay, logger: logger}
}

type subscribeMessage struct {
	Action  string `json:"action"`
	Channel string `json:"channel"`
}

func (h *Handler) HandleWebSocket(c *gin.Context) {
	websocket.Handler(func(conn *websocket.Conn) {
		client := NewClient(conn)
		h.logger.Debug("stream client connected", "client_id", client.ID.String())
		go h.writer(client)
		h.reader(client)
	}).ServeHTTP(c.Writer, c.Request)
}

func (h *Handler) reader(client *Client) {
	defer func() {
		h.hub.UnsubscribeAll(client)
		client.close()
		_ = client.conn.Close()
		h.logger.Debug("stream client disconnected", "client_id", client.ID.String())
	}()

	for {
		var raw string
		if err := websocket.Message.Receive(client.conn, &raw); err != nil {
			return
		}
		var msg subscribeMessage
		if err := json.Unmarshal([]byte(raw), &msg); err != nil {
			continue
		}
		channel, ok := subscriptionChannel(msg)
		if !ok {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(msg.Action)) {
		case "subscribe":
			h.hub.Subscribe(channel, client)
			if h.replay != nil {
				if payload, ok := h.replay.Latest(channel); ok {
					client.send(payload)
				}
			}
		case "unsubscribe":
			h.hub.Unsubscribe(channel, client)
		}
	}
}

func (h *Handler) writer(client *Client) {
	for payload := range client.out {
		if err := websocket.Message.Send(client.conn, string(payload)); err != nil {
			return
		}
	}
}

func subscriptionChannel(msg subscribeMessage) (string, bool) {
	channel := strings.ToLower(strings.TrimSpace(msg.Channel))
	_, ok := knownChannels[channel]
	return channel, ok
}
