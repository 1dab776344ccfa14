package ws

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
)

// Notifier publishes JSON envelopes to the hub and remembers the last one per
// channel so new subscribers start from the current state.
type Notifier struct {
	hub    *Hub
	logger *slog.Logger

	mu   sync.RWMutex
	last map[string][]byte
}

type envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

func NewNotifier(hub *Hub, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{hub: hub, logger: logger, last: map[string][]byte{}}
}

func (n *Notifier) Publish(channel, event string, data any) error {
	payload, err := json.Marshal(envelope{Event: event, Data: data})
	if err != nil {
		return fmt.Errorf("encode %s event: %w", event, err)
	}
	n.mu.Lock()
	n.last[channel] = payload
	n.mu.Unlock()

	n.hub.Publish(channel, payload)
	n.logger.Debug("stream event published", "channel", channel, "event", event, "subscribers", n.hub.Subscribers(channel))
	return nil
}

func (n *Notifier) Latest(channel string) ([]byte, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	payload, ok := n.last[channel]
	return payload, ok
}
