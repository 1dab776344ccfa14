package ws

import (
	"encoding/json"
	"testing"
	"time"
)

func receive(t *testing.T, client *Client) []byte {
	t.Helper()
	select {
	case msg := <-client.out:
		return msg
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("timed out waiting for message")
	}
	return nil
}

func TestHubSubscribeAndPublish(t *testing.T) {
	hub := NewHub()
	client := NewClient(nil)

	hub.Subscribe(ChannelBorrower, client)
	hub.Publish(ChannelBorrower, []byte(`{"event":"borrower_stage"}`))

	if msg := receive(t, client); string(msg) != `{"event":"borrower_stage"}` {
		t.Fatalf("unexpected payload: %s", string(msg))
	}

	hub.UnsubscribeAll(client)
	if n := hub.Subscribers(ChannelBorrower); n != 0 {
		t.Fatalf("expected no subscribers, got %d", n)
	}
}

func TestHubUnsubscribeSingleChannel(t *testing.T) {
	hub := NewHub()
	client := NewClient(nil)
	hub.Subscribe(ChannelBorrower, client)
	hub.Subscribe(ChannelSignals, client)

	hub.Unsubscribe(ChannelBorrower, client)
	hub.Publish(ChannelBorrower, []byte(`{}`))
	hub.Publish(ChannelSignals, []byte(`{"event":"signal"}`))

	if msg := receive(t, client); string(msg) != `{"event":"signal"}` {
		t.Fatalf("unexpected payload: %s", string(msg))
	}
	select {
	case msg := <-client.out:
		t.Fatalf("unexpected extra payload: %s", string(msg))
	default:
	}
}

func TestNotifierWrapsAndRemembers(t *testing.T) {
	hub := NewHub()
	client := NewClient(nil)
	hub.Subscribe(ChannelInvestor, client)
	n := NewNotifier(hub, nil)

	if err := n.Publish(ChannelInvestor, "catalog_updated", map[string]int{"opportunities": 2}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	var got struct {
		Event string         `json:"event"`
		Data  map[string]int `json:"data"`
	}
	if err := json.Unmarshal(receive(t, client), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Event != "catalog_updated" || got.Data["opportunities"] != 2 {
		t.Fatalf("unexpected envelope: %+v", got)
	}

	latest, ok := n.Latest(ChannelInvestor)
	if !ok || len(latest) == 0 {
		t.Fatalf("expected latest payload for investor channel")
	}
	if _, ok := n.Latest(ChannelSession); ok {
		t.Fatalf("unexpected latest payload for session channel")
	}
}

func TestSubscriptionChannelAcceptsKnownChannelsOnly(t *testing.T) {
	cases := map[string]bool{
		"borrower":  true,
		" Session ": true,
		"signals":   true,
		"investor":  true,
		"pool":      false,
		"":          false,
	}
	for channel, want := range cases {
		_, ok := subscriptionChannel(subscribeMessage{Action: "subscribe", Channel: channel})
		if ok != want {
			t.Fatalf("channel %q: got %v want %v", channel, ok, want)
		}
	}
}

func TestPublishAfterClientCloseIsDropped(t *testing.T) {
	hub := NewHub()
	client := NewClient(nil)
	hub.Subscribe(ChannelSession, client)

	client.close()
	client.close()
	hub.Publish(ChannelSession, []byte(`{}`))

	if _, open := <-client.out; open {
		t.Fatalf("expected closed client to receive nothing")
	}
}
