package websocket

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

type nopLogger struct{}

func (nopLogger) Debug(module, message string, details map[string]interface{}) {}
func (nopLogger) Info(module, message string, details map[string]interface{})  {}
func (nopLogger) Warn(module, message string, details map[string]interface{})  {}
func (nopLogger) Error(module, message string, details map[string]interface{}) {}
func (nopLogger) Sync() error                                                  { return nil }

func newTestHub(t *testing.T) (*Hub, context.CancelFunc) {
	t.Helper()
	pubSub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	hub := NewHub(pubSub, nil, nopLogger{})
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	return hub, cancel
}

func (h *Hub) localClientCount(tabID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[tabID])
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestSendLocalDeliversToRegisteredClient(t *testing.T) {
	hub, cancel := newTestHub(t)
	defer cancel()

	client := &Client{Hub: hub, TabID: "tab-1", Send: make(chan []byte, 4)}
	hub.register <- client
	waitFor(t, func() bool { return hub.localClientCount("tab-1") == 1 })

	hub.sendLocal("tab-1", []byte("payload"))

	select {
	case got := <-client.Send:
		if string(got) != "payload" {
			t.Errorf("payload = %q", got)
		}
	case <-time.After(time.Second):
		t.Fatal("no payload delivered")
	}
}

func TestStalledClientIsUnregisteredWithoutPanic(t *testing.T) {
	hub, cancel := newTestHub(t)
	defer cancel()

	// Unbuffered Send with no reader: every delivery attempt hits the
	// full-buffer branch.
	client := &Client{Hub: hub, TabID: "tab-1", Send: make(chan []byte)}
	hub.register <- client
	waitFor(t, func() bool { return hub.localClientCount("tab-1") == 1 })

	hub.sendLocal("tab-1", []byte("first"))
	waitFor(t, func() bool { return hub.localClientCount("tab-1") == 0 })

	// A second delivery attempt against the already-removed client must be
	// a no-op, not a close of a closed channel.
	hub.sendLocal("tab-1", []byte("second"))

	select {
	case _, open := <-client.Send:
		if open {
			t.Error("Send still open after unregistration")
		}
	case <-time.After(time.Second):
		t.Fatal("Send never closed by the unregister arm")
	}
}
