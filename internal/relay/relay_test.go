package relay

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func startHub(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(NewHub().Handler())
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url, room string) *Client {
	t.Helper()
	c, err := Dial(context.Background(), url, room)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

// TestBroadcastReachesOtherMembers verifies a published frame reaches every
// other member of the room but never echoes back to the sender.
func TestBroadcastReachesOtherMembers(t *testing.T) {
	url := startHub(t)

	a := dial(t, url, "ROOM1")
	b := dial(t, url, "ROOM1")

	gotB := make(chan json.RawMessage, 1)
	b.On("chat", func(p json.RawMessage) { gotB <- p })

	echoA := make(chan json.RawMessage, 1)
	a.On("chat", func(p json.RawMessage) { echoA <- p })

	waitConnected(t, a)
	waitConnected(t, b)

	if err := a.Publish("chat", map[string]string{"content": "hello"}); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	select {
	case p := <-gotB:
		var body map[string]string
		if err := json.Unmarshal(p, &body); err != nil || body["content"] != "hello" {
			t.Fatalf("unexpected payload %s (err=%v)", p, err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("frame never reached the other member")
	}

	select {
	case <-echoA:
		t.Fatal("sender received its own broadcast")
	case <-time.After(200 * time.Millisecond):
	}
}

// TestRoomsAreIsolated verifies frames never cross room boundaries.
func TestRoomsAreIsolated(t *testing.T) {
	url := startHub(t)

	a := dial(t, url, "ROOM1")
	other := dial(t, url, "ROOM2")

	leaked := make(chan json.RawMessage, 1)
	other.On("chat", func(p json.RawMessage) { leaked <- p })

	waitConnected(t, a)
	waitConnected(t, other)

	if err := a.Publish("chat", map[string]string{"content": "secret"}); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	select {
	case <-leaked:
		t.Fatal("frame crossed into another room")
	case <-time.After(300 * time.Millisecond):
	}
}

// TestPublishBeforeConnect verifies frames queued before the transport is up
// are delivered once it comes up.
func TestPublishBeforeConnect(t *testing.T) {
	url := startHub(t)

	b := dial(t, url, "ROOM1")
	got := make(chan json.RawMessage, 1)
	b.On("status_update", func(p json.RawMessage) { got <- p })
	waitConnected(t, b)

	a := dial(t, url, "ROOM1")
	// No waitConnected: publish immediately after Dial returns.
	if err := a.Publish("status_update", map[string]any{"id": "p1"}); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	select {
	case <-got:
	case <-time.After(5 * time.Second):
		t.Fatal("buffered frame was never delivered")
	}
}

// TestStateObserver verifies the connectivity callback reports connected after
// dial and disconnected after close.
func TestStateObserver(t *testing.T) {
	url := startHub(t)

	ctx := context.Background()
	c, err := Dial(ctx, url, "ROOM1")
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}

	waitConnected(t, c)

	states := make(chan State, 16)
	c.OnState(func(s State) { states <- s })

	c.Close()
	waitState(t, states, StateDisconnected)

	if s := c.State(); s != StateDisconnected {
		t.Fatalf("state = %v, want disconnected", s)
	}
}

// TestPublishAfterClose verifies a closed session rejects frames instead of
// buffering them into the void.
func TestPublishAfterClose(t *testing.T) {
	url := startHub(t)

	c := dial(t, url, "ROOM1")
	waitConnected(t, c)
	c.Close()

	err := c.Publish("chat", map[string]string{"content": "late"})
	if !errors.Is(err, ErrClosed) {
		t.Fatalf("Publish after Close = %v, want ErrClosed", err)
	}
}

// TestChannelURL verifies scheme normalization: http maps to ws, https to
// wss, bare hosts default to wss.
func TestChannelURL(t *testing.T) {
	cases := []struct {
		base string
		want string
	}{
		{"ws://relay.example", "ws://relay.example/ws/R1"},
		{"wss://relay.example", "wss://relay.example/ws/R1"},
		{"http://relay.example", "ws://relay.example/ws/R1"},
		{"https://relay.example", "wss://relay.example/ws/R1"},
		{"wss://relay.example:8090", "wss://relay.example:8090/ws/R1"},
	}
	for _, tc := range cases {
		got, err := channelURL(tc.base, "R1")
		if err != nil {
			t.Errorf("channelURL(%q) failed: %v", tc.base, err)
			continue
		}
		if got != tc.want {
			t.Errorf("channelURL(%q) = %q, want %q", tc.base, got, tc.want)
		}
	}

	if _, err := channelURL("not a url", "R1"); err == nil {
		t.Error("channelURL accepted a hostless string")
	}
}

func waitConnected(t *testing.T, c *Client) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for c.State() != StateConnected {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for relay connection")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func waitState(t *testing.T, states <-chan State, want State) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case s := <-states:
			if s == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for state %v", want)
		}
	}
}
