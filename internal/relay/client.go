package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/1ureka/1ureka.net.meet/internal/util"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second // must be less than pongWait
	sendBufferSize = 256

	backoffInitial = 500 * time.Millisecond
	backoffMax     = 15 * time.Second
)

// ErrClosed is returned by Publish after Close or when the outbound buffer is
// unavailable because the session has shut down.
var ErrClosed = errors.New("relay: session closed")

// Client is one subscription to a room channel. It keeps the subscription
// alive across transport drops with exponential-backoff redials; registered
// handlers survive reconnects.
type Client struct {
	url string

	mu       sync.Mutex
	handlers map[string][]func(json.RawMessage)
	onState  func(State)
	state    State
	send     chan Frame

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// Dial joins the channel for roomCode on the relay at baseURL and starts the
// background session. The returned client is usable immediately: frames
// published before the transport is up are buffered.
func Dial(ctx context.Context, baseURL, roomCode string) (*Client, error) {
	wsURL, err := channelURL(baseURL, roomCode)
	if err != nil {
		return nil, err
	}

	cCtx, cCancel := context.WithCancel(ctx)
	c := &Client{
		url:      wsURL,
		handlers: make(map[string][]func(json.RawMessage)),
		send:     make(chan Frame, sendBufferSize),
		ctx:      cCtx,
		cancel:   cCancel,
		done:     make(chan struct{}),
	}

	go c.run()
	return c, nil
}

// On registers a handler for one broadcast event name. Handlers for the same
// name run in delivery order; distinct names carry no ordering guarantee.
func (c *Client) On(eventName string, fn func(json.RawMessage)) {
	c.mu.Lock()
	c.handlers[eventName] = append(c.handlers[eventName], fn)
	c.mu.Unlock()
}

// OnState registers the connectivity observer. At most one; the coordinator
// owns it.
func (c *Client) OnState(fn func(State)) {
	c.mu.Lock()
	c.onState = fn
	c.mu.Unlock()
}

// Publish broadcasts an event to every other member of the channel.
// It never blocks on the network: frames queue until the transport drains
// them, and queue overflow drops the frame with an error.
func (c *Client) Publish(eventName string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("relay: encode %s: %w", eventName, err)
	}

	// Checked before the select: the buffer case could otherwise win it and
	// accept a frame nothing will ever send.
	if c.ctx.Err() != nil {
		return ErrClosed
	}

	select {
	case c.send <- Frame{Event: eventName, Payload: data}:
		return nil
	case <-c.ctx.Done():
		return ErrClosed
	default:
		return fmt.Errorf("relay: outbound buffer full, dropped %s", eventName)
	}
}

// Done is closed when the session has fully shut down.
func (c *Client) Done() <-chan struct{} { return c.done }

// Close ends the session. Safe to call more than once.
func (c *Client) Close() error {
	c.cancel()
	<-c.done
	return nil
}

// run owns the connection lifecycle: dial, pump, redial with backoff.
func (c *Client) run() {
	defer close(c.done)
	defer c.setState(StateDisconnected)

	backoff := backoffInitial
	for {
		if c.ctx.Err() != nil {
			return
		}

		c.setState(StateConnecting)
		conn, _, err := websocket.DefaultDialer.DialContext(c.ctx, c.url, nil)
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			util.LogDebug("relay dial failed, retrying in %s: %v", backoff, err)
			c.setState(StateDisconnected)
			select {
			case <-time.After(backoff):
			case <-c.ctx.Done():
				return
			}
			if backoff *= 2; backoff > backoffMax {
				backoff = backoffMax
			}
			continue
		}

		backoff = backoffInitial
		c.setState(StateConnected)
		c.pump(conn)
		conn.Close()

		if c.ctx.Err() != nil {
			return
		}
		util.LogWarning("relay connection lost, resubscribing")
		c.setState(StateDisconnected)
	}
}

// pump runs the read and write loops for one live connection and returns
// when either side fails.
func (c *Client) pump(conn *websocket.Conn) {
	readErr := make(chan error, 1)

	go func() {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			var f Frame
			if err := conn.ReadJSON(&f); err != nil {
				readErr <- err
				return
			}
			c.dispatch(f)
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case f := <-c.send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(f); err != nil {
				util.LogDebug("relay write failed: %v", err)
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case err := <-readErr:
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				util.LogDebug("relay read failed: %v", err)
			}
			return
		case <-c.ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}

func (c *Client) dispatch(f Frame) {
	c.mu.Lock()
	fns := append([]func(json.RawMessage){}, c.handlers[f.Event]...)
	c.mu.Unlock()

	for _, fn := range fns {
		fn(f.Payload)
	}
}

// State reports the current connectivity of the signaling channel.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	fn := c.onState
	c.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

// channelURL normalizes a relay base URL into the websocket endpoint for one
// room channel, e.g. wss://relay.example/ws/KXT42F9.
func channelURL(baseURL, roomCode string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("relay: invalid URL: %s", baseURL)
	}
	scheme := "wss"
	switch u.Scheme {
	case "ws", "http":
		scheme = "ws"
	case "wss", "https":
		scheme = "wss"
	}
	return fmt.Sprintf("%s://%s/ws/%s", scheme, u.Host, url.PathEscape(roomCode)), nil
}
