// Package relay wraps the out-of-band publish/subscribe bus used to exchange
// connection-setup metadata. It is signaling-only; media never touches it.
//
// The bus is a broadcast medium with at-least-once, no-ordering-guarantee
// delivery inside one topic: every frame published to a room channel reaches
// every other member. Recipient filtering is the subscriber's job.
package relay

import "encoding/json"

// Frame is the unit carried over the bus: a broadcast event name plus its
// raw payload. Decoding the payload belongs to the event package.
type Frame struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// State describes the client's view of the signaling channel.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}
