// Package config holds the CLI configuration types.
package config

import "github.com/1ureka/1ureka.net.meet/internal/event"

// Config stores all parameters gathered from flags or the interactive CLI prompts.
type Config struct {
	RelayURL string     // WebSocket URL of the signal relay
	RoomCode string     // Shareable room code; empty means create a new room
	Name     string     // Display name announced to the room
	Role     event.Role // host, attendee, or observer
	AudioOff bool       // join with microphone muted
	VideoOff bool       // join with camera disabled
	NoMedia  bool       // skip capture entirely (receive-only mode)
}
