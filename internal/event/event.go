// Package event defines the typed room events exchanged over the signal
// relay. The five kinds form a closed set: every inbound broadcast decodes
// to exactly one of them or is rejected, so consumers can switch exhaustively
// instead of sniffing message shapes.
package event

import (
	"github.com/pion/webrtc/v4"
)

// Role classifies a participant within a room.
type Role string

const (
	RoleHost     Role = "host"
	RoleAttendee Role = "attendee"
	RoleObserver Role = "observer"
)

// Kind is the broadcast event name used as the relay topic's sub-channel.
type Kind string

const (
	KindJoin   Kind = "participant_join"
	KindLeave  Kind = "participant_leave"
	KindSignal Kind = "signal"
	KindChat   Kind = "chat"
	KindStatus Kind = "status_update"
)

// Event is the closed variant over the five room event kinds.
// Only the types in this package implement it.
type Event interface {
	Kind() Kind
}

// Join announces a participant entering the room.
type Join struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role Role   `json:"role"`
}

// Leave announces a participant exiting the room.
type Leave struct {
	ID string `json:"id"`
}

// Signal carries one connection-setup envelope between two participants.
// The relay is a broadcast medium: receivers MUST discard envelopes whose
// To field does not match their own identity.
type Signal struct {
	From string     `json:"from"`
	To   string     `json:"to"`
	Data SignalData `json:"data"`
}

// Chat carries one chat message, independent of peer connections.
type Chat struct {
	ID         string `json:"id"`
	SenderID   string `json:"senderId"`
	SenderName string `json:"senderName"`
	Content    string `json:"content"`
}

// Status carries a partial update of a participant's media flags.
// Nil pointers mean "unchanged" so senders can update a single flag.
type Status struct {
	ID           string `json:"id"`
	AudioEnabled *bool  `json:"audioEnabled,omitempty"`
	VideoEnabled *bool  `json:"videoEnabled,omitempty"`
	HandRaised   *bool  `json:"handRaised,omitempty"`
}

func (Join) Kind() Kind   { return KindJoin }
func (Leave) Kind() Kind  { return KindLeave }
func (Signal) Kind() Kind { return KindSignal }
func (Chat) Kind() Kind   { return KindChat }
func (Status) Kind() Kind { return KindStatus }

// SignalType identifies the kind of negotiation payload inside a Signal.
type SignalType string

const (
	SignalOffer     SignalType = "offer"
	SignalAnswer    SignalType = "answer"
	SignalCandidate SignalType = "ice"
)

// SignalData is the negotiation payload: an SDP body for offer/answer, or an
// ICE candidate descriptor for ice.
type SignalData struct {
	Type      SignalType               `json:"type"`
	SDP       string                   `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit `json:"candidate,omitempty"`
}

// Bool returns a pointer to b, for building partial Status updates.
func Bool(b bool) *bool { return &b }
