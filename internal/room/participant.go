package room

import "github.com/1ureka/1ureka.net.meet/internal/event"

// Participant is one member of the room as tracked by the coordinator.
// Media streams are not part of this record; the peer manager surfaces them
// separately keyed by participant.
type Participant struct {
	Key          string
	Name         string
	Role         event.Role
	IsLocal      bool
	AudioEnabled bool
	VideoEnabled bool
	HandRaised   bool
}
