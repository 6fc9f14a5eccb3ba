package event

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnknownKind is returned by Decode for event names outside the closed set.
// The relay makes no delivery guarantees, so callers drop these rather than
// treating them as protocol violations.
var ErrUnknownKind = errors.New("unknown event kind")

// Decode deserializes a broadcast payload into its typed event.
func Decode(kind Kind, payload []byte) (Event, error) {
	var ev Event
	switch kind {
	case KindJoin:
		ev = &Join{}
	case KindLeave:
		ev = &Leave{}
	case KindSignal:
		ev = &Signal{}
	case KindChat:
		ev = &Chat{}
	case KindStatus:
		ev = &Status{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}

	if err := json.Unmarshal(payload, ev); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", kind, err)
	}

	// Return the value, not the pointer, so callers can type-switch on the
	// same concrete types they construct.
	switch v := ev.(type) {
	case *Join:
		return *v, nil
	case *Leave:
		return *v, nil
	case *Signal:
		return *v, nil
	case *Chat:
		return *v, nil
	case *Status:
		return *v, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
}

// Marshal serializes an event into its broadcast name and JSON payload.
func Marshal(ev Event) (Kind, []byte, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return "", nil, fmt.Errorf("encode %s payload: %w", ev.Kind(), err)
	}
	return ev.Kind(), payload, nil
}
