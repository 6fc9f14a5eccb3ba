// Package media owns the local capture stream. The peer layer only ever
// consumes the current stream handle; it never initiates capture itself.
package media

import (
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
)

// Stream is one local media source: an identity plus the outbound tracks it
// carries. A stream is replaced wholesale, never mutated in place.
type Stream struct {
	id     string
	tracks []webrtc.TrackLocal
	stop   func()
}

// NewStream builds a stream over the given tracks. stop, if non-nil, releases
// the underlying capture resources and is invoked exactly once by Close.
func NewStream(tracks []webrtc.TrackLocal, stop func()) *Stream {
	return &Stream{
		id:     uuid.New().String(),
		tracks: tracks,
		stop:   stop,
	}
}

// ID returns the stream's stable identity.
func (s *Stream) ID() string { return s.id }

// Tracks returns the outbound tracks. The slice is shared read-only; callers
// must not modify it.
func (s *Stream) Tracks() []webrtc.TrackLocal { return s.tracks }

// Close releases the capture resources behind the stream.
func (s *Stream) Close() {
	if s.stop != nil {
		s.stop()
		s.stop = nil
	}
}
