package media

import (
	"errors"
	"sync"

	"github.com/pion/webrtc/v4"
)

// ErrCaptureUnsupported is returned by StartCapture on platforms without a
// capture backend. The caller proceeds in receive-only mode.
var ErrCaptureUnsupported = errors.New("media: capture not supported on this platform")

// CaptureOptions selects which capture tracks to open.
type CaptureOptions struct {
	Audio bool
	Video bool
}

// Controller owns the current local capture stream and notifies consumers
// when it is replaced. It is the only component that mutates the stream;
// everyone else holds a transient read-only handle.
type Controller struct {
	mu        sync.Mutex
	stream    *Stream
	observers []func(*Stream)
	populate  func(*webrtc.MediaEngine) error
}

// NewController creates a controller with no stream (receive-only).
func NewController() *Controller {
	return &Controller{}
}

// Stream returns the current capture stream, or nil when there is none.
func (c *Controller) Stream() *Stream {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stream
}

// OnChange registers an observer fired with the new stream (possibly nil)
// after every replacement.
func (c *Controller) OnChange(fn func(*Stream)) {
	c.mu.Lock()
	c.observers = append(c.observers, fn)
	c.mu.Unlock()
}

// SetStream replaces the current stream wholesale, closing the previous one.
// Passing nil drops local media entirely.
func (c *Controller) SetStream(s *Stream) {
	c.mu.Lock()
	old := c.stream
	c.stream = s
	fns := append([]func(*Stream){}, c.observers...)
	c.mu.Unlock()

	if old != nil && old != s {
		old.Close()
	}
	for _, fn := range fns {
		fn(s)
	}
}

// StartCapture opens the platform camera/microphone and installs the result
// as the current stream. On failure the previous stream (usually none) stays
// in place and the session continues receive-only.
//
// Must run before the peer layer builds its webrtc.API: the capture codecs
// are registered through EngineSetup.
func (c *Controller) StartCapture(opts CaptureOptions) error {
	stream, populate, err := captureStream(opts)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.populate = populate
	c.mu.Unlock()

	c.SetStream(stream)
	return nil
}

// EngineSetup returns the media-engine hook that registers the capture
// codecs, or nil when no capture ran (default codecs apply).
func (c *Controller) EngineSetup() func(*webrtc.MediaEngine) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.populate
}

// Close stops capture and drops the stream.
func (c *Controller) Close() {
	c.SetStream(nil)
}
