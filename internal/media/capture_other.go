//go:build !linux

package media

import "github.com/pion/webrtc/v4"

// Camera/mic capture via pion/mediadevices needs platform drivers (V4L2 and
// malgo on Linux). Elsewhere the client runs receive-only.
func captureStream(CaptureOptions) (*Stream, func(*webrtc.MediaEngine) error, error) {
	return nil, nil, ErrCaptureUnsupported
}
