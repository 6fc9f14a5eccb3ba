//go:build linux

package media

import (
	"fmt"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/1ureka.net.meet/internal/util"
)

// captureStream opens camera/mic via pion/mediadevices (V4L2 + malgo) with
// VP8+Opus encoding. GetUserMedia fails as a unit when either requested track
// cannot open, so requests degrade: both, then video-only, then audio-only.
func captureStream(opts CaptureOptions) (*Stream, func(*webrtc.MediaEngine) error, error) {
	if !opts.Audio && !opts.Video {
		return nil, nil, fmt.Errorf("media: nothing to capture")
	}

	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, nil, fmt.Errorf("media: VP8 params: %w", err)
	}
	vpxParams.BitRate = 1_500_000 // 1.5 Mbps

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, nil, fmt.Errorf("media: Opus params: %w", err)
	}

	selector := mediadevices.NewCodecSelector(
		mediadevices.WithVideoEncoders(&vpxParams),
		mediadevices.WithAudioEncoders(&opusParams),
	)
	populate := func(me *webrtc.MediaEngine) error {
		selector.Populate(me)
		return nil
	}

	type attempt struct {
		video bool
		audio bool
		label string
	}
	attempts := []attempt{
		{opts.Video, opts.Audio, "video+audio"},
		{opts.Video, false, "video-only"},
		{false, opts.Audio, "audio-only"},
	}

	for _, a := range attempts {
		if !a.video && !a.audio {
			continue
		}

		constraints := mediadevices.MediaStreamConstraints{Codec: selector}
		if a.video {
			constraints.Video = func(c *mediadevices.MediaTrackConstraints) {
				// Raw formats only: some cameras expose an MJPEG V4L2 node
				// with malformed frames that poison the VP8 encoder.
				c.FrameFormat = prop.FrameFormatOneOf{
					frame.FormatYUYV,
					frame.FormatI420,
					frame.FormatI444,
					frame.FormatRGBA,
				}
				c.Width = prop.IntRanged{Max: 640}
				c.Height = prop.IntRanged{Max: 480}
			}
		}
		if a.audio {
			constraints.Audio = func(_ *mediadevices.MediaTrackConstraints) {}
		}

		ms, err := mediadevices.GetUserMedia(constraints)
		if err != nil {
			util.LogDebug("capture attempt %s failed: %v", a.label, err)
			continue
		}

		tracks := ms.GetTracks()
		locals := make([]webrtc.TrackLocal, 0, len(tracks))
		for _, track := range tracks {
			track.OnEnded(func(err error) {
				if err != nil {
					util.LogWarning("local track ended: %v", err)
				}
			})
			locals = append(locals, track)
		}

		util.LogInfo("local media captured (%s), %d tracks", a.label, len(locals))
		stop := func() {
			for _, t := range tracks {
				t.Close()
			}
		}
		return NewStream(locals, stop), populate, nil
	}

	return nil, nil, fmt.Errorf("media: all capture attempts failed")
}
