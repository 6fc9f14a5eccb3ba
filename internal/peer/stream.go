package peer

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/1ureka.net.meet/internal/util"
)

// RemoteStream is the inbound media of one remote participant: the first
// negotiated stream and every track it carries. It is the optional relation
// participant key → media handle that the presentation layer renders from.
type RemoteStream struct {
	peerKey  string
	streamID string

	mu     sync.Mutex
	tracks []*webrtc.TrackRemote
}

func newRemoteStream(peerKey, streamID string) *RemoteStream {
	return &RemoteStream{peerKey: peerKey, streamID: streamID}
}

// PeerKey returns the remote participant this stream belongs to.
func (rs *RemoteStream) PeerKey() string { return rs.peerKey }

// ID returns the negotiated stream identity (msid).
func (rs *RemoteStream) ID() string { return rs.streamID }

// Tracks returns the tracks received so far.
func (rs *RemoteStream) Tracks() []*webrtc.TrackRemote {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return append([]*webrtc.TrackRemote(nil), rs.tracks...)
}

func (rs *RemoteStream) addTrack(tr *webrtc.TrackRemote) {
	rs.mu.Lock()
	rs.tracks = append(rs.tracks, tr)
	rs.mu.Unlock()
}

// pump drains RTP from one track so media keeps flowing and records volume.
// It exits when the track ends or the entry is removed; reads resolving after
// removal go nowhere.
func (rs *RemoteStream) pump(ctx context.Context, tr *webrtc.TrackRemote, stats *util.Stats) {
	for {
		var pkt *rtp.Packet
		pkt, _, err := tr.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				util.LogDebug("peer %s: track %s read ended: %v", rs.peerKey, tr.ID(), err)
			}
			return
		}
		if ctx.Err() != nil {
			return
		}
		if stats != nil {
			stats.AddMediaRecv(len(pkt.Payload))
		}
	}
}
