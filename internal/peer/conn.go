package peer

import (
	"fmt"

	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/intervalpli"
	"github.com/pion/webrtc/v4"
)

// STUN servers for ICE candidate gathering. No TURN, direct/STUN-only
// connectivity; failure across restrictive NATs is an accepted limitation.
var defaultSTUNServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

// newAPI builds the shared webrtc.API for all peer connections. setup, when
// non-nil, registers the local capture codecs on the media engine; otherwise
// the default codec set applies. A periodic PLI interceptor keeps inbound
// video recoverable after loss without waiting for the sender's own keyframe
// cadence.
func newAPI(setup func(*webrtc.MediaEngine) error) (*webrtc.API, error) {
	me := &webrtc.MediaEngine{}
	if setup != nil {
		if err := setup(me); err != nil {
			return nil, fmt.Errorf("populate media engine: %w", err)
		}
	} else if err := me.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register default codecs: %w", err)
	}

	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(me, ir); err != nil {
		return nil, fmt.Errorf("register default interceptors: %w", err)
	}

	pli, err := intervalpli.NewReceiverInterceptor()
	if err != nil {
		return nil, fmt.Errorf("create PLI interceptor: %w", err)
	}
	ir.Add(pli)

	return webrtc.NewAPI(
		webrtc.WithMediaEngine(me),
		webrtc.WithInterceptorRegistry(ir),
	), nil
}

// newPeerConnection creates a PeerConnection configured with the given STUN
// servers for candidate discovery.
func newPeerConnection(api *webrtc.API, stunServers []string) (*webrtc.PeerConnection, error) {
	if len(stunServers) == 0 {
		stunServers = defaultSTUNServers
	}
	config := webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{URLs: stunServers},
		},
	}
	return api.NewPeerConnection(config)
}
