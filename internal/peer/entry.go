package peer

import (
	"context"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/1ureka.net.meet/internal/event"
	"github.com/1ureka/1ureka.net.meet/internal/media"
	"github.com/1ureka/1ureka.net.meet/internal/util"
)

const inboxSize = 64

// task is one unit of per-entry work: either the initiator's first offer
// negotiation or an inbound signaling envelope.
type task struct {
	negotiate bool
	signal    event.SignalData
}

// entry binds one participant key to its owned PeerConnection and negotiation
// state. All negotiation for a key runs on the entry's own goroutine, which
// drains the inbox in arrival order, giving the per-key serialization that keeps
// offer/answer/candidate application from interleaving.
type entry struct {
	key string
	m   *Manager

	pc *webrtc.PeerConnection

	mu      sync.Mutex
	senders []*webrtc.RTPSender
	remote  *RemoteStream

	inbox      chan task
	ctx        context.Context
	cancel     context.CancelFunc
	streamOnce sync.Once
	failOnce   sync.Once
}

func newEntry(m *Manager, key string) *entry {
	ctx, cancel := context.WithCancel(context.Background())
	return &entry{
		key:    key,
		m:      m,
		inbox:  make(chan task, inboxSize),
		ctx:    ctx,
		cancel: cancel,
	}
}

// init allocates the connection, registers the three observers, attaches the
// cached local tracks, and starts the mailbox goroutine. Called exactly once,
// right after the entry is registered.
func (e *entry) init(local *media.Stream) error {
	pc, err := newPeerConnection(e.m.api, e.m.cfg.STUNServers)
	if err != nil {
		return err
	}
	e.pc = pc

	// Outbound-candidate observer: trickle every discovered candidate to the
	// signaling boundary, addressed to this entry's key.
	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil || !e.alive() {
			return
		}
		init := c.ToJSON()
		e.sendSignal(event.SignalData{Type: event.SignalCandidate, Candidate: &init})
	})

	// Inbound-track observer: surface the first inbound stream, once.
	pc.OnTrack(func(tr *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if !e.alive() {
			return
		}
		e.streamOnce.Do(func() {
			rs := newRemoteStream(e.key, tr.StreamID())
			e.mu.Lock()
			e.remote = rs
			e.mu.Unlock()
			if e.m.cfg.OnRemoteStream != nil {
				e.m.cfg.OnRemoteStream(e.key, rs)
			}
		})

		e.mu.Lock()
		rs := e.remote
		e.mu.Unlock()
		rs.addTrack(tr)
		go rs.pump(e.ctx, tr, e.m.cfg.Stats)
	})

	// Termination observer.
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		util.LogDebug("peer %s connection state: %s", e.key, state)
		switch state {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			if e.alive() {
				e.fail(fmt.Errorf("connection %s", state))
			}
		}
	})

	if local != nil {
		e.attachTracks(local.Tracks())
	} else {
		// Without local media the SDP still needs receive m-lines.
		addRecvOnlyTransceivers(e.key, pc)
	}

	go e.run()
	return nil
}

// enqueue hands a task to the entry's mailbox, preserving arrival order.
// It never blocks the caller: a stalled entry must not hold up envelopes for
// other keys, so overflow drops the task with a warning (the bus guarantees
// nothing anyway). Tasks for a dead entry are dropped silently.
func (e *entry) enqueue(t task) {
	select {
	case e.inbox <- t:
	case <-e.ctx.Done():
	default:
		label := string(t.signal.Type)
		if t.negotiate {
			label = "negotiation"
		}
		util.LogWarning("peer %s: mailbox full, dropped %s", e.key, label)
	}
}

func (e *entry) run() {
	for {
		select {
		case t := <-e.inbox:
			e.apply(t)
		case <-e.ctx.Done():
			return
		}
	}
}

// apply executes one task. Negotiation errors surface through the termination
// observer; they are never retried here.
func (e *entry) apply(t task) {
	var err error
	switch {
	case t.negotiate:
		err = e.sendOffer()
	case t.signal.Type == event.SignalOffer:
		err = e.acceptOffer(t.signal.SDP)
	case t.signal.Type == event.SignalAnswer:
		err = e.pc.SetRemoteDescription(webrtc.SessionDescription{
			Type: webrtc.SDPTypeAnswer, SDP: t.signal.SDP,
		})
	case t.signal.Type == event.SignalCandidate:
		// Pre-remote-description candidates are queued by pion itself; no
		// extra buffering layer here.
		if t.signal.Candidate != nil {
			err = e.pc.AddICECandidate(*t.signal.Candidate)
		}
	default:
		util.LogDebug("peer %s: unknown signal type %q dropped", e.key, t.signal.Type)
	}

	if err != nil && e.alive() {
		e.fail(err)
	}
}

// sendOffer creates an offer, commits it locally, and hands the body to the
// signaling boundary.
func (e *entry) sendOffer() error {
	offer, err := e.pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("CreateOffer: %w", err)
	}
	if err := e.pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("SetLocalDescription: %w", err)
	}
	e.sendSignal(event.SignalData{Type: event.SignalOffer, SDP: offer.SDP})
	return nil
}

// acceptOffer commits the remote offer, answers it, and sends the answer back.
func (e *entry) acceptOffer(sdp string) error {
	if err := e.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer, SDP: sdp,
	}); err != nil {
		return fmt.Errorf("SetRemoteDescription: %w", err)
	}
	answer, err := e.pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("CreateAnswer: %w", err)
	}
	if err := e.pc.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("SetLocalDescription: %w", err)
	}
	e.sendSignal(event.SignalData{Type: event.SignalAnswer, SDP: answer.SDP})
	return nil
}

func (e *entry) sendSignal(data event.SignalData) {
	if err := e.m.cfg.Signaler.SendSignal(e.key, data); err != nil {
		util.LogWarning("peer %s: send %s failed: %v", e.key, data.Type, err)
		return
	}
	if e.m.cfg.Stats != nil {
		e.m.cfg.Stats.AddSignalSent()
	}
}

// attachTracks adds every track of the local stream to the connection.
func (e *entry) attachTracks(tracks []webrtc.TrackLocal) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, track := range tracks {
		sender, err := e.pc.AddTrack(track)
		if err != nil {
			util.LogWarning("peer %s: AddTrack: %v", e.key, err)
			continue
		}
		e.senders = append(e.senders, sender)
	}
}

// replaceTracks removes every currently-attached outbound track, then adds
// the new stream's tracks. Remove-then-add rather than mutate-in-place keeps
// the swap renegotiation-safe.
func (e *entry) replaceTracks(local *media.Stream) {
	if !e.alive() {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, sender := range e.senders {
		if err := e.pc.RemoveTrack(sender); err != nil {
			util.LogWarning("peer %s: RemoveTrack: %v", e.key, err)
		}
	}
	e.senders = nil

	if local == nil {
		return
	}
	for _, track := range local.Tracks() {
		sender, err := e.pc.AddTrack(track)
		if err != nil {
			util.LogWarning("peer %s: AddTrack: %v", e.key, err)
			continue
		}
		e.senders = append(e.senders, sender)
	}
}

// fail reports a terminal condition to the termination observer, once, and
// kills the entry's mailbox. The entry stays registered until the owner
// evicts it via RemovePeer.
func (e *entry) fail(err error) {
	e.failOnce.Do(func() {
		util.LogWarning("peer %s: %v", e.key, err)
		e.cancel()
		if e.m.cfg.OnPeerClosed != nil {
			e.m.cfg.OnPeerClosed(e.key, err)
		}
	})
}

// alive reports whether the entry has neither failed nor been removed.
// In-flight callbacks resolving after removal check this before acting.
func (e *entry) alive() bool {
	return e.ctx.Err() == nil
}

// close releases every transport resource. Idempotent.
func (e *entry) close() {
	e.cancel()
	if e.pc != nil {
		if err := e.pc.Close(); err != nil {
			util.LogDebug("peer %s: close: %v", e.key, err)
		}
	}
}

// addRecvOnlyTransceivers ensures offers and answers produce valid audio and
// video m-lines with ICE credentials even with no local capture.
func addRecvOnlyTransceivers(key string, pc *webrtc.PeerConnection) {
	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeVideo, webrtc.RTPCodecTypeAudio} {
		if _, err := pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			util.LogWarning("peer %s: AddTransceiver(%s): %v", key, kind, err)
		}
	}
}
