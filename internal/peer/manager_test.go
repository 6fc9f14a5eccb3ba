package peer

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"

	"github.com/1ureka/1ureka.net.meet/internal/event"
	"github.com/1ureka/1ureka.net.meet/internal/media"
)

// sentSignal is one envelope captured at the signaling boundary.
type sentSignal struct {
	to   string
	data event.SignalData
}

// captureSignaler records outbound envelopes and exposes them on a channel.
type captureSignaler struct {
	mu   sync.Mutex
	sent []sentSignal
	ch   chan sentSignal
}

func newCaptureSignaler() *captureSignaler {
	return &captureSignaler{ch: make(chan sentSignal, 64)}
}

func (s *captureSignaler) SendSignal(to string, data event.SignalData) error {
	s.mu.Lock()
	s.sent = append(s.sent, sentSignal{to, data})
	s.mu.Unlock()
	select {
	case s.ch <- sentSignal{to, data}:
	default:
	}
	return nil
}

// count returns how many captured envelopes have the given type.
func (s *captureSignaler) count(t event.SignalType) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, ss := range s.sent {
		if ss.data.Type == t {
			n++
		}
	}
	return n
}

func (s *captureSignaler) waitFor(t *testing.T, typ event.SignalType) sentSignal {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ss := <-s.ch:
			if ss.data.Type == typ {
				return ss
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s envelope", typ)
		}
	}
}

func newTestManager(t *testing.T, sig Signaler) *Manager {
	t.Helper()
	m, err := NewManager(Config{Signaler: sig})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	t.Cleanup(m.Destroy)
	return m
}

// TestCreateConnectionIdempotent verifies a second create request for the same
// key is a no-op: one entry, one offer.
func TestCreateConnectionIdempotent(t *testing.T) {
	sig := newCaptureSignaler()
	m := newTestManager(t, sig)

	if err := m.CreateConnection("k", true); err != nil {
		t.Fatalf("CreateConnection failed: %v", err)
	}
	if err := m.CreateConnection("k", true); err != nil {
		t.Fatalf("second CreateConnection failed: %v", err)
	}

	ss := sig.waitFor(t, event.SignalOffer)
	if ss.to != "k" {
		t.Errorf("offer addressed to %q, want k", ss.to)
	}

	// Quiet period: a duplicate offer would have to show up by now.
	time.Sleep(300 * time.Millisecond)
	if n := sig.count(event.SignalOffer); n != 1 {
		t.Errorf("offers sent = %d, want 1", n)
	}

	m.mu.Lock()
	n := len(m.entries)
	m.mu.Unlock()
	if n != 1 {
		t.Errorf("entries = %d, want 1", n)
	}
}

// TestHandleSignalLazyCreation verifies an inbound offer for an unknown key
// creates exactly one non-initiator entry and emits exactly one answer
// addressed to the sender.
func TestHandleSignalLazyCreation(t *testing.T) {
	sigA := newCaptureSignaler()
	a := newTestManager(t, sigA)

	if err := a.CreateConnection("b", true); err != nil {
		t.Fatalf("CreateConnection failed: %v", err)
	}
	offer := sigA.waitFor(t, event.SignalOffer)

	sigB := newCaptureSignaler()
	b := newTestManager(t, sigB)

	if err := b.HandleSignal("a", offer.data); err != nil {
		t.Fatalf("HandleSignal failed: %v", err)
	}

	answer := sigB.waitFor(t, event.SignalAnswer)
	if answer.to != "a" {
		t.Errorf("answer addressed to %q, want a", answer.to)
	}
	if !b.Has("a") {
		t.Error("no entry created for a")
	}

	time.Sleep(300 * time.Millisecond)
	if n := sigB.count(event.SignalAnswer); n != 1 {
		t.Errorf("answers sent = %d, want 1", n)
	}
	if n := sigB.count(event.SignalOffer); n != 0 {
		t.Errorf("non-initiator sent %d offers, want 0", n)
	}
}

// TestPerKeyOrdering verifies envelopes for one key apply in arrival order:
// a candidate enqueued right behind an offer must not be applied first (which
// would be rejected for lack of a remote description and kill the entry).
func TestPerKeyOrdering(t *testing.T) {
	sigA := newCaptureSignaler()
	a := newTestManager(t, sigA)
	if err := a.CreateConnection("b", true); err != nil {
		t.Fatalf("CreateConnection failed: %v", err)
	}
	offer := sigA.waitFor(t, event.SignalOffer)
	candidate := sigA.waitFor(t, event.SignalCandidate)

	var failed atomic.Int32
	sigB := newCaptureSignaler()
	b, err := NewManager(Config{
		Signaler:     sigB,
		OnPeerClosed: func(string, error) { failed.Add(1) },
	})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	defer b.Destroy()

	// Enqueue back-to-back so both sit in the mailbox together.
	if err := b.HandleSignal("a", offer.data); err != nil {
		t.Fatalf("HandleSignal(offer) failed: %v", err)
	}
	if err := b.HandleSignal("a", candidate.data); err != nil {
		t.Fatalf("HandleSignal(candidate) failed: %v", err)
	}

	sigB.waitFor(t, event.SignalAnswer)
	time.Sleep(300 * time.Millisecond)
	if failed.Load() != 0 {
		t.Error("entry failed: candidate was applied before the offer")
	}
}

// TestRemovePeerTerminal verifies removal discards the entry, repeated removal
// is a no-op, and a stale envelope afterwards builds a brand-new entry instead
// of resurrecting negotiation state.
func TestRemovePeerTerminal(t *testing.T) {
	sigA := newCaptureSignaler()
	a := newTestManager(t, sigA)
	if err := a.CreateConnection("b", true); err != nil {
		t.Fatalf("CreateConnection failed: %v", err)
	}
	offer := sigA.waitFor(t, event.SignalOffer)

	sigB := newCaptureSignaler()
	b := newTestManager(t, sigB)
	if err := b.HandleSignal("a", offer.data); err != nil {
		t.Fatalf("HandleSignal failed: %v", err)
	}
	sigB.waitFor(t, event.SignalAnswer)

	b.RemovePeer("a")
	if b.Has("a") {
		t.Fatal("entry survived RemovePeer")
	}
	b.RemovePeer("a") // idempotent

	// A stale envelope for the removed key starts over: fresh entry, fresh
	// answer, no lingering partial negotiation.
	if err := b.HandleSignal("a", offer.data); err != nil {
		t.Fatalf("HandleSignal after removal failed: %v", err)
	}
	sigB.waitFor(t, event.SignalAnswer)
	if !b.Has("a") {
		t.Error("stale signal did not create a fresh entry")
	}
}

// TestEnqueueNeverBlocks verifies a full mailbox for one key cannot stall the
// caller, which is the shared dispatch path serving every other key.
func TestEnqueueNeverBlocks(t *testing.T) {
	// No run goroutine: the mailbox only fills.
	e := newEntry(nil, "k")
	defer e.cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < inboxSize+10; i++ {
			e.enqueue(task{signal: event.SignalData{Type: event.SignalCandidate}})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("enqueue blocked on a full mailbox")
	}
}

// TestSetLocalStreamSwap verifies the second stream's tracks fully displace
// the first's on an existing entry.
func TestSetLocalStreamSwap(t *testing.T) {
	sig := newCaptureSignaler()
	m := newTestManager(t, sig)
	if err := m.CreateConnection("k", false); err != nil {
		t.Fatalf("CreateConnection failed: %v", err)
	}

	s1 := media.NewStream([]webrtc.TrackLocal{
		newLocalTrack(t, webrtc.MimeTypeVP8, "video-1", "cam1"),
		newLocalTrack(t, webrtc.MimeTypeOpus, "audio-1", "cam1"),
	}, nil)
	s2 := media.NewStream([]webrtc.TrackLocal{
		newLocalTrack(t, webrtc.MimeTypeVP8, "video-2", "screen"),
	}, nil)

	m.SetLocalStream(s1)
	m.SetLocalStream(s2)

	m.mu.Lock()
	e := m.entries["k"]
	m.mu.Unlock()

	e.mu.Lock()
	var ids []string
	for _, sender := range e.senders {
		ids = append(ids, sender.Track().ID())
	}
	e.mu.Unlock()

	if len(ids) != 1 || ids[0] != "video-2" {
		t.Errorf("outbound tracks = %v, want [video-2]", ids)
	}
}

// TestSetLocalStreamBeforeConnections verifies the cached handle is attached
// to entries created later.
func TestSetLocalStreamBeforeConnections(t *testing.T) {
	sig := newCaptureSignaler()
	m := newTestManager(t, sig)

	s := media.NewStream([]webrtc.TrackLocal{
		newLocalTrack(t, webrtc.MimeTypeVP8, "video-1", "cam1"),
	}, nil)
	m.SetLocalStream(s)

	if err := m.CreateConnection("k", false); err != nil {
		t.Fatalf("CreateConnection failed: %v", err)
	}

	m.mu.Lock()
	e := m.entries["k"]
	m.mu.Unlock()
	e.mu.Lock()
	n := len(e.senders)
	e.mu.Unlock()
	if n != 1 {
		t.Errorf("senders = %d, want 1", n)
	}
}

// TestDestroy verifies Destroy discards every entry and rejects further work.
func TestDestroy(t *testing.T) {
	sig := newCaptureSignaler()
	m, err := NewManager(Config{Signaler: sig})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	if err := m.CreateConnection("x", false); err != nil {
		t.Fatalf("CreateConnection failed: %v", err)
	}
	if err := m.CreateConnection("y", false); err != nil {
		t.Fatalf("CreateConnection failed: %v", err)
	}

	m.Destroy()
	if m.Has("x") || m.Has("y") {
		t.Error("entries survived Destroy")
	}
	if err := m.CreateConnection("z", false); err == nil {
		t.Error("CreateConnection after Destroy should fail")
	}
}

func newLocalTrack(t *testing.T, mimeType, id, streamID string) webrtc.TrackLocal {
	t.Helper()
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: mimeType}, id, streamID)
	if err != nil {
		t.Fatalf("NewTrackLocalStaticSample failed: %v", err)
	}
	return track
}

// TestEndToEndNegotiation wires two managers back-to-back through their
// signaling boundaries and walks the full scenario: offer out, lazy entry plus
// answer on the other side, candidates both ways, media flowing, inbound
// stream surfaced exactly once per side with the counterpart's key.
func TestEndToEndNegotiation(t *testing.T) {
	if testing.Short() {
		t.Skip("full ICE loopback, skipped in short mode")
	}

	type side struct {
		m       *Manager
		tracks  int32
		gotKey  chan string
		sampled *webrtc.TrackLocalStaticSample
	}

	build := func(self, other string, deliver func(string, event.SignalData) error) *side {
		s := &side{gotKey: make(chan string, 4)}
		var onTrack atomic.Int32
		m, err := NewManager(Config{
			Signaler: signalerFunc(deliver),
			OnRemoteStream: func(key string, _ *RemoteStream) {
				onTrack.Add(1)
				s.gotKey <- key
			},
		})
		if err != nil {
			t.Fatalf("NewManager(%s) failed: %v", self, err)
		}
		t.Cleanup(m.Destroy)
		s.m = m

		track, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video-"+self, "stream-"+self)
		if err != nil {
			t.Fatalf("track: %v", err)
		}
		s.sampled = track
		m.SetLocalStream(media.NewStream([]webrtc.TrackLocal{track}, nil))
		return s
	}

	var a, b *side
	a = build("a", "b", func(to string, d event.SignalData) error {
		return b.m.HandleSignal("a", d)
	})
	b = build("b", "a", func(to string, d event.SignalData) error {
		return a.m.HandleSignal("b", d)
	})

	if err := a.m.CreateConnection("b", true); err != nil {
		t.Fatalf("CreateConnection failed: %v", err)
	}

	// Feed samples so RTP actually flows once the transports connect.
	stop := make(chan struct{})
	defer close(stop)
	for _, s := range []*side{a, b} {
		go func(tr *webrtc.TrackLocalStaticSample) {
			ticker := time.NewTicker(50 * time.Millisecond)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					_ = tr.WriteSample(pionmedia.Sample{Data: []byte{0x10, 0x00, 0x00}, Duration: 50 * time.Millisecond})
				case <-stop:
					return
				}
			}
		}(s.sampled)
	}

	waitKey := func(name string, s *side, want string) {
		select {
		case key := <-s.gotKey:
			if key != want {
				t.Fatalf("%s: inbound stream tagged %q, want %q", name, key, want)
			}
		case <-time.After(30 * time.Second):
			t.Fatalf("%s: inbound stream never surfaced", name)
		}
	}
	waitKey("a", a, "b")
	waitKey("b", b, "a")

	// Exactly once per side.
	select {
	case key := <-a.gotKey:
		t.Fatalf("a: second inbound stream callback for %q", key)
	case <-time.After(500 * time.Millisecond):
	}
}

// signalerFunc adapts a function to the Signaler interface.
type signalerFunc func(to string, data event.SignalData) error

func (f signalerFunc) SendSignal(to string, data event.SignalData) error { return f(to, data) }
