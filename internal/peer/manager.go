// Package peer owns one bidirectional real-time connection per remote
// participant: it drives the offer/answer/candidate exchange through the
// signaling boundary, reconciles local media-track changes into every active
// connection, and surfaces inbound remote media to the presentation layer.
package peer

import (
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/1ureka.net.meet/internal/event"
	"github.com/1ureka/1ureka.net.meet/internal/media"
	"github.com/1ureka/1ureka.net.meet/internal/util"
)

// ErrDestroyed is returned by operations on a manager after Destroy.
var ErrDestroyed = errors.New("peer: manager destroyed")

// Signaler is the only surface the peer package needs from the signaling
// layer: one required send operation, addressed by participant key.
type Signaler interface {
	SendSignal(to string, data event.SignalData) error
}

// Config wires a Manager to its collaborators. Signaler is required; the
// observers are optional.
type Config struct {
	Signaler Signaler

	// OnRemoteStream fires exactly once per entry when the first inbound
	// media stream arrives, tagged with the remote participant's key.
	OnRemoteStream func(key string, s *RemoteStream)

	// OnPeerClosed is the termination observer: negotiation failures and
	// terminal connection states land here. The caller decides whether to
	// evict or recreate the peer; the manager never retries on its own.
	OnPeerClosed func(key string, err error)

	// EngineSetup registers local capture codecs on the media engine.
	// Nil applies the default codec set.
	EngineSetup func(*webrtc.MediaEngine) error

	// STUNServers overrides the default public STUN set.
	STUNServers []string

	// Stats, when non-nil, receives session counters.
	Stats *util.Stats
}

// Manager tracks at most one connection entry per participant key.
// All entries share one webrtc.API; the underlying connections are owned
// exclusively by the manager.
type Manager struct {
	cfg Config
	api *webrtc.API

	mu        sync.Mutex
	entries   map[string]*entry
	local     *media.Stream
	destroyed bool
}

// NewManager creates a Manager. No connections exist until CreateConnection
// or HandleSignal.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Signaler == nil {
		return nil, fmt.Errorf("peer: Config.Signaler is required")
	}
	api, err := newAPI(cfg.EngineSetup)
	if err != nil {
		return nil, fmt.Errorf("peer: %w", err)
	}
	return &Manager{
		cfg:     cfg,
		api:     api,
		entries: make(map[string]*entry),
	}, nil
}

// SetLocalStream replaces the outbound media source for every existing entry:
// all currently-attached outbound tracks are removed, then every track of the
// new stream is added. Each entry is updated before the call returns; the
// renegotiation each update implies is fire-and-forget. Safe to call before
// any connection exists; the handle is cached for future entries. A nil
// stream drops local media (receive-only).
func (m *Manager) SetLocalStream(s *media.Stream) {
	m.mu.Lock()
	m.local = s
	snapshot := make([]*entry, 0, len(m.entries))
	for _, e := range m.entries {
		snapshot = append(snapshot, e)
	}
	m.mu.Unlock()

	for _, e := range snapshot {
		e.replaceTracks(s)
	}
}

// CreateConnection establishes the local half of a connection to key.
// A second call for an existing key is a no-op. The entry is registered
// before any fallible step, so RemovePeer is always a correct recovery
// action. When initiator is true, offer negotiation begins immediately.
func (m *Manager) CreateConnection(key string, initiator bool) error {
	e, created, err := m.getOrCreateEntry(key)
	if err != nil {
		return err
	}
	if !created {
		return nil
	}
	if initiator {
		e.enqueue(task{negotiate: true})
	}
	return nil
}

// HandleSignal applies one inbound envelope from key. An envelope for an
// unknown key implicitly creates a non-initiator entry first, since an inbound
// offer is itself the trigger to establish the local half. Envelopes for the
// same key apply in arrival order; distinct keys never block each other.
func (m *Manager) HandleSignal(from string, data event.SignalData) error {
	e, _, err := m.getOrCreateEntry(from)
	if err != nil {
		return err
	}
	if m.cfg.Stats != nil {
		m.cfg.Stats.AddSignalRecv()
	}
	e.enqueue(task{signal: data})
	return nil
}

// RemovePeer terminates and discards the entry for key, releasing all
// underlying transport resources. No-op when no entry exists.
func (m *Manager) RemovePeer(key string) {
	m.mu.Lock()
	e, ok := m.entries[key]
	if ok {
		delete(m.entries, key)
	}
	m.mu.Unlock()

	if ok {
		e.close()
		if m.cfg.Stats != nil {
			m.cfg.Stats.RemovePeer()
		}
		util.LogDebug("peer %s removed", key)
	}
}

// Destroy terminates every entry. The manager accepts no further work.
func (m *Manager) Destroy() {
	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		return
	}
	m.destroyed = true
	entries := m.entries
	m.entries = make(map[string]*entry)
	m.mu.Unlock()

	for key, e := range entries {
		e.close()
		if m.cfg.Stats != nil {
			m.cfg.Stats.RemovePeer()
		}
		util.LogDebug("peer %s removed", key)
	}
}

// Has reports whether an entry exists for key.
func (m *Manager) Has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.entries[key]
	return ok
}

// getOrCreateEntry returns the entry for key, allocating and initializing a
// new one when absent. Registration happens under the lock before the
// fallible connection setup, so concurrent callers for the same key converge
// on one entry; whichever side registers first determines the initiator
// role.
func (m *Manager) getOrCreateEntry(key string) (e *entry, created bool, err error) {
	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		return nil, false, ErrDestroyed
	}
	if existing, ok := m.entries[key]; ok {
		m.mu.Unlock()
		return existing, false, nil
	}
	e = newEntry(m, key)
	m.entries[key] = e
	local := m.local
	m.mu.Unlock()

	if err := e.init(local); err != nil {
		// The entry stays registered: the caller recovers via RemovePeer.
		e.fail(err)
		return nil, true, fmt.Errorf("peer: create connection for %s: %w", key, err)
	}
	if m.cfg.Stats != nil {
		m.cfg.Stats.AddPeer()
	}
	util.LogDebug("peer %s created", key)
	return e, true, nil
}
