// Package room implements the presence coordinator: it is the single funnel
// turning relay broadcasts into typed room events, keeps the authoritative
// roster of remote participants, and drives the peer manager's connection
// lifecycle from presence changes.
package room

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/1ureka/1ureka.net.meet/internal/chat"
	"github.com/1ureka/1ureka.net.meet/internal/event"
	"github.com/1ureka/1ureka.net.meet/internal/relay"
	"github.com/1ureka/1ureka.net.meet/internal/util"
)

// Bus is the slice of the relay client the coordinator needs. *relay.Client
// satisfies it.
type Bus interface {
	On(eventName string, fn func(json.RawMessage))
	OnState(fn func(relay.State))
	Publish(eventName string, payload any) error
	Close() error
}

// PeerService is the connection-lifecycle surface of the peer manager.
type PeerService interface {
	CreateConnection(key string, initiator bool) error
	HandleSignal(from string, data event.SignalData) error
	RemovePeer(key string)
	Destroy()
}

// RosterChange describes one roster diff delivered to observers.
type RosterChange int

const (
	RosterAdd RosterChange = iota
	RosterRemove
	RosterUpdate
)

// Config wires an explicitly constructed coordinator. Bus and Self.Key are
// required. Peers may instead be bound later with SetPeerService, since the
// peer manager needs the coordinator as its signaling boundary; bind it
// before AnnounceJoin.
type Config struct {
	Bus   Bus
	Peers PeerService
	Chat  *chat.Log
	Self  Participant
}

// Coordinator owns room membership for one session.
type Coordinator struct {
	bus  Bus
	chat *chat.Log
	self Participant

	mu        sync.Mutex
	peers     PeerService
	roster    map[string]*Participant
	observers []func(RosterChange, Participant)
	onState   func(relay.State)
	left      bool
}

// NewCoordinator builds the coordinator and registers its event handlers on
// the bus. Call AnnounceJoin once the caller is ready to be seen.
func NewCoordinator(cfg Config) (*Coordinator, error) {
	if cfg.Bus == nil {
		return nil, fmt.Errorf("room: bus is required")
	}
	if cfg.Self.Key == "" {
		return nil, fmt.Errorf("room: participant key is required")
	}

	cfg.Self.IsLocal = true
	c := &Coordinator{
		bus:    cfg.Bus,
		chat:   cfg.Chat,
		self:   cfg.Self,
		peers:  cfg.Peers,
		roster: make(map[string]*Participant),
	}

	for _, kind := range []event.Kind{
		event.KindJoin, event.KindLeave, event.KindSignal, event.KindChat, event.KindStatus,
	} {
		kind := kind
		c.bus.On(string(kind), func(payload json.RawMessage) {
			c.handleFrame(kind, payload)
		})
	}
	c.bus.OnState(func(s relay.State) {
		c.mu.Lock()
		fn := c.onState
		c.mu.Unlock()
		if fn != nil {
			fn(s)
		}
	})

	return c, nil
}

// SetPeerService binds the peer manager. Must happen before AnnounceJoin;
// events arriving while unbound drop their connection effects.
func (c *Coordinator) SetPeerService(p PeerService) {
	c.mu.Lock()
	c.peers = p
	c.mu.Unlock()
}

func (c *Coordinator) peerService() PeerService {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peers
}

// Self returns the local participant record.
func (c *Coordinator) Self() Participant {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.self
}

// Roster returns a snapshot of all known remote participants.
func (c *Coordinator) Roster() []Participant {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Participant, 0, len(c.roster))
	for _, p := range c.roster {
		out = append(out, *p)
	}
	return out
}

// OnRoster registers an observer for roster diffs.
func (c *Coordinator) OnRoster(fn func(RosterChange, Participant)) {
	c.mu.Lock()
	c.observers = append(c.observers, fn)
	c.mu.Unlock()
}

// OnState registers the connectivity observer. Peer connections survive relay
// drops; this only reflects whether new negotiations can complete.
func (c *Coordinator) OnState(fn func(relay.State)) {
	c.mu.Lock()
	c.onState = fn
	c.mu.Unlock()
}

// AnnounceJoin broadcasts the local participant's presence.
func (c *Coordinator) AnnounceJoin() error {
	return c.publish(event.Join{ID: c.self.Key, Name: c.self.Name, Role: c.self.Role})
}

// Leave broadcasts departure, tears down every peer connection and closes the
// relay subscription. The coordinator is unusable afterwards.
func (c *Coordinator) Leave() error {
	c.mu.Lock()
	if c.left {
		c.mu.Unlock()
		return nil
	}
	c.left = true
	c.mu.Unlock()

	err := c.publish(event.Leave{ID: c.self.Key})
	if peers := c.peerService(); peers != nil {
		peers.Destroy()
	}
	if cerr := c.bus.Close(); err == nil {
		err = cerr
	}
	return err
}

// SendChat appends the message locally and broadcasts it.
func (c *Coordinator) SendChat(content string) error {
	msg := chat.NewMessage(c.self.Key, c.self.Name, content)
	if c.chat != nil {
		c.chat.Append(msg)
	}
	return c.publish(event.Chat{
		ID: msg.ID, SenderID: msg.SenderID, SenderName: msg.SenderName, Content: msg.Content,
	})
}

// SetAudioEnabled updates the local flag and broadcasts the change.
func (c *Coordinator) SetAudioEnabled(on bool) error {
	c.mu.Lock()
	c.self.AudioEnabled = on
	c.mu.Unlock()
	return c.publish(event.Status{ID: c.self.Key, AudioEnabled: event.Bool(on)})
}

// SetVideoEnabled updates the local flag and broadcasts the change.
func (c *Coordinator) SetVideoEnabled(on bool) error {
	c.mu.Lock()
	c.self.VideoEnabled = on
	c.mu.Unlock()
	return c.publish(event.Status{ID: c.self.Key, VideoEnabled: event.Bool(on)})
}

// SetHandRaised updates the local flag and broadcasts the change.
func (c *Coordinator) SetHandRaised(up bool) error {
	c.mu.Lock()
	c.self.HandRaised = up
	c.mu.Unlock()
	return c.publish(event.Status{ID: c.self.Key, HandRaised: event.Bool(up)})
}

// SendSignal forwards one negotiation envelope through the relay. This is the
// peer manager's signaling boundary.
func (c *Coordinator) SendSignal(to string, data event.SignalData) error {
	return c.publish(event.Signal{From: c.self.Key, To: to, Data: data})
}

func (c *Coordinator) publish(ev event.Event) error {
	kind, payload, err := event.Marshal(ev)
	if err != nil {
		return err
	}
	return c.bus.Publish(string(kind), json.RawMessage(payload))
}

// handleFrame decodes one inbound broadcast and applies its fixed effect.
func (c *Coordinator) handleFrame(kind event.Kind, payload json.RawMessage) {
	ev, err := event.Decode(kind, payload)
	if err != nil {
		util.LogDebug("dropping malformed %s event: %v", kind, err)
		return
	}

	switch ev := ev.(type) {
	case event.Join:
		c.handleJoin(ev)
	case event.Leave:
		c.handleLeave(ev)
	case event.Signal:
		c.handleSignalEvent(ev)
	case event.Chat:
		c.handleChat(ev)
	case event.Status:
		c.handleStatus(ev)
	}
}

func (c *Coordinator) handleJoin(ev event.Join) {
	if ev.ID == c.self.Key {
		return
	}

	c.mu.Lock()
	if _, known := c.roster[ev.ID]; known {
		c.mu.Unlock()
		util.LogDebug("duplicate join for %s, ignored", ev.ID)
		return
	}
	p := &Participant{
		Key: ev.ID, Name: ev.Name, Role: ev.Role,
		AudioEnabled: true, VideoEnabled: true,
	}
	c.roster[ev.ID] = p
	c.mu.Unlock()

	util.LogInfo("%s joined the room", ev.Name)
	c.notify(RosterAdd, *p)

	// Newcomers only know who announces back.
	if err := c.AnnounceJoin(); err != nil {
		util.LogDebug("join re-announce failed: %v", err)
	}

	// Exactly one side may initiate: both members see each other's join
	// (announce plus re-announce), and two simultaneous offers kill the
	// connection on both ends. The lexically smaller key offers; the other
	// side builds its entry lazily when that offer arrives.
	if c.self.Key >= ev.ID {
		return
	}
	if peers := c.peerService(); peers != nil {
		if err := peers.CreateConnection(ev.ID, true); err != nil {
			util.LogWarning("connection setup with %s failed: %v", ev.Name, err)
		}
	}
}

func (c *Coordinator) handleLeave(ev event.Leave) {
	c.mu.Lock()
	p, known := c.roster[ev.ID]
	if known {
		delete(c.roster, ev.ID)
	}
	c.mu.Unlock()
	if !known {
		return
	}

	util.LogInfo("%s left the room", p.Name)
	if peers := c.peerService(); peers != nil {
		peers.RemovePeer(ev.ID)
	}
	c.notify(RosterRemove, *p)
}

func (c *Coordinator) handleSignalEvent(ev event.Signal) {
	if ev.To != c.self.Key {
		return
	}
	peers := c.peerService()
	if peers == nil {
		return
	}
	if err := peers.HandleSignal(ev.From, ev.Data); err != nil {
		util.LogDebug("signal from %s not applied: %v", ev.From, err)
	}
}

func (c *Coordinator) handleChat(ev event.Chat) {
	if c.chat == nil {
		return
	}
	c.chat.Append(chat.Message{
		ID: ev.ID, SenderID: ev.SenderID, SenderName: ev.SenderName, Content: ev.Content,
	})
}

func (c *Coordinator) handleStatus(ev event.Status) {
	c.mu.Lock()
	p, known := c.roster[ev.ID]
	if !known {
		c.mu.Unlock()
		util.LogDebug("status update for unknown participant %s, ignored", ev.ID)
		return
	}
	if ev.AudioEnabled != nil {
		p.AudioEnabled = *ev.AudioEnabled
	}
	if ev.VideoEnabled != nil {
		p.VideoEnabled = *ev.VideoEnabled
	}
	if ev.HandRaised != nil {
		p.HandRaised = *ev.HandRaised
	}
	snapshot := *p
	c.mu.Unlock()

	c.notify(RosterUpdate, snapshot)
}

func (c *Coordinator) notify(change RosterChange, p Participant) {
	c.mu.Lock()
	observers := make([]func(RosterChange, Participant), len(c.observers))
	copy(observers, c.observers)
	c.mu.Unlock()

	for _, fn := range observers {
		fn(change, p)
	}
}
