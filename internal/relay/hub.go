package relay

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/1ureka/1ureka.net.meet/internal/util"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub is the relay's server half: a room-keyed broadcast fan-out with no
// understanding of the frames it carries. Every frame received from one
// member is forwarded to every other member of the same room; the sender
// never hears its own broadcasts.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[*member]struct{}
}

type member struct {
	room string
	conn *websocket.Conn
	send chan []byte
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{rooms: make(map[string]map[*member]struct{})}
}

// Handler returns the HTTP handler exposing the hub at /ws/{room}.
func (h *Hub) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws/{room}", h.handleWS)
	return mux
}

func (h *Hub) handleWS(w http.ResponseWriter, r *http.Request) {
	room := r.PathValue("room")
	if room == "" {
		http.Error(w, "room code required", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		util.LogDebug("relay upgrade failed: %v", err)
		return
	}

	m := &member{room: room, conn: conn, send: make(chan []byte, sendBufferSize)}
	h.add(m)
	util.LogDebug("relay member joined room %s (%d members)", room, h.RoomSize(room))

	go m.writePump()
	go h.readPump(m)
}

func (h *Hub) add(m *member) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.rooms[m.room]
	if !ok {
		members = make(map[*member]struct{})
		h.rooms[m.room] = members
	}
	members[m] = struct{}{}
}

func (h *Hub) remove(m *member) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.rooms[m.room]
	if !ok {
		return
	}
	delete(members, m)
	if len(members) == 0 {
		delete(h.rooms, m.room)
	}
}

// RoomSize reports the current member count of a room. Used for diagnostics.
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// broadcast forwards raw frame bytes to every member of the room except from.
// A member whose buffer is full loses the frame: the bus guarantees nothing,
// and a stalled subscriber must not stall the room.
func (h *Hub) broadcast(room string, from *member, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for m := range h.rooms[room] {
		if m == from {
			continue
		}
		select {
		case m.send <- data:
		default:
			util.LogWarning("relay member in room %s is stalled, dropped frame", room)
		}
	}
}

func (h *Hub) readPump(m *member) {
	defer func() {
		h.remove(m)
		close(m.send)
		m.conn.Close()
		util.LogDebug("relay member left room %s (%d members)", m.room, h.RoomSize(m.room))
	}()

	m.conn.SetReadDeadline(time.Now().Add(pongWait))
	m.conn.SetPongHandler(func(string) error {
		return m.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := m.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				util.LogDebug("relay read error: %v", err)
			}
			return
		}
		h.broadcast(m.room, m, data)
	}
}

func (m *member) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		m.conn.Close()
	}()

	for {
		select {
		case data, ok := <-m.send:
			m.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				m.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := m.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			m.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := m.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
