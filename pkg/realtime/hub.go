// Package realtime multicasts relay state changes to connected UI sessions,
// grouped in rooms keyed by channel id.
package realtime

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"agentrelay/pkg/logger"
	"agentrelay/pkg/telemetry"
)

const (
	EventMessageBroadcast = "messageBroadcast"
	EventMessageDeleted   = "messageDeleted"
	EventChannelCleared   = "channelCleared"
	EventChannelUpdated   = "channelUpdated"
)

// Broadcaster emits an event to every session currently in roomID. Delivery
// is best effort and unacknowledged.
type Broadcaster interface {
	Emit(roomID, event string, payload any) error
}

// Frame is the server to client envelope.
type Frame struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Nop discards every emit. Used when the socket listener is disabled.
type Nop struct{}

func (Nop) Emit(string, string, any) error { return nil }

type session struct {
	id   string
	send chan []byte
	// set once the hub dropped the session
	closed bool
}

type Hub struct {
	mu         sync.RWMutex
	rooms      map[string]map[*session]struct{}
	sessions   map[*session]map[string]struct{}
	sendBuffer int
	log        *slog.Logger
}

func NewHub(sendBuffer int, log *slog.Logger) *Hub {
	if sendBuffer <= 0 {
		sendBuffer = 64
	}
	return &Hub{
		rooms:      make(map[string]map[*session]struct{}),
		sessions:   make(map[*session]map[string]struct{}),
		sendBuffer: sendBuffer,
		log:        logger.Or(log),
	}
}

func (h *Hub) register(id string) *session {
	s := &session{id: id, send: make(chan []byte, h.sendBuffer)}
	h.mu.Lock()
	h.sessions[s] = make(map[string]struct{})
	h.mu.Unlock()
	telemetry.SocketsConnected.Inc()
	return s
}

func (h *Hub) unregister(s *session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	rooms, ok := h.sessions[s]
	if !ok {
		return
	}
	for room := range rooms {
		h.leaveLocked(s, room)
	}
	delete(h.sessions, s)
	if !s.closed {
		s.closed = true
		close(s.send)
	}
	telemetry.SocketsConnected.Dec()
}

func (h *Hub) Join(s *session, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.sessions[s]; !ok {
		return
	}
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[*session]struct{})
		h.rooms[room] = members
	}
	members[s] = struct{}{}
	h.sessions[s][room] = struct{}{}
}

func (h *Hub) Leave(s *session, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(s, room)
}

func (h *Hub) leaveLocked(s *session, room string) {
	if members, ok := h.rooms[room]; ok {
		delete(members, s)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	if rooms, ok := h.sessions[s]; ok {
		delete(rooms, room)
	}
}

// RoomSize returns the number of sessions in room.
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// Emit encodes the frame once and queues it on every member of roomID.
// Sessions whose queue is full miss the frame.
func (h *Hub) Emit(roomID, event string, payload any) error {
	data, err := json.Marshal(Frame{Event: event, Data: payload})
	if err != nil {
		return fmt.Errorf("encode %s frame: %w", event, err)
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.rooms[roomID] {
		if s.closed {
			continue
		}
		select {
		case s.send <- data:
		default:
			h.log.Warn("socket_frame_dropped", "session", s.id, "room", roomID, "event", event)
		}
	}
	telemetry.SocketEmits.WithLabelValues(event).Inc()
	return nil
}
