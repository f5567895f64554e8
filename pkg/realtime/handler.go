package realtime

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"agentrelay/pkg/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxClientFrame = 4096
)

// ClientFrame is what a UI session sends: join or leave a room.
type ClientFrame struct {
	Type   string `json:"type"`
	RoomID string `json:"roomId"`
}

func makeUpgrader(allowedOrigins []string) websocket.Upgrader {
	allowAll := len(allowedOrigins) == 0 || (len(allowedOrigins) == 1 && allowedOrigins[0] == "*")
	originSet := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		originSet[o] = true
	}
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if allowAll {
				return true
			}
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			return originSet[origin]
		},
	}
}

// Handler upgrades UI connections and attaches them to the hub.
type Handler struct {
	hub      *Hub
	upgrader websocket.Upgrader
	log      *slog.Logger
}

func NewHandler(hub *Hub, allowedOrigins []string, log *slog.Logger) *Handler {
	return &Handler{hub: hub, upgrader: makeUpgrader(allowedOrigins), log: logger.Or(log)}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("socket_upgrade_failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	s := h.hub.register(uuid.NewString())
	h.log.Info("socket_connected", "session", s.id, "remote", r.RemoteAddr)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		h.writePump(conn, s)
	}()

	h.readPump(conn, s)
	h.hub.unregister(s)
	wg.Wait()
	_ = conn.Close()
	h.log.Info("socket_disconnected", "session", s.id)
}

func (h *Handler) readPump(conn *websocket.Conn, s *session) {
	conn.SetReadLimit(maxClientFrame)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			h.log.Debug("socket_read_error", "session", s.id, "error", err)
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		var f ClientFrame
		if err := json.Unmarshal(msg, &f); err != nil || f.RoomID == "" {
			h.log.Warn("socket_invalid_frame", "session", s.id)
			continue
		}
		switch f.Type {
		case "join":
			h.hub.Join(s, f.RoomID)
			h.log.Debug("socket_joined", "session", s.id, "room", f.RoomID)
		case "leave":
			h.hub.Leave(s, f.RoomID)
		default:
			h.log.Warn("socket_unknown_frame", "session", s.id, "type", f.Type)
		}
	}
}

// writePump is the only writer of conn.
func (h *Handler) writePump(conn *websocket.Conn, s *session) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case data, ok := <-s.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.log.Debug("socket_write_error", "session", s.id, "error", err)
				// unblock the reader
				_ = conn.Close()
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = conn.Close()
				return
			}
		}
	}
}
