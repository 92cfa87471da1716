// Package realtime is the push transport behind the dispatcher: a
// websocket hub with per-user session groups.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Hub tracks live websocket sessions. Sessions connected with a user_id
// belong to that user's group and additionally receive targeted alerts;
// anonymous sessions receive broadcasts only.
type Hub struct {
	mu       sync.Mutex
	sessions map[*websocket.Conn]int64
	upgrader websocket.Upgrader
	logger   zerolog.Logger
}

// NewHub constructs an empty session hub.
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		sessions: make(map[*websocket.Conn]int64),
		upgrader: websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		logger:   logger.With().Str("component", "realtime_hub").Logger(),
	}
}

// BroadcastToAll sends the payload to every live session. Write errors
// drop the offending session; the hand-off itself only fails when the
// payload cannot be encoded.
func (h *Hub) BroadcastToAll(ctx context.Context, payload any) error {
	msg, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal broadcast payload: %w", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.sessions {
		h.writeLocked(conn, msg)
	}
	return nil
}

// BroadcastToUser sends the payload to every session in one user's group.
// An offline user is not an error; the hand-off trivially succeeds.
func (h *Hub) BroadcastToUser(ctx context.Context, userID int64, payload any) error {
	msg, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal targeted payload: %w", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for conn, owner := range h.sessions {
		if owner == userID {
			h.writeLocked(conn, msg)
		}
	}
	return nil
}

// SessionCount returns the number of live sessions.
func (h *Hub) SessionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

func (h *Hub) writeLocked(conn *websocket.Conn, msg []byte) {
	if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
		h.logger.Debug().Err(err).Msg("session write failed; dropping session")
		conn.Close()
		delete(h.sessions, conn)
	}
}

// Handler upgrades incoming connections and registers them with the hub.
// A user_id query parameter joins the session to that user's group.
func (h *Hub) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var userID int64
		if raw := r.URL.Query().Get("user_id"); raw != "" {
			parsed, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				http.Error(w, "invalid user_id", http.StatusBadRequest)
				return
			}
			userID = parsed
		}

		conn, err := h.upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.logger.Warn().Err(err).Msg("websocket upgrade failed")
			return
		}

		h.mu.Lock()
		h.sessions[conn] = userID
		h.mu.Unlock()
		h.logger.Debug().Int64("user_id", userID).Msg("session joined")

		// Read loop keeps the connection alive and detects disconnects.
		go func() {
			defer func() {
				h.mu.Lock()
				delete(h.sessions, conn)
				h.mu.Unlock()
				conn.Close()
				h.logger.Debug().Int64("user_id", userID).Msg("session left")
			}()
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()
	}
}
