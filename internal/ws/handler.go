// Package ws is the transport adapter: it authenticates and accepts
// websocket connections, decodes inbound frames, hands them to the room
// coordinator, and pumps coordinator-decided messages back out.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"collab-coordinator/internal/auth"
	"collab-coordinator/internal/hub"
	"collab-coordinator/internal/room"
	"collab-coordinator/internal/roster"
	"collab-coordinator/pkg/types"
)

const writeTimeout = 3 * time.Second

func Handler(h *hub.Hub, coord *room.Coordinator, validator *auth.Validator, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// The token gate runs before the upgrade: a rejected caller never
		// reaches the coordinator.
		subject, err := validator.Validate(r.URL.Query().Get("token"))
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}

		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		connID := uuid.NewString()
		log.Info("connection opened",
			zap.String("conn_id", connID),
			zap.String("subject", subject))

		out := make(chan types.ServerMessage, 8)
		h.Inbox() <- hub.Register{ConnID: connID, Outbox: out}
		defer func() {
			h.Inbox() <- hub.Unregister{ConnID: connID}

			// The request context is gone by now; give the disconnect its
			// own deadline so the roster cleanup still runs.
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := coord.Disconnect(ctx, connID); err != nil {
				log.Warn("disconnect cleanup failed", zap.String("conn_id", connID), zap.Error(err))
			}
			log.Info("connection closed", zap.String("conn_id", connID))
		}()

		// Writer goroutine
		writeCtx, writeCancel := context.WithCancel(r.Context())
		defer writeCancel()
		go func() {
			for msg := range out {
				payload, err := json.Marshal(msg)
				if err != nil {
					log.Error("marshal outbound message", zap.Error(err))
					continue
				}
				ctx, cancel := context.WithTimeout(writeCtx, writeTimeout)
				_ = conn.Write(ctx, websocket.MessageText, payload)
				cancel()
			}
		}()

		// Reader loop
		for {
			_, data, err := conn.Read(r.Context())
			if err != nil {
				// Clean close or dead peer either way; the deferred
				// disconnect handles the roster.
				return
			}

			var msg types.ClientMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				log.Debug("dropping malformed frame", zap.String("conn_id", connID), zap.Error(err))
				continue
			}

			dispatch(r.Context(), h, coord, log, connID, msg, data)
		}
	}
}

// dispatch routes one decoded frame. Events failing shape validation are
// dropped silently; coordinator errors are already logged there.
func dispatch(ctx context.Context, h *hub.Hub, coord *room.Coordinator, log *zap.Logger, connID string, msg types.ClientMessage, raw []byte) {
	switch msg.Event {
	case types.EventJoin:
		if msg.RoomID == "" || msg.CollaboratorID == "" {
			return
		}
		h.Inbox() <- hub.JoinRoom{ConnID: connID, RoomID: msg.RoomID}
		_ = coord.Join(ctx, connID, roster.Collaborator{
			ID:          msg.CollaboratorID,
			DisplayName: msg.DisplayName,
			AvatarRef:   msg.AvatarRef,
			RoomID:      msg.RoomID,
		})

	case types.EventLeave:
		if msg.RoomID == "" || msg.CollaboratorID == "" {
			return
		}
		_ = coord.Leave(ctx, connID, msg.RoomID, msg.CollaboratorID)
		h.Inbox() <- hub.LeaveRoom{ConnID: connID}

	case types.EventLock:
		if msg.RoomID == "" || msg.CollaboratorID == "" || msg.FieldID == "" {
			return
		}
		_ = coord.Lock(ctx, msg.RoomID, msg.CollaboratorID, msg.FieldID)

	case types.EventUnlock:
		if msg.RoomID == "" || msg.CollaboratorID == "" || msg.FieldID == "" {
			return
		}
		_ = coord.Unlock(ctx, msg.RoomID, msg.CollaboratorID, msg.FieldID, msg.Changes)

	case types.EventUnlockAll:
		if msg.RoomID == "" || msg.CollaboratorID == "" {
			return
		}
		_ = coord.UnlockAll(ctx, msg.RoomID, msg.CollaboratorID)

	case types.EventUpdateState:
		if msg.RoomID == "" {
			return
		}
		// The whole inbound frame is echoed room-wide untouched.
		_ = coord.UpdateState(ctx, msg.RoomID, json.RawMessage(raw))

	case types.EventHeartbeat:
		// Reserved: liveness rides on roster-touching events.

	default:
		log.Debug("dropping unknown event",
			zap.String("conn_id", connID),
			zap.String("event", msg.Event))
	}
}
