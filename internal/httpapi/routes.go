package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"collab-coordinator/internal/auth"
	"collab-coordinator/internal/hub"
	"collab-coordinator/internal/room"
	"collab-coordinator/internal/store"
	"collab-coordinator/internal/ws"
)

// Deps is everything the router hands to its handlers.
type Deps struct {
	Hub            *hub.Hub
	Coordinator    *room.Coordinator
	Store          store.Store
	Validator      *auth.Validator
	Log            *zap.Logger
	StaleThreshold time.Duration
}

func SetupRoutes(d Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", Healthz)
	r.Get("/ws", ws.Handler(d.Hub, d.Coordinator, d.Validator, d.Log))
	r.Get("/rooms/{roomID}/roster", RoomRoster(d.Store, d.StaleThreshold))
	return r
}
