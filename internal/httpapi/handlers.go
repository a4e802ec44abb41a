package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"collab-coordinator/internal/roster"
	"collab-coordinator/internal/store"
)

// RoomRoster returns the currently active roster for a room: the persisted
// list minus anyone past the staleness threshold. This is a read-only view;
// stale entries are not evicted or notified here, the next room event does
// that.
func RoomRoster(st store.Store, threshold time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomID := chi.URLParam(r, "roomID")

		var ro roster.Roster
		if err := st.GetObject(r.Context(), store.RosterKey(roomID), &ro); err != nil && !errors.Is(err, store.ErrNotFound) {
			http.Error(w, "failed to load roster", http.StatusInternalServerError)
			return
		}

		active, _ := roster.PartitionStale(ro, time.Now(), threshold)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(active)
	}
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}
