package roster

import (
	"encoding/json"
	"time"
)

// DefaultStaleThreshold is how long a collaborator may stay silent before
// being partitioned out as stale.
const DefaultStaleThreshold = 5 * time.Minute

// FieldLock is an exclusive claim on one field within a room. A released
// lock stays in the collection with Locked=false, carrying the changes made
// while it was held, until the next prune pass removes it.
type FieldLock struct {
	FieldID string          `json:"field_id"`
	Changes json.RawMessage `json:"changes,omitempty"`
	Locked  bool            `json:"locked"`
}

// Collaborator is one connected party inside one room.
type Collaborator struct {
	ID              string      `json:"id"`
	ConnectionID    string      `json:"connection_id"`
	DisplayName     string      `json:"display_name"`
	AvatarRef       string      `json:"avatar_ref,omitempty"`
	RoomID          string      `json:"room_id"`
	LockedFields    []FieldLock `json:"locked_fields"`
	LastHeartbeatAt time.Time   `json:"last_heartbeat_at"`
}

// HoldsLock reports whether the collaborator currently holds fieldID locked.
func (c Collaborator) HoldsLock(fieldID string) bool {
	for _, fl := range c.LockedFields {
		if fl.FieldID == fieldID && fl.Locked {
			return true
		}
	}
	return false
}

// Roster is the full collaborator list for one room. It is the unit of
// storage: the whole list serializes as one value under the room's key.
type Roster []Collaborator

func (r Roster) indexOf(collaboratorID string) int {
	for i, c := range r {
		if c.ID == collaboratorID {
			return i
		}
	}
	return -1
}

// Stale reports whether the collaborator's last liveness signal is at least
// threshold old at instant now.
func Stale(c Collaborator, now time.Time, threshold time.Duration) bool {
	return now.Sub(c.LastHeartbeatAt) >= threshold
}

// PartitionStale splits the roster into active and stale collaborators.
// Every entry lands in exactly one of the two results. Stale entries are
// returned separately so the caller can notify them directly before they
// drop out of the roster.
func PartitionStale(r Roster, now time.Time, threshold time.Duration) (active, stale Roster) {
	active = make(Roster, 0, len(r))
	for _, c := range r {
		if Stale(c, now, threshold) {
			stale = append(stale, c)
		} else {
			active = append(active, c)
		}
	}
	return active, stale
}

// Join upserts a collaborator. An existing entry with the same id keeps its
// locks but takes the new connection and presentation data (reconnect
// semantics); otherwise a fresh entry with no locks is appended. Either way
// the heartbeat refreshes.
func Join(r Roster, c Collaborator, now time.Time) Roster {
	if i := r.indexOf(c.ID); i != -1 {
		r[i].ConnectionID = c.ConnectionID
		r[i].DisplayName = c.DisplayName
		r[i].AvatarRef = c.AvatarRef
		r[i].RoomID = c.RoomID
		r[i].LastHeartbeatAt = now
		return r
	}
	c.LockedFields = []FieldLock{}
	c.LastHeartbeatAt = now
	return append(r, c)
}

// Leave removes the first entry matching collaboratorID. An unknown id
// leaves the roster unchanged.
func Leave(r Roster, collaboratorID string) Roster {
	i := r.indexOf(collaboratorID)
	if i == -1 {
		return r
	}
	return append(r[:i], r[i+1:]...)
}

// RemoveByConnection removes the entry owning connectionID, returning the
// resulting roster and whether anything was removed.
func RemoveByConnection(r Roster, connectionID string) (Roster, bool) {
	for i, c := range r {
		if c.ConnectionID == connectionID {
			return append(r[:i], r[i+1:]...), true
		}
	}
	return r, false
}

// AcquireLock grants collaboratorID an exclusive lock on fieldID. The grant
// is a no-op if any collaborator in the roster already holds the field
// locked. An absent requester drops the event entirely, without a heartbeat
// refresh.
func AcquireLock(r Roster, collaboratorID, fieldID string, now time.Time) Roster {
	i := r.indexOf(collaboratorID)
	if i == -1 {
		return r
	}
	r[i].LastHeartbeatAt = now
	if lockHeld(r, fieldID) {
		return r
	}
	r[i].LockedFields = append(r[i].LockedFields, FieldLock{
		FieldID: fieldID,
		Locked:  true,
	})
	return r
}

func lockHeld(r Roster, fieldID string) bool {
	for _, c := range r {
		if c.HoldsLock(fieldID) {
			return true
		}
	}
	return false
}

// ReleaseLock releases collaboratorID's lock on fieldID, attaching changes
// as the lock's pending payload. Already-released lock records are pruned
// first, so a release leaves at most one unlocked record behind for the
// next pass to collect. The heartbeat refreshes whenever the requester
// exists, whether or not the field matched, which makes the release
// idempotent.
func ReleaseLock(r Roster, collaboratorID, fieldID string, changes json.RawMessage, now time.Time) Roster {
	i := r.indexOf(collaboratorID)
	if i == -1 {
		return r
	}
	r[i].LastHeartbeatAt = now

	kept := r[i].LockedFields[:0]
	for _, fl := range r[i].LockedFields {
		if fl.Locked {
			kept = append(kept, fl)
		}
	}
	r[i].LockedFields = kept

	for j, fl := range r[i].LockedFields {
		if fl.FieldID == fieldID {
			r[i].LockedFields[j].Changes = changes
			r[i].LockedFields[j].Locked = false
			break
		}
	}
	return r
}

// ReleaseAllLocks clears the collaborator's entire lock set. Pending
// changes on released records are discarded, this is a hard reset.
func ReleaseAllLocks(r Roster, collaboratorID string, now time.Time) Roster {
	i := r.indexOf(collaboratorID)
	if i == -1 {
		return r
	}
	r[i].LockedFields = []FieldLock{}
	r[i].LastHeartbeatAt = now
	return r
}
