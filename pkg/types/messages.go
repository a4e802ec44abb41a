package types

import (
	"encoding/json"

	"collab-coordinator/internal/roster"
)

// Event names shared by inbound messages and the room-wide broadcasts they
// produce. Every broadcast is named after the inbound event that caused it.
const (
	EventJoin        = "join"
	EventLeave       = "leave"
	EventLock        = "lock"
	EventUnlock      = "unlock"
	EventUnlockAll   = "unlockAll"
	EventUpdateState = "updateState"

	// EventHeartbeat is reserved: liveness rides on the transport keep-alive
	// and on roster-touching events, there is no dedicated handler.
	EventHeartbeat = "heartbeat"

	// EventInactiveNotice is sent only to the individual connection whose
	// collaborator was partitioned out as stale, never room-wide.
	EventInactiveNotice = "inactiveNotice"
)

// ClientMessage is one inbound websocket frame.
type ClientMessage struct {
	Event          string          `json:"event"`
	RoomID         string          `json:"room_id,omitempty"`
	CollaboratorID string          `json:"collaborator_id,omitempty"`
	DisplayName    string          `json:"display_name,omitempty"`
	AvatarRef      string          `json:"avatar_ref,omitempty"`
	FieldID        string          `json:"field_id,omitempty"`
	Changes        json.RawMessage `json:"changes,omitempty"`
}

// ServerMessage is one outbound websocket frame. Roster carries the active
// collaborator list for roster broadcasts; Payload carries the echoed
// updateState body or the evicted collaborator on an inactive notice.
type ServerMessage struct {
	Event   string          `json:"event"`
	Roster  roster.Roster   `json:"roster,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}
