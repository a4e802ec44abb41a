// Package store provides typed access to the shared, expiring key/value
// store that holds each room's serialized roster and the reverse index from
// connection id to room id. Every write refreshes the entry's fixed TTL;
// entries for silent rooms and dead connections simply expire.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key is absent (or expired).
var ErrNotFound = errors.New("store: key not found")

// EntryTTL is the retention window applied to every entry, refreshed on
// each write. Five days, matching the shared store's retention policy.
const EntryTTL = 5 * 24 * time.Hour

// Store is the expiring key/value contract the coordinator depends on.
// Implementations must be safe for concurrent use.
type Store interface {
	// Set stores a string value under key, applying EntryTTL.
	Set(ctx context.Context, key, value string) error

	// Get retrieves the string value for key, or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// SetObject stores v serialized as JSON under key, applying EntryTTL.
	SetObject(ctx context.Context, key string, v any) error

	// GetObject deserializes the value for key into out, or ErrNotFound.
	GetObject(ctx context.Context, key string, out any) error
}

// RosterKey is the store key holding the serialized roster for a room.
func RosterKey(roomID string) string { return "room:" + roomID }

// ConnKey is the store key mapping a live connection back to its room.
func ConnKey(connectionID string) string { return "conn:" + connectionID }
