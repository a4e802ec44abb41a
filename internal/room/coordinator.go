// Package room orchestrates one inbound collaboration event end-to-end:
// load the room's roster from the store, evict stale collaborators, apply
// the roster transition, persist, and decide what gets broadcast to whom.
// Delivery itself belongs to the transport layer behind the Notifier
// interface.
package room

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"collab-coordinator/internal/roster"
	"collab-coordinator/internal/store"
	"collab-coordinator/pkg/types"
)

// Notifier is the outbound side of the transport layer. Broadcast reaches
// every connection currently joined to the room; Send targets a single
// connection.
type Notifier interface {
	Broadcast(roomID string, msg types.ServerMessage)
	Send(connectionID string, msg types.ServerMessage)
}

// Coordinator owns the read-modify-write cycle for room rosters. Events for
// the same room are serialized on a per-room mutex; a store failure
// mid-event abandons the transition with nothing broadcast.
type Coordinator struct {
	store     store.Store
	notifier  Notifier
	log       *zap.Logger
	threshold time.Duration
	locks     *keyLocks

	now func() time.Time // stubbed in tests
}

// New builds a Coordinator. A non-positive threshold falls back to the
// default five-minute staleness window.
func New(st store.Store, n Notifier, log *zap.Logger, threshold time.Duration) *Coordinator {
	if threshold <= 0 {
		threshold = roster.DefaultStaleThreshold
	}
	return &Coordinator{
		store:     st,
		notifier:  n,
		log:       log,
		threshold: threshold,
		locks:     newKeyLocks(),
		now:       time.Now,
	}
}

// Join attaches a connection to a room and upserts the collaborator's
// roster entry, then broadcasts the updated roster room-wide.
func (c *Coordinator) Join(ctx context.Context, connectionID string, collab roster.Collaborator) error {
	roomID := collab.RoomID
	unlock := c.lockRoom(roomID)
	defer unlock()

	active, err := c.loadActive(ctx, roomID)
	if err != nil {
		return c.dropped(types.EventJoin, roomID, err)
	}

	collab.ConnectionID = connectionID
	next := roster.Join(active, collab, c.now())

	if err := c.persist(ctx, roomID, next); err != nil {
		return c.dropped(types.EventJoin, roomID, err)
	}
	if err := c.store.Set(ctx, store.ConnKey(connectionID), roomID); err != nil {
		return c.dropped(types.EventJoin, roomID, err)
	}

	c.log.Info("collaborator joined room",
		zap.String("room_id", roomID),
		zap.String("collaborator_id", collab.ID),
		zap.String("conn_id", connectionID))
	c.notifier.Broadcast(roomID, types.ServerMessage{Event: types.EventJoin, Roster: next})
	return nil
}

// Leave detaches a connection and removes the collaborator's roster entry.
// Leaving a room one never joined changes nothing but still refreshes the
// stored roster's expiry.
func (c *Coordinator) Leave(ctx context.Context, connectionID, roomID, collaboratorID string) error {
	unlock := c.lockRoom(roomID)
	defer unlock()

	active, err := c.loadActive(ctx, roomID)
	if err != nil {
		return c.dropped(types.EventLeave, roomID, err)
	}

	next := roster.Leave(active, collaboratorID)

	if err := c.persist(ctx, roomID, next); err != nil {
		return c.dropped(types.EventLeave, roomID, err)
	}
	if err := c.store.Delete(ctx, store.ConnKey(connectionID)); err != nil {
		return c.dropped(types.EventLeave, roomID, err)
	}

	c.log.Info("collaborator left room",
		zap.String("room_id", roomID),
		zap.String("collaborator_id", collaboratorID))
	c.notifier.Broadcast(roomID, types.ServerMessage{Event: types.EventLeave, Roster: next})
	return nil
}

// Lock grants an exclusive field lock if the field is free anywhere in the
// room. A held field makes the grant a silent no-op; either way the updated
// roster goes out room-wide.
func (c *Coordinator) Lock(ctx context.Context, roomID, collaboratorID, fieldID string) error {
	return c.applyAndBroadcast(ctx, types.EventLock, roomID, func(r roster.Roster) roster.Roster {
		return roster.AcquireLock(r, collaboratorID, fieldID, c.now())
	})
}

// Unlock releases one field lock, attaching the changes made while it was
// held. Releasing an already-released or unknown field is a no-op beyond
// the heartbeat refresh.
func (c *Coordinator) Unlock(ctx context.Context, roomID, collaboratorID, fieldID string, changes json.RawMessage) error {
	return c.applyAndBroadcast(ctx, types.EventUnlock, roomID, func(r roster.Roster) roster.Roster {
		return roster.ReleaseLock(r, collaboratorID, fieldID, changes, c.now())
	})
}

// UnlockAll clears every field lock the collaborator holds in one pass.
func (c *Coordinator) UnlockAll(ctx context.Context, roomID, collaboratorID string) error {
	return c.applyAndBroadcast(ctx, types.EventUnlockAll, roomID, func(r roster.Roster) roster.Roster {
		return roster.ReleaseAllLocks(r, collaboratorID, c.now())
	})
}

// UpdateState runs the stale-eviction pass and echoes the payload
// room-wide. The roster itself does not change, but it is re-persisted so
// the store entry's expiry refreshes on any room activity.
func (c *Coordinator) UpdateState(ctx context.Context, roomID string, payload json.RawMessage) error {
	unlock := c.lockRoom(roomID)
	defer unlock()

	active, err := c.loadActive(ctx, roomID)
	if err != nil {
		return c.dropped(types.EventUpdateState, roomID, err)
	}
	if err := c.persist(ctx, roomID, active); err != nil {
		return c.dropped(types.EventUpdateState, roomID, err)
	}

	c.notifier.Broadcast(roomID, types.ServerMessage{Event: types.EventUpdateState, Payload: payload})
	return nil
}

// Disconnect handles an abrupt transport-level close. The room is resolved
// through the connection index; a connection that never joined a room (or
// whose index entry already expired) is a silent no-op.
func (c *Coordinator) Disconnect(ctx context.Context, connectionID string) error {
	roomID, err := c.store.Get(ctx, store.ConnKey(connectionID))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return c.dropped("disconnect", "", err)
	}

	unlock := c.lockRoom(roomID)
	defer unlock()

	active, err := c.loadActive(ctx, roomID)
	if err != nil {
		return c.dropped("disconnect", roomID, err)
	}

	next, removed := roster.RemoveByConnection(active, connectionID)

	if err := c.persist(ctx, roomID, next); err != nil {
		return c.dropped("disconnect", roomID, err)
	}
	if err := c.store.Delete(ctx, store.ConnKey(connectionID)); err != nil {
		return c.dropped("disconnect", roomID, err)
	}

	if removed {
		c.log.Info("collaborator disconnected",
			zap.String("room_id", roomID),
			zap.String("conn_id", connectionID))
		c.notifier.Broadcast(roomID, types.ServerMessage{Event: types.EventLeave, Roster: next})
	}
	return nil
}

func (c *Coordinator) applyAndBroadcast(ctx context.Context, event, roomID string, apply func(roster.Roster) roster.Roster) error {
	unlock := c.lockRoom(roomID)
	defer unlock()

	active, err := c.loadActive(ctx, roomID)
	if err != nil {
		return c.dropped(event, roomID, err)
	}

	next := apply(active)

	if err := c.persist(ctx, roomID, next); err != nil {
		return c.dropped(event, roomID, err)
	}

	c.notifier.Broadcast(roomID, types.ServerMessage{Event: event, Roster: next})
	return nil
}

func (c *Coordinator) lockRoom(roomID string) func() {
	l := c.locks.get(roomID)
	l.Lock()
	return l.Unlock
}

// loadActive reads the room's roster, treating an absent key as an empty
// roster, and runs the stale partition. Each stale collaborator gets a
// direct notice on its own connection before being excluded from the
// returned roster.
func (c *Coordinator) loadActive(ctx context.Context, roomID string) (roster.Roster, error) {
	var r roster.Roster
	if err := c.store.GetObject(ctx, store.RosterKey(roomID), &r); err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	active, stale := roster.PartitionStale(r, c.now(), c.threshold)
	for _, gone := range stale {
		payload, err := json.Marshal(gone)
		if err != nil {
			c.log.Error("marshal stale collaborator", zap.Error(err), zap.String("room_id", roomID))
			continue
		}
		c.log.Warn("evicting stale collaborator",
			zap.String("room_id", roomID),
			zap.String("collaborator_id", gone.ID),
			zap.Time("last_heartbeat_at", gone.LastHeartbeatAt))
		c.notifier.Send(gone.ConnectionID, types.ServerMessage{
			Event:   types.EventInactiveNotice,
			Payload: payload,
		})
	}
	return active, nil
}

func (c *Coordinator) persist(ctx context.Context, roomID string, r roster.Roster) error {
	return c.store.SetObject(ctx, store.RosterKey(roomID), r)
}

// dropped logs an abandoned transition. The event is not retried and no
// error surfaces to the client; the failure shows up as a roster broadcast
// that never arrives.
func (c *Coordinator) dropped(event, roomID string, err error) error {
	c.log.Error("event dropped",
		zap.String("event", event),
		zap.String("room_id", roomID),
		zap.Error(err))
	return err
}
