package room

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"collab-coordinator/internal/roster"
	"collab-coordinator/internal/store"
	"collab-coordinator/pkg/types"
)

type broadcastCall struct {
	roomID string
	msg    types.ServerMessage
}

type sendCall struct {
	connectionID string
	msg          types.ServerMessage
}

// recordingNotifier captures outbound traffic instead of delivering it.
type recordingNotifier struct {
	broadcasts []broadcastCall
	sends      []sendCall
}

func (n *recordingNotifier) Broadcast(roomID string, msg types.ServerMessage) {
	n.broadcasts = append(n.broadcasts, broadcastCall{roomID: roomID, msg: msg})
}

func (n *recordingNotifier) Send(connectionID string, msg types.ServerMessage) {
	n.sends = append(n.sends, sendCall{connectionID: connectionID, msg: msg})
}

func newTestCoordinator(t *testing.T) (*Coordinator, *store.Memory, *recordingNotifier) {
	t.Helper()
	st := store.NewMemory()
	n := &recordingNotifier{}
	c := New(st, n, zap.NewNop(), 5*time.Minute)
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return base }
	return c, st, n
}

func collab(id, room string) roster.Collaborator {
	return roster.Collaborator{ID: id, DisplayName: id, RoomID: room}
}

func storedRoster(t *testing.T, st store.Store, roomID string) roster.Roster {
	t.Helper()
	var r roster.Roster
	require.NoError(t, st.GetObject(context.Background(), store.RosterKey(roomID), &r))
	return r
}

func TestJoinFirstCollaborator(t *testing.T) {
	c, st, n := newTestCoordinator(t)
	ctx := context.Background()

	require.NoError(t, c.Join(ctx, "conn-1", collab("u1", "r1")))

	// The roster persisted as one value under the room key.
	r := storedRoster(t, st, "r1")
	require.Len(t, r, 1)
	assert.Equal(t, "u1", r[0].ID)
	assert.Equal(t, "conn-1", r[0].ConnectionID)
	assert.Empty(t, r[0].LockedFields)

	// The reverse index resolves the connection back to the room.
	roomID, err := st.Get(ctx, store.ConnKey("conn-1"))
	require.NoError(t, err)
	assert.Equal(t, "r1", roomID)

	// One room-wide join broadcast carrying the updated roster.
	require.Len(t, n.broadcasts, 1)
	assert.Equal(t, "r1", n.broadcasts[0].roomID)
	assert.Equal(t, types.EventJoin, n.broadcasts[0].msg.Event)
	require.Len(t, n.broadcasts[0].msg.Roster, 1)
	assert.Equal(t, "u1", n.broadcasts[0].msg.Roster[0].ID)
}

func TestJoinThenLeave(t *testing.T) {
	c, st, n := newTestCoordinator(t)
	ctx := context.Background()

	require.NoError(t, c.Join(ctx, "conn-1", collab("u1", "r1")))
	require.NoError(t, c.Join(ctx, "conn-2", collab("u2", "r1")))
	require.NoError(t, c.Leave(ctx, "conn-1", "r1", "u1"))

	r := storedRoster(t, st, "r1")
	require.Len(t, r, 1)
	assert.Equal(t, "u2", r[0].ID)

	_, err := st.Get(ctx, store.ConnKey("conn-1"))
	assert.ErrorIs(t, err, store.ErrNotFound)

	last := n.broadcasts[len(n.broadcasts)-1]
	assert.Equal(t, types.EventLeave, last.msg.Event)
	require.Len(t, last.msg.Roster, 1)
	assert.Equal(t, "u2", last.msg.Roster[0].ID)
}

func TestLockIsExclusiveAcrossEvents(t *testing.T) {
	c, st, n := newTestCoordinator(t)
	ctx := context.Background()

	require.NoError(t, c.Join(ctx, "conn-1", collab("u1", "r1")))
	require.NoError(t, c.Join(ctx, "conn-2", collab("u2", "r1")))

	require.NoError(t, c.Lock(ctx, "r1", "u1", "f1"))
	require.NoError(t, c.Lock(ctx, "r1", "u2", "f1")) // conflict: no-op

	r := storedRoster(t, st, "r1")
	assert.True(t, r[0].HoldsLock("f1"))
	assert.False(t, r[1].HoldsLock("f1"))

	// The conflict is not an error: the second lock still broadcasts a
	// roster, it just shows the lock unchanged.
	last := n.broadcasts[len(n.broadcasts)-1]
	assert.Equal(t, types.EventLock, last.msg.Event)
	assert.True(t, last.msg.Roster[0].HoldsLock("f1"))
}

func TestUnlockAttachesChanges(t *testing.T) {
	c, st, _ := newTestCoordinator(t)
	ctx := context.Background()

	require.NoError(t, c.Join(ctx, "conn-1", collab("u1", "r1")))
	require.NoError(t, c.Lock(ctx, "r1", "u1", "f1"))
	require.NoError(t, c.Unlock(ctx, "r1", "u1", "f1", json.RawMessage(`{"v":1}`)))

	r := storedRoster(t, st, "r1")
	require.Len(t, r[0].LockedFields, 1)
	fl := r[0].LockedFields[0]
	assert.False(t, fl.Locked)
	assert.JSONEq(t, `{"v":1}`, string(fl.Changes))

	// The released field is free for someone else now.
	require.NoError(t, c.Join(ctx, "conn-2", collab("u2", "r1")))
	require.NoError(t, c.Lock(ctx, "r1", "u2", "f1"))
	r = storedRoster(t, st, "r1")
	assert.True(t, r[1].HoldsLock("f1"))
}

func TestUnlockAllClearsEveryLock(t *testing.T) {
	c, st, _ := newTestCoordinator(t)
	ctx := context.Background()

	require.NoError(t, c.Join(ctx, "conn-1", collab("u1", "r1")))
	require.NoError(t, c.Lock(ctx, "r1", "u1", "f1"))
	require.NoError(t, c.Lock(ctx, "r1", "u1", "f2"))
	require.NoError(t, c.UnlockAll(ctx, "r1", "u1"))

	r := storedRoster(t, st, "r1")
	assert.Empty(t, r[0].LockedFields)
}

func TestStaleCollaboratorIsEvictedAndNotified(t *testing.T) {
	c, st, n := newTestCoordinator(t)
	ctx := context.Background()

	base := c.now()
	require.NoError(t, c.Join(ctx, "conn-1", collab("u1", "r1")))

	// u1 goes silent past the threshold; the next event touching the room
	// evicts them lazily.
	c.now = func() time.Time { return base.Add(400 * time.Second) }
	require.NoError(t, c.Join(ctx, "conn-2", collab("u2", "r1")))

	r := storedRoster(t, st, "r1")
	require.Len(t, r, 1)
	assert.Equal(t, "u2", r[0].ID)

	require.Len(t, n.sends, 1)
	assert.Equal(t, "conn-1", n.sends[0].connectionID)
	assert.Equal(t, types.EventInactiveNotice, n.sends[0].msg.Event)
	var evicted roster.Collaborator
	require.NoError(t, json.Unmarshal(n.sends[0].msg.Payload, &evicted))
	assert.Equal(t, "u1", evicted.ID)

	// The broadcast roster excludes the evicted collaborator.
	last := n.broadcasts[len(n.broadcasts)-1]
	require.Len(t, last.msg.Roster, 1)
	assert.Equal(t, "u2", last.msg.Roster[0].ID)
}

func TestUpdateStateEchoesPayloadWithoutRosterMutation(t *testing.T) {
	c, st, n := newTestCoordinator(t)
	ctx := context.Background()

	require.NoError(t, c.Join(ctx, "conn-1", collab("u1", "r1")))
	before := storedRoster(t, st, "r1")

	payload := json.RawMessage(`{"cursor":{"x":3,"y":9}}`)
	require.NoError(t, c.UpdateState(ctx, "r1", payload))

	after := storedRoster(t, st, "r1")
	assert.Equal(t, before, after)

	last := n.broadcasts[len(n.broadcasts)-1]
	assert.Equal(t, types.EventUpdateState, last.msg.Event)
	assert.Nil(t, last.msg.Roster)
	assert.JSONEq(t, string(payload), string(last.msg.Payload))
}

func TestDisconnectResolvesRoomViaIndex(t *testing.T) {
	c, st, n := newTestCoordinator(t)
	ctx := context.Background()

	require.NoError(t, c.Join(ctx, "conn-1", collab("u1", "r1")))
	require.NoError(t, c.Join(ctx, "conn-2", collab("u2", "r1")))

	require.NoError(t, c.Disconnect(ctx, "conn-1"))

	r := storedRoster(t, st, "r1")
	require.Len(t, r, 1)
	assert.Equal(t, "u2", r[0].ID)

	_, err := st.Get(ctx, store.ConnKey("conn-1"))
	assert.ErrorIs(t, err, store.ErrNotFound)

	last := n.broadcasts[len(n.broadcasts)-1]
	assert.Equal(t, types.EventLeave, last.msg.Event)
}

func TestDisconnectWithoutIndexEntryIsSilent(t *testing.T) {
	c, _, n := newTestCoordinator(t)

	require.NoError(t, c.Disconnect(context.Background(), "never-joined"))

	assert.Empty(t, n.broadcasts)
	assert.Empty(t, n.sends)
}

// failingStore wraps a Store and fails object writes, simulating the shared
// store going away mid-event.
type failingStore struct {
	store.Store
	failSetObject bool
}

var errStoreDown = errors.New("store down")

func (f *failingStore) SetObject(ctx context.Context, key string, v any) error {
	if f.failSetObject {
		return errStoreDown
	}
	return f.Store.SetObject(ctx, key, v)
}

func TestPersistFailureAbandonsTransition(t *testing.T) {
	inner := store.NewMemory()
	fs := &failingStore{Store: inner}
	n := &recordingNotifier{}
	c := New(fs, n, zap.NewNop(), 5*time.Minute)
	ctx := context.Background()

	require.NoError(t, c.Join(ctx, "conn-1", collab("u1", "r1")))
	joined := len(n.broadcasts)

	fs.failSetObject = true
	err := c.Lock(ctx, "r1", "u1", "f1")
	require.ErrorIs(t, err, errStoreDown)

	// No broadcast for the abandoned event, and the stored roster still has
	// no lock.
	assert.Len(t, n.broadcasts, joined)
	var r roster.Roster
	require.NoError(t, inner.GetObject(ctx, store.RosterKey("r1"), &r))
	assert.False(t, r[0].HoldsLock("f1"))

	// Join must not touch the connection index when the roster persist
	// fails.
	err = c.Join(ctx, "conn-2", collab("u2", "r1"))
	require.ErrorIs(t, err, errStoreDown)
	_, err = inner.Get(ctx, store.ConnKey("conn-2"))
	assert.ErrorIs(t, err, store.ErrNotFound)
}
