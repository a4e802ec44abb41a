// Package hub maintains the broadcast groups: which connections are live,
// which room each one is joined to, and the outbox channel messages are
// delivered on. All state is owned by a single goroutine fed through a
// typed message inbox.
package hub

import (
	"context"

	"collab-coordinator/pkg/types"
)

type Msg interface{ isHubMsg() }

// Register announces a new connection and the channel it wants outbound
// messages on.
type Register struct {
	ConnID string
	Outbox chan types.ServerMessage
}

// Unregister drops a connection entirely, closing its outbox.
type Unregister struct{ ConnID string }

// JoinRoom attaches a registered connection to a room's broadcast group. A
// connection belongs to at most one room; joining again moves it.
type JoinRoom struct {
	ConnID string
	RoomID string
}

// LeaveRoom detaches a connection from its room without dropping it.
type LeaveRoom struct{ ConnID string }

// Broadcast fans a message out to every connection joined to the room.
type Broadcast struct {
	RoomID string
	Msg    types.ServerMessage
}

// Send delivers a message to one specific connection.
type Send struct {
	ConnID string
	Msg    types.ServerMessage
}

// RoomSize replies with the number of connections joined to a room.
// Test-only introspection without data races.
type RoomSize struct {
	RoomID string
	Reply  chan int
}

type Shutdown struct{}

func (Register) isHubMsg()   {}
func (Unregister) isHubMsg() {}
func (JoinRoom) isHubMsg()   {}
func (LeaveRoom) isHubMsg()  {}
func (Broadcast) isHubMsg()  {}
func (Send) isHubMsg()       {}
func (RoomSize) isHubMsg()   {}
func (Shutdown) isHubMsg()   {}

type conn struct {
	outbox chan types.ServerMessage
	roomID string // "" while not joined to any room
}

type Hub struct {
	inbox  chan Msg
	conns  map[string]*conn
	rooms  map[string]map[string]bool // roomID -> set of connIDs
	ctx    context.Context
	cancel context.CancelFunc
}

func NewHub(parent context.Context) *Hub {
	ctx, cancel := context.WithCancel(parent)
	h := &Hub{
		inbox:  make(chan Msg, 64),
		conns:  make(map[string]*conn),
		rooms:  make(map[string]map[string]bool),
		ctx:    ctx,
		cancel: cancel,
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- Msg { return h.inbox }

// Broadcast implements room.Notifier.
func (h *Hub) Broadcast(roomID string, msg types.ServerMessage) {
	h.inbox <- Broadcast{RoomID: roomID, Msg: msg}
}

// Send implements room.Notifier.
func (h *Hub) Send(connectionID string, msg types.ServerMessage) {
	h.inbox <- Send{ConnID: connectionID, Msg: msg}
}

func (h *Hub) loop() {
	for {
		select {
		case <-h.ctx.Done():
			h.shutdown()
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case Register:
				h.conns[msg.ConnID] = &conn{outbox: msg.Outbox}

			case Unregister:
				h.drop(msg.ConnID)

			case JoinRoom:
				c := h.conns[msg.ConnID]
				if c == nil {
					break
				}
				h.detachFromRoom(msg.ConnID, c)
				c.roomID = msg.RoomID
				group := h.rooms[msg.RoomID]
				if group == nil {
					group = make(map[string]bool)
					h.rooms[msg.RoomID] = group
				}
				group[msg.ConnID] = true

			case LeaveRoom:
				if c := h.conns[msg.ConnID]; c != nil {
					h.detachFromRoom(msg.ConnID, c)
				}

			case Broadcast:
				for connID := range h.rooms[msg.RoomID] {
					h.deliver(connID, msg.Msg)
				}

			case Send:
				h.deliver(msg.ConnID, msg.Msg)

			case RoomSize:
				msg.Reply <- len(h.rooms[msg.RoomID])

			case Shutdown:
				h.shutdown()
				return
			}
		}
	}
}

// deliver pushes a message without blocking the loop. A client whose outbox
// is full is dropped: a reader that slow has effectively disconnected.
func (h *Hub) deliver(connID string, msg types.ServerMessage) {
	c := h.conns[connID]
	if c == nil {
		return
	}
	select {
	case c.outbox <- msg:
	default:
		h.drop(connID)
	}
}

func (h *Hub) drop(connID string) {
	c := h.conns[connID]
	if c == nil {
		return
	}
	h.detachFromRoom(connID, c)
	close(c.outbox)
	delete(h.conns, connID)
}

func (h *Hub) detachFromRoom(connID string, c *conn) {
	if c.roomID == "" {
		return
	}
	if group := h.rooms[c.roomID]; group != nil {
		delete(group, connID)
		if len(group) == 0 {
			delete(h.rooms, c.roomID)
		}
	}
	c.roomID = ""
}

func (h *Hub) shutdown() {
	for connID := range h.conns {
		h.drop(connID)
	}
	h.cancel()
}
