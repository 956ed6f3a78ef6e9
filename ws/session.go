package ws

import (
	"time"

	"github.com/PiyushMakhija26/secure-messaging/globals"
	"github.com/PiyushMakhija26/secure-messaging/types"
)

// handleEvent drives the session state machine:
//
//	Connecting --join-room--> Joined --chat/typing--> Active --disconnect--> Closed
//
// Out-of-state events are protocol violations: logged and dropped, the
// connection stays open. Only a join referencing an unknown room terminates
// the connection (after an error frame).
func (c *Client) handleEvent(ev types.RelayEvent) {
	switch ev := ev.(type) {
	case *types.JoinRoom:
		c.handleJoin(ev)
	case *types.ChatMessage:
		c.handleChat(ev)
	case *types.UserTyping:
		c.handleTyping(ev)
	default:
		globals.AppLogger.Warn("dropping event of unexpected kind", "connection", c.id, "kind", ev.Kind())
	}
}

func (c *Client) handleJoin(ev *types.JoinRoom) {
	c.mu.Lock()
	if c.state != StateConnecting {
		c.mu.Unlock()
		globals.AppLogger.Warn("dropping join-room, connection already joined", "connection", c.id, "room", ev.RoomId)
		return
	}
	c.mu.Unlock()

	// membership and the room password were checked by the management API
	// when the user joined the room; the relay only re-checks existence
	if !c.relay.RoomExists(ev.RoomId) {
		c.closeWithError("room not found: " + ev.RoomId)
		return
	}

	c.mu.Lock()
	c.state = StateJoined
	c.roomId = ev.RoomId
	c.mu.Unlock()

	c.relay.index.Join(ev.RoomId, c)
	globals.AppLogger.Info("connection joined room", "connection", c.id, "room", ev.RoomId, "user", c.user.Id)
	c.relay.Broadcast(ev.RoomId, &types.UserJoined{
		RoomId:    ev.RoomId,
		UserId:    c.user.Id,
		Username:  c.user.Username,
		Timestamp: time.Now(),
	}, c.id)
}

func (c *Client) handleChat(ev *types.ChatMessage) {
	c.mu.Lock()
	if c.state != StateJoined && c.state != StateActive {
		c.mu.Unlock()
		globals.AppLogger.Warn("dropping chat-message before join", "connection", c.id)
		return
	}
	roomId := c.roomId
	c.state = StateActive
	c.mu.Unlock()

	ev.RoomId = roomId
	ev.UserId = c.user.Id
	if ev.Username == "" {
		ev.Username = c.user.Username
	}
	ev.Timestamp = time.Now()
	if err := ev.Validate(); err != nil {
		globals.AppLogger.Warn("dropping invalid chat-message", "connection", c.id, "error", err)
		return
	}

	// persistence and broadcast are deliberately independent: an append
	// failure is logged inside Append and must not keep live members from
	// receiving the message
	event := ev.ChatEvent()
	if err := event.CreateId(); err != nil {
		globals.AppLogger.Error("could not hash chat event", "error", err)
		return
	}
	c.relay.Append(event)
	c.relay.Broadcast(roomId, ev, c.id)
}

func (c *Client) handleTyping(ev *types.UserTyping) {
	c.mu.Lock()
	if c.state != StateJoined && c.state != StateActive {
		c.mu.Unlock()
		globals.AppLogger.Warn("dropping user-typing before join", "connection", c.id)
		return
	}
	roomId := c.roomId
	c.state = StateActive
	c.mu.Unlock()

	// ephemeral presence signal, never persisted
	c.relay.Broadcast(roomId, &types.UserTyping{RoomId: roomId, UserId: c.user.Id}, c.id)
}
