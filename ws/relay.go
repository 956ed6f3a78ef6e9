package ws

import (
	"time"

	"github.com/PiyushMakhija26/secure-messaging/config"
	"github.com/PiyushMakhija26/secure-messaging/globals"
	"github.com/PiyushMakhija26/secure-messaging/persistence"
	"github.com/PiyushMakhija26/secure-messaging/types"
)

// Relay fans inbound events out to the live connections of a room and hands
// chat events to the history store. It owns the RoomIndex; test harnesses
// and multiple server instances each run their own isolated Relay.
type Relay struct {
	index     *RoomIndex
	persister persistence.Persister
	cfg       *config.Config
}

func NewRelay(cfg *config.Config, persister persistence.Persister) *Relay {
	return &Relay{
		index:     NewRoomIndex(),
		persister: persister,
		cfg:       cfg,
	}
}

// Index exposes the membership index (the management API uses it for room
// liveness introspection).
func (r *Relay) Index() *RoomIndex { return r.index }

// RoomExists checks the room record in the store. Without a persister every
// room id is accepted, the relay then runs in pure fan-out mode.
func (r *Relay) RoomExists(roomId string) bool {
	if r.persister == nil {
		return true
	}
	room := &types.Room{Id: roomId}
	if err := r.persister.GetRoom(room); err != nil {
		if err != persistence.ErrNotFound {
			globals.AppLogger.Error("could not resolve room", "room", roomId, "error", err)
		}
		return false
	}
	return true
}

// Broadcast serializes the event once and delivers it to every live
// connection of the room except excludeId. Delivery is fire-and-forget per
// connection: a slow or broken peer is logged and scheduled for closure and
// never aborts delivery to the rest. Events broadcast by the same
// originating call arrive at a given recipient in broadcast order.
func (r *Relay) Broadcast(roomId string, ev types.RelayEvent, excludeId string) {
	data, err := types.EncodeEvent(ev)
	if err != nil {
		globals.AppLogger.Error("could not marshal broadcast event", "error", err)
		return
	}
	for _, target := range r.index.Targets(roomId, excludeId) {
		if err := target.Enqueue(data); err != nil {
			globals.AppLogger.Warn("broadcast delivery failed, scheduling close", "connection", target.ID(), "error", err)
			if c, ok := target.(*Client); ok {
				go c.Close()
			}
		}
	}
}

// Append stores one chat event. Failures are logged and swallowed: history
// durability is best-effort and independent of the in-flight broadcast.
func (r *Relay) Append(event *types.ChatEvent) {
	if r.persister == nil {
		return
	}
	if !r.cfg.HistoryConfig.StorePlaintext && event.EncryptedContent != "" {
		// production mode: only the encrypted representation is persisted
		stripped := *event
		stripped.Content = ""
		event = &stripped
	}
	if err := r.persister.StoreEvent(event); err != nil {
		globals.AppLogger.Error("could not persist chat event, broadcast proceeds without durability", "room", event.RoomId, "error", err)
	}
}

// Disconnect deregisters a connection from its room and announces the
// departure. It is idempotent, a second call (or a call for a connection
// that never joined) is a no-op.
func (r *Relay) Disconnect(c *Client) {
	c.mu.Lock()
	roomId := c.roomId
	c.roomId = ""
	c.mu.Unlock()
	if roomId == "" {
		return
	}
	r.index.Leave(roomId, c)
	globals.AppLogger.Info("connection left room", "connection", c.id, "room", roomId, "user", c.user.Id)
	r.Broadcast(roomId, &types.UserLeft{
		RoomId:    roomId,
		UserId:    c.user.Id,
		Username:  c.user.Username,
		Timestamp: time.Now(),
	}, c.id)
}
