package persistence

import (
	"errors"
	"time"

	"github.com/PiyushMakhija26/secure-messaging/types"
)

// ErrNotFound is returned when a referenced user or room does not exist; the
// request layer maps it to a 404.
var ErrNotFound = errors.New("not found")

// ErrUsernameTaken is returned by StoreUser when the username is already
// owned by a different user id; the request layer maps it to a 409. The SQL
// backends surface the same condition through their unique index on
// users.username.
var ErrUsernameTaken = errors.New("username already taken")

// Persister is the storage abstraction behind both the account/room
// management layer and the relay's history store. Append failures never
// block broadcast, the relay logs them and carries on.
type Persister interface {
	StoreUser(user types.User) error
	GetUser(user *types.User) error
	GetUserByUsername(username string) (*types.User, error)
	GetUsers() ([]*types.User, error)
	DeleteUser(user *types.User) error

	StoreRoom(room types.Room) error
	GetRoom(room *types.Room) error
	GetRooms() ([]*types.Room, error)
	GetRoomsByMember(userId string) ([]*types.Room, error)
	// DeleteRoom removes the room record, its member list and all persisted
	// events for the room.
	DeleteRoom(room *types.Room) error

	StoreEvent(event *types.ChatEvent) error
	// RecentEvents returns the most recent limit events of a room in
	// chronological (oldest-first) order for history replay. A limit <= 0
	// returns the full history.
	RecentEvents(roomId string, limit int) ([]*types.ChatEvent, error)
	// PurgeRoom deletes all events for a room but keeps the room record.
	PurgeRoom(roomId string) error
	// SweepExpired deletes all events older than maxAge from the time of the
	// call and returns the number of deleted events.
	SweepExpired(maxAge time.Duration) (int64, error)

	Close() error
}
