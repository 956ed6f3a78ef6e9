package persistence

import (
	"fmt"
	"testing"
	"time"

	"github.com/PiyushMakhija26/secure-messaging/config"
	"github.com/PiyushMakhija26/secure-messaging/types"
	"github.com/stretchr/testify/assert"
)

func newTestPersister(t *testing.T) Persister {
	t.Helper()
	cfg := &config.Config{}
	cfg.PersistenceConfig.Type = "buntdb"
	cfg.PersistenceConfig.DSN = ":memory:"
	p, err := NewPersister(cfg)
	assert.NoError(t, err)
	assert.NotNil(t, p)
	t.Cleanup(func() { p.Close() })
	return p
}

func storeTestEvent(t *testing.T, p Persister, roomId, content string, created time.Time) *types.ChatEvent {
	t.Helper()
	event := &types.ChatEvent{
		RoomId:  roomId,
		UserId:  "alice",
		Content: content,
		Created: created,
	}
	assert.NoError(t, event.CreateId())
	assert.NoError(t, p.StoreEvent(event))
	return event
}

func TestNewPersisterEmptyConfig(t *testing.T) {
	p, err := NewPersister(&config.Config{})
	assert.NoError(t, err)
	assert.Nil(t, p)
}

func TestNewPersisterUnknownType(t *testing.T) {
	cfg := &config.Config{}
	cfg.PersistenceConfig.Type = "etcd"
	cfg.PersistenceConfig.DSN = "whatever"
	_, err := NewPersister(cfg)
	assert.Error(t, err)
}

func TestUserRoundTrip(t *testing.T) {
	p := newTestPersister(t)

	user := types.User{
		Id:           "u-1",
		Username:     "alice",
		Email:        "alice@example.com",
		PasswordHash: "$2a$10$hash",
		PublicKey:    "cGs=",
		Tags:         types.JSONStringMap{"theme": "dark"},
		LastOnline:   time.Now().UTC(),
	}
	assert.NoError(t, p.StoreUser(user))

	got := types.User{Id: "u-1"}
	assert.NoError(t, p.GetUser(&got))
	assert.Equal(t, "alice", got.Username)
	assert.Equal(t, "$2a$10$hash", got.PasswordHash)
	assert.Equal(t, "dark", got.Tags["theme"])

	byName, err := p.GetUserByUsername("alice")
	assert.NoError(t, err)
	assert.Equal(t, "u-1", byName.Id)

	_, err = p.GetUserByUsername("nobody")
	assert.ErrorIs(t, err, ErrNotFound)

	users, err := p.GetUsers()
	assert.NoError(t, err)
	assert.Len(t, users, 1)

	assert.NoError(t, p.DeleteUser(&got))
	assert.ErrorIs(t, p.GetUser(&types.User{Id: "u-1"}), ErrNotFound)
	_, err = p.GetUserByUsername("alice")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRenamedUserReleasesOldUsername(t *testing.T) {
	p := newTestPersister(t)

	user := types.User{Id: "u-1", Username: "alice"}
	assert.NoError(t, p.StoreUser(user))

	user.Username = "alice-renamed"
	assert.NoError(t, p.StoreUser(user))

	got, err := p.GetUserByUsername("alice-renamed")
	assert.NoError(t, err)
	assert.Equal(t, "u-1", got.Id)

	// the old name no longer resolves and is free for someone else
	_, err = p.GetUserByUsername("alice")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, p.StoreUser(types.User{Id: "u-2", Username: "alice"}))
}

func TestUsernameUniquePerUserId(t *testing.T) {
	p := newTestPersister(t)

	assert.NoError(t, p.StoreUser(types.User{Id: "u-1", Username: "alice"}))
	// a second id cannot claim the name, no matter what a caller checked
	// beforehand
	assert.ErrorIs(t, p.StoreUser(types.User{Id: "u-2", Username: "alice"}), ErrUsernameTaken)

	got, err := p.GetUserByUsername("alice")
	assert.NoError(t, err)
	assert.Equal(t, "u-1", got.Id)

	// updating the owner itself is still allowed
	assert.NoError(t, p.StoreUser(types.User{Id: "u-1", Username: "alice", Email: "alice@example.com"}))
}

func TestRoomRoundTrip(t *testing.T) {
	p := newTestPersister(t)

	room := types.Room{
		Id:           "r-1",
		Name:         "general",
		AdminId:      "u-1",
		PasswordHash: "$2a$10$hash",
	}
	room.AddMember("u-1")
	room.AddMember("u-2")
	assert.NoError(t, p.StoreRoom(room))

	got := types.Room{Id: "r-1"}
	assert.NoError(t, p.GetRoom(&got))
	assert.Equal(t, "general", got.Name)
	assert.Equal(t, "$2a$10$hash", got.PasswordHash)
	assert.True(t, got.IsMember("u-2"))

	assert.ErrorIs(t, p.GetRoom(&types.Room{Id: "nope"}), ErrNotFound)

	rooms, err := p.GetRoomsByMember("u-2")
	assert.NoError(t, err)
	assert.Len(t, rooms, 1)
	rooms, err = p.GetRoomsByMember("u-3")
	assert.NoError(t, err)
	assert.Len(t, rooms, 0)
}

func TestRecentEventsOrderAndLimit(t *testing.T) {
	p := newTestPersister(t)

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		storeTestEvent(t, p, "r-1", fmt.Sprintf("msg-%d", i), base.Add(time.Duration(i)*time.Second))
	}
	storeTestEvent(t, p, "r-2", "other room", base)

	events, err := p.RecentEvents("r-1", 3)
	assert.NoError(t, err)
	assert.Len(t, events, 3)
	// the most recent three, oldest first
	assert.Equal(t, "msg-2", events[0].Content)
	assert.Equal(t, "msg-3", events[1].Content)
	assert.Equal(t, "msg-4", events[2].Content)

	all, err := p.RecentEvents("r-1", 0)
	assert.NoError(t, err)
	assert.Len(t, all, 5)
	assert.Equal(t, "msg-0", all[0].Content)

	empty, err := p.RecentEvents("r-3", 10)
	assert.NoError(t, err)
	assert.Len(t, empty, 0)
}

func TestRecentEventsSubSecondOrder(t *testing.T) {
	p := newTestPersister(t)

	base := time.Now()
	for i := 0; i < 3; i++ {
		storeTestEvent(t, p, "r-1", fmt.Sprintf("burst-%d", i), base.Add(time.Duration(i)*time.Millisecond))
	}
	events, err := p.RecentEvents("r-1", 0)
	assert.NoError(t, err)
	assert.Len(t, events, 3)
	assert.Equal(t, "burst-0", events[0].Content)
	assert.Equal(t, "burst-2", events[2].Content)
}

func TestPurgeRoom(t *testing.T) {
	p := newTestPersister(t)

	assert.NoError(t, p.StoreRoom(types.Room{Id: "r-1", AdminId: "u-1"}))
	storeTestEvent(t, p, "r-1", "to be purged", time.Now())
	storeTestEvent(t, p, "r-2", "untouched", time.Now())

	assert.NoError(t, p.PurgeRoom("r-1"))

	events, err := p.RecentEvents("r-1", 0)
	assert.NoError(t, err)
	assert.Len(t, events, 0)
	// the room record survives a purge
	assert.NoError(t, p.GetRoom(&types.Room{Id: "r-1"}))
	events, err = p.RecentEvents("r-2", 0)
	assert.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestDeleteRoomRemovesHistory(t *testing.T) {
	p := newTestPersister(t)

	assert.NoError(t, p.StoreRoom(types.Room{Id: "r-1", AdminId: "u-1"}))
	storeTestEvent(t, p, "r-1", "gone with the room", time.Now())

	assert.NoError(t, p.DeleteRoom(&types.Room{Id: "r-1"}))
	assert.ErrorIs(t, p.GetRoom(&types.Room{Id: "r-1"}), ErrNotFound)
	events, err := p.RecentEvents("r-1", 0)
	assert.NoError(t, err)
	assert.Len(t, events, 0)
}

func TestSweepExpired(t *testing.T) {
	p := newTestPersister(t)

	storeTestEvent(t, p, "r-1", "ancient", time.Now().Add(-100*24*time.Hour))
	storeTestEvent(t, p, "r-2", "old", time.Now().Add(-91*24*time.Hour))
	storeTestEvent(t, p, "r-1", "fresh", time.Now())

	n, err := p.SweepExpired(90 * 24 * time.Hour)
	assert.NoError(t, err)
	assert.Equal(t, int64(2), n)

	events, err := p.RecentEvents("r-1", 0)
	assert.NoError(t, err)
	assert.Len(t, events, 1)
	assert.Equal(t, "fresh", events[0].Content)
	events, err = p.RecentEvents("r-2", 0)
	assert.NoError(t, err)
	assert.Len(t, events, 0)

	// a second sweep finds nothing
	n, err = p.SweepExpired(90 * 24 * time.Hour)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}
