package persistence

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/PiyushMakhija26/secure-messaging/config"
	"github.com/PiyushMakhija26/secure-messaging/globals"
	"github.com/PiyushMakhija26/secure-messaging/types"
	"github.com/tidwall/buntdb"
)

type BuntDBPersist struct {
	db *buntdb.DB
}

// storedUser/storedRoom re-expose the password verifier which is shielded
// from JSON everywhere else; BuntDB records are JSON documents, so the
// verifier needs an explicit field here.
type storedUser struct {
	types.User
	PasswordHash string `json:"password_hash"`
}

type storedRoom struct {
	types.Room
	PasswordHash string `json:"password_hash"`
}

// storedEvent adds a numeric creation timestamp used by the "eventsts"
// index, which drives both history replay and the retention sweep.
type storedEvent struct {
	*types.ChatEvent
	CreatedUnix int64 `json:"created"`
}

func NewBuntPersister(cfg *config.Config) (Persister, error) {
	db, err := buntdb.Open(cfg.PersistenceConfig.DSN)
	if err != nil {
		return nil, err
	}
	err = db.CreateIndex("eventsts", "event:*", buntdb.IndexJSON("created"))
	if err != nil {
		db.Close()
		return nil, err
	}
	return &BuntDBPersist{db}, nil
}

func (p *BuntDBPersist) StoreUser(user types.User) error {
	u, err := json.Marshal(storedUser{User: user, PasswordHash: user.PasswordHash})
	if err != nil {
		return err
	}
	return p.db.Update(func(tx *buntdb.Tx) error {
		if id, err := tx.Get("username:" + user.Username); err == nil && id != user.Id {
			return ErrUsernameTaken
		}
		// a rename leaves the previous username mapping behind, drop it
		if prev, err := tx.Get("user:" + user.Id); err == nil {
			old := storedUser{}
			if err := json.Unmarshal([]byte(prev), &old); err == nil && old.Username != "" && old.Username != user.Username {
				if _, err := tx.Delete("username:" + old.Username); err != nil && err != buntdb.ErrNotFound {
					return err
				}
			}
		}
		if _, _, err := tx.Set("user:"+user.Id, string(u), nil); err != nil {
			return err
		}
		_, _, err := tx.Set("username:"+user.Username, user.Id, nil)
		return err
	})
}

func (p *BuntDBPersist) GetUser(user *types.User) error {
	if user.Id == "" {
		return ErrNotFound
	}
	return p.db.View(func(tx *buntdb.Tx) error {
		u, err := tx.Get("user:" + user.Id)
		if err == buntdb.ErrNotFound {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		su := storedUser{}
		if err := json.Unmarshal([]byte(u), &su); err != nil {
			return err
		}
		*user = su.User
		user.PasswordHash = su.PasswordHash
		return nil
	})
}

func (p *BuntDBPersist) GetUserByUsername(username string) (*types.User, error) {
	user := &types.User{}
	err := p.db.View(func(tx *buntdb.Tx) error {
		id, err := tx.Get("username:" + username)
		if err == buntdb.ErrNotFound {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		user.Id = id
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := p.GetUser(user); err != nil {
		return nil, err
	}
	return user, nil
}

func (p *BuntDBPersist) GetUsers() ([]*types.User, error) {
	users := make([]*types.User, 0)
	err := p.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys("user:*", func(key, val string) bool {
			su := storedUser{}
			if err := json.Unmarshal([]byte(val), &su); err == nil {
				u := su.User
				u.PasswordHash = su.PasswordHash
				users = append(users, &u)
			}
			return true
		})
	})
	return users, err
}

func (p *BuntDBPersist) DeleteUser(user *types.User) error {
	return p.db.Update(func(tx *buntdb.Tx) error {
		if _, err := tx.Delete("user:" + user.Id); err != nil && err != buntdb.ErrNotFound {
			return err
		}
		if user.Username != "" {
			if _, err := tx.Delete("username:" + user.Username); err != nil && err != buntdb.ErrNotFound {
				return err
			}
		}
		return nil
	})
}

func (p *BuntDBPersist) StoreRoom(room types.Room) error {
	r, err := json.Marshal(storedRoom{Room: room, PasswordHash: room.PasswordHash})
	if err != nil {
		return err
	}
	return p.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set("room:"+room.Id, string(r), nil)
		return err
	})
}

func (p *BuntDBPersist) GetRoom(room *types.Room) error {
	if room.Id == "" {
		return ErrNotFound
	}
	return p.db.View(func(tx *buntdb.Tx) error {
		r, err := tx.Get("room:" + room.Id)
		if err == buntdb.ErrNotFound {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		sr := storedRoom{}
		if err := json.Unmarshal([]byte(r), &sr); err != nil {
			return err
		}
		*room = sr.Room
		room.PasswordHash = sr.PasswordHash
		return nil
	})
}

func (p *BuntDBPersist) GetRooms() ([]*types.Room, error) {
	rooms := make([]*types.Room, 0)
	err := p.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys("room:*", func(key, val string) bool {
			sr := storedRoom{}
			if err := json.Unmarshal([]byte(val), &sr); err == nil {
				r := sr.Room
				r.PasswordHash = sr.PasswordHash
				rooms = append(rooms, &r)
			}
			return true
		})
	})
	return rooms, err
}

func (p *BuntDBPersist) GetRoomsByMember(userId string) ([]*types.Room, error) {
	all, err := p.GetRooms()
	if err != nil {
		return nil, err
	}
	rooms := make([]*types.Room, 0)
	for _, r := range all {
		if r.IsMember(userId) {
			rooms = append(rooms, r)
		}
	}
	return rooms, nil
}

func (p *BuntDBPersist) DeleteRoom(room *types.Room) error {
	if err := p.PurgeRoom(room.Id); err != nil {
		return err
	}
	return p.db.Update(func(tx *buntdb.Tx) error {
		if _, err := tx.Delete("room:" + room.Id); err != nil && err != buntdb.ErrNotFound {
			return err
		}
		return nil
	})
}

func (p *BuntDBPersist) StoreEvent(event *types.ChatEvent) error {
	msg, err := json.Marshal(storedEvent{ChatEvent: event, CreatedUnix: event.Created.UnixNano()})
	if err != nil {
		return err
	}
	return p.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set("event:"+event.RoomId+":"+event.Id, string(msg), nil)
		return err
	})
}

func (p *BuntDBPersist) RecentEvents(roomId string, limit int) ([]*types.ChatEvent, error) {
	events := make([]*types.ChatEvent, 0)
	prefix := "event:" + roomId + ":"
	err := p.db.View(func(tx *buntdb.Tx) error {
		return tx.Descend("eventsts", func(key, val string) bool {
			if !strings.HasPrefix(key, prefix) {
				return true
			}
			se := storedEvent{ChatEvent: &types.ChatEvent{}}
			if err := json.Unmarshal([]byte(val), &se); err == nil {
				events = append(events, se.ChatEvent)
			}
			return limit <= 0 || len(events) < limit
		})
	})
	if err != nil {
		return nil, err
	}
	// iteration is newest-first, replay wants oldest-first
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
	return events, nil
}

func (p *BuntDBPersist) PurgeRoom(roomId string) error {
	prefix := "event:" + roomId + ":"
	return p.db.Update(func(tx *buntdb.Tx) error {
		keys := make([]string, 0)
		err := tx.AscendKeys(prefix+"*", func(key, val string) bool {
			keys = append(keys, key)
			return true
		})
		if err != nil {
			return err
		}
		for _, key := range keys {
			if _, err := tx.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
}

func (p *BuntDBPersist) SweepExpired(maxAge time.Duration) (int64, error) {
	cutoff := time.Now().Add(-maxAge).UnixNano()
	var count int64
	err := p.db.Update(func(tx *buntdb.Tx) error {
		keys := make([]string, 0)
		err := tx.Ascend("eventsts", func(key, val string) bool {
			se := storedEvent{ChatEvent: &types.ChatEvent{}}
			if err := json.Unmarshal([]byte(val), &se); err != nil {
				globals.AppLogger.Warn("could not unmarshal event during sweep", "key", key, "error", err)
				return true
			}
			if se.CreatedUnix >= cutoff {
				return false // ascending by creation time, nothing newer can match
			}
			keys = append(keys, key)
			return true
		})
		if err != nil {
			return err
		}
		for _, key := range keys {
			if _, err := tx.Delete(key); err != nil {
				return err
			}
			count++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (p *BuntDBPersist) Close() error {
	return p.db.Close()
}
