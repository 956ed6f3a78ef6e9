package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync"
	"time"

	"github.com/PiyushMakhija26/secure-messaging/config"
	"github.com/PiyushMakhija26/secure-messaging/types"
	_ "github.com/mattn/go-sqlite3"
)

type SQLitePersist struct {
	db *sql.DB
	sync.RWMutex
}

func NewSQLitePersister(cfg *config.Config) (Persister, error) {
	db, err := setupSQLiteDB(cfg)
	if err != nil {
		return nil, err
	}
	return &SQLitePersist{db: db}, nil
}

func setupSQLiteDB(cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", cfg.PersistenceConfig.DSN)
	if err != nil {
		return nil, err
	}
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
id TEXT PRIMARY KEY,
username TEXT NOT NULL UNIQUE,
email TEXT DEFAULT "" NOT NULL,
password_hash TEXT DEFAULT "" NOT NULL,
public_key TEXT DEFAULT "" NOT NULL,
tags TEXT DEFAULT "{}" NOT NULL,
created INTEGER DEFAULT 0 NOT NULL,
last_online INTEGER DEFAULT 0 NOT NULL
);`,
		`CREATE TABLE IF NOT EXISTS rooms (
id TEXT PRIMARY KEY,
name TEXT NOT NULL,
description TEXT DEFAULT "" NOT NULL,
admin_id TEXT NOT NULL,
password_hash TEXT DEFAULT "" NOT NULL,
created INTEGER DEFAULT 0 NOT NULL,
updated INTEGER DEFAULT 0 NOT NULL
);`,
		`CREATE TABLE IF NOT EXISTS room_members (
room_id TEXT NOT NULL,
user_id TEXT NOT NULL,
joined_at INTEGER DEFAULT 0 NOT NULL,
PRIMARY KEY (room_id, user_id)
);`,
		`CREATE TABLE IF NOT EXISTS events (
id TEXT PRIMARY KEY,
room_id TEXT NOT NULL,
user_id TEXT DEFAULT "" NOT NULL,
username TEXT DEFAULT "" NOT NULL,
content TEXT DEFAULT "" NOT NULL,
encrypted_content TEXT DEFAULT "" NOT NULL,
nonce TEXT DEFAULT "" NOT NULL,
sender_public_key TEXT DEFAULT "" NOT NULL,
created INTEGER DEFAULT 0 NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS events_room_created_idx ON events (room_id, created);`,
		`CREATE INDEX IF NOT EXISTS events_created_idx ON events (created);`,
	}
	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return nil, err
		}
	}
	return db, nil
}

func (p *SQLitePersist) StoreUser(user types.User) error {
	p.Lock()
	defer p.Unlock()
	tags, err := json.Marshal(user.Tags)
	if err != nil {
		return err
	}
	query := `INSERT INTO users (id,username,email,password_hash,public_key,tags,created,last_online) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (id) DO UPDATE SET username=EXCLUDED.username,email=EXCLUDED.email,password_hash=EXCLUDED.password_hash,public_key=EXCLUDED.public_key,tags=EXCLUDED.tags,last_online=EXCLUDED.last_online;`
	_, err = p.db.Exec(query, user.Id, user.Username, user.Email, user.PasswordHash, user.PublicKey, string(tags), user.CreatedAt.Unix(), user.LastOnline.Unix())
	return err
}

func (p *SQLitePersist) GetUser(user *types.User) error {
	p.RLock()
	defer p.RUnlock()
	return scanUser(p.db.QueryRow(`SELECT id,username,email,password_hash,public_key,tags,created,last_online FROM users WHERE id=$1;`, user.Id), user)
}

func (p *SQLitePersist) GetUserByUsername(username string) (*types.User, error) {
	p.RLock()
	defer p.RUnlock()
	user := &types.User{}
	err := scanUser(p.db.QueryRow(`SELECT id,username,email,password_hash,public_key,tags,created,last_online FROM users WHERE username=$1;`, username), user)
	if err != nil {
		return nil, err
	}
	return user, nil
}

func (p *SQLitePersist) GetUsers() ([]*types.User, error) {
	p.RLock()
	defer p.RUnlock()
	users := make([]*types.User, 0)
	rows, err := p.db.Query(`SELECT id,username,email,password_hash,public_key,tags,created,last_online FROM users;`)
	if err != nil && err != sql.ErrNoRows {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		user := &types.User{}
		if err := scanUser(rows, user); err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, nil
}

func (p *SQLitePersist) DeleteUser(user *types.User) error {
	p.Lock()
	defer p.Unlock()
	_, err := p.db.Exec(`DELETE FROM users WHERE id=$1;`, user.Id)
	return err
}

func (p *SQLitePersist) StoreRoom(room types.Room) error {
	p.Lock()
	defer p.Unlock()
	tx, err := p.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	query := `INSERT INTO rooms (id,name,description,admin_id,password_hash,created,updated) VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (id) DO UPDATE SET name=EXCLUDED.name,description=EXCLUDED.description,admin_id=EXCLUDED.admin_id,password_hash=EXCLUDED.password_hash,updated=EXCLUDED.updated;`
	_, err = tx.Exec(query, room.Id, room.Name, room.Description, room.AdminId, room.PasswordHash, room.CreatedAt.Unix(), room.UpdatedAt.Unix())
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	if _, err = tx.Exec(`DELETE FROM room_members WHERE room_id=$1;`, room.Id); err != nil {
		_ = tx.Rollback()
		return err
	}
	for _, m := range room.Members {
		_, err = tx.Exec(`INSERT INTO room_members (room_id,user_id,joined_at) VALUES ($1,$2,$3);`, room.Id, m.UserId, m.JoinedAt.Unix())
		if err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (p *SQLitePersist) GetRoom(room *types.Room) error {
	p.RLock()
	defer p.RUnlock()
	var created, updated int64
	query := `SELECT name,description,admin_id,password_hash,created,updated FROM rooms WHERE id=$1;`
	err := p.db.QueryRow(query, room.Id).Scan(&room.Name, &room.Description, &room.AdminId, &room.PasswordHash, &created, &updated)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	room.CreatedAt = time.Unix(created, 0)
	room.UpdatedAt = time.Unix(updated, 0)
	room.Members, err = p.roomMembers(room.Id)
	return err
}

func (p *SQLitePersist) roomMembers(roomId string) ([]types.Member, error) {
	members := make([]types.Member, 0)
	rows, err := p.db.Query(`SELECT room_id,user_id,joined_at FROM room_members WHERE room_id=$1 ORDER BY joined_at;`, roomId)
	if err != nil && err != sql.ErrNoRows {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var m types.Member
		var joined int64
		if err := rows.Scan(&m.RoomId, &m.UserId, &joined); err != nil {
			return nil, err
		}
		m.JoinedAt = time.Unix(joined, 0)
		members = append(members, m)
	}
	return members, nil
}

func (p *SQLitePersist) GetRooms() ([]*types.Room, error) {
	p.RLock()
	defer p.RUnlock()
	return p.queryRooms(`SELECT id,name,description,admin_id,password_hash,created,updated FROM rooms;`)
}

func (p *SQLitePersist) GetRoomsByMember(userId string) ([]*types.Room, error) {
	p.RLock()
	defer p.RUnlock()
	return p.queryRooms(`SELECT r.id,r.name,r.description,r.admin_id,r.password_hash,r.created,r.updated
FROM rooms AS r INNER JOIN room_members AS m ON m.room_id=r.id WHERE m.user_id=$1;`, userId)
}

func (p *SQLitePersist) queryRooms(query string, args ...interface{}) ([]*types.Room, error) {
	rooms := make([]*types.Room, 0)
	rows, err := p.db.Query(query, args...)
	if err != nil && err != sql.ErrNoRows {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		room := &types.Room{}
		var created, updated int64
		if err := rows.Scan(&room.Id, &room.Name, &room.Description, &room.AdminId, &room.PasswordHash, &created, &updated); err != nil {
			return nil, err
		}
		room.CreatedAt = time.Unix(created, 0)
		room.UpdatedAt = time.Unix(updated, 0)
		rooms = append(rooms, room)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	for _, room := range rooms {
		if room.Members, err = p.roomMembers(room.Id); err != nil {
			return nil, err
		}
	}
	return rooms, nil
}

func (p *SQLitePersist) DeleteRoom(room *types.Room) error {
	p.Lock()
	defer p.Unlock()
	tx, err := p.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	for _, query := range []string{
		`DELETE FROM events WHERE room_id=$1;`,
		`DELETE FROM room_members WHERE room_id=$1;`,
		`DELETE FROM rooms WHERE id=$1;`,
	} {
		if _, err := tx.Exec(query, room.Id); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (p *SQLitePersist) StoreEvent(event *types.ChatEvent) error {
	p.Lock()
	defer p.Unlock()
	query := `INSERT INTO events (id,room_id,user_id,username,content,encrypted_content,nonce,sender_public_key,created) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (id) DO NOTHING;`
	_, err := p.db.Exec(query, event.Id, event.RoomId, event.UserId, event.Username, event.Content, event.EncryptedContent, event.Nonce, event.SenderPublicKey, event.Created.UnixNano())
	return err
}

func (p *SQLitePersist) RecentEvents(roomId string, limit int) ([]*types.ChatEvent, error) {
	p.RLock()
	defer p.RUnlock()
	if limit <= 0 {
		limit = -1 // sqlite: no limit
	}
	query := `SELECT id,room_id,user_id,username,content,encrypted_content,nonce,sender_public_key,created
FROM events WHERE room_id=$1 ORDER BY created DESC LIMIT $2;`
	rows, err := p.db.Query(query, roomId, limit)
	if err != nil && err != sql.ErrNoRows {
		return nil, err
	}
	defer rows.Close()
	events := make([]*types.ChatEvent, 0)
	for rows.Next() {
		event := &types.ChatEvent{}
		var created int64
		err := rows.Scan(&event.Id, &event.RoomId, &event.UserId, &event.Username, &event.Content, &event.EncryptedContent, &event.Nonce, &event.SenderPublicKey, &created)
		if err != nil {
			return nil, err
		}
		event.Created = time.Unix(0, created)
		events = append(events, event)
	}
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
	return events, nil
}

func (p *SQLitePersist) PurgeRoom(roomId string) error {
	p.Lock()
	defer p.Unlock()
	_, err := p.db.Exec(`DELETE FROM events WHERE room_id=$1;`, roomId)
	return err
}

func (p *SQLitePersist) SweepExpired(maxAge time.Duration) (int64, error) {
	p.Lock()
	defer p.Unlock()
	cutoff := time.Now().Add(-maxAge).UnixNano()
	res, err := p.db.Exec(`DELETE FROM events WHERE created < $1;`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (p *SQLitePersist) Close() error {
	p.Lock()
	defer p.Unlock()
	return p.db.Close()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanUser(row rowScanner, user *types.User) error {
	var created, lastOnline int64
	var tagsRaw string
	err := row.Scan(&user.Id, &user.Username, &user.Email, &user.PasswordHash, &user.PublicKey, &tagsRaw, &created, &lastOnline)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	user.CreatedAt = time.Unix(created, 0)
	user.LastOnline = time.Unix(lastOnline, 0)
	tags := make(map[string]string)
	_ = json.Unmarshal([]byte(tagsRaw), &tags)
	user.Tags = tags
	return nil
}
