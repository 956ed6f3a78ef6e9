package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/PiyushMakhija26/secure-messaging/config"
	"github.com/PiyushMakhija26/secure-messaging/types"
	_ "github.com/lib/pq"
)

type PostgresPersist struct {
	db *sql.DB
}

func NewPostgresPersister(cfg *config.Config) (Persister, error) {
	db, err := setupPostgresDB(cfg)
	if err != nil {
		return nil, err
	}
	return &PostgresPersist{db: db}, nil
}

func setupPostgresDB(cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.PersistenceConfig.DSN)
	if err != nil {
		return nil, err
	}
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
id TEXT PRIMARY KEY,
username TEXT NOT NULL UNIQUE,
email TEXT DEFAULT '' NOT NULL,
password_hash TEXT DEFAULT '' NOT NULL,
public_key TEXT DEFAULT '' NOT NULL,
tags JSONB DEFAULT '{}'::jsonb NOT NULL,
created TIMESTAMP WITH TIME ZONE DEFAULT now() NOT NULL,
last_online TIMESTAMP WITH TIME ZONE DEFAULT now() NOT NULL
);`,
		`CREATE TABLE IF NOT EXISTS rooms (
id TEXT PRIMARY KEY,
name TEXT NOT NULL,
description TEXT DEFAULT '' NOT NULL,
admin_id TEXT NOT NULL,
password_hash TEXT DEFAULT '' NOT NULL,
created TIMESTAMP WITH TIME ZONE DEFAULT now() NOT NULL,
updated TIMESTAMP WITH TIME ZONE DEFAULT now() NOT NULL
);`,
		`CREATE TABLE IF NOT EXISTS room_members (
room_id TEXT NOT NULL REFERENCES rooms (id) ON DELETE CASCADE ON UPDATE CASCADE,
user_id TEXT NOT NULL,
joined_at TIMESTAMP WITH TIME ZONE DEFAULT now() NOT NULL,
PRIMARY KEY (room_id, user_id)
);`,
		`CREATE TABLE IF NOT EXISTS events (
id TEXT PRIMARY KEY,
room_id TEXT NOT NULL REFERENCES rooms (id) ON DELETE CASCADE ON UPDATE CASCADE,
user_id TEXT DEFAULT '' NOT NULL,
username TEXT DEFAULT '' NOT NULL,
content TEXT DEFAULT '' NOT NULL,
encrypted_content TEXT DEFAULT '' NOT NULL,
nonce TEXT DEFAULT '' NOT NULL,
sender_public_key TEXT DEFAULT '' NOT NULL,
created TIMESTAMP WITH TIME ZONE DEFAULT now() NOT NULL
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

func (p *PostgresPersist) StoreUser(user types.User) error {
	tags, err := json.Marshal(user.Tags)
	if err != nil {
		return err
	}
	query := `INSERT INTO users (id,username,email,password_hash,public_key,tags,created,last_online) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (id) DO UPDATE SET username=EXCLUDED.username,email=EXCLUDED.email,password_hash=EXCLUDED.password_hash,public_key=EXCLUDED.public_key,tags=EXCLUDED.tags,last_online=EXCLUDED.last_online;`
	_, err = p.db.Exec(query, user.Id, user.Username, user.Email, user.PasswordHash, user.PublicKey, string(tags), user.CreatedAt, user.LastOnline)
	return err
}

func (p *PostgresPersist) GetUser(user *types.User) error {
	return p.scanUserRow(p.db.QueryRow(`SELECT id,username,email,password_hash,public_key,tags,created,last_online FROM users WHERE id=$1;`, user.Id), user)
}

func (p *PostgresPersist) GetUserByUsername(username string) (*types.User, error) {
	user := &types.User{}
	err := p.scanUserRow(p.db.QueryRow(`SELECT id,username,email,password_hash,public_key,tags,created,last_online FROM users WHERE username=$1;`, username), user)
	if err != nil {
		return nil, err
	}
	return user, nil
}

func (p *PostgresPersist) scanUserRow(row rowScanner, user *types.User) error {
	var tagsRaw string
	err := row.Scan(&user.Id, &user.Username, &user.Email, &user.PasswordHash, &user.PublicKey, &tagsRaw, &user.CreatedAt, &user.LastOnline)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	tags := make(map[string]string)
	_ = json.Unmarshal([]byte(tagsRaw), &tags)
	user.Tags = tags
	return nil
}

func (p *PostgresPersist) GetUsers() ([]*types.User, error) {
	users := make([]*types.User, 0)
	rows, err := p.db.Query(`SELECT id,username,email,password_hash,public_key,tags,created,last_online FROM users;`)
	if err != nil && err != sql.ErrNoRows {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		user := &types.User{}
		if err := p.scanUserRow(rows, user); err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, nil
}

func (p *PostgresPersist) DeleteUser(user *types.User) error {
	_, err := p.db.Exec(`DELETE FROM users WHERE id=$1;`, user.Id)
	return err
}

func (p *PostgresPersist) StoreRoom(room types.Room) error {
	tx, err := p.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	query := `INSERT INTO rooms (id,name,description,admin_id,password_hash,created,updated) VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (id) DO UPDATE SET name=EXCLUDED.name,description=EXCLUDED.description,admin_id=EXCLUDED.admin_id,password_hash=EXCLUDED.password_hash,updated=EXCLUDED.updated;`
	_, err = tx.Exec(query, room.Id, room.Name, room.Description, room.AdminId, room.PasswordHash, room.CreatedAt, room.UpdatedAt)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	if _, err = tx.Exec(`DELETE FROM room_members WHERE room_id=$1;`, room.Id); err != nil {
		_ = tx.Rollback()
		return err
	}
	for _, m := range room.Members {
		_, err = tx.Exec(`INSERT INTO room_members (room_id,user_id,joined_at) VALUES ($1,$2,$3);`, room.Id, m.UserId, m.JoinedAt)
		if err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (p *PostgresPersist) GetRoom(room *types.Room) error {
	query := `SELECT name,description,admin_id,password_hash,created,updated FROM rooms WHERE id=$1;`
	err := p.db.QueryRow(query, room.Id).Scan(&room.Name, &room.Description, &room.AdminId, &room.PasswordHash, &room.CreatedAt, &room.UpdatedAt)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	room.Members, err = p.roomMembers(room.Id)
	return err
}

func (p *PostgresPersist) roomMembers(roomId string) ([]types.Member, error) {
	members := make([]types.Member, 0)
	rows, err := p.db.Query(`SELECT room_id,user_id,joined_at FROM room_members WHERE room_id=$1 ORDER BY joined_at;`, roomId)
	if err != nil && err != sql.ErrNoRows {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var m types.Member
		if err := rows.Scan(&m.RoomId, &m.UserId, &m.JoinedAt); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, nil
}

func (p *PostgresPersist) GetRooms() ([]*types.Room, error) {
	return p.queryRooms(`SELECT id,name,description,admin_id,password_hash,created,updated FROM rooms;`)
}

func (p *PostgresPersist) GetRoomsByMember(userId string) ([]*types.Room, error) {
	return p.queryRooms(`SELECT r.id,r.name,r.description,r.admin_id,r.password_hash,r.created,r.updated
FROM rooms AS r INNER JOIN room_members AS m ON m.room_id=r.id WHERE m.user_id=$1;`, userId)
}

func (p *PostgresPersist) queryRooms(query string, args ...interface{}) ([]*types.Room, error) {
	rooms := make([]*types.Room, 0)
	rows, err := p.db.Query(query, args...)
	if err != nil && err != sql.ErrNoRows {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		room := &types.Room{}
		if err := rows.Scan(&room.Id, &room.Name, &room.Description, &room.AdminId, &room.PasswordHash, &room.CreatedAt, &room.UpdatedAt); err != nil {
			return nil, err
		}
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

func (p *PostgresPersist) DeleteRoom(room *types.Room) error {
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

func (p *PostgresPersist) StoreEvent(event *types.ChatEvent) error {
	query := `INSERT INTO events (id,room_id,user_id,username,content,encrypted_content,nonce,sender_public_key,created) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (id) DO NOTHING;`
	_, err := p.db.Exec(query, event.Id, event.RoomId, event.UserId, event.Username, event.Content, event.EncryptedContent, event.Nonce, event.SenderPublicKey, event.Created)
	return err
}

func (p *PostgresPersist) RecentEvents(roomId string, limit int) ([]*types.ChatEvent, error) {
	var lim interface{} = limit
	if limit <= 0 {
		lim = nil // LIMIT NULL: no limit
	}
	query := `SELECT id,room_id,user_id,username,content,encrypted_content,nonce,sender_public_key,created
FROM events WHERE room_id=$1 ORDER BY created DESC LIMIT $2;`
	rows, err := p.db.Query(query, roomId, lim)
	if err != nil && err != sql.ErrNoRows {
		return nil, err
	}
	defer rows.Close()
	events := make([]*types.ChatEvent, 0)
	for rows.Next() {
		event := &types.ChatEvent{}
		err := rows.Scan(&event.Id, &event.RoomId, &event.UserId, &event.Username, &event.Content, &event.EncryptedContent, &event.Nonce, &event.SenderPublicKey, &event.Created)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
	return events, nil
}

func (p *PostgresPersist) PurgeRoom(roomId string) error {
	_, err := p.db.Exec(`DELETE FROM events WHERE room_id=$1;`, roomId)
	return err
}

func (p *PostgresPersist) SweepExpired(maxAge time.Duration) (int64, error) {
	res, err := p.db.Exec(`DELETE FROM events WHERE created < $1;`, time.Now().Add(-maxAge))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (p *PostgresPersist) Close() error {
	return p.db.Close()
}
