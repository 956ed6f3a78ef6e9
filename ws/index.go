package ws

import "sync"

// Sink is the outbound half of a live connection as the index and the
// broadcaster see it: a stable identity plus a bounded enqueue. Exclusion is
// always decided by comparing ids, never by pointer identity.
type Sink interface {
	ID() string
	Enqueue(data []byte) error
}

// RoomIndex is the authoritative process-wide mapping from room id to the
// set of live connections currently joined to that room. It is independent
// of the persisted member lists. The outer lock guards the room table, each
// entry's lock guards that room's connection set, so traffic in one room
// does not contend with target resolution in another.
type RoomIndex struct {
	mu    sync.RWMutex
	rooms map[string]*roomEntry
}

type roomEntry struct {
	mu    sync.RWMutex
	conns map[string]Sink
}

func NewRoomIndex() *RoomIndex {
	return &RoomIndex{rooms: make(map[string]*roomEntry)}
}

// Join adds the connection to the room's live set, creating the set if
// absent. Joining twice with the same connection id is a no-op.
func (x *RoomIndex) Join(roomId string, s Sink) {
	x.mu.Lock()
	defer x.mu.Unlock()
	e := x.rooms[roomId]
	if e == nil {
		e = &roomEntry{conns: make(map[string]Sink)}
		x.rooms[roomId] = e
	}
	e.mu.Lock()
	e.conns[s.ID()] = s
	e.mu.Unlock()
}

// Leave removes the connection from the room's live set. When the set
// becomes empty the room entry is evicted from the index (persisted storage
// is untouched). Leaving a room one is not in is a no-op.
func (x *RoomIndex) Leave(roomId string, s Sink) {
	x.mu.Lock()
	defer x.mu.Unlock()
	e := x.rooms[roomId]
	if e == nil {
		return
	}
	e.mu.Lock()
	delete(e.conns, s.ID())
	empty := len(e.conns) == 0
	e.mu.Unlock()
	if empty {
		delete(x.rooms, roomId)
	}
}

// Targets returns the room's current live connections minus the excluded
// connection id, evaluated at call time so stale peers that already left are
// never handed out.
func (x *RoomIndex) Targets(roomId, excludeId string) []Sink {
	x.mu.RLock()
	defer x.mu.RUnlock()
	e := x.rooms[roomId]
	if e == nil {
		return nil
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	targets := make([]Sink, 0, len(e.conns))
	for id, s := range e.conns {
		if id == excludeId {
			continue
		}
		targets = append(targets, s)
	}
	return targets
}

// Size returns the number of live connections in a room.
func (x *RoomIndex) Size(roomId string) int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	e := x.rooms[roomId]
	if e == nil {
		return 0
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.conns)
}

// Contains reports whether the room currently has a live entry in the index.
func (x *RoomIndex) Contains(roomId string) bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	_, ok := x.rooms[roomId]
	return ok
}
