package ws

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/PiyushMakhija26/secure-messaging/config"
	"github.com/PiyushMakhija26/secure-messaging/persistence"
	"github.com/PiyushMakhija26/secure-messaging/types"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
)

// fakePersister backs the relay with an in-memory room set and event log.
// Only the methods the relay touches are implemented.
type fakePersister struct {
	persistence.Persister
	rooms    map[string]bool
	events   []*types.ChatEvent
	storeErr error
}

func newFakePersister(rooms ...string) *fakePersister {
	p := &fakePersister{rooms: make(map[string]bool)}
	for _, r := range rooms {
		p.rooms[r] = true
	}
	return p
}

func (p *fakePersister) GetRoom(room *types.Room) error {
	if p.rooms[room.Id] {
		return nil
	}
	return persistence.ErrNotFound
}

func (p *fakePersister) StoreEvent(event *types.ChatEvent) error {
	if p.storeErr != nil {
		return p.storeErr
	}
	p.events = append(p.events, event)
	return nil
}

func newTestClient(relay *Relay, userId string) *Client {
	return NewClient(relay, nil, &types.User{Id: userId, Username: userId})
}

// recv pops the next queued frame of a client, decoded into its envelope.
func recv(t *testing.T, c *Client) *types.Envelope {
	t.Helper()
	select {
	case data := <-c.Send:
		env := &types.Envelope{}
		assert.NoError(t, json.Unmarshal(data, env))
		return env
	default:
		t.Fatal("no frame queued")
		return nil
	}
}

func assertNoFrame(t *testing.T, c *Client) {
	t.Helper()
	select {
	case data := <-c.Send:
		t.Fatalf("unexpected frame queued: %s", string(data))
	default:
	}
}

func joined(t *testing.T, relay *Relay, roomId, userId string) *Client {
	t.Helper()
	c := newTestClient(relay, userId)
	c.handleEvent(&types.JoinRoom{RoomId: roomId})
	assert.Equal(t, StateJoined, c.State())
	return c
}

func TestJoinAnnouncesToOthersOnly(t *testing.T) {
	relay := NewRelay(&config.Config{}, newFakePersister("room-1"))

	alice := joined(t, relay, "room-1", "alice")
	assertNoFrame(t, alice) // empty room, nobody to notify, not even self

	bob := joined(t, relay, "room-1", "bob")

	env := recv(t, alice)
	assert.Equal(t, types.EventUserJoined, env.Type)
	assert.Equal(t, "room-1", env.RoomId)
	assert.Equal(t, "bob", env.UserId)
	assertNoFrame(t, bob)

	assert.Equal(t, 2, relay.Index().Size("room-1"))
}

func TestJoinUnknownRoomClosesConnection(t *testing.T) {
	relay := NewRelay(&config.Config{}, newFakePersister("room-1"))

	c := newTestClient(relay, "alice")
	c.handleEvent(&types.JoinRoom{RoomId: "no-such-room"})

	env := recv(t, c)
	assert.Equal(t, types.EventError, env.Type)
	assert.Contains(t, env.Message, "no-such-room")
	assert.Equal(t, StateClosed, c.State())
	assert.Error(t, c.Enqueue([]byte("x")))
	assert.Equal(t, 0, relay.Index().Size("no-such-room"))
}

// dialRelay serves one live relay connection over a real websocket and dials
// it, so delivery (not just enqueueing) can be asserted.
func dialRelay(t *testing.T, relay *Relay) *websocket.Conn {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		c := NewClient(relay, conn, &types.User{Id: "alice", Username: "alice"})
		go c.WriteLoop()
		c.ReadLoop()
	}))
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	assert.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestJoinUnknownRoomErrorFrameDelivered(t *testing.T) {
	relay := NewRelay(&config.Config{}, newFakePersister("room-1"))
	conn := dialRelay(t, relay)

	assert.NoError(t, conn.WriteJSON(map[string]string{"type": "join-room", "roomId": "no-such-room"}))

	// the error frame must arrive before the transport goes away
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	assert.NoError(t, err)
	env := &types.Envelope{}
	assert.NoError(t, json.Unmarshal(data, env))
	assert.Equal(t, types.EventError, env.Type)
	assert.Contains(t, env.Message, "no-such-room")

	// followed by the close handshake, no further data frames
	_, _, err = conn.ReadMessage()
	assert.Error(t, err)
}

func TestSecondJoinDropped(t *testing.T) {
	relay := NewRelay(&config.Config{}, newFakePersister("room-1", "room-2"))

	c := joined(t, relay, "room-1", "alice")
	c.handleEvent(&types.JoinRoom{RoomId: "room-2"})

	assert.Equal(t, "room-1", c.RoomId())
	assert.Equal(t, 1, relay.Index().Size("room-1"))
	assert.Equal(t, 0, relay.Index().Size("room-2"))
	assertNoFrame(t, c)
}

func TestChatBroadcastAndPersist(t *testing.T) {
	p := newFakePersister("room-1")
	relay := NewRelay(&config.Config{}, p)

	alice := joined(t, relay, "room-1", "alice")
	bob := joined(t, relay, "room-1", "bob")
	recv(t, alice) // bob's user-joined

	alice.handleEvent(&types.ChatMessage{
		EncryptedContent: "c2VhbGVk",
		Nonce:            "bm9uY2U=",
		SenderPublicKey:  "cGs=",
	})
	assert.Equal(t, StateActive, alice.State())

	env := recv(t, bob)
	assert.Equal(t, types.EventChatMessage, env.Type)
	assert.Equal(t, "room-1", env.RoomId)
	assert.Equal(t, "alice", env.UserId)
	assert.Equal(t, "alice", env.Username)
	assert.Equal(t, "c2VhbGVk", env.EncryptedContent)
	assert.False(t, env.Timestamp.IsZero())
	assertNoFrame(t, alice) // sender never receives its own message

	assert.Len(t, p.events, 1)
	assert.NotEmpty(t, p.events[0].Id)
	assert.Equal(t, "room-1", p.events[0].RoomId)
}

func TestChatPlaintextStrippedFromHistory(t *testing.T) {
	p := newFakePersister("room-1")
	relay := NewRelay(&config.Config{}, p)

	alice := joined(t, relay, "room-1", "alice")
	bob := joined(t, relay, "room-1", "bob")
	recv(t, alice)

	alice.handleEvent(&types.ChatMessage{
		Content:          "hello",
		EncryptedContent: "c2VhbGVk",
		Nonce:            "bm9uY2U=",
	})

	// live delivery keeps both representations
	env := recv(t, bob)
	assert.Equal(t, "hello", env.Content)
	// the stored copy only keeps the encrypted one
	assert.Len(t, p.events, 1)
	assert.Empty(t, p.events[0].Content)
	assert.Equal(t, "c2VhbGVk", p.events[0].EncryptedContent)
}

func TestChatPlaintextKeptWhenConfigured(t *testing.T) {
	p := newFakePersister("room-1")
	cfg := &config.Config{}
	cfg.HistoryConfig.StorePlaintext = true
	relay := NewRelay(cfg, p)

	alice := joined(t, relay, "room-1", "alice")
	alice.handleEvent(&types.ChatMessage{
		Content:          "hello",
		EncryptedContent: "c2VhbGVk",
		Nonce:            "bm9uY2U=",
	})

	assert.Len(t, p.events, 1)
	assert.Equal(t, "hello", p.events[0].Content)
}

func TestChatBeforeJoinDropped(t *testing.T) {
	p := newFakePersister("room-1")
	relay := NewRelay(&config.Config{}, p)

	c := newTestClient(relay, "alice")
	c.handleEvent(&types.ChatMessage{Content: "too early"})

	assert.Equal(t, StateConnecting, c.State())
	assert.Empty(t, p.events)
	assertNoFrame(t, c)
}

func TestInvalidChatDropped(t *testing.T) {
	p := newFakePersister("room-1")
	relay := NewRelay(&config.Config{}, p)

	alice := joined(t, relay, "room-1", "alice")
	bob := joined(t, relay, "room-1", "bob")
	recv(t, alice)

	// neither plaintext nor a complete encrypted payload
	alice.handleEvent(&types.ChatMessage{EncryptedContent: "c2VhbGVk"})

	assert.Empty(t, p.events)
	assertNoFrame(t, bob)
}

func TestAppendFailureDoesNotBlockBroadcast(t *testing.T) {
	p := newFakePersister("room-1")
	p.storeErr = errors.New("disk on fire")
	relay := NewRelay(&config.Config{}, p)

	alice := joined(t, relay, "room-1", "alice")
	bob := joined(t, relay, "room-1", "bob")
	recv(t, alice)

	alice.handleEvent(&types.ChatMessage{Content: "still delivered"})

	env := recv(t, bob)
	assert.Equal(t, types.EventChatMessage, env.Type)
	assert.Equal(t, "still delivered", env.Content)
}

func TestTypingBroadcastNeverPersisted(t *testing.T) {
	p := newFakePersister("room-1")
	relay := NewRelay(&config.Config{}, p)

	alice := joined(t, relay, "room-1", "alice")
	bob := joined(t, relay, "room-1", "bob")
	recv(t, alice)

	alice.handleEvent(&types.UserTyping{})

	env := recv(t, bob)
	assert.Equal(t, types.EventUserTyping, env.Type)
	assert.Equal(t, "room-1", env.RoomId)
	assert.Equal(t, "alice", env.UserId)
	assertNoFrame(t, alice)
	assert.Empty(t, p.events)
}

func TestBroadcastOrderPerSender(t *testing.T) {
	relay := NewRelay(&config.Config{}, newFakePersister("room-1"))

	alice := joined(t, relay, "room-1", "alice")
	bob := joined(t, relay, "room-1", "bob")
	recv(t, alice)

	for _, content := range []string{"one", "two", "three"} {
		alice.handleEvent(&types.ChatMessage{Content: content})
	}
	assert.Equal(t, "one", recv(t, bob).Content)
	assert.Equal(t, "two", recv(t, bob).Content)
	assert.Equal(t, "three", recv(t, bob).Content)
}

func TestSlowConsumerScheduledForClose(t *testing.T) {
	relay := NewRelay(&config.Config{}, newFakePersister("room-1"))

	alice := joined(t, relay, "room-1", "alice")
	bob := joined(t, relay, "room-1", "bob")
	carol := joined(t, relay, "room-1", "carol")
	recv(t, alice)
	recv(t, alice)
	recv(t, bob)

	// nobody drains bob, fill his buffer to the brim
	for i := 0; i < sendChannelSize; i++ {
		assert.NoError(t, bob.Enqueue([]byte("filler")))
	}
	assert.ErrorIs(t, bob.Enqueue([]byte("overflow")), ErrSlowConsumer)

	alice.handleEvent(&types.ChatMessage{Content: "dropped for bob"})

	// carol still gets the message
	assert.Equal(t, "dropped for bob", recv(t, carol).Content)
	// bob is torn down asynchronously
	assert.Eventually(t, func() bool { return bob.State() == StateClosed }, time.Second, 5*time.Millisecond)
}

func TestDisconnectAnnouncesAndIsIdempotent(t *testing.T) {
	relay := NewRelay(&config.Config{}, newFakePersister("room-1"))

	alice := joined(t, relay, "room-1", "alice")
	bob := joined(t, relay, "room-1", "bob")
	recv(t, alice)

	relay.Disconnect(bob)

	env := recv(t, alice)
	assert.Equal(t, types.EventUserLeft, env.Type)
	assert.Equal(t, "bob", env.UserId)
	assert.Equal(t, 1, relay.Index().Size("room-1"))

	relay.Disconnect(bob)
	assertNoFrame(t, alice)

	// the last member leaving evicts the room from the index
	relay.Disconnect(alice)
	assert.False(t, relay.Index().Contains("room-1"))
}

func TestDisconnectBeforeJoin(t *testing.T) {
	relay := NewRelay(&config.Config{}, newFakePersister("room-1"))
	alice := joined(t, relay, "room-1", "alice")

	ghost := newTestClient(relay, "ghost")
	relay.Disconnect(ghost)
	assertNoFrame(t, alice)
}

func TestRelayWithoutPersister(t *testing.T) {
	relay := NewRelay(&config.Config{}, nil)

	// every room id is accepted in pure fan-out mode
	alice := joined(t, relay, "anything", "alice")
	bob := joined(t, relay, "anything", "bob")
	recv(t, alice)

	alice.handleEvent(&types.ChatMessage{Content: "hi"})
	assert.Equal(t, "hi", recv(t, bob).Content)
}
