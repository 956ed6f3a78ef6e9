package types

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"
)

const (
	EventJoinRoom    = "join-room"
	EventChatMessage = "chat-message"
	EventUserTyping  = "user-typing"
	EventUserJoined  = "user-joined"
	EventUserLeft    = "user-left"
	EventError       = "error"
)

// Envelope is the flat JSON shape actually transferred over the relay
// connection (and returned by the history replay endpoint). Internally every
// envelope is converted into exactly one of the typed events below, so none
// of the handlers needs to probe which optional fields happen to be set.
type Envelope struct {
	Type             string    `json:"type"`
	RoomId           string    `json:"roomId,omitempty" mapstructure:"roomId"`
	UserId           string    `json:"userId,omitempty" mapstructure:"userId"`
	Username         string    `json:"username,omitempty" mapstructure:"username"`
	Content          string    `json:"content,omitempty" mapstructure:"content"`
	EncryptedContent string    `json:"encryptedContent,omitempty" mapstructure:"encryptedContent"`
	Nonce            string    `json:"nonce,omitempty" mapstructure:"nonce"`
	SenderPublicKey  string    `json:"senderPublicKey,omitempty" mapstructure:"senderPublicKey"`
	Message          string    `json:"message,omitempty" mapstructure:"message"`
	Timestamp        time.Time `json:"timestamp,omitempty" mapstructure:"-"`
}

// RelayEvent is the tagged union of everything traveling over a relay
// connection, one case per event kind.
type RelayEvent interface {
	Kind() string
	envelope() *Envelope
}

// JoinRoom associates the connection with an existing room. Membership was
// already established via the room management API, only existence is checked
// again here.
type JoinRoom struct {
	RoomId string `mapstructure:"roomId"`
	UserId string `mapstructure:"userId"`
}

func (e *JoinRoom) Kind() string { return EventJoinRoom }
func (e *JoinRoom) envelope() *Envelope {
	return &Envelope{Type: EventJoinRoom, RoomId: e.RoomId, UserId: e.UserId}
}

// ChatMessage carries the plaintext or the encrypted payload of one chat
// event. At least one representation must be present.
type ChatMessage struct {
	RoomId           string    `mapstructure:"roomId"`
	UserId           string    `mapstructure:"userId"`
	Username         string    `mapstructure:"username"`
	Content          string    `mapstructure:"content"`
	EncryptedContent string    `mapstructure:"encryptedContent"`
	Nonce            string    `mapstructure:"nonce"`
	SenderPublicKey  string    `mapstructure:"senderPublicKey"`
	Timestamp        time.Time `mapstructure:"-"`
}

func (e *ChatMessage) Kind() string { return EventChatMessage }
func (e *ChatMessage) envelope() *Envelope {
	return &Envelope{
		Type:             EventChatMessage,
		RoomId:           e.RoomId,
		UserId:           e.UserId,
		Username:         e.Username,
		Content:          e.Content,
		EncryptedContent: e.EncryptedContent,
		Nonce:            e.Nonce,
		SenderPublicKey:  e.SenderPublicKey,
		Timestamp:        e.Timestamp,
	}
}

// Validate checks the payload invariant of chat messages.
func (e *ChatMessage) Validate() error {
	if e.Content == "" && (e.EncryptedContent == "" || e.Nonce == "") {
		return fmt.Errorf("chat message carries neither content nor an encrypted payload")
	}
	return nil
}

// ChatEvent converts the wire message into its persisted form.
func (e *ChatMessage) ChatEvent() *ChatEvent {
	return &ChatEvent{
		RoomId:           e.RoomId,
		UserId:           e.UserId,
		Username:         e.Username,
		Content:          e.Content,
		EncryptedContent: e.EncryptedContent,
		Nonce:            e.Nonce,
		SenderPublicKey:  e.SenderPublicKey,
		Created:          e.Timestamp,
	}
}

// UserTyping is an ephemeral presence signal, it is broadcast and never
// persisted.
type UserTyping struct {
	RoomId string `mapstructure:"roomId"`
	UserId string `mapstructure:"userId"`
}

func (e *UserTyping) Kind() string { return EventUserTyping }
func (e *UserTyping) envelope() *Envelope {
	return &Envelope{Type: EventUserTyping, RoomId: e.RoomId, UserId: e.UserId}
}

// UserJoined is emitted to the rest of the room when a connection joins.
type UserJoined struct {
	RoomId    string
	UserId    string
	Username  string
	Timestamp time.Time
}

func (e *UserJoined) Kind() string { return EventUserJoined }
func (e *UserJoined) envelope() *Envelope {
	return &Envelope{Type: EventUserJoined, RoomId: e.RoomId, UserId: e.UserId, Username: e.Username, Timestamp: e.Timestamp}
}

// UserLeft is emitted to the rest of the room when a joined connection goes
// away.
type UserLeft struct {
	RoomId    string
	UserId    string
	Username  string
	Timestamp time.Time
}

func (e *UserLeft) Kind() string { return EventUserLeft }
func (e *UserLeft) envelope() *Envelope {
	return &Envelope{Type: EventUserLeft, RoomId: e.RoomId, UserId: e.UserId, Username: e.Username, Timestamp: e.Timestamp}
}

// ErrorFrame is sent to a single connection before it is closed on a
// non-recoverable protocol error (f.e. joining an unknown room).
type ErrorFrame struct {
	Message string
}

func (e *ErrorFrame) Kind() string { return EventError }
func (e *ErrorFrame) envelope() *Envelope {
	return &Envelope{Type: EventError, Message: e.Message}
}

// DecodeEvent parses one inbound wire frame into its typed event. Unknown or
// server-only event kinds are rejected, the caller treats that as a protocol
// violation.
func DecodeEvent(raw []byte) (RelayEvent, error) {
	m := make(map[string]interface{})
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("could not unmarshal wire frame: %w", err)
	}
	kind, _ := m["type"].(string)
	var ev RelayEvent
	switch kind {
	case EventJoinRoom:
		ev = &JoinRoom{}
	case EventChatMessage:
		ev = &ChatMessage{}
	case EventUserTyping:
		ev = &UserTyping{}
	default:
		return nil, fmt.Errorf("unknown inbound event type %q", kind)
	}
	if err := mapstructure.WeakDecode(m, ev); err != nil {
		return nil, fmt.Errorf("could not decode %s event: %w", kind, err)
	}
	return ev, nil
}

// EncodeEvent serializes an event into its flat wire envelope.
func EncodeEvent(ev RelayEvent) ([]byte, error) {
	return json.Marshal(ev.envelope())
}
