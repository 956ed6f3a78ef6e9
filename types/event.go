package types

import (
	"fmt"
	"time"

	"github.com/mitchellh/hashstructure/v2"
)

// ChatEvent is one persisted unit of chat history. Exactly one of the
// plaintext or the encrypted representation is authoritative per deployment;
// the encrypted representation is {EncryptedContent, Nonce, SenderPublicKey}
// and is opaque to the server. Events are immutable once created and are
// removed only by room deletion, an explicit purge or the retention sweep.
type ChatEvent struct {
	Id               string    `json:"id" gorm:"primaryKey"`
	RoomId           string    `json:"roomId" gorm:"index:idx_events_room_created"`
	UserId           string    `json:"userId"`
	Username         string    `json:"username,omitempty"`
	Content          string    `json:"content,omitempty"`
	EncryptedContent string    `json:"encryptedContent,omitempty"`
	Nonce            string    `json:"nonce,omitempty"`
	SenderPublicKey  string    `json:"senderPublicKey,omitempty"`
	Created          time.Time `json:"timestamp" gorm:"index:idx_events_room_created"`
}

// CreateId derives the event id from a hash over the event contents.
func (e *ChatEvent) CreateId() error {
	hash, err := hashstructure.Hash(e, hashstructure.FormatV2, nil)
	if err != nil {
		return err
	}
	e.Id = fmt.Sprintf("%016x", hash)
	return nil
}

// HasPayload reports whether the event carries at least one readable
// representation (plaintext, or ciphertext with its nonce).
func (e *ChatEvent) HasPayload() bool {
	if e.Content != "" {
		return true
	}
	return e.EncryptedContent != "" && e.Nonce != ""
}

// Envelope converts a stored event back into the relay wire shape for
// history replay.
func (e *ChatEvent) Envelope() *Envelope {
	return &Envelope{
		Type:             EventChatMessage,
		RoomId:           e.RoomId,
		UserId:           e.UserId,
		Username:         e.Username,
		Content:          e.Content,
		EncryptedContent: e.EncryptedContent,
		Nonce:            e.Nonce,
		SenderPublicKey:  e.SenderPublicKey,
		Timestamp:        e.Created,
	}
}
