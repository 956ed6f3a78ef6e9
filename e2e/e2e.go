// Package e2e implements the client side of the end-to-end encryption
// scheme: one X25519 keypair per session, pairwise authenticated encryption
// via NaCl box (XSalsa20-Poly1305) and a registry of peer public keys.
//
// The relay server never links this package into its hot path, it only ever
// sees the base64 ciphertext, nonce and sender public key.
package e2e

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/crypto/nacl/box"
)

// NonceSize is the box nonce length; a fresh random nonce is drawn for every
// encryption, it must never be reused with the same keypair.
const NonceSize = 24

const keySize = 32

var ErrInvalidPublicKey = errors.New("invalid public key")

// SealedMessage is one pairwise-encrypted payload in its transport-safe
// encoding.
type SealedMessage struct {
	EncryptedContent string `json:"encryptedContent"`
	Nonce            string `json:"nonce"`
}

// KeyPair holds one session's asymmetric keypair. The secret half never
// leaves the process that generated it.
type KeyPair struct {
	public *[keySize]byte
	secret *[keySize]byte
}

// GenerateKeyPair produces a fresh session keypair.
func GenerateKeyPair() (*KeyPair, error) {
	public, secret, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &KeyPair{public: public, secret: secret}, nil
}

// PublicKey returns the public half in the base64 form published via the
// account profile.
func (k *KeyPair) PublicKey() string {
	return base64.StdEncoding.EncodeToString(k.public[:])
}

// EncryptFor encrypts plaintext for a single recipient. Every call draws a
// fresh random nonce.
func (k *KeyPair) EncryptFor(plaintext, recipientPublicKey string) (*SealedMessage, error) {
	peer, err := decodeKey(recipientPublicKey)
	if err != nil {
		return nil, err
	}
	var nonce [NonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, err
	}
	sealed := box.Seal(nil, []byte(plaintext), &nonce, peer, k.secret)
	return &SealedMessage{
		EncryptedContent: base64.StdEncoding.EncodeToString(sealed),
		Nonce:            base64.StdEncoding.EncodeToString(nonce[:]),
	}, nil
}

// Decrypt performs authenticated decryption of a message encrypted with
// EncryptFor by the holder of senderPublicKey. On any failure (malformed
// encodings, key mismatch, tampered ciphertext) it reports ok=false; the
// caller treats that as "message unreadable", never as a fatal error.
func (k *KeyPair) Decrypt(encryptedContent, nonce, senderPublicKey string) (string, bool) {
	sender, err := decodeKey(senderPublicKey)
	if err != nil {
		return "", false
	}
	rawNonce, err := base64.StdEncoding.DecodeString(nonce)
	if err != nil || len(rawNonce) != NonceSize {
		return "", false
	}
	ciphertext, err := base64.StdEncoding.DecodeString(encryptedContent)
	if err != nil {
		return "", false
	}
	var n [NonceSize]byte
	copy(n[:], rawNonce)
	plaintext, ok := box.Open(nil, ciphertext, &n, sender, k.secret)
	if !ok {
		return "", false
	}
	return string(plaintext), true
}

// BroadcastEncrypt encrypts the same plaintext independently for each
// recipient. The scheme is pairwise, every recipient gets its own
// ciphertext+nonce pair, there is no shared group key.
func (k *KeyPair) BroadcastEncrypt(plaintext string, recipients map[string]string) (map[string]*SealedMessage, error) {
	sealed := make(map[string]*SealedMessage, len(recipients))
	for id, publicKey := range recipients {
		msg, err := k.EncryptFor(plaintext, publicKey)
		if err != nil {
			return nil, fmt.Errorf("could not encrypt for %s: %w", id, err)
		}
		sealed[id] = msg
	}
	return sealed, nil
}

func decodeKey(publicKey string) (*[keySize]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(publicKey)
	if err != nil || len(raw) != keySize {
		return nil, ErrInvalidPublicKey
	}
	var key [keySize]byte
	copy(key[:], raw)
	return &key, nil
}

// KeyRing maps peer identities to their published public keys. It is filled
// lazily as peers are discovered via the account API.
type KeyRing struct {
	mu   sync.RWMutex
	keys map[string]string
}

func NewKeyRing() *KeyRing {
	return &KeyRing{keys: make(map[string]string)}
}

func (r *KeyRing) Add(userId, publicKey string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys[userId] = publicKey
}

func (r *KeyRing) Get(userId string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	key, ok := r.keys[userId]
	return key, ok
}

// All returns a copy of the registry for use with BroadcastEncrypt.
func (r *KeyRing) All() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make(map[string]string, len(r.keys))
	for id, key := range r.keys {
		keys[id] = key
	}
	return keys
}
