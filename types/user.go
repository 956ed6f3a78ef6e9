package types

import "time"

type User struct {
	Id           string        `json:"id" gorm:"primaryKey"`
	Username     string        `json:"username" gorm:"uniqueIndex"` // unique, chosen at registration
	Email        string        `json:"email"`
	PasswordHash string        `json:"-"`
	PublicKey    string        `json:"publicKey"` // base64 NaCl box public key, opaque to the server
	Tags         JSONStringMap `json:"tags"`      // free-form profile metadata
	CreatedAt    time.Time     `json:"-"`
	LastOnline   time.Time     `json:"last_online"`
}
