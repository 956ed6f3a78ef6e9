package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/PiyushMakhija26/secure-messaging/config"
	"github.com/PiyushMakhija26/secure-messaging/types"
	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid token")

// Claims is the payload of the bearer tokens issued by the account layer.
type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// IssueToken signs a bearer token for the given user.
func IssueToken(user *types.User, cfg *config.Config) (string, error) {
	if cfg.AuthConfig.JWTSecret == "" {
		return "", fmt.Errorf("no jwt secret configured")
	}
	now := time.Now()
	ttl := time.Duration(cfg.AuthConfig.TokenTTLHours) * time.Hour
	claims := Claims{
		Username: user.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.Id,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(cfg.AuthConfig.JWTSecret))
}

// VerifyToken parses and validates a bearer token and returns its claims.
func VerifyToken(tokenString string, cfg *config.Config) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return []byte(cfg.AuthConfig.JWTSecret), nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
