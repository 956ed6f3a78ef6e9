// Package httpapi implements the account/room management layer in front of
// the relay: registration, login, room CRUD with password-gated membership,
// history replay and the admin purge endpoints. The relay consumes its
// results (room records, member lists, published public keys) through the
// shared Persister.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/PiyushMakhija26/secure-messaging/auth"
	"github.com/PiyushMakhija26/secure-messaging/config"
	"github.com/PiyushMakhija26/secure-messaging/globals"
	"github.com/PiyushMakhija26/secure-messaging/persistence"
	lru "github.com/hashicorp/golang-lru"
)

const publicKeyCacheSize = 1024

type contextKey string

const claimsKey contextKey = "claims"

type Handler struct {
	persister persistence.Persister
	cfg       *config.Config

	// published public keys are immutable per account in practice, so a
	// small LRU in front of the store takes the pressure off the hot
	// peer-key discovery path
	keyCache *lru.Cache
}

func NewHandler(persister persistence.Persister, cfg *config.Config) (*Handler, error) {
	keyCache, err := lru.New(publicKeyCacheSize)
	if err != nil {
		return nil, err
	}
	return &Handler{persister: persister, cfg: cfg, keyCache: keyCache}, nil
}

// Authenticated wraps a handler with bearer token verification and puts the
// token claims into the request context.
func (h *Handler) Authenticated(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		claims, err := auth.VerifyToken(strings.TrimPrefix(header, "Bearer "), h.cfg)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), claimsKey, claims)))
	}
}

func callerClaims(r *http.Request) *auth.Claims {
	claims, _ := r.Context().Value(claimsKey).(*auth.Claims)
	return claims
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "Server is running"})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		globals.AppLogger.Error("could not write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func decodeBody(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}
