package httpapi

import (
	"net/http"
	"time"

	"github.com/PiyushMakhija26/secure-messaging/auth"
	"github.com/PiyushMakhija26/secure-messaging/globals"
	"github.com/PiyushMakhija26/secure-messaging/persistence"
	"github.com/PiyushMakhija26/secure-messaging/types"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

type registerRequest struct {
	Username  string `json:"username"`
	Email     string `json:"email"`
	Password  string `json:"password"`
	PublicKey string `json:"publicKey"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	IdToken  string `json:"idToken"`
	Provider string `json:"provider"`
}

type tokenResponse struct {
	Token string      `json:"token"`
	User  *types.User `json:"user"`
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	req := registerRequest{}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Username) < 3 || req.Password == "" || req.PublicKey == "" {
		writeError(w, http.StatusBadRequest, "username, password and publicKey are required")
		return
	}
	if _, err := h.persister.GetUserByUsername(req.Username); err == nil {
		writeError(w, http.StatusConflict, "username already taken")
		return
	} else if err != persistence.ErrNotFound {
		writeError(w, http.StatusInternalServerError, "could not check username")
		return
	}
	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not hash password")
		return
	}
	user := types.User{
		Id:           uuid.NewString(),
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: hash,
		PublicKey:    req.PublicKey,
		Tags:         make(types.JSONStringMap),
		CreatedAt:    time.Now(),
		LastOnline:   time.Now(),
	}
	if err := h.persister.StoreUser(user); err != nil {
		// the store enforces username uniqueness, so two concurrent
		// registrations cannot both pass the check above
		if err == persistence.ErrUsernameTaken {
			writeError(w, http.StatusConflict, "username already taken")
			return
		}
		globals.AppLogger.Error("could not store user", "error", err)
		writeError(w, http.StatusInternalServerError, "could not store user")
		return
	}
	token, err := auth.IssueToken(&user, h.cfg)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not issue token")
		return
	}
	writeJSON(w, http.StatusCreated, tokenResponse{Token: token, User: &user})
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	req := loginRequest{}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	var user *types.User
	if req.IdToken != "" {
		userId, err := auth.AuthenticateOIDC(req.IdToken, req.Provider, h.cfg)
		if err != nil || userId == "" {
			writeError(w, http.StatusUnauthorized, "id token verification failed")
			return
		}
		user = &types.User{Id: userId}
		if err := h.persister.GetUser(user); err == persistence.ErrNotFound {
			// first OIDC login creates the account, the public key is
			// published later via the profile
			user = &types.User{
				Id:         userId,
				Username:   userId,
				Email:      userId,
				Tags:       make(types.JSONStringMap),
				CreatedAt:  time.Now(),
				LastOnline: time.Now(),
			}
			if err := h.persister.StoreUser(*user); err != nil {
				writeError(w, http.StatusInternalServerError, "could not store user")
				return
			}
		} else if err != nil {
			writeError(w, http.StatusInternalServerError, "could not load user")
			return
		}
	} else {
		var err error
		user, err = h.persister.GetUserByUsername(req.Username)
		if err == persistence.ErrNotFound || (err == nil && !auth.CheckPassword(user.PasswordHash, req.Password)) {
			writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "could not load user")
			return
		}
	}
	user.LastOnline = time.Now()
	if err := h.persister.StoreUser(*user); err != nil {
		globals.AppLogger.Warn("could not update last online", "user", user.Id, "error", err)
	}
	token, err := auth.IssueToken(user, h.cfg)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not issue token")
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{Token: token, User: user})
}

func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	claims := callerClaims(r)
	writeJSON(w, http.StatusOK, map[string]string{
		"userId":   claims.Subject,
		"username": claims.Username,
	})
}

func (h *Handler) ProfileMe(w http.ResponseWriter, r *http.Request) {
	user := &types.User{Id: callerClaims(r).Subject}
	if err := h.persister.GetUser(user); err != nil {
		if err == persistence.ErrNotFound {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "could not load user")
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// PublicKey serves the published public key of any account; peers call this
// lazily while populating their key registries.
func (h *Handler) PublicKey(w http.ResponseWriter, r *http.Request) {
	userId := mux.Vars(r)["userId"]
	if key, ok := h.keyCache.Get(userId); ok {
		writeJSON(w, http.StatusOK, map[string]string{"userId": userId, "publicKey": key.(string)})
		return
	}
	user := &types.User{Id: userId}
	if err := h.persister.GetUser(user); err != nil {
		if err == persistence.ErrNotFound {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "could not load user")
		return
	}
	h.keyCache.Add(userId, user.PublicKey)
	writeJSON(w, http.StatusOK, map[string]string{"userId": userId, "publicKey": user.PublicKey})
}
