package httpapi

import (
	"net/http"
	"time"

	"github.com/PiyushMakhija26/secure-messaging/auth"
	"github.com/PiyushMakhija26/secure-messaging/config"
	"github.com/PiyushMakhija26/secure-messaging/globals"
	"github.com/PiyushMakhija26/secure-messaging/persistence"
	"github.com/PiyushMakhija26/secure-messaging/types"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

type createRoomRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Password    string `json:"password"`
}

type joinRoomRequest struct {
	RoomId   string `json:"roomId"`
	Password string `json:"password"`
}

type removeMemberRequest struct {
	UserId string `json:"userId"`
}

func (h *Handler) CreateRoom(w http.ResponseWriter, r *http.Request) {
	req := createRoomRequest{}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "name and password are required")
		return
	}
	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not hash password")
		return
	}
	caller := callerClaims(r).Subject
	room := types.Room{
		Id:           uuid.NewString(),
		Name:         req.Name,
		Description:  req.Description,
		AdminId:      caller,
		PasswordHash: hash,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
	// the admin is always a member
	room.AddMember(caller)
	if err := h.persister.StoreRoom(room); err != nil {
		globals.AppLogger.Error("could not store room", "error", err)
		writeError(w, http.StatusInternalServerError, "could not store room")
		return
	}
	writeJSON(w, http.StatusCreated, &room)
}

func (h *Handler) JoinRoom(w http.ResponseWriter, r *http.Request) {
	req := joinRoomRequest{}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	room, ok := h.loadRoom(w, req.RoomId)
	if !ok {
		return
	}
	if !auth.CheckPassword(room.PasswordHash, req.Password) {
		writeError(w, http.StatusUnauthorized, "wrong room password")
		return
	}
	// re-joining is a no-op, membership stays unique per identity
	if room.AddMember(callerClaims(r).Subject) {
		room.UpdatedAt = time.Now()
		if err := h.persister.StoreRoom(*room); err != nil {
			globals.AppLogger.Error("could not store room", "error", err)
			writeError(w, http.StatusInternalServerError, "could not store room")
			return
		}
	}
	writeJSON(w, http.StatusOK, room)
}

func (h *Handler) GetRoom(w http.ResponseWriter, r *http.Request) {
	room, ok := h.loadRoom(w, mux.Vars(r)["roomId"])
	if !ok {
		return
	}
	if !room.IsMember(callerClaims(r).Subject) {
		writeError(w, http.StatusForbidden, "not a member of this room")
		return
	}
	writeJSON(w, http.StatusOK, room)
}

// RoomMessages replays the most recent events of a room in chronological
// order, shaped exactly like relay envelopes.
func (h *Handler) RoomMessages(w http.ResponseWriter, r *http.Request) {
	room, ok := h.loadRoom(w, mux.Vars(r)["roomId"])
	if !ok {
		return
	}
	if !room.IsMember(callerClaims(r).Subject) {
		writeError(w, http.StatusForbidden, "not a member of this room")
		return
	}
	limit := h.cfg.HistoryConfig.ReplayLimit
	if limit <= 0 {
		limit = config.DefaultReplayLimit
	}
	events, err := h.persister.RecentEvents(room.Id, limit)
	if err != nil {
		globals.AppLogger.Error("could not load history", "room", room.Id, "error", err)
		writeError(w, http.StatusInternalServerError, "could not load history")
		return
	}
	envelopes := make([]*types.Envelope, 0, len(events))
	for _, event := range events {
		envelopes = append(envelopes, event.Envelope())
	}
	writeJSON(w, http.StatusOK, envelopes)
}

func (h *Handler) MyRooms(w http.ResponseWriter, r *http.Request) {
	rooms, err := h.persister.GetRoomsByMember(callerClaims(r).Subject)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not load rooms")
		return
	}
	writeJSON(w, http.StatusOK, rooms)
}

func (h *Handler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	req := removeMemberRequest{}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	room, ok := h.requireAdmin(w, r, mux.Vars(r)["roomId"])
	if !ok {
		return
	}
	if req.UserId == room.AdminId {
		writeError(w, http.StatusBadRequest, "cannot remove the room admin")
		return
	}
	if !room.RemoveMember(req.UserId) {
		writeError(w, http.StatusNotFound, "member not found")
		return
	}
	room.UpdatedAt = time.Now()
	if err := h.persister.StoreRoom(*room); err != nil {
		writeError(w, http.StatusInternalServerError, "could not store room")
		return
	}
	writeJSON(w, http.StatusOK, room)
}

// EndSession purges all persisted events of a room but keeps the room and
// its member list.
func (h *Handler) EndSession(w http.ResponseWriter, r *http.Request) {
	room, ok := h.requireAdmin(w, r, mux.Vars(r)["roomId"])
	if !ok {
		return
	}
	if err := h.persister.PurgeRoom(room.Id); err != nil {
		globals.AppLogger.Error("could not purge room", "room", room.Id, "error", err)
		writeError(w, http.StatusInternalServerError, "could not purge room")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "session ended"})
}

// DeleteRoom purges all persisted events, then removes the room record.
func (h *Handler) DeleteRoom(w http.ResponseWriter, r *http.Request) {
	room, ok := h.requireAdmin(w, r, mux.Vars(r)["roomId"])
	if !ok {
		return
	}
	if err := h.persister.DeleteRoom(room); err != nil {
		globals.AppLogger.Error("could not delete room", "room", room.Id, "error", err)
		writeError(w, http.StatusInternalServerError, "could not delete room")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "room deleted"})
}

func (h *Handler) loadRoom(w http.ResponseWriter, roomId string) (*types.Room, bool) {
	if roomId == "" {
		writeError(w, http.StatusBadRequest, "missing room id")
		return nil, false
	}
	room := &types.Room{Id: roomId}
	if err := h.persister.GetRoom(room); err != nil {
		if err == persistence.ErrNotFound {
			writeError(w, http.StatusNotFound, "room not found")
			return nil, false
		}
		globals.AppLogger.Error("could not load room", "room", roomId, "error", err)
		writeError(w, http.StatusInternalServerError, "could not load room")
		return nil, false
	}
	return room, true
}

func (h *Handler) requireAdmin(w http.ResponseWriter, r *http.Request, roomId string) (*types.Room, bool) {
	room, ok := h.loadRoom(w, roomId)
	if !ok {
		return nil, false
	}
	if room.AdminId != callerClaims(r).Subject {
		writeError(w, http.StatusForbidden, "admin only")
		return nil, false
	}
	return room, true
}
