package types

import "time"

// Member is one entry of a room's persistent member list. Uniqueness is
// enforced by (RoomId, UserId), re-adding an existing member is a no-op.
type Member struct {
	RoomId   string    `json:"-" gorm:"primaryKey"`
	UserId   string    `json:"userId" gorm:"primaryKey"`
	JoinedAt time.Time `json:"joinedAt"`
}

// Room is a named, password-gated, admin-owned chat context. The room id is
// opaque and stable for the room's lifetime; the admin is always a member.
type Room struct {
	Id           string    `json:"roomId" gorm:"primaryKey"`
	Name         string    `json:"name"`
	Description  string    `json:"description"`
	AdminId      string    `json:"adminId"`
	PasswordHash string    `json:"-"` // bcrypt verifier, never the raw password
	Members      []Member  `json:"members" gorm:"foreignKey:RoomId"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// AddMember appends userId to the member list. It reports whether the list
// changed (false means the user already was a member).
func (r *Room) AddMember(userId string) bool {
	if r.IsMember(userId) {
		return false
	}
	r.Members = append(r.Members, Member{RoomId: r.Id, UserId: userId, JoinedAt: time.Now()})
	return true
}

// RemoveMember drops userId from the member list. The admin cannot be
// removed, a room without its admin would violate the ownership invariant.
func (r *Room) RemoveMember(userId string) bool {
	if userId == r.AdminId {
		return false
	}
	for i, m := range r.Members {
		if m.UserId == userId {
			r.Members = append(r.Members[:i], r.Members[i+1:]...)
			return true
		}
	}
	return false
}

func (r *Room) IsMember(userId string) bool {
	for _, m := range r.Members {
		if m.UserId == userId {
			return true
		}
	}
	return false
}
