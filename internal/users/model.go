package users

import (
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/grimoire-api/internal/access"
	"github.com/noah-isme/grimoire-api/internal/cursor"
)

// User is an account row. Users carry no visibility column; privacy is
// enforced by projection: non-privileged viewers of other accounts only see
// the public profile fields (id, username, createdAt).
type User struct {
	ID           uuid.UUID   `json:"id" db:"id"`
	Email        string      `json:"email,omitempty" db:"email"`
	Username     string      `json:"username" db:"username"`
	Role         access.Role `json:"role,omitempty" db:"role"`
	PasswordHash string      `json:"-" db:"password_hash"`
	CreatedAt    time.Time   `json:"createdAt" db:"created_at"`
	UpdatedAt    *time.Time  `json:"updatedAt,omitempty" db:"updated_at"`
}

// Project strips account fields down to the public profile unless the viewer
// is the account holder or privileged.
func (u *User) Project(caller *access.Identity) {
	if caller.Privileged() {
		return
	}
	if caller != nil && caller.ID == u.ID {
		return
	}
	u.Email = ""
	u.Role = ""
	u.UpdatedAt = nil
}

// CursorValue stringifies the sort field for cursor minting.
func (u User) CursorValue(field string) string {
	switch field {
	case "username":
		return u.Username
	case "updatedAt":
		if u.UpdatedAt != nil {
			return cursor.TimeValue(*u.UpdatedAt)
		}
		return cursor.TimeValue(u.CreatedAt)
	default:
		return cursor.TimeValue(u.CreatedAt)
	}
}

// SortFields is the sort allow-list for user listings.
var SortFields = cursor.Fields{
	"username":  {Column: "username"},
	"createdAt": {Column: "created_at", Cast: "::timestamptz"},
	"updatedAt": {Column: "updated_at", Cast: "::timestamptz"},
}

// Stats is the privileged aggregate view of the user base.
type Stats struct {
	Total         int            `json:"total"`
	ByRole        map[string]int `json:"byRole"`
	RecentSignups int            `json:"recentSignups"`
}
