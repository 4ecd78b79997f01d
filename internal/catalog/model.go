// Package catalog implements the shared resource template once for the flat
// lookup resources: races, archetypes, perks, skills and tags. The original
// system repeated the same ownership/visibility/pagination code per resource;
// here one service/repository/handler trio is instantiated per definition.
package catalog

import (
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/grimoire-api/internal/access"
	"github.com/noah-isme/grimoire-api/internal/cursor"
)

// Entity is one catalog row. All five catalog resources share this shape.
type Entity struct {
	ID          uuid.UUID         `json:"id" db:"id"`
	Name        string            `json:"name" db:"name"`
	Description *string           `json:"description,omitempty" db:"description"`
	OwnerID     *uuid.UUID        `json:"ownerId,omitempty" db:"owner_id"`
	Visibility  access.Visibility `json:"visibility" db:"visibility"`
	CreatedAt   time.Time         `json:"createdAt" db:"created_at"`
	UpdatedAt   time.Time         `json:"updatedAt" db:"updated_at"`
}

// AccessDescriptor implements access.Maskable.
func (e *Entity) AccessDescriptor() access.Descriptor {
	return access.Descriptor{OwnerID: e.OwnerID, Visibility: e.Visibility}
}

// MaskSensitive implements access.Maskable: name and description are the
// display-sensitive fields of a catalog row.
func (e *Entity) MaskSensitive() {
	e.Name = access.Masked
	if e.Description != nil {
		masked := access.Masked
		e.Description = &masked
	}
}

// CursorValue stringifies the sort field for cursor minting.
func (e Entity) CursorValue(field string) string {
	switch field {
	case "name":
		return e.Name
	case "updatedAt":
		return cursor.TimeValue(e.UpdatedAt)
	default:
		return cursor.TimeValue(e.CreatedAt)
	}
}

// SortFields is the sort allow-list shared by all catalog resources.
var SortFields = cursor.Fields{
	"name":      {Column: "name"},
	"createdAt": {Column: "created_at", Cast: "::timestamptz"},
	"updatedAt": {Column: "updated_at", Cast: "::timestamptz"},
}

// UsageEntry is one row of the "most used" ranking.
type UsageEntry struct {
	ID    uuid.UUID `json:"id"`
	Name  string    `json:"name"`
	Count int       `json:"count"`
}

// Stats is the privileged aggregate view of one catalog resource.
type Stats struct {
	Total         int            `json:"total"`
	ByVisibility  map[string]int `json:"byVisibility"`
	RecentCreated int            `json:"recentCreated"`
	TopUsed       []UsageEntry   `json:"topUsed"`
}
