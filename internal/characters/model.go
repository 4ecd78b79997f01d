// Package characters serves the character sheets: ownable, visibility-scoped
// rows linked to a race, an archetype, perks, skills, tags and equipped
// items. Single reads return the expanded view with every embedded entity
// masked through the same access engine as its own endpoint.
package characters

import (
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/grimoire-api/internal/access"
	"github.com/noah-isme/grimoire-api/internal/cursor"
	"github.com/noah-isme/grimoire-api/internal/items"
)

// Ref is a named entity embedded in a character payload: race, archetype,
// perk, skill or tag. Maskable on its own so a HIDDEN entity stays masked
// inside character responses.
type Ref struct {
	ID         uuid.UUID         `json:"id"`
	Name       string            `json:"name"`
	OwnerID    *uuid.UUID        `json:"-"`
	Visibility access.Visibility `json:"-"`
}

// AccessDescriptor implements access.Maskable.
func (r *Ref) AccessDescriptor() access.Descriptor {
	return access.Descriptor{OwnerID: r.OwnerID, Visibility: r.Visibility}
}

// MaskSensitive implements access.Maskable.
func (r *Ref) MaskSensitive() {
	r.Name = access.Masked
}

// EquippedItem is an item embedded in an equipment slot. An unviewable item
// renders as this placeholder with masked display fields rather than a null
// slot; null always means "slot is empty".
type EquippedItem struct {
	ID         uuid.UUID         `json:"id"`
	Name       string            `json:"name"`
	Slot       items.Slot        `json:"slot"`
	Rarity     items.Rarity      `json:"rarity"`
	OwnerID    *uuid.UUID        `json:"-"`
	Visibility access.Visibility `json:"-"`
}

// AccessDescriptor implements access.Maskable.
func (e *EquippedItem) AccessDescriptor() access.Descriptor {
	return access.Descriptor{OwnerID: e.OwnerID, Visibility: e.Visibility}
}

// MaskSensitive implements access.Maskable.
func (e *EquippedItem) MaskSensitive() {
	e.Name = access.Masked
}

// Character is one character sheet. The link collections are populated on
// expanded reads; list rows carry only the flat columns.
type Character struct {
	ID          uuid.UUID         `json:"id" db:"id"`
	Name        string            `json:"name" db:"name"`
	Description *string           `json:"description,omitempty" db:"description"`
	RaceID      *uuid.UUID        `json:"raceId,omitempty" db:"race_id"`
	ArchetypeID *uuid.UUID        `json:"archetypeId,omitempty" db:"archetype_id"`
	ImageID     *uuid.UUID        `json:"imageId,omitempty" db:"image_id"`
	OwnerID     *uuid.UUID        `json:"ownerId,omitempty" db:"owner_id"`
	Visibility  access.Visibility `json:"visibility" db:"visibility"`
	CreatedAt   time.Time         `json:"createdAt" db:"created_at"`
	UpdatedAt   time.Time         `json:"updatedAt" db:"updated_at"`

	Race      *Ref                         `json:"race,omitempty"`
	Archetype *Ref                         `json:"archetype,omitempty"`
	Perks     []Ref                        `json:"perks,omitempty"`
	Skills    []Ref                        `json:"skills,omitempty"`
	Tags      []Ref                        `json:"tags,omitempty"`
	Equipment map[items.Slot]*EquippedItem `json:"equipment,omitempty"`
}

// AccessDescriptor implements access.Maskable.
func (c *Character) AccessDescriptor() access.Descriptor {
	return access.Descriptor{OwnerID: c.OwnerID, Visibility: c.Visibility}
}

// MaskSensitive implements access.Maskable.
func (c *Character) MaskSensitive() {
	c.Name = access.Masked
	if c.Description != nil {
		masked := access.Masked
		c.Description = &masked
	}
}

// CursorValue stringifies the sort field for cursor minting.
func (c Character) CursorValue(field string) string {
	switch field {
	case "name":
		return c.Name
	case "updatedAt":
		return cursor.TimeValue(c.UpdatedAt)
	default:
		return cursor.TimeValue(c.CreatedAt)
	}
}

// SortFields is the character sort allow-list.
var SortFields = cursor.Fields{
	"name":      {Column: "name"},
	"createdAt": {Column: "created_at", Cast: "::timestamptz"},
	"updatedAt": {Column: "updated_at", Cast: "::timestamptz"},
}

// UsageEntry is one row of a grouped ranking in the stats payload.
type UsageEntry struct {
	ID    uuid.UUID `json:"id"`
	Name  string    `json:"name"`
	Count int       `json:"count"`
}

// Stats is the privileged aggregate view of the character roster.
type Stats struct {
	Total         int            `json:"total"`
	ByVisibility  map[string]int `json:"byVisibility"`
	RecentCreated int            `json:"recentCreated"`
	TopRaces      []UsageEntry   `json:"topRaces"`
	TopArchetypes []UsageEntry   `json:"topArchetypes"`
}
