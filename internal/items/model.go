// Package items serves the equipment inventory: ownable, visibility-scoped
// rows with a gear slot, a rarity tier, an optional image and tag links.
package items

import (
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/grimoire-api/internal/access"
	"github.com/noah-isme/grimoire-api/internal/cursor"
)

// Slot is the gear position an item occupies when equipped.
type Slot string

const (
	SlotHead    Slot = "HEAD"
	SlotChest   Slot = "CHEST"
	SlotLegs    Slot = "LEGS"
	SlotHands   Slot = "HANDS"
	SlotWeapon  Slot = "WEAPON"
	SlotTrinket Slot = "TRINKET"
)

// Valid reports whether s is a known slot.
func (s Slot) Valid() bool {
	switch s {
	case SlotHead, SlotChest, SlotLegs, SlotHands, SlotWeapon, SlotTrinket:
		return true
	}
	return false
}

// Rarity is the item tier.
type Rarity string

const (
	RarityCommon    Rarity = "COMMON"
	RarityUncommon  Rarity = "UNCOMMON"
	RarityRare      Rarity = "RARE"
	RarityEpic      Rarity = "EPIC"
	RarityLegendary Rarity = "LEGENDARY"
)

// TagRef is a tag attached to an item, embedded in item payloads. It is
// maskable on its own so a HIDDEN tag stays masked inside item responses.
type TagRef struct {
	ID         uuid.UUID         `json:"id" db:"id"`
	Name       string            `json:"name" db:"name"`
	OwnerID    *uuid.UUID        `json:"-" db:"owner_id"`
	Visibility access.Visibility `json:"-" db:"visibility"`
}

// AccessDescriptor implements access.Maskable.
func (t *TagRef) AccessDescriptor() access.Descriptor {
	return access.Descriptor{OwnerID: t.OwnerID, Visibility: t.Visibility}
}

// MaskSensitive implements access.Maskable.
func (t *TagRef) MaskSensitive() {
	t.Name = access.Masked
}

// Item is one inventory row.
type Item struct {
	ID          uuid.UUID         `json:"id" db:"id"`
	Name        string            `json:"name" db:"name"`
	Description *string           `json:"description,omitempty" db:"description"`
	Slot        Slot              `json:"slot" db:"slot"`
	Rarity      Rarity            `json:"rarity" db:"rarity"`
	ImageID     *uuid.UUID        `json:"imageId,omitempty" db:"image_id"`
	OwnerID     *uuid.UUID        `json:"ownerId,omitempty" db:"owner_id"`
	Visibility  access.Visibility `json:"visibility" db:"visibility"`
	Tags        []TagRef          `json:"tags"`
	CreatedAt   time.Time         `json:"createdAt" db:"created_at"`
	UpdatedAt   time.Time         `json:"updatedAt" db:"updated_at"`
}

// AccessDescriptor implements access.Maskable.
func (i *Item) AccessDescriptor() access.Descriptor {
	return access.Descriptor{OwnerID: i.OwnerID, Visibility: i.Visibility}
}

// MaskSensitive implements access.Maskable. Slot, rarity and image survive
// masking; only the display strings are replaced.
func (i *Item) MaskSensitive() {
	i.Name = access.Masked
	if i.Description != nil {
		masked := access.Masked
		i.Description = &masked
	}
}

// CursorValue stringifies the sort field for cursor minting.
func (i Item) CursorValue(field string) string {
	switch field {
	case "name":
		return i.Name
	case "rarity":
		return string(i.Rarity)
	case "updatedAt":
		return cursor.TimeValue(i.UpdatedAt)
	default:
		return cursor.TimeValue(i.CreatedAt)
	}
}

// SortFields is the item sort allow-list.
var SortFields = cursor.Fields{
	"name":      {Column: "name"},
	"rarity":    {Column: "rarity"},
	"createdAt": {Column: "created_at", Cast: "::timestamptz"},
	"updatedAt": {Column: "updated_at", Cast: "::timestamptz"},
}

// Stats is the privileged aggregate view of the inventory.
type Stats struct {
	Total         int            `json:"total"`
	ByVisibility  map[string]int `json:"byVisibility"`
	BySlot        map[string]int `json:"bySlot"`
	ByRarity      map[string]int `json:"byRarity"`
	RecentCreated int            `json:"recentCreated"`
	TopEquipped   []UsageEntry   `json:"topEquipped"`
}

// UsageEntry is one row of the "most equipped" ranking.
type UsageEntry struct {
	ID    uuid.UUID `json:"id"`
	Name  string    `json:"name"`
	Count int       `json:"count"`
}
