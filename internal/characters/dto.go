package characters

import (
	"github.com/google/uuid"

	"github.com/noah-isme/grimoire-api/internal/cursor"
	"github.com/noah-isme/grimoire-api/internal/shared"
)

// ListQuery carries the parsed character list parameters.
type ListQuery struct {
	Search     string `validate:"omitempty,max=100"`
	Visibility string `validate:"omitempty,oneof=PUBLIC PRIVATE HIDDEN"`
	RaceID     string `validate:"omitempty,uuid"`
	SortBy     string `validate:"omitempty,max=30"`
	SortDir    string `validate:"omitempty,oneof=asc desc"`
	Limit      int    `validate:"gte=0,lte=100"`
	Cursor     string
}

// CreateRequest creates a character. The link collections replace their sets
// wholesale; absent collections start empty.
type CreateRequest struct {
	Name        string      `json:"name" validate:"required,max=120"`
	Description *string     `json:"description,omitempty" validate:"omitempty,max=4000"`
	RaceID      *uuid.UUID  `json:"raceId,omitempty"`
	ArchetypeID *uuid.UUID  `json:"archetypeId,omitempty"`
	ImageID     *uuid.UUID  `json:"imageId,omitempty"`
	Visibility  string      `json:"visibility" validate:"required,oneof=PUBLIC PRIVATE HIDDEN"`
	OwnerID     *uuid.UUID  `json:"ownerId,omitempty"`
	PerkIDs     []uuid.UUID `json:"perkIds,omitempty" validate:"omitempty,max=50"`
	SkillIDs    []uuid.UUID `json:"skillIds,omitempty" validate:"omitempty,max=50"`
	TagIDs      []uuid.UUID `json:"tagIds,omitempty" validate:"omitempty,max=20"`
}

// UpdateRequest patches a character. Non-nil link collections replace their
// sets; nil leaves them untouched. The nullable FKs distinguish an omitted
// field (unchanged) from an explicit null (detach the race/archetype/image).
type UpdateRequest struct {
	Name        *string                    `json:"name,omitempty" validate:"omitempty,max=120"`
	Description *string                    `json:"description,omitempty" validate:"omitempty,max=4000"`
	RaceID      shared.Nullable[uuid.UUID] `json:"raceId"`
	ArchetypeID shared.Nullable[uuid.UUID] `json:"archetypeId"`
	ImageID     shared.Nullable[uuid.UUID] `json:"imageId"`
	Visibility  *string                    `json:"visibility,omitempty" validate:"omitempty,oneof=PUBLIC PRIVATE HIDDEN"`
	PerkIDs     *[]uuid.UUID               `json:"perkIds,omitempty" validate:"omitempty,max=50"`
	SkillIDs    *[]uuid.UUID               `json:"skillIds,omitempty" validate:"omitempty,max=50"`
	TagIDs      *[]uuid.UUID               `json:"tagIds,omitempty" validate:"omitempty,max=20"`
}

// EquipRequest sets the item occupying an equipment slot.
type EquipRequest struct {
	ItemID uuid.UUID `json:"itemId" validate:"required"`
}

// ListResponse is the character list envelope.
type ListResponse struct {
	Items      []Character     `json:"items"`
	Pagination cursor.PageInfo `json:"pagination"`
}
