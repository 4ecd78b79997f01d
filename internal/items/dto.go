package items

import (
	"github.com/google/uuid"

	"github.com/noah-isme/grimoire-api/internal/cursor"
)

// ListQuery carries the parsed item list parameters.
type ListQuery struct {
	Search     string `validate:"omitempty,max=100"`
	Visibility string `validate:"omitempty,oneof=PUBLIC PRIVATE HIDDEN"`
	Slot       string `validate:"omitempty,oneof=HEAD CHEST LEGS HANDS WEAPON TRINKET"`
	Rarity     string `validate:"omitempty,oneof=COMMON UNCOMMON RARE EPIC LEGENDARY"`
	SortBy     string `validate:"omitempty,max=30"`
	SortDir    string `validate:"omitempty,oneof=asc desc"`
	Limit      int    `validate:"gte=0,lte=100"`
	Cursor     string
}

// CreateRequest creates an item. TagIDs replaces the tag link set wholesale.
type CreateRequest struct {
	Name        string      `json:"name" validate:"required,max=120"`
	Description *string     `json:"description,omitempty" validate:"omitempty,max=2000"`
	Slot        string      `json:"slot" validate:"required,oneof=HEAD CHEST LEGS HANDS WEAPON TRINKET"`
	Rarity      string      `json:"rarity" validate:"required,oneof=COMMON UNCOMMON RARE EPIC LEGENDARY"`
	ImageID     *uuid.UUID  `json:"imageId,omitempty"`
	Visibility  string      `json:"visibility" validate:"required,oneof=PUBLIC PRIVATE HIDDEN"`
	OwnerID     *uuid.UUID  `json:"ownerId,omitempty"`
	TagIDs      []uuid.UUID `json:"tagIds,omitempty" validate:"omitempty,max=20"`
}

// UpdateRequest patches an item. A non-nil TagIDs replaces the link set; nil
// leaves it untouched.
type UpdateRequest struct {
	Name        *string      `json:"name,omitempty" validate:"omitempty,max=120"`
	Description *string      `json:"description,omitempty" validate:"omitempty,max=2000"`
	Slot        *string      `json:"slot,omitempty" validate:"omitempty,oneof=HEAD CHEST LEGS HANDS WEAPON TRINKET"`
	Rarity      *string      `json:"rarity,omitempty" validate:"omitempty,oneof=COMMON UNCOMMON RARE EPIC LEGENDARY"`
	ImageID     *uuid.UUID   `json:"imageId,omitempty"`
	Visibility  *string      `json:"visibility,omitempty" validate:"omitempty,oneof=PUBLIC PRIVATE HIDDEN"`
	TagIDs      *[]uuid.UUID `json:"tagIds,omitempty" validate:"omitempty,max=20"`
}

// ListResponse is the item list envelope.
type ListResponse struct {
	Items      []Item          `json:"items"`
	Pagination cursor.PageInfo `json:"pagination"`
}
