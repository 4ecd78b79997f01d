package catalog

import (
	"github.com/google/uuid"

	"github.com/noah-isme/grimoire-api/internal/cursor"
)

// ListQuery carries the parsed list parameters for one catalog resource.
type ListQuery struct {
	Search     string `validate:"omitempty,max=100"`
	Visibility string `validate:"omitempty,oneof=PUBLIC PRIVATE HIDDEN"`
	SortBy     string `validate:"omitempty,max=30"`
	SortDir    string `validate:"omitempty,oneof=asc desc"`
	Limit      int    `validate:"gte=0,lte=100"`
	Cursor     string
}

// CreateRequest creates a catalog row. OwnerID may only be set by privileged
// callers; everyone else owns what they create.
type CreateRequest struct {
	Name        string     `json:"name" validate:"required,max=120"`
	Description *string    `json:"description,omitempty" validate:"omitempty,max=2000"`
	Visibility  string     `json:"visibility" validate:"required,oneof=PUBLIC PRIVATE HIDDEN"`
	OwnerID     *uuid.UUID `json:"ownerId,omitempty"`
}

// UpdateRequest patches a catalog row.
type UpdateRequest struct {
	Name        *string `json:"name,omitempty" validate:"omitempty,max=120"`
	Description *string `json:"description,omitempty" validate:"omitempty,max=2000"`
	Visibility  *string `json:"visibility,omitempty" validate:"omitempty,oneof=PUBLIC PRIVATE HIDDEN"`
}

// ListResponse is the list envelope.
type ListResponse struct {
	Items      []Entity        `json:"items"`
	Pagination cursor.PageInfo `json:"pagination"`
}
