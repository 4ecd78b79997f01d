package images

import (
	"github.com/google/uuid"

	"github.com/noah-isme/grimoire-api/internal/cursor"
)

// ListQuery carries the parsed image list parameters.
type ListQuery struct {
	Search     string `validate:"omitempty,max=100"`
	Visibility string `validate:"omitempty,oneof=PUBLIC PRIVATE HIDDEN"`
	SortBy     string `validate:"omitempty,max=30"`
	SortDir    string `validate:"omitempty,oneof=asc desc"`
	Limit      int    `validate:"gte=0,lte=100"`
	Cursor     string
}

// CreateRequest registers an uploaded binary's metadata. The storage key is
// minted by the upload collaborator and must be unique.
type CreateRequest struct {
	Filename    string     `json:"filename" validate:"required,max=255"`
	ContentType string     `json:"contentType" validate:"required,max=100"`
	ByteSize    int64      `json:"byteSize" validate:"required,gt=0"`
	StorageKey  string     `json:"storageKey" validate:"required,max=512"`
	Alt         *string    `json:"alt,omitempty" validate:"omitempty,max=500"`
	Visibility  string     `json:"visibility" validate:"required,oneof=PUBLIC PRIVATE HIDDEN"`
	OwnerID     *uuid.UUID `json:"ownerId,omitempty"`
}

// UpdateRequest patches image metadata. The storage key and byte size are
// immutable; re-uploading produces a new row.
type UpdateRequest struct {
	Filename   *string `json:"filename,omitempty" validate:"omitempty,max=255"`
	Alt        *string `json:"alt,omitempty" validate:"omitempty,max=500"`
	Visibility *string `json:"visibility,omitempty" validate:"omitempty,oneof=PUBLIC PRIVATE HIDDEN"`
}

// ListResponse is the image list envelope.
type ListResponse struct {
	Items      []Image         `json:"items"`
	Pagination cursor.PageInfo `json:"pagination"`
}
