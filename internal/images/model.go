// Package images owns image metadata rows: filename, content type, size,
// storage key and alt text. Binary upload and transcoding happen outside
// this module; deletion is refused while items or characters still point at
// the image.
package images

import (
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/grimoire-api/internal/access"
	"github.com/noah-isme/grimoire-api/internal/cursor"
)

// Image is one metadata row. StorageKey locates the binary in the external
// object store and never changes after creation.
type Image struct {
	ID          uuid.UUID         `json:"id" db:"id"`
	Filename    string            `json:"filename" db:"filename"`
	ContentType string            `json:"contentType" db:"content_type"`
	ByteSize    int64             `json:"byteSize" db:"byte_size"`
	StorageKey  string            `json:"storageKey" db:"storage_key"`
	Alt         *string           `json:"alt,omitempty" db:"alt"`
	OwnerID     *uuid.UUID        `json:"ownerId,omitempty" db:"owner_id"`
	Visibility  access.Visibility `json:"visibility" db:"visibility"`
	CreatedAt   time.Time         `json:"createdAt" db:"created_at"`
	UpdatedAt   time.Time         `json:"updatedAt" db:"updated_at"`
}

// AccessDescriptor implements access.Maskable.
func (i *Image) AccessDescriptor() access.Descriptor {
	return access.Descriptor{OwnerID: i.OwnerID, Visibility: i.Visibility}
}

// MaskSensitive implements access.Maskable. Filename and alt text are the
// display-sensitive fields; size and content type pass through.
func (i *Image) MaskSensitive() {
	i.Filename = access.Masked
	if i.Alt != nil {
		masked := access.Masked
		i.Alt = &masked
	}
}

// CursorValue stringifies the sort field for cursor minting.
func (i Image) CursorValue(field string) string {
	switch field {
	case "filename":
		return i.Filename
	case "updatedAt":
		return cursor.TimeValue(i.UpdatedAt)
	default:
		return cursor.TimeValue(i.CreatedAt)
	}
}

// SortFields is the image sort allow-list.
var SortFields = cursor.Fields{
	"filename":  {Column: "filename"},
	"createdAt": {Column: "created_at", Cast: "::timestamptz"},
	"updatedAt": {Column: "updated_at", Cast: "::timestamptz"},
}

// Stats is the privileged aggregate view of the image store.
type Stats struct {
	Total         int            `json:"total"`
	ByVisibility  map[string]int `json:"byVisibility"`
	RecentCreated int            `json:"recentCreated"`
	TotalBytes    int64          `json:"totalBytes"`
	Orphans       int            `json:"orphans"`
}
