package users

import "github.com/noah-isme/grimoire-api/internal/cursor"

// ListQuery carries the parsed list parameters for user listings.
type ListQuery struct {
	Search  string `validate:"omitempty,max=100"`
	SortBy  string `validate:"omitempty,max=30"`
	SortDir string `validate:"omitempty,oneof=asc desc"`
	Limit   int    `validate:"gte=0,lte=100"`
	Cursor  string
}

// UpdateUserRequest patches an account. Role changes are privileged-only and
// checked in the service, not here.
type UpdateUserRequest struct {
	Username *string `json:"username,omitempty" validate:"omitempty,min=3,max=40"`
	Email    *string `json:"email,omitempty" validate:"omitempty,email"`
	Password *string `json:"password,omitempty" validate:"omitempty,min=8,max=128"`
	Role     *string `json:"role,omitempty" validate:"omitempty,oneof=USER MODERATOR ADMIN"`
}

// ListResponse is the list envelope.
type ListResponse struct {
	Items      []User          `json:"items"`
	Pagination cursor.PageInfo `json:"pagination"`
}
