// Package access holds the visibility and ownership model together with the
// pure decision functions every resource service relies on. Nothing in this
// package performs I/O; repositories receive prebuilt predicates and services
// translate boolean outcomes into errors at their own boundary.
package access

import "github.com/google/uuid"

// Visibility controls listing, viewing and masking behaviour of a row.
type Visibility string

const (
	// VisibilityPublic rows are visible to everyone, including anonymous callers.
	VisibilityPublic Visibility = "PUBLIC"
	// VisibilityPrivate rows are concealed from everyone but the owner and
	// privileged callers. Concealed means not-found, never forbidden.
	VisibilityPrivate Visibility = "PRIVATE"
	// VisibilityHidden rows are listable by everyone but display fields are
	// masked for viewers who are neither owner nor privileged.
	VisibilityHidden Visibility = "HIDDEN"
)

// Valid reports whether v is one of the three known states.
func (v Visibility) Valid() bool {
	switch v {
	case VisibilityPublic, VisibilityPrivate, VisibilityHidden:
		return true
	}
	return false
}

// Role is the caller's privilege level. ADMIN and MODERATOR are treated
// identically by every check in this package.
type Role string

const (
	RoleUser      Role = "USER"
	RoleModerator Role = "MODERATOR"
	RoleAdmin     Role = "ADMIN"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleModerator, RoleAdmin:
		return true
	}
	return false
}

// Privileged reports whether the role bypasses ownership and masking checks.
func (r Role) Privileged() bool {
	return r == RoleAdmin || r == RoleModerator
}

// Identity is the per-request caller. A nil *Identity is a valid anonymous
// caller everywhere in this package.
type Identity struct {
	ID   uuid.UUID
	Role Role
}

// Privileged reports whether the caller is authenticated with an elevated role.
func (i *Identity) Privileged() bool {
	return i != nil && i.Role.Privileged()
}

// Owns reports whether the caller is the owner of a row. A nil owner means
// system-owned; no caller owns it.
func (i *Identity) Owns(ownerID *uuid.UUID) bool {
	return i != nil && ownerID != nil && i.ID == *ownerID
}

// Descriptor is the minimal shape needed to decide access to a row. Callers
// never have to fetch a full entity to ask "can I see this".
type Descriptor struct {
	OwnerID    *uuid.UUID
	Visibility Visibility
}

// CanView reports whether the caller may learn of the row's existence.
// PUBLIC and HIDDEN rows are always viewable; HIDDEN only affects masking.
// A false result must surface as not-found at the boundary, never forbidden.
func CanView(caller *Identity, res Descriptor) bool {
	switch res.Visibility {
	case VisibilityPublic, VisibilityHidden:
		return true
	case VisibilityPrivate:
		return caller.Privileged() || caller.Owns(res.OwnerID)
	}
	return false
}

// CanModify reports whether the caller may update or delete the row.
// System-owned rows (nil owner) are only modifiable by privileged callers.
func CanModify(caller *Identity, res Descriptor) bool {
	if caller == nil {
		return false
	}
	return caller.Privileged() || caller.Owns(res.OwnerID)
}

// CanCreate reports whether the caller may create a row owned by targetOwner.
// Assigning another owner, or no owner at all, requires a privileged caller.
func CanCreate(caller *Identity, targetOwner *uuid.UUID) bool {
	if caller == nil {
		return false
	}
	if caller.Privileged() {
		return true
	}
	return targetOwner != nil && *targetOwner == caller.ID
}

// Masked is the sentinel written over display-sensitive fields of a HIDDEN
// row when the viewer is neither owner nor privileged.
const Masked = "[HIDDEN]"

// Maskable is implemented by every ownable model whose display fields can be
// replaced by the Masked sentinel.
type Maskable interface {
	AccessDescriptor() Descriptor
	MaskSensitive()
}

// NeedsMask reports whether display fields must be masked for this viewer.
func NeedsMask(caller *Identity, res Descriptor) bool {
	if res.Visibility != VisibilityHidden {
		return false
	}
	return !caller.Privileged() && !caller.Owns(res.OwnerID)
}

// Mask applies display masking in place when required. Masking never changes
// whether a row appears in a list and is idempotent.
func Mask(caller *Identity, res Maskable) {
	if NeedsMask(caller, res.AccessDescriptor()) {
		res.MaskSensitive()
	}
}

// MaskEmbedded masks an entity embedded in an expanded view. Unlike Mask it
// also covers the case where the embedded row is not viewable at all: the
// placeholder is rendered instead of concealing the slot, so a null slot
// always means "empty".
func MaskEmbedded(caller *Identity, res Maskable) {
	d := res.AccessDescriptor()
	if !CanView(caller, d) || NeedsMask(caller, d) {
		res.MaskSensitive()
	}
}
