// Package access holds the per-request identity context and the tenant
// scoping rules applied to every domain data operation.
package access

import "errors"

var (
	// ErrUnauthenticated covers a missing, malformed, badly signed or expired token.
	ErrUnauthenticated = errors.New("not authenticated")
	// ErrForbidden covers an authenticated principal whose role is not in the
	// operation's allowed set.
	ErrForbidden = errors.New("permission denied")
	// ErrNotFound masks cross-tenant records; a caller must not be able to tell
	// "does not exist" from "exists in another institute".
	ErrNotFound = errors.New("not found")

	// ErrMissingInstitute is returned when a super admin operation requires an
	// explicit institute and none was supplied.
	ErrMissingInstitute = errors.New("an institute must be specified")
)

// Context identifies the authenticated principal for the lifetime of one
// request. It is produced by the API layer's authenticate step, never by
// handlers or services, and is passed by value so it cannot be mutated
// downstream.
type Context struct {
	PrincipalID string
	Role        string
	InstituteID string
}

// role values, mirrored from core/principal to avoid an import cycle.
const (
	roleSuperAdmin = "super_admin"
)

func (c Context) IsSuperAdmin() bool { return c.Role == roleSuperAdmin }

// HasRole reports whether the context's role is in the allowed set.
// An empty set allows any authenticated principal.
func (c Context) HasRole(allowed ...string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, role := range allowed {
		if c.Role == role {
			return true
		}
	}
	return false
}

// Authorize fails with ErrForbidden if the context's role is not in the
// allowed set. Authentication failures are raised earlier, by the API layer;
// by the time a Context exists the principal is authenticated.
func Authorize(ctx Context, allowed ...string) error {
	if !ctx.HasRole(allowed...) {
		return ErrForbidden
	}
	return nil
}
