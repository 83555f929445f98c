// Package access implements the stateless authorization predicate applied at
// the top of every public operation.
package access

import (
	"fmt"

	"example.com/conditioning/internal/domain"
)

// RoleAdmin grants access to every user's data; any other role restricts the
// caller to its own.
const RoleAdmin = "admin"

// Context identifies the caller of a public operation.
type Context struct {
	UserID string
	Roles  map[string]struct{}
}

// NewContext builds a caller context from a user id and role list.
func NewContext(userID string, roles ...string) Context {
	set := make(map[string]struct{}, len(roles))
	for _, role := range roles {
		if role != "" {
			set[role] = struct{}{}
		}
	}
	return Context{UserID: userID, Roles: set}
}

// IsAdmin reports whether the caller holds the admin role.
func (c Context) IsAdmin() bool {
	_, ok := c.Roles[RoleAdmin]
	return ok
}

// CanAccess reports whether the caller may touch the target user's data. An
// empty target means the operation is scoped to the caller's own data and is
// always permitted.
func CanAccess(ctx Context, targetUserID string) bool {
	if ctx.IsAdmin() {
		return true
	}
	return targetUserID == "" || targetUserID == ctx.UserID
}

// RequireAccess is CanAccess with an error instead of a boolean, for use at
// the top of façade operations. No layer below re-checks authorization.
func RequireAccess(ctx Context, targetUserID string) error {
	if CanAccess(ctx, targetUserID) {
		return nil
	}
	return fmt.Errorf("%w: user %s may not access data of user %s", domain.ErrUnauthorized, ctx.UserID, targetUserID)
}

// ResolveTarget maps an empty target user id to the caller's own id. Admins
// keep the empty target, which fan-out operations read as "all users".
func ResolveTarget(ctx Context, targetUserID string) string {
	if targetUserID == "" && !ctx.IsAdmin() {
		return ctx.UserID
	}
	return targetUserID
}
