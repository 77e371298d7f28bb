// Package authz implements the platform's authorization engine: role and
// grant based permission resolution with a permission hierarchy, a short-TTL
// decision cache, and an append-only audit trail of every mutation.
package authz

import (
	"errors"
	"strings"
	"time"
)

// ErrNotFound indicates that the requested record does not exist.
var ErrNotFound = errors.New("authz: not found")

// DefaultAdminRole is the distinguished role whose members bypass
// permission checks entirely.
const DefaultAdminRole = "admin"

// Action identifies the kind of mutation recorded in the audit log.
type Action string

const (
	ActionGrant          Action = "GRANT"
	ActionRevoke         Action = "REVOKE"
	ActionRoleAssign     Action = "ROLE_ASSIGN"
	ActionRoleRemove     Action = "ROLE_REMOVE"
	ActionUserRoleAssign Action = "USER_ROLE_ASSIGN"
	ActionUserRoleRemove Action = "USER_ROLE_REMOVE"
)

// Permission represents an atomic capability identified by a unique name.
type Permission struct {
	ID          int64
	Name        string
	CategoryID  int64
	Description string
}

// HierarchyEdge declares that holding the parent permission satisfies a
// check for the child permission. The reverse never holds.
type HierarchyEdge struct {
	ParentID   int64
	ParentName string
	ChildID    int64
	ChildName  string
}

// Role represents a named bundle of permissions assignable to many users.
type Role struct {
	ID          int64
	Name        string
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// RoleGrant ties a permission to a role.
type RoleGrant struct {
	RoleID         int64
	PermissionID   int64
	PermissionName string
	AssignedBy     int64
	AssignedAt     time.Time
	Reason         string
}

// UserGrant is a direct per-user grant or denial. At most one row per
// (user, permission) is authoritative; mutations upsert it in place so the
// latest writer always wins.
type UserGrant struct {
	UserID         int64
	PermissionID   int64
	PermissionName string
	IsGrant        bool
	AssignedBy     int64
	AssignedAt     time.Time
	ExpiresAt      *time.Time
}

// Active reports whether the grant still allows the permission at the given
// instant. An expired grant behaves as if absent, never as a denial.
func (g UserGrant) Active(now time.Time) bool {
	return g.IsGrant && !g.Expired(now)
}

// Expired reports whether the grant's expiration has elapsed.
func (g UserGrant) Expired(now time.Time) bool {
	return g.ExpiresAt != nil && !g.ExpiresAt.After(now)
}

// AuditEntry is an append-only record of a permission mutation. Entries are
// never updated or deleted once written.
type AuditEntry struct {
	ID           int64
	UserID       int64 // zero for role-permission mutations
	RoleID       int64 // zero for direct user grants and revocations
	PermissionID int64 // zero for user-role membership mutations
	Action       Action
	ChangedBy    int64
	ChangedAt    time.Time
	Reason       string
}

// normalizeName canonicalizes a permission or role name for comparison.
// Permission names are case-insensitive throughout the engine.
func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
