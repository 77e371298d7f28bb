// Package roles manages the role catalogue. Attaching permissions to a
// role and enrolling users into one go through the authorization engine so
// the changes are audited and cached decisions are invalidated.
package roles

import "time"

// Role represents a named permission bundle.
type Role struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// RoleDetail is a role together with the permission names it bundles.
type RoleDetail struct {
	Role        Role     `json:"role"`
	Permissions []string `json:"permissions"`
}
