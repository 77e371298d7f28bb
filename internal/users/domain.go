// Package users manages learner and staff accounts.
package users

import "time"

// User represents a platform account.
type User struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Profile is a user together with their role memberships.
type Profile struct {
	User  User     `json:"user"`
	Roles []string `json:"roles"`
}
