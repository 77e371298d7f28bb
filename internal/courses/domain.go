// Package courses manages the course catalogue. Every route is gated by
// the authorization engine; the broader courses.manage permission implies
// the narrower create, edit and delete permissions through the hierarchy.
package courses

import "time"

// Course represents a published or draft course.
type Course struct {
	ID           int64     `json:"id"`
	Code         string    `json:"code"`
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	InstructorID int64     `json:"instructor_id"`
	IsPublished  bool      `json:"is_published"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
