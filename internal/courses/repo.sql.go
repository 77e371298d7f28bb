package courses

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aula-lms/aula-lms/internal/platform/httpx"
	"github.com/aula-lms/aula-lms/internal/shared"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const courseColumns = `id, code, title, description, instructor_id, is_published, created_at, updated_at`

func scanCourse(row pgx.Row) (*Course, error) {
	var c Course
	err := row.Scan(&c.ID, &c.Code, &c.Title, &c.Description, &c.InstructorID, &c.IsPublished, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, shared.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListCourses returns one page of courses and the total count.
func (r *Repository) ListCourses(ctx context.Context, limit, offset int) ([]Course, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM courses`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+courseColumns+`
		FROM courses
		ORDER BY code
		LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var result []Course
	for rows.Next() {
		var c Course
		if err := rows.Scan(&c.ID, &c.Code, &c.Title, &c.Description, &c.InstructorID, &c.IsPublished, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, 0, err
		}
		result = append(result, c)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return result, total, nil
}

// GetCourse returns a single course by id.
func (r *Repository) GetCourse(ctx context.Context, id int64) (*Course, error) {
	return scanCourse(r.pool.QueryRow(ctx, `
		SELECT `+courseColumns+`
		FROM courses
		WHERE id = $1`, id))
}

// CreateCourse inserts a new course.
func (r *Repository) CreateCourse(ctx context.Context, c Course) (*Course, error) {
	created, err := scanCourse(r.pool.QueryRow(ctx, `
		INSERT INTO courses (code, title, description, instructor_id, is_published, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		RETURNING `+courseColumns,
		c.Code, c.Title, c.Description, c.InstructorID, c.IsPublished))
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return nil, httpx.ErrDuplicate
	}
	return created, err
}

// UpdateCourse changes a course's mutable fields.
func (r *Repository) UpdateCourse(ctx context.Context, c Course) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE courses
		SET title = $2, description = $3, is_published = $4, updated_at = NOW()
		WHERE id = $1`,
		c.ID, c.Title, c.Description, c.IsPublished)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// DeleteCourse removes a course.
func (r *Repository) DeleteCourse(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM courses WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}
