package courses

import "context"

// RepositoryPort defines data access methods for courses.
type RepositoryPort interface {
	ListCourses(ctx context.Context, limit, offset int) ([]Course, int, error)
	GetCourse(ctx context.Context, id int64) (*Course, error)
	CreateCourse(ctx context.Context, c Course) (*Course, error)
	UpdateCourse(ctx context.Context, c Course) error
	DeleteCourse(ctx context.Context, id int64) error
}

// Service handles course business logic.
type Service struct {
	repo RepositoryPort
}

// NewService builds Service instance.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// ListCourses returns one page of courses and the total count.
func (s *Service) ListCourses(ctx context.Context, limit, offset int) ([]Course, int, error) {
	return s.repo.ListCourses(ctx, limit, offset)
}

// GetCourse returns a single course.
func (s *Service) GetCourse(ctx context.Context, id int64) (*Course, error) {
	return s.repo.GetCourse(ctx, id)
}

// CreateCourse creates a new course owned by the given instructor.
func (s *Service) CreateCourse(ctx context.Context, c Course) (*Course, error) {
	return s.repo.CreateCourse(ctx, c)
}

// UpdateCourse changes a course's mutable fields.
func (s *Service) UpdateCourse(ctx context.Context, c Course) error {
	return s.repo.UpdateCourse(ctx, c)
}

// DeleteCourse removes a course.
func (s *Service) DeleteCourse(ctx context.Context, id int64) error {
	return s.repo.DeleteCourse(ctx, id)
}
