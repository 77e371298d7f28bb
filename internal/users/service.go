package users

import "context"

// RepositoryPort defines data access methods for users.
type RepositoryPort interface {
	ListUsers(ctx context.Context, limit, offset int) ([]User, int, error)
	GetUser(ctx context.Context, id int64) (*User, error)
	ListUserRoles(ctx context.Context, userID int64) ([]string, error)
}

// Service handles user business logic.
type Service struct {
	repo RepositoryPort
}

// NewService builds Service instance.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// ListUsers returns one page of users and the total count.
func (s *Service) ListUsers(ctx context.Context, limit, offset int) ([]User, int, error) {
	return s.repo.ListUsers(ctx, limit, offset)
}

// GetProfile returns the user together with their role memberships.
func (s *Service) GetProfile(ctx context.Context, id int64) (*Profile, error) {
	user, err := s.repo.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	roles, err := s.repo.ListUserRoles(ctx, id)
	if err != nil {
		return nil, err
	}
	if roles == nil {
		roles = []string{}
	}
	return &Profile{User: *user, Roles: roles}, nil
}
