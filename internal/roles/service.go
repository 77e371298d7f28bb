package roles

import "context"

// RepositoryPort defines data access methods for roles.
type RepositoryPort interface {
	ListRoles(ctx context.Context) ([]Role, error)
	GetRole(ctx context.Context, id int64) (*Role, error)
	ListRolePermissions(ctx context.Context, roleID int64) ([]string, error)
	CreateRole(ctx context.Context, name, description string) (*Role, error)
	UpdateRole(ctx context.Context, id int64, description string) error
	DeleteRole(ctx context.Context, id int64) error
}

// Service handles role business logic.
type Service struct {
	repo RepositoryPort
}

// NewService builds Service instance.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// ListRoles returns all roles.
func (s *Service) ListRoles(ctx context.Context) ([]Role, error) {
	return s.repo.ListRoles(ctx)
}

// GetDetail returns the role together with its bundled permission names.
func (s *Service) GetDetail(ctx context.Context, id int64) (*RoleDetail, error) {
	role, err := s.repo.GetRole(ctx, id)
	if err != nil {
		return nil, err
	}
	permissions, err := s.repo.ListRolePermissions(ctx, id)
	if err != nil {
		return nil, err
	}
	if permissions == nil {
		permissions = []string{}
	}
	return &RoleDetail{Role: *role, Permissions: permissions}, nil
}

// CreateRole creates a new role.
func (s *Service) CreateRole(ctx context.Context, name, description string) (*Role, error) {
	return s.repo.CreateRole(ctx, name, description)
}

// UpdateRole changes a role's description.
func (s *Service) UpdateRole(ctx context.Context, id int64, description string) error {
	return s.repo.UpdateRole(ctx, id, description)
}

// DeleteRole removes a role.
func (s *Service) DeleteRole(ctx context.Context, id int64) error {
	return s.repo.DeleteRole(ctx, id)
}
