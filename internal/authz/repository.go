package authz

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository defines persistence operations for the authorization engine.
// List methods that accept a names slice treat nil as "all permissions".
type Repository interface {
	GetPermission(ctx context.Context, id int64) (*Permission, error)
	GetPermissionByName(ctx context.Context, name string) (*Permission, error)
	ListHierarchy(ctx context.Context) ([]HierarchyEdge, error)
	ListUserRoleNames(ctx context.Context, userID int64) ([]string, error)
	ListUserGrants(ctx context.Context, userID int64, names []string) ([]UserGrant, error)
	ListRoleGrants(ctx context.Context, userID int64, names []string) ([]RoleGrant, error)
	ListRoleMemberIDs(ctx context.Context, roleID int64) ([]int64, error)
	ListAuditEntries(ctx context.Context, filter AuditFilter) ([]AuditEntry, int, error)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes the mutation operations available inside a
// transaction. Every mutation commits together with its audit entry or not
// at all.
type TxRepository interface {
	UpsertUserGrant(ctx context.Context, grant UserGrant) error
	AttachRolePermission(ctx context.Context, grant RoleGrant) error
	DetachRolePermission(ctx context.Context, roleID, permissionID int64) error
	AssignUserRole(ctx context.Context, userID, roleID int64) error
	RemoveUserRole(ctx context.Context, userID, roleID int64) error
	InsertAuditEntry(ctx context.Context, entry AuditEntry) error
}

// PGRepository provides PostgreSQL backed persistence.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

var _ Repository = (*PGRepository)(nil)

// GetPermission fetches a permission by id.
func (r *PGRepository) GetPermission(ctx context.Context, id int64) (*Permission, error) {
	row := r.pool.QueryRow(ctx, `SELECT id, name, category_id, description FROM permissions WHERE id = $1`, id)
	return scanPermission(row)
}

// GetPermissionByName fetches a permission by its case-insensitive name.
func (r *PGRepository) GetPermissionByName(ctx context.Context, name string) (*Permission, error) {
	row := r.pool.QueryRow(ctx, `SELECT id, name, category_id, description FROM permissions WHERE lower(name) = $1`, normalizeName(name))
	return scanPermission(row)
}

func scanPermission(row pgx.Row) (*Permission, error) {
	var p Permission
	if err := row.Scan(&p.ID, &p.Name, &p.CategoryID, &p.Description); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

// ListHierarchy returns every declared parent/child permission edge.
func (r *PGRepository) ListHierarchy(ctx context.Context) ([]HierarchyEdge, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT h.parent_permission_id, p.name, h.child_permission_id, c.name
		FROM permission_hierarchy h
		JOIN permissions p ON p.id = h.parent_permission_id
		JOIN permissions c ON c.id = h.child_permission_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var edges []HierarchyEdge
	for rows.Next() {
		var e HierarchyEdge
		if err := rows.Scan(&e.ParentID, &e.ParentName, &e.ChildID, &e.ChildName); err != nil {
			return nil, err
		}
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

// ListUserRoleNames returns the names of every role the user holds.
func (r *PGRepository) ListUserRoleNames(ctx context.Context, userID int64) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT r.name FROM roles r
		JOIN user_roles ur ON ur.role_id = r.id
		WHERE ur.user_id = $1`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// ListUserGrants returns the user's direct grant/denial rows, optionally
// restricted to the given permission names (already normalized).
func (r *PGRepository) ListUserGrants(ctx context.Context, userID int64, names []string) ([]UserGrant, error) {
	query := `
		SELECT up.user_id, up.permission_id, p.name, up.is_grant, up.assigned_by, up.assigned_at, up.expires_at
		FROM user_permissions up
		JOIN permissions p ON p.id = up.permission_id
		WHERE up.user_id = $1`
	args := []any{userID}
	if names != nil {
		query += ` AND lower(p.name) = ANY($2)`
		args = append(args, names)
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var grants []UserGrant
	for rows.Next() {
		var g UserGrant
		if err := rows.Scan(&g.UserID, &g.PermissionID, &g.PermissionName, &g.IsGrant, &g.AssignedBy, &g.AssignedAt, &g.ExpiresAt); err != nil {
			return nil, err
		}
		grants = append(grants, g)
	}
	return grants, rows.Err()
}

// ListRoleGrants returns the role-bundled permission rows reachable through
// the user's role memberships, optionally restricted to the given
// permission names (already normalized).
func (r *PGRepository) ListRoleGrants(ctx context.Context, userID int64, names []string) ([]RoleGrant, error) {
	query := `
		SELECT rp.role_id, rp.permission_id, p.name, rp.assigned_by, rp.assigned_at, COALESCE(rp.reason, '')
		FROM role_permissions rp
		JOIN permissions p ON p.id = rp.permission_id
		JOIN user_roles ur ON ur.role_id = rp.role_id
		WHERE ur.user_id = $1`
	args := []any{userID}
	if names != nil {
		query += ` AND lower(p.name) = ANY($2)`
		args = append(args, names)
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var grants []RoleGrant
	for rows.Next() {
		var g RoleGrant
		if err := rows.Scan(&g.RoleID, &g.PermissionID, &g.PermissionName, &g.AssignedBy, &g.AssignedAt, &g.Reason); err != nil {
			return nil, err
		}
		grants = append(grants, g)
	}
	return grants, rows.Err()
}

// ListRoleMemberIDs returns every user currently holding the role.
func (r *PGRepository) ListRoleMemberIDs(ctx context.Context, roleID int64) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT user_id FROM user_roles WHERE role_id = $1`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListAuditEntries returns audit rows matching the filter, newest first,
// together with the total match count.
func (r *PGRepository) ListAuditEntries(ctx context.Context, filter AuditFilter) ([]AuditEntry, int, error) {
	where := ` WHERE ($1 = 0 OR user_id = $1) AND ($2 = '' OR action = $2)`
	args := []any{filter.UserID, string(filter.Action)}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM authz_audit_log`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `
		SELECT id, user_id, role_id, permission_id, action, changed_by, changed_at, COALESCE(reason, '')
		FROM authz_audit_log` + where + `
		ORDER BY changed_at DESC, id DESC
		LIMIT $3 OFFSET $4`
	rows, err := r.pool.Query(ctx, query, append(args, filter.limit(), filter.offset())...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var entries []AuditEntry
	for rows.Next() {
		var e AuditEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.RoleID, &e.PermissionID, &e.Action, &e.ChangedBy, &e.ChangedAt, &e.Reason); err != nil {
			return nil, 0, err
		}
		entries = append(entries, e)
	}
	return entries, total, rows.Err()
}

// WithTx wraps callback in a repeatable-read transaction.
func (r *PGRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return err
	}
	if err := fn(ctx, &txRepo{tx: tx}); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

type txRepo struct {
	tx pgx.Tx
}

// UpsertUserGrant writes the authoritative direct row for the user and
// permission. Repeated grants supersede rather than accumulate.
func (t *txRepo) UpsertUserGrant(ctx context.Context, grant UserGrant) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO user_permissions (user_id, permission_id, is_grant, assigned_by, assigned_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id, permission_id) DO UPDATE SET
			is_grant = EXCLUDED.is_grant,
			assigned_by = EXCLUDED.assigned_by,
			assigned_at = EXCLUDED.assigned_at,
			expires_at = EXCLUDED.expires_at`,
		grant.UserID, grant.PermissionID, grant.IsGrant, grant.AssignedBy, grant.AssignedAt, grant.ExpiresAt)
	return mapConstraintError(err)
}

// AttachRolePermission bundles a permission into a role, idempotently.
func (t *txRepo) AttachRolePermission(ctx context.Context, grant RoleGrant) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO role_permissions (role_id, permission_id, assigned_by, assigned_at, reason)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''))
		ON CONFLICT (role_id, permission_id) DO UPDATE SET
			assigned_by = EXCLUDED.assigned_by,
			assigned_at = EXCLUDED.assigned_at,
			reason = EXCLUDED.reason`,
		grant.RoleID, grant.PermissionID, grant.AssignedBy, grant.AssignedAt, grant.Reason)
	return mapConstraintError(err)
}

// DetachRolePermission removes a permission from a role. Returns
// ErrNotFound when the role did not bundle the permission.
func (t *txRepo) DetachRolePermission(ctx context.Context, roleID, permissionID int64) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM role_permissions WHERE role_id = $1 AND permission_id = $2`, roleID, permissionID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// AssignUserRole adds the user to the role, idempotently.
func (t *txRepo) AssignUserRole(ctx context.Context, userID, roleID int64) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO user_roles (user_id, role_id)
		VALUES ($1, $2)
		ON CONFLICT (user_id, role_id) DO NOTHING`, userID, roleID)
	return mapConstraintError(err)
}

// RemoveUserRole removes the user from the role. Returns ErrNotFound when
// the membership did not exist.
func (t *txRepo) RemoveUserRole(ctx context.Context, userID, roleID int64) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM user_roles WHERE user_id = $1 AND role_id = $2`, userID, roleID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// InsertAuditEntry appends one audit row. There is no update or delete
// counterpart anywhere in the engine.
func (t *txRepo) InsertAuditEntry(ctx context.Context, entry AuditEntry) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO authz_audit_log (user_id, role_id, permission_id, action, changed_by, changed_at, reason)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''))`,
		entry.UserID, entry.RoleID, entry.PermissionID, string(entry.Action), entry.ChangedBy, entry.ChangedAt, entry.Reason)
	return err
}

// mapConstraintError translates foreign-key violations on unknown
// permission, role, or user ids into ErrNotFound.
func mapConstraintError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23503" {
		return ErrNotFound
	}
	return err
}
