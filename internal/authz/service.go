package authz

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/singleflight"
)

// Config controls engine behaviour.
type Config struct {
	// AdminRole names the distinguished role whose members pass every
	// permission check without consulting the cache or the store's
	// permission tables. Defaults to DefaultAdminRole.
	AdminRole string
	// MaxHierarchyDepth bounds the hierarchy walk. Zero selects the
	// default.
	MaxHierarchyDepth int
}

// Service is the authorization engine facade. Reads are served through the
// decision cache; mutations write the store and the audit log in one
// transaction and then invalidate affected cache entries.
type Service struct {
	repo      Repository
	resolver  HierarchyResolver
	cache     DecisionCache
	audit     *AuditWriter
	metrics   *Metrics
	logger    *slog.Logger
	now       func() time.Time
	adminRole string
	flight    singleflight.Group
}

// NewService constructs the engine. The cache and metrics may be nil; a nil
// cache simply sends every read to the store.
func NewService(repo Repository, cache DecisionCache, metrics *Metrics, logger *slog.Logger, cfg Config) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.AdminRole == "" {
		cfg.AdminRole = DefaultAdminRole
	}
	return &Service{
		repo:      repo,
		resolver:  NewHierarchyResolver(repo, cfg.MaxHierarchyDepth),
		cache:     cache,
		audit:     NewAuditWriter(),
		metrics:   metrics,
		logger:    logger,
		now:       time.Now,
		adminRole: normalizeName(cfg.AdminRole),
	}
}

// HasPermission answers a point authorization check. An unknown permission
// name is not an error and yields false; a store fault is returned as an
// error and never folded into a decision.
func (s *Service) HasPermission(ctx context.Context, userID int64, permission string) (bool, error) {
	permission = normalizeName(permission)
	if permission == "" {
		return false, nil
	}
	start := s.now()

	admin, err := s.isAdmin(ctx, userID)
	if err != nil {
		s.metrics.ObserveCheck("error", s.now().Sub(start))
		return false, err
	}
	if admin {
		s.metrics.ObserveCheck("allow_admin", s.now().Sub(start))
		return true, nil
	}

	if s.cache != nil {
		if allowed, ok := s.cache.GetDecision(ctx, userID, permission); ok {
			s.metrics.ObserveCacheEvent("hit")
			s.metrics.ObserveCheck(decisionLabel(allowed), s.now().Sub(start))
			return allowed, nil
		}
		s.metrics.ObserveCacheEvent("miss")
	}

	// Concurrent misses for the same key resolve once.
	value, err, _ := s.flight.Do(decisionKey(userID, permission), func() (any, error) {
		return s.resolveDecision(ctx, userID, permission)
	})
	if err != nil {
		s.metrics.ObserveCheck("error", s.now().Sub(start))
		return false, err
	}
	allowed := value.(bool)

	if s.cache != nil {
		s.cache.SetDecision(ctx, userID, permission, allowed)
	}
	s.metrics.ObserveCheck(decisionLabel(allowed), s.now().Sub(start))
	return allowed, nil
}

// ListPermissions returns the user's literal effective permission names,
// sorted. The hierarchy is deliberately not expanded here: listing shows
// what was assigned, while point checks honour implication.
func (s *Service) ListPermissions(ctx context.Context, userID int64) ([]string, error) {
	if s.cache != nil {
		if set, ok := s.cache.GetPermissionSet(ctx, userID); ok {
			s.metrics.ObserveCacheEvent("hit")
			return set, nil
		}
		s.metrics.ObserveCacheEvent("miss")
	}

	effective, err := s.effectiveAmong(ctx, userID, nil)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(effective))
	for name := range effective {
		names = append(names, name)
	}
	sort.Strings(names)

	if s.cache != nil {
		s.cache.SetPermissionSet(ctx, userID, names)
	}
	return names, nil
}

// Grant gives the user a direct permission, optionally time-bounded.
// Granting an already granted permission supersedes the previous row
// rather than erroring or duplicating it.
func (s *Service) Grant(ctx context.Context, userID, permissionID, assignedBy int64, reason string, expiresAt *time.Time) error {
	now := s.now().UTC()
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		grant := UserGrant{
			UserID:       userID,
			PermissionID: permissionID,
			IsGrant:      true,
			AssignedBy:   assignedBy,
			AssignedAt:   now,
			ExpiresAt:    expiresAt,
		}
		if err := tx.UpsertUserGrant(ctx, grant); err != nil {
			return err
		}
		return s.audit.Record(ctx, tx, AuditEntry{
			UserID:       userID,
			PermissionID: permissionID,
			Action:       ActionGrant,
			ChangedBy:    assignedBy,
			ChangedAt:    now,
			Reason:       reason,
		})
	})
	if err != nil {
		return err
	}
	s.metrics.ObserveMutation(ActionGrant)
	s.invalidateUser(ctx, userID)
	return nil
}

// Revoke writes an explicit denial for the user and permission. It always
// succeeds even when no prior grant existed: a denial is a first-class
// assertion, not merely an absence.
func (s *Service) Revoke(ctx context.Context, userID, permissionID, revokedBy int64, reason string) error {
	now := s.now().UTC()
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		denial := UserGrant{
			UserID:       userID,
			PermissionID: permissionID,
			IsGrant:      false,
			AssignedBy:   revokedBy,
			AssignedAt:   now,
		}
		if err := tx.UpsertUserGrant(ctx, denial); err != nil {
			return err
		}
		return s.audit.Record(ctx, tx, AuditEntry{
			UserID:       userID,
			PermissionID: permissionID,
			Action:       ActionRevoke,
			ChangedBy:    revokedBy,
			ChangedAt:    now,
			Reason:       reason,
		})
	})
	if err != nil {
		return err
	}
	s.metrics.ObserveMutation(ActionRevoke)
	s.invalidateUser(ctx, userID)
	return nil
}

// AssignRolePermission bundles a permission into a role and invalidates
// every current member of the role.
func (s *Service) AssignRolePermission(ctx context.Context, roleID, permissionID, actorID int64, reason string) error {
	now := s.now().UTC()
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		grant := RoleGrant{
			RoleID:       roleID,
			PermissionID: permissionID,
			AssignedBy:   actorID,
			AssignedAt:   now,
			Reason:       reason,
		}
		if err := tx.AttachRolePermission(ctx, grant); err != nil {
			return err
		}
		return s.audit.Record(ctx, tx, AuditEntry{
			RoleID:       roleID,
			PermissionID: permissionID,
			Action:       ActionRoleAssign,
			ChangedBy:    actorID,
			ChangedAt:    now,
			Reason:       reason,
		})
	})
	if err != nil {
		return err
	}
	s.metrics.ObserveMutation(ActionRoleAssign)
	s.invalidateRoleMembers(ctx, roleID)
	return nil
}

// RemoveRolePermission detaches a permission from a role and invalidates
// every current member. Returns ErrNotFound when the role did not bundle
// the permission; in that case no audit entry is written.
func (s *Service) RemoveRolePermission(ctx context.Context, roleID, permissionID, actorID int64, reason string) error {
	now := s.now().UTC()
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.DetachRolePermission(ctx, roleID, permissionID); err != nil {
			return err
		}
		return s.audit.Record(ctx, tx, AuditEntry{
			RoleID:       roleID,
			PermissionID: permissionID,
			Action:       ActionRoleRemove,
			ChangedBy:    actorID,
			ChangedAt:    now,
			Reason:       reason,
		})
	})
	if err != nil {
		return err
	}
	s.metrics.ObserveMutation(ActionRoleRemove)
	s.invalidateRoleMembers(ctx, roleID)
	return nil
}

// AssignRole adds the user to a role. Membership changes alter effective
// permissions, so they run through the same audited transactional path as
// grants.
func (s *Service) AssignRole(ctx context.Context, userID, roleID, actorID int64, reason string) error {
	now := s.now().UTC()
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.AssignUserRole(ctx, userID, roleID); err != nil {
			return err
		}
		return s.audit.Record(ctx, tx, AuditEntry{
			UserID:    userID,
			RoleID:    roleID,
			Action:    ActionUserRoleAssign,
			ChangedBy: actorID,
			ChangedAt: now,
			Reason:    reason,
		})
	})
	if err != nil {
		return err
	}
	s.metrics.ObserveMutation(ActionUserRoleAssign)
	s.invalidateUser(ctx, userID)
	return nil
}

// RemoveRole removes the user from a role. Returns ErrNotFound when the
// membership did not exist.
func (s *Service) RemoveRole(ctx context.Context, userID, roleID, actorID int64, reason string) error {
	now := s.now().UTC()
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.RemoveUserRole(ctx, userID, roleID); err != nil {
			return err
		}
		return s.audit.Record(ctx, tx, AuditEntry{
			UserID:    userID,
			RoleID:    roleID,
			Action:    ActionUserRoleRemove,
			ChangedBy: actorID,
			ChangedAt: now,
			Reason:    reason,
		})
	})
	if err != nil {
		return err
	}
	s.metrics.ObserveMutation(ActionUserRoleRemove)
	s.invalidateUser(ctx, userID)
	return nil
}

// AuditTrail lists audit entries matching the filter, newest first, with
// the total match count.
func (s *Service) AuditTrail(ctx context.Context, filter AuditFilter) ([]AuditEntry, int, error) {
	return s.repo.ListAuditEntries(ctx, filter)
}

func (s *Service) isAdmin(ctx context.Context, userID int64) (bool, error) {
	roles, err := s.repo.ListUserRoleNames(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, role := range roles {
		if normalizeName(role) == s.adminRole {
			return true, nil
		}
	}
	return false, nil
}

func (s *Service) resolveDecision(ctx context.Context, userID int64, permission string) (bool, error) {
	closure, err := s.resolver.Resolve(ctx, permission)
	if err != nil {
		return false, err
	}
	effective, err := s.effectiveAmong(ctx, userID, closure)
	if err != nil {
		return false, err
	}
	return len(effective) > 0, nil
}

// permissionState accumulates everything known about one permission name
// for a user before the decision rules apply.
type permissionState struct {
	direct       *UserGrant
	bundled      bool
	lastRoleDate time.Time
}

// effectiveAmong returns the subset of names the user effectively holds.
// A nil names slice considers every permission assigned to the user
// directly or through roles.
//
// Per permission, the authoritative direct row decides first: an active
// grant allows, an expired grant counts as absent, and a denial blocks any
// role bundle unless some role acquired the permission after the denial
// was asserted (last writer wins on AssignedAt). With no direct row, any
// role bundle allows.
func (s *Service) effectiveAmong(ctx context.Context, userID int64, names []string) (map[string]struct{}, error) {
	direct, err := s.repo.ListUserGrants(ctx, userID, names)
	if err != nil {
		return nil, err
	}
	bundled, err := s.repo.ListRoleGrants(ctx, userID, names)
	if err != nil {
		return nil, err
	}

	states := make(map[string]*permissionState)
	get := func(name string) *permissionState {
		if st, ok := states[name]; ok {
			return st
		}
		st := &permissionState{}
		states[name] = st
		return st
	}
	for i := range direct {
		grant := direct[i]
		st := get(normalizeName(grant.PermissionName))
		// The store keeps one row per (user, permission); if history ever
		// leaks through, the most recent row is authoritative.
		if st.direct == nil || grant.AssignedAt.After(st.direct.AssignedAt) {
			st.direct = &grant
		}
	}
	for _, grant := range bundled {
		st := get(normalizeName(grant.PermissionName))
		st.bundled = true
		if grant.AssignedAt.After(st.lastRoleDate) {
			st.lastRoleDate = grant.AssignedAt
		}
	}

	now := s.now()
	effective := make(map[string]struct{})
	for name, st := range states {
		if st.satisfied(now) {
			effective[name] = struct{}{}
		}
	}
	return effective, nil
}

func (st *permissionState) satisfied(now time.Time) bool {
	if st.direct != nil {
		if st.direct.Active(now) {
			return true
		}
		if !st.direct.IsGrant {
			// Explicit denial: only a role assignment newer than the
			// denial overrides it.
			return st.bundled && st.lastRoleDate.After(st.direct.AssignedAt)
		}
		// Expired grant behaves as absent; fall through to role bundles.
	}
	return st.bundled
}

func (s *Service) invalidateUser(ctx context.Context, userID int64) {
	if s.cache == nil {
		return
	}
	s.metrics.ObserveCacheEvent("invalidate")
	if err := s.cache.InvalidateUser(ctx, userID); err != nil {
		// Stale entries age out with the cache TTL.
		s.logger.Warn("authz cache invalidation failed",
			slog.Int64("user_id", userID),
			slog.Any("error", err))
	}
}

func (s *Service) invalidateRoleMembers(ctx context.Context, roleID int64) {
	if s.cache == nil {
		return
	}
	members, err := s.repo.ListRoleMemberIDs(ctx, roleID)
	if err != nil {
		s.logger.Warn("authz role member lookup for invalidation failed",
			slog.Int64("role_id", roleID),
			slog.Any("error", err))
		return
	}
	for _, userID := range members {
		s.invalidateUser(ctx, userID)
	}
}

func decisionLabel(allowed bool) string {
	if allowed {
		return "allow"
	}
	return "deny"
}
