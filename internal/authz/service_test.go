package authz

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// FAKE CLOCK
// ============================================================================

type fakeClock struct {
	t time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

// ============================================================================
// MOCK REPOSITORY
// ============================================================================

type mockRepository struct {
	permissions map[int64]Permission
	hierarchy   []HierarchyEdge
	roleNames   map[int64]string
	userRoles   map[int64][]int64
	rolePerms   map[int64]map[int64]RoleGrant
	userGrants  map[int64]map[int64]UserGrant
	audit       []AuditEntry

	// Error injection
	txErr        error
	readErr      error
	upsertErr    error
	auditErr     error
	memberErr    error

	userGrantReads int
}

func newMockRepository() *mockRepository {
	return &mockRepository{
		permissions: make(map[int64]Permission),
		roleNames:   make(map[int64]string),
		userRoles:   make(map[int64][]int64),
		rolePerms:   make(map[int64]map[int64]RoleGrant),
		userGrants:  make(map[int64]map[int64]UserGrant),
	}
}

func (m *mockRepository) addPermission(id int64, name string) {
	m.permissions[id] = Permission{ID: id, Name: name}
}

func (m *mockRepository) addEdge(parentID, childID int64) {
	m.hierarchy = append(m.hierarchy, HierarchyEdge{
		ParentID:   parentID,
		ParentName: m.permissions[parentID].Name,
		ChildID:    childID,
		ChildName:  m.permissions[childID].Name,
	})
}

func (m *mockRepository) addRole(id int64, name string) {
	m.roleNames[id] = name
	if m.rolePerms[id] == nil {
		m.rolePerms[id] = make(map[int64]RoleGrant)
	}
}

func (m *mockRepository) addMember(userID, roleID int64) {
	m.userRoles[userID] = append(m.userRoles[userID], roleID)
}

func (m *mockRepository) attachRolePerm(roleID, permID int64, at time.Time) {
	m.rolePerms[roleID][permID] = RoleGrant{
		RoleID:         roleID,
		PermissionID:   permID,
		PermissionName: m.permissions[permID].Name,
		AssignedAt:     at,
	}
}

func (m *mockRepository) GetPermission(_ context.Context, id int64) (*Permission, error) {
	if p, ok := m.permissions[id]; ok {
		return &p, nil
	}
	return nil, ErrNotFound
}

func (m *mockRepository) GetPermissionByName(_ context.Context, name string) (*Permission, error) {
	for _, p := range m.permissions {
		if normalizeName(p.Name) == normalizeName(name) {
			return &p, nil
		}
	}
	return nil, ErrNotFound
}

func (m *mockRepository) ListHierarchy(_ context.Context) ([]HierarchyEdge, error) {
	if m.readErr != nil {
		return nil, m.readErr
	}
	return m.hierarchy, nil
}

func (m *mockRepository) ListUserRoleNames(_ context.Context, userID int64) ([]string, error) {
	if m.readErr != nil {
		return nil, m.readErr
	}
	var names []string
	for _, roleID := range m.userRoles[userID] {
		names = append(names, m.roleNames[roleID])
	}
	return names, nil
}

func matchesNames(name string, names []string) bool {
	if names == nil {
		return true
	}
	for _, candidate := range names {
		if normalizeName(name) == candidate {
			return true
		}
	}
	return false
}

func (m *mockRepository) ListUserGrants(_ context.Context, userID int64, names []string) ([]UserGrant, error) {
	if m.readErr != nil {
		return nil, m.readErr
	}
	m.userGrantReads++
	var grants []UserGrant
	for _, g := range m.userGrants[userID] {
		if matchesNames(g.PermissionName, names) {
			grants = append(grants, g)
		}
	}
	return grants, nil
}

func (m *mockRepository) ListRoleGrants(_ context.Context, userID int64, names []string) ([]RoleGrant, error) {
	if m.readErr != nil {
		return nil, m.readErr
	}
	var grants []RoleGrant
	for _, roleID := range m.userRoles[userID] {
		for _, g := range m.rolePerms[roleID] {
			if matchesNames(g.PermissionName, names) {
				grants = append(grants, g)
			}
		}
	}
	return grants, nil
}

func (m *mockRepository) ListRoleMemberIDs(_ context.Context, roleID int64) ([]int64, error) {
	if m.memberErr != nil {
		return nil, m.memberErr
	}
	var ids []int64
	for userID, roleIDs := range m.userRoles {
		for _, id := range roleIDs {
			if id == roleID {
				ids = append(ids, userID)
			}
		}
	}
	return ids, nil
}

func (m *mockRepository) ListAuditEntries(_ context.Context, filter AuditFilter) ([]AuditEntry, int, error) {
	var matched []AuditEntry
	for _, e := range m.audit {
		if filter.UserID != 0 && e.UserID != filter.UserID {
			continue
		}
		if filter.Action != "" && e.Action != filter.Action {
			continue
		}
		matched = append(matched, e)
	}
	return matched, len(matched), nil
}

// WithTx buffers mutations and applies them only when the callback
// succeeds, mirroring transactional commit and rollback.
func (m *mockRepository) WithTx(_ context.Context, fn func(context.Context, TxRepository) error) error {
	if m.txErr != nil {
		return m.txErr
	}
	tx := &mockTx{repo: m}
	if err := fn(context.Background(), tx); err != nil {
		return err
	}
	for _, apply := range tx.pending {
		apply()
	}
	return nil
}

type mockTx struct {
	repo    *mockRepository
	pending []func()
}

func (t *mockTx) UpsertUserGrant(_ context.Context, grant UserGrant) error {
	if t.repo.upsertErr != nil {
		return t.repo.upsertErr
	}
	perm, ok := t.repo.permissions[grant.PermissionID]
	if !ok {
		return ErrNotFound
	}
	grant.PermissionName = perm.Name
	t.pending = append(t.pending, func() {
		if t.repo.userGrants[grant.UserID] == nil {
			t.repo.userGrants[grant.UserID] = make(map[int64]UserGrant)
		}
		t.repo.userGrants[grant.UserID][grant.PermissionID] = grant
	})
	return nil
}

func (t *mockTx) AttachRolePermission(_ context.Context, grant RoleGrant) error {
	perm, ok := t.repo.permissions[grant.PermissionID]
	if !ok {
		return ErrNotFound
	}
	if _, ok := t.repo.roleNames[grant.RoleID]; !ok {
		return ErrNotFound
	}
	grant.PermissionName = perm.Name
	t.pending = append(t.pending, func() {
		t.repo.rolePerms[grant.RoleID][grant.PermissionID] = grant
	})
	return nil
}

func (t *mockTx) DetachRolePermission(_ context.Context, roleID, permissionID int64) error {
	perms, ok := t.repo.rolePerms[roleID]
	if !ok {
		return ErrNotFound
	}
	if _, ok := perms[permissionID]; !ok {
		return ErrNotFound
	}
	t.pending = append(t.pending, func() {
		delete(perms, permissionID)
	})
	return nil
}

func (t *mockTx) AssignUserRole(_ context.Context, userID, roleID int64) error {
	if _, ok := t.repo.roleNames[roleID]; !ok {
		return ErrNotFound
	}
	t.pending = append(t.pending, func() {
		for _, existing := range t.repo.userRoles[userID] {
			if existing == roleID {
				return
			}
		}
		t.repo.userRoles[userID] = append(t.repo.userRoles[userID], roleID)
	})
	return nil
}

func (t *mockTx) RemoveUserRole(_ context.Context, userID, roleID int64) error {
	found := false
	for _, existing := range t.repo.userRoles[userID] {
		if existing == roleID {
			found = true
		}
	}
	if !found {
		return ErrNotFound
	}
	t.pending = append(t.pending, func() {
		roles := t.repo.userRoles[userID][:0]
		for _, existing := range t.repo.userRoles[userID] {
			if existing != roleID {
				roles = append(roles, existing)
			}
		}
		t.repo.userRoles[userID] = roles
	})
	return nil
}

func (t *mockTx) InsertAuditEntry(_ context.Context, entry AuditEntry) error {
	if t.repo.auditErr != nil {
		return t.repo.auditErr
	}
	t.pending = append(t.pending, func() {
		entry.ID = int64(len(t.repo.audit) + 1)
		t.repo.audit = append(t.repo.audit, entry)
	})
	return nil
}

// ============================================================================
// FIXTURES
// ============================================================================

const (
	permCoursesView   = int64(1)
	permCoursesCreate = int64(2)
	permCoursesManage = int64(3)
	permCoursesDelete = int64(4)
	permReportsView   = int64(5)

	roleAdmin      = int64(1)
	roleInstructor = int64(2)

	userInstructor = int64(42)
	userAdmin      = int64(7)
	userPlain      = int64(10)
	actorRoot      = int64(1)
)

type testSetup struct {
	repo    *mockRepository
	cache   *MemoryCache
	clock   *fakeClock
	service *Service
}

func newTestSetup(t *testing.T) *testSetup {
	t.Helper()
	clock := newFakeClock()
	repo := newMockRepository()
	repo.addPermission(permCoursesView, "courses.view")
	repo.addPermission(permCoursesCreate, "courses.create")
	repo.addPermission(permCoursesManage, "courses.manage")
	repo.addPermission(permCoursesDelete, "courses.delete")
	repo.addPermission(permReportsView, "reports.view")
	// courses.manage implies courses.create and courses.delete.
	repo.addEdge(permCoursesManage, permCoursesCreate)
	repo.addEdge(permCoursesManage, permCoursesDelete)

	repo.addRole(roleAdmin, "admin")
	repo.addRole(roleInstructor, "instructor")
	repo.addMember(userAdmin, roleAdmin)
	repo.addMember(userInstructor, roleInstructor)
	repo.attachRolePerm(roleInstructor, permCoursesCreate, clock.Now().Add(-time.Hour))

	cache := NewMemoryCacheWithClock(10*time.Minute, clock.Now)
	t.Cleanup(cache.Stop)

	service := NewService(repo, cache, nil, nil, Config{})
	service.now = clock.Now
	return &testSetup{repo: repo, cache: cache, clock: clock, service: service}
}

// ============================================================================
// TESTS
// ============================================================================

func TestGrantThenCheck(t *testing.T) {
	ts := newTestSetup(t)
	ctx := context.Background()

	allowed, err := ts.service.HasPermission(ctx, userPlain, "reports.view")
	require.NoError(t, err)
	assert.False(t, allowed)

	require.NoError(t, ts.service.Grant(ctx, userPlain, permReportsView, actorRoot, "pilot", nil))

	allowed, err = ts.service.HasPermission(ctx, userPlain, "reports.view")
	require.NoError(t, err)
	assert.True(t, allowed)

	require.NoError(t, ts.service.Revoke(ctx, userPlain, permReportsView, actorRoot, "pilot over"))

	allowed, err = ts.service.HasPermission(ctx, userPlain, "reports.view")
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestGrantExpiration(t *testing.T) {
	ts := newTestSetup(t)
	ctx := context.Background()

	expires := ts.clock.Now().Add(time.Hour)
	require.NoError(t, ts.service.Grant(ctx, userPlain, permReportsView, actorRoot, "temporary", &expires))

	allowed, err := ts.service.HasPermission(ctx, userPlain, "reports.view")
	require.NoError(t, err)
	assert.True(t, allowed)

	ts.clock.Advance(2 * time.Hour)

	allowed, err = ts.service.HasPermission(ctx, userPlain, "reports.view")
	require.NoError(t, err)
	assert.False(t, allowed, "an expired grant must stop applying without an explicit revoke")
}

func TestExpiredGrantIsNotADenial(t *testing.T) {
	ts := newTestSetup(t)
	ctx := context.Background()

	// Direct grant of a permission the instructor role also bundles.
	expires := ts.clock.Now().Add(time.Minute)
	require.NoError(t, ts.service.Grant(ctx, userInstructor, permCoursesCreate, actorRoot, "short lived", &expires))
	ts.clock.Advance(time.Hour)

	allowed, err := ts.service.HasPermission(ctx, userInstructor, "courses.create")
	require.NoError(t, err)
	assert.True(t, allowed, "expired direct grant must not mask the role bundle")
}

func TestRevokeOverridesRoleGrant(t *testing.T) {
	ts := newTestSetup(t)
	ctx := context.Background()

	allowed, err := ts.service.HasPermission(ctx, userInstructor, "courses.create")
	require.NoError(t, err)
	require.True(t, allowed)

	ts.clock.Advance(time.Minute)
	require.NoError(t, ts.service.Revoke(ctx, userInstructor, permCoursesCreate, actorRoot, "suspended"))

	allowed, err = ts.service.HasPermission(ctx, userInstructor, "courses.create")
	require.NoError(t, err)
	assert.False(t, allowed, "a denial newer than the role assignment wins")
}

func TestRoleAssignmentAfterDenialWins(t *testing.T) {
	ts := newTestSetup(t)
	ctx := context.Background()

	ts.clock.Advance(time.Minute)
	require.NoError(t, ts.service.Revoke(ctx, userInstructor, permCoursesCreate, actorRoot, "suspended"))

	allowed, err := ts.service.HasPermission(ctx, userInstructor, "courses.create")
	require.NoError(t, err)
	require.False(t, allowed)

	// Re-attaching the permission to the role refreshes its AssignedAt,
	// so the role grant is now newer than the denial.
	ts.clock.Advance(time.Minute)
	require.NoError(t, ts.service.AssignRolePermission(ctx, roleInstructor, permCoursesCreate, actorRoot, "reinstated"))

	allowed, err = ts.service.HasPermission(ctx, userInstructor, "courses.create")
	require.NoError(t, err)
	assert.True(t, allowed, "a role assignment newer than the denial wins")
}

func TestHierarchyDirection(t *testing.T) {
	ts := newTestSetup(t)
	ctx := context.Background()

	require.NoError(t, ts.service.Grant(ctx, userPlain, permCoursesManage, actorRoot, "manager", nil))

	allowed, err := ts.service.HasPermission(ctx, userPlain, "courses.create")
	require.NoError(t, err)
	assert.True(t, allowed, "holding the parent satisfies a check for the child")

	const other = int64(11)
	require.NoError(t, ts.service.Grant(ctx, other, permCoursesCreate, actorRoot, "creator", nil))

	allowed, err = ts.service.HasPermission(ctx, other, "courses.manage")
	require.NoError(t, err)
	assert.False(t, allowed, "holding the child must not satisfy a check for the parent")
}

func TestAdminBypass(t *testing.T) {
	ts := newTestSetup(t)
	ctx := context.Background()

	allowed, err := ts.service.HasPermission(ctx, userAdmin, "courses.create")
	require.NoError(t, err)
	assert.True(t, allowed)

	allowed, err = ts.service.HasPermission(ctx, userAdmin, "no.such.permission")
	require.NoError(t, err)
	assert.True(t, allowed, "admin bypass applies even to unknown permission names")
}

func TestUnknownPermissionDenied(t *testing.T) {
	ts := newTestSetup(t)

	allowed, err := ts.service.HasPermission(context.Background(), userPlain, "no.such.permission")
	require.NoError(t, err, "an unknown permission is not an error")
	assert.False(t, allowed)
}

func TestStoreFaultPropagates(t *testing.T) {
	ts := newTestSetup(t)
	storeErr := errors.New("connection refused")
	ts.repo.readErr = storeErr

	_, err := ts.service.HasPermission(context.Background(), userPlain, "reports.view")
	require.ErrorIs(t, err, storeErr, "store faults must never fold into a decision")

	_, err = ts.service.ListPermissions(context.Background(), userPlain)
	require.ErrorIs(t, err, storeErr)
}

func TestAuditCompleteness(t *testing.T) {
	ts := newTestSetup(t)
	ctx := context.Background()

	require.NoError(t, ts.service.Grant(ctx, userPlain, permReportsView, actorRoot, "pilot", nil))
	require.NoError(t, ts.service.Revoke(ctx, userPlain, permReportsView, actorRoot, "done"))
	require.NoError(t, ts.service.AssignRolePermission(ctx, roleInstructor, permReportsView, actorRoot, "bundle"))
	require.NoError(t, ts.service.RemoveRolePermission(ctx, roleInstructor, permReportsView, actorRoot, "unbundle"))
	require.NoError(t, ts.service.AssignRole(ctx, userPlain, roleInstructor, actorRoot, "hire"))
	require.NoError(t, ts.service.RemoveRole(ctx, userPlain, roleInstructor, actorRoot, "leave"))

	require.Len(t, ts.repo.audit, 6)
	actions := []Action{
		ActionGrant, ActionRevoke,
		ActionRoleAssign, ActionRoleRemove,
		ActionUserRoleAssign, ActionUserRoleRemove,
	}
	for i, want := range actions {
		assert.Equal(t, want, ts.repo.audit[i].Action)
		assert.Equal(t, actorRoot, ts.repo.audit[i].ChangedBy)
	}
	assert.Equal(t, userPlain, ts.repo.audit[0].UserID)
	assert.Equal(t, permReportsView, ts.repo.audit[0].PermissionID)
}

func TestFailedMutationLeavesNoAudit(t *testing.T) {
	ts := newTestSetup(t)
	ctx := context.Background()

	err := ts.service.Grant(ctx, userPlain, int64(999), actorRoot, "bogus", nil)
	require.ErrorIs(t, err, ErrNotFound)
	assert.Empty(t, ts.repo.audit, "a rolled back mutation must not leave an audit row")

	ts.repo.auditErr = errors.New("audit insert failed")
	err = ts.service.Grant(ctx, userPlain, permReportsView, actorRoot, "pilot", nil)
	require.Error(t, err)
	assert.Empty(t, ts.repo.userGrants[userPlain], "a failed audit insert must roll back the grant")
}

func TestTransactionFaultPropagates(t *testing.T) {
	ts := newTestSetup(t)
	ctx := context.Background()

	ts.repo.txErr = errors.New("begin tx: connection refused")
	err := ts.service.Grant(ctx, userPlain, permReportsView, actorRoot, "pilot", nil)
	require.ErrorIs(t, err, ts.repo.txErr)
	assert.Empty(t, ts.repo.audit)
	assert.Empty(t, ts.repo.userGrants[userPlain])
}

func TestGrantWriteFaultRollsBack(t *testing.T) {
	ts := newTestSetup(t)
	ctx := context.Background()

	ts.repo.upsertErr = errors.New("upsert failed")
	err := ts.service.Grant(ctx, userPlain, permReportsView, actorRoot, "pilot", nil)
	require.ErrorIs(t, err, ts.repo.upsertErr)
	assert.Empty(t, ts.repo.audit, "a failed write must not leave an audit row")
}

func TestMemberLookupFailureBoundedByTTL(t *testing.T) {
	ts := newTestSetup(t)
	ctx := context.Background()

	allowed, err := ts.service.HasPermission(ctx, userInstructor, "courses.create")
	require.NoError(t, err)
	require.True(t, allowed)

	// The detach commits even when member enumeration for invalidation
	// fails afterwards. Stale cached decisions then age out with the TTL.
	ts.repo.memberErr = errors.New("member scan failed")
	require.NoError(t, ts.service.RemoveRolePermission(ctx, roleInstructor, permCoursesCreate, actorRoot, "rework"))
	assert.Len(t, ts.repo.audit, 1)

	allowed, err = ts.service.HasPermission(ctx, userInstructor, "courses.create")
	require.NoError(t, err)
	assert.True(t, allowed, "stale decision may be served inside the TTL window")

	ts.clock.Advance(11 * time.Minute)
	allowed, err = ts.service.HasPermission(ctx, userInstructor, "courses.create")
	require.NoError(t, err)
	assert.False(t, allowed, "stale decision must not outlive the TTL")
}

func TestCacheCoherenceAfterMutation(t *testing.T) {
	ts := newTestSetup(t)
	ctx := context.Background()

	allowed, err := ts.service.HasPermission(ctx, userPlain, "reports.view")
	require.NoError(t, err)
	require.False(t, allowed)

	reads := ts.repo.userGrantReads
	allowed, err = ts.service.HasPermission(ctx, userPlain, "reports.view")
	require.NoError(t, err)
	require.False(t, allowed)
	assert.Equal(t, reads, ts.repo.userGrantReads, "second check should be served from cache")

	require.NoError(t, ts.service.Grant(ctx, userPlain, permReportsView, actorRoot, "pilot", nil))

	allowed, err = ts.service.HasPermission(ctx, userPlain, "reports.view")
	require.NoError(t, err)
	assert.True(t, allowed, "a check immediately after a mutation must see fresh data")
}

func TestRoleMutationInvalidatesMembers(t *testing.T) {
	ts := newTestSetup(t)
	ctx := context.Background()

	allowed, err := ts.service.HasPermission(ctx, userInstructor, "courses.create")
	require.NoError(t, err)
	require.True(t, allowed)

	require.NoError(t, ts.service.RemoveRolePermission(ctx, roleInstructor, permCoursesCreate, actorRoot, "rework"))

	allowed, err = ts.service.HasPermission(ctx, userInstructor, "courses.create")
	require.NoError(t, err)
	assert.False(t, allowed, "removing the bundle must be visible to role members at once")
}

func TestIdempotentGrant(t *testing.T) {
	ts := newTestSetup(t)
	ctx := context.Background()

	require.NoError(t, ts.service.Grant(ctx, userPlain, permReportsView, actorRoot, "first", nil))
	ts.clock.Advance(time.Minute)
	require.NoError(t, ts.service.Grant(ctx, userPlain, permReportsView, actorRoot, "second", nil))

	require.Len(t, ts.repo.userGrants[userPlain], 1, "repeated grants supersede, they never accumulate")

	require.NoError(t, ts.service.Revoke(ctx, userPlain, permReportsView, actorRoot, "done"))
	allowed, err := ts.service.HasPermission(ctx, userPlain, "reports.view")
	require.NoError(t, err)
	assert.False(t, allowed, "one revoke must fully retire a twice-granted permission")
}

func TestListPermissionsScenario(t *testing.T) {
	ts := newTestSetup(t)
	ctx := context.Background()

	perms, err := ts.service.ListPermissions(ctx, userInstructor)
	require.NoError(t, err)
	assert.Equal(t, []string{"courses.create"}, perms)

	require.NoError(t, ts.service.Grant(ctx, userInstructor, permCoursesDelete, actorRoot, "pilot", nil))

	perms, err = ts.service.ListPermissions(ctx, userInstructor)
	require.NoError(t, err)
	assert.Equal(t, []string{"courses.create", "courses.delete"}, perms)

	entries, total, err := ts.service.AuditTrail(ctx, AuditFilter{UserID: userInstructor, Action: ActionGrant})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	assert.Equal(t, permCoursesDelete, entries[0].PermissionID)
}

func TestListPermissionsDoesNotExpandHierarchy(t *testing.T) {
	ts := newTestSetup(t)
	ctx := context.Background()

	require.NoError(t, ts.service.Grant(ctx, userPlain, permCoursesManage, actorRoot, "manager", nil))

	perms, err := ts.service.ListPermissions(ctx, userPlain)
	require.NoError(t, err)
	assert.Equal(t, []string{"courses.manage"}, perms, "listing returns literal assignments only")

	allowed, err := ts.service.HasPermission(ctx, userPlain, "courses.delete")
	require.NoError(t, err)
	assert.True(t, allowed, "point checks still honour the hierarchy")
}

func TestRemoveRolePermissionNotFound(t *testing.T) {
	ts := newTestSetup(t)

	err := ts.service.RemoveRolePermission(context.Background(), roleInstructor, permCoursesDelete, actorRoot, "noop")
	require.ErrorIs(t, err, ErrNotFound)
	assert.Empty(t, ts.repo.audit)
}
