package rbac_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zerodna/cms-authz/internal/rbac"
	"github.com/zerodna/cms-authz/internal/rbac/rbactest"
)

var ctx = context.Background()

type recordingObserver struct {
	decisions []string
}

func (o *recordingObserver) ObserveDecision(check, source string, allowed bool) {
	result := "deny"
	if allowed {
		result = "allow"
	}
	o.decisions = append(o.decisions, check+"/"+source+"/"+result)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(new(bytes.Buffer), nil))
}

func newEngine(store rbac.AuthzStore, opts ...rbac.EngineOption) *rbac.Engine {
	return rbac.NewEngine(store, quietLogger(), opts...)
}

func TestDirectGrantWithoutRoles(t *testing.T) {
	f := rbactest.NewFixture(t)
	u := f.User("u1")
	p := f.Permission("posts", "create")
	f.Direct(u, p, true, nil)

	e := newEngine(f.Store)
	assert.True(t, e.HasPermission(ctx, u.ID, "posts", "create"))
	assert.Equal(t, rbac.SourceDirect, e.Evaluate(ctx, u.ID, "posts", "create").Source)
}

func TestRoleDerivedPermission(t *testing.T) {
	f := rbactest.NewFixture(t)
	u := f.User("u1")
	r := f.Role("writer", 3)
	p := f.Permission("posts", "update")
	f.Grant(r, p)
	f.Assign(u, r, nil)

	e := newEngine(f.Store)
	assert.True(t, e.HasPermission(ctx, u.ID, "posts", "update"))
	assert.Equal(t, rbac.SourceRole, e.Evaluate(ctx, u.ID, "posts", "update").Source)
}

func TestInactivePermissionBlocksBothPaths(t *testing.T) {
	f := rbactest.NewFixture(t)
	direct := f.User("direct")
	viaRole := f.User("via-role")
	r := f.Role("writer", 3)
	p := f.Permission("posts", "delete")
	f.Grant(r, p)
	f.Assign(viaRole, r, nil)
	f.Direct(direct, p, true, nil)
	f.SetPermissionActive(p, false)

	e := newEngine(f.Store)
	assert.False(t, e.HasPermission(ctx, direct.ID, "posts", "delete"))
	assert.False(t, e.HasPermission(ctx, viaRole.ID, "posts", "delete"))
	assert.Empty(t, e.EffectivePermissions(ctx, direct.ID))
	assert.Empty(t, e.EffectivePermissions(ctx, viaRole.ID))
}

func TestInactiveRoleBlocksRolePath(t *testing.T) {
	f := rbactest.NewFixture(t)
	u := f.User("u1")
	r := f.Role("writer", 3)
	p := f.Permission("posts", "update")
	f.Grant(r, p)
	f.Assign(u, r, nil)
	f.SetRoleActive(r, false)

	e := newEngine(f.Store)
	assert.False(t, e.HasPermission(ctx, u.ID, "posts", "update"))
	assert.False(t, e.HasRole(ctx, u.ID, "writer"))
}

func TestAbsenceIsFalse(t *testing.T) {
	f := rbactest.NewFixture(t)
	u := f.User("nobody")
	obs := &recordingObserver{}

	e := newEngine(f.Store, rbac.WithObserver(obs))
	d := e.Evaluate(ctx, u.ID, "posts", "read")
	assert.False(t, d.Allowed)
	assert.NoError(t, d.Err)
	assert.Equal(t, rbac.SourceNone, d.Source)
	assert.False(t, e.HasPermission(ctx, 9999, "posts", "read"))
	assert.Equal(t, []string{}, e.EffectivePermissions(ctx, u.ID))
	assert.Contains(t, obs.decisions, "permission/none/deny")
}

func TestRevokeUserRoleRemovesGrant(t *testing.T) {
	f := rbactest.NewFixture(t)
	u := f.User("u1")
	r := f.Role("writer", 3)
	p := f.Permission("posts", "update")
	f.Grant(r, p)
	f.Assign(u, r, nil)

	e := newEngine(f.Store)
	mgr := rbac.NewAssignmentManager(f.Store, nil)
	require.True(t, e.HasPermission(ctx, u.ID, "posts", "update"))

	require.NoError(t, mgr.RevokeUserRole(ctx, u.ID, r.ID))
	assert.False(t, e.HasPermission(ctx, u.ID, "posts", "update"))
}

func TestRevokeMissingAssignmentIsNoop(t *testing.T) {
	f := rbactest.NewFixture(t)
	u := f.User("u1")
	r := f.Role("writer", 3)
	p := f.Permission("posts", "update")
	f.Grant(r, p)
	mgr := rbac.NewAssignmentManager(f.Store, nil)

	require.NoError(t, mgr.RevokeUserRole(ctx, u.ID, r.ID))
	require.NoError(t, mgr.RevokeUserPermission(ctx, u.ID, p.ID))
	require.NoError(t, mgr.RevokeRolePermission(ctx, r.ID, 424242))

	perms, err := mgr.ListRolePermissions(ctx, r.ID)
	require.NoError(t, err)
	assert.Len(t, perms, 1)
}

func TestDeleteRoleCascades(t *testing.T) {
	f := rbactest.NewFixture(t)
	u := f.User("u1")
	r := f.Role("writer", 3)
	p := f.Permission("posts", "update")
	f.Grant(r, p)
	f.Assign(u, r, nil)

	svc := rbac.NewService(f.Store)
	e := newEngine(f.Store)
	require.True(t, e.HasPermission(ctx, u.ID, "posts", "update"))

	require.NoError(t, svc.DeleteRole(ctx, r.ID))
	assert.False(t, e.HasPermission(ctx, u.ID, "posts", "update"))
	roles, err := f.Store.ListUserRoles(ctx, u.ID)
	require.NoError(t, err)
	assert.Empty(t, roles)
	perms, err := f.Store.ListRolePermissions(ctx, r.ID)
	require.NoError(t, err)
	assert.Empty(t, perms)
}

func TestHasAnyRoleIsDisjunctionOfHasRole(t *testing.T) {
	f := rbactest.NewFixture(t)
	u := f.User("u1")
	f.Assign(u, f.Role("b", 2), nil)
	f.Role("a", 1)
	f.Role("c", 3)

	e := newEngine(f.Store)
	sets := [][]string{{"a", "b", "c"}, {"a", "c"}, {"b"}, {}, {"missing"}}
	for _, names := range sets {
		want := false
		for _, n := range names {
			want = want || e.HasRole(ctx, u.ID, n)
		}
		assert.Equal(t, want, e.HasAnyRole(ctx, u.ID, names...), "roles %v", names)
	}
}

func TestEditorScenario(t *testing.T) {
	f := rbactest.NewFixture(t)
	alice := f.User("alice")
	editor := f.Role("editor", 20)
	publish := f.Permission("posts", "publish")
	del := f.Permission("posts", "delete")
	f.Grant(editor, publish)
	f.Assign(alice, editor, nil)

	e := newEngine(f.Store)
	assert.True(t, e.HasPermission(ctx, alice.ID, "posts", "publish"))
	assert.False(t, e.HasPermission(ctx, alice.ID, "posts", "delete"))

	f.Direct(alice, del, true, nil)
	assert.True(t, e.HasPermission(ctx, alice.ID, "posts", "delete"))

	f.SetPermissionActive(del, false)
	assert.False(t, e.HasPermission(ctx, alice.ID, "posts", "delete"))
	assert.Equal(t, []string{"posts.publish"}, e.EffectivePermissions(ctx, alice.ID))
}

func TestRevokePolicies(t *testing.T) {
	f := rbactest.NewFixture(t)
	u := f.User("u1")
	r := f.Role("editor", 5)
	p := f.Permission("posts", "publish")
	f.Grant(r, p)
	f.Assign(u, r, nil)
	f.Direct(u, p, false, nil)

	overrides := newEngine(f.Store)
	d := overrides.Evaluate(ctx, u.ID, "posts", "publish")
	assert.False(t, d.Allowed)
	assert.Equal(t, rbac.SourceRevoked, d.Source)
	assert.Empty(t, overrides.EffectivePermissions(ctx, u.ID))

	directOnly := newEngine(f.Store, rbac.WithRevokePolicy(rbac.RevokeDirectOnly))
	assert.True(t, directOnly.HasPermission(ctx, u.ID, "posts", "publish"))
	assert.Equal(t, []string{"posts.publish"}, directOnly.EffectivePermissions(ctx, u.ID))
	assert.Equal(t, "direct-only", directOnly.Policy().String())
}

func TestExpiredAssignmentsNeverGrant(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	soon := now.Add(time.Hour)

	f := rbactest.NewFixture(t)
	u := f.User("temp")
	r := f.Role("reviewer", 2)
	viaRole := f.Permission("pages", "read")
	direct := f.Permission("media", "upload")
	f.Grant(r, viaRole)
	f.Assign(u, r, &soon)
	f.Direct(u, direct, true, &soon)

	e := newEngine(f.Store, rbac.WithClock(clock))
	assert.True(t, e.HasPermission(ctx, u.ID, "pages", "read"))
	assert.True(t, e.HasPermission(ctx, u.ID, "media", "upload"))
	assert.True(t, e.HasRole(ctx, u.ID, "reviewer"))

	snap, err := e.Snapshot(ctx, u.ID)
	require.NoError(t, err)
	require.NotNil(t, snap.ValidUntil)
	assert.True(t, snap.ValidUntil.Equal(soon))

	now = soon
	assert.False(t, e.HasPermission(ctx, u.ID, "pages", "read"))
	assert.False(t, e.HasPermission(ctx, u.ID, "media", "upload"))
	assert.False(t, e.HasRole(ctx, u.ID, "reviewer"))
	assert.Empty(t, e.EffectivePermissions(ctx, u.ID))
}

func TestEffectivePermissionsDeduplicated(t *testing.T) {
	f := rbactest.NewFixture(t)
	u := f.User("u1")
	a := f.Role("a", 1)
	b := f.Role("b", 2)
	read := f.Permission("pages", "read")
	update := f.Permission("pages", "update")
	f.Grant(a, read)
	f.Grant(b, read)
	f.Grant(b, update)
	f.Assign(u, a, nil)
	f.Assign(u, b, nil)
	f.Direct(u, read, true, nil)

	e := newEngine(f.Store)
	assert.Equal(t, []string{"pages.read", "pages.update"}, e.EffectivePermissions(ctx, u.ID))

	snap, err := e.Snapshot(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, snap.Roles)
	assert.Nil(t, snap.ValidUntil)
}

func TestStoreErrorsFailClosed(t *testing.T) {
	f := rbactest.NewFixture(t)
	u := f.User("admin")
	r := f.Role("super_admin", 10)
	p := f.Permission("users", "delete")
	f.Grant(r, p)
	f.Assign(u, r, nil)
	f.Direct(u, p, true, nil)

	logs := new(bytes.Buffer)
	obs := &recordingObserver{}
	e := rbac.NewEngine(f.Store, slog.New(slog.NewTextHandler(logs, nil)), rbac.WithObserver(obs))
	f.Store.FailWith(errors.New("connection reset"))

	d := e.Evaluate(ctx, u.ID, "users", "delete")
	assert.False(t, d.Allowed)
	assert.Equal(t, rbac.SourceError, d.Source)
	assert.Error(t, d.Err)
	assert.False(t, e.HasRole(ctx, u.ID, "super_admin"))
	assert.False(t, e.HasAnyRole(ctx, u.ID, "super_admin", "editor"))
	assert.Equal(t, []string{}, e.EffectivePermissions(ctx, u.ID))
	assert.Contains(t, logs.String(), "connection reset")
	assert.Equal(t, []string{
		"permission/error/deny",
		"role/error/deny",
		"any_role/error/deny",
		"effective_permissions/error/deny",
	}, obs.decisions, "errors share the check label of successful decisions")
}
