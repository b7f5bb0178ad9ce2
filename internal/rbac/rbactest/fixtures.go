package rbactest

import (
	"context"
	"testing"
	"time"

	"github.com/zerodna/cms-authz/internal/rbac"
)

// Fixture creates rows directly in a Store and fails the test on error.
type Fixture struct {
	t     testing.TB
	Store *Store
}

// NewFixture returns a fixture over a fresh store.
func NewFixture(t testing.TB) *Fixture {
	t.Helper()
	return &Fixture{t: t, Store: NewStore()}
}

func (f *Fixture) check(err error) {
	f.t.Helper()
	if err != nil {
		f.t.Fatalf("fixture: %v", err)
	}
}

// User creates an active user with an unusable password hash.
func (f *Fixture) User(username string) rbac.User {
	f.t.Helper()
	u, err := f.Store.CreateUser(context.Background(), rbac.NewUser{
		Username: username,
		Email:    username + "@example.com",
	}, "!")
	f.check(err)
	return u
}

// Role creates an active role.
func (f *Fixture) Role(name string, level int) rbac.Role {
	f.t.Helper()
	r, err := f.Store.CreateRole(context.Background(), rbac.NewRole{Name: name, DisplayName: name, Level: level})
	f.check(err)
	return r
}

// Permission creates an active permission named resource.action.
func (f *Fixture) Permission(resource, action string) rbac.Permission {
	f.t.Helper()
	p, err := f.Store.CreatePermission(context.Background(), rbac.NewPermission{
		Name:     rbac.PermissionKey(resource, action),
		Resource: resource,
		Action:   action,
	})
	f.check(err)
	return p
}

// Grant links a permission to a role.
func (f *Fixture) Grant(role rbac.Role, perm rbac.Permission) {
	f.t.Helper()
	_, err := f.Store.UpsertRolePermission(context.Background(), role.ID, perm.ID)
	f.check(err)
}

// Assign gives a user a role, optionally expiring.
func (f *Fixture) Assign(user rbac.User, role rbac.Role, expiresAt *time.Time) {
	f.t.Helper()
	_, err := f.Store.UpsertUserRole(context.Background(), rbac.UserRoleAssignment{UserID: user.ID, RoleID: role.ID, ExpiresAt: expiresAt})
	f.check(err)
}

// Direct records a direct grant (granted) or explicit revoke (!granted).
func (f *Fixture) Direct(user rbac.User, perm rbac.Permission, granted bool, expiresAt *time.Time) {
	f.t.Helper()
	_, err := f.Store.UpsertUserPermission(context.Background(), rbac.UserPermissionAssignment{
		UserID: user.ID, PermissionID: perm.ID, Granted: granted, ExpiresAt: expiresAt,
	})
	f.check(err)
}

// SetPermissionActive flips a permission's active flag.
func (f *Fixture) SetPermissionActive(perm rbac.Permission, active bool) {
	f.t.Helper()
	_, _, err := f.Store.UpdatePermission(context.Background(), perm.ID, rbac.PermissionUpdate{IsActive: &active})
	f.check(err)
}

// SetRoleActive flips a role's active flag.
func (f *Fixture) SetRoleActive(role rbac.Role, active bool) {
	f.t.Helper()
	_, _, err := f.Store.UpdateRole(context.Background(), role.ID, rbac.RoleUpdate{IsActive: &active})
	f.check(err)
}

// SetUserActive flips a user's active flag.
func (f *Fixture) SetUserActive(user rbac.User, active bool) {
	f.t.Helper()
	_, _, err := f.Store.UpdateUser(context.Background(), user.ID, rbac.UserUpdate{IsActive: &active})
	f.check(err)
}
