package rbac

import (
	"context"
	"fmt"
	"time"
)

// AssignmentStoreWithLookups is what AssignmentManager needs from persistence.
type AssignmentStoreWithLookups interface {
	AssignmentStore
	GetUser(ctx context.Context, id int64) (User, bool, error)
	GetRole(ctx context.Context, id int64) (Role, bool, error)
	GetPermission(ctx context.Context, id int64) (Permission, bool, error)
}

// AssignmentManager creates, lists and revokes user/role/permission links.
// Every mutation is followed by cache invalidation; if that fails the error is
// returned even though the write landed, and the idempotent write can be retried.
type AssignmentManager struct {
	store       AssignmentStoreWithLookups
	invalidator Invalidator
	now         func() time.Time
}

// NewAssignmentManager constructs the manager. A nil invalidator disables caching hooks.
func NewAssignmentManager(store AssignmentStoreWithLookups, invalidator Invalidator) *AssignmentManager {
	if invalidator == nil {
		invalidator = NopInvalidator{}
	}
	return &AssignmentManager{store: store, invalidator: invalidator, now: time.Now}
}

func (m *AssignmentManager) requireUser(ctx context.Context, id int64) (User, error) {
	if id <= 0 {
		return User{}, fmt.Errorf("%w: user id must be positive", ErrValidation)
	}
	u, ok, err := m.store.GetUser(ctx, id)
	if err != nil {
		return User{}, err
	}
	if !ok {
		return User{}, fmt.Errorf("%w: user %d", ErrNotFound, id)
	}
	return u, nil
}

func (m *AssignmentManager) requireRole(ctx context.Context, id int64) (Role, error) {
	if id <= 0 {
		return Role{}, fmt.Errorf("%w: role id must be positive", ErrValidation)
	}
	r, ok, err := m.store.GetRole(ctx, id)
	if err != nil {
		return Role{}, err
	}
	if !ok {
		return Role{}, fmt.Errorf("%w: role %d", ErrNotFound, id)
	}
	return r, nil
}

func (m *AssignmentManager) requirePermission(ctx context.Context, id int64) (Permission, error) {
	if id <= 0 {
		return Permission{}, fmt.Errorf("%w: permission id must be positive", ErrValidation)
	}
	p, ok, err := m.store.GetPermission(ctx, id)
	if err != nil {
		return Permission{}, err
	}
	if !ok {
		return Permission{}, fmt.Errorf("%w: permission %d", ErrNotFound, id)
	}
	return p, nil
}

func (m *AssignmentManager) checkExpiry(expiresAt *time.Time) error {
	if expiresAt != nil && !expiresAt.After(m.now()) {
		return fmt.Errorf("%w: expiresAt must be in the future", ErrValidation)
	}
	return nil
}

func (m *AssignmentManager) invalidateUser(ctx context.Context, userID int64) error {
	if err := m.invalidator.InvalidateUser(ctx, userID); err != nil {
		return fmt.Errorf("rbac: invalidate user %d: %w", userID, err)
	}
	return nil
}

func (m *AssignmentManager) invalidateAll(ctx context.Context) error {
	if err := m.invalidator.InvalidateAll(ctx); err != nil {
		return fmt.Errorf("rbac: invalidate all: %w", err)
	}
	return nil
}

// User ↔ Role

// ListUserRoles returns every role assignment of the user, expired or not.
func (m *AssignmentManager) ListUserRoles(ctx context.Context, userID int64) ([]UserRoleDetail, error) {
	if _, err := m.requireUser(ctx, userID); err != nil {
		return nil, err
	}
	return m.store.ListUserRoles(ctx, userID)
}

func (m *AssignmentManager) AssignUserRole(ctx context.Context, in UserRoleAssignment) (UserRole, error) {
	if err := m.checkExpiry(in.ExpiresAt); err != nil {
		return UserRole{}, err
	}
	if _, err := m.requireUser(ctx, in.UserID); err != nil {
		return UserRole{}, err
	}
	if _, err := m.requireRole(ctx, in.RoleID); err != nil {
		return UserRole{}, err
	}
	a, err := m.store.UpsertUserRole(ctx, in)
	if err != nil {
		return UserRole{}, err
	}
	return a, m.invalidateUser(ctx, in.UserID)
}

// RevokeUserRole removes the assignment; revoking a missing one is a no-op.
func (m *AssignmentManager) RevokeUserRole(ctx context.Context, userID, roleID int64) error {
	if err := m.store.DeleteUserRole(ctx, userID, roleID); err != nil {
		return err
	}
	return m.invalidateUser(ctx, userID)
}

// ReplaceUserRoles sets the user's role set atomically so there is no window
// in which the user holds no roles.
func (m *AssignmentManager) ReplaceUserRoles(ctx context.Context, userID int64, roleIDs []int64, assignedBy *int64) ([]UserRole, error) {
	if _, err := m.requireUser(ctx, userID); err != nil {
		return nil, err
	}
	unique := make([]int64, 0, len(roleIDs))
	seen := make(map[int64]struct{}, len(roleIDs))
	for _, id := range roleIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if _, err := m.requireRole(ctx, id); err != nil {
			return nil, err
		}
		unique = append(unique, id)
	}
	out, err := m.store.ReplaceUserRoles(ctx, userID, unique, assignedBy)
	if err != nil {
		return nil, err
	}
	return out, m.invalidateUser(ctx, userID)
}

// Role ↔ Permission

func (m *AssignmentManager) ListRolePermissions(ctx context.Context, roleID int64) ([]RolePermissionDetail, error) {
	if _, err := m.requireRole(ctx, roleID); err != nil {
		return nil, err
	}
	return m.store.ListRolePermissions(ctx, roleID)
}

// AssignRolePermission links a permission to a role. All holders of the role
// are affected, so the whole cache is invalidated.
func (m *AssignmentManager) AssignRolePermission(ctx context.Context, roleID, permissionID int64) (RolePermission, error) {
	if _, err := m.requireRole(ctx, roleID); err != nil {
		return RolePermission{}, err
	}
	if _, err := m.requirePermission(ctx, permissionID); err != nil {
		return RolePermission{}, err
	}
	a, err := m.store.UpsertRolePermission(ctx, roleID, permissionID)
	if err != nil {
		return RolePermission{}, err
	}
	return a, m.invalidateAll(ctx)
}

func (m *AssignmentManager) RevokeRolePermission(ctx context.Context, roleID, permissionID int64) error {
	if err := m.store.DeleteRolePermission(ctx, roleID, permissionID); err != nil {
		return err
	}
	return m.invalidateAll(ctx)
}

// RoleWithPermissions returns the role with its resolved permission list.
func (m *AssignmentManager) RoleWithPermissions(ctx context.Context, roleID int64) (RoleWithPermissions, error) {
	role, err := m.requireRole(ctx, roleID)
	if err != nil {
		return RoleWithPermissions{}, err
	}
	perms, err := m.store.ListRolePermissions(ctx, roleID)
	if err != nil {
		return RoleWithPermissions{}, err
	}
	return RoleWithPermissions{Role: role, RolePermissions: perms}, nil
}

// ListUsersByRole is the reverse lookup through user_roles.
func (m *AssignmentManager) ListUsersByRole(ctx context.Context, roleID int64) ([]User, error) {
	if _, err := m.requireRole(ctx, roleID); err != nil {
		return nil, err
	}
	return m.store.ListUsersByRole(ctx, roleID)
}

// User ↔ Permission

func (m *AssignmentManager) ListUserPermissions(ctx context.Context, userID int64) ([]UserPermissionDetail, error) {
	if _, err := m.requireUser(ctx, userID); err != nil {
		return nil, err
	}
	return m.store.ListUserPermissions(ctx, userID)
}

// AssignUserPermission records a direct grant (Granted) or explicit revoke.
func (m *AssignmentManager) AssignUserPermission(ctx context.Context, in UserPermissionAssignment) (UserPermission, error) {
	if err := m.checkExpiry(in.ExpiresAt); err != nil {
		return UserPermission{}, err
	}
	if _, err := m.requireUser(ctx, in.UserID); err != nil {
		return UserPermission{}, err
	}
	if _, err := m.requirePermission(ctx, in.PermissionID); err != nil {
		return UserPermission{}, err
	}
	a, err := m.store.UpsertUserPermission(ctx, in)
	if err != nil {
		return UserPermission{}, err
	}
	return a, m.invalidateUser(ctx, in.UserID)
}

// RevokeUserPermission deletes the direct row; a missing row is a no-op.
func (m *AssignmentManager) RevokeUserPermission(ctx context.Context, userID, permissionID int64) error {
	if err := m.store.DeleteUserPermission(ctx, userID, permissionID); err != nil {
		return err
	}
	return m.invalidateUser(ctx, userID)
}

// UserWithAccess returns the user with every role and direct assignment.
func (m *AssignmentManager) UserWithAccess(ctx context.Context, userID int64) (UserWithAccess, error) {
	user, err := m.requireUser(ctx, userID)
	if err != nil {
		return UserWithAccess{}, err
	}
	roles, err := m.store.ListUserRoles(ctx, userID)
	if err != nil {
		return UserWithAccess{}, err
	}
	perms, err := m.store.ListUserPermissions(ctx, userID)
	if err != nil {
		return UserWithAccess{}, err
	}
	return UserWithAccess{User: user, UserRoles: roles, UserPermissions: perms}, nil
}

// PurgeExpired removes assignments that have expired and invalidates the
// affected users. It returns the number of users touched.
func (m *AssignmentManager) PurgeExpired(ctx context.Context) (int, error) {
	ids, err := m.store.PurgeExpired(ctx, m.now())
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		if err := m.invalidateUser(ctx, id); err != nil {
			return len(ids), err
		}
	}
	return len(ids), nil
}
