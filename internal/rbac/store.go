package rbac

import (
	"context"
	"fmt"
	"time"

	"github.com/zerodna/cms-authz/internal/platform/httpx"
)

var (
	// ErrNotFound indicates a referenced user, role or permission is absent.
	ErrNotFound = fmt.Errorf("rbac: %w", httpx.ErrNotFound)
	// ErrConflict indicates a unique key is already taken.
	ErrConflict = fmt.Errorf("rbac: %w", httpx.ErrDuplicate)
	// ErrValidation indicates malformed input.
	ErrValidation = fmt.Errorf("rbac: %w", httpx.ErrValidation)
)

// EntityStore is durable CRUD for users, roles and permissions.
// Getters report absence through the bool result, never through an error.
type EntityStore interface {
	GetUser(ctx context.Context, id int64) (User, bool, error)
	GetUserByUsername(ctx context.Context, username string) (User, bool, error)
	GetUserByEmail(ctx context.Context, email string) (User, bool, error)
	ListUsers(ctx context.Context) ([]User, error)
	CreateUser(ctx context.Context, in NewUser, passwordHash string) (User, error)
	UpdateUser(ctx context.Context, id int64, in UserUpdate) (User, bool, error)
	DeleteUser(ctx context.Context, id int64) (bool, error)
	TouchLastLogin(ctx context.Context, id int64, at time.Time) error

	GetRole(ctx context.Context, id int64) (Role, bool, error)
	GetRoleByName(ctx context.Context, name string) (Role, bool, error)
	ListRoles(ctx context.Context) ([]Role, error)
	CreateRole(ctx context.Context, in NewRole) (Role, error)
	UpdateRole(ctx context.Context, id int64, in RoleUpdate) (Role, bool, error)
	DeleteRole(ctx context.Context, id int64) (bool, error)

	GetPermission(ctx context.Context, id int64) (Permission, bool, error)
	GetPermissionByName(ctx context.Context, name string) (Permission, bool, error)
	ListPermissions(ctx context.Context) ([]Permission, error)
	CreatePermission(ctx context.Context, in NewPermission) (Permission, error)
	UpdatePermission(ctx context.Context, id int64, in PermissionUpdate) (Permission, bool, error)
	DeletePermission(ctx context.Context, id int64) (bool, error)
}

// AssignmentStore persists the three join relations.
// Upserts keep one row per pair; deletes are no-ops when nothing matches.
type AssignmentStore interface {
	ListUserRoles(ctx context.Context, userID int64) ([]UserRoleDetail, error)
	UpsertUserRole(ctx context.Context, in UserRoleAssignment) (UserRole, error)
	DeleteUserRole(ctx context.Context, userID, roleID int64) error
	ReplaceUserRoles(ctx context.Context, userID int64, roleIDs []int64, assignedBy *int64) ([]UserRole, error)

	ListRolePermissions(ctx context.Context, roleID int64) ([]RolePermissionDetail, error)
	UpsertRolePermission(ctx context.Context, roleID, permissionID int64) (RolePermission, error)
	DeleteRolePermission(ctx context.Context, roleID, permissionID int64) error

	ListUserPermissions(ctx context.Context, userID int64) ([]UserPermissionDetail, error)
	UpsertUserPermission(ctx context.Context, in UserPermissionAssignment) (UserPermission, error)
	DeleteUserPermission(ctx context.Context, userID, permissionID int64) error

	ListUsersByRole(ctx context.Context, roleID int64) ([]User, error)
	PurgeExpired(ctx context.Context, at time.Time) ([]int64, error)
}

// AuthzStore answers the read queries behind authorization decisions.
// Every query filters inactive roles/permissions and assignments expired at `at`.
type AuthzStore interface {
	HasDirectPermission(ctx context.Context, userID int64, resource, action string, granted bool, at time.Time) (bool, error)
	HasRolePermission(ctx context.Context, userID int64, resource, action string, at time.Time) (bool, error)
	HasAnyRoleNamed(ctx context.Context, userID int64, names []string, at time.Time) (bool, error)
	ListDirectAccess(ctx context.Context, userID int64, at time.Time) ([]AccessEntry, error)
	ListRoleAccess(ctx context.Context, userID int64, at time.Time) ([]AccessEntry, error)
	ListActiveRoles(ctx context.Context, userID int64, at time.Time) ([]ActiveRole, error)
}

// Store is the full persistence surface.
type Store interface {
	EntityStore
	AssignmentStore
	AuthzStore
}
