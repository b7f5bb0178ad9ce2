package rbac

import "time"

// User is an identity record. The password hash never leaves the server.
type User struct {
	ID           int64      `json:"id"`
	Username     string     `json:"username"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"`
	FirstName    *string    `json:"firstName,omitempty"`
	LastName     *string    `json:"lastName,omitempty"`
	IsActive     bool       `json:"isActive"`
	LastLoginAt  *time.Time `json:"lastLoginAt,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// Role is a named bundle of permissions. Level is informational only.
type Role struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	DisplayName string    `json:"displayName"`
	Description *string   `json:"description,omitempty"`
	Level       int       `json:"level"`
	IsActive    bool      `json:"isActive"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Permission is the atomic (resource, action) capability.
type Permission struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	DisplayName string    `json:"displayName"`
	Description *string   `json:"description,omitempty"`
	Resource    string    `json:"resource"`
	Action      string    `json:"action"`
	IsActive    bool      `json:"isActive"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Key returns the "resource.action" form of the permission.
func (p Permission) Key() string {
	return PermissionKey(p.Resource, p.Action)
}

// PermissionKey composes the diagnostic form of a permission identity.
func PermissionKey(resource, action string) string {
	return resource + "." + action
}

// UserRole links a user to a role.
type UserRole struct {
	ID         int64      `json:"id"`
	UserID     int64      `json:"userId"`
	RoleID     int64      `json:"roleId"`
	AssignedAt time.Time  `json:"assignedAt"`
	AssignedBy *int64     `json:"assignedBy,omitempty"`
	ExpiresAt  *time.Time `json:"expiresAt,omitempty"`
}

// EffectiveAt reports whether the assignment is unexpired at t.
func (a UserRole) EffectiveAt(t time.Time) bool {
	return notExpired(a.ExpiresAt, t)
}

// RolePermission links a role to a permission.
type RolePermission struct {
	ID           int64     `json:"id"`
	RoleID       int64     `json:"roleId"`
	PermissionID int64     `json:"permissionId"`
	CreatedAt    time.Time `json:"createdAt"`
}

// UserPermission is a direct grant (Granted) or explicit revoke (!Granted).
type UserPermission struct {
	ID           int64      `json:"id"`
	UserID       int64      `json:"userId"`
	PermissionID int64      `json:"permissionId"`
	Granted      bool       `json:"granted"`
	AssignedAt   time.Time  `json:"assignedAt"`
	AssignedBy   *int64     `json:"assignedBy,omitempty"`
	ExpiresAt    *time.Time `json:"expiresAt,omitempty"`
}

// EffectiveAt reports whether the assignment is unexpired at t.
func (a UserPermission) EffectiveAt(t time.Time) bool {
	return notExpired(a.ExpiresAt, t)
}

func notExpired(expiresAt *time.Time, t time.Time) bool {
	return expiresAt == nil || expiresAt.After(t)
}

// RolePermissionDetail is a role assignment row with its resolved permission.
type RolePermissionDetail struct {
	RolePermission
	Permission Permission `json:"permission"`
}

// RoleWithPermissions is a role and its resolved permission set.
type RoleWithPermissions struct {
	Role
	RolePermissions []RolePermissionDetail `json:"rolePermissions"`
}

// UserRoleDetail is a user role assignment with its resolved role.
type UserRoleDetail struct {
	UserRole
	Role Role `json:"role"`
}

// UserPermissionDetail is a direct assignment with its resolved permission.
type UserPermissionDetail struct {
	UserPermission
	Permission Permission `json:"permission"`
}

// UserWithAccess aggregates a user with every role and direct assignment.
type UserWithAccess struct {
	User
	UserRoles       []UserRoleDetail       `json:"userRoles"`
	UserPermissions []UserPermissionDetail `json:"userPermissions"`
}

// NewUser carries the fields required to create a user.
type NewUser struct {
	Username  string  `json:"username" validate:"required,min=3,max=64"`
	Email     string  `json:"email" validate:"required,email,max=255"`
	Password  string  `json:"password" validate:"required,min=8,max=72"`
	FirstName *string `json:"firstName,omitempty" validate:"omitempty,max=100"`
	LastName  *string `json:"lastName,omitempty" validate:"omitempty,max=100"`
	IsActive  *bool   `json:"isActive,omitempty"`
}

// UserUpdate is a partial update; nil fields are left unchanged.
// PasswordHash is derived from Password by the service before storage.
type UserUpdate struct {
	Username     *string `json:"username,omitempty" validate:"omitempty,min=3,max=64"`
	Email        *string `json:"email,omitempty" validate:"omitempty,email,max=255"`
	Password     *string `json:"password,omitempty" validate:"omitempty,min=8,max=72"`
	PasswordHash *string `json:"-"`
	FirstName    *string `json:"firstName,omitempty" validate:"omitempty,max=100"`
	LastName     *string `json:"lastName,omitempty" validate:"omitempty,max=100"`
	IsActive     *bool   `json:"isActive,omitempty"`
}

// NewRole carries the fields required to create a role.
type NewRole struct {
	Name        string  `json:"name" validate:"required,max=64"`
	DisplayName string  `json:"displayName" validate:"omitempty,max=128"`
	Description *string `json:"description,omitempty" validate:"omitempty,max=500"`
	Level       int     `json:"level" validate:"omitempty,min=1,max=100"`
	IsActive    *bool   `json:"isActive,omitempty"`
}

// RoleUpdate is a partial role update.
type RoleUpdate struct {
	Name        *string `json:"name,omitempty" validate:"omitempty,min=1,max=64"`
	DisplayName *string `json:"displayName,omitempty" validate:"omitempty,min=1,max=128"`
	Description *string `json:"description,omitempty" validate:"omitempty,max=500"`
	Level       *int    `json:"level,omitempty" validate:"omitempty,min=1,max=100"`
	IsActive    *bool   `json:"isActive,omitempty"`
}

// NewPermission carries the fields required to create a permission.
type NewPermission struct {
	Name        string  `json:"name" validate:"omitempty,max=128"`
	DisplayName string  `json:"displayName" validate:"omitempty,max=128"`
	Description *string `json:"description,omitempty" validate:"omitempty,max=500"`
	Resource    string  `json:"resource" validate:"required,max=64"`
	Action      string  `json:"action" validate:"required,max=64"`
	IsActive    *bool   `json:"isActive,omitempty"`
}

// PermissionUpdate is a partial permission update.
type PermissionUpdate struct {
	Name        *string `json:"name,omitempty" validate:"omitempty,min=1,max=128"`
	DisplayName *string `json:"displayName,omitempty" validate:"omitempty,min=1,max=128"`
	Description *string `json:"description,omitempty" validate:"omitempty,max=500"`
	Resource    *string `json:"resource,omitempty" validate:"omitempty,min=1,max=64"`
	Action      *string `json:"action,omitempty" validate:"omitempty,min=1,max=64"`
	IsActive    *bool   `json:"isActive,omitempty"`
}

// UserRoleAssignment describes a user to role assignment request.
type UserRoleAssignment struct {
	UserID     int64
	RoleID     int64
	AssignedBy *int64
	ExpiresAt  *time.Time
}

// UserPermissionAssignment describes a direct grant or revoke.
type UserPermissionAssignment struct {
	UserID       int64
	PermissionID int64
	Granted      bool
	AssignedBy   *int64
	ExpiresAt    *time.Time
}

// AccessEntry is one permission reachable by a user at evaluation time.
// RoleName is empty for direct assignments.
type AccessEntry struct {
	Resource  string
	Action    string
	Granted   bool
	RoleName  string
	ExpiresAt *time.Time
}

// Key returns the "resource.action" form of the entry.
func (e AccessEntry) Key() string {
	return PermissionKey(e.Resource, e.Action)
}

// ActiveRole is an active, unexpired role held by a user.
type ActiveRole struct {
	Name      string
	ExpiresAt *time.Time
}
