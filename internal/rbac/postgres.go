package rbac

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/zerodna/cms-authz/internal/platform/db"
)

// DB is the subset of *pgxpool.Pool used by PGStore.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PGStore provides PostgreSQL backed persistence.
type PGStore struct {
	db DB
}

// NewPGStore constructs a store on top of a pool.
func NewPGStore(db DB) *PGStore {
	return &PGStore{db: db}
}

const (
	userColumns       = `id, username, email, password_hash, first_name, last_name, is_active, last_login_at, created_at, updated_at`
	roleColumns       = `id, name, display_name, description, level, is_active, created_at, updated_at`
	permissionColumns = `id, name, display_name, description, resource, action, is_active, created_at`
	userRoleColumns   = `id, user_id, role_id, assigned_at, assigned_by, expires_at`
	userPermColumns   = `id, user_id, permission_id, granted, assigned_at, assigned_by, expires_at`
	rolePermColumns   = `id, role_id, permission_id, created_at`
)

func scanUser(row pgx.Row) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.FirstName, &u.LastName,
		&u.IsActive, &u.LastLoginAt, &u.CreatedAt, &u.UpdatedAt)
	return u, err
}

func scanRole(row pgx.Row) (Role, error) {
	var r Role
	err := row.Scan(&r.ID, &r.Name, &r.DisplayName, &r.Description, &r.Level, &r.IsActive, &r.CreatedAt, &r.UpdatedAt)
	return r, err
}

func scanPermission(row pgx.Row) (Permission, error) {
	var p Permission
	err := row.Scan(&p.ID, &p.Name, &p.DisplayName, &p.Description, &p.Resource, &p.Action, &p.IsActive, &p.CreatedAt)
	return p, err
}

func collect[T any](rows pgx.Rows, scan func(pgx.Row) (T, error)) ([]T, error) {
	defer rows.Close()
	out := []T{}
	for rows.Next() {
		item, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func getOne[T any](ctx context.Context, q querier, scan func(pgx.Row) (T, error), sql string, args ...any) (T, bool, error) {
	item, err := scan(q.QueryRow(ctx, sql, args...))
	if err != nil {
		var zero T
		if errors.Is(err, pgx.ErrNoRows) {
			return zero, false, nil
		}
		return zero, false, err
	}
	return item, true, nil
}

func listAll[T any](ctx context.Context, q querier, scan func(pgx.Row) (T, error), sql string, args ...any) ([]T, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return collect(rows, scan)
}

// writeErr converts constraint violations into domain errors.
func writeErr(op string, err error) error {
	switch {
	case db.IsUniqueViolation(err):
		return fmt.Errorf("%w: %s (%s)", ErrConflict, op, db.ConstraintName(err))
	case db.IsForeignKeyViolation(err):
		return fmt.Errorf("%w: %s references a missing row", ErrNotFound, op)
	default:
		return fmt.Errorf("rbac: %s: %w", op, err)
	}
}

type setBuilder struct {
	sets []string
	args []any
}

func (b *setBuilder) add(col string, v any) {
	b.args = append(b.args, v)
	b.sets = append(b.sets, fmt.Sprintf("%s = $%d", col, len(b.args)))
}

func (b *setBuilder) build(table, returning string, id int64, touch bool) (string, []any) {
	sets := b.sets
	if touch {
		sets = append(sets, "updated_at = NOW()")
	}
	if len(sets) == 0 {
		sets = append(sets, "id = id")
	}
	args := append(b.args, id)
	return fmt.Sprintf("UPDATE %s SET %s WHERE id = $%d RETURNING %s",
		table, strings.Join(sets, ", "), len(args), returning), args
}

// Users

func (s *PGStore) GetUser(ctx context.Context, id int64) (User, bool, error) {
	return getOne(ctx, s.db, scanUser, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

func (s *PGStore) GetUserByUsername(ctx context.Context, username string) (User, bool, error) {
	return getOne(ctx, s.db, scanUser, `SELECT `+userColumns+` FROM users WHERE username = $1`, username)
}

func (s *PGStore) GetUserByEmail(ctx context.Context, email string) (User, bool, error) {
	return getOne(ctx, s.db, scanUser, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
}

func (s *PGStore) ListUsers(ctx context.Context) ([]User, error) {
	return listAll(ctx, s.db, scanUser, `SELECT `+userColumns+` FROM users ORDER BY created_at DESC, id DESC`)
}

func (s *PGStore) CreateUser(ctx context.Context, in NewUser, passwordHash string) (User, error) {
	active := true
	if in.IsActive != nil {
		active = *in.IsActive
	}
	u, err := scanUser(s.db.QueryRow(ctx, `
		INSERT INTO users (username, email, password_hash, first_name, last_name, is_active)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+userColumns,
		in.Username, in.Email, passwordHash, in.FirstName, in.LastName, active))
	if err != nil {
		return User{}, writeErr("create user", err)
	}
	return u, nil
}

func (s *PGStore) UpdateUser(ctx context.Context, id int64, in UserUpdate) (User, bool, error) {
	var b setBuilder
	if in.Username != nil {
		b.add("username", *in.Username)
	}
	if in.Email != nil {
		b.add("email", *in.Email)
	}
	if in.PasswordHash != nil {
		b.add("password_hash", *in.PasswordHash)
	}
	if in.FirstName != nil {
		b.add("first_name", *in.FirstName)
	}
	if in.LastName != nil {
		b.add("last_name", *in.LastName)
	}
	if in.IsActive != nil {
		b.add("is_active", *in.IsActive)
	}
	query, args := b.build("users", userColumns, id, true)
	u, ok, err := getOne(ctx, s.db, scanUser, query, args...)
	if err != nil {
		return User{}, false, writeErr("update user", err)
	}
	return u, ok, nil
}

func (s *PGStore) DeleteUser(ctx context.Context, id int64) (bool, error) {
	return s.deleteByID(ctx, "users", id)
}

func (s *PGStore) TouchLastLogin(ctx context.Context, id int64, at time.Time) error {
	if _, err := s.db.Exec(ctx, `UPDATE users SET last_login_at = $2, updated_at = $2 WHERE id = $1`, id, at); err != nil {
		return fmt.Errorf("rbac: touch last login: %w", err)
	}
	return nil
}

func (s *PGStore) deleteByID(ctx context.Context, table string, id int64) (bool, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM `+table+` WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("rbac: delete from %s: %w", table, err)
	}
	return tag.RowsAffected() > 0, nil
}

// Roles

func (s *PGStore) GetRole(ctx context.Context, id int64) (Role, bool, error) {
	return getOne(ctx, s.db, scanRole, `SELECT `+roleColumns+` FROM roles WHERE id = $1`, id)
}

func (s *PGStore) GetRoleByName(ctx context.Context, name string) (Role, bool, error) {
	return getOne(ctx, s.db, scanRole, `SELECT `+roleColumns+` FROM roles WHERE name = $1`, name)
}

func (s *PGStore) ListRoles(ctx context.Context) ([]Role, error) {
	return listAll(ctx, s.db, scanRole, `SELECT `+roleColumns+` FROM roles ORDER BY level DESC, name`)
}

func (s *PGStore) CreateRole(ctx context.Context, in NewRole) (Role, error) {
	active := true
	if in.IsActive != nil {
		active = *in.IsActive
	}
	r, err := scanRole(s.db.QueryRow(ctx, `
		INSERT INTO roles (name, display_name, description, level, is_active)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+roleColumns,
		in.Name, in.DisplayName, in.Description, in.Level, active))
	if err != nil {
		return Role{}, writeErr("create role", err)
	}
	return r, nil
}

func (s *PGStore) UpdateRole(ctx context.Context, id int64, in RoleUpdate) (Role, bool, error) {
	var b setBuilder
	if in.Name != nil {
		b.add("name", *in.Name)
	}
	if in.DisplayName != nil {
		b.add("display_name", *in.DisplayName)
	}
	if in.Description != nil {
		b.add("description", *in.Description)
	}
	if in.Level != nil {
		b.add("level", *in.Level)
	}
	if in.IsActive != nil {
		b.add("is_active", *in.IsActive)
	}
	query, args := b.build("roles", roleColumns, id, true)
	r, ok, err := getOne(ctx, s.db, scanRole, query, args...)
	if err != nil {
		return Role{}, false, writeErr("update role", err)
	}
	return r, ok, nil
}

func (s *PGStore) DeleteRole(ctx context.Context, id int64) (bool, error) {
	return s.deleteByID(ctx, "roles", id)
}

// Permissions

func (s *PGStore) GetPermission(ctx context.Context, id int64) (Permission, bool, error) {
	return getOne(ctx, s.db, scanPermission, `SELECT `+permissionColumns+` FROM permissions WHERE id = $1`, id)
}

func (s *PGStore) GetPermissionByName(ctx context.Context, name string) (Permission, bool, error) {
	return getOne(ctx, s.db, scanPermission, `SELECT `+permissionColumns+` FROM permissions WHERE name = $1`, name)
}

func (s *PGStore) ListPermissions(ctx context.Context) ([]Permission, error) {
	return listAll(ctx, s.db, scanPermission, `SELECT `+permissionColumns+` FROM permissions ORDER BY resource, action`)
}

func (s *PGStore) CreatePermission(ctx context.Context, in NewPermission) (Permission, error) {
	active := true
	if in.IsActive != nil {
		active = *in.IsActive
	}
	p, err := scanPermission(s.db.QueryRow(ctx, `
		INSERT INTO permissions (name, display_name, description, resource, action, is_active)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+permissionColumns,
		in.Name, in.DisplayName, in.Description, in.Resource, in.Action, active))
	if err != nil {
		return Permission{}, writeErr("create permission", err)
	}
	return p, nil
}

func (s *PGStore) UpdatePermission(ctx context.Context, id int64, in PermissionUpdate) (Permission, bool, error) {
	var b setBuilder
	if in.Name != nil {
		b.add("name", *in.Name)
	}
	if in.DisplayName != nil {
		b.add("display_name", *in.DisplayName)
	}
	if in.Description != nil {
		b.add("description", *in.Description)
	}
	if in.Resource != nil {
		b.add("resource", *in.Resource)
	}
	if in.Action != nil {
		b.add("action", *in.Action)
	}
	if in.IsActive != nil {
		b.add("is_active", *in.IsActive)
	}
	query, args := b.build("permissions", permissionColumns, id, false)
	p, ok, err := getOne(ctx, s.db, scanPermission, query, args...)
	if err != nil {
		return Permission{}, false, writeErr("update permission", err)
	}
	return p, ok, nil
}

func (s *PGStore) DeletePermission(ctx context.Context, id int64) (bool, error) {
	return s.deleteByID(ctx, "permissions", id)
}

// Assignments

func scanUserRole(row pgx.Row) (UserRole, error) {
	var a UserRole
	err := row.Scan(&a.ID, &a.UserID, &a.RoleID, &a.AssignedAt, &a.AssignedBy, &a.ExpiresAt)
	return a, err
}

func scanUserPermission(row pgx.Row) (UserPermission, error) {
	var a UserPermission
	err := row.Scan(&a.ID, &a.UserID, &a.PermissionID, &a.Granted, &a.AssignedAt, &a.AssignedBy, &a.ExpiresAt)
	return a, err
}

func scanRolePermission(row pgx.Row) (RolePermission, error) {
	var a RolePermission
	err := row.Scan(&a.ID, &a.RoleID, &a.PermissionID, &a.CreatedAt)
	return a, err
}

func (s *PGStore) ListUserRoles(ctx context.Context, userID int64) ([]UserRoleDetail, error) {
	return listAll(ctx, s.db, func(row pgx.Row) (UserRoleDetail, error) {
		var d UserRoleDetail
		err := row.Scan(&d.ID, &d.UserID, &d.RoleID, &d.AssignedAt, &d.AssignedBy, &d.ExpiresAt,
			&d.Role.ID, &d.Role.Name, &d.Role.DisplayName, &d.Role.Description, &d.Role.Level,
			&d.Role.IsActive, &d.Role.CreatedAt, &d.Role.UpdatedAt)
		return d, err
	}, `
		SELECT ur.id, ur.user_id, ur.role_id, ur.assigned_at, ur.assigned_by, ur.expires_at,
		       r.id, r.name, r.display_name, r.description, r.level, r.is_active, r.created_at, r.updated_at
		FROM user_roles ur
		JOIN roles r ON r.id = ur.role_id
		WHERE ur.user_id = $1
		ORDER BY r.level DESC, r.name`, userID)
}

func (s *PGStore) UpsertUserRole(ctx context.Context, in UserRoleAssignment) (UserRole, error) {
	a, err := upsertUserRole(ctx, s.db, in)
	if err != nil {
		return UserRole{}, writeErr("assign user role", err)
	}
	return a, nil
}

func upsertUserRole(ctx context.Context, q querier, in UserRoleAssignment) (UserRole, error) {
	return scanUserRole(q.QueryRow(ctx, `
		INSERT INTO user_roles (user_id, role_id, assigned_by, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, role_id) DO UPDATE
		SET assigned_by = EXCLUDED.assigned_by, expires_at = EXCLUDED.expires_at, assigned_at = NOW()
		RETURNING `+userRoleColumns,
		in.UserID, in.RoleID, in.AssignedBy, in.ExpiresAt))
}

func (s *PGStore) DeleteUserRole(ctx context.Context, userID, roleID int64) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM user_roles WHERE user_id = $1 AND role_id = $2`, userID, roleID); err != nil {
		return fmt.Errorf("rbac: revoke user role: %w", err)
	}
	return nil
}

// ReplaceUserRoles makes roleIDs the user's exact role set in one transaction.
// Rows for roles that stay are left untouched.
func (s *PGStore) ReplaceUserRoles(ctx context.Context, userID int64, roleIDs []int64, assignedBy *int64) ([]UserRole, error) {
	if roleIDs == nil {
		roleIDs = []int64{}
	}
	var out []UserRole
	err := db.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM user_roles WHERE user_id = $1 AND NOT (role_id = ANY($2))`, userID, roleIDs); err != nil {
			return err
		}
		for _, roleID := range roleIDs {
			if _, err := tx.Exec(ctx, `
				INSERT INTO user_roles (user_id, role_id, assigned_by)
				VALUES ($1, $2, $3)
				ON CONFLICT (user_id, role_id) DO NOTHING`, userID, roleID, assignedBy); err != nil {
				return err
			}
		}
		rows, err := listAll(ctx, tx, scanUserRole, `SELECT `+userRoleColumns+` FROM user_roles WHERE user_id = $1 ORDER BY role_id`, userID)
		if err != nil {
			return err
		}
		out = rows
		return nil
	})
	if err != nil {
		return nil, writeErr("replace user roles", err)
	}
	return out, nil
}

func (s *PGStore) ListRolePermissions(ctx context.Context, roleID int64) ([]RolePermissionDetail, error) {
	return listAll(ctx, s.db, func(row pgx.Row) (RolePermissionDetail, error) {
		var d RolePermissionDetail
		err := row.Scan(&d.ID, &d.RoleID, &d.PermissionID, &d.CreatedAt,
			&d.Permission.ID, &d.Permission.Name, &d.Permission.DisplayName, &d.Permission.Description,
			&d.Permission.Resource, &d.Permission.Action, &d.Permission.IsActive, &d.Permission.CreatedAt)
		return d, err
	}, `
		SELECT rp.id, rp.role_id, rp.permission_id, rp.created_at,
		       p.id, p.name, p.display_name, p.description, p.resource, p.action, p.is_active, p.created_at
		FROM role_permissions rp
		JOIN permissions p ON p.id = rp.permission_id
		WHERE rp.role_id = $1
		ORDER BY p.resource, p.action`, roleID)
}

func (s *PGStore) UpsertRolePermission(ctx context.Context, roleID, permissionID int64) (RolePermission, error) {
	a, err := scanRolePermission(s.db.QueryRow(ctx, `
		INSERT INTO role_permissions (role_id, permission_id)
		VALUES ($1, $2)
		ON CONFLICT (role_id, permission_id) DO UPDATE SET role_id = EXCLUDED.role_id
		RETURNING `+rolePermColumns, roleID, permissionID))
	if err != nil {
		return RolePermission{}, writeErr("assign role permission", err)
	}
	return a, nil
}

func (s *PGStore) DeleteRolePermission(ctx context.Context, roleID, permissionID int64) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM role_permissions WHERE role_id = $1 AND permission_id = $2`, roleID, permissionID); err != nil {
		return fmt.Errorf("rbac: revoke role permission: %w", err)
	}
	return nil
}

func (s *PGStore) ListUserPermissions(ctx context.Context, userID int64) ([]UserPermissionDetail, error) {
	return listAll(ctx, s.db, func(row pgx.Row) (UserPermissionDetail, error) {
		var d UserPermissionDetail
		err := row.Scan(&d.ID, &d.UserID, &d.PermissionID, &d.Granted, &d.AssignedAt, &d.AssignedBy, &d.ExpiresAt,
			&d.Permission.ID, &d.Permission.Name, &d.Permission.DisplayName, &d.Permission.Description,
			&d.Permission.Resource, &d.Permission.Action, &d.Permission.IsActive, &d.Permission.CreatedAt)
		return d, err
	}, `
		SELECT up.id, up.user_id, up.permission_id, up.granted, up.assigned_at, up.assigned_by, up.expires_at,
		       p.id, p.name, p.display_name, p.description, p.resource, p.action, p.is_active, p.created_at
		FROM user_permissions up
		JOIN permissions p ON p.id = up.permission_id
		WHERE up.user_id = $1
		ORDER BY p.resource, p.action`, userID)
}

func (s *PGStore) UpsertUserPermission(ctx context.Context, in UserPermissionAssignment) (UserPermission, error) {
	a, err := scanUserPermission(s.db.QueryRow(ctx, `
		INSERT INTO user_permissions (user_id, permission_id, granted, assigned_by, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, permission_id) DO UPDATE
		SET granted = EXCLUDED.granted, assigned_by = EXCLUDED.assigned_by,
		    expires_at = EXCLUDED.expires_at, assigned_at = NOW()
		RETURNING `+userPermColumns,
		in.UserID, in.PermissionID, in.Granted, in.AssignedBy, in.ExpiresAt))
	if err != nil {
		return UserPermission{}, writeErr("assign user permission", err)
	}
	return a, nil
}

func (s *PGStore) DeleteUserPermission(ctx context.Context, userID, permissionID int64) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM user_permissions WHERE user_id = $1 AND permission_id = $2`, userID, permissionID); err != nil {
		return fmt.Errorf("rbac: revoke user permission: %w", err)
	}
	return nil
}

func (s *PGStore) ListUsersByRole(ctx context.Context, roleID int64) ([]User, error) {
	return listAll(ctx, s.db, scanUser, `
		SELECT u.id, u.username, u.email, u.password_hash, u.first_name, u.last_name,
		       u.is_active, u.last_login_at, u.created_at, u.updated_at
		FROM users u
		JOIN user_roles ur ON ur.user_id = u.id
		WHERE ur.role_id = $1
		ORDER BY u.created_at DESC, u.id DESC`, roleID)
}

// PurgeExpired deletes assignments expired at `at` and returns the affected user IDs.
func (s *PGStore) PurgeExpired(ctx context.Context, at time.Time) ([]int64, error) {
	ids, err := listAll(ctx, s.db, func(row pgx.Row) (int64, error) {
		var id int64
		err := row.Scan(&id)
		return id, err
	}, `
		WITH purged_roles AS (
			DELETE FROM user_roles WHERE expires_at IS NOT NULL AND expires_at <= $1 RETURNING user_id
		), purged_permissions AS (
			DELETE FROM user_permissions WHERE expires_at IS NOT NULL AND expires_at <= $1 RETURNING user_id
		)
		SELECT DISTINCT user_id FROM (
			SELECT user_id FROM purged_roles
			UNION ALL
			SELECT user_id FROM purged_permissions
		) purged
		ORDER BY user_id`, at)
	if err != nil {
		return nil, fmt.Errorf("rbac: purge expired: %w", err)
	}
	return ids, nil
}

// Authorization queries

func (s *PGStore) exists(ctx context.Context, sql string, args ...any) (bool, error) {
	var ok bool
	if err := s.db.QueryRow(ctx, sql, args...).Scan(&ok); err != nil {
		return false, err
	}
	return ok, nil
}

func (s *PGStore) HasDirectPermission(ctx context.Context, userID int64, resource, action string, granted bool, at time.Time) (bool, error) {
	return s.exists(ctx, `
		SELECT EXISTS (
			SELECT 1
			FROM user_permissions up
			JOIN permissions p ON p.id = up.permission_id
			WHERE up.user_id = $1
			  AND p.resource = $2
			  AND p.action = $3
			  AND up.granted = $4
			  AND p.is_active
			  AND (up.expires_at IS NULL OR up.expires_at > $5)
		)`, userID, resource, action, granted, at)
}

func (s *PGStore) HasRolePermission(ctx context.Context, userID int64, resource, action string, at time.Time) (bool, error) {
	return s.exists(ctx, `
		SELECT EXISTS (
			SELECT 1
			FROM user_roles ur
			JOIN roles r ON r.id = ur.role_id
			JOIN role_permissions rp ON rp.role_id = r.id
			JOIN permissions p ON p.id = rp.permission_id
			WHERE ur.user_id = $1
			  AND p.resource = $2
			  AND p.action = $3
			  AND p.is_active
			  AND r.is_active
			  AND (ur.expires_at IS NULL OR ur.expires_at > $4)
		)`, userID, resource, action, at)
}

func (s *PGStore) HasAnyRoleNamed(ctx context.Context, userID int64, names []string, at time.Time) (bool, error) {
	return s.exists(ctx, `
		SELECT EXISTS (
			SELECT 1
			FROM user_roles ur
			JOIN roles r ON r.id = ur.role_id
			WHERE ur.user_id = $1
			  AND r.name = ANY($2)
			  AND r.is_active
			  AND (ur.expires_at IS NULL OR ur.expires_at > $3)
		)`, userID, names, at)
}

func (s *PGStore) ListDirectAccess(ctx context.Context, userID int64, at time.Time) ([]AccessEntry, error) {
	return listAll(ctx, s.db, func(row pgx.Row) (AccessEntry, error) {
		var e AccessEntry
		err := row.Scan(&e.Resource, &e.Action, &e.Granted, &e.ExpiresAt)
		return e, err
	}, `
		SELECT p.resource, p.action, up.granted, up.expires_at
		FROM user_permissions up
		JOIN permissions p ON p.id = up.permission_id
		WHERE up.user_id = $1
		  AND p.is_active
		  AND (up.expires_at IS NULL OR up.expires_at > $2)`, userID, at)
}

func (s *PGStore) ListRoleAccess(ctx context.Context, userID int64, at time.Time) ([]AccessEntry, error) {
	return listAll(ctx, s.db, func(row pgx.Row) (AccessEntry, error) {
		e := AccessEntry{Granted: true}
		err := row.Scan(&e.Resource, &e.Action, &e.RoleName, &e.ExpiresAt)
		return e, err
	}, `
		SELECT p.resource, p.action, r.name, ur.expires_at
		FROM user_roles ur
		JOIN roles r ON r.id = ur.role_id
		JOIN role_permissions rp ON rp.role_id = r.id
		JOIN permissions p ON p.id = rp.permission_id
		WHERE ur.user_id = $1
		  AND p.is_active
		  AND r.is_active
		  AND (ur.expires_at IS NULL OR ur.expires_at > $2)`, userID, at)
}

func (s *PGStore) ListActiveRoles(ctx context.Context, userID int64, at time.Time) ([]ActiveRole, error) {
	return listAll(ctx, s.db, func(row pgx.Row) (ActiveRole, error) {
		var r ActiveRole
		err := row.Scan(&r.Name, &r.ExpiresAt)
		return r, err
	}, `
		SELECT r.name, ur.expires_at
		FROM user_roles ur
		JOIN roles r ON r.id = ur.role_id
		WHERE ur.user_id = $1
		  AND r.is_active
		  AND (ur.expires_at IS NULL OR ur.expires_at > $2)
		ORDER BY r.level DESC, r.name`, userID, at)
}

var _ Store = (*PGStore)(nil)
