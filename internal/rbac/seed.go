package rbac

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// SeedRole is a built-in role and the catalogue keys it receives.
type SeedRole struct {
	Name        string
	DisplayName string
	Description string
	Level       int
	Permissions []string
}

// DefaultRoles are created by Seed. super_admin holds the whole catalogue.
var DefaultRoles = []SeedRole{
	{
		Name:        "super_admin",
		DisplayName: "Super Admin",
		Description: "Full system access with all permissions",
		Level:       10,
		Permissions: Catalog,
	},
	{
		Name:        "editor",
		DisplayName: "Editor",
		Description: "Creates and publishes site content",
		Level:       5,
		Permissions: []string{
			PermDashboardAccess,
			PermPagesCreate, PermPagesRead, PermPagesUpdate, PermPagesPublish,
			PermPostsCreate, PermPostsRead, PermPostsUpdate, PermPostsPublish,
		},
	},
}

// SeedOptions controls the bootstrap administrator.
type SeedOptions struct {
	AdminUsername string
	AdminEmail    string
	AdminPassword string
}

// SeedResult summarises what Seed created.
type SeedResult struct {
	Permissions int
	Roles       int
	AdminID     int64
	AdminNew    bool
}

// Seed creates the permission catalogue, the default roles and an admin user
// holding super_admin. It is idempotent: existing rows are reused.
func Seed(ctx context.Context, store Store, svc *Service, mgr *AssignmentManager, opts SeedOptions, logger *slog.Logger) (SeedResult, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.AdminUsername == "" {
		opts.AdminUsername = "admin"
	}
	if opts.AdminEmail == "" {
		opts.AdminEmail = "admin@zerodna.com"
	}
	var res SeedResult

	byKey := make(map[string]int64, len(Catalog))
	for _, in := range CatalogPermissions() {
		perm, err := svc.EnsurePermission(ctx, in)
		if err != nil {
			return res, fmt.Errorf("seed permission %s: %w", in.Name, err)
		}
		byKey[perm.Key()] = perm.ID
		res.Permissions++
	}

	roleIDs := make(map[string]int64, len(DefaultRoles))
	for _, spec := range DefaultRoles {
		role, ok, err := store.GetRoleByName(ctx, spec.Name)
		if err != nil {
			return res, fmt.Errorf("seed role %s: %w", spec.Name, err)
		}
		if !ok {
			desc := spec.Description
			role, err = svc.CreateRole(ctx, NewRole{
				Name:        spec.Name,
				DisplayName: spec.DisplayName,
				Description: &desc,
				Level:       spec.Level,
			})
			if err != nil {
				return res, fmt.Errorf("seed role %s: %w", spec.Name, err)
			}
		}
		roleIDs[spec.Name] = role.ID
		for _, key := range spec.Permissions {
			if _, err := mgr.AssignRolePermission(ctx, role.ID, byKey[key]); err != nil {
				return res, fmt.Errorf("seed role %s permission %s: %w", spec.Name, key, err)
			}
		}
		res.Roles++
	}

	admin, ok, err := store.GetUserByUsername(ctx, opts.AdminUsername)
	if err != nil {
		return res, fmt.Errorf("seed admin: %w", err)
	}
	if !ok {
		if strings.TrimSpace(opts.AdminPassword) == "" {
			return res, fmt.Errorf("%w: admin password required to create %s", ErrValidation, opts.AdminUsername)
		}
		first, last := "System", "Administrator"
		admin, err = svc.CreateUser(ctx, NewUser{
			Username:  opts.AdminUsername,
			Email:     opts.AdminEmail,
			Password:  opts.AdminPassword,
			FirstName: &first,
			LastName:  &last,
		})
		if err != nil {
			return res, fmt.Errorf("seed admin: %w", err)
		}
		res.AdminNew = true
		logger.Info("created admin user", slog.String("username", admin.Username))
	}
	res.AdminID = admin.ID

	assignedBy := admin.ID
	if _, err := mgr.AssignUserRole(ctx, UserRoleAssignment{
		UserID:     admin.ID,
		RoleID:     roleIDs["super_admin"],
		AssignedBy: &assignedBy,
	}); err != nil {
		return res, fmt.Errorf("seed admin role: %w", err)
	}
	return res, nil
}
