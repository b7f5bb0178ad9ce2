package rbac

import (
	"net/http"
	"strings"
)

// Permission catalogue shipped with the CMS. Route guards reference these
// keys and the seed command creates them.
const (
	PermUsersCreate      = "users.create"
	PermUsersRead        = "users.read"
	PermUsersUpdate      = "users.update"
	PermUsersDelete      = "users.delete"
	PermUsersManageRoles = "users.manage_roles"

	PermRolesCreate            = "roles.create"
	PermRolesRead              = "roles.read"
	PermRolesUpdate            = "roles.update"
	PermRolesDelete            = "roles.delete"
	PermRolesManagePermissions = "roles.manage_permissions"

	PermPagesCreate  = "pages.create"
	PermPagesRead    = "pages.read"
	PermPagesUpdate  = "pages.update"
	PermPagesDelete  = "pages.delete"
	PermPagesPublish = "pages.publish"

	PermPostsCreate  = "posts.create"
	PermPostsRead    = "posts.read"
	PermPostsUpdate  = "posts.update"
	PermPostsDelete  = "posts.delete"
	PermPostsPublish = "posts.publish"

	PermSettingsRead   = "settings.read"
	PermSettingsUpdate = "settings.update"

	PermDashboardAccess = "dashboard.access"
)

// Catalog lists every built-in permission key in a stable order.
var Catalog = []string{
	PermUsersCreate, PermUsersRead, PermUsersUpdate, PermUsersDelete, PermUsersManageRoles,
	PermRolesCreate, PermRolesRead, PermRolesUpdate, PermRolesDelete, PermRolesManagePermissions,
	PermPagesCreate, PermPagesRead, PermPagesUpdate, PermPagesDelete, PermPagesPublish,
	PermPostsCreate, PermPostsRead, PermPostsUpdate, PermPostsDelete, PermPostsPublish,
	PermSettingsRead, PermSettingsUpdate,
	PermDashboardAccess,
}

// SplitKey breaks "resource.action" at the first dot.
func SplitKey(key string) (resource, action string, ok bool) {
	resource, action, ok = strings.Cut(key, ".")
	if !ok || resource == "" || action == "" {
		return "", "", false
	}
	return resource, action, true
}

// CatalogPermissions returns the catalogue as creation requests.
func CatalogPermissions() []NewPermission {
	out := make([]NewPermission, 0, len(Catalog))
	for _, key := range Catalog {
		resource, action, _ := SplitKey(key)
		out = append(out, NewPermission{
			Name:        key,
			DisplayName: DisplayNameFor(key),
			Resource:    resource,
			Action:      action,
		})
	}
	return out
}

// guard binds a catalogue key to the permission middleware.
func (m Middleware) guard(key string) func(next http.Handler) http.Handler {
	resource, action, _ := SplitKey(key)
	return m.RequirePermission(resource, action)
}
