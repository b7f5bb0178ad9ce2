package rbac

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/zerodna/cms-authz/internal/platform/httpx"
)

// Handler exposes the entity, assignment and check endpoints as JSON.
type Handler struct {
	logger      *slog.Logger
	service     *Service
	assignments *AssignmentManager
	authz       Authorizer
	rbac        Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, assignments *AssignmentManager, authz Authorizer, rbac Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, assignments: assignments, authz: authz, rbac: rbac}
}

// MountRoutes registers role, permission and user routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/roles", func(r chi.Router) {
		r.With(h.rbac.guard(PermRolesRead)).Get("/", h.listRoles)
		r.With(h.rbac.guard(PermRolesCreate)).Post("/", h.createRole)
		r.Route("/{id}", func(r chi.Router) {
			r.With(h.rbac.guard(PermRolesRead)).Get("/", h.getRole)
			r.With(h.rbac.guard(PermRolesUpdate)).Put("/", h.updateRole)
			r.With(h.rbac.guard(PermRolesDelete)).Delete("/", h.deleteRole)
			r.With(h.rbac.guard(PermRolesRead)).Get("/users", h.listRoleUsers)
			r.With(h.rbac.guard(PermRolesRead)).Get("/permissions", h.listRolePermissions)
			r.Group(func(r chi.Router) {
				r.Use(h.rbac.guard(PermRolesManagePermissions))
				r.Post("/permissions", h.assignRolePermission)
				r.Post("/permissions/{permissionId}", h.assignRolePermission)
				r.Delete("/permissions/{permissionId}", h.revokeRolePermission)
			})
		})
	})

	r.Route("/permissions", func(r chi.Router) {
		r.With(h.rbac.guard(PermRolesRead)).Get("/", h.listPermissions)
		r.With(h.rbac.guard(PermRolesRead)).Get("/{id}", h.getPermission)
		r.Group(func(r chi.Router) {
			r.Use(h.rbac.guard(PermRolesManagePermissions))
			r.Post("/", h.createPermission)
			r.Put("/{id}", h.updatePermission)
			r.Delete("/{id}", h.deletePermission)
		})
	})

	r.Route("/users", func(r chi.Router) {
		r.With(h.rbac.guard(PermUsersRead)).Get("/", h.listUsers)
		r.With(h.rbac.guard(PermUsersCreate)).Post("/", h.createUser)
		r.Route("/{id}", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(h.rbac.guard(PermUsersRead))
				r.Get("/", h.getUser)
				r.Get("/roles", h.listUserRoles)
				r.Get("/permissions", h.listUserPermissions)
				r.Get("/roles-permissions", h.userWithAccess)
				r.Get("/effective-permissions", h.effectivePermissions)
				r.Get("/check-permission", h.checkPermission)
				r.Get("/check-role", h.checkRole)
			})
			r.With(h.rbac.guard(PermUsersUpdate)).Put("/", h.updateUser)
			r.With(h.rbac.guard(PermUsersDelete)).Delete("/", h.deleteUser)
			r.Group(func(r chi.Router) {
				r.Use(h.rbac.guard(PermUsersManageRoles))
				r.Post("/roles", h.assignUserRole)
				r.Put("/roles", h.replaceUserRoles)
				r.Delete("/roles", h.revokeUserRole)
				r.Post("/roles/{roleId}", h.assignUserRole)
				r.Delete("/roles/{roleId}", h.revokeUserRole)
				r.Post("/permissions", h.assignUserPermission)
				r.Delete("/permissions", h.revokeUserPermission)
				r.Post("/permissions/{permissionId}", h.assignUserPermission)
				r.Delete("/permissions/{permissionId}", h.revokeUserPermission)
			})
		})
	})
}

type rolePermissionRequest struct {
	PermissionID int64 `json:"permissionId" validate:"required,gt=0"`
}

type userRoleRequest struct {
	RoleID     int64      `json:"roleId" validate:"required,gt=0"`
	AssignedBy *int64     `json:"assignedBy,omitempty" validate:"omitempty,gt=0"`
	ExpiresAt  *time.Time `json:"expiresAt,omitempty"`
}

type replaceUserRolesRequest struct {
	RoleIDs []int64 `json:"roleIds" validate:"required,dive,gt=0"`
}

type userPermissionRequest struct {
	PermissionID int64      `json:"permissionId" validate:"required,gt=0"`
	Granted      *bool      `json:"granted,omitempty"`
	AssignedBy   *int64     `json:"assignedBy,omitempty" validate:"omitempty,gt=0"`
	ExpiresAt    *time.Time `json:"expiresAt,omitempty"`
}

// Roles

func (h *Handler) listRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.service.ListRoles(r.Context())
	if err != nil {
		h.fail(w, r, "list roles", err)
		return
	}
	httpx.JSON(w, http.StatusOK, roles)
}

func (h *Handler) getRole(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, "get role", err)
		return
	}
	role, err := h.service.GetRole(r.Context(), id)
	if err != nil {
		h.fail(w, r, "get role", err)
		return
	}
	httpx.JSON(w, http.StatusOK, role)
}

func (h *Handler) createRole(w http.ResponseWriter, r *http.Request) {
	var in NewRole
	if err := decode(r, &in); err != nil {
		h.fail(w, r, "create role", err)
		return
	}
	role, err := h.service.CreateRole(r.Context(), in)
	if err != nil {
		h.fail(w, r, "create role", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, role)
}

func (h *Handler) updateRole(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, "update role", err)
		return
	}
	var in RoleUpdate
	if err := decode(r, &in); err != nil {
		h.fail(w, r, "update role", err)
		return
	}
	role, err := h.service.UpdateRole(r.Context(), id, in)
	if err != nil {
		h.fail(w, r, "update role", err)
		return
	}
	httpx.JSON(w, http.StatusOK, role)
}

func (h *Handler) deleteRole(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, "delete role", err)
		return
	}
	if err := h.service.DeleteRole(r.Context(), id); err != nil {
		h.fail(w, r, "delete role", err)
		return
	}
	httpx.NoContent(w)
}

func (h *Handler) listRoleUsers(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, "list role users", err)
		return
	}
	users, err := h.assignments.ListUsersByRole(r.Context(), id)
	if err != nil {
		h.fail(w, r, "list role users", err)
		return
	}
	httpx.JSON(w, http.StatusOK, users)
}

func (h *Handler) listRolePermissions(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, "list role permissions", err)
		return
	}
	role, err := h.assignments.RoleWithPermissions(r.Context(), id)
	if err != nil {
		h.fail(w, r, "list role permissions", err)
		return
	}
	httpx.JSON(w, http.StatusOK, role)
}

func (h *Handler) assignRolePermission(w http.ResponseWriter, r *http.Request) {
	roleID, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, "assign role permission", err)
		return
	}
	var in rolePermissionRequest
	if raw := chi.URLParam(r, "permissionId"); raw != "" {
		if in.PermissionID, err = pathID(r, "permissionId"); err != nil {
			h.fail(w, r, "assign role permission", err)
			return
		}
	} else if err := decode(r, &in); err != nil {
		h.fail(w, r, "assign role permission", err)
		return
	}
	a, err := h.assignments.AssignRolePermission(r.Context(), roleID, in.PermissionID)
	if err != nil {
		h.fail(w, r, "assign role permission", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, a)
}

func (h *Handler) revokeRolePermission(w http.ResponseWriter, r *http.Request) {
	roleID, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, "revoke role permission", err)
		return
	}
	permissionID, err := pathID(r, "permissionId")
	if err != nil {
		h.fail(w, r, "revoke role permission", err)
		return
	}
	if err := h.assignments.RevokeRolePermission(r.Context(), roleID, permissionID); err != nil {
		h.fail(w, r, "revoke role permission", err)
		return
	}
	httpx.NoContent(w)
}

// Permissions

func (h *Handler) listPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := h.service.ListPermissions(r.Context())
	if err != nil {
		h.fail(w, r, "list permissions", err)
		return
	}
	httpx.JSON(w, http.StatusOK, perms)
}

func (h *Handler) getPermission(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, "get permission", err)
		return
	}
	perm, err := h.service.GetPermission(r.Context(), id)
	if err != nil {
		h.fail(w, r, "get permission", err)
		return
	}
	httpx.JSON(w, http.StatusOK, perm)
}

func (h *Handler) createPermission(w http.ResponseWriter, r *http.Request) {
	var in NewPermission
	if err := decode(r, &in); err != nil {
		h.fail(w, r, "create permission", err)
		return
	}
	perm, err := h.service.CreatePermission(r.Context(), in)
	if err != nil {
		h.fail(w, r, "create permission", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, perm)
}

func (h *Handler) updatePermission(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, "update permission", err)
		return
	}
	var in PermissionUpdate
	if err := decode(r, &in); err != nil {
		h.fail(w, r, "update permission", err)
		return
	}
	perm, err := h.service.UpdatePermission(r.Context(), id, in)
	if err != nil {
		h.fail(w, r, "update permission", err)
		return
	}
	httpx.JSON(w, http.StatusOK, perm)
}

func (h *Handler) deletePermission(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, "delete permission", err)
		return
	}
	if err := h.service.DeletePermission(r.Context(), id); err != nil {
		h.fail(w, r, "delete permission", err)
		return
	}
	httpx.NoContent(w)
}

// Users

func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.service.ListUsers(r.Context())
	if err != nil {
		h.fail(w, r, "list users", err)
		return
	}
	httpx.JSON(w, http.StatusOK, users)
}

func (h *Handler) getUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, "get user", err)
		return
	}
	user, err := h.service.GetUser(r.Context(), id)
	if err != nil {
		h.fail(w, r, "get user", err)
		return
	}
	httpx.JSON(w, http.StatusOK, user)
}

func (h *Handler) createUser(w http.ResponseWriter, r *http.Request) {
	var in NewUser
	if err := decode(r, &in); err != nil {
		h.fail(w, r, "create user", err)
		return
	}
	user, err := h.service.CreateUser(r.Context(), in)
	if err != nil {
		h.fail(w, r, "create user", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, user)
}

func (h *Handler) updateUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, "update user", err)
		return
	}
	var in UserUpdate
	if err := decode(r, &in); err != nil {
		h.fail(w, r, "update user", err)
		return
	}
	user, err := h.service.UpdateUser(r.Context(), id, in)
	if err != nil {
		h.fail(w, r, "update user", err)
		return
	}
	httpx.JSON(w, http.StatusOK, user)
}

func (h *Handler) deleteUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, "delete user", err)
		return
	}
	if err := h.service.DeleteUser(r.Context(), id); err != nil {
		h.fail(w, r, "delete user", err)
		return
	}
	httpx.NoContent(w)
}

func (h *Handler) userWithAccess(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, "user access", err)
		return
	}
	out, err := h.assignments.UserWithAccess(r.Context(), id)
	if err != nil {
		h.fail(w, r, "user access", err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) effectivePermissions(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, "effective permissions", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"userId":      id,
		"permissions": h.authz.EffectivePermissions(r.Context(), id),
	})
}

func (h *Handler) checkPermission(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, "check permission", err)
		return
	}
	resource := r.URL.Query().Get("resource")
	action := r.URL.Query().Get("action")
	if resource == "" || action == "" {
		httpx.JSON(w, http.StatusBadRequest, httpx.Message{Message: "Resource and action are required"})
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]bool{
		"hasPermission": h.authz.HasPermission(r.Context(), id, resource, action),
	})
}

func (h *Handler) checkRole(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, "check role", err)
		return
	}
	roleName := r.URL.Query().Get("roleName")
	if roleName == "" {
		httpx.JSON(w, http.StatusBadRequest, httpx.Message{Message: "Role name is required"})
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]bool{
		"hasRole": h.authz.HasRole(r.Context(), id, roleName),
	})
}

// User assignments

func (h *Handler) listUserRoles(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, "list user roles", err)
		return
	}
	roles, err := h.assignments.ListUserRoles(r.Context(), id)
	if err != nil {
		h.fail(w, r, "list user roles", err)
		return
	}
	httpx.JSON(w, http.StatusOK, roles)
}

func (h *Handler) assignUserRole(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, "assign user role", err)
		return
	}
	var in userRoleRequest
	if chi.URLParam(r, "roleId") != "" {
		err = decodeOptional(r, &in, func() (err error) {
			in.RoleID, err = pathID(r, "roleId")
			return err
		})
	} else {
		err = decode(r, &in)
	}
	if err != nil {
		h.fail(w, r, "assign user role", err)
		return
	}
	a, err := h.assignments.AssignUserRole(r.Context(), UserRoleAssignment{
		UserID:     userID,
		RoleID:     in.RoleID,
		AssignedBy: assigner(r, in.AssignedBy),
		ExpiresAt:  in.ExpiresAt,
	})
	if err != nil {
		h.fail(w, r, "assign user role", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, a)
}

func (h *Handler) replaceUserRoles(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, "replace user roles", err)
		return
	}
	var in replaceUserRolesRequest
	if err := decode(r, &in); err != nil {
		h.fail(w, r, "replace user roles", err)
		return
	}
	out, err := h.assignments.ReplaceUserRoles(r.Context(), userID, in.RoleIDs, assigner(r, nil))
	if err != nil {
		h.fail(w, r, "replace user roles", err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) revokeUserRole(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, "revoke user role", err)
		return
	}
	var roleID int64
	if chi.URLParam(r, "roleId") != "" {
		roleID, err = pathID(r, "roleId")
	} else {
		var in struct {
			RoleID int64 `json:"roleId" validate:"required,gt=0"`
		}
		err = decode(r, &in)
		roleID = in.RoleID
	}
	if err != nil {
		h.fail(w, r, "revoke user role", err)
		return
	}
	if err := h.assignments.RevokeUserRole(r.Context(), userID, roleID); err != nil {
		h.fail(w, r, "revoke user role", err)
		return
	}
	httpx.NoContent(w)
}

func (h *Handler) listUserPermissions(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, "list user permissions", err)
		return
	}
	perms, err := h.assignments.ListUserPermissions(r.Context(), id)
	if err != nil {
		h.fail(w, r, "list user permissions", err)
		return
	}
	httpx.JSON(w, http.StatusOK, perms)
}

func (h *Handler) assignUserPermission(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, "assign user permission", err)
		return
	}
	var in userPermissionRequest
	if chi.URLParam(r, "permissionId") != "" {
		err = decodeOptional(r, &in, func() (err error) {
			in.PermissionID, err = pathID(r, "permissionId")
			return err
		})
	} else {
		err = decode(r, &in)
	}
	if err != nil {
		h.fail(w, r, "assign user permission", err)
		return
	}
	granted := true
	if in.Granted != nil {
		granted = *in.Granted
	}
	a, err := h.assignments.AssignUserPermission(r.Context(), UserPermissionAssignment{
		UserID:       userID,
		PermissionID: in.PermissionID,
		Granted:      granted,
		AssignedBy:   assigner(r, in.AssignedBy),
		ExpiresAt:    in.ExpiresAt,
	})
	if err != nil {
		h.fail(w, r, "assign user permission", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, a)
}

func (h *Handler) revokeUserPermission(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, "revoke user permission", err)
		return
	}
	var permissionID int64
	if chi.URLParam(r, "permissionId") != "" {
		permissionID, err = pathID(r, "permissionId")
	} else {
		var in rolePermissionRequest
		err = decode(r, &in)
		permissionID = in.PermissionID
	}
	if err != nil {
		h.fail(w, r, "revoke user permission", err)
		return
	}
	if err := h.assignments.RevokeUserPermission(r.Context(), userID, permissionID); err != nil {
		h.fail(w, r, "revoke user permission", err)
		return
	}
	httpx.NoContent(w)
}

// fail logs server-side failures and maps err to a problem response.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	if httpx.StatusFor(err) >= http.StatusInternalServerError {
		h.logger.Error(op+" failed", slog.Any("error", err), slog.String("path", r.URL.Path))
	}
	httpx.RespondError(w, err)
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(chi.URLParam(r, name)), 10, 64)
	if err != nil || id <= 0 {
		return 0, httpx.NewFieldError(name, "must be a positive integer")
	}
	return id, nil
}

func decode(r *http.Request, v any) error {
	if err := httpx.DecodeJSON(r, v); err != nil {
		return err
	}
	return httpx.Validate(v)
}

// decodeOptional accepts an empty body for routes that carry ids in the path.
// fromPath runs after decoding so path parameters win over body fields.
func decodeOptional(r *http.Request, v any, fromPath func() error) error {
	if r.Body != nil && r.ContentLength != 0 {
		if err := httpx.DecodeJSON(r, v); err != nil {
			return err
		}
	}
	if err := fromPath(); err != nil {
		return err
	}
	return httpx.Validate(v)
}

// assigner defaults assignedBy to the caller.
func assigner(r *http.Request, explicit *int64) *int64 {
	if explicit != nil {
		return explicit
	}
	if id, ok := CurrentUserID(r); ok {
		return &id
	}
	return nil
}
