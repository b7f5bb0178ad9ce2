package rbactest

import (
	"context"
	"sort"
	"time"

	"github.com/zerodna/cms-authz/internal/rbac"
)

func (s *Store) ListUserRoles(_ context.Context, userID int64) ([]rbac.UserRoleDetail, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	out := []rbac.UserRoleDetail{}
	for k, a := range s.userRoles {
		if k.a == userID {
			out = append(out, rbac.UserRoleDetail{UserRole: a, Role: s.roles[k.b]})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Role.Level != out[j].Role.Level {
			return out[i].Role.Level > out[j].Role.Level
		}
		return out[i].Role.Name < out[j].Role.Name
	})
	return out, nil
}

func (s *Store) upsertUserRole(in rbac.UserRoleAssignment, overwrite bool) (rbac.UserRole, error) {
	if _, ok := s.users[in.UserID]; !ok {
		return rbac.UserRole{}, missing("assign user role")
	}
	if _, ok := s.roles[in.RoleID]; !ok {
		return rbac.UserRole{}, missing("assign user role")
	}
	key := pair{in.UserID, in.RoleID}
	a, exists := s.userRoles[key]
	if exists && !overwrite {
		return a, nil
	}
	if !exists {
		a = rbac.UserRole{ID: s.id(), UserID: in.UserID, RoleID: in.RoleID}
	}
	a.AssignedAt = s.now()
	a.AssignedBy = in.AssignedBy
	a.ExpiresAt = in.ExpiresAt
	s.userRoles[key] = a
	return a, nil
}

func (s *Store) UpsertUserRole(_ context.Context, in rbac.UserRoleAssignment) (rbac.UserRole, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return rbac.UserRole{}, s.err
	}
	return s.upsertUserRole(in, true)
}

func (s *Store) DeleteUserRole(_ context.Context, userID, roleID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	delete(s.userRoles, pair{userID, roleID})
	return nil
}

// ReplaceUserRoles applies all changes or none.
func (s *Store) ReplaceUserRoles(_ context.Context, userID int64, roleIDs []int64, assignedBy *int64) ([]rbac.UserRole, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	if _, ok := s.users[userID]; !ok {
		return nil, missing("replace user roles")
	}
	keep := make(map[int64]struct{}, len(roleIDs))
	for _, id := range roleIDs {
		if _, ok := s.roles[id]; !ok {
			return nil, missing("replace user roles")
		}
		keep[id] = struct{}{}
	}
	for k := range s.userRoles {
		if _, ok := keep[k.b]; k.a == userID && !ok {
			delete(s.userRoles, k)
		}
	}
	out := make([]rbac.UserRole, 0, len(roleIDs))
	for _, id := range roleIDs {
		a, err := s.upsertUserRole(rbac.UserRoleAssignment{UserID: userID, RoleID: id, AssignedBy: assignedBy}, false)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RoleID < out[j].RoleID })
	return out, nil
}

func (s *Store) ListRolePermissions(_ context.Context, roleID int64) ([]rbac.RolePermissionDetail, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	out := []rbac.RolePermissionDetail{}
	for k, a := range s.rolePerms {
		if k.a == roleID {
			out = append(out, rbac.RolePermissionDetail{RolePermission: a, Permission: s.permissions[k.b]})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Permission.Key() < out[j].Permission.Key() })
	return out, nil
}

func (s *Store) UpsertRolePermission(_ context.Context, roleID, permissionID int64) (rbac.RolePermission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return rbac.RolePermission{}, s.err
	}
	if _, ok := s.roles[roleID]; !ok {
		return rbac.RolePermission{}, missing("assign role permission")
	}
	if _, ok := s.permissions[permissionID]; !ok {
		return rbac.RolePermission{}, missing("assign role permission")
	}
	key := pair{roleID, permissionID}
	if a, ok := s.rolePerms[key]; ok {
		return a, nil
	}
	a := rbac.RolePermission{ID: s.id(), RoleID: roleID, PermissionID: permissionID, CreatedAt: s.now()}
	s.rolePerms[key] = a
	return a, nil
}

func (s *Store) DeleteRolePermission(_ context.Context, roleID, permissionID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	delete(s.rolePerms, pair{roleID, permissionID})
	return nil
}

func (s *Store) ListUserPermissions(_ context.Context, userID int64) ([]rbac.UserPermissionDetail, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	out := []rbac.UserPermissionDetail{}
	for k, a := range s.userPerms {
		if k.a == userID {
			out = append(out, rbac.UserPermissionDetail{UserPermission: a, Permission: s.permissions[k.b]})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Permission.Key() < out[j].Permission.Key() })
	return out, nil
}

func (s *Store) UpsertUserPermission(_ context.Context, in rbac.UserPermissionAssignment) (rbac.UserPermission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return rbac.UserPermission{}, s.err
	}
	if _, ok := s.users[in.UserID]; !ok {
		return rbac.UserPermission{}, missing("assign user permission")
	}
	if _, ok := s.permissions[in.PermissionID]; !ok {
		return rbac.UserPermission{}, missing("assign user permission")
	}
	key := pair{in.UserID, in.PermissionID}
	a, ok := s.userPerms[key]
	if !ok {
		a = rbac.UserPermission{ID: s.id(), UserID: in.UserID, PermissionID: in.PermissionID}
	}
	a.Granted = in.Granted
	a.AssignedAt = s.now()
	a.AssignedBy = in.AssignedBy
	a.ExpiresAt = in.ExpiresAt
	s.userPerms[key] = a
	return a, nil
}

func (s *Store) DeleteUserPermission(_ context.Context, userID, permissionID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	delete(s.userPerms, pair{userID, permissionID})
	return nil
}

func (s *Store) ListUsersByRole(_ context.Context, roleID int64) ([]rbac.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	out := []rbac.User{}
	for k := range s.userRoles {
		if k.b == roleID {
			out = append(out, s.users[k.a])
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (s *Store) PurgeExpired(_ context.Context, at time.Time) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	touched := map[int64]struct{}{}
	for k, a := range s.userRoles {
		if !a.EffectiveAt(at) {
			delete(s.userRoles, k)
			touched[k.a] = struct{}{}
		}
	}
	for k, a := range s.userPerms {
		if !a.EffectiveAt(at) {
			delete(s.userPerms, k)
			touched[k.a] = struct{}{}
		}
	}
	ids := make([]int64, 0, len(touched))
	for id := range touched {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// Authorization queries

func (s *Store) HasDirectPermission(ctx context.Context, userID int64, resource, action string, granted bool, at time.Time) (bool, error) {
	entries, err := s.ListDirectAccess(ctx, userID, at)
	if err != nil {
		return false, err
	}
	for _, e := range entries {
		if e.Resource == resource && e.Action == action && e.Granted == granted {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) HasRolePermission(ctx context.Context, userID int64, resource, action string, at time.Time) (bool, error) {
	entries, err := s.ListRoleAccess(ctx, userID, at)
	if err != nil {
		return false, err
	}
	for _, e := range entries {
		if e.Resource == resource && e.Action == action {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) HasAnyRoleNamed(ctx context.Context, userID int64, names []string, at time.Time) (bool, error) {
	roles, err := s.ListActiveRoles(ctx, userID, at)
	if err != nil {
		return false, err
	}
	for _, r := range roles {
		for _, name := range names {
			if r.Name == name {
				return true, nil
			}
		}
	}
	return false, nil
}

func (s *Store) ListDirectAccess(_ context.Context, userID int64, at time.Time) ([]rbac.AccessEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	out := []rbac.AccessEntry{}
	for k, a := range s.userPerms {
		p := s.permissions[k.b]
		if k.a != userID || !p.IsActive || !a.EffectiveAt(at) {
			continue
		}
		out = append(out, rbac.AccessEntry{Resource: p.Resource, Action: p.Action, Granted: a.Granted, ExpiresAt: a.ExpiresAt})
	}
	return out, nil
}

func (s *Store) ListRoleAccess(_ context.Context, userID int64, at time.Time) ([]rbac.AccessEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	out := []rbac.AccessEntry{}
	for k, ur := range s.userRoles {
		r := s.roles[k.b]
		if k.a != userID || !r.IsActive || !ur.EffectiveAt(at) {
			continue
		}
		for rk := range s.rolePerms {
			p := s.permissions[rk.b]
			if rk.a != r.ID || !p.IsActive {
				continue
			}
			out = append(out, rbac.AccessEntry{Resource: p.Resource, Action: p.Action, Granted: true, RoleName: r.Name, ExpiresAt: ur.ExpiresAt})
		}
	}
	return out, nil
}

func (s *Store) ListActiveRoles(_ context.Context, userID int64, at time.Time) ([]rbac.ActiveRole, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	held := []rbac.Role{}
	expiry := map[int64]*time.Time{}
	for k, ur := range s.userRoles {
		r := s.roles[k.b]
		if k.a != userID || !r.IsActive || !ur.EffectiveAt(at) {
			continue
		}
		held = append(held, r)
		expiry[r.ID] = ur.ExpiresAt
	}
	sortRoles(held)
	out := make([]rbac.ActiveRole, 0, len(held))
	for _, r := range held {
		out = append(out, rbac.ActiveRole{Name: r.Name, ExpiresAt: expiry[r.ID]})
	}
	return out, nil
}
