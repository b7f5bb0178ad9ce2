// Package rbactest provides an in-memory rbac.Store for tests.
package rbactest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/zerodna/cms-authz/internal/rbac"
)

type pair struct{ a, b int64 }

// Store mirrors the PostgreSQL store's constraints: unique names, one row per
// assignment pair, cascading deletes and active/expiry filtering on reads.
type Store struct {
	mu sync.Mutex

	now    func() time.Time
	nextID int64
	err    error

	users       map[int64]rbac.User
	roles       map[int64]rbac.Role
	permissions map[int64]rbac.Permission
	userRoles   map[pair]rbac.UserRole
	rolePerms   map[pair]rbac.RolePermission
	userPerms   map[pair]rbac.UserPermission
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		now:         time.Now,
		users:       map[int64]rbac.User{},
		roles:       map[int64]rbac.Role{},
		permissions: map[int64]rbac.Permission{},
		userRoles:   map[pair]rbac.UserRole{},
		rolePerms:   map[pair]rbac.RolePermission{},
		userPerms:   map[pair]rbac.UserPermission{},
	}
}

// FailWith makes every subsequent call return err; nil restores normal behaviour.
func (s *Store) FailWith(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// SetClock overrides the timestamp source for created rows.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

func (s *Store) id() int64 {
	s.nextID++
	return s.nextID
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

func conflict(what string) error {
	return fmt.Errorf("%w: %s", rbac.ErrConflict, what)
}

func missing(what string) error {
	return fmt.Errorf("%w: %s references a missing row", rbac.ErrNotFound, what)
}

// Users

func (s *Store) GetUser(_ context.Context, id int64) (rbac.User, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return rbac.User{}, false, s.err
	}
	u, ok := s.users[id]
	return u, ok, nil
}

func (s *Store) findUser(match func(rbac.User) bool) (rbac.User, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return rbac.User{}, false, s.err
	}
	for _, u := range s.users {
		if match(u) {
			return u, true, nil
		}
	}
	return rbac.User{}, false, nil
}

func (s *Store) GetUserByUsername(_ context.Context, username string) (rbac.User, bool, error) {
	return s.findUser(func(u rbac.User) bool { return u.Username == username })
}

func (s *Store) GetUserByEmail(_ context.Context, email string) (rbac.User, bool, error) {
	return s.findUser(func(u rbac.User) bool { return u.Email == email })
}

func (s *Store) ListUsers(_ context.Context) ([]rbac.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	out := make([]rbac.User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (s *Store) userTaken(id int64, username, email string) error {
	for _, u := range s.users {
		if u.ID == id {
			continue
		}
		if u.Username == username {
			return conflict("username")
		}
		if u.Email == email {
			return conflict("email")
		}
	}
	return nil
}

func (s *Store) CreateUser(_ context.Context, in rbac.NewUser, passwordHash string) (rbac.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return rbac.User{}, s.err
	}
	if err := s.userTaken(0, in.Username, in.Email); err != nil {
		return rbac.User{}, err
	}
	now := s.now()
	u := rbac.User{
		ID:           s.id(),
		Username:     in.Username,
		Email:        in.Email,
		PasswordHash: passwordHash,
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		IsActive:     boolOr(in.IsActive, true),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.users[u.ID] = u
	return u, nil
}

func (s *Store) UpdateUser(_ context.Context, id int64, in rbac.UserUpdate) (rbac.User, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return rbac.User{}, false, s.err
	}
	u, ok := s.users[id]
	if !ok {
		return rbac.User{}, false, nil
	}
	if in.Username != nil {
		u.Username = *in.Username
	}
	if in.Email != nil {
		u.Email = *in.Email
	}
	if err := s.userTaken(id, u.Username, u.Email); err != nil {
		return rbac.User{}, false, err
	}
	if in.PasswordHash != nil {
		u.PasswordHash = *in.PasswordHash
	}
	if in.FirstName != nil {
		u.FirstName = in.FirstName
	}
	if in.LastName != nil {
		u.LastName = in.LastName
	}
	if in.IsActive != nil {
		u.IsActive = *in.IsActive
	}
	u.UpdatedAt = s.now()
	s.users[id] = u
	return u, true, nil
}

func (s *Store) DeleteUser(_ context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return false, s.err
	}
	if _, ok := s.users[id]; !ok {
		return false, nil
	}
	delete(s.users, id)
	for k, a := range s.userRoles {
		switch {
		case k.a == id:
			delete(s.userRoles, k)
		case a.AssignedBy != nil && *a.AssignedBy == id:
			a.AssignedBy = nil
			s.userRoles[k] = a
		}
	}
	for k, a := range s.userPerms {
		switch {
		case k.a == id:
			delete(s.userPerms, k)
		case a.AssignedBy != nil && *a.AssignedBy == id:
			a.AssignedBy = nil
			s.userPerms[k] = a
		}
	}
	return true, nil
}

func (s *Store) TouchLastLogin(_ context.Context, id int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	if u, ok := s.users[id]; ok {
		u.LastLoginAt = &at
		u.UpdatedAt = at
		s.users[id] = u
	}
	return nil
}

// Roles

func (s *Store) GetRole(_ context.Context, id int64) (rbac.Role, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return rbac.Role{}, false, s.err
	}
	r, ok := s.roles[id]
	return r, ok, nil
}

func (s *Store) GetRoleByName(_ context.Context, name string) (rbac.Role, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return rbac.Role{}, false, s.err
	}
	for _, r := range s.roles {
		if r.Name == name {
			return r, true, nil
		}
	}
	return rbac.Role{}, false, nil
}

func (s *Store) ListRoles(_ context.Context) ([]rbac.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	out := make([]rbac.Role, 0, len(s.roles))
	for _, r := range s.roles {
		out = append(out, r)
	}
	sortRoles(out)
	return out, nil
}

func sortRoles(roles []rbac.Role) {
	sort.Slice(roles, func(i, j int) bool {
		if roles[i].Level != roles[j].Level {
			return roles[i].Level > roles[j].Level
		}
		return roles[i].Name < roles[j].Name
	})
}

func (s *Store) roleTaken(id int64, name string) error {
	for _, r := range s.roles {
		if r.ID != id && r.Name == name {
			return conflict("role name")
		}
	}
	return nil
}

func (s *Store) CreateRole(_ context.Context, in rbac.NewRole) (rbac.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return rbac.Role{}, s.err
	}
	if err := s.roleTaken(0, in.Name); err != nil {
		return rbac.Role{}, err
	}
	now := s.now()
	r := rbac.Role{
		ID:          s.id(),
		Name:        in.Name,
		DisplayName: in.DisplayName,
		Description: in.Description,
		Level:       in.Level,
		IsActive:    boolOr(in.IsActive, true),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.roles[r.ID] = r
	return r, nil
}

func (s *Store) UpdateRole(_ context.Context, id int64, in rbac.RoleUpdate) (rbac.Role, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return rbac.Role{}, false, s.err
	}
	r, ok := s.roles[id]
	if !ok {
		return rbac.Role{}, false, nil
	}
	if in.Name != nil {
		if err := s.roleTaken(id, *in.Name); err != nil {
			return rbac.Role{}, false, err
		}
		r.Name = *in.Name
	}
	if in.DisplayName != nil {
		r.DisplayName = *in.DisplayName
	}
	if in.Description != nil {
		r.Description = in.Description
	}
	if in.Level != nil {
		r.Level = *in.Level
	}
	if in.IsActive != nil {
		r.IsActive = *in.IsActive
	}
	r.UpdatedAt = s.now()
	s.roles[id] = r
	return r, true, nil
}

func (s *Store) DeleteRole(_ context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return false, s.err
	}
	if _, ok := s.roles[id]; !ok {
		return false, nil
	}
	delete(s.roles, id)
	for k := range s.userRoles {
		if k.b == id {
			delete(s.userRoles, k)
		}
	}
	for k := range s.rolePerms {
		if k.a == id {
			delete(s.rolePerms, k)
		}
	}
	return true, nil
}

// Permissions

func (s *Store) GetPermission(_ context.Context, id int64) (rbac.Permission, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return rbac.Permission{}, false, s.err
	}
	p, ok := s.permissions[id]
	return p, ok, nil
}

func (s *Store) GetPermissionByName(_ context.Context, name string) (rbac.Permission, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return rbac.Permission{}, false, s.err
	}
	for _, p := range s.permissions {
		if p.Name == name {
			return p, true, nil
		}
	}
	return rbac.Permission{}, false, nil
}

func (s *Store) ListPermissions(_ context.Context) ([]rbac.Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	out := make([]rbac.Permission, 0, len(s.permissions))
	for _, p := range s.permissions {
		out = append(out, p)
	}
	sortPermissions(out)
	return out, nil
}

func sortPermissions(perms []rbac.Permission) {
	sort.Slice(perms, func(i, j int) bool { return perms[i].Key() < perms[j].Key() })
}

func (s *Store) permissionTaken(id int64, name, resource, action string) error {
	for _, p := range s.permissions {
		if p.ID == id {
			continue
		}
		if p.Name == name {
			return conflict("permission name")
		}
		if p.Resource == resource && p.Action == action {
			return conflict("permission resource/action")
		}
	}
	return nil
}

func (s *Store) CreatePermission(_ context.Context, in rbac.NewPermission) (rbac.Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return rbac.Permission{}, s.err
	}
	if err := s.permissionTaken(0, in.Name, in.Resource, in.Action); err != nil {
		return rbac.Permission{}, err
	}
	p := rbac.Permission{
		ID:          s.id(),
		Name:        in.Name,
		DisplayName: in.DisplayName,
		Description: in.Description,
		Resource:    in.Resource,
		Action:      in.Action,
		IsActive:    boolOr(in.IsActive, true),
		CreatedAt:   s.now(),
	}
	s.permissions[p.ID] = p
	return p, nil
}

func (s *Store) UpdatePermission(_ context.Context, id int64, in rbac.PermissionUpdate) (rbac.Permission, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return rbac.Permission{}, false, s.err
	}
	p, ok := s.permissions[id]
	if !ok {
		return rbac.Permission{}, false, nil
	}
	if in.Name != nil {
		p.Name = *in.Name
	}
	if in.DisplayName != nil {
		p.DisplayName = *in.DisplayName
	}
	if in.Description != nil {
		p.Description = in.Description
	}
	if in.Resource != nil {
		p.Resource = *in.Resource
	}
	if in.Action != nil {
		p.Action = *in.Action
	}
	if in.IsActive != nil {
		p.IsActive = *in.IsActive
	}
	if err := s.permissionTaken(id, p.Name, p.Resource, p.Action); err != nil {
		return rbac.Permission{}, false, err
	}
	s.permissions[id] = p
	return p, true, nil
}

func (s *Store) DeletePermission(_ context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return false, s.err
	}
	if _, ok := s.permissions[id]; !ok {
		return false, nil
	}
	delete(s.permissions, id)
	for k := range s.rolePerms {
		if k.b == id {
			delete(s.rolePerms, k)
		}
	}
	for k := range s.userPerms {
		if k.b == id {
			delete(s.userPerms, k)
		}
	}
	return true, nil
}

var _ rbac.Store = (*Store)(nil)
