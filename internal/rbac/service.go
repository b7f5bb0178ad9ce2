package rbac

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Service wraps CRUD rules for users, roles and permissions.
type Service struct {
	store       EntityStore
	invalidator Invalidator
	hashCost    int
}

// ServiceOption customises a Service.
type ServiceOption func(*Service)

// WithInvalidator wires cache invalidation into mutations.
func WithInvalidator(inv Invalidator) ServiceOption {
	return func(s *Service) {
		if inv != nil {
			s.invalidator = inv
		}
	}
}

// WithHashCost overrides the bcrypt cost (tests use bcrypt.MinCost).
func WithHashCost(cost int) ServiceOption {
	return func(s *Service) { s.hashCost = cost }
}

// NewService builds Service instance.
func NewService(store EntityStore, opts ...ServiceOption) *Service {
	s := &Service{store: store, invalidator: NopInvalidator{}, hashCost: bcrypt.DefaultCost}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DisplayNameFor turns a machine key such as "content_manager" or
// "posts.publish" into "Content Manager" / "Posts Publish".
func DisplayNameFor(key string) string {
	words := strings.FieldsFunc(key, func(r rune) bool {
		return r == '_' || r == '.' || r == '-' || r == ' '
	})
	return cases.Title(language.English).String(strings.Join(words, " "))
}

// Users

func (s *Service) ListUsers(ctx context.Context) ([]User, error) {
	return s.store.ListUsers(ctx)
}

func (s *Service) GetUser(ctx context.Context, id int64) (User, error) {
	u, ok, err := s.store.GetUser(ctx, id)
	if err != nil {
		return User{}, err
	}
	if !ok {
		return User{}, fmt.Errorf("%w: user %d", ErrNotFound, id)
	}
	return u, nil
}

func (s *Service) CreateUser(ctx context.Context, in NewUser) (User, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.TrimSpace(strings.ToLower(in.Email))
	if in.Username == "" || in.Email == "" {
		return User{}, fmt.Errorf("%w: username and email are required", ErrValidation)
	}
	if len(in.Password) < 8 {
		return User{}, fmt.Errorf("%w: password must be at least 8 characters", ErrValidation)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.hashCost)
	if err != nil {
		return User{}, fmt.Errorf("rbac: hash password: %w", err)
	}
	return s.store.CreateUser(ctx, in, string(hash))
}

func (s *Service) UpdateUser(ctx context.Context, id int64, in UserUpdate) (User, error) {
	if in.Username != nil {
		trimmed := strings.TrimSpace(*in.Username)
		if trimmed == "" {
			return User{}, fmt.Errorf("%w: username cannot be blank", ErrValidation)
		}
		in.Username = &trimmed
	}
	if in.Email != nil {
		normalized := strings.TrimSpace(strings.ToLower(*in.Email))
		in.Email = &normalized
	}
	in.PasswordHash = nil
	if in.Password != nil {
		hash, err := bcrypt.GenerateFromPassword([]byte(*in.Password), s.hashCost)
		if err != nil {
			return User{}, fmt.Errorf("rbac: hash password: %w", err)
		}
		h := string(hash)
		in.PasswordHash = &h
	}
	u, ok, err := s.store.UpdateUser(ctx, id, in)
	if err != nil {
		return User{}, err
	}
	if !ok {
		return User{}, fmt.Errorf("%w: user %d", ErrNotFound, id)
	}
	return u, nil
}

// DeleteUser removes the user; assignments go with it.
func (s *Service) DeleteUser(ctx context.Context, id int64) error {
	ok, err := s.store.DeleteUser(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: user %d", ErrNotFound, id)
	}
	return s.invalidator.InvalidateUser(ctx, id)
}

// Roles

func (s *Service) ListRoles(ctx context.Context) ([]Role, error) {
	return s.store.ListRoles(ctx)
}

func (s *Service) GetRole(ctx context.Context, id int64) (Role, error) {
	r, ok, err := s.store.GetRole(ctx, id)
	if err != nil {
		return Role{}, err
	}
	if !ok {
		return Role{}, fmt.Errorf("%w: role %d", ErrNotFound, id)
	}
	return r, nil
}

func (s *Service) CreateRole(ctx context.Context, in NewRole) (Role, error) {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return Role{}, fmt.Errorf("%w: role name is required", ErrValidation)
	}
	if strings.TrimSpace(in.DisplayName) == "" {
		in.DisplayName = DisplayNameFor(in.Name)
	}
	if in.Level == 0 {
		in.Level = 1
	}
	if in.Level < 1 || in.Level > 100 {
		return Role{}, fmt.Errorf("%w: role level must be between 1 and 100", ErrValidation)
	}
	return s.store.CreateRole(ctx, in)
}

// UpdateRole applies a partial update. Any change can flip decisions for
// every holder, so the whole cache is invalidated.
func (s *Service) UpdateRole(ctx context.Context, id int64, in RoleUpdate) (Role, error) {
	if in.Name != nil && strings.TrimSpace(*in.Name) == "" {
		return Role{}, fmt.Errorf("%w: role name cannot be blank", ErrValidation)
	}
	if in.Level != nil && (*in.Level < 1 || *in.Level > 100) {
		return Role{}, fmt.Errorf("%w: role level must be between 1 and 100", ErrValidation)
	}
	r, ok, err := s.store.UpdateRole(ctx, id, in)
	if err != nil {
		return Role{}, err
	}
	if !ok {
		return Role{}, fmt.Errorf("%w: role %d", ErrNotFound, id)
	}
	return r, s.invalidator.InvalidateAll(ctx)
}

func (s *Service) DeleteRole(ctx context.Context, id int64) error {
	ok, err := s.store.DeleteRole(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: role %d", ErrNotFound, id)
	}
	return s.invalidator.InvalidateAll(ctx)
}

// Permissions

func (s *Service) ListPermissions(ctx context.Context) ([]Permission, error) {
	return s.store.ListPermissions(ctx)
}

func (s *Service) GetPermission(ctx context.Context, id int64) (Permission, error) {
	p, ok, err := s.store.GetPermission(ctx, id)
	if err != nil {
		return Permission{}, err
	}
	if !ok {
		return Permission{}, fmt.Errorf("%w: permission %d", ErrNotFound, id)
	}
	return p, nil
}

func (s *Service) CreatePermission(ctx context.Context, in NewPermission) (Permission, error) {
	in.Resource = strings.TrimSpace(in.Resource)
	in.Action = strings.TrimSpace(in.Action)
	if in.Resource == "" || in.Action == "" {
		return Permission{}, fmt.Errorf("%w: resource and action are required", ErrValidation)
	}
	if strings.TrimSpace(in.Name) == "" {
		in.Name = PermissionKey(in.Resource, in.Action)
	}
	if strings.TrimSpace(in.DisplayName) == "" {
		in.DisplayName = DisplayNameFor(in.Name)
	}
	return s.store.CreatePermission(ctx, in)
}

// EnsurePermission returns the permission with the given key, creating it if missing.
func (s *Service) EnsurePermission(ctx context.Context, in NewPermission) (Permission, error) {
	name := in.Name
	if strings.TrimSpace(name) == "" {
		name = PermissionKey(in.Resource, in.Action)
	}
	if p, ok, err := s.store.GetPermissionByName(ctx, name); err != nil {
		return Permission{}, err
	} else if ok {
		return p, nil
	}
	return s.CreatePermission(ctx, in)
}

func (s *Service) UpdatePermission(ctx context.Context, id int64, in PermissionUpdate) (Permission, error) {
	if in.Resource != nil && strings.TrimSpace(*in.Resource) == "" {
		return Permission{}, fmt.Errorf("%w: resource cannot be blank", ErrValidation)
	}
	if in.Action != nil && strings.TrimSpace(*in.Action) == "" {
		return Permission{}, fmt.Errorf("%w: action cannot be blank", ErrValidation)
	}
	p, ok, err := s.store.UpdatePermission(ctx, id, in)
	if err != nil {
		return Permission{}, err
	}
	if !ok {
		return Permission{}, fmt.Errorf("%w: permission %d", ErrNotFound, id)
	}
	return p, s.invalidator.InvalidateAll(ctx)
}

func (s *Service) DeletePermission(ctx context.Context, id int64) error {
	ok, err := s.store.DeletePermission(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: permission %d", ErrNotFound, id)
	}
	return s.invalidator.InvalidateAll(ctx)
}
