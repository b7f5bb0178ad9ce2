package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/zerodna/cms-authz/internal/rbac"
	"github.com/zerodna/cms-authz/internal/shared"
)

// UserStore is the slice of the entity store needed for login.
type UserStore interface {
	GetUser(ctx context.Context, id int64) (rbac.User, bool, error)
	GetUserByUsername(ctx context.Context, username string) (rbac.User, bool, error)
	TouchLastLogin(ctx context.Context, id int64, at time.Time) error
}

// Service wraps authentication business rules.
type Service struct {
	users UserStore
	now   func() time.Time
	dummy []byte
}

// NewService constructs a new Service.
func NewService(users UserStore) *Service {
	// Compared against when the username is unknown so both paths cost one bcrypt check.
	dummy, _ := bcrypt.GenerateFromPassword([]byte("not-a-real-password"), bcrypt.DefaultCost)
	return &Service{users: users, now: time.Now, dummy: dummy}
}

// Authenticate validates username/password credentials and records the login.
func (s *Service) Authenticate(ctx context.Context, username, password string) (rbac.User, error) {
	user, ok, err := s.users.GetUserByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		return rbac.User{}, fmt.Errorf("auth: lookup user: %w", err)
	}
	if !ok {
		_ = bcrypt.CompareHashAndPassword(s.dummy, []byte(password))
		return rbac.User{}, shared.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return rbac.User{}, shared.ErrInvalidCredentials
		}
		return rbac.User{}, fmt.Errorf("auth: compare password: %w", err)
	}
	if !user.IsActive {
		return rbac.User{}, shared.ErrInactiveUser
	}
	at := s.now().UTC()
	if err := s.users.TouchLastLogin(ctx, user.ID, at); err != nil {
		return rbac.User{}, fmt.Errorf("auth: touch last login: %w", err)
	}
	user.LastLoginAt = &at
	return user, nil
}

// CurrentUser loads an active user by id.
func (s *Service) CurrentUser(ctx context.Context, id int64) (rbac.User, error) {
	user, ok, err := s.users.GetUser(ctx, id)
	if err != nil {
		return rbac.User{}, fmt.Errorf("auth: lookup user: %w", err)
	}
	if !ok || !user.IsActive {
		return rbac.User{}, shared.ErrInvalidCredentials
	}
	return user, nil
}
