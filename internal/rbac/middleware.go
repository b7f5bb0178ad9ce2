package rbac

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/zerodna/cms-authz/internal/platform/httpx"
	"github.com/zerodna/cms-authz/internal/shared"
)

const (
	msgAuthRequired      = "Authentication required"
	msgInsufficientPerms = "Insufficient permissions"
	msgInsufficientRole  = "Insufficient role privileges"
)

// UserLookup loads a user by id.
type UserLookup interface {
	GetUser(ctx context.Context, id int64) (User, bool, error)
}

// Middleware guards HTTP handlers with authorization checks. When Users is
// set, identities that no longer map to an active user are unauthenticated.
type Middleware struct {
	Authz  Authorizer
	Users  UserLookup
	Logger *slog.Logger
}

// RequirePermission admits the request only if the current user holds resource.action.
func (m Middleware) RequirePermission(resource, action string) func(http.Handler) http.Handler {
	required := PermissionKey(resource, action)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, ok := m.currentUserID(r)
			if !ok {
				httpx.JSON(w, http.StatusUnauthorized, httpx.Message{Message: msgAuthRequired})
				return
			}
			if !m.Authz.HasPermission(r.Context(), userID, resource, action) {
				httpx.JSON(w, http.StatusForbidden, httpx.Message{Message: msgInsufficientPerms, Required: required})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireRole admits the request if the current user holds any of the named roles.
func (m Middleware) RequireRole(names ...string) func(http.Handler) http.Handler {
	required := append([]string{}, names...)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, ok := m.currentUserID(r)
			if !ok {
				httpx.JSON(w, http.StatusUnauthorized, httpx.Message{Message: msgAuthRequired})
				return
			}
			if !m.Authz.HasAnyRole(r.Context(), userID, required...) {
				httpx.JSON(w, http.StatusForbidden, httpx.Message{Message: msgInsufficientRole, Required: required})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAuth only demands an identity.
func (m Middleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := m.currentUserID(r); !ok {
			httpx.JSON(w, http.StatusUnauthorized, httpx.Message{Message: msgAuthRequired})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// CurrentUserID resolves the caller: bearer token first, then the session.
func CurrentUserID(r *http.Request) (int64, bool) {
	return Middleware{}.currentUserID(r)
}

func (m Middleware) currentUserID(r *http.Request) (int64, bool) {
	id, ok := requestUserID(r, m.Logger)
	if !ok || m.Users == nil {
		return id, ok
	}
	user, found, err := m.Users.GetUser(r.Context(), id)
	if err != nil {
		if m.Logger != nil {
			m.Logger.Error("rbac load user", slog.Int64("user_id", id), slog.Any("error", err))
		}
		return 0, false
	}
	if !found || !user.IsActive {
		return 0, false
	}
	return id, true
}

func requestUserID(r *http.Request, logger *slog.Logger) (int64, bool) {
	if id, ok := shared.UserIDFromContext(r.Context()); ok {
		return id, true
	}
	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		return 0, false
	}
	raw := strings.TrimSpace(sess.User())
	if raw == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		if logger != nil {
			logger.Error("rbac parse user id", slog.String("value", raw))
		}
		return 0, false
	}
	return id, true
}
