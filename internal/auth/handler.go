package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/zerodna/cms-authz/internal/platform/httpx"
	"github.com/zerodna/cms-authz/internal/rbac"
	"github.com/zerodna/cms-authz/internal/shared"
)

// Handler wires HTTP endpoints for authentication flows.
type Handler struct {
	logger         *slog.Logger
	service        *Service
	tokens         *TokenIssuer
	sessionManager *shared.SessionManager
	csrfManager    *shared.CSRFManager
	authz          rbac.Authorizer
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, tokens *TokenIssuer, sessions *shared.SessionManager, csrf *shared.CSRFManager, authz rbac.Authorizer) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:         logger,
		service:        service,
		tokens:         tokens,
		sessionManager: sessions,
		csrfManager:    csrf,
		authz:          authz,
	}
}

// MountRoutes registers auth routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/csrf", h.csrfToken)
	r.Post("/login", h.handleLogin)
	r.Post("/logout", h.handleLogout)
	r.Get("/logout", h.handleLogout)
	r.Get("/user", h.currentUser)
}

func (h *Handler) csrfToken(w http.ResponseWriter, r *http.Request) {
	token, err := h.csrfManager.EnsureToken(shared.SessionFromContext(r.Context()))
	if err != nil {
		h.logger.Error("ensure csrf token", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"csrfToken": token})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var form loginRequest
	if err := httpx.DecodeJSON(r, &form); err != nil || form.Username == "" || form.Password == "" {
		httpx.JSON(w, http.StatusBadRequest, httpx.Message{Message: "Username and password are required"})
		return
	}

	user, err := h.service.Authenticate(r.Context(), form.Username, form.Password)
	switch {
	case errors.Is(err, shared.ErrInvalidCredentials):
		httpx.JSON(w, http.StatusUnauthorized, httpx.Message{Message: "Invalid credentials"})
		return
	case errors.Is(err, shared.ErrInactiveUser):
		httpx.JSON(w, http.StatusUnauthorized, httpx.Message{Message: "Account is inactive"})
		return
	case err != nil:
		h.logger.Error("login failed", slog.Any("error", err))
		httpx.JSON(w, http.StatusInternalServerError, httpx.Message{Message: "Login failed"})
		return
	}

	if sess := shared.SessionFromContext(r.Context()); sess != nil {
		sess.Regenerate()
		sess.SetUser(strconv.FormatInt(user.ID, 10))
		sess.Delete(shared.CSRFSessionKey)
	}
	token, expiresAt, err := h.tokens.Issue(user.ID)
	if err != nil {
		h.logger.Error("issue token", slog.Any("error", err))
		httpx.JSON(w, http.StatusInternalServerError, httpx.Message{Message: "Login failed"})
		return
	}
	h.logger.Info("user logged in", slog.Int64("user_id", user.ID))
	httpx.JSON(w, http.StatusOK, LoginResponse{
		Message:   "Login successful",
		User:      user,
		Token:     token,
		ExpiresAt: expiresAt,
	})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if sess := shared.SessionFromContext(r.Context()); sess != nil {
		h.sessionManager.Destroy(sess)
	}
	httpx.JSON(w, http.StatusOK, httpx.Message{Message: "Logged out successfully"})
}

func (h *Handler) currentUser(w http.ResponseWriter, r *http.Request) {
	id, ok := rbac.CurrentUserID(r)
	if !ok {
		httpx.JSON(w, http.StatusUnauthorized, httpx.Message{Message: "Not authenticated"})
		return
	}
	user, err := h.service.CurrentUser(r.Context(), id)
	if errors.Is(err, shared.ErrInvalidCredentials) {
		httpx.JSON(w, http.StatusUnauthorized, httpx.Message{Message: "Not authenticated"})
		return
	}
	if err != nil {
		h.logger.Error("load current user", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, CurrentUser{
		User:        user,
		Permissions: h.authz.EffectivePermissions(r.Context(), id),
	})
}
