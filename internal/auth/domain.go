package auth

import (
	"time"

	"github.com/zerodna/cms-authz/internal/rbac"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse is returned on a successful login.
type LoginResponse struct {
	Message   string    `json:"message"`
	User      rbac.User `json:"user"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// CurrentUser is the body of GET /auth/user.
type CurrentUser struct {
	rbac.User
	Permissions []string `json:"permissions"`
}
