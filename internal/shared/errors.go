package shared

import "errors"

var (
	// ErrInvalidCredentials indicates login failure.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInactiveUser is returned when a deactivated account tries to log in.
	ErrInactiveUser = errors.New("user is inactive")
	// ErrInvalidToken covers malformed, expired or wrongly signed bearer tokens.
	ErrInvalidToken = errors.New("invalid token")
	// ErrCSRFTokenMissing occurs when CSRF token missing.
	ErrCSRFTokenMissing = errors.New("csrf token missing")
	// ErrCSRFTokenMismatch occurs when CSRF tokens do not match.
	ErrCSRFTokenMismatch = errors.New("csrf token mismatch")
)
