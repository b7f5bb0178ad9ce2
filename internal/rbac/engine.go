package rbac

import (
	"context"
	"log/slog"
	"sort"
	"time"
)

// RevokePolicy controls whether a direct granted=false row vetoes role grants.
type RevokePolicy int

const (
	// RevokeOverridesRoles lets an explicit direct revoke suppress a
	// role-derived grant of the same permission.
	RevokeOverridesRoles RevokePolicy = iota
	// RevokeDirectOnly ignores direct revokes entirely; only direct grants
	// and role grants are consulted.
	RevokeDirectOnly
)

func (p RevokePolicy) String() string {
	if p == RevokeDirectOnly {
		return "direct-only"
	}
	return "overrides-roles"
}

// DecisionSource names the evidence behind a decision.
type DecisionSource string

const (
	SourceDirect  DecisionSource = "direct"
	SourceRole    DecisionSource = "role"
	SourceRevoked DecisionSource = "revoked"
	SourceNone    DecisionSource = "none"
	SourceError   DecisionSource = "error"
	SourceCache   DecisionSource = "cache"
)

// Decision is the outcome of one authorization query.
type Decision struct {
	Allowed bool
	Source  DecisionSource
	Err     error
}

// DecisionObserver receives every decision, typically for metrics.
type DecisionObserver interface {
	ObserveDecision(check string, source string, allowed bool)
}

// Authorizer is the read side consumed by middleware and handlers.
type Authorizer interface {
	HasPermission(ctx context.Context, userID int64, resource, action string) bool
	HasRole(ctx context.Context, userID int64, roleName string) bool
	HasAnyRole(ctx context.Context, userID int64, roleNames ...string) bool
	EffectivePermissions(ctx context.Context, userID int64) []string
}

// Engine combines direct and role-derived permissions. It never grants on
// error: store failures are logged and the answer is false.
type Engine struct {
	store    AuthzStore
	logger   *slog.Logger
	policy   RevokePolicy
	now      func() time.Time
	observer DecisionObserver
}

// EngineOption customises an Engine.
type EngineOption func(*Engine)

// WithRevokePolicy sets the precedence between direct revokes and roles.
func WithRevokePolicy(p RevokePolicy) EngineOption {
	return func(e *Engine) { e.policy = p }
}

// WithClock overrides time.Now for expiry checks.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithObserver attaches a decision observer.
func WithObserver(o DecisionObserver) EngineOption {
	return func(e *Engine) { e.observer = o }
}

// NewEngine builds an Engine over the authorization queries of a store.
func NewEngine(store AuthzStore, logger *slog.Logger, opts ...EngineOption) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{store: store, logger: logger, policy: RevokeOverridesRoles, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Policy reports the configured revoke policy.
func (e *Engine) Policy() RevokePolicy {
	return e.policy
}

// Evaluate answers "may userID perform action on resource" with the evidence used.
// Order: direct grant, then (policy permitting) direct revoke, then roles.
func (e *Engine) Evaluate(ctx context.Context, userID int64, resource, action string) Decision {
	at := e.now()

	direct, err := e.store.HasDirectPermission(ctx, userID, resource, action, true, at)
	if err != nil {
		return e.fail("permission", userID, err, slog.String("permission", PermissionKey(resource, action)))
	}
	if direct {
		return e.decide("permission", Decision{Allowed: true, Source: SourceDirect})
	}

	if e.policy == RevokeOverridesRoles {
		revoked, err := e.store.HasDirectPermission(ctx, userID, resource, action, false, at)
		if err != nil {
			return e.fail("permission", userID, err, slog.String("permission", PermissionKey(resource, action)))
		}
		if revoked {
			return e.decide("permission", Decision{Source: SourceRevoked})
		}
	}

	viaRole, err := e.store.HasRolePermission(ctx, userID, resource, action, at)
	if err != nil {
		return e.fail("permission", userID, err, slog.String("permission", PermissionKey(resource, action)))
	}
	if viaRole {
		return e.decide("permission", Decision{Allowed: true, Source: SourceRole})
	}
	return e.decide("permission", Decision{Source: SourceNone})
}

// HasPermission reports whether the user may perform action on resource.
func (e *Engine) HasPermission(ctx context.Context, userID int64, resource, action string) bool {
	return e.Evaluate(ctx, userID, resource, action).Allowed
}

// HasRole reports whether the user holds an active, unexpired role by name.
func (e *Engine) HasRole(ctx context.Context, userID int64, roleName string) bool {
	return e.hasAnyRole(ctx, "role", userID, []string{roleName})
}

// HasAnyRole reports whether the user holds at least one of the named roles.
func (e *Engine) HasAnyRole(ctx context.Context, userID int64, roleNames ...string) bool {
	return e.hasAnyRole(ctx, "any_role", userID, roleNames)
}

func (e *Engine) hasAnyRole(ctx context.Context, check string, userID int64, names []string) bool {
	if len(names) == 0 {
		return e.decide(check, Decision{Source: SourceNone}).Allowed
	}
	ok, err := e.store.HasAnyRoleNamed(ctx, userID, names, e.now())
	if err != nil {
		e.fail(check, userID, err, slog.Any("roles", names))
		return false
	}
	if ok {
		return e.decide(check, Decision{Allowed: true, Source: SourceRole}).Allowed
	}
	return e.decide(check, Decision{Source: SourceNone}).Allowed
}

// EffectivePermissions returns the sorted "resource.action" set the user holds.
// Store failures yield an empty set.
func (e *Engine) EffectivePermissions(ctx context.Context, userID int64) []string {
	snap, err := e.Snapshot(ctx, userID)
	if err != nil {
		e.fail("effective_permissions", userID, err)
		return []string{}
	}
	return snap.Permissions
}

// Snapshot resolves everything the user holds at this instant.
func (e *Engine) Snapshot(ctx context.Context, userID int64) (Snapshot, error) {
	at := e.now()
	direct, err := e.store.ListDirectAccess(ctx, userID, at)
	if err != nil {
		return Snapshot{}, err
	}
	viaRoles, err := e.store.ListRoleAccess(ctx, userID, at)
	if err != nil {
		return Snapshot{}, err
	}
	roles, err := e.store.ListActiveRoles(ctx, userID, at)
	if err != nil {
		return Snapshot{}, err
	}
	return buildSnapshot(e.policy, direct, viaRoles, roles), nil
}

func (e *Engine) decide(check string, d Decision) Decision {
	if e.observer != nil {
		e.observer.ObserveDecision(check, string(d.Source), d.Allowed)
	}
	return d
}

// fail logs err and records a denied decision under the same check label
// that successful decisions use.
func (e *Engine) fail(check string, userID int64, err error, attrs ...any) Decision {
	args := append([]any{slog.String("check", check), slog.Int64("user_id", userID), slog.Any("error", err)}, attrs...)
	e.logger.Error("rbac decision failed", args...)
	if e.observer != nil {
		e.observer.ObserveDecision(check, string(SourceError), false)
	}
	return Decision{Source: SourceError, Err: err}
}

// Snapshot is a user's resolved access at one instant.
type Snapshot struct {
	Permissions []string   `json:"permissions"`
	Roles       []string   `json:"roles"`
	ValidUntil  *time.Time `json:"validUntil,omitempty"`
}

// Allows reports whether key ("resource.action") is in the snapshot.
func (s Snapshot) Allows(key string) bool {
	i := sort.SearchStrings(s.Permissions, key)
	return i < len(s.Permissions) && s.Permissions[i] == key
}

// HasAnyRole reports whether any of names is held.
func (s Snapshot) HasAnyRole(names ...string) bool {
	for _, held := range s.Roles {
		for _, name := range names {
			if held == name {
				return true
			}
		}
	}
	return false
}

func buildSnapshot(policy RevokePolicy, direct, viaRoles []AccessEntry, roles []ActiveRole) Snapshot {
	granted := map[string]struct{}{}
	revoked := map[string]struct{}{}
	var validUntil *time.Time
	track := func(t *time.Time) {
		if t != nil && (validUntil == nil || t.Before(*validUntil)) {
			v := *t
			validUntil = &v
		}
	}

	for _, entry := range direct {
		track(entry.ExpiresAt)
		if entry.Granted {
			granted[entry.Key()] = struct{}{}
		} else if policy == RevokeOverridesRoles {
			revoked[entry.Key()] = struct{}{}
		}
	}
	for _, entry := range viaRoles {
		track(entry.ExpiresAt)
		key := entry.Key()
		if _, vetoed := revoked[key]; vetoed {
			continue
		}
		granted[key] = struct{}{}
	}

	perms := make([]string, 0, len(granted))
	for key := range granted {
		perms = append(perms, key)
	}
	sort.Strings(perms)

	names := make([]string, 0, len(roles))
	seen := map[string]struct{}{}
	for _, role := range roles {
		track(role.ExpiresAt)
		if _, dup := seen[role.Name]; dup {
			continue
		}
		seen[role.Name] = struct{}{}
		names = append(names, role.Name)
	}

	return Snapshot{Permissions: perms, Roles: names, ValidUntil: validUntil}
}

var _ Authorizer = (*Engine)(nil)
