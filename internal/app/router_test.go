package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/zerodna/cms-authz/internal/auth"
	"github.com/zerodna/cms-authz/internal/observability"
	"github.com/zerodna/cms-authz/internal/rbac"
	"github.com/zerodna/cms-authz/internal/rbac/rbactest"
	"github.com/zerodna/cms-authz/internal/shared"
	"github.com/zerodna/cms-authz/jobs"
)

type testServer struct {
	handler http.Handler
	tokens  *auth.TokenIssuer
	store   *rbactest.Store
	adminID int64
	authz   Authz
}

func newTestServer(t *testing.T, cacheMode string) *testServer {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cfg := &Config{
		AppEnv:                   "production",
		AuthzCache:               cacheMode,
		AuthzCacheTTL:            time.Minute,
		AuthzRevokeOverridesRole: true,
		RateLimitPerMinute:       1000,
	}
	logger := newLogger(cfg, new(strings.Builder))
	store := rbactest.NewStore()
	metrics := observability.NewMetrics()

	authz, err := NewAuthz(cfg, store, client, metrics, logger)
	require.NoError(t, err)
	svc := rbac.NewService(store, rbac.WithHashCost(bcrypt.MinCost), rbac.WithInvalidator(authz.Invalidator))
	mgr := rbac.NewAssignmentManager(store, authz.Invalidator)
	res, err := rbac.Seed(context.Background(), store, svc, mgr, rbac.SeedOptions{AdminPassword: "admin-password"}, logger)
	require.NoError(t, err)

	sessions := shared.NewSessionManager(client, "cms_session", time.Hour, false)
	csrf := shared.NewCSRFManager("csrf-secret")
	tokens := auth.NewTokenIssuer("0123456789abcdef0123456789abcdef", time.Hour, "cms-authz")
	mw := rbac.Middleware{Authz: authz.Authorizer, Users: store, Logger: logger}

	handler := NewRouter(RouterParams{
		Logger:         logger,
		Config:         cfg,
		SessionManager: sessions,
		CSRFManager:    csrf,
		Tokens:         tokens,
		AuthHandler:    auth.NewHandler(logger, auth.NewService(store), tokens, sessions, csrf, authz.Authorizer),
		RBACHandler:    rbac.NewHandler(logger, svc, mgr, authz.Authorizer, mw),
		RBACMiddleware: mw,
		JobHandler:     jobs.NewHandler(nil, logger),
		Metrics:        metrics,
	})
	return &testServer{handler: handler, tokens: tokens, store: store, adminID: res.AdminID, authz: authz}
}

func (s *testServer) bearer(t *testing.T, userID int64) string {
	t.Helper()
	token, _, err := s.tokens.Issue(userID)
	require.NoError(t, err)
	return "Bearer " + token
}

func (s *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	req.Header.Set("X-Forwarded-Proto", "https")
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func TestRouterHealthAndNotFound(t *testing.T) {
	s := newTestServer(t, CacheNone)

	rec := s.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	rec = s.do(httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"message":"Not found"}`, rec.Body.String())
}

func TestRouterRejectsUnsafeRequestWithoutCSRF(t *testing.T) {
	s := newTestServer(t, CacheNone)

	req := httptest.NewRequest(http.MethodPost, "/api/roles", strings.NewReader(`{"name":"x"}`))
	rec := s.do(req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.JSONEq(t, `{"message":"Invalid CSRF token"}`, rec.Body.String())
}

func TestRouterBearerRequestsSkipCSRF(t *testing.T) {
	s := newTestServer(t, CacheNone)

	req := httptest.NewRequest(http.MethodPost, "/api/roles", strings.NewReader(`{"name":"reviewer"}`))
	req.Header.Set("Authorization", s.bearer(t, s.adminID))
	rec := s.do(req)
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestRouterSessionLoginFlow(t *testing.T) {
	s := newTestServer(t, CacheNone)

	rec := s.do(httptest.NewRequest(http.MethodGet, "/api/auth/csrf", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var csrf struct {
		Token string `json:"csrfToken"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &csrf))
	cookies := rec.Result().Cookies()
	require.NotEmpty(t, cookies)

	login := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(`{"username":"admin","password":"admin-password"}`))
	login.Header.Set(shared.CSRFHeader, csrf.Token)
	for _, c := range cookies {
		login.AddCookie(c)
	}
	rec = s.do(login)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	sessionCookies := rec.Result().Cookies()
	require.NotEmpty(t, sessionCookies)
	assert.NotEqual(t, cookies[0].Value, sessionCookies[0].Value, "login rotates the session id")

	me := httptest.NewRequest(http.MethodGet, "/api/auth/user", nil)
	for _, c := range sessionCookies {
		me.AddCookie(c)
	}
	rec = s.do(me)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var cu auth.CurrentUser
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cu))
	assert.Equal(t, "admin", cu.Username)
	assert.Len(t, cu.Permissions, len(rbac.Catalog))
}

func TestRouterDeactivatedUserLosesAccess(t *testing.T) {
	for _, mode := range []string{CacheNone, CacheMemory} {
		t.Run(mode, func(t *testing.T) {
			s := newTestServer(t, mode)
			token := s.bearer(t, s.adminID)

			req := httptest.NewRequest(http.MethodGet, "/api/users", nil)
			req.Header.Set("Authorization", token)
			require.Equal(t, http.StatusOK, s.do(req).Code)

			inactive := false
			_, ok, err := s.store.UpdateUser(context.Background(), s.adminID, rbac.UserUpdate{IsActive: &inactive})
			require.NoError(t, err)
			require.True(t, ok)

			req = httptest.NewRequest(http.MethodGet, "/api/users", nil)
			req.Header.Set("Authorization", token)
			rec := s.do(req)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.JSONEq(t, `{"message":"Authentication required"}`, rec.Body.String())

			req = httptest.NewRequest(http.MethodGet, "/api/auth/user", nil)
			req.Header.Set("Authorization", token)
			assert.Equal(t, http.StatusUnauthorized, s.do(req).Code)
		})
	}
}

func TestRouterJobsRequireSettingsRead(t *testing.T) {
	s := newTestServer(t, CacheNone)

	rec := s.do(httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/jobs/health", nil)
	req.Header.Set("Authorization", s.bearer(t, s.adminID))
	rec = s.do(req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouterMetricsCountDecisions(t *testing.T) {
	s := newTestServer(t, CacheMemory)

	req := httptest.NewRequest(http.MethodGet, "/api/roles", nil)
	req.Header.Set("Authorization", s.bearer(t, s.adminID))
	require.Equal(t, http.StatusOK, s.do(req).Code)

	rec := s.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `cms_authz_decisions_total{check="permission",result="allow",source="cache"} 1`)
	assert.Contains(t, rec.Body.String(), `cms_http_requests_total{code="200"`)
}
