package rbac_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zerodna/cms-authz/internal/rbac"
	"github.com/zerodna/cms-authz/internal/rbac/rbactest"
	"github.com/zerodna/cms-authz/internal/shared"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func asUser(r *http.Request, userID int64) *http.Request {
	return r.WithContext(shared.ContextWithUserID(r.Context(), userID))
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestRequirePermissionResponses(t *testing.T) {
	f := rbactest.NewFixture(t)
	alice := f.User("alice")
	bob := f.User("bob")
	editor := f.Role("editor", 5)
	f.Grant(editor, f.Permission("posts", "publish"))
	f.Assign(alice, editor, nil)

	mw := rbac.Middleware{Authz: newEngine(f.Store), Logger: quietLogger()}
	h := mw.RequirePermission("posts", "publish")(okHandler())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/posts/1/publish", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"message":"Authentication required"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, asUser(httptest.NewRequest(http.MethodPost, "/posts/1/publish", nil), bob.ID))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.JSONEq(t, `{"message":"Insufficient permissions","required":"posts.publish"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, asUser(httptest.NewRequest(http.MethodPost, "/posts/1/publish", nil), alice.ID))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequireRoleResponses(t *testing.T) {
	f := rbactest.NewFixture(t)
	alice := f.User("alice")
	bob := f.User("bob")
	f.Assign(alice, f.Role("editor", 5), nil)

	mw := rbac.Middleware{Authz: newEngine(f.Store), Logger: quietLogger()}
	h := mw.RequireRole("super_admin", "editor")(okHandler())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, asUser(httptest.NewRequest(http.MethodGet, "/", nil), bob.ID))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.JSONEq(t, `{"message":"Insufficient role privileges","required":["super_admin","editor"]}`, rec.Body.String())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, asUser(httptest.NewRequest(http.MethodGet, "/", nil), alice.ID))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequirePermissionFailsClosedOnStoreError(t *testing.T) {
	f := rbactest.NewFixture(t)
	alice := f.User("alice")
	editor := f.Role("editor", 5)
	f.Grant(editor, f.Permission("posts", "publish"))
	f.Assign(alice, editor, nil)
	f.Store.FailWith(assert.AnError)

	mw := rbac.Middleware{Authz: newEngine(f.Store), Logger: quietLogger()}
	rec := httptest.NewRecorder()
	mw.RequirePermission("posts", "publish")(okHandler()).
		ServeHTTP(rec, asUser(httptest.NewRequest(http.MethodPost, "/", nil), alice.ID))

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "Insufficient permissions", decodeBody(t, rec)["message"])
}

func TestMiddlewareRejectsInactiveAndDeletedUsers(t *testing.T) {
	f := rbactest.NewFixture(t)
	alice := f.User("alice")
	bob := f.User("bob")
	editor := f.Role("editor", 5)
	f.Grant(editor, f.Permission("posts", "publish"))
	f.Assign(alice, editor, nil)
	f.Assign(bob, editor, nil)

	mw := rbac.Middleware{Authz: newEngine(f.Store), Users: f.Store, Logger: quietLogger()}
	perm := mw.RequirePermission("posts", "publish")(okHandler())
	role := mw.RequireRole("editor")(okHandler())

	rec := httptest.NewRecorder()
	perm.ServeHTTP(rec, asUser(httptest.NewRequest(http.MethodPost, "/", nil), alice.ID))
	require.Equal(t, http.StatusOK, rec.Code)

	f.SetUserActive(alice, false)
	for _, h := range []http.Handler{perm, role, mw.RequireAuth(okHandler())} {
		rec = httptest.NewRecorder()
		h.ServeHTTP(rec, asUser(httptest.NewRequest(http.MethodPost, "/", nil), alice.ID))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.JSONEq(t, `{"message":"Authentication required"}`, rec.Body.String())
	}

	f.SetUserActive(alice, true)
	rec = httptest.NewRecorder()
	role.ServeHTTP(rec, asUser(httptest.NewRequest(http.MethodGet, "/", nil), alice.ID))
	assert.Equal(t, http.StatusOK, rec.Code)

	ok, err := f.Store.DeleteUser(ctx, bob.ID)
	require.NoError(t, err)
	require.True(t, ok)
	rec = httptest.NewRecorder()
	perm.ServeHTTP(rec, asUser(httptest.NewRequest(http.MethodPost, "/", nil), bob.ID))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMiddlewareUserLookupErrorDenies(t *testing.T) {
	f := rbactest.NewFixture(t)
	alice := f.User("alice")
	f.Store.FailWith(assert.AnError)

	mw := rbac.Middleware{Authz: newEngine(f.Store), Users: f.Store, Logger: quietLogger()}
	rec := httptest.NewRecorder()
	mw.RequireAuth(okHandler()).ServeHTTP(rec, asUser(httptest.NewRequest(http.MethodGet, "/", nil), alice.ID))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCurrentUserIDFromSession(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	sessions := shared.NewSessionManager(client, "cms_session", time.Hour, false)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	sess, err := sessions.Load(req.Context(), req)
	require.NoError(t, err)

	withSession := req.WithContext(shared.ContextWithSession(req.Context(), sess))
	_, ok := rbac.CurrentUserID(withSession)
	assert.False(t, ok, "anonymous session")

	sess.SetUser("42")
	id, ok := rbac.CurrentUserID(withSession)
	require.True(t, ok)
	assert.Equal(t, int64(42), id)

	sess.SetUser("not-a-number")
	_, ok = rbac.CurrentUserID(withSession)
	assert.False(t, ok)

	bearer := withSession.WithContext(shared.ContextWithUserID(withSession.Context(), 7))
	id, ok = rbac.CurrentUserID(bearer)
	require.True(t, ok)
	assert.Equal(t, int64(7), id, "token identity wins over the session")
}

func TestRequireAuth(t *testing.T) {
	h := rbac.Middleware{}.RequireAuth(okHandler())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, asUser(httptest.NewRequest(http.MethodGet, "/", nil), 1))
	assert.Equal(t, http.StatusOK, rec.Code)
}
