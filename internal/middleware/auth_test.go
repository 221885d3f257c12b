package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suteetoe/shopnest/internal/model"
	"github.com/suteetoe/shopnest/internal/store/memstore"
	"github.com/suteetoe/shopnest/pkg/jwtutil"
)

const testSecret = "middleware-test-secret"

type fixture struct {
	tokens  *jwtutil.JWTUtil
	users   *memstore.UserStore
	tenants *memstore.TenantStore
}

func newFixture() *fixture {
	return &fixture{
		tokens:  jwtutil.NewJWTUtil(&jwtutil.JWTConfig{Secret: testSecret, ExpirationHours: 1}),
		users:   memstore.NewUserStore(),
		tenants: memstore.NewTenantStore(),
	}
}

func (f *fixture) addUser(t *testing.T, role model.Role, tenantID *uint, perms ...model.Permission) (*model.User, string) {
	t.Helper()
	u := &model.User{Name: "Test", Email: string(role) + "@example.com", Role: role, Status: model.UserActive, TenantID: tenantID, Permissions: perms}
	require.NoError(t, f.users.Create(context.Background(), u))
	token, err := f.tokens.GenerateToken(u.ID, tenantID, u.Email, string(u.Role))
	require.NoError(t, err)
	return u, token
}

func serve(t *testing.T, h echo.HandlerFunc, req *http.Request, mw ...echo.MiddlewareFunc) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	e := echo.New()
	e.GET("/", h, mw...)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	body := map[string]interface{}{}
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func okHandler(c echo.Context) error {
	resp := echo.Map{"ok": true}
	if u := CurrentUser(c); u != nil {
		resp["user_id"] = u.ID
	}
	if t := CurrentTenant(c); t != nil {
		resp["tenant_id"] = t.ID
	}
	return c.JSON(http.StatusOK, resp)
}

func withToken(token string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func TestAuthenticateFailures(t *testing.T) {
	f := newFixture()
	expired := jwtutil.NewJWTUtil(&jwtutil.JWTConfig{Secret: testSecret, ExpirationHours: -1})
	expiredToken, err := expired.GenerateToken(1, nil, "a@b.com", "customer")
	require.NoError(t, err)
	missingUser, err := f.tokens.GenerateToken(42, nil, "ghost@example.com", "customer")
	require.NoError(t, err)
	inactive, inactiveToken := f.addUser(t, model.RoleSuperAdmin, nil)
	inactive.Status = model.UserSuspended
	require.NoError(t, f.users.Update(context.Background(), inactive))

	cases := []struct {
		name    string
		token   string
		message string
	}{
		{"no token", "", "No token provided"},
		{"garbage token", "not-a-jwt", "Invalid token"},
		{"expired token", expiredToken, "Token expired"},
		{"unknown user", missingUser, "User not found"},
		{"inactive user", inactiveToken, "Account is not active"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec, body := serve(t, okHandler, withToken(tc.token), Authenticate(f.tokens, f.users))
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, "Access denied", body["error"])
			assert.Equal(t, tc.message, body["message"])
		})
	}
}

func TestAuthenticateStoreError(t *testing.T) {
	f := newFixture()
	_, token := f.addUser(t, model.RoleSuperAdmin, nil)
	f.users.Err = errors.New("db down")

	rec, body := serve(t, okHandler, withToken(token), Authenticate(f.tokens, f.users))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Authentication failed", body["message"])
}

func TestAuthenticateSuccess(t *testing.T) {
	f := newFixture()
	u, token := f.addUser(t, model.RoleSuperAdmin, nil)

	rec, body := serve(t, okHandler, withToken(token), Authenticate(f.tokens, f.users))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(u.ID), body["user_id"])
}

func TestOptionalAuthNeverFails(t *testing.T) {
	f := newFixture()
	u, token := f.addUser(t, model.RoleSuperAdmin, nil)

	rec, body := serve(t, okHandler, withToken("bogus"), OptionalAuth(f.tokens, f.users))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, body["user_id"])

	rec, body = serve(t, okHandler, withToken(token), OptionalAuth(f.tokens, f.users))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(u.ID), body["user_id"])
}

func TestRequirePermissions(t *testing.T) {
	f := newFixture()
	tenantID := uint(1)
	_, reader := f.addUser(t, model.RoleTenantUser, &tenantID, model.PermReadProducts)
	_, writer := f.addUser(t, model.RoleTenantAdmin, &tenantID, model.PermReadProducts, model.PermWriteProducts)
	_, admin := f.addUser(t, model.RoleSuperAdmin, nil)
	_, owner := f.addUser(t, model.RoleTenantOwner, &tenantID)

	chain := []echo.MiddlewareFunc{
		Authenticate(f.tokens, f.users),
		RequirePermissions(model.PermReadProducts, model.PermWriteProducts),
	}
	cases := []struct {
		name  string
		token string
		code  int
	}{
		{"read only is rejected", reader, http.StatusForbidden},
		{"read and write passes", writer, http.StatusOK},
		{"super admin without permissions passes", admin, http.StatusOK},
		{"tenant owner without permissions passes", owner, http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec, body := serve(t, okHandler, withToken(tc.token), chain...)
			assert.Equal(t, tc.code, rec.Code)
			if tc.code == http.StatusForbidden {
				assert.Equal(t, "Insufficient permissions", body["message"])
			}
		})
	}
}

func TestRequireWithoutUser(t *testing.T) {
	rec, body := serve(t, okHandler, withToken(""), RequirePermissions(model.PermReadProducts))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Authentication required", body["message"])

	rec, _ = serve(t, okHandler, withToken(""), RequireRoles(model.RoleSuperAdmin))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireRoles(t *testing.T) {
	f := newFixture()
	tenantID := uint(1)
	_, owner := f.addUser(t, model.RoleTenantOwner, &tenantID)

	chain := []echo.MiddlewareFunc{Authenticate(f.tokens, f.users), RequireRoles(model.RoleSuperAdmin)}
	rec, body := serve(t, okHandler, withToken(owner), chain...)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "Forbidden", body["error"])
}

type stubLimiter struct {
	allow bool
	err   error
	keys  []string
}

func (s *stubLimiter) Allow(ctx context.Context, key string) (bool, error) {
	s.keys = append(s.keys, key)
	return s.allow, s.err
}

func TestRateLimitByUser(t *testing.T) {
	f := newFixture()
	u, token := f.addUser(t, model.RoleSuperAdmin, nil)

	limiter := &stubLimiter{allow: false}
	rec, body := serve(t, okHandler, withToken(token), Authenticate(f.tokens, f.users), RateLimitByUser(limiter))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "Rate limit exceeded", body["message"])
	assert.Equal(t, []string{"user:" + itoa(u.ID)}, limiter.keys)

	anon := &stubLimiter{allow: true}
	rec, _ = serve(t, okHandler, withToken(""), RateLimitByUser(anon))
	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, anon.keys, 1)
	assert.Contains(t, anon.keys[0], "ip:")

	broken := &stubLimiter{err: errors.New("redis down")}
	rec, _ = serve(t, okHandler, withToken(""), RateLimitByUser(broken))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func itoa(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}
