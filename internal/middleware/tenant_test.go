package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suteetoe/shopnest/internal/model"
	"github.com/suteetoe/shopnest/internal/tenancy"
)

func (f *fixture) addTenant(subdomain string) *model.Tenant {
	t := &model.Tenant{Name: subdomain, Subdomain: subdomain, Status: model.TenantActive}
	t.Normalize()
	f.tenants.Put(t)
	return t
}

func (f *fixture) resolver() *tenancy.Resolver {
	return tenancy.NewResolver(f.tenants, "techstore", time.Minute)
}

func hostRequest(host string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Host = host
	return req
}

func TestTenantContextHeaderWinsOverHost(t *testing.T) {
	f := newFixture()
	a := f.addTenant("alpha")
	f.addTenant("beta")

	req := hostRequest("beta.shopnest.com")
	req.Header.Set(HeaderTenantID, itoa(a.ID))
	rec, body := serve(t, okHandler, req, TenantContext(f.resolver()))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(a.ID), body["tenant_id"])
}

func TestTenantContextHostname(t *testing.T) {
	f := newFixture()
	shop := f.addTenant("shopname")

	rec, body := serve(t, okHandler, hostRequest("shopname.example.com"), TenantContext(f.resolver()))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(shop.ID), body["tenant_id"])

	rec, body = serve(t, okHandler, hostRequest("unknown.example.com"), TenantContext(f.resolver()))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Tenant not found", body["error"])
}

func TestTenantContextFailures(t *testing.T) {
	f := newFixture()
	suspended := f.addTenant("sleepy")
	suspended.Status = model.TenantSuspended
	f.tenants.Put(suspended)

	cases := []struct {
		name  string
		req   *http.Request
		code  int
		error string
	}{
		{"www only", hostRequest("www.example.com"), http.StatusBadRequest, "Tenant required"},
		{"bad header", func() *http.Request {
			r := hostRequest("x.example.com")
			r.Header.Set(HeaderTenantID, "not-a-number")
			return r
		}(), http.StatusNotFound, "Tenant not found"},
		{"suspended", hostRequest("sleepy.example.com"), http.StatusForbidden, "Tenant access denied"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec, body := serve(t, okHandler, tc.req, TenantContext(f.resolver()))
			assert.Equal(t, tc.code, rec.Code)
			assert.Equal(t, tc.error, body["error"])
		})
	}
}

func TestTenantContextStoreError(t *testing.T) {
	f := newFixture()
	f.tenants.Err = assert.AnError

	rec, body := serve(t, okHandler, hostRequest("shop.example.com"), TenantContext(f.resolver()))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Failed to resolve tenant context", body["message"])
}

func TestTenantContextCrossTenantGuard(t *testing.T) {
	f := newFixture()
	a := f.addTenant("alpha")
	b := f.addTenant("beta")
	_, member := f.addUser(t, model.RoleTenantAdmin, &a.ID)
	_, unbound := f.addUser(t, model.RoleTenantUser, nil)
	_, admin := f.addUser(t, model.RoleSuperAdmin, nil)

	viaHeader := func() *http.Request {
		r := hostRequest("alpha.example.com")
		r.Header.Set(HeaderTenantID, itoa(b.ID))
		return r
	}
	viaHost := func() *http.Request {
		return hostRequest("beta.example.com")
	}

	cases := []struct {
		name  string
		token string
		req   func() *http.Request
		code  int
	}{
		{"member of A via header", member, viaHeader, http.StatusForbidden},
		{"unbound user via hostname", unbound, viaHost, http.StatusForbidden},
		{"super admin via header", admin, viaHeader, http.StatusOK},
		{"super admin via hostname", admin, viaHost, http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := tc.req()
			req.Header.Set("Authorization", "Bearer "+tc.token)
			rec, body := serve(t, okHandler, req, Authenticate(f.tokens, f.users), TenantContext(f.resolver()))
			assert.Equal(t, tc.code, rec.Code)
			if tc.code == http.StatusForbidden {
				assert.Equal(t, "User does not belong to this tenant", body["message"])
			} else {
				assert.Equal(t, float64(b.ID), body["tenant_id"])
			}
		})
	}
}

func TestTenantContextUsesUserTenant(t *testing.T) {
	f := newFixture()
	a := f.addTenant("alpha")
	f.addTenant("beta")
	_, token := f.addUser(t, model.RoleTenantUser, &a.ID)

	req := hostRequest("beta.example.com")
	req.Header.Set("Authorization", "Bearer "+token)
	rec, body := serve(t, okHandler, req, Authenticate(f.tokens, f.users), TenantContext(f.resolver()))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(a.ID), body["tenant_id"])
}

func TestOptionalTenant(t *testing.T) {
	f := newFixture()
	shop := f.addTenant("shopname")

	rec, body := serve(t, okHandler, hostRequest("nothing.example.com"), OptionalTenant(f.resolver()))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, body["tenant_id"])

	rec, body = serve(t, okHandler, hostRequest("shopname.example.com"), OptionalTenant(f.resolver()))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(shop.ID), body["tenant_id"])

	f.tenants.Err = assert.AnError
	rec, _ = serve(t, okHandler, hostRequest("shopname.example.com"), OptionalTenant(tenancy.NewResolver(f.tenants, "techstore", 0)))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCheckTenantLimits(t *testing.T) {
	f := newFixture()
	shop := f.addTenant("shopname")
	shop.Limits.MaxProducts = 2
	shop.Usage.ProductsCount = 2
	f.tenants.Put(shop)
	accountant := tenancy.NewAccountant(f.tenants, false)

	rec, body := serve(t, okHandler, hostRequest("shopname.example.com"),
		TenantContext(f.resolver()), CheckTenantLimits(accountant, model.ResourceProducts))
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "Limit exceeded", body["error"])
	assert.Equal(t, "You have reached the maximum products limit for your plan", body["message"])
	assert.Equal(t, float64(2), body["current_usage"])
	assert.Equal(t, float64(2), body["limit"])

	shop.Usage.ProductsCount = 1
	f.tenants.Put(shop)
	rec, _ = serve(t, okHandler, hostRequest("shopname.example.com"),
		TenantContext(f.resolver()), CheckTenantLimits(accountant, model.ResourceProducts))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCheckTenantLimitsWithoutTenant(t *testing.T) {
	f := newFixture()
	rec, body := serve(t, okHandler, hostRequest("x.example.com"), CheckTenantLimits(tenancy.NewAccountant(f.tenants, false), model.ResourceOrders))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Tenant required", body["error"])
}

func TestRequestIDMiddleware(t *testing.T) {
	e := echo.New()
	e.GET("/", okHandler, RequestIDMiddleware)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderRequestID, "abc-123")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get(HeaderRequestID))

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Len(t, rec.Header().Get(HeaderRequestID), 36)
}
