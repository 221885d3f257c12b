package tenancy

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suteetoe/shopnest/internal/model"
	"github.com/suteetoe/shopnest/internal/store/memstore"
)

var now = time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

func activeTenant(subdomain string) *model.Tenant {
	t := &model.Tenant{Name: subdomain, Subdomain: subdomain, Status: model.TenantActive}
	t.Normalize()
	return t
}

func newResolver(t *testing.T, tenants ...*model.Tenant) (*Resolver, *memstore.TenantStore) {
	t.Helper()
	s := memstore.NewTenantStore()
	for _, tenant := range tenants {
		s.Put(tenant)
	}
	r := NewResolver(s, "techstore", time.Minute)
	r.now = func() time.Time { return now }
	return r, s
}

func TestResolvePrecedence(t *testing.T) {
	alpha := activeTenant("alpha")
	beta := activeTenant("beta")
	gamma := activeTenant("gamma")
	r, _ := newResolver(t, alpha, beta, gamma)
	userTenant := beta.ID

	cases := []struct {
		name   string
		sig    Signals
		want   uint
		source Source
	}{
		{"header beats user and host", Signals{HeaderTenantID: "1", UserTenantID: &userTenant, Host: "gamma.shopnest.com"}, alpha.ID, SourceHeader},
		{"user beats host", Signals{UserTenantID: &userTenant, Host: "gamma.shopnest.com"}, beta.ID, SourceUser},
		{"host alone", Signals{Host: "gamma.shopnest.com:8080"}, gamma.ID, SourceHost},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, src, err := r.Resolve(context.Background(), tc.sig)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got.ID)
			assert.Equal(t, tc.source, src)
		})
	}
}

func TestResolveFailures(t *testing.T) {
	suspended := activeTenant("sleepy")
	suspended.Status = model.TenantSuspended
	r, _ := newResolver(t, activeTenant("alpha"), suspended)

	cases := []struct {
		name string
		sig  Signals
		want error
	}{
		{"no signal", Signals{}, ErrTenantRequired},
		{"www host", Signals{Host: "www.shopnest.com"}, ErrTenantRequired},
		{"unknown subdomain", Signals{Host: "shopname.example.com"}, ErrTenantNotFound},
		{"unparseable header", Signals{HeaderTenantID: "abc"}, ErrTenantNotFound},
		{"unknown header id", Signals{HeaderTenantID: "99"}, ErrTenantNotFound},
		{"inaccessible tenant", Signals{Host: "sleepy.shopnest.com"}, ErrTenantInaccessible},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := r.Resolve(context.Background(), tc.sig)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestResolveSubdomainFromHostname(t *testing.T) {
	shop := activeTenant("shopname")
	r, _ := newResolver(t, shop)

	got, src, err := r.Resolve(context.Background(), Signals{Host: "ShopName.Example.com"})
	require.NoError(t, err)
	assert.Equal(t, shop.ID, got.ID)
	assert.Equal(t, SourceHost, src)
}

func TestResolveCustomDomainFirst(t *testing.T) {
	owner := activeTenant("owner")
	domain := "alpha.example.com"
	owner.CustomDomain = &domain
	alpha := activeTenant("alpha")
	r, _ := newResolver(t, owner, alpha)

	got, err := r.ResolveHost(context.Background(), "alpha.example.com")
	require.NoError(t, err)
	assert.Equal(t, owner.ID, got.ID)
}

func TestResolveLocalhostUsesDevTenant(t *testing.T) {
	dev := activeTenant("techstore")
	r, _ := newResolver(t, dev)

	got, err := r.ResolveHost(context.Background(), "localhost:5000")
	require.NoError(t, err)
	assert.Equal(t, dev.ID, got.ID)
}

func TestResolveHostCache(t *testing.T) {
	shop := activeTenant("shopname")
	r, s := newResolver(t, shop)
	ctx := context.Background()

	_, err := r.ResolveHost(ctx, "shopname.example.com")
	require.NoError(t, err)

	renamed := *shop
	renamed.Subdomain = "renamed"
	require.NoError(t, s.Update(ctx, &renamed))

	got, err := r.ResolveHost(ctx, "shopname.example.com")
	require.NoError(t, err)
	assert.Equal(t, shop.ID, got.ID)

	r.Forget(shop.ID)
	_, err = r.ResolveHost(ctx, "shopname.example.com")
	assert.ErrorIs(t, err, ErrTenantNotFound)
}

func TestResolveStoreError(t *testing.T) {
	r, s := newResolver(t)
	s.Err = errors.New("connection refused")

	_, _, err := r.Resolve(context.Background(), Signals{Host: "shop.example.com"})
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrTenantNotFound))
	assert.False(t, errors.Is(err, ErrTenantRequired))
}

func TestCheckMembership(t *testing.T) {
	a := activeTenant("alpha")
	a.ID = 1
	b := activeTenant("beta")
	b.ID = 2
	tenantA := a.ID

	member := &model.User{Role: model.RoleTenantAdmin, TenantID: &tenantA}
	assert.NoError(t, CheckMembership(member, a))
	assert.ErrorIs(t, CheckMembership(member, b), ErrCrossTenant)

	orphan := &model.User{Role: model.RoleTenantUser}
	assert.ErrorIs(t, CheckMembership(orphan, a), ErrCrossTenant)

	admin := &model.User{Role: model.RoleSuperAdmin}
	assert.NoError(t, CheckMembership(admin, b))
	assert.NoError(t, CheckMembership(nil, b))
}

func TestNormalizeHost(t *testing.T) {
	assert.Equal(t, "shop.example.com", NormalizeHost(" Shop.Example.COM:443 "))
	assert.Equal(t, "shop.example.com", NormalizeHost("shop.example.com."))
}
