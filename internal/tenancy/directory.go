// Package tenancy resolves the tenant a request acts on and accounts for
// the plan-limited resources it consumes.
package tenancy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/suteetoe/shopnest/internal/model"
	"github.com/suteetoe/shopnest/internal/store"
	"github.com/suteetoe/shopnest/pkg/cache"
)

var (
	// ErrTenantRequired means the request carried no usable tenant signal
	ErrTenantRequired = errors.New("no tenant context found")
	// ErrTenantNotFound means a signal was present but matched no tenant
	ErrTenantNotFound = errors.New("tenant not found")
	// ErrTenantInaccessible means the tenant exists but CanAccess is false
	ErrTenantInaccessible = errors.New("tenant account is not active or subscription expired")
	// ErrCrossTenant means an authenticated user reached another tenant's context
	ErrCrossTenant = errors.New("user does not belong to this tenant")
)

// Source names the signal a tenant was resolved from
type Source string

const (
	SourceNone   Source = "none"
	SourceHeader Source = "header"
	SourceUser   Source = "user"
	SourceHost   Source = "hostname"
)

// Signals are the request attributes resolution considers, highest priority first
type Signals struct {
	HeaderTenantID string
	UserTenantID   *uint
	Host           string
}

// TenantFinder is the read side of store.TenantStore
type TenantFinder interface {
	FindByID(ctx context.Context, id uint) (*model.Tenant, error)
	FindBySubdomain(ctx context.Context, subdomain string) (*model.Tenant, error)
	FindByCustomDomain(ctx context.Context, domain string) (*model.Tenant, error)
}

type Resolver struct {
	tenants      TenantFinder
	devSubdomain string
	hosts        *cache.TTL[uint]
	now          func() time.Time
}

// NewResolver builds a resolver. Hosts containing "localhost" resolve to
// devSubdomain; host to tenant mappings are cached for cacheTTL.
func NewResolver(tenants TenantFinder, devSubdomain string, cacheTTL time.Duration) *Resolver {
	return &Resolver{
		tenants:      tenants,
		devSubdomain: devSubdomain,
		hosts:        cache.New[uint](cacheTTL),
		now:          time.Now,
	}
}

// Resolve picks the tenant named by the strongest signal and checks it can be accessed.
// The tenant is returned alongside ErrTenantInaccessible so callers can log it.
func (r *Resolver) Resolve(ctx context.Context, sig Signals) (*model.Tenant, Source, error) {
	t, src, err := r.lookup(ctx, sig)
	if err != nil {
		return nil, src, err
	}
	if !t.CanAccess(r.now()) {
		return t, src, ErrTenantInaccessible
	}
	return t, src, nil
}

func (r *Resolver) lookup(ctx context.Context, sig Signals) (*model.Tenant, Source, error) {
	if header := strings.TrimSpace(sig.HeaderTenantID); header != "" {
		id, err := strconv.ParseUint(header, 10, 64)
		if err != nil || id == 0 {
			return nil, SourceHeader, ErrTenantNotFound
		}
		t, err := r.byID(ctx, uint(id))
		return t, SourceHeader, err
	}
	if sig.UserTenantID != nil {
		t, err := r.byID(ctx, *sig.UserTenantID)
		return t, SourceUser, err
	}
	if sig.Host == "" {
		return nil, SourceNone, ErrTenantRequired
	}
	t, err := r.ResolveHost(ctx, sig.Host)
	return t, SourceHost, err
}

func (r *Resolver) byID(ctx context.Context, id uint) (*model.Tenant, error) {
	t, err := r.tenants.FindByID(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrTenantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find tenant %d: %w", id, err)
	}
	return t, nil
}

// ResolveHost maps a Host header to a tenant without checking access
func (r *Resolver) ResolveHost(ctx context.Context, host string) (*model.Tenant, error) {
	host = NormalizeHost(host)
	if host == "" {
		return nil, ErrTenantRequired
	}

	if id, ok := r.hosts.Get(host); ok {
		t, err := r.byID(ctx, id)
		if !errors.Is(err, ErrTenantNotFound) {
			return t, err
		}
		r.hosts.Delete(host)
	}

	t, err := r.hostLookup(ctx, host)
	if err != nil {
		return nil, err
	}
	r.hosts.Set(host, t.ID)
	return t, nil
}

func (r *Resolver) hostLookup(ctx context.Context, host string) (*model.Tenant, error) {
	if strings.Contains(host, "localhost") {
		return r.bySubdomain(ctx, r.devSubdomain)
	}

	t, err := r.tenants.FindByCustomDomain(ctx, host)
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("find tenant by domain %s: %w", host, err)
	}

	label, _, _ := strings.Cut(host, ".")
	if label == "" || label == "www" {
		return nil, ErrTenantRequired
	}
	return r.bySubdomain(ctx, label)
}

func (r *Resolver) bySubdomain(ctx context.Context, subdomain string) (*model.Tenant, error) {
	t, err := r.tenants.FindBySubdomain(ctx, subdomain)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrTenantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find tenant by subdomain %s: %w", subdomain, err)
	}
	return t, nil
}

// Forget drops cached host mappings that point at tenantID
func (r *Resolver) Forget(tenantID uint) {
	r.hosts.InvalidateValue(func(id uint) bool { return id == tenantID })
}

// CanAccess applies the tenant access gate at the resolver's clock
func (r *Resolver) CanAccess(t *model.Tenant) bool {
	return t.CanAccess(r.now())
}

// CheckMembership rejects non-super_admin users bound to a different tenant.
// A nil user is anonymous and always passes.
func CheckMembership(u *model.User, t *model.Tenant) error {
	if u == nil || u.Role == model.RoleSuperAdmin {
		return nil
	}
	if !u.BelongsTo(t.ID) {
		return ErrCrossTenant
	}
	return nil
}

// NormalizeHost lowercases host and strips any port and trailing dot
func NormalizeHost(host string) string {
	host = strings.TrimSpace(host)
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return strings.TrimSuffix(strings.ToLower(host), ".")
}
