// Package memstore implements the store interfaces in memory for tests.
// Setting Err on a store makes every call fail with it.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/suteetoe/shopnest/internal/model"
	"github.com/suteetoe/shopnest/internal/store"
)

func page[T any](items []T, p store.Page) []T {
	if p.Limit <= 0 {
		return items
	}
	start := p.Offset()
	if start >= len(items) {
		return []T{}
	}
	end := start + p.Limit
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}

// ordered flips less for descending sorts
func ordered(desc bool, less func(i, j int) bool) func(i, j int) bool {
	if desc {
		return func(i, j int) bool { return less(j, i) }
	}
	return less
}

func contains(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}

func stamp(created, updated *time.Time) {
	now := time.Now().UTC()
	if created.IsZero() {
		*created = now
	}
	*updated = now
}

// TenantStore is an in-memory store.TenantStore
type TenantStore struct {
	mu      sync.Mutex
	nextID  uint
	tenants map[uint]*model.Tenant
	Err     error
}

func NewTenantStore() *TenantStore {
	return &TenantStore{tenants: map[uint]*model.Tenant{}}
}

func cloneTenant(t *model.Tenant) *model.Tenant {
	c := *t
	if t.CustomDomain != nil {
		d := *t.CustomDomain
		c.CustomDomain = &d
	}
	return &c
}

func (s *TenantStore) FindByID(ctx context.Context, id uint) (*model.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	t, ok := s.tenants[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneTenant(t), nil
}

func (s *TenantStore) find(match func(*model.Tenant) bool) (*model.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	for _, t := range s.tenants {
		if match(t) {
			return cloneTenant(t), nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *TenantStore) FindBySubdomain(ctx context.Context, subdomain string) (*model.Tenant, error) {
	subdomain = strings.ToLower(subdomain)
	return s.find(func(t *model.Tenant) bool { return t.Subdomain == subdomain })
}

func (s *TenantStore) FindByCustomDomain(ctx context.Context, domain string) (*model.Tenant, error) {
	domain = strings.ToLower(domain)
	return s.find(func(t *model.Tenant) bool { return t.CustomDomain != nil && *t.CustomDomain == domain })
}

func (s *TenantStore) conflict(t *model.Tenant) bool {
	for id, other := range s.tenants {
		if id == t.ID {
			continue
		}
		if other.Subdomain == t.Subdomain {
			return true
		}
		if t.CustomDomain != nil && other.CustomDomain != nil && *other.CustomDomain == *t.CustomDomain {
			return true
		}
	}
	return false
}

// Create normalizes and validates like the gorm hook does
func (s *TenantStore) Create(ctx context.Context, t *model.Tenant) error {
	t.Normalize()
	if err := t.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	if s.conflict(t) {
		return store.ErrDuplicate
	}
	s.nextID++
	t.ID = s.nextID
	stamp(&t.CreatedAt, &t.UpdatedAt)
	s.tenants[t.ID] = cloneTenant(t)
	return nil
}

// Put stores t as given, keeping its ID, for test fixtures
func (s *TenantStore) Put(t *model.Tenant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.ID == 0 {
		s.nextID++
		t.ID = s.nextID
	} else if t.ID > s.nextID {
		s.nextID = t.ID
	}
	s.tenants[t.ID] = cloneTenant(t)
}

func (s *TenantStore) Update(ctx context.Context, t *model.Tenant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	if _, ok := s.tenants[t.ID]; !ok {
		return store.ErrNotFound
	}
	if s.conflict(t) {
		return store.ErrDuplicate
	}
	t.UpdatedAt = time.Now().UTC()
	s.tenants[t.ID] = cloneTenant(t)
	return nil
}

func (s *TenantStore) AdjustUsage(ctx context.Context, id uint, r model.Resource, delta int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	t, ok := s.tenants[id]
	if !ok {
		return store.ErrNotFound
	}
	if delta >= 0 {
		t.IncrementUsage(r, delta)
	} else {
		t.DecrementUsage(r, -delta)
	}
	return nil
}

func (s *TenantStore) ReserveUsage(ctx context.Context, id uint, r model.Resource, n int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return false, s.Err
	}
	t, ok := s.tenants[id]
	if !ok {
		return false, store.ErrNotFound
	}
	if t.Current(r)+n > t.Limit(r) {
		return false, nil
	}
	t.IncrementUsage(r, n)
	return true, nil
}

func (s *TenantStore) SetUsage(ctx context.Context, id uint, usage model.TenantUsage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	t, ok := s.tenants[id]
	if !ok {
		return store.ErrNotFound
	}
	t.Usage = usage
	return nil
}

// UserStore is an in-memory store.UserStore
type UserStore struct {
	mu     sync.Mutex
	nextID uint
	users  map[uint]*model.User
	Err    error
}

func NewUserStore() *UserStore {
	return &UserStore{users: map[uint]*model.User{}}
}

func cloneUser(u *model.User) *model.User {
	c := *u
	c.Permissions = append(c.Permissions[:0:0], u.Permissions...)
	if u.TenantID != nil {
		id := *u.TenantID
		c.TenantID = &id
	}
	return &c
}

func (s *UserStore) FindByID(ctx context.Context, id uint) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	u, ok := s.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneUser(u), nil
}

func (s *UserStore) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	email = strings.ToLower(email)
	for _, u := range s.users {
		if u.Email == email {
			return cloneUser(u), nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *UserStore) Create(ctx context.Context, u *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	for _, other := range s.users {
		if other.Email == u.Email {
			return store.ErrDuplicate
		}
	}
	s.nextID++
	u.ID = s.nextID
	stamp(&u.CreatedAt, &u.UpdatedAt)
	s.users[u.ID] = cloneUser(u)
	return nil
}

func (s *UserStore) Update(ctx context.Context, u *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	if _, ok := s.users[u.ID]; !ok {
		return store.ErrNotFound
	}
	u.UpdatedAt = time.Now().UTC()
	s.users[u.ID] = cloneUser(u)
	return nil
}

func (s *UserStore) Delete(ctx context.Context, tenantID, id uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	u, ok := s.users[id]
	if !ok || !u.BelongsTo(tenantID) {
		return store.ErrNotFound
	}
	delete(s.users, id)
	return nil
}

func (s *UserStore) FindCustomer(ctx context.Context, tenantID, id uint) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	u, ok := s.users[id]
	if !ok || !u.BelongsTo(tenantID) || u.Role != model.RoleCustomer {
		return nil, store.ErrNotFound
	}
	return cloneUser(u), nil
}

func (s *UserStore) ListCustomers(ctx context.Context, tenantID uint, f store.CustomerFilter) ([]model.User, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, 0, s.Err
	}
	var out []model.User
	for _, u := range s.users {
		if !u.BelongsTo(tenantID) || u.Role != model.RoleCustomer {
			continue
		}
		if f.Status != "" && u.Status != f.Status {
			continue
		}
		if f.Search != "" && !contains(u.Name, f.Search) && !contains(u.Email, f.Search) {
			continue
		}
		out = append(out, *cloneUser(u))
	}
	sort.SliceStable(out, ordered(store.SortDesc(f.Order), func(i, j int) bool {
		a, b := out[i], out[j]
		switch f.Sort {
		case "name":
			return a.Name < b.Name
		case "email":
			return a.Email < b.Email
		}
		return a.CreatedAt.Before(b.CreatedAt) || (a.CreatedAt.Equal(b.CreatedAt) && a.ID < b.ID)
	}))
	return page(out, f.Page), int64(len(out)), nil
}

func (s *UserStore) Count(ctx context.Context, tenantID uint, q store.UserCount) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return 0, s.Err
	}
	var n int64
	for _, u := range s.users {
		if !u.BelongsTo(tenantID) {
			continue
		}
		if q.Role != "" && u.Role != q.Role {
			continue
		}
		if q.CreatedFrom != nil && u.CreatedAt.Before(*q.CreatedFrom) {
			continue
		}
		if q.CreatedTo != nil && u.CreatedAt.After(*q.CreatedTo) {
			continue
		}
		if q.ActiveSince != nil && (u.LastActive == nil || u.LastActive.Before(*q.ActiveSince)) {
			continue
		}
		n++
	}
	return n, nil
}

var (
	_ store.TenantStore  = (*TenantStore)(nil)
	_ store.UserStore    = (*UserStore)(nil)
	_ store.ProductStore = (*ProductStore)(nil)
	_ store.OrderStore   = (*OrderStore)(nil)
)
