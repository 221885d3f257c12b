package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/suteetoe/shopnest/internal/model"
	"github.com/suteetoe/shopnest/internal/store"
)

// ProductStore is an in-memory store.ProductStore
type ProductStore struct {
	mu       sync.Mutex
	nextID   uint
	products map[uint]*model.Product
	Err      error
}

func NewProductStore() *ProductStore {
	return &ProductStore{products: map[uint]*model.Product{}}
}

func cloneProduct(p *model.Product) *model.Product {
	c := *p
	c.Tags = append(c.Tags[:0:0], p.Tags...)
	c.Variants = append(c.Variants[:0:0], p.Variants...)
	c.Images = append(c.Images[:0:0], p.Images...)
	return &c
}

func (s *ProductStore) get(tenantID, id uint) (*model.Product, bool) {
	p, ok := s.products[id]
	if !ok || p.TenantID != tenantID {
		return nil, false
	}
	return p, true
}

func (s *ProductStore) skuTaken(tenantID uint, sku string, excludeID uint) bool {
	for id, p := range s.products {
		if id != excludeID && p.TenantID == tenantID && p.SKU == sku {
			return true
		}
	}
	return false
}

func (s *ProductStore) FindByID(ctx context.Context, tenantID, id uint) (*model.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	p, ok := s.get(tenantID, id)
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneProduct(p), nil
}

func (s *ProductStore) List(ctx context.Context, tenantID uint, f store.ProductFilter) ([]model.Product, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, 0, s.Err
	}
	var out []model.Product
	for _, p := range s.products {
		if p.TenantID != tenantID {
			continue
		}
		if f.Status != "" && p.Status != f.Status {
			continue
		}
		if f.Search != "" && !contains(p.Name, f.Search) && !contains(p.Description, f.Search) && !contains(p.SKU, f.Search) {
			continue
		}
		if f.CategoryID != nil && (p.CategoryID == nil || *p.CategoryID != *f.CategoryID) {
			continue
		}
		if f.Brand != "" && !contains(p.Brand, f.Brand) {
			continue
		}
		if f.MinPrice != nil && p.Price < *f.MinPrice {
			continue
		}
		if f.MaxPrice != nil && p.Price > *f.MaxPrice {
			continue
		}
		if f.Featured != nil && p.Featured != *f.Featured {
			continue
		}
		out = append(out, *cloneProduct(p))
	}
	sort.SliceStable(out, ordered(store.SortDesc(f.Order), func(i, j int) bool {
		a, b := out[i], out[j]
		switch f.Sort {
		case "name":
			return a.Name < b.Name
		case "price":
			return a.Price < b.Price
		case "stock":
			return a.Stock < b.Stock
		case "updated_at":
			return a.UpdatedAt.Before(b.UpdatedAt)
		}
		return a.CreatedAt.Before(b.CreatedAt) || (a.CreatedAt.Equal(b.CreatedAt) && a.ID < b.ID)
	}))
	return page(out, f.Page), int64(len(out)), nil
}

func (s *ProductStore) Create(ctx context.Context, p *model.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	if s.skuTaken(p.TenantID, p.SKU, 0) {
		return store.ErrDuplicate
	}
	s.nextID++
	p.ID = s.nextID
	stamp(&p.CreatedAt, &p.UpdatedAt)
	s.products[p.ID] = cloneProduct(p)
	return nil
}

func (s *ProductStore) Update(ctx context.Context, p *model.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	if _, ok := s.get(p.TenantID, p.ID); !ok {
		return store.ErrNotFound
	}
	if s.skuTaken(p.TenantID, p.SKU, p.ID) {
		return store.ErrDuplicate
	}
	p.UpdatedAt = time.Now().UTC()
	s.products[p.ID] = cloneProduct(p)
	return nil
}

func (s *ProductStore) Delete(ctx context.Context, tenantID, id uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	if _, ok := s.get(tenantID, id); !ok {
		return store.ErrNotFound
	}
	delete(s.products, id)
	return nil
}

func (s *ProductStore) SKUExists(ctx context.Context, tenantID uint, sku string, excludeID uint) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return false, s.Err
	}
	return s.skuTaken(tenantID, sku, excludeID), nil
}

func (s *ProductStore) IncrementViews(ctx context.Context, tenantID, id uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	p, ok := s.get(tenantID, id)
	if !ok {
		return store.ErrNotFound
	}
	p.ViewsCount++
	return nil
}

func (s *ProductStore) Related(ctx context.Context, p *model.Product, limit int) ([]model.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	var out []model.Product
	for _, other := range s.products {
		if other.TenantID != p.TenantID || other.ID == p.ID || other.Status != model.ProductActive {
			continue
		}
		sameCategory := p.CategoryID != nil && other.CategoryID != nil && *p.CategoryID == *other.CategoryID
		sameBrand := p.Brand != "" && other.Brand == p.Brand
		if sameCategory || sameBrand {
			out = append(out, *cloneProduct(other))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SalesCount > out[j].SalesCount })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *ProductStore) Count(ctx context.Context, tenantID uint, status model.ProductStatus) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return 0, s.Err
	}
	var n int64
	for _, p := range s.products {
		if p.TenantID == tenantID && (status == "" || p.Status == status) {
			n++
		}
	}
	return n, nil
}

// OrderStore is an in-memory store.OrderStore
type OrderStore struct {
	mu     sync.Mutex
	nextID uint
	orders map[uint]*model.Order
	Err    error
}

func NewOrderStore() *OrderStore {
	return &OrderStore{orders: map[uint]*model.Order{}}
}

func cloneOrder(o *model.Order) *model.Order {
	c := *o
	c.Items = append(c.Items[:0:0], o.Items...)
	c.StatusHistory = append(c.StatusHistory[:0:0], o.StatusHistory...)
	c.Refunds = append(c.Refunds[:0:0], o.Refunds...)
	return &c
}

func (s *OrderStore) get(tenantID, id uint) (*model.Order, bool) {
	o, ok := s.orders[id]
	if !ok || o.TenantID != tenantID {
		return nil, false
	}
	return o, true
}

func matchOrder(o *model.Order, f store.OrderFilter) bool {
	if f.Status != "" && o.Status != f.Status {
		return false
	}
	if f.PaymentStatus != "" && o.PaymentStatus != f.PaymentStatus {
		return false
	}
	if f.CustomerID != nil && (o.CustomerID == nil || *o.CustomerID != *f.CustomerID) {
		return false
	}
	if f.CustomerEmail != "" && !contains(o.CustomerEmail, f.CustomerEmail) {
		return false
	}
	if f.OrderNumber != "" && !contains(o.OrderNumber, f.OrderNumber) {
		return false
	}
	if f.DateFrom != nil && o.CreatedAt.Before(*f.DateFrom) {
		return false
	}
	if f.DateTo != nil && o.CreatedAt.After(*f.DateTo) {
		return false
	}
	return true
}

func (s *OrderStore) FindByID(ctx context.Context, tenantID, id uint) (*model.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	o, ok := s.get(tenantID, id)
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneOrder(o), nil
}

func (s *OrderStore) List(ctx context.Context, tenantID uint, f store.OrderFilter) ([]model.Order, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, 0, s.Err
	}
	var out []model.Order
	for _, o := range s.orders {
		if o.TenantID == tenantID && matchOrder(o, f) {
			out = append(out, *cloneOrder(o))
		}
	}
	sort.SliceStable(out, ordered(store.SortDesc(f.Order), func(i, j int) bool {
		a, b := out[i], out[j]
		switch f.Sort {
		case "total":
			return a.Total < b.Total
		case "order_number":
			return a.OrderNumber < b.OrderNumber
		case "status":
			return a.Status < b.Status
		}
		return a.CreatedAt.Before(b.CreatedAt) || (a.CreatedAt.Equal(b.CreatedAt) && a.ID < b.ID)
	}))
	return page(out, f.Page), int64(len(out)), nil
}

func (s *OrderStore) Create(ctx context.Context, o *model.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	stamp(&o.CreatedAt, &o.UpdatedAt)
	year := o.CreatedAt.Year()
	var seq int64
	for _, other := range s.orders {
		if other.TenantID == o.TenantID && other.CreatedAt.Year() == year {
			seq++
		}
	}
	taken := func(number string) bool {
		for _, other := range s.orders {
			if other.TenantID == o.TenantID && other.OrderNumber == number {
				return true
			}
		}
		return false
	}
	for {
		seq++
		o.OrderNumber = model.FormatOrderNumber(year, seq)
		if !taken(o.OrderNumber) {
			break
		}
	}
	s.nextID++
	o.ID = s.nextID
	s.orders[o.ID] = cloneOrder(o)
	return nil
}

// Put stores o as given, for fixtures that need a fixed state or creation time
func (s *OrderStore) Put(o *model.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o.ID == 0 {
		s.nextID++
		o.ID = s.nextID
	} else if o.ID > s.nextID {
		s.nextID = o.ID
	}
	if o.CreatedAt.IsZero() {
		stamp(&o.CreatedAt, &o.UpdatedAt)
	}
	s.orders[o.ID] = cloneOrder(o)
}

func (s *OrderStore) Update(ctx context.Context, o *model.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	if _, ok := s.get(o.TenantID, o.ID); !ok {
		return store.ErrNotFound
	}
	o.UpdatedAt = time.Now().UTC()
	s.orders[o.ID] = cloneOrder(o)
	return nil
}

func (s *OrderStore) Delete(ctx context.Context, tenantID, id uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	if _, ok := s.get(tenantID, id); !ok {
		return store.ErrNotFound
	}
	delete(s.orders, id)
	return nil
}

func (s *OrderStore) Count(ctx context.Context, tenantID uint, f store.OrderFilter) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return 0, s.Err
	}
	var n int64
	for _, o := range s.orders {
		if o.TenantID == tenantID && matchOrder(o, f) {
			n++
		}
	}
	return n, nil
}

func (s *OrderStore) CustomerStats(ctx context.Context, tenantID, customerID uint) (store.CustomerOrderStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var stats store.CustomerOrderStats
	if s.Err != nil {
		return stats, s.Err
	}
	for _, o := range s.orders {
		if o.TenantID != tenantID || o.CustomerID == nil || *o.CustomerID != customerID {
			continue
		}
		stats.TotalOrders++
		stats.TotalSpent += o.Total
		if stats.LastOrderDate == nil || o.CreatedAt.After(*stats.LastOrderDate) {
			created := o.CreatedAt
			stats.LastOrderDate = &created
		}
	}
	if stats.TotalOrders > 0 {
		stats.AvgOrderValue = stats.TotalSpent / float64(stats.TotalOrders)
	}
	return stats, nil
}
