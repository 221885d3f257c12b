package memstore

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/suteetoe/shopnest/internal/model"
	"github.com/suteetoe/shopnest/internal/store"
)

func money(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v)
}

func round2(d decimal.Decimal) float64 {
	return d.Round(2).InexactFloat64()
}

// within returns the tenant's orders created in [from, to], oldest first
func (s *OrderStore) within(tenantID uint, from, to time.Time) []*model.Order {
	var out []*model.Order
	for _, o := range s.orders {
		if o.TenantID == tenantID && !o.CreatedAt.Before(from) && !o.CreatedAt.After(to) {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt) || (out[i].CreatedAt.Equal(out[j].CreatedAt) && out[i].ID < out[j].ID)
	})
	return out
}

func (s *OrderStore) Breakdown(ctx context.Context, tenantID uint, from, to time.Time) ([]store.OrderGroup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	type key struct {
		status  model.OrderStatus
		payment model.PaymentStatus
	}
	type acc struct {
		count           int64
		total, refunded decimal.Decimal
	}
	byKey := map[key]*acc{}
	var keys []key
	for _, o := range s.within(tenantID, from, to) {
		k := key{o.Status, o.PaymentStatus}
		a, ok := byKey[k]
		if !ok {
			a = &acc{}
			byKey[k] = a
			keys = append(keys, k)
		}
		a.count++
		a.total = a.total.Add(money(o.Total))
		a.refunded = a.refunded.Add(money(o.RefundedAmount()))
	}
	groups := make([]store.OrderGroup, 0, len(keys))
	for _, k := range keys {
		a := byKey[k]
		groups = append(groups, store.OrderGroup{
			Status:        k.status,
			PaymentStatus: k.payment,
			OrderCount:    a.count,
			Total:         a.total.InexactFloat64(),
			Refunded:      a.refunded.InexactFloat64(),
		})
	}
	return groups, nil
}

// truncate returns the start of the UTC day, Monday-based week or month holding t
func truncate(t time.Time, unit string) time.Time {
	t = t.UTC()
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	switch unit {
	case store.UnitWeek:
		return day.AddDate(0, 0, -((int(day.Weekday()) + 6) % 7))
	case store.UnitMonth:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	}
	return day
}

func (s *OrderStore) SalesSeries(ctx context.Context, tenantID uint, from, to time.Time, unit string) ([]store.SalesBucket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	switch unit {
	case store.UnitDay, store.UnitWeek, store.UnitMonth:
	default:
		return nil, fmt.Errorf("unsupported sales unit %q", unit)
	}
	var buckets []store.SalesBucket
	revenue := decimal.Zero
	for _, o := range s.within(tenantID, from, to) {
		if !o.Status.Dispatched() || o.PaymentStatus != model.PaymentPaid {
			continue
		}
		start := truncate(o.CreatedAt, unit)
		if n := len(buckets); n == 0 || !buckets[n-1].PeriodStart.Equal(start) {
			revenue = decimal.Zero
			buckets = append(buckets, store.SalesBucket{PeriodStart: start})
		}
		b := &buckets[len(buckets)-1]
		revenue = revenue.Add(money(o.Total))
		b.Revenue = revenue.InexactFloat64()
		b.OrderCount++
	}
	return buckets, nil
}

func (s *OrderStore) TopProducts(ctx context.Context, tenantID uint, from, to time.Time, limit int) ([]store.ProductSales, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	type acc struct {
		sales   store.ProductSales
		revenue decimal.Decimal
		first   int
	}
	byProduct := map[uint]*acc{}
	for _, o := range s.within(tenantID, from, to) {
		if !o.Status.Dispatched() {
			continue
		}
		for _, item := range o.Items {
			a, ok := byProduct[item.ProductID]
			if !ok {
				a = &acc{sales: store.ProductSales{ProductID: item.ProductID, ProductName: item.Name}, first: len(byProduct)}
				byProduct[item.ProductID] = a
			}
			a.sales.TotalQuantity += int64(item.Quantity)
			a.sales.OrderCount++
			a.revenue = a.revenue.Add(money(item.Total))
		}
	}

	ranked := make([]*acc, 0, len(byProduct))
	for _, a := range byProduct {
		a.sales.TotalRevenue = round2(a.revenue)
		ranked = append(ranked, a)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].sales.TotalQuantity != ranked[j].sales.TotalQuantity {
			return ranked[i].sales.TotalQuantity > ranked[j].sales.TotalQuantity
		}
		return ranked[i].first < ranked[j].first
	})
	if limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}
	top := make([]store.ProductSales, len(ranked))
	for i, a := range ranked {
		top[i] = a.sales
	}
	return top, nil
}

type customerSpend struct {
	store.CustomerSpend
	spent decimal.Decimal
}

// spendByCustomer sums dispatched orders per customer email, in first-seen order
func (s *OrderStore) spendByCustomer(tenantID uint, from, to time.Time) []*customerSpend {
	byEmail := map[string]*customerSpend{}
	var out []*customerSpend
	for _, o := range s.within(tenantID, from, to) {
		if !o.Status.Dispatched() {
			continue
		}
		c, ok := byEmail[o.CustomerEmail]
		if !ok {
			c = &customerSpend{CustomerSpend: store.CustomerSpend{CustomerEmail: o.CustomerEmail}}
			byEmail[o.CustomerEmail] = c
			out = append(out, c)
		}
		if o.CustomerID != nil && (c.CustomerID == nil || *o.CustomerID > *c.CustomerID) {
			id := *o.CustomerID
			c.CustomerID = &id
		}
		c.OrderCount++
		c.spent = c.spent.Add(money(o.Total))
	}
	for _, c := range out {
		c.TotalSpent = round2(c.spent)
		c.AvgOrderValue = round2(c.spent.Div(decimal.NewFromInt(c.OrderCount)))
	}
	return out
}

func (s *OrderStore) SpendBands(ctx context.Context, tenantID uint, from, to time.Time, bounds []float64) ([]store.SpendBand, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	type acc struct {
		customers int64
		avgSum    decimal.Decimal
	}
	byBand := map[int]*acc{}
	for _, c := range s.spendByCustomer(tenantID, from, to) {
		band := 0
		for i := len(bounds) - 1; i > 0; i-- {
			if c.spent.GreaterThanOrEqual(money(bounds[i])) {
				band = i
				break
			}
		}
		a, ok := byBand[band]
		if !ok {
			a = &acc{}
			byBand[band] = a
		}
		a.customers++
		a.avgSum = a.avgSum.Add(c.spent.Div(decimal.NewFromInt(c.OrderCount)))
	}

	bands := make([]store.SpendBand, 0, len(byBand))
	for band, a := range byBand {
		bands = append(bands, store.SpendBand{
			Band:          band,
			Customers:     a.customers,
			AvgOrderValue: round2(a.avgSum.Div(decimal.NewFromInt(a.customers))),
		})
	}
	sort.Slice(bands, func(i, j int) bool { return bands[i].Band < bands[j].Band })
	return bands, nil
}

func (s *OrderStore) Retention(ctx context.Context, tenantID uint, from, to time.Time) (store.Retention, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out store.Retention
	if s.Err != nil {
		return out, s.Err
	}
	first := map[string]time.Time{}
	last := map[string]time.Time{}
	for _, o := range s.orders {
		if o.TenantID != tenantID || o.CreatedAt.After(to) {
			continue
		}
		if f, ok := first[o.CustomerEmail]; !ok || o.CreatedAt.Before(f) {
			first[o.CustomerEmail] = o.CreatedAt
		}
		if l, ok := last[o.CustomerEmail]; !ok || o.CreatedAt.After(l) {
			last[o.CustomerEmail] = o.CreatedAt
		}
	}
	for email, f := range first {
		if last[email].Before(from) {
			continue
		}
		if f.Before(from) {
			out.ReturningCustomers++
		} else {
			out.NewCustomers++
		}
	}
	return out, nil
}

func (s *OrderStore) TopCustomers(ctx context.Context, tenantID uint, from, to time.Time, limit int) ([]store.CustomerSpend, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	spend := s.spendByCustomer(tenantID, from, to)
	sort.SliceStable(spend, func(i, j int) bool {
		if !spend[i].spent.Equal(spend[j].spent) {
			return spend[i].spent.GreaterThan(spend[j].spent)
		}
		return spend[i].CustomerEmail < spend[j].CustomerEmail
	})
	if limit > 0 && len(spend) > limit {
		spend = spend[:limit]
	}
	top := make([]store.CustomerSpend, len(spend))
	for i, c := range spend {
		top[i] = c.CustomerSpend
	}
	return top, nil
}
