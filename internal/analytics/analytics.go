// Package analytics shapes a tenant's order aggregates into sales reports.
package analytics

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/suteetoe/shopnest/internal/model"
	"github.com/suteetoe/shopnest/internal/store"
)

var periodDays = map[string]int{
	"7d":  7,
	"30d": 30,
	"90d": 90,
	"1y":  365,
}

const DefaultPeriod = "30d"

// Period is a reporting window ending now
type Period struct {
	Name string
	Days int
}

// ParsePeriod accepts 7d, 30d, 90d and 1y; empty means 30d.
// allowed narrows the accepted names when non-empty.
func ParsePeriod(name string, allowed ...string) (Period, error) {
	if name == "" {
		name = DefaultPeriod
	}
	days, ok := periodDays[name]
	if ok && len(allowed) > 0 {
		ok = false
		for _, a := range allowed {
			if a == name {
				ok = true
				break
			}
		}
	}
	if !ok {
		return Period{}, fmt.Errorf("invalid period %q", name)
	}
	return Period{Name: name, Days: days}, nil
}

// Start is the beginning of the period ending at now
func (p Period) Start(now time.Time) time.Time {
	return now.AddDate(0, 0, -p.Days)
}

// PreviousStart is the beginning of the equally long period before this one
func (p Period) PreviousStart(now time.Time) time.Time {
	return now.AddDate(0, 0, -2*p.Days)
}

func money(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v)
}

func round2(d decimal.Decimal) float64 {
	return d.Round(2).InexactFloat64()
}

// Growth is the percent change from previous to current rounded to 2 decimals.
// With no previous value the growth is 0.
func Growth(current, previous float64) float64 {
	if previous <= 0 {
		return 0
	}
	return round2(money(current).Sub(money(previous)).Div(money(previous)).Mul(decimal.NewFromInt(100)))
}

// Metrics is the overview for one period
type Metrics struct {
	TotalRevenue      float64 `json:"total_revenue"`
	TotalOrders       int64   `json:"total_orders"`
	TotalCustomers    int64   `json:"total_customers"`
	TotalProducts     int64   `json:"total_products"`
	AverageOrderValue float64 `json:"average_order_value"`
	RevenueGrowth     float64 `json:"revenue_growth"`
	OrderGrowth       float64 `json:"order_growth"`
}

// revenue reports whether a group counts toward sales: dispatched and paid
func revenue(g store.OrderGroup) bool {
	return g.Status.Dispatched() && g.PaymentStatus == model.PaymentPaid
}

func fold(groups []store.OrderGroup) (sales decimal.Decimal, count int64) {
	for _, g := range groups {
		count += g.OrderCount
		if revenue(g) {
			sales = sales.Add(money(g.Total))
		}
	}
	return sales, count
}

// Overview compares the current window's groups with the previous window's.
// Customer and product totals are filled by the caller.
func Overview(current, previous []store.OrderGroup) Metrics {
	sales, count := fold(current)
	previousSales, previousCount := fold(previous)

	m := Metrics{
		TotalRevenue:  round2(sales),
		TotalOrders:   count,
		RevenueGrowth: Growth(sales.InexactFloat64(), previousSales.InexactFloat64()),
		OrderGrowth:   Growth(float64(count), float64(previousCount)),
	}
	if count > 0 {
		m.AverageOrderValue = round2(sales.Div(decimal.NewFromInt(count)))
	}
	return m
}

// Summary is the order statistics report
type Summary struct {
	TotalRevenue      float64                     `json:"total_revenue"`
	TotalOrders       int64                       `json:"total_orders"`
	AverageOrderValue float64                     `json:"average_order_value"`
	OrdersByStatus    map[model.OrderStatus]int64 `json:"orders_by_status"`
}

// Summarize counts orders per status and nets refunds out of the revenue of
// paid and partially refunded orders
func Summarize(groups []store.OrderGroup) Summary {
	s := Summary{OrdersByStatus: map[model.OrderStatus]int64{}}
	sales := decimal.Zero
	for _, g := range groups {
		s.OrdersByStatus[g.Status] += g.OrderCount
		if g.PaymentStatus.CountsAsRevenue() {
			s.TotalOrders += g.OrderCount
			sales = sales.Add(money(g.Total)).Sub(money(g.Refunded))
		}
	}
	s.TotalRevenue = round2(sales)
	if s.TotalOrders > 0 {
		s.AverageOrderValue = round2(sales.Div(decimal.NewFromInt(s.TotalOrders)))
	}
	return s
}

type GroupBy string

const (
	ByDay   GroupBy = "day"
	ByWeek  GroupBy = "week"
	ByMonth GroupBy = "month"
)

func (g GroupBy) Valid() bool {
	return g == ByDay || g == ByWeek || g == ByMonth
}

// bucket labels t as YYYY-MM-DD, YYYY-Www (ISO week) or YYYY-MM
func (g GroupBy) bucket(t time.Time) string {
	t = t.UTC()
	switch g {
	case ByWeek:
		year, week := t.ISOWeek()
		return fmt.Sprintf("%d-W%02d", year, week)
	case ByMonth:
		return t.Format("2006-01")
	}
	return t.Format("2006-01-02")
}

// Unit is the store bucket unit g groups by
func (g GroupBy) Unit() string {
	switch g {
	case ByWeek:
		return store.UnitWeek
	case ByMonth:
		return store.UnitMonth
	}
	return store.UnitDay
}

// Point is one bucket of the sales chart
type Point struct {
	Date    string  `json:"date"`
	Revenue float64 `json:"revenue"`
	Orders  int64   `json:"orders"`
}

// SalesChart labels the store buckets, oldest first. Buckets sharing a label are merged.
func SalesChart(buckets []store.SalesBucket, g GroupBy) []Point {
	type acc struct {
		revenue decimal.Decimal
		orders  int64
	}
	byLabel := map[string]*acc{}
	for _, b := range buckets {
		key := g.bucket(b.PeriodStart)
		a, ok := byLabel[key]
		if !ok {
			a = &acc{}
			byLabel[key] = a
		}
		a.revenue = a.revenue.Add(money(b.Revenue))
		a.orders += b.OrderCount
	}

	points := make([]Point, 0, len(byLabel))
	for key, a := range byLabel {
		points = append(points, Point{Date: key, Revenue: round2(a.revenue), Orders: a.orders})
	}
	// every label format sorts chronologically as a string
	sort.Slice(points, func(i, j int) bool { return points[i].Date < points[j].Date })
	return points
}

// SpendBounds are the lower edges of the customer spend segments
var SpendBounds = []float64{0, 100, 500, 1000, 5000}

// Segment is the customers whose spend in the period falls in one band
type Segment struct {
	Range         string  `json:"range"`
	MinSpent      float64 `json:"min_spent"`
	Customers     int64   `json:"count"`
	AvgOrderValue float64 `json:"avg_order_value"`
}

// Segments labels store bands cut at SpendBounds
func Segments(bands []store.SpendBand) []Segment {
	out := make([]Segment, 0, len(bands))
	for _, b := range bands {
		if b.Band < 0 || b.Band >= len(SpendBounds) {
			continue
		}
		low := SpendBounds[b.Band]
		label := fmt.Sprintf("%g+", low)
		if b.Band+1 < len(SpendBounds) {
			label = fmt.Sprintf("%g-%g", low, SpendBounds[b.Band+1])
		}
		out = append(out, Segment{
			Range:         label,
			MinSpent:      low,
			Customers:     b.Customers,
			AvgOrderValue: round2(money(b.AvgOrderValue)),
		})
	}
	return out
}
