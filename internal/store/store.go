// Package store declares the persistence contracts used by the HTTP layer.
// Every resource query takes the tenant id it is scoped to.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/suteetoe/shopnest/internal/model"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("duplicate record")
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Page is a 1-based page request
type Page struct {
	Page  int
	Limit int
}

func (p Page) Offset() int {
	if p.Page < 1 {
		return 0
	}
	return (p.Page - 1) * p.Limit
}

// SortDesc reports whether order asks for descending results; desc is the default
func SortDesc(order string) bool {
	return order != "asc"
}

var (
	ProductSortFields  = []string{"name", "price", "created_at", "updated_at", "stock"}
	OrderSortFields    = []string{"created_at", "updated_at", "total", "order_number", "status"}
	CustomerSortFields = []string{"created_at", "updated_at", "name", "email", "last_active"}
)

type ProductFilter struct {
	Page
	Status     model.ProductStatus
	Search     string
	CategoryID *uint
	Brand      string
	MinPrice   *float64
	MaxPrice   *float64
	Featured   *bool
	Sort       string
	Order      string
}

type OrderFilter struct {
	Page
	Status        model.OrderStatus
	PaymentStatus model.PaymentStatus
	CustomerID    *uint
	CustomerEmail string
	OrderNumber   string
	DateFrom      *time.Time
	DateTo        *time.Time
	Sort          string
	Order         string
}

type CustomerFilter struct {
	Page
	Search string
	Status model.UserStatus
	Sort   string
	Order  string
}

// UserCount narrows a user count; zero fields are ignored
type UserCount struct {
	Role        model.Role
	CreatedFrom *time.Time
	CreatedTo   *time.Time
	ActiveSince *time.Time
}

// CustomerOrderStats aggregates a customer's orders
type CustomerOrderStats struct {
	TotalOrders   int64      `json:"total_orders"`
	TotalSpent    float64    `json:"total_spent"`
	AvgOrderValue float64    `json:"avg_order_value"`
	LastOrderDate *time.Time `json:"last_order_date"`
}

// OrderGroup aggregates the orders sharing a status and payment status
type OrderGroup struct {
	Status        model.OrderStatus
	PaymentStatus model.PaymentStatus
	OrderCount    int64
	Total         float64
	Refunded      float64
}

// SalesBucket sums paid, dispatched orders created in one day, week or month.
// Weeks start on Monday.
type SalesBucket struct {
	PeriodStart time.Time
	Revenue     float64
	OrderCount  int64
}

// Sales bucket units
const (
	UnitDay   = "day"
	UnitWeek  = "week"
	UnitMonth = "month"
)

// ProductSales aggregates one product's line items over dispatched orders
type ProductSales struct {
	ProductID     uint    `json:"product_id"`
	ProductName   string  `json:"product_name"`
	TotalQuantity int64   `json:"total_quantity"`
	TotalRevenue  float64 `json:"total_revenue"`
	OrderCount    int64   `json:"order_count"`
	Price         float64 `json:"price,omitempty"`
	Image         string  `json:"image,omitempty"`
}

// SpendBand counts the customers whose dispatched spend starts at bounds[Band]
type SpendBand struct {
	Band          int
	Customers     int64
	AvgOrderValue float64
}

// Retention splits the customers who ordered in a window by whether they had
// ordered before it
type Retention struct {
	NewCustomers       int64 `json:"new_customers"`
	ReturningCustomers int64 `json:"returning_customers"`
}

// CustomerSpend aggregates one customer's dispatched orders, keyed by email
type CustomerSpend struct {
	CustomerID    *uint   `json:"customer_id"`
	CustomerEmail string  `json:"customer_email"`
	CustomerName  string  `json:"customer_name,omitempty"`
	TotalSpent    float64 `json:"total_spent"`
	OrderCount    int64   `json:"order_count"`
	AvgOrderValue float64 `json:"avg_order_value"`
}

type TenantStore interface {
	FindByID(ctx context.Context, id uint) (*model.Tenant, error)
	FindBySubdomain(ctx context.Context, subdomain string) (*model.Tenant, error)
	FindByCustomDomain(ctx context.Context, domain string) (*model.Tenant, error)
	Create(ctx context.Context, t *model.Tenant) error
	Update(ctx context.Context, t *model.Tenant) error
	// AdjustUsage adds delta to the stored counter in one statement, flooring at zero
	AdjustUsage(ctx context.Context, id uint, r model.Resource, delta int64) error
	// ReserveUsage adds n only if the result stays within the limit
	ReserveUsage(ctx context.Context, id uint, r model.Resource, n int64) (bool, error)
	SetUsage(ctx context.Context, id uint, usage model.TenantUsage) error
}

type UserStore interface {
	FindByID(ctx context.Context, id uint) (*model.User, error)
	FindByEmail(ctx context.Context, email string) (*model.User, error)
	Create(ctx context.Context, u *model.User) error
	Update(ctx context.Context, u *model.User) error
	Delete(ctx context.Context, tenantID, id uint) error
	FindCustomer(ctx context.Context, tenantID, id uint) (*model.User, error)
	ListCustomers(ctx context.Context, tenantID uint, f CustomerFilter) ([]model.User, int64, error)
	Count(ctx context.Context, tenantID uint, q UserCount) (int64, error)
}

type ProductStore interface {
	FindByID(ctx context.Context, tenantID, id uint) (*model.Product, error)
	List(ctx context.Context, tenantID uint, f ProductFilter) ([]model.Product, int64, error)
	Create(ctx context.Context, p *model.Product) error
	Update(ctx context.Context, p *model.Product) error
	Delete(ctx context.Context, tenantID, id uint) error
	SKUExists(ctx context.Context, tenantID uint, sku string, excludeID uint) (bool, error)
	IncrementViews(ctx context.Context, tenantID, id uint) error
	Related(ctx context.Context, p *model.Product, limit int) ([]model.Product, error)
	Count(ctx context.Context, tenantID uint, status model.ProductStatus) (int64, error)
}

type OrderStore interface {
	FindByID(ctx context.Context, tenantID, id uint) (*model.Order, error)
	List(ctx context.Context, tenantID uint, f OrderFilter) ([]model.Order, int64, error)
	// Create assigns the next per-tenant order number before inserting
	Create(ctx context.Context, o *model.Order) error
	Update(ctx context.Context, o *model.Order) error
	Delete(ctx context.Context, tenantID, id uint) error
	Count(ctx context.Context, tenantID uint, f OrderFilter) (int64, error)
	CustomerStats(ctx context.Context, tenantID, customerID uint) (CustomerOrderStats, error)

	// The aggregates below cover orders created in [from, to].

	// Breakdown groups orders by status and payment status
	Breakdown(ctx context.Context, tenantID uint, from, to time.Time) ([]OrderGroup, error)
	// SalesSeries buckets paid, dispatched orders by UnitDay, UnitWeek or UnitMonth, oldest first
	SalesSeries(ctx context.Context, tenantID uint, from, to time.Time, unit string) ([]SalesBucket, error)
	// TopProducts ranks products by units sold in dispatched orders
	TopProducts(ctx context.Context, tenantID uint, from, to time.Time, limit int) ([]ProductSales, error)
	// SpendBands buckets customers by dispatched spend; bounds are ascending lower edges
	SpendBands(ctx context.Context, tenantID uint, from, to time.Time, bounds []float64) ([]SpendBand, error)
	Retention(ctx context.Context, tenantID uint, from, to time.Time) (Retention, error)
	// TopCustomers ranks customers by dispatched spend
	TopCustomers(ctx context.Context, tenantID uint, from, to time.Time, limit int) ([]CustomerSpend, error)
}
