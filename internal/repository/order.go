package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/suteetoe/shopnest/internal/model"
	"github.com/suteetoe/shopnest/internal/store"
	metrics "github.com/suteetoe/shopnest/prometheus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// orderNumberAttempts bounds the retries when two writers pick the same number
const orderNumberAttempts = 5

// OrderRepository is the gorm store.OrderStore
type OrderRepository struct {
	db *gorm.DB
}

func NewOrderRepository(db *gorm.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

func (r *OrderRepository) scoped(ctx context.Context, tenantID uint) *gorm.DB {
	return r.db.WithContext(ctx).Model(&model.Order{}).Where("tenant_id = ?", tenantID)
}

func filterOrders(q *gorm.DB, f store.OrderFilter) *gorm.DB {
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.PaymentStatus != "" {
		q = q.Where("payment_status = ?", f.PaymentStatus)
	}
	if f.CustomerID != nil {
		q = q.Where("customer_id = ?", *f.CustomerID)
	}
	if f.CustomerEmail != "" {
		q = q.Where("customer_email ILIKE ?", like(f.CustomerEmail))
	}
	if f.OrderNumber != "" {
		q = q.Where("order_number ILIKE ?", like(f.OrderNumber))
	}
	if f.DateFrom != nil {
		q = q.Where("created_at >= ?", *f.DateFrom)
	}
	if f.DateTo != nil {
		q = q.Where("created_at <= ?", *f.DateTo)
	}
	return q
}

func (r *OrderRepository) FindByID(ctx context.Context, tenantID, id uint) (*model.Order, error) {
	defer metrics.TrackDBOperation("order_find")(time.Now())

	var o model.Order
	if err := r.scoped(ctx, tenantID).Where("id = ?", id).First(&o).Error; err != nil {
		return nil, translate(err)
	}
	return &o, nil
}

func (r *OrderRepository) List(ctx context.Context, tenantID uint, f store.OrderFilter) ([]model.Order, int64, error) {
	defer metrics.TrackDBOperation("order_list")(time.Now())

	q := filterOrders(r.scoped(ctx, tenantID), f)
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var orders []model.Order
	err := paginate(q.Order(orderBy(f.Sort, f.Order, store.OrderSortFields)), f.Page).Find(&orders).Error
	if err != nil {
		return nil, 0, err
	}
	return orders, total, nil
}

// Create numbers the order ORD-<year>-<seq> and inserts it. The tenant row is
// locked while the sequence is read; a duplicate number is retried with the next one.
func (r *OrderRepository) Create(ctx context.Context, o *model.Order) error {
	defer metrics.TrackDBOperation("order_create")(time.Now())

	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now().UTC()
	}
	year := o.CreatedAt.Year()
	start := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)

	var err error
	for attempt := 0; attempt < orderNumberAttempts; attempt++ {
		err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var tenant model.Tenant
			if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
				Select("id").Where("id = ?", o.TenantID).First(&tenant).Error; err != nil {
				return err
			}

			var count int64
			if err := tx.Unscoped().Model(&model.Order{}).
				Where("tenant_id = ? AND created_at >= ? AND created_at < ?", o.TenantID, start, start.AddDate(1, 0, 0)).
				Count(&count).Error; err != nil {
				return err
			}
			o.ID = 0
			o.OrderNumber = model.FormatOrderNumber(year, count+int64(attempt)+1)
			return tx.Create(o).Error
		})
		if err = translate(err); !errors.Is(err, store.ErrDuplicate) {
			return err
		}
	}
	return fmt.Errorf("assign order number: %w", err)
}

func (r *OrderRepository) Update(ctx context.Context, o *model.Order) error {
	defer metrics.TrackDBOperation("order_update")(time.Now())

	res := r.db.WithContext(ctx).Model(o).
		Where("tenant_id = ?", o.TenantID).
		Select("*").
		Omit("created_at", "tenant_id", "order_number").
		Updates(o)
	return affected(res)
}

func (r *OrderRepository) Delete(ctx context.Context, tenantID, id uint) error {
	defer metrics.TrackDBOperation("order_delete")(time.Now())

	res := r.db.WithContext(ctx).Where("tenant_id = ? AND id = ?", tenantID, id).Delete(&model.Order{})
	return affected(res)
}

func (r *OrderRepository) Count(ctx context.Context, tenantID uint, f store.OrderFilter) (int64, error) {
	var n int64
	err := filterOrders(r.scoped(ctx, tenantID), f).Count(&n).Error
	return n, err
}

func (r *OrderRepository) CustomerStats(ctx context.Context, tenantID, customerID uint) (store.CustomerOrderStats, error) {
	defer metrics.TrackDBOperation("order_customer_stats")(time.Now())

	var row struct {
		TotalOrders   int64
		TotalSpent    float64
		LastOrderDate *time.Time
	}
	err := r.scoped(ctx, tenantID).
		Select("COUNT(*) AS total_orders, COALESCE(SUM(total), 0) AS total_spent, MAX(created_at) AS last_order_date").
		Where("customer_id = ?", customerID).
		Scan(&row).Error
	if err != nil {
		return store.CustomerOrderStats{}, err
	}
	stats := store.CustomerOrderStats{
		TotalOrders:   row.TotalOrders,
		TotalSpent:    row.TotalSpent,
		LastOrderDate: row.LastOrderDate,
	}
	if stats.TotalOrders > 0 {
		stats.AvgOrderValue = stats.TotalSpent / float64(stats.TotalOrders)
	}
	return stats, nil
}

var _ store.OrderStore = (*OrderRepository)(nil)
