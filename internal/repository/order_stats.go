package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/suteetoe/shopnest/internal/model"
	"github.com/suteetoe/shopnest/internal/store"
	metrics "github.com/suteetoe/shopnest/prometheus"
	"gorm.io/gorm"
)

// refundedSQL sums the amounts of an order's refunds column
const refundedSQL = `CASE WHEN jsonb_typeof(refunds) = 'array' THEN ` +
	`(SELECT COALESCE(SUM((r->>'amount')::numeric), 0) FROM jsonb_array_elements(refunds) AS r) ELSE 0 END`

// itemsSQL expands an order's line items, treating a null column as empty
const itemsSQL = `CROSS JOIN LATERAL jsonb_array_elements(` +
	`CASE WHEN jsonb_typeof(orders.items) = 'array' THEN orders.items ELSE '[]'::jsonb END) AS item`

func (r *OrderRepository) window(ctx context.Context, tenantID uint, from, to time.Time) *gorm.DB {
	return r.scoped(ctx, tenantID).Where("created_at >= ? AND created_at <= ?", from, to)
}

func (r *OrderRepository) dispatched(ctx context.Context, tenantID uint, from, to time.Time) *gorm.DB {
	return r.window(ctx, tenantID, from, to).Where("status IN ?", model.DispatchedStatuses)
}

func (r *OrderRepository) Breakdown(ctx context.Context, tenantID uint, from, to time.Time) ([]store.OrderGroup, error) {
	defer metrics.TrackDBOperation("order_breakdown")(time.Now())

	var groups []store.OrderGroup
	err := r.window(ctx, tenantID, from, to).
		Select("status, payment_status, COUNT(*) AS order_count, " +
			"COALESCE(SUM(total), 0) AS total, COALESCE(SUM(" + refundedSQL + "), 0) AS refunded").
		Group("status, payment_status").
		Scan(&groups).Error
	return groups, err
}

func (r *OrderRepository) SalesSeries(ctx context.Context, tenantID uint, from, to time.Time, unit string) ([]store.SalesBucket, error) {
	defer metrics.TrackDBOperation("order_sales_series")(time.Now())

	switch unit {
	case store.UnitDay, store.UnitWeek, store.UnitMonth:
	default:
		return nil, fmt.Errorf("unsupported sales unit %q", unit)
	}
	var buckets []store.SalesBucket
	err := r.dispatched(ctx, tenantID, from, to).
		Where("payment_status = ?", model.PaymentPaid).
		Select("date_trunc(?, created_at AT TIME ZONE 'UTC') AS period_start, "+
			"COALESCE(SUM(total), 0) AS revenue, COUNT(*) AS order_count", unit).
		Group("1").
		Order("1").
		Scan(&buckets).Error
	return buckets, err
}

func (r *OrderRepository) TopProducts(ctx context.Context, tenantID uint, from, to time.Time, limit int) ([]store.ProductSales, error) {
	defer metrics.TrackDBOperation("order_top_products")(time.Now())

	var top []store.ProductSales
	err := r.dispatched(ctx, tenantID, from, to).
		Joins(itemsSQL).
		Select("(item->>'product_id')::bigint AS product_id, MIN(item->>'name') AS product_name, " +
			"SUM((item->>'quantity')::int) AS total_quantity, " +
			"ROUND(SUM((item->>'total')::numeric), 2) AS total_revenue, COUNT(*) AS order_count").
		Group("1").
		Order("total_quantity DESC, MIN(orders.created_at) ASC, 1 ASC").
		Limit(limit).
		Scan(&top).Error
	return top, err
}

// spendByCustomer sums dispatched orders per customer email
func (r *OrderRepository) spendByCustomer(ctx context.Context, tenantID uint, from, to time.Time) *gorm.DB {
	return r.dispatched(ctx, tenantID, from, to).
		Select("customer_email, SUM(total) AS spent, COUNT(*) AS order_count").
		Group("customer_email")
}

func (r *OrderRepository) SpendBands(ctx context.Context, tenantID uint, from, to time.Time, bounds []float64) ([]store.SpendBand, error) {
	defer metrics.TrackDBOperation("order_spend_bands")(time.Now())

	var band strings.Builder
	args := make([]interface{}, 0, 2*len(bounds))
	band.WriteString("CASE")
	for i := len(bounds) - 1; i > 0; i-- {
		band.WriteString(" WHEN spent >= ? THEN ?")
		args = append(args, bounds[i], i)
	}
	band.WriteString(" ELSE 0 END AS band, COUNT(*) AS customers, ROUND(AVG(spent / order_count), 2) AS avg_order_value")

	var bands []store.SpendBand
	err := r.db.WithContext(ctx).
		Table("(?) AS s", r.spendByCustomer(ctx, tenantID, from, to)).
		Select(band.String(), args...).
		Group("1").
		Order("1").
		Scan(&bands).Error
	return bands, err
}

// Retention counts the customers with an order in [from, to] whose first order
// ever was inside the window as new and the rest as returning
func (r *OrderRepository) Retention(ctx context.Context, tenantID uint, from, to time.Time) (store.Retention, error) {
	defer metrics.TrackDBOperation("order_retention")(time.Now())

	firsts := r.scoped(ctx, tenantID).
		Select("customer_email, MIN(created_at) AS first_order").
		Where("created_at <= ?", to).
		Group("customer_email").
		Having("MAX(created_at) >= ?", from)

	var out store.Retention
	err := r.db.WithContext(ctx).
		Table("(?) AS f", firsts).
		Select("COUNT(*) FILTER (WHERE first_order >= ?) AS new_customers, "+
			"COUNT(*) FILTER (WHERE first_order < ?) AS returning_customers", from, from).
		Scan(&out).Error
	return out, err
}

func (r *OrderRepository) TopCustomers(ctx context.Context, tenantID uint, from, to time.Time, limit int) ([]store.CustomerSpend, error) {
	defer metrics.TrackDBOperation("order_top_customers")(time.Now())

	var top []store.CustomerSpend
	err := r.dispatched(ctx, tenantID, from, to).
		Select("MAX(customer_id) AS customer_id, customer_email, ROUND(SUM(total)::numeric, 2) AS total_spent, " +
			"COUNT(*) AS order_count, ROUND(AVG(total)::numeric, 2) AS avg_order_value").
		Group("customer_email").
		Order("SUM(total) DESC, customer_email ASC").
		Limit(limit).
		Scan(&top).Error
	return top, err
}
