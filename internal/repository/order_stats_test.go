package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suteetoe/shopnest/internal/model"
	"github.com/suteetoe/shopnest/internal/store"
)

var (
	statsFrom = time.Date(2024, time.June, 1, 0, 0, 0, 0, time.UTC)
	statsTo   = time.Date(2024, time.June, 30, 12, 0, 0, 0, time.UTC)
)

func TestBreakdownGroupsInSQL(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewOrderRepository(db)

	mock.ExpectQuery(`SELECT status, payment_status, COUNT\(\*\) AS order_count, COALESCE\(SUM\(total\), 0\) AS total, ` +
		`COALESCE\(SUM\(CASE WHEN jsonb_typeof\(refunds\) = 'array' .*\) AS refunded ` +
		`FROM "orders" WHERE tenant_id = \$1 .*created_at >= \$2 AND created_at <= \$3.*GROUP BY status, payment_status`).
		WillReturnRows(sqlmock.NewRows([]string{"status", "payment_status", "order_count", "total", "refunded"}).
			AddRow("delivered", "paid", 2, 100.0, 0.0).
			AddRow("delivered", "partially_refunded", 1, 80.0, 30.0))

	groups, err := repo.Breakdown(context.Background(), 4, statsFrom, statsTo)
	require.NoError(t, err)
	require.Len(t, groups, 2)
	assert.Equal(t, store.OrderGroup{
		Status:        model.OrderDelivered,
		PaymentStatus: model.PaymentPartiallyRefunded,
		OrderCount:    1,
		Total:         80,
		Refunded:      30,
	}, groups[1])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSalesSeriesTruncatesInSQL(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewOrderRepository(db)
	week := time.Date(2024, time.June, 24, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT date_trunc\(\$1, created_at AT TIME ZONE 'UTC'\) AS period_start, ` +
		`COALESCE\(SUM\(total\), 0\) AS revenue, COUNT\(\*\) AS order_count FROM "orders" ` +
		`WHERE tenant_id = \$2 .*status IN \(\$5,\$6\) AND payment_status = \$7.*GROUP BY 1 ORDER BY 1`).
		WithArgs("week", 4, statsFrom, statsTo, model.OrderShipped, model.OrderDelivered, model.PaymentPaid).
		WillReturnRows(sqlmock.NewRows([]string{"period_start", "revenue", "order_count"}).
			AddRow(week, 22.25, 3))

	buckets, err := repo.SalesSeries(context.Background(), 4, statsFrom, statsTo, store.UnitWeek)
	require.NoError(t, err)
	assert.Equal(t, []store.SalesBucket{{PeriodStart: week, Revenue: 22.25, OrderCount: 3}}, buckets)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSalesSeriesRejectsUnknownUnit(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewOrderRepository(db)

	_, err := repo.SalesSeries(context.Background(), 4, statsFrom, statsTo, "hour); DROP TABLE orders; --")
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTopProductsExpandsItemsInSQL(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewOrderRepository(db)

	mock.ExpectQuery(`SELECT \(item->>'product_id'\)::bigint AS product_id, .*SUM\(\(item->>'quantity'\)::int\) AS total_quantity.* ` +
		`FROM "orders" CROSS JOIN LATERAL jsonb_array_elements\(.*\) AS item ` +
		`WHERE tenant_id = \$1 .*GROUP BY 1 ORDER BY total_quantity DESC, MIN\(orders.created_at\) ASC, 1 ASC LIMIT`).
		WillReturnRows(sqlmock.NewRows([]string{"product_id", "product_name", "total_quantity", "total_revenue", "order_count"}).
			AddRow(1, "Mug", 4, 32.0, 2))

	top, err := repo.TopProducts(context.Background(), 4, statsFrom, statsTo, 5)
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.Equal(t, store.ProductSales{ProductID: 1, ProductName: "Mug", TotalQuantity: 4, TotalRevenue: 32, OrderCount: 2}, top[0])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSpendBandsBucketInSQL(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewOrderRepository(db)

	mock.ExpectQuery(`SELECT CASE WHEN spent >= \$1 THEN \$2 WHEN spent >= \$3 THEN \$4 ELSE 0 END AS band, ` +
		`COUNT\(\*\) AS customers, .* FROM \(SELECT customer_email, SUM\(total\) AS spent, COUNT\(\*\) AS order_count ` +
		`FROM "orders" WHERE .*GROUP BY customer_email\) AS s GROUP BY 1 ORDER BY 1`).
		WithArgs(500.0, 2, 100.0, 1, 4, statsFrom, statsTo, model.OrderShipped, model.OrderDelivered).
		WillReturnRows(sqlmock.NewRows([]string{"band", "customers", "avg_order_value"}).
			AddRow(0, 3, 25.5).
			AddRow(2, 1, 600.0))

	bands, err := repo.SpendBands(context.Background(), 4, statsFrom, statsTo, []float64{0, 100, 500})
	require.NoError(t, err)
	assert.Equal(t, []store.SpendBand{
		{Band: 0, Customers: 3, AvgOrderValue: 25.5},
		{Band: 2, Customers: 1, AvgOrderValue: 600},
	}, bands)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRetentionLooksBeforeWindow(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewOrderRepository(db)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FILTER \(WHERE first_order >= \$1\) AS new_customers, ` +
		`COUNT\(\*\) FILTER \(WHERE first_order < \$2\) AS returning_customers ` +
		`FROM \(SELECT customer_email, MIN\(created_at\) AS first_order FROM "orders" ` +
		`WHERE tenant_id = \$3 AND created_at <= \$4 .*GROUP BY customer_email HAVING MAX\(created_at\) >= \$5\) AS f`).
		WillReturnRows(sqlmock.NewRows([]string{"new_customers", "returning_customers"}).AddRow(3, 1))

	retention, err := repo.Retention(context.Background(), 4, statsFrom, statsTo)
	require.NoError(t, err)
	assert.Equal(t, store.Retention{NewCustomers: 3, ReturningCustomers: 1}, retention)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTopCustomersRankInSQL(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewOrderRepository(db)

	mock.ExpectQuery(`SELECT MAX\(customer_id\) AS customer_id, customer_email, .* FROM "orders" ` +
		`WHERE tenant_id = \$1 .*GROUP BY customer_email ORDER BY SUM\(total\) DESC, customer_email ASC LIMIT`).
		WillReturnRows(sqlmock.NewRows([]string{"customer_id", "customer_email", "total_spent", "order_count", "avg_order_value"}).
			AddRow(7, "big@example.com", 1200.0, 2, 600.0).
			AddRow(nil, "guest@example.com", 150.0, 1, 150.0))

	top, err := repo.TopCustomers(context.Background(), 4, statsFrom, statsTo, 10)
	require.NoError(t, err)
	require.Len(t, top, 2)
	require.NotNil(t, top[0].CustomerID)
	assert.Equal(t, uint(7), *top[0].CustomerID)
	assert.Equal(t, 1200.0, top[0].TotalSpent)
	assert.Nil(t, top[1].CustomerID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
