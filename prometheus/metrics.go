package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// HTTP request metrics
	HttpRequestsTotal   *prometheus.CounterVec
	HttpRequestDuration *prometheus.HistogramVec

	// Authentication metrics
	AuthAttemptsCounter prometheus.Counter
	AuthErrorsCounter   *prometheus.CounterVec

	// Tenant context metrics
	TenantResolutionsCounter   *prometheus.CounterVec
	TenantLimitExceededCounter *prometheus.CounterVec
	TenantUsageAdjustments     *prometheus.CounterVec

	RateLimitedCounter *prometheus.CounterVec

	// Database operation metrics
	DbOperationDuration *prometheus.HistogramVec

	ProductOperationsCounter *prometheus.CounterVec
	OrderOperationsCounter   *prometheus.CounterVec
	RefundAmountCounter      prometheus.Counter
)

func init() {
	build("shopnest")
}

// InitMetrics rebuilds the collectors under prefix and registers them with reg
func InitMetrics(prefix string, reg prometheus.Registerer) error {
	build(prefix)
	for _, c := range collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func collectors() []prometheus.Collector {
	return []prometheus.Collector{
		HttpRequestsTotal,
		HttpRequestDuration,
		AuthAttemptsCounter,
		AuthErrorsCounter,
		TenantResolutionsCounter,
		TenantLimitExceededCounter,
		TenantUsageAdjustments,
		RateLimitedCounter,
		DbOperationDuration,
		ProductOperationsCounter,
		OrderOperationsCounter,
		RefundAmountCounter,
	}
}

func build(prefix string) {
	HttpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: prefix + "_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HttpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    prefix + "_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	AuthAttemptsCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: prefix + "_auth_attempts_total",
			Help: "Total number of authentication attempts",
		},
	)

	AuthErrorsCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: prefix + "_auth_errors_total",
			Help: "Total number of authentication errors by reason",
		},
		[]string{"reason"},
	)

	TenantResolutionsCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: prefix + "_tenant_resolutions_total",
			Help: "Tenant resolutions by signal source and outcome",
		},
		[]string{"source", "outcome"},
	)

	TenantLimitExceededCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: prefix + "_tenant_limit_exceeded_total",
			Help: "Creation attempts rejected by plan limits",
		},
		[]string{"resource"},
	)

	TenantUsageAdjustments = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: prefix + "_tenant_usage_adjustments_total",
			Help: "Usage counter adjustments",
		},
		[]string{"resource", "direction"},
	)

	RateLimitedCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: prefix + "_rate_limited_total",
			Help: "Requests rejected by a rate limiter",
		},
		[]string{"scope"},
	)

	DbOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    prefix + "_db_operation_duration_seconds",
			Help:    "Duration of database operations in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation_type"},
	)

	ProductOperationsCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: prefix + "_product_operations_total",
			Help: "Total number of product operations",
		},
		[]string{"operation"},
	)

	OrderOperationsCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: prefix + "_order_operations_total",
			Help: "Total number of order operations",
		},
		[]string{"operation"},
	)

	RefundAmountCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: prefix + "_refund_amount_total",
			Help: "Sum of refunded amounts",
		},
	)
}

// TrackDBOperation returns a function that records the duration of a database operation
func TrackDBOperation(operationType string) func(startTime time.Time) {
	return func(startTime time.Time) {
		DbOperationDuration.WithLabelValues(operationType).Observe(time.Since(startTime).Seconds())
	}
}

// RecordAuthError increments the auth error counter for reason
func RecordAuthError(reason string) {
	AuthErrorsCounter.WithLabelValues(reason).Inc()
}

func RecordTenantResolution(source, outcome string) {
	TenantResolutionsCounter.WithLabelValues(source, outcome).Inc()
}

func RecordLimitExceeded(resource string) {
	TenantLimitExceededCounter.WithLabelValues(resource).Inc()
}

func RecordUsageAdjustment(resource, direction string, amount int64) {
	TenantUsageAdjustments.WithLabelValues(resource, direction).Add(float64(amount))
}

func RecordRateLimited(scope string) {
	RateLimitedCounter.WithLabelValues(scope).Inc()
}

// RecordProductOperation increments the counter for product operations
func RecordProductOperation(operation string) {
	ProductOperationsCounter.WithLabelValues(operation).Inc()
}

// RecordOrderOperation increments the counter for order operations
func RecordOrderOperation(operation string) {
	OrderOperationsCounter.WithLabelValues(operation).Inc()
}

func RecordRefund(amount float64) {
	RefundAmountCounter.Add(amount)
}
