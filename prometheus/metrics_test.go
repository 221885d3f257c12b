package prometheus

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitMetricsRegistersUnderPrefix(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, InitMetrics("test", reg))

	RecordLimitExceeded("products")
	RecordUsageAdjustment("orders", "increment", 3)
	TrackDBOperation("insert")(time.Now())

	assert.Equal(t, 1.0, testutil.ToFloat64(TenantLimitExceededCounter.WithLabelValues("products")))
	assert.Equal(t, 3.0, testutil.ToFloat64(TenantUsageAdjustments.WithLabelValues("orders", "increment")))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["test_tenant_limit_exceeded_total"])
	assert.True(t, names["test_db_operation_duration_seconds"])

	// registering twice on the same registry is a configuration error
	assert.Error(t, reg.Register(HttpRequestsTotal))
}
