package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTenant(plan Plan) *Tenant {
	t := &Tenant{Name: "Demo Store", Subdomain: "Demo-Store", Plan: plan}
	t.Normalize()
	return t
}

func TestNormalizeDerivesLimitsFromPlan(t *testing.T) {
	tenant := newTenant(PlanPro)

	assert.Equal(t, "demo-store", tenant.Subdomain)
	assert.Equal(t, DefaultLimits(PlanPro), tenant.Limits)
	assert.Equal(t, int64(1), tenant.Usage.UsersCount)
	assert.Equal(t, TenantTrial, tenant.Status)
	assert.Equal(t, "USD", tenant.Currency)
	assert.NotNil(t, tenant.Branding)
	assert.NoError(t, tenant.Validate())
}

func TestNormalizeKeepsLimitsOnPlanChange(t *testing.T) {
	tenant := newTenant(PlanBasic)
	tenant.Plan = PlanEnterprise
	tenant.Normalize()

	assert.Equal(t, DefaultLimits(PlanBasic), tenant.Limits)
}

func TestTrialPlanLimits(t *testing.T) {
	assert.Equal(t, TenantLimits{MaxProducts: 10, MaxOrders: 50, MaxStorageMB: 100, MaxUsers: 1}, DefaultLimits(PlanTrial))
}

func TestValidateSubdomain(t *testing.T) {
	assert.NoError(t, ValidateSubdomain("my-shop-1"))
	assert.Error(t, ValidateSubdomain("ab"))
	assert.Error(t, ValidateSubdomain("My_Shop"))
	assert.Error(t, ValidateSubdomain(string(make([]byte, 51))))
}

func TestIsWithinLimitsIsStrict(t *testing.T) {
	tenant := newTenant(PlanBasic)
	tenant.Limits.MaxProducts = 100

	tenant.Usage.ProductsCount = 99
	assert.True(t, tenant.IsWithinLimits(ResourceProducts))

	tenant.Usage.ProductsCount = 100
	assert.False(t, tenant.IsWithinLimits(ResourceProducts))
}

func TestDecrementUsageFloorsAtZero(t *testing.T) {
	tenant := newTenant(PlanBasic)
	tenant.Usage.ProductsCount = 2

	tenant.DecrementUsage(ResourceProducts, 5)
	assert.Equal(t, int64(0), tenant.Usage.ProductsCount)

	tenant.IncrementUsage(ResourceOrders, 3)
	tenant.DecrementUsage(ResourceOrders, 1)
	assert.Equal(t, int64(2), tenant.Usage.OrdersCount)
}

func TestUsageSequenceNeverNegative(t *testing.T) {
	tenant := newTenant(PlanBasic)
	ops := []int64{3, -1, -4, 2, -2, -2, 5, -1}
	for _, op := range ops {
		if op > 0 {
			tenant.IncrementUsage(ResourceStorage, op)
		} else {
			tenant.DecrementUsage(ResourceStorage, -op)
		}
		assert.GreaterOrEqual(t, tenant.Usage.StorageUsedMB, int64(0))
	}
	assert.Equal(t, int64(4), tenant.Usage.StorageUsedMB)
}

func TestCanAccess(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	cases := []struct {
		name   string
		status TenantStatus
		sub    SubscriptionStatus
		trial  *time.Time
		want   bool
	}{
		{"active subscription", TenantActive, SubscriptionActive, nil, true},
		{"active subscription with expired trial", TenantActive, SubscriptionActive, &past, true},
		{"unpaid within trial", TenantActive, SubscriptionUnpaid, &future, true},
		{"unpaid without trial end", TenantActive, SubscriptionUnpaid, nil, true},
		{"unpaid after trial", TenantActive, SubscriptionUnpaid, &past, false},
		{"suspended", TenantSuspended, SubscriptionActive, nil, false},
		{"trial status", TenantTrial, SubscriptionActive, &future, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tenant := newTenant(PlanBasic)
			tenant.Status = tc.status
			tenant.Billing.SubscriptionStatus = tc.sub
			tenant.Billing.TrialEnd = tc.trial
			assert.Equal(t, tc.want, tenant.CanAccess(now))
		})
	}
}

func TestDomainAndPublicView(t *testing.T) {
	tenant := newTenant(PlanBasic)
	tenant.ID = 7
	assert.Equal(t, "demo-store.shopnest.com", tenant.Domain("shopnest.com"))

	custom := "Shop.Example.com"
	tenant.CustomDomain = &custom
	tenant.Normalize()
	assert.Equal(t, "shop.example.com", tenant.Domain("shopnest.com"))

	pub := tenant.Public("shopnest.com")
	assert.Equal(t, uint(7), pub.ID)
	assert.Equal(t, "shop.example.com", pub.Domain)
}

func TestMergeMap(t *testing.T) {
	base := map[string]interface{}{
		"features": map[string]interface{}{"reviews_enabled": true, "coupons_enabled": true},
		"theme":    "light",
	}
	patch := map[string]interface{}{
		"features": map[string]interface{}{"reviews_enabled": false},
	}

	out := MergeMap(base, patch)
	features, ok := out["features"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, false, features["reviews_enabled"])
	assert.Equal(t, true, features["coupons_enabled"])
	assert.Equal(t, "light", out["theme"])
}
