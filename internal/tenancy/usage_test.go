package tenancy

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suteetoe/shopnest/internal/model"
	"github.com/suteetoe/shopnest/internal/store/memstore"
)

func limitedTenant(s *memstore.TenantStore, maxProducts, used int64) *model.Tenant {
	t := activeTenant("limited")
	t.Limits.MaxProducts = maxProducts
	t.Usage.ProductsCount = used
	s.Put(t)
	return t
}

func TestCheckAtLimit(t *testing.T) {
	s := memstore.NewTenantStore()
	a := NewAccountant(s, false)

	full := limitedTenant(s, 2, 2)
	err := a.Check(full, model.ResourceProducts)
	var limitErr *LimitError
	require.True(t, errors.As(err, &limitErr))
	assert.Equal(t, int64(2), limitErr.Current)
	assert.Equal(t, int64(2), limitErr.Limit)

	full.Usage.ProductsCount = 1
	assert.NoError(t, a.Check(full, model.ResourceProducts))
}

func TestCheckBatch(t *testing.T) {
	s := memstore.NewTenantStore()
	a := NewAccountant(s, false)
	tenant := limitedTenant(s, 10, 7)

	assert.NoError(t, a.CheckBatch(tenant, model.ResourceProducts, 3))
	err := a.CheckBatch(tenant, model.ResourceProducts, 4)
	var limitErr *LimitError
	require.True(t, errors.As(err, &limitErr))
	assert.Equal(t, int64(4), limitErr.Requested)
}

func TestIncrementAndDecrement(t *testing.T) {
	s := memstore.NewTenantStore()
	a := NewAccountant(s, false)
	tenant := limitedTenant(s, 10, 9)
	ctx := context.Background()

	require.NoError(t, a.Increment(ctx, tenant, model.ResourceProducts, 1))
	assert.Equal(t, int64(10), tenant.Usage.ProductsCount)

	for i := 0; i < 15; i++ {
		require.NoError(t, a.Decrement(ctx, tenant, model.ResourceProducts, 1))
	}
	stored, err := s.FindByID(ctx, tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stored.Usage.ProductsCount)
	assert.Equal(t, int64(0), tenant.Usage.ProductsCount)
}

func TestIncrementStoreError(t *testing.T) {
	s := memstore.NewTenantStore()
	a := NewAccountant(s, false)
	tenant := limitedTenant(s, 10, 1)
	s.Err = errors.New("down")

	assert.Error(t, a.Increment(context.Background(), tenant, model.ResourceProducts, 1))
	assert.Equal(t, int64(1), tenant.Usage.ProductsCount)
}

func TestLaxReservationIncrementsOnCommit(t *testing.T) {
	s := memstore.NewTenantStore()
	a := NewAccountant(s, false)
	tenant := limitedTenant(s, 10, 5)
	ctx := context.Background()

	res, err := a.Reserve(ctx, tenant, model.ResourceProducts, 4)
	require.NoError(t, err)
	assert.Equal(t, int64(5), tenant.Usage.ProductsCount)

	require.NoError(t, res.Commit(ctx, 3))
	assert.Equal(t, int64(8), tenant.Usage.ProductsCount)
	assert.Error(t, res.Commit(ctx, 1))
}

func TestAtomicReservationReleasesUnused(t *testing.T) {
	s := memstore.NewTenantStore()
	a := NewAccountant(s, true)
	tenant := limitedTenant(s, 10, 5)
	ctx := context.Background()

	res, err := a.Reserve(ctx, tenant, model.ResourceProducts, 4)
	require.NoError(t, err)
	assert.Equal(t, int64(9), tenant.Usage.ProductsCount)

	require.NoError(t, res.Commit(ctx, 1))
	stored, err := s.FindByID(ctx, tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(6), stored.Usage.ProductsCount)

	_, err = a.Reserve(ctx, tenant, model.ResourceProducts, 5)
	var limitErr *LimitError
	assert.True(t, errors.As(err, &limitErr))
}

func TestAtomicReservationsNeverOvershoot(t *testing.T) {
	s := memstore.NewTenantStore()
	a := NewAccountant(s, true)
	tenant := limitedTenant(s, 20, 0)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	granted := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			own := *tenant
			if _, err := a.Reserve(ctx, &own, model.ResourceProducts, 1); err == nil {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	stored, err := s.FindByID(ctx, tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, 20, granted)
	assert.Equal(t, int64(20), stored.Usage.ProductsCount)
}

func TestReconcile(t *testing.T) {
	s := memstore.NewTenantStore()
	a := NewAccountant(s, false)
	tenant := limitedTenant(s, 10, 9)
	tenant.Usage.StorageUsedMB = 12
	ctx := context.Background()

	require.NoError(t, a.Reconcile(ctx, tenant, model.TenantUsage{ProductsCount: 4, OrdersCount: 2, UsersCount: 3}))
	stored, err := s.FindByID(ctx, tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TenantUsage{ProductsCount: 4, OrdersCount: 2, UsersCount: 3, StorageUsedMB: 12}, stored.Usage)
}
