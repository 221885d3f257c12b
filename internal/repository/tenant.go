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

type usageColumn struct {
	usage string
	limit string
}

// usageColumns is the whitelist of counter columns interpolated into usage updates
var usageColumns = map[model.Resource]usageColumn{
	model.ResourceProducts: {"usage_products_count", "limits_max_products"},
	model.ResourceOrders:   {"usage_orders_count", "limits_max_orders"},
	model.ResourceStorage:  {"usage_storage_used_mb", "limits_max_storage_mb"},
	model.ResourceUsers:    {"usage_users_count", "limits_max_users"},
}

func columnsFor(r model.Resource) (usageColumn, error) {
	cols, ok := usageColumns[r]
	if !ok {
		return usageColumn{}, fmt.Errorf("unknown resource %q", r)
	}
	return cols, nil
}

// TenantRepository is the gorm store.TenantStore
type TenantRepository struct {
	db *gorm.DB
}

func NewTenantRepository(db *gorm.DB) *TenantRepository {
	return &TenantRepository{db: db}
}

func (r *TenantRepository) first(ctx context.Context, query string, arg interface{}) (*model.Tenant, error) {
	defer metrics.TrackDBOperation("tenant_find")(time.Now())

	var t model.Tenant
	if err := r.db.WithContext(ctx).Where(query, arg).First(&t).Error; err != nil {
		return nil, translate(err)
	}
	return &t, nil
}

func (r *TenantRepository) FindByID(ctx context.Context, id uint) (*model.Tenant, error) {
	return r.first(ctx, "id = ?", id)
}

func (r *TenantRepository) FindBySubdomain(ctx context.Context, subdomain string) (*model.Tenant, error) {
	return r.first(ctx, "subdomain = ?", strings.ToLower(subdomain))
}

func (r *TenantRepository) FindByCustomDomain(ctx context.Context, domain string) (*model.Tenant, error) {
	return r.first(ctx, "custom_domain = ?", strings.ToLower(domain))
}

// Create inserts t; the BeforeCreate hook fills defaults and validates
func (r *TenantRepository) Create(ctx context.Context, t *model.Tenant) error {
	defer metrics.TrackDBOperation("tenant_create")(time.Now())
	return translate(r.db.WithContext(ctx).Create(t).Error)
}

// Update writes every column except the usage counters, which only change
// through AdjustUsage, ReserveUsage and SetUsage.
func (r *TenantRepository) Update(ctx context.Context, t *model.Tenant) error {
	defer metrics.TrackDBOperation("tenant_update")(time.Now())

	omit := []string{"created_at"}
	for _, cols := range usageColumns {
		omit = append(omit, cols.usage)
	}
	res := r.db.WithContext(ctx).Model(t).Select("*").Omit(omit...).Updates(t)
	return affected(res)
}

func (r *TenantRepository) AdjustUsage(ctx context.Context, id uint, res model.Resource, delta int64) error {
	defer metrics.TrackDBOperation("tenant_usage_adjust")(time.Now())

	cols, err := columnsFor(res)
	if err != nil {
		return err
	}
	result := r.db.WithContext(ctx).Model(&model.Tenant{}).
		Where("id = ?", id).
		UpdateColumn(cols.usage, gorm.Expr(fmt.Sprintf("GREATEST(%s + ?, 0)", cols.usage), delta))
	return affected(result)
}

// ReserveUsage claims n units only while usage + n stays within the limit.
// The check and the increment are one statement, so concurrent callers cannot overshoot.
func (r *TenantRepository) ReserveUsage(ctx context.Context, id uint, res model.Resource, n int64) (bool, error) {
	defer metrics.TrackDBOperation("tenant_usage_reserve")(time.Now())

	cols, err := columnsFor(res)
	if err != nil {
		return false, err
	}
	result := r.db.WithContext(ctx).Model(&model.Tenant{}).
		Where("id = ?", id).
		Where(fmt.Sprintf("%s + ? <= %s", cols.usage, cols.limit), n).
		UpdateColumn(cols.usage, gorm.Expr(fmt.Sprintf("%s + ?", cols.usage), n))
	if result.Error != nil {
		return false, translate(result.Error)
	}
	return result.RowsAffected == 1, nil
}

func (r *TenantRepository) SetUsage(ctx context.Context, id uint, usage model.TenantUsage) error {
	defer metrics.TrackDBOperation("tenant_usage_set")(time.Now())

	result := r.db.WithContext(ctx).Model(&model.Tenant{}).
		Where("id = ?", id).
		UpdateColumns(map[string]interface{}{
			usageColumns[model.ResourceProducts].usage: usage.ProductsCount,
			usageColumns[model.ResourceOrders].usage:   usage.OrdersCount,
			usageColumns[model.ResourceStorage].usage:  usage.StorageUsedMB,
			usageColumns[model.ResourceUsers].usage:    usage.UsersCount,
		})
	return affected(result)
}

var _ store.TenantStore = (*TenantRepository)(nil)
