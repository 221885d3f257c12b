package repository

import (
	"context"
	"time"

	"github.com/suteetoe/shopnest/internal/model"
	"github.com/suteetoe/shopnest/internal/store"
	metrics "github.com/suteetoe/shopnest/prometheus"
	"gorm.io/gorm"
)

// ProductRepository is the gorm store.ProductStore
type ProductRepository struct {
	db *gorm.DB
}

func NewProductRepository(db *gorm.DB) *ProductRepository {
	return &ProductRepository{db: db}
}

func (r *ProductRepository) scoped(ctx context.Context, tenantID uint) *gorm.DB {
	return r.db.WithContext(ctx).Model(&model.Product{}).Where("tenant_id = ?", tenantID)
}

func (r *ProductRepository) FindByID(ctx context.Context, tenantID, id uint) (*model.Product, error) {
	defer metrics.TrackDBOperation("product_find")(time.Now())

	var p model.Product
	if err := r.scoped(ctx, tenantID).Where("id = ?", id).First(&p).Error; err != nil {
		return nil, translate(err)
	}
	return &p, nil
}

func (r *ProductRepository) List(ctx context.Context, tenantID uint, f store.ProductFilter) ([]model.Product, int64, error) {
	defer metrics.TrackDBOperation("product_list")(time.Now())

	q := r.scoped(ctx, tenantID)
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.Search != "" {
		s := like(f.Search)
		q = q.Where("name ILIKE ? OR description ILIKE ? OR sku ILIKE ?", s, s, s)
	}
	if f.CategoryID != nil {
		q = q.Where("category_id = ?", *f.CategoryID)
	}
	if f.Brand != "" {
		q = q.Where("brand ILIKE ?", like(f.Brand))
	}
	if f.MinPrice != nil {
		q = q.Where("price >= ?", *f.MinPrice)
	}
	if f.MaxPrice != nil {
		q = q.Where("price <= ?", *f.MaxPrice)
	}
	if f.Featured != nil {
		q = q.Where("featured = ?", *f.Featured)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var products []model.Product
	err := paginate(q.Order(orderBy(f.Sort, f.Order, store.ProductSortFields)), f.Page).Find(&products).Error
	if err != nil {
		return nil, 0, err
	}
	return products, total, nil
}

func (r *ProductRepository) Create(ctx context.Context, p *model.Product) error {
	defer metrics.TrackDBOperation("product_create")(time.Now())
	return translate(r.db.WithContext(ctx).Create(p).Error)
}

// Update rewrites the product; counters maintained by other writers are left alone
func (r *ProductRepository) Update(ctx context.Context, p *model.Product) error {
	defer metrics.TrackDBOperation("product_update")(time.Now())

	res := r.db.WithContext(ctx).Model(p).
		Where("tenant_id = ?", p.TenantID).
		Select("*").
		Omit("created_at", "tenant_id", "views_count", "sales_count").
		Updates(p)
	return affected(res)
}

func (r *ProductRepository) Delete(ctx context.Context, tenantID, id uint) error {
	defer metrics.TrackDBOperation("product_delete")(time.Now())

	res := r.db.WithContext(ctx).Where("tenant_id = ? AND id = ?", tenantID, id).Delete(&model.Product{})
	return affected(res)
}

func (r *ProductRepository) SKUExists(ctx context.Context, tenantID uint, sku string, excludeID uint) (bool, error) {
	defer metrics.TrackDBOperation("product_sku_check")(time.Now())

	q := r.scoped(ctx, tenantID).Where("sku = ?", sku)
	if excludeID != 0 {
		q = q.Where("id <> ?", excludeID)
	}
	var n int64
	if err := q.Count(&n).Error; err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *ProductRepository) IncrementViews(ctx context.Context, tenantID, id uint) error {
	res := r.scoped(ctx, tenantID).Where("id = ?", id).
		UpdateColumn("views_count", gorm.Expr("views_count + 1"))
	return affected(res)
}

// Related returns active products sharing p's category or brand, best sellers first
func (r *ProductRepository) Related(ctx context.Context, p *model.Product, limit int) ([]model.Product, error) {
	defer metrics.TrackDBOperation("product_related")(time.Now())

	if p.CategoryID == nil && p.Brand == "" {
		return nil, nil
	}
	q := r.scoped(ctx, p.TenantID).Where("id <> ? AND status = ?", p.ID, model.ProductActive)
	switch {
	case p.CategoryID != nil && p.Brand != "":
		q = q.Where("category_id = ? OR brand = ?", *p.CategoryID, p.Brand)
	case p.CategoryID != nil:
		q = q.Where("category_id = ?", *p.CategoryID)
	default:
		q = q.Where("brand = ?", p.Brand)
	}
	var products []model.Product
	err := q.Order("sales_count DESC, id DESC").Limit(limit).Find(&products).Error
	return products, err
}

func (r *ProductRepository) Count(ctx context.Context, tenantID uint, status model.ProductStatus) (int64, error) {
	q := r.scoped(ctx, tenantID)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var n int64
	err := q.Count(&n).Error
	return n, err
}

var _ store.ProductStore = (*ProductRepository)(nil)
