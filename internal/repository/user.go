package repository

import (
	"context"
	"strings"
	"time"

	"github.com/suteetoe/shopnest/internal/model"
	"github.com/suteetoe/shopnest/internal/store"
	metrics "github.com/suteetoe/shopnest/prometheus"
	"gorm.io/gorm"
)

// UserRepository is the gorm store.UserStore. Customers are users with role customer.
type UserRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) FindByID(ctx context.Context, id uint) (*model.User, error) {
	defer metrics.TrackDBOperation("user_find")(time.Now())

	var u model.User
	if err := r.db.WithContext(ctx).First(&u, id).Error; err != nil {
		return nil, translate(err)
	}
	return &u, nil
}

func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	defer metrics.TrackDBOperation("user_find")(time.Now())

	var u model.User
	err := r.db.WithContext(ctx).Where("email = ?", strings.ToLower(strings.TrimSpace(email))).First(&u).Error
	if err != nil {
		return nil, translate(err)
	}
	return &u, nil
}

func (r *UserRepository) Create(ctx context.Context, u *model.User) error {
	defer metrics.TrackDBOperation("user_create")(time.Now())
	return translate(r.db.WithContext(ctx).Create(u).Error)
}

func (r *UserRepository) Update(ctx context.Context, u *model.User) error {
	defer metrics.TrackDBOperation("user_update")(time.Now())

	res := r.db.WithContext(ctx).Model(u).Select("*").Omit("created_at").Updates(u)
	return affected(res)
}

func (r *UserRepository) Delete(ctx context.Context, tenantID, id uint) error {
	defer metrics.TrackDBOperation("user_delete")(time.Now())

	res := r.db.WithContext(ctx).Where("tenant_id = ? AND id = ?", tenantID, id).Delete(&model.User{})
	return affected(res)
}

func (r *UserRepository) customers(ctx context.Context, tenantID uint) *gorm.DB {
	return r.db.WithContext(ctx).Model(&model.User{}).
		Where("tenant_id = ? AND role = ?", tenantID, model.RoleCustomer)
}

func (r *UserRepository) FindCustomer(ctx context.Context, tenantID, id uint) (*model.User, error) {
	defer metrics.TrackDBOperation("customer_find")(time.Now())

	var u model.User
	if err := r.customers(ctx, tenantID).Where("id = ?", id).First(&u).Error; err != nil {
		return nil, translate(err)
	}
	return &u, nil
}

func (r *UserRepository) ListCustomers(ctx context.Context, tenantID uint, f store.CustomerFilter) ([]model.User, int64, error) {
	defer metrics.TrackDBOperation("customer_list")(time.Now())

	q := r.customers(ctx, tenantID)
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.Search != "" {
		q = q.Where("name ILIKE ? OR email ILIKE ?", like(f.Search), like(f.Search))
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var users []model.User
	err := paginate(q.Order(orderBy(f.Sort, f.Order, store.CustomerSortFields)), f.Page).Find(&users).Error
	if err != nil {
		return nil, 0, err
	}
	return users, total, nil
}

func (r *UserRepository) Count(ctx context.Context, tenantID uint, c store.UserCount) (int64, error) {
	defer metrics.TrackDBOperation("user_count")(time.Now())

	q := r.db.WithContext(ctx).Model(&model.User{}).Where("tenant_id = ?", tenantID)
	if c.Role != "" {
		q = q.Where("role = ?", c.Role)
	}
	if c.CreatedFrom != nil {
		q = q.Where("created_at >= ?", *c.CreatedFrom)
	}
	if c.CreatedTo != nil {
		q = q.Where("created_at <= ?", *c.CreatedTo)
	}
	if c.ActiveSince != nil {
		q = q.Where("last_active >= ?", *c.ActiveSince)
	}
	var n int64
	err := q.Count(&n).Error
	return n, err
}

var _ store.UserStore = (*UserRepository)(nil)
