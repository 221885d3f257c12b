package model

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Plan string

const (
	PlanBasic      Plan = "basic"
	PlanPro        Plan = "pro"
	PlanEnterprise Plan = "enterprise"
	// PlanTrial is the implicit plan of a freshly registered store
	PlanTrial Plan = "trial"
)

type TenantStatus string

const (
	TenantActive    TenantStatus = "active"
	TenantSuspended TenantStatus = "suspended"
	TenantTrial     TenantStatus = "trial"
	TenantCancelled TenantStatus = "cancelled"
)

type SubscriptionStatus string

const (
	SubscriptionActive   SubscriptionStatus = "active"
	SubscriptionPastDue  SubscriptionStatus = "past_due"
	SubscriptionCanceled SubscriptionStatus = "canceled"
	SubscriptionUnpaid   SubscriptionStatus = "unpaid"
)

// Resource names a countable, plan-limited resource
type Resource string

const (
	ResourceProducts Resource = "products"
	ResourceOrders   Resource = "orders"
	ResourceStorage  Resource = "storage"
	ResourceUsers    Resource = "users"
)

// Resources lists every accounted resource in display order
var Resources = []Resource{ResourceProducts, ResourceOrders, ResourceStorage, ResourceUsers}

var Currencies = []string{"USD", "EUR", "GBP", "CAD", "AUD", "JPY", "INR"}

var subdomainPattern = regexp.MustCompile(`^[a-z0-9-]+$`)

// TenantLimits are plan-derived ceilings, stored at creation time
type TenantLimits struct {
	MaxProducts  int64 `json:"max_products"`
	MaxOrders    int64 `json:"max_orders"`
	MaxStorageMB int64 `json:"max_storage_mb"`
	MaxUsers     int64 `json:"max_users"`
}

// TenantUsage holds the stored counters compared against TenantLimits
type TenantUsage struct {
	ProductsCount int64 `json:"products_count"`
	OrdersCount   int64 `json:"orders_count"`
	StorageUsedMB int64 `json:"storage_used_mb"`
	UsersCount    int64 `json:"users_count"`
}

type TenantBilling struct {
	StripeCustomerID   string             `json:"-" gorm:"type:varchar(100)"`
	SubscriptionID     string             `json:"-" gorm:"type:varchar(100)"`
	SubscriptionStatus SubscriptionStatus `json:"subscription_status" gorm:"type:varchar(20);default:'active'"`
	CurrentPeriodStart *time.Time         `json:"current_period_start,omitempty"`
	CurrentPeriodEnd   *time.Time         `json:"current_period_end,omitempty"`
	TrialEnd           *time.Time         `json:"trial_end,omitempty"`
}

// Tenant is an isolated store; every resource row carries its ID
type Tenant struct {
	ID           uint              `json:"id" gorm:"primaryKey"`
	Name         string            `json:"name" gorm:"type:varchar(100);not null"`
	Subdomain    string            `json:"subdomain" gorm:"type:varchar(50);uniqueIndex;not null"`
	CustomDomain *string           `json:"custom_domain,omitempty" gorm:"type:varchar(255);uniqueIndex"`
	OwnerID      *uint             `json:"owner_id,omitempty" gorm:"index"`
	Plan         Plan              `json:"plan" gorm:"type:varchar(20);not null;default:'basic'"`
	Status       TenantStatus      `json:"status" gorm:"type:varchar(20);not null;default:'trial'"`
	Currency     string            `json:"currency" gorm:"type:varchar(3);default:'USD'"`
	Timezone     string            `json:"timezone" gorm:"type:varchar(64);default:'UTC'"`
	Limits       TenantLimits      `json:"limits" gorm:"embedded;embeddedPrefix:limits_"`
	Usage        TenantUsage       `json:"usage" gorm:"embedded;embeddedPrefix:usage_"`
	Billing      TenantBilling     `json:"billing" gorm:"embedded;embeddedPrefix:billing_"`
	Branding     datatypes.JSONMap `json:"branding" gorm:"type:jsonb"`
	Settings     datatypes.JSONMap `json:"settings" gorm:"type:jsonb"`
	Integrations datatypes.JSONMap `json:"-" gorm:"type:jsonb"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
	DeletedAt    gorm.DeletedAt    `json:"-" gorm:"index"`
}

// DefaultLimits returns the limits a new tenant on plan starts with.
// Unknown plans, the trial plan included, get the trial allowance.
func DefaultLimits(plan Plan) TenantLimits {
	switch plan {
	case PlanBasic:
		return TenantLimits{MaxProducts: 100, MaxOrders: 1000, MaxStorageMB: 1024, MaxUsers: 3}
	case PlanPro:
		return TenantLimits{MaxProducts: 1000, MaxOrders: 10000, MaxStorageMB: 5120, MaxUsers: 10}
	case PlanEnterprise:
		return TenantLimits{MaxProducts: 10000, MaxOrders: 100000, MaxStorageMB: 20480, MaxUsers: 50}
	default:
		return TenantLimits{MaxProducts: 10, MaxOrders: 50, MaxStorageMB: 100, MaxUsers: 1}
	}
}

// DefaultBranding mirrors the storefront theme defaults
func DefaultBranding() datatypes.JSONMap {
	return datatypes.JSONMap{
		"primary_color":   "#3B82F6",
		"secondary_color": "#8B5CF6",
		"font_family":     "Inter",
	}
}

// DefaultSettings enables the standard storefront features
func DefaultSettings() datatypes.JSONMap {
	return datatypes.JSONMap{
		"features": map[string]interface{}{
			"reviews_enabled":    true,
			"wishlist_enabled":   true,
			"coupons_enabled":    true,
			"inventory_tracking": true,
			"multi_currency":     false,
			"tax_calculation":    true,
		},
	}
}

// Normalize lowercases identifiers and fills defaults. Limits are only
// derived when none are set, so a later plan change never rewrites them.
func (t *Tenant) Normalize() {
	t.Name = strings.TrimSpace(t.Name)
	t.Subdomain = strings.ToLower(strings.TrimSpace(t.Subdomain))
	if t.CustomDomain != nil {
		d := strings.ToLower(strings.TrimSpace(*t.CustomDomain))
		if d == "" {
			t.CustomDomain = nil
		} else {
			t.CustomDomain = &d
		}
	}
	if t.Plan == "" {
		t.Plan = PlanBasic
	}
	if t.Status == "" {
		t.Status = TenantTrial
	}
	if t.Currency == "" {
		t.Currency = "USD"
	}
	if t.Timezone == "" {
		t.Timezone = "UTC"
	}
	if t.Billing.SubscriptionStatus == "" {
		t.Billing.SubscriptionStatus = SubscriptionActive
	}
	if t.Limits == (TenantLimits{}) {
		t.Limits = DefaultLimits(t.Plan)
	}
	if t.Usage == (TenantUsage{}) {
		t.Usage.UsersCount = 1
	}
	if t.Branding == nil {
		t.Branding = DefaultBranding()
	}
	if t.Settings == nil {
		t.Settings = DefaultSettings()
	}
}

// Validate checks the field constraints enforced before a tenant is written
func (t *Tenant) Validate() error {
	if t.Name == "" {
		return errors.New("tenant name is required")
	}
	if len(t.Name) > 100 {
		return errors.New("tenant name cannot exceed 100 characters")
	}
	if err := ValidateSubdomain(t.Subdomain); err != nil {
		return err
	}
	switch t.Plan {
	case PlanBasic, PlanPro, PlanEnterprise, PlanTrial:
	default:
		return fmt.Errorf("invalid plan %q", t.Plan)
	}
	switch t.Status {
	case TenantActive, TenantSuspended, TenantTrial, TenantCancelled:
	default:
		return fmt.Errorf("invalid status %q", t.Status)
	}
	if !ValidCurrency(t.Currency) {
		return fmt.Errorf("invalid currency %q", t.Currency)
	}
	return nil
}

// ValidateSubdomain enforces the lowercase-alphanumeric-hyphen rule and 3..50 length
func ValidateSubdomain(s string) error {
	if len(s) < 3 {
		return errors.New("subdomain must be at least 3 characters")
	}
	if len(s) > 50 {
		return errors.New("subdomain cannot exceed 50 characters")
	}
	if !subdomainPattern.MatchString(s) {
		return errors.New("subdomain can only contain lowercase letters, numbers, and hyphens")
	}
	return nil
}

func ValidCurrency(c string) bool {
	for _, known := range Currencies {
		if c == known {
			return true
		}
	}
	return false
}

// BeforeCreate fills defaults so rows written outside the API are consistent too
func (t *Tenant) BeforeCreate(tx *gorm.DB) error {
	t.Normalize()
	return t.Validate()
}

// Current returns the stored usage counter for r
func (t *Tenant) Current(r Resource) int64 {
	switch r {
	case ResourceProducts:
		return t.Usage.ProductsCount
	case ResourceOrders:
		return t.Usage.OrdersCount
	case ResourceStorage:
		return t.Usage.StorageUsedMB
	case ResourceUsers:
		return t.Usage.UsersCount
	}
	return 0
}

// Limit returns the stored ceiling for r
func (t *Tenant) Limit(r Resource) int64 {
	switch r {
	case ResourceProducts:
		return t.Limits.MaxProducts
	case ResourceOrders:
		return t.Limits.MaxOrders
	case ResourceStorage:
		return t.Limits.MaxStorageMB
	case ResourceUsers:
		return t.Limits.MaxUsers
	}
	return 0
}

func (t *Tenant) setCurrent(r Resource, v int64) {
	switch r {
	case ResourceProducts:
		t.Usage.ProductsCount = v
	case ResourceOrders:
		t.Usage.OrdersCount = v
	case ResourceStorage:
		t.Usage.StorageUsedMB = v
	case ResourceUsers:
		t.Usage.UsersCount = v
	}
}

// IsWithinLimits reports whether one more r may be created: usage must be strictly below the limit.
func (t *Tenant) IsWithinLimits(r Resource) bool {
	return t.Current(r) < t.Limit(r)
}

// IncrementUsage adds amount to the counter for r
func (t *Tenant) IncrementUsage(r Resource, amount int64) {
	t.setCurrent(r, t.Current(r)+amount)
}

// DecrementUsage subtracts amount from the counter for r, never going below zero
func (t *Tenant) DecrementUsage(r Resource, amount int64) {
	v := t.Current(r) - amount
	if v < 0 {
		v = 0
	}
	t.setCurrent(r, v)
}

// SetUsage overwrites the counter for r
func (t *Tenant) SetUsage(r Resource, v int64) {
	if v < 0 {
		v = 0
	}
	t.setCurrent(r, v)
}

// IsTrialExpired is false when no trial end is recorded
func (t *Tenant) IsTrialExpired(now time.Time) bool {
	return t.Billing.TrialEnd != nil && now.After(*t.Billing.TrialEnd)
}

func (t *Tenant) IsSubscriptionActive() bool {
	return t.Billing.SubscriptionStatus == SubscriptionActive
}

// CanAccess gates every tenant-scoped request.
// The subscription and trial checks are OR-ed: an inactive subscription still
// passes while the trial has not expired, including when no trial end is set.
func (t *Tenant) CanAccess(now time.Time) bool {
	return t.Status == TenantActive && (t.IsSubscriptionActive() || !t.IsTrialExpired(now))
}

// Domain returns the storefront host for the tenant
func (t *Tenant) Domain(baseDomain string) string {
	if t.CustomDomain != nil && *t.CustomDomain != "" {
		return *t.CustomDomain
	}
	return t.Subdomain + "." + baseDomain
}

// PublicTenant is the view served to unauthenticated storefront clients
type PublicTenant struct {
	ID           uint              `json:"id"`
	Name         string            `json:"name"`
	Subdomain    string            `json:"subdomain"`
	CustomDomain *string           `json:"custom_domain,omitempty"`
	Domain       string            `json:"domain"`
	Currency     string            `json:"currency"`
	Timezone     string            `json:"timezone"`
	Branding     datatypes.JSONMap `json:"branding"`
	Settings     datatypes.JSONMap `json:"settings"`
}

// Public strips limits, usage, billing and integrations
func (t *Tenant) Public(baseDomain string) PublicTenant {
	return PublicTenant{
		ID:           t.ID,
		Name:         t.Name,
		Subdomain:    t.Subdomain,
		CustomDomain: t.CustomDomain,
		Domain:       t.Domain(baseDomain),
		Currency:     t.Currency,
		Timezone:     t.Timezone,
		Branding:     t.Branding,
		Settings:     t.Settings,
	}
}

// MergeMap applies patch onto base one level deep; nested maps are merged recursively
func MergeMap(base, patch map[string]interface{}) datatypes.JSONMap {
	out := datatypes.JSONMap{}
	for k, v := range base {
		out[k] = v
	}
	for k, v := range patch {
		if pm, ok := v.(map[string]interface{}); ok {
			if bm, ok := out[k].(map[string]interface{}); ok {
				out[k] = map[string]interface{}(MergeMap(bm, pm))
				continue
			}
		}
		out[k] = v
	}
	return out
}
