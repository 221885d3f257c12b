package model

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Role string

const (
	RoleSuperAdmin  Role = "super_admin"
	RoleTenantOwner Role = "tenant_owner"
	RoleTenantAdmin Role = "tenant_admin"
	RoleTenantUser  Role = "tenant_user"
	RoleCustomer    Role = "customer"
)

// Valid reports whether r is one of the known roles
func (r Role) Valid() bool {
	switch r {
	case RoleSuperAdmin, RoleTenantOwner, RoleTenantAdmin, RoleTenantUser, RoleCustomer:
		return true
	}
	return false
}

type Permission string

const (
	PermReadProducts    Permission = "read_products"
	PermWriteProducts   Permission = "write_products"
	PermDeleteProducts  Permission = "delete_products"
	PermReadOrders      Permission = "read_orders"
	PermWriteOrders     Permission = "write_orders"
	PermDeleteOrders    Permission = "delete_orders"
	PermReadCustomers   Permission = "read_customers"
	PermWriteCustomers  Permission = "write_customers"
	PermDeleteCustomers Permission = "delete_customers"
	PermReadAnalytics   Permission = "read_analytics"
	PermWriteAnalytics  Permission = "write_analytics"
	PermReadSettings    Permission = "read_settings"
	PermWriteSettings   Permission = "write_settings"
	PermManageUsers     Permission = "manage_users"
	PermManageBilling   Permission = "manage_billing"
)

// AllPermissions is the closed permission vocabulary
var AllPermissions = []Permission{
	PermReadProducts, PermWriteProducts, PermDeleteProducts,
	PermReadOrders, PermWriteOrders, PermDeleteOrders,
	PermReadCustomers, PermWriteCustomers, PermDeleteCustomers,
	PermReadAnalytics, PermWriteAnalytics,
	PermReadSettings, PermWriteSettings,
	PermManageUsers, PermManageBilling,
}

func (p Permission) Valid() bool {
	for _, known := range AllPermissions {
		if p == known {
			return true
		}
	}
	return false
}

type UserStatus string

const (
	UserActive    UserStatus = "active"
	UserInactive  UserStatus = "inactive"
	UserSuspended UserStatus = "suspended"
)

func (s UserStatus) Valid() bool {
	return s == UserActive || s == UserInactive || s == UserSuspended
}

// BcryptCost matches the cost used for stored password hashes
var BcryptCost = 12

var emailPattern = regexp.MustCompile(`^\w+([.-]?\w+)*@\w+([.-]?\w+)*(\.\w{2,})+$`)

// Address is shared by customer address books and order billing/shipping
type Address struct {
	Type         string `json:"type,omitempty"`
	IsDefault    bool   `json:"is_default,omitempty"`
	Name         string `json:"name"`
	Company      string `json:"company,omitempty"`
	Phone        string `json:"phone,omitempty"`
	AddressLine1 string `json:"address_line_1"`
	AddressLine2 string `json:"address_line_2,omitempty"`
	City         string `json:"city"`
	State        string `json:"state,omitempty"`
	PostalCode   string `json:"postal_code"`
	Country      string `json:"country"`
}

// Validate requires the fields a carrier needs
func (a Address) Validate() error {
	var missing []string
	if strings.TrimSpace(a.Name) == "" {
		missing = append(missing, "name")
	}
	if strings.TrimSpace(a.AddressLine1) == "" {
		missing = append(missing, "address_line_1")
	}
	if strings.TrimSpace(a.City) == "" {
		missing = append(missing, "city")
	}
	if strings.TrimSpace(a.PostalCode) == "" {
		missing = append(missing, "postal_code")
	}
	if strings.TrimSpace(a.Country) == "" {
		missing = append(missing, "country")
	}
	if len(missing) > 0 {
		return fmt.Errorf("address is missing %s", strings.Join(missing, ", "))
	}
	return nil
}

// CustomerData is only populated for role customer
type CustomerData struct {
	Addresses     []Address `json:"addresses"`
	Wishlist      []uint    `json:"wishlist"`
	TotalOrders   int64     `json:"total_orders"`
	TotalSpent    float64   `json:"total_spent"`
	LoyaltyPoints int64     `json:"loyalty_points"`
	CustomerSince time.Time `json:"customer_since"`
}

// User is the authenticated principal. Customers are users too.
type User struct {
	ID            uint                             `json:"id" gorm:"primaryKey"`
	TenantID      *uint                            `json:"tenant_id,omitempty" gorm:"index"`
	Name          string                           `json:"name" gorm:"type:varchar(100);not null"`
	Email         string                           `json:"email" gorm:"type:varchar(255);uniqueIndex;not null"`
	Password      string                           `json:"-" gorm:"type:varchar(255);not null"`
	Role          Role                             `json:"role" gorm:"type:varchar(20);not null;default:'customer';index"`
	Status        UserStatus                       `json:"status" gorm:"type:varchar(20);not null;default:'active'"`
	Permissions   datatypes.JSONSlice[Permission]  `json:"permissions" gorm:"type:jsonb"`
	Phone         string                           `json:"phone,omitempty" gorm:"type:varchar(30)"`
	Avatar        string                           `json:"avatar,omitempty" gorm:"type:varchar(500)"`
	EmailVerified bool                             `json:"email_verified" gorm:"default:false"`
	CustomerData  datatypes.JSONType[CustomerData] `json:"customer_data" gorm:"type:jsonb"`
	Profile       datatypes.JSONMap                `json:"profile,omitempty" gorm:"type:jsonb"`
	LastLogin     *time.Time                       `json:"last_login,omitempty"`
	LastActive    *time.Time                       `json:"last_active,omitempty"`
	CreatedAt     time.Time                        `json:"created_at"`
	UpdatedAt     time.Time                        `json:"updated_at"`
	DeletedAt     gorm.DeletedAt                   `json:"-" gorm:"index"`
}

// Validate checks the constraints enforced before a user is written
func (u *User) Validate() error {
	if strings.TrimSpace(u.Name) == "" {
		return errors.New("name is required")
	}
	if len(u.Name) > 100 {
		return errors.New("name cannot exceed 100 characters")
	}
	if !ValidEmail(u.Email) {
		return errors.New("please enter a valid email")
	}
	if !u.Role.Valid() {
		return fmt.Errorf("invalid role %q", u.Role)
	}
	if !u.Status.Valid() {
		return fmt.Errorf("invalid status %q", u.Status)
	}
	if u.Role != RoleSuperAdmin && u.TenantID == nil {
		return errors.New("tenant is required unless role is super_admin")
	}
	for _, p := range u.Permissions {
		if !p.Valid() {
			return fmt.Errorf("unknown permission %q", p)
		}
	}
	return nil
}

// ValidEmail reports whether s looks like a deliverable address
func ValidEmail(s string) bool {
	return emailPattern.MatchString(s)
}

// Normalize trims and lowercases the email and fills defaults
func (u *User) Normalize() {
	u.Name = strings.TrimSpace(u.Name)
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	if u.Role == "" {
		u.Role = RoleCustomer
	}
	if u.Status == "" {
		u.Status = UserActive
	}
	if u.Role == RoleCustomer {
		data := u.CustomerData.Data()
		if data.CustomerSince.IsZero() {
			data.CustomerSince = time.Now().UTC()
			u.CustomerData = datatypes.NewJSONType(data)
		}
	}
}

// SetPassword hashes plain with bcrypt; plain must be at least 6 characters
func (u *User) SetPassword(plain string) error {
	if len(plain) < 6 {
		return errors.New("password must be at least 6 characters")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), BcryptCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	u.Password = string(hash)
	return nil
}

// CheckPassword compares plain against the stored hash
func (u *User) CheckPassword(plain string) bool {
	return bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(plain)) == nil
}

// IsActive reports whether the principal may authenticate
func (u *User) IsActive() bool {
	return u.Status == UserActive
}

// BelongsTo reports whether the user is bound to tenantID
func (u *User) BelongsTo(tenantID uint) bool {
	return u.TenantID != nil && *u.TenantID == tenantID
}

// RecordOrder bumps the customer's running totals
func (u *User) RecordOrder(total float64, now time.Time) {
	data := u.CustomerData.Data()
	data.TotalOrders++
	data.TotalSpent += total
	u.CustomerData = datatypes.NewJSONType(data)
	u.LastActive = &now
}

func (u *User) GetRole() Role {
	return u.Role
}

func (u *User) GetPermissions() []Permission {
	return u.Permissions
}
