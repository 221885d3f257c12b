package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type ProductStatus string

const (
	ProductActive   ProductStatus = "active"
	ProductInactive ProductStatus = "inactive"
	ProductDraft    ProductStatus = "draft"
	ProductArchived ProductStatus = "archived"
)

func (s ProductStatus) Valid() bool {
	switch s {
	case ProductActive, ProductInactive, ProductDraft, ProductArchived:
		return true
	}
	return false
}

type ProductType string

const (
	ProductSimple   ProductType = "simple"
	ProductVariable ProductType = "variable"
	ProductGrouped  ProductType = "grouped"
	ProductExternal ProductType = "external"
)

func (t ProductType) Valid() bool {
	switch t {
	case ProductSimple, ProductVariable, ProductGrouped, ProductExternal:
		return true
	}
	return false
}

// ProductImage is one gallery entry; exactly one should be primary
type ProductImage struct {
	URL       string `json:"url"`
	AltText   string `json:"alt_text,omitempty"`
	IsPrimary bool   `json:"is_primary"`
	SortOrder int    `json:"sort_order"`
}

// ProductVariant is a purchasable option of a variable product
type ProductVariant struct {
	ID             string            `json:"id"`
	Name           string            `json:"name"`
	SKU            string            `json:"sku"`
	Price          float64           `json:"price"`
	CompareAtPrice *float64          `json:"compare_at_price,omitempty"`
	Stock          int               `json:"stock"`
	Attributes     map[string]string `json:"attributes,omitempty"`
	Status         ProductStatus     `json:"status"`
}

// Product is a tenant-scoped catalogue item
type Product struct {
	ID                uint                                `json:"id" gorm:"primaryKey"`
	TenantID          uint                                `json:"tenant_id" gorm:"index;not null;uniqueIndex:idx_products_tenant_sku,priority:1"`
	Name              string                              `json:"name" gorm:"type:varchar(200);not null"`
	Slug              string                              `json:"slug" gorm:"type:varchar(255);index"`
	Description       string                              `json:"description" gorm:"type:text"`
	ShortDescription  string                              `json:"short_description,omitempty" gorm:"type:varchar(500)"`
	ProductType       ProductType                         `json:"product_type" gorm:"type:varchar(20);default:'simple'"`
	CategoryID        *uint                               `json:"category_id,omitempty" gorm:"index"`
	Brand             string                              `json:"brand,omitempty" gorm:"type:varchar(100);index"`
	Tags              datatypes.JSONSlice[string]         `json:"tags" gorm:"type:jsonb"`
	Price             float64                             `json:"price" gorm:"not null"`
	CompareAtPrice    *float64                            `json:"compare_at_price,omitempty"`
	CostPrice         *float64                            `json:"cost_price,omitempty"`
	SKU               string                              `json:"sku" gorm:"type:varchar(100);uniqueIndex:idx_products_tenant_sku,priority:2"`
	Stock             int                                 `json:"stock" gorm:"default:0"`
	TrackInventory    bool                                `json:"track_inventory" gorm:"default:true"`
	LowStockThreshold int                                 `json:"low_stock_threshold" gorm:"default:5"`
	Variants          datatypes.JSONSlice[ProductVariant] `json:"variants" gorm:"type:jsonb"`
	Images            datatypes.JSONSlice[ProductImage]   `json:"images" gorm:"type:jsonb"`
	Status            ProductStatus                       `json:"status" gorm:"type:varchar(20);default:'draft';index"`
	Visibility        string                              `json:"visibility" gorm:"type:varchar(20);default:'public'"`
	Featured          bool                                `json:"featured" gorm:"default:false"`
	OnSale            bool                                `json:"on_sale" gorm:"default:false"`
	PublishedAt       *time.Time                          `json:"published_at,omitempty"`
	ViewsCount        int64                               `json:"views_count" gorm:"default:0"`
	SalesCount        int64                               `json:"sales_count" gorm:"default:0"`
	CreatedBy         *uint                               `json:"created_by,omitempty"`
	UpdatedBy         *uint                               `json:"updated_by,omitempty"`
	CreatedAt         time.Time                           `json:"created_at"`
	UpdatedAt         time.Time                           `json:"updated_at"`
	DeletedAt         gorm.DeletedAt                      `json:"-" gorm:"index"`
}

// Prepare applies the derived fields that are recomputed on every save
func (p *Product) Prepare(now time.Time) {
	p.Name = strings.TrimSpace(p.Name)
	p.SKU = strings.ToUpper(strings.TrimSpace(p.SKU))
	if p.ProductType == "" {
		p.ProductType = ProductSimple
	}
	if p.Status == "" {
		p.Status = ProductDraft
	}
	if p.Visibility == "" {
		p.Visibility = "public"
	}
	p.Slug = fmt.Sprintf("%s-%d", Slugify(p.Name), p.TenantID)
	if p.Status == ProductActive && p.PublishedAt == nil {
		p.PublishedAt = &now
	}
	p.OnSale = p.CompareAtPrice != nil && *p.CompareAtPrice > p.Price

	if len(p.Images) > 0 {
		hasPrimary := false
		for _, img := range p.Images {
			if img.IsPrimary {
				hasPrimary = true
				break
			}
		}
		if !hasPrimary {
			p.Images[0].IsPrimary = true
		}
	}
	for i := range p.Variants {
		p.Variants[i].SKU = strings.ToUpper(strings.TrimSpace(p.Variants[i].SKU))
		if p.Variants[i].Status == "" {
			p.Variants[i].Status = ProductActive
		}
	}
}

// Validate checks the field constraints for a product write
func (p *Product) Validate() error {
	if p.Name == "" {
		return errors.New("product name is required")
	}
	if len(p.Name) > 200 {
		return errors.New("product name cannot exceed 200 characters")
	}
	if len(p.Description) > 5000 {
		return errors.New("description cannot exceed 5000 characters")
	}
	if p.SKU == "" {
		return errors.New("sku is required")
	}
	if p.Price < 0 {
		return errors.New("price must be a positive number")
	}
	if p.Stock < 0 {
		return errors.New("stock cannot be negative")
	}
	if !p.Status.Valid() {
		return fmt.Errorf("invalid status %q", p.Status)
	}
	if !p.ProductType.Valid() {
		return fmt.Errorf("invalid product type %q", p.ProductType)
	}
	seen := map[string]bool{}
	for _, v := range p.Variants {
		if v.Name == "" || v.SKU == "" {
			return errors.New("variant name and sku are required")
		}
		if v.Price < 0 || v.Stock < 0 {
			return errors.New("variant price and stock cannot be negative")
		}
		if seen[v.SKU] {
			return fmt.Errorf("duplicate variant sku %s", v.SKU)
		}
		seen[v.SKU] = true
	}
	return nil
}

// SetStatus changes status and stamps published_at on first activation
func (p *Product) SetStatus(s ProductStatus, now time.Time) {
	p.Status = s
	if s == ProductActive && p.PublishedAt == nil {
		p.PublishedAt = &now
	}
}

// Variant returns the index of the variant with id, or -1
func (p *Product) Variant(id string) int {
	for i, v := range p.Variants {
		if v.ID == id {
			return i
		}
	}
	return -1
}

func (p *Product) PrimaryImage() string {
	for _, img := range p.Images {
		if img.IsPrimary {
			return img.URL
		}
	}
	if len(p.Images) > 0 {
		return p.Images[0].URL
	}
	return ""
}

// DiscountPercentage is the rounded markdown from compare_at_price
func (p *Product) DiscountPercentage() int {
	if p.CompareAtPrice == nil || p.Price >= *p.CompareAtPrice || *p.CompareAtPrice == 0 {
		return 0
	}
	return int(((*p.CompareAtPrice-p.Price) / *p.CompareAtPrice)*100 + 0.5)
}

// TotalStock sums active variant stock for variable products
func (p *Product) TotalStock() int {
	switch p.ProductType {
	case ProductSimple:
		return p.Stock
	case ProductVariable:
		total := 0
		for _, v := range p.Variants {
			if v.Status == ProductActive {
				total += v.Stock
			}
		}
		return total
	}
	return 0
}

func (p *Product) InStock() bool {
	switch p.ProductType {
	case ProductSimple:
		return !p.TrackInventory || p.Stock > 0
	case ProductVariable:
		return p.TotalStock() > 0
	}
	return true
}

// IsLowStock reports tracked stock at or under the threshold
func (p *Product) IsLowStock() bool {
	return p.TrackInventory && p.TotalStock() <= p.LowStockThreshold
}

// Slugify lowercases s and joins alphanumeric runs with hyphens
func Slugify(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if r > unicode.MaxASCII {
				continue
			}
			if dash && b.Len() > 0 {
				b.WriteByte('-')
			}
			dash = false
			b.WriteRune(r)
			continue
		}
		dash = true
	}
	return b.String()
}
