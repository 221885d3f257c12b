package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"gorm.io/datatypes"
)

func TestSlugify(t *testing.T) {
	assert.Equal(t, "blue-coffee-mug-2", Slugify("  Blue Coffee-Mug #2! "))
	assert.Equal(t, "", Slugify("!!!"))
}

func TestPrepare(t *testing.T) {
	now := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	compare := 30.0
	p := &Product{
		TenantID:       4,
		Name:           " Travel Mug ",
		SKU:            " mug-01 ",
		Price:          20,
		CompareAtPrice: &compare,
		Status:         ProductActive,
		Images:         datatypes.JSONSlice[ProductImage]{{URL: "a.png"}, {URL: "b.png"}},
		Variants:       datatypes.JSONSlice[ProductVariant]{{ID: "v1", Name: "Red", SKU: "mug-01-r"}},
	}
	p.Prepare(now)

	assert.Equal(t, "MUG-01", p.SKU)
	assert.Equal(t, "travel-mug-4", p.Slug)
	assert.True(t, p.OnSale)
	assert.Equal(t, &now, p.PublishedAt)
	assert.True(t, p.Images[0].IsPrimary)
	assert.Equal(t, "a.png", p.PrimaryImage())
	assert.Equal(t, "MUG-01-R", p.Variants[0].SKU)
	assert.Equal(t, ProductActive, p.Variants[0].Status)
	assert.Equal(t, 33, p.DiscountPercentage())
	assert.NoError(t, p.Validate())
}

func TestValidateProduct(t *testing.T) {
	p := &Product{Name: "X", SKU: "X1", Status: ProductDraft, ProductType: ProductSimple, Price: -1}
	assert.Error(t, p.Validate())

	p.Price = 1
	p.Variants = datatypes.JSONSlice[ProductVariant]{{Name: "a", SKU: "S"}, {Name: "b", SKU: "S"}}
	assert.Error(t, p.Validate())
}

func TestStock(t *testing.T) {
	p := &Product{ProductType: ProductVariable, TrackInventory: true, LowStockThreshold: 5,
		Variants: datatypes.JSONSlice[ProductVariant]{
			{ID: "a", Stock: 3, Status: ProductActive},
			{ID: "b", Stock: 10, Status: ProductInactive},
		}}
	assert.Equal(t, 3, p.TotalStock())
	assert.True(t, p.InStock())
	assert.True(t, p.IsLowStock())
	assert.Equal(t, 1, p.Variant("b"))
	assert.Equal(t, -1, p.Variant("c"))
}
