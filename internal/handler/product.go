package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/suteetoe/shopnest/internal/middleware"
	"github.com/suteetoe/shopnest/internal/model"
	"github.com/suteetoe/shopnest/internal/store"
	"github.com/suteetoe/shopnest/pkg/logger"
	"github.com/suteetoe/shopnest/prometheus"
	"go.uber.org/zap"
)

const (
	maxBulkImport       = 1000
	defaultRelatedLimit = 4
	maxRelatedLimit     = 20
)

// productRequest is the writable part of a product. Updates start from the
// stored product so omitted fields keep their values.
type productRequest struct {
	Name              string                 `json:"name"`
	Description       string                 `json:"description"`
	ShortDescription  string                 `json:"short_description"`
	ProductType       model.ProductType      `json:"product_type"`
	CategoryID        *uint                  `json:"category_id"`
	Brand             string                 `json:"brand"`
	Tags              []string               `json:"tags"`
	Price             float64                `json:"price"`
	CompareAtPrice    *float64               `json:"compare_at_price"`
	CostPrice         *float64               `json:"cost_price"`
	SKU               string                 `json:"sku"`
	Stock             int                    `json:"stock"`
	TrackInventory    bool                   `json:"track_inventory"`
	LowStockThreshold int                    `json:"low_stock_threshold"`
	Variants          []model.ProductVariant `json:"variants"`
	Images            []model.ProductImage   `json:"images"`
	Status            model.ProductStatus    `json:"status"`
	Visibility        string                 `json:"visibility"`
	Featured          bool                   `json:"featured"`
}

func newProductRequest() productRequest {
	return productRequest{TrackInventory: true, LowStockThreshold: 5}
}

// productRequestFrom pre-fills an update with the stored scalar fields. Lists
// stay nil so a submitted list replaces the stored one rather than being
// decoded over it; keepLists restores the lists the update left out.
func productRequestFrom(p *model.Product) productRequest {
	return productRequest{
		Name:              p.Name,
		Description:       p.Description,
		ShortDescription:  p.ShortDescription,
		ProductType:       p.ProductType,
		CategoryID:        clonePtr(p.CategoryID),
		Brand:             p.Brand,
		Price:             p.Price,
		CompareAtPrice:    clonePtr(p.CompareAtPrice),
		CostPrice:         clonePtr(p.CostPrice),
		SKU:               p.SKU,
		Stock:             p.Stock,
		TrackInventory:    p.TrackInventory,
		LowStockThreshold: p.LowStockThreshold,
		Status:            p.Status,
		Visibility:        p.Visibility,
		Featured:          p.Featured,
	}
}

func (r *productRequest) keepLists(p *model.Product) {
	if r.Tags == nil {
		r.Tags = p.Tags
	}
	if r.Variants == nil {
		r.Variants = p.Variants
	}
	if r.Images == nil {
		r.Images = p.Images
	}
}

func clonePtr[T any](v *T) *T {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func (r *productRequest) apply(p *model.Product) {
	p.Name = r.Name
	p.Description = r.Description
	p.ShortDescription = r.ShortDescription
	p.ProductType = r.ProductType
	p.CategoryID = r.CategoryID
	p.Brand = strings.TrimSpace(r.Brand)
	p.Tags = r.Tags
	p.Price = r.Price
	p.CompareAtPrice = r.CompareAtPrice
	p.CostPrice = r.CostPrice
	p.SKU = r.SKU
	p.Stock = r.Stock
	p.TrackInventory = r.TrackInventory
	p.LowStockThreshold = r.LowStockThreshold
	p.Variants = r.Variants
	p.Images = r.Images
	p.Status = r.Status
	p.Visibility = r.Visibility
	p.Featured = r.Featured
	for i := range p.Variants {
		if p.Variants[i].ID == "" {
			p.Variants[i].ID = uuid.NewString()
		}
	}
}

// productView adds the derived catalogue fields to a product
type productView struct {
	*model.Product
	PrimaryImage       string `json:"primary_image,omitempty"`
	DiscountPercentage int    `json:"discount_percentage"`
	TotalStock         int    `json:"total_stock"`
	InStock            bool   `json:"in_stock"`
	LowStock           bool   `json:"is_low_stock"`
}

func viewProduct(p *model.Product) productView {
	return productView{
		Product:            p,
		PrimaryImage:       p.PrimaryImage(),
		DiscountPercentage: p.DiscountPercentage(),
		TotalStock:         p.TotalStock(),
		InStock:            p.InStock(),
		LowStock:           p.IsLowStock(),
	}
}

func viewProducts(products []model.Product) []productView {
	out := make([]productView, len(products))
	for i := range products {
		out[i] = viewProduct(&products[i])
	}
	return out
}

func skuTaken(c echo.Context) error {
	return c.JSON(http.StatusBadRequest, echo.Map{"error": "Validation failed", "message": "SKU already exists"})
}

// loadProduct reads :id within the request tenant. It returns a nil product
// once a response has been written.
func (h *Handler) loadProduct(c echo.Context) (*model.Product, error) {
	id, err := idParam(c, "id", "product")
	if id == 0 {
		return nil, err
	}
	t := middleware.CurrentTenant(c)
	p, err := h.Products.FindByID(c.Request().Context(), t.ID, id)
	if isNotFound(err) {
		return nil, notFound(c, "Product not found")
	}
	if err != nil {
		logger.FromContext(c).Error("Failed to load product", zap.Uint("product_id", id), zap.Error(err))
		return nil, internalError(c, "Failed to fetch product")
	}
	return p, nil
}

// ListProducts pages through the tenant catalogue
func (h *Handler) ListProducts(c echo.Context) error {
	var v validator
	f := store.ProductFilter{
		Page:   parsePage(c, &v),
		Search: strings.TrimSpace(c.QueryParam("search")),
		Brand:  strings.TrimSpace(c.QueryParam("brand")),
		Sort:   c.QueryParam("sort"),
		Order:  c.QueryParam("order"),
	}
	if s := c.QueryParam("status"); s != "" {
		f.Status = model.ProductStatus(s)
		v.check(f.Status.Valid(), "status", "Invalid status")
	}
	if raw := c.QueryParam("category"); raw != "" {
		id, ok := parseID(raw)
		v.check(ok, "category", "Invalid category ID")
		f.CategoryID = &id
	}
	if raw := c.QueryParam("featured"); raw != "" {
		featured, err := strconv.ParseBool(raw)
		v.check(err == nil, "featured", "Featured must be true or false")
		f.Featured = &featured
	}
	f.MinPrice = parseOptionalFloat(c, &v, "min_price")
	f.MaxPrice = parseOptionalFloat(c, &v, "max_price")
	if f.Order != "" {
		v.check(f.Order == "asc" || f.Order == "desc", "order", "Order must be asc or desc")
	}
	if v.failed() {
		return validationFailed(c, v.errs)
	}

	t := middleware.CurrentTenant(c)
	products, total, err := h.Products.List(c.Request().Context(), t.ID, f)
	if err != nil {
		logger.FromContext(c).Error("Failed to list products", zap.Error(err))
		return internalError(c, "Failed to fetch products")
	}
	return c.JSON(http.StatusOK, echo.Map{
		"products":   viewProducts(products),
		"pagination": newPagination(f.Page, total),
	})
}

// GetProduct returns one product and counts the view
func (h *Handler) GetProduct(c echo.Context) error {
	p, err := h.loadProduct(c)
	if p == nil {
		return err
	}
	if err := h.Products.IncrementViews(c.Request().Context(), p.TenantID, p.ID); err != nil {
		logger.FromContext(c).Warn("Failed to count product view", zap.Uint("product_id", p.ID), zap.Error(err))
	} else {
		p.ViewsCount++
	}
	return c.JSON(http.StatusOK, echo.Map{"product": viewProduct(p)})
}

func (h *Handler) CreateProduct(c echo.Context) error {
	log := logger.FromContext(c)
	ctx := c.Request().Context()
	t := middleware.CurrentTenant(c)
	user := middleware.CurrentUser(c)

	req := newProductRequest()
	if err := c.Bind(&req); err != nil {
		return invalidRequest(c)
	}
	p := &model.Product{TenantID: t.ID, CreatedBy: &user.ID}
	req.apply(p)
	p.Prepare(h.now())
	if err := p.Validate(); err != nil {
		return validationFailed(c, []fieldError{{Field: "product", Message: err.Error()}})
	}

	exists, err := h.Products.SKUExists(ctx, t.ID, p.SKU, 0)
	if err != nil {
		log.Error("Failed to check SKU", zap.Error(err))
		return internalError(c, "Failed to create product")
	}
	if exists {
		return skuTaken(c)
	}

	res, err := h.reserve(c, t, model.ResourceProducts, 1, "You have reached the maximum products limit for your plan")
	if res == nil {
		return err
	}
	if err := h.Products.Create(ctx, p); err != nil {
		if cerr := res.Cancel(ctx); cerr != nil {
			log.Error("Failed to release product reservation", zap.Error(cerr))
		}
		if errors.Is(err, store.ErrDuplicate) {
			return skuTaken(c)
		}
		log.Error("Failed to create product", zap.Error(err))
		return internalError(c, "Failed to create product")
	}
	settle(c, res, 1)
	prometheus.RecordProductOperation("create")

	log.Info("Product created", zap.Uint("product_id", p.ID), zap.String("sku", p.SKU))
	return c.JSON(http.StatusCreated, echo.Map{"message": "Product created successfully", "product": viewProduct(p)})
}

func (h *Handler) UpdateProduct(c echo.Context) error {
	log := logger.FromContext(c)
	ctx := c.Request().Context()

	p, err := h.loadProduct(c)
	if p == nil {
		return err
	}
	req := productRequestFrom(p)
	if err := c.Bind(&req); err != nil {
		return invalidRequest(c)
	}
	req.keepLists(p)
	req.apply(p)
	p.UpdatedBy = &middleware.CurrentUser(c).ID
	p.Prepare(h.now())
	if err := p.Validate(); err != nil {
		return validationFailed(c, []fieldError{{Field: "product", Message: err.Error()}})
	}

	exists, err := h.Products.SKUExists(ctx, p.TenantID, p.SKU, p.ID)
	if err != nil {
		log.Error("Failed to check SKU", zap.Error(err))
		return internalError(c, "Failed to update product")
	}
	if exists {
		return skuTaken(c)
	}
	if err := h.Products.Update(ctx, p); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return skuTaken(c)
		}
		log.Error("Failed to update product", zap.Uint("product_id", p.ID), zap.Error(err))
		return internalError(c, "Failed to update product")
	}
	prometheus.RecordProductOperation("update")
	return c.JSON(http.StatusOK, echo.Map{"message": "Product updated successfully", "product": viewProduct(p)})
}

func (h *Handler) UpdateProductStatus(c echo.Context) error {
	var req struct {
		Status model.ProductStatus `json:"status"`
	}
	if err := c.Bind(&req); err != nil {
		return invalidRequest(c)
	}
	if !req.Status.Valid() {
		return validationFailed(c, []fieldError{{Field: "status", Message: "Status must be active, inactive, draft or archived"}})
	}

	p, err := h.loadProduct(c)
	if p == nil {
		return err
	}
	p.SetStatus(req.Status, h.now())
	p.UpdatedBy = &middleware.CurrentUser(c).ID
	if err := h.Products.Update(c.Request().Context(), p); err != nil {
		logger.FromContext(c).Error("Failed to update product status", zap.Uint("product_id", p.ID), zap.Error(err))
		return internalError(c, "Failed to update product status")
	}
	prometheus.RecordProductOperation("status")
	return c.JSON(http.StatusOK, echo.Map{
		"message": "Product status updated successfully",
		"product": echo.Map{
			"id":           p.ID,
			"status":       p.Status,
			"published_at": p.PublishedAt,
			"updated_at":   p.UpdatedAt,
		},
	})
}

// DeleteProduct soft-deletes and frees one unit of products usage
func (h *Handler) DeleteProduct(c echo.Context) error {
	p, err := h.loadProduct(c)
	if p == nil {
		return err
	}
	if err := h.Products.Delete(c.Request().Context(), p.TenantID, p.ID); err != nil {
		if isNotFound(err) {
			return notFound(c, "Product not found")
		}
		logger.FromContext(c).Error("Failed to delete product", zap.Uint("product_id", p.ID), zap.Error(err))
		return internalError(c, "Failed to delete product")
	}
	h.release(c, middleware.CurrentTenant(c), model.ResourceProducts)
	prometheus.RecordProductOperation("delete")

	logger.FromContext(c).Info("Product deleted", zap.Uint("product_id", p.ID))
	return c.JSON(http.StatusOK, echo.Map{"message": "Product deleted successfully"})
}

type variantRequest struct {
	Name           string              `json:"name"`
	SKU            string              `json:"sku"`
	Price          float64             `json:"price"`
	CompareAtPrice *float64            `json:"compare_at_price"`
	Stock          int                 `json:"stock"`
	Attributes     map[string]string   `json:"attributes"`
	Status         model.ProductStatus `json:"status"`
}

func (r *variantRequest) validate() []fieldError {
	var v validator
	r.Name = strings.TrimSpace(r.Name)
	r.SKU = strings.ToUpper(strings.TrimSpace(r.SKU))
	v.check(r.Name != "", "name", "Variant name is required")
	v.check(r.SKU != "", "sku", "Variant SKU is required")
	v.check(r.Price >= 0, "price", "Price must be a positive number")
	v.check(r.Stock >= 0, "stock", "Stock cannot be negative")
	v.check(r.Status == "" || r.Status.Valid(), "status", "Invalid status")
	return v.errs
}

func (r *variantRequest) apply(v *model.ProductVariant) {
	v.Name = r.Name
	v.SKU = r.SKU
	v.Price = r.Price
	v.CompareAtPrice = r.CompareAtPrice
	v.Stock = r.Stock
	v.Attributes = r.Attributes
	if r.Status != "" {
		v.Status = r.Status
	}
}

// variantSKUConflict writes a 400 when sku is used by another variant of p or by another product
func (h *Handler) variantSKUConflict(c echo.Context, p *model.Product, sku, variantID string) (bool, error) {
	for _, v := range p.Variants {
		if v.ID != variantID && v.SKU == sku {
			return true, c.JSON(http.StatusBadRequest, echo.Map{"error": "Validation failed", "message": "Variant SKU already exists"})
		}
	}
	exists, err := h.Products.SKUExists(c.Request().Context(), p.TenantID, sku, p.ID)
	if err != nil {
		logger.FromContext(c).Error("Failed to check SKU", zap.Error(err))
		return true, internalError(c, "Failed to save variant")
	}
	if exists {
		return true, c.JSON(http.StatusBadRequest, echo.Map{"error": "Validation failed", "message": "SKU already exists in another product"})
	}
	return false, nil
}

// AddVariant appends a variant and turns the product variable
func (h *Handler) AddVariant(c echo.Context) error {
	var req variantRequest
	if err := c.Bind(&req); err != nil {
		return invalidRequest(c)
	}
	if details := req.validate(); len(details) > 0 {
		return validationFailed(c, details)
	}

	p, err := h.loadProduct(c)
	if p == nil {
		return err
	}
	if conflict, err := h.variantSKUConflict(c, p, req.SKU, ""); conflict {
		return err
	}

	variant := model.ProductVariant{ID: uuid.NewString(), Status: model.ProductActive}
	req.apply(&variant)
	p.Variants = append(p.Variants, variant)
	p.ProductType = model.ProductVariable
	p.UpdatedBy = &middleware.CurrentUser(c).ID
	if err := h.Products.Update(c.Request().Context(), p); err != nil {
		logger.FromContext(c).Error("Failed to add variant", zap.Uint("product_id", p.ID), zap.Error(err))
		return internalError(c, "Failed to add variant")
	}
	prometheus.RecordProductOperation("variant_create")
	return c.JSON(http.StatusCreated, echo.Map{"message": "Variant added successfully", "variant": variant})
}

func (h *Handler) UpdateVariant(c echo.Context) error {
	p, err := h.loadProduct(c)
	if p == nil {
		return err
	}
	i := p.Variant(c.Param("variantId"))
	if i < 0 {
		return notFound(c, "Variant not found")
	}

	current := p.Variants[i]
	req := variantRequest{
		Name:           current.Name,
		SKU:            current.SKU,
		Price:          current.Price,
		CompareAtPrice: current.CompareAtPrice,
		Stock:          current.Stock,
		Attributes:     current.Attributes,
		Status:         current.Status,
	}
	if err := c.Bind(&req); err != nil {
		return invalidRequest(c)
	}
	if details := req.validate(); len(details) > 0 {
		return validationFailed(c, details)
	}
	if conflict, err := h.variantSKUConflict(c, p, req.SKU, current.ID); conflict {
		return err
	}

	req.apply(&p.Variants[i])
	p.UpdatedBy = &middleware.CurrentUser(c).ID
	if err := h.Products.Update(c.Request().Context(), p); err != nil {
		logger.FromContext(c).Error("Failed to update variant", zap.Uint("product_id", p.ID), zap.Error(err))
		return internalError(c, "Failed to update variant")
	}
	prometheus.RecordProductOperation("variant_update")
	return c.JSON(http.StatusOK, echo.Map{"message": "Variant updated successfully", "variant": p.Variants[i]})
}

func (h *Handler) DeleteVariant(c echo.Context) error {
	p, err := h.loadProduct(c)
	if p == nil {
		return err
	}
	i := p.Variant(c.Param("variantId"))
	if i < 0 {
		return notFound(c, "Variant not found")
	}
	p.Variants = append(p.Variants[:i], p.Variants[i+1:]...)
	p.UpdatedBy = &middleware.CurrentUser(c).ID
	if err := h.Products.Update(c.Request().Context(), p); err != nil {
		logger.FromContext(c).Error("Failed to delete variant", zap.Uint("product_id", p.ID), zap.Error(err))
		return internalError(c, "Failed to delete variant")
	}
	prometheus.RecordProductOperation("variant_delete")
	return c.JSON(http.StatusOK, echo.Map{"message": "Variant deleted successfully"})
}

// RelatedProducts lists active products sharing the category or brand
func (h *Handler) RelatedProducts(c echo.Context) error {
	limit := defaultRelatedLimit
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxRelatedLimit {
			return validationFailed(c, []fieldError{{Field: "limit", Message: "Limit must be between 1 and 20"}})
		}
		limit = n
	}

	p, err := h.loadProduct(c)
	if p == nil {
		return err
	}
	related, err := h.Products.Related(c.Request().Context(), p, limit)
	if err != nil {
		logger.FromContext(c).Error("Failed to load related products", zap.Uint("product_id", p.ID), zap.Error(err))
		return internalError(c, "Failed to fetch related products")
	}
	return c.JSON(http.StatusOK, echo.Map{"related_products": viewProducts(related)})
}

type bulkSuccess struct {
	Index int    `json:"index"`
	ID    uint   `json:"id"`
	SKU   string `json:"sku"`
}

type bulkError struct {
	Index int    `json:"index"`
	SKU   string `json:"sku"`
	Error string `json:"error"`
}

// BulkImportProducts creates up to 1000 products. The whole batch is checked
// against the plan limit first; items then succeed or fail one by one.
func (h *Handler) BulkImportProducts(c echo.Context) error {
	log := logger.FromContext(c)
	ctx := c.Request().Context()
	t := middleware.CurrentTenant(c)
	user := middleware.CurrentUser(c)

	var req struct {
		Products []json.RawMessage `json:"products"`
	}
	if err := c.Bind(&req); err != nil {
		return invalidRequest(c)
	}
	if len(req.Products) == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "Validation failed", "message": "Products array is required"})
	}
	if len(req.Products) > maxBulkImport {
		return validationFailed(c, []fieldError{{Field: "products", Message: fmt.Sprintf("At most %d products can be imported at once", maxBulkImport)}})
	}

	res, err := h.reserve(c, t, model.ResourceProducts, int64(len(req.Products)), "Bulk import would exceed product limit for your plan")
	if res == nil {
		return err
	}

	success := []bulkSuccess{}
	failures := []bulkError{}
	now := h.now()
	for i, raw := range req.Products {
		item := newProductRequest()
		if err := json.Unmarshal(raw, &item); err != nil {
			failures = append(failures, bulkError{Index: i, Error: "Invalid product data"})
			continue
		}
		p := &model.Product{TenantID: t.ID, CreatedBy: &user.ID}
		item.apply(p)
		p.Prepare(now)
		if err := p.Validate(); err != nil {
			failures = append(failures, bulkError{Index: i, SKU: p.SKU, Error: err.Error()})
			continue
		}
		exists, err := h.Products.SKUExists(ctx, t.ID, p.SKU, 0)
		if err == nil && exists {
			err = store.ErrDuplicate
		}
		if err == nil {
			err = h.Products.Create(ctx, p)
		}
		switch {
		case errors.Is(err, store.ErrDuplicate):
			failures = append(failures, bulkError{Index: i, SKU: p.SKU, Error: "SKU already exists"})
		case err != nil:
			log.Error("Bulk import item failed", zap.Int("index", i), zap.Error(err))
			failures = append(failures, bulkError{Index: i, SKU: p.SKU, Error: "Failed to create product"})
		default:
			success = append(success, bulkSuccess{Index: i, ID: p.ID, SKU: p.SKU})
		}
	}
	settle(c, res, int64(len(success)))
	prometheus.RecordProductOperation("bulk_import")

	log.Info("Bulk import finished", zap.Int("imported", len(success)), zap.Int("failed", len(failures)))
	return c.JSON(http.StatusOK, echo.Map{
		"message": fmt.Sprintf("Bulk import completed. %d products imported, %d errors.", len(success), len(failures)),
		"results": echo.Map{"success": success, "errors": failures},
	})
}
