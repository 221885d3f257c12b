package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/suteetoe/shopnest/internal/middleware"
	"github.com/suteetoe/shopnest/internal/model"
	"github.com/suteetoe/shopnest/internal/store"
	"github.com/suteetoe/shopnest/internal/tenancy"
	"github.com/suteetoe/shopnest/pkg/logger"
	"go.uber.org/zap"
)

func (h *Handler) resolvePublic(c echo.Context, t *model.Tenant, err error, missing string) error {
	if isNotFound(err) {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "Tenant not found", "message": missing})
	}
	if err != nil {
		logger.FromContext(c).Error("Failed to resolve tenant", zap.Error(err))
		return internalError(c, "Failed to resolve tenant")
	}
	if !h.Resolver.CanAccess(t) {
		return c.JSON(http.StatusForbidden, echo.Map{
			"error":   "Tenant not accessible",
			"message": "Tenant account is not active or subscription expired",
		})
	}
	return c.JSON(http.StatusOK, echo.Map{"tenant": t.Public(h.BaseDomain)})
}

// ResolveSubdomain serves the public store profile for a subdomain
func (h *Handler) ResolveSubdomain(c echo.Context) error {
	subdomain := strings.ToLower(strings.TrimSpace(c.Param("subdomain")))
	if len(subdomain) < 3 || len(subdomain) > 50 {
		return validationFailed(c, []fieldError{{Field: "subdomain", Message: "Invalid subdomain"}})
	}
	t, err := h.Tenants.FindBySubdomain(c.Request().Context(), subdomain)
	return h.resolvePublic(c, t, err, "No tenant found with this subdomain")
}

// ResolveDomain serves the public store profile for a custom domain
func (h *Handler) ResolveDomain(c echo.Context) error {
	domain := tenancy.NormalizeHost(c.Param("domain"))
	if domain == "" || len(domain) > 255 {
		return validationFailed(c, []fieldError{{Field: "domain", Message: "Invalid domain"}})
	}
	t, err := h.Tenants.FindByCustomDomain(c.Request().Context(), domain)
	return h.resolvePublic(c, t, err, "No tenant found with this domain")
}

// loadTenant reads :id and enforces that the caller belongs to it or is a super_admin.
// It returns a nil tenant once a response has been written.
func (h *Handler) loadTenant(c echo.Context, deniedMessage string) (*model.Tenant, error) {
	id, ok := parseID(c.Param("id"))
	if !ok {
		return nil, c.JSON(http.StatusBadRequest, echo.Map{"error": "Invalid ID", "message": "Invalid tenant ID format"})
	}
	t, err := h.Tenants.FindByID(c.Request().Context(), id)
	if isNotFound(err) {
		return nil, c.JSON(http.StatusNotFound, echo.Map{"error": "Tenant not found", "message": "Tenant not found"})
	}
	if err != nil {
		logger.FromContext(c).Error("Failed to load tenant", zap.Uint("tenant_id", id), zap.Error(err))
		return nil, internalError(c, "Failed to fetch tenant")
	}
	user := middleware.CurrentUser(c)
	if user.Role != model.RoleSuperAdmin && !user.BelongsTo(t.ID) {
		return nil, c.JSON(http.StatusForbidden, echo.Map{"error": "Access denied", "message": deniedMessage})
	}
	return t, nil
}

const (
	cannotAccessTenant = "You do not have permission to access this tenant"
	cannotUpdateTenant = "You do not have permission to update this tenant"
)

func (h *Handler) GetTenant(c echo.Context) error {
	t, err := h.loadTenant(c, cannotAccessTenant)
	if t == nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"tenant": t})
}

type updateTenantRequest struct {
	Name         *string                `json:"name"`
	CustomDomain *string                `json:"custom_domain"`
	Currency     *string                `json:"currency"`
	Timezone     *string                `json:"timezone"`
	Branding     map[string]interface{} `json:"branding"`
	Settings     map[string]interface{} `json:"settings"`
}

func (r *updateTenantRequest) validate() []fieldError {
	var v validator
	if r.Name != nil {
		n := strings.TrimSpace(*r.Name)
		v.check(len(n) >= 1 && len(n) <= 100, "name", "Name must be between 1 and 100 characters")
	}
	if r.CustomDomain != nil {
		v.check(len(strings.TrimSpace(*r.CustomDomain)) <= 255, "custom_domain", "Domain too long")
	}
	if r.Currency != nil {
		v.check(model.ValidCurrency(*r.Currency), "currency", "Invalid currency")
	}
	if r.Timezone != nil {
		v.check(len(strings.TrimSpace(*r.Timezone)) <= 50, "timezone", "Invalid timezone")
	}
	return v.errs
}

// UpdateTenant edits store profile fields; only the store's owner or a super_admin may
func (h *Handler) UpdateTenant(c echo.Context) error {
	log := logger.FromContext(c)

	t, err := h.loadTenant(c, cannotUpdateTenant)
	if t == nil {
		return err
	}
	if user := middleware.CurrentUser(c); user.Role != model.RoleSuperAdmin && user.Role != model.RoleTenantOwner {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "Access denied", "message": cannotUpdateTenant})
	}

	var req updateTenantRequest
	if err := c.Bind(&req); err != nil {
		return invalidRequest(c)
	}
	if details := req.validate(); len(details) > 0 {
		return validationFailed(c, details)
	}

	if req.Name != nil {
		t.Name = *req.Name
	}
	if req.CustomDomain != nil {
		t.CustomDomain = req.CustomDomain
	}
	if req.Currency != nil {
		t.Currency = *req.Currency
	}
	if req.Timezone != nil {
		t.Timezone = *req.Timezone
	}
	if req.Branding != nil {
		t.Branding = model.MergeMap(t.Branding, req.Branding)
	}
	if req.Settings != nil {
		t.Settings = model.MergeMap(t.Settings, req.Settings)
	}
	t.Normalize()
	if err := t.Validate(); err != nil {
		return validationFailed(c, []fieldError{{Field: "tenant", Message: err.Error()}})
	}

	if err := h.Tenants.Update(c.Request().Context(), t); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "Duplicate value", "message": "custom_domain already exists"})
		}
		log.Error("Failed to update tenant", zap.Uint("tenant_id", t.ID), zap.Error(err))
		return internalError(c, "Failed to update tenant")
	}
	h.Resolver.Forget(t.ID)

	log.Info("Tenant updated", zap.Uint("tenant_id", t.ID))
	return c.JSON(http.StatusOK, echo.Map{"message": "Tenant updated successfully", "tenant": t})
}

func (h *Handler) GetTenantSettings(c echo.Context) error {
	t, err := h.loadTenant(c, cannotAccessTenant)
	if t == nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{
		"settings": t.Settings,
		"branding": t.Branding,
		"limits":   t.Limits,
		"usage":    t.Usage,
	})
}

// UpdateTenantSettings merges settings and branding one level deep
func (h *Handler) UpdateTenantSettings(c echo.Context) error {
	log := logger.FromContext(c)

	t, err := h.loadTenant(c, cannotUpdateTenant)
	if t == nil {
		return err
	}
	var req struct {
		Settings map[string]interface{} `json:"settings"`
		Branding map[string]interface{} `json:"branding"`
	}
	if err := c.Bind(&req); err != nil {
		return invalidRequest(c)
	}
	if req.Settings != nil {
		t.Settings = model.MergeMap(t.Settings, req.Settings)
	}
	if req.Branding != nil {
		t.Branding = model.MergeMap(t.Branding, req.Branding)
	}
	if err := h.Tenants.Update(c.Request().Context(), t); err != nil {
		log.Error("Failed to update tenant settings", zap.Uint("tenant_id", t.ID), zap.Error(err))
		return internalError(c, "Failed to update tenant settings")
	}
	return c.JSON(http.StatusOK, echo.Map{
		"message":  "Settings updated successfully",
		"settings": t.Settings,
		"branding": t.Branding,
	})
}

type usageStat struct {
	Current    int64 `json:"current"`
	Limit      int64 `json:"limit"`
	Percentage int64 `json:"percentage"`
}

// GetTenantUsage reports each counter against its plan limit
func (h *Handler) GetTenantUsage(c echo.Context) error {
	t, err := h.loadTenant(c, cannotAccessTenant)
	if t == nil {
		return err
	}
	usage := make(map[model.Resource]usageStat, len(model.Resources))
	for _, r := range model.Resources {
		usage[r] = usageStat{Current: t.Current(r), Limit: t.Limit(r), Percentage: percentOf(t.Current(r), t.Limit(r))}
	}
	return c.JSON(http.StatusOK, echo.Map{"plan": t.Plan, "usage": usage})
}

// ReconcileTenantUsage recounts products, orders and users from stored rows
func (h *Handler) ReconcileTenantUsage(c echo.Context) error {
	log := logger.FromContext(c)

	t, err := h.loadTenant(c, cannotUpdateTenant)
	if t == nil {
		return err
	}
	ctx := c.Request().Context()
	products, err := h.Products.Count(ctx, t.ID, "")
	if err != nil {
		log.Error("Failed to count products", zap.Error(err))
		return internalError(c, "Failed to reconcile usage")
	}
	orders, err := h.Orders.Count(ctx, t.ID, store.OrderFilter{})
	if err != nil {
		log.Error("Failed to count orders", zap.Error(err))
		return internalError(c, "Failed to reconcile usage")
	}
	users, err := h.Users.Count(ctx, t.ID, store.UserCount{})
	if err != nil {
		log.Error("Failed to count users", zap.Error(err))
		return internalError(c, "Failed to reconcile usage")
	}

	before := t.Usage
	counts := model.TenantUsage{ProductsCount: products, OrdersCount: orders, UsersCount: users}
	if err := h.Accountant.Reconcile(ctx, t, counts); err != nil {
		log.Error("Failed to store reconciled usage", zap.Error(err))
		return internalError(c, "Failed to reconcile usage")
	}

	log.Info("Tenant usage reconciled",
		zap.Uint("tenant_id", t.ID),
		zap.Int64("products_before", before.ProductsCount),
		zap.Int64("products_after", products),
		zap.Int64("orders_before", before.OrdersCount),
		zap.Int64("orders_after", orders))
	return c.JSON(http.StatusOK, echo.Map{
		"message":  "Usage reconciled successfully",
		"previous": before,
		"usage":    t.Usage,
	})
}
