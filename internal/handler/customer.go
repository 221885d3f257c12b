package handler

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/suteetoe/shopnest/internal/analytics"
	"github.com/suteetoe/shopnest/internal/middleware"
	"github.com/suteetoe/shopnest/internal/model"
	"github.com/suteetoe/shopnest/internal/store"
	"github.com/suteetoe/shopnest/pkg/logger"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

const activeWindow = 30 * 24 * time.Hour

func (h *Handler) loadCustomer(c echo.Context) (*model.User, error) {
	id, err := idParam(c, "id", "customer")
	if id == 0 {
		return nil, err
	}
	t := middleware.CurrentTenant(c)
	u, err := h.Users.FindCustomer(c.Request().Context(), t.ID, id)
	if isNotFound(err) {
		return nil, notFound(c, "Customer not found")
	}
	if err != nil {
		logger.FromContext(c).Error("Failed to load customer", zap.Uint("customer_id", id), zap.Error(err))
		return nil, internalError(c, "Failed to fetch customer")
	}
	return u, nil
}

func (h *Handler) ListCustomers(c echo.Context) error {
	var v validator
	f := store.CustomerFilter{
		Page:   parsePage(c, &v),
		Search: strings.TrimSpace(c.QueryParam("search")),
		Sort:   c.QueryParam("sort"),
		Order:  c.QueryParam("order"),
	}
	if s := c.QueryParam("status"); s != "" {
		f.Status = model.UserStatus(s)
		v.check(f.Status.Valid(), "status", "Invalid status")
	}
	if v.failed() {
		return validationFailed(c, v.errs)
	}

	t := middleware.CurrentTenant(c)
	customers, total, err := h.Users.ListCustomers(c.Request().Context(), t.ID, f)
	if err != nil {
		logger.FromContext(c).Error("Failed to list customers", zap.Error(err))
		return internalError(c, "Failed to fetch customers")
	}
	return c.JSON(http.StatusOK, echo.Map{
		"customers":  customers,
		"pagination": newPagination(f.Page, total),
	})
}

type createCustomerRequest struct {
	Name      string          `json:"name"`
	Email     string          `json:"email"`
	Password  string          `json:"password"`
	Phone     string          `json:"phone"`
	Addresses []model.Address `json:"addresses"`
}

func (r *createCustomerRequest) validate() []fieldError {
	var v validator
	r.Name = strings.TrimSpace(r.Name)
	r.Email = strings.ToLower(strings.TrimSpace(r.Email))
	v.check(r.Name != "" && len(r.Name) <= 100, "name", "Name is required and must not exceed 100 characters")
	v.check(model.ValidEmail(r.Email), "email", "Valid email is required")
	v.check(r.Password == "" || len(r.Password) >= 6, "password", "Password must be at least 6 characters")
	for _, a := range r.Addresses {
		if err := a.Validate(); err != nil {
			v.add("addresses", err.Error())
			break
		}
	}
	return v.errs
}

// CreateCustomer adds a customer account to the tenant and counts it as a user.
// Without a password the account gets a random one and must reset it to log in.
func (h *Handler) CreateCustomer(c echo.Context) error {
	log := logger.FromContext(c)
	ctx := c.Request().Context()
	t := middleware.CurrentTenant(c)

	var req createCustomerRequest
	if err := c.Bind(&req); err != nil {
		return invalidRequest(c)
	}
	if details := req.validate(); len(details) > 0 {
		return validationFailed(c, details)
	}

	if _, err := h.Users.FindByEmail(ctx, req.Email); err == nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "Validation failed", "message": "Email already registered"})
	} else if !isNotFound(err) {
		log.Error("Failed to check email", zap.Error(err))
		return internalError(c, "Failed to create customer")
	}

	now := h.now()
	u := &model.User{
		TenantID: &t.ID,
		Name:     req.Name,
		Email:    req.Email,
		Phone:    req.Phone,
		Role:     model.RoleCustomer,
		Status:   model.UserActive,
		CustomerData: datatypes.NewJSONType(model.CustomerData{
			Addresses:     req.Addresses,
			CustomerSince: now,
		}),
	}
	u.Normalize()
	password := req.Password
	if password == "" {
		password = uuid.NewString()
	}
	if err := u.SetPassword(password); err != nil {
		return validationFailed(c, []fieldError{{Field: "password", Message: err.Error()}})
	}
	if err := u.Validate(); err != nil {
		return validationFailed(c, []fieldError{{Field: "customer", Message: err.Error()}})
	}

	res, err := h.reserve(c, t, model.ResourceUsers, 1, "You have reached the maximum users limit for your plan")
	if res == nil {
		return err
	}
	if err := h.Users.Create(ctx, u); err != nil {
		if cerr := res.Cancel(ctx); cerr != nil {
			log.Error("Failed to release user reservation", zap.Error(cerr))
		}
		if errors.Is(err, store.ErrDuplicate) {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "Validation failed", "message": "Email already registered"})
		}
		log.Error("Failed to create customer", zap.Error(err))
		return internalError(c, "Failed to create customer")
	}
	settle(c, res, 1)

	log.Info("Customer created", zap.Uint("customer_id", u.ID))
	return c.JSON(http.StatusCreated, echo.Map{"message": "Customer created successfully", "customer": u})
}

// GetCustomer returns the customer with aggregated order statistics
func (h *Handler) GetCustomer(c echo.Context) error {
	u, err := h.loadCustomer(c)
	if u == nil {
		return err
	}
	stats, err := h.Orders.CustomerStats(c.Request().Context(), *u.TenantID, u.ID)
	if err != nil {
		logger.FromContext(c).Error("Failed to load customer stats", zap.Uint("customer_id", u.ID), zap.Error(err))
		return internalError(c, "Failed to fetch customer")
	}
	stats.TotalSpent = round2(stats.TotalSpent)
	stats.AvgOrderValue = round2(stats.AvgOrderValue)
	return c.JSON(http.StatusOK, echo.Map{"customer": u, "order_stats": stats})
}

func (h *Handler) CustomerOrders(c echo.Context) error {
	var v validator
	p := parsePage(c, &v)
	if v.failed() {
		return validationFailed(c, v.errs)
	}
	u, err := h.loadCustomer(c)
	if u == nil {
		return err
	}
	f := store.OrderFilter{Page: p, CustomerID: &u.ID}
	orders, total, err := h.Orders.List(c.Request().Context(), *u.TenantID, f)
	if err != nil {
		logger.FromContext(c).Error("Failed to list customer orders", zap.Uint("customer_id", u.ID), zap.Error(err))
		return internalError(c, "Failed to fetch customer orders")
	}
	return c.JSON(http.StatusOK, echo.Map{
		"orders":     orders,
		"pagination": newPagination(p, total),
	})
}

func (h *Handler) UpdateCustomerStatus(c echo.Context) error {
	var req struct {
		Status model.UserStatus `json:"status"`
	}
	if err := c.Bind(&req); err != nil {
		return invalidRequest(c)
	}
	if !req.Status.Valid() {
		return validationFailed(c, []fieldError{{Field: "status", Message: "Status must be active, inactive or suspended"}})
	}

	u, err := h.loadCustomer(c)
	if u == nil {
		return err
	}
	u.Status = req.Status
	if err := h.Users.Update(c.Request().Context(), u); err != nil {
		logger.FromContext(c).Error("Failed to update customer status", zap.Uint("customer_id", u.ID), zap.Error(err))
		return internalError(c, "Failed to update customer status")
	}
	return c.JSON(http.StatusOK, echo.Map{
		"message": "Customer status updated successfully",
		"customer": echo.Map{
			"id":         u.ID,
			"status":     u.Status,
			"updated_at": u.UpdatedAt,
		},
	})
}

// CustomerAnalytics reports totals, activity and 30 day growth for the tenant's customers
func (h *Handler) CustomerAnalytics(c echo.Context) error {
	var v validator
	from := parseOptionalTime(c, &v, "date_from")
	to := parseOptionalTime(c, &v, "date_to")
	if v.failed() {
		return validationFailed(c, v.errs)
	}

	ctx := c.Request().Context()
	t := middleware.CurrentTenant(c)
	now := h.now()
	lastMonth := now.Add(-activeWindow)
	monthBefore := lastMonth.Add(-activeWindow)

	counts := []store.UserCount{
		{Role: model.RoleCustomer},
		{Role: model.RoleCustomer, CreatedFrom: from, CreatedTo: to},
		{Role: model.RoleCustomer, ActiveSince: &lastMonth},
		{Role: model.RoleCustomer, CreatedFrom: &lastMonth},
		{Role: model.RoleCustomer, CreatedFrom: &monthBefore, CreatedTo: &lastMonth},
	}
	results := make([]int64, len(counts))
	for i, q := range counts {
		n, err := h.Users.Count(ctx, t.ID, q)
		if err != nil {
			logger.FromContext(c).Error("Failed to count customers", zap.Error(err))
			return internalError(c, "Failed to fetch customer analytics")
		}
		results[i] = n
	}
	total, created, active, current, previous := results[0], results[1], results[2], results[3], results[4]

	return c.JSON(http.StatusOK, echo.Map{
		"total_customers":   total,
		"new_customers":     created,
		"active_customers":  active,
		"growth_percentage": analytics.Growth(float64(current), float64(previous)),
		"retention_rate":    percentOf(active, total),
	})
}

// DeleteCustomer removes a customer without orders and frees one users unit
func (h *Handler) DeleteCustomer(c echo.Context) error {
	ctx := c.Request().Context()
	u, err := h.loadCustomer(c)
	if u == nil {
		return err
	}
	orders, err := h.Orders.Count(ctx, *u.TenantID, store.OrderFilter{CustomerID: &u.ID})
	if err != nil {
		logger.FromContext(c).Error("Failed to count customer orders", zap.Uint("customer_id", u.ID), zap.Error(err))
		return internalError(c, "Failed to delete customer")
	}
	if orders > 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{
			"error":        "Cannot delete",
			"message":      "Customer has existing orders and cannot be deleted. Consider deactivating instead.",
			"orders_count": orders,
		})
	}
	if err := h.Users.Delete(ctx, *u.TenantID, u.ID); err != nil {
		if isNotFound(err) {
			return notFound(c, "Customer not found")
		}
		logger.FromContext(c).Error("Failed to delete customer", zap.Uint("customer_id", u.ID), zap.Error(err))
		return internalError(c, "Failed to delete customer")
	}
	h.release(c, middleware.CurrentTenant(c), model.ResourceUsers)

	logger.FromContext(c).Info("Customer deleted", zap.Uint("customer_id", u.ID))
	return c.JSON(http.StatusOK, echo.Map{"message": "Customer deleted successfully"})
}
