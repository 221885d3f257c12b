package handler

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/suteetoe/shopnest/internal/analytics"
	"github.com/suteetoe/shopnest/internal/middleware"
	"github.com/suteetoe/shopnest/internal/model"
	"github.com/suteetoe/shopnest/internal/store"
	"github.com/suteetoe/shopnest/pkg/logger"
	"github.com/suteetoe/shopnest/prometheus"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

// loadOrder reads :id within the request tenant. It returns a nil order
// once a response has been written.
func (h *Handler) loadOrder(c echo.Context) (*model.Order, error) {
	id, err := idParam(c, "id", "order")
	if id == 0 {
		return nil, err
	}
	t := middleware.CurrentTenant(c)
	o, err := h.Orders.FindByID(c.Request().Context(), t.ID, id)
	if isNotFound(err) {
		return nil, notFound(c, "Order not found")
	}
	if err != nil {
		logger.FromContext(c).Error("Failed to load order", zap.Uint("order_id", id), zap.Error(err))
		return nil, internalError(c, "Failed to fetch order")
	}
	return o, nil
}

func parseOrderFilter(c echo.Context, v *validator) store.OrderFilter {
	f := store.OrderFilter{
		Page:  parsePage(c, v),
		Sort:  c.QueryParam("sort"),
		Order: c.QueryParam("order"),
	}
	if s := c.QueryParam("status"); s != "" {
		f.Status = model.OrderStatus(s)
		v.check(f.Status.Valid(), "status", "Invalid status")
	}
	if s := c.QueryParam("payment_status"); s != "" {
		f.PaymentStatus = model.PaymentStatus(s)
		v.check(f.PaymentStatus.Valid(), "payment_status", "Invalid payment status")
	}
	if raw := c.QueryParam("customer_id"); raw != "" {
		id, ok := parseID(raw)
		v.check(ok, "customer_id", "Invalid customer ID")
		f.CustomerID = &id
	}
	// a search with an @ is an email, anything else an order number
	if search := strings.TrimSpace(c.QueryParam("search")); search != "" {
		if strings.Contains(search, "@") {
			f.CustomerEmail = search
		} else {
			f.OrderNumber = search
		}
	}
	f.DateFrom = parseOptionalTime(c, v, "date_from")
	f.DateTo = parseOptionalTime(c, v, "date_to")
	return f
}

func (h *Handler) ListOrders(c echo.Context) error {
	var v validator
	f := parseOrderFilter(c, &v)
	if v.failed() {
		return validationFailed(c, v.errs)
	}
	t := middleware.CurrentTenant(c)
	orders, total, err := h.Orders.List(c.Request().Context(), t.ID, f)
	if err != nil {
		logger.FromContext(c).Error("Failed to list orders", zap.Error(err))
		return internalError(c, "Failed to fetch orders")
	}
	return c.JSON(http.StatusOK, echo.Map{
		"orders":     orders,
		"pagination": newPagination(f.Page, total),
	})
}

// OrderStats summarises revenue over paid and partially refunded orders.
// date_from and date_to bound the window; the default is all time.
func (h *Handler) OrderStats(c echo.Context) error {
	var v validator
	from := parseOptionalTime(c, &v, "date_from")
	to := parseOptionalTime(c, &v, "date_to")
	if v.failed() {
		return validationFailed(c, v.errs)
	}
	start, end := beginningOfTime, h.now()
	if from != nil {
		start = *from
	}
	if to != nil {
		end = *to
	}

	t := middleware.CurrentTenant(c)
	groups, err := h.Orders.Breakdown(c.Request().Context(), t.ID, start, end)
	if err != nil {
		logger.FromContext(c).Error("Failed to aggregate order stats", zap.Error(err))
		return internalError(c, "Failed to fetch order statistics")
	}
	return c.JSON(http.StatusOK, analytics.Summarize(groups))
}

func (h *Handler) GetOrder(c echo.Context) error {
	o, err := h.loadOrder(c)
	if o == nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"order": o})
}

type orderItemRequest struct {
	ProductID uint   `json:"product_id"`
	VariantID string `json:"variant_id"`
	Quantity  int    `json:"quantity"`
}

type createOrderRequest struct {
	CustomerID               *uint                 `json:"customer_id"`
	CustomerEmail            string                `json:"customer_email"`
	Items                    []orderItemRequest    `json:"items"`
	BillingAddress           model.Address         `json:"billing_address"`
	ShippingAddress          *model.Address        `json:"shipping_address"`
	DifferentShippingAddress bool                  `json:"different_shipping_address"`
	ShippingMethod           *model.ShippingMethod `json:"shipping_method"`
	TaxAmount                float64               `json:"tax_amount"`
	ShippingAmount           float64               `json:"shipping_amount"`
	DiscountAmount           float64               `json:"discount_amount"`
	PaymentMethod            model.PaymentMethod   `json:"payment_method"`
	CouponCode               string                `json:"coupon_code"`
	Notes                    string                `json:"notes"`
	Source                   model.OrderSource     `json:"source"`
}

func (r *createOrderRequest) validate() []fieldError {
	var v validator
	v.check(len(r.Items) > 0, "items", "Order must contain at least one item")
	for i, item := range r.Items {
		v.check(item.ProductID > 0, fmt.Sprintf("items[%d].product_id", i), "Product ID is required")
		v.check(item.Quantity >= 1, fmt.Sprintf("items[%d].quantity", i), "Quantity must be at least 1")
	}
	v.check(r.TaxAmount >= 0, "tax_amount", "Tax amount cannot be negative")
	v.check(r.ShippingAmount >= 0, "shipping_amount", "Shipping amount cannot be negative")
	v.check(r.DiscountAmount >= 0, "discount_amount", "Discount amount cannot be negative")
	v.check(!r.DifferentShippingAddress || r.ShippingAddress != nil, "shipping_address", "Shipping address is required")
	return v.errs
}

// orderItems snapshots each requested product. Items must reference active
// products of the tenant; a variant, when named, sets the price and SKU.
func (h *Handler) orderItems(c echo.Context, tenantID uint, reqs []orderItemRequest) ([]model.OrderItem, []fieldError, error) {
	var v validator
	items := make([]model.OrderItem, 0, len(reqs))
	for i, req := range reqs {
		field := fmt.Sprintf("items[%d].product_id", i)
		p, err := h.Products.FindByID(c.Request().Context(), tenantID, req.ProductID)
		if isNotFound(err) || (err == nil && p.Status != model.ProductActive) {
			v.add(field, fmt.Sprintf("Product %d not found or not active", req.ProductID))
			continue
		}
		if err != nil {
			return nil, nil, err
		}

		item := model.OrderItem{
			ProductID: p.ID,
			Name:      p.Name,
			SKU:       p.SKU,
			Quantity:  req.Quantity,
			Price:     p.Price,
			Product:   map[string]interface{}{"name": p.Name, "sku": p.SKU, "image": p.PrimaryImage()},
		}
		if req.VariantID != "" {
			vi := p.Variant(req.VariantID)
			if vi < 0 || p.Variants[vi].Status != model.ProductActive {
				v.add(fmt.Sprintf("items[%d].variant_id", i), "Variant not found or not active")
				continue
			}
			variant := p.Variants[vi]
			item.VariantID = variant.ID
			item.Name = p.Name + " - " + variant.Name
			item.SKU = variant.SKU
			item.Price = variant.Price
		}
		items = append(items, item)
	}
	return items, v.errs, nil
}

// CreateOrder prices the items from the catalogue, numbers the order and
// counts it against the plan. A known customer has its totals bumped.
func (h *Handler) CreateOrder(c echo.Context) error {
	log := logger.FromContext(c)
	ctx := c.Request().Context()
	t := middleware.CurrentTenant(c)
	user := middleware.CurrentUser(c)

	var req createOrderRequest
	if err := c.Bind(&req); err != nil {
		return invalidRequest(c)
	}
	if details := req.validate(); len(details) > 0 {
		return validationFailed(c, details)
	}

	var customer *model.User
	if req.CustomerID != nil {
		found, err := h.Users.FindCustomer(ctx, t.ID, *req.CustomerID)
		if isNotFound(err) {
			return validationFailed(c, []fieldError{{Field: "customer_id", Message: "Customer not found"}})
		}
		if err != nil {
			log.Error("Failed to load customer", zap.Error(err))
			return internalError(c, "Failed to create order")
		}
		customer = found
		if req.CustomerEmail == "" {
			req.CustomerEmail = customer.Email
		}
	}

	items, details, err := h.orderItems(c, t.ID, req.Items)
	if err != nil {
		log.Error("Failed to load order products", zap.Error(err))
		return internalError(c, "Failed to create order")
	}
	if len(details) > 0 {
		return validationFailed(c, details)
	}

	o := &model.Order{
		TenantID:                 t.ID,
		CustomerID:               req.CustomerID,
		CustomerEmail:            req.CustomerEmail,
		IsGuest:                  customer == nil,
		Items:                    items,
		TaxAmount:                req.TaxAmount,
		ShippingAmount:           req.ShippingAmount,
		DiscountAmount:           req.DiscountAmount,
		Currency:                 t.Currency,
		BillingAddress:           datatypes.NewJSONType(req.BillingAddress),
		DifferentShippingAddress: req.DifferentShippingAddress,
		PaymentMethod:            req.PaymentMethod,
		CouponCode:               req.CouponCode,
		Notes:                    req.Notes,
		Source:                   req.Source,
	}
	if req.ShippingAddress != nil {
		o.ShippingAddress = datatypes.NewJSONType(*req.ShippingAddress)
	}
	if req.ShippingMethod != nil {
		o.ShippingMethod = datatypes.NewJSONType(*req.ShippingMethod)
	}
	now := h.now()
	o.CreatedAt = now
	o.Initialize(&user.ID, now)
	if err := o.Validate(); err != nil {
		return validationFailed(c, []fieldError{{Field: "order", Message: err.Error()}})
	}

	res, err := h.reserve(c, t, model.ResourceOrders, 1, "You have reached the maximum orders limit for your plan")
	if res == nil {
		return err
	}
	if err := h.Orders.Create(ctx, o); err != nil {
		if cerr := res.Cancel(ctx); cerr != nil {
			log.Error("Failed to release order reservation", zap.Error(cerr))
		}
		log.Error("Failed to create order", zap.Error(err))
		return internalError(c, "Failed to create order")
	}
	settle(c, res, 1)
	prometheus.RecordOrderOperation("create")

	if customer != nil {
		customer.RecordOrder(o.Total, now)
		if err := h.Users.Update(ctx, customer); err != nil {
			log.Warn("Failed to update customer totals", zap.Uint("customer_id", customer.ID), zap.Error(err))
		}
	}

	log.Info("Order created",
		zap.Uint("order_id", o.ID),
		zap.String("order_number", o.OrderNumber),
		zap.Float64("total", o.Total))
	return c.JSON(http.StatusCreated, echo.Map{"message": "Order created successfully", "order": o})
}

func (h *Handler) UpdateOrderStatus(c echo.Context) error {
	var req struct {
		Status model.OrderStatus `json:"status"`
		Note   string            `json:"note"`
	}
	if err := c.Bind(&req); err != nil {
		return invalidRequest(c)
	}
	if !req.Status.Valid() {
		return validationFailed(c, []fieldError{{Field: "status", Message: "Invalid order status"}})
	}

	o, err := h.loadOrder(c)
	if o == nil {
		return err
	}
	if err := o.UpdateStatus(req.Status, req.Note, &middleware.CurrentUser(c).ID, h.now()); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "Cannot cancel", "message": "Only pending or confirmed orders can be cancelled"})
	}
	if err := h.Orders.Update(c.Request().Context(), o); err != nil {
		logger.FromContext(c).Error("Failed to update order status", zap.Uint("order_id", o.ID), zap.Error(err))
		return internalError(c, "Failed to update order status")
	}
	prometheus.RecordOrderOperation("status")
	return c.JSON(http.StatusOK, echo.Map{
		"message": "Order status updated successfully",
		"order": echo.Map{
			"id":         o.ID,
			"status":     o.Status,
			"updated_at": o.UpdatedAt,
		},
	})
}

func (h *Handler) UpdateOrderTracking(c echo.Context) error {
	var req struct {
		TrackingNumber string `json:"tracking_number"`
		TrackingURL    string `json:"tracking_url"`
		Carrier        string `json:"carrier"`
	}
	if err := c.Bind(&req); err != nil {
		return invalidRequest(c)
	}
	req.TrackingNumber = strings.TrimSpace(req.TrackingNumber)
	if req.TrackingNumber == "" {
		return validationFailed(c, []fieldError{{Field: "tracking_number", Message: "Tracking number is required"}})
	}

	o, err := h.loadOrder(c)
	if o == nil {
		return err
	}
	o.SetTracking(req.TrackingNumber, strings.TrimSpace(req.TrackingURL), req.Carrier, &middleware.CurrentUser(c).ID, h.now())
	if err := h.Orders.Update(c.Request().Context(), o); err != nil {
		logger.FromContext(c).Error("Failed to update tracking", zap.Uint("order_id", o.ID), zap.Error(err))
		return internalError(c, "Failed to update tracking information")
	}
	prometheus.RecordOrderOperation("tracking")
	return c.JSON(http.StatusOK, echo.Map{
		"message": "Tracking information updated successfully",
		"tracking": echo.Map{
			"tracking_number": o.TrackingNumber,
			"tracking_url":    o.TrackingURL,
			"status":          o.Status,
		},
	})
}

// RefundOrder records a full or partial refund of a delivered, paid order
func (h *Handler) RefundOrder(c echo.Context) error {
	log := logger.FromContext(c)

	var req struct {
		Amount       float64 `json:"amount"`
		Reason       string  `json:"reason"`
		RefundMethod string  `json:"refund_method"`
	}
	if err := c.Bind(&req); err != nil {
		return invalidRequest(c)
	}
	if req.Amount <= 0 {
		return validationFailed(c, []fieldError{{Field: "amount", Message: "Refund amount must be greater than zero"}})
	}
	if strings.TrimSpace(req.Reason) == "" {
		req.Reason = "Customer requested refund"
	}

	o, err := h.loadOrder(c)
	if o == nil {
		return err
	}

	refund := model.Refund{
		Amount:       req.Amount,
		Reason:       req.Reason,
		RefundMethod: req.RefundMethod,
		ProcessedAt:  h.now(),
		ProcessedBy:  &middleware.CurrentUser(c).ID,
	}
	var refundErr *model.RefundError
	switch err := o.AddRefund(refund); {
	case errors.Is(err, model.ErrNotRefundable):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "Cannot refund", "message": "Order cannot be refunded in its current state"})
	case errors.As(err, &refundErr):
		return c.JSON(http.StatusBadRequest, echo.Map{
			"error":                "Invalid amount",
			"message":              fmt.Sprintf("Refund amount exceeds remaining refundable amount of $%.2f", refundErr.Remaining),
			"remaining_refundable": refundErr.Remaining,
		})
	case err != nil:
		return validationFailed(c, []fieldError{{Field: "amount", Message: err.Error()}})
	}

	if err := h.Orders.Update(c.Request().Context(), o); err != nil {
		log.Error("Failed to store refund", zap.Uint("order_id", o.ID), zap.Error(err))
		return internalError(c, "Failed to process refund")
	}
	stored := o.Refunds[len(o.Refunds)-1]
	prometheus.RecordRefund(stored.Amount)
	prometheus.RecordOrderOperation("refund")

	log.Info("Refund processed",
		zap.Uint("order_id", o.ID),
		zap.Float64("amount", stored.Amount),
		zap.String("payment_status", string(o.PaymentStatus)))
	return c.JSON(http.StatusOK, echo.Map{
		"message":              "Refund processed successfully",
		"refund":               stored,
		"order_status":         o.Status,
		"payment_status":       o.PaymentStatus,
		"remaining_refundable": o.RemainingRefundable(),
	})
}

// DeleteOrder removes a pending or cancelled order and frees its usage unit
func (h *Handler) DeleteOrder(c echo.Context) error {
	o, err := h.loadOrder(c)
	if o == nil {
		return err
	}
	if !o.CanBeDeleted() {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "Cannot delete", "message": "Only cancelled or pending orders can be deleted"})
	}
	if err := h.Orders.Delete(c.Request().Context(), o.TenantID, o.ID); err != nil {
		if isNotFound(err) {
			return notFound(c, "Order not found")
		}
		logger.FromContext(c).Error("Failed to delete order", zap.Uint("order_id", o.ID), zap.Error(err))
		return internalError(c, "Failed to delete order")
	}
	h.release(c, middleware.CurrentTenant(c), model.ResourceOrders)
	prometheus.RecordOrderOperation("delete")
	return c.JSON(http.StatusOK, echo.Map{"message": "Order deleted successfully"})
}
