package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/suteetoe/shopnest/internal/analytics"
	"github.com/suteetoe/shopnest/internal/middleware"
	"github.com/suteetoe/shopnest/internal/model"
	"github.com/suteetoe/shopnest/internal/store"
	"github.com/suteetoe/shopnest/pkg/logger"
	"go.uber.org/zap"
)

func invalidPeriod(c echo.Context) error {
	return validationFailed(c, []fieldError{{Field: "period", Message: "Invalid period"}})
}

// AnalyticsOverview compares revenue and orders with the previous period of the same length
func (h *Handler) AnalyticsOverview(c echo.Context) error {
	log := logger.FromContext(c)
	period, err := analytics.ParsePeriod(c.QueryParam("period"))
	if err != nil {
		return invalidPeriod(c)
	}

	ctx := c.Request().Context()
	t := middleware.CurrentTenant(c)
	now := h.now()
	start := period.Start(now)
	current, err := h.Orders.Breakdown(ctx, t.ID, start, now)
	if err != nil {
		log.Error("Failed to aggregate orders for overview", zap.Error(err))
		return internalError(c, "Failed to fetch analytics overview")
	}
	// the previous window ends just before the current one starts
	previous, err := h.Orders.Breakdown(ctx, t.ID, period.PreviousStart(now), start.Add(-time.Microsecond))
	if err != nil {
		log.Error("Failed to aggregate orders for overview", zap.Error(err))
		return internalError(c, "Failed to fetch analytics overview")
	}
	metrics := analytics.Overview(current, previous)

	metrics.TotalCustomers, err = h.Users.Count(ctx, t.ID, store.UserCount{Role: model.RoleCustomer, CreatedFrom: &start, CreatedTo: &now})
	if err != nil {
		log.Error("Failed to count customers", zap.Error(err))
		return internalError(c, "Failed to fetch analytics overview")
	}
	metrics.TotalProducts, err = h.Products.Count(ctx, t.ID, model.ProductActive)
	if err != nil {
		log.Error("Failed to count products", zap.Error(err))
		return internalError(c, "Failed to fetch analytics overview")
	}

	return c.JSON(http.StatusOK, echo.Map{"period": period.Name, "metrics": metrics})
}

// SalesChart buckets paid, dispatched revenue by day, week or month
func (h *Handler) SalesChart(c echo.Context) error {
	period, err := analytics.ParsePeriod(c.QueryParam("period"), "7d", "30d", "90d")
	if err != nil {
		return invalidPeriod(c)
	}
	groupBy := analytics.ByDay
	if raw := c.QueryParam("group_by"); raw != "" {
		groupBy = analytics.GroupBy(raw)
		if !groupBy.Valid() {
			return validationFailed(c, []fieldError{{Field: "group_by", Message: "Invalid group_by"}})
		}
	}

	t := middleware.CurrentTenant(c)
	now := h.now()
	buckets, err := h.Orders.SalesSeries(c.Request().Context(), t.ID, period.Start(now), now, groupBy.Unit())
	if err != nil {
		logger.FromContext(c).Error("Failed to aggregate sales chart", zap.Error(err))
		return internalError(c, "Failed to fetch sales chart data")
	}
	return c.JSON(http.StatusOK, echo.Map{
		"period":   period.Name,
		"group_by": groupBy,
		"data":     analytics.SalesChart(buckets, groupBy),
	})
}

// TopProducts ranks products by units sold in shipped or delivered orders
func (h *Handler) TopProducts(c echo.Context) error {
	log := logger.FromContext(c)
	period, err := analytics.ParsePeriod(c.QueryParam("period"))
	if err != nil {
		return invalidPeriod(c)
	}
	limit := 10
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 50 {
			return validationFailed(c, []fieldError{{Field: "limit", Message: "Limit must be between 1 and 50"}})
		}
		limit = n
	}

	ctx := c.Request().Context()
	t := middleware.CurrentTenant(c)
	now := h.now()
	top, err := h.Orders.TopProducts(ctx, t.ID, period.Start(now), now, limit)
	if err != nil {
		log.Error("Failed to aggregate top products", zap.Error(err))
		return internalError(c, "Failed to fetch top products")
	}

	for i := range top {
		top[i].TotalRevenue = round2(top[i].TotalRevenue)
		p, err := h.Products.FindByID(ctx, t.ID, top[i].ProductID)
		switch {
		case err == nil:
			top[i].Price = p.Price
			top[i].Image = p.PrimaryImage()
		case !isNotFound(err):
			log.Warn("Failed to load top product details", zap.Uint("product_id", top[i].ProductID), zap.Error(err))
		}
	}
	if top == nil {
		top = []store.ProductSales{}
	}
	return c.JSON(http.StatusOK, echo.Map{"period": period.Name, "top_products": top})
}

const topCustomersLimit = 10

// CustomerInsights segments customers by spend, splits new from returning
// buyers and ranks the biggest spenders of the period
func (h *Handler) CustomerInsights(c echo.Context) error {
	log := logger.FromContext(c)
	period, err := analytics.ParsePeriod(c.QueryParam("period"))
	if err != nil {
		return invalidPeriod(c)
	}

	ctx := c.Request().Context()
	t := middleware.CurrentTenant(c)
	now := h.now()
	start := period.Start(now)

	bands, err := h.Orders.SpendBands(ctx, t.ID, start, now, analytics.SpendBounds)
	if err != nil {
		log.Error("Failed to aggregate customer segments", zap.Error(err))
		return internalError(c, "Failed to fetch customer insights")
	}
	retention, err := h.Orders.Retention(ctx, t.ID, start, now)
	if err != nil {
		log.Error("Failed to aggregate customer retention", zap.Error(err))
		return internalError(c, "Failed to fetch customer insights")
	}
	top, err := h.Orders.TopCustomers(ctx, t.ID, start, now, topCustomersLimit)
	if err != nil {
		log.Error("Failed to aggregate top customers", zap.Error(err))
		return internalError(c, "Failed to fetch customer insights")
	}

	for i := range top {
		top[i].TotalSpent = round2(top[i].TotalSpent)
		top[i].AvgOrderValue = round2(top[i].AvgOrderValue)
		if top[i].CustomerID == nil {
			continue
		}
		u, err := h.Users.FindCustomer(ctx, t.ID, *top[i].CustomerID)
		switch {
		case err == nil:
			top[i].CustomerName = u.Name
		case !isNotFound(err):
			log.Warn("Failed to load top customer", zap.Uint("customer_id", *top[i].CustomerID), zap.Error(err))
		}
	}
	if top == nil {
		top = []store.CustomerSpend{}
	}

	return c.JSON(http.StatusOK, echo.Map{
		"period":            period.Name,
		"customer_segments": analytics.Segments(bands),
		"new_vs_returning":  retention,
		"top_customers":     top,
	})
}
