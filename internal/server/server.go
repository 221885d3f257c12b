// Package server assembles the echo instance: global middleware and every route group.
package server

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/suteetoe/shopnest/internal/handler"
	mid "github.com/suteetoe/shopnest/internal/middleware"
	"github.com/suteetoe/shopnest/internal/model"
	"github.com/suteetoe/shopnest/internal/ratelimit"
	"github.com/suteetoe/shopnest/pkg/logger"
	"github.com/suteetoe/shopnest/prometheus"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Options configures the parts of the server that are not handler dependencies
type Options struct {
	// Limiter throttles authenticated API calls per user
	Limiter ratelimit.Limiter
	// PublicRatePerSec is the per-IP token bucket rate for public routes; 0 disables it
	PublicRatePerSec float64
	CORSOrigins      []string
	// MetricsHandler serves /metrics; promhttp.Handler() when nil
	MetricsHandler http.Handler
}

// New builds the HTTP server
func New(h *handler.Handler, opts Options) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler

	e.Use(echomw.Recover())
	e.Use(mid.RequestIDMiddleware)
	e.Use(logger.Middleware())
	e.Use(mid.MetricsMiddleware)
	e.Use(echomw.SecureWithConfig(echomw.SecureConfig{
		XSSProtection:      "1; mode=block",
		ContentTypeNosniff: "nosniff",
		XFrameOptions:      "SAMEORIGIN",
		HSTSMaxAge:         15552000,
	}))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:     opts.CORSOrigins,
		AllowCredentials: true,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodPatch, http.MethodOptions},
		AllowHeaders:     []string{echo.HeaderContentType, echo.HeaderAuthorization, mid.HeaderTenantID, mid.HeaderRequestID},
		ExposeHeaders:    []string{mid.HeaderRequestID},
	}))
	e.Use(echomw.BodyLimit("10M"))
	e.Use(echomw.Gzip())

	metricsHandler := opts.MetricsHandler
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}
	e.GET("/metrics", echo.WrapHandler(metricsHandler))
	e.GET("/health", h.HealthCheck)

	public := publicLimiter(opts.PublicRatePerSec)
	authenticate := mid.Authenticate(h.Tokens, h.Users)
	throttle := mid.RateLimitByUser(opts.Limiter)

	authAPI := e.Group("/api/auth")
	authAPI.POST("/register", h.Register, public...)
	authAPI.POST("/login", h.Login, public...)
	authAPI.GET("/me", h.Me, authenticate)

	tenants := e.Group("/api/tenants")
	tenants.GET("/resolve/subdomain/:subdomain", h.ResolveSubdomain, public...)
	tenants.GET("/resolve/domain/:domain", h.ResolveDomain, public...)
	tenantAdmin := tenants.Group("/:id", authenticate, throttle)
	tenantAdmin.GET("", h.GetTenant)
	tenantAdmin.PUT("", h.UpdateTenant, mid.RequireRoles(model.RoleTenantOwner, model.RoleSuperAdmin))
	tenantAdmin.GET("/settings", h.GetTenantSettings, mid.RequirePermissions(model.PermReadSettings))
	tenantAdmin.PUT("/settings", h.UpdateTenantSettings, mid.RequirePermissions(model.PermWriteSettings))
	tenantAdmin.GET("/usage", h.GetTenantUsage)
	tenantAdmin.POST("/usage/reconcile", h.ReconcileTenantUsage, mid.RequireRoles(model.RoleSuperAdmin))

	// every resource route runs with a user and a tenant attached
	scoped := []echo.MiddlewareFunc{authenticate, mid.TenantContext(h.Resolver), throttle}

	products := e.Group("/api/products", scoped...)
	products.GET("", h.ListProducts, mid.RequirePermissions(model.PermReadProducts))
	products.POST("", h.CreateProduct,
		mid.RequirePermissions(model.PermWriteProducts),
		mid.CheckTenantLimits(h.Accountant, model.ResourceProducts))
	products.POST("/bulk-import", h.BulkImportProducts, mid.RequirePermissions(model.PermWriteProducts))
	products.GET("/:id", h.GetProduct, mid.RequirePermissions(model.PermReadProducts))
	products.PUT("/:id", h.UpdateProduct, mid.RequirePermissions(model.PermWriteProducts))
	products.PATCH("/:id/status", h.UpdateProductStatus, mid.RequirePermissions(model.PermWriteProducts))
	products.DELETE("/:id", h.DeleteProduct, mid.RequirePermissions(model.PermDeleteProducts))
	products.GET("/:id/related", h.RelatedProducts, mid.RequirePermissions(model.PermReadProducts))
	products.POST("/:id/variants", h.AddVariant, mid.RequirePermissions(model.PermWriteProducts))
	products.PUT("/:id/variants/:variantId", h.UpdateVariant, mid.RequirePermissions(model.PermWriteProducts))
	products.DELETE("/:id/variants/:variantId", h.DeleteVariant, mid.RequirePermissions(model.PermWriteProducts))

	orders := e.Group("/api/orders", scoped...)
	orders.GET("", h.ListOrders, mid.RequirePermissions(model.PermReadOrders))
	orders.GET("/stats", h.OrderStats, mid.RequirePermissions(model.PermReadOrders))
	orders.POST("", h.CreateOrder,
		mid.RequirePermissions(model.PermWriteOrders),
		mid.CheckTenantLimits(h.Accountant, model.ResourceOrders))
	orders.GET("/:id", h.GetOrder, mid.RequirePermissions(model.PermReadOrders))
	orders.PUT("/:id/status", h.UpdateOrderStatus, mid.RequirePermissions(model.PermWriteOrders))
	orders.PUT("/:id/tracking", h.UpdateOrderTracking, mid.RequirePermissions(model.PermWriteOrders))
	orders.POST("/:id/refund", h.RefundOrder, mid.RequirePermissions(model.PermWriteOrders))
	orders.DELETE("/:id", h.DeleteOrder, mid.RequirePermissions(model.PermDeleteOrders))

	customers := e.Group("/api/customers", scoped...)
	customers.GET("", h.ListCustomers, mid.RequirePermissions(model.PermReadCustomers))
	customers.POST("", h.CreateCustomer,
		mid.RequirePermissions(model.PermWriteCustomers),
		mid.CheckTenantLimits(h.Accountant, model.ResourceUsers))
	customers.GET("/analytics/overview", h.CustomerAnalytics, mid.RequirePermissions(model.PermReadAnalytics))
	customers.GET("/:id", h.GetCustomer, mid.RequirePermissions(model.PermReadCustomers))
	customers.GET("/:id/orders", h.CustomerOrders, mid.RequirePermissions(model.PermReadOrders))
	customers.PUT("/:id/status", h.UpdateCustomerStatus, mid.RequirePermissions(model.PermWriteCustomers))
	customers.DELETE("/:id", h.DeleteCustomer, mid.RequirePermissions(model.PermDeleteCustomers))

	analyticsAPI := e.Group("/api/analytics", scoped...)
	analyticsAPI.Use(mid.RequirePermissions(model.PermReadAnalytics))
	analyticsAPI.GET("/overview", h.AnalyticsOverview)
	analyticsAPI.GET("/sales-chart", h.SalesChart)
	analyticsAPI.GET("/top-products", h.TopProducts)
	analyticsAPI.GET("/customer-insights", h.CustomerInsights)

	return e
}

// publicLimiter is a per-IP token bucket for routes that run without a user
func publicLimiter(perSec float64) []echo.MiddlewareFunc {
	if perSec <= 0 {
		return nil
	}
	burst := int(perSec * 2)
	if burst < 1 {
		burst = 1
	}
	store := echomw.NewRateLimiterMemoryStoreWithConfig(echomw.RateLimiterMemoryStoreConfig{
		Rate:      rate.Limit(perSec),
		Burst:     burst,
		ExpiresIn: 3 * time.Minute,
	})
	return []echo.MiddlewareFunc{echomw.RateLimiterWithConfig(echomw.RateLimiterConfig{
		Store: store,
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return c.RealIP(), nil
		},
		ErrorHandler: func(c echo.Context, err error) error {
			return c.JSON(http.StatusForbidden, echo.Map{"error": "Access denied", "message": "Client could not be identified"})
		},
		DenyHandler: func(c echo.Context, identifier string, err error) error {
			prometheus.RecordRateLimited("public")
			return c.JSON(http.StatusTooManyRequests, echo.Map{
				"error":   "Too many requests",
				"message": "Too many requests from this IP, please try again later.",
			})
		},
	})}
}

// errorHandler renders framework errors in the API's {error, message} shape
func errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	code := http.StatusInternalServerError
	message := "Something went wrong"
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		if m, ok := he.Message.(string); ok {
			message = m
		}
	}
	if code == http.StatusNotFound {
		message = fmt.Sprintf("Route %s not found", c.Request().URL.Path)
	}
	if code >= http.StatusInternalServerError {
		logger.FromContext(c).Error("Unhandled error", zap.Error(err))
	}

	var werr error
	if c.Request().Method == http.MethodHead {
		werr = c.NoContent(code)
	} else {
		werr = c.JSON(code, echo.Map{"error": http.StatusText(code), "message": message})
	}
	if werr != nil {
		logger.FromContext(c).Warn("Failed to write error response", zap.Error(werr))
	}
}
