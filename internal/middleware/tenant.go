package middleware

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/suteetoe/shopnest/internal/model"
	"github.com/suteetoe/shopnest/internal/tenancy"
	"github.com/suteetoe/shopnest/pkg/logger"
	"github.com/suteetoe/shopnest/prometheus"
	"go.uber.org/zap"
)

const (
	HeaderTenantID = "X-Tenant-ID"

	tenantKey   = "tenant"
	tenantIDKey = "tenant_id"
)

// CurrentTenant returns the tenant attached to the request, or nil
func CurrentTenant(c echo.Context) *model.Tenant {
	t, _ := c.Get(tenantKey).(*model.Tenant)
	return t
}

// GetTenantIDFromContext retrieves the tenant ID from the context
func GetTenantIDFromContext(c echo.Context) (uint, bool) {
	tenantID, ok := c.Get(tenantIDKey).(uint)
	return tenantID, ok
}

func setTenant(c echo.Context, t *model.Tenant) {
	c.Set(tenantKey, t)
	c.Set(tenantIDKey, t.ID)
	c.Set(logger.EchoKey, logger.FromContext(c).With(zap.Uint("tenant_id", t.ID)))
}

func signals(c echo.Context) tenancy.Signals {
	sig := tenancy.Signals{
		HeaderTenantID: c.Request().Header.Get(HeaderTenantID),
		Host:           c.Request().Host,
	}
	if user := CurrentUser(c); user != nil {
		sig.UserTenantID = user.TenantID
	}
	return sig
}

// TenantContext resolves the tenant for the request and rejects when none can be used
func TenantContext(resolver *tenancy.Resolver) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			log := logger.FromContext(c)

			t, src, err := resolver.Resolve(c.Request().Context(), signals(c))
			switch {
			case errors.Is(err, tenancy.ErrTenantRequired):
				prometheus.RecordTenantResolution(string(src), "missing")
				return c.JSON(http.StatusBadRequest, echo.Map{"error": "Tenant required", "message": "No tenant context found"})
			case errors.Is(err, tenancy.ErrTenantNotFound):
				prometheus.RecordTenantResolution(string(src), "not_found")
				return c.JSON(http.StatusNotFound, echo.Map{"error": "Tenant not found", "message": "Invalid tenant ID"})
			case errors.Is(err, tenancy.ErrTenantInaccessible):
				prometheus.RecordTenantResolution(string(src), "inaccessible")
				log.Info("Tenant not accessible", zap.Uint("tenant_id", t.ID), zap.String("status", string(t.Status)))
				return c.JSON(http.StatusForbidden, echo.Map{"error": "Tenant access denied", "message": "Tenant account is not active or subscription expired"})
			case err != nil:
				prometheus.RecordTenantResolution(string(src), "error")
				log.Error("Tenant resolution failed", zap.String("source", string(src)), zap.Error(err))
				return c.JSON(http.StatusInternalServerError, echo.Map{"error": "Internal server error", "message": "Failed to resolve tenant context"})
			}

			if err := tenancy.CheckMembership(CurrentUser(c), t); err != nil {
				prometheus.RecordTenantResolution(string(src), "cross_tenant")
				log.Warn("Cross-tenant access rejected", zap.Uint("tenant_id", t.ID), zap.String("source", string(src)))
				return c.JSON(http.StatusForbidden, echo.Map{"error": "Access denied", "message": "User does not belong to this tenant"})
			}

			prometheus.RecordTenantResolution(string(src), "resolved")
			setTenant(c, t)
			return next(c)
		}
	}
}

// OptionalTenant attaches an accessible tenant when one resolves and never rejects.
// A tenant the user does not belong to is not attached.
func OptionalTenant(resolver *tenancy.Resolver) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			t, _, err := resolver.Resolve(c.Request().Context(), signals(c))
			if err == nil && tenancy.CheckMembership(CurrentUser(c), t) == nil {
				setTenant(c, t)
			}
			return next(c)
		}
	}
}

// CheckTenantLimits rejects creation of one more resource once the plan limit is reached
func CheckTenantLimits(accountant *tenancy.Accountant, resource model.Resource) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			t := CurrentTenant(c)
			if t == nil {
				return c.JSON(http.StatusBadRequest, echo.Map{"error": "Tenant required", "message": "No tenant context found"})
			}

			var limitErr *tenancy.LimitError
			if err := accountant.Check(t, resource); errors.As(err, &limitErr) {
				logger.FromContext(c).Info("Tenant limit reached",
					zap.String("resource", string(resource)),
					zap.Int64("current_usage", limitErr.Current),
					zap.Int64("limit", limitErr.Limit))
				return c.JSON(http.StatusForbidden, echo.Map{
					"error":         "Limit exceeded",
					"message":       fmt.Sprintf("You have reached the maximum %s limit for your plan", resource),
					"current_usage": limitErr.Current,
					"limit":         limitErr.Limit,
				})
			}
			return next(c)
		}
	}
}
