package middleware

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/suteetoe/shopnest/internal/auth"
	"github.com/suteetoe/shopnest/internal/model"
	"github.com/suteetoe/shopnest/internal/ratelimit"
	"github.com/suteetoe/shopnest/internal/store"
	"github.com/suteetoe/shopnest/pkg/jwtutil"
	"github.com/suteetoe/shopnest/pkg/logger"
	"github.com/suteetoe/shopnest/prometheus"
	"go.uber.org/zap"
)

const (
	userKey     = "user"
	userIDKey   = "user_id"
	userRoleKey = "user_role"
)

// TokenValidator parses bearer tokens
type TokenValidator interface {
	ValidateToken(token string) (*jwtutil.UserClaims, error)
}

// UserFinder loads the principal a token names
type UserFinder interface {
	FindByID(ctx context.Context, id uint) (*model.User, error)
}

// CurrentUser returns the authenticated user, or nil
func CurrentUser(c echo.Context) *model.User {
	u, _ := c.Get(userKey).(*model.User)
	return u
}

func setUser(c echo.Context, u *model.User) {
	c.Set(userKey, u)
	c.Set(userIDKey, u.ID)
	c.Set(userRoleKey, u.Role)
	c.Set(logger.EchoKey, logger.FromContext(c).With(zap.Uint("user_id", u.ID)))
}

// bearerToken returns the second space-separated part of the Authorization header
func bearerToken(c echo.Context) string {
	parts := strings.Split(c.Request().Header.Get("Authorization"), " ")
	if len(parts) < 2 {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func denied(c echo.Context, reason, message string) error {
	prometheus.RecordAuthError(reason)
	return c.JSON(http.StatusUnauthorized, echo.Map{"error": "Access denied", "message": message})
}

// Authenticate requires a valid bearer token naming an active user
func Authenticate(tokens TokenValidator, users UserFinder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			log := logger.FromContext(c)
			prometheus.AuthAttemptsCounter.Inc()

			token := bearerToken(c)
			if token == "" {
				return denied(c, "missing_token", "No token provided")
			}

			claims, err := tokens.ValidateToken(token)
			switch {
			case errors.Is(err, jwtutil.ErrTokenExpired):
				return denied(c, "token_expired", "Token expired")
			case errors.Is(err, jwtutil.ErrTokenInvalid):
				log.Debug("Rejected token", zap.Error(err))
				return denied(c, "invalid_token", "Invalid token")
			case err != nil:
				log.Error("Token validation failed", zap.Error(err))
				prometheus.RecordAuthError("internal")
				return c.JSON(http.StatusInternalServerError, echo.Map{"error": "Internal server error", "message": "Authentication failed"})
			}

			user, err := users.FindByID(c.Request().Context(), claims.UserID)
			if errors.Is(err, store.ErrNotFound) {
				return denied(c, "user_not_found", "User not found")
			}
			if err != nil {
				log.Error("Failed to load user", zap.Uint("user_id", claims.UserID), zap.Error(err))
				prometheus.RecordAuthError("internal")
				return c.JSON(http.StatusInternalServerError, echo.Map{"error": "Internal server error", "message": "Authentication failed"})
			}
			if !user.IsActive() {
				return denied(c, "inactive_account", "Account is not active")
			}

			setUser(c, user)
			return next(c)
		}
	}
}

// OptionalAuth attaches the user when a valid token is present and never rejects
func OptionalAuth(tokens TokenValidator, users UserFinder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token := bearerToken(c)
			if token == "" {
				return next(c)
			}
			claims, err := tokens.ValidateToken(token)
			if err != nil {
				return next(c)
			}
			user, err := users.FindByID(c.Request().Context(), claims.UserID)
			if err == nil && user.IsActive() {
				setUser(c, user)
			}
			return next(c)
		}
	}
}

func forbidden(c echo.Context) error {
	return c.JSON(http.StatusForbidden, echo.Map{"error": "Forbidden", "message": "Insufficient permissions"})
}

func authRequired(c echo.Context) error {
	return c.JSON(http.StatusUnauthorized, echo.Map{"error": "Access denied", "message": "Authentication required"})
}

// RequireRoles lets through users whose role is one of roles
func RequireRoles(roles ...model.Role) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			user := CurrentUser(c)
			if user == nil {
				return authRequired(c)
			}
			if !auth.HasAnyRole(user, roles...) {
				logger.FromContext(c).Info("Role check failed", zap.String("role", string(user.Role)))
				return forbidden(c)
			}
			return next(c)
		}
	}
}

// RequirePermissions needs every listed permission unless the role bypasses checks
func RequirePermissions(perms ...model.Permission) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			user := CurrentUser(c)
			if user == nil {
				return authRequired(c)
			}
			if !auth.HasAll(user, perms...) {
				logger.FromContext(c).Info("Permission check failed",
					zap.String("role", string(user.Role)),
					zap.Any("required", perms))
				return forbidden(c)
			}
			return next(c)
		}
	}
}

// RateLimitByUser throttles per user id, falling back to the client IP.
// Limiter failures are logged and the request is let through.
func RateLimitByUser(limiter ratelimit.Limiter) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := "ip:" + c.RealIP()
			scope := "ip"
			if user := CurrentUser(c); user != nil {
				key = "user:" + strconv.FormatUint(uint64(user.ID), 10)
				scope = "user"
			}

			ok, err := limiter.Allow(c.Request().Context(), key)
			if err != nil {
				logger.FromContext(c).Warn("Rate limiter unavailable", zap.Error(err))
				return next(c)
			}
			if !ok {
				prometheus.RecordRateLimited(scope)
				return c.JSON(http.StatusTooManyRequests, echo.Map{"error": "Too many requests", "message": "Rate limit exceeded"})
			}
			return next(c)
		}
	}
}
