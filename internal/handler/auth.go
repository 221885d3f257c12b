package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/suteetoe/shopnest/internal/auth"
	"github.com/suteetoe/shopnest/internal/middleware"
	"github.com/suteetoe/shopnest/internal/model"
	"github.com/suteetoe/shopnest/internal/store"
	"github.com/suteetoe/shopnest/pkg/logger"
	"github.com/suteetoe/shopnest/prometheus"
	"go.uber.org/zap"
)

type registerRequest struct {
	StoreName string `json:"store_name"`
	Subdomain string `json:"subdomain"`
	Currency  string `json:"currency"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	Password  string `json:"password"`
}

func (r *registerRequest) validate() []fieldError {
	var v validator
	r.StoreName = strings.TrimSpace(r.StoreName)
	r.Subdomain = strings.ToLower(strings.TrimSpace(r.Subdomain))
	r.Email = strings.ToLower(strings.TrimSpace(r.Email))

	v.check(r.StoreName != "" && len(r.StoreName) <= 100, "store_name", "Store name is required and must not exceed 100 characters")
	if err := model.ValidateSubdomain(r.Subdomain); err != nil {
		v.add("subdomain", err.Error())
	}
	v.check(r.Currency == "" || model.ValidCurrency(r.Currency), "currency", "Invalid currency")
	v.check(strings.TrimSpace(r.Name) != "", "name", "Name is required")
	v.check(model.ValidEmail(r.Email), "email", "Valid email is required")
	v.check(len(r.Password) >= 6, "password", "Password must be at least 6 characters")
	return v.errs
}

// Register creates a store on the trial plan together with its owner account
func (h *Handler) Register(c echo.Context) error {
	log := logger.FromContext(c)

	var req registerRequest
	if err := c.Bind(&req); err != nil {
		log.Warn("Failed to parse registration request", zap.Error(err))
		return invalidRequest(c)
	}
	if details := req.validate(); len(details) > 0 {
		return validationFailed(c, details)
	}

	ctx := c.Request().Context()
	if _, err := h.Users.FindByEmail(ctx, req.Email); err == nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "Validation failed", "message": "Email already registered"})
	} else if !isNotFound(err) {
		log.Error("Failed to check email", zap.Error(err))
		return internalError(c, "Registration failed")
	}

	now := h.now()
	trialEnd := now.AddDate(0, 0, h.TrialDays)
	tenant := &model.Tenant{
		Name:      req.StoreName,
		Subdomain: req.Subdomain,
		Plan:      model.PlanTrial,
		Status:    model.TenantActive,
		Currency:  req.Currency,
		Billing: model.TenantBilling{
			SubscriptionStatus: model.SubscriptionUnpaid,
			TrialEnd:           &trialEnd,
		},
	}
	tenant.Normalize()
	if err := tenant.Validate(); err != nil {
		return validationFailed(c, []fieldError{{Field: "store", Message: err.Error()}})
	}

	owner := &model.User{
		Name:        req.Name,
		Email:       req.Email,
		Role:        model.RoleTenantOwner,
		Status:      model.UserActive,
		Permissions: auth.DefaultPermissions(model.RoleTenantOwner),
	}
	owner.Normalize()
	if err := owner.SetPassword(req.Password); err != nil {
		return validationFailed(c, []fieldError{{Field: "password", Message: err.Error()}})
	}

	if err := h.Tenants.Create(ctx, tenant); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "Validation failed", "message": "Subdomain already taken"})
		}
		log.Error("Failed to create tenant", zap.String("subdomain", tenant.Subdomain), zap.Error(err))
		return internalError(c, "Registration failed")
	}

	owner.TenantID = &tenant.ID
	if err := owner.Validate(); err != nil {
		return validationFailed(c, []fieldError{{Field: "email", Message: err.Error()}})
	}
	if err := h.Users.Create(ctx, owner); err != nil {
		// a store without an owner is closed
		tenant.Status = model.TenantCancelled
		if uerr := h.Tenants.Update(ctx, tenant); uerr != nil {
			log.Error("Failed to cancel orphaned tenant", zap.Uint("tenant_id", tenant.ID), zap.Error(uerr))
		}
		if errors.Is(err, store.ErrDuplicate) {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "Validation failed", "message": "Email already registered"})
		}
		log.Error("Failed to create owner", zap.Uint("tenant_id", tenant.ID), zap.Error(err))
		return internalError(c, "Registration failed")
	}

	tenant.OwnerID = &owner.ID
	if err := h.Tenants.Update(ctx, tenant); err != nil {
		log.Error("Failed to link tenant owner", zap.Uint("tenant_id", tenant.ID), zap.Error(err))
	}

	token, err := h.Tokens.GenerateToken(owner.ID, owner.TenantID, owner.Email, string(owner.Role))
	if err != nil {
		log.Error("Failed to generate token", zap.Error(err))
		return internalError(c, "Registration failed")
	}

	log.Info("Store registered",
		zap.Uint("tenant_id", tenant.ID),
		zap.String("subdomain", tenant.Subdomain),
		zap.Uint("owner_id", owner.ID))
	return c.JSON(http.StatusCreated, echo.Map{
		"message": "Store registered successfully",
		"token":   token,
		"user":    owner,
		"tenant":  tenant.Public(h.BaseDomain),
	})
}

// Login exchanges email and password for a bearer token
func (h *Handler) Login(c echo.Context) error {
	log := logger.FromContext(c)
	prometheus.AuthAttemptsCounter.Inc()

	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.Bind(&req); err != nil {
		prometheus.RecordAuthError("invalid_request")
		return invalidRequest(c)
	}
	var v validator
	v.check(strings.TrimSpace(req.Email) != "", "email", "Valid email is required")
	v.check(req.Password != "", "password", "Password is required")
	if v.failed() {
		return validationFailed(c, v.errs)
	}

	ctx := c.Request().Context()
	user, err := h.Users.FindByEmail(ctx, req.Email)
	if err != nil && !isNotFound(err) {
		log.Error("Failed to load user", zap.Error(err))
		return internalError(c, "Login failed")
	}
	if err != nil || !user.CheckPassword(req.Password) {
		prometheus.RecordAuthError("invalid_credentials")
		log.Info("Login rejected", zap.String("email", strings.ToLower(req.Email)))
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "Invalid credentials", "message": "Email or password is incorrect"})
	}
	if !user.IsActive() {
		prometheus.RecordAuthError("inactive_account")
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "Access denied", "message": "Account is not active"})
	}

	now := h.now()
	user.LastLogin = &now
	user.LastActive = &now
	if err := h.Users.Update(ctx, user); err != nil {
		log.Warn("Failed to record login time", zap.Uint("user_id", user.ID), zap.Error(err))
	}

	token, err := h.Tokens.GenerateToken(user.ID, user.TenantID, user.Email, string(user.Role))
	if err != nil {
		log.Error("Failed to generate token", zap.Error(err))
		return internalError(c, "Login failed")
	}

	log.Info("User logged in", zap.Uint("user_id", user.ID), zap.String("role", string(user.Role)))
	return c.JSON(http.StatusOK, echo.Map{
		"message": "Login successful",
		"token":   token,
		"user":    user,
	})
}

// Me returns the authenticated user and, when bound, its store
func (h *Handler) Me(c echo.Context) error {
	user := middleware.CurrentUser(c)
	resp := echo.Map{"user": user}
	if user.TenantID != nil {
		t, err := h.Tenants.FindByID(c.Request().Context(), *user.TenantID)
		switch {
		case err == nil:
			resp["tenant"] = t.Public(h.BaseDomain)
		case !isNotFound(err):
			logger.FromContext(c).Error("Failed to load user tenant", zap.Error(err))
			return internalError(c, "Failed to fetch user")
		}
	}
	return c.JSON(http.StatusOK, resp)
}
