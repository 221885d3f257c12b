package handler

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/suteetoe/shopnest/internal/model"
	"github.com/suteetoe/shopnest/internal/store"
	"github.com/suteetoe/shopnest/internal/tenancy"
	"github.com/suteetoe/shopnest/pkg/jwtutil"
	"github.com/suteetoe/shopnest/pkg/logger"
	"go.uber.org/zap"
)

// beginningOfTime is the open lower bound for date ranges
var beginningOfTime = time.Date(1970, time.January, 1, 0, 0, 0, 0, time.UTC)

// Deps are the collaborators shared by every handler
type Deps struct {
	Tenants    store.TenantStore
	Users      store.UserStore
	Products   store.ProductStore
	Orders     store.OrderStore
	Tokens     *jwtutil.JWTUtil
	Resolver   *tenancy.Resolver
	Accountant *tenancy.Accountant
	BaseDomain string
	TrialDays  int
	// DB is pinged by /health?check=db when set
	DB Pinger
}

// Handler serves the HTTP API
type Handler struct {
	Deps
	now func() time.Time
}

func New(deps Deps) *Handler {
	return &Handler{Deps: deps, now: func() time.Time { return time.Now().UTC() }}
}

// SetClock replaces the handler clock; tests use it to pin time-dependent responses
func (h *Handler) SetClock(now func() time.Time) {
	h.now = now
}

type pagination struct {
	CurrentPage  int   `json:"current_page"`
	TotalPages   int   `json:"total_pages"`
	TotalItems   int64 `json:"total_items"`
	ItemsPerPage int   `json:"items_per_page"`
	HasNextPage  bool  `json:"has_next_page"`
	HasPrevPage  bool  `json:"has_prev_page"`
}

func newPagination(p store.Page, total int64) pagination {
	pages := int(math.Ceil(float64(total) / float64(p.Limit)))
	return pagination{
		CurrentPage:  p.Page,
		TotalPages:   pages,
		TotalItems:   total,
		ItemsPerPage: p.Limit,
		HasNextPage:  p.Page < pages,
		HasPrevPage:  p.Page > 1,
	}
}

// fieldError is one entry of a validation failure response
type fieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type validator struct {
	errs []fieldError
}

func (v *validator) add(field, message string) {
	v.errs = append(v.errs, fieldError{Field: field, Message: message})
}

func (v *validator) check(ok bool, field, message string) {
	if !ok {
		v.add(field, message)
	}
}

func (v *validator) failed() bool {
	return len(v.errs) > 0
}

func validationFailed(c echo.Context, details []fieldError) error {
	return c.JSON(http.StatusBadRequest, echo.Map{
		"error":   "Validation failed",
		"details": details,
	})
}

func invalidRequest(c echo.Context) error {
	return c.JSON(http.StatusBadRequest, echo.Map{
		"error":   "Invalid request",
		"message": "Request body could not be parsed",
	})
}

func notFound(c echo.Context, message string) error {
	return c.JSON(http.StatusNotFound, echo.Map{
		"error":   "Not found",
		"message": message,
	})
}

func internalError(c echo.Context, message string) error {
	return c.JSON(http.StatusInternalServerError, echo.Map{
		"error":   "Internal server error",
		"message": message,
	})
}

// parsePage reads page (>= 1) and limit (1..100) from the query string
func parsePage(c echo.Context, v *validator) store.Page {
	p := store.Page{Page: 1, Limit: store.DefaultPageSize}
	if raw := c.QueryParam("page"); raw != "" {
		n, err := strconv.Atoi(raw)
		v.check(err == nil && n >= 1, "page", "Page must be a positive integer")
		if err == nil && n >= 1 {
			p.Page = n
		}
	}
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		v.check(err == nil && n >= 1 && n <= store.MaxPageSize, "limit", "Limit must be between 1 and 100")
		if err == nil && n >= 1 && n <= store.MaxPageSize {
			p.Limit = n
		}
	}
	return p
}

func parseID(raw string) (uint, bool) {
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}

// idParam parses :name or writes a 400 naming what the id was for
func idParam(c echo.Context, name, what string) (uint, error) {
	id, ok := parseID(c.Param(name))
	if !ok {
		return 0, c.JSON(http.StatusBadRequest, echo.Map{
			"error":   "Invalid ID",
			"message": "Invalid " + what + " ID format",
		})
	}
	return id, nil
}

func parseOptionalFloat(c echo.Context, v *validator, name string) *float64 {
	raw := c.QueryParam(name)
	if raw == "" {
		return nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		v.add(name, name+" must be a number")
		return nil
	}
	return &f
}

func parseOptionalTime(c echo.Context, v *validator, name string) *time.Time {
	raw := c.QueryParam(name)
	if raw == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return &t
		}
	}
	v.add(name, name+" must be a date")
	return nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func percentOf(current, limit int64) int64 {
	if limit <= 0 {
		return 0
	}
	return int64(math.Round(float64(current) / float64(limit) * 100))
}

func isNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}

// reserve claims n units of r for t. It returns a nil reservation once a
// 403 or 500 response has been written.
func (h *Handler) reserve(c echo.Context, t *model.Tenant, r model.Resource, n int64, message string) (*tenancy.Reservation, error) {
	res, err := h.Accountant.Reserve(c.Request().Context(), t, r, n)
	var limitErr *tenancy.LimitError
	switch {
	case errors.As(err, &limitErr):
		logger.FromContext(c).Info("Tenant limit reached",
			zap.String("resource", string(r)),
			zap.Int64("current_usage", limitErr.Current),
			zap.Int64("limit", limitErr.Limit),
			zap.Int64("requested", limitErr.Requested))
		return nil, c.JSON(http.StatusForbidden, echo.Map{
			"error":         "Limit exceeded",
			"message":       message,
			"current_usage": limitErr.Current,
			"limit":         limitErr.Limit,
			"requested":     limitErr.Requested,
		})
	case err != nil:
		logger.FromContext(c).Error("Failed to reserve usage", zap.String("resource", string(r)), zap.Error(err))
		return nil, internalError(c, "Failed to check plan limits")
	}
	return res, nil
}

// settle commits a reservation; the resource is already written, so failures are only logged
func settle(c echo.Context, res *tenancy.Reservation, used int64) {
	if err := res.Commit(c.Request().Context(), used); err != nil {
		logger.FromContext(c).Error("Failed to record usage", zap.Int64("used", used), zap.Error(err))
	}
}

// release gives back usage for a deleted resource
func (h *Handler) release(c echo.Context, t *model.Tenant, r model.Resource) {
	if err := h.Accountant.Decrement(c.Request().Context(), t, r, 1); err != nil {
		logger.FromContext(c).Error("Failed to release usage", zap.String("resource", string(r)), zap.Error(err))
	}
}
