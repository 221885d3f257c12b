package middleware

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/suteetoe/shopnest/prometheus"
)

// MetricsMiddleware records request counts and latency per route
func MetricsMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()

		err := next(c)

		status := c.Response().Status
		if he, ok := err.(*echo.HTTPError); ok {
			status = he.Code
		}
		method := c.Request().Method
		path := c.Path()
		code := strconv.Itoa(status)

		prometheus.HttpRequestsTotal.WithLabelValues(method, path, code).Inc()
		prometheus.HttpRequestDuration.WithLabelValues(method, path, code).Observe(time.Since(start).Seconds())

		return err
	}
}
