package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/suteetoe/shopnest/internal/handler"
	"github.com/suteetoe/shopnest/internal/model"
	"github.com/suteetoe/shopnest/internal/ratelimit"
	"github.com/suteetoe/shopnest/internal/repository"
	"github.com/suteetoe/shopnest/internal/server"
	"github.com/suteetoe/shopnest/internal/tenancy"
	"github.com/suteetoe/shopnest/pkg/config"
	"github.com/suteetoe/shopnest/pkg/database"
	"github.com/suteetoe/shopnest/pkg/jwtutil"
	"github.com/suteetoe/shopnest/pkg/logger"
	"github.com/suteetoe/shopnest/prometheus"
	"go.uber.org/zap"
)

func main() {
	// Load configuration
	appConfig, err := config.Load()
	if err != nil {
		// Can't use structured logger yet since it's not initialized
		panic("Failed to load configuration: " + err.Error())
	}

	// Initialize logger
	if err := logger.InitLogger(&logger.LogConfig{
		Level:       appConfig.Log.Level,
		Environment: appConfig.Server.Env,
		ServiceName: appConfig.ServiceName,
	}); err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	log := logger.GetLogger()
	defer log.Sync()

	log.Info("Starting shopnest", appConfig.LogConfig()...)

	// Initialize Prometheus metrics
	if err := prometheus.InitMetrics(appConfig.Metrics.Prefix, prom.DefaultRegisterer); err != nil {
		log.Fatal("Failed to register metrics", zap.Error(err))
	}
	log.Info("Prometheus metrics initialized", zap.String("metrics_prefix", appConfig.Metrics.Prefix))

	// Initialize database
	db, err := database.Open(&appConfig.DB, log)
	if err != nil {
		log.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer func() {
		if err := database.Close(db); err != nil {
			log.Warn("Failed to close database", zap.Error(err))
		}
	}()
	if err := database.MigrateModels(db, &model.Tenant{}, &model.User{}, &model.Product{}, &model.Order{}); err != nil {
		log.Fatal("Failed to migrate database", zap.Error(err))
	}
	sqlDB, err := db.DB()
	if err != nil {
		log.Fatal("Failed to get database handle", zap.Error(err))
	}

	tenants := repository.NewTenantRepository(db)
	users := repository.NewUserRepository(db)

	limiter, closeLimiter := newLimiter(appConfig, log)
	defer closeLimiter()

	h := handler.New(handler.Deps{
		Tenants:    tenants,
		Users:      users,
		Products:   repository.NewProductRepository(db),
		Orders:     repository.NewOrderRepository(db),
		Tokens:     jwtutil.NewJWTUtil(&jwtutil.JWTConfig{Secret: appConfig.JWT.Secret, ExpirationHours: appConfig.JWT.ExpirationHours}),
		Resolver:   tenancy.NewResolver(tenants, appConfig.Tenancy.DevSubdomain, appConfig.Tenancy.CacheTTL),
		Accountant: tenancy.NewAccountant(tenants, appConfig.Tenancy.AtomicUsage),
		BaseDomain: appConfig.Tenancy.BaseDomain,
		TrialDays:  appConfig.Tenancy.TrialDays,
		DB:         sqlDB,
	})

	e := server.New(h, server.Options{
		Limiter:          limiter,
		PublicRatePerSec: appConfig.RateLimit.PublicPerSec,
		CORSOrigins:      appConfig.Server.CORSOrigins,
	})

	// Start server
	go func() {
		port := appConfig.Server.Port
		log.Info("Starting server", zap.String("port", port))
		if err := e.Start(":" + port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info("Shutting down gracefully", zap.String("signal", sig.String()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		log.Error("Server shutdown failed", zap.Error(err))
	}
}

// newLimiter builds the per-user rate limiter for the configured backend
func newLimiter(appConfig *config.Config, log *zap.Logger) (ratelimit.Limiter, func()) {
	rl := appConfig.RateLimit
	if rl.Backend == config.RateLimitBackendRedis {
		client := redis.NewClient(&redis.Options{
			Addr:     appConfig.Redis.Addr,
			Password: appConfig.Redis.Password,
			DB:       appConfig.Redis.DB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			// requests still pass while redis is down; the limiter fails open
			log.Warn("Redis not reachable", zap.String("addr", appConfig.Redis.Addr), zap.Error(err))
		}
		log.Info("Using redis rate limiter", zap.String("addr", appConfig.Redis.Addr))
		return ratelimit.NewRedisSlidingWindow(client, appConfig.ServiceName+":ratelimit", rl.Max, rl.Window), func() {
			if err := client.Close(); err != nil {
				log.Warn("Failed to close redis client", zap.Error(err))
			}
		}
	}

	limiter := ratelimit.NewSlidingWindow(rl.Max, rl.Window)
	return limiter, limiter.Stop
}
