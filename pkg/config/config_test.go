package config

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/logger"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("JWT_SECRET", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "5000", cfg.Server.Port)
	assert.Equal(t, "dev-secret-change-me", cfg.JWT.Secret)
	assert.Equal(t, "techstore", cfg.Tenancy.DevSubdomain)
	assert.Equal(t, 100, cfg.RateLimit.Max)
	assert.Equal(t, 15*time.Minute, cfg.RateLimit.Window)
	assert.Equal(t, RateLimitBackendMemory, cfg.RateLimit.Backend)
	assert.False(t, cfg.Tenancy.AtomicUsage)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.Server.CORSOrigins)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("RATE_LIMIT_BACKEND", "redis")
	t.Setenv("RATE_LIMIT_WINDOW", "1m")
	t.Setenv("USAGE_ATOMIC", "true")
	t.Setenv("CORS_ORIGINS", "https://a.example.com, https://b.example.com,")
	t.Setenv("DB_LOG_LEVEL", "silent")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "s3cret", cfg.JWT.Secret)
	assert.Equal(t, RateLimitBackendRedis, cfg.RateLimit.Backend)
	assert.Equal(t, time.Minute, cfg.RateLimit.Window)
	assert.True(t, cfg.Tenancy.AtomicUsage)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.Server.CORSOrigins)
	assert.Equal(t, logger.Silent, cfg.DB.LogLevel)
}

func TestLoadRequiresSecretOutsideDevelopment(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("JWT_SECRET", "")

	_, err := Load()
	require.Error(t, err)
}

func TestValidateRejectsUnknownBackend(t *testing.T) {
	cfg := &Config{
		JWT:       JWTConfig{Secret: "x"},
		RateLimit: RateLimitConfig{Max: 1, Window: time.Second, Backend: "memcached"},
	}
	assert.Error(t, cfg.Validate())
}

func TestGetDSN(t *testing.T) {
	db := DBConfig{Host: "db", Port: "5432", User: "u", Password: "p", DBName: "shop", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=shop sslmode=disable", db.GetDSN())
}

func TestEnvParsedFallsBackOnBadValue(t *testing.T) {
	t.Setenv("SHOPNEST_TEST_INT", "many")
	assert.Equal(t, 7, envParsed("SHOPNEST_TEST_INT", 7, strconv.Atoi))

	t.Setenv("SHOPNEST_TEST_INT", " 12 ")
	assert.Equal(t, 12, envParsed("SHOPNEST_TEST_INT", 7, strconv.Atoi))

	t.Setenv("SHOPNEST_TEST_LIST", " , ")
	assert.Equal(t, []string{"x"}, envParsed("SHOPNEST_TEST_LIST", []string{"x"}, parseList))
}
