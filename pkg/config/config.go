package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gorm.io/gorm/logger"
)

// DBConfig is the postgres connection and pool
type DBConfig struct {
	Host            string
	Port            string
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
	// LogLevel is the gorm query log level
	LogLevel logger.LogLevel
}

// GetDSN renders the key=value DSN understood by gorm's postgres driver
func (c *DBConfig) GetDSN() string {
	parts := []string{
		"host=" + c.Host,
		"port=" + c.Port,
		"user=" + c.User,
		"password=" + c.Password,
		"dbname=" + c.DBName,
		"sslmode=" + c.SSLMode,
	}
	return strings.Join(parts, " ")
}

type ServerConfig struct {
	Port        string
	Env         string
	CORSOrigins []string
}

// JWTConfig signs bearer tokens; tokens live ExpirationHours
type JWTConfig struct {
	Secret          string
	ExpirationHours int
}

type LogConfig struct {
	Level string
}

type MetricsConfig struct {
	Prefix string
}

// TenancyConfig controls tenant resolution and usage accounting.
type TenancyConfig struct {
	DevSubdomain string
	BaseDomain   string
	CacheTTL     time.Duration
	TrialDays    int
	// AtomicUsage switches creation routes to conditional counter reservations.
	AtomicUsage bool
}

// RateLimitConfig holds the per-user limiter settings
type RateLimitConfig struct {
	Max          int
	Window       time.Duration
	Backend      string
	PublicPerSec float64
}

// RedisConfig holds the redis connection used by the shared rate limiter
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Config is everything the server reads from the environment
type Config struct {
	ServiceName string
	DB          DBConfig
	Server      ServerConfig
	JWT         JWTConfig
	Log         LogConfig
	Metrics     MetricsConfig
	Tenancy     TenancyConfig
	RateLimit   RateLimitConfig
	Redis       RedisConfig
}

const (
	RateLimitBackendMemory = "memory"
	RateLimitBackendRedis  = "redis"
)

const devJWTSecret = "dev-secret-change-me"

// Load reads .env when present, then the process environment
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		fmt.Fprintln(os.Stderr, "config: no .env file, reading process environment only")
	}

	cfg := &Config{ServiceName: env("SERVICE_NAME", "shopnest")}

	cfg.Server = ServerConfig{
		Port:        env("SERVER_PORT", "5000"),
		Env:         env("APP_ENV", "development"),
		CORSOrigins: envParsed("CORS_ORIGINS", []string{"http://localhost:3000"}, parseList),
	}
	cfg.DB = DBConfig{
		Host:            env("DB_HOST", "localhost"),
		Port:            env("DB_PORT", "5432"),
		User:            env("DB_USER", "postgres"),
		Password:        env("DB_PASSWORD", "password"),
		DBName:          env("DB_NAME", "shopnest"),
		SSLMode:         env("DB_SSL_MODE", "disable"),
		MaxIdleConns:    envParsed("DB_MAX_IDLE_CONNS", 10, strconv.Atoi),
		MaxOpenConns:    envParsed("DB_MAX_OPEN_CONNS", 100, strconv.Atoi),
		ConnMaxLifetime: envParsed("DB_CONN_MAX_LIFETIME", time.Hour, time.ParseDuration),
		LogLevel:        envParsed("DB_LOG_LEVEL", logger.Warn, parseGormLevel),
	}
	cfg.JWT = JWTConfig{
		Secret:          env("JWT_SECRET", ""),
		ExpirationHours: envParsed("JWT_EXPIRATION_HOURS", 168, strconv.Atoi),
	}
	cfg.Log.Level = env("LOG_LEVEL", "info")
	cfg.Metrics.Prefix = env("METRICS_PREFIX", "shopnest")

	cfg.Tenancy = TenancyConfig{
		DevSubdomain: env("TENANT_DEV_SUBDOMAIN", "techstore"),
		BaseDomain:   env("TENANT_BASE_DOMAIN", "yourdomain.com"),
		CacheTTL:     envParsed("TENANT_CACHE_TTL", time.Minute, time.ParseDuration),
		TrialDays:    envParsed("TENANT_TRIAL_DAYS", 14, strconv.Atoi),
		AtomicUsage:  envParsed("USAGE_ATOMIC", false, strconv.ParseBool),
	}
	cfg.RateLimit = RateLimitConfig{
		Max:          envParsed("RATE_LIMIT_MAX", 100, strconv.Atoi),
		Window:       envParsed("RATE_LIMIT_WINDOW", 15*time.Minute, time.ParseDuration),
		Backend:      env("RATE_LIMIT_BACKEND", RateLimitBackendMemory),
		PublicPerSec: envParsed("PUBLIC_RATE_PER_SEC", 20.0, parseFloat),
	}
	cfg.Redis = RedisConfig{
		Addr:     env("REDIS_ADDR", "localhost:6379"),
		Password: env("REDIS_PASSWORD", ""),
		DB:       envParsed("REDIS_DB", 0, strconv.Atoi),
	}

	if cfg.JWT.Secret == "" && cfg.IsDevelopment() {
		cfg.JWT.Secret = devJWTSecret
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks settings that have no safe default
func (c *Config) Validate() error {
	if c.JWT.Secret == "" {
		return errors.New("JWT_SECRET is required outside development")
	}
	switch c.RateLimit.Backend {
	case RateLimitBackendMemory, RateLimitBackendRedis:
	default:
		return fmt.Errorf("unknown RATE_LIMIT_BACKEND %q", c.RateLimit.Backend)
	}
	if c.RateLimit.Max <= 0 || c.RateLimit.Window <= 0 {
		return errors.New("RATE_LIMIT_MAX and RATE_LIMIT_WINDOW must be positive")
	}
	return nil
}

// IsDevelopment reports whether the service runs in development mode
func (c *Config) IsDevelopment() bool {
	return c.Server.Env == "development"
}

// LogConfig lists the non-secret settings worth logging at startup
func (c *Config) LogConfig() []zap.Field {
	return []zap.Field{
		zap.String("service", c.ServiceName),
		zap.String("environment", c.Server.Env),
		zap.String("server_port", c.Server.Port),
		zap.String("db", c.DB.Host+":"+c.DB.Port+"/"+c.DB.DBName),
		zap.String("base_domain", c.Tenancy.BaseDomain),
		zap.String("rate_limit_backend", c.RateLimit.Backend),
		zap.Bool("atomic_usage", c.Tenancy.AtomicUsage),
	}
}

func env(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

// envParsed returns fallback when key is unset or does not parse
func envParsed[T any](key string, fallback T, parse func(string) (T, error)) T {
	raw, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback
	}
	v, err := parse(strings.TrimSpace(raw))
	if err != nil {
		return fallback
	}
	return v
}

func parseFloat(s string) (float64, error) {
	return strconv.ParseFloat(s, 64)
}

// parseList splits on commas and drops blanks
func parseList(s string) ([]string, error) {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return nil, errors.New("empty list")
	}
	return out, nil
}

var gormLevels = map[string]logger.LogLevel{
	"silent": logger.Silent,
	"error":  logger.Error,
	"warn":   logger.Warn,
	"info":   logger.Info,
}

func parseGormLevel(s string) (logger.LogLevel, error) {
	if lvl, ok := gormLevels[strings.ToLower(s)]; ok {
		return lvl, nil
	}
	return 0, fmt.Errorf("unknown gorm log level %q", s)
}
