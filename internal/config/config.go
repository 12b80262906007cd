package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	StoreBackendDatabase = "database"
	StoreBackendRedis    = "redis"

	DatabaseDriverSQLite   = "sqlite"
	DatabaseDriverPostgres = "postgres"
)

type Config struct {
	AppEnv   string
	HTTPAddr string

	ReadHeaderTimeout            time.Duration
	RequestTimeout               time.Duration
	ShutdownTimeout              time.Duration
	ShutdownHTTPDrainTimeout     time.Duration
	ShutdownObservabilityTimeout time.Duration

	JWTSecret          string
	JWTIssuer          string
	JWTAudience        string
	AccessTokenTTL     time.Duration
	RefreshTokenTTL    time.Duration
	RefreshTokenBytes  int
	RefreshTokenPepper string

	CookieDomain   string
	CookieSecure   bool
	CookieSameSite string

	RefreshStoreBackend    string
	RevocationStoreBackend string
	DatabaseDriver         string
	DatabaseURL            string
	DatabaseAutoMigrate    bool
	RedisAddr              string
	RedisPassword          string
	RedisDB                int
	RedisKeyPrefix         string

	UserServiceURL     string
	InternalAuthToken  string
	UserServiceTimeout time.Duration

	ReaperEnabled  bool
	ReaperInterval time.Duration

	AuthRateLimitRPM     int
	RateLimitRedisEnable bool

	LogLevel  string
	LogFormat string

	OTELMetricsEnabled        bool
	OTELTracingEnabled        bool
	OTELLogsEnabled           bool
	OTELExporterOTLPEndpoint  string
	OTELExporterOTLPInsecure  bool
	OTELServiceName           string
	OTELEnvironment           string
	OTELMetricsExportInterval time.Duration
	OTELTraceSamplingRatio    float64
	EnableOTelHTTP            bool
}

// Load reads the optional .env.<APP_ENV> file, then the process environment,
// and validates the result.
func Load() (*Config, error) {
	env := getEnv("APP_ENV", "development")
	ctx := context.Background()
	if err := LoadEnvFile(".env." + env); err != nil {
		recordLoadEvent(ctx, env, err)
		return nil, err
	}
	cfg, err := FromEnv()
	if err != nil {
		recordLoadEvent(ctx, env, err)
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		err = fmt.Errorf("%w: %w", ErrInvalid, err)
		recordLoadEvent(ctx, env, err)
		return nil, err
	}
	recordLoadEvent(ctx, env, nil)
	return cfg, nil
}

func FromEnv() (*Config, error) {
	var errs []error
	cfg := &Config{
		AppEnv:   getEnv("APP_ENV", "development"),
		HTTPAddr: getEnv("HTTP_ADDR", ":8080"),

		JWTSecret:          os.Getenv("JWT_SECRET"),
		JWTIssuer:          getEnv("JWT_ISSUER", "session-token-authority"),
		JWTAudience:        getEnv("JWT_AUDIENCE", "session-token-authority"),
		RefreshTokenPepper: os.Getenv("REFRESH_TOKEN_PEPPER"),

		CookieDomain:   os.Getenv("COOKIE_DOMAIN"),
		CookieSameSite: getEnv("COOKIE_SAMESITE", "strict"),

		RefreshStoreBackend:    strings.ToLower(getEnv("REFRESH_STORE_BACKEND", StoreBackendDatabase)),
		RevocationStoreBackend: strings.ToLower(getEnv("REVOCATION_STORE_BACKEND", StoreBackendDatabase)),
		DatabaseDriver:         strings.ToLower(getEnv("DATABASE_DRIVER", DatabaseDriverSQLite)),
		DatabaseURL:            getEnv("DATABASE_URL", "file:session_authority.db?cache=shared"),
		RedisAddr:              os.Getenv("REDIS_ADDR"),
		RedisPassword:          os.Getenv("REDIS_PASSWORD"),
		RedisKeyPrefix:         getEnv("REDIS_KEY_PREFIX", "sta"),

		UserServiceURL:    strings.TrimRight(os.Getenv("USER_SERVICE_URL"), "/"),
		InternalAuthToken: os.Getenv("INTERNAL_AUTH_TOKEN"),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),

		OTELExporterOTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		OTELServiceName:          getEnv("OTEL_SERVICE_NAME", "session-token-authority"),
	}
	cfg.OTELEnvironment = getEnv("OTEL_ENVIRONMENT", cfg.AppEnv)

	durations := []struct {
		dst *time.Duration
		key string
		def time.Duration
	}{
		{&cfg.ReadHeaderTimeout, "HTTP_READ_HEADER_TIMEOUT", 5 * time.Second},
		{&cfg.RequestTimeout, "HTTP_REQUEST_TIMEOUT", 10 * time.Second},
		{&cfg.ShutdownTimeout, "SHUTDOWN_TIMEOUT", 20 * time.Second},
		{&cfg.ShutdownHTTPDrainTimeout, "SHUTDOWN_HTTP_DRAIN_TIMEOUT", 10 * time.Second},
		{&cfg.ShutdownObservabilityTimeout, "SHUTDOWN_OBSERVABILITY_TIMEOUT", 5 * time.Second},
		{&cfg.AccessTokenTTL, "ACCESS_TOKEN_TTL", 15 * time.Minute},
		{&cfg.RefreshTokenTTL, "REFRESH_TOKEN_TTL", 7 * 24 * time.Hour},
		{&cfg.UserServiceTimeout, "USER_SERVICE_TIMEOUT", 2 * time.Second},
		{&cfg.ReaperInterval, "REAPER_INTERVAL", 10 * time.Minute},
		{&cfg.OTELMetricsExportInterval, "OTEL_METRICS_EXPORT_INTERVAL", 15 * time.Second},
	}
	for _, d := range durations {
		v, err := getDuration(d.key, d.def)
		if err != nil {
			errs = append(errs, err)
		}
		*d.dst = v
	}

	ints := []struct {
		dst *int
		key string
		def int
	}{
		{&cfg.RefreshTokenBytes, "REFRESH_TOKEN_BYTES", 64},
		{&cfg.RedisDB, "REDIS_DB", 0},
		{&cfg.AuthRateLimitRPM, "AUTH_RATE_LIMIT_RPM", 30},
	}
	for _, i := range ints {
		v, err := getInt(i.key, i.def)
		if err != nil {
			errs = append(errs, err)
		}
		*i.dst = v
	}

	bools := []struct {
		dst *bool
		key string
		def bool
	}{
		{&cfg.CookieSecure, "COOKIE_SECURE", true},
		{&cfg.DatabaseAutoMigrate, "DATABASE_AUTO_MIGRATE", true},
		{&cfg.ReaperEnabled, "REAPER_ENABLED", true},
		{&cfg.RateLimitRedisEnable, "RATE_LIMIT_REDIS_ENABLED", false},
		{&cfg.OTELMetricsEnabled, "OTEL_METRICS_ENABLED", false},
		{&cfg.OTELTracingEnabled, "OTEL_TRACING_ENABLED", false},
		{&cfg.OTELLogsEnabled, "OTEL_LOGS_ENABLED", false},
		{&cfg.OTELExporterOTLPInsecure, "OTEL_EXPORTER_OTLP_INSECURE", true},
		{&cfg.EnableOTelHTTP, "OTEL_HTTP_ENABLED", true},
	}
	for _, b := range bools {
		v, err := getBool(b.key, b.def)
		if err != nil {
			errs = append(errs, err)
		}
		*b.dst = v
	}

	ratio, err := getFloat("OTEL_TRACE_SAMPLING_RATIO", 1.0)
	if err != nil {
		errs = append(errs, err)
	}
	cfg.OTELTraceSamplingRatio = ratio

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if len(c.JWTSecret) < 32 {
		errs = append(errs, errors.New("JWT_SECRET must be at least 32 bytes"))
	}
	if c.AccessTokenTTL <= 0 || c.RefreshTokenTTL <= 0 {
		errs = append(errs, errors.New("token ttls must be positive"))
	} else if c.AccessTokenTTL >= c.RefreshTokenTTL {
		errs = append(errs, errors.New("ACCESS_TOKEN_TTL must be shorter than REFRESH_TOKEN_TTL"))
	}
	if c.RefreshTokenBytes < 32 {
		errs = append(errs, errors.New("REFRESH_TOKEN_BYTES must be at least 32"))
	}
	for key, backend := range map[string]string{
		"REFRESH_STORE_BACKEND":    c.RefreshStoreBackend,
		"REVOCATION_STORE_BACKEND": c.RevocationStoreBackend,
	} {
		if backend != StoreBackendDatabase && backend != StoreBackendRedis {
			errs = append(errs, fmt.Errorf("%s must be %q or %q", key, StoreBackendDatabase, StoreBackendRedis))
		}
	}
	if c.DatabaseDriver != DatabaseDriverSQLite && c.DatabaseDriver != DatabaseDriverPostgres {
		errs = append(errs, fmt.Errorf("DATABASE_DRIVER must be %q or %q", DatabaseDriverSQLite, DatabaseDriverPostgres))
	}
	if c.UsesDatabase() && c.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL is required for the database store backend"))
	}
	if c.UsesRedis() && c.RedisAddr == "" {
		errs = append(errs, errors.New("REDIS_ADDR is required when a redis backend is enabled"))
	}
	if c.UserServiceTimeout <= 0 {
		errs = append(errs, errors.New("USER_SERVICE_TIMEOUT must be positive"))
	}
	if c.ReaperEnabled && c.ReaperInterval <= 0 {
		errs = append(errs, errors.New("REAPER_INTERVAL must be positive when the reaper is enabled"))
	}
	if c.OTELTraceSamplingRatio < 0 || c.OTELTraceSamplingRatio > 1 {
		errs = append(errs, errors.New("OTEL_TRACE_SAMPLING_RATIO must be within [0,1]"))
	}
	return errors.Join(errs...)
}

func (c *Config) UsesDatabase() bool {
	return c.RefreshStoreBackend == StoreBackendDatabase || c.RevocationStoreBackend == StoreBackendDatabase
}

func (c *Config) UsesRedis() bool {
	return c.RefreshStoreBackend == StoreBackendRedis ||
		c.RevocationStoreBackend == StoreBackendRedis ||
		c.RateLimitRedisEnable
}

// Redacted is the secret-free view served on /config.
func (c *Config) Redacted() map[string]any {
	return map[string]any{
		"app_env":                  c.AppEnv,
		"log_level":                c.LogLevel,
		"access_token_ttl":         c.AccessTokenTTL.String(),
		"refresh_token_ttl":        c.RefreshTokenTTL.String(),
		"refresh_store_backend":    c.RefreshStoreBackend,
		"revocation_store_backend": c.RevocationStoreBackend,
		"database_driver":          c.DatabaseDriver,
		"user_service_url":         c.UserServiceURL,
		"user_service_configured":  c.UserServiceURL != "" && c.InternalAuthToken != "",
		"reaper_enabled":           c.ReaperEnabled,
		"cookie_secure":            c.CookieSecure,
	}
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func getDuration(key string, def time.Duration) (time.Duration, error) {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return def, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		return def, &EnvError{Key: key, Err: err}
	}
	return d, nil
}

func getInt(key string, def int) (int, error) {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return def, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return def, &EnvError{Key: key, Err: err}
	}
	return n, nil
}

func getFloat(key string, def float64) (float64, error) {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return def, &EnvError{Key: key, Err: err}
	}
	return f, nil
}

func getBool(key string, def bool) (bool, error) {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return def, nil
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	}
	return def, &EnvError{Key: key, Err: fmt.Errorf("invalid boolean %q", v)}
}
