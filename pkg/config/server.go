package config

import "time"

// ServerConfig holds runtime configuration for the flowwatch API service.
type ServerConfig struct {
	Environment         string
	Addr                string
	DatabaseURL         string
	MigrationsDir       string
	JWTSecret           string
	CredentialSecret    string
	AccessTokenTTL      time.Duration
	RefreshTokenTTL     time.Duration
	MonitorInterval     time.Duration
	MonitorProbeTimeout time.Duration
	MonitorConcurrency  int
	RateLimitRedisAddr  string
	RateLimitRedisPass  string
	RateLimitRedisDB    int
}

// LoadServerConfig constructs a ServerConfig from environment variables.
func LoadServerConfig() ServerConfig {
	return ServerConfig{
		Environment:         GetString("APP_ENV", "development"),
		Addr:                GetString("API_ADDR", ":4000"),
		DatabaseURL:         GetString("DATABASE_URL", "postgres://flowwatch:flowwatch@db:5432/flowwatch?sslmode=disable"),
		MigrationsDir:       GetString("DB_MIGRATIONS_DIR", "./db/migrations"),
		JWTSecret:           GetString("JWT_SECRET", "supersecuresecret"),
		CredentialSecret:    GetString("CREDENTIAL_SECRET", ""),
		AccessTokenTTL:      time.Duration(GetInt("ACCESS_TOKEN_TTL_MIN", 15)) * time.Minute,
		RefreshTokenTTL:     time.Duration(GetInt("REFRESH_TOKEN_TTL_HOURS", 24)) * time.Hour,
		MonitorInterval:     time.Duration(GetInt("MONITOR_INTERVAL_SECONDS", 300)) * time.Second,
		MonitorProbeTimeout: time.Duration(GetInt("MONITOR_PROBE_TIMEOUT_SECONDS", 10)) * time.Second,
		MonitorConcurrency:  GetInt("MONITOR_CONCURRENCY", 8),
		RateLimitRedisAddr:  GetString("RATE_LIMIT_REDIS_ADDR", ""),
		RateLimitRedisPass:  GetString("RATE_LIMIT_REDIS_PASSWORD", ""),
		RateLimitRedisDB:    GetInt("RATE_LIMIT_REDIS_DB", 0),
	}
}
