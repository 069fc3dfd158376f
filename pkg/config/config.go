package config

import (
	"fmt"
	"time"

	"callsession-backend/pkg/env"
)

// Config holds all configuration for the call service
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	JWT        JWTConfig
	RTC        RTCConfig
	Membership MembershipConfig
	Log        LogConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port           int
	Environment    string // development, staging, production
	ServiceName    string
	RequestTimeout time.Duration
	AllowedOrigins []string
}

// IsProduction reports whether ENV=production
func (s ServerConfig) IsProduction() bool {
	return s.Environment == "production"
}

// DatabaseConfig holds CockroachDB configuration
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int
	MinConns int
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	PoolSize int
	Timeout  time.Duration
}

// JWTConfig holds bearer token verification settings
type JWTConfig struct {
	Secret   string
	Audience string
}

// RTCConfig holds the real-time transport credential settings.
// AppID and AppCertificate have no defaults; the issuer rejects empty or
// placeholder values.
type RTCConfig struct {
	AppID                  string
	AppCertificate         string
	CredentialTTL          time.Duration
	DefaultMaxParticipants int
}

// MembershipConfig controls the room membership cache
type MembershipConfig struct {
	CacheTTL time.Duration
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level    string // debug, info, warn, error
	Format   string // json, text
	Output   string // stdout, file
	FilePath string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:           env.GetInt("PORT", 8083),
			Environment:    env.GetString("ENV", "development"),
			ServiceName:    env.GetString("SERVICE_NAME", "call-service"),
			RequestTimeout: env.GetDuration("REQUEST_TIMEOUT", 15*time.Second),
			AllowedOrigins: env.GetSlice("CORS_ALLOWED_ORIGINS", []string{
				"http://localhost:3000",
				"http://127.0.0.1:3000",
			}),
		},
		Database: DatabaseConfig{
			Host:     env.GetString("DB_HOST", "localhost"),
			Port:     env.GetInt("DB_PORT", 26257),
			User:     env.GetString("DB_USER", "root"),
			Password: env.GetStringFromFile("DB_PASSWORD", ""),
			Database: env.GetString("DB_NAME", "calls"),
			SSLMode:  env.GetString("DB_SSL_MODE", "disable"),
			MaxConns: env.GetInt("DB_MAX_CONNS", 25),
			MinConns: env.GetInt("DB_MIN_CONNS", 5),
		},
		Redis: RedisConfig{
			Host:     env.GetString("REDIS_HOST", "localhost"),
			Port:     env.GetInt("REDIS_PORT", 6379),
			Password: env.GetStringFromFile("REDIS_PASSWORD", ""),
			DB:       env.GetInt("REDIS_DB", 0),
			PoolSize: env.GetInt("REDIS_POOL_SIZE", 10),
			Timeout:  env.GetDuration("REDIS_TIMEOUT", 5*time.Second),
		},
		JWT: JWTConfig{
			Secret:   env.GetStringFromFile("JWT_SECRET", ""),
			Audience: env.GetString("JWT_AUDIENCE", "callsession-api"),
		},
		RTC: RTCConfig{
			AppID:                  env.GetStringFromFile("RTC_APP_ID", ""),
			AppCertificate:         env.GetStringFromFile("RTC_APP_CERTIFICATE", ""),
			CredentialTTL:          env.GetDuration("RTC_CREDENTIAL_TTL", time.Hour),
			DefaultMaxParticipants: env.GetInt("RTC_DEFAULT_MAX_PARTICIPANTS", 8),
		},
		Membership: MembershipConfig{
			CacheTTL: env.GetDuration("MEMBERSHIP_CACHE_TTL", 30*time.Second),
		},
		Log: LogConfig{
			Level:    env.GetString("LOG_LEVEL", "info"),
			Format:   env.GetString("LOG_FORMAT", "json"),
			Output:   env.GetString("LOG_OUTPUT", "stdout"),
			FilePath: env.GetString("LOG_FILE_PATH", "/logs/app.log"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate validates the configuration. RTC credentials are checked by the
// credential issuer itself so that callers see the failure, not just the log.
func (c *Config) Validate() error {
	if c.JWT.Secret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.Server.IsProduction() && len(c.JWT.Secret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters in production")
	}
	if c.RTC.CredentialTTL <= 0 {
		return fmt.Errorf("RTC_CREDENTIAL_TTL must be positive")
	}
	if c.RTC.DefaultMaxParticipants < 1 {
		return fmt.Errorf("RTC_DEFAULT_MAX_PARTICIPANTS must be at least 1")
	}
	return nil
}

// DSN returns the CockroachDB connection string
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgresql://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Database, d.SSLMode,
	)
}
