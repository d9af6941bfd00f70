package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port             string        `mapstructure:"PORT"`
	Env              string        `mapstructure:"ENV"`
	DatabaseURL      string        `mapstructure:"DATABASE_URL"`
	ReadReplicaURL   string        `mapstructure:"READ_REPLICA_URL"`
	DBMaxConns       int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns       int32         `mapstructure:"DB_MIN_CONNS"`
	RedisURL         string        `mapstructure:"REDIS_URL"`
	TenantSubdomains bool          `mapstructure:"TENANT_SUBDOMAINS"`
	EventStreamMax   int64         `mapstructure:"EVENT_STREAM_MAXLEN"`
	DLQCheckInterval time.Duration `mapstructure:"DLQ_CHECK_INTERVAL"`
	DLQWarnDepth     int64         `mapstructure:"DLQ_WARN_DEPTH"`
	DLQCriticalDepth int64         `mapstructure:"DLQ_CRITICAL_DEPTH"`
	JWTSecret        string        `mapstructure:"JWT_SECRET"`
	AuthIssuer       string        `mapstructure:"AUTH_ISSUER"`
	AuthAudience     string        `mapstructure:"AUTH_AUDIENCE"`
	AuthJWKSURL      string        `mapstructure:"AUTH_JWKS_URL"`
	CORSOrigins      []string      `mapstructure:"CORS_ORIGINS"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("TENANT_SUBDOMAINS", true)
	v.SetDefault("EVENT_STREAM_MAXLEN", 1000)
	v.SetDefault("DLQ_CHECK_INTERVAL", "1m")
	v.SetDefault("DLQ_WARN_DEPTH", 10)
	v.SetDefault("DLQ_CRITICAL_DEPTH", 50)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("READ_REPLICA_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("REDIS_URL")
	v.BindEnv("TENANT_SUBDOMAINS")
	v.BindEnv("EVENT_STREAM_MAXLEN")
	v.BindEnv("DLQ_CHECK_INTERVAL")
	v.BindEnv("DLQ_WARN_DEPTH")
	v.BindEnv("DLQ_CRITICAL_DEPTH")
	v.BindEnv("JWT_SECRET")
	v.BindEnv("AUTH_ISSUER")
	v.BindEnv("AUTH_AUDIENCE")
	v.BindEnv("AUTH_JWKS_URL")
	v.BindEnv("CORS_ORIGINS")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("REDIS_URL is required")
	}

	if cfg.IsDev() {
		log.Println("WARNING: Server is running in DEVELOPMENT mode (ENV=development).")
		log.Println("WARNING: Unauthenticated requests are granted admin access.")
		log.Println("WARNING: Set ENV=production and configure JWT_SECRET or AUTH_JWKS_URL for production.")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks that the configuration is safe to run. Outside development,
// some JWT verification material must be configured, and the dead-letter
// thresholds must be ordered so the monitor escalates sensibly.
func (c *Config) Validate() error {
	if !c.IsDev() && c.JWTSecret == "" && c.AuthJWKSURL == "" {
		return fmt.Errorf(
			"JWT_SECRET or AUTH_JWKS_URL must be set when ENV=%q. "+
				"Refusing to start without authentication configuration", c.Env)
	}
	if c.EventStreamMax <= 0 {
		return fmt.Errorf("EVENT_STREAM_MAXLEN must be positive, got %d", c.EventStreamMax)
	}
	if c.DLQCheckInterval <= 0 {
		return fmt.Errorf("DLQ_CHECK_INTERVAL must be positive, got %s", c.DLQCheckInterval)
	}
	if c.DLQWarnDepth <= 0 || c.DLQCriticalDepth <= c.DLQWarnDepth {
		return fmt.Errorf("DLQ_CRITICAL_DEPTH (%d) must exceed DLQ_WARN_DEPTH (%d), both positive",
			c.DLQCriticalDepth, c.DLQWarnDepth)
	}
	return nil
}
