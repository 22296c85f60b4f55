package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// PostgresConfig is read with the PG_ prefix, e.g. PG_DB_HOST.
type PostgresConfig struct {
	Host     string `env:"DB_HOST" envDefault:"localhost"`
	Port     string `env:"DB_PORT" envDefault:"5432"`
	Username string `env:"DB_USERNAME" envDefault:"postgres"`
	Password string `env:"DB_PASSWORD"`
	DBName   string `env:"DB_NAME" envDefault:"matchday"`
	SSLMode  string `env:"DB_SSLMODE" envDefault:"disable"`
}

// DSN renders a lib/pq connection string.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s dbname=%s password=%s sslmode=%s",
		p.Host, p.Port, p.Username, p.DBName, p.Password, p.SSLMode)
}

type Config struct {
	// Referee API + scoreboard fanout
	HTTPAddr        string        `env:"HTTP_ADDR" envDefault:":8080"`
	CORSOrigins     []string      `env:"CORS_ORIGINS" envSeparator:"," envDefault:"*"`
	RequestTimeout  time.Duration `env:"REQUEST_TIMEOUT" envDefault:"30s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"15s"`

	// Remote store: sqlite | postgres | rest
	RemoteBackend string         `env:"REMOTE_BACKEND" envDefault:"sqlite"`
	SQLitePath    string         `env:"SQLITE_PATH" envDefault:"data/matchday.db"`
	Postgres      PostgresConfig `envPrefix:"PG_"`
	RemoteTimeout time.Duration  `env:"REMOTE_TIMEOUT" envDefault:"10s"`

	// Hosted REST backend (PostgREST-style)
	RestBaseURL    string  `env:"REST_BASE_URL"`
	RestAPIKey     string  `env:"REST_API_KEY"`
	RestRatePerSec float64 `env:"REST_RATE_PER_SEC" envDefault:"10"`

	// Cross-device duplicate claims. Empty address disables them.
	RedisAddr         string        `env:"REDIS_ADDR"`
	RedisPassword     string        `env:"REDIS_PASSWORD"`
	RedisDB           int           `env:"REDIS_DB" envDefault:"0"`
	DuplicateClaimTTL time.Duration `env:"DUPLICATE_CLAIM_TTL" envDefault:"30s"`

	// Alerts. Empty URL disables them.
	DiscordWebhookURL string `env:"DISCORD_WEBHOOK_URL"`

	SyncProfilePath string `env:"SYNC_PROFILE_PATH" envDefault:"internal/config/sync_profile.yaml"`

	// Telemetry
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// Load reads an optional .env file, then the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.RemoteBackend {
	case "sqlite", "postgres":
	case "rest":
		if _, err := url.ParseRequestURI(c.RestBaseURL); err != nil {
			return fmt.Errorf("REST_BASE_URL must be an absolute url for the rest backend: %w", err)
		}
	default:
		return fmt.Errorf("unknown REMOTE_BACKEND %q", c.RemoteBackend)
	}
	if c.RestRatePerSec <= 0 {
		return fmt.Errorf("REST_RATE_PER_SEC must be positive")
	}
	return nil
}
