package config

import (
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	AlertsFile string `env:"ALERTS_FILE" envDefault:"/var/ossec/logs/alerts/alerts.json"`
	DBFile     string `env:"DB_FILE" envDefault:"/opt/siem-backend/alerts.db"`

	RetentionLimit   int `env:"RETENTION_LIMIT" envDefault:"10000"`
	StartupLoadLimit int `env:"STARTUP_LOAD_LIMIT" envDefault:"50"`
	PruneInterval    int `env:"PRUNE_INTERVAL" envDefault:"100"`

	CorrelationWindowSeconds int `env:"CORRELATION_WINDOW_SECONDS" envDefault:"300"`
	CorrelationThreshold     int `env:"CORRELATION_THRESHOLD" envDefault:"5"`

	HTTPAddr     string        `env:"HTTP_ADDR" envDefault:":9001"`
	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
	IdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// Overrides holds CLI flag values that take priority over env vars.
type Overrides struct {
	EnvFile    string
	HTTPAddr   string
	LogLevel   string
	AlertsFile string
	DBFile     string
}

// Load reads configuration from .env file, environment variables, and CLI
// overrides. Priority: CLI flags > environment variables > .env file >
// struct defaults.
func Load(overrides Overrides) (*Config, error) {
	envFile := overrides.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		_ = godotenv.Load(envFile)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	if overrides.HTTPAddr != "" {
		cfg.HTTPAddr = overrides.HTTPAddr
	}
	if overrides.LogLevel != "" {
		cfg.LogLevel = overrides.LogLevel
	}
	if overrides.AlertsFile != "" {
		cfg.AlertsFile = overrides.AlertsFile
	}
	if overrides.DBFile != "" {
		cfg.DBFile = overrides.DBFile
	}

	return cfg, nil
}
