/*
Package config loads service configuration.

SOURCES (highest precedence first):
  1. Command-line flags bound by the caller (cobra)
  2. Environment variables, prefix INVOICE_CONTROL_
  3. .env and .env.local in the working directory
  4. Defaults below

ENVIRONMENT:
  INVOICE_CONTROL_PORT                HTTP port (8080)
  INVOICE_CONTROL_DB                  SQLite path, ":memory:" allowed
  INVOICE_CONTROL_LOG_LEVEL           trace|debug|info|warn|error
  INVOICE_CONTROL_LOG_FORMAT          json|console
  INVOICE_CONTROL_THRESHOLDS_FILE     control policy (JSON or YAML)
  INVOICE_CONTROL_SCHEDULER_ENABLED   auto-control received invoices
  INVOICE_CONTROL_SCHEDULER_INTERVAL  e.g. 1m, 30s
  INVOICE_CONTROL_CORS_ORIGINS        comma separated
*/
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const EnvPrefix = "INVOICE_CONTROL"

// Keys double as flag names.
const (
	KeyPort              = "port"
	KeyDB                = "db"
	KeyLogLevel          = "log-level"
	KeyLogFormat         = "log-format"
	KeyThresholdsFile    = "thresholds-file"
	KeySchedulerEnabled  = "scheduler-enabled"
	KeySchedulerInterval = "scheduler-interval"
	KeyCORSOrigins       = "cors-origins"
)

// Config holds the service configuration.
type Config struct {
	Port              int
	DBPath            string
	LogLevel          string
	LogFormat         string
	ThresholdsFile    string
	SchedulerEnabled  bool
	SchedulerInterval time.Duration
	CORSOrigins       []string
}

// Addr is the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault(KeyPort, 8080)
	v.SetDefault(KeyDB, "invoice-control.db")
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFormat, "json")
	v.SetDefault(KeyThresholdsFile, "")
	v.SetDefault(KeySchedulerEnabled, false)
	v.SetDefault(KeySchedulerInterval, time.Minute)
	v.SetDefault(KeyCORSOrigins, "http://localhost:5173,http://localhost:8080")
}

// loadEnvFiles loads .env files; .env.local wins over .env. Missing files
// are fine.
func loadEnvFiles() {
	_ = godotenv.Overload(".env.local")
	_ = godotenv.Load(".env")
}

// Load reads configuration. flags may be nil.
func Load(flags *pflag.FlagSet) (*Config, error) {
	loadEnvFiles()

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("bind flags: %w", err)
		}
	}

	cfg := &Config{
		Port:              v.GetInt(KeyPort),
		DBPath:            v.GetString(KeyDB),
		LogLevel:          v.GetString(KeyLogLevel),
		LogFormat:         v.GetString(KeyLogFormat),
		ThresholdsFile:    v.GetString(KeyThresholdsFile),
		SchedulerEnabled:  v.GetBool(KeySchedulerEnabled),
		SchedulerInterval: v.GetDuration(KeySchedulerInterval),
		CORSOrigins:       splitList(v.GetString(KeyCORSOrigins)),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks ranges.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.DBPath == "" {
		return fmt.Errorf("database path is empty")
	}
	if c.SchedulerEnabled && c.SchedulerInterval <= 0 {
		return fmt.Errorf("scheduler interval must be positive, got %s", c.SchedulerInterval)
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
