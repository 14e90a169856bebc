// Package config loads process configuration from the environment.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
	cronlib "github.com/robfig/cron/v3"
)

// CronParser parses standard 5-field cron expressions (minute, hour, dom, month, dow).
var CronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow,
)

// Config is the server and CLI configuration.
type Config struct {
	Addr        string   `env:"AURIC_ADDR" envDefault:":8080"`
	DatabaseURL string   `env:"DATABASE_URL"`
	SQLitePath  string   `env:"AURIC_SQLITE_PATH" envDefault:"auric.db"`
	LogMode     string   `env:"AURIC_LOG_MODE" envDefault:"development"`
	CORSOrigins []string `env:"AURIC_CORS_ORIGINS" envSeparator:"," envDefault:"http://localhost:5173,http://localhost:8080"`
	DBMaxConns  int32    `env:"AURIC_DB_MAX_CONNS" envDefault:"20"`

	ScenariosEnabled bool `env:"AURIC_SCENARIOS_ENABLED" envDefault:"false"`

	GoalRolloverEnabled bool   `env:"AURIC_GOAL_ROLLOVER_ENABLED" envDefault:"true"`
	GoalRolloverCron    string `env:"AURIC_GOAL_ROLLOVER_CRON" envDefault:"0 0 1 * *"`
}

// UsePostgres reports whether a PostgreSQL URL is configured.
func (c Config) UsePostgres() bool {
	return c.DatabaseURL != ""
}

// Load parses the environment and validates the result.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values env cannot check by type alone.
func (c Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("AURIC_ADDR is required")
	}
	if !c.UsePostgres() && c.SQLitePath == "" {
		return fmt.Errorf("one of DATABASE_URL or AURIC_SQLITE_PATH is required")
	}
	if c.DBMaxConns <= 0 {
		return fmt.Errorf("AURIC_DB_MAX_CONNS must be positive, got %d", c.DBMaxConns)
	}
	if c.GoalRolloverEnabled {
		if _, err := CronParser.Parse(c.GoalRolloverCron); err != nil {
			return fmt.Errorf("AURIC_GOAL_ROLLOVER_CRON %q: %w", c.GoalRolloverCron, err)
		}
	}
	return nil
}
