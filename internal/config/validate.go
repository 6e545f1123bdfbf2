package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	logx "cronsql/pkg/logx"
)

// DefaultSchedulerSpec triggers a cycle every five minutes.
const DefaultSchedulerSpec = "*/5 * * * *"

// ApplyDefaults fills omitted fields in place.
func ApplyDefaults(cfg *Config) {
	if cfg == nil {
		return
	}
	if strings.TrimSpace(cfg.Logging.Level) == "" {
		cfg.Logging.Level = "info"
	}
	if strings.TrimSpace(cfg.Scheduler.Spec) == "" {
		cfg.Scheduler.Spec = DefaultSchedulerSpec
	}
	if strings.TrimSpace(cfg.Storage.Driver) == "" {
		cfg.Storage.Driver = "file"
	}
	if strings.EqualFold(strings.TrimSpace(cfg.Storage.Driver), "file") && strings.TrimSpace(cfg.Storage.Path) == "" {
		cfg.Storage.Path = "./cronsql_store"
	}
}

// Validate checks everything that can be checked without touching the network.
// Scheduler specs are parsed by the caller, which owns the cron parser.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error

	if lvl := strings.TrimSpace(cfg.Logging.Level); lvl != "" && !logx.ValidLevel(lvl) {
		errs = append(errs, fmt.Errorf("logging.level: unknown level %q", lvl))
	}

	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			errs = append(errs, fmt.Errorf("scheduler.timezone: %w", err))
		}
	}

	if strings.TrimSpace(cfg.Queries.BasePath) == "" {
		errs = append(errs, errors.New("queries.base_path is required"))
	}

	if strings.TrimSpace(cfg.Database.Driver) == "" {
		errs = append(errs, errors.New("database.driver is required"))
	}
	if strings.TrimSpace(cfg.Database.DSN) == "" {
		errs = append(errs, errors.New("database.dsn is required"))
	}
	if _, err := ParseDurationField("database.statement_timeout", cfg.Database.StatementTimeout); err != nil {
		errs = append(errs, err)
	}
	if cfg.Database.StatementsPerSec < 0 {
		errs = append(errs, errors.New("database.statements_per_sec must be >= 0"))
	}
	if cfg.Database.MaxOpenConns < 0 {
		errs = append(errs, errors.New("database.max_open_conns must be >= 0"))
	}

	switch d := strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)); d {
	case "", "file", "sqlite", "sqlite3":
		if d != "" && strings.TrimSpace(cfg.Storage.Path) == "" {
			errs = append(errs, fmt.Errorf("storage.path is required for driver %q", d))
		}
	case "redis":
		if strings.TrimSpace(cfg.Storage.Redis.Addr) == "" {
			errs = append(errs, errors.New("storage.redis.addr is required for driver \"redis\""))
		}
	case "memory":
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", d))
	}
	if _, err := ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}
