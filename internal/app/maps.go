package app

import (
	"fmt"
	"strings"
	"time"

	"cronsql/internal/config"
	"cronsql/internal/cronsql"
	"cronsql/internal/dbexec"
	"cronsql/internal/sqlprep"
	"cronsql/internal/storage"
	"cronsql/internal/task/scheduler"
	logx "cronsql/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		JSON:    cfg.Logging.JSON,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "file":
		return storage.Config{Driver: "file", Path: path}, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: busy}, nil
	case "redis":
		rc := storage.RedisConfig{
			Addr:     strings.TrimSpace(sc.Redis.Addr),
			Password: sc.Redis.Password,
			DB:       sc.Redis.DB,
		}
		if p := strings.TrimSpace(sc.Redis.KeyPrefix); p != "" {
			rc.Key = strings.TrimSuffix(p, ":") + ":next_run"
		}
		return storage.Config{Driver: "redis", Redis: rc}, nil
	case "memory":
		return storage.Config{Driver: "memory"}, nil
	case "", "none":
		return storage.Config{}, fmt.Errorf("storage.driver is required: the throttle store cannot be disabled")
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapDatabaseConfig(cfg *config.Config) (dbexec.Config, error) {
	dc := cfg.Database
	if _, err := dbexec.DriverName(dc.Driver); err != nil {
		return dbexec.Config{}, err
	}
	timeout, err := config.ParseDurationField("database.statement_timeout", dc.StatementTimeout)
	if err != nil {
		return dbexec.Config{}, err
	}
	return dbexec.Config{
		Driver:           dc.Driver,
		DSN:              dc.DSN,
		StatementTimeout: timeout,
		StatementsPerSec: dc.StatementsPerSec,
		MaxOpenConns:     dc.MaxOpenConns,
	}, nil
}

func mapSchedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	sc := scheduler.Config{
		Enabled:  cfg.Scheduler.Enabled,
		Spec:     strings.TrimSpace(cfg.Scheduler.Spec),
		Timezone: strings.TrimSpace(cfg.Scheduler.Timezone),
	}
	if sc.Spec == "" {
		sc.Spec = config.DefaultSchedulerSpec
	}
	if _, err := scheduler.ParseSchedule(sc.Spec); err != nil {
		return scheduler.Config{}, fmt.Errorf("scheduler.spec: %w", err)
	}
	return sc, nil
}

func mapRunnerOptions(cfg *config.Config) cronsql.Options {
	return cronsql.Options{
		BasePath: cfg.Queries.BasePath,
		SQL: sqlprep.Options{
			TablePrefix: cfg.Queries.Prefix,
			WWWRoot:     cfg.Queries.WWWRoot,
		},
	}
}

// validateMapped runs every mapper so a reload is rejected before anything is applied.
func validateMapped(cfg *config.Config) error {
	if _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, err := mapDatabaseConfig(cfg); err != nil {
		return err
	}
	if _, err := mapSchedulerConfig(cfg); err != nil {
		return err
	}
	return nil
}
