package storage

import (
	"context"
	"errors"
	"strings"

	logx "cronsql/pkg/logx"
)

// Store is the throttle persistence API used by the runner.
//
// GetNextRun returns ok=false when the key has never been written.
type Store interface {
	GetNextRun(ctx context.Context, key string) (nextRun int64, ok bool, err error)
	SetNextRun(ctx context.Context, key string, nextRun int64) error
	Close() error
}

// Lister is implemented by stores that can enumerate their records.
type Lister interface {
	List(ctx context.Context) ([]Record, error)
}

// Open initializes the configured store.
// It returns (nil, ErrDisabled) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, ErrDisabled
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "redis":
		return openRedis(cfg, log)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
