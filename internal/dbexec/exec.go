package dbexec

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/ClickHouse/clickhouse-go/v2"
	_ "github.com/lib/pq"
	"golang.org/x/time/rate"
	_ "modernc.org/sqlite"

	logx "cronsql/pkg/logx"
)

// Config configures the statement executor.
type Config struct {
	Driver string
	DSN    string

	// StatementTimeout bounds each statement. 0 disables the bound.
	StatementTimeout time.Duration
	// StatementsPerSec paces execution. 0 means unlimited.
	StatementsPerSec float64
	MaxOpenConns     int
}

// Executor runs one statement at a time.
type Executor struct {
	db  *sql.DB
	log logx.Logger

	mu      sync.Mutex
	timeout time.Duration
	limiter *rate.Limiter
}

// DriverName maps config aliases to registered database/sql driver names.
func DriverName(driver string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "sqlite", "sqlite3":
		return "sqlite", nil
	case "postgres", "postgresql", "pgsql", "pq":
		return "postgres", nil
	case "clickhouse", "ch":
		return "clickhouse", nil
	case "":
		return "", errors.New("database.driver is required")
	default:
		return "", fmt.Errorf("unknown database.driver: %s", driver)
	}
}

// Open connects to the configured database and verifies the connection.
func Open(ctx context.Context, cfg Config, log logx.Logger) (*Executor, error) {
	name, err := DriverName(cfg.Driver)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, errors.New("database.dsn is required")
	}
	db, err := sql.Open(name, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	} else if name == "sqlite" {
		db.SetMaxOpenConns(1)
	}

	pctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", name, err)
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	log.Info("database connected", logx.String("driver", name))
	return New(db, cfg, log), nil
}

// New wraps an existing handle.
func New(db *sql.DB, cfg Config, log logx.Logger) *Executor {
	if log.IsZero() {
		log = logx.Nop()
	}
	e := &Executor{db: db, log: log}
	e.Apply(cfg)
	return e
}

// Apply updates timeout and pacing at runtime. Driver/DSN changes need a restart.
func (e *Executor) Apply(cfg Config) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.timeout = cfg.StatementTimeout
	if cfg.StatementsPerSec > 0 {
		burst := int(cfg.StatementsPerSec)
		if burst < 1 {
			burst = 1
		}
		e.limiter = rate.NewLimiter(rate.Limit(cfg.StatementsPerSec), burst)
	} else {
		e.limiter = nil
	}
}

// Exec runs one statement. The statement must already be preprocessed.
func (e *Executor) Exec(ctx context.Context, stmt string) error {
	e.mu.Lock()
	timeout := e.timeout
	lim := e.limiter
	e.mu.Unlock()

	if lim != nil {
		if err := lim.Wait(ctx); err != nil {
			return err
		}
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	_, err := e.db.ExecContext(ctx, stmt)
	if e.log.Enabled(logx.LevelTrace) {
		e.log.Trace("statement executed", logx.Duration("took", time.Since(start)), logx.Bool("ok", err == nil))
	}
	return err
}

// DB exposes the underlying handle (tests, diagnostics).
func (e *Executor) DB() *sql.DB { return e.db }

func (e *Executor) Close() error {
	if e == nil || e.db == nil {
		return nil
	}
	return e.db.Close()
}
