package storage

import (
	"errors"
	"time"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrClosed   = errors.New("storage closed")
)

// Config configures storage.
//
// Driver values:
//   - "file": JSONL journal + snapshot under Path
//   - "sqlite": SQLite database file at Path
//   - "redis": Redis hash (Redis.Addr required)
//   - "memory": in-process map, lost on restart
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
	Redis       RedisConfig
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// Key is the hash holding all records. Default "cronsql:next_run".
	Key string
}

// Record is one persisted throttle entry.
type Record struct {
	Key     string `json:"key"`
	NextRun int64  `json:"next_run"`
}
