package config

// Config is the whole runner configuration. Unknown keys are rejected on load.
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Queries   QueriesConfig   `json:"queries"`
	Database  DatabaseConfig  `json:"database"`
	Storage   StorageConfig   `json:"storage"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	JSON    bool        `json:"json,omitempty"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// SchedulerConfig controls when cycles are triggered.
//
// Spec accepts a cron expression, a descriptor ("@hourly", "@every 5m"),
// or an interval ("5m", "every:5m", "00:05"). Default "*/5 * * * *".
type SchedulerConfig struct {
	Enabled    bool   `json:"enabled"`
	Spec       string `json:"spec,omitempty"`
	Timezone   string `json:"timezone,omitempty"`
	RunOnStart bool   `json:"run_on_start,omitempty"`
}

// QueriesConfig locates the tier folders and feeds the token substitution.
type QueriesConfig struct {
	BasePath string `json:"base_path"`
	Prefix   string `json:"prefix"`
	WWWRoot  string `json:"wwwroot"`
}

// DatabaseConfig selects the target database.
//
// Example:
//
//	"database": { "driver": "postgres", "dsn": "postgres://lms@db/lms?sslmode=disable" }
type DatabaseConfig struct {
	Driver string `json:"driver"`
	DSN    string `json:"dsn"` // never logged

	// StatementTimeout is a Go duration string. "0s" or empty disables it.
	StatementTimeout string  `json:"statement_timeout,omitempty"`
	StatementsPerSec float64 `json:"statements_per_sec,omitempty"`
	MaxOpenConns     int     `json:"max_open_conns,omitempty"`
}

// StorageConfig controls the throttle store.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./cronsql_store" }
type StorageConfig struct {
	Driver      string             `json:"driver"`
	Path        string             `json:"path,omitempty"`
	BusyTimeout string             `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
	Redis       StorageRedisConfig `json:"redis,omitempty"`
}

type StorageRedisConfig struct {
	Addr      string `json:"addr,omitempty"`
	Password  string `json:"password,omitempty"` // never logged
	DB        int    `json:"db,omitempty"`
	KeyPrefix string `json:"key_prefix,omitempty"`
}
