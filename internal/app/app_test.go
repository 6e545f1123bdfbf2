package app

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"cronsql/internal/config"
	logx "cronsql/pkg/logx"
)

func baseConfig() *config.Config {
	cfg := &config.Config{
		Queries:  config.QueriesConfig{BasePath: "/srv/queries", Prefix: "mdl_", WWWRoot: "https://lms.example.org"},
		Database: config.DatabaseConfig{Driver: "sqlite", DSN: "target.db", StatementTimeout: "5s"},
	}
	config.ApplyDefaults(cfg)
	return cfg
}

func TestMapStorageConfig(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		in      config.StorageConfig
		driver  string
		key     string
		busy    time.Duration
		wantErr bool
	}{
		{name: "file", in: config.StorageConfig{Driver: "file", Path: "./s"}, driver: "file"},
		{name: "sqlite default busy", in: config.StorageConfig{Driver: "SQLite3", Path: "./s.db"}, driver: "sqlite", busy: time.Second},
		{name: "sqlite busy", in: config.StorageConfig{Driver: "sqlite", Path: "./s.db", BusyTimeout: "3s"}, driver: "sqlite", busy: 3 * time.Second},
		{name: "sqlite no path", in: config.StorageConfig{Driver: "sqlite"}, wantErr: true},
		{name: "redis prefix", in: config.StorageConfig{Driver: "redis", Redis: config.StorageRedisConfig{Addr: "127.0.0.1:6379", KeyPrefix: "lms:"}}, driver: "redis", key: "lms:next_run"},
		{name: "redis default key", in: config.StorageConfig{Driver: "redis", Redis: config.StorageRedisConfig{Addr: "127.0.0.1:6379"}}, driver: "redis"},
		{name: "memory", in: config.StorageConfig{Driver: "memory"}, driver: "memory"},
		{name: "none", in: config.StorageConfig{Driver: "none"}, wantErr: true},
		{name: "unknown", in: config.StorageConfig{Driver: "etcd"}, wantErr: true},
	}
	for _, tt := range tests {
		cfg := baseConfig()
		cfg.Storage = tt.in
		got, err := mapStorageConfig(cfg)
		if tt.wantErr {
			if err == nil {
				t.Fatalf("%s: expected error", tt.name)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%s: %v", tt.name, err)
		}
		if got.Driver != tt.driver || got.Redis.Key != tt.key || got.BusyTimeout != tt.busy {
			t.Fatalf("%s: got %+v", tt.name, got)
		}
	}
}

func TestMapDatabaseAndScheduler(t *testing.T) {
	t.Parallel()
	cfg := baseConfig()
	dc, err := mapDatabaseConfig(cfg)
	if err != nil {
		t.Fatalf("mapDatabaseConfig: %v", err)
	}
	if dc.StatementTimeout != 5*time.Second || dc.DSN != "target.db" {
		t.Fatalf("database = %+v", dc)
	}

	sc, err := mapSchedulerConfig(cfg)
	if err != nil || sc.Spec != config.DefaultSchedulerSpec {
		t.Fatalf("scheduler = %+v, %v", sc, err)
	}

	cfg.Scheduler.Spec = "every other tuesday"
	if err := validateMapped(cfg); err == nil || !strings.Contains(err.Error(), "scheduler.spec") {
		t.Fatalf("validateMapped err = %v", err)
	}
	cfg = baseConfig()
	cfg.Database.Driver = "oracle"
	if err := validateMapped(cfg); err == nil {
		t.Fatal("expected unknown database driver error")
	}

	opt := mapRunnerOptions(baseConfig())
	if opt.BasePath != "/srv/queries" || opt.SQL.TablePrefix != "mdl_" || opt.SQL.WWWRoot != "https://lms.example.org" {
		t.Fatalf("runner options = %+v", opt)
	}
}

func TestRunOnceAgainstSQLite(t *testing.T) {
	dir := t.TempDir()
	queries := filepath.Join(dir, "queries")
	if err := os.MkdirAll(filepath.Join(queries, "hourly"), 0o755); err != nil {
		t.Fatal(err)
	}
	body := "CREATE TABLE IF NOT EXISTS prefix_log (note TEXT);\n" +
		"INSERT INTO prefix_log (note) VALUES ('%%WWWROOT%%');\n"
	if err := os.WriteFile(filepath.Join(queries, "hourly", "log.sql"), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	target := filepath.Join(dir, "target.db")
	cfgBody := `
logging:
  level: error
  console: true
scheduler:
  enabled: false
queries:
  base_path: ` + queries + `
  prefix: mdl_
  wwwroot: https://lms.example.org
database:
  driver: sqlite
  dsn: ` + target + `
storage:
  driver: sqlite
  path: ` + filepath.Join(dir, "state.db") + `
`
	cfgPath := filepath.Join(dir, "cronsql.yaml")
	if err := os.WriteFile(cfgPath, []byte(cfgBody), 0o644); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	a, err := NewApp(ctx, cfgPath)
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	first := a.RunOnce(ctx)
	second := a.RunOnce(ctx)

	var buf bytes.Buffer
	a.log = logx.NewWriter(&buf, "debug")
	a.logStoreRecords(ctx)
	a.logDiagnostics()
	lines := decodeLogLines(t, buf.Bytes())
	if rec := findLog(lines, "throttle record"); rec == nil || rec["key"] != "hourly/log.sql" {
		t.Fatalf("store dump missing hourly/log.sql: %v", lines)
	}
	status := findLog(lines, "runner status")
	if status == nil {
		t.Fatalf("runner status not logged: %v", lines)
	}
	if status["throttled"] != float64(1) || status["running"] != false || status["events_dropped"] != float64(0) {
		t.Fatalf("runner status = %v", status)
	}

	if err := a.Stop(ctx, StopOnceDone); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	if c, f, _ := first.Counts(); c != 1 || f != 0 {
		t.Fatalf("first cycle completed=%d failed=%d: %+v", c, f, first.Failures())
	}
	if _, _, th := second.Counts(); th != 1 {
		t.Fatalf("second cycle throttled = %d, want 1", th)
	}

	db, err := sql.Open("sqlite", target)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	var n int
	var note string
	if err := db.QueryRow("SELECT COUNT(*), MAX(note) FROM mdl_log").Scan(&n, &note); err != nil {
		t.Fatalf("query target: %v", err)
	}
	if n != 1 || note != "https://lms.example.org" {
		t.Fatalf("rows = %d note = %q", n, note)
	}
}

func decodeLogLines(t *testing.T, b []byte) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range bytes.Split(bytes.TrimSpace(b), []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal(line, &m); err != nil {
			t.Fatalf("decode log line %q: %v", line, err)
		}
		out = append(out, m)
	}
	return out
}

func findLog(lines []map[string]any, msg string) map[string]any {
	for _, m := range lines {
		if m["message"] == msg {
			return m
		}
	}
	return nil
}

func TestNewAppRejectsBadConfig(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "cronsql.json")
	if err := os.WriteFile(cfgPath, []byte(`{"queries":{"base_path":"q"},"database":{"driver":"sqlite","dsn":"x.db"},"scheduler":{"spec":"nope"}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewApp(context.Background(), cfgPath); err == nil {
		t.Fatal("expected invalid scheduler spec to fail")
	}
}
