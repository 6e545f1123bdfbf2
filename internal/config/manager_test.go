package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const validYAML = `
logging:
  level: debug
  console: true
scheduler:
  enabled: true
  timezone: UTC
queries:
  base_path: ./queries
  prefix: mdl_
  wwwroot: https://lms.example.org
database:
  driver: postgres
  dsn: postgres://lms@localhost/lms?sslmode=disable
  statement_timeout: 30s
storage:
  driver: sqlite
  path: ./state.db
`

func writeConfig(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func TestLoadYAMLAppliesDefaults(t *testing.T) {
	t.Parallel()
	p := writeConfig(t, t.TempDir(), "cronsql.yaml", validYAML)
	m := NewConfigManager(p)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Scheduler.Spec != DefaultSchedulerSpec {
		t.Fatalf("scheduler.spec = %q, want default", cfg.Scheduler.Spec)
	}
	if cfg.Queries.Prefix != "mdl_" || cfg.Database.Driver != "postgres" || cfg.Storage.Path != "./state.db" {
		t.Fatalf("decoded = %+v", cfg)
	}
	if m.Get() != cfg {
		t.Fatal("Get should return the committed config")
	}
}

func TestDecodeRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		path string
		body string
	}{
		{name: "yaml", path: "c.yaml", body: "queries:\n  base_path: q\n  table_prefix: x\n"},
		{name: "json", path: "c.json", body: `{"queries":{"base_path":"q"},"plugins":{}}`},
		{name: "trailing json", path: "c.json", body: `{} {}`},
	}
	for _, tt := range tests {
		if _, err := Decode(tt.path, []byte(tt.body)); err == nil {
			t.Fatalf("%s: expected decode error", tt.name)
		}
	}
}

func TestDecodeEmptyYAML(t *testing.T) {
	t.Parallel()
	cfg, err := Decode("empty.yml", nil)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if cfg.Storage.Driver != "file" || cfg.Storage.Path == "" {
		t.Fatalf("storage defaults = %+v", cfg.Storage)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	base := func() *Config {
		c := &Config{
			Queries:  QueriesConfig{BasePath: "/srv/queries"},
			Database: DatabaseConfig{Driver: "sqlite", DSN: "target.db"},
		}
		ApplyDefaults(c)
		return c
	}
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "ok", mutate: func(*Config) {}},
		{name: "level", mutate: func(c *Config) { c.Logging.Level = "loud" }, wantErr: "logging.level"},
		{name: "timezone", mutate: func(c *Config) { c.Scheduler.Timezone = "Mars/Olympus" }, wantErr: "scheduler.timezone"},
		{name: "base path", mutate: func(c *Config) { c.Queries.BasePath = " " }, wantErr: "queries.base_path"},
		{name: "dsn", mutate: func(c *Config) { c.Database.DSN = "" }, wantErr: "database.dsn"},
		{name: "timeout", mutate: func(c *Config) { c.Database.StatementTimeout = "soon" }, wantErr: "database.statement_timeout"},
		{name: "rate", mutate: func(c *Config) { c.Database.StatementsPerSec = -1 }, wantErr: "statements_per_sec"},
		{name: "redis addr", mutate: func(c *Config) { c.Storage.Driver = "redis" }, wantErr: "storage.redis.addr"},
		{name: "storage driver", mutate: func(c *Config) { c.Storage.Driver = "etcd" }, wantErr: "storage.driver"},
		{name: "memory", mutate: func(c *Config) { c.Storage = StorageConfig{Driver: "memory"} }},
	}
	for _, tt := range tests {
		c := base()
		tt.mutate(c)
		err := Validate(c)
		if tt.wantErr == "" {
			if err != nil {
				t.Fatalf("%s: unexpected error %v", tt.name, err)
			}
			continue
		}
		if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
			t.Fatalf("%s: err = %v, want mention of %q", tt.name, err, tt.wantErr)
		}
	}
}

func TestReloadPublishesOnlyChanges(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	p := writeConfig(t, dir, "cronsql.yaml", validYAML)
	m := NewConfigManager(p)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)
	ctx := context.Background()

	if published, err := m.Reload(ctx); err != nil || published {
		t.Fatalf("unchanged reload = %v, %v", published, err)
	}

	writeConfig(t, dir, "cronsql.yaml", strings.Replace(validYAML, "prefix: mdl_", "prefix: lms_", 1))
	if published, err := m.Reload(ctx); err != nil || !published {
		t.Fatalf("changed reload = %v, %v", published, err)
	}
	got := <-sub
	if got.Queries.Prefix != "lms_" {
		t.Fatalf("published prefix = %q", got.Queries.Prefix)
	}

	m.SetValidator(func(context.Context, *Config) error { return errors.New("nope") })
	writeConfig(t, dir, "cronsql.yaml", strings.Replace(validYAML, "prefix: mdl_", "prefix: x_", 1))
	if published, err := m.Reload(ctx); err == nil || published {
		t.Fatalf("rejected reload = %v, %v", published, err)
	}
	if m.Get().Queries.Prefix != "lms_" {
		t.Fatal("rejected config must not be committed")
	}
}

func TestPublishKeepsNewest(t *testing.T) {
	t.Parallel()
	m := NewConfigManager("unused.yaml")
	sub := m.Subscribe(1)
	a, b := &Config{}, &Config{}
	m.publish(a)
	m.publish(b)
	if got := <-sub; got != b {
		t.Fatal("slow subscriber should receive the newest config")
	}
	m.Unsubscribe(sub)
	if _, ok := <-sub; ok {
		t.Fatal("unsubscribed channel should be closed")
	}
}

func TestWatchReloadsOnWrite(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	p := writeConfig(t, dir, "cronsql.yaml", validYAML)
	m := NewConfigManager(p)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	sub := m.Subscribe(1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		_ = m.Watch(ctx)
		close(done)
	}()

	deadline := time.After(10 * time.Second)
	tick := time.NewTicker(300 * time.Millisecond)
	defer tick.Stop()
	body := strings.Replace(validYAML, "level: debug", "level: warn", 1)
	for {
		select {
		case cfg := <-sub:
			if cfg.Logging.Level != "warn" {
				t.Fatalf("level = %q", cfg.Logging.Level)
			}
			cancel()
			<-done
			return
		case <-tick.C:
			// Rewrite until the watcher is up and sees it.
			writeConfig(t, dir, "cronsql.yaml", body)
		case <-deadline:
			t.Fatal("watch did not publish the change")
		}
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	oldCfg := &Config{
		Queries:  QueriesConfig{BasePath: "/q", Prefix: "mdl_"},
		Database: DatabaseConfig{Driver: "postgres", DSN: "postgres://secret@db/lms"},
		Storage:  StorageConfig{Driver: "file", Path: "./s"},
	}
	newCfg := *oldCfg
	newCfg.Queries.Prefix = "lms_"
	newCfg.Database.DSN = "postgres://other@db/lms"

	changed, _, restart := SummarizeConfigChange(oldCfg, &newCfg)
	if strings.Join(changed, ",") != "database,queries" {
		t.Fatalf("changed = %v", changed)
	}
	if strings.Join(restart, ",") != "database.dsn" {
		t.Fatalf("restart = %v", restart)
	}

	newCfg = *oldCfg
	newCfg.Storage.Driver = "sqlite"
	if _, _, restart := SummarizeConfigChange(oldCfg, &newCfg); len(restart) != 1 || restart[0] != "storage" {
		t.Fatalf("storage restart = %v", restart)
	}
	if changed, _, _ := SummarizeConfigChange(nil, nil); len(changed) != 0 {
		t.Fatalf("nil configs changed = %v", changed)
	}
}
