package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	logx "cronsql/pkg/logx"
)

func openForTest(t *testing.T, driver string) (Store, Config) {
	t.Helper()
	cfg := Config{Driver: driver}
	switch driver {
	case "file":
		cfg.Path = filepath.Join(t.TempDir(), "state", "cronsql.json")
	case "sqlite":
		cfg.Path = filepath.Join(t.TempDir(), "cronsql.db")
	}
	st, err := Open(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("Open(%s) error: %v", driver, err)
	}
	return st, cfg
}

func TestStoreGetSet(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"memory", "file", "sqlite"} {
		driver := driver
		t.Run(driver, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			st, _ := openForTest(t, driver)
			defer st.Close()

			if _, ok, err := st.GetNextRun(ctx, "hourly/a.sql"); err != nil || ok {
				t.Fatalf("GetNextRun on empty store = ok:%v err:%v", ok, err)
			}
			if err := st.SetNextRun(ctx, "hourly/a.sql", 1700000000); err != nil {
				t.Fatalf("SetNextRun error: %v", err)
			}
			if err := st.SetNextRun(ctx, "hourly/a.sql", 1700003600); err != nil {
				t.Fatalf("SetNextRun overwrite error: %v", err)
			}
			if err := st.SetNextRun(ctx, "daily/b.sql", 42); err != nil {
				t.Fatalf("SetNextRun error: %v", err)
			}
			v, ok, err := st.GetNextRun(ctx, "hourly/a.sql")
			if err != nil || !ok || v != 1700003600 {
				t.Fatalf("GetNextRun = %d ok:%v err:%v, want 1700003600", v, ok, err)
			}

			ls, isLister := st.(Lister)
			if !isLister {
				t.Fatalf("%s store does not implement Lister", driver)
			}
			recs, err := ls.List(ctx)
			if err != nil {
				t.Fatalf("List error: %v", err)
			}
			if len(recs) != 2 || recs[0].Key != "daily/b.sql" || recs[1].Key != "hourly/a.sql" {
				t.Fatalf("List = %+v", recs)
			}
		})
	}
}

func TestStorePersistsAcrossReopen(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"file", "sqlite"} {
		driver := driver
		t.Run(driver, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			st, cfg := openForTest(t, driver)
			if err := st.SetNextRun(ctx, "weekly/report.sql", 123); err != nil {
				t.Fatalf("SetNextRun error: %v", err)
			}
			if err := st.Close(); err != nil {
				t.Fatalf("Close error: %v", err)
			}

			st2, err := Open(cfg, logx.Nop())
			if err != nil {
				t.Fatalf("reopen error: %v", err)
			}
			defer st2.Close()
			v, ok, err := st2.GetNextRun(ctx, "weekly/report.sql")
			if err != nil || !ok || v != 123 {
				t.Fatalf("after reopen GetNextRun = %d ok:%v err:%v", v, ok, err)
			}
		})
	}
}

func TestFileStoreReplaysJournalWithoutClose(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cronsql.json")
	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	if err := st.SetNextRun(ctx, "monthly/x.sql", 7); err != nil {
		t.Fatalf("SetNextRun error: %v", err)
	}
	// Simulate a crash: append a torn line and reopen without Close.
	journal := filepath.Join(filepath.Dir(path), "cronsql.next_run.journal.jsonl")
	f, err := os.OpenFile(journal, os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	_, _ = f.WriteString(`{"key":"monthly/x.sql","next_ru`)
	_ = f.Close()

	st2, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("reopen error: %v", err)
	}
	defer st2.Close()
	v, ok, err := st2.GetNextRun(ctx, "monthly/x.sql")
	if err != nil || !ok || v != 7 {
		t.Fatalf("GetNextRun = %d ok:%v err:%v", v, ok, err)
	}
}

func TestFileStoreKeepsWritesAfterTornJournal(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "cronsql.json")
	journal := filepath.Join(dir, "cronsql.next_run.journal.jsonl")
	if err := os.WriteFile(journal, []byte(`{"key":"hourly/a.sql","next_run":1`), 0o600); err != nil {
		t.Fatalf("write journal: %v", err)
	}

	st, err := openFile(Config{Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("openFile error: %v", err)
	}
	if err := st.SetNextRun(ctx, "hourly/b.sql", 1700003600); err != nil {
		t.Fatalf("SetNextRun error: %v", err)
	}
	// Crash: drop the handle without the compacting Close.
	_ = st.(*fileStore).journalFile.Close()

	st2, err := openFile(Config{Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("reopen error: %v", err)
	}
	defer st2.Close()
	v, ok, err := st2.GetNextRun(ctx, "hourly/b.sql")
	if err != nil || !ok || v != 1700003600 {
		t.Fatalf("GetNextRun(hourly/b.sql) = %d ok:%v err:%v", v, ok, err)
	}
	if _, ok, _ := st2.GetNextRun(ctx, "hourly/a.sql"); ok {
		t.Fatal("torn record must not be applied")
	}
}

func TestFileStoreCompacts(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cronsql.json")
	st, err := openFile(Config{Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("openFile error: %v", err)
	}
	fs := st.(*fileStore)
	fs.compactEvery = 2
	_ = fs.SetNextRun(ctx, "a", 1)
	_ = fs.SetNextRun(ctx, "b", 2)

	if _, err := os.Stat(fs.snapshotPath); err != nil {
		t.Fatalf("snapshot not written after compaction: %v", err)
	}
	info, err := fs.journalFile.Stat()
	if err != nil {
		t.Fatalf("stat journal: %v", err)
	}
	if info.Size() != 0 {
		t.Fatalf("journal size = %d after compaction, want 0", info.Size())
	}
	_ = st.Close()
}

func TestClosedStoreErrors(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	for _, driver := range []string{"memory", "file"} {
		st, _ := openForTest(t, driver)
		_ = st.Close()
		if err := st.SetNextRun(ctx, "k", 1); !errors.Is(err, ErrClosed) {
			t.Fatalf("%s: SetNextRun after Close = %v, want ErrClosed", driver, err)
		}
		if _, _, err := st.GetNextRun(ctx, "k"); !errors.Is(err, ErrClosed) {
			t.Fatalf("%s: GetNextRun after Close = %v, want ErrClosed", driver, err)
		}
	}
}

func TestOpenDriverSelection(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{}, logx.Nop()); !errors.Is(err, ErrDisabled) {
		t.Fatalf("empty driver err = %v, want ErrDisabled", err)
	}
	if _, err := Open(Config{Driver: "none"}, logx.Nop()); !errors.Is(err, ErrDisabled) {
		t.Fatalf("none driver err = %v, want ErrDisabled", err)
	}
	if _, err := Open(Config{Driver: "etcd"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
	if _, err := Open(Config{Driver: "file"}, logx.Nop()); err == nil {
		t.Fatal("expected error for file driver without path")
	}
	if _, err := Open(Config{Driver: "sqlite"}, logx.Nop()); err == nil {
		t.Fatal("expected error for sqlite driver without path")
	}
	if _, err := Open(Config{Driver: "redis"}, logx.Nop()); err == nil {
		t.Fatal("expected error for redis driver without addr")
	}
}

func TestParseNextRun(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw  string
		want int64
		ok   bool
	}{
		{raw: "1700000000", want: 1700000000, ok: true},
		{raw: " 5 ", want: 5, ok: true},
		{raw: "", ok: false},
		{raw: "soon", ok: false},
	}
	for _, tt := range tests {
		v, ok, err := parseNextRun(tt.raw)
		if err != nil {
			t.Fatalf("parseNextRun(%q) error: %v", tt.raw, err)
		}
		if ok != tt.ok || v != tt.want {
			t.Fatalf("parseNextRun(%q) = %d,%v want %d,%v", tt.raw, v, ok, tt.want, tt.ok)
		}
	}
}

func TestNewRedisStoreDefaultKey(t *testing.T) {
	t.Parallel()
	s := newRedisStore(nil, "  ", logx.Nop())
	if s.key != defaultRedisKey {
		t.Fatalf("key = %q, want %q", s.key, defaultRedisKey)
	}
}
