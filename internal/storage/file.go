package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	logx "cronsql/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.next_run.snapshot.json (periodic snapshot)
//   - <prefix>.next_run.journal.jsonl (append-only journal)
//
// The journal is compacted into the snapshot every compactEvery writes.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	snapshotPath string
	journalFile  *os.File
	records      map[string]int64

	writes       int
	compactEvery int
}

const defaultCompactEvery = 1000

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	snapPath := prefix + ".next_run.snapshot.json"
	journalPath := prefix + ".next_run.journal.jsonl"

	records := map[string]int64{}
	if err := loadSnapshot(snapPath, records); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("throttle snapshot unreadable; starting from journal", logx.String("path", snapPath), logx.Err(err))
	}
	torn, err := replayJournal(journalPath, records)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("throttle journal unreadable", logx.String("path", journalPath), logx.Err(err))
	}

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}

	s := &fileStore{
		log:          log,
		snapshotPath: snapPath,
		journalFile:  jf,
		records:      records,
		compactEvery: defaultCompactEvery,
	}
	// New records must never be appended after a partial line.
	if torn {
		log.Warn("throttle journal has a torn record; compacting", logx.String("path", journalPath))
		if err := s.compactLocked(); err != nil {
			_ = jf.Close()
			return nil, err
		}
	}

	log.Debug("file store opened", logx.String("snapshot", snapPath), logx.Int("records", len(records)))
	return s, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return nil
	}
	// Leave a fresh snapshot behind so the next start doesn't replay a long journal.
	cerr := s.compactLocked()
	err := s.journalFile.Close()
	s.journalFile = nil
	if cerr != nil {
		return cerr
	}
	return err
}

func (s *fileStore) SetNextRun(ctx context.Context, key string, nextRun int64) error {
	_ = ctx
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return ErrClosed
	}

	enc := json.NewEncoder(s.journalFile)
	if err := enc.Encode(Record{Key: key, NextRun: nextRun}); err != nil {
		return err
	}
	if err := s.journalFile.Sync(); err != nil {
		return err
	}
	s.records[key] = nextRun

	s.writes++
	if s.compactEvery > 0 && s.writes%s.compactEvery == 0 {
		// Best-effort compact.
		if err := s.compactLocked(); err != nil {
			s.log.Debug("journal compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) GetNextRun(ctx context.Context, key string) (int64, bool, error) {
	_ = ctx
	key = strings.TrimSpace(key)
	if key == "" {
		return 0, false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return 0, false, ErrClosed
	}
	v, ok := s.records[key]
	return v, ok, nil
}

func (s *fileStore) List(ctx context.Context) ([]Record, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedRecords(s.records), nil
}

func (s *fileStore) compactLocked() error {
	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(s.records); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	if err := s.journalFile.Truncate(0); err != nil {
		return err
	}
	_, err = s.journalFile.Seek(0, 2)
	return err
}

func loadSnapshot(path string, out map[string]int64) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var m map[string]int64
	if err := json.NewDecoder(f).Decode(&m); err != nil {
		return err
	}
	for k, v := range m {
		out[k] = v
	}
	return nil
}

// replayJournal applies journal lines to out. torn reports a line that did not
// decode or a missing final newline.
func replayJournal(path string, out map[string]int64) (torn bool, err error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()
	rd := bufio.NewReader(f)
	for {
		line, rerr := rd.ReadBytes('\n')
		if len(line) > 0 {
			if line[len(line)-1] != '\n' {
				torn = true
			} else {
				var r Record
				if err := json.Unmarshal(line, &r); err != nil {
					torn = true
				} else if r.Key != "" {
					out[r.Key] = r.NextRun
				}
			}
		}
		if errors.Is(rerr, io.EOF) {
			return torn, nil
		}
		if rerr != nil {
			return torn, rerr
		}
	}
}
