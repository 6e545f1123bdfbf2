package cronsql

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"cronsql/internal/eventbus"
	"cronsql/internal/sqlprep"
	logx "cronsql/pkg/logx"
)

// Event types published on the bus.
const (
	EventCycleFinished = "cronsql.cycle.finished"
	EventFileFailed    = "cronsql.file.failed"
)

// Store is the throttle state the runner needs.
type Store interface {
	GetNextRun(ctx context.Context, key string) (int64, bool, error)
	SetNextRun(ctx context.Context, key string, nextRun int64) error
}

// Execer runs one preprocessed statement.
type Execer interface {
	Exec(ctx context.Context, stmt string) error
}

// Options configures a Runner. Zero values fall back to defaults.
type Options struct {
	// BasePath holds the tier folders.
	BasePath string
	SQL      sqlprep.Options

	// Tiers overrides the fixed tier set (tests only).
	Tiers []Tier
	// Now overrides the clock (tests only).
	Now func() time.Time
}

// Runner performs scan-and-execute cycles.
//
// A Runner refuses to start a cycle while another is in progress, so the
// read-then-write on the throttle store never races with itself.
type Runner struct {
	store Store
	exec  Execer
	log   unitLog
	bus   eventbus.Bus

	mu      sync.RWMutex
	base    string
	prep    *sqlprep.Preprocessor
	tiers   []Tier
	now     func() time.Time
	last    CycleResult
	hasLast bool

	running atomic.Bool
}

// New builds a Runner. bus may be nil.
func New(opt Options, store Store, exec Execer, log logx.Logger, bus eventbus.Bus) *Runner {
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Runner{
		store: store,
		exec:  exec,
		log:   unitLog{log: log},
		bus:   bus,
		tiers: opt.Tiers,
		now:   opt.Now,
	}
	if len(r.tiers) == 0 {
		r.tiers = Tiers()
	}
	if r.now == nil {
		r.now = time.Now
	}
	r.Apply(opt)
	return r
}

// Apply swaps the base path and substitution values. Safe while a cycle runs;
// the running cycle keeps the values it started with.
func (r *Runner) Apply(opt Options) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.base = filepath.Clean(strings.TrimSpace(opt.BasePath))
	r.prep = sqlprep.New(opt.SQL)
}

type cycleState struct {
	base string
	prep *sqlprep.Preprocessor
}

func (r *Runner) state() cycleState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return cycleState{base: r.base, prep: r.prep}
}

// Run performs one full cycle: every tier in order, every due file in each tier.
// File failures are reported in the result and never stop the cycle.
func (r *Runner) Run(ctx context.Context) CycleResult {
	res := CycleResult{Started: r.now()}
	if !r.running.CompareAndSwap(false, true) {
		r.log.warn(depthCycle, "cycle skipped: previous cycle still running")
		res.Finished = res.Started
		res.Err = ErrCycleRunning
		return res
	}
	defer r.running.Store(false)

	st := r.state()
	r.log.start(depthCycle, "processing cron SQL queries", logx.String("base", st.base))

	for _, tier := range r.tiers {
		if err := ctx.Err(); err != nil {
			res.Err = err
			break
		}
		res.Tiers = append(res.Tiers, r.processTier(ctx, st, tier))
	}
	if res.Err == nil {
		res.Err = ctx.Err()
	}

	res.Finished = r.now()
	completed, failed, throttled := res.Counts()
	r.log.finish(depthCycle, "done processing cron SQL queries",
		logx.Int("completed", completed),
		logx.Int("failed", failed),
		logx.Int("throttled", throttled),
		logx.Duration("took", res.Finished.Sub(res.Started)),
	)

	r.mu.Lock()
	r.last = res
	r.hasLast = true
	r.mu.Unlock()

	r.publish(EventCycleFinished, res)
	return res
}

// ProcessTier runs the due files of one tier.
func (r *Runner) ProcessTier(ctx context.Context, tier Tier) TierResult {
	return r.processTier(ctx, r.state(), tier)
}

func (r *Runner) processTier(ctx context.Context, st cycleState, tier Tier) TierResult {
	res := TierResult{Tier: tier}
	r.log.start(depthTier, "processing folder", logx.String("tier", tier.Name))

	files, err := listQueryFiles(filepath.Join(st.base, tier.Name))
	if err != nil {
		res.Err = err
		r.log.warn(depthTier, "cannot list folder", logx.String("tier", tier.Name), logx.Err(err))
	}

	for _, name := range files {
		if ctx.Err() != nil {
			break
		}
		key := tier.Name + "/" + name
		path := filepath.Join(st.base, tier.Name, name)
		fr := r.processFile(ctx, st, tier, key, path)
		res.Files = append(res.Files, fr)
	}

	r.log.finish(depthTier, "done processing folder", logx.String("tier", tier.Name), logx.Int("files", len(res.Files)))
	return res
}

func (r *Runner) processFile(ctx context.Context, st cycleState, tier Tier, key, path string) FileResult {
	now := r.now().Unix()

	next, ok, err := r.store.GetNextRun(ctx, key)
	if err != nil {
		return r.throttleFailure(key, path, fmt.Errorf("%w: get %s: %w", ErrThrottleStore, key, err))
	}
	if !ok {
		next = 0
	}
	if next > now {
		r.log.debug(depthFile, "skip processing file", logx.String("key", key), logx.Int64("next_run", next))
		return FileResult{Key: key, Path: path, Status: StatusThrottled, NextRun: next}
	}

	// Claim the window before executing: a crash mid-file must not re-run it on the next trigger.
	next = now + int64(tier.Interval/time.Second)
	if err := r.store.SetNextRun(ctx, key, next); err != nil {
		return r.throttleFailure(key, path, fmt.Errorf("%w: set %s: %w", ErrThrottleStore, key, err))
	}

	fr := r.executeFile(ctx, st, path, key)
	fr.NextRun = next
	return fr
}

func (r *Runner) throttleFailure(key, path string, err error) FileResult {
	fr := FileResult{Key: key, Path: path, Status: StatusFailed, Err: err}
	r.log.error(depthFile, "error processing file", logx.String("key", key), logx.Err(err))
	r.publish(EventFileFailed, fr)
	return fr
}

// ExecuteFile runs every statement of one file, stopping at the first failure.
// key is only used for reporting.
func (r *Runner) ExecuteFile(ctx context.Context, path, key string) FileResult {
	return r.executeFile(ctx, r.state(), path, key)
}

func (r *Runner) executeFile(ctx context.Context, st cycleState, path, key string) FileResult {
	start := time.Now()
	fr := FileResult{Key: key, Path: path}
	r.log.info(depthFile, "processing file", logx.String("key", key))

	stmts, err := readStatements(path, st.prep)
	if err != nil {
		fr.Err = fmt.Errorf("%w: %w", ErrFileRead, err)
	} else {
		fr.TotalStatements = len(stmts)
		for i, stmt := range stmts {
			if err := r.exec.Exec(ctx, stmt); err != nil {
				fr.Err = fmt.Errorf("%w %d of %d: %w", ErrStatement, i+1, len(stmts), err)
				break
			}
			fr.StatementsApplied++
		}
	}
	fr.Took = time.Since(start)

	if fr.Err != nil {
		fr.Status = StatusFailed
		r.log.error(depthFile, "error processing file",
			logx.String("key", key),
			logx.Int("applied", fr.StatementsApplied),
			logx.Int("total", fr.TotalStatements),
			logx.Err(fr.Err),
		)
		r.publish(EventFileFailed, fr)
		return fr
	}

	fr.Status = StatusCompleted
	r.log.info(depthFile, "done processing file",
		logx.String("key", key),
		logx.Int("statements", fr.StatementsApplied),
		logx.Duration("took", fr.Took),
	)
	return fr
}

// Snapshot returns the last finished cycle and whether one is in progress.
func (r *Runner) Snapshot() (last CycleResult, ok bool, running bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.last, r.hasLast, r.running.Load()
}

func (r *Runner) publish(typ string, data any) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(eventbus.Event{Type: typ, Data: data})
}

// SplitStatements splits file text on ';'. The trailing fragment is kept even
// when empty; callers drop empty statements after preprocessing.
func SplitStatements(text string) []string {
	return strings.Split(text, ";")
}

func readStatements(path string, prep *sqlprep.Preprocessor) ([]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	raw := SplitStatements(string(b))
	out := make([]string, 0, len(raw))
	for _, s := range raw {
		if s = prep.Prepare(s); s != "" {
			out = append(out, s)
		}
	}
	return out, nil
}

// listQueryFiles returns the *.sql regular files of dir sorted by name, skipping
// hidden files as a shell glob would. A missing folder is not an error: the
// tier simply has no queries.
func listQueryFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if ok, _ := filepath.Match("*.sql", e.Name()); ok {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}
