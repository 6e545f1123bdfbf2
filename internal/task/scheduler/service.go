package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	logx "cronsql/pkg/logx"
)

func New(cfg Config, job Job, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg, job: job, log: log}
}

// Enabled reports the current config flag.
func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Start begins triggering. A disabled config is not an error: the service
// stays idle until Apply enables it, and Trigger still works.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runCtx != nil {
		return nil
	}
	s.runCtx, s.runCancel = context.WithCancel(context.WithoutCancel(ctx))
	if err := s.rebuildLocked(s.cfg); err != nil {
		s.runCancel()
		s.runCtx, s.runCancel = nil, nil
		return err
	}
	return nil
}

// Apply swaps the config. On a bad spec or timezone the old trigger keeps running.
func (s *Service) Apply(cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runCtx == nil {
		if _, _, err := resolve(cfg); err != nil {
			return err
		}
		s.cfg = cfg
		return nil
	}
	if cfg == s.cfg {
		return nil
	}
	return s.rebuildLocked(cfg)
}

func resolve(cfg Config) (ParsedSpec, *time.Location, error) {
	ps, err := ParseSchedule(cfg.Spec)
	if err != nil {
		return ParsedSpec{}, nil, err
	}
	loc := time.Local
	if tz := strings.TrimSpace(cfg.Timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return ParsedSpec{}, nil, fmt.Errorf("timezone %q: %w", tz, err)
		}
		loc = l
	}
	return ps, loc, nil
}

// rebuildLocked replaces the cron instance. A run already in flight keeps
// going; the overlap guard still covers it.
func (s *Service) rebuildLocked(cfg Config) error {
	ps, loc, err := resolve(cfg)
	if err != nil {
		return err
	}
	sched, err := ps.Schedule()
	if err != nil {
		return err
	}

	if s.c != nil {
		s.c.Stop()
		s.c, s.entryID = nil, 0
	}
	s.cfg, s.spec, s.loc = cfg, ps, loc

	if !cfg.Enabled {
		s.log.Info("scheduler disabled")
		return nil
	}

	cl := cronLogger{log: s.log}
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	s.entryID = c.Schedule(sched, cron.FuncJob(func() { s.run("cron") }))
	c.Start()
	s.c = c

	s.log.Info("scheduler started",
		logx.String("spec", ps.String()),
		logx.String("tz", loc.String()),
		logx.Time("next", c.Entry(s.entryID).Next),
	)
	return nil
}

// Trigger runs the job now in the background. It reports false when the
// service is not started or a run is already in progress.
func (s *Service) Trigger() bool {
	s.mu.Lock()
	started := s.runCtx != nil
	if started {
		s.wg.Add(1)
	}
	s.mu.Unlock()
	if !started || s.running.Load() {
		if started {
			s.wg.Done()
		}
		return false
	}
	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("job panic", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			}
		}()
		s.run("manual")
	}()
	return true
}

func (s *Service) run(trigger string) {
	if !s.running.CompareAndSwap(false, true) {
		s.skipped.Add(1)
		s.log.Warn("run skipped: previous run still in progress", logx.String("trigger", trigger))
		return
	}
	defer s.running.Store(false)

	s.mu.Lock()
	ctx := s.runCtx
	if ctx != nil {
		s.wg.Add(1)
	}
	s.mu.Unlock()
	if ctx == nil {
		return
	}
	defer s.wg.Done()

	start := time.Now()
	s.log.Debug("run triggered", logx.String("trigger", trigger))
	s.job(ctx)
	took := time.Since(start)
	s.runs.Add(1)
	s.lastRun.Store(time.Now().UnixNano())
	s.lastTook.Store(int64(took))
}

// Stop halts triggering, cancels the context handed to a running job and
// waits for it to return or ctx to expire.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.mu.Lock()
	c, cancel := s.c, s.runCancel
	s.c, s.entryID = nil, 0
	s.runCtx, s.runCancel = nil, nil
	s.mu.Unlock()

	if c != nil {
		c.Stop()
	}
	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.log.Warn("stop timed out waiting for running job")
	}
	s.log.Info("scheduler stopped", logx.Duration("took", time.Since(start)))
}
