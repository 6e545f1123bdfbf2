package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cronsql/internal/config"
	"cronsql/internal/cronsql"
	"cronsql/internal/dbexec"
	"cronsql/internal/eventbus"
	"cronsql/internal/runtime/supervisor"
	"cronsql/internal/storage"
	"cronsql/internal/task/scheduler"
	logx "cronsql/pkg/logx"
	"cronsql/pkg/systemd"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store  storage.Store
	exec   *dbexec.Executor
	runner *cronsql.Runner
	sched  *scheduler.Service

	notify systemd.Notifier
}

// NewApp loads the config and opens the throttle store and the target database.
func NewApp(ctx context.Context, cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	if err := validateMapped(cfg); err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogConfig(cfg))
	log = log.With(logx.String("comp", "app"))

	a := &App{cfgm: cfgm, log: log, logs: logSvc, bus: eventbus.New()}
	if err := a.open(ctx, cfg); err != nil {
		_ = a.closeResources()
		_ = logSvc.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) open(ctx context.Context, cfg *config.Config) error {
	sc, _ := mapStorageConfig(cfg)
	st, err := storage.Open(sc, a.log.With(logx.String("comp", "storage")))
	if err != nil {
		return fmt.Errorf("open throttle store: %w", err)
	}
	a.store = st
	a.log.Info("throttle store opened", logx.String("driver", sc.Driver))
	a.logStoreRecords(ctx)

	dc, _ := mapDatabaseConfig(cfg)
	ex, err := dbexec.Open(ctx, dc, a.log.With(logx.String("comp", "db")))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	a.exec = ex

	a.runner = cronsql.New(mapRunnerOptions(cfg), a.store, a.exec,
		a.log.With(logx.String("comp", "cronsql")), a.bus)

	schedCfg, _ := mapSchedulerConfig(cfg)
	a.sched = scheduler.New(schedCfg, a.runCycle, a.log.With(logx.String("comp", "scheduler")))
	return nil
}

// logStoreRecords dumps the persisted next-run times at debug level.
func (a *App) logStoreRecords(ctx context.Context) {
	ls, ok := a.store.(storage.Lister)
	if !ok || !a.log.Enabled(logx.LevelDebug) {
		return
	}
	recs, err := ls.List(ctx)
	if err != nil {
		a.log.Warn("cannot list throttle records", logx.Err(err))
		return
	}
	for _, r := range recs {
		a.log.Debug("throttle record", logx.String("key", r.Key), logx.Time("next_run", time.Unix(r.NextRun, 0)))
	}
	a.log.Debug("throttle records loaded", logx.Int("count", len(recs)))
}

// logDiagnostics reports the last cycle and bus health.
func (a *App) logDiagnostics() {
	if a.runner == nil {
		return
	}
	last, ok, running := a.runner.Snapshot()
	fields := []logx.Field{logx.Bool("running", running), logx.Int64("events_dropped", int64(a.bus.Dropped()))}
	if ok {
		completed, failed, throttled := last.Counts()
		fields = append(fields,
			logx.Time("last_cycle", last.Finished),
			logx.Int("completed", completed),
			logx.Int("failed", failed),
			logx.Int("throttled", throttled),
		)
		if last.Err != nil {
			fields = append(fields, logx.Err(last.Err))
		}
	}
	a.log.Info("runner status", fields...)
}

// RunOnce performs one cycle synchronously.
func (a *App) RunOnce(ctx context.Context) cronsql.CycleResult {
	return a.runner.Run(ctx)
}

func (a *App) runCycle(ctx context.Context) {
	res := a.runner.Run(ctx)
	completed, failed, throttled := res.Counts()
	_, _ = a.notify.Status(fmt.Sprintf("last cycle %s: %d completed, %d failed, %d throttled",
		res.Finished.Format(time.RFC3339), completed, failed, throttled))
}

// Done is closed when the app supervisor context is cancelled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return validateMapped(cfg)
	})

	if err := a.sched.Start(a.sup.Context()); err != nil {
		return err
	}
	if a.cfgm.Get().Scheduler.RunOnStart {
		a.sched.Trigger()
	}

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go("eventbus.log", func(c context.Context) error {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return nil
			case e, ok := <-events:
				if !ok {
					return nil
				}
				a.logEvent(e)
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return nil
			case newCfg, ok := <-sub:
				if !ok {
					return nil
				}
				// Coalesce bursts: only the newest config matters.
				for drained := false; !drained; {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						drained = true
					}
				}
				a.applyConfig(last, newCfg)
				last = newCfg
			}
		}
	})

	a.sup.GoRestart("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.sup.Go("systemd.watchdog", func(c context.Context) error {
		if err := a.notify.Watchdog(c); err != nil {
			a.log.Warn("watchdog ping failed", logx.Err(err))
		}
		return nil
	})

	if _, err := a.notify.Ready(); err != nil {
		a.log.Warn("sd_notify ready failed", logx.Err(err))
	}
	snap := a.sched.Snapshot()
	a.log.Info("app started",
		logx.Bool("scheduler", snap.Enabled),
		logx.String("spec", snap.Spec),
		logx.Time("next", snap.Next),
	)
	return nil
}

func (a *App) logEvent(e eventbus.Event) {
	fields := []logx.Field{logx.String("type", e.Type), logx.Time("time", e.Time)}
	switch d := e.Data.(type) {
	case cronsql.FileResult:
		fields = append(fields, logx.String("key", d.Key), logx.String("status", string(d.Status)))
	case cronsql.CycleResult:
		completed, failed, throttled := d.Counts()
		fields = append(fields, logx.Int("completed", completed), logx.Int("failed", failed), logx.Int("throttled", throttled))
	}
	a.log.Debug("event", fields...)
}

func (a *App) applyConfig(oldCfg, newCfg *config.Config) {
	sections, attrs, restart := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}
	_, _ = a.notify.Reloading()
	defer func() { _, _ = a.notify.Ready() }()

	a.logs.Apply(mapLogConfig(newCfg))
	a.runner.Apply(mapRunnerOptions(newCfg))

	if dc, err := mapDatabaseConfig(newCfg); err != nil {
		a.log.Warn("invalid database config; keeping previous", logx.Err(err))
	} else {
		a.exec.Apply(dc)
	}
	if sc, err := mapSchedulerConfig(newCfg); err != nil {
		a.log.Warn("invalid scheduler config; keeping previous", logx.Err(err))
	} else if err := a.sched.Apply(sc); err != nil {
		a.log.Warn("scheduler config rejected; keeping previous", logx.Err(err))
	}

	if len(restart) > 0 {
		a.log.Warn("config changed; restart required for changes to take effect",
			logx.String("settings", strings.Join(restart, ",")))
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

// Stop shuts everything down. It is also the cleanup path after RunOnce,
// in which case Start was never called.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.logDiagnostics()
	if a.sup != nil {
		_, _ = a.notify.Stopping()
	}

	// step bounds one shutdown stage so a stuck component cannot stall the rest.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		if dl, ok := ctx.Deadline(); !ok || time.Until(dl) > max {
			var cancel context.CancelFunc
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	if a.sup != nil {
		// The scheduler cancels an in-flight cycle between statements.
		step("scheduler", 10*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
		step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Stop(c) })
	}
	step("resources", 5*time.Second, func(context.Context) error { return a.closeResources() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

func (a *App) closeResources() error {
	var firstErr error
	if a.exec != nil {
		if err := a.exec.Close(); err != nil {
			firstErr = fmt.Errorf("close database: %w", err)
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close throttle store: %w", err)
		}
	}
	return firstErr
}
