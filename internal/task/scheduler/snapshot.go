package scheduler

import "time"

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{
		Enabled:  s.cfg.Enabled,
		Started:  s.runCtx != nil,
		Spec:     s.spec.String(),
		Timezone: s.cfg.Timezone,
	}
	if s.loc != nil {
		snap.Timezone = s.loc.String()
	}
	if s.c != nil && s.entryID != 0 {
		e := s.c.Entry(s.entryID)
		snap.Next, snap.Prev = e.Next, e.Prev
	}
	s.mu.Unlock()

	snap.Running = s.running.Load()
	snap.Runs = s.runs.Load()
	snap.Skipped = s.skipped.Load()
	if n := s.lastRun.Load(); n != 0 {
		snap.LastRun = time.Unix(0, n)
	}
	snap.LastTook = time.Duration(s.lastTook.Load())
	return snap
}
