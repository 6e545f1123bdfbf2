package cronsql

import (
	"errors"
	"time"
)

var (
	// ErrFileRead: the file vanished or became unreadable between listing and reading.
	ErrFileRead = errors.New("read query file")
	// ErrStatement: the database rejected a statement.
	ErrStatement = errors.New("execute statement")
	// ErrThrottleStore: next-run state could not be read or written; the file was not dispatched.
	ErrThrottleStore = errors.New("throttle store")
	// ErrCycleRunning: a cycle was requested while another one was in progress.
	ErrCycleRunning = errors.New("cycle already running")
)

// FileStatus is the outcome of one file in one cycle.
type FileStatus string

const (
	// StatusThrottled: the file's window has not elapsed; nothing was touched.
	StatusThrottled FileStatus = "throttled"
	// StatusCompleted: every statement executed.
	StatusCompleted FileStatus = "completed"
	// StatusFailed: the file was dispatched (or its throttle state failed) and stopped on an error.
	StatusFailed FileStatus = "failed"
)

// FileResult reports one file.
type FileResult struct {
	Key    string
	Path   string
	Status FileStatus
	Err    error

	// NextRun is the unix time after which the file is due again.
	NextRun int64

	StatementsApplied int
	TotalStatements   int
	Took              time.Duration
}

// Dispatched reports whether the file's statements were attempted.
func (r FileResult) Dispatched() bool {
	return r.Status == StatusCompleted || (r.Status == StatusFailed && !errors.Is(r.Err, ErrThrottleStore))
}

// TierResult aggregates the files of one tier.
type TierResult struct {
	Tier  Tier
	Files []FileResult
	// Err is set when the tier folder could not be listed.
	Err error
}

// CycleResult aggregates one full pass over all tiers.
type CycleResult struct {
	Started  time.Time
	Finished time.Time
	Tiers    []TierResult
	// Err is ErrCycleRunning when the cycle was refused, or the context error when it was cut short.
	Err error
}

// Counts tallies file outcomes across all tiers.
func (c CycleResult) Counts() (completed, failed, throttled int) {
	for _, t := range c.Tiers {
		for _, f := range t.Files {
			switch f.Status {
			case StatusCompleted:
				completed++
			case StatusFailed:
				failed++
			case StatusThrottled:
				throttled++
			}
		}
	}
	return completed, failed, throttled
}

// Failures returns every failed file result.
func (c CycleResult) Failures() []FileResult {
	var out []FileResult
	for _, t := range c.Tiers {
		for _, f := range t.Files {
			if f.Status == StatusFailed {
				out = append(out, f)
			}
		}
	}
	return out
}
