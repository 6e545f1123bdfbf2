package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	logx "cronsql/pkg/logx"
)

// Config controls the trigger.
type Config struct {
	Enabled  bool
	Spec     string // see ParseSchedule
	Timezone string // IANA TZ, e.g. "Europe/Berlin"; empty means local
}

// Job is the work run on every trigger.
type Job func(ctx context.Context)

type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	loc *time.Location
	job Job

	c       *cron.Cron
	entryID cron.EntryID
	spec    ParsedSpec

	// runCtx is handed to every job run and cancelled by Stop.
	runCtx    context.Context
	runCancel context.CancelFunc
	wg        sync.WaitGroup

	running  atomic.Bool
	runs     atomic.Uint64
	skipped  atomic.Uint64
	lastRun  atomic.Int64 // unix nanos of the last finished run
	lastTook atomic.Int64
}

type Snapshot struct {
	Enabled  bool
	Started  bool
	Spec     string
	Timezone string
	Next     time.Time
	Prev     time.Time
	Running  bool
	Runs     uint64
	Skipped  uint64
	LastRun  time.Time
	LastTook time.Duration
}
