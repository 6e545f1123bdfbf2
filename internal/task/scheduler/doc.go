// Package scheduler triggers one job on a cron expression or a fixed interval.
//
// Overlapping triggers are skipped while the previous run is still going, and
// panics in the job are recovered and logged. The schedule and timezone can be
// swapped at runtime with Apply.
package scheduler
