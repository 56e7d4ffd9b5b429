package runner

import (
	"time"

	"snapward/internal/engine"
	"snapward/internal/permbackup"
)

// PhaseStatus describes how a phase ended.
type PhaseStatus string

const (
	StatusOK      PhaseStatus = "ok"
	StatusSkipped PhaseStatus = "skipped"
	StatusFailed  PhaseStatus = "failed"
)

// Phase names, in execution order.
const (
	PhasePreflight = "preflight"
	PhaseHealth    = "health"
	PhaseDiff      = "diff"
	PhaseBackup    = "backup"
	PhaseSync      = "sync"
	PhaseScrub     = "scrub"
	PhaseStandby   = "standby"
)

// Phase is one entry in a run's phase log.
type Phase struct {
	Name     string
	Status   PhaseStatus
	Duration time.Duration
	Detail   string
}

// Report summarizes a run for history, notifications, and the CLI. It is
// filled in even when the run fails partway.
type Report struct {
	Started       time.Time
	Finished      time.Time
	ConfPath      string
	DrivesChecked int
	Diff          *engine.DiffResult
	Changed       bool
	Bundle        *permbackup.Bundle
	BackupRan     bool
	SyncRan       bool
	ScrubRan      bool
	Phases        []Phase
}

// Duration is the wall time of the whole run.
func (r *Report) Duration() time.Duration {
	if r.Finished.IsZero() || r.Started.IsZero() {
		return 0
	}
	return r.Finished.Sub(r.Started)
}

// DiffCounts flattens the diff counters for storage. Nil when no diff ran
// or nothing was counted.
func (r *Report) DiffCounts() map[string]int {
	if r.Diff == nil || len(r.Diff.Counts) == 0 {
		return nil
	}
	counts := make(map[string]int, len(r.Diff.Counts))
	for kind, value := range r.Diff.Counts {
		counts[string(kind)] = value
	}
	return counts
}

func (r *Report) addPhase(name string, status PhaseStatus, duration time.Duration, detail string) {
	r.Phases = append(r.Phases, Phase{Name: name, Status: status, Duration: duration, Detail: detail})
}
