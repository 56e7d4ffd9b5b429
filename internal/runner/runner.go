package runner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shirou/gopsutil/disk"

	"snapward/internal/arrayconf"
	"snapward/internal/cmdexec"
	"snapward/internal/config"
	"snapward/internal/drives"
	"snapward/internal/engine"
	"snapward/internal/exitcode"
	"snapward/internal/history"
	"snapward/internal/lockfile"
	"snapward/internal/logging"
	"snapward/internal/notifications"
	"snapward/internal/permbackup"
)

// Options are the per-run switches, resolved by the CLI layer from flags
// and config before the runner starts.
type Options struct {
	// ConfOverride bypasses the standard array-config search order.
	ConfOverride string
	// IgnoreHealth continues past failed SMART checks. Mount failures
	// stay fatal.
	IgnoreHealth bool
	// SkipDiff bypasses change detection and forces backup and sync.
	SkipDiff bool
	// SkipScrub suppresses the scrub phase.
	SkipScrub bool
	// ScrubPercent is the portion of the array to verify; 0 also
	// suppresses the scrub.
	ScrubPercent int
	// ScrubOlderThanDays restricts the scrub to older blocks when > 0.
	ScrubOlderThanDays int
	// Standby spins data disks down after a successful run.
	Standby bool
}

// Runner executes one maintenance run.
type Runner struct {
	cfg        *config.Config
	opts       Options
	logger     *slog.Logger
	exec       cmdexec.Executor
	lookPath   func(string) (string, error)
	partitions func(all bool) ([]disk.PartitionStat, error)
	notify     notifications.Service
	hist       *history.Store
}

// Option adjusts runner construction.
type Option func(*Runner)

// WithExecutor injects the executor used for every external command.
func WithExecutor(exec cmdexec.Executor) Option {
	return func(r *Runner) {
		if exec != nil {
			r.exec = exec
		}
	}
}

// WithLookPath injects the PATH lookup used for tool requirement checks.
func WithLookPath(fn func(string) (string, error)) Option {
	return func(r *Runner) {
		if fn != nil {
			r.lookPath = fn
		}
	}
}

// WithPartitions injects the mount-table lister passed on to the drive
// checker.
func WithPartitions(fn func(all bool) ([]disk.PartitionStat, error)) Option {
	return func(r *Runner) {
		if fn != nil {
			r.partitions = fn
		}
	}
}

// WithNotifier replaces the notification service.
func WithNotifier(svc notifications.Service) Option {
	return func(r *Runner) {
		if svc != nil {
			r.notify = svc
		}
	}
}

// WithHistory attaches a run journal. Without one, nothing is recorded.
func WithHistory(store *history.Store) Option {
	return func(r *Runner) {
		r.hist = store
	}
}

// New assembles a runner from configuration and per-run options.
func New(cfg *config.Config, opts Options, logger *slog.Logger, ropts ...Option) *Runner {
	runner := &Runner{
		cfg:      cfg,
		opts:     opts,
		logger:   logging.WithComponent(logger, "runner"),
		exec:     cmdexec.New(),
		lookPath: cmdexec.LookPath,
		notify:   notifications.NewNoop(),
	}
	for _, opt := range ropts {
		opt(runner)
	}
	return runner
}

// Execute performs the run and returns its report alongside the first
// fatal error, already classified for the exit-code dispatcher. History
// and notification finalizers run regardless of outcome.
func (r *Runner) Execute(ctx context.Context) (*Report, error) {
	report := &Report{Started: time.Now().UTC()}

	var run *history.Run
	if r.hist != nil {
		started, err := r.hist.Start(ctx)
		if err != nil {
			r.logger.Warn("run not recorded in history", logging.Error(err))
		} else {
			run = started
		}
	}
	if err := r.notify.NotifyRunStarted(ctx); err != nil {
		r.logger.Warn("start notification failed", logging.Error(err))
	}

	runErr := r.execute(ctx, report)
	report.Finished = time.Now().UTC()

	// Finalizers still run when the context was cancelled mid-run.
	finalCtx := context.WithoutCancel(ctx)
	r.recordHistory(finalCtx, run, report, runErr)
	r.sendOutcome(finalCtx, report, runErr)

	return report, runErr
}

func (r *Runner) execute(ctx context.Context, report *Report) error {
	phaseStart := time.Now()

	confPath, err := arrayconf.Locate(r.opts.ConfOverride)
	if err != nil {
		report.addPhase(PhasePreflight, StatusFailed, time.Since(phaseStart), err.Error())
		return exitcode.Wrap(exitcode.ErrPreflight, "preflight", "locate array config", "", err)
	}
	arr, err := arrayconf.Load(confPath)
	if err != nil {
		report.addPhase(PhasePreflight, StatusFailed, time.Since(phaseStart), err.Error())
		return exitcode.Wrap(exitcode.ErrPreflight, "preflight", "read array config", confPath, err)
	}
	report.ConfPath = confPath

	mounts := arr.MountPoints()
	if len(mounts) == 0 {
		detail := "array config defines no drives"
		report.addPhase(PhasePreflight, StatusFailed, time.Since(phaseStart), detail)
		return exitcode.Wrap(exitcode.ErrPreflight, "preflight", "read array config", detail, nil)
	}

	eng, err := engine.New(r.cfg.Engine.Binary, confPath, r.logger,
		engine.WithExecutor(r.exec),
		engine.WithBusyCheck(r.cfg.Engine.BusyCheck),
		engine.WithLookPath(r.lookPath))
	if err != nil {
		report.addPhase(PhasePreflight, StatusFailed, time.Since(phaseStart), err.Error())
		return exitcode.Wrap(exitcode.ErrPreflight, "preflight", "engine setup", "", err)
	}
	if _, err := eng.EnsureAvailable(); err != nil {
		report.addPhase(PhasePreflight, StatusFailed, time.Since(phaseStart), err.Error())
		return err
	}
	for _, tool := range r.requiredTools() {
		if _, err := r.lookPath(tool); err != nil {
			report.addPhase(PhasePreflight, StatusFailed, time.Since(phaseStart), "missing tool "+tool)
			return exitcode.Wrap(exitcode.ErrPreflight, "preflight", "required tool missing", tool, err)
		}
	}
	report.addPhase(PhasePreflight, StatusOK, time.Since(phaseStart), confPath)
	r.logger.Info("preflight passed",
		logging.String("array_config", confPath),
		logging.Int("drives", len(mounts)))

	handle, err := lockfile.Acquire(r.cfg.Lock.Path)
	if err != nil {
		return exitcode.Wrap(exitcode.ErrLock, "preflight", "acquire lock", r.cfg.Lock.Path, err)
	}
	defer func() {
		if rerr := handle.Release(); rerr != nil {
			r.logger.Warn("lock release failed", logging.Error(rerr))
		}
	}()

	checker := drives.New(r.cfg.Health.SmartctlBinary, r.cfg.Standby.HdparmBinary, r.logger,
		drives.WithExecutor(r.exec),
		drives.WithPartitions(r.partitions))

	phaseStart = time.Now()
	if err := checker.Check(ctx, mounts, r.opts.IgnoreHealth); err != nil {
		report.addPhase(PhaseHealth, StatusFailed, time.Since(phaseStart), err.Error())
		return err
	}
	report.DrivesChecked = len(mounts)
	report.addPhase(PhaseHealth, StatusOK, time.Since(phaseStart),
		fmt.Sprintf("%d mounts verified", len(mounts)))

	changed := false
	if r.opts.SkipDiff {
		report.Changed = true
		changed = true
		report.addPhase(PhaseDiff, StatusSkipped, 0, "bypassed, backup and sync forced")
		r.logger.Info("change detection bypassed")
	} else {
		phaseStart = time.Now()
		diff, err := eng.Diff(ctx)
		if err != nil {
			report.addPhase(PhaseDiff, StatusFailed, time.Since(phaseStart), err.Error())
			return err
		}
		report.Diff = &diff
		changed = diff.Changed()
		report.Changed = changed
		report.addPhase(PhaseDiff, StatusOK, time.Since(phaseStart), diff.Summary())
		r.logger.Info("change detection finished",
			logging.String("result", diff.Summary()),
			logging.Bool("sync_needed", changed))
	}

	if changed {
		if r.cfg.Backup.Enabled {
			phaseStart = time.Now()
			archiver := permbackup.New(r.cfg.Backup.GetfaclBinary, r.cfg.Backup.Subdir, r.cfg.Backup.Retention, r.logger,
				permbackup.WithExecutor(r.exec),
				permbackup.WithWorkDir(r.cfg.Backup.WorkDir))
			bundle, err := archiver.Run(ctx, arr.DataDrives)
			if err != nil {
				report.addPhase(PhaseBackup, StatusFailed, time.Since(phaseStart), err.Error())
				return err
			}
			report.Bundle = &bundle
			report.BackupRan = true
			report.addPhase(PhaseBackup, StatusOK, time.Since(phaseStart),
				fmt.Sprintf("%s on %d drives", bundle.Name, len(bundle.Distributed)))
		} else {
			report.addPhase(PhaseBackup, StatusSkipped, 0, "disabled in config")
		}

		phaseStart = time.Now()
		if _, err := eng.Sync(ctx); err != nil {
			report.addPhase(PhaseSync, StatusFailed, time.Since(phaseStart), err.Error())
			return err
		}
		report.SyncRan = true
		report.addPhase(PhaseSync, StatusOK, time.Since(phaseStart), "parity updated")
	} else {
		report.addPhase(PhaseBackup, StatusSkipped, 0, "no changes")
		report.addPhase(PhaseSync, StatusSkipped, 0, "no changes")
	}

	switch {
	case r.opts.SkipScrub:
		report.addPhase(PhaseScrub, StatusSkipped, 0, "skipped by request")
	case r.opts.ScrubPercent <= 0:
		report.addPhase(PhaseScrub, StatusSkipped, 0, "scrub percent is 0")
	default:
		phaseStart = time.Now()
		if _, err := eng.Scrub(ctx, r.opts.ScrubPercent, r.opts.ScrubOlderThanDays); err != nil {
			report.addPhase(PhaseScrub, StatusFailed, time.Since(phaseStart), err.Error())
			return err
		}
		report.ScrubRan = true
		report.addPhase(PhaseScrub, StatusOK, time.Since(phaseStart),
			fmt.Sprintf("%d%% verified", r.opts.ScrubPercent))
	}

	if r.opts.Standby {
		phaseStart = time.Now()
		checker.Standby(ctx, arr.DataDrives)
		report.addPhase(PhaseStandby, StatusOK, time.Since(phaseStart), "")
	}

	return nil
}

// requiredTools lists the external binaries this run will need besides
// the engine itself.
func (r *Runner) requiredTools() []string {
	tools := []string{r.cfg.Health.SmartctlBinary}
	if r.cfg.Backup.Enabled {
		tools = append(tools, r.cfg.Backup.GetfaclBinary)
	}
	if r.opts.Standby {
		tools = append(tools, r.cfg.Standby.HdparmBinary)
	}
	return tools
}

func (r *Runner) recordHistory(ctx context.Context, run *history.Run, report *Report, runErr error) {
	if r.hist == nil || run == nil {
		return
	}
	run.ChangesDetected = report.Changed
	run.BackupRan = report.BackupRan
	run.SyncRan = report.SyncRan
	run.ScrubRan = report.ScrubRan
	run.DiffCounts = report.DiffCounts()
	if runErr != nil {
		run.Outcome = history.OutcomeFailure
		run.FailClass = exitcode.Label(exitcode.FromError(runErr))
		run.ErrorMessage = runErr.Error()
	} else {
		run.Outcome = history.OutcomeSuccess
	}
	if err := r.hist.Finish(ctx, run); err != nil {
		r.logger.Warn("run outcome not recorded in history", logging.Error(err))
	}
}

func (r *Runner) sendOutcome(ctx context.Context, report *Report, runErr error) {
	if runErr != nil {
		stage := exitcode.Label(exitcode.FromError(runErr))
		if err := r.notify.NotifyRunFailed(ctx, runErr, stage); err != nil {
			r.logger.Warn("failure notification failed", logging.Error(err))
		}
		return
	}
	if err := r.notify.NotifyRunCompleted(ctx, report.SyncRan, report.ScrubRan, report.Duration()); err != nil {
		r.logger.Warn("completion notification failed", logging.Error(err))
	}
}
