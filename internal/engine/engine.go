package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/shirou/gopsutil/process"

	"snapward/internal/cmdexec"
	"snapward/internal/exitcode"
	"snapward/internal/logging"
)

// Result captures one engine invocation.
type Result struct {
	Verb     string
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Runner invokes the parity engine with a fixed binary and array
// configuration path. Verbs block until the engine exits; there are no
// retries and no imposed timeout.
type Runner struct {
	binary    string
	confPath  string
	busyCheck bool
	exec      cmdexec.Executor
	procNames func(ctx context.Context) ([]string, error)
	lookPath  func(string) (string, error)
	logger    *slog.Logger
}

// Option configures the runner.
type Option func(*Runner)

// WithExecutor injects a custom executor (primarily for tests).
func WithExecutor(exec cmdexec.Executor) Option {
	return func(r *Runner) {
		if exec != nil {
			r.exec = exec
		}
	}
}

// WithBusyCheck toggles the pre-verb scan for an already running
// engine process.
func WithBusyCheck(enabled bool) Option {
	return func(r *Runner) {
		r.busyCheck = enabled
	}
}

// WithProcessNames injects the process-name lister used by the busy
// check (primarily for tests).
func WithProcessNames(fn func(ctx context.Context) ([]string, error)) Option {
	return func(r *Runner) {
		if fn != nil {
			r.procNames = fn
		}
	}
}

// WithLookPath injects the PATH lookup used by EnsureAvailable
// (primarily for tests).
func WithLookPath(fn func(string) (string, error)) Option {
	return func(r *Runner) {
		if fn != nil {
			r.lookPath = fn
		}
	}
}

// New constructs an engine runner.
func New(binary, confPath string, logger *slog.Logger, opts ...Option) (*Runner, error) {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		return nil, errors.New("engine binary required")
	}
	runner := &Runner{
		binary:    binary,
		confPath:  strings.TrimSpace(confPath),
		busyCheck: true,
		exec:      cmdexec.New(),
		procNames: listProcessNames,
		lookPath:  cmdexec.LookPath,
		logger:    logging.WithComponent(logger, "engine"),
	}
	for _, opt := range opts {
		opt(runner)
	}
	return runner, nil
}

// EnsureAvailable resolves the engine binary on PATH. This is a
// snapshot, not a guarantee: the binary can still disappear before a
// verb runs, in which case the verb reports its own failure class.
func (r *Runner) EnsureAvailable() (string, error) {
	path, err := r.lookPath(r.binary)
	if err != nil {
		return "", exitcode.Wrap(exitcode.ErrEngineMissing, "preflight", "engine binary",
			r.binary+" not found on PATH", err)
	}
	return path, nil
}

// Diff asks the engine what changed since the last sync. Engine
// contract: exit 0 means no differences, exit 2 means differences were
// found, anything else is a failure that halts the run.
func (r *Runner) Diff(ctx context.Context) (DiffResult, error) {
	result, err := r.run(ctx, "diff")
	if err != nil {
		return DiffResult{Classification: ClassError, Result: result}, r.wrapVerbErr(err, "diff", exitcode.ErrDiff)
	}
	switch result.ExitCode {
	case 0:
		return DiffResult{Classification: ClassNoChange, Result: result}, nil
	case 2:
		diff := DiffResult{
			Classification: ClassChanges,
			Counts:         parseDiffCounts(result.Stdout),
			Result:         result,
		}
		return diff, nil
	default:
		return DiffResult{Classification: ClassError, Result: result},
			exitcode.Wrap(exitcode.ErrDiff, "diff", r.binary+" diff",
				fmt.Sprintf("engine exited with %d", result.ExitCode), nil)
	}
}

// Sync rebuilds parity to match the current array contents. Callers
// invoke it only when a diff reported changes or change detection was
// explicitly bypassed.
func (r *Runner) Sync(ctx context.Context) (Result, error) {
	result, err := r.run(ctx, "sync")
	if err != nil {
		return result, r.wrapVerbErr(err, "sync", exitcode.ErrSync)
	}
	if result.ExitCode != 0 {
		return result, exitcode.Wrap(exitcode.ErrSync, "sync", r.binary+" sync",
			fmt.Sprintf("engine exited with %d", result.ExitCode), nil)
	}
	return result, nil
}

// Scrub verifies a percentage of the array, optionally only blocks
// older than the given number of days.
func (r *Runner) Scrub(ctx context.Context, percent, olderThanDays int) (Result, error) {
	extra := []string{"-p", strconv.Itoa(percent)}
	if olderThanDays > 0 {
		extra = append(extra, "-o", strconv.Itoa(olderThanDays))
	}
	result, err := r.run(ctx, "scrub", extra...)
	if err != nil {
		return result, r.wrapVerbErr(err, "scrub", exitcode.ErrScrub)
	}
	if result.ExitCode != 0 {
		return result, exitcode.Wrap(exitcode.ErrScrub, "scrub", r.binary+" scrub",
			fmt.Sprintf("engine exited with %d", result.ExitCode), nil)
	}
	return result, nil
}

func (r *Runner) run(ctx context.Context, verb string, extra ...string) (Result, error) {
	if err := r.ensureIdle(ctx, verb); err != nil {
		return Result{Verb: verb}, err
	}

	args := make([]string, 0, len(extra)+3)
	if r.confPath != "" {
		args = append(args, "-c", r.confPath)
	}
	args = append(args, verb)
	args = append(args, extra...)

	r.logger.Info("engine verb starting",
		logging.String("verb", verb),
		logging.String("binary", r.binary),
		logging.String("args", strings.Join(args, " ")))

	res, err := r.exec.Run(ctx, r.binary, args, func(line string) {
		r.logger.Debug("engine output", logging.String("verb", verb), logging.String("line", line))
	})
	result := Result{
		Verb:     verb,
		ExitCode: res.ExitCode,
		Stdout:   res.Stdout,
		Stderr:   res.Stderr,
		Duration: res.Duration,
	}
	if err != nil {
		return result, err
	}

	r.logger.Info("engine verb finished",
		logging.String("verb", verb),
		logging.Int("exit", result.ExitCode),
		logging.Duration("duration", result.Duration))
	return result, nil
}

// ensureIdle refuses to start a verb while another engine process is
// visible. The scan and the exec are not atomic, so a process starting
// in between still collides; the guard catches the common case only.
func (r *Runner) ensureIdle(ctx context.Context, verb string) error {
	if !r.busyCheck {
		return nil
	}
	names, err := r.procNames(ctx)
	if err != nil {
		r.logger.Warn("engine busy check skipped", logging.Error(err))
		return nil
	}
	target := filepath.Base(r.binary)
	for _, name := range names {
		if name == target {
			return exitcode.Wrap(exitcode.ErrPreflight, verb, "engine busy",
				fmt.Sprintf("a %s process is already running", target), nil)
		}
	}
	return nil
}

func (r *Runner) wrapVerbErr(err error, verb string, marker error) error {
	if err == nil {
		return nil
	}
	// Keep an earlier classification (busy guard) intact.
	if exitcode.FromError(err) != exitcode.Generic {
		return err
	}
	return exitcode.Wrap(marker, verb, r.binary+" "+verb, "engine invocation failed", err)
}

func listProcessNames(ctx context.Context) ([]string, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(procs))
	for _, proc := range procs {
		name, err := proc.NameWithContext(ctx)
		if err != nil {
			continue
		}
		names = append(names, name)
	}
	return names, nil
}
