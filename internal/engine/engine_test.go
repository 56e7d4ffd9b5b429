package engine_test

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"

	"snapward/internal/cmdexec"
	"snapward/internal/engine"
	"snapward/internal/exitcode"
	"snapward/internal/logging"
)

type stubExecutor struct {
	mu     sync.Mutex
	calls  [][]string
	result cmdexec.Result
	err    error
	lines  []string
}

func (s *stubExecutor) Run(ctx context.Context, binary string, args []string, onLine func(string)) (cmdexec.Result, error) {
	s.mu.Lock()
	call := append([]string{binary}, args...)
	s.calls = append(s.calls, call)
	s.mu.Unlock()
	if onLine != nil {
		for _, line := range s.lines {
			onLine(line)
		}
	}
	return s.result, s.err
}

func noProcesses(context.Context) ([]string, error) { return nil, nil }

func newRunner(t *testing.T, exec cmdexec.Executor, opts ...engine.Option) *engine.Runner {
	t.Helper()
	opts = append([]engine.Option{
		engine.WithExecutor(exec),
		engine.WithProcessNames(noProcesses),
	}, opts...)
	runner, err := engine.New("snapraid", "/etc/snapraid.conf", logging.NewNop(), opts...)
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	return runner
}

func TestNewRequiresBinary(t *testing.T) {
	if _, err := engine.New("  ", "", logging.NewNop()); err == nil {
		t.Fatal("expected error for empty binary")
	}
}

func TestDiffNoChange(t *testing.T) {
	exec := &stubExecutor{result: cmdexec.Result{ExitCode: 0, Stdout: "Everything OK\n"}}
	runner := newRunner(t, exec)

	diff, err := runner.Diff(context.Background())
	if err != nil {
		t.Fatalf("diff: %v", err)
	}
	if diff.Classification != engine.ClassNoChange {
		t.Fatalf("classification = %s, want %s", diff.Classification, engine.ClassNoChange)
	}
	if diff.Changed() {
		t.Fatal("no-change diff must not report changes")
	}

	want := [][]string{{"snapraid", "-c", "/etc/snapraid.conf", "diff"}}
	if !reflect.DeepEqual(exec.calls, want) {
		t.Fatalf("calls = %v, want %v", exec.calls, want)
	}
}

func TestDiffChangesParsesCounts(t *testing.T) {
	exec := &stubExecutor{result: cmdexec.Result{
		ExitCode: 2,
		Stdout:   "    2 added\n    0 removed\n    1 updated\n    7 equal\n",
	}}
	runner := newRunner(t, exec)

	diff, err := runner.Diff(context.Background())
	if err != nil {
		t.Fatalf("diff: %v", err)
	}
	if diff.Classification != engine.ClassChanges {
		t.Fatalf("classification = %s, want %s", diff.Classification, engine.ClassChanges)
	}
	if got := diff.Count(engine.KindAdded); got != 2 {
		t.Fatalf("added = %d, want 2", got)
	}
	if got := diff.Count(engine.KindEqual); got != 7 {
		t.Fatalf("equal = %d, want 7", got)
	}
	if !diff.Changed() {
		t.Fatal("diff with added entries must report changes")
	}
}

func TestDiffEqualOnlyDoesNotRequireSync(t *testing.T) {
	exec := &stubExecutor{result: cmdexec.Result{ExitCode: 2, Stdout: "   11 equal\n"}}
	runner := newRunner(t, exec)

	diff, err := runner.Diff(context.Background())
	if err != nil {
		t.Fatalf("diff: %v", err)
	}
	if diff.Changed() {
		t.Fatal("equal-only diff must not report changes")
	}
}

func TestDiffUnexpectedExitIsDiffError(t *testing.T) {
	exec := &stubExecutor{result: cmdexec.Result{ExitCode: 1, Stderr: "Self test failed\n"}}
	runner := newRunner(t, exec)

	diff, err := runner.Diff(context.Background())
	if err == nil {
		t.Fatal("expected error for exit 1")
	}
	if diff.Classification != engine.ClassError {
		t.Fatalf("classification = %s, want %s", diff.Classification, engine.ClassError)
	}
	if got := exitcode.FromError(err); got != exitcode.Diff {
		t.Fatalf("exit code = %d, want %d", got, exitcode.Diff)
	}
}

func TestDiffLaunchFailureIsDiffError(t *testing.T) {
	exec := &stubExecutor{err: errors.New("start snapraid: executable file not found")}
	runner := newRunner(t, exec)

	if _, err := runner.Diff(context.Background()); exitcode.FromError(err) != exitcode.Diff {
		t.Fatalf("exit code = %d, want %d", exitcode.FromError(err), exitcode.Diff)
	}
}

func TestSyncFailureClassified(t *testing.T) {
	exec := &stubExecutor{result: cmdexec.Result{ExitCode: 1}}
	runner := newRunner(t, exec)

	if _, err := runner.Sync(context.Background()); exitcode.FromError(err) != exitcode.Sync {
		t.Fatalf("exit code = %d, want %d", exitcode.FromError(err), exitcode.Sync)
	}
}

func TestSyncSuccess(t *testing.T) {
	exec := &stubExecutor{result: cmdexec.Result{ExitCode: 0}}
	runner := newRunner(t, exec)

	result, err := runner.Sync(context.Background())
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if result.Verb != "sync" {
		t.Fatalf("verb = %q, want sync", result.Verb)
	}
}

func TestScrubArguments(t *testing.T) {
	exec := &stubExecutor{result: cmdexec.Result{ExitCode: 0}}
	runner := newRunner(t, exec)

	if _, err := runner.Scrub(context.Background(), 25, 30); err != nil {
		t.Fatalf("scrub: %v", err)
	}
	want := []string{"snapraid", "-c", "/etc/snapraid.conf", "scrub", "-p", "25", "-o", "30"}
	if !reflect.DeepEqual(exec.calls[0], want) {
		t.Fatalf("call = %v, want %v", exec.calls[0], want)
	}

	exec.calls = nil
	if _, err := runner.Scrub(context.Background(), 10, 0); err != nil {
		t.Fatalf("scrub: %v", err)
	}
	want = []string{"snapraid", "-c", "/etc/snapraid.conf", "scrub", "-p", "10"}
	if !reflect.DeepEqual(exec.calls[0], want) {
		t.Fatalf("call = %v, want %v", exec.calls[0], want)
	}
}

func TestScrubFailureClassified(t *testing.T) {
	exec := &stubExecutor{result: cmdexec.Result{ExitCode: 1}}
	runner := newRunner(t, exec)

	if _, err := runner.Scrub(context.Background(), 10, 0); exitcode.FromError(err) != exitcode.Scrub {
		t.Fatalf("exit code = %d, want %d", exitcode.FromError(err), exitcode.Scrub)
	}
}

func TestBusyGuardBlocksVerb(t *testing.T) {
	exec := &stubExecutor{result: cmdexec.Result{ExitCode: 0}}
	busy := func(context.Context) ([]string, error) {
		return []string{"systemd", "snapraid", "sshd"}, nil
	}
	runner := newRunner(t, exec, engine.WithProcessNames(busy))

	_, err := runner.Diff(context.Background())
	if err == nil {
		t.Fatal("expected busy error")
	}
	if got := exitcode.FromError(err); got != exitcode.Preflight {
		t.Fatalf("exit code = %d, want %d", got, exitcode.Preflight)
	}
	if len(exec.calls) != 0 {
		t.Fatalf("engine invoked despite busy guard: %v", exec.calls)
	}
}

func TestBusyCheckDisabled(t *testing.T) {
	exec := &stubExecutor{result: cmdexec.Result{ExitCode: 0}}
	busy := func(context.Context) ([]string, error) {
		return []string{"snapraid"}, nil
	}
	runner := newRunner(t, exec, engine.WithProcessNames(busy), engine.WithBusyCheck(false))

	if _, err := runner.Diff(context.Background()); err != nil {
		t.Fatalf("diff: %v", err)
	}
	if len(exec.calls) != 1 {
		t.Fatalf("calls = %v, want one invocation", exec.calls)
	}
}

func TestBusyCheckListerFailureIsNotFatal(t *testing.T) {
	exec := &stubExecutor{result: cmdexec.Result{ExitCode: 0}}
	broken := func(context.Context) ([]string, error) {
		return nil, errors.New("proc unavailable")
	}
	runner := newRunner(t, exec, engine.WithProcessNames(broken))

	if _, err := runner.Diff(context.Background()); err != nil {
		t.Fatalf("diff: %v", err)
	}
}

func TestEnsureAvailable(t *testing.T) {
	runner, err := engine.New("sh", "", logging.NewNop())
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	if _, err := runner.EnsureAvailable(); err != nil {
		t.Fatalf("sh should resolve: %v", err)
	}

	missing, err := engine.New("snapward-no-such-engine", "", logging.NewNop())
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	_, err = missing.EnsureAvailable()
	if got := exitcode.FromError(err); got != exitcode.EngineMissing {
		t.Fatalf("exit code = %d, want %d", got, exitcode.EngineMissing)
	}
}

func TestEnsureAvailableInjectedLookup(t *testing.T) {
	lookup := func(name string) (string, error) {
		if name != "snapraid" {
			t.Fatalf("lookup for %q, want snapraid", name)
		}
		return "/opt/bin/snapraid", nil
	}
	runner, err := engine.New("snapraid", "", logging.NewNop(), engine.WithLookPath(lookup))
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	path, err := runner.EnsureAvailable()
	if err != nil {
		t.Fatalf("ensure available: %v", err)
	}
	if path != "/opt/bin/snapraid" {
		t.Fatalf("path = %q, want /opt/bin/snapraid", path)
	}
}
