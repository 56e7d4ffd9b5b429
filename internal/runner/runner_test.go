package runner_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shirou/gopsutil/disk"

	"snapward/internal/cmdexec"
	"snapward/internal/config"
	"snapward/internal/exitcode"
	"snapward/internal/history"
	"snapward/internal/lockfile"
	"snapward/internal/logging"
	"snapward/internal/runner"
)

// fakeExec routes stub results by binary name, or by binary plus verb
// for engine-style "-c <conf> <verb>" invocations.
type fakeExec struct {
	mu      sync.Mutex
	calls   [][]string
	results map[string]cmdexec.Result
	errs    map[string]error
}

func execKey(binary string, args []string) string {
	if len(args) >= 3 && args[0] == "-c" {
		return binary + " " + args[2]
	}
	return binary
}

func (f *fakeExec) Run(ctx context.Context, binary string, args []string, onLine func(string)) (cmdexec.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, append([]string{binary}, args...))
	f.mu.Unlock()

	key := execKey(binary, args)
	if err, ok := f.errs[key]; ok {
		return cmdexec.Result{}, err
	}
	return f.results[key], nil
}

func (f *fakeExec) invoked() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	keys := make([]string, 0, len(f.calls))
	for _, call := range f.calls {
		keys = append(keys, execKey(call[0], call[1:]))
	}
	return keys
}

func (f *fakeExec) count(key string) int {
	n := 0
	for _, k := range f.invoked() {
		if k == key {
			n++
		}
	}
	return n
}

type completedCall struct {
	synced   bool
	scrubbed bool
}

type failedCall struct {
	stage string
	err   error
}

type notifierRecorder struct {
	mu        sync.Mutex
	started   int
	completed []completedCall
	failed    []failedCall
}

func (n *notifierRecorder) NotifyRunStarted(context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.started++
	return nil
}

func (n *notifierRecorder) NotifyRunCompleted(_ context.Context, synced, scrubbed bool, _ time.Duration) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.completed = append(n.completed, completedCall{synced: synced, scrubbed: scrubbed})
	return nil
}

func (n *notifierRecorder) NotifyRunFailed(_ context.Context, err error, stage string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failed = append(n.failed, failedCall{stage: stage, err: err})
	return nil
}

func (n *notifierRecorder) TestNotification(context.Context) error { return nil }

// fixture is one disposable array: two data drives and a parity
// directory on disk, an array config pointing at them, and stubs for
// every external command.
type fixture struct {
	cfg       *config.Config
	opts      runner.Options
	exec      *fakeExec
	notify    *notifierRecorder
	confPath  string
	drive1    string
	drive2    string
	parityDir string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()

	drive1 := filepath.Join(root, "disk1")
	drive2 := filepath.Join(root, "disk2")
	parityDir := filepath.Join(root, "parity")
	for _, dir := range []string{drive1, drive2, parityDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", dir, err)
		}
	}

	confPath := filepath.Join(root, "snapraid.conf")
	conf := strings.Join([]string{
		"parity " + filepath.Join(parityDir, "snapraid.parity"),
		"content " + filepath.Join(drive1, "snapraid.content"),
		"data d1 " + drive1,
		"data d2 " + drive2,
		"",
	}, "\n")
	if err := os.WriteFile(confPath, []byte(conf), 0o644); err != nil {
		t.Fatalf("write array config: %v", err)
	}

	cfg := config.Default()
	cfg.Engine.BusyCheck = false
	cfg.Lock.Path = filepath.Join(root, "snapward.lock")
	cfg.Backup.WorkDir = root

	return &fixture{
		cfg:  &cfg,
		opts: runner.Options{ConfOverride: confPath, ScrubPercent: 10},
		exec: &fakeExec{results: map[string]cmdexec.Result{
			"smartctl": {Stdout: "SMART overall-health self-assessment test result: PASSED\n"},
		}},
		notify:    &notifierRecorder{},
		confPath:  confPath,
		drive1:    drive1,
		drive2:    drive2,
		parityDir: parityDir,
	}
}

func (f *fixture) partitions(bool) ([]disk.PartitionStat, error) {
	return []disk.PartitionStat{
		{Device: "/dev/sda1", Mountpoint: f.drive1},
		{Device: "/dev/sdb1", Mountpoint: f.drive2},
		{Device: "/dev/sdc1", Mountpoint: f.parityDir},
	}, nil
}

func stubLookPath(name string) (string, error) {
	return "/usr/bin/" + name, nil
}

func (f *fixture) newRunner(t *testing.T, ropts ...runner.Option) *runner.Runner {
	t.Helper()
	base := []runner.Option{
		runner.WithExecutor(f.exec),
		runner.WithLookPath(stubLookPath),
		runner.WithPartitions(f.partitions),
		runner.WithNotifier(f.notify),
	}
	return runner.New(f.cfg, f.opts, logging.NewNop(), append(base, ropts...)...)
}

func openStore(t *testing.T) *history.Store {
	t.Helper()
	store, err := history.Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("open history: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func findPhase(t *testing.T, report *runner.Report, name string) runner.Phase {
	t.Helper()
	for _, phase := range report.Phases {
		if phase.Name == name {
			return phase
		}
	}
	t.Fatalf("phase %s missing from %+v", name, report.Phases)
	return runner.Phase{}
}

func TestExecuteFullRunWithChanges(t *testing.T) {
	fix := newFixture(t)
	fix.exec.results["snapraid diff"] = cmdexec.Result{
		ExitCode: 2,
		Stdout:   "    2 added\n    1 updated\n    9 equal\n",
	}
	store := openStore(t)

	report, err := fix.newRunner(t, runner.WithHistory(store)).Execute(context.Background())
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	want := []string{
		"smartctl", "smartctl", "smartctl",
		"snapraid diff",
		"getfacl", "getfacl",
		"snapraid sync",
		"snapraid scrub",
	}
	if got := fix.exec.invoked(); !reflect.DeepEqual(got, want) {
		t.Fatalf("invocations = %v, want %v", got, want)
	}

	scrubCall := fix.exec.calls[len(fix.exec.calls)-1]
	wantScrub := []string{"snapraid", "-c", fix.confPath, "scrub", "-p", "10"}
	if !reflect.DeepEqual(scrubCall, wantScrub) {
		t.Fatalf("scrub call = %v, want %v", scrubCall, wantScrub)
	}

	if !report.Changed || !report.BackupRan || !report.SyncRan || !report.ScrubRan {
		t.Fatalf("report flags = %+v, want all phases run", report)
	}
	if report.ConfPath != fix.confPath {
		t.Fatalf("conf path = %q, want %q", report.ConfPath, fix.confPath)
	}
	if report.DrivesChecked != 3 {
		t.Fatalf("drives checked = %d, want 3", report.DrivesChecked)
	}
	if report.Bundle == nil || len(report.Bundle.Distributed) != 2 {
		t.Fatalf("bundle = %+v, want distribution to both data drives", report.Bundle)
	}

	delivered, err := filepath.Glob(filepath.Join(fix.drive1, "snapward", "acl-*.tar.gz"))
	if err != nil || len(delivered) != 1 {
		t.Fatalf("archives on drive1 = %v (err %v), want exactly one", delivered, err)
	}

	runs, err := store.Recent(context.Background(), 1)
	if err != nil || len(runs) != 1 {
		t.Fatalf("recent runs = %v (err %v), want one", runs, err)
	}
	entry := runs[0]
	if entry.Outcome != history.OutcomeSuccess {
		t.Fatalf("outcome = %s, want %s", entry.Outcome, history.OutcomeSuccess)
	}
	if !entry.ChangesDetected || !entry.BackupRan || !entry.SyncRan || !entry.ScrubRan {
		t.Fatalf("history flags = %+v, want all true", entry)
	}
	if entry.DiffCounts["added"] != 2 || entry.DiffCounts["equal"] != 9 {
		t.Fatalf("diff counts = %v", entry.DiffCounts)
	}
	if entry.FinishedAt == nil {
		t.Fatal("finished_at not stamped")
	}

	if fix.notify.started != 1 {
		t.Fatalf("start notifications = %d, want 1", fix.notify.started)
	}
	if len(fix.notify.completed) != 1 || !fix.notify.completed[0].synced || !fix.notify.completed[0].scrubbed {
		t.Fatalf("completed notifications = %+v", fix.notify.completed)
	}
	if len(fix.notify.failed) != 0 {
		t.Fatalf("unexpected failure notifications: %+v", fix.notify.failed)
	}
}

func TestExecuteNoChangesSkipsBackupAndSync(t *testing.T) {
	fix := newFixture(t)
	fix.exec.results["snapraid diff"] = cmdexec.Result{ExitCode: 0, Stdout: "Everything OK\n"}

	report, err := fix.newRunner(t).Execute(context.Background())
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	if report.Changed || report.BackupRan || report.SyncRan {
		t.Fatalf("report = %+v, want no backup or sync", report)
	}
	if !report.ScrubRan {
		t.Fatal("scrub must still run without changes")
	}
	if n := fix.exec.count("getfacl"); n != 0 {
		t.Fatalf("getfacl calls = %d, want 0", n)
	}
	if n := fix.exec.count("snapraid sync"); n != 0 {
		t.Fatalf("sync calls = %d, want 0", n)
	}
	if n := fix.exec.count("snapraid scrub"); n != 1 {
		t.Fatalf("scrub calls = %d, want 1", n)
	}

	if phase := findPhase(t, report, runner.PhaseBackup); phase.Status != runner.StatusSkipped {
		t.Fatalf("backup phase = %+v, want skipped", phase)
	}
	if phase := findPhase(t, report, runner.PhaseSync); phase.Status != runner.StatusSkipped {
		t.Fatalf("sync phase = %+v, want skipped", phase)
	}

	if len(fix.notify.completed) != 1 {
		t.Fatalf("completed notifications = %+v, want one", fix.notify.completed)
	}
	if fix.notify.completed[0].synced || !fix.notify.completed[0].scrubbed {
		t.Fatalf("completion = %+v, want scrub only", fix.notify.completed[0])
	}
}

func TestExecuteDiffFailureStopsRun(t *testing.T) {
	fix := newFixture(t)
	fix.exec.results["snapraid diff"] = cmdexec.Result{ExitCode: 1, Stderr: "Self test failed\n"}
	store := openStore(t)

	report, err := fix.newRunner(t, runner.WithHistory(store)).Execute(context.Background())
	if got := exitcode.FromError(err); got != exitcode.Diff {
		t.Fatalf("exit code = %d, want %d", got, exitcode.Diff)
	}

	for _, key := range []string{"getfacl", "snapraid sync", "snapraid scrub"} {
		if n := fix.exec.count(key); n != 0 {
			t.Fatalf("%s ran %d times after diff failure", key, n)
		}
	}
	if phase := findPhase(t, report, runner.PhaseDiff); phase.Status != runner.StatusFailed {
		t.Fatalf("diff phase = %+v, want failed", phase)
	}

	runs, err := store.Recent(context.Background(), 1)
	if err != nil || len(runs) != 1 {
		t.Fatalf("recent runs = %v (err %v), want one", runs, err)
	}
	if runs[0].Outcome != history.OutcomeFailure {
		t.Fatalf("outcome = %s, want %s", runs[0].Outcome, history.OutcomeFailure)
	}
	if runs[0].FailClass != "diff" {
		t.Fatalf("fail class = %q, want diff", runs[0].FailClass)
	}
	if runs[0].ErrorMessage == "" {
		t.Fatal("error message not recorded")
	}

	if len(fix.notify.failed) != 1 || fix.notify.failed[0].stage != "diff" {
		t.Fatalf("failure notifications = %+v, want one for diff", fix.notify.failed)
	}
}

func TestExecuteSkipDiffForcesBackupAndSync(t *testing.T) {
	fix := newFixture(t)
	fix.opts.SkipDiff = true
	fix.opts.SkipScrub = true

	report, err := fix.newRunner(t).Execute(context.Background())
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	if n := fix.exec.count("snapraid diff"); n != 0 {
		t.Fatalf("diff calls = %d, want 0 when bypassed", n)
	}
	if n := fix.exec.count("getfacl"); n != 2 {
		t.Fatalf("getfacl calls = %d, want one per data drive", n)
	}
	if n := fix.exec.count("snapraid sync"); n != 1 {
		t.Fatalf("sync calls = %d, want 1", n)
	}
	if n := fix.exec.count("snapraid scrub"); n != 0 {
		t.Fatalf("scrub calls = %d, want 0", n)
	}

	if !report.Changed || report.Diff != nil {
		t.Fatalf("report = %+v, want forced changes without a diff result", report)
	}
	if phase := findPhase(t, report, runner.PhaseScrub); phase.Status != runner.StatusSkipped {
		t.Fatalf("scrub phase = %+v, want skipped", phase)
	}
}

func TestExecuteLockHeld(t *testing.T) {
	fix := newFixture(t)
	handle, err := lockfile.Acquire(fix.cfg.Lock.Path)
	if err != nil {
		t.Fatalf("pre-acquire lock: %v", err)
	}
	defer handle.Release()

	_, err = fix.newRunner(t).Execute(context.Background())
	if got := exitcode.FromError(err); got != exitcode.Lock {
		t.Fatalf("exit code = %d, want %d", got, exitcode.Lock)
	}
	if calls := fix.exec.invoked(); len(calls) != 0 {
		t.Fatalf("external commands ran while locked: %v", calls)
	}
	if len(fix.notify.failed) != 1 || fix.notify.failed[0].stage != "lock" {
		t.Fatalf("failure notifications = %+v, want one for lock", fix.notify.failed)
	}
}

func TestExecuteUnmountedDriveFailsBeforeDiff(t *testing.T) {
	fix := newFixture(t)
	parts := func(bool) ([]disk.PartitionStat, error) {
		return []disk.PartitionStat{
			{Device: "/dev/sda1", Mountpoint: fix.drive1},
			{Device: "/dev/sdc1", Mountpoint: fix.parityDir},
		}, nil
	}

	report, err := fix.newRunner(t, runner.WithPartitions(parts)).Execute(context.Background())
	if got := exitcode.FromError(err); got != exitcode.Preflight {
		t.Fatalf("exit code = %d, want %d", got, exitcode.Preflight)
	}
	if n := fix.exec.count("snapraid diff"); n != 0 {
		t.Fatalf("diff ran %d times with an unmounted drive", n)
	}
	if phase := findPhase(t, report, runner.PhaseHealth); phase.Status != runner.StatusFailed {
		t.Fatalf("health phase = %+v, want failed", phase)
	}
}

func TestExecuteEngineMissing(t *testing.T) {
	fix := newFixture(t)
	lookup := func(name string) (string, error) {
		if name == "snapraid" {
			return "", errors.New("not found")
		}
		return "/usr/bin/" + name, nil
	}

	_, err := fix.newRunner(t, runner.WithLookPath(lookup)).Execute(context.Background())
	if got := exitcode.FromError(err); got != exitcode.EngineMissing {
		t.Fatalf("exit code = %d, want %d", got, exitcode.EngineMissing)
	}
	if calls := fix.exec.invoked(); len(calls) != 0 {
		t.Fatalf("external commands ran without an engine: %v", calls)
	}
	if len(fix.notify.failed) != 1 || fix.notify.failed[0].stage != "engine-missing" {
		t.Fatalf("failure notifications = %+v, want one for engine-missing", fix.notify.failed)
	}
}

func TestExecuteMissingToolFailsPreflight(t *testing.T) {
	fix := newFixture(t)
	lookup := func(name string) (string, error) {
		if name == "getfacl" {
			return "", errors.New("not found")
		}
		return "/usr/bin/" + name, nil
	}

	_, err := fix.newRunner(t, runner.WithLookPath(lookup)).Execute(context.Background())
	if got := exitcode.FromError(err); got != exitcode.Preflight {
		t.Fatalf("exit code = %d, want %d", got, exitcode.Preflight)
	}
}

func TestExecuteBackupDisabled(t *testing.T) {
	fix := newFixture(t)
	fix.cfg.Backup.Enabled = false
	fix.exec.results["snapraid diff"] = cmdexec.Result{
		ExitCode: 2,
		Stdout:   "    1 added\n    3 equal\n",
	}

	report, err := fix.newRunner(t).Execute(context.Background())
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if n := fix.exec.count("getfacl"); n != 0 {
		t.Fatalf("getfacl calls = %d, want 0 when backups are disabled", n)
	}
	if report.BackupRan || !report.SyncRan {
		t.Fatalf("report = %+v, want sync without backup", report)
	}
	if phase := findPhase(t, report, runner.PhaseBackup); phase.Status != runner.StatusSkipped {
		t.Fatalf("backup phase = %+v, want skipped", phase)
	}
}

func TestExecuteScrubPercentZeroSkips(t *testing.T) {
	fix := newFixture(t)
	fix.opts.ScrubPercent = 0
	fix.exec.results["snapraid diff"] = cmdexec.Result{ExitCode: 0, Stdout: "Everything OK\n"}

	report, err := fix.newRunner(t).Execute(context.Background())
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if n := fix.exec.count("snapraid scrub"); n != 0 {
		t.Fatalf("scrub calls = %d, want 0", n)
	}
	phase := findPhase(t, report, runner.PhaseScrub)
	if phase.Status != runner.StatusSkipped || phase.Detail != "scrub percent is 0" {
		t.Fatalf("scrub phase = %+v, want skipped for zero percent", phase)
	}
}

func TestExecuteStandbySpinsDownDataDisks(t *testing.T) {
	fix := newFixture(t)
	fix.opts.Standby = true
	fix.opts.SkipScrub = true
	fix.exec.results["snapraid diff"] = cmdexec.Result{ExitCode: 0, Stdout: "Everything OK\n"}

	report, err := fix.newRunner(t).Execute(context.Background())
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if n := fix.exec.count("hdparm"); n != 2 {
		t.Fatalf("hdparm calls = %d, want one per data disk", n)
	}
	if phase := findPhase(t, report, runner.PhaseStandby); phase.Status != runner.StatusOK {
		t.Fatalf("standby phase = %+v, want ok", phase)
	}
}
