// Package drives validates the physical array before the engine
// touches it: every configured path must be an active mountpoint and
// every backing disk must pass a SMART health check.
package drives

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shirou/gopsutil/disk"

	"snapward/internal/arrayconf"
	"snapward/internal/cmdexec"
	"snapward/internal/exitcode"
	"snapward/internal/logging"
)

// healthMarkers are the smartctl stdout fragments that indicate a
// passing disk. ATA and SCSI report differently.
var healthMarkers = []string{
	"PASSED",
	"SMART Health Status: OK",
}

// Status is the inspection result for one configured drive.
type Status struct {
	Drive   arrayconf.Drive
	Mounted bool
	Device  string
	Healthy bool
	Detail  string
}

// Checker inspects mount state and disk health for array drives.
type Checker struct {
	smartctl   string
	hdparm     string
	exec       cmdexec.Executor
	partitions func(all bool) ([]disk.PartitionStat, error)
	logger     *slog.Logger
}

// Option configures the checker.
type Option func(*Checker)

// WithExecutor injects a custom executor (primarily for tests).
func WithExecutor(exec cmdexec.Executor) Option {
	return func(c *Checker) {
		if exec != nil {
			c.exec = exec
		}
	}
}

// WithPartitions injects the mount-table lister (primarily for tests).
func WithPartitions(fn func(all bool) ([]disk.PartitionStat, error)) Option {
	return func(c *Checker) {
		if fn != nil {
			c.partitions = fn
		}
	}
}

// New constructs a checker. Empty binary names fall back to the tools'
// conventional names.
func New(smartctl, hdparm string, logger *slog.Logger, opts ...Option) *Checker {
	checker := &Checker{
		smartctl:   strings.TrimSpace(smartctl),
		hdparm:     strings.TrimSpace(hdparm),
		exec:       cmdexec.New(),
		partitions: disk.Partitions,
		logger:     logging.WithComponent(logger, "drives"),
	}
	if checker.smartctl == "" {
		checker.smartctl = "smartctl"
	}
	if checker.hdparm == "" {
		checker.hdparm = "hdparm"
	}
	for _, opt := range opts {
		opt(checker)
	}
	return checker
}

// Inspect reports the state of every drive without judging it. Each
// backing device is health-checked once even when several mountpoints
// share it.
func (c *Checker) Inspect(ctx context.Context, list []arrayconf.Drive) ([]Status, error) {
	parts, err := c.partitions(false)
	if err != nil {
		return nil, fmt.Errorf("list mounted filesystems: %w", err)
	}
	mounts := make(map[string]string, len(parts))
	for _, part := range parts {
		mounts[cleanPath(part.Mountpoint)] = part.Device
	}

	type verdict struct {
		healthy bool
		detail  string
	}
	checked := make(map[string]verdict)

	statuses := make([]Status, 0, len(list))
	for _, drive := range list {
		status := Status{Drive: drive}
		device, mounted := mounts[cleanPath(drive.Path)]
		if !mounted {
			status.Detail = "not mounted"
			statuses = append(statuses, status)
			continue
		}
		status.Mounted = true
		status.Device = resolveDevice(device)

		result, seen := checked[status.Device]
		if !seen {
			healthy, detail := c.smartCheck(ctx, status.Device)
			result = verdict{healthy: healthy, detail: detail}
			checked[status.Device] = result
		}
		status.Healthy = result.healthy
		status.Detail = result.detail
		statuses = append(statuses, status)
	}
	return statuses, nil
}

// Check enforces the drive policy: an unmounted drive is always fatal
// and classified as a preflight failure, an unhealthy disk is a health
// failure unless ignoreHealth downgrades it to a warning.
func (c *Checker) Check(ctx context.Context, list []arrayconf.Drive, ignoreHealth bool) error {
	statuses, err := c.Inspect(ctx, list)
	if err != nil {
		return exitcode.Wrap(exitcode.ErrPreflight, "health", "mount table", "cannot inspect drives", err)
	}

	var unmounted, unhealthy []string
	for _, status := range statuses {
		switch {
		case !status.Mounted:
			unmounted = append(unmounted, fmt.Sprintf("%s (%s)", status.Drive.Name, status.Drive.Path))
			c.logger.Error("drive not mounted",
				logging.String("drive", status.Drive.Name),
				logging.String("path", status.Drive.Path))
		case !status.Healthy:
			unhealthy = append(unhealthy, fmt.Sprintf("%s (%s)", status.Drive.Name, status.Device))
			c.logger.Warn("drive failed health check",
				logging.String("drive", status.Drive.Name),
				logging.String("device", status.Device),
				logging.String("detail", status.Detail))
		default:
			c.logger.Debug("drive healthy",
				logging.String("drive", status.Drive.Name),
				logging.String("device", status.Device))
		}
	}

	if len(unmounted) > 0 {
		return exitcode.Wrap(exitcode.ErrPreflight, "health", "mount check",
			"not mounted: "+strings.Join(unmounted, ", "), nil)
	}
	if len(unhealthy) > 0 {
		if ignoreHealth {
			c.logger.Warn("health failures ignored by request",
				logging.String("drives", strings.Join(unhealthy, ", ")))
			return nil
		}
		return exitcode.Wrap(exitcode.ErrHealth, "health", "smart check",
			"failing disks: "+strings.Join(unhealthy, ", "), nil)
	}
	return nil
}

func (c *Checker) smartCheck(ctx context.Context, device string) (bool, string) {
	if !strings.HasPrefix(device, "/dev/") {
		// Network and virtual filesystems have no disk to interrogate.
		return true, "no block device, health check skipped"
	}
	result, err := c.exec.Run(ctx, c.smartctl, []string{"-H", device}, nil)
	if err != nil {
		return false, err.Error()
	}
	for _, marker := range healthMarkers {
		if strings.Contains(result.Stdout, marker) {
			return true, marker
		}
	}
	return false, fmt.Sprintf("no passing health marker (exit %d)", result.ExitCode)
}

func cleanPath(path string) string {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return trimmed
	}
	if trimmed != "/" {
		trimmed = strings.TrimRight(trimmed, "/")
	}
	return trimmed
}
