// Package exitcode classifies run failures. Components tag errors with
// a sentinel marker as they bubble up and the process maps the final
// error to its exit code in exactly one place.
package exitcode

import (
	"errors"
	"fmt"
	"strings"
)

// Process exit codes. Scripts and monitoring match on these, so the
// numbering is part of the tool's contract.
const (
	Success       = 0
	Generic       = 1
	Preflight     = 2
	Health        = 3
	EngineMissing = 4
	Sync          = 5
	Scrub         = 6
	Lock          = 7
	Diff          = 8
	PermBackup    = 9
)

var (
	ErrPreflight     = errors.New("preflight error")
	ErrHealth        = errors.New("health check error")
	ErrEngineMissing = errors.New("engine binary missing")
	ErrSync          = errors.New("sync error")
	ErrScrub         = errors.New("scrub error")
	ErrLock          = errors.New("lock error")
	ErrDiff          = errors.New("change detection error")
	ErrPermBackup    = errors.New("permission backup error")
)

// Wrap builds an error message that includes run context while tagging
// it with the provided marker for later exit-code classification. The
// marker should be one of the exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		if err != nil {
			return fmt.Errorf("%s: %w", detail, err)
		}
		return errors.New(detail)
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// FromError maps a run error to the process exit code. A nil error is
// success; anything without a marker is a generic failure.
func FromError(err error) int {
	switch {
	case err == nil:
		return Success
	case errors.Is(err, ErrPreflight):
		return Preflight
	case errors.Is(err, ErrHealth):
		return Health
	case errors.Is(err, ErrEngineMissing):
		return EngineMissing
	case errors.Is(err, ErrSync):
		return Sync
	case errors.Is(err, ErrScrub):
		return Scrub
	case errors.Is(err, ErrLock):
		return Lock
	case errors.Is(err, ErrDiff):
		return Diff
	case errors.Is(err, ErrPermBackup):
		return PermBackup
	default:
		return Generic
	}
}

// Label returns the short class name for an exit code, used for run
// history entries and notifications.
func Label(code int) string {
	switch code {
	case Success:
		return "success"
	case Preflight:
		return "preflight"
	case Health:
		return "health"
	case EngineMissing:
		return "engine-missing"
	case Sync:
		return "sync"
	case Scrub:
		return "scrub"
	case Lock:
		return "lock"
	case Diff:
		return "diff"
	case PermBackup:
		return "backup"
	default:
		return "generic"
	}
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "run failure"
	}
	return strings.Join(parts, ": ")
}
