package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Options describes logger construction parameters.
type Options struct {
	Level            string
	Format           string
	OutputPaths      []string
	ErrorOutputPaths []string
}

// New constructs a slog logger using the provided options. Paths other
// than "stdout" and "stderr" are opened lazily and never fail the
// caller; see bestEffortFile.
func New(opts Options) (*slog.Logger, error) {
	levelVar := new(slog.LevelVar)
	levelVar.Set(parseLevel(opts.Level))

	writer := assembleWriters(
		defaultSlice(opts.OutputPaths, []string{"stdout"}),
		defaultSlice(opts.ErrorOutputPaths, []string{"stderr"}),
	)

	format := strings.ToLower(strings.TrimSpace(opts.Format))
	if format == "" {
		format = "console"
	}

	var handler slog.Handler
	switch format {
	case "json":
		handler = newJSONHandler(writer, levelVar)
	case "console":
		handler = newConsoleHandler(writer, levelVar)
	default:
		return nil, fmt.Errorf("log format: unsupported value %q", opts.Format)
	}

	return slog.New(handler), nil
}

// RunLogPath returns the per-run log file path inside dir for a run
// started at the given time. The UTC stamp keeps names sortable and
// unique per invocation.
func RunLogPath(dir string, start time.Time) string {
	if strings.TrimSpace(dir) == "" {
		return ""
	}
	name := "snapward-" + start.UTC().Format("20060102T150405Z") + ".log"
	return filepath.Join(dir, name)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	case "info", "":
		return slog.LevelInfo
	default:
		return slog.LevelInfo
	}
}

func defaultSlice(value []string, fallback []string) []string {
	if len(value) == 0 {
		value = fallback
	}
	cp := make([]string, len(value))
	copy(cp, value)
	return cp
}

func assembleWriters(outputPaths, errorPaths []string) io.Writer {
	seen := map[string]struct{}{}
	var writers []io.Writer

	for _, path := range append(append([]string{}, outputPaths...), errorPaths...) {
		trimmed := strings.TrimSpace(path)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}

		switch trimmed {
		case "stdout":
			writers = append(writers, os.Stdout)
		case "stderr":
			writers = append(writers, os.Stderr)
		default:
			writers = append(writers, &bestEffortFile{path: trimmed})
		}
	}

	switch len(writers) {
	case 0:
		return os.Stdout
	case 1:
		return writers[0]
	default:
		return io.MultiWriter(writers...)
	}
}

// bestEffortFile appends to a log file but refuses to let the file take
// the process down with it: open or write failures print one warning to
// stderr and every later write is silently dropped.
type bestEffortFile struct {
	mu     sync.Mutex
	path   string
	file   *os.File
	opened bool
	dead   bool
}

func (w *bestEffortFile) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.dead {
		return len(p), nil
	}
	if !w.opened {
		w.opened = true
		if dir := filepath.Dir(w.path); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				w.disable(err)
				return len(p), nil
			}
		}
		file, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			w.disable(err)
			return len(p), nil
		}
		w.file = file
	}
	if _, err := w.file.Write(p); err != nil {
		w.disable(err)
	}
	return len(p), nil
}

func (w *bestEffortFile) disable(err error) {
	w.dead = true
	if w.file != nil {
		w.file.Close()
		w.file = nil
	}
	fmt.Fprintf(os.Stderr, "warning: log file %s unavailable, continuing without it: %v\n", w.path, err)
}
