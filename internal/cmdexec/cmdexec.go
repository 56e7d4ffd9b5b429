// Package cmdexec runs the external tools the orchestrator drives and
// gives every caller the same injectable seam for tests.
package cmdexec

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// Result captures one finished invocation. ExitCode is meaningful only
// when Run returned a nil error.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Executor abstracts command execution for testability. Run blocks
// until the process exits. A process that launched and terminated
// reports its exit code in Result with a nil error, nonzero included;
// the error path is reserved for launch failures and cancellation.
// onLine receives stdout and stderr lines as they arrive and may be
// called from two goroutines at once.
type Executor interface {
	Run(ctx context.Context, binary string, args []string, onLine func(string)) (Result, error)
}

// New returns the Executor backed by os/exec.
func New() Executor {
	return commandExecutor{}
}

// LookPath resolves binary on PATH.
func LookPath(binary string) (string, error) {
	path, err := exec.LookPath(binary)
	if err != nil {
		return "", fmt.Errorf("locate %s: %w", binary, err)
	}
	return path, nil
}

type commandExecutor struct{}

func (commandExecutor) Run(ctx context.Context, binary string, args []string, onLine func(string)) (Result, error) {
	started := time.Now()
	cmd := exec.CommandContext(ctx, binary, args...) //nolint:gosec

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Result{}, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return Result{}, fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return Result{}, fmt.Errorf("start %s: %w", binary, err)
	}

	var outBuf, errBuf strings.Builder
	var wg sync.WaitGroup
	var scanErr error
	var once sync.Once

	scan := func(r io.Reader, buf *strings.Builder) {
		defer wg.Done()
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			buf.WriteString(line)
			buf.WriteByte('\n')
			if onLine != nil {
				onLine(line)
			}
		}
		if err := scanner.Err(); err != nil {
			once.Do(func() { scanErr = err })
		}
	}

	wg.Add(2)
	go scan(stdout, &outBuf)
	go scan(stderr, &errBuf)
	wg.Wait()
	if scanErr != nil {
		_ = cmd.Process.Kill()
	}

	result := Result{Stdout: outBuf.String(), Stderr: errBuf.String()}

	waitErr := cmd.Wait()
	result.Duration = time.Since(started)

	if ctxErr := ctx.Err(); ctxErr != nil {
		return result, fmt.Errorf("%s interrupted: %w", binary, ctxErr)
	}
	if scanErr != nil {
		return result, fmt.Errorf("read %s output: %w", binary, scanErr)
	}
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		return result, fmt.Errorf("wait for %s: %w", binary, waitErr)
	}
	return result, nil
}
