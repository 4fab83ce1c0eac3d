package collab

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/mdrashedmamun/fluentstep-ielts-roleplay-engine-sub003/internal/logging"
)

// Executor abstracts command execution for testability.
type Executor interface {
	Run(ctx context.Context, dir string, argv []string, onLine func(string)) error
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, dir string, argv []string, onLine func(string)) error

func (f ExecutorFunc) Run(ctx context.Context, dir string, argv []string, onLine func(string)) error {
	return f(ctx, dir, argv, onLine)
}

type commandExecutor struct{}

func (commandExecutor) Run(ctx context.Context, dir string, argv []string, onLine func(string)) error {
	if len(argv) == 0 {
		return errors.New("empty command")
	}
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...) //nolint:gosec
	cmd.Dir = dir
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start command: %w", err)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	var scanErr error
	var once sync.Once

	scan := func(r io.Reader) {
		defer wg.Done()
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			if onLine != nil {
				mu.Lock()
				onLine(scanner.Text())
				mu.Unlock()
			}
		}
		if err := scanner.Err(); err != nil {
			once.Do(func() {
				scanErr = err
			})
			// Keep the pipe drained so the child can still exit.
			_, _ = io.Copy(io.Discard, r)
		}
	}

	wg.Add(2)
	go scan(stdout)
	go scan(stderr)
	wg.Wait()

	if scanErr != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return fmt.Errorf("scan output: %w", scanErr)
	}
	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("wait command: %w", err)
	}
	return nil
}

// DefaultExecutor runs commands with os/exec.
func DefaultExecutor() Executor { return commandExecutor{} }

const (
	tailLines    = 20
	maxKeptLines = 2000
)

// CommandError describes a collaborator process that failed.
type CommandError struct {
	Name     string
	Argv     []string
	ExitCode int
	Tail     []string
	Err      error
}

func (e *CommandError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s command failed", e.Name)
	if e.ExitCode > 0 {
		fmt.Fprintf(&b, " (exit %d)", e.ExitCode)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	if len(e.Tail) > 0 {
		b.WriteString("\n  ")
		b.WriteString(strings.Join(e.Tail, "\n  "))
	}
	return b.String()
}

func (e *CommandError) Unwrap() error { return e.Err }

// Output is the captured output of a finished command.
type Output struct {
	Lines    []string
	Duration time.Duration
}

// Tail returns the last n lines.
func (o Output) Tail(n int) []string {
	if len(o.Lines) <= n {
		return o.Lines
	}
	return o.Lines[len(o.Lines)-n:]
}

// Runner executes argv templates in a working directory.
type Runner struct {
	exec    Executor
	dir     string
	timeout time.Duration
	logger  *slog.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithExecutor injects a custom executor (primarily for tests).
func WithExecutor(e Executor) Option {
	return func(r *Runner) {
		if e != nil {
			r.exec = e
		}
	}
}

// WithTimeout bounds each command. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(r *Runner) { r.timeout = d }
}

// NewRunner returns a Runner that executes commands from dir.
func NewRunner(dir string, logger *slog.Logger, opts ...Option) *Runner {
	r := &Runner{
		exec:   commandExecutor{},
		dir:    dir,
		logger: logging.NewComponentLogger(logger, "collab"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run expands argv with vars and executes it.
func (r *Runner) Run(ctx context.Context, name string, argv []string, vars Vars) (Output, error) {
	expanded := Expand(argv, vars)
	if len(expanded) == 0 {
		return Output{}, &CommandError{Name: name, Err: errors.New("command not configured")}
	}
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	logger := logging.WithContext(ctx, r.logger)
	logger.Info("running command", logging.String("command", name), logging.String("argv", strings.Join(expanded, " ")))

	var out Output
	start := time.Now()
	err := r.exec.Run(ctx, r.dir, expanded, func(line string) {
		logger.Debug("command output", logging.String("command", name), logging.String("line", line))
		out.Lines = append(out.Lines, line)
		if len(out.Lines) > maxKeptLines {
			out.Lines = out.Lines[len(out.Lines)-maxKeptLines:]
		}
	})
	out.Duration = time.Since(start)
	if err != nil {
		cmdErr := &CommandError{Name: name, Argv: expanded, Tail: out.Tail(tailLines), Err: err}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			cmdErr.ExitCode = exitErr.ExitCode()
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			cmdErr.Err = fmt.Errorf("%w: %w", ctxErr, err)
		}
		return out, cmdErr
	}
	logger.Info("command finished", logging.String("command", name), logging.Duration("duration", out.Duration))
	return out, nil
}
