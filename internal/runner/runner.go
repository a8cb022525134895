// Package runner executes the supervisor's fetch and build commands as child
// processes.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"hotswap/pkg/cmdutil"
)

// Result represents the result of running one command line.
type Result struct {
	Command  string        `json:"command"`
	ExitCode int           `json:"exit_code"`
	Stdout   string        `json:"stdout"`
	Stderr   string        `json:"stderr"`
	Duration time.Duration `json:"duration"`
}

// OK checks if the command exited successfully
func (r *Result) OK() bool {
	return r != nil && r.ExitCode == 0
}

// Runner starts command lines in a working directory.
type Runner struct {
	// Dir is the working directory for every command.
	Dir string

	// Env is appended to the supervisor's own environment.
	Env []string

	// Timeout bounds each command. Zero means no timeout.
	Timeout time.Duration

	// Redact lists values scrubbed from captured output.
	Redact []string

	// Inherit copies child output to the supervisor's stdout and stderr.
	Inherit bool

	Logger *slog.Logger
}

// New creates a runner for dir.
func New(dir string, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{Dir: dir, Logger: logger}
}

// With returns a copy of r with extra environment entries and a different
// timeout.
func (r *Runner) With(env []string, timeout time.Duration) *Runner {
	c := *r
	c.Env = append(append([]string(nil), r.Env...), env...)
	c.Timeout = timeout
	return &c
}

// Run splits commandLine without a shell and executes it. It returns once the
// process has exited. A Result is returned whenever the process was started,
// including on non-zero exit.
func (r *Runner) Run(ctx context.Context, commandLine string) (*Result, error) {
	parts, err := cmdutil.ParseCommandString(commandLine)
	if err != nil {
		return nil, fmt.Errorf("invalid command %q: %w", commandLine, err)
	}
	return r.RunParts(ctx, parts)
}

// RunParts executes an already split command.
func (r *Runner) RunParts(ctx context.Context, parts []string) (*Result, error) {
	opts := cmdutil.ExecOptions{
		Dir:     r.Dir,
		Timeout: r.Timeout,
	}
	if len(r.Env) > 0 {
		opts.Env = append(os.Environ(), r.Env...)
	}
	if r.Inherit {
		opts.Stdout = os.Stdout
		opts.Stderr = os.Stderr
	}

	display := cmdutil.FormatCommand(parts)
	r.Logger.Info("Running command", "command", display, "dir", r.Dir)

	res, err := cmdutil.Run(ctx, opts, parts)
	if res == nil {
		r.Logger.Error("Command could not start", "command", display, "error", err)
		return nil, err
	}

	result := &Result{
		Command:  display,
		ExitCode: res.ExitCode,
		Stdout:   string(cmdutil.SanitizeOutput(res.Stdout, r.Redact)),
		Stderr:   string(cmdutil.SanitizeOutput(res.Stderr, r.Redact)),
		Duration: res.Duration,
	}

	if err != nil {
		if result.ExitCode > 0 {
			err = &ExitError{Command: display, Code: result.ExitCode, Err: err}
		}
		r.Logger.Error("Command failed",
			"command", display,
			"exit_code", result.ExitCode,
			"duration_ms", result.Duration.Milliseconds(),
			"stderr", tail(result.Stderr, 2048),
		)
		return result, err
	}

	r.Logger.Info("Command finished",
		"command", display,
		"duration_ms", result.Duration.Milliseconds(),
	)
	return result, nil
}

// RunAll executes commands sequentially and stops at the first failure.
// The returned slice holds one Result per command that was started.
func (r *Runner) RunAll(ctx context.Context, commands []string) ([]*Result, error) {
	results := make([]*Result, 0, len(commands))
	for i, command := range commands {
		result, err := r.Run(ctx, command)
		if result != nil {
			results = append(results, result)
		}
		if err != nil {
			return results, fmt.Errorf("command %d failed: %w", i, err)
		}
	}
	return results, nil
}

// ExitError reports a command that ran and exited non-zero.
type ExitError struct {
	Command string
	Code    int
	Err     error
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s exited with code %d", e.Command, e.Code)
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// IsExit reports whether err is, or wraps, an *ExitError.
func IsExit(err error) bool {
	var exitErr *ExitError
	return errors.As(err, &exitErr)
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
