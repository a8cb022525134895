// Package build produces the request handler served by the active server.
//
// A build reloads the configuration from disk, runs the configured build
// toolchain in the working directory and wraps the output directory in an
// http.Handler. Builds never touch server state; the caller decides what to
// do with the returned Artifact.
package build

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"hotswap/internal/config"
	"hotswap/internal/runner"
	"hotswap/pkg/fileutil"
)

// Build stages reported in Error.
const (
	StageConfig  = "config"
	StageCompile = "compile"
	StageRender  = "render"
)

// Artifact is the result of one successful build. It is never modified after
// Build returns.
type Artifact struct {
	ID       string        `json:"id"`
	Mode     config.Mode   `json:"mode"`
	Root     string        `json:"root"`
	BuiltAt  time.Time     `json:"built_at"`
	Duration time.Duration `json:"duration"`

	Handler http.Handler `json:"-"`
}

// Error reports a failed build stage.
type Error struct {
	Stage  string
	Err    error
	Output string
}

func (e *Error) Error() string {
	return fmt.Sprintf("build failed at %s stage: %v", e.Stage, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Orchestrator runs builds.
type Orchestrator struct {
	// Load returns a fresh configuration for every build.
	Load func() (*config.Config, error)

	// Inherit copies toolchain output to the supervisor's own streams.
	Inherit bool

	Logger *slog.Logger
}

// New creates an orchestrator that reloads the configuration file at path
// before every build.
func New(path string, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		Load:   func() (*config.Config, error) { return config.Load(path) },
		Logger: logger,
	}
}

// Build reloads the configuration, runs the build commands with
// HOTSWAP_ENV set to mode and returns a handler over the output directory.
func (o *Orchestrator) Build(ctx context.Context, mode config.Mode) (*Artifact, error) {
	start := time.Now()
	logger := o.Logger
	if logger == nil {
		logger = slog.Default()
	}

	cfg, err := o.Load()
	if err != nil {
		return nil, &Error{Stage: StageConfig, Err: err}
	}

	logger.Info("Starting build", "mode", mode, "workdir", cfg.Workdir, "commands", len(cfg.Build.Commands))

	r := runner.New(cfg.Workdir, logger)
	r.Inherit = o.Inherit
	r.Redact = cfg.Secrets()
	env := append([]string{config.EnvMode + "=" + mode.String()}, cfg.Build.Env...)
	r = r.With(env, time.Duration(cfg.Build.Timeout)*time.Second)

	results, err := r.RunAll(ctx, cfg.Build.Commands)
	if err != nil {
		return nil, &Error{Stage: StageCompile, Err: err, Output: lastOutput(results)}
	}

	root := cfg.OutputPath()
	if !fileutil.DirExists(root) {
		return nil, &Error{Stage: StageRender, Err: fmt.Errorf("output directory does not exist: %s", root)}
	}

	artifact := &Artifact{
		ID:       uuid.NewString(),
		Mode:     mode,
		Root:     root,
		BuiltAt:  time.Now(),
		Duration: time.Since(start),
		Handler:  NewSiteHandler(root, cfg.Build.SPAFallback, !mode.IsProduction()),
	}

	logger.Info("Build finished",
		"artifact", artifact.ID,
		"root", root,
		"duration_ms", artifact.Duration.Milliseconds(),
	)

	return artifact, nil
}

func lastOutput(results []*runner.Result) string {
	if len(results) == 0 {
		return ""
	}
	last := results[len(results)-1]
	return strings.TrimSpace(last.Stdout + "\n" + last.Stderr)
}
