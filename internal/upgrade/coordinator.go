package upgrade

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"hotswap/internal/build"
	"hotswap/internal/config"
	"hotswap/internal/history"
	"hotswap/internal/lifecycle"
	"hotswap/internal/monitor"
	"hotswap/internal/notify"
	"hotswap/internal/runner"
	"hotswap/pkg/fsm"
)

const notifyTimeout = 10 * time.Second

// Fetcher runs the fetch commands of a cycle.
type Fetcher interface {
	RunAll(ctx context.Context, commands []string) ([]*runner.Result, error)
}

// Builder produces a new artifact.
type Builder interface {
	Build(ctx context.Context, mode config.Mode) (*build.Artifact, error)
}

// Servers switches the port between the active and placeholder servers.
type Servers interface {
	StartActive(artifact *build.Artifact) error
	StopActive(ctx context.Context) error
	StartPlaceholder() error
	StopPlaceholder(ctx context.Context) error
}

// Options configures a Coordinator.
type Options struct {
	Mode config.Mode

	// PullTimeout bounds the whole fetch step. Zero means no timeout.
	PullTimeout time.Duration

	// StopTimeout bounds graceful shutdown of a server before its
	// connections are closed. Zero means config.DefaultStopTimeout.
	StopTimeout time.Duration

	History  *history.History
	Metrics  *monitor.Metrics
	Notifier notify.Notifier
	Logger   *slog.Logger
}

// Coordinator owns the upgrade state machine. All supervisor state changes
// go through it.
type Coordinator struct {
	opts    Options
	fetcher Fetcher
	builder Builder
	servers Servers
	logger  *slog.Logger

	// guard is held for the whole of a cycle, including bootstrap.
	guard   sync.Mutex
	machine *fsm.StateMachine
	current atomic.Pointer[Cycle]

	// bound is the role this coordinator last put on the port. Guarded by
	// guard.
	bound lifecycle.Role
	wg      sync.WaitGroup
}

// New creates a coordinator in the Booting phase.
func New(opts Options, fetcher Fetcher, builder Builder, servers Servers) *Coordinator {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.Nop{}
	}
	if opts.StopTimeout == 0 {
		opts.StopTimeout = config.DefaultStopTimeout * time.Second
	}

	c := &Coordinator{
		opts:    opts,
		fetcher: fetcher,
		builder: builder,
		servers: servers,
		logger:  opts.Logger,
		machine: newMachine(),
	}

	if opts.Metrics != nil {
		names := make([]string, len(AllPhases))
		for i, p := range AllPhases {
			names[i] = string(p)
		}
		opts.Metrics.SetPhase(string(PhaseBooting), names)
		c.machine.OnTransition(func(from, to fsm.State, event fsm.Event) error {
			opts.Metrics.SetPhase(string(to), names)
			return nil
		})
	}
	c.machine.OnTransition(func(from, to fsm.State, event fsm.Event) error {
		c.logger.Debug("Phase transition", "from", from, "event", event, "to", to)
		return nil
	})

	return c
}

// Phase returns the current phase.
func (c *Coordinator) Phase() Phase {
	return c.machine.Current()
}

// State returns Serving when no cycle is in flight and nothing is parked.
func (c *Coordinator) State() ServiceState {
	if c.Phase() == PhaseIdle {
		return Serving
	}
	return Upgrading
}

// Current returns the cycle in flight, or nil.
func (c *Coordinator) Current() *Cycle {
	return c.current.Load()
}

// Wait blocks until every cycle started by Trigger has finished.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

// Drain waits for the cycle in flight, if any, and rejects every later
// trigger with ErrInProgress. It is used on process shutdown.
func (c *Coordinator) Drain() {
	c.guard.Lock()
	c.wg.Wait()
}

// Bootstrap performs the first build and starts the active server directly,
// without a placeholder. Triggers are rejected until it returns.
func (c *Coordinator) Bootstrap(ctx context.Context) error {
	c.guard.Lock()
	defer c.guard.Unlock()

	if c.Phase() != PhaseBooting {
		return fmt.Errorf("bootstrap: already in phase %s", c.Phase())
	}

	c.logger.Info("Bootstrapping", "mode", c.opts.Mode)

	artifact, err := c.build(ctx)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}

	if err := c.servers.StartActive(artifact); err != nil {
		c.logger.Error("Bootstrap bind failed", "error", err)
		return fmt.Errorf("bootstrap: %w", err)
	}
	c.bound = lifecycle.RoleActive

	c.fire(EventBootstrapped)
	c.logger.Info("Bootstrap complete", "artifact", artifact.ID)
	return nil
}

// Trigger starts a cycle in the background. It never blocks on the cycle
// itself and returns ErrInProgress while another cycle is in flight.
func (c *Coordinator) Trigger(req Request) (*Cycle, error) {
	cycle, err := c.begin(req)
	if err != nil {
		return nil, err
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.end(cycle, c.run(context.Background(), cycle))
	}()

	return cycle, nil
}

// Run executes a cycle synchronously and returns its error.
func (c *Coordinator) Run(ctx context.Context, req Request) error {
	cycle, err := c.begin(req)
	if err != nil {
		return err
	}
	err = c.run(ctx, cycle)
	c.end(cycle, err)
	return err
}

func (c *Coordinator) begin(req Request) (*Cycle, error) {
	if !c.guard.TryLock() {
		c.rejected(req)
		return nil, ErrInProgress
	}
	if !c.machine.Can(EventTrigger) {
		c.guard.Unlock()
		c.rejected(req)
		return nil, ErrInProgress
	}

	parked := c.Phase() == PhasePlaceholderUp
	cycle := newCycle(req, parked)
	c.current.Store(cycle)
	c.fire(EventTrigger)

	if c.opts.Metrics != nil {
		c.opts.Metrics.ObserveTrigger(req.Source, true)
	}
	c.logger.Info("Upgrade cycle started",
		"cycle", cycle.ID,
		"source", req.Source,
		"ref", req.Ref,
		"revision", req.Revision,
		"commands", len(req.Commands),
		"rebuild", req.Rebuild,
		"parked", parked,
	)
	c.record(cycle, history.StatusInProgress, nil, "")

	return cycle, nil
}

// end releases the guard before Done is closed.
func (c *Coordinator) end(cycle *Cycle, err error) {
	c.current.Store(nil)
	c.guard.Unlock()
	cycle.finish(err)
}

func (c *Coordinator) rejected(req Request) {
	if c.opts.Metrics != nil {
		c.opts.Metrics.ObserveTrigger(req.Source, false)
	}
	c.logger.Info("Trigger ignored, upgrade already in progress", "source", req.Source, "phase", c.Phase())
}

// run executes the cycle steps in order. Each step starts only after the
// previous one has completed.
func (c *Coordinator) run(ctx context.Context, cycle *Cycle) error {
	req := cycle.Request
	c.notify(cycle, history.StatusInProgress, nil)

	outcome := c.fetch(ctx, req.Commands)
	cycle.setFetched(outcome)

	if outcome.Err != nil {
		c.logger.Error("Pull failed, upgrade abandoned", "cycle", cycle.ID, "error", outcome.Err)
		if cycle.parked {
			c.fire(EventRepark)
		} else {
			c.fire(EventFetchFailed)
		}
		return c.complete(cycle, history.StatusPullFailed, outcome.Err, "")
	}

	if !req.Rebuild {
		if cycle.parked {
			c.fire(EventRepark)
		} else {
			c.fire(EventFetchedOnly)
		}
		return c.complete(cycle, history.StatusFetched, nil, "")
	}

	switch {
	case !cycle.parked:
		c.swapToPlaceholder(cycle)
	case c.bound == lifecycle.RoleNone:
		// An earlier cycle parked without a maintenance page.
		c.bindPlaceholder(cycle)
	}
	c.fire(EventPlaceholderUp)

	c.fire(EventRebuild)
	artifact, err := c.build(ctx)
	if err != nil {
		c.fire(EventBuildFailed)
		c.logger.Error("Build failed, parked on placeholder until the next trigger",
			"cycle", cycle.ID,
			"error", err,
		)
		if c.bound == lifecycle.RoleNone {
			c.logger.Error("Parked with nothing bound to the port", "cycle", cycle.ID)
		}
		return c.complete(cycle, history.StatusBuildFailed, err, "")
	}
	c.fire(EventBuilt)

	if err := c.stop(c.servers.StopPlaceholder); err != nil {
		c.logger.Warn("Placeholder stop failed", "cycle", cycle.ID, "error", err)
	} else {
		c.bound = lifecycle.RoleNone
	}

	if err := c.servers.StartActive(artifact); err != nil {
		c.logger.Error("ACTIVE SERVER BIND FAILED, restoring placeholder",
			"cycle", cycle.ID,
			"artifact", artifact.ID,
			"error", err,
		)
		if perr := c.servers.StartPlaceholder(); perr != nil {
			c.logger.Error("Placeholder could not be restored, port is unbound", "cycle", cycle.ID, "error", perr)
		} else {
			c.bound = lifecycle.RolePlaceholder
		}
		c.fire(EventBindFailed)
		return c.complete(cycle, history.StatusBindFailed, err, artifact.ID)
	}

	c.bound = lifecycle.RoleActive
	c.fire(EventActiveUp)
	return c.complete(cycle, history.StatusSuccess, nil, artifact.ID)
}

func (c *Coordinator) fetch(ctx context.Context, commands []string) FetchOutcome {
	if len(commands) == 0 {
		return FetchOutcome{}
	}

	if c.opts.PullTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.PullTimeout)
		defer cancel()
	}

	results, err := c.fetcher.RunAll(ctx, commands)
	if err != nil {
		pullErr := &PullError{Err: err}
		if len(results) > 0 {
			last := results[len(results)-1]
			if !last.OK() {
				pullErr.Command = last.Command
				pullErr.Result = last
			}
		}
		return FetchOutcome{Results: results, Err: pullErr}
	}
	return FetchOutcome{Results: results}
}

// swapToPlaceholder stops the active server and binds the placeholder. A
// placeholder bind failure is logged and the cycle carries on without a
// maintenance page.
func (c *Coordinator) swapToPlaceholder(cycle *Cycle) {
	if err := c.stop(c.servers.StopActive); err != nil {
		c.logger.Warn("Active server stop failed", "cycle", cycle.ID, "error", err)
	} else {
		c.bound = lifecycle.RoleNone
	}
	c.bindPlaceholder(cycle)
}

func (c *Coordinator) bindPlaceholder(cycle *Cycle) {
	if err := c.servers.StartPlaceholder(); err != nil {
		c.logger.Error("Placeholder bind failed, rebuilding without maintenance page",
			"cycle", cycle.ID,
			"error", err,
		)
		return
	}
	c.bound = lifecycle.RolePlaceholder
}

func (c *Coordinator) stop(fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.StopTimeout)
	defer cancel()

	err := fn(ctx)
	if errors.Is(err, lifecycle.ErrNotRunning) {
		return nil
	}
	return err
}

func (c *Coordinator) build(ctx context.Context) (*build.Artifact, error) {
	start := time.Now()
	artifact, err := c.builder.Build(ctx, c.opts.Mode)
	if c.opts.Metrics != nil {
		c.opts.Metrics.ObserveBuild(err == nil, time.Since(start))
	}
	return artifact, err
}

func (c *Coordinator) complete(cycle *Cycle, status string, err error, artifactID string) error {
	duration := time.Since(cycle.StartedAt)

	c.record(cycle, status, err, artifactID)
	c.notify(cycle, status, err)
	if c.opts.Metrics != nil {
		c.opts.Metrics.ObserveCycle(status, duration)
	}

	logger := c.logger.With(
		"cycle", cycle.ID,
		"status", status,
		"phase", c.Phase(),
		"duration_ms", duration.Milliseconds(),
	)
	if err != nil {
		logger.Warn("Upgrade cycle finished", "error", err)
	} else {
		logger.Info("Upgrade cycle finished", "artifact", artifactID)
	}

	return err
}

func (c *Coordinator) record(cycle *Cycle, status string, err error, artifactID string) {
	rec := history.CycleRecord{
		ID:        cycle.ID,
		Source:    cycle.Request.Source,
		Ref:       cycle.Request.Ref,
		Revision:  cycle.Request.Revision,
		Commands:  cycle.Request.Commands,
		Rebuild:   cycle.Request.Rebuild,
		Status:    status,
		Phase:     string(c.Phase()),
		Role:      c.bound.String(),
		Artifact:  artifactID,
		StartedAt: cycle.StartedAt,
	}
	if status != history.StatusInProgress {
		now := time.Now()
		seconds := now.Sub(cycle.StartedAt).Seconds()
		rec.CompletedAt = &now
		rec.DurationSeconds = &seconds
	}
	if err != nil {
		msg := err.Error()
		rec.ErrorMessage = &msg
	}

	if c.opts.History != nil {
		c.opts.History.Record(rec)
	}
}

func (c *Coordinator) notify(cycle *Cycle, status string, err error) {
	description := fmt.Sprintf("%s cycle %s", cycle.Request.Source, status)
	if err != nil {
		description = err.Error()
	}

	ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
	defer cancel()
	if nerr := c.opts.Notifier.Notify(ctx, notify.Event{
		CycleID:     cycle.ID,
		Revision:    cycle.Request.Revision,
		Status:      status,
		Description: description,
	}); nerr != nil {
		c.logger.Warn("Failed to report cycle status", "cycle", cycle.ID, "error", nerr)
	}
}

func (c *Coordinator) fire(event fsm.Event) {
	if err := c.machine.Fire(event); err != nil {
		c.logger.Error("Invalid phase transition", "event", event, "phase", c.Phase(), "error", err)
	}
}
