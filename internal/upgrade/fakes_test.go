package upgrade

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"hotswap/internal/build"
	"hotswap/internal/config"
	"hotswap/internal/history"
	"hotswap/internal/lifecycle"
	"hotswap/internal/monitor"
	"hotswap/internal/runner"
)

// fakeFetcher returns scripted results. When block is set each call waits
// for a value on it (or for ctx to end).
type fakeFetcher struct {
	mu      sync.Mutex
	calls   [][]string
	fail    bool
	block   chan struct{}
	entered chan struct{}
	stdout  string
}

func (f *fakeFetcher) RunAll(ctx context.Context, commands []string) ([]*runner.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, commands)
	fail, block, entered, stdout := f.fail, f.block, f.entered, f.stdout
	f.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	var results []*runner.Result
	for i, cmd := range commands {
		if fail && i == len(commands)-1 {
			results = append(results, &runner.Result{Command: cmd, ExitCode: 1, Stderr: "fatal: not a git repository"})
			return results, fmt.Errorf("command %d failed: %w", i, &runner.ExitError{Command: cmd, Code: 1})
		}
		results = append(results, &runner.Result{Command: cmd, Stdout: stdout})
	}
	return results, nil
}

func (f *fakeFetcher) setFail(fail bool) {
	f.mu.Lock()
	f.fail = fail
	f.mu.Unlock()
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// fakeBuilder hands out artifacts a1, a2, ... and fails while fail is set.
type fakeBuilder struct {
	mu    sync.Mutex
	n     int
	fail  bool
	block chan struct{}
	modes []config.Mode
}

func (b *fakeBuilder) Build(ctx context.Context, mode config.Mode) (*build.Artifact, error) {
	b.mu.Lock()
	b.modes = append(b.modes, mode)
	fail, block := b.fail, b.block
	b.mu.Unlock()

	if block != nil {
		<-block
	}
	if fail {
		return nil, &build.Error{Stage: build.StageCompile, Err: errors.New("exit status 2")}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.n++
	return &build.Artifact{ID: fmt.Sprintf("a%d", b.n), Mode: mode}, nil
}

func (b *fakeBuilder) setFail(fail bool) {
	b.mu.Lock()
	b.fail = fail
	b.mu.Unlock()
}

func (b *fakeBuilder) calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.modes)
}

// fakeServers models the port. It records every operation and flags any
// moment where both roles would hold the port.
type fakeServers struct {
	mu           sync.Mutex
	bound        lifecycle.Role
	artifact     *build.Artifact
	ops          []string
	violations   []string
	failActive      bool
	failPlaceholder bool
	onStopActive    func()
}

func (s *fakeServers) StartActive(a *build.Artifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bound != lifecycle.RoleNone {
		s.violations = append(s.violations, "start active while "+s.bound.String()+" bound")
		return &lifecycle.BindError{Role: lifecycle.RoleActive, Err: lifecycle.ErrPortHeld}
	}
	if s.failActive {
		s.ops = append(s.ops, "start_active_failed:"+a.ID)
		return &lifecycle.BindError{Role: lifecycle.RoleActive, Err: errors.New("address already in use")}
	}
	s.bound = lifecycle.RoleActive
	s.artifact = a
	s.ops = append(s.ops, "start_active:"+a.ID)
	return nil
}

func (s *fakeServers) StopActive(ctx context.Context) error {
	s.mu.Lock()
	hook := s.onStopActive
	s.mu.Unlock()
	if hook != nil {
		hook()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bound != lifecycle.RoleActive {
		return lifecycle.ErrNotRunning
	}
	s.bound = lifecycle.RoleNone
	s.ops = append(s.ops, "stop_active")
	return nil
}

func (s *fakeServers) StartPlaceholder() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bound != lifecycle.RoleNone {
		s.violations = append(s.violations, "start placeholder while "+s.bound.String()+" bound")
		return &lifecycle.BindError{Role: lifecycle.RolePlaceholder, Err: lifecycle.ErrPortHeld}
	}
	if s.failPlaceholder {
		s.ops = append(s.ops, "start_placeholder_failed")
		return &lifecycle.BindError{Role: lifecycle.RolePlaceholder, Err: errors.New("address already in use")}
	}
	s.bound = lifecycle.RolePlaceholder
	s.ops = append(s.ops, "start_placeholder")
	return nil
}

func (s *fakeServers) StopPlaceholder(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bound != lifecycle.RolePlaceholder {
		return lifecycle.ErrNotRunning
	}
	s.bound = lifecycle.RoleNone
	s.ops = append(s.ops, "stop_placeholder")
	return nil
}

func (s *fakeServers) snapshot() (ops []string, role lifecycle.Role, artifact string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ops = append([]string(nil), s.ops...)
	if s.artifact != nil {
		artifact = s.artifact.ID
	}
	return ops, s.bound, artifact
}

func (s *fakeServers) setFailPlaceholder(fail bool) {
	s.mu.Lock()
	s.failPlaceholder = fail
	s.mu.Unlock()
}

func (s *fakeServers) setFailActive(fail bool) {
	s.mu.Lock()
	s.failActive = fail
	s.mu.Unlock()
}

type harness struct {
	coord   *Coordinator
	fetcher *fakeFetcher
	builder *fakeBuilder
	servers *fakeServers
	history *history.History
	metrics *monitor.Metrics
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	hist, err := history.NewHistory(20)
	if err != nil {
		t.Fatalf("Failed to create history: %v", err)
	}

	h := &harness{
		fetcher: &fakeFetcher{},
		builder: &fakeBuilder{},
		servers: &fakeServers{},
		history: hist,
		metrics: monitor.NewMetrics(),
	}
	h.coord = New(Options{
		Mode:    config.Production,
		History: hist,
		Metrics: h.metrics,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, h.fetcher, h.builder, h.servers)

	t.Cleanup(func() {
		h.coord.Wait()
		h.servers.mu.Lock()
		defer h.servers.mu.Unlock()
		for _, v := range h.servers.violations {
			t.Errorf("port exclusivity violated: %s", v)
		}
	})
	return h
}

func (h *harness) bootstrap(t *testing.T) {
	t.Helper()
	if err := h.coord.Bootstrap(context.Background()); err != nil {
		t.Fatalf("Bootstrap() error = %v", err)
	}
}

func pullRequest() Request {
	return Request{
		Source:   SourceWebhook,
		Commands: []string{"git pull -f", "npm install"},
		Rebuild:  true,
		Ref:      "refs/heads/main",
		Revision: "abc123",
	}
}

func waitCycle(t *testing.T, cycle *Cycle) error {
	t.Helper()
	<-cycle.Done()
	return cycle.Err()
}

func equalOps(a, b []string) bool {
	return cmp.Equal(a, b)
}
