package server

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"hotswap/internal/build"
	"hotswap/internal/config"
	"hotswap/internal/history"
	"hotswap/internal/lifecycle"
	"hotswap/internal/monitor"
	"hotswap/internal/runner"
	"hotswap/internal/upgrade"
)

const testToken = "admin-token-0123456789abcdef"

// stubBuilder produces artifacts whose handler answers with their ID.
type stubBuilder struct {
	mu    sync.Mutex
	n     int
	block chan struct{}
}

func (b *stubBuilder) Build(ctx context.Context, mode config.Mode) (*build.Artifact, error) {
	b.mu.Lock()
	block := b.block
	b.mu.Unlock()
	if block != nil {
		<-block
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.n++
	id := fmt.Sprintf("a%d", b.n)
	return &build.Artifact{
		ID:   id,
		Mode: mode,
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, "site "+id)
		}),
	}, nil
}

// stubPort tracks the port owner without binding anything.
type stubPort struct {
	mu       sync.Mutex
	role     lifecycle.Role
	artifact *build.Artifact
}

func (p *stubPort) StartActive(a *build.Artifact) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.role != lifecycle.RoleNone {
		return lifecycle.ErrPortHeld
	}
	p.role, p.artifact = lifecycle.RoleActive, a
	return nil
}

func (p *stubPort) StopActive(ctx context.Context) error {
	return p.release(lifecycle.RoleActive)
}

func (p *stubPort) StartPlaceholder() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.role != lifecycle.RoleNone {
		return lifecycle.ErrPortHeld
	}
	p.role = lifecycle.RolePlaceholder
	return nil
}

func (p *stubPort) StopPlaceholder(ctx context.Context) error {
	return p.release(lifecycle.RolePlaceholder)
}

func (p *stubPort) release(role lifecycle.Role) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.role != role {
		return lifecycle.ErrNotRunning
	}
	p.role = lifecycle.RoleNone
	return nil
}

func (p *stubPort) Role() lifecycle.Role {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.role
}

func (p *stubPort) Artifact() *build.Artifact {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.artifact
}

type testEnv struct {
	server  *Server
	coord   *upgrade.Coordinator
	builder *stubBuilder
	port    *stubPort
	history *history.History
	active  http.Handler
}

func testConfig(t *testing.T, mode config.Mode) *config.Config {
	return &config.Config{
		Mode:          mode,
		Workdir:       t.TempDir(),
		WebhookSecret: testSecret,
		AccessToken:   testToken,
		Branch:        "main",
		Pull:          []string{"echo pulled"},
		Placeholder: config.PlaceholderConfig{
			AssetPath: config.DefaultAssetPath,
			Title:     config.DefaultTitle,
			Message:   "Back in a moment",
		},
		Admin: config.AdminConfig{
			AllowedCommands: []string{"echo", "sh"},
		},
	}
}

// setupTestServer wires a real coordinator and process runner to stub
// servers and bootstraps it.
func setupTestServer(t *testing.T, cfg *config.Config) *testEnv {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	hist, err := history.NewHistory(20)
	if err != nil {
		t.Fatalf("Failed to create history: %v", err)
	}

	env := &testEnv{
		builder: &stubBuilder{},
		port:    &stubPort{},
		history: hist,
	}
	metrics := monitor.NewMetrics()
	env.coord = upgrade.New(upgrade.Options{
		Mode:    cfg.Mode,
		History: hist,
		Metrics: metrics,
		Logger:  logger,
	}, runner.New(cfg.Workdir, logger), env.builder, env.port)

	if err := env.coord.Bootstrap(context.Background()); err != nil {
		t.Fatalf("Bootstrap() error = %v", err)
	}
	t.Cleanup(env.coord.Wait)

	env.server = NewServer(cfg, env.coord, env.port, logger, true)
	env.server.History = hist
	env.server.Metrics = metrics
	env.active = env.server.ActiveRouter()

	return env
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	e.active.ServeHTTP(rr, req)
	return rr
}

func webhookRequest(t *testing.T, event string, payload []byte, signature string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhooks", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(EventHeader, event)
	if signature != "" {
		req.Header.Set(SignatureHeader256, signature)
	}
	return req
}

func commandRequest(body, token string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/command", bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set(AccessTokenHeader, token)
	}
	return req
}
