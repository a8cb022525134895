package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"hotswap/internal/build"
)

const (
	// HTTP server timeouts
	HTTPReadTimeout  = 10 * time.Second
	HTTPWriteTimeout = 60 * time.Second
	HTTPIdleTimeout  = 60 * time.Second

	// DefaultBindTimeout bounds how long Start retries a refused bind.
	DefaultBindTimeout = 5 * time.Second
)

var (
	// ErrPortHeld is returned by Start while another handle owns the port.
	ErrPortHeld = errors.New("port is held by a live server")

	// ErrNotRunning is returned by Stop when the role is not bound.
	ErrNotRunning = errors.New("server is not running")
)

// Role identifies which server currently holds the port.
type Role int32

const (
	RoleNone Role = iota
	RoleActive
	RolePlaceholder
)

func (r Role) String() string {
	switch r {
	case RoleActive:
		return "active"
	case RolePlaceholder:
		return "placeholder"
	default:
		return "none"
	}
}

// BindError reports a failed attempt to take the port.
type BindError struct {
	Addr string
	Role Role
	Err  error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("failed to bind %s server on %s: %v", e.Role, e.Addr, e.Err)
}

func (e *BindError) Unwrap() error {
	return e.Err
}

type handle struct {
	role   Role
	server *http.Server
	ln     net.Listener
	done   chan struct{}
}

// Manager starts and stops the active and placeholder servers on one
// address.
type Manager struct {
	addr   string
	logger *slog.Logger

	// BindTimeout bounds bind retries. Zero means DefaultBindTimeout.
	BindTimeout time.Duration

	// OnRoleChange, when set, is called with the new role after every
	// successful start or stop.
	OnRoleChange func(Role)

	mu          sync.Mutex
	current     *handle
	active      http.Handler
	placeholder http.Handler

	role     atomic.Int32
	artifact atomic.Pointer[build.Artifact]
}

// NewManager creates a manager for addr. Handlers are installed with
// SetHandlers before the first Start.
func NewManager(addr string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{addr: addr, logger: logger}
}

// SetHandlers installs the routers used by the two roles.
func (m *Manager) SetHandlers(active, placeholder http.Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active = active
	m.placeholder = placeholder
}

// Role returns the role currently holding the port.
func (m *Manager) Role() Role {
	return Role(m.role.Load())
}

// Artifact returns the artifact installed by the last successful
// StartActive, or nil before the first one.
func (m *Manager) Artifact() *build.Artifact {
	return m.artifact.Load()
}

// Addr returns the bound address while a server is live, otherwise the
// configured one.
func (m *Manager) Addr() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != nil {
		return m.current.ln.Addr().String()
	}
	return m.addr
}

// StartActive binds the port with the active router and installs artifact
// as the handler for application requests.
func (m *Manager) StartActive(artifact *build.Artifact) error {
	if artifact == nil {
		return &BindError{Addr: m.addr, Role: RoleActive, Err: errors.New("no artifact")}
	}
	return m.start(RoleActive, func() { m.artifact.Store(artifact) })
}

// StartPlaceholder binds the port with the maintenance page router.
func (m *Manager) StartPlaceholder() error {
	return m.start(RolePlaceholder, nil)
}

// StopActive shuts the active server down and waits for it to release the
// port.
func (m *Manager) StopActive(ctx context.Context) error {
	return m.stop(ctx, RoleActive)
}

// StopPlaceholder shuts the placeholder down and waits for it to release
// the port.
func (m *Manager) StopPlaceholder(ctx context.Context) error {
	return m.stop(ctx, RolePlaceholder)
}

// Close stops whichever server holds the port. It is a no-op when nothing is
// bound.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	current := m.current
	m.mu.Unlock()
	if current == nil {
		return nil
	}
	err := m.stop(ctx, current.role)
	if errors.Is(err, ErrNotRunning) {
		return nil
	}
	return err
}

func (m *Manager) start(role Role, installed func()) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil {
		return &BindError{Addr: m.addr, Role: role, Err: fmt.Errorf("%w (%s)", ErrPortHeld, m.current.role)}
	}

	handler := m.active
	if role == RolePlaceholder {
		handler = m.placeholder
	}
	if handler == nil {
		return &BindError{Addr: m.addr, Role: role, Err: errors.New("no handler installed")}
	}

	ln, err := m.listen()
	if err != nil {
		return &BindError{Addr: m.addr, Role: role, Err: err}
	}

	if installed != nil {
		installed()
	}

	h := &handle{
		role: role,
		ln:   ln,
		done: make(chan struct{}),
		server: &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: HTTPReadTimeout,
			ReadTimeout:       HTTPReadTimeout,
			WriteTimeout:      HTTPWriteTimeout,
			IdleTimeout:       HTTPIdleTimeout,
			ErrorLog:          slog.NewLogLogger(m.logger.Handler(), slog.LevelWarn),
		},
	}

	go func() {
		defer close(h.done)
		if err := h.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.logger.Error("Server stopped unexpectedly", "role", role.String(), "error", err)
		}
	}()

	m.current = h
	m.setRole(role)
	m.logger.Info("Server listening", "role", role.String(), "addr", ln.Addr().String())
	return nil
}

// listen binds the configured address, retrying with exponential backoff
// while the OS refuses it.
func (m *Manager) listen() (net.Listener, error) {
	timeout := m.BindTimeout
	if timeout == 0 {
		timeout = DefaultBindTimeout
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 25 * time.Millisecond
	bo.MaxInterval = 500 * time.Millisecond
	bo.MaxElapsedTime = timeout

	var ln net.Listener
	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		var err error
		ln, err = net.Listen("tcp", m.addr)
		if err != nil {
			m.logger.Warn("Bind attempt failed", "addr", m.addr, "attempt", attempt, "error", err)
		}
		return err
	}, bo)
	if err != nil {
		return nil, fmt.Errorf("%w after %d attempt(s)", err, attempt)
	}
	return ln, nil
}

func (m *Manager) stop(ctx context.Context, role Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	h := m.current
	if h == nil || h.role != role {
		return fmt.Errorf("stop %s: %w", role, ErrNotRunning)
	}

	start := time.Now()
	if err := h.server.Shutdown(ctx); err != nil {
		m.logger.Warn("Graceful shutdown timed out, closing connections", "role", role.String(), "error", err)
		h.server.Close()
	}
	<-h.done

	m.current = nil
	m.setRole(RoleNone)
	m.logger.Info("Server stopped", "role", role.String(), "duration_ms", time.Since(start).Milliseconds())
	return nil
}

func (m *Manager) setRole(role Role) {
	m.role.Store(int32(role))
	if m.OnRoleChange != nil {
		m.OnRoleChange(role)
	}
}
