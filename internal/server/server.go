package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"hotswap/internal/build"
	"hotswap/internal/config"
	"hotswap/internal/history"
	"hotswap/internal/lifecycle"
	"hotswap/internal/monitor"
	"hotswap/internal/security"
	"hotswap/internal/upgrade"
	"hotswap/pkg/templates"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const (
	// Request timeout for middleware
	RequestTimeout = 60 * time.Second

	// Rate limiting - requests per minute per IP
	ControlRateLimit = 30
	WebhookRateLimit = 6

	// PlaceholderRefresh is the maintenance page auto-refresh interval.
	PlaceholderRefresh = 5

	// RetryAfterSeconds is sent with 503 responses from the placeholder.
	RetryAfterSeconds = "10"
)

// Upgrader is the part of the upgrade coordinator the HTTP layer drives.
type Upgrader interface {
	Trigger(req upgrade.Request) (*upgrade.Cycle, error)
	State() upgrade.ServiceState
	Phase() upgrade.Phase
	Current() *upgrade.Cycle
}

// Port reports who holds the listening port and what the active server
// serves.
type Port interface {
	Role() lifecycle.Role
	Artifact() *build.Artifact
}

// Server builds the active and placeholder routers. Both share the control
// routes and their rate limit state.
type Server struct {
	Config   *config.Config
	Upgrader Upgrader
	Port     Port
	History  *history.History
	Metrics  *monitor.Metrics
	Policy   *security.CommandPolicy
	Logger   *slog.Logger
	TestMode bool

	controlLimiter *RateLimiter
	webhookLimiter *RateLimiter
}

// NewServer creates a new server instance
func NewServer(cfg *config.Config, upgrader Upgrader, port Port, logger *slog.Logger, testMode bool) *Server {
	return &Server{
		Config:         cfg,
		Upgrader:       upgrader,
		Port:           port,
		Policy:         security.NewCommandPolicy(cfg.Admin.AllowedCommands),
		Logger:         logger,
		TestMode:       testMode,
		controlLimiter: PerMinute(ControlRateLimit),
		webhookLimiter: PerMinute(WebhookRateLimit),
	}
}

// ActiveRouter serves the control routes and, for everything else, the
// artifact the active server was started with.
func (s *Server) ActiveRouter() http.Handler {
	r := s.newRouter(lifecycle.RoleActive)
	r.Handle("/*", http.HandlerFunc(s.HandleArtifact))
	return r
}

// PlaceholderRouter serves the control routes, the maintenance asset and the
// maintenance page.
func (s *Server) PlaceholderRouter() (http.Handler, error) {
	ph := s.Config.Placeholder

	page, err := templates.RenderPage(ph.Page, templates.PageData{
		Title:          ph.Title,
		Message:        ph.Message,
		AssetPath:      ph.AssetPath,
		RefreshSeconds: PlaceholderRefresh,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to render maintenance page: %w", err)
	}

	asset, contentType, err := templates.Asset(ph.Asset)
	if err != nil {
		return nil, fmt.Errorf("failed to load maintenance asset: %w", err)
	}

	r := s.newRouter(lifecycle.RolePlaceholder)
	r.Get(ph.AssetPath, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", contentType)
		w.Header().Set("Cache-Control", "no-store")
		_, _ = w.Write(asset)
	})
	r.Handle("/*", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Retry-After", RetryAfterSeconds)
			http.Error(w, "Service is upgrading", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		w.WriteHeader(http.StatusOK)
		if r.Method == http.MethodGet {
			_, _ = w.Write(page)
		}
	}))

	return r, nil
}

func (s *Server) newRouter(role lifecycle.Role) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(s.Logger, role.String()))

	// Control routes
	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(RequestTimeout))
		if !s.TestMode {
			r.Use(s.controlLimiter.Middleware(s.Logger))
		}

		r.Get("/healthz", s.HandleHealth)
		r.Get("/status", s.HandleStatus)
		r.Get("/status/{cycleID}", s.HandleCycle)
		if s.Metrics != nil {
			r.Method(http.MethodGet, "/metrics", s.Metrics.Handler())
		}

		r.Post("/command", s.HandleCommand)
		r.HandleFunc("/restart", s.HandleRestart)
	})

	// Webhooks stay outside the control limiter; HandleWebhook limits
	// rejected signatures on its own.
	if s.Config.Mode.IsProduction() {
		r.With(middleware.Timeout(RequestTimeout)).Post("/webhooks", s.HandleWebhook)
	}

	return r
}
