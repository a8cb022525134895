// Package notify reports upgrade cycle outcomes to external systems.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"

	"hotswap/internal/config"
	"hotswap/internal/history"
)

// Event describes a cycle state change worth reporting.
type Event struct {
	CycleID     string
	Revision    string
	Status      string
	Description string
}

// Notifier delivers cycle events.
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Notify(context.Context, Event) error { return nil }

// New returns a GitHub notifier when a token and repository are configured,
// otherwise Nop.
func New(cfg config.GitHubConfig, logger *slog.Logger) (Notifier, error) {
	if cfg.Token == "" || cfg.Repository == "" {
		return Nop{}, nil
	}
	return NewGitHub(cfg, logger)
}

// GitHubNotifier sets commit statuses on the pushed revision.
type GitHubNotifier struct {
	client  *github.Client
	owner   string
	repo    string
	context string
	logger  *slog.Logger
}

// NewGitHub creates a notifier authenticated with cfg.Token.
func NewGitHub(cfg config.GitHubConfig, logger *slog.Logger) (*GitHubNotifier, error) {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token})
	tc := oauth2.NewClient(context.Background(), ts)
	return newGitHubNotifier(github.NewClient(tc), cfg, logger)
}

func newGitHubNotifier(client *github.Client, cfg config.GitHubConfig, logger *slog.Logger) (*GitHubNotifier, error) {
	parts := strings.Split(cfg.Repository, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return nil, fmt.Errorf("invalid owner/repo format: %s", cfg.Repository)
	}
	statusContext := cfg.Context
	if statusContext == "" {
		statusContext = config.DefaultStatusContext
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &GitHubNotifier{
		client:  client,
		owner:   parts[0],
		repo:    parts[1],
		context: statusContext,
		logger:  logger,
	}, nil
}

// Notify creates a commit status for event.Revision. Events without a
// revision, such as manual restarts, are skipped.
func (n *GitHubNotifier) Notify(ctx context.Context, event Event) error {
	if event.Revision == "" {
		return nil
	}

	status := &github.RepoStatus{
		State:       github.String(StatusState(event.Status)),
		Description: github.String(truncate(event.Description, 140)),
		Context:     github.String(n.context),
	}

	if _, _, err := n.client.Repositories.CreateStatus(ctx, n.owner, n.repo, event.Revision, status); err != nil {
		return fmt.Errorf("creating commit status: %w", err)
	}

	n.logger.Info("Commit status reported",
		"cycle", event.CycleID,
		"revision", event.Revision,
		"state", status.GetState(),
	)
	return nil
}

// StatusState maps a cycle status to a GitHub commit status state.
func StatusState(status string) string {
	switch status {
	case history.StatusInProgress:
		return "pending"
	case history.StatusSuccess, history.StatusFetched:
		return "success"
	case history.StatusPullFailed, history.StatusBuildFailed:
		return "failure"
	default:
		return "error"
	}
}

// truncate shortens s to at most n runes.
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-3]) + "..."
}
