package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"hotswap/internal/history"
	"hotswap/internal/security"
	"hotswap/internal/upgrade"
	"hotswap/pkg/cmdutil"

	"github.com/go-chi/chi/v5"
	"github.com/google/go-github/v57/github"
	"github.com/google/uuid"
)

const (
	MaxPayloadBytes   = 1_000_000 // 1 MB
	RecentCyclesLimit = 10        // Number of recent cycles to return in status endpoint

	// AccessTokenHeader carries the admin token for /command and /restart.
	AccessTokenHeader = "access_token"

	// EventHeader names the GitHub event type.
	EventHeader = "X-GitHub-Event"

	// Plain-text webhook responses
	msgPermissionDenied = "Permission Denied"
	msgAuthorized       = "Authorized"
	msgPong             = "pong"
)

// CommandRequest is the /command request body.
type CommandRequest struct {
	Command string `json:"command"`
	ReBuild bool   `json:"reBuild"`
}

// CommandResponse carries the fetch output of a /command cycle.
type CommandResponse struct {
	Cycle  string `json:"cycle"`
	Stdout string `json:"stdout"`
	Stderr string `json:"stderr"`
	Error  string `json:"error,omitempty"`
}

// HandleWebhook handles GitHub webhook requests
func (s *Server) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	// Check payload size (ContentLength can be -1 if not set)
	if r.ContentLength > MaxPayloadBytes {
		s.respondJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "Payload too large"})
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, MaxPayloadBytes+1))
	if err != nil {
		s.Logger.Error("Failed to read request body", "error", err)
		s.respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to read payload"})
		return
	}
	if len(body) > MaxPayloadBytes {
		s.respondJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "Payload too large"})
		return
	}

	// Verify signature over the raw body before looking at anything else.
	// Only rejected attempts count against the webhook rate limit.
	if !VerifySignature(body, SignatureFromHeader(r.Header), s.Config.WebhookSecret) {
		s.Logger.Warn("Webhook signature rejected", "ip", r.RemoteAddr)
		if !s.TestMode && !s.webhookLimiter.GetLimiter(r.RemoteAddr).Allow() {
			http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		s.respondText(w, http.StatusForbidden, msgPermissionDenied)
		return
	}

	// A missing event header is treated as a push
	switch r.Header.Get(EventHeader) {
	case "ping":
		s.respondText(w, http.StatusOK, msgPong)
		return
	case "push", "":
	default:
		s.respondJSON(w, http.StatusOK, map[string]string{"message": "Ignoring non-push event"})
		return
	}

	if ct := r.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "application/json") {
		s.respondJSON(w, http.StatusUnsupportedMediaType, map[string]string{"error": "Invalid content type"})
		return
	}

	var push github.PushEvent
	if err := json.Unmarshal(body, &push); err != nil {
		s.Logger.Warn("Failed to parse push payload", "error", err)
		s.respondJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid JSON payload"})
		return
	}

	if !s.Config.MatchesRef(push.GetRef()) {
		s.Logger.Info("Push to non-target branch ignored", "ref", push.GetRef(), "branch", s.Config.Branch)
		s.respondJSON(w, http.StatusOK, map[string]string{"message": "Not target branch, skipping"})
		return
	}

	_, err = s.Upgrader.Trigger(upgrade.Request{
		Source:   upgrade.SourceWebhook,
		Commands: s.Config.Pull,
		Rebuild:  true,
		Ref:      push.GetRef(),
		Revision: push.GetAfter(),
	})
	if err != nil && !errors.Is(err, upgrade.ErrInProgress) {
		s.Logger.Error("Failed to start upgrade", "error", err)
	}

	// Respond immediately; the cycle runs in the background. A trigger that
	// lands on a busy supervisor is a no-op.
	s.respondText(w, http.StatusOK, msgAuthorized)
}

// HandleCommand runs an admin command through the coordinator and answers
// with its output once the command has finished.
func (s *Server) HandleCommand(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		s.respondText(w, http.StatusForbidden, msgPermissionDenied)
		return
	}

	var req CommandRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, MaxPayloadBytes)).Decode(&req); err != nil {
		s.respondJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid JSON payload"})
		return
	}

	command := strings.TrimSpace(req.Command)
	var commands []string
	if command != "" {
		parts, err := cmdutil.ParseCommandString(command)
		if err != nil {
			s.respondJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		if err := s.Policy.Validate(parts); err != nil {
			s.Logger.Warn("Admin command rejected", "command", cmdutil.FormatCommand(parts), "error", err)
			s.respondJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		commands = []string{command}
	} else if !req.ReBuild {
		s.respondJSON(w, http.StatusBadRequest, map[string]string{"error": "Nothing to do: command is empty and reBuild is false"})
		return
	}

	cycle, err := s.Upgrader.Trigger(upgrade.Request{
		Source:   upgrade.SourceCommand,
		Commands: commands,
		Rebuild:  req.ReBuild,
	})
	if errors.Is(err, upgrade.ErrInProgress) {
		s.respondJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		return
	}
	if err != nil {
		s.Logger.Error("Failed to start command cycle", "error", err)
		s.respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to start cycle"})
		return
	}

	if len(commands) == 0 {
		s.respondJSON(w, http.StatusOK, map[string]string{"message": "Rebuild started", "cycle": cycle.ID})
		return
	}

	// The fetch outcome is published before any server is stopped, so this
	// response always goes out on the server that received the request.
	select {
	case <-cycle.Fetched():
	case <-r.Context().Done():
		return
	}

	outcome := cycle.FetchOutcome()
	resp := CommandResponse{
		Cycle:  cycle.ID,
		Stdout: outcome.Stdout(),
		Stderr: outcome.Stderr(),
	}
	if outcome.Err != nil {
		resp.Error = outcome.Err.Error()
		s.respondJSON(w, http.StatusInternalServerError, resp)
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

// HandleRestart triggers a pull and rebuild.
func (s *Server) HandleRestart(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		s.respondText(w, http.StatusForbidden, msgPermissionDenied)
		return
	}

	cycle, err := s.Upgrader.Trigger(upgrade.Request{
		Source:   upgrade.SourceRestart,
		Commands: s.Config.Pull,
		Rebuild:  true,
	})
	if errors.Is(err, upgrade.ErrInProgress) {
		s.respondJSON(w, http.StatusOK, map[string]string{"message": "Upgrade already in progress"})
		return
	}
	if err != nil {
		s.Logger.Error("Failed to start restart cycle", "error", err)
		s.respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to start cycle"})
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]string{"message": "Restarting", "cycle": cycle.ID})
}

// HandleHealth handles health check requests
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"state":  string(s.Upgrader.State()),
		"phase":  string(s.Upgrader.Phase()),
		"role":   s.Port.Role().String(),
	})
}

// HandleStatus reports the supervisor state, the served artifact and the
// most recent cycles.
func (s *Server) HandleStatus(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"state":    s.Upgrader.State(),
		"phase":    s.Upgrader.Phase(),
		"role":     s.Port.Role().String(),
		"artifact": s.Port.Artifact(),
	}
	if cycle := s.Upgrader.Current(); cycle != nil {
		response["current_cycle"] = cycle.ID
	}
	if s.History != nil {
		response["recent_cycles"] = s.History.Recent(RecentCyclesLimit)
	}

	s.respondJSON(w, http.StatusOK, response)
}

// HandleCycle returns one cycle record.
func (s *Server) HandleCycle(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "cycleID")
	if _, err := uuid.Parse(id); err != nil {
		s.respondJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid cycle ID"})
		return
	}

	var (
		rec history.CycleRecord
		ok  bool
	)
	if s.History != nil {
		rec, ok = s.History.Get(id)
	}
	if !ok {
		s.respondJSON(w, http.StatusNotFound, map[string]string{"error": "Unknown cycle"})
		return
	}

	s.respondJSON(w, http.StatusOK, rec)
}

// HandleArtifact serves the artifact installed in the active server.
func (s *Server) HandleArtifact(w http.ResponseWriter, r *http.Request) {
	artifact := s.Port.Artifact()
	if artifact == nil || artifact.Handler == nil {
		w.Header().Set("Retry-After", RetryAfterSeconds)
		http.Error(w, "No artifact installed", http.StatusServiceUnavailable)
		return
	}
	artifact.Handler.ServeHTTP(w, r)
}

func (s *Server) authorized(r *http.Request) bool {
	ok := security.TokenEqual(r.Header.Get(AccessTokenHeader), s.Config.AccessToken)
	if !ok {
		s.Logger.Warn("Admin request rejected", "path", r.URL.Path, "ip", r.RemoteAddr)
	}
	return ok
}

// respondJSON sends a JSON response
func (s *Server) respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.Logger.Error("Failed to encode JSON response", "error", err)
	}
}

func (s *Server) respondText(w http.ResponseWriter, statusCode int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(statusCode)
	_, _ = io.WriteString(w, body)
}
