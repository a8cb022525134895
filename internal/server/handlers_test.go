package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"hotswap/internal/config"
	"hotswap/internal/history"
	"hotswap/internal/lifecycle"
	"hotswap/internal/upgrade"
)

var pushPayload = []byte(`{"ref":"refs/heads/main","after":"0d1a26e67d8f5eaf1f6ba5c57fc3c7d91ac0fd1c"}`)

func TestHandleWebhook_ValidPush(t *testing.T) {
	env := setupTestServer(t, testConfig(t, config.Production))

	req := webhookRequest(t, "push", pushPayload, mustSign(t, pushPayload, testSecret, AlgoSHA256))
	rr := env.do(req)

	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rr.Code)
	}
	if rr.Body.String() != "Authorized" {
		t.Errorf("Expected 'Authorized', got %q", rr.Body.String())
	}

	env.coord.Wait()

	rec, ok := env.history.Latest()
	if !ok {
		t.Fatal("Expected a recorded cycle")
	}
	if rec.Status != history.StatusSuccess {
		t.Errorf("Expected success, got %s", rec.Status)
	}
	if rec.Source != upgrade.SourceWebhook || rec.Ref != "refs/heads/main" {
		t.Errorf("Unexpected record %+v", rec)
	}
	if rec.Revision != "0d1a26e67d8f5eaf1f6ba5c57fc3c7d91ac0fd1c" {
		t.Errorf("Expected revision from payload, got %q", rec.Revision)
	}
	if a := env.port.Artifact(); a == nil || a.ID != "a2" {
		t.Errorf("Expected new artifact a2 installed, got %+v", a)
	}
}

func TestHandleWebhook_SignatureOnly(t *testing.T) {
	cfg := testConfig(t, config.Production)
	cfg.WebhookSecret = "abc"
	env := setupTestServer(t, cfg)

	// No event header and no content type: only the body and its signature.
	payload := []byte(`{"ref":"main"}`)
	req := httptest.NewRequest(http.MethodPost, "/webhooks", bytes.NewReader(payload))
	req.Header.Set(SignatureHeader, mustSign(t, payload, "abc", AlgoSHA1))

	rr := env.do(req)
	if rr.Code != http.StatusOK || rr.Body.String() != "Authorized" {
		t.Fatalf("Expected 200 Authorized, got %d %q", rr.Code, rr.Body.String())
	}

	env.coord.Wait()

	rec, ok := env.history.Latest()
	if !ok {
		t.Fatal("Expected a recorded cycle")
	}
	if rec.Status != history.StatusSuccess || rec.Ref != "main" {
		t.Errorf("Unexpected record %+v", rec)
	}
	if a := env.port.Artifact(); a == nil || a.ID != "a2" {
		t.Errorf("Expected new artifact a2 installed, got %+v", a)
	}
}

func TestHandleWebhook_RapidValidTriggersNotLimited(t *testing.T) {
	env := setupTestServer(t, testConfig(t, config.Production))
	env.server.TestMode = false
	active := env.server.ActiveRouter()

	env.builder.mu.Lock()
	env.builder.block = make(chan struct{})
	env.builder.mu.Unlock()

	sig := mustSign(t, pushPayload, testSecret, AlgoSHA256)
	for i := 0; i < 3*WebhookRateLimit; i++ {
		rr := httptest.NewRecorder()
		active.ServeHTTP(rr, webhookRequest(t, "push", pushPayload, sig))
		if rr.Code != http.StatusOK {
			t.Fatalf("Request %d: expected status 200, got %d", i, rr.Code)
		}
	}

	close(env.builder.block)
	env.coord.Wait()

	if env.history.Len() != 1 {
		t.Errorf("Expected exactly one cycle, got %d", env.history.Len())
	}
}

func TestHandleWebhook_RejectedSignaturesLimited(t *testing.T) {
	env := setupTestServer(t, testConfig(t, config.Production))
	env.server.TestMode = false
	active := env.server.ActiveRouter()

	codes := map[int]int{}
	for i := 0; i < WebhookRateLimit+2; i++ {
		rr := httptest.NewRecorder()
		active.ServeHTTP(rr, webhookRequest(t, "push", pushPayload, "sha1=deadbeef"))
		codes[rr.Code]++
	}

	if codes[http.StatusForbidden] != WebhookRateLimit {
		t.Errorf("Expected %d rejections with 403, got %v", WebhookRateLimit, codes)
	}
	if codes[http.StatusTooManyRequests] != 2 {
		t.Errorf("Expected 2 rate limited rejections, got %v", codes)
	}

	// A valid signature from the same client still goes through.
	rr := httptest.NewRecorder()
	active.ServeHTTP(rr, webhookRequest(t, "push", pushPayload, mustSign(t, pushPayload, testSecret, AlgoSHA256)))
	if rr.Code != http.StatusOK {
		t.Errorf("Expected valid webhook to get 200, got %d", rr.Code)
	}
	env.coord.Wait()
}

func TestHandleWebhook_SHA1Header(t *testing.T) {
	env := setupTestServer(t, testConfig(t, config.Production))

	req := httptest.NewRequest(http.MethodPost, "/webhooks", bytes.NewReader(pushPayload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(EventHeader, "push")
	req.Header.Set(SignatureHeader, mustSign(t, pushPayload, testSecret, AlgoSHA1))

	rr := env.do(req)
	if rr.Code != http.StatusOK || rr.Body.String() != "Authorized" {
		t.Errorf("Expected 200 Authorized, got %d %q", rr.Code, rr.Body.String())
	}
}

func TestHandleWebhook_InvalidSignature(t *testing.T) {
	tests := []struct {
		name      string
		signature string
	}{
		{"bogus sha1", "sha1=deadbeef"},
		{"wrong secret", "sha256=" + strings.Repeat("0", 64)},
		{"missing", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupTestServer(t, testConfig(t, config.Production))

			rr := env.do(webhookRequest(t, "push", pushPayload, tt.signature))

			if rr.Code != http.StatusForbidden {
				t.Errorf("Expected status 403, got %d", rr.Code)
			}
			if rr.Body.String() != "Permission Denied" {
				t.Errorf("Expected 'Permission Denied', got %q", rr.Body.String())
			}

			env.coord.Wait()
			if env.history.Len() != 0 {
				t.Errorf("Expected no cycle, got %d", env.history.Len())
			}
			if env.coord.Phase() != upgrade.PhaseIdle {
				t.Errorf("Expected idle, got %s", env.coord.Phase())
			}
			if a := env.port.Artifact(); a.ID != "a1" {
				t.Errorf("Expected a1 still installed, got %s", a.ID)
			}
		})
	}
}

func TestHandleWebhook_PayloadTooLarge(t *testing.T) {
	env := setupTestServer(t, testConfig(t, config.Production))

	// Create payload larger than 1MB
	largePayload := make([]byte, MaxPayloadBytes+1)

	req := httptest.NewRequest(http.MethodPost, "/webhooks", bytes.NewReader(largePayload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(EventHeader, "push")

	rr := env.do(req)
	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("Expected status 413, got %d", rr.Code)
	}
}

func TestHandleWebhook_Ping(t *testing.T) {
	env := setupTestServer(t, testConfig(t, config.Production))

	payload := []byte(`{"zen":"Keep it logically awesome."}`)
	rr := env.do(webhookRequest(t, "ping", payload, mustSign(t, payload, testSecret, AlgoSHA256)))

	if rr.Code != http.StatusOK || rr.Body.String() != "pong" {
		t.Errorf("Expected 200 pong, got %d %q", rr.Code, rr.Body.String())
	}
	if env.history.Len() != 0 {
		t.Error("Expected ping not to start a cycle")
	}
}

func TestHandleWebhook_NonPushEvent(t *testing.T) {
	env := setupTestServer(t, testConfig(t, config.Production))

	rr := env.do(webhookRequest(t, "pull_request", pushPayload, mustSign(t, pushPayload, testSecret, AlgoSHA256)))

	if rr.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", rr.Code)
	}

	var response map[string]string
	_ = json.Unmarshal(rr.Body.Bytes(), &response)

	if response["message"] != "Ignoring non-push event" {
		t.Errorf("Expected 'Ignoring non-push event' message, got %v", response)
	}
	if env.history.Len() != 0 {
		t.Error("Expected non-push event not to start a cycle")
	}
}

func TestHandleWebhook_InvalidContentType(t *testing.T) {
	env := setupTestServer(t, testConfig(t, config.Production))

	req := webhookRequest(t, "push", pushPayload, mustSign(t, pushPayload, testSecret, AlgoSHA256))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	rr := env.do(req)
	if rr.Code != http.StatusUnsupportedMediaType {
		t.Errorf("Expected status 415, got %d", rr.Code)
	}
}

func TestHandleWebhook_InvalidJSON(t *testing.T) {
	env := setupTestServer(t, testConfig(t, config.Production))

	payload := []byte(`{"ref":`)
	rr := env.do(webhookRequest(t, "push", payload, mustSign(t, payload, testSecret, AlgoSHA256)))

	if rr.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", rr.Code)
	}
}

func TestHandleWebhook_BranchFilter(t *testing.T) {
	tests := []struct {
		name    string
		branch  string
		ref     string
		trigger bool
	}{
		{"full ref matches", "main", "refs/heads/main", true},
		{"short ref matches", "main", "main", true},
		{"other branch", "main", "refs/heads/develop", false},
		{"tag", "main", "refs/tags/main", false},
		{"no filter", "", "refs/heads/anything", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t, config.Production)
			cfg.Branch = tt.branch
			env := setupTestServer(t, cfg)

			payload := []byte(`{"ref":"` + tt.ref + `"}`)
			rr := env.do(webhookRequest(t, "push", payload, mustSign(t, payload, testSecret, AlgoSHA256)))
			env.coord.Wait()

			if rr.Code != http.StatusOK {
				t.Errorf("Expected status 200, got %d", rr.Code)
			}
			if got := env.history.Len() == 1; got != tt.trigger {
				t.Errorf("Expected trigger=%v, got %d cycles", tt.trigger, env.history.Len())
			}
		})
	}
}

func TestHandleWebhook_WhileBusy(t *testing.T) {
	env := setupTestServer(t, testConfig(t, config.Production))
	env.builder.mu.Lock()
	env.builder.block = make(chan struct{})
	env.builder.mu.Unlock()

	sig := mustSign(t, pushPayload, testSecret, AlgoSHA256)
	first := env.do(webhookRequest(t, "push", pushPayload, sig))
	second := env.do(webhookRequest(t, "push", pushPayload, sig))

	if first.Code != http.StatusOK || second.Code != http.StatusOK {
		t.Errorf("Expected both requests to get 200, got %d and %d", first.Code, second.Code)
	}
	if second.Body.String() != "Authorized" {
		t.Errorf("Expected 'Authorized' for busy trigger, got %q", second.Body.String())
	}

	close(env.builder.block)
	env.coord.Wait()

	if env.history.Len() != 1 {
		t.Errorf("Expected exactly one cycle, got %d", env.history.Len())
	}
}

func TestWebhooks_DevelopmentMode(t *testing.T) {
	env := setupTestServer(t, testConfig(t, config.Development))

	rr := env.do(webhookRequest(t, "push", pushPayload, mustSign(t, pushPayload, testSecret, AlgoSHA256)))

	if rr.Body.String() == "Authorized" {
		t.Error("Expected /webhooks to be disabled in development mode")
	}
	env.coord.Wait()
	if env.history.Len() != 0 {
		t.Error("Expected no cycle in development mode")
	}
}

func TestHandleCommand_Auth(t *testing.T) {
	tests := []struct {
		name       string
		configured string
		presented  string
	}{
		{"wrong token", testToken, "wrong-token"},
		{"missing token", testToken, ""},
		{"not configured", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t, config.Production)
			cfg.AccessToken = tt.configured
			env := setupTestServer(t, cfg)

			rr := env.do(commandRequest(`{"command":"","reBuild":true}`, tt.presented))

			if rr.Code != http.StatusForbidden {
				t.Errorf("Expected status 403, got %d", rr.Code)
			}
			if rr.Body.String() != "Permission Denied" {
				t.Errorf("Expected 'Permission Denied', got %q", rr.Body.String())
			}
			if env.history.Len() != 0 {
				t.Error("Expected no cycle for rejected token")
			}
		})
	}
}

func TestHandleCommand_RebuildOnly(t *testing.T) {
	env := setupTestServer(t, testConfig(t, config.Production))
	env.builder.mu.Lock()
	env.builder.block = make(chan struct{})
	env.builder.mu.Unlock()

	// Responds before the rebuild has finished.
	rr := env.do(commandRequest(`{"command":"","reBuild":true}`, testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var response map[string]string
	_ = json.Unmarshal(rr.Body.Bytes(), &response)
	if response["cycle"] == "" {
		t.Errorf("Expected cycle ID in response, got %v", response)
	}

	close(env.builder.block)
	env.coord.Wait()

	rec, ok := env.history.Get(response["cycle"])
	if !ok || rec.Status != history.StatusSuccess || !rec.Rebuild {
		t.Errorf("Unexpected record %+v", rec)
	}
}

func TestHandleCommand_RunsCommand(t *testing.T) {
	env := setupTestServer(t, testConfig(t, config.Production))

	rr := env.do(commandRequest(`{"command":"echo hello world"}`, testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var response CommandResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if response.Stdout != "hello world\n" {
		t.Errorf("Expected stdout 'hello world\\n', got %q", response.Stdout)
	}
	if response.Error != "" {
		t.Errorf("Expected no error, got %q", response.Error)
	}

	env.coord.Wait()
	if a := env.port.Artifact(); a.ID != "a1" {
		t.Errorf("Expected no rebuild without reBuild, got %s", a.ID)
	}
}

func TestHandleCommand_CommandFails(t *testing.T) {
	env := setupTestServer(t, testConfig(t, config.Production))

	rr := env.do(commandRequest(`{"command":"sh -c 'echo oops >&2; exit 3'","reBuild":true}`, testToken))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("Expected metacharacters to be rejected with 400, got %d", rr.Code)
	}

	rr = env.do(commandRequest(`{"command":"sh -c 'exit 3'","reBuild":true}`, testToken))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("Expected status 500, got %d: %s", rr.Code, rr.Body.String())
	}

	var response CommandResponse
	_ = json.Unmarshal(rr.Body.Bytes(), &response)
	if response.Error == "" {
		t.Error("Expected error message in response")
	}

	env.coord.Wait()
	if role := env.port.Role(); role != lifecycle.RoleActive {
		t.Errorf("Expected active server untouched, got %s", role)
	}
	if a := env.port.Artifact(); a.ID != "a1" {
		t.Errorf("Expected no rebuild after failed command, got %s", a.ID)
	}
}

func TestHandleCommand_BadRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{"command":`},
		{"nothing to do", `{"command":"","reBuild":false}`},
		{"not allowed", `{"command":"rm -rf /"}`},
		{"absolute path", `{"command":"/bin/echo hi"}`},
		{"unterminated quote", `{"command":"echo 'oops"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupTestServer(t, testConfig(t, config.Production))

			rr := env.do(commandRequest(tt.body, testToken))
			if rr.Code != http.StatusBadRequest {
				t.Errorf("Expected status 400, got %d", rr.Code)
			}
			if env.history.Len() != 0 {
				t.Error("Expected no cycle for rejected command")
			}
		})
	}
}

func TestHandleCommand_Conflict(t *testing.T) {
	env := setupTestServer(t, testConfig(t, config.Production))
	env.builder.mu.Lock()
	env.builder.block = make(chan struct{})
	env.builder.mu.Unlock()

	if rr := env.do(commandRequest(`{"reBuild":true}`, testToken)); rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rr.Code)
	}

	rr := env.do(commandRequest(`{"command":"echo again"}`, testToken))
	if rr.Code != http.StatusConflict {
		t.Errorf("Expected status 409, got %d", rr.Code)
	}

	close(env.builder.block)
}

func TestHandleRestart(t *testing.T) {
	env := setupTestServer(t, testConfig(t, config.Production))

	req := httptest.NewRequest(http.MethodGet, "/restart", nil)
	if rr := env.do(req); rr.Code != http.StatusForbidden {
		t.Errorf("Expected status 403 without token, got %d", rr.Code)
	}

	env.builder.mu.Lock()
	env.builder.block = make(chan struct{})
	env.builder.mu.Unlock()

	for _, method := range []string{http.MethodPost, http.MethodGet} {
		req := httptest.NewRequest(method, "/restart", nil)
		req.Header.Set(AccessTokenHeader, testToken)
		if rr := env.do(req); rr.Code != http.StatusOK {
			t.Errorf("%s /restart: expected status 200, got %d", method, rr.Code)
		}
	}

	close(env.builder.block)
	env.coord.Wait()

	if env.history.Len() != 1 {
		t.Errorf("Expected one cycle, got %d", env.history.Len())
	}
	rec, _ := env.history.Latest()
	if rec.Source != upgrade.SourceRestart || len(rec.Commands) != 1 || rec.Commands[0] != "echo pulled" {
		t.Errorf("Unexpected record %+v", rec)
	}
}

func TestHandleHealth(t *testing.T) {
	env := setupTestServer(t, testConfig(t, config.Production))

	rr := env.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rr.Code)
	}

	var response map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	want := map[string]string{"status": "ok", "state": "serving", "phase": "idle", "role": "active"}
	for k, v := range want {
		if response[k] != v {
			t.Errorf("Expected %s=%s, got %s", k, v, response[k])
		}
	}
}

func TestHandleStatus(t *testing.T) {
	env := setupTestServer(t, testConfig(t, config.Production))

	rr := env.do(commandRequest(`{"command":"echo hi"}`, testToken))
	var cmd CommandResponse
	_ = json.Unmarshal(rr.Body.Bytes(), &cmd)
	env.coord.Wait()

	rr = env.do(httptest.NewRequest(http.MethodGet, "/status", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rr.Code)
	}

	var response struct {
		State    string                `json:"state"`
		Artifact struct{ ID string }   `json:"artifact"`
		Recent   []history.CycleRecord `json:"recent_cycles"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if response.State != "serving" || response.Artifact.ID != "a1" {
		t.Errorf("Unexpected status %+v", response)
	}
	if len(response.Recent) != 1 || response.Recent[0].ID != cmd.Cycle {
		t.Errorf("Expected the command cycle in recent cycles, got %+v", response.Recent)
	}

	t.Run("cycle lookup", func(t *testing.T) {
		rr := env.do(httptest.NewRequest(http.MethodGet, "/status/"+cmd.Cycle, nil))
		if rr.Code != http.StatusOK {
			t.Errorf("Expected status 200, got %d", rr.Code)
		}
		var rec history.CycleRecord
		_ = json.Unmarshal(rr.Body.Bytes(), &rec)
		if rec.Status != history.StatusFetched {
			t.Errorf("Expected fetched, got %s", rec.Status)
		}
	})

	t.Run("unknown cycle", func(t *testing.T) {
		rr := env.do(httptest.NewRequest(http.MethodGet, "/status/6f1c1f3e-6f9f-4a38-9d6e-0a0b8a3c7e11", nil))
		if rr.Code != http.StatusNotFound {
			t.Errorf("Expected status 404, got %d", rr.Code)
		}
	})

	t.Run("invalid cycle id", func(t *testing.T) {
		rr := env.do(httptest.NewRequest(http.MethodGet, "/status/not-a-uuid", nil))
		if rr.Code != http.StatusBadRequest {
			t.Errorf("Expected status 400, got %d", rr.Code)
		}
	})
}

func TestMetricsRoute(t *testing.T) {
	env := setupTestServer(t, testConfig(t, config.Production))

	rr := env.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "hotswap_phase") {
		t.Error("Expected phase gauge in metrics output")
	}
}

func TestActiveRouter_ServesArtifact(t *testing.T) {
	env := setupTestServer(t, testConfig(t, config.Production))

	rr := env.do(httptest.NewRequest(http.MethodGet, "/about", nil))
	if rr.Code != http.StatusOK || rr.Body.String() != "site a1" {
		t.Errorf("Expected artifact a1 response, got %d %q", rr.Code, rr.Body.String())
	}

	env.do(commandRequest(`{"reBuild":true}`, testToken))
	env.coord.Wait()

	rr = env.do(httptest.NewRequest(http.MethodGet, "/about", nil))
	if rr.Body.String() != "site a2" {
		t.Errorf("Expected rebuilt artifact a2, got %q", rr.Body.String())
	}
}

func TestPlaceholderRouter(t *testing.T) {
	env := setupTestServer(t, testConfig(t, config.Production))

	placeholder, err := env.server.PlaceholderRouter()
	if err != nil {
		t.Fatalf("PlaceholderRouter() error = %v", err)
	}
	serve := func(method, path string) *httptest.ResponseRecorder {
		rr := httptest.NewRecorder()
		placeholder.ServeHTTP(rr, httptest.NewRequest(method, path, nil))
		return rr
	}

	t.Run("page", func(t *testing.T) {
		for _, path := range []string{"/", "/some/deep/link"} {
			rr := serve(http.MethodGet, path)
			if rr.Code != http.StatusOK {
				t.Errorf("GET %s: expected status 200, got %d", path, rr.Code)
			}
			if rr.Header().Get("Cache-Control") != "no-store" {
				t.Errorf("GET %s: expected no-store, got %q", path, rr.Header().Get("Cache-Control"))
			}
			if !strings.Contains(rr.Body.String(), "Back in a moment") {
				t.Errorf("GET %s: expected maintenance page", path)
			}
		}
	})

	t.Run("asset", func(t *testing.T) {
		rr := serve(http.MethodGet, config.DefaultAssetPath)
		if rr.Code != http.StatusOK {
			t.Errorf("Expected status 200, got %d", rr.Code)
		}
		if !strings.HasPrefix(rr.Header().Get("Content-Type"), "image/svg+xml") {
			t.Errorf("Expected svg content type, got %q", rr.Header().Get("Content-Type"))
		}
	})

	t.Run("other methods", func(t *testing.T) {
		rr := serve(http.MethodPost, "/form")
		if rr.Code != http.StatusServiceUnavailable {
			t.Errorf("Expected status 503, got %d", rr.Code)
		}
		if rr.Header().Get("Retry-After") == "" {
			t.Error("Expected Retry-After header")
		}
	})

	t.Run("control routes", func(t *testing.T) {
		rr := serve(http.MethodGet, "/healthz")
		if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"status":"ok"`) {
			t.Errorf("Expected health response from placeholder, got %d %q", rr.Code, rr.Body.String())
		}
	})
}

func TestRateLimit(t *testing.T) {
	cfg := testConfig(t, config.Production)
	env := setupTestServer(t, cfg)
	env.server.TestMode = false
	active := env.server.ActiveRouter()

	limited := false
	for i := 0; i < ControlRateLimit+1; i++ {
		rr := httptest.NewRecorder()
		active.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		if rr.Code == http.StatusTooManyRequests {
			limited = true
		}
	}
	if !limited {
		t.Errorf("Expected rate limit after %d requests", ControlRateLimit)
	}

	// Artifact routes are not rate limited.
	rr := httptest.NewRecorder()
	active.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Code != http.StatusOK {
		t.Errorf("Expected artifact route to bypass rate limit, got %d", rr.Code)
	}
}
