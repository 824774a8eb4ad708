package gateway

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/classpilot/classpilot/internal/agent"
	"github.com/classpilot/classpilot/internal/agent/providers"
	"github.com/classpilot/classpilot/internal/artifacts"
	"github.com/classpilot/classpilot/internal/config"
	"github.com/classpilot/classpilot/internal/sessions"
	"github.com/classpilot/classpilot/internal/tokens"
	"github.com/classpilot/classpilot/pkg/models"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func textScript(parts ...string) []*agent.ModelEvent {
	events := []*agent.ModelEvent{{Type: agent.EventTextStart, Index: 0}}
	for _, p := range parts {
		events = append(events, &agent.ModelEvent{Type: agent.EventTextDelta, Index: 0, Text: p})
	}
	events = append(events,
		&agent.ModelEvent{Type: agent.EventTextEnd, Index: 0},
		&agent.ModelEvent{Type: agent.EventDone, Reason: agent.DoneStop})
	return events
}

type testEnv struct {
	server        *Server
	sessionStore  *sessions.MemoryStore
	artifactStore *artifacts.MemoryStore
}

func newTestServer(t *testing.T, mutate func(cfg *config.Config)) *testEnv {
	t.Helper()
	cfg := config.Default()
	cfg.Server.AuthSecret = ""
	cfg.Server.RatePerMinute = 600
	cfg.Server.RateBurst = 100
	if mutate != nil {
		mutate(cfg)
	}

	logger := discardLogger()
	sessionStore := sessions.NewMemoryStore(cfg.Sessions.TTL, logger)
	t.Cleanup(func() { sessionStore.Close() })
	artifactStore := artifacts.NewMemoryStore()

	provider := &providers.MockProvider{Scripts: [][]*agent.ModelEvent{textScript("Hello, ", "teacher.")}}
	registry := agent.NewRegistry()
	executor := agent.NewExecutor(registry, time.Second, nil, logger)
	truncator := sessions.NewTruncator(tokens.NewEstimator("", logger),
		cfg.Sessions.TokenBudget, cfg.Sessions.TriggerRatio, cfg.Sessions.TargetRatio,
		registry.IsGeneration, logger)
	rt := agent.NewRuntime(provider, registry, executor, sessionStore, truncator, nil,
		nil, logger, agent.RuntimeConfig{Model: "test-model"})

	return &testEnv{
		server:        NewServer(cfg, rt, sessionStore, artifactStore, nil, logger),
		sessionStore:  sessionStore,
		artifactStore: artifactStore,
	}
}

func TestStreamEndpoint(t *testing.T) {
	env := newTestServer(t, nil)

	body := `{"teacherId":"t-1","message":"hello"}`
	req := httptest.NewRequest("POST", "/api/conversation/stream", strings.NewReader(body))
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type = %q", ct)
	}
	out := rec.Body.String()
	for _, want := range []string{`"type":"start"`, `"type":"text-delta"`, `"finishReason":"stop"`, "data: [DONE]"} {
		if !strings.Contains(out, want) {
			t.Errorf("stream missing %q:\n%s", want, out)
		}
	}
}

func TestAggregateEndpoint(t *testing.T) {
	env := newTestServer(t, nil)

	body := `{"teacherId":"t-1","message":"hello"}`
	req := httptest.NewRequest("POST", "/api/conversation", strings.NewReader(body))
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		ConversationID string `json:"conversationId"`
		Text           string `json:"text"`
		FinishReason   string `json:"finishReason"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("response: %v", err)
	}
	if resp.Text != "Hello, teacher." {
		t.Errorf("text = %q", resp.Text)
	}
	if resp.FinishReason != models.FinishStop {
		t.Errorf("finishReason = %q", resp.FinishReason)
	}
	if resp.ConversationID == "" {
		t.Error("conversationId missing from aggregate response")
	}
}

func TestValidationErrors(t *testing.T) {
	env := newTestServer(t, nil)

	cases := []struct {
		name string
		body string
		want int
	}{
		{"empty message", `{"teacherId":"t-1","message":"  "}`, 422},
		{"missing teacher", `{"message":"hello"}`, 422},
		{"malformed json", `{"message":`, 400},
	}
	for _, tc := range cases {
		req := httptest.NewRequest("POST", "/api/conversation", strings.NewReader(tc.body))
		rec := httptest.NewRecorder()
		env.server.Handler().ServeHTTP(rec, req)
		if rec.Code != tc.want {
			t.Errorf("%s: status = %d, want %d", tc.name, rec.Code, tc.want)
		}
	}
}

func TestAuthRequired(t *testing.T) {
	env := newTestServer(t, func(cfg *config.Config) {
		cfg.Server.AuthSecret = "test-secret"
	})

	body := `{"message":"hello"}`
	req := httptest.NewRequest("POST", "/api/conversation", strings.NewReader(body))
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	if rec.Code != 401 {
		t.Fatalf("no token: status = %d, want 401", rec.Code)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"teacher_id": "t-9",
		"exp":        time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatal(err)
	}

	req = httptest.NewRequest("POST", "/api/conversation", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+signed)
	rec = httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	if rec.Code != 200 {
		t.Fatalf("valid token: status = %d, body = %s", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest("POST", "/api/conversation", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+signed+"tampered")
	rec = httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	if rec.Code != 401 {
		t.Fatalf("tampered token: status = %d, want 401", rec.Code)
	}
}

func TestTokenTeacherOverridesBody(t *testing.T) {
	env := newTestServer(t, func(cfg *config.Config) {
		cfg.Server.AuthSecret = "test-secret"
	})

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"teacher_id": "t-real"})
	signed, err := token.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatal(err)
	}

	body := `{"teacherId":"t-spoofed","message":"hello"}`
	req := httptest.NewRequest("POST", "/api/conversation", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+signed)
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	if rec.Code != 200 {
		t.Fatalf("status = %d", rec.Code)
	}

	var resp struct {
		ConversationID string `json:"conversationId"`
	}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	session, err := env.sessionStore.Load(context.Background(), resp.ConversationID)
	if err != nil {
		t.Fatal(err)
	}
	if session.TeacherID != "t-real" {
		t.Errorf("session teacher = %q, body teacherId must not override the token", session.TeacherID)
	}
}

func TestRateLimit(t *testing.T) {
	env := newTestServer(t, func(cfg *config.Config) {
		cfg.Server.RatePerMinute = 1
		cfg.Server.RateBurst = 1
	})

	body := `{"teacherId":"t-1","message":"hello"}`
	req := httptest.NewRequest("POST", "/api/conversation", strings.NewReader(body))
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	if rec.Code != 200 {
		t.Fatalf("first request: status = %d", rec.Code)
	}

	req = httptest.NewRequest("POST", "/api/conversation", strings.NewReader(body))
	rec = httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	if rec.Code != 429 {
		t.Fatalf("second request: status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("429 must carry Retry-After")
	}
}

func TestConversationOwnership(t *testing.T) {
	env := newTestServer(t, nil)

	session := sessions.NewSession("conv-owned", "t-owner")
	if err := env.sessionStore.Save(context.Background(), session); err != nil {
		t.Fatal(err)
	}

	body := `{"teacherId":"t-intruder","conversationId":"conv-owned","message":"hello"}`
	req := httptest.NewRequest("POST", "/api/conversation", strings.NewReader(body))
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	if rec.Code != 403 {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}

func TestArtifactContentRoute(t *testing.T) {
	env := newTestServer(t, nil)

	quiz := &models.Artifact{
		ArtifactID:    "art-route",
		ArtifactType:  models.ArtifactQuiz,
		ContentFormat: models.FormatJSON,
		Content:       json.RawMessage(`{"title":"Quiz v1"}`),
		TeacherID:     "t-1",
	}
	if err := env.artifactStore.Put(context.Background(), quiz); err != nil {
		t.Fatal(err)
	}
	v2 := quiz.Clone()
	v2.Content = json.RawMessage(`{"title":"Quiz v2"}`)
	if err := env.artifactStore.Put(context.Background(), v2); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest("GET", "/api/artifacts/art-route/content?teacherId=t-1", nil)
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	if rec.Code != 200 {
		t.Fatalf("latest: status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Quiz v2") {
		t.Errorf("latest body = %s", rec.Body.String())
	}

	req = httptest.NewRequest("GET", "/api/artifacts/art-route/content?teacherId=t-1&version=1", nil)
	rec = httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	if !strings.Contains(rec.Body.String(), "Quiz v1") {
		t.Errorf("version 1 body = %s", rec.Body.String())
	}

	// Another teacher sees nothing.
	req = httptest.NewRequest("GET", "/api/artifacts/art-route/content?teacherId=t-2", nil)
	rec = httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	if rec.Code != 404 {
		t.Fatalf("foreign teacher: status = %d, want 404", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	env := newTestServer(t, nil)

	req := httptest.NewRequest("GET", "/api/health", nil)
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	if rec.Code != 200 {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"status":"healthy"`) {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestAgentDisabled(t *testing.T) {
	env := newTestServer(t, func(cfg *config.Config) {
		cfg.Agent.Enabled = false
	})

	body := `{"teacherId":"t-1","message":"hello"}`
	for _, path := range []string{"/api/conversation", "/api/conversation/stream"} {
		req := httptest.NewRequest("POST", path, strings.NewReader(body))
		rec := httptest.NewRecorder()
		env.server.Handler().ServeHTTP(rec, req)
		if rec.Code != 503 {
			t.Errorf("%s: status = %d, want 503", path, rec.Code)
		}
	}

	// Health stays up so operators can see the gate.
	req := httptest.NewRequest("GET", "/api/health", nil)
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	if rec.Code != 200 {
		t.Errorf("health: status = %d", rec.Code)
	}
}
