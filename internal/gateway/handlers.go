package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/classpilot/classpilot/internal/agent"
	"github.com/classpilot/classpilot/internal/artifacts"
	"github.com/classpilot/classpilot/internal/sessions"
	"github.com/classpilot/classpilot/internal/stream"
	"github.com/classpilot/classpilot/pkg/models"
)

const maxRequestBody = 256 << 10

// chatRequest is the conversation request body. TeacherID is honored only
// when token auth is disabled.
type chatRequest struct {
	ConversationID string `json:"conversationId,omitempty"`
	TeacherID      string `json:"teacherId,omitempty"`
	ClassID        string `json:"classId,omitempty"`
	Message        string `json:"message"`
}

// prepareTurn runs the shared request pipeline: decode, validate, rate
// limit, conversation lock, session load. On failure it writes the HTTP
// error itself and returns ok=false.
func (s *Server) prepareTurn(w http.ResponseWriter, r *http.Request) (session *models.ConversationSession, req agent.TurnRequest, release func(), ok bool) {
	if !s.cfg.Agent.Enabled {
		writeError(w, http.StatusServiceUnavailable, "agent is disabled")
		return nil, req, nil, false
	}

	var body chatRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err := dec.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return nil, req, nil, false
	}

	teacherID := teacherFrom(r.Context(), body.TeacherID)
	if teacherID == "" {
		writeError(w, http.StatusUnprocessableEntity, "teacherId is required")
		return nil, req, nil, false
	}
	if strings.TrimSpace(body.Message) == "" {
		writeError(w, http.StatusUnprocessableEntity, "message must not be empty")
		return nil, req, nil, false
	}

	if !s.limiter.Allow(teacherID) {
		if s.metrics != nil {
			s.metrics.RateLimited.Inc()
		}
		retry := s.limiter.RetryAfter(teacherID)
		w.Header().Set("Retry-After", strconv.Itoa(int(retry.Seconds())+1))
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return nil, req, nil, false
	}

	conversationID := body.ConversationID
	if conversationID == "" {
		conversationID = sessions.NewConversationID()
	}

	release, err := s.locks.acquire(r.Context(), conversationID)
	if errors.Is(err, ErrTurnInFlight) {
		writeError(w, http.StatusConflict, "conversation already has a turn in flight")
		return nil, req, nil, false
	}
	if err != nil {
		writeError(w, http.StatusRequestTimeout, "cancelled while waiting for the active turn")
		return nil, req, nil, false
	}

	session, err = s.sessions.Load(r.Context(), conversationID)
	if err != nil {
		release()
		s.logger.Error("session load failed", "conversation_id", conversationID, "error", err)
		writeError(w, http.StatusInternalServerError, "session store unavailable")
		return nil, req, nil, false
	}
	if session.TeacherID == "" {
		session.TeacherID = teacherID
	}
	if session.TeacherID != teacherID {
		release()
		writeError(w, http.StatusForbidden, "conversation belongs to another teacher")
		return nil, req, nil, false
	}

	req = agent.TurnRequest{
		ConversationID: conversationID,
		TeacherID:      teacherID,
		ClassID:        body.ClassID,
		Message:        body.Message,
	}
	return session, req, release, true
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	session, req, release, ok := s.prepareTurn(w, r)
	if !ok {
		return
	}
	defer release()

	sse, err := stream.NewSSEWriter(w, s.logger)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	if s.metrics != nil {
		s.metrics.ActiveStreams.Inc()
		defer s.metrics.ActiveStreams.Dec()
	}

	events := s.runtime.RunTurn(r.Context(), session, req)
	if err := sse.Pump(r.Context(), events, s.cfg.Server.HeartbeatInterval); err != nil {
		s.logger.Debug("stream ended early", "conversation_id", req.ConversationID, "error", err)
	}
}

func (s *Server) handleAggregate(w http.ResponseWriter, r *http.Request) {
	session, req, release, ok := s.prepareTurn(w, r)
	if !ok {
		return
	}
	defer release()

	events := s.runtime.RunTurn(r.Context(), session, req)
	resp := stream.Aggregate(r.Context(), events)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleArtifactContent(w http.ResponseWriter, r *http.Request) {
	teacherID := teacherFrom(r.Context(), r.URL.Query().Get("teacherId"))
	if teacherID == "" {
		writeError(w, http.StatusUnprocessableEntity, "teacher identity required")
		return
	}
	artifactID := r.PathValue("id")

	var artifact *models.Artifact
	var err error
	if v := r.URL.Query().Get("version"); v != "" {
		version, convErr := strconv.Atoi(v)
		if convErr != nil || version < 1 {
			writeError(w, http.StatusBadRequest, "version must be a positive integer")
			return
		}
		artifact, err = s.artifacts.Get(r.Context(), teacherID, artifactID, version)
	} else {
		artifact, err = s.artifacts.Latest(r.Context(), teacherID, artifactID)
	}
	if errors.Is(err, artifacts.ErrNotFound) {
		writeError(w, http.StatusNotFound, "artifact not found")
		return
	}
	if err != nil {
		s.logger.Error("artifact read failed", "artifact_id", artifactID, "error", err)
		writeError(w, http.StatusInternalServerError, "artifact store unavailable")
		return
	}

	switch artifact.ContentFormat {
	case models.FormatJSON:
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write(artifact.Content)
	case models.FormatMarkdown, models.FormatHTML:
		// Markdown and HTML payloads are stored as JSON-encoded strings.
		var body string
		if err := json.Unmarshal(artifact.Content, &body); err != nil {
			writeError(w, http.StatusInternalServerError, "corrupt artifact payload")
			return
		}
		if artifact.ContentFormat == models.FormatHTML {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
		} else {
			w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, body)
	default:
		writeError(w, http.StatusInternalServerError, "unknown content format")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
