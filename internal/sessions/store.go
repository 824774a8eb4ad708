// Package sessions persists conversation state. Two backends share the
// Store interface: an in-process memory store for single-worker runs and a
// redis-backed store for cross-process deployments. Sessions are one JSON
// blob per conversation with a sliding idle TTL.
package sessions

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/classpilot/classpilot/pkg/models"
)

// ErrNotFound reports a conversation id with no stored session. Load
// converts it into a fresh empty session; other callers may branch on it.
var ErrNotFound = errors.New("session not found")

// Store is the conversation persistence interface.
type Store interface {
	// Load returns the stored session, or a fresh empty session bound to
	// the id when none exists. It fails only on storage errors.
	Load(ctx context.Context, conversationID string) (*models.ConversationSession, error)

	// Save persists the session atomically for its conversation id.
	// Last-writer-wins per conversation; cross-conversation ordering is
	// independent.
	Save(ctx context.Context, session *models.ConversationSession) error

	// Touch refreshes the idle TTL without mutating content.
	Touch(ctx context.Context, conversationID string) error

	// Delete removes the session.
	Delete(ctx context.Context, conversationID string) error

	// Close releases backend resources.
	Close() error
}

// NewConversationID mints a fresh conversation identifier.
func NewConversationID() string {
	return "conv-" + uuid.NewString()
}

// NewSession builds an empty session for the given ids.
func NewSession(conversationID, teacherID string) *models.ConversationSession {
	now := time.Now()
	return &models.ConversationSession{
		ConversationID: conversationID,
		TeacherID:      teacherID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}
