package sessions

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/classpilot/classpilot/pkg/models"
)

// MemoryStore keeps sessions in process memory with a sliding idle TTL.
// Suitable for single-worker deployments and tests; state is lost on
// restart.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*memoryEntry
	ttl      time.Duration
	logger   *slog.Logger
	stop     chan struct{}
	stopOnce sync.Once
}

type memoryEntry struct {
	session   *models.ConversationSession
	expiresAt time.Time
}

// NewMemoryStore creates a memory store whose sessions expire after ttl of
// inactivity. A background sweeper reclaims expired entries.
func NewMemoryStore(ttl time.Duration, logger *slog.Logger) *MemoryStore {
	if logger == nil {
		logger = slog.Default()
	}
	s := &MemoryStore{
		sessions: make(map[string]*memoryEntry),
		ttl:      ttl,
		logger:   logger,
		stop:     make(chan struct{}),
	}
	go s.sweep()
	return s
}

// Load returns a deep copy of the stored session, or a fresh empty session
// when the id is unknown or expired.
func (s *MemoryStore) Load(_ context.Context, conversationID string) (*models.ConversationSession, error) {
	s.mu.RLock()
	entry, ok := s.sessions[conversationID]
	s.mu.RUnlock()

	if !ok || time.Now().After(entry.expiresAt) {
		return NewSession(conversationID, ""), nil
	}
	return entry.session.Clone(), nil
}

// Save stores a deep copy of the session and resets its TTL.
func (s *MemoryStore) Save(_ context.Context, session *models.ConversationSession) error {
	clone := session.Clone()
	clone.UpdatedAt = time.Now()

	s.mu.Lock()
	s.sessions[session.ConversationID] = &memoryEntry{
		session:   clone,
		expiresAt: time.Now().Add(s.ttl),
	}
	s.mu.Unlock()
	return nil
}

// Touch resets the idle TTL of an existing session. Unknown ids are a no-op.
func (s *MemoryStore) Touch(_ context.Context, conversationID string) error {
	s.mu.Lock()
	if entry, ok := s.sessions[conversationID]; ok {
		entry.expiresAt = time.Now().Add(s.ttl)
	}
	s.mu.Unlock()
	return nil
}

// Delete removes the session.
func (s *MemoryStore) Delete(_ context.Context, conversationID string) error {
	s.mu.Lock()
	delete(s.sessions, conversationID)
	s.mu.Unlock()
	return nil
}

// Close stops the background sweeper.
func (s *MemoryStore) Close() error {
	s.stopOnce.Do(func() { close(s.stop) })
	return nil
}

// Len reports the number of live (possibly expired but unswept) sessions.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func (s *MemoryStore) sweep() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case now := <-ticker.C:
			s.mu.Lock()
			removed := 0
			for id, entry := range s.sessions {
				if now.After(entry.expiresAt) {
					delete(s.sessions, id)
					removed++
				}
			}
			s.mu.Unlock()
			if removed > 0 {
				s.logger.Debug("swept expired sessions", "count", removed)
			}
		}
	}
}
