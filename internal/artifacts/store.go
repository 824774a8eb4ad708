// Package artifacts stores generated teaching materials and applies
// structured edits to them. Every artifact is versioned; edits and
// regenerations append versions, they never rewrite history.
package artifacts

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/classpilot/classpilot/pkg/models"
)

// ErrNotFound reports a missing artifact or version.
var ErrNotFound = errors.New("artifact not found")

// Store is the artifact persistence interface. All reads are scoped to
// the owning teacher; a mismatched teacher id behaves like a miss.
type Store interface {
	// Put appends a new version. Version 0 on input means "next": 1 for a
	// new artifact, latest+1 otherwise. The stored version is written back
	// into the artifact.
	Put(ctx context.Context, artifact *models.Artifact) error

	// Get returns one specific version.
	Get(ctx context.Context, teacherID, artifactID string, version int) (*models.Artifact, error)

	// Latest returns the newest version.
	Latest(ctx context.Context, teacherID, artifactID string) (*models.Artifact, error)

	// ListByConversation returns the latest version of every artifact the
	// conversation produced.
	ListByConversation(ctx context.Context, teacherID, conversationID string) ([]*models.Artifact, error)

	// Close releases backend resources.
	Close() error
}

// NewArtifactID mints a fresh artifact identifier.
func NewArtifactID() string {
	return "art-" + uuid.NewString()
}

// MemoryStore keeps artifact versions in process memory.
type MemoryStore struct {
	mu       sync.RWMutex
	versions map[string][]*models.Artifact
}

// NewMemoryStore creates an empty in-memory artifact store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{versions: make(map[string][]*models.Artifact)}
}

// Put appends a version.
func (s *MemoryStore) Put(_ context.Context, artifact *models.Artifact) error {
	if artifact.ArtifactID == "" {
		return errors.New("artifact id is required")
	}
	if artifact.TeacherID == "" {
		return errors.New("teacher id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	chain := s.versions[artifact.ArtifactID]
	if len(chain) > 0 && chain[0].TeacherID != artifact.TeacherID {
		return fmt.Errorf("artifact %s: %w", artifact.ArtifactID, ErrNotFound)
	}
	artifact.Version = len(chain) + 1
	now := time.Now()
	if artifact.CreatedAt.IsZero() {
		artifact.CreatedAt = now
	}
	artifact.UpdatedAt = now

	s.versions[artifact.ArtifactID] = append(chain, artifact.Clone())
	return nil
}

// Get returns one version.
func (s *MemoryStore) Get(_ context.Context, teacherID, artifactID string, version int) (*models.Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	chain := s.versions[artifactID]
	if len(chain) == 0 || chain[0].TeacherID != teacherID {
		return nil, fmt.Errorf("artifact %s: %w", artifactID, ErrNotFound)
	}
	if version < 1 || version > len(chain) {
		return nil, fmt.Errorf("artifact %s version %d: %w", artifactID, version, ErrNotFound)
	}
	return chain[version-1].Clone(), nil
}

// Latest returns the newest version.
func (s *MemoryStore) Latest(_ context.Context, teacherID, artifactID string) (*models.Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	chain := s.versions[artifactID]
	if len(chain) == 0 || chain[0].TeacherID != teacherID {
		return nil, fmt.Errorf("artifact %s: %w", artifactID, ErrNotFound)
	}
	return chain[len(chain)-1].Clone(), nil
}

// ListByConversation returns the latest version per artifact in the
// conversation, ordered by creation time.
func (s *MemoryStore) ListByConversation(_ context.Context, teacherID, conversationID string) ([]*models.Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Artifact
	for _, chain := range s.versions {
		latest := chain[len(chain)-1]
		if latest.TeacherID == teacherID && latest.ConversationID == conversationID {
			out = append(out, latest.Clone())
		}
	}
	sortByCreation(out)
	return out, nil
}

// Close is a no-op for the memory store.
func (s *MemoryStore) Close() error { return nil }

func sortByCreation(artifacts []*models.Artifact) {
	for i := 1; i < len(artifacts); i++ {
		for j := i; j > 0 && artifacts[j].CreatedAt.Before(artifacts[j-1].CreatedAt); j-- {
			artifacts[j], artifacts[j-1] = artifacts[j-1], artifacts[j]
		}
	}
}

// ExternalizeForWire returns a wire-safe copy: payloads above threshold
// bytes are replaced by a content URL the gateway serves.
func ExternalizeForWire(a *models.Artifact, threshold int) *models.Artifact {
	if threshold <= 0 || len(a.Content) <= threshold {
		return a
	}
	clone := a.Clone()
	clone.Content = nil
	clone.ContentURL = fmt.Sprintf("/api/artifacts/%s/content?version=%d", a.ArtifactID, a.Version)
	return clone
}
