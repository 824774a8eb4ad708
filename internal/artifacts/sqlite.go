package artifacts

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"github.com/classpilot/classpilot/pkg/models"
)

const artifactSchema = `
CREATE TABLE IF NOT EXISTS artifacts (
	artifact_id     TEXT NOT NULL,
	version         INTEGER NOT NULL,
	teacher_id      TEXT NOT NULL,
	conversation_id TEXT NOT NULL,
	artifact_type   TEXT NOT NULL,
	content_format  TEXT NOT NULL,
	content         BLOB,
	content_url     TEXT NOT NULL DEFAULT '',
	resources       BLOB,
	created_at      TIMESTAMP NOT NULL,
	updated_at      TIMESTAMP NOT NULL,
	PRIMARY KEY (artifact_id, version)
);
CREATE INDEX IF NOT EXISTS idx_artifacts_conversation
	ON artifacts (teacher_id, conversation_id);
`

// SQLiteStore persists artifact versions in a local sqlite database.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (or creates) the database at path and ensures the
// schema exists.
func NewSQLiteStore(path string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open artifact db: %w", err)
	}
	// sqlite handles one writer; keep the pool from fighting over it.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(artifactSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure artifact schema: %w", err)
	}
	return &SQLiteStore{db: db, logger: logger}, nil
}

// Put appends a version inside one transaction so concurrent writers
// cannot mint the same version number.
func (s *SQLiteStore) Put(ctx context.Context, artifact *models.Artifact) error {
	if artifact.ArtifactID == "" {
		return errors.New("artifact id is required")
	}
	if artifact.TeacherID == "" {
		return errors.New("teacher id is required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin artifact tx: %w", err)
	}
	defer tx.Rollback()

	var latest int
	var owner string
	err = tx.QueryRowContext(ctx,
		`SELECT version, teacher_id FROM artifacts WHERE artifact_id = ? ORDER BY version DESC LIMIT 1`,
		artifact.ArtifactID).Scan(&latest, &owner)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		latest = 0
	case err != nil:
		return fmt.Errorf("query latest version: %w", err)
	case owner != artifact.TeacherID:
		return fmt.Errorf("artifact %s: %w", artifact.ArtifactID, ErrNotFound)
	}

	artifact.Version = latest + 1
	now := time.Now()
	if artifact.CreatedAt.IsZero() {
		artifact.CreatedAt = now
	}
	artifact.UpdatedAt = now

	resources, err := json.Marshal(artifact.Resources)
	if err != nil {
		return fmt.Errorf("encode resources: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO artifacts (artifact_id, version, teacher_id, conversation_id,
			artifact_type, content_format, content, content_url, resources, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		artifact.ArtifactID, artifact.Version, artifact.TeacherID, artifact.ConversationID,
		string(artifact.ArtifactType), string(artifact.ContentFormat),
		[]byte(artifact.Content), artifact.ContentURL, resources,
		artifact.CreatedAt, artifact.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert artifact version: %w", err)
	}
	return tx.Commit()
}

// Get returns one version.
func (s *SQLiteStore) Get(ctx context.Context, teacherID, artifactID string, version int) (*models.Artifact, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT artifact_id, version, teacher_id, conversation_id, artifact_type,
			content_format, content, content_url, resources, created_at, updated_at
		 FROM artifacts WHERE artifact_id = ? AND version = ? AND teacher_id = ?`,
		artifactID, version, teacherID)
	return scanArtifact(row, artifactID)
}

// Latest returns the newest version.
func (s *SQLiteStore) Latest(ctx context.Context, teacherID, artifactID string) (*models.Artifact, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT artifact_id, version, teacher_id, conversation_id, artifact_type,
			content_format, content, content_url, resources, created_at, updated_at
		 FROM artifacts WHERE artifact_id = ? AND teacher_id = ?
		 ORDER BY version DESC LIMIT 1`,
		artifactID, teacherID)
	return scanArtifact(row, artifactID)
}

// ListByConversation returns the latest version per artifact in the
// conversation.
func (s *SQLiteStore) ListByConversation(ctx context.Context, teacherID, conversationID string) ([]*models.Artifact, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT a.artifact_id, a.version, a.teacher_id, a.conversation_id, a.artifact_type,
			a.content_format, a.content, a.content_url, a.resources, a.created_at, a.updated_at
		 FROM artifacts a
		 JOIN (SELECT artifact_id, MAX(version) AS v FROM artifacts
		       WHERE teacher_id = ? AND conversation_id = ?
		       GROUP BY artifact_id) latest
		   ON a.artifact_id = latest.artifact_id AND a.version = latest.v
		 ORDER BY a.created_at`,
		teacherID, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	defer rows.Close()

	var out []*models.Artifact
	for rows.Next() {
		a, err := scanArtifact(rows, "")
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

type rowScanner interface {
	Scan(dest ...any) error
}

func scanArtifact(row rowScanner, artifactID string) (*models.Artifact, error) {
	var a models.Artifact
	var artifactType, contentFormat string
	var content, resources []byte
	err := row.Scan(&a.ArtifactID, &a.Version, &a.TeacherID, &a.ConversationID,
		&artifactType, &contentFormat, &content, &a.ContentURL, &resources,
		&a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("artifact %s: %w", artifactID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan artifact: %w", err)
	}
	a.ArtifactType = models.ArtifactType(artifactType)
	a.ContentFormat = models.ContentFormat(contentFormat)
	a.Content = json.RawMessage(content)
	if len(resources) > 0 {
		if err := json.Unmarshal(resources, &a.Resources); err != nil {
			return nil, fmt.Errorf("decode resources: %w", err)
		}
	}
	return &a, nil
}
