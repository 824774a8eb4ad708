package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/classpilot/classpilot/pkg/models"
)

const redisKeyPrefix = "classpilot:session:"

// RedisStore persists sessions as JSON blobs in redis with a sliding idle
// TTL. All gateway workers sharing the redis instance see the same state.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedisStore connects to the redis instance at url
// (redis://[user:pass@]host:port/db) and verifies the connection.
func NewRedisStore(ctx context.Context, url string, ttl time.Duration, logger *slog.Logger) (*RedisStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisStore{client: client, ttl: ttl, logger: logger}, nil
}

func redisKey(conversationID string) string {
	return redisKeyPrefix + conversationID
}

// Load returns the stored session, or a fresh empty session when the key
// is missing.
func (s *RedisStore) Load(ctx context.Context, conversationID string) (*models.ConversationSession, error) {
	data, err := s.client.Get(ctx, redisKey(conversationID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return NewSession(conversationID, ""), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", conversationID, err)
	}
	var session models.ConversationSession
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", conversationID, err)
	}
	return &session, nil
}

// Save writes the session blob with a fresh TTL. SET is atomic per key, so
// the last writer for a conversation wins.
func (s *RedisStore) Save(ctx context.Context, session *models.ConversationSession) error {
	session.UpdatedAt = time.Now()
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", session.ConversationID, err)
	}
	if err := s.client.Set(ctx, redisKey(session.ConversationID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("save session %s: %w", session.ConversationID, err)
	}
	return nil
}

// Touch slides the idle TTL without rewriting the blob.
func (s *RedisStore) Touch(ctx context.Context, conversationID string) error {
	if err := s.client.Expire(ctx, redisKey(conversationID), s.ttl).Err(); err != nil {
		return fmt.Errorf("touch session %s: %w", conversationID, err)
	}
	return nil
}

// Delete removes the session key.
func (s *RedisStore) Delete(ctx context.Context, conversationID string) error {
	if err := s.client.Del(ctx, redisKey(conversationID)).Err(); err != nil {
		return fmt.Errorf("delete session %s: %w", conversationID, err)
	}
	return nil
}

// Close releases the redis connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
