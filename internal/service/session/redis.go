package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/tripwise/planner/backend/internal/config"
	"github.com/tripwise/planner/backend/internal/model/chat"
)

const keyPrefix = "planner:"

// RedisStore keeps sessions in Redis. Every write refreshes the key TTL, so
// idle sessions are expired by Redis itself.
type RedisStore struct {
	client *redis.Client
	opts   Options
}

var _ Store = (*RedisStore)(nil)

// NewRedisClient connects to Redis and verifies the connection.
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}

	log.Info().Str("component", "session").Str("addr", cfg.Addr).Msg("redis client connected")
	return client, nil
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client *redis.Client, opts Options) *RedisStore {
	return &RedisStore{client: client, opts: opts.withDefaults()}
}

func metaKey(userID string) string       { return keyPrefix + "session:" + userID }
func transcriptKey(userID string) string { return keyPrefix + "transcript:" + userID }

// GetOrCreate implements Store.
func (s *RedisStore) GetOrCreate(ctx context.Context, userID string) (chat.Session, error) {
	sess, ok, err := s.Peek(ctx, userID)
	if err != nil || ok {
		return sess, err
	}

	now := s.opts.Now().UTC()
	var metaCmd *redis.StringStringMapCmd
	var listCmd *redis.StringSliceCmd
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		s.initMeta(ctx, pipe, userID, now)
		pipe.HSetNX(ctx, metaKey(userID), "last_activity", formatTime(now))
		pipe.Expire(ctx, metaKey(userID), s.opts.TTL)
		metaCmd = pipe.HGetAll(ctx, metaKey(userID))
		listCmd = pipe.LRange(ctx, transcriptKey(userID), 0, -1)
		return nil
	})
	if err != nil {
		return chat.Session{}, fmt.Errorf("failed to create session: %w", err)
	}
	return decodeSession(metaCmd.Val(), listCmd.Val())
}

// Append implements Store.
func (s *RedisStore) Append(ctx context.Context, userID string, msgs ...chat.Message) (chat.Session, error) {
	now := s.opts.Now().UTC()

	payloads := make([]interface{}, 0, len(msgs))
	for _, msg := range msgs {
		if msg.ID == "" {
			msg.ID = uuid.NewString()
		}
		if msg.CreatedAt.IsZero() {
			msg.CreatedAt = now
		}
		data, err := json.Marshal(msg)
		if err != nil {
			return chat.Session{}, fmt.Errorf("failed to marshal message: %w", err)
		}
		payloads = append(payloads, data)
	}

	var metaCmd *redis.StringStringMapCmd
	var listCmd *redis.StringSliceCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		s.initMeta(ctx, pipe, userID, now)
		pipe.HSet(ctx, metaKey(userID), "last_activity", formatTime(now))
		if len(payloads) > 0 {
			pipe.RPush(ctx, transcriptKey(userID), payloads...)
			pipe.LTrim(ctx, transcriptKey(userID), int64(-s.opts.MaxMessages), -1)
		}
		pipe.Expire(ctx, metaKey(userID), s.opts.TTL)
		pipe.Expire(ctx, transcriptKey(userID), s.opts.TTL)
		metaCmd = pipe.HGetAll(ctx, metaKey(userID))
		listCmd = pipe.LRange(ctx, transcriptKey(userID), 0, -1)
		return nil
	})
	if err != nil {
		return chat.Session{}, fmt.Errorf("failed to append to session: %w", err)
	}
	return decodeSession(metaCmd.Val(), listCmd.Val())
}

// Peek implements Store.
func (s *RedisStore) Peek(ctx context.Context, userID string) (chat.Session, bool, error) {
	var metaCmd *redis.StringStringMapCmd
	var listCmd *redis.StringSliceCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		metaCmd = pipe.HGetAll(ctx, metaKey(userID))
		listCmd = pipe.LRange(ctx, transcriptKey(userID), 0, -1)
		return nil
	})
	if err != nil {
		return chat.Session{}, false, fmt.Errorf("failed to load session: %w", err)
	}
	if len(metaCmd.Val()) == 0 {
		return chat.Session{}, false, nil
	}

	sess, err := decodeSession(metaCmd.Val(), listCmd.Val())
	if err != nil {
		return chat.Session{}, false, err
	}
	return sess, true, nil
}

// Clear implements Store.
func (s *RedisStore) Clear(ctx context.Context, userID string) error {
	if err := s.client.Del(ctx, metaKey(userID), transcriptKey(userID)).Err(); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	return nil
}

// EvictExpired is a no-op: Redis expires idle keys on its own.
func (s *RedisStore) EvictExpired(context.Context, time.Time) (int, error) {
	return 0, nil
}

func (s *RedisStore) initMeta(ctx context.Context, pipe redis.Pipeliner, userID string, now time.Time) {
	key := metaKey(userID)
	pipe.HSetNX(ctx, key, "id", uuid.NewString())
	pipe.HSetNX(ctx, key, "user_id", userID)
	pipe.HSetNX(ctx, key, "created_at", formatTime(now))
}

func decodeSession(meta map[string]string, raw []string) (chat.Session, error) {
	sess := chat.Session{
		ID:       meta["id"],
		UserID:   meta["user_id"],
		Messages: make([]chat.Message, 0, len(raw)),
	}

	var err error
	if sess.CreatedAt, err = parseTime(meta["created_at"]); err != nil {
		return chat.Session{}, err
	}
	if sess.LastActivity, err = parseTime(meta["last_activity"]); err != nil {
		return chat.Session{}, err
	}

	for _, item := range raw {
		var msg chat.Message
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			return chat.Session{}, fmt.Errorf("failed to unmarshal message: %w", err)
		}
		sess.Messages = append(sess.Messages, msg)
	}
	return sess, nil
}

func formatTime(t time.Time) string {
	return t.Format(time.RFC3339Nano)
}

func parseTime(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid session timestamp %q: %w", raw, err)
	}
	return t, nil
}
