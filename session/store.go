package session

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const activeSessionsKey = "active_sessions"

// Store mirrors session metadata outside the process. Conversation content is never stored.
type Store interface {
	Save(ctx context.Context, s *Session) error
	UpdateStatus(ctx context.Context, id string, status Status) error
	Delete(ctx context.Context, id string) error
	Close() error
}

// RedisStore keeps one hash per session plus the set of active ids.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore connects to addr and fails if the server does not answer a ping.
func NewRedisStore(ctx context.Context, addr, password string, ttl time.Duration) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       0,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}

	return &RedisStore{client: client, ttl: ttl}, nil
}

func sessionKey(id string) string {
	return "session:" + id
}

func (s *RedisStore) Save(ctx context.Context, sess *Session) error {
	key := sessionKey(sess.ID)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, map[string]interface{}{
			"created_at":    sess.CreatedAt.Format(time.RFC3339),
			"last_activity": sess.LastActivity().Format(time.RFC3339),
			"status":        sess.Status().String(),
			"transport":     string(sess.Kind),
			"audio_mode":    strconv.FormatBool(sess.AudioMode),
		})
		pipe.SAdd(ctx, activeSessionsKey, sess.ID)
		if s.ttl > 0 {
			pipe.Expire(ctx, key, s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("store session %s: %w", sess.ID, err)
	}
	return nil
}

func (s *RedisStore) UpdateStatus(ctx context.Context, id string, status Status) error {
	if err := s.client.HSet(ctx, sessionKey(id), "status", status.String()).Err(); err != nil {
		return fmt.Errorf("update session %s: %w", id, err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, sessionKey(id))
		pipe.SRem(ctx, activeSessionsKey, id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

type nopStore struct{}

func (nopStore) Save(context.Context, *Session) error { return nil }
func (nopStore) UpdateStatus(context.Context, string, Status) error { return nil }
func (nopStore) Delete(context.Context, string) error { return nil }
func (nopStore) Close() error { return nil }
