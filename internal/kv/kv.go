// Package kv implements KV: a thin Redis-backed wrapper used for
// short-lived values that don't belong in the durable DocStore;
// verification codes, the last-streamed-answer cache, counters, and
// single-flight locks.
package kv

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store wraps a redis.Client with the narrow operation set the core needs.
type Store struct {
	rdb *redis.Client
}

// New creates a Store against the given Redis host:port/db.
func New(addr string, db int, password string) *Store {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		DB:       db,
		Password: password,
	})
	return &Store{rdb: rdb}
}

// Ping verifies connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("kv.Store.Ping: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.rdb.Close()
}

// SetWithTTL stores a string value that expires after ttl.
func (s *Store) SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("kv.Store.SetWithTTL: %w", err)
	}
	slog.Debug("kv set", "key", key, "ttl_s", int(ttl.Seconds()))
	return nil
}

// Get returns a value and whether it was present (false on miss, mirroring
// a (value, ok) shape rather than surfacing redis.Nil).
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := s.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("kv.Store.Get: %w", err)
	}
	return val, true, nil
}

// Delete removes a key. Deleting a missing key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("kv.Store.Delete: %w", err)
	}
	return nil
}

// Incr atomically increments a counter key, refreshes its ttl, and returns
// the new value.
func (s *Store) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	pipe := s.rdb.TxPipeline()
	incrCmd := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("kv.Store.Incr: %w", err)
	}
	return incrCmd.Val(), nil
}

// SetNX sets a key only if it does not already exist, returning whether the
// set happened. Used for single-flight locks (e.g. "only one summarization
// goroutine per session at a time").
func (s *Store) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("kv.Store.SetNX: %w", err)
	}
	return ok, nil
}

// Key-building helpers using colon-separated namespacing (e.g.
// "last_answer:{sessionID}").

// VerificationCodeKey namespaces a one-time verification code by its target email.
func VerificationCodeKey(email string) string {
	return fmt.Sprintf("verify:%s", email)
}

// LastAnswerKey namespaces the last streamed answer for a session. The
// orchestrator writes it with a TTL after each turn; nothing in this module
// reads it back.
func LastAnswerKey(sessionID string) string {
	return fmt.Sprintf("last_answer:%s", sessionID)
}

// SummarizeLockKey namespaces the single-flight lock guarding background
// history summarization for a session (internal/history).
func SummarizeLockKey(sessionID string) string {
	return fmt.Sprintf("summarize_lock:%s", sessionID)
}
