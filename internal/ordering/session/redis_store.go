package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"order-workers/internal/common/database"
	"order-workers/internal/models"
)

const defaultRedisTTL = 24 * time.Hour

// RedisStore keeps each session as a JSON value and swaps it under
// WATCH/MULTI so a concurrent writer aborts the transaction.
type RedisStore struct {
	client *database.RedisClient
	ttl    time.Duration
}

func NewRedisStore(client *database.RedisClient, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = defaultRedisTTL
	}
	return &RedisStore{client: client, ttl: ttl}
}

func (s *RedisStore) key(userID string) string {
	return s.client.Key("session", userID)
}

func (s *RedisStore) Load(ctx context.Context, userID string) (models.SessionState, bool, error) {
	raw, err := s.client.Client.Get(ctx, s.key(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.SessionState{}, false, nil
	}
	if err != nil {
		return models.SessionState{}, false, fmt.Errorf("redis get session: %w", err)
	}
	var state models.SessionState
	if err := json.Unmarshal(raw, &state); err != nil {
		return models.SessionState{}, false, fmt.Errorf("decode session %s: %w", userID, err)
	}
	return state, true, nil
}

// currentVersion reads the stored version inside a WATCH. Absent is 0.
func currentVersion(ctx context.Context, tx *redis.Tx, key string) (int64, bool, error) {
	raw, err := tx.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	var probe struct {
		Version int64 `json:"version"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return 0, true, fmt.Errorf("decode session version: %w", err)
	}
	return probe.Version, true, nil
}

func (s *RedisStore) CompareAndSwap(ctx context.Context, expected int64, next models.SessionState) error {
	key := s.key(next.UserID)
	payload, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	err = s.client.Client.Watch(ctx, func(tx *redis.Tx) error {
		version, found, err := currentVersion(ctx, tx, key)
		if err != nil {
			return err
		}
		if (!found && expected != 0) || (found && version != expected) {
			return ErrVersionMismatch
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, s.ttl)
			return nil
		})
		return err
	}, key)

	if errors.Is(err, redis.TxFailedErr) {
		return ErrVersionMismatch
	}
	return err
}

func (s *RedisStore) Delete(ctx context.Context, userID string, expectedVersion int64) error {
	key := s.key(userID)
	if expectedVersion == 0 {
		return s.client.Client.Del(ctx, key).Err()
	}

	err := s.client.Client.Watch(ctx, func(tx *redis.Tx) error {
		version, found, err := currentVersion(ctx, tx, key)
		if err != nil {
			return err
		}
		if !found {
			return nil
		}
		if version != expectedVersion {
			return ErrVersionMismatch
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			return nil
		})
		return err
	}, key)

	if errors.Is(err, redis.TxFailedErr) {
		return ErrVersionMismatch
	}
	return err
}

func (s *RedisStore) scan(ctx context.Context, fn func(key string) error) error {
	iter := s.client.Client.Scan(ctx, 0, s.key("*"), 100).Iterator()
	for iter.Next(ctx) {
		if err := fn(iter.Val()); err != nil {
			return err
		}
	}
	return iter.Err()
}

func (s *RedisStore) ListIdle(ctx context.Context, before time.Time) ([]SessionRef, error) {
	var out []SessionRef
	err := s.scan(ctx, func(key string) error {
		raw, err := s.client.Client.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		var state models.SessionState
		if err := json.Unmarshal(raw, &state); err != nil {
			return fmt.Errorf("decode session %s: %w", key, err)
		}
		if state.LastActivityAt.Before(before) {
			out = append(out, SessionRef{UserID: state.UserID, Version: state.Version})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("redis scan sessions: %w", err)
	}
	return out, nil
}

func (s *RedisStore) Count(ctx context.Context) (int, error) {
	n := 0
	err := s.scan(ctx, func(string) error {
		n++
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("redis scan sessions: %w", err)
	}
	return n, nil
}
