package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cuongbtq/intern-crm/internal/domain"
)

const (
	keyPrefix = "fetch:progress:"

	// activeTTL bounds how long a non-terminal entry survives a crashed owner
	activeTTL = 24 * time.Hour

	maxWatchRetries = 5
)

// RedisStore shares progress between processes. Terminal entries expire
// after the retention window through key TTLs.
type RedisStore struct {
	client    *redis.Client
	retention time.Duration
}

// NewRedisStore creates a new Redis-backed progress store
func NewRedisStore(client *redis.Client, retention time.Duration) *RedisStore {
	return &RedisStore{
		client:    client,
		retention: retention,
	}
}

func (s *RedisStore) key(jobID string) string {
	return keyPrefix + jobID
}

func (s *RedisStore) Get(ctx context.Context, jobID string) (domain.JobProgress, error) {
	data, err := s.client.Get(ctx, s.key(jobID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.JobProgress{}, ErrNotFound
		}
		return domain.JobProgress{}, fmt.Errorf("failed to get progress: %w", err)
	}

	var p domain.JobProgress
	if err := json.Unmarshal(data, &p); err != nil {
		return domain.JobProgress{}, fmt.Errorf("failed to decode progress: %w", err)
	}
	return p, nil
}

// Set writes the snapshot unless the stored one is in another terminal phase. The read and
// write run in a WATCH transaction so a concurrent cancel cannot be lost.
func (s *RedisStore) Set(ctx context.Context, p domain.JobProgress) error {
	key := s.key(p.JobID)

	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode progress: %w", err)
	}

	ttl := activeTTL
	if p.Phase.IsTerminal() && s.retention > 0 {
		ttl = s.retention
	}

	txf := func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, key).Bytes()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if err == nil {
			var existing domain.JobProgress
			if json.Unmarshal(current, &existing) == nil && existing.Phase.IsTerminal() && existing.Phase != p.Phase {
				return ErrTerminal
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, ttl)
			return nil
		})
		return err
	}

	for i := 0; i < maxWatchRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil && !errors.Is(err, ErrTerminal) {
			return fmt.Errorf("failed to set progress: %w", err)
		}
		return err
	}

	return fmt.Errorf("failed to set progress for job %s: too many concurrent updates", p.JobID)
}

func (s *RedisStore) Delete(ctx context.Context, jobID string) error {
	if err := s.client.Del(ctx, s.key(jobID)).Err(); err != nil {
		return fmt.Errorf("failed to delete progress: %w", err)
	}
	return nil
}

// Cleanup is a no-op; Redis expires entries on its own
func (s *RedisStore) Cleanup(_ context.Context, _ time.Duration) (int, error) {
	return 0, nil
}
