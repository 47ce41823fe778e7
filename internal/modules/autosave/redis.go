package autosave

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps records as JSON strings. Keys expire after ttl so stale
// records vanish even if nobody opens the project again.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore creates a store on client. ttl <= 0 disables expiry.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func (s *RedisStore) Name() string { return "redis" }

func (s *RedisStore) Save(ctx context.Context, rec Record) error {
	data, err := Encode(rec)
	if err != nil {
		return &PersistenceError{Op: "save", Backend: s.Name(), Err: err}
	}
	if err := s.client.Set(ctx, Key(rec.ProjectID), data, s.ttl).Err(); err != nil {
		return &PersistenceError{Op: "save", Backend: s.Name(), Err: err}
	}
	return nil
}

func (s *RedisStore) Load(ctx context.Context, projectID string) (*Record, error) {
	data, err := s.client.Get(ctx, Key(projectID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, &PersistenceError{Op: "load", Backend: s.Name(), Err: err}
	}
	return Decode(data)
}

func (s *RedisStore) Delete(ctx context.Context, projectID string) error {
	if err := s.client.Del(ctx, Key(projectID)).Err(); err != nil {
		return &PersistenceError{Op: "delete", Backend: s.Name(), Err: err}
	}
	return nil
}
