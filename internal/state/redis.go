package state

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

var _ Store = (*RedisStore)(nil)

// RedisStore keeps each snapshot as a string at <prefix>:state:<environment>.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore returns a store writing under prefix.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if client == nil {
		panic("state: redis client cannot be nil")
	}
	return &RedisStore{client: client, prefix: prefix}
}

// Key returns the Redis key holding the snapshot of environment.
func (s *RedisStore) Key(environment string) string {
	return fmt.Sprintf("%s:state:%s", s.prefix, environment)
}

// Load implements Store.
func (s *RedisStore) Load(ctx context.Context, environment string) (*Snapshot, error) {
	data, err := s.client.Get(ctx, s.Key(environment)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load state of %q: %w", environment, err)
	}
	return Decode(data)
}

// Save implements Store. Snapshots never expire.
func (s *RedisStore) Save(ctx context.Context, environment string, snapshot *Snapshot) error {
	data, err := Encode(snapshot)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.Key(environment), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to save state of %q: %w", environment, err)
	}
	return nil
}
