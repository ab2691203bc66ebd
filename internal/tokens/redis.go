package tokens

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisStore keeps each record as a JSON string under <prefix>:token:<user>.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "fluo"
	}
	return &RedisStore{client: client, prefix: prefix, now: time.Now}
}

func (s *RedisStore) key(userID string) string {
	return fmt.Sprintf("%s:token:%s", s.prefix, userID)
}

func (s *RedisStore) Write(ctx context.Context, userID string, in Input) (*Record, error) {
	rec, err := NewRecord(userID, in, s.now())
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal token record: %w", err)
	}

	// No TTL: an expired access token is still needed for its refresh token.
	if err := s.client.Set(ctx, s.key(userID), data, 0).Err(); err != nil {
		return nil, unavailable("redis set", err)
	}
	return rec, nil
}

func (s *RedisStore) Read(ctx context.Context, userID string) (*Record, error) {
	if err := checkUser(userID); err != nil {
		return nil, err
	}

	data, err := s.client.Get(ctx, s.key(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, unavailable("redis get", err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal token record: %w", err)
	}
	return &rec, nil
}

func (s *RedisStore) Delete(ctx context.Context, userID string) error {
	if err := checkUser(userID); err != nil {
		return err
	}

	n, err := s.client.Del(ctx, s.key(userID)).Result()
	if err != nil {
		return unavailable("redis del", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
