package tokencache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const storeKeyPrefix = "wecom:token:"

// RedisStore shares tokens between replicas. Keys expire with the token.
type RedisStore struct {
	rdb redis.UniversalClient
}

func NewRedisStore(rdb redis.UniversalClient) *RedisStore {
	return &RedisStore{rdb: rdb}
}

type storedToken struct {
	Value     string    `json:"value"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (s *RedisStore) Load(ctx context.Context, appID string) (string, time.Time, bool, error) {
	b, err := s.rdb.Get(ctx, storeKeyPrefix+appID).Bytes()
	if errors.Is(err, redis.Nil) {
		return "", time.Time{}, false, nil
	}
	if err != nil {
		return "", time.Time{}, false, fmt.Errorf("redis GET: %w", err)
	}
	var st storedToken
	if err := json.Unmarshal(b, &st); err != nil {
		return "", time.Time{}, false, fmt.Errorf("decode stored token: %w", err)
	}
	return st.Value, st.ExpiresAt, true, nil
}

func (s *RedisStore) Save(ctx context.Context, appID, value string, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return nil
	}
	b, err := json.Marshal(storedToken{Value: value, ExpiresAt: expiresAt})
	if err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, storeKeyPrefix+appID, b, ttl).Err(); err != nil {
		return fmt.Errorf("redis SET: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, appID string) error {
	if err := s.rdb.Del(ctx, storeKeyPrefix+appID).Err(); err != nil {
		return fmt.Errorf("redis DEL: %w", err)
	}
	return nil
}
