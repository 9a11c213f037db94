package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"snapclone/pkg/logger"

	"github.com/redis/go-redis/v9"
)

const lastSeenKeyPrefix = "user:" // user:{userId}:last_seen

var ErrNotFound = errors.New("not found in cache")

// LastSeenStore keeps per-user last-seen timestamps with an expiry. It is the
// durable side of presence: in-memory state answers "online now", this store
// answers "when was an offline user last here".
type LastSeenStore struct {
	rdb *redis.Client
}

func NewLastSeenStore(redisURL string) (*LastSeenStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	logger.Info("Connected to redis successfully")
	return &LastSeenStore{rdb: rdb}, nil
}

func (s *LastSeenStore) SetLastSeen(ctx context.Context, userID string, ts time.Time, ttl time.Duration) error {
	key := lastSeenKey(userID)
	if err := s.rdb.Set(ctx, key, ts.UTC().Format(time.RFC3339Nano), ttl).Err(); err != nil {
		return fmt.Errorf("failed to store last seen: %w", err)
	}
	return nil
}

func (s *LastSeenStore) GetLastSeen(ctx context.Context, userID string) (time.Time, error) {
	val, err := s.rdb.Get(ctx, lastSeenKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, ErrNotFound
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to get last seen: %w", err)
	}

	ts, err := time.Parse(time.RFC3339Nano, val)
	if err != nil {
		return time.Time{}, fmt.Errorf("malformed last seen value: %w", err)
	}
	return ts, nil
}

func (s *LastSeenStore) Close() error {
	return s.rdb.Close()
}

func lastSeenKey(userID string) string {
	return lastSeenKeyPrefix + userID + ":last_seen"
}
