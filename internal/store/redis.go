package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"

	"github.com/OfficialDeepSwap/A2A/internal/metrics"
	"github.com/OfficialDeepSwap/A2A/internal/models"
)

const (
	notificationTTL = 7 * 24 * time.Hour
	maxInboxSize    = 1000

	// EventsChannel is the pub/sub channel every ledger event is published on.
	EventsChannel = "a2a:events"
)

// RedisStore handles Redis operations for notifications, nonces and
// rate limiting.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a new Redis store.
func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}

	return &RedisStore{client: client}, nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Client exposes the underlying client for the rate limiter.
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// inboxKey returns the key for an agent's notification sorted set.
func inboxKey(agent models.Address) string {
	return fmt.Sprintf("notifications:%s", agent.Hex())
}

// Notify stores ev in the inbox of every agent in its audience and
// publishes it on EventsChannel.
func (s *RedisStore) Notify(ctx context.Context, ev models.Event) error {
	start := time.Now()
	defer func() { metrics.RedisLatency.Observe(time.Since(start).Seconds()) }()

	if ev.ID == "" {
		ev.ID = ulid.Make().String()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	id, err := ulid.Parse(ev.ID)
	if err != nil {
		return fmt.Errorf("event id: %w", err)
	}
	score := float64(id.Time())

	pipe := s.client.TxPipeline()
	for _, agent := range ev.Audience() {
		key := inboxKey(agent)
		pipe.ZAdd(ctx, key, redis.Z{Score: score, Member: string(data)})
		pipe.ZRemRangeByRank(ctx, key, 0, -maxInboxSize-1)
		pipe.Expire(ctx, key, notificationTTL)
	}
	pipe.Publish(ctx, EventsChannel, string(data))
	_, err = pipe.Exec(ctx)
	return err
}

// GetNotifications returns up to limit events for agent, newest first.
// When after is a ULID only strictly newer events are returned.
func (s *RedisStore) GetNotifications(ctx context.Context, agent models.Address, limit int, after string) ([]models.Event, error) {
	if limit <= 0 || limit > maxInboxSize {
		limit = 100
	}

	minScore := "-inf"
	if after != "" {
		id, err := ulid.Parse(after)
		if err != nil {
			return nil, fmt.Errorf("after: %w", err)
		}
		minScore = fmt.Sprintf("%d", id.Time())
	}

	results, err := s.client.ZRevRangeByScore(ctx, inboxKey(agent), &redis.ZRangeBy{
		Min:   minScore,
		Max:   "+inf",
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, err
	}

	events := make([]models.Event, 0, len(results))
	for _, data := range results {
		var ev models.Event
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			continue
		}
		// Scores have millisecond resolution; compare the full ULID.
		if after != "" && ev.ID <= after {
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

// nonceKey returns the key for nonce tracking.
func nonceKey(agent, nonce string) string {
	return fmt.Sprintf("nonce:%s:%s", agent, nonce)
}

// UseNonce records nonce for agent and reports whether it was fresh.
func (s *RedisStore) UseNonce(ctx context.Context, agent, nonce string, ttl time.Duration) (bool, error) {
	return s.client.SetNX(ctx, nonceKey(agent, nonce), "1", ttl).Result()
}
