package database

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"trade-signal-sim/internal/events"
)

const (
	// EventStreamPrefix is the stream key prefix.
	// Format: sim:events:{runID}:{instrument}
	EventStreamPrefix = "sim:events"

	// EventStreamTTL bounds how long exported runs stay in Redis
	EventStreamTTL = 7 * 24 * time.Hour
)

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Addr     string `json:"addr" yaml:"addr"`
	Password string `json:"password" yaml:"password"`
	DB       int    `json:"db" yaml:"db"`
}

// NewRedisClient builds a client from config, nil when disabled
func NewRedisClient(cfg RedisConfig) *redis.Client {
	if !cfg.Enabled || cfg.Addr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// RedisEventStream exports trade events to one Redis stream per
// run/instrument. When Redis is unavailable it keeps the events in memory so
// readers still see them.
type RedisEventStream struct {
	client         *redis.Client
	inMemory       map[string][]events.TradeEvent
	cacheMu        sync.RWMutex
	redisAvailable atomic.Bool
	logger         zerolog.Logger
}

var _ events.Sink = (*RedisEventStream)(nil)

// NewRedisEventStream creates a stream sink. A nil client runs memory-only.
func NewRedisEventStream(ctx context.Context, client *redis.Client, logger zerolog.Logger) *RedisEventStream {
	s := &RedisEventStream{
		client:   client,
		inMemory: make(map[string][]events.TradeEvent),
		logger:   logger.With().Str("component", "redis_event_stream").Logger(),
	}

	if client == nil {
		s.logger.Info().Msg("No Redis client provided, using in-memory event store only")
		return s
	}

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		s.logger.Warn().Err(err).Msg("Redis unavailable at startup, using in-memory event store")
	} else {
		s.logger.Info().Msg("Redis connected")
		s.redisAvailable.Store(true)
	}
	return s
}

// StreamKey returns the stream a run/instrument pair is written to
func StreamKey(runID, instrument string) string {
	return fmt.Sprintf("%s:%s:%s", EventStreamPrefix, runID, instrument)
}

// Name implements events.Sink
func (s *RedisEventStream) Name() string { return "redis" }

// Write implements events.Sink. The stream is replaced, not appended to.
func (s *RedisEventStream) Write(ctx context.Context, runID string, evs []events.TradeEvent) error {
	if len(evs) == 0 {
		return nil
	}
	key := StreamKey(runID, evs[0].Instrument)

	s.cacheMu.Lock()
	s.inMemory[key] = append([]events.TradeEvent(nil), evs...)
	s.cacheMu.Unlock()

	if s.client == nil || !s.redisAvailable.Load() {
		return nil
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	for _, ev := range evs {
		data, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("failed to marshal event %d: %w", ev.Seq, err)
		}
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: key,
			Values: map[string]interface{}{
				"seq":   ev.Seq,
				"kind":  string(ev.Kind),
				"event": string(data),
			},
		})
	}
	pipe.Expire(ctx, key, EventStreamTTL)

	if _, err := pipe.Exec(ctx); err != nil {
		s.logger.Warn().Err(err).Str("stream", key).Msg("Failed to write to Redis, keeping events in memory")
		s.redisAvailable.Store(false)
		return nil
	}
	s.logger.Debug().Str("stream", key).Int("events", len(evs)).Msg("Events streamed")
	return nil
}

// Read returns the events of a run/instrument pair, from Redis when
// available and from memory otherwise
func (s *RedisEventStream) Read(ctx context.Context, runID, instrument string) ([]events.TradeEvent, error) {
	key := StreamKey(runID, instrument)

	if s.client != nil && s.redisAvailable.Load() {
		msgs, err := s.client.XRange(ctx, key, "-", "+").Result()
		if err == nil && len(msgs) > 0 {
			out := make([]events.TradeEvent, 0, len(msgs))
			for _, msg := range msgs {
				raw, ok := msg.Values["event"].(string)
				if !ok {
					return nil, fmt.Errorf("stream entry %s has no event payload", msg.ID)
				}
				var ev events.TradeEvent
				if err := json.Unmarshal([]byte(raw), &ev); err != nil {
					return nil, fmt.Errorf("failed to decode stream entry %s: %w", msg.ID, err)
				}
				out = append(out, ev)
			}
			return out, nil
		}
		if err != nil && err != redis.Nil {
			s.logger.Warn().Err(err).Msg("Redis read error, using in-memory event store")
			s.redisAvailable.Store(false)
		}
	}

	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	return append([]events.TradeEvent(nil), s.inMemory[key]...), nil
}

// IsRedisAvailable reports whether writes currently reach Redis
func (s *RedisEventStream) IsRedisAvailable() bool {
	return s.redisAvailable.Load()
}

// CheckRedisConnection pings Redis and updates availability
func (s *RedisEventStream) CheckRedisConnection(ctx context.Context) error {
	if s.client == nil {
		return fmt.Errorf("no Redis client configured")
	}
	if err := s.client.Ping(ctx).Err(); err != nil {
		s.redisAvailable.Store(false)
		return fmt.Errorf("redis ping failed: %w", err)
	}
	if !s.redisAvailable.Swap(true) {
		s.logger.Info().Msg("Redis connection recovered")
	}
	return nil
}
