// Package store wraps a Redis connection with the coordination-store
// primitives the rest of the orchestration plane is built on: typed
// KV/TTL, sets, lists, atomic claims, and pub/sub, each with a bounded
// retry so transient transport errors don't propagate as hard failures.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/rohanbojja/ottobot-orchestrator/pkg/orcherrors"
)

// Config holds Redis connection configuration.
type Config struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// Store is a typed wrapper around a single *redis.Client, injected into
// every other component instead of held as a package global.
type Store struct {
	client *redis.Client
	logger zerolog.Logger
}

// NewClient dials Redis and verifies the connection with a Ping.
func NewClient(ctx context.Context, cfg Config, logger zerolog.Logger) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, orcherrors.Wrap(orcherrors.StoreError, "ping redis", err)
	}

	logger.Info().
		Str("addr", fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)).
		Int("db", cfg.DB).
		Msg("store connected")

	return &Store{client: client, logger: logger}, nil
}

// Close closes the underlying Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}

// Client returns the underlying redis.Client for callers that need a
// primitive this wrapper doesn't expose (e.g. pipelining).
func (s *Store) Client() *redis.Client {
	return s.client
}

// retry runs fn with exponential backoff capped at 2s, per the adapter
// contract: a miss (redis.Nil) returns immediately; every other error,
// transport or not, is retried up to maxAttempts.
func (s *Store) retry(ctx context.Context, op string, fn func() error) error {
	backoff := 100 * time.Millisecond
	const maxBackoff = 2 * time.Second
	const maxAttempts = 5

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if errors.Is(err, redis.Nil) {
			// Not-found is a normal outcome for Get/TTL, never retried.
			return err
		}
		lastErr = err

		if attempt == maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return orcherrors.Wrap(orcherrors.StoreError, op, ctx.Err())
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
	return orcherrors.Wrap(orcherrors.StoreError, op, lastErr)
}

// Get returns the value at key, or redis.Nil wrapped as a plain error
// when absent — callers use errors.Is(err, redis.Nil) to detect a miss.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	var val string
	err := s.retry(ctx, "get "+key, func() error {
		var e error
		val, e = s.client.Get(ctx, key).Result()
		return e
	})
	if errors.Is(err, redis.Nil) {
		return "", err
	}
	return val, err
}

// Set stores value at key with no expiry.
func (s *Store) Set(ctx context.Context, key, value string) error {
	return s.retry(ctx, "set "+key, func() error {
		return s.client.Set(ctx, key, value, 0).Err()
	})
}

// SetEX stores value at key with the given TTL.
func (s *Store) SetEX(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.retry(ctx, "setex "+key, func() error {
		return s.client.Set(ctx, key, value, ttl).Err()
	})
}

// Del removes key. Idempotent: deleting an absent key is not an error.
func (s *Store) Del(ctx context.Context, key string) error {
	return s.retry(ctx, "del "+key, func() error {
		return s.client.Del(ctx, key).Err()
	})
}

// Incr atomically increments key and returns the new value.
func (s *Store) Incr(ctx context.Context, key string) (int64, error) {
	var val int64
	err := s.retry(ctx, "incr "+key, func() error {
		var e error
		val, e = s.client.Incr(ctx, key).Result()
		return e
	})
	return val, err
}

// TTL returns the remaining time-to-live on key. A negative duration
// means the key has no expiry (-1) or doesn't exist (-2), per Redis.
func (s *Store) TTL(ctx context.Context, key string) (time.Duration, error) {
	var val time.Duration
	err := s.retry(ctx, "ttl "+key, func() error {
		var e error
		val, e = s.client.TTL(ctx, key).Result()
		return e
	})
	return val, err
}

// Expire sets (or refreshes) the TTL on an existing key without
// touching its value — used to re-synchronize an ancillary stream's
// TTL to its owning record's residual TTL on every append.
func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return s.retry(ctx, "expire "+key, func() error {
		return s.client.Expire(ctx, key, ttl).Err()
	})
}

// SAdd adds members to the set at key.
func (s *Store) SAdd(ctx context.Context, key string, members ...string) error {
	return s.retry(ctx, "sadd "+key, func() error {
		args := make([]interface{}, len(members))
		for i, m := range members {
			args[i] = m
		}
		return s.client.SAdd(ctx, key, args...).Err()
	})
}

// SRem removes members from the set at key.
func (s *Store) SRem(ctx context.Context, key string, members ...string) error {
	return s.retry(ctx, "srem "+key, func() error {
		args := make([]interface{}, len(members))
		for i, m := range members {
			args[i] = m
		}
		return s.client.SRem(ctx, key, args...).Err()
	})
}

// SMembers returns all members of the set at key.
func (s *Store) SMembers(ctx context.Context, key string) ([]string, error) {
	var val []string
	err := s.retry(ctx, "smembers "+key, func() error {
		var e error
		val, e = s.client.SMembers(ctx, key).Result()
		return e
	})
	return val, err
}

// SCard returns the cardinality of the set at key.
func (s *Store) SCard(ctx context.Context, key string) (int64, error) {
	var val int64
	err := s.retry(ctx, "scard "+key, func() error {
		var e error
		val, e = s.client.SCard(ctx, key).Result()
		return e
	})
	return val, err
}

// RPush appends values to the list at key.
func (s *Store) RPush(ctx context.Context, key string, values ...string) error {
	return s.retry(ctx, "rpush "+key, func() error {
		args := make([]interface{}, len(values))
		for i, v := range values {
			args[i] = v
		}
		return s.client.RPush(ctx, key, args...).Err()
	})
}

// LRange returns elements of the list at key within [start, stop].
func (s *Store) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	var val []string
	err := s.retry(ctx, "lrange "+key, func() error {
		var e error
		val, e = s.client.LRange(ctx, key, start, stop).Result()
		return e
	})
	return val, err
}

// LTrim trims the list at key to the range [start, stop].
func (s *Store) LTrim(ctx context.Context, key string, start, stop int64) error {
	return s.retry(ctx, "ltrim "+key, func() error {
		return s.client.LTrim(ctx, key, start, stop).Err()
	})
}

// SetNX atomically creates key with value if absent. Returns true
// exactly once per key — the caller that wins the race gets true.
func (s *Store) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	var ok bool
	err := s.retry(ctx, "setnx "+key, func() error {
		var e error
		ok, e = s.client.SetNX(ctx, key, value, ttl).Result()
		return e
	})
	return ok, err
}

// Keys returns all keys matching pattern. Bounded use only — reapers,
// never hot paths — per the adapter contract.
func (s *Store) Keys(ctx context.Context, pattern string) ([]string, error) {
	var val []string
	err := s.retry(ctx, "keys "+pattern, func() error {
		var e error
		val, e = s.client.Keys(ctx, pattern).Result()
		return e
	})
	return val, err
}

// Publish publishes payload on channel. Transport errors surface as
// PublishError rather than StoreError, per spec §4.4's failure mode.
func (s *Store) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := s.client.Publish(ctx, channel, payload).Err(); err != nil {
		return orcherrors.Wrap(orcherrors.PublishError, "publish "+channel, err)
	}
	return nil
}

// Subscription wraps a Redis pub/sub subscription on a single channel.
type Subscription struct {
	ps *redis.PubSub
	ch chan []byte
}

// Bytes returns the channel of incoming message payloads.
func (sub *Subscription) Bytes() <-chan []byte {
	return sub.ch
}

// Close unsubscribes and releases the underlying connection. The byte
// channel is closed by the relay goroutine once the Redis channel
// drains, never here, so a concurrent send can never hit a closed
// channel.
func (sub *Subscription) Close() error {
	return sub.ps.Close()
}

// Subscribe opens a subscription to channel and relays message payloads
// onto a buffered byte channel until Close is called.
func (s *Store) Subscribe(ctx context.Context, channel string) *Subscription {
	ps := s.client.Subscribe(ctx, channel)
	sub := &Subscription{ps: ps, ch: make(chan []byte, 64)}

	go func() {
		defer close(sub.ch)
		redisCh := ps.Channel()
		for {
			select {
			case msg, ok := <-redisCh:
				if !ok {
					return
				}
				select {
				case sub.ch <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	return sub
}
