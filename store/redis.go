package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/mdawes/phasetrack/engine"
)

const (
	redisKeyPrefix  = "phasetrack:phase:"
	redisLockPrefix = "phasetrack:lock:"

	defaultLockTTL      = 30 * time.Second
	defaultLockAttempts = 50
	defaultLockBackoff  = 100 * time.Millisecond
)

// releaseScript deletes the lock only if it still holds our token, so an
// expired lock taken over by another worker is never released by us.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// Redis stores each phase instance as a versioned JSON document and
// serializes Updates per key with a lock key (SET NX + token).
type Redis struct {
	client  redis.UniversalClient
	lockTTL time.Duration
}

// RedisOption configures a Redis store.
type RedisOption func(*Redis)

// WithLockTTL overrides the lock expiry. The TTL bounds how long a crashed
// worker can block a key.
func WithLockTTL(ttl time.Duration) RedisOption {
	return func(s *Redis) { s.lockTTL = ttl }
}

// NewRedis creates a store on an existing client.
func NewRedis(client redis.UniversalClient, opts ...RedisOption) *Redis {
	s := &Redis{
		client:  client,
		lockTTL: defaultLockTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Update acquires the key's lock, runs fn on the current document and writes
// the result back before releasing.
func (s *Redis) Update(ctx context.Context, key engine.PhaseKey, fn func(*engine.PhaseInstance) (*engine.PhaseInstance, error)) error {
	token, err := s.acquire(ctx, key)
	if err != nil {
		return err
	}
	defer s.release(context.WithoutCancel(ctx), key, token)

	cur, err := s.load(ctx, key)
	if err != nil && !IsNotFound(err) {
		return err
	}

	next, err := fn(cur)
	if err != nil {
		return err
	}
	if next == nil {
		return nil
	}

	next.UpdatedAt = time.Now()
	next.Version++
	data, err := EncodePhase(next)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, redisKeyPrefix+key.String(), data, 0).Err(); err != nil {
		return fmt.Errorf("saving phase %s: %w", key, err)
	}
	return nil
}

// Load returns the stored instance without locking.
func (s *Redis) Load(ctx context.Context, key engine.PhaseKey) (*engine.PhaseInstance, error) {
	return s.load(ctx, key)
}

// Keys scans for every persisted phase key.
func (s *Redis) Keys(ctx context.Context) ([]engine.PhaseKey, error) {
	var keys []engine.PhaseKey
	iter := s.client.Scan(ctx, 0, redisKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		data, err := s.client.Get(ctx, iter.Val()).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return nil, fmt.Errorf("scanning phases: %w", err)
		}
		phase, err := DecodePhase(data)
		if err != nil {
			return nil, err
		}
		keys = append(keys, phase.Key)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scanning phases: %w", err)
	}
	return keys, nil
}

func (s *Redis) load(ctx context.Context, key engine.PhaseKey) (*engine.PhaseInstance, error) {
	data, err := s.client.Get(ctx, redisKeyPrefix+key.String()).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, notFoundErr(key)
	}
	if err != nil {
		return nil, fmt.Errorf("loading phase %s: %w", key, err)
	}
	return DecodePhase(data)
}

// acquire takes the per-key lock, retrying with a fixed backoff until the
// context is cancelled or the attempt budget runs out.
func (s *Redis) acquire(ctx context.Context, key engine.PhaseKey) (string, error) {
	token := uuid.NewString()
	lockKey := redisLockPrefix + key.String()

	for attempt := 0; attempt < defaultLockAttempts; attempt++ {
		ok, err := s.client.SetNX(ctx, lockKey, token, s.lockTTL).Result()
		if err != nil {
			return "", fmt.Errorf("acquiring lock for %s: %w", key, err)
		}
		if ok {
			return token, nil
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(defaultLockBackoff):
		}
	}
	return "", fmt.Errorf("acquiring lock for %s: %w", key, engine.ErrConcurrencyConflict)
}

func (s *Redis) release(ctx context.Context, key engine.PhaseKey, token string) {
	// Best effort: an unreleased lock expires with its TTL.
	_ = releaseScript.Run(ctx, s.client, []string{redisLockPrefix + key.String()}, token).Err()
}
