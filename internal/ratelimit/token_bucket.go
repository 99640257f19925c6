// Package ratelimit throttles render requests per client with a token bucket
// kept in Redis, so every API replica draws from the same allowance.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	DefaultKeyPrefix = "kirkproxy:renders"
	anonymousSubject = "anonymous"
)

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed   bool
	Remaining int64
	// RetryAfter is zero when Allowed; otherwise the wait for the next token.
	RetryAfter time.Duration
	// ResetAfter is the time until the bucket is full again.
	ResetAfter time.Duration
}

type Options struct {
	// Capacity renders may burst at once; the same number refills per Window.
	Capacity  int
	Window    time.Duration
	KeyPrefix string
}

// Each bucket is a hash {level, at_ms}. The script refills it for the time
// elapsed since at_ms, takes one render token when it can, and replies
// {allowed, level, retry_ms, full_ms}.
var takeRenderToken = redis.NewScript(`
local capacity = tonumber(ARGV[1])
local per_ms = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

local state = redis.call("HMGET", KEYS[1], "level", "at_ms")
local level = tonumber(state[1]) or capacity
local at = tonumber(state[2]) or now
level = math.min(capacity, level + math.max(0, now - at) * per_ms)

local allowed, retry_ms = 0, 0
if level >= 1 then
  allowed = 1
  level = level - 1
else
  retry_ms = math.ceil((1 - level) / per_ms)
end

redis.call("HSET", KEYS[1], "level", level, "at_ms", now)
redis.call("PEXPIRE", KEYS[1], ARGV[4])
return {allowed, math.floor(level), retry_ms, math.ceil((capacity - level) / per_ms)}
`)

// RedisTokenBucket hands out render tokens per subject. Tokens refill
// continuously so that Capacity of them become available over one Window.
type RedisTokenBucket struct {
	client    redis.UniversalClient
	capacity  int64
	perMS     float64
	idleTTL   time.Duration
	keyPrefix string
	now       func() time.Time
}

func NewRedisTokenBucket(client redis.UniversalClient, opts Options) (*RedisTokenBucket, error) {
	switch {
	case client == nil:
		return nil, errors.New("ratelimit: redis client is required")
	case opts.Capacity <= 0:
		return nil, fmt.Errorf("ratelimit: capacity %d must be positive", opts.Capacity)
	case opts.Window <= 0:
		return nil, fmt.Errorf("ratelimit: window %s must be positive", opts.Window)
	}

	prefix := strings.TrimSpace(opts.KeyPrefix)
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}

	return &RedisTokenBucket{
		client:    client,
		capacity:  int64(opts.Capacity),
		perMS:     float64(opts.Capacity) / float64(max(1, opts.Window.Milliseconds())),
		idleTTL:   2 * opts.Window,
		keyPrefix: prefix,
		now:       time.Now,
	}, nil
}

func (b *RedisTokenBucket) Close() error {
	return b.client.Close()
}

func (b *RedisTokenBucket) key(subject string) string {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		subject = anonymousSubject
	}
	return b.keyPrefix + ":" + subject
}

// Allow takes one render token for subject. Empty subjects share one bucket.
func (b *RedisTokenBucket) Allow(ctx context.Context, subject string) (Decision, error) {
	reply, err := takeRenderToken.Run(ctx, b.client,
		[]string{b.key(subject)},
		b.capacity, b.perMS, b.now().UnixMilli(), b.idleTTL.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("take render token: %w", err)
	}
	return decisionFromReply(reply)
}

func decisionFromReply(reply []int64) (Decision, error) {
	if len(reply) != 4 {
		return Decision{}, fmt.Errorf("take render token: want 4 values, got %d", len(reply))
	}
	return Decision{
		Allowed:    reply[0] == 1,
		Remaining:  reply[1],
		RetryAfter: time.Duration(reply[2]) * time.Millisecond,
		ResetAfter: time.Duration(reply[3]) * time.Millisecond,
	}, nil
}
