package api

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"prism-board/domain"
)

const (
	idempotencyKeyPrefix = "idem"
	pendingMarker        = "pending"
	// pendingTTL releases a claim whose request never finished, for example
	// when the instance died mid-commit.
	pendingTTL = time.Minute
)

// ErrRequestInFlight is returned by Begin while another request holds the key.
var ErrRequestInFlight = errors.New("a request with this idempotency key is still in progress")

// RedisIdempotency stores completed results in Redis so every instance can
// replay them.
type RedisIdempotency struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisIdempotency keeps results for ttl.
func NewRedisIdempotency(client *redis.Client, ttl time.Duration) *RedisIdempotency {
	return &RedisIdempotency{client: client, ttl: ttl}
}

func (r *RedisIdempotency) key(scope, key string) string {
	return fmt.Sprintf("%s:%s:%s", idempotencyKeyPrefix, scope, key)
}

// Begin claims key with a pending marker, or returns the stored result.
func (r *RedisIdempotency) Begin(ctx context.Context, scope, key string) (domain.Result, bool, error) {
	k := r.key(scope, key)
	added, err := r.client.SetNX(ctx, k, pendingMarker, pendingTTL).Result()
	if err != nil {
		return domain.Result{}, false, err
	}
	if added {
		return domain.Result{}, false, nil
	}
	raw, err := r.client.Get(ctx, k).Result()
	if errors.Is(err, redis.Nil) {
		// claim expired between the two calls
		return domain.Result{}, false, ErrRequestInFlight
	}
	if err != nil {
		return domain.Result{}, false, err
	}
	if raw == pendingMarker {
		return domain.Result{}, false, ErrRequestInFlight
	}
	var res domain.Result
	if err := sonic.UnmarshalString(raw, &res); err != nil {
		return domain.Result{}, false, fmt.Errorf("decode stored result: %w", err)
	}
	return res, true, nil
}

// Finish stores a committed result. Failed requests release the key so the
// client can try again.
func (r *RedisIdempotency) Finish(ctx context.Context, scope, key string, res domain.Result) error {
	k := r.key(scope, key)
	if !res.OK {
		return r.client.Del(ctx, k).Err()
	}
	data, err := sonic.MarshalString(res)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, k, data, r.ttl).Err()
}
