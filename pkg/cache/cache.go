// Package cache is the shared key-value persistence seam used by
// DocumentStore, SessionStore and AIQueue. It plays the role the teacher's
// pkg/database played for SQLite, but backed by Redis so every write
// naturally carries a TTL — the only kind of persistence spec.md's
// Non-goals allow ("in-memory + short-TTL key-value cache").
package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// ScoredMember is one element of a sorted set, used by the AI queue's
// priority ordering (ai:queue:pending).
type ScoredMember struct {
	Member string
	Score  float64
}

// Cache is the capability every component depends on. It is satisfied by
// *Redis (production) and by the miniredis-backed instance tests construct
// via NewTestCache.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	Expire(ctx context.Context, key string, ttl time.Duration) error
	Exists(ctx context.Context, key string) (bool, error)
	Incr(ctx context.Context, key string) (int64, error)

	// Sorted set operations back the AI request priority queue.
	ZAdd(ctx context.Context, key string, score float64, member string) error
	ZPopMin(ctx context.Context, key string) (ScoredMember, bool, error)
	ZRem(ctx context.Context, key string, member string) error
	ZCard(ctx context.Context, key string) (int64, error)

	// Hash operations back ai:queue:processing and the pending-body side
	// table (ai:queue:pending:body).
	HSet(ctx context.Context, key string, fields map[string]string) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HDel(ctx context.Context, key string, fields ...string) error

	Close() error
}

// ErrNotFound is returned by Get when the key does not exist, mirroring
// the teacher's database.Load nil-means-absent convention but as an error
// so callers can use errors.Is uniformly with other cache failures.
var ErrNotFound = redis.Nil

// Redis is the production Cache implementation.
type Redis struct {
	client *redis.Client
}

// New connects to Redis at addr (host:port) using the given database index
// and optional password.
func New(addr, password string, db int) *Redis {
	return &Redis{client: redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})}
}

// NewFromClient wraps an already-constructed *redis.Client, used by tests
// that point at a miniredis instance.
func NewFromClient(client *redis.Client) *Redis {
	return &Redis{client: client}
}

func (r *Redis) Get(ctx context.Context, key string) (string, error) {
	return r.client.Get(ctx, key).Result()
}

func (r *Redis) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

func (r *Redis) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return r.client.Del(ctx, keys...).Err()
}

func (r *Redis) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return r.client.Expire(ctx, key, ttl).Err()
}

func (r *Redis) Exists(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *Redis) Incr(ctx context.Context, key string) (int64, error) {
	return r.client.Incr(ctx, key).Result()
}

func (r *Redis) ZAdd(ctx context.Context, key string, score float64, member string) error {
	return r.client.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err()
}

func (r *Redis) ZPopMin(ctx context.Context, key string) (ScoredMember, bool, error) {
	zs, err := r.client.ZPopMin(ctx, key, 1).Result()
	if err != nil {
		return ScoredMember{}, false, err
	}
	if len(zs) == 0 {
		return ScoredMember{}, false, nil
	}
	member, _ := zs[0].Member.(string)
	return ScoredMember{Member: member, Score: zs[0].Score}, true, nil
}

func (r *Redis) ZRem(ctx context.Context, key string, member string) error {
	return r.client.ZRem(ctx, key, member).Err()
}

func (r *Redis) ZCard(ctx context.Context, key string) (int64, error) {
	return r.client.ZCard(ctx, key).Result()
}

func (r *Redis) HSet(ctx context.Context, key string, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}
	values := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		values = append(values, k, v)
	}
	return r.client.HSet(ctx, key, values...).Err()
}

func (r *Redis) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return r.client.HGetAll(ctx, key).Result()
}

func (r *Redis) HDel(ctx context.Context, key string, fields ...string) error {
	if len(fields) == 0 {
		return nil
	}
	return r.client.HDel(ctx, key, fields...).Err()
}

func (r *Redis) Close() error {
	return r.client.Close()
}
