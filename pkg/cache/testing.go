package cache

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// NewTestCache spins up an in-process miniredis server and returns a Cache
// backed by it, for components that exercise TTL and sorted-set behavior
// in unit tests without a real Redis instance.
func NewTestCache(t *testing.T) Cache {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewFromClient(client)
}
