// Package idempotency implements the typed compare-and-set cache (E8)
// used to deduplicate StartDispatch calls: key = (rider, fingerprint)
// or an explicit client key, value = the prior dispatch envelope, TTL
// one hour.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const DefaultTTL = time.Hour

// Envelope is whatever StartDispatch returned the first time; replays
// within the TTL get the same bytes back verbatim.
type Envelope = json.RawMessage

// Cache is a compare-and-set store: the first writer for a key wins,
// and a losing concurrent writer reads the winner's value back instead
// of overwriting it.
type Cache interface {
	// Put stores value under key if and only if key is absent, and
	// returns the value now stored under key (either the caller's own
	// value, or the winner's if another writer beat it).
	Put(ctx context.Context, key string, value Envelope, ttl time.Duration) (Envelope, error)
}

// Fingerprint derives the default idempotency key from a rider and
// request shape when the client supplies no explicit key.
func Fingerprint(riderID, pickup, destination, vehicleType string) string {
	h := sha256.Sum256([]byte(riderID + "|" + pickup + "|" + destination + "|" + vehicleType))
	return hex.EncodeToString(h[:])
}

// RedisCache implements Cache with SET key value NX EX ttl.
type RedisCache struct {
	client *redis.Client
	prefix string
}

func NewRedisCache(client *redis.Client, prefix string) *RedisCache {
	return &RedisCache{client: client, prefix: prefix}
}

func (c *RedisCache) Put(ctx context.Context, key string, value Envelope, ttl time.Duration) (Envelope, error) {
	fullKey := c.prefix + key
	ok, err := c.client.SetNX(ctx, fullKey, []byte(value), ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("idempotency put: %w", err)
	}
	if ok {
		return value, nil
	}
	existing, err := c.client.Get(ctx, fullKey).Bytes()
	if err != nil {
		return nil, fmt.Errorf("idempotency read winner: %w", err)
	}
	return Envelope(existing), nil
}

type memEntry struct {
	value   Envelope
	expires time.Time
}

// MemoryCache is an in-process Cache for local runs and tests.
type MemoryCache struct {
	mu    sync.Mutex
	store map[string]memEntry
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{store: make(map[string]memEntry)}
}

func (c *MemoryCache) Put(_ context.Context, key string, value Envelope, ttl time.Duration) (Envelope, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.store[key]; ok && time.Now().Before(e.expires) {
		return e.value, nil
	}
	c.store[key] = memEntry{value: value, expires: time.Now().Add(ttl)}
	return value, nil
}
