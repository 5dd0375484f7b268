package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	jwtkit "github.com/PaulFidika/appleauth/jwt"
	"github.com/redis/go-redis/v9"
)

// KeySetCache stores fetched key-set documents in Redis so that several
// processes share one fetch per TTL.
type KeySetCache struct {
	rdb   *redis.Client
	keyNS string
	ttl   time.Duration
}

// NewKeySetCache creates a Redis-backed key-set cache.
func NewKeySetCache(rdb *redis.Client, keyPrefix string, ttl time.Duration) *KeySetCache {
	if keyPrefix == "" {
		keyPrefix = "auth:appleid:jwks:"
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &KeySetCache{rdb: rdb, keyNS: keyPrefix, ttl: ttl}
}

var errNoClient = errors.New("redisstore: nil redis client")

func (c *KeySetCache) key(source string) string { return c.keyNS + source }

// Put stores a document in Redis. A document without keys evicts the entry
// instead, so one bad response cannot be shared across processes for a TTL.
func (c *KeySetCache) Put(ctx context.Context, source string, doc *jwtkit.Document) error {
	if c.rdb == nil {
		return errNoClient
	}
	if doc == nil || len(doc.Keys) == 0 {
		return c.rdb.Del(ctx, c.key(source)).Err()
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, c.key(source), b, c.ttl).Err()
}

// Get retrieves a document from Redis.
func (c *KeySetCache) Get(ctx context.Context, source string) (*jwtkit.Document, bool, error) {
	if c.rdb == nil {
		return nil, false, errNoClient
	}
	val, err := c.rdb.Get(ctx, c.key(source)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	doc, err := jwtkit.ParseDocument(val)
	if err != nil {
		return nil, false, err
	}
	return doc, true, nil
}

// Del removes a document from Redis.
func (c *KeySetCache) Del(ctx context.Context, source string) error {
	if c.rdb == nil {
		return errNoClient
	}
	return c.rdb.Del(ctx, c.key(source)).Err()
}
