package memorystore

import (
	"context"
	"sync"
	"time"

	jwtkit "github.com/PaulFidika/appleauth/jwt"
)

// KeySetCache keeps fetched key-set documents in process memory, one per
// source. It implements keyset.DocumentCache.
//
// Documents without keys are never stored: caching one would make every
// token fail until the entry expires.
type KeySetCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]cachedSet
	closed  chan struct{}
	once    sync.Once
}

type cachedSet struct {
	doc     *jwtkit.Document
	stored  time.Time
	expires time.Time
}

// NewKeySetCache creates a cache whose entries live for ttl (10 minutes when
// ttl <= 0). Expired entries are swept once a minute until Close.
func NewKeySetCache(ttl time.Duration) *KeySetCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	c := &KeySetCache{ttl: ttl, now: time.Now, entries: make(map[string]cachedSet), closed: make(chan struct{})}
	go c.sweepLoop()
	return c
}

// Put stores doc for source. An empty doc evicts whatever was cached instead.
func (c *KeySetCache) Put(_ context.Context, source string, doc *jwtkit.Document) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if doc == nil || len(doc.Keys) == 0 {
		delete(c.entries, source)
		return nil
	}
	now := c.now()
	c.entries[source] = cachedSet{doc: doc, stored: now, expires: now.Add(c.ttl)}
	return nil
}

func (c *KeySetCache) Get(_ context.Context, source string) (*jwtkit.Document, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[source]
	if !ok {
		return nil, false, nil
	}
	if !c.now().Before(e.expires) {
		delete(c.entries, source)
		return nil, false, nil
	}
	return e.doc, true, nil
}

func (c *KeySetCache) Del(_ context.Context, source string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, source)
	return nil
}

// Age reports how long ago the document for source was stored.
func (c *KeySetCache) Age(source string) (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[source]
	if !ok {
		return 0, false
	}
	return c.now().Sub(e.stored), true
}

func (c *KeySetCache) sweepLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.closed:
			return
		}
	}
}

func (c *KeySetCache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for k, e := range c.entries {
		if !now.Before(e.expires) {
			delete(c.entries, k)
		}
	}
}

// Close stops the sweeper. Safe to call more than once.
func (c *KeySetCache) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}
