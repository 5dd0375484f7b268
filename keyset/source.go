package keyset

import (
	"context"
	"errors"
	"fmt"

	jwtkit "github.com/PaulFidika/appleauth/jwt"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// DocumentCache stores fetched key-set documents under a key (usually the source URL).
// Implementations must be safe for concurrent use.
type DocumentCache interface {
	Get(ctx context.Context, key string) (*jwtkit.Document, bool, error)
	Put(ctx context.Context, key string, doc *jwtkit.Document) error
	Del(ctx context.Context, key string) error
}

// Source hands out key-set documents, consulting an optional cache first.
// Concurrent misses for the same source share a single fetch.
type Source struct {
	fetcher Fetcher
	cache   DocumentCache
	key     string
	log     logrus.FieldLogger
	group   singleflight.Group
}

// SourceOpt configures a Source.
type SourceOpt func(*Source)

// WithCache stores fetched documents in c under key.
func WithCache(c DocumentCache, key string) SourceOpt {
	return func(s *Source) {
		s.cache = c
		if key != "" {
			s.key = key
		}
	}
}

// WithLogger sets the logger used for fetch and cache diagnostics.
func WithLogger(l logrus.FieldLogger) SourceOpt {
	return func(s *Source) {
		if l != nil {
			s.log = l
		}
	}
}

// NewSource wraps f. Without WithCache every call fetches.
func NewSource(f Fetcher, opts ...SourceOpt) *Source {
	s := &Source{fetcher: f, key: "default", log: logrus.StandardLogger()}
	if hf, ok := f.(*HTTPFetcher); ok && hf.URL != "" {
		s.key = hf.URL
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// KeySet returns the cached document or fetches a fresh one.
func (s *Source) KeySet(ctx context.Context) (*jwtkit.Document, error) {
	if s.cache != nil {
		doc, ok, err := s.cache.Get(ctx, s.key)
		if err != nil {
			// A broken cache degrades to fetching.
			s.log.WithError(err).WithField("source", s.key).Warn("keyset cache read failed")
		} else if ok {
			return doc, nil
		}
	}
	return s.fetch(ctx)
}

// Refresh drops any cached document and fetches a new one.
func (s *Source) Refresh(ctx context.Context) (*jwtkit.Document, error) {
	if s.cache != nil {
		if err := s.cache.Del(ctx, s.key); err != nil {
			s.log.WithError(err).WithField("source", s.key).Warn("keyset cache delete failed")
		}
	}
	return s.fetch(ctx)
}

func (s *Source) fetch(ctx context.Context) (*jwtkit.Document, error) {
	if s.fetcher == nil {
		return nil, errors.New("keyset: no fetcher configured")
	}
	v, err, shared := s.group.Do(s.key, func() (any, error) {
		doc, err := s.fetcher.Fetch(ctx)
		if err != nil {
			return nil, err
		}
		// A set without keys would pin every Decode to failure for a whole TTL.
		if doc == nil || len(doc.Keys) == 0 {
			return nil, fmt.Errorf("%w: %s returned no keys", ErrKeySetMalformed, s.key)
		}
		if s.cache != nil {
			if err := s.cache.Put(ctx, s.key, doc); err != nil {
				s.log.WithError(err).WithField("source", s.key).Warn("keyset cache write failed")
			}
		}
		return doc, nil
	})
	if err != nil {
		s.log.WithError(err).WithField("source", s.key).Debug("keyset fetch failed")
		return nil, err
	}
	s.log.WithFields(logrus.Fields{"source": s.key, "shared": shared}).Debug("keyset fetched")
	return v.(*jwtkit.Document), nil
}
