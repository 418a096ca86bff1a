package course

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/p-n-ai/pai-course/internal/platform/cache"
)

// JSONCache is the subset of the Redis wrapper used by CachedStore.
type JSONCache interface {
	GetJSON(ctx context.Context, key string, dst any) error
	SetJSON(ctx context.Context, key string, v any, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// CachedStore keeps JSON copies of courses in Redis in front of a durable
// Store. Cache failures are logged and never fail a lookup.
type CachedStore struct {
	next  Store
	cache JSONCache
	ttl   time.Duration
}

// NewCachedStore wraps next with a read-through cache.
func NewCachedStore(next Store, c JSONCache, ttl time.Duration) *CachedStore {
	return &CachedStore{next: next, cache: c, ttl: ttl}
}

func topicKey(topic string) string { return "topic:" + NormalizeTopic(topic) }
func idKey(id string) string       { return "id:" + id }

func (s *CachedStore) FindByTopic(ctx context.Context, topic string) (*Course, error) {
	var c Course
	if s.lookup(ctx, topicKey(topic), &c) {
		return &c, nil
	}

	found, err := s.next.FindByTopic(ctx, topic)
	if err != nil {
		return nil, err
	}
	s.fill(ctx, found)
	return found, nil
}

func (s *CachedStore) Get(ctx context.Context, id string) (*Course, error) {
	var c Course
	if s.lookup(ctx, idKey(id), &c) {
		return &c, nil
	}

	found, err := s.next.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.fill(ctx, found)
	return found, nil
}

func (s *CachedStore) Save(ctx context.Context, c *Course) (*Course, error) {
	saved, err := s.next.Save(ctx, c)
	if errors.Is(err, ErrDuplicateTopic) {
		// Another writer owns the topic; a cached copy may predate it.
		if derr := s.cache.Delete(ctx, topicKey(c.Topic)); derr != nil {
			slog.Warn("course cache invalidate failed", "topic", c.Topic, "error", derr)
		}
	}
	if err != nil {
		return nil, err
	}
	s.fill(ctx, saved)
	return saved, nil
}

func (s *CachedStore) lookup(ctx context.Context, key string, dst *Course) bool {
	err := s.cache.GetJSON(ctx, key, dst)
	if err == nil {
		return true
	}
	if !errors.Is(err, cache.ErrMiss) {
		slog.Warn("course cache read failed", "key", key, "error", err)
	}
	return false
}

func (s *CachedStore) fill(ctx context.Context, c *Course) {
	for _, key := range []string{topicKey(c.Topic), idKey(c.ID)} {
		if err := s.cache.SetJSON(ctx, key, c, s.ttl); err != nil {
			slog.Warn("course cache write failed", "key", key, "error", err)
		}
	}
}
