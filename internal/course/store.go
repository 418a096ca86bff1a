package course

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store persists courses keyed by normalized topic.
type Store interface {
	// FindByTopic returns the course whose normalized topic equals
	// NormalizeTopic(topic), or ErrNotFound.
	FindByTopic(ctx context.Context, topic string) (*Course, error)
	// Get returns a course by id, or ErrNotFound.
	Get(ctx context.Context, id string) (*Course, error)
	// Save writes c atomically, assigning ID and CreatedAt when unset. It
	// returns ErrDuplicateTopic when the topic is already taken.
	Save(ctx context.Context, c *Course) (*Course, error)
}

// MemoryStore is an in-memory Store.
type MemoryStore struct {
	byTopic map[string]*Course
	byID    map[string]*Course
	mu      sync.RWMutex
}

// NewMemoryStore creates an empty in-memory course store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byTopic: make(map[string]*Course),
		byID:    make(map[string]*Course),
	}
}

func (s *MemoryStore) FindByTopic(_ context.Context, topic string) (*Course, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.byTopic[NormalizeTopic(topic)]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(c), nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Course, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(c), nil
}

func (s *MemoryStore) Save(_ context.Context, c *Course) (*Course, error) {
	key := NormalizeTopic(c.Topic)
	if key == "" {
		return nil, ErrEmptyTopic
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byTopic[key]; exists {
		return nil, ErrDuplicateTopic
	}

	stored := clone(c)
	prepare(stored)
	s.byTopic[key] = stored
	s.byID[stored.ID] = stored
	return clone(stored), nil
}

// Len returns the number of stored courses.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

func prepare(c *Course) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
}

func clone(c *Course) *Course {
	out := *c
	out.Lessons = make([]Lesson, len(c.Lessons))
	for i, l := range c.Lessons {
		l.Quiz = cloneQuiz(l.Quiz)
		out.Lessons[i] = l
	}
	out.FinalQuiz = cloneQuiz(c.FinalQuiz)
	return &out
}

func cloneQuiz(qs []QuizQuestion) []QuizQuestion {
	if qs == nil {
		return nil
	}
	out := make([]QuizQuestion, len(qs))
	for i, q := range qs {
		q.Options = append([]string(nil), q.Options...)
		out[i] = q
	}
	return out
}
