package course_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/p-n-ai/pai-course/internal/course"
	"github.com/p-n-ai/pai-course/internal/platform/cache"
	"github.com/p-n-ai/pai-course/internal/platform/database/dbtest"
)

func sampleCourse(topic string) *course.Course {
	return &course.Course{
		Topic: topic,
		Title: course.Title(topic),
		Lessons: []course.Lesson{{
			ID:       "lesson-1",
			Title:    "Basics",
			VideoID:  "abc123",
			VideoURL: course.EmbedURL("abc123"),
			Notes:    "# Basics",
			Quiz: []course.QuizQuestion{{
				Question:           "What?",
				Options:            []string{"a", "b", "c", "d"},
				CorrectAnswerIndex: 1,
			}},
		}},
		FinalQuiz: []course.QuizQuestion{{
			Question:           "Final?",
			Options:            []string{"w", "x", "y", "z"},
			CorrectAnswerIndex: 2,
		}},
	}
}

// runStoreContract exercises behaviour every Store must share.
func runStoreContract(t *testing.T, store course.Store) {
	ctx := context.Background()

	t.Run("miss", func(t *testing.T) {
		if _, err := store.FindByTopic(ctx, "Never Generated"); !errors.Is(err, course.ErrNotFound) {
			t.Fatalf("FindByTopic() error = %v, want ErrNotFound", err)
		}
	})

	t.Run("save assigns identity", func(t *testing.T) {
		saved, err := store.Save(ctx, sampleCourse("Go Channels"))
		if err != nil {
			t.Fatalf("Save() error = %v", err)
		}
		if saved.ID == "" {
			t.Error("Save() should assign an ID")
		}
		if saved.CreatedAt.IsZero() {
			t.Error("Save() should set CreatedAt")
		}

		got, err := store.Get(ctx, saved.ID)
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if got.Title != "Go Channels - Complete Course" {
			t.Errorf("Title = %q", got.Title)
		}
		if len(got.Lessons) != 1 || got.Lessons[0].Quiz[0].CorrectAnswerIndex != 1 {
			t.Errorf("Lessons = %+v", got.Lessons)
		}
		if len(got.FinalQuiz) != 1 || got.FinalQuiz[0].CorrectAnswerIndex != 2 {
			t.Errorf("FinalQuiz = %+v", got.FinalQuiz)
		}
	})

	t.Run("lookup ignores case and spacing", func(t *testing.T) {
		got, err := store.FindByTopic(ctx, "  go   CHANNELS ")
		if err != nil {
			t.Fatalf("FindByTopic() error = %v", err)
		}
		if got.Topic != "Go Channels" {
			t.Errorf("Topic = %q, want Go Channels", got.Topic)
		}
	})

	t.Run("no prefix match", func(t *testing.T) {
		if _, err := store.FindByTopic(ctx, "Go"); !errors.Is(err, course.ErrNotFound) {
			t.Fatalf("FindByTopic(Go) error = %v, want ErrNotFound", err)
		}
	})

	t.Run("duplicate topic rejected", func(t *testing.T) {
		if _, err := store.Save(ctx, sampleCourse("GO CHANNELS")); !errors.Is(err, course.ErrDuplicateTopic) {
			t.Fatalf("Save() error = %v, want ErrDuplicateTopic", err)
		}
	})

	t.Run("concurrent writers", func(t *testing.T) {
		var wg sync.WaitGroup
		var ok, dup atomic.Int32
		for range 8 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := store.Save(ctx, sampleCourse("Kubernetes"))
				switch {
				case err == nil:
					ok.Add(1)
				case errors.Is(err, course.ErrDuplicateTopic):
					dup.Add(1)
				default:
					t.Errorf("Save() unexpected error = %v", err)
				}
			}()
		}
		wg.Wait()
		if ok.Load() != 1 || dup.Load() != 7 {
			t.Errorf("ok = %d, dup = %d; want 1 and 7", ok.Load(), dup.Load())
		}
	})

	t.Run("unknown id", func(t *testing.T) {
		if _, err := store.Get(ctx, "00000000-0000-0000-0000-000000000000"); !errors.Is(err, course.ErrNotFound) {
			t.Fatalf("Get() error = %v, want ErrNotFound", err)
		}
	})
}

func TestMemoryStore(t *testing.T) {
	runStoreContract(t, course.NewMemoryStore())
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	store := course.NewMemoryStore()
	saved, err := store.Save(context.Background(), sampleCourse("Rust"))
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	saved.Lessons[0].Title = "mutated"
	saved.Lessons[0].Quiz[0].Options[0] = "mutated"
	saved.FinalQuiz[0].Options[3] = "mutated"

	got, _ := store.Get(context.Background(), saved.ID)
	if got.Lessons[0].Title != "Basics" {
		t.Errorf("stored lesson was mutated through returned pointer")
	}
	if got.Lessons[0].Quiz[0].Options[0] != "a" || got.FinalQuiz[0].Options[3] != "z" {
		t.Errorf("stored quiz options were mutated through returned pointer")
	}

	got.Lessons[0].Quiz[0].Options[1] = "mutated"
	again, _ := store.Get(context.Background(), saved.ID)
	if again.Lessons[0].Quiz[0].Options[1] != "b" {
		t.Errorf("stored quiz options were mutated through Get result")
	}
}

func TestMemoryStore_EmptyTopic(t *testing.T) {
	store := course.NewMemoryStore()
	if _, err := store.Save(context.Background(), &course.Course{Topic: "  "}); !errors.Is(err, course.ErrEmptyTopic) {
		t.Fatalf("Save() error = %v, want ErrEmptyTopic", err)
	}
}

func TestPostgresStore(t *testing.T) {
	pool := dbtest.NewPool(t)
	store, err := course.NewPostgresStore(pool)
	if err != nil {
		t.Fatalf("NewPostgresStore() error = %v", err)
	}
	runStoreContract(t, store)
}

func TestNewPostgresStore_NilPool(t *testing.T) {
	if _, err := course.NewPostgresStore(nil); err == nil {
		t.Fatal("expected error for nil pool")
	}
}

// fakeCache is an in-memory JSONCache.
type fakeCache struct {
	mu     sync.Mutex
	data   map[string][]byte
	gets   int
	hits   int
	getErr error
}

func newFakeCache() *fakeCache { return &fakeCache{data: map[string][]byte{}} }

func (c *fakeCache) GetJSON(_ context.Context, key string, dst any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	if c.getErr != nil {
		return c.getErr
	}
	raw, ok := c.data[key]
	if !ok {
		return cache.ErrMiss
	}
	c.hits++
	return json.Unmarshal(raw, dst)
}

func (c *fakeCache) SetJSON(_ context.Context, key string, v any, _ time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.data[key] = raw
	c.mu.Unlock()
	return nil
}

func (c *fakeCache) Delete(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.data, k)
	}
	return nil
}

func TestCachedStore(t *testing.T) {
	runStoreContract(t, course.NewCachedStore(course.NewMemoryStore(), newFakeCache(), time.Hour))
}

func TestCachedStore_ServesFromCache(t *testing.T) {
	ctx := context.Background()
	backing := course.NewMemoryStore()
	fc := newFakeCache()
	store := course.NewCachedStore(backing, fc, time.Hour)

	saved, err := store.Save(ctx, sampleCourse("Terraform"))
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := store.FindByTopic(ctx, "terraform")
	if err != nil {
		t.Fatalf("FindByTopic() error = %v", err)
	}
	if got.ID != saved.ID {
		t.Errorf("ID = %q, want %q", got.ID, saved.ID)
	}
	if _, err := store.Get(ctx, saved.ID); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if fc.hits != 2 {
		t.Errorf("cache hits = %d, want 2", fc.hits)
	}
}

func TestCachedStore_CacheErrorFallsThrough(t *testing.T) {
	ctx := context.Background()
	backing := course.NewMemoryStore()
	if _, err := backing.Save(ctx, sampleCourse("Ansible")); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	fc := newFakeCache()
	fc.getErr = errors.New("connection refused")

	got, err := course.NewCachedStore(backing, fc, time.Hour).FindByTopic(ctx, "ansible")
	if err != nil {
		t.Fatalf("FindByTopic() error = %v", err)
	}
	if got.Topic != "Ansible" {
		t.Errorf("Topic = %q, want Ansible", got.Topic)
	}
}

func TestCachedStore_DuplicateSaveDropsStaleTopic(t *testing.T) {
	ctx := context.Background()
	backing := course.NewMemoryStore()
	winner, err := backing.Save(ctx, sampleCourse("Kubernetes"))
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	fc := newFakeCache()
	stale := sampleCourse("Kubernetes")
	stale.ID = "stale-id"
	if err := fc.SetJSON(ctx, "topic:kubernetes", stale, time.Hour); err != nil {
		t.Fatalf("SetJSON() error = %v", err)
	}
	store := course.NewCachedStore(backing, fc, time.Hour)

	if _, err := store.Save(ctx, sampleCourse("kubernetes")); !errors.Is(err, course.ErrDuplicateTopic) {
		t.Fatalf("Save() error = %v, want ErrDuplicateTopic", err)
	}
	got, err := store.FindByTopic(ctx, "Kubernetes")
	if err != nil {
		t.Fatalf("FindByTopic() error = %v", err)
	}
	if got.ID != winner.ID {
		t.Errorf("ID = %q, want stored winner %q", got.ID, winner.ID)
	}
}
