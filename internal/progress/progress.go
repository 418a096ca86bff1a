// Package progress records which lessons a user has completed and the score
// of their lesson quiz.
package progress

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"sync"
	"time"
)

// ErrInvalidScore is returned for a negative quiz score.
var ErrInvalidScore = errors.New("quiz score must not be negative")

// Record is one user's progress on one lesson.
type Record struct {
	UserID    string    `json:"userId"`
	CourseID  string    `json:"courseId"`
	LessonID  string    `json:"lessonId"`
	Completed bool      `json:"completed"`
	QuizScore int       `json:"quizScore"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Store is the progress ledger. Upsert is idempotent per (user, course,
// lesson): a repeated call overwrites completion and score.
type Store interface {
	Upsert(ctx context.Context, userID, courseID, lessonID string, score int) (*Record, error)
	ListForUser(ctx context.Context, userID string) ([]Record, error)
}

type key struct {
	user, course, lesson string
}

// MemoryStore is an in-memory Store.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[key]Record
}

// NewMemoryStore creates an empty in-memory ledger.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[key]Record)}
}

func (s *MemoryStore) Upsert(_ context.Context, userID, courseID, lessonID string, score int) (*Record, error) {
	if score < 0 {
		return nil, ErrInvalidScore
	}
	r := Record{
		UserID:    userID,
		CourseID:  courseID,
		LessonID:  lessonID,
		Completed: true,
		QuizScore: score,
		UpdatedAt: time.Now().UTC(),
	}

	s.mu.Lock()
	s.records[key{userID, courseID, lessonID}] = r
	s.mu.Unlock()
	return &r, nil
}

func (s *MemoryStore) ListForUser(_ context.Context, userID string) ([]Record, error) {
	s.mu.RLock()
	out := []Record{}
	for k, r := range s.records {
		if k.user == userID {
			out = append(out, r)
		}
	}
	s.mu.RUnlock()

	sortRecords(out)
	return out, nil
}

func sortRecords(rs []Record) {
	slices.SortFunc(rs, func(a, b Record) int {
		return cmp.Or(
			cmp.Compare(a.CourseID, b.CourseID),
			a.UpdatedAt.Compare(b.UpdatedAt),
			cmp.Compare(a.LessonID, b.LessonID),
		)
	})
}

// Summary aggregates a user's progress on one course.
type Summary struct {
	CourseID         string `json:"courseId"`
	CompletedLessons int    `json:"completedLessons"`
	TotalScore       int    `json:"totalScore"`
}

// Summarize groups records by course, in course id order.
func Summarize(records []Record) []Summary {
	byCourse := map[string]*Summary{}
	var order []string
	for _, r := range records {
		s, ok := byCourse[r.CourseID]
		if !ok {
			s = &Summary{CourseID: r.CourseID}
			byCourse[r.CourseID] = s
			order = append(order, r.CourseID)
		}
		if r.Completed {
			s.CompletedLessons++
		}
		s.TotalScore += r.QuizScore
	}
	slices.Sort(order)

	out := make([]Summary, 0, len(order))
	for _, id := range order {
		out = append(out, *byCourse[id])
	}
	return out
}
