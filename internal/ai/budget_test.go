package ai

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestTokenBudget_Unlimited(t *testing.T) {
	b := NewTokenBudget(0)

	if err := b.Record(TaskSummarize, 1_000_000); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if err := b.Check(); err != nil {
		t.Errorf("Check() error = %v, want nil (no limit)", err)
	}
}

func TestTokenBudget_Limit(t *testing.T) {
	tests := []struct {
		name    string
		limit   int64
		spend   []int
		wantErr bool
	}{
		{"within", 1000, []int{500}, false},
		{"exact", 100, []int{100}, true},
		{"over", 100, []int{150}, true},
		{"accumulates", 100, []int{40, 40, 40}, true},
		{"nothing spent", 10, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewTokenBudget(tt.limit)
			for _, n := range tt.spend {
				if err := b.Record(TaskQuiz, n); err != nil {
					t.Fatalf("Record() error = %v", err)
				}
			}
			err := b.Check()
			if tt.wantErr && !errors.Is(err, ErrBudgetExhausted) {
				t.Errorf("Check() error = %v, want ErrBudgetExhausted", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("Check() error = %v, want nil", err)
			}
		})
	}
}

func TestTokenBudget_NegativeTokens(t *testing.T) {
	b := NewTokenBudget(10)
	if err := b.Record(TaskQuiz, -1); err == nil {
		t.Error("Record() should reject negative tokens")
	}
}

func TestTokenBudget_TaskUsage(t *testing.T) {
	b := NewTokenBudget(0)
	_ = b.Record(TaskDecompose, 30)
	_ = b.Record(TaskSummarize, 200)
	_ = b.Record(TaskSummarize, 100)

	if got := b.TaskUsage(TaskSummarize); got != 300 {
		t.Errorf("TaskUsage(summarize) = %d, want 300", got)
	}
	if got := b.TaskUsage(TaskQuiz); got != 0 {
		t.Errorf("TaskUsage(quiz) = %d, want 0", got)
	}
	used, limit := b.Usage()
	if used != 330 || limit != 0 {
		t.Errorf("Usage() = %d, %d, want 330, 0", used, limit)
	}
}

func TestTokenBudget_Concurrent(t *testing.T) {
	b := NewTokenBudget(0)
	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = b.Record(TaskQuiz, 2)
		}()
	}
	wg.Wait()

	if used, _ := b.Usage(); used != 100 {
		t.Errorf("used = %d, want 100", used)
	}
}

func TestRouter_RecordsBudget(t *testing.T) {
	router := NewRouter()
	router.Register("mock", NewMockProvider("abcd"))
	budget := NewTokenBudget(0)
	router.SetBudget(budget)

	_, err := router.Complete(context.Background(), CompletionRequest{Task: TaskSummarize})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	// MockProvider reports 10 input tokens plus the content length.
	if got := budget.TaskUsage(TaskSummarize); got != 14 {
		t.Errorf("TaskUsage = %d, want 14", got)
	}
}

func TestRouter_StopsWhenBudgetExhausted(t *testing.T) {
	mock := NewMockProvider("abcd")
	router := NewRouter()
	router.Register("mock", mock)
	router.SetBudget(NewTokenBudget(10))

	if _, err := router.Complete(context.Background(), CompletionRequest{}); err != nil {
		t.Fatalf("first Complete() error = %v", err)
	}
	_, err := router.Complete(context.Background(), CompletionRequest{})
	if !errors.Is(err, ErrBudgetExhausted) {
		t.Fatalf("error = %v, want ErrBudgetExhausted", err)
	}
	if mock.Calls() != 1 {
		t.Errorf("provider calls = %d, want 1", mock.Calls())
	}
}
