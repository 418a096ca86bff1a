package ai

import (
	"errors"
	"fmt"
	"sync"
)

// ErrBudgetExhausted is returned once a router's token budget is spent.
var ErrBudgetExhausted = errors.New("AI token budget exhausted")

// TokenBudget tracks tokens spent per task type against an optional limit.
// It is safe for concurrent use.
type TokenBudget struct {
	mu    sync.RWMutex
	limit int64 // 0 means unlimited
	used  int64
	tasks map[TaskType]int64
}

// NewTokenBudget creates a budget capped at limit tokens. A limit of 0 only
// records usage.
func NewTokenBudget(limit int64) *TokenBudget {
	return &TokenBudget{
		limit: limit,
		tasks: make(map[TaskType]int64),
	}
}

// Check returns ErrBudgetExhausted when the limit has been reached.
func (b *TokenBudget) Check() error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.limit > 0 && b.used >= b.limit {
		return fmt.Errorf("%w: used %d of %d", ErrBudgetExhausted, b.used, b.limit)
	}
	return nil
}

// Record adds tokens spent on a task.
func (b *TokenBudget) Record(task TaskType, tokens int) error {
	if tokens < 0 {
		return fmt.Errorf("tokens must be non-negative, got %d", tokens)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.used += int64(tokens)
	b.tasks[task] += int64(tokens)
	return nil
}

// Usage returns the total tokens spent and the limit.
func (b *TokenBudget) Usage() (used, limit int64) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.used, b.limit
}

// TaskUsage returns the tokens spent on one task type.
func (b *TokenBudget) TaskUsage(task TaskType) int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.tasks[task]
}
