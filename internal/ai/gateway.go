// Package ai provides a provider-agnostic text-generation gateway with an
// ordered fallback chain.
package ai

import (
	"context"
	"encoding/json"
	"fmt"
)

// TaskType defines the kind of generation task, used for logging and routing.
type TaskType int

const (
	TaskDecompose TaskType = iota
	TaskSummarize
	TaskQuiz
)

func (t TaskType) String() string {
	switch t {
	case TaskDecompose:
		return "decompose"
	case TaskSummarize:
		return "summarize"
	case TaskQuiz:
		return "quiz"
	default:
		return "unknown"
	}
}

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// JSONSchema asks the provider for structured output matching Schema.
type JSONSchema struct {
	Name   string          `json:"name"`
	Schema json.RawMessage `json:"schema"`
}

// CompletionRequest is the input to an AI completion.
type CompletionRequest struct {
	Messages    []Message   `json:"messages"`
	Model       string      `json:"model,omitempty"`
	MaxTokens   int         `json:"max_tokens,omitempty"`
	Temperature float64     `json:"temperature,omitempty"`
	Task        TaskType    `json:"task,omitempty"`
	Schema      *JSONSchema `json:"schema,omitempty"`
}

// CompletionResponse is the output from an AI completion.
type CompletionResponse struct {
	Content      string `json:"content"`
	Model        string `json:"model"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
}

// TotalTokens returns the sum of input and output tokens.
func (r CompletionResponse) TotalTokens() int {
	return r.InputTokens + r.OutputTokens
}

// ModelInfo describes an available model.
type ModelInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	MaxTokens   int    `json:"max_tokens"`
	Description string `json:"description"`
}

// Completer is the narrow capability the synthesis layer depends on.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error)
}

// Provider is the interface all AI providers must implement.
type Provider interface {
	Completer
	Models() []ModelInfo
	HealthCheck(ctx context.Context) error
}

// APIError is a non-2xx answer from a provider's HTTP API.
type APIError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s api error (status %d): %s", e.Provider, e.StatusCode, e.Body)
}
