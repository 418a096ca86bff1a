// Package synthesis wraps a text-generation model behind the three course
// operations: topic decomposition, transcript summarization and quiz
// generation.
package synthesis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/p-n-ai/pai-course/internal/ai"
	"github.com/p-n-ai/pai-course/internal/course"
	"github.com/p-n-ai/pai-course/internal/platform/retry"
)

const defaultMaxTranscriptChars = 15000

// ErrSynthesis marks a failed model call.
var ErrSynthesis = errors.New("synthesis failed")

// EngineConfig holds dependencies for the synthesis engine.
type EngineConfig struct {
	Completer          ai.Completer
	Prompts            *Prompts     // default DefaultPrompts()
	Retry              retry.Policy // applied to every model call
	MaxTranscriptChars int          // transcript prefix sent to summarize (default 15000)
}

// Engine performs the course's generative operations.
type Engine struct {
	completer          ai.Completer
	prompts            *Prompts
	policy             retry.Policy
	maxTranscriptChars int
}

// NewEngine creates a synthesis engine.
func NewEngine(cfg EngineConfig) *Engine {
	prompts := cfg.Prompts
	if prompts == nil {
		prompts = DefaultPrompts()
	}
	maxChars := cfg.MaxTranscriptChars
	if maxChars <= 0 {
		maxChars = defaultMaxTranscriptChars
	}
	return &Engine{
		completer:          cfg.Completer,
		prompts:            prompts,
		policy:             cfg.Retry.Named("synthesis"),
		maxTranscriptChars: maxChars,
	}
}

// DecomposeTopic asks the model for an ordered list of subtopics. Only a
// failed model call is an error; the list itself is parsed best-effort.
func (e *Engine) DecomposeTopic(ctx context.Context, topic string) ([]string, error) {
	prompt, err := render(e.prompts.decompose, struct{ Topic string }{topic})
	if err != nil {
		return nil, err
	}

	text, err := e.complete(ctx, ai.TaskDecompose, prompt, nil)
	if err != nil {
		return nil, err
	}
	return ParseSubtopics(text), nil
}

// Summarize turns a transcript into markdown lesson notes. Only the first
// MaxTranscriptChars characters of the transcript are sent.
func (e *Engine) Summarize(ctx context.Context, transcript, subtopic string) (string, error) {
	prompt, err := render(e.prompts.summarize, struct {
		Subtopic   string
		Transcript string
	}{subtopic, Truncate(transcript, e.maxTranscriptChars)})
	if err != nil {
		return "", err
	}

	notes, err := e.complete(ctx, ai.TaskSummarize, prompt, nil)
	if err != nil {
		return "", err
	}
	notes = strings.TrimSpace(notes)
	if notes == "" {
		return "", fmt.Errorf("%w: empty notes for %q", ErrSynthesis, subtopic)
	}
	return notes, nil
}

// Quiz generates up to count questions from notes. It never fails: a model
// error or malformed output yields PlaceholderQuiz.
func (e *Engine) Quiz(ctx context.Context, notes string, count int) []course.QuizQuestion {
	prompt, err := render(e.prompts.quiz, struct {
		Notes string
		Count int
	}{notes, count})
	if err != nil {
		slog.Error("quiz prompt failed", "error", err)
		return PlaceholderQuiz()
	}

	schema := &ai.JSONSchema{Name: "quiz", Schema: json.RawMessage(quizRequestSchema)}
	text, err := e.complete(ctx, ai.TaskQuiz, prompt, schema)
	if err != nil {
		slog.Warn("quiz generation failed, using placeholder", "error", err)
		return PlaceholderQuiz()
	}

	questions, err := parseQuiz(text, count)
	if err != nil {
		slog.Warn("quiz output unusable, using placeholder", "error", err)
		return PlaceholderQuiz()
	}
	return questions
}

func (e *Engine) complete(ctx context.Context, task ai.TaskType, prompt string, schema *ai.JSONSchema) (string, error) {
	if e.completer == nil {
		return "", fmt.Errorf("%w: %w", ErrSynthesis, ai.ErrNoProvider)
	}

	messages := []ai.Message{{Role: "user", Content: prompt}}
	if e.prompts.System != "" {
		messages = append([]ai.Message{{Role: "system", Content: e.prompts.System}}, messages...)
	}

	resp, err := retry.Do(ctx, e.policy, func(ctx context.Context) (ai.CompletionResponse, error) {
		resp, err := e.completer.Complete(ctx, ai.CompletionRequest{
			Messages: messages,
			Task:     task,
			Schema:   schema,
		})
		if err != nil && !transient(err) {
			return resp, retry.Permanent(err)
		}
		return resp, err
	})
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrSynthesis, task, err)
	}
	return resp.Content, nil
}

// transient reports whether a completion error is worth retrying. Provider
// answers other than 429 and 5xx are final.
func transient(err error) bool {
	if errors.Is(err, ai.ErrNoProvider) || errors.Is(err, ai.ErrBudgetExhausted) {
		return false
	}
	var apiErr *ai.APIError
	if errors.As(err, &apiErr) {
		return retry.RetryableStatus(apiErr.StatusCode)
	}
	return true
}

// Truncate returns the first n characters of s.
func Truncate(s string, n int) string {
	if n <= 0 {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

// ParseSubtopics splits a model's list answer into subtopics. Commas and
// newlines both delimit; bullets, numbering and quotes are stripped and blank
// entries dropped.
func ParseSubtopics(text string) []string {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return r == ',' || r == '\n' || r == '\r'
	})

	subtopics := make([]string, 0, len(fields))
	for _, f := range fields {
		s := strings.TrimSpace(f)
		s = strings.TrimLeft(s, "-*•· \t")
		s = trimNumbering(s)
		s = strings.Trim(s, "\"'`* ")
		if s != "" {
			subtopics = append(subtopics, s)
		}
	}
	return subtopics
}

// trimNumbering removes a leading "1." or "2)" list marker.
func trimNumbering(s string) string {
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	if i > 0 && i < len(s) && (s[i] == '.' || s[i] == ')') {
		return strings.TrimSpace(s[i+1:])
	}
	return s
}
