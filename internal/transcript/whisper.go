package transcript

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/p-n-ai/pai-course/internal/platform/retry"
)

// WhisperClient transcribes audio files with the OpenAI transcription API.
type WhisperClient struct {
	client *openai.Client
	model  string
	policy retry.Policy
}

// NewWhisperClient creates a client. An empty baseURL uses the OpenAI default
// and an empty model uses whisper-1.
func NewWhisperClient(apiKey, baseURL, model string, policy retry.Policy) *WhisperClient {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if model == "" {
		model = openai.Whisper1
	}
	return &WhisperClient{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
		policy: policy.Named("transcription"),
	}
}

// Transcribe implements SpeechToText.
func (w *WhisperClient) Transcribe(ctx context.Context, audioPath string) (string, error) {
	return retry.Do(ctx, w.policy, func(ctx context.Context) (string, error) {
		resp, err := w.client.CreateTranscription(ctx, openai.AudioRequest{
			Model:    w.model,
			FilePath: audioPath,
			Format:   openai.AudioResponseFormatJSON,
		})
		if err != nil {
			return "", classify(err)
		}
		return resp.Text, nil
	})
}

// classify marks client errors other than 429 as permanent.
func classify(err error) error {
	wrapped := fmt.Errorf("whisper: %w", err)

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && !retry.RetryableStatus(apiErr.HTTPStatusCode) {
		return retry.Permanent(wrapped)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && !retry.RetryableStatus(reqErr.HTTPStatusCode) {
		return retry.Permanent(wrapped)
	}
	return wrapped
}
