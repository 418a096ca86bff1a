// Package video finds the top-ranked YouTube video for a search query.
package video

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/p-n-ai/pai-course/internal/platform/retry"
)

const defaultSearchBaseURL = "https://www.googleapis.com/youtube/v3"

// Reference identifies a single video on the hosting platform.
type Reference struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// errQuota marks a 403 answer, which covers exhausted quota and bad keys.
var errQuota = errors.New("youtube quota or permission error")

// YouTube searches the YouTube Data API v3.
type YouTube struct {
	apiKey      string
	fallbackKey string
	language    string
	baseURL     string
	client      *http.Client
	policy      retry.Policy
}

// Option configures a YouTube client.
type Option func(*YouTube)

// WithBaseURL overrides the API base URL (for testing).
func WithBaseURL(u string) Option {
	return func(y *YouTube) { y.baseURL = u }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(y *YouTube) { y.client = c }
}

// WithFallbackKey sets a second API key tried after a quota error.
func WithFallbackKey(key string) Option {
	return func(y *YouTube) { y.fallbackKey = key }
}

// WithLanguage sets relevanceLanguage for searches.
func WithLanguage(lang string) Option {
	return func(y *YouTube) {
		if lang != "" {
			y.language = lang
		}
	}
}

// WithRetry sets the retry policy for transient failures.
func WithRetry(p retry.Policy) Option {
	return func(y *YouTube) { y.policy = p }
}

// NewYouTube creates a search client.
func NewYouTube(apiKey string, opts ...Option) *YouTube {
	y := &YouTube{
		apiKey:   apiKey,
		language: "en",
		baseURL:  defaultSearchBaseURL,
		client:   http.DefaultClient,
	}
	for _, opt := range opts {
		opt(y)
	}
	return y
}

type searchResponse struct {
	Items []struct {
		ID struct {
			VideoID string `json:"videoId"`
		} `json:"id"`
		Snippet struct {
			Title string `json:"title"`
		} `json:"snippet"`
	} `json:"items"`
}

type hit struct {
	ref   Reference
	found bool
}

// Search returns the single most relevant high-definition video for query.
// Every failure, quota errors included, is reported as absent.
func (y *YouTube) Search(ctx context.Context, query string) (Reference, bool) {
	keys := []string{y.apiKey}
	if y.fallbackKey != "" && y.fallbackKey != y.apiKey {
		keys = append(keys, y.fallbackKey)
	}

	for i, key := range keys {
		h, err := retry.Do(ctx, y.policy, func(ctx context.Context) (hit, error) {
			return y.search(ctx, key, query)
		})
		switch {
		case err == nil:
			if !h.found {
				slog.Info("no video found", "query", query)
			}
			return h.ref, h.found
		case errors.Is(err, errQuota) && i < len(keys)-1:
			slog.Warn("youtube quota exceeded, trying fallback key", "query", query)
		case errors.Is(err, errQuota):
			slog.Warn("youtube quota exceeded", "query", query)
			return Reference{}, false
		default:
			slog.Warn("youtube search failed", "query", query, "error", err)
			return Reference{}, false
		}
	}
	return Reference{}, false
}

func (y *YouTube) search(ctx context.Context, key, query string) (hit, error) {
	params := url.Values{
		"part":              {"snippet"},
		"q":                 {query},
		"type":              {"video"},
		"videoDefinition":   {"high"},
		"maxResults":        {"1"},
		"order":             {"relevance"},
		"relevanceLanguage": {y.language},
		"key":               {key},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, y.baseURL+"/search?"+params.Encode(), nil)
	if err != nil {
		return hit{}, retry.Permanent(fmt.Errorf("create request: %w", err))
	}

	resp, err := y.client.Do(req)
	if err != nil {
		return hit{}, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return hit{}, fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusForbidden:
		return hit{}, retry.Permanent(fmt.Errorf("%w: %s", errQuota, body))
	case retry.RetryableStatus(resp.StatusCode):
		return hit{}, fmt.Errorf("youtube api error (status %d)", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return hit{}, retry.Permanent(fmt.Errorf("youtube api error (status %d): %s", resp.StatusCode, body))
	}

	var sr searchResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return hit{}, retry.Permanent(fmt.Errorf("unmarshal response: %w", err))
	}
	if len(sr.Items) == 0 || sr.Items[0].ID.VideoID == "" {
		return hit{}, nil
	}

	item := sr.Items[0]
	return hit{
		ref:   Reference{ID: item.ID.VideoID, Title: html.UnescapeString(item.Snippet.Title)},
		found: true,
	}, nil
}

// Query builds the search phrase used for a subtopic.
func Query(subtopic string) string {
	return subtopic + " tutorial for beginners"
}
