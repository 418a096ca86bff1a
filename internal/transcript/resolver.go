// Package transcript turns a video id into transcript text, preferring
// platform captions and falling back to speech-to-text on the audio track.
package transcript

import (
	"context"
	"log/slog"
	"strings"
)

// CaptionSource fetches platform-native captions for a video.
type CaptionSource interface {
	Captions(ctx context.Context, videoID string) (string, error)
}

// AudioTranscriber produces a transcript from a video's audio track. It
// reports absence instead of failing.
type AudioTranscriber interface {
	Transcribe(ctx context.Context, videoID string) (string, bool)
}

// Resolver applies the captions-then-audio fallback policy.
type Resolver struct {
	captions CaptionSource
	audio    AudioTranscriber
}

// NewResolver creates a Resolver. Either tier may be nil to disable it.
func NewResolver(captions CaptionSource, audio AudioTranscriber) *Resolver {
	return &Resolver{captions: captions, audio: audio}
}

// Resolve returns the best available transcript for videoID. Non-empty
// captions short-circuit the audio tier; otherwise the audio tier's answer is
// returned as is.
func (r *Resolver) Resolve(ctx context.Context, videoID string) (string, bool) {
	if r.captions != nil {
		text, err := r.captions.Captions(ctx, videoID)
		switch {
		case err != nil:
			slog.Info("captions unavailable", "video_id", videoID, "error", err)
		case strings.TrimSpace(text) == "":
			slog.Info("captions empty", "video_id", videoID)
		default:
			slog.Info("captions found", "video_id", videoID, "chars", len(text))
			return text, true
		}
	}

	if r.audio == nil {
		return "", false
	}
	slog.Info("falling back to audio transcription", "video_id", videoID)
	return r.audio.Transcribe(ctx, videoID)
}
