package transcript

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"
)

const (
	defaultMaxAudioBytes = 25 * 1024 * 1024
	defaultMinAudioChars = 50
)

// AudioDownloader saves a video's audio track into dir and returns the file path.
type AudioDownloader interface {
	Download(ctx context.Context, videoID, dir string) (string, error)
}

// SpeechToText turns an audio file into text.
type SpeechToText interface {
	Transcribe(ctx context.Context, audioPath string) (string, error)
}

// AudioEngineConfig holds dependencies for the audio transcription tier.
type AudioEngineConfig struct {
	Downloader AudioDownloader
	STT        SpeechToText
	TempDir    string // parent of the per-call scratch directory (default os.TempDir())
	MaxBytes   int64  // files above this size are rejected (default 25 MiB)
	MinChars   int    // transcripts must be longer than this (default 50)
}

// AudioEngine downloads audio and transcribes it. Every call works in its own
// scratch directory, which is removed before the call returns.
type AudioEngine struct {
	downloader AudioDownloader
	stt        SpeechToText
	tempDir    string
	maxBytes   int64
	minChars   int
}

// NewAudioEngine creates an AudioEngine.
func NewAudioEngine(cfg AudioEngineConfig) *AudioEngine {
	e := &AudioEngine{
		downloader: cfg.Downloader,
		stt:        cfg.STT,
		tempDir:    cfg.TempDir,
		maxBytes:   cfg.MaxBytes,
		minChars:   cfg.MinChars,
	}
	if e.tempDir == "" {
		e.tempDir = os.TempDir()
	}
	if e.maxBytes <= 0 {
		e.maxBytes = defaultMaxAudioBytes
	}
	if e.minChars <= 0 {
		e.minChars = defaultMinAudioChars
	}
	return e
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// Transcribe implements AudioTranscriber. Failures are logged and reported as
// absent.
func (e *AudioEngine) Transcribe(ctx context.Context, videoID string) (string, bool) {
	text, err := e.transcribe(ctx, videoID)
	if err != nil {
		slog.Warn("audio transcription failed", "video_id", videoID, "error", err)
		return "", false
	}
	if len([]rune(text)) <= e.minChars {
		slog.Info("audio transcript too short", "video_id", videoID, "chars", len(text))
		return "", false
	}
	slog.Info("audio transcript produced", "video_id", videoID, "chars", len(text))
	return text, true
}

func (e *AudioEngine) transcribe(ctx context.Context, videoID string) (text string, err error) {
	if e.downloader == nil || e.stt == nil {
		return "", fmt.Errorf("audio transcription not configured")
	}
	defer func() {
		if p := recover(); p != nil {
			text, err = "", fmt.Errorf("panic during transcription: %v", p)
		}
	}()

	dir, err := os.MkdirTemp(e.tempDir, "audio-"+unsafeName.ReplaceAllString(videoID, "_")+"-*")
	if err != nil {
		return "", fmt.Errorf("create scratch dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			slog.Error("failed to remove audio scratch dir", "dir", dir, "error", err)
		}
	}()

	path, err := e.downloader.Download(ctx, videoID, dir)
	if err != nil {
		return "", fmt.Errorf("download audio: %w", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("stat audio: %w", err)
	}
	if info.Size() > e.maxBytes {
		return "", fmt.Errorf("audio is %d bytes, limit is %d", info.Size(), e.maxBytes)
	}

	text, err = e.stt.Transcribe(ctx, path)
	if err != nil {
		return "", fmt.Errorf("speech to text: %w", err)
	}
	return strings.TrimSpace(text), nil
}
