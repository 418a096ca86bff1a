// Package app wires configuration into the course generation graph shared by
// the server and the CLI.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/p-n-ai/pai-course/internal/ai"
	"github.com/p-n-ai/pai-course/internal/auth"
	"github.com/p-n-ai/pai-course/internal/course"
	"github.com/p-n-ai/pai-course/internal/generator"
	"github.com/p-n-ai/pai-course/internal/platform/cache"
	"github.com/p-n-ai/pai-course/internal/platform/config"
	"github.com/p-n-ai/pai-course/internal/platform/database"
	"github.com/p-n-ai/pai-course/internal/platform/retry"
	"github.com/p-n-ai/pai-course/internal/progress"
	"github.com/p-n-ai/pai-course/internal/server"
	"github.com/p-n-ai/pai-course/internal/synthesis"
	"github.com/p-n-ai/pai-course/internal/transcript"
	"github.com/p-n-ai/pai-course/internal/video"
)

// App is the assembled dependency graph.
type App struct {
	Config    *config.Config
	Generator *generator.Engine
	Courses   course.Store
	Progress  progress.Store
	Auth      *auth.Service
	AI        *ai.Router
	Checks    map[string]server.Check

	closers []func()
}

// Build constructs every component from cfg. Close releases what it opened.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Config: cfg, Checks: map[string]server.Check{}}
	if err := a.build(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	cfg := a.Config

	router := ai.NewRouter()
	if cfg.AI.Google.APIKey != "" {
		router.Register("gemini", ai.NewGoogleProvider(cfg.AI.Google.APIKey, ai.WithGoogleModel(cfg.AI.Google.Model)))
	}
	if cfg.AI.OpenAI.APIKey != "" {
		opts := []ai.OpenAIOption{ai.WithModel(cfg.AI.OpenAI.Model)}
		if cfg.AI.OpenAI.BaseURL != "" {
			opts = append(opts, ai.WithBaseURL(cfg.AI.OpenAI.BaseURL))
		}
		router.Register("openai", ai.NewOpenAIProvider(cfg.AI.OpenAI.APIKey, opts...))
	}
	if cfg.AI.Anthropic.APIKey != "" {
		p, err := ai.NewAnthropicProvider(cfg.AI.Anthropic.APIKey, ai.WithAnthropicModel(cfg.AI.Anthropic.Model))
		if err != nil {
			return err
		}
		router.Register("anthropic", p)
	}
	if cfg.AI.Ollama.URL != "" {
		// Ollama serves the OpenAI chat completions API under /v1.
		router.Register("ollama", ai.NewOpenAIProvider("",
			ai.WithProviderName("ollama"),
			ai.WithBaseURL(strings.TrimSuffix(cfg.AI.Ollama.URL, "/")+"/v1"),
			ai.WithModel(cfg.AI.Ollama.Model),
		))
	}
	if !router.HasProvider() {
		return fmt.Errorf("no AI provider configured")
	}
	router.SetBudget(ai.NewTokenBudget(cfg.AI.TokenBudget))
	a.AI = router
	a.Checks["ai"] = router.HealthCheck

	var (
		courses course.Store
		users   auth.UserStore
		events  generator.EventLogger = generator.NopEventLogger{}
	)
	switch cfg.Storage.Driver {
	case "memory":
		courses = course.NewMemoryStore()
		users = auth.NewMemoryUserStore()
		a.Progress = progress.NewMemoryStore()
	case "postgres":
		db, err := database.New(ctx, cfg.Database.URL, cfg.Database.MaxConns, cfg.Database.MinConns)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, db.Close)
		a.Checks["database"] = db.HealthCheck

		if err := database.Migrate(ctx, db.Pool); err != nil {
			return err
		}
		pgCourses, err := course.NewPostgresStore(db.Pool)
		if err != nil {
			return err
		}
		pgUsers, err := auth.NewPostgresUserStore(db.Pool)
		if err != nil {
			return err
		}
		pgProgress, err := progress.NewPostgresStore(db.Pool)
		if err != nil {
			return err
		}
		courses, users, a.Progress = pgCourses, pgUsers, pgProgress
		events = generator.NewPostgresEventLogger(db.Pool)
	default:
		return fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}

	if cfg.Cache.URL != "" {
		c, err := cache.New(ctx, cfg.Cache.URL)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, func() { c.Close() })
		a.Checks["cache"] = c.HealthCheck
		courses = course.NewCachedStore(courses, c, cfg.Cache.TTL)
	}
	a.Courses = courses

	authSvc, err := auth.NewService(auth.ServiceConfig{
		Users:    users,
		Secret:   cfg.Auth.JWTSecret,
		TokenTTL: cfg.Auth.TokenTTL,
	})
	if err != nil {
		return err
	}
	a.Auth = authSvc

	prompts, err := synthesis.LoadPrompts(cfg.PromptsPath)
	if err != nil {
		return err
	}
	synth := synthesis.NewEngine(synthesis.EngineConfig{
		Completer:          router,
		Prompts:            prompts,
		Retry:              a.policy(),
		MaxTranscriptChars: cfg.Course.MaxTranscriptChars,
	})

	finder := video.NewYouTube(cfg.YouTube.APIKey,
		video.WithFallbackKey(cfg.YouTube.FallbackAPIKey),
		video.WithLanguage(cfg.YouTube.Language),
		video.WithRetry(a.policy()),
	)

	captions := transcript.NewYouTubeCaptions(cfg.YouTube.Language, transcript.WithCaptionsRetry(a.policy()))
	var audio transcript.AudioTranscriber
	if cfg.Transcription.Enabled {
		audio = transcript.NewAudioEngine(transcript.AudioEngineConfig{
			Downloader: transcript.YTDLP{Binary: cfg.Transcription.YTDLP, MaxFileSize: cfg.Transcription.MaxBytes},
			STT: transcript.NewWhisperClient(
				cfg.AI.OpenAI.APIKey,
				cfg.AI.OpenAI.BaseURL,
				cfg.AI.OpenAI.TranscriptionModel,
				a.policy(),
			),
			TempDir:  cfg.Transcription.TempDir,
			MaxBytes: cfg.Transcription.MaxBytes,
			MinChars: cfg.Transcription.MinChars,
		})
	}

	a.Generator = generator.NewEngine(generator.EngineConfig{
		Store:              courses,
		Synthesizer:        synth,
		Finder:             finder,
		Transcripts:        transcript.NewResolver(captions, audio),
		Observer:           generator.Observers{generator.LogObserver{}, generator.EventLogObserver{Logger: events}},
		MinTranscriptChars: cfg.Course.MinTranscriptChars,
		LessonQuizSize:     cfg.Course.LessonQuizSize,
		FinalQuizSize:      cfg.Course.FinalQuizSize,
		MaxLessons:         cfg.Course.MaxLessons,
	})
	return nil
}

// policy returns a fresh retry policy. Each external boundary gets its own
// rate limiter.
func (a *App) policy() retry.Policy {
	r := a.Config.Retry
	return retry.Policy{
		MaxAttempts:     r.MaxAttempts,
		InitialInterval: r.InitialInterval,
		MaxInterval:     r.MaxInterval,
		MaxElapsed:      r.MaxElapsed,
		Limiter:         retry.NewLimiter(r.RatePerSecond, r.Burst),
	}
}

// Handler returns the HTTP API.
func (a *App) Handler() http.Handler {
	return server.New(server.Config{
		Generator:      a.Generator,
		Courses:        a.Courses,
		Progress:       a.Progress,
		Auth:           a.Auth,
		Checks:         a.Checks,
		AllowedOrigins: a.Config.Server.AllowedOrigins,
	}).Handler()
}

// Close releases connections in reverse order of opening.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// NewLogger builds the process logger from the log settings.
func NewLogger(w io.Writer, cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}
