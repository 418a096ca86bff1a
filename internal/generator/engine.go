// Package generator builds a course for a topic: it decomposes the topic into
// subtopics, finds a video for each, turns the video's transcript into notes
// and a quiz, and stores the assembled course once per normalized topic.
package generator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/p-n-ai/pai-course/internal/course"
	"github.com/p-n-ai/pai-course/internal/video"
)

const (
	defaultMinTranscriptChars = 100
	defaultLessonQuizSize     = 2
	defaultFinalQuizSize      = 5
	notesSeparator            = "\n\n---\n\n"
)

// Synthesizer is the generative side of the pipeline.
type Synthesizer interface {
	DecomposeTopic(ctx context.Context, topic string) ([]string, error)
	Summarize(ctx context.Context, transcript, subtopic string) (string, error)
	Quiz(ctx context.Context, notes string, count int) []course.QuizQuestion
}

// VideoFinder returns the top video for a query, or false when none is found.
type VideoFinder interface {
	Search(ctx context.Context, query string) (video.Reference, bool)
}

// TranscriptResolver returns a video's transcript, or false when none exists.
type TranscriptResolver interface {
	Resolve(ctx context.Context, videoID string) (string, bool)
}

// EngineConfig holds dependencies for the generation engine.
type EngineConfig struct {
	Store              course.Store
	Synthesizer        Synthesizer
	Finder             VideoFinder
	Transcripts        TranscriptResolver
	Observer           Observer // receives every run's events (default LogObserver)
	MinTranscriptChars int      // shorter transcripts skip the subtopic (default 100)
	LessonQuizSize     int      // questions per lesson (default 2)
	FinalQuizSize      int      // questions in the final quiz (default 5)
	MaxLessons         int      // stop after this many lessons; 0 means no cap
}

// Engine runs course generation.
type Engine struct {
	store              course.Store
	synth              Synthesizer
	finder             VideoFinder
	transcripts        TranscriptResolver
	observer           Observer
	minTranscriptChars int
	lessonQuizSize     int
	finalQuizSize      int
	maxLessons         int

	flights singleflight.Group
}

// NewEngine creates a generation engine.
func NewEngine(cfg EngineConfig) *Engine {
	store := cfg.Store
	if store == nil {
		store = course.NewMemoryStore()
	}
	observer := cfg.Observer
	if observer == nil {
		observer = LogObserver{}
	}
	minChars := cfg.MinTranscriptChars
	if minChars == 0 {
		minChars = defaultMinTranscriptChars
	}
	lessonQuiz := cfg.LessonQuizSize
	if lessonQuiz == 0 {
		lessonQuiz = defaultLessonQuizSize
	}
	finalQuiz := cfg.FinalQuizSize
	if finalQuiz == 0 {
		finalQuiz = defaultFinalQuizSize
	}
	return &Engine{
		store:              store,
		synth:              cfg.Synthesizer,
		finder:             cfg.Finder,
		transcripts:        cfg.Transcripts,
		observer:           observer,
		minTranscriptChars: minChars,
		lessonQuizSize:     lessonQuiz,
		finalQuizSize:      finalQuiz,
		maxLessons:         cfg.MaxLessons,
	}
}

// Skip records why a subtopic produced no lesson.
type Skip struct {
	Subtopic string
	Stage    Stage
	Reason   string
}

// GenerationError is returned when no subtopic produced a lesson.
type GenerationError struct {
	Topic     string
	Subtopics []string
	Skipped   []Skip
}

func (e *GenerationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "could not build any lesson for %q from %d subtopics", e.Topic, len(e.Subtopics))
	if len(e.Skipped) > 0 {
		b.WriteString(" (")
		for i, s := range e.Skipped {
			if i > 0 {
				b.WriteString("; ")
			}
			fmt.Fprintf(&b, "%s: %s at %s", s.Subtopic, s.Reason, s.Stage)
		}
		b.WriteString(")")
	}
	b.WriteString(". Likely causes: video search quota exhausted, videos without captions, " +
		"or the AI or transcription service being unreachable")
	return b.String()
}

// Generate returns the course for topic, building and storing it on a cache
// miss. Concurrent calls for the same normalized topic share one run.
func (e *Engine) Generate(ctx context.Context, topic string) (*course.Course, error) {
	return e.GenerateWithObserver(ctx, topic, nil)
}

// GenerateWithObserver is Generate with an extra observer for this call. A
// caller that joins a run already in flight receives only its result.
func (e *Engine) GenerateWithObserver(ctx context.Context, topic string, obs Observer) (*course.Course, error) {
	clean, err := course.CleanTopic(topic)
	if err != nil {
		return nil, err
	}

	r := &run{
		id:       uuid.NewString(),
		topic:    clean,
		observer: e.observer,
	}
	if obs != nil {
		r.observer = Observers{e.observer, obs}
	}

	r.start(StageCacheLookup, -1, "")
	if c, err := e.lookup(ctx, clean); err != nil || c != nil {
		r.complete(StageCacheLookup, -1, "", hitDetail(c, err))
		return c, err
	}
	r.complete(StageCacheLookup, -1, "", "miss")

	v, err, _ := e.flights.Do(course.NormalizeTopic(clean), func() (any, error) {
		return e.build(ctx, r)
	})
	if err != nil {
		return nil, err
	}
	return v.(*course.Course), nil
}

func hitDetail(c *course.Course, err error) string {
	if err != nil {
		return err.Error()
	}
	return "hit " + c.ID
}

// lookup returns the stored course, or nil on a miss.
func (e *Engine) lookup(ctx context.Context, topic string) (*course.Course, error) {
	c, err := e.store.FindByTopic(ctx, topic)
	if errors.Is(err, course.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("looking up course: %w", err)
	}
	return c, nil
}

func (e *Engine) build(ctx context.Context, r *run) (*course.Course, error) {
	// Another run may have stored the course since our lookup.
	if c, err := e.lookup(ctx, r.topic); err != nil || c != nil {
		return c, err
	}

	r.start(StageDecompose, -1, "")
	subtopics, err := e.synth.DecomposeTopic(ctx, r.topic)
	if err != nil {
		r.complete(StageDecompose, -1, "", err.Error())
		return nil, err
	}
	r.complete(StageDecompose, -1, "", fmt.Sprintf("%d subtopics", len(subtopics)))

	var (
		lessons []course.Lesson
		skipped []Skip
	)
	for i, subtopic := range subtopics {
		if e.maxLessons > 0 && len(lessons) >= e.maxLessons {
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		lesson, skip := e.buildLesson(ctx, r, i, subtopic)
		if skip != nil {
			skipped = append(skipped, *skip)
			r.skipped(i, *skip)
			continue
		}
		lessons = append(lessons, lesson)
	}

	if len(lessons) == 0 {
		return nil, &GenerationError{Topic: r.topic, Subtopics: subtopics, Skipped: skipped}
	}

	notes := make([]string, len(lessons))
	for i, l := range lessons {
		notes[i] = l.Notes
	}
	r.start(StageFinalQuiz, -1, "")
	finalQuiz := e.synth.Quiz(ctx, strings.Join(notes, notesSeparator), e.finalQuizSize)
	r.complete(StageFinalQuiz, -1, "", fmt.Sprintf("%d questions", len(finalQuiz)))

	r.start(StageSave, -1, "")
	saved, err := e.store.Save(ctx, &course.Course{
		Topic:     r.topic,
		Title:     course.Title(r.topic),
		Lessons:   lessons,
		FinalQuiz: finalQuiz,
	})
	if errors.Is(err, course.ErrDuplicateTopic) {
		winner, ferr := e.store.FindByTopic(ctx, r.topic)
		if ferr != nil {
			return nil, fmt.Errorf("reading back stored course: %w", ferr)
		}
		r.complete(StageSave, -1, "", "already stored as "+winner.ID)
		return winner, nil
	}
	if err != nil {
		r.complete(StageSave, -1, "", err.Error())
		return nil, fmt.Errorf("saving course: %w", err)
	}
	r.complete(StageSave, -1, "", fmt.Sprintf("stored %s with %d lessons", saved.ID, len(saved.Lessons)))
	return saved, nil
}

// buildLesson runs one subtopic's sub-pipeline. Every failure, including a
// panic, is reported as a Skip.
func (e *Engine) buildLesson(ctx context.Context, r *run, index int, subtopic string) (lesson course.Lesson, skip *Skip) {
	stage := StageDiscover
	defer func() {
		if p := recover(); p != nil {
			skip = &Skip{Subtopic: subtopic, Stage: stage, Reason: fmt.Sprintf("panic: %v", p)}
		}
	}()

	r.start(stage, index, subtopic)
	ref, ok := e.finder.Search(ctx, video.Query(subtopic))
	if !ok {
		return lesson, &Skip{Subtopic: subtopic, Stage: stage, Reason: "no video found"}
	}
	r.complete(stage, index, subtopic, ref.ID)

	stage = StageTranscript
	r.start(stage, index, subtopic)
	transcript, ok := e.transcripts.Resolve(ctx, ref.ID)
	if !ok {
		return lesson, &Skip{Subtopic: subtopic, Stage: stage, Reason: "no transcript"}
	}
	n := utf8.RuneCountInString(strings.TrimSpace(transcript))
	if n < e.minTranscriptChars {
		return lesson, &Skip{Subtopic: subtopic, Stage: stage, Reason: fmt.Sprintf("transcript too short (%d chars)", n)}
	}
	r.complete(stage, index, subtopic, fmt.Sprintf("%d chars", n))

	stage = StageSummarize
	r.start(stage, index, subtopic)
	notes, err := e.synth.Summarize(ctx, transcript, subtopic)
	if err != nil {
		return lesson, &Skip{Subtopic: subtopic, Stage: stage, Reason: err.Error()}
	}
	r.complete(stage, index, subtopic, "")

	stage = StageQuiz
	r.start(stage, index, subtopic)
	quiz := e.synth.Quiz(ctx, notes, e.lessonQuizSize)
	r.complete(stage, index, subtopic, fmt.Sprintf("%d questions", len(quiz)))

	return course.Lesson{
		ID:         uuid.NewString(),
		Title:      subtopic,
		VideoID:    ref.ID,
		VideoTitle: ref.Title,
		VideoURL:   course.EmbedURL(ref.ID),
		Notes:      notes,
		Quiz:       quiz,
	}, nil
}

// run carries the identity of one Generate call to its events.
type run struct {
	id       string
	topic    string
	observer Observer
}

func (r *run) event(kind EventKind, stage Stage, index int, subtopic string) Event {
	return Event{
		Kind:     kind,
		RunID:    r.id,
		Topic:    r.topic,
		Stage:    stage,
		Subtopic: subtopic,
		Index:    index,
		Time:     time.Now(),
	}
}

func (r *run) start(stage Stage, index int, subtopic string) {
	r.observer.OnStageStart(r.event(KindStageStart, stage, index, subtopic))
}

func (r *run) complete(stage Stage, index int, subtopic, detail string) {
	ev := r.event(KindStageComplete, stage, index, subtopic)
	ev.Detail = detail
	r.observer.OnStageComplete(ev)
}

func (r *run) skipped(index int, s Skip) {
	ev := r.event(KindSubtopicSkipped, s.Stage, index, s.Subtopic)
	ev.Reason = s.Reason
	r.observer.OnSubtopicSkipped(ev)
}
