package generator

import (
	"log/slog"
	"sync"
	"time"
)

// Stage names one step of a generation run.
type Stage string

const (
	StageCacheLookup Stage = "cache_lookup"
	StageDecompose   Stage = "decompose"
	StageDiscover    Stage = "discover"
	StageTranscript  Stage = "transcript"
	StageSummarize   Stage = "summarize"
	StageQuiz        Stage = "quiz"
	StageFinalQuiz   Stage = "final_quiz"
	StageSave        Stage = "save"
)

// EventKind tells which Observer method an Event was delivered to.
type EventKind string

const (
	KindStageStart      EventKind = "stage_start"
	KindStageComplete   EventKind = "stage_complete"
	KindSubtopicSkipped EventKind = "subtopic_skipped"
)

// Event describes progress within one generation run. Index is the
// subtopic's position in the decomposition, or -1 for course-level stages.
type Event struct {
	Kind     EventKind `json:"type"`
	RunID    string    `json:"runId"`
	Topic    string    `json:"topic"`
	Stage    Stage     `json:"stage"`
	Subtopic string    `json:"subtopic,omitempty"`
	Index    int       `json:"index"`
	Reason   string    `json:"reason,omitempty"`
	Detail   string    `json:"detail,omitempty"`
	Time     time.Time `json:"time"`
}

// Observer receives generation progress. Implementations must be safe for
// concurrent use when shared between runs and must not block for long.
type Observer interface {
	OnStageStart(Event)
	OnStageComplete(Event)
	OnSubtopicSkipped(Event)
}

// Observers fans every event out to each observer in order.
type Observers []Observer

func (o Observers) OnStageStart(ev Event) {
	for _, obs := range o {
		if obs != nil {
			obs.OnStageStart(ev)
		}
	}
}

func (o Observers) OnStageComplete(ev Event) {
	for _, obs := range o {
		if obs != nil {
			obs.OnStageComplete(ev)
		}
	}
}

func (o Observers) OnSubtopicSkipped(ev Event) {
	for _, obs := range o {
		if obs != nil {
			obs.OnSubtopicSkipped(ev)
		}
	}
}

// LogObserver narrates a run through slog.
type LogObserver struct {
	Logger *slog.Logger // default slog.Default()
}

func (l LogObserver) logger() *slog.Logger {
	if l.Logger != nil {
		return l.Logger
	}
	return slog.Default()
}

func (l LogObserver) OnStageStart(ev Event) {
	l.logger().Debug("stage started", attrs(ev)...)
}

func (l LogObserver) OnStageComplete(ev Event) {
	l.logger().Info("stage completed", attrs(ev)...)
}

func (l LogObserver) OnSubtopicSkipped(ev Event) {
	l.logger().Warn("subtopic skipped", attrs(ev)...)
}

func attrs(ev Event) []any {
	a := []any{"run_id", ev.RunID, "topic", ev.Topic, "stage", ev.Stage}
	if ev.Subtopic != "" {
		a = append(a, "subtopic", ev.Subtopic, "index", ev.Index)
	}
	if ev.Reason != "" {
		a = append(a, "reason", ev.Reason)
	}
	if ev.Detail != "" {
		a = append(a, "detail", ev.Detail)
	}
	return a
}

// Recorder keeps every event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) record(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *Recorder) OnStageStart(ev Event)      { r.record(ev) }
func (r *Recorder) OnStageComplete(ev Event)   { r.record(ev) }
func (r *Recorder) OnSubtopicSkipped(ev Event) { r.record(ev) }

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event{}, r.events...)
}

// Skipped returns the skip events only.
func (r *Recorder) Skipped() []Event {
	var out []Event
	for _, ev := range r.Events() {
		if ev.Kind == KindSubtopicSkipped {
			out = append(out, ev)
		}
	}
	return out
}

// ObserverFunc adapts a function to Observer; it receives every event.
type ObserverFunc func(Event)

func (f ObserverFunc) OnStageStart(ev Event)      { f(ev) }
func (f ObserverFunc) OnStageComplete(ev Event)   { f(ev) }
func (f ObserverFunc) OnSubtopicSkipped(ev Event) { f(ev) }
