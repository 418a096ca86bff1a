package generator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const dbTimeout = 5 * time.Second

// EventLogger persists generation events for later analysis.
type EventLogger interface {
	LogEvent(event Event) error
}

// NopEventLogger ignores all events.
type NopEventLogger struct{}

func (NopEventLogger) LogEvent(Event) error {
	return nil
}

// MemoryEventLogger stores events in memory for tests.
type MemoryEventLogger struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryEventLogger() *MemoryEventLogger {
	return &MemoryEventLogger{
		events: []Event{},
	}
}

func (l *MemoryEventLogger) LogEvent(event Event) error {
	if event.Kind == "" {
		return fmt.Errorf("event type is required")
	}
	if event.Time.IsZero() {
		event.Time = time.Now()
	}

	l.mu.Lock()
	l.events = append(l.events, event)
	l.mu.Unlock()

	return nil
}

func (l *MemoryEventLogger) Events() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Event{}, l.events...)
}

// PostgresEventLogger inserts events into the generation_events table.
type PostgresEventLogger struct {
	pool *pgxpool.Pool
}

func NewPostgresEventLogger(pool *pgxpool.Pool) *PostgresEventLogger {
	return &PostgresEventLogger{pool: pool}
}

func (l *PostgresEventLogger) LogEvent(event Event) error {
	if l == nil || l.pool == nil {
		return fmt.Errorf("event logger pool is nil")
	}
	if event.Kind == "" {
		return fmt.Errorf("event type is required")
	}
	if event.RunID == "" {
		return fmt.Errorf("run_id is required")
	}

	data, err := json.Marshal(map[string]any{
		"stage":    event.Stage,
		"subtopic": event.Subtopic,
		"index":    event.Index,
		"reason":   event.Reason,
		"detail":   event.Detail,
	})
	if err != nil {
		return fmt.Errorf("marshal event data: %w", err)
	}

	createdAt := event.Time
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	ctx, cancel := context.WithTimeout(context.Background(), dbTimeout)
	defer cancel()

	if _, err := l.pool.Exec(ctx,
		`INSERT INTO generation_events (run_id, topic, event_type, data, created_at)
		 VALUES ($1, $2, $3, $4::jsonb, $5)`,
		event.RunID,
		event.Topic,
		string(event.Kind),
		string(data),
		createdAt,
	); err != nil {
		return fmt.Errorf("insert event: %w", err)
	}

	slog.Debug("event logged",
		"type", event.Kind,
		"run_id", event.RunID,
		"stage", event.Stage,
	)
	return nil
}

// RunEvents returns the events of one run in insertion order.
func (l *PostgresEventLogger) RunEvents(ctx context.Context, runID string) ([]Event, error) {
	if l == nil || l.pool == nil {
		return nil, fmt.Errorf("event logger pool is nil")
	}

	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	rows, err := l.pool.Query(ctx,
		`SELECT run_id, topic, event_type, data, created_at
		 FROM generation_events WHERE run_id = $1 ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			ev   Event
			kind string
			data []byte
		)
		if err := rows.Scan(&ev.RunID, &ev.Topic, &kind, &data, &ev.Time); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		var payload struct {
			Stage    Stage  `json:"stage"`
			Subtopic string `json:"subtopic"`
			Index    int    `json:"index"`
			Reason   string `json:"reason"`
			Detail   string `json:"detail"`
		}
		if err := json.Unmarshal(data, &payload); err != nil {
			return nil, fmt.Errorf("decode event data: %w", err)
		}
		ev.Kind = EventKind(kind)
		ev.Stage = payload.Stage
		ev.Subtopic = payload.Subtopic
		ev.Index = payload.Index
		ev.Reason = payload.Reason
		ev.Detail = payload.Detail
		events = append(events, ev)
	}
	return events, rows.Err()
}

// EventLogObserver writes every event to an EventLogger. Logging failures
// are reported through slog and never reach the run.
type EventLogObserver struct {
	Logger EventLogger
}

func (o EventLogObserver) log(ev Event) {
	if o.Logger == nil {
		return
	}
	if err := o.Logger.LogEvent(ev); err != nil {
		slog.Warn("failed to log generation event", "run_id", ev.RunID, "stage", ev.Stage, "error", err)
	}
}

func (o EventLogObserver) OnStageStart(ev Event)      { o.log(ev) }
func (o EventLogObserver) OnStageComplete(ev Event)   { o.log(ev) }
func (o EventLogObserver) OnSubtopicSkipped(ev Event) { o.log(ev) }
