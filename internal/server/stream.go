package server

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/p-n-ai/pai-course/internal/course"
	"github.com/p-n-ai/pai-course/internal/generator"
)

const (
	streamBuffer       = 64
	streamWriteTimeout = 10 * time.Second
)

// streamMessage is the final frame of a generation stream. Progress frames
// are generator.Event values.
type streamMessage struct {
	Type   string         `json:"type"`
	Course *course.Course `json:"course,omitempty"`
	Error  string         `json:"error,omitempty"`
	Status int            `json:"status,omitempty"`
}

// channelObserver forwards events to a buffered channel. Events are dropped
// when the client falls behind.
type channelObserver struct {
	ch chan<- generator.Event
}

func (o channelObserver) send(ev generator.Event) {
	select {
	case o.ch <- ev:
	default:
		slog.Debug("dropping progress event for slow client", "run_id", ev.RunID, "stage", ev.Stage)
	}
}

func (o channelObserver) OnStageStart(ev generator.Event)      { o.send(ev) }
func (o channelObserver) OnStageComplete(ev generator.Event)   { o.send(ev) }
func (o channelObserver) OnSubtopicSkipped(ev generator.Event) { o.send(ev) }

type generation struct {
	course *course.Course
	err    error
}

// handleGenerateStream runs a generation and streams its progress over a
// WebSocket, ending with a "course" or "error" frame.
func (s *Server) handleGenerateStream(w http.ResponseWriter, r *http.Request) {
	topic := strings.TrimSpace(r.URL.Query().Get("topic"))
	if topic == "" {
		writeError(w, http.StatusBadRequest, "topic is required")
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.allowedOrigins})
	if err != nil {
		slog.Warn("websocket accept failed", "error", err)
		return
	}
	defer conn.CloseNow()

	// Reads are not expected; CloseRead cancels ctx when the client goes away.
	ctx := conn.CloseRead(r.Context())

	events := make(chan generator.Event, streamBuffer)
	done := make(chan generation, 1)
	go func() {
		c, err := s.generator.GenerateWithObserver(ctx, topic, channelObserver{ch: events})
		done <- generation{course: c, err: err}
	}()

	for {
		select {
		case ev := <-events:
			if err := write(ctx, conn, ev); err != nil {
				slog.Info("generation stream closed", "topic", topic, "error", err)
				return
			}
		case res := <-done:
			drain(ctx, conn, events)
			final := streamMessage{Type: "course", Course: res.course}
			if res.err != nil {
				status, msg := generationFailure(res.err)
				slog.Error("course generation failed", "topic", topic, "user_id", userID(r), "error", res.err)
				final = streamMessage{Type: "error", Error: msg, Status: status}
			}
			if err := write(ctx, conn, final); err != nil {
				slog.Info("generation stream closed", "topic", topic, "error", err)
				return
			}
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case <-ctx.Done():
			return
		}
	}
}

func drain(ctx context.Context, conn *websocket.Conn, events <-chan generator.Event) {
	for {
		select {
		case ev := <-events:
			if err := write(ctx, conn, ev); err != nil {
				return
			}
		default:
			return
		}
	}
}

func write(ctx context.Context, conn *websocket.Conn, v any) error {
	ctx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, v)
}
