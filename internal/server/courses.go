package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/p-n-ai/pai-course/internal/course"
	"github.com/p-n-ai/pai-course/internal/export"
	"github.com/p-n-ai/pai-course/internal/generator"
	"github.com/p-n-ai/pai-course/internal/synthesis"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Topic any `json:"topic"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	topic, ok := req.Topic.(string)
	if !ok || strings.TrimSpace(topic) == "" {
		writeError(w, http.StatusBadRequest, "topic is required and must be a string")
		return
	}

	c, err := s.generator.GenerateWithObserver(r.Context(), topic, nil)
	if err != nil {
		status, msg := generationFailure(err)
		slog.Error("course generation failed", "topic", topic, "user_id", userID(r), "error", err)
		writeError(w, status, msg)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// generationFailure maps a generation error to a status and a message safe to
// show the user.
func generationFailure(err error) (int, string) {
	var genErr *generator.GenerationError
	switch {
	case errors.Is(err, course.ErrEmptyTopic):
		return http.StatusBadRequest, "topic is required and must be a string"
	case errors.As(err, &genErr):
		return http.StatusInternalServerError, genErr.Error()
	case errors.Is(err, synthesis.ErrSynthesis):
		return http.StatusBadGateway, "the AI service could not plan this course, please try again later"
	default:
		return http.StatusInternalServerError, "course generation failed"
	}
}

func (s *Server) handleGetCourse(w http.ResponseWriter, r *http.Request) {
	if c := s.lookupCourse(w, r, r.PathValue("id")); c != nil {
		writeJSON(w, http.StatusOK, c)
	}
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	c := s.lookupCourse(w, r, r.PathValue("id"))
	if c == nil {
		return
	}

	f, err := export.Workbook(c)
	if err != nil {
		slog.Error("failed to build workbook", "course_id", c.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "export failed")
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="course-%s.xlsx"`, c.ID))
	if _, err := f.WriteTo(w); err != nil {
		slog.Warn("failed to stream workbook", "course_id", c.ID, "error", err)
	}
}
