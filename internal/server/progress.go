package server

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/p-n-ai/pai-course/internal/progress"
)

func (s *Server) handleListProgress(w http.ResponseWriter, r *http.Request) {
	records, err := s.progress.ListForUser(r.Context(), userID(r))
	if err != nil {
		slog.Error("failed to list progress", "user_id", userID(r), "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load progress")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"records": records,
		"courses": progress.Summarize(records),
	})
}

func (s *Server) handleUpsertProgress(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CourseID  string `json:"courseId"`
		LessonID  string `json:"lessonId"`
		QuizScore *int   `json:"quizScore"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.CourseID == "" || req.LessonID == "" || req.QuizScore == nil {
		writeError(w, http.StatusBadRequest, "courseId, lessonId and quizScore are required")
		return
	}

	c := s.lookupCourse(w, r, req.CourseID)
	if c == nil {
		return
	}
	lesson, ok := c.Lesson(req.LessonID)
	if !ok {
		writeError(w, http.StatusNotFound, "lesson not found")
		return
	}
	if *req.QuizScore > len(lesson.Quiz) {
		writeError(w, http.StatusBadRequest, "quizScore exceeds the number of questions")
		return
	}

	rec, err := s.progress.Upsert(r.Context(), userID(r), c.ID, lesson.ID, *req.QuizScore)
	if errors.Is(err, progress.ErrInvalidScore) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		slog.Error("failed to save progress", "user_id", userID(r), "course_id", c.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save progress")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
