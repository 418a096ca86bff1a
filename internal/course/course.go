// Package course defines the generated course model and the stores that keep
// one course per normalized topic.
package course

import (
	"errors"
	"strings"
	"time"

	"golang.org/x/text/cases"
)

var (
	// ErrNotFound is returned when no course matches a lookup.
	ErrNotFound = errors.New("course not found")
	// ErrDuplicateTopic is returned by Save when a course already exists for the topic.
	ErrDuplicateTopic = errors.New("course already exists for topic")
	// ErrEmptyTopic is returned when a topic is blank after trimming.
	ErrEmptyTopic = errors.New("topic is empty")
)

const embedBaseURL = "https://www.youtube.com/embed/"

// QuizQuestion is a single multiple-choice question with four options.
type QuizQuestion struct {
	Question           string   `json:"question"`
	Options            []string `json:"options"`
	CorrectAnswerIndex int      `json:"correctAnswerIndex"`
}

// Valid reports whether q has a question, exactly four non-empty options and
// an answer index that points at one of them.
func (q QuizQuestion) Valid() bool {
	if strings.TrimSpace(q.Question) == "" || len(q.Options) != 4 {
		return false
	}
	for _, o := range q.Options {
		if strings.TrimSpace(o) == "" {
			return false
		}
	}
	return q.CorrectAnswerIndex >= 0 && q.CorrectAnswerIndex < len(q.Options)
}

// Lesson is one subtopic realized as a video, notes and a short quiz.
type Lesson struct {
	ID         string         `json:"id"`
	Title      string         `json:"title"`
	VideoID    string         `json:"videoId"`
	VideoTitle string         `json:"videoTitle,omitempty"`
	VideoURL   string         `json:"videoUrl"`
	Notes      string         `json:"notes"`
	Quiz       []QuizQuestion `json:"quiz"`
}

// Course is the full result of a generation run.
type Course struct {
	ID        string         `json:"id"`
	Topic     string         `json:"topic"`
	Title     string         `json:"title"`
	Lessons   []Lesson       `json:"lessons"`
	FinalQuiz []QuizQuestion `json:"finalQuiz"`
	CreatedAt time.Time      `json:"createdAt"`
}

// Lesson returns the lesson with the given id.
func (c *Course) Lesson(id string) (Lesson, bool) {
	for _, l := range c.Lessons {
		if l.ID == id {
			return l, true
		}
	}
	return Lesson{}, false
}

// NormalizeTopic returns the cache key for a topic: trimmed, inner whitespace
// collapsed to single spaces, and Unicode case-folded.
func NormalizeTopic(topic string) string {
	collapsed := strings.Join(strings.Fields(topic), " ")
	return cases.Fold().String(collapsed)
}

// CleanTopic trims the display form of a topic and rejects blank input.
func CleanTopic(topic string) (string, error) {
	t := strings.Join(strings.Fields(topic), " ")
	if t == "" {
		return "", ErrEmptyTopic
	}
	return t, nil
}

// Title derives the display title of a course.
func Title(topic string) string {
	return topic + " - Complete Course"
}

// EmbedURL builds the embeddable player URL for a video id.
func EmbedURL(videoID string) string {
	return embedBaseURL + videoID
}
