package synthesis

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/p-n-ai/pai-course/internal/course"
)

// quizRequestSchema is sent to the model. It stays inside the keyword subset
// that strict structured-output modes accept.
const quizRequestSchema = `{
  "type": "object",
  "properties": {
    "questions": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "question": {"type": "string"},
          "options": {"type": "array", "items": {"type": "string"}},
          "correctAnswerIndex": {"type": "integer"}
        },
        "required": ["question", "options", "correctAnswerIndex"],
        "additionalProperties": false
      }
    }
  },
  "required": ["questions"],
  "additionalProperties": false
}`

// questionSchema is what every accepted question must satisfy.
const questionSchema = `{
  "type": "object",
  "properties": {
    "question": {"type": "string", "minLength": 1},
    "options": {
      "type": "array",
      "items": {"type": "string", "minLength": 1},
      "minItems": 4,
      "maxItems": 4
    },
    "correctAnswerIndex": {"type": "integer", "minimum": 0, "maximum": 3}
  },
  "required": ["question", "options", "correctAnswerIndex"]
}`

var compiledQuestionSchema = mustSchema(questionSchema)

func mustSchema(s string) *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(s))
	if err != nil {
		panic(fmt.Sprintf("invalid quiz schema: %v", err))
	}
	return schema
}

// PlaceholderQuiz is returned when the model's quiz output is unusable.
func PlaceholderQuiz() []course.QuizQuestion {
	return []course.QuizQuestion{{
		Question: "Quiz generation failed. Which of these is a good next step?",
		Options: []string{
			"Review the lesson notes",
			"Watch the video again",
			"Try regenerating the course later",
			"All of the above",
		},
		CorrectAnswerIndex: 3,
	}}
}

// parseQuiz extracts valid questions from raw model output. The output may be
// wrapped in a markdown code fence and may be either {"questions": [...]} or a
// bare array. Questions failing the schema are dropped.
func parseQuiz(raw string, count int) ([]course.QuizQuestion, error) {
	text := stripCodeFence(raw)

	var items []json.RawMessage
	if strings.HasPrefix(text, "[") {
		if err := json.Unmarshal([]byte(text), &items); err != nil {
			return nil, fmt.Errorf("decode quiz array: %w", err)
		}
	} else {
		var wrapped struct {
			Questions []json.RawMessage `json:"questions"`
		}
		if err := json.Unmarshal([]byte(text), &wrapped); err != nil {
			return nil, fmt.Errorf("decode quiz object: %w", err)
		}
		items = wrapped.Questions
	}

	questions := make([]course.QuizQuestion, 0, len(items))
	var rejected []string
	for _, item := range items {
		result, err := compiledQuestionSchema.Validate(gojsonschema.NewBytesLoader(item))
		if err != nil {
			rejected = append(rejected, "validate: "+err.Error())
			continue
		}
		if !result.Valid() {
			for _, e := range result.Errors() {
				rejected = append(rejected, e.String())
			}
			continue
		}
		var q course.QuizQuestion
		if err := json.Unmarshal(item, &q); err != nil {
			rejected = append(rejected, "decode: "+err.Error())
			continue
		}
		questions = append(questions, q)
	}

	if len(questions) == 0 {
		return nil, fmt.Errorf("no valid questions in %d items: %s", len(items), strings.Join(rejected, "; "))
	}
	if count > 0 && len(questions) > count {
		questions = questions[:count]
	}
	return questions, nil
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
