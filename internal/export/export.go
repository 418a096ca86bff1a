// Package export renders a course as an XLSX workbook with one sheet of
// lessons and one of quiz questions.
package export

import (
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"

	"github.com/p-n-ai/pai-course/internal/course"
)

const (
	LessonsSheet = "Lessons"
	QuizSheet    = "Quizzes"

	// Excel rejects cells longer than this.
	maxCellChars = 32767
	finalQuizRef = "Final quiz"
)

var (
	lessonHeader = []any{"#", "Lesson", "Video", "Video URL", "Notes"}
	quizHeader   = []any{"Lesson", "#", "Question", "Option A", "Option B", "Option C", "Option D", "Answer"}
)

// WriteWorkbook writes c as an XLSX file to w.
func WriteWorkbook(w io.Writer, c *course.Course) error {
	f, err := Workbook(c)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

// Workbook builds the workbook for c. The caller must Close it.
func Workbook(c *course.Course) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", LessonsSheet); err != nil {
		f.Close()
		return nil, err
	}
	if _, err := f.NewSheet(QuizSheet); err != nil {
		f.Close()
		return nil, err
	}
	if err := f.SetDocProps(&excelize.DocProperties{Title: c.Title, Subject: c.Topic}); err != nil {
		f.Close()
		return nil, err
	}

	if err := writeLessons(f, c); err != nil {
		f.Close()
		return nil, fmt.Errorf("lessons sheet: %w", err)
	}
	if err := writeQuizzes(f, c); err != nil {
		f.Close()
		return nil, fmt.Errorf("quiz sheet: %w", err)
	}
	return f, nil
}

func writeLessons(f *excelize.File, c *course.Course) error {
	if err := writeHeader(f, LessonsSheet, lessonHeader); err != nil {
		return err
	}
	for i, l := range c.Lessons {
		row := []any{i + 1, l.Title, l.VideoTitle, l.VideoURL, clip(l.Notes)}
		if err := setRow(f, LessonsSheet, i+2, row); err != nil {
			return err
		}
	}
	if err := f.SetColWidth(LessonsSheet, "B", "D", 40); err != nil {
		return err
	}
	return f.SetColWidth(LessonsSheet, "E", "E", 100)
}

func writeQuizzes(f *excelize.File, c *course.Course) error {
	if err := writeHeader(f, QuizSheet, quizHeader); err != nil {
		return err
	}
	row := 2
	write := func(ref string, quiz []course.QuizQuestion) error {
		for i, q := range quiz {
			cells := []any{ref, i + 1, q.Question}
			for j := range 4 {
				opt := ""
				if j < len(q.Options) {
					opt = q.Options[j]
				}
				cells = append(cells, opt)
			}
			cells = append(cells, answerLetter(q.CorrectAnswerIndex))
			if err := setRow(f, QuizSheet, row, cells); err != nil {
				return err
			}
			row++
		}
		return nil
	}

	for _, l := range c.Lessons {
		if err := write(l.Title, l.Quiz); err != nil {
			return err
		}
	}
	if err := write(finalQuizRef, c.FinalQuiz); err != nil {
		return err
	}
	return f.SetColWidth(QuizSheet, "C", "C", 60)
}

func writeHeader(f *excelize.File, sheet string, header []any) error {
	style, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}
	if err := setRow(f, sheet, 1, header); err != nil {
		return err
	}
	last, err := excelize.CoordinatesToCellName(len(header), 1)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(sheet, "A1", last, style); err != nil {
		return err
	}
	return f.SetPanes(sheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})
}

func setRow(f *excelize.File, sheet string, row int, cells []any) error {
	start, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	return f.SetSheetRow(sheet, start, &cells)
}

func answerLetter(i int) string {
	if i < 0 || i > 3 {
		return ""
	}
	return string(rune('A' + i))
}

func clip(s string) string {
	if utf8.RuneCountInString(s) <= maxCellChars {
		return s
	}
	r := []rune(s)
	return string(r[:maxCellChars])
}
