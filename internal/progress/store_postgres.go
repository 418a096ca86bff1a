package progress

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const dbTimeout = 5 * time.Second

// PostgresStore keeps the ledger in the lesson_progress table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a progress store on an existing pool.
func NewPostgresStore(pool *pgxpool.Pool) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is nil")
	}
	return &PostgresStore{pool: pool}, nil
}

const returning = `RETURNING user_id::text, course_id::text, lesson_id, completed, quiz_score, updated_at`

func (s *PostgresStore) Upsert(ctx context.Context, userID, courseID, lessonID string, score int) (*Record, error) {
	if score < 0 {
		return nil, ErrInvalidScore
	}

	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	row := s.pool.QueryRow(ctx,
		`INSERT INTO lesson_progress (user_id, course_id, lesson_id, completed, quiz_score, updated_at)
		 VALUES ($1::uuid, $2::uuid, $3, TRUE, $4, now())
		 ON CONFLICT (user_id, course_id, lesson_id) DO UPDATE
		 SET completed = TRUE, quiz_score = EXCLUDED.quiz_score, updated_at = EXCLUDED.updated_at
		 `+returning,
		userID, courseID, lessonID, score,
	)
	r, err := scanRecord(row)
	if err != nil {
		return nil, fmt.Errorf("upsert progress: %w", err)
	}
	return r, nil
}

func (s *PostgresStore) ListForUser(ctx context.Context, userID string) ([]Record, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	rows, err := s.pool.Query(ctx,
		`SELECT user_id::text, course_id::text, lesson_id, completed, quiz_score, updated_at
		 FROM lesson_progress
		 WHERE user_id = $1::uuid
		 ORDER BY course_id, updated_at, lesson_id`, userID)
	if err != nil {
		return nil, fmt.Errorf("query progress: %w", err)
	}
	defer rows.Close()

	out := []Record{}
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan progress: %w", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func scanRecord(row pgx.Row) (*Record, error) {
	var r Record
	if err := row.Scan(&r.UserID, &r.CourseID, &r.LessonID, &r.Completed, &r.QuizScore, &r.UpdatedAt); err != nil {
		return nil, err
	}
	return &r, nil
}
