package course

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const dbTimeout = 5 * time.Second

// PostgresStore is a PostgreSQL-backed Store. The UNIQUE constraint on
// topic_key rejects a second writer for the same topic.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a course store on an existing pool.
func NewPostgresStore(pool *pgxpool.Pool) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is nil")
	}
	return &PostgresStore{pool: pool}, nil
}

const selectCourse = `SELECT id::text, topic, title, lessons, final_quiz, created_at FROM courses`

func (s *PostgresStore) FindByTopic(ctx context.Context, topic string) (*Course, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	return s.scanOne(s.pool.QueryRow(ctx, selectCourse+` WHERE topic_key = $1`, NormalizeTopic(topic)))
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Course, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	return s.scanOne(s.pool.QueryRow(ctx, selectCourse+` WHERE id::text = $1`, id))
}

func (s *PostgresStore) Save(ctx context.Context, c *Course) (*Course, error) {
	key := NormalizeTopic(c.Topic)
	if key == "" {
		return nil, ErrEmptyTopic
	}

	stored := clone(c)
	prepare(stored)

	lessons, err := json.Marshal(stored.Lessons)
	if err != nil {
		return nil, fmt.Errorf("marshal lessons: %w", err)
	}
	finalQuiz, err := json.Marshal(stored.FinalQuiz)
	if err != nil {
		return nil, fmt.Errorf("marshal final quiz: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	cmd, err := s.pool.Exec(ctx,
		`INSERT INTO courses (id, topic, topic_key, title, lessons, final_quiz, created_at)
		 VALUES ($1::uuid, $2, $3, $4, $5::jsonb, $6::jsonb, $7)
		 ON CONFLICT (topic_key) DO NOTHING`,
		stored.ID,
		stored.Topic,
		key,
		stored.Title,
		string(lessons),
		string(finalQuiz),
		stored.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert course: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return nil, ErrDuplicateTopic
	}
	return stored, nil
}

func (s *PostgresStore) scanOne(row pgx.Row) (*Course, error) {
	var (
		c         Course
		lessons   []byte
		finalQuiz []byte
	)
	err := row.Scan(&c.ID, &c.Topic, &c.Title, &lessons, &finalQuiz, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query course: %w", err)
	}
	if err := json.Unmarshal(lessons, &c.Lessons); err != nil {
		return nil, fmt.Errorf("unmarshal lessons: %w", err)
	}
	if err := json.Unmarshal(finalQuiz, &c.FinalQuiz); err != nil {
		return nil, fmt.Errorf("unmarshal final quiz: %w", err)
	}
	return &c, nil
}
