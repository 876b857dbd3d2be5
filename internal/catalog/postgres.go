package catalog

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/errors"
)

const schema = `
CREATE TABLE IF NOT EXISTS quizzes (
	quiz_id    TEXT PRIMARY KEY,
	title      TEXT NOT NULL,
	owner      TEXT NOT NULL DEFAULT '',
	public     BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS questions (
	question_id TEXT PRIMARY KEY,
	quiz_id     TEXT REFERENCES quizzes (quiz_id) ON DELETE CASCADE,
	position    INT NOT NULL DEFAULT 0,
	text        TEXT NOT NULL,
	type        TEXT NOT NULL,
	points      BIGINT NOT NULL,
	duration_ms BIGINT NOT NULL DEFAULT 0,
	choices     JSONB NOT NULL DEFAULT '[]'
);

CREATE INDEX IF NOT EXISTS questions_quiz_idx ON questions (quiz_id, position);
CREATE INDEX IF NOT EXISTS questions_bank_idx ON questions (type) WHERE quiz_id IS NULL;`

type Config struct {
	DB *pgxpool.Pool
}

// Postgres reads quizzes and the shared question bank. Bank questions are rows without a quiz.
type Postgres struct {
	db *pgxpool.Pool
}

func NewPostgres(c Config) *Postgres {
	return &Postgres{db: c.DB}
}

// Migrate creates the catalog tables if they do not exist.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate catalog: %w", err)
	}
	return nil
}

func (p *Postgres) Quiz(ctx context.Context, quizID, requester string) (domain.Quiz, error) {
	const stmt = `SELECT quiz_id, title, owner, public FROM quizzes WHERE quiz_id = $1;`

	var q domain.Quiz
	err := p.db.QueryRow(ctx, stmt, quizID).Scan(&q.QuizID, &q.Title, &q.Owner, &q.Public)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return domain.Quiz{}, errors.New(errors.CodeNotFound, errors.WithMessagef("quiz not found: %s", quizID))
	}
	if err != nil {
		return domain.Quiz{}, fmt.Errorf("get quiz: %w", err)
	}

	if !visible(q, requester) {
		return domain.Quiz{}, errors.New(errors.CodeNotFound, errors.WithMessagef("quiz not found: %s", quizID))
	}

	const qStmt = `
SELECT question_id, text, type, points, duration_ms, choices
FROM questions
WHERE quiz_id = $1
ORDER BY position;`

	rows, err := p.db.Query(ctx, qStmt, quizID)
	if err != nil {
		return domain.Quiz{}, fmt.Errorf("list questions: %w", err)
	}

	q.Questions, err = pgx.CollectRows(rows, scanQuestion)
	if err != nil {
		return domain.Quiz{}, fmt.Errorf("list questions: %w", err)
	}

	return q, nil
}

func (p *Postgres) RandomQuestions(ctx context.Context, t domain.QuestionType, n int) ([]domain.Question, error) {
	const stmt = `
SELECT question_id, text, type, points, duration_ms, choices
FROM questions
WHERE quiz_id IS NULL AND type = $1
ORDER BY random()
LIMIT $2;`

	rows, err := p.db.Query(ctx, stmt, string(t), n)
	if err != nil {
		return nil, fmt.Errorf("draw questions: %w", err)
	}

	qs, err := pgx.CollectRows(rows, scanQuestion)
	if err != nil {
		return nil, fmt.Errorf("draw questions: %w", err)
	}

	return qs, nil
}

type choiceRow struct {
	Text    string `json:"text"`
	Correct bool   `json:"correct"`
}

func scanQuestion(r pgx.CollectableRow) (domain.Question, error) {
	var (
		q          domain.Question
		typ        string
		durationMs int64
		choices    []choiceRow
	)

	if err := r.Scan(&q.QuestionID, &q.Text, &typ, &q.Points, &durationMs, &choices); err != nil {
		return domain.Question{}, err
	}

	q.Type = domain.QuestionType(typ)
	q.Duration = time.Duration(durationMs) * time.Millisecond
	for _, c := range choices {
		q.Choices = append(q.Choices, domain.Choice{Text: c.Text, Correct: c.Correct})
	}
	return q, nil
}
