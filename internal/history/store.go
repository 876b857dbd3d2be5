package history

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/errors"
)

const schema = `
CREATE TABLE IF NOT EXISTS histories (
	history_id   UUID PRIMARY KEY,
	session_id   TEXT NOT NULL,
	quiz_id      TEXT NOT NULL DEFAULT '',
	title        TEXT NOT NULL,
	participants TEXT[] NOT NULL DEFAULT '{}',
	started_at   TIMESTAMPTZ NOT NULL,
	ended_at     TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS history_scores (
	history_id  UUID NOT NULL REFERENCES histories (history_id) ON DELETE CASCADE,
	username    TEXT NOT NULL,
	score       NUMERIC NOT NULL,
	bonus_count INT NOT NULL DEFAULT 0,
	PRIMARY KEY (history_id, username)
);`

type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the history tables if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate history: %w", err)
	}
	return nil
}

// Save inserts the record and its scores in one transaction.
func (s *PostgresStore) Save(ctx context.Context, h domain.History) (err error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			err = stderrors.Join(err, tx.Rollback(ctx))
		}
	}()

	const (
		insHistoryStmt = `
INSERT INTO histories (history_id, session_id, quiz_id, title, participants, started_at, ended_at)
VALUES ($1, $2, $3, $4, $5, $6, $7);`
		insScoreStmt = `INSERT INTO history_scores (history_id, username, score, bonus_count) VALUES ($1, $2, $3, $4);`
	)

	_, err = tx.Exec(ctx, insHistoryStmt, h.HistoryID, h.SessionID, h.QuizID, h.Title, h.Participants, h.StartedAt, h.EndedAt)
	if err != nil {
		return fmt.Errorf("insert history: %w", err)
	}

	batch := &pgx.Batch{}
	for _, sc := range h.Scores {
		batch.Queue(insScoreStmt, h.HistoryID, sc.Username, sc.Points, sc.BonusCount)
	}
	if err = tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert scores: %w", err)
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) Get(ctx context.Context, historyID string) (domain.History, error) {
	const stmt = `
SELECT history_id::text, session_id, quiz_id, title, participants, started_at, ended_at
FROM histories
WHERE history_id = $1;`

	var h domain.History
	err := s.db.QueryRow(ctx, stmt, historyID).
		Scan(&h.HistoryID, &h.SessionID, &h.QuizID, &h.Title, &h.Participants, &h.StartedAt, &h.EndedAt)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return domain.History{}, errors.New(errors.CodeNotFound, errors.WithMessagef("history not found: %s", historyID))
	}
	if err != nil {
		return domain.History{}, fmt.Errorf("get history: %w", err)
	}

	h.Scores, err = s.listScores(ctx, historyID)
	if err != nil {
		return domain.History{}, err
	}

	return h, nil
}

func (s *PostgresStore) listScores(ctx context.Context, historyID string) ([]domain.HistoryScore, error) {
	const stmt = `
SELECT username, score, bonus_count
FROM history_scores
WHERE history_id = $1
ORDER BY score DESC, username;`

	rows, err := s.db.Query(ctx, stmt, historyID)
	if err != nil {
		return nil, fmt.Errorf("list scores: %w", err)
	}

	scores, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.HistoryScore, error) {
		var sc domain.HistoryScore
		if err := r.Scan(&sc.Username, &sc.Points, &sc.BonusCount); err != nil {
			return domain.HistoryScore{}, err
		}
		return sc, nil
	})
	if err != nil {
		return nil, fmt.Errorf("list scores: %w", err)
	}

	return scores, nil
}
