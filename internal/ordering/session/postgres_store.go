package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"order-workers/internal/common/database"
	"order-workers/internal/models"
)

// PostgresStore keeps sessions in chat_sessions with a version column that
// every write is conditioned on.
type PostgresStore struct {
	db *database.PostgresClient
}

func NewPostgresStore(db *database.PostgresClient) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Load(ctx context.Context, userID string) (models.SessionState, bool, error) {
	var raw []byte
	err := s.db.DB.QueryRowContext(ctx,
		`SELECT state FROM chat_sessions WHERE user_id = $1`, userID,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return models.SessionState{}, false, nil
	}
	if err != nil {
		return models.SessionState{}, false, fmt.Errorf("select session: %w", err)
	}
	var state models.SessionState
	if err := json.Unmarshal(raw, &state); err != nil {
		return models.SessionState{}, false, fmt.Errorf("decode session %s: %w", userID, err)
	}
	return state, true, nil
}

func (s *PostgresStore) CompareAndSwap(ctx context.Context, expected int64, next models.SessionState) error {
	payload, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	var res sql.Result
	if expected == 0 {
		res, err = s.db.DB.ExecContext(ctx, `
			INSERT INTO chat_sessions (user_id, state, version, last_activity_at, updated_at)
			VALUES ($1, $2, $3, $4, NOW())
			ON CONFLICT (user_id) DO NOTHING`,
			next.UserID, payload, next.Version, next.LastActivityAt)
	} else {
		res, err = s.db.DB.ExecContext(ctx, `
			UPDATE chat_sessions
			SET state = $2, version = $3, last_activity_at = $4, updated_at = NOW()
			WHERE user_id = $1 AND version = $5`,
			next.UserID, payload, next.Version, next.LastActivityAt, expected)
	}
	if err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	if n == 0 {
		return ErrVersionMismatch
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, userID string, expectedVersion int64) error {
	if expectedVersion == 0 {
		if _, err := s.db.DB.ExecContext(ctx, `DELETE FROM chat_sessions WHERE user_id = $1`, userID); err != nil {
			return fmt.Errorf("delete session: %w", err)
		}
		return nil
	}

	res, err := s.db.DB.ExecContext(ctx,
		`DELETE FROM chat_sessions WHERE user_id = $1 AND version = $2`, userID, expectedVersion)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("delete session: %w", err)
	} else if n > 0 {
		return nil
	}

	// Nothing deleted: either already gone or moved on.
	var version int64
	err = s.db.DB.QueryRowContext(ctx,
		`SELECT version FROM chat_sessions WHERE user_id = $1`, userID,
	).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("select session version: %w", err)
	}
	return ErrVersionMismatch
}

func (s *PostgresStore) ListIdle(ctx context.Context, before time.Time) ([]SessionRef, error) {
	rows, err := s.db.DB.QueryContext(ctx,
		`SELECT user_id, version FROM chat_sessions WHERE last_activity_at < $1 ORDER BY user_id`, before)
	if err != nil {
		return nil, fmt.Errorf("list idle sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionRef
	for rows.Next() {
		var ref SessionRef
		if err := rows.Scan(&ref.UserID, &ref.Version); err != nil {
			return nil, fmt.Errorf("scan idle session: %w", err)
		}
		out = append(out, ref)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM chat_sessions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count sessions: %w", err)
	}
	return n, nil
}
