package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

type SessionRepository struct {
	db *sql.DB
}

func NewSessionRepository(db *sql.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

func (r *SessionRepository) Put(ctx context.Context, sessionID, userID, key, value string) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO session_state (session_id, user_id, state_key, state_value, updated_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (session_id, state_key) DO UPDATE
SET state_value = EXCLUDED.state_value, updated_at = EXCLUDED.updated_at
`, sessionID, userID, key, value, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("put session state: %w", err)
	}
	return nil
}

func (r *SessionRepository) All(ctx context.Context, sessionID string) (map[string]string, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT state_key, state_value
FROM session_state
WHERE session_id = $1
`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list session state: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scan session state: %w", err)
		}
		out[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate session state: %w", err)
	}
	return out, nil
}

func (r *SessionRepository) Clear(ctx context.Context, sessionID string) error {
	_, err := r.db.ExecContext(ctx, `
DELETE FROM session_state WHERE session_id = $1
`, sessionID)
	if err != nil {
		return fmt.Errorf("clear session state: %w", err)
	}
	return nil
}
