package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/finbotics/business-assistant/internal/core/domain"
)

type ThreadRepository struct {
	db *sql.DB
}

func NewThreadRepository(db *sql.DB) *ThreadRepository {
	return &ThreadRepository{db: db}
}

// EnsureActiveThread returns the user's active thread, creating one when
// none exists.
func (r *ThreadRepository) EnsureActiveThread(ctx context.Context, userID string) (*domain.ConversationThread, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT thread_id, user_id, title, thread_type, created_at, last_activity, is_active
FROM conversation_threads
WHERE user_id = $1 AND is_active = TRUE
ORDER BY last_activity DESC
LIMIT 1
`, userID)

	var thread domain.ConversationThread
	err := row.Scan(
		&thread.ThreadID,
		&thread.UserID,
		&thread.Title,
		&thread.ThreadType,
		&thread.CreatedAt,
		&thread.LastActivity,
		&thread.IsActive,
	)
	if err == nil {
		return &thread, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("select active thread: %w", err)
	}
	return r.StartThread(ctx, userID, "", "general")
}

func (r *ThreadRepository) StartThread(ctx context.Context, userID, title, threadType string) (*domain.ConversationThread, error) {
	if threadType == "" {
		threadType = "general"
	}
	now := time.Now().UTC()
	thread := &domain.ConversationThread{
		ThreadID:     uuid.NewString(),
		UserID:       userID,
		Title:        title,
		ThreadType:   threadType,
		CreatedAt:    now,
		LastActivity: now,
		IsActive:     true,
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin start thread tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `
UPDATE conversation_threads SET is_active = FALSE WHERE user_id = $1 AND is_active = TRUE
`, userID); err != nil {
		return nil, fmt.Errorf("deactivate threads: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
INSERT INTO conversation_threads (thread_id, user_id, title, thread_type, created_at, last_activity, is_active)
VALUES ($1,$2,$3,$4,$5,$6,TRUE)
`, thread.ThreadID, thread.UserID, thread.Title, thread.ThreadType, thread.CreatedAt, thread.LastActivity); err != nil {
		return nil, fmt.Errorf("insert thread: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit start thread tx: %w", err)
	}
	return thread, nil
}

func (r *ThreadRepository) SwitchThread(ctx context.Context, userID, threadID string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin switch thread tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `
UPDATE conversation_threads SET is_active = FALSE WHERE user_id = $1 AND is_active = TRUE
`, userID); err != nil {
		return fmt.Errorf("deactivate threads: %w", err)
	}

	result, err := tx.ExecContext(ctx, `
UPDATE conversation_threads
SET is_active = TRUE, last_activity = $3
WHERE thread_id = $1 AND user_id = $2
`, threadID, userID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("activate thread: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("switch thread rows affected: %w", err)
	}
	if affected == 0 {
		return domain.WrapError(domain.ErrNotFound, "switch thread", fmt.Errorf("thread %s", threadID))
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit switch thread tx: %w", err)
	}
	return nil
}

func (r *ThreadRepository) TouchThread(ctx context.Context, threadID string) error {
	_, err := r.db.ExecContext(ctx, `
UPDATE conversation_threads SET last_activity = $2 WHERE thread_id = $1
`, threadID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("touch thread: %w", err)
	}
	return nil
}

func (r *ThreadRepository) ListThreads(ctx context.Context, userID string, limit int) ([]domain.ConversationThread, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT thread_id, user_id, title, thread_type, created_at, last_activity, is_active
FROM conversation_threads
WHERE user_id = $1
ORDER BY last_activity DESC
LIMIT $2
`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list threads: %w", err)
	}
	defer rows.Close()

	out := make([]domain.ConversationThread, 0, limit)
	for rows.Next() {
		var thread domain.ConversationThread
		if err := rows.Scan(
			&thread.ThreadID,
			&thread.UserID,
			&thread.Title,
			&thread.ThreadType,
			&thread.CreatedAt,
			&thread.LastActivity,
			&thread.IsActive,
		); err != nil {
			return nil, fmt.Errorf("scan thread: %w", err)
		}
		out = append(out, thread)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate threads: %w", err)
	}
	return out, nil
}
