package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/finbotics/business-assistant/internal/core/domain"
)

type MemoryRepository struct {
	db *sql.DB
}

func NewMemoryRepository(db *sql.DB) *MemoryRepository {
	return &MemoryRepository{db: db}
}

func (r *MemoryRepository) InsertEntry(ctx context.Context, entry *domain.MemoryEntry) (int64, error) {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	row := r.db.QueryRowContext(ctx, `
INSERT INTO memory_entries (
	thread_id, user_id, role, content, message_type, tool_name, tool_parameters, tool_result, session_id, importance, created_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
RETURNING id
`,
		entry.ThreadID, entry.UserID, string(entry.Role), entry.Text, string(entry.MessageType),
		nullableString(entry.ToolName), nullableRaw(entry.ToolParameters), nullableRaw(entry.ToolResult),
		nullableString(entry.SessionID), entry.Importance, entry.CreatedAt,
	)

	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, fmt.Errorf("insert memory entry: %w", err)
	}
	entry.ID = id
	return id, nil
}

func (r *MemoryRepository) RecentEntries(ctx context.Context, threadID string, limit int) ([]domain.MemoryEntry, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT id, thread_id, user_id, role, content, message_type, COALESCE(tool_name, ''), tool_parameters, tool_result, COALESCE(session_id, ''), importance, created_at
FROM memory_entries
WHERE thread_id = $1
ORDER BY created_at DESC, id DESC
LIMIT $2
`, threadID, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent entries: %w", err)
	}
	defer rows.Close()

	out, err := scanEntries(rows)
	if err != nil {
		return nil, err
	}

	// Returned in descending order from SQL; reverse to keep chronological order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (r *MemoryRepository) EntriesAscending(ctx context.Context, afterID int64, limit int) ([]domain.MemoryEntry, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT id, thread_id, user_id, role, content, message_type, COALESCE(tool_name, ''), tool_parameters, tool_result, COALESCE(session_id, ''), importance, created_at
FROM memory_entries
WHERE id > $1
ORDER BY id ASC
LIMIT $2
`, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("list entries ascending: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

// PruneEntries removes old low-importance entries and reports their ids so
// the semantic index can drop the matching vectors.
func (r *MemoryRepository) PruneEntries(ctx context.Context, olderThan time.Time, maxImportance float64) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx, `
DELETE FROM memory_entries
WHERE created_at < $1 AND importance <= $2
RETURNING id
`, olderThan, maxImportance)
	if err != nil {
		return nil, fmt.Errorf("prune entries: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan pruned id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pruned ids: %w", err)
	}
	return ids, nil
}

func scanEntries(rows *sql.Rows) ([]domain.MemoryEntry, error) {
	out := make([]domain.MemoryEntry, 0)
	for rows.Next() {
		var entry domain.MemoryEntry
		var role, messageType string
		var toolParams, toolResult []byte
		if err := rows.Scan(
			&entry.ID,
			&entry.ThreadID,
			&entry.UserID,
			&role,
			&entry.Text,
			&messageType,
			&entry.ToolName,
			&toolParams,
			&toolResult,
			&entry.SessionID,
			&entry.Importance,
			&entry.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan memory entry: %w", err)
		}
		entry.Role = domain.Role(role)
		entry.MessageType = domain.MessageType(messageType)
		entry.ToolParameters = toolParams
		entry.ToolResult = toolResult
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate memory entries: %w", err)
	}
	return out, nil
}

func nullableRaw(v []byte) interface{} {
	if len(v) == 0 {
		return nil
	}
	return v
}
