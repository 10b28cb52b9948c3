package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/finbotics/business-assistant/internal/core/domain"
)

type EntityRepository struct {
	db *sql.DB
}

func NewEntityRepository(db *sql.DB) *EntityRepository {
	return &EntityRepository{db: db}
}

func (r *EntityRepository) InsertMentions(ctx context.Context, mentions []domain.EntityMention) error {
	if len(mentions) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin mentions tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, m := range mentions {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO entity_mentions (entry_id, entity_type, entity_id, entity_name, context, confidence)
VALUES ($1,$2,$3,$4,$5,$6)
`, m.EntryID, string(m.EntityType), m.EntityID, m.EntityName, m.Context, m.Confidence); err != nil {
			return fmt.Errorf("insert entity mention: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit mentions tx: %w", err)
	}
	return nil
}

// RecentMentions returns the newest mentions of a type within a thread,
// most recent first, for resolving references like "that invoice".
func (r *EntityRepository) RecentMentions(ctx context.Context, threadID string, entityType domain.EntityType, limit int) ([]domain.EntityMention, error) {
	if limit <= 0 {
		limit = 5
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT m.id, m.entry_id, m.entity_type, m.entity_id, m.entity_name, m.context, m.confidence
FROM entity_mentions m
JOIN memory_entries e ON e.id = m.entry_id
WHERE e.thread_id = $1 AND m.entity_type = $2
ORDER BY m.id DESC
LIMIT $3
`, threadID, string(entityType), limit)
	if err != nil {
		return nil, fmt.Errorf("list recent mentions: %w", err)
	}
	defer rows.Close()

	out := make([]domain.EntityMention, 0, limit)
	for rows.Next() {
		var m domain.EntityMention
		var entityType string
		if err := rows.Scan(
			&m.ID,
			&m.EntryID,
			&entityType,
			&m.EntityID,
			&m.EntityName,
			&m.Context,
			&m.Confidence,
		); err != nil {
			return nil, fmt.Errorf("scan entity mention: %w", err)
		}
		m.EntityType = domain.EntityType(entityType)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entity mentions: %w", err)
	}
	return out, nil
}
