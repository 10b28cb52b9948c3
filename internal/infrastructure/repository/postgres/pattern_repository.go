package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/finbotics/business-assistant/internal/core/domain"
)

type PatternRepository struct {
	db *sql.DB
}

func NewPatternRepository(db *sql.DB) *PatternRepository {
	return &PatternRepository{db: db}
}

// Reinforce records one more observation of a behavior. Confidence grows by
// a fixed increment per observation and saturates at 1.0.
func (r *PatternRepository) Reinforce(ctx context.Context, userID, key, value string) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO user_patterns (user_id, pattern_key, pattern_value, evidence_count, confidence, last_reinforced)
VALUES ($1, $2, $3, 1, 0.5, $4)
ON CONFLICT (user_id, pattern_key, pattern_value) DO UPDATE
SET evidence_count = user_patterns.evidence_count + 1,
    confidence = LEAST(1.0, user_patterns.confidence + 0.1),
    last_reinforced = EXCLUDED.last_reinforced
`, userID, key, value, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("reinforce pattern: %w", err)
	}
	return nil
}

func (r *PatternRepository) TopPatterns(ctx context.Context, userID string, minEvidence, limit int) ([]domain.UserPattern, error) {
	if limit <= 0 {
		limit = 10
	}
	if minEvidence < 1 {
		minEvidence = 1
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT user_id, pattern_key, pattern_value, evidence_count, confidence, last_reinforced
FROM user_patterns
WHERE user_id = $1 AND evidence_count >= $2
ORDER BY evidence_count DESC, confidence DESC, pattern_key ASC
LIMIT $3
`, userID, minEvidence, limit)
	if err != nil {
		return nil, fmt.Errorf("list top patterns: %w", err)
	}
	defer rows.Close()

	out := make([]domain.UserPattern, 0, limit)
	for rows.Next() {
		var p domain.UserPattern
		if err := rows.Scan(
			&p.UserID,
			&p.Key,
			&p.Value,
			&p.EvidenceCount,
			&p.Confidence,
			&p.LastReinforced,
		); err != nil {
			return nil, fmt.Errorf("scan user pattern: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate user patterns: %w", err)
	}
	return out, nil
}
