package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/finbotics/business-assistant/internal/core/domain"
)

type TraceRepository struct {
	db *sql.DB
}

func NewTraceRepository(db *sql.DB) *TraceRepository {
	return &TraceRepository{db: db}
}

func (r *TraceRepository) Record(ctx context.Context, trace *domain.ExecutionTrace) error {
	stepsJSON, err := json.Marshal(trace.Steps)
	if err != nil {
		return fmt.Errorf("marshal trace steps: %w", err)
	}
	if trace.CreatedAt.IsZero() {
		trace.CreatedAt = time.Now().UTC()
	}

	_, err = r.db.ExecContext(ctx, `
INSERT INTO execution_traces (
	trace_id, user_id, goal, template_used, plan_id, plan_status, steps_attempted, steps_completed, steps, elapsed_ms, created_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
`,
		trace.TraceID, trace.UserID, trace.Goal, trace.TemplateUsed, nullableString(trace.PlanID),
		string(trace.PlanStatus), trace.StepsAttempted, trace.StepsCompleted, stepsJSON,
		trace.Elapsed.Milliseconds(), trace.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert trace: %w", err)
	}
	return nil
}

// LatestActionTrace finds the user's newest trace containing the action,
// used to reuse fresh results for follow-up turns.
func (r *TraceRepository) LatestActionTrace(ctx context.Context, userID string, action domain.Action) (*domain.ExecutionTrace, error) {
	needle, err := json.Marshal([]map[string]string{{"action": string(action)}})
	if err != nil {
		return nil, fmt.Errorf("marshal trace needle: %w", err)
	}

	row := r.db.QueryRowContext(ctx, `
SELECT trace_id, user_id, goal, template_used, COALESCE(plan_id, ''), plan_status, steps_attempted, steps_completed, steps, elapsed_ms, created_at
FROM execution_traces
WHERE user_id = $1 AND steps @> $2::jsonb
ORDER BY created_at DESC
LIMIT 1
`, userID, needle)

	var trace domain.ExecutionTrace
	var planStatus string
	var stepsRaw []byte
	var elapsedMS int64

	err = row.Scan(
		&trace.TraceID,
		&trace.UserID,
		&trace.Goal,
		&trace.TemplateUsed,
		&trace.PlanID,
		&planStatus,
		&trace.StepsAttempted,
		&trace.StepsCompleted,
		&stepsRaw,
		&elapsedMS,
		&trace.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrNotFound, "latest action trace", fmt.Errorf("user %s action %s", userID, action))
		}
		return nil, fmt.Errorf("select latest action trace: %w", err)
	}

	trace.PlanStatus = domain.PlanStatus(planStatus)
	trace.Elapsed = time.Duration(elapsedMS) * time.Millisecond
	if err := json.Unmarshal(stepsRaw, &trace.Steps); err != nil {
		return nil, fmt.Errorf("unmarshal trace steps: %w", err)
	}
	return &trace, nil
}
