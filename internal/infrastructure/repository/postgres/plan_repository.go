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

type PlanRepository struct {
	db *sql.DB
}

func NewPlanRepository(db *sql.DB) *PlanRepository {
	return &PlanRepository{db: db}
}

func (r *PlanRepository) CreatePlan(ctx context.Context, plan *domain.ExecutionPlan) error {
	stepsJSON, err := json.Marshal(plan.Steps)
	if err != nil {
		return fmt.Errorf("marshal plan steps: %w", err)
	}
	if plan.CreatedAt.IsZero() {
		plan.CreatedAt = time.Now().UTC()
	}

	_, err = r.db.ExecContext(ctx, `
INSERT INTO execution_plans (
	plan_id, user_id, goal, description, template_used, status, approval_required, approved_by, steps, created_at, started_at, completed_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
`,
		plan.PlanID, plan.UserID, plan.Goal, plan.Description, plan.TemplateUsed, string(plan.Status),
		plan.ApprovalRequired, nullableString(plan.ApprovedBy), stepsJSON, plan.CreatedAt, plan.StartedAt, plan.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("insert plan: %w", err)
	}
	return nil
}

func (r *PlanRepository) UpdatePlan(ctx context.Context, plan *domain.ExecutionPlan) error {
	stepsJSON, err := json.Marshal(plan.Steps)
	if err != nil {
		return fmt.Errorf("marshal plan steps: %w", err)
	}

	result, err := r.db.ExecContext(ctx, `
UPDATE execution_plans
SET status = $2, approved_by = $3, steps = $4, started_at = $5, completed_at = $6
WHERE plan_id = $1
`, plan.PlanID, string(plan.Status), nullableString(plan.ApprovedBy), stepsJSON, plan.StartedAt, plan.CompletedAt)
	if err != nil {
		return fmt.Errorf("update plan: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update plan rows affected: %w", err)
	}
	if affected == 0 {
		return domain.WrapError(domain.ErrNotFound, "update plan", fmt.Errorf("plan %s", plan.PlanID))
	}
	return nil
}

func (r *PlanRepository) GetPlan(ctx context.Context, planID string) (*domain.ExecutionPlan, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT plan_id, user_id, goal, description, template_used, status, approval_required, COALESCE(approved_by, ''), steps, created_at, started_at, completed_at
FROM execution_plans
WHERE plan_id = $1
`, planID)

	plan, err := scanPlan(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrNotFound, "get plan", fmt.Errorf("plan %s", planID))
		}
		return nil, err
	}
	return plan, nil
}

// Approve stamps the approver on a pending plan. Approving a plan that is
// not pending is a validation error, approving twice is idempotent.
func (r *PlanRepository) Approve(ctx context.Context, planID, approvedBy string) error {
	plan, err := r.GetPlan(ctx, planID)
	if err != nil {
		return err
	}
	if plan.ApprovedBy == approvedBy && plan.ApprovedBy != "" {
		return nil
	}
	if plan.Status != domain.PlanPending {
		return domain.WrapError(domain.ErrValidation, "approve plan", fmt.Errorf("plan %s is %s", planID, plan.Status))
	}

	_, err = r.db.ExecContext(ctx, `
UPDATE execution_plans SET approved_by = $2 WHERE plan_id = $1
`, planID, approvedBy)
	if err != nil {
		return fmt.Errorf("approve plan: %w", err)
	}
	return nil
}

func (r *PlanRepository) ListPlans(ctx context.Context, userID string, limit int) ([]domain.ExecutionPlan, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT plan_id, user_id, goal, description, template_used, status, approval_required, COALESCE(approved_by, ''), steps, created_at, started_at, completed_at
FROM execution_plans
WHERE user_id = $1
ORDER BY created_at DESC
LIMIT $2
`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	defer rows.Close()

	out := make([]domain.ExecutionPlan, 0, limit)
	for rows.Next() {
		plan, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *plan)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate plans: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPlan(row rowScanner) (*domain.ExecutionPlan, error) {
	var plan domain.ExecutionPlan
	var status string
	var stepsRaw []byte
	var startedAt, completedAt sql.NullTime

	err := row.Scan(
		&plan.PlanID,
		&plan.UserID,
		&plan.Goal,
		&plan.Description,
		&plan.TemplateUsed,
		&status,
		&plan.ApprovalRequired,
		&plan.ApprovedBy,
		&stepsRaw,
		&plan.CreatedAt,
		&startedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	plan.Status = domain.PlanStatus(status)
	if startedAt.Valid {
		t := startedAt.Time
		plan.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		plan.CompletedAt = &t
	}
	if err := json.Unmarshal(stepsRaw, &plan.Steps); err != nil {
		return nil, fmt.Errorf("unmarshal plan steps: %w", err)
	}
	return &plan, nil
}
