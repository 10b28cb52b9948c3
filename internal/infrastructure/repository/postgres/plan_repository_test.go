package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/finbotics/business-assistant/internal/core/domain"
)

func planRow(planID, status, approvedBy string) *sqlmock.Rows {
	cols := []string{"plan_id", "user_id", "goal", "description", "template_used", "status", "approval_required", "approved_by", "steps", "created_at", "started_at", "completed_at"}
	return sqlmock.NewRows(cols).
		AddRow(planID, "u-1", "monthly review", "", "monthly_review", status, true, approvedBy, []byte(`[{"step_id":"s1","step_number":1,"action":"filter_data","parameters":{},"timeout":300000000000,"max_retries":2,"attempts":0,"status":"pending"}]`), time.Now(), nil, nil)
}

func TestPlanRepositoryGetPlanUnmarshalsSteps(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	repo := NewPlanRepository(db)
	mock.ExpectQuery("FROM execution_plans").
		WithArgs("p-1").
		WillReturnRows(planRow("p-1", "pending", ""))

	plan, err := repo.GetPlan(context.Background(), "p-1")
	if err != nil {
		t.Fatalf("GetPlan() error = %v", err)
	}
	if len(plan.Steps) != 1 || plan.Steps[0].Action != domain.ActionFilterData {
		t.Fatalf("unexpected steps: %+v", plan.Steps)
	}
	if plan.Approved() {
		t.Fatalf("plan requiring approval must not report approved without approver")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPlanRepositoryGetPlanNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	repo := NewPlanRepository(db)
	mock.ExpectQuery("FROM execution_plans").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"plan_id"}))

	_, err = repo.GetPlan(context.Background(), "missing")
	if !domain.IsKind(err, domain.ErrNotFound) {
		t.Fatalf("expected not found kind, got %v", err)
	}
}

func TestPlanRepositoryApproveRejectsNonPendingPlan(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	repo := NewPlanRepository(db)
	mock.ExpectQuery("FROM execution_plans").
		WithArgs("p-1").
		WillReturnRows(planRow("p-1", "running", ""))

	err = repo.Approve(context.Background(), "p-1", "manager-1")
	if !domain.IsKind(err, domain.ErrValidation) {
		t.Fatalf("expected validation kind, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPlanRepositoryApproveIsIdempotent(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	repo := NewPlanRepository(db)
	mock.ExpectQuery("FROM execution_plans").
		WithArgs("p-1").
		WillReturnRows(planRow("p-1", "pending", "manager-1"))

	if err := repo.Approve(context.Background(), "p-1", "manager-1"); err != nil {
		t.Fatalf("Approve() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
