package domain

import "time"

type PlanStatus string

const (
	PlanPending   PlanStatus = "pending"
	PlanRunning   PlanStatus = "running"
	PlanCompleted PlanStatus = "completed"
	PlanFailed    PlanStatus = "failed"
	PlanCancelled PlanStatus = "cancelled"
)

type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

// Terminal reports whether a step may no longer change status.
func (s StepStatus) Terminal() bool {
	switch s {
	case StepCompleted, StepFailed, StepSkipped:
		return true
	default:
		return false
	}
}

func (s PlanStatus) Terminal() bool {
	switch s {
	case PlanCompleted, PlanFailed, PlanCancelled:
		return true
	default:
		return false
	}
}

type PlanStep struct {
	StepID        string         `json:"step_id"`
	StepNumber    int            `json:"step_number"`
	Action        Action         `json:"action"`
	Description   string         `json:"description,omitempty"`
	Parameters    map[string]any `json:"parameters"`
	DependsOn     []string       `json:"depends_on,omitempty"`
	ParallelGroup string         `json:"parallel_group,omitempty"`
	Timeout       time.Duration  `json:"timeout"`
	MaxRetries    int            `json:"max_retries"`
	Attempts      int            `json:"attempts"`
	Status        StepStatus     `json:"status"`
	Result        map[string]any `json:"result,omitempty"`
	ErrorMessage  string         `json:"error_message,omitempty"`
	StartedAt     *time.Time     `json:"started_at,omitempty"`
	CompletedAt   *time.Time     `json:"completed_at,omitempty"`
}

type ExecutionPlan struct {
	PlanID           string     `json:"plan_id"`
	UserID           string     `json:"user_id"`
	Goal             string     `json:"goal"`
	Description      string     `json:"description"`
	TemplateUsed     string     `json:"template_used,omitempty"`
	Steps            []PlanStep `json:"steps"`
	Status           PlanStatus `json:"status"`
	ApprovalRequired bool       `json:"approval_required"`
	ApprovedBy       string     `json:"approved_by,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
}

func (p *ExecutionPlan) CompletedSteps() int {
	n := 0
	for i := range p.Steps {
		if p.Steps[i].Status == StepCompleted {
			n++
		}
	}
	return n
}

func (p *ExecutionPlan) FailedSteps() int {
	n := 0
	for i := range p.Steps {
		if p.Steps[i].Status == StepFailed {
			n++
		}
	}
	return n
}

// Approved reports whether the approval gate is satisfied.
func (p *ExecutionPlan) Approved() bool {
	return !p.ApprovalRequired || p.ApprovedBy != ""
}
