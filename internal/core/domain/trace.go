package domain

import "time"

// StepTrace captures one attempted step with enough detail to reproduce it.
type StepTrace struct {
	StepNumber int            `json:"step_number"`
	Action     Action         `json:"action"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Status     StepStatus     `json:"status"`
	Error      string         `json:"error,omitempty"`
	Duration   time.Duration  `json:"duration"`
}

// ExecutionTrace is the audit artifact emitted once per terminal plan and,
// optionally, once per simple single-step decision.
type ExecutionTrace struct {
	TraceID        string        `json:"trace_id"`
	UserID         string        `json:"user_id"`
	Goal           string        `json:"goal"`
	TemplateUsed   string        `json:"template_used,omitempty"`
	PlanID         string        `json:"plan_id,omitempty"`
	PlanStatus     PlanStatus    `json:"plan_status"`
	StepsAttempted int           `json:"steps_attempted"`
	StepsCompleted int           `json:"steps_completed"`
	Steps          []StepTrace   `json:"steps"`
	Elapsed        time.Duration `json:"elapsed"`
	CreatedAt      time.Time     `json:"created_at"`
}
