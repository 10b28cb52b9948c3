package ports

import (
	"context"

	"github.com/finbotics/business-assistant/internal/core/domain"
)

// ChatRequest is one user turn.
type ChatRequest struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id,omitempty"`
	Message   string `json:"message"`
	Role      string `json:"role,omitempty"`
}

// ChatResult is the orchestrated outcome of one turn.
type ChatResult struct {
	Message         string            `json:"message"`
	Success         bool              `json:"success"`
	ThreadID        string            `json:"thread_id,omitempty"`
	ToolUsed        string            `json:"tool_used,omitempty"`
	PlanID          string            `json:"plan_id,omitempty"`
	PlanStatus      domain.PlanStatus `json:"plan_status,omitempty"`
	PendingApproval bool              `json:"pending_approval,omitempty"`
	TraceID         string            `json:"trace_id,omitempty"`
	Cached          bool              `json:"cached,omitempty"`
}

// Conversationalist is the inbound contract for handling user turns.
type Conversationalist interface {
	HandleTurn(ctx context.Context, req ChatRequest) (*ChatResult, error)
}

// PlanReader exposes plan read-back and the approval operation.
type PlanReader interface {
	GetPlan(ctx context.Context, planID string) (*domain.ExecutionPlan, error)
	Approve(ctx context.Context, planID, approvedBy string) error
}
