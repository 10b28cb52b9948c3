package domain

import "fmt"

// Action is the closed set of executable step kinds. Free-form action strings
// from templates or classifiers must pass ParseAction; unknown names are a
// validation failure, never a silent fallthrough.
type Action string

const (
	ActionFilterData   Action = "filter_data"
	ActionCreateTicket Action = "create_ticket"
	ActionUpdateTicket Action = "update_ticket"
	ActionViewTickets  Action = "view_tickets"
	ActionExportReport Action = "export_report"

	// Internal actions run in-process against prior step results and have no
	// external side effect.
	ActionAnalyzePatterns Action = "analyze_patterns"
	ActionAnalyzeVendor   Action = "analyze_vendor"
	ActionSummarize       Action = "summarize"
)

var actionTraits = map[Action]struct {
	internal  bool
	retryable bool
}{
	ActionFilterData:      {retryable: true},
	ActionCreateTicket:    {},
	ActionUpdateTicket:    {},
	ActionViewTickets:     {retryable: true},
	ActionExportReport:    {retryable: true},
	ActionAnalyzePatterns: {internal: true},
	ActionAnalyzeVendor:   {internal: true},
	ActionSummarize:       {internal: true},
}

func ParseAction(name string) (Action, error) {
	a := Action(name)
	if _, ok := actionTraits[a]; !ok {
		return "", WrapError(ErrValidation, "parse action", fmt.Errorf("unknown action %q", name))
	}
	return a, nil
}

// Internal reports whether the action is a pure in-process transform.
func (a Action) Internal() bool {
	return actionTraits[a].internal
}

// Retryable reports whether a capability error for this action counts as
// transient and may consume retry budget.
func (a Action) Retryable() bool {
	return actionTraits[a].retryable
}

type CapabilityStatus string

const (
	CapabilityOK               CapabilityStatus = "success"
	CapabilityError            CapabilityStatus = "error"
	CapabilityPermissionDenied CapabilityStatus = "permission_denied"
)

// CapabilityResult is the wire shape returned by the external capability
// executor boundary.
type CapabilityResult struct {
	Status  CapabilityStatus `json:"status"`
	Message string           `json:"message"`
	Data    map[string]any   `json:"data,omitempty"`
}

// CallerIdentity travels with every capability call for permission checks
// performed on the far side of the boundary.
type CallerIdentity struct {
	UserID      string `json:"user_id"`
	Role        string `json:"role"`
	WorkspaceID string `json:"workspace_id"`
	SessionID   string `json:"session_id,omitempty"`
}
