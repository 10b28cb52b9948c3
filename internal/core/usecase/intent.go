package usecase

import (
	"regexp"
	"strings"

	"github.com/finbotics/business-assistant/internal/core/domain"
)

// SimpleIntent is a single-capability request that bypasses planning.
type SimpleIntent struct {
	Action     domain.Action
	Parameters map[string]any
}

// FollowUpKind selects how a back-referencing request acts on the recent
// result: export it, or analyze it in-process.
type FollowUpKind string

const (
	FollowUpExport  FollowUpKind = "export"
	FollowUpAnalyze FollowUpKind = "analyze"
)

// FollowUpIntent asks to act on the result of a recent action instead of
// recomputing it, e.g. "now export that as PDF" right after a filter.
type FollowUpIntent struct {
	Kind         FollowUpKind
	SourceAction domain.Action
	Format       string
}

var exportFormats = []string{"pdf", "excel", "csv", "json"}

// DetectSimpleAction maps direct single-step requests onto one capability
// call. Anything it does not recognize either goes to planning or to a
// plain conversational reply.
func (b *PlanBuilder) DetectSimpleAction(goal string, assembled *domain.AssembledContext) (SimpleIntent, bool) {
	lower := strings.ToLower(goal)

	switch {
	case containsAny(lower, "show", "list", "view", "find", "get") && strings.Contains(lower, "ticket"):
		params := map[string]any{}
		if id := firstMatch(ticketIDPattern, goal); id != "" {
			params["ticket_id"] = id
		}
		return SimpleIntent{Action: domain.ActionViewTickets, Parameters: params}, true

	case containsAny(lower, "show", "list", "view", "find", "get", "filter") && strings.Contains(lower, "invoice"):
		filters := map[string]any{}
		if vendor, ok := b.extractor.FirstVendor(goal); ok {
			filters["vendor"] = vendor
		} else if vendor := resolvedVendor(assembled); vendor != "" {
			filters["vendor"] = vendor
		}
		switch {
		case containsAny(lower, "unpaid", "overdue"):
			filters["status"] = "overdue"
		case strings.Contains(lower, "failed"):
			filters["status"] = "failed"
		case strings.Contains(lower, "pending"):
			filters["status"] = "pending"
		}
		if period := extractPeriod(lower); period != "" {
			filters["period"] = period
		}
		return SimpleIntent{
			Action:     domain.ActionFilterData,
			Parameters: map[string]any{"dataset": "invoices", "filters": filters},
		}, true

	case containsAny(lower, "create a ticket", "open a ticket", "raise a ticket"):
		params := map[string]any{"title": strings.TrimSpace(goal), "priority": "medium"}
		if vendor, ok := b.extractor.FirstVendor(goal); ok {
			params["vendor"] = vendor
		}
		return SimpleIntent{Action: domain.ActionCreateTicket, Parameters: params}, true

	case containsAny(lower, "update ticket", "close ticket", "reopen ticket"):
		params := map[string]any{}
		if id := firstMatch(ticketIDPattern, goal); id != "" {
			params["ticket_id"] = id
		} else if ticket := resolvedTicket(assembled); ticket != "" {
			params["ticket_id"] = ticket
		}
		if strings.Contains(lower, "close") {
			params["status"] = "closed"
		} else if strings.Contains(lower, "reopen") {
			params["status"] = "open"
		}
		return SimpleIntent{Action: domain.ActionUpdateTicket, Parameters: params}, true
	}

	return SimpleIntent{}, false
}

// DetectFollowUp recognizes export and analysis requests that refer back to
// a recent result rather than naming new data.
func (b *PlanBuilder) DetectFollowUp(goal string) (FollowUpIntent, bool) {
	lower := strings.ToLower(goal)
	if !containsAny(lower, "that", "those", "them", " it", "the results", "this") {
		return FollowUpIntent{}, false
	}

	switch {
	case strings.Contains(lower, "export") || strings.Contains(lower, "email that"):
		format := "pdf"
		for _, f := range exportFormats {
			if strings.Contains(lower, f) {
				format = f
				break
			}
		}
		return FollowUpIntent{Kind: FollowUpExport, SourceAction: domain.ActionFilterData, Format: format}, true

	case containsAny(lower, "analyze", "analysis", "anything unusual", "anomal"):
		return FollowUpIntent{Kind: FollowUpAnalyze, SourceAction: domain.ActionFilterData}, true
	}

	return FollowUpIntent{}, false
}

func resolvedTicket(assembled *domain.AssembledContext) string {
	if assembled == nil {
		return ""
	}
	for _, m := range assembled.Entities {
		if m.EntityType == domain.EntityTicket && m.EntityID != "" {
			return m.EntityID
		}
	}
	return ""
}

func firstMatch(pattern *regexp.Regexp, text string) string {
	return pattern.FindString(strings.ToUpper(text))
}
