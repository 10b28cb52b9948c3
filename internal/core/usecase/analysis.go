package usecase

import (
	"fmt"

	"github.com/finbotics/business-assistant/internal/core/domain"
)

// runInternalAction handles the in-process transform steps. They operate on
// earlier step results only and never reach the capability boundary.
func runInternalAction(action domain.Action, params map[string]any) (map[string]any, error) {
	switch action {
	case domain.ActionAnalyzePatterns:
		return analyzeRecords(params)
	case domain.ActionAnalyzeVendor:
		return analyzeVendor(params)
	case domain.ActionSummarize:
		return summarizePeriod(params)
	default:
		return nil, domain.WrapError(domain.ErrValidation, "run internal action",
			fmt.Errorf("%s is not an internal action", action))
	}
}

func analyzeRecords(params map[string]any) (map[string]any, error) {
	records := asRecords(params["records"])

	total := 0.0
	flagged := 0
	for _, record := range records {
		amount := asFloat(record["amount"])
		total += amount
		if status, _ := record["status"].(string); status == "overdue" || amount > 5000 {
			flagged++
		}
	}

	summary := fmt.Sprintf("Analyzed %d records, %d flagged for follow-up, total amount %.2f",
		len(records), flagged, total)
	return map[string]any{
		"data": map[string]any{
			"count":   len(records),
			"flagged": flagged,
			"total":   total,
			"summary": summary,
		},
		"summary": summary,
	}, nil
}

func analyzeVendor(params map[string]any) (map[string]any, error) {
	vendor, _ := params["vendor"].(string)
	invoices := asRecords(params["invoices"])
	tickets := asRecords(params["tickets"])

	openTickets := 0
	for _, t := range tickets {
		if status, _ := t["status"].(string); status != "closed" {
			openTickets++
		}
	}

	summary := fmt.Sprintf("Vendor %s: %d invoices on file, %d tickets (%d open)",
		vendor, len(invoices), len(tickets), openTickets)
	return map[string]any{
		"data": map[string]any{
			"vendor":       vendor,
			"invoices":     len(invoices),
			"tickets":      len(tickets),
			"open_tickets": openTickets,
			"summary":      summary,
		},
		"summary": summary,
	}, nil
}

func summarizePeriod(params map[string]any) (map[string]any, error) {
	period, _ := params["period"].(string)
	invoices := asRecords(params["invoices"])
	tickets := asRecords(params["tickets"])

	totalInvoiced := 0.0
	for _, inv := range invoices {
		totalInvoiced += asFloat(inv["amount"])
	}

	summary := fmt.Sprintf("Review for %s: %d invoices totaling %.2f, %d tickets",
		period, len(invoices), totalInvoiced, len(tickets))
	return map[string]any{
		"data": map[string]any{
			"period":         period,
			"invoice_count":  len(invoices),
			"ticket_count":   len(tickets),
			"total_invoiced": totalInvoiced,
			"summary":        summary,
		},
		"summary": summary,
	}, nil
}

func asRecords(value any) []map[string]any {
	list, ok := value.([]any)
	if !ok {
		if typed, ok := value.([]map[string]any); ok {
			return typed
		}
		return nil
	}
	out := make([]map[string]any, 0, len(list))
	for _, item := range list {
		if record, ok := item.(map[string]any); ok {
			out = append(out, record)
		}
	}
	return out
}

func asFloat(value any) float64 {
	switch v := value.(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return 0
	}
}
