package usecase

import (
	"time"

	"github.com/finbotics/business-assistant/internal/core/domain"
)

// planTemplate is a reusable workflow shape. Step parameters may reference
// plan-level parameters ({{vendor}}) and earlier step results ({{step1.data}}).
type planTemplate struct {
	Name             string
	Description      string
	ApprovalRequired bool
	Steps            []stepTemplate
}

type stepTemplate struct {
	Action        domain.Action
	Description   string
	Parameters    map[string]any
	DependsOn     []int
	ParallelGroup string
	Timeout       time.Duration
	MaxRetries    int
}

const (
	templateInvoiceInvestigation = "invoice_investigation"
	templateVendorAnalysis       = "vendor_analysis"
	templateMonthlyReview        = "monthly_review"
)

func builtinTemplates() map[string]planTemplate {
	return map[string]planTemplate{
		templateInvoiceInvestigation: {
			Name:        templateInvoiceInvestigation,
			Description: "Investigate invoices for a vendor and open a ticket with findings",
			Steps: []stepTemplate{
				{
					Action:      domain.ActionFilterData,
					Description: "Collect matching invoices",
					Parameters: map[string]any{
						"dataset": "invoices",
						"filters": map[string]any{
							"vendor": "{{vendor}}",
							"status": "{{status}}",
						},
					},
				},
				{
					Action:      domain.ActionAnalyzePatterns,
					Description: "Analyze the collected invoices for anomalies",
					Parameters: map[string]any{
						"records": "{{step1.data.records}}",
					},
					DependsOn: []int{1},
				},
				{
					Action:      domain.ActionCreateTicket,
					Description: "Open a ticket with the findings",
					Parameters: map[string]any{
						"title":       "Invoice investigation: {{vendor}}",
						"description": "{{step2.data.summary}}",
						"priority":    "high",
					},
					DependsOn: []int{2},
				},
			},
		},
		templateVendorAnalysis: {
			Name:        templateVendorAnalysis,
			Description: "Cross-check a vendor's invoices and tickets",
			Steps: []stepTemplate{
				{
					Action:      domain.ActionFilterData,
					Description: "Collect the vendor's invoices",
					Parameters: map[string]any{
						"dataset": "invoices",
						"filters": map[string]any{"vendor": "{{vendor}}"},
					},
					ParallelGroup: "collect",
				},
				{
					Action:      domain.ActionFilterData,
					Description: "Collect the vendor's tickets",
					Parameters: map[string]any{
						"dataset": "tickets",
						"filters": map[string]any{"vendor": "{{vendor}}"},
					},
					ParallelGroup: "collect",
				},
				{
					Action:      domain.ActionAnalyzeVendor,
					Description: "Correlate invoices with open tickets",
					Parameters: map[string]any{
						"invoices": "{{step1.data.records}}",
						"tickets":  "{{step2.data.records}}",
						"vendor":   "{{vendor}}",
					},
					DependsOn: []int{1, 2},
				},
				{
					Action:      domain.ActionCreateTicket,
					Description: "Record the vendor assessment",
					Parameters: map[string]any{
						"title":       "Vendor analysis: {{vendor}}",
						"description": "{{step3.data.summary}}",
						"priority":    "medium",
					},
					DependsOn: []int{3},
				},
			},
		},
		templateMonthlyReview: {
			Name:             templateMonthlyReview,
			Description:      "Summarize a month of activity and export the report",
			ApprovalRequired: true,
			Steps: []stepTemplate{
				{
					Action:      domain.ActionFilterData,
					Description: "Collect the month's invoices",
					Parameters: map[string]any{
						"dataset": "invoices",
						"filters": map[string]any{"period": "{{period}}"},
					},
					ParallelGroup: "data_collection",
				},
				{
					Action:      domain.ActionFilterData,
					Description: "Collect the month's tickets",
					Parameters: map[string]any{
						"dataset": "tickets",
						"filters": map[string]any{"period": "{{period}}"},
					},
					ParallelGroup: "data_collection",
				},
				{
					Action:      domain.ActionSummarize,
					Description: "Build the monthly summary",
					Parameters: map[string]any{
						"invoices": "{{step1.data.records}}",
						"tickets":  "{{step2.data.records}}",
						"period":   "{{period}}",
					},
					DependsOn: []int{1, 2},
				},
				{
					Action:      domain.ActionExportReport,
					Description: "Export the summary",
					Parameters: map[string]any{
						"format":  "{{format}}",
						"content": "{{step3.data.summary}}",
					},
					DependsOn: []int{3},
				},
			},
		},
	}
}
