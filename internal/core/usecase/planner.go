package usecase

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/finbotics/business-assistant/internal/core/domain"
)

// complexityIndicators group goal phrasings that signal multi-step work.
// Each matched group contributes to the planning score, each matched phrase
// to the match count.
var complexityIndicators = map[string][]string{
	"multi_step":       {"investigate", "analyze and", "check all", "go through", "step by step"},
	"workflow":         {"workflow", "process", "procedure", "pipeline"},
	"business_process": {"monthly review", "month review", "quarterly", "reconcile", "audit"},
	"resolution":       {"resolve", "fix", "follow up", "escalate", "discrepanc"},
	"analysis":         {"analyze", "analysis", "compare", "trend", "summary", "summarize", "report"},
}

var monthNames = []string{
	"january", "february", "march", "april", "may", "june",
	"july", "august", "september", "october", "november", "december",
}

var periodPhrases = []string{
	"last month", "this month", "last week", "this week",
	"last quarter", "this quarter",
}

// extractPeriod pulls a reporting period out of lowercased goal text,
// preferring relative phrases over bare month names.
func extractPeriod(lower string) string {
	for _, phrase := range periodPhrases {
		if strings.Contains(lower, phrase) {
			return phrase
		}
	}
	for _, month := range monthNames {
		if strings.Contains(lower, month) {
			return month
		}
	}
	return ""
}

// Classification is the planning decision for one goal.
type Classification struct {
	NeedsPlanning bool
	Confidence    float64
	Matched       []string
}

type PlannerConfig struct {
	ConfidenceThreshold float64
	StepTimeout         time.Duration
	StepMaxRetries      int
}

func (c PlannerConfig) normalize() PlannerConfig {
	out := c
	if out.ConfidenceThreshold <= 0 {
		out.ConfidenceThreshold = 0.6
	}
	if out.StepTimeout <= 0 {
		out.StepTimeout = 5 * time.Minute
	}
	if out.StepMaxRetries < 0 {
		out.StepMaxRetries = 0
	}
	if out.StepMaxRetries == 0 {
		out.StepMaxRetries = 2
	}
	return out
}

// PlanBuilder turns goals into execution plans: it decides whether a goal
// needs a plan at all, picks a workflow template and instantiates it with
// parameters recovered from the goal and the assembled context.
type PlanBuilder struct {
	templates map[string]planTemplate
	extractor *EntityExtractor
	cfg       PlannerConfig
}

func NewPlanBuilder(extractor *EntityExtractor, cfg PlannerConfig) *PlanBuilder {
	return &PlanBuilder{
		templates: builtinTemplates(),
		extractor: extractor,
		cfg:       cfg.normalize(),
	}
}

// Classify scores how strongly the goal signals multi-step work. A goal is
// routed to planning only when the confidence clears the threshold.
func (b *PlanBuilder) Classify(goal string) Classification {
	lower := strings.ToLower(goal)

	score := 0
	var matched []string
	for _, phrases := range complexityIndicators {
		groupHit := false
		for _, phrase := range phrases {
			if strings.Contains(lower, phrase) {
				matched = append(matched, phrase)
				groupHit = true
			}
		}
		if groupHit {
			score++
		}
	}

	confidence := float64(score)*0.3 + float64(len(matched))*0.4
	if confidence > 1.0 {
		confidence = 1.0
	}
	return Classification{
		NeedsPlanning: score > 0 && confidence > b.cfg.ConfidenceThreshold,
		Confidence:    confidence,
		Matched:       matched,
	}
}

// BuildPlan instantiates the best-fitting template for the goal. Plan-level
// parameters are substituted immediately; step-result references stay in the
// parameters for the executor to resolve.
func (b *PlanBuilder) BuildPlan(userID, goal string, assembled *domain.AssembledContext) (*domain.ExecutionPlan, error) {
	template := b.selectTemplate(goal)
	params := b.planParams(goal, assembled)

	plan := &domain.ExecutionPlan{
		PlanID:           uuid.NewString(),
		UserID:           userID,
		Goal:             goal,
		Description:      template.Description,
		TemplateUsed:     template.Name,
		Status:           domain.PlanPending,
		ApprovalRequired: template.ApprovalRequired,
		CreatedAt:        time.Now().UTC(),
	}

	for i, st := range template.Steps {
		stepParams, err := resolvePlanParams(st.Parameters, params)
		if err != nil {
			return nil, fmt.Errorf("instantiate template %s step %d: %w", template.Name, i+1, err)
		}

		dependsOn := make([]string, 0, len(st.DependsOn))
		for _, dep := range st.DependsOn {
			if dep < 1 || dep > len(template.Steps) {
				return nil, domain.WrapError(domain.ErrValidation, "instantiate template",
					fmt.Errorf("step %d depends on unknown step %d", i+1, dep))
			}
			dependsOn = append(dependsOn, stepID(plan.PlanID, dep))
		}

		timeout := st.Timeout
		if timeout <= 0 {
			timeout = b.cfg.StepTimeout
		}
		maxRetries := st.MaxRetries
		if maxRetries <= 0 {
			maxRetries = b.cfg.StepMaxRetries
		}

		plan.Steps = append(plan.Steps, domain.PlanStep{
			StepID:        stepID(plan.PlanID, i+1),
			StepNumber:    i + 1,
			Action:        st.Action,
			Description:   st.Description,
			Parameters:    stepParams,
			DependsOn:     dependsOn,
			ParallelGroup: st.ParallelGroup,
			Timeout:       timeout,
			MaxRetries:    maxRetries,
			Status:        domain.StepPending,
		})
	}
	if len(plan.Steps) == 0 {
		return nil, domain.WrapError(domain.ErrValidation, "instantiate template",
			fmt.Errorf("template %s has no steps", template.Name))
	}
	return plan, nil
}

func stepID(planID string, number int) string {
	return fmt.Sprintf("%s-s%d", planID[:8], number)
}

func (b *PlanBuilder) selectTemplate(goal string) planTemplate {
	lower := strings.ToLower(goal)

	switch {
	case containsAny(lower, "monthly", "month", "quarterly") && containsAny(lower, "review", "report", "summary", "summarize"):
		return b.templates[templateMonthlyReview]
	case strings.Contains(lower, "vendor") && containsAny(lower, "analy", "review", "assess", "compare"):
		return b.templates[templateVendorAnalysis]
	case strings.Contains(lower, "invoice"):
		return b.templates[templateInvoiceInvestigation]
	}
	if _, ok := b.extractor.FirstVendor(goal); ok {
		return b.templates[templateVendorAnalysis]
	}
	return b.templates[templateInvoiceInvestigation]
}

// planParams recovers the template parameters from the goal text, falling
// back to learned patterns and safe defaults.
func (b *PlanBuilder) planParams(goal string, assembled *domain.AssembledContext) map[string]any {
	params := map[string]any{
		"status": "pending",
		"format": "pdf",
		"period": "current_month",
	}

	if vendor, ok := b.extractor.FirstVendor(goal); ok {
		params["vendor"] = vendor
	} else if vendor := resolvedVendor(assembled); vendor != "" {
		params["vendor"] = vendor
	} else {
		params["vendor"] = "all"
	}

	lower := strings.ToLower(goal)
	if period := extractPeriod(lower); period != "" {
		params["period"] = period
	}
	if containsAny(lower, "unpaid", "overdue") {
		params["status"] = "overdue"
	}

	if assembled != nil {
		for _, p := range assembled.Patterns {
			if p.Key == patternPreferredFormat {
				params["format"] = p.Value
				break
			}
		}
	}
	return params
}

// resolvedVendor prefers an entity mention resolved from the conversation,
// then a learned frequent vendor.
func resolvedVendor(assembled *domain.AssembledContext) string {
	if assembled == nil {
		return ""
	}
	for _, m := range assembled.Entities {
		if m.EntityType == domain.EntityVendor && m.EntityName != "" {
			return m.EntityName
		}
	}
	for _, p := range assembled.Patterns {
		if p.Key == patternFrequentVendor {
			return p.Value
		}
	}
	return ""
}

func containsAny(s string, needles ...string) bool {
	for _, needle := range needles {
		if strings.Contains(s, needle) {
			return true
		}
	}
	return false
}
