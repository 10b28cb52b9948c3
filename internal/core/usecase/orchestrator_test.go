package usecase

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/finbotics/business-assistant/internal/core/domain"
	"github.com/finbotics/business-assistant/internal/core/ports"
)

type fakeReplyCache struct {
	mu      sync.Mutex
	replies map[string]string
}

func (f *fakeReplyCache) Get(userID, message string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	reply, ok := f.replies[userID+"|"+message]
	return reply, ok
}

func (f *fakeReplyCache) Put(userID, message, reply string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.replies == nil {
		f.replies = map[string]string{}
	}
	f.replies[userID+"|"+message] = reply
}

func (f *fakeReplyCache) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies = nil
}

type capturingMetrics struct {
	mu        sync.Mutex
	turns     map[string]int
	fallbacks int
	cacheHits int
}

func (m *capturingMetrics) ObserveTurn(_, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.turns == nil {
		m.turns = map[string]int{}
	}
	m.turns[outcome]++
}

func (m *capturingMetrics) ObserveLLMFallback() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallbacks++
}

func (m *capturingMetrics) ObserveCacheHit() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cacheHits++
}

type assistantFixture struct {
	assistant *Assistant
	caps      *fakeCapability
	plans     *fakePlanStore
	traces    *fakeTraceSink
	generator *fakeGenerator
	metrics   *capturingMetrics
	entries   *fakeEntryStore
}

func newAssistantFixture() *assistantFixture {
	entries := &fakeEntryStore{}
	patterns := &fakePatternStore{}
	session := &fakeSessionStore{}
	mentions := &fakeEntityStore{}
	index := &fakeIndex{}
	threads := newFakeThreadStore("u-1")
	extractor := NewEntityExtractor([]string{"IndiSky", "TechSolutions"})

	memory := NewMemoryService(threads, entries, mentions, patterns, session, index, extractor, MemoryServiceConfig{}, nil)
	assembler := NewContextAssembler(entries, patterns, session, mentions, index, AssemblerConfig{}, nil)
	builder := NewPlanBuilder(extractor, PlannerConfig{StepTimeout: time.Second, StepMaxRetries: 2})

	caps := newFakeCapability()
	plans := &fakePlanStore{}
	traces := &fakeTraceSink{}
	engine := NewEngine(plans, caps, traces, nil, EngineConfig{RetryBackoff: time.Millisecond}, nil)

	generator := &fakeGenerator{reply: "Happy to help with invoices, vendors and tickets."}
	metrics := &capturingMetrics{}
	assistant := NewAssistant(memory, assembler, builder, engine, threads, plans, traces, generator,
		&fakeReplyCache{}, metrics, AssistantConfig{ServiceName: "assistant"}, nil)

	return &assistantFixture{
		assistant: assistant,
		caps:      caps,
		plans:     plans,
		traces:    traces,
		generator: generator,
		metrics:   metrics,
		entries:   entries,
	}
}

func TestHandleTurnRejectsEmptyInput(t *testing.T) {
	fx := newAssistantFixture()

	_, err := fx.assistant.HandleTurn(context.Background(), ports.ChatRequest{Message: "hello"})
	if !domain.IsKind(err, domain.ErrValidation) {
		t.Fatalf("missing user id should be a validation error, got %v", err)
	}
	_, err = fx.assistant.HandleTurn(context.Background(), ports.ChatRequest{UserID: "u-1", Message: "   "})
	if !domain.IsKind(err, domain.ErrValidation) {
		t.Fatalf("blank message should be a validation error, got %v", err)
	}
}

func TestHandleTurnServesRepeatedQuestionsFromCache(t *testing.T) {
	fx := newAssistantFixture()
	req := ports.ChatRequest{UserID: "u-1", Message: "hello, what can you help me with?"}

	first, err := fx.assistant.HandleTurn(context.Background(), req)
	if err != nil {
		t.Fatalf("HandleTurn() error = %v", err)
	}
	if !first.Success || first.Cached {
		t.Fatalf("first turn must be computed, got %+v", first)
	}

	second, err := fx.assistant.HandleTurn(context.Background(), req)
	if err != nil {
		t.Fatalf("HandleTurn() error = %v", err)
	}
	if !second.Cached || second.Message != first.Message {
		t.Fatalf("second identical turn must come from cache, got %+v", second)
	}
	if fx.generator.callCount() != 1 {
		t.Fatalf("cached turn must not reach the model, got %d calls", fx.generator.callCount())
	}
	if fx.metrics.cacheHits != 1 {
		t.Fatalf("expected 1 cache hit, got %d", fx.metrics.cacheHits)
	}
}

func TestHandleTurnNeverCachesContextDependentMessages(t *testing.T) {
	fx := newAssistantFixture()
	req := ports.ChatRequest{UserID: "u-1", Message: "tell me more about this vendor situation"}

	if _, err := fx.assistant.HandleTurn(context.Background(), req); err != nil {
		t.Fatalf("HandleTurn() error = %v", err)
	}
	res, err := fx.assistant.HandleTurn(context.Background(), req)
	if err != nil {
		t.Fatalf("HandleTurn() error = %v", err)
	}
	if res.Cached {
		t.Fatalf("messages referencing context must bypass the cache")
	}
	if fx.generator.callCount() != 2 {
		t.Fatalf("expected both turns to be computed, got %d calls", fx.generator.callCount())
	}
}

func TestHandleTurnNeverCachesPatternShapedReplies(t *testing.T) {
	fx := newAssistantFixture()
	fx.generator.reply = "You usually export reports as PDF, so I would stick with pdf."
	req := ports.ChatRequest{UserID: "u-1", Message: "which export format do you recommend?"}

	if _, err := fx.assistant.HandleTurn(context.Background(), req); err != nil {
		t.Fatalf("HandleTurn() error = %v", err)
	}
	res, err := fx.assistant.HandleTurn(context.Background(), req)
	if err != nil {
		t.Fatalf("HandleTurn() error = %v", err)
	}
	if res.Cached {
		t.Fatalf("replies shaped by learned patterns must not be cached")
	}
	if fx.generator.callCount() != 2 {
		t.Fatalf("expected both turns to be computed, got %d calls", fx.generator.callCount())
	}
}

func TestHandleTurnFallsBackWhenModelIsDown(t *testing.T) {
	fx := newAssistantFixture()
	fx.generator.err = errors.New("connection refused")

	res, err := fx.assistant.HandleTurn(context.Background(), ports.ChatRequest{
		UserID:  "u-1",
		Message: "good morning",
	})
	if err != nil {
		t.Fatalf("HandleTurn() error = %v", err)
	}
	if !res.Success {
		t.Fatalf("model outage must degrade, not fail the turn: %+v", res)
	}
	if !strings.Contains(res.Message, "having trouble") {
		t.Fatalf("expected deterministic fallback reply, got %q", res.Message)
	}
	if fx.metrics.fallbacks != 1 {
		t.Fatalf("expected 1 recorded fallback, got %d", fx.metrics.fallbacks)
	}
}

func TestHandleTurnRunsSimpleActionDirectly(t *testing.T) {
	fx := newAssistantFixture()
	var gotParams map[string]any
	fx.caps.on(domain.ActionFilterData, func(params map[string]any, _ int) (domain.CapabilityResult, error) {
		gotParams = params
		return domain.CapabilityResult{
			Status:  domain.CapabilityOK,
			Message: "Found 2 overdue invoices from IndiSky.",
			Data:    map[string]any{"records": []any{}},
		}, nil
	})

	res, err := fx.assistant.HandleTurn(context.Background(), ports.ChatRequest{
		UserID:  "u-1",
		Message: "show me overdue invoices from IndiSky",
	})
	if err != nil {
		t.Fatalf("HandleTurn() error = %v", err)
	}
	if !res.Success || res.ToolUsed != string(domain.ActionFilterData) {
		t.Fatalf("expected direct filter_data call, got %+v", res)
	}
	if res.Message != "Found 2 overdue invoices from IndiSky." {
		t.Fatalf("expected the capability message back, got %q", res.Message)
	}
	filters, _ := gotParams["filters"].(map[string]any)
	if filters["vendor"] != "IndiSky" || filters["status"] != "overdue" {
		t.Fatalf("unexpected filters: %v", filters)
	}
	if len(fx.traces.traces) != 1 {
		t.Fatalf("expected 1 trace for the single action, got %d", len(fx.traces.traces))
	}
	if fx.generator.callCount() != 0 {
		t.Fatalf("simple actions must not consult the model")
	}
}

func TestHandleTurnHoldsMonthlyReviewForApproval(t *testing.T) {
	fx := newAssistantFixture()
	fx.caps.succeed(domain.ActionFilterData, map[string]any{
		"data": map[string]any{"records": []any{
			map[string]any{"amount": float64(1200), "status": "paid"},
		}},
	})
	fx.caps.succeed(domain.ActionExportReport, map[string]any{"url": "/exports/rep-1.pdf"})

	res, err := fx.assistant.HandleTurn(context.Background(), ports.ChatRequest{
		UserID:  "u-1",
		Message: "run the monthly review for january",
	})
	if err != nil {
		t.Fatalf("HandleTurn() error = %v", err)
	}
	if !res.PendingApproval || res.PlanID == "" {
		t.Fatalf("monthly review must wait for approval, got %+v", res)
	}
	if fx.caps.callCount(domain.ActionFilterData) != 0 {
		t.Fatalf("no step may run before approval")
	}

	plan, err := fx.plans.GetPlan(context.Background(), res.PlanID)
	if err != nil {
		t.Fatalf("GetPlan() error = %v", err)
	}
	if plan.Status != domain.PlanPending || !plan.ApprovalRequired {
		t.Fatalf("expected pending approval-gated plan, got %+v", plan)
	}

	if err := fx.assistant.Approve(context.Background(), res.PlanID, "manager-1"); err != nil {
		t.Fatalf("Approve() error = %v", err)
	}
	plan, err = fx.plans.GetPlan(context.Background(), res.PlanID)
	if err != nil {
		t.Fatalf("GetPlan() error = %v", err)
	}
	if plan.Status != domain.PlanCompleted {
		t.Fatalf("approved plan should have run to completion, got %s", plan.Status)
	}
	if fx.caps.callCount(domain.ActionFilterData) != 2 {
		t.Fatalf("expected both collection steps to run, got %d", fx.caps.callCount(domain.ActionFilterData))
	}
	if fx.caps.callCount(domain.ActionExportReport) != 1 {
		t.Fatalf("expected one export, got %d", fx.caps.callCount(domain.ActionExportReport))
	}
}

func TestHandleTurnReusesRecentResultForExportFollowUp(t *testing.T) {
	fx := newAssistantFixture()
	fx.traces.latest = &domain.ExecutionTrace{
		TraceID:   "tr-filter-7",
		UserID:    "u-1",
		Goal:      string(domain.ActionFilterData),
		CreatedAt: time.Now().UTC().Add(-time.Minute),
	}
	var gotParams map[string]any
	fx.caps.on(domain.ActionExportReport, func(params map[string]any, _ int) (domain.CapabilityResult, error) {
		gotParams = params
		return domain.CapabilityResult{Status: domain.CapabilityOK, Data: map[string]any{"url": "/exports/rep-2.xlsx"}}, nil
	})

	res, err := fx.assistant.HandleTurn(context.Background(), ports.ChatRequest{
		UserID:  "u-1",
		Message: "now export those as excel",
	})
	if err != nil {
		t.Fatalf("HandleTurn() error = %v", err)
	}
	if !res.Success || res.ToolUsed != string(domain.ActionExportReport) {
		t.Fatalf("expected export follow-up, got %+v", res)
	}
	if gotParams["source_trace_id"] != "tr-filter-7" || gotParams["format"] != "excel" {
		t.Fatalf("follow-up must reuse the recent trace, got %v", gotParams)
	}
	if fx.caps.callCount(domain.ActionFilterData) != 0 {
		t.Fatalf("follow-up must not recompute the filter")
	}
}

func TestHandleTurnAnalyzesRecentResultInProcess(t *testing.T) {
	fx := newAssistantFixture()
	fx.traces.latest = &domain.ExecutionTrace{
		TraceID:   "tr-filter-9",
		UserID:    "u-1",
		Goal:      string(domain.ActionFilterData),
		CreatedAt: time.Now().UTC().Add(-2 * time.Minute),
		Steps: []domain.StepTrace{{
			StepNumber: 1,
			Action:     domain.ActionFilterData,
			Parameters: map[string]any{"dataset": "invoices", "filters": map[string]any{"vendor": "IndiSky"}},
			Status:     domain.StepCompleted,
		}},
	}
	var gotParams map[string]any
	fx.caps.on(domain.ActionFilterData, func(params map[string]any, _ int) (domain.CapabilityResult, error) {
		gotParams = params
		return domain.CapabilityResult{Status: domain.CapabilityOK, Data: map[string]any{
			"data": map[string]any{"records": []any{
				map[string]any{"amount": float64(9000), "status": "pending"},
				map[string]any{"amount": float64(50), "status": "paid"},
			}},
		}}, nil
	})

	res, err := fx.assistant.HandleTurn(context.Background(), ports.ChatRequest{
		UserID:  "u-1",
		Message: "can you analyze those results?",
	})
	if err != nil {
		t.Fatalf("HandleTurn() error = %v", err)
	}
	if !res.Success || res.ToolUsed != string(domain.ActionAnalyzePatterns) {
		t.Fatalf("expected in-process analysis follow-up, got %+v", res)
	}
	if !strings.Contains(res.Message, "Analyzed 2 records, 1 flagged") {
		t.Fatalf("unexpected analysis summary: %q", res.Message)
	}
	if gotParams["dataset"] != "invoices" {
		t.Fatalf("expected the recorded filter to be replayed, got %v", gotParams)
	}
}

func TestHandleTurnIgnoresStaleTraceForFollowUp(t *testing.T) {
	fx := newAssistantFixture()
	fx.traces.latest = &domain.ExecutionTrace{
		TraceID:   "tr-old",
		UserID:    "u-1",
		Goal:      string(domain.ActionFilterData),
		CreatedAt: time.Now().UTC().Add(-30 * time.Minute),
	}

	res, err := fx.assistant.HandleTurn(context.Background(), ports.ChatRequest{
		UserID:  "u-1",
		Message: "now export those as excel",
	})
	if err != nil {
		t.Fatalf("HandleTurn() error = %v", err)
	}
	if res.ToolUsed == string(domain.ActionExportReport) {
		t.Fatalf("stale traces must not be reused: %+v", res)
	}
	if fx.caps.callCount(domain.ActionExportReport) != 0 {
		t.Fatalf("no export may run from a stale trace")
	}
}

func TestHandleTurnReportsPlanFailureInReply(t *testing.T) {
	fx := newAssistantFixture()
	fx.caps.on(domain.ActionFilterData, func(map[string]any, int) (domain.CapabilityResult, error) {
		return domain.CapabilityResult{Status: domain.CapabilityPermissionDenied, Message: "no access to invoices"}, nil
	})

	res, err := fx.assistant.HandleTurn(context.Background(), ports.ChatRequest{
		UserID:  "u-1",
		Message: "investigate the invoice discrepancies from IndiSky",
	})
	if err != nil {
		t.Fatalf("HandleTurn() error = %v", err)
	}
	if res.Success {
		t.Fatalf("failed plan must surface as an unsuccessful turn: %+v", res)
	}
	if res.PlanStatus != domain.PlanFailed {
		t.Fatalf("expected failed plan status, got %s", res.PlanStatus)
	}
	if fx.metrics.turns["error"] != 1 {
		t.Fatalf("expected 1 error turn, got %v", fx.metrics.turns)
	}
}
