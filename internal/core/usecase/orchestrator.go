package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/finbotics/business-assistant/internal/core/domain"
	"github.com/finbotics/business-assistant/internal/core/ports"
)

// Importance grades steer retention and context assembly. Plain chatter is
// cheap to lose; executed plans are not.
const (
	importancePlain    = 0.3
	importancePending  = 0.7
	importanceToolUse  = 0.8
	importanceExecuted = 0.9
	importanceError    = 0.2
)

// ReplyCache memoizes final replies per user and message.
type ReplyCache interface {
	Get(userID, message string) (string, bool)
	Put(userID, message, reply string)
	Reset()
}

// TurnMetrics is the slice of process metrics the orchestrator reports into.
type TurnMetrics interface {
	ObserveTurn(service, outcome string)
	ObserveLLMFallback()
	ObserveCacheHit()
}

type noopTurnMetrics struct{}

func (noopTurnMetrics) ObserveTurn(string, string) {}

func (noopTurnMetrics) ObserveLLMFallback() {}

func (noopTurnMetrics) ObserveCacheHit() {}

type AssistantConfig struct {
	ServiceName         string
	FollowupReuseWindow time.Duration
	WorkspaceID         string
}

func (c AssistantConfig) normalize() AssistantConfig {
	out := c
	if out.ServiceName == "" {
		out.ServiceName = "assistant"
	}
	if out.FollowupReuseWindow <= 0 {
		out.FollowupReuseWindow = 10 * time.Minute
	}
	return out
}

// Assistant is the thin turn orchestrator: it sequences memory, context
// assembly, planning and execution, and phrases the outcome. All business
// decisions live in the parts it delegates to.
type Assistant struct {
	memory    *MemoryService
	assembler *ContextAssembler
	builder   *PlanBuilder
	engine    *Engine
	threads   ports.ThreadStore
	plans     ports.PlanStore
	traces    ports.TraceSink
	generator ports.ResponseGenerator
	replies   ReplyCache
	metrics   TurnMetrics
	cfg       AssistantConfig
	logger    *slog.Logger
}

func NewAssistant(
	memory *MemoryService,
	assembler *ContextAssembler,
	builder *PlanBuilder,
	engine *Engine,
	threads ports.ThreadStore,
	plans ports.PlanStore,
	traces ports.TraceSink,
	generator ports.ResponseGenerator,
	replies ReplyCache,
	metrics TurnMetrics,
	cfg AssistantConfig,
	logger *slog.Logger,
) *Assistant {
	if metrics == nil {
		metrics = noopTurnMetrics{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Assistant{
		memory:    memory,
		assembler: assembler,
		builder:   builder,
		engine:    engine,
		threads:   threads,
		plans:     plans,
		traces:    traces,
		generator: generator,
		replies:   replies,
		metrics:   metrics,
		cfg:       cfg.normalize(),
		logger:    logger,
	}
}

func (a *Assistant) HandleTurn(ctx context.Context, req ports.ChatRequest) (*ports.ChatResult, error) {
	if strings.TrimSpace(req.UserID) == "" {
		return nil, domain.WrapError(domain.ErrValidation, "handle turn", fmt.Errorf("user id is required"))
	}
	if strings.TrimSpace(req.Message) == "" {
		return nil, domain.WrapError(domain.ErrValidation, "handle turn", fmt.Errorf("message is required"))
	}
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = "session-" + req.UserID
	}

	if a.replies != nil && !referencesContext(req.Message) {
		if reply, ok := a.replies.Get(req.UserID, req.Message); ok {
			a.metrics.ObserveCacheHit()
			a.metrics.ObserveTurn(a.cfg.ServiceName, "cache_hit")
			return &ports.ChatResult{Message: reply, Success: true, Cached: true}, nil
		}
	}

	thread, err := a.threads.EnsureActiveThread(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("ensure active thread: %w", err)
	}

	if _, err := a.memory.RecordTurn(ctx, domain.TurnRecord{
		UserID:     req.UserID,
		SessionID:  sessionID,
		ThreadID:   thread.ThreadID,
		Role:       domain.RoleUser,
		Text:       req.Message,
		Importance: importancePlain,
	}); err != nil {
		return nil, err
	}

	assembled, err := a.assembler.Assemble(ctx, req.UserID, thread.ThreadID, sessionID, req.Message)
	if err != nil {
		return nil, err
	}

	caller := domain.CallerIdentity{
		UserID:      req.UserID,
		Role:        req.Role,
		WorkspaceID: a.cfg.WorkspaceID,
		SessionID:   sessionID,
	}

	var result *ports.ChatResult
	switch {
	case a.isFollowUp(ctx, req, assembled):
		result = a.handleFollowUp(ctx, req, thread, sessionID, caller)
	default:
		classification := a.builder.Classify(req.Message)
		if classification.NeedsPlanning {
			result = a.handlePlanned(ctx, req, thread, sessionID, assembled, caller)
		} else if intent, ok := a.builder.DetectSimpleAction(req.Message, assembled); ok {
			result = a.handleSimple(ctx, req, thread, sessionID, caller, intent)
		} else {
			result = a.handleConversational(ctx, req, thread, sessionID, assembled)
		}
	}

	result.ThreadID = thread.ThreadID

	if result.Success {
		a.metrics.ObserveTurn(a.cfg.ServiceName, "success")
	} else {
		a.metrics.ObserveTurn(a.cfg.ServiceName, "error")
	}
	if a.replies != nil && result.Success && cacheable(result) && !referencesContext(req.Message) {
		a.replies.Put(req.UserID, req.Message, result.Message)
	}
	return result, nil
}

func (a *Assistant) isFollowUp(ctx context.Context, req ports.ChatRequest, assembled *domain.AssembledContext) bool {
	intent, ok := a.builder.DetectFollowUp(req.Message)
	if !ok {
		return false
	}
	trace, err := a.traces.LatestActionTrace(ctx, req.UserID, intent.SourceAction)
	if err != nil || trace == nil {
		return false
	}
	return time.Since(trace.CreatedAt) <= a.cfg.FollowupReuseWindow
}

// handleFollowUp acts on the user's freshest matching result instead of
// recomputing the request from scratch: export hands the trace id to the
// tool service, analyze replays the recorded filter and inspects the records
// in-process.
func (a *Assistant) handleFollowUp(ctx context.Context, req ports.ChatRequest, thread *domain.ConversationThread, sessionID string, caller domain.CallerIdentity) *ports.ChatResult {
	intent, _ := a.builder.DetectFollowUp(req.Message)
	trace, err := a.traces.LatestActionTrace(ctx, req.UserID, intent.SourceAction)
	if err != nil {
		return a.failureResult(ctx, req, thread, sessionID, "", err)
	}

	if intent.Kind == FollowUpAnalyze {
		return a.analyzeRecentResult(ctx, req, thread, sessionID, caller, trace)
	}

	params := map[string]any{
		"format":          intent.Format,
		"source_trace_id": trace.TraceID,
	}
	exportTrace, _, err := a.engine.RunSingle(ctx, req.UserID, domain.ActionExportReport, params, caller)
	if err != nil {
		return a.failureResult(ctx, req, thread, sessionID, string(domain.ActionExportReport), err)
	}

	message := fmt.Sprintf("Exported the results from your last query as %s.", strings.ToUpper(intent.Format))
	a.recordAssistantTurn(ctx, req.UserID, sessionID, thread.ThreadID, message, string(domain.ActionExportReport), params, importanceToolUse)
	return &ports.ChatResult{
		Message:  message,
		Success:  true,
		ToolUsed: string(domain.ActionExportReport),
		TraceID:  exportTrace.TraceID,
	}
}

// analyzeRecentResult replays the filter parameters recorded in the trace
// and runs the pattern analysis over the fresh records. Traces persist step
// parameters, not result payloads, so the replay is what "reuse" means here.
func (a *Assistant) analyzeRecentResult(ctx context.Context, req ports.ChatRequest, thread *domain.ConversationThread, sessionID string, caller domain.CallerIdentity, trace *domain.ExecutionTrace) *ports.ChatResult {
	filterParams := filterParamsFromTrace(trace)
	if filterParams == nil {
		err := domain.WrapError(domain.ErrValidation, "analyze follow-up",
			fmt.Errorf("trace %s has no filter step to replay", trace.TraceID))
		return a.failureResult(ctx, req, thread, sessionID, "", err)
	}

	_, filtered, err := a.engine.RunSingle(ctx, req.UserID, domain.ActionFilterData, filterParams, caller)
	if err != nil {
		return a.failureResult(ctx, req, thread, sessionID, string(domain.ActionFilterData), err)
	}

	analysisTrace, result, err := a.engine.RunSingle(ctx, req.UserID, domain.ActionAnalyzePatterns,
		map[string]any{"records": recordsFrom(filtered)}, caller)
	if err != nil {
		return a.failureResult(ctx, req, thread, sessionID, string(domain.ActionAnalyzePatterns), err)
	}

	message := phraseToolResult(domain.ActionAnalyzePatterns, result)
	a.recordAssistantTurn(ctx, req.UserID, sessionID, thread.ThreadID, message,
		string(domain.ActionAnalyzePatterns), filterParams, importanceToolUse)
	return &ports.ChatResult{
		Message:  message,
		Success:  true,
		ToolUsed: string(domain.ActionAnalyzePatterns),
		TraceID:  analysisTrace.TraceID,
	}
}

func filterParamsFromTrace(trace *domain.ExecutionTrace) map[string]any {
	for _, step := range trace.Steps {
		if step.Action == domain.ActionFilterData && step.Status == domain.StepCompleted {
			return step.Parameters
		}
	}
	return nil
}

func recordsFrom(result map[string]any) any {
	if data, ok := result["data"].(map[string]any); ok {
		if records, ok := data["records"]; ok {
			return records
		}
	}
	return result["records"]
}

func (a *Assistant) handlePlanned(ctx context.Context, req ports.ChatRequest, thread *domain.ConversationThread, sessionID string, assembled *domain.AssembledContext, caller domain.CallerIdentity) *ports.ChatResult {
	plan, err := a.builder.BuildPlan(req.UserID, req.Message, assembled)
	if err != nil {
		return a.failureResult(ctx, req, thread, sessionID, "", err)
	}
	if err := a.plans.CreatePlan(ctx, plan); err != nil {
		return a.failureResult(ctx, req, thread, sessionID, "", err)
	}

	if plan.ApprovalRequired && !plan.Approved() {
		message := fmt.Sprintf("I prepared a %d-step %s plan. It needs approval before I run it (plan %s).",
			len(plan.Steps), plan.TemplateUsed, plan.PlanID)
		a.recordAssistantTurn(ctx, req.UserID, sessionID, thread.ThreadID, message, "", nil, importancePending)
		return &ports.ChatResult{
			Message:         message,
			Success:         true,
			PlanID:          plan.PlanID,
			PlanStatus:      plan.Status,
			PendingApproval: true,
		}
	}

	trace, err := a.engine.Run(ctx, plan, caller)
	if err != nil {
		return a.failureResult(ctx, req, thread, sessionID, "", err)
	}

	message := a.phrasePlanOutcome(plan, trace)
	importance := importanceExecuted
	success := plan.Status == domain.PlanCompleted
	if !success {
		importance = importanceError
	}
	a.recordAssistantTurn(ctx, req.UserID, sessionID, thread.ThreadID, message, "", nil, importance)
	return &ports.ChatResult{
		Message:    message,
		Success:    success,
		PlanID:     plan.PlanID,
		PlanStatus: plan.Status,
		TraceID:    trace.TraceID,
	}
}

func (a *Assistant) handleSimple(ctx context.Context, req ports.ChatRequest, thread *domain.ConversationThread, sessionID string, caller domain.CallerIdentity, intent SimpleIntent) *ports.ChatResult {
	trace, result, err := a.engine.RunSingle(ctx, req.UserID, intent.Action, intent.Parameters, caller)
	if err != nil {
		return a.failureResult(ctx, req, thread, sessionID, string(intent.Action), err)
	}

	message := phraseToolResult(intent.Action, result)
	a.recordAssistantTurn(ctx, req.UserID, sessionID, thread.ThreadID, message, string(intent.Action), intent.Parameters, importanceToolUse)
	return &ports.ChatResult{
		Message:  message,
		Success:  true,
		ToolUsed: string(intent.Action),
		TraceID:  trace.TraceID,
	}
}

func (a *Assistant) handleConversational(ctx context.Context, req ports.ChatRequest, thread *domain.ConversationThread, sessionID string, assembled *domain.AssembledContext) *ports.ChatResult {
	prompt := buildReplyPrompt(req.Message, assembled)
	reply, err := a.generator.GenerateFromPrompt(ctx, prompt)
	if err != nil {
		a.logger.Warn("llm_reply_failed", "user_id", req.UserID, "error", err)
		a.metrics.ObserveLLMFallback()
		reply = fallbackReply(assembled)
	}

	a.recordAssistantTurn(ctx, req.UserID, sessionID, thread.ThreadID, reply, "", nil, importancePlain)
	return &ports.ChatResult{Message: reply, Success: true}
}

func (a *Assistant) failureResult(ctx context.Context, req ports.ChatRequest, thread *domain.ConversationThread, sessionID, tool string, err error) *ports.ChatResult {
	message := phraseFailure(err)
	a.recordAssistantTurn(ctx, req.UserID, sessionID, thread.ThreadID, message, tool, nil, importanceError)
	return &ports.ChatResult{Message: message, Success: false, ToolUsed: tool}
}

func (a *Assistant) recordAssistantTurn(ctx context.Context, userID, sessionID, threadID, text, toolName string, toolParams map[string]any, importance float64) {
	_, err := a.memory.RecordTurn(ctx, domain.TurnRecord{
		UserID:         userID,
		SessionID:      sessionID,
		ThreadID:       threadID,
		Role:           domain.RoleAssistant,
		Text:           text,
		ToolName:       toolName,
		ToolParameters: toolParams,
		Importance:     importance,
	})
	if err != nil {
		a.logger.Warn("assistant_turn_record_failed", "user_id", userID, "error", err)
	}
}

// GetPlan exposes plan read-back for the HTTP surface.
func (a *Assistant) GetPlan(ctx context.Context, planID string) (*domain.ExecutionPlan, error) {
	return a.plans.GetPlan(ctx, planID)
}

// Approve satisfies the approval gate and runs the plan.
func (a *Assistant) Approve(ctx context.Context, planID, approvedBy string) error {
	if err := a.plans.Approve(ctx, planID, approvedBy); err != nil {
		return err
	}
	plan, err := a.plans.GetPlan(ctx, planID)
	if err != nil {
		return err
	}
	if plan.Status != domain.PlanPending {
		return nil
	}

	caller := domain.CallerIdentity{UserID: plan.UserID, WorkspaceID: a.cfg.WorkspaceID}
	if _, err := a.engine.Run(ctx, plan, caller); err != nil {
		return err
	}
	return nil
}

func (a *Assistant) phrasePlanOutcome(plan *domain.ExecutionPlan, trace *domain.ExecutionTrace) string {
	switch plan.Status {
	case domain.PlanCompleted:
		if summary := lastSummary(plan); summary != "" {
			return fmt.Sprintf("Done: %s (%d/%d steps completed).", summary, trace.StepsCompleted, len(plan.Steps))
		}
		return fmt.Sprintf("Done. Completed %d of %d steps for %q.", trace.StepsCompleted, len(plan.Steps), plan.Goal)
	case domain.PlanCancelled:
		return fmt.Sprintf("Stopped the %s plan before it finished; %d steps had completed.", plan.TemplateUsed, trace.StepsCompleted)
	default:
		return fmt.Sprintf("The %s plan did not finish: %d of %d steps completed, %d failed.",
			plan.TemplateUsed, trace.StepsCompleted, len(plan.Steps), plan.FailedSteps())
	}
}

func lastSummary(plan *domain.ExecutionPlan) string {
	for i := len(plan.Steps) - 1; i >= 0; i-- {
		if plan.Steps[i].Status != domain.StepCompleted {
			continue
		}
		if summary, ok := plan.Steps[i].Result["summary"].(string); ok && summary != "" {
			return summary
		}
	}
	return ""
}

func phraseToolResult(action domain.Action, result map[string]any) string {
	if message, ok := result["message"].(string); ok && message != "" {
		return message
	}
	if data, ok := result["data"].(map[string]any); ok {
		if summary, ok := data["summary"].(string); ok && summary != "" {
			return summary
		}
	}
	return fmt.Sprintf("Ran %s successfully.", action)
}

func phraseFailure(err error) string {
	switch {
	case domain.IsKind(err, domain.ErrPermissionDenied):
		return "I am not allowed to do that with your current permissions."
	case domain.IsKind(err, domain.ErrApprovalRequired):
		return "That plan still needs approval before I can run it."
	case domain.IsKind(err, domain.ErrPlanActive):
		return "You already have a plan running; I will take new multi-step work once it finishes."
	case domain.IsKind(err, domain.ErrValidation):
		return "I could not make sense of that request: " + err.Error()
	default:
		return "Something went wrong while working on that: " + err.Error()
	}
}

// referencesContext flags messages that depend on conversation state and
// therefore must never be answered from the reply cache.
func referencesContext(message string) bool {
	lower := strings.ToLower(message)
	return containsAny(lower, "that", "those", "them", " it ", "this", "previous", "last ")
}

func cacheable(result *ports.ChatResult) bool {
	if result.PlanID != "" || result.PendingApproval {
		return false
	}
	if personalizedReply(result.Message) {
		return false
	}
	switch result.ToolUsed {
	case "", string(domain.ActionFilterData), string(domain.ActionViewTickets):
		return true
	default:
		return false
	}
}

// personalizedReply flags reply phrasing shaped by the user's learned
// patterns or history; another occurrence of the same message may deserve
// a different answer, so these never enter the cache.
func personalizedReply(message string) bool {
	lower := strings.ToLower(message)
	return containsAny(lower,
		"you usually", "you often", "you tend to", "last time",
		"previously", "earlier you", "your recent", "as before")
}

func buildReplyPrompt(message string, assembled *domain.AssembledContext) string {
	var b strings.Builder
	b.WriteString("You are a business assistant for invoices, vendors and support tickets.\n")
	if assembled.Summary != "" {
		b.WriteString("Context: " + assembled.Summary + "\n")
	}
	if len(assembled.Recent) > 0 {
		b.WriteString("Recent conversation:\n")
		for _, entry := range assembled.Recent {
			b.WriteString(fmt.Sprintf("- %s: %s\n", entry.Role, entry.Text))
		}
	}
	if len(assembled.Relevant) > 0 {
		b.WriteString("Related past discussion:\n")
		for _, match := range assembled.Relevant {
			b.WriteString("- " + match.Text + "\n")
		}
	}
	for _, mention := range assembled.Entities {
		b.WriteString(fmt.Sprintf("The user may be referring to %s %s.\n", mention.EntityType, mention.EntityName))
	}
	b.WriteString("User: " + message + "\nAssistant:")
	return b.String()
}

// fallbackReply is the deterministic degradation path when the language
// model is unreachable. It must never fail.
func fallbackReply(assembled *domain.AssembledContext) string {
	if len(assembled.Recent) > 0 {
		return "I am having trouble generating a full reply right now, but I have your conversation history and can run data queries, tickets and reports as usual."
	}
	return "I am having trouble generating a full reply right now. You can still ask me to filter data, manage tickets or export reports."
}
