package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/finbotics/business-assistant/internal/core/domain"
	"github.com/finbotics/business-assistant/internal/core/ports"
)

// EngineMetrics is the slice of process metrics the engine reports into.
type EngineMetrics interface {
	StartPlan()
	FinishPlan(service, status string)
	ObserveStep(service, action, status string, duration time.Duration)
}

type noopEngineMetrics struct{}

func (noopEngineMetrics) StartPlan() {}

func (noopEngineMetrics) FinishPlan(string, string) {}

func (noopEngineMetrics) ObserveStep(string, string, string, time.Duration) {}

type EngineConfig struct {
	ServiceName  string
	RetryBackoff time.Duration
}

func (c EngineConfig) normalize() EngineConfig {
	out := c
	if out.ServiceName == "" {
		out.ServiceName = "assistant"
	}
	if out.RetryBackoff <= 0 {
		out.RetryBackoff = 200 * time.Millisecond
	}
	return out
}

// Engine executes plans: dependency ordering, parallel groups, per-step
// timeouts and retry budgets, dependency-failure skipping and the approval
// gate. One user has at most one plan running at a time.
type Engine struct {
	plans        ports.PlanStore
	capabilities ports.CapabilityExecutor
	traces       ports.TraceSink
	metrics      EngineMetrics
	cfg          EngineConfig
	logger       *slog.Logger

	mu      sync.Mutex
	running map[string]string
}

func NewEngine(
	plans ports.PlanStore,
	capabilities ports.CapabilityExecutor,
	traces ports.TraceSink,
	metrics EngineMetrics,
	cfg EngineConfig,
	logger *slog.Logger,
) *Engine {
	if metrics == nil {
		metrics = noopEngineMetrics{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		plans:        plans,
		capabilities: capabilities,
		traces:       traces,
		metrics:      metrics,
		cfg:          cfg.normalize(),
		logger:       logger,
	}
}

// Run drives a plan to a terminal status and records its trace. It returns
// ErrApprovalRequired before touching any step when the gate is unmet, and
// ErrPlanActive when the user already has a running plan.
func (e *Engine) Run(ctx context.Context, plan *domain.ExecutionPlan, caller domain.CallerIdentity) (*domain.ExecutionTrace, error) {
	if plan.ApprovalRequired && !plan.Approved() {
		return nil, domain.WrapError(domain.ErrApprovalRequired, "run plan",
			fmt.Errorf("plan %s awaits approval", plan.PlanID))
	}
	if !e.acquire(plan.UserID, plan.PlanID) {
		return nil, domain.WrapError(domain.ErrPlanActive, "run plan",
			fmt.Errorf("user %s already has a running plan", plan.UserID))
	}
	defer e.release(plan.UserID)

	started := time.Now()
	e.metrics.StartPlan()

	now := started.UTC()
	plan.Status = domain.PlanRunning
	plan.StartedAt = &now
	e.persist(ctx, plan)

	var (
		resultsMu sync.Mutex
		results   = map[int]map[string]any{}
	)

	for {
		if err := ctx.Err(); err != nil {
			plan.Status = domain.PlanCancelled
			e.skipPendingSteps(plan, "plan cancelled before step started")
			break
		}

		e.skipBlockedSteps(plan)

		batch := nextBatch(plan)
		if len(batch) == 0 {
			break
		}

		var wg sync.WaitGroup
		for _, idx := range batch {
			wg.Add(1)
			go func(idx int) {
				defer wg.Done()
				step := &plan.Steps[idx]

				resultsMu.Lock()
				params, err := resolveStepParams(step.Parameters, results)
				resultsMu.Unlock()
				if err != nil {
					e.failStep(step, err)
					return
				}

				result, err := e.runStep(ctx, step, params, caller)
				if err != nil {
					e.failStep(step, err)
					return
				}

				completed := time.Now().UTC()
				step.Status = domain.StepCompleted
				step.Result = result
				step.CompletedAt = &completed

				resultsMu.Lock()
				results[step.StepNumber] = result
				resultsMu.Unlock()
			}(idx)
		}
		wg.Wait()
		e.persist(ctx, plan)
	}

	if plan.Status != domain.PlanCancelled {
		e.skipBlockedSteps(plan)
		plan.Status = finalStatus(plan)
	}
	completedAt := time.Now().UTC()
	plan.CompletedAt = &completedAt
	e.persist(ctx, plan)
	e.metrics.FinishPlan(e.cfg.ServiceName, string(plan.Status))

	trace := e.buildTrace(plan, time.Since(started))
	if err := e.traces.Record(ctx, trace); err != nil {
		e.logger.Warn("trace_record_failed", "plan_id", plan.PlanID, "error", err)
	}
	return trace, nil
}

// RunSingle executes one capability call outside a plan and records a
// single-step trace for follow-up reuse.
func (e *Engine) RunSingle(ctx context.Context, userID string, action domain.Action, params map[string]any, caller domain.CallerIdentity) (*domain.ExecutionTrace, map[string]any, error) {
	step := domain.PlanStep{
		StepID:     uuid.NewString(),
		StepNumber: 1,
		Action:     action,
		Parameters: params,
		Timeout:    5 * time.Minute,
		MaxRetries: 2,
		Status:     domain.StepPending,
	}

	started := time.Now()
	result, err := e.runStep(ctx, &step, params, caller)
	if err != nil {
		e.failStep(&step, err)
	} else {
		step.Status = domain.StepCompleted
		step.Result = result
	}

	status := domain.PlanCompleted
	if err != nil {
		status = domain.PlanFailed
	}
	trace := &domain.ExecutionTrace{
		TraceID:        uuid.NewString(),
		UserID:         userID,
		Goal:           string(action),
		PlanStatus:     status,
		StepsAttempted: 1,
		Steps: []domain.StepTrace{{
			StepNumber: 1,
			Action:     action,
			Parameters: params,
			Status:     step.Status,
			Error:      step.ErrorMessage,
			Duration:   time.Since(started),
		}},
		Elapsed:   time.Since(started),
		CreatedAt: time.Now().UTC(),
	}
	if err == nil {
		trace.StepsCompleted = 1
	}
	if recordErr := e.traces.Record(ctx, trace); recordErr != nil {
		e.logger.Warn("trace_record_failed", "user_id", userID, "error", recordErr)
	}
	return trace, result, err
}

// runStep performs one step with its timeout and retry budget. Only errors
// classified transient for a retryable action consume retries; permission
// denials fail immediately.
func (e *Engine) runStep(ctx context.Context, step *domain.PlanStep, params map[string]any, caller domain.CallerIdentity) (map[string]any, error) {
	startedAt := time.Now().UTC()
	step.Status = domain.StepRunning
	step.StartedAt = &startedAt

	var lastErr error
	maxAttempts := step.MaxRetries + 1
	if !step.Action.Retryable() {
		maxAttempts = 1
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		step.Attempts = attempt

		attemptStart := time.Now()
		result, err := e.invoke(ctx, step, params, caller)
		e.metrics.ObserveStep(e.cfg.ServiceName, string(step.Action), outcome(err), time.Since(attemptStart))

		if err == nil {
			return result, nil
		}
		lastErr = err

		if domain.IsKind(err, domain.ErrPermissionDenied) {
			return nil, err
		}
		if !domain.IsKind(err, domain.ErrTemporary) {
			return nil, err
		}
		if attempt == maxAttempts {
			break
		}

		e.logger.Warn("step_retry",
			"step_id", step.StepID,
			"action", step.Action,
			"attempt", attempt,
			"error", err,
		)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(e.cfg.RetryBackoff):
		}
	}
	return nil, lastErr
}

func (e *Engine) invoke(ctx context.Context, step *domain.PlanStep, params map[string]any, caller domain.CallerIdentity) (map[string]any, error) {
	if step.Action.Internal() {
		return runInternalAction(step.Action, params)
	}

	callCtx, cancel := context.WithTimeout(ctx, step.Timeout)
	defer cancel()

	result, err := e.capabilities.Execute(callCtx, step.Action, params, caller)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, domain.WrapError(domain.ErrTemporary, "execute step",
				fmt.Errorf("step %s timed out after %s", step.StepID, step.Timeout))
		}
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, domain.WrapError(domain.ErrTemporary, "execute step", err)
	}

	switch result.Status {
	case domain.CapabilityOK:
		data := result.Data
		if data == nil {
			data = map[string]any{}
		}
		if result.Message != "" {
			data["message"] = result.Message
		}
		return data, nil
	case domain.CapabilityPermissionDenied:
		return nil, domain.WrapError(domain.ErrPermissionDenied, "execute step",
			fmt.Errorf("%s: %s", step.Action, result.Message))
	default:
		err := domain.WrapError(domain.ErrToolExecution, "execute step",
			fmt.Errorf("%s: %s", step.Action, result.Message))
		if step.Action.Retryable() {
			return nil, domain.WrapError(domain.ErrTemporary, "execute step", err)
		}
		return nil, err
	}
}

func (e *Engine) failStep(step *domain.PlanStep, err error) {
	now := time.Now().UTC()
	if domain.IsKind(err, domain.ErrDependencyUnmet) {
		step.Status = domain.StepSkipped
	} else {
		step.Status = domain.StepFailed
	}
	step.ErrorMessage = err.Error()
	step.CompletedAt = &now
}

// skipBlockedSteps marks pending steps whose dependencies can no longer
// complete as skipped, transitively.
func (e *Engine) skipBlockedSteps(plan *domain.ExecutionPlan) {
	byID := make(map[string]*domain.PlanStep, len(plan.Steps))
	for i := range plan.Steps {
		byID[plan.Steps[i].StepID] = &plan.Steps[i]
	}

	for changed := true; changed; {
		changed = false
		for i := range plan.Steps {
			step := &plan.Steps[i]
			if step.Status != domain.StepPending {
				continue
			}
			for _, depID := range step.DependsOn {
				dep, ok := byID[depID]
				if !ok {
					continue
				}
				if dep.Status == domain.StepFailed || dep.Status == domain.StepSkipped {
					now := time.Now().UTC()
					step.Status = domain.StepSkipped
					step.ErrorMessage = fmt.Sprintf("dependency %s did not complete", depID)
					step.CompletedAt = &now
					changed = true
					break
				}
			}
		}
	}
}

// nextBatch picks the next runnable steps: the first ready step plus, when
// it belongs to a parallel group, every other ready member of that group.
func nextBatch(plan *domain.ExecutionPlan) []int {
	byID := make(map[string]domain.StepStatus, len(plan.Steps))
	for i := range plan.Steps {
		byID[plan.Steps[i].StepID] = plan.Steps[i].Status
	}

	ready := func(step *domain.PlanStep) bool {
		if step.Status != domain.StepPending {
			return false
		}
		for _, depID := range step.DependsOn {
			if byID[depID] != domain.StepCompleted {
				return false
			}
		}
		return true
	}

	for i := range plan.Steps {
		step := &plan.Steps[i]
		if !ready(step) {
			continue
		}
		if step.ParallelGroup == "" {
			return []int{i}
		}
		batch := []int{i}
		for j := i + 1; j < len(plan.Steps); j++ {
			other := &plan.Steps[j]
			if other.ParallelGroup == step.ParallelGroup && ready(other) {
				batch = append(batch, j)
			}
		}
		return batch
	}
	return nil
}

// finalStatus: a plan completes only when every non-skipped step completed.
// skipPendingSteps marks every step that has not started yet as skipped,
// so a cancelled plan's audit record accounts for all of its steps.
func (e *Engine) skipPendingSteps(plan *domain.ExecutionPlan, reason string) {
	now := time.Now().UTC()
	for i := range plan.Steps {
		step := &plan.Steps[i]
		if step.Status != domain.StepPending {
			continue
		}
		step.Status = domain.StepSkipped
		step.ErrorMessage = reason
		step.CompletedAt = &now
	}
}

func finalStatus(plan *domain.ExecutionPlan) domain.PlanStatus {
	for i := range plan.Steps {
		switch plan.Steps[i].Status {
		case domain.StepCompleted, domain.StepSkipped:
		default:
			return domain.PlanFailed
		}
	}
	if plan.CompletedSteps() == 0 && len(plan.Steps) > 0 {
		return domain.PlanFailed
	}
	return domain.PlanCompleted
}

func (e *Engine) persist(ctx context.Context, plan *domain.ExecutionPlan) {
	if err := e.plans.UpdatePlan(ctx, plan); err != nil {
		e.logger.Error("plan_persist_failed", "plan_id", plan.PlanID, "error", err)
	}
}

func (e *Engine) buildTrace(plan *domain.ExecutionPlan, elapsed time.Duration) *domain.ExecutionTrace {
	trace := &domain.ExecutionTrace{
		TraceID:      uuid.NewString(),
		UserID:       plan.UserID,
		Goal:         plan.Goal,
		TemplateUsed: plan.TemplateUsed,
		PlanID:       plan.PlanID,
		PlanStatus:   plan.Status,
		Elapsed:      elapsed,
		CreatedAt:    time.Now().UTC(),
	}
	for i := range plan.Steps {
		step := &plan.Steps[i]
		if step.Status == domain.StepPending {
			continue
		}
		trace.StepsAttempted++
		if step.Status == domain.StepCompleted {
			trace.StepsCompleted++
		}
		var duration time.Duration
		if step.StartedAt != nil && step.CompletedAt != nil {
			duration = step.CompletedAt.Sub(*step.StartedAt)
		}
		trace.Steps = append(trace.Steps, domain.StepTrace{
			StepNumber: step.StepNumber,
			Action:     step.Action,
			Parameters: step.Parameters,
			Status:     step.Status,
			Error:      step.ErrorMessage,
			Duration:   duration,
		})
	}
	return trace
}

func (e *Engine) acquire(userID, planID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running == nil {
		e.running = make(map[string]string)
	}
	if _, busy := e.running[userID]; busy {
		return false
	}
	e.running[userID] = planID
	return true
}

func (e *Engine) release(userID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.running, userID)
}

func outcome(err error) string {
	if err == nil {
		return "success"
	}
	return "error"
}
