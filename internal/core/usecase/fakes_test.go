package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/finbotics/business-assistant/internal/core/domain"
	"github.com/finbotics/business-assistant/internal/core/ports"
)

type fakeThreadStore struct {
	thread domain.ConversationThread
}

func newFakeThreadStore(userID string) *fakeThreadStore {
	return &fakeThreadStore{thread: domain.ConversationThread{
		ThreadID:   "thread-1",
		UserID:     userID,
		ThreadType: "general",
		IsActive:   true,
	}}
}

func (f *fakeThreadStore) EnsureActiveThread(context.Context, string) (*domain.ConversationThread, error) {
	t := f.thread
	return &t, nil
}

func (f *fakeThreadStore) StartThread(_ context.Context, userID, title, threadType string) (*domain.ConversationThread, error) {
	f.thread = domain.ConversationThread{ThreadID: "thread-2", UserID: userID, Title: title, ThreadType: threadType, IsActive: true}
	t := f.thread
	return &t, nil
}

func (f *fakeThreadStore) SwitchThread(context.Context, string, string) error { return nil }

func (f *fakeThreadStore) TouchThread(context.Context, string) error { return nil }

func (f *fakeThreadStore) ListThreads(context.Context, string, int) ([]domain.ConversationThread, error) {
	return []domain.ConversationThread{f.thread}, nil
}

type fakeEntryStore struct {
	mu      sync.Mutex
	entries []domain.MemoryEntry
	nextID  int64
}

func (f *fakeEntryStore) InsertEntry(_ context.Context, entry *domain.MemoryEntry) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	entry.ID = f.nextID
	f.entries = append(f.entries, *entry)
	return entry.ID, nil
}

func (f *fakeEntryStore) RecentEntries(_ context.Context, threadID string, limit int) ([]domain.MemoryEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.MemoryEntry
	for _, e := range f.entries {
		if e.ThreadID == threadID {
			out = append(out, e)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (f *fakeEntryStore) EntriesAscending(_ context.Context, afterID int64, limit int) ([]domain.MemoryEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.MemoryEntry
	for _, e := range f.entries {
		if e.ID > afterID {
			out = append(out, e)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeEntryStore) PruneEntries(context.Context, time.Time, float64) ([]int64, error) {
	return nil, nil
}

type fakeEntityStore struct {
	mu       sync.Mutex
	mentions []domain.EntityMention
}

func (f *fakeEntityStore) InsertMentions(_ context.Context, mentions []domain.EntityMention) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mentions = append(f.mentions, mentions...)
	return nil
}

func (f *fakeEntityStore) RecentMentions(_ context.Context, _ string, entityType domain.EntityType, limit int) ([]domain.EntityMention, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.EntityMention
	for i := len(f.mentions) - 1; i >= 0 && len(out) < limit; i-- {
		if f.mentions[i].EntityType == entityType {
			out = append(out, f.mentions[i])
		}
	}
	return out, nil
}

type fakePatternStore struct {
	mu       sync.Mutex
	counts   map[string]int
	patterns []domain.UserPattern
}

func (f *fakePatternStore) Reinforce(_ context.Context, userID, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.counts == nil {
		f.counts = map[string]int{}
	}
	f.counts[key+"="+value]++
	return nil
}

func (f *fakePatternStore) TopPatterns(context.Context, string, int, int) ([]domain.UserPattern, error) {
	return f.patterns, nil
}

type fakeSessionStore struct {
	mu    sync.Mutex
	state map[string]string
}

func (f *fakeSessionStore) Put(_ context.Context, _, _, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == nil {
		f.state = map[string]string{}
	}
	f.state[key] = value
	return nil
}

func (f *fakeSessionStore) All(context.Context, string) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]string, len(f.state))
	for k, v := range f.state {
		out[k] = v
	}
	return out, nil
}

func (f *fakeSessionStore) Clear(context.Context, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = nil
	return nil
}

type fakeIndex struct {
	mu      sync.Mutex
	upserts []int64
	removed []int64
	matches []domain.SemanticMatch
	rebuilt []domain.MemoryEntry
	err     error
}

func (f *fakeIndex) Upsert(_ context.Context, id int64, _ string, _ ports.IndexMetadata) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.upserts = append(f.upserts, id)
	return nil
}

func (f *fakeIndex) Search(context.Context, string, int, ports.IndexFilter) ([]domain.SemanticMatch, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.matches, nil
}

func (f *fakeIndex) Remove(_ context.Context, ids []int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, ids...)
	return nil
}

func (f *fakeIndex) Rebuild(_ context.Context, entries []domain.MemoryEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rebuilt = entries
	return nil
}

type fakePlanStore struct {
	mu    sync.Mutex
	plans map[string]*domain.ExecutionPlan
}

func (f *fakePlanStore) CreatePlan(_ context.Context, plan *domain.ExecutionPlan) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.plans == nil {
		f.plans = map[string]*domain.ExecutionPlan{}
	}
	clone := *plan
	f.plans[plan.PlanID] = &clone
	return nil
}

func (f *fakePlanStore) UpdatePlan(_ context.Context, plan *domain.ExecutionPlan) error {
	return f.CreatePlan(context.Background(), plan)
}

func (f *fakePlanStore) GetPlan(_ context.Context, planID string) (*domain.ExecutionPlan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	plan, ok := f.plans[planID]
	if !ok {
		return nil, domain.WrapError(domain.ErrNotFound, "get plan", fmt.Errorf("plan %s", planID))
	}
	clone := *plan
	return &clone, nil
}

func (f *fakePlanStore) Approve(_ context.Context, planID, approvedBy string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	plan, ok := f.plans[planID]
	if !ok {
		return domain.WrapError(domain.ErrNotFound, "approve plan", fmt.Errorf("plan %s", planID))
	}
	plan.ApprovedBy = approvedBy
	return nil
}

func (f *fakePlanStore) ListPlans(context.Context, string, int) ([]domain.ExecutionPlan, error) {
	return nil, nil
}

type fakeTraceSink struct {
	mu     sync.Mutex
	traces []domain.ExecutionTrace
	latest *domain.ExecutionTrace
}

func (f *fakeTraceSink) Record(_ context.Context, trace *domain.ExecutionTrace) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.traces = append(f.traces, *trace)
	return nil
}

func (f *fakeTraceSink) LatestActionTrace(context.Context, string, domain.Action) (*domain.ExecutionTrace, error) {
	if f.latest == nil {
		return nil, domain.WrapError(domain.ErrNotFound, "latest action trace", fmt.Errorf("none"))
	}
	return f.latest, nil
}

// fakeCapability scripts capability responses per action.
type fakeCapability struct {
	mu       sync.Mutex
	calls    []domain.Action
	handlers map[domain.Action]func(params map[string]any, attempt int) (domain.CapabilityResult, error)
	attempts map[domain.Action]int
}

func newFakeCapability() *fakeCapability {
	return &fakeCapability{
		handlers: map[domain.Action]func(map[string]any, int) (domain.CapabilityResult, error){},
		attempts: map[domain.Action]int{},
	}
}

func (f *fakeCapability) on(action domain.Action, handler func(map[string]any, int) (domain.CapabilityResult, error)) {
	f.handlers[action] = handler
}

func (f *fakeCapability) succeed(action domain.Action, data map[string]any) {
	f.on(action, func(map[string]any, int) (domain.CapabilityResult, error) {
		return domain.CapabilityResult{Status: domain.CapabilityOK, Data: data}, nil
	})
}

func (f *fakeCapability) Execute(_ context.Context, action domain.Action, params map[string]any, _ domain.CallerIdentity) (domain.CapabilityResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, action)
	f.attempts[action]++
	attempt := f.attempts[action]
	handler := f.handlers[action]
	f.mu.Unlock()

	if handler == nil {
		return domain.CapabilityResult{Status: domain.CapabilityOK, Data: map[string]any{}}, nil
	}
	return handler(params, attempt)
}

func (f *fakeCapability) callCount(action domain.Action) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts[action]
}

type fakeGenerator struct {
	mu    sync.Mutex
	reply string
	err   error
	calls int
}

func (f *fakeGenerator) GenerateFromPrompt(context.Context, string) (string, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

func (f *fakeGenerator) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}
