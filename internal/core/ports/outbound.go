package ports

import (
	"context"
	"time"

	"github.com/finbotics/business-assistant/internal/core/domain"
)

// ThreadStore persists conversation threads. At most one thread per user is
// active at a time; threads are deactivated, never deleted.
type ThreadStore interface {
	EnsureActiveThread(ctx context.Context, userID string) (*domain.ConversationThread, error)
	StartThread(ctx context.Context, userID, title, threadType string) (*domain.ConversationThread, error)
	SwitchThread(ctx context.Context, userID, threadID string) error
	TouchThread(ctx context.Context, threadID string) error
	ListThreads(ctx context.Context, userID string, limit int) ([]domain.ConversationThread, error)
}

// MemoryEntryStore persists conversation turns.
type MemoryEntryStore interface {
	InsertEntry(ctx context.Context, entry *domain.MemoryEntry) (int64, error)
	RecentEntries(ctx context.Context, threadID string, limit int) ([]domain.MemoryEntry, error)
	// EntriesAscending pages all entries in ascending id order, used to
	// rebuild the semantic index from the source of truth.
	EntriesAscending(ctx context.Context, afterID int64, limit int) ([]domain.MemoryEntry, error)
	PruneEntries(ctx context.Context, olderThan time.Time, maxImportance float64) ([]int64, error)
}

// EntityStore persists extracted entity mentions for reference resolution.
type EntityStore interface {
	InsertMentions(ctx context.Context, mentions []domain.EntityMention) error
	RecentMentions(ctx context.Context, threadID string, entityType domain.EntityType, limit int) ([]domain.EntityMention, error)
}

// PatternStore persists learned user behavior.
type PatternStore interface {
	Reinforce(ctx context.Context, userID, key, value string) error
	TopPatterns(ctx context.Context, userID string, minEvidence, limit int) ([]domain.UserPattern, error)
}

// SessionStateStore is the per-session scratchpad.
type SessionStateStore interface {
	Put(ctx context.Context, sessionID, userID, key, value string) error
	All(ctx context.Context, sessionID string) (map[string]string, error)
	Clear(ctx context.Context, sessionID string) error
}

// PlanStore persists execution plans and their step state.
type PlanStore interface {
	CreatePlan(ctx context.Context, plan *domain.ExecutionPlan) error
	UpdatePlan(ctx context.Context, plan *domain.ExecutionPlan) error
	GetPlan(ctx context.Context, planID string) (*domain.ExecutionPlan, error)
	Approve(ctx context.Context, planID, approvedBy string) error
	ListPlans(ctx context.Context, userID string, limit int) ([]domain.ExecutionPlan, error)
}

// TraceSink records audit traces of plan and single-step executions.
type TraceSink interface {
	Record(ctx context.Context, trace *domain.ExecutionTrace) error
	// LatestActionTrace returns the newest trace for the user that attempted
	// the given action, or ErrNotFound.
	LatestActionTrace(ctx context.Context, userID string, action domain.Action) (*domain.ExecutionTrace, error)
}

// IndexMetadata tags a vector with ownership for filtered search.
type IndexMetadata struct {
	EntryID  int64
	UserID   string
	ThreadID string
	Role     domain.Role
	ToolName string
}

// IndexFilter narrows a semantic search.
type IndexFilter struct {
	UserID        string
	ExcludeThread string
}

// SemanticIndex is a derived, reconstructable cache over MemoryEntry rows.
type SemanticIndex interface {
	Upsert(ctx context.Context, id int64, text string, meta IndexMetadata) error
	Search(ctx context.Context, query string, k int, filter IndexFilter) ([]domain.SemanticMatch, error)
	Remove(ctx context.Context, ids []int64) error
	Rebuild(ctx context.Context, entries []domain.MemoryEntry) error
}

// Embedder builds vectors for stored turns and query text.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// CapabilityExecutor is the external boundary performing concrete business
// actions (filtering, exporting, ticket operations).
type CapabilityExecutor interface {
	Execute(ctx context.Context, action domain.Action, params map[string]any, caller domain.CallerIdentity) (domain.CapabilityResult, error)
}

// ResponseGenerator produces natural-language output. Callers must degrade to
// a deterministic fallback when it fails.
type ResponseGenerator interface {
	GenerateFromPrompt(ctx context.Context, prompt string) (string, error)
}
