package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/finbotics/business-assistant/internal/core/domain"
	"github.com/finbotics/business-assistant/internal/core/ports"
)

// Pattern keys learned from observed tool usage.
const (
	patternFrequentTool    = "frequent_tool"
	patternPreferredSet    = "preferred_dataset"
	patternFrequentVendor  = "frequent_vendor"
	patternPreferredFormat = "preferred_export_format"
)

type MemoryServiceConfig struct {
	EmbedMinChars          int
	RetentionAge           time.Duration
	RetentionMaxImportance float64
	RebuildPageSize        int
}

func (c MemoryServiceConfig) normalize() MemoryServiceConfig {
	out := c
	if out.EmbedMinChars <= 0 {
		out.EmbedMinChars = 10
	}
	if out.RetentionAge <= 0 {
		out.RetentionAge = 90 * 24 * time.Hour
	}
	if out.RetentionMaxImportance <= 0 {
		out.RetentionMaxImportance = 0.3
	}
	if out.RebuildPageSize <= 0 {
		out.RebuildPageSize = 500
	}
	return out
}

// MemoryService owns the write path of conversation memory: the durable
// entry, extracted entities, learned patterns, session scratch state and
// the derived semantic index.
type MemoryService struct {
	threads   ports.ThreadStore
	entries   ports.MemoryEntryStore
	mentions  ports.EntityStore
	patterns  ports.PatternStore
	session   ports.SessionStateStore
	index     ports.SemanticIndex
	extractor *EntityExtractor
	cfg       MemoryServiceConfig
	logger    *slog.Logger
}

func NewMemoryService(
	threads ports.ThreadStore,
	entries ports.MemoryEntryStore,
	mentions ports.EntityStore,
	patterns ports.PatternStore,
	session ports.SessionStateStore,
	index ports.SemanticIndex,
	extractor *EntityExtractor,
	cfg MemoryServiceConfig,
	logger *slog.Logger,
) *MemoryService {
	if logger == nil {
		logger = slog.Default()
	}
	return &MemoryService{
		threads:   threads,
		entries:   entries,
		mentions:  mentions,
		patterns:  patterns,
		session:   session,
		index:     index,
		extractor: extractor,
		cfg:       cfg.normalize(),
		logger:    logger,
	}
}

// RecordTurn persists one turn and fans out the derived side effects. The
// database write is the only fatal step: entity extraction, pattern learning
// and index updates degrade to logged warnings so a flaky index never loses
// a conversation turn.
func (s *MemoryService) RecordTurn(ctx context.Context, turn domain.TurnRecord) (*domain.MemoryEntry, error) {
	if turn.UserID == "" {
		return nil, domain.WrapError(domain.ErrValidation, "record turn", fmt.Errorf("user id is required"))
	}
	if turn.Text == "" {
		return nil, domain.WrapError(domain.ErrValidation, "record turn", fmt.Errorf("text is required"))
	}

	threadID := turn.ThreadID
	if threadID == "" {
		thread, err := s.threads.EnsureActiveThread(ctx, turn.UserID)
		if err != nil {
			return nil, fmt.Errorf("ensure active thread: %w", err)
		}
		threadID = thread.ThreadID
	}

	entry := &domain.MemoryEntry{
		ThreadID:    threadID,
		UserID:      turn.UserID,
		Role:        turn.Role,
		Text:        turn.Text,
		MessageType: domain.MessageTypeText,
		ToolName:    turn.ToolName,
		SessionID:   turn.SessionID,
		Importance:  turn.Importance,
		CreatedAt:   time.Now().UTC(),
	}
	if turn.ToolName != "" {
		entry.MessageType = domain.MessageTypeToolCall
	}
	if turn.ToolParameters != nil {
		raw, err := json.Marshal(turn.ToolParameters)
		if err != nil {
			return nil, fmt.Errorf("marshal tool parameters: %w", err)
		}
		entry.ToolParameters = raw
	}
	if turn.ToolResult != nil {
		raw, err := json.Marshal(turn.ToolResult)
		if err != nil {
			return nil, fmt.Errorf("marshal tool result: %w", err)
		}
		entry.ToolResult = raw
	}

	if _, err := s.entries.InsertEntry(ctx, entry); err != nil {
		return nil, err
	}
	if err := s.threads.TouchThread(ctx, threadID); err != nil {
		s.logger.Warn("touch_thread_failed", "thread_id", threadID, "error", err)
	}

	s.extractAndStoreMentions(ctx, entry)
	if turn.Role == domain.RoleUser && turn.ToolName != "" {
		s.learnPatterns(ctx, turn)
	}
	if turn.ToolName != "" && turn.SessionID != "" {
		if err := s.session.Put(ctx, turn.SessionID, turn.UserID, "current_tool", turn.ToolName); err != nil {
			s.logger.Warn("session_state_put_failed", "session_id", turn.SessionID, "error", err)
		}
	}
	s.indexEntry(ctx, entry)

	return entry, nil
}

func (s *MemoryService) extractAndStoreMentions(ctx context.Context, entry *domain.MemoryEntry) {
	found := s.extractor.Extract(entry.Text)
	if len(found) == 0 {
		return
	}
	for i := range found {
		found[i].EntryID = entry.ID
	}
	if err := s.mentions.InsertMentions(ctx, found); err != nil {
		s.logger.Warn("entity_mentions_insert_failed", "entry_id", entry.ID, "error", err)
	}
}

func (s *MemoryService) learnPatterns(ctx context.Context, turn domain.TurnRecord) {
	reinforce := func(key, value string) {
		if value == "" {
			return
		}
		if err := s.patterns.Reinforce(ctx, turn.UserID, key, value); err != nil {
			s.logger.Warn("pattern_reinforce_failed", "key", key, "error", err)
		}
	}

	reinforce(patternFrequentTool, turn.ToolName)
	if dataset, ok := turn.ToolParameters["dataset"].(string); ok {
		reinforce(patternPreferredSet, dataset)
	}
	if vendor, ok := turn.ToolParameters["vendor"].(string); ok {
		reinforce(patternFrequentVendor, vendor)
	} else if vendor, ok := s.extractor.FirstVendor(turn.Text); ok {
		reinforce(patternFrequentVendor, vendor)
	}
	if format, ok := turn.ToolParameters["format"].(string); ok {
		reinforce(patternPreferredFormat, format)
	}
}

func (s *MemoryService) indexEntry(ctx context.Context, entry *domain.MemoryEntry) {
	if len(entry.Text) < s.cfg.EmbedMinChars {
		return
	}
	err := s.index.Upsert(ctx, entry.ID, entry.Text, ports.IndexMetadata{
		EntryID:  entry.ID,
		UserID:   entry.UserID,
		ThreadID: entry.ThreadID,
		Role:     entry.Role,
		ToolName: entry.ToolName,
	})
	if err != nil {
		s.logger.Warn("index_upsert_failed", "entry_id", entry.ID, "error", err)
	}
}

// RebuildIndex repopulates the semantic index from the database, paging
// entries in ascending id order.
func (s *MemoryService) RebuildIndex(ctx context.Context) (int, error) {
	var all []domain.MemoryEntry
	afterID := int64(0)
	for {
		page, err := s.entries.EntriesAscending(ctx, afterID, s.cfg.RebuildPageSize)
		if err != nil {
			return 0, fmt.Errorf("page entries for rebuild: %w", err)
		}
		if len(page) == 0 {
			break
		}
		for _, entry := range page {
			if len(entry.Text) >= s.cfg.EmbedMinChars {
				all = append(all, entry)
			}
		}
		afterID = page[len(page)-1].ID
	}

	if err := s.index.Rebuild(ctx, all); err != nil {
		return 0, err
	}
	return len(all), nil
}

// PruneMemory removes old low-importance entries and drops their vectors.
func (s *MemoryService) PruneMemory(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().Add(-s.cfg.RetentionAge)
	ids, err := s.entries.PruneEntries(ctx, cutoff, s.cfg.RetentionMaxImportance)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	if err := s.index.Remove(ctx, ids); err != nil {
		s.logger.Warn("index_remove_failed", "count", len(ids), "error", err)
	}
	return len(ids), nil
}
