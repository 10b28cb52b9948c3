package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/finbotics/business-assistant/internal/core/domain"
	"github.com/finbotics/business-assistant/internal/core/ports"
)

type AssemblerConfig struct {
	RecentEntries      int
	PatternLimit       int
	PatternMinEvidence int
	SemanticTopK       int
	SimilarityFloor    float64
	EmbedMinChars      int
}

func (c AssemblerConfig) normalize() AssemblerConfig {
	out := c
	if out.RecentEntries <= 0 {
		out.RecentEntries = 10
	}
	if out.PatternLimit <= 0 {
		out.PatternLimit = 5
	}
	if out.PatternMinEvidence <= 0 {
		out.PatternMinEvidence = 2
	}
	if out.SemanticTopK <= 0 {
		out.SemanticTopK = 5
	}
	if out.SimilarityFloor <= 0 {
		out.SimilarityFloor = 0.70
	}
	if out.EmbedMinChars <= 0 {
		out.EmbedMinChars = 10
	}
	return out
}

// ContextAssembler builds the bounded context handed to planning and to
// reply prompts. It only reads already-persisted state, so assembling is
// side-effect free and safe to repeat.
type ContextAssembler struct {
	entries  ports.MemoryEntryStore
	patterns ports.PatternStore
	session  ports.SessionStateStore
	mentions ports.EntityStore
	index    ports.SemanticIndex
	cfg      AssemblerConfig
	logger   *slog.Logger
}

func NewContextAssembler(
	entries ports.MemoryEntryStore,
	patterns ports.PatternStore,
	session ports.SessionStateStore,
	mentions ports.EntityStore,
	index ports.SemanticIndex,
	cfg AssemblerConfig,
	logger *slog.Logger,
) *ContextAssembler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ContextAssembler{
		entries:  entries,
		patterns: patterns,
		session:  session,
		mentions: mentions,
		index:    index,
		cfg:      cfg.normalize(),
		logger:   logger,
	}
}

// Assemble gathers recent turns, learned patterns, semantically relevant
// history from other threads, session state and resolved entity references.
// Degraded sources (index down, session store flaky) shrink the context
// instead of failing the turn.
func (a *ContextAssembler) Assemble(ctx context.Context, userID, threadID, sessionID, query string) (*domain.AssembledContext, error) {
	out := &domain.AssembledContext{Session: map[string]string{}}

	recent, err := a.entries.RecentEntries(ctx, threadID, a.cfg.RecentEntries)
	if err != nil {
		return nil, fmt.Errorf("assemble recent entries: %w", err)
	}
	out.Recent = recent

	patterns, err := a.patterns.TopPatterns(ctx, userID, a.cfg.PatternMinEvidence, a.cfg.PatternLimit)
	if err != nil {
		a.logger.Warn("assemble_patterns_failed", "user_id", userID, "error", err)
	} else {
		out.Patterns = patterns
	}

	if len(query) >= a.cfg.EmbedMinChars {
		matches, err := a.index.Search(ctx, query, a.cfg.SemanticTopK, ports.IndexFilter{
			UserID:        userID,
			ExcludeThread: threadID,
		})
		if err != nil {
			a.logger.Warn("assemble_semantic_search_failed", "user_id", userID, "error", err)
		} else {
			for _, m := range matches {
				if m.Similarity >= a.cfg.SimilarityFloor {
					out.Relevant = append(out.Relevant, m)
				}
			}
		}
	}

	if sessionID != "" {
		state, err := a.session.All(ctx, sessionID)
		if err != nil {
			a.logger.Warn("assemble_session_state_failed", "session_id", sessionID, "error", err)
		} else {
			out.Session = state
		}
	}

	a.resolveReferences(ctx, threadID, query, out)
	out.Summary = a.summarize(out)
	return out, nil
}

// resolveReferences maps anaphora like "that invoice" or "those tickets" to
// the most recently mentioned entities in the thread.
func (a *ContextAssembler) resolveReferences(ctx context.Context, threadID, query string, out *domain.AssembledContext) {
	lower := strings.ToLower(query)

	lookups := []struct {
		entityType domain.EntityType
		cues       []string
	}{
		{domain.EntityInvoice, []string{"that invoice", "this invoice", "the invoice", "those invoices"}},
		{domain.EntityTicket, []string{"that ticket", "this ticket", "the ticket", "those tickets"}},
		{domain.EntityVendor, []string{"that vendor", "this vendor", "the vendor", "that supplier"}},
	}

	for _, lookup := range lookups {
		referenced := false
		for _, cue := range lookup.cues {
			if strings.Contains(lower, cue) {
				referenced = true
				break
			}
		}
		if !referenced {
			continue
		}
		mentions, err := a.mentions.RecentMentions(ctx, threadID, lookup.entityType, 3)
		if err != nil {
			a.logger.Warn("assemble_reference_lookup_failed", "entity_type", lookup.entityType, "error", err)
			continue
		}
		out.Entities = append(out.Entities, mentions...)
	}
}

func (a *ContextAssembler) summarize(c *domain.AssembledContext) string {
	parts := []string{fmt.Sprintf("%d recent turns", len(c.Recent))}
	if len(c.Patterns) > 0 {
		parts = append(parts, fmt.Sprintf("%d learned patterns", len(c.Patterns)))
	}
	if len(c.Relevant) > 0 {
		parts = append(parts, fmt.Sprintf("%d related past turns", len(c.Relevant)))
	}
	if len(c.Entities) > 0 {
		parts = append(parts, fmt.Sprintf("%d referenced entities", len(c.Entities)))
	}
	if tool, ok := c.Session["current_tool"]; ok && tool != "" {
		parts = append(parts, "active tool "+tool)
	}
	return strings.Join(parts, ", ")
}
