package usecase

import (
	"context"
	"testing"

	"github.com/finbotics/business-assistant/internal/core/domain"
)

func newTestMemoryService() (*MemoryService, *fakeEntryStore, *fakeEntityStore, *fakePatternStore, *fakeIndex) {
	entries := &fakeEntryStore{}
	mentions := &fakeEntityStore{}
	patterns := &fakePatternStore{}
	index := &fakeIndex{}
	service := NewMemoryService(
		newFakeThreadStore("u-1"),
		entries,
		mentions,
		patterns,
		&fakeSessionStore{},
		index,
		NewEntityExtractor([]string{"IndiSky", "TechSolutions"}),
		MemoryServiceConfig{EmbedMinChars: 10},
		nil,
	)
	return service, entries, mentions, patterns, index
}

func TestRecordTurnPersistsAndIndexes(t *testing.T) {
	service, entries, mentions, _, index := newTestMemoryService()

	entry, err := service.RecordTurn(context.Background(), domain.TurnRecord{
		UserID:     "u-1",
		ThreadID:   "thread-1",
		Role:       domain.RoleUser,
		Text:       "invoice INV-1001 from IndiSky looks wrong",
		Importance: 0.3,
	})
	if err != nil {
		t.Fatalf("RecordTurn() error = %v", err)
	}
	if entry.ID == 0 {
		t.Fatalf("expected assigned entry id")
	}
	if len(entries.entries) != 1 {
		t.Fatalf("expected 1 stored entry, got %d", len(entries.entries))
	}
	if len(index.upserts) != 1 || index.upserts[0] != entry.ID {
		t.Fatalf("expected index upsert for entry %d, got %v", entry.ID, index.upserts)
	}

	var types []domain.EntityType
	for _, m := range mentions.mentions {
		types = append(types, m.EntityType)
		if m.EntryID != entry.ID {
			t.Fatalf("mention not linked to entry: %+v", m)
		}
	}
	if len(types) != 2 {
		t.Fatalf("expected invoice and vendor mentions, got %v", types)
	}
}

func TestRecordTurnSkipsIndexForShortText(t *testing.T) {
	service, _, _, _, index := newTestMemoryService()

	_, err := service.RecordTurn(context.Background(), domain.TurnRecord{
		UserID:   "u-1",
		ThreadID: "thread-1",
		Role:     domain.RoleUser,
		Text:     "ok",
	})
	if err != nil {
		t.Fatalf("RecordTurn() error = %v", err)
	}
	if len(index.upserts) != 0 {
		t.Fatalf("short text must not be embedded, got %v", index.upserts)
	}
}

func TestRecordTurnSurvivesIndexFailure(t *testing.T) {
	service, entries, _, _, index := newTestMemoryService()
	index.err = context.DeadlineExceeded

	_, err := service.RecordTurn(context.Background(), domain.TurnRecord{
		UserID:   "u-1",
		ThreadID: "thread-1",
		Role:     domain.RoleUser,
		Text:     "a normal length message about invoices",
	})
	if err != nil {
		t.Fatalf("index failure must not fail the turn: %v", err)
	}
	if len(entries.entries) != 1 {
		t.Fatalf("entry must still be persisted")
	}
}

func TestRecordTurnLearnsPatternsFromToolUse(t *testing.T) {
	service, _, _, patterns, _ := newTestMemoryService()

	_, err := service.RecordTurn(context.Background(), domain.TurnRecord{
		UserID:   "u-1",
		ThreadID: "thread-1",
		Role:     domain.RoleUser,
		Text:     "show me invoices from IndiSky please",
		ToolName: string(domain.ActionFilterData),
		ToolParameters: map[string]any{
			"dataset": "invoices",
			"format":  "pdf",
		},
	})
	if err != nil {
		t.Fatalf("RecordTurn() error = %v", err)
	}

	for _, key := range []string{
		patternFrequentTool + "=" + string(domain.ActionFilterData),
		patternPreferredSet + "=invoices",
		patternFrequentVendor + "=IndiSky",
		patternPreferredFormat + "=pdf",
	} {
		if patterns.counts[key] != 1 {
			t.Fatalf("expected reinforcement of %s, got %v", key, patterns.counts)
		}
	}
}

func TestRecordTurnRejectsEmptyInput(t *testing.T) {
	service, _, _, _, _ := newTestMemoryService()

	_, err := service.RecordTurn(context.Background(), domain.TurnRecord{UserID: "u-1"})
	if !domain.IsKind(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	_, err = service.RecordTurn(context.Background(), domain.TurnRecord{Text: "hi"})
	if !domain.IsKind(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestRebuildIndexPagesAllEntries(t *testing.T) {
	service, entries, _, _, index := newTestMemoryService()
	for i := 0; i < 3; i++ {
		_, err := service.RecordTurn(context.Background(), domain.TurnRecord{
			UserID:   "u-1",
			ThreadID: "thread-1",
			Role:     domain.RoleUser,
			Text:     "a sufficiently long message about invoices",
		})
		if err != nil {
			t.Fatalf("RecordTurn() error = %v", err)
		}
	}

	count, err := service.RebuildIndex(context.Background())
	if err != nil {
		t.Fatalf("RebuildIndex() error = %v", err)
	}
	if count != 3 || len(index.rebuilt) != 3 {
		t.Fatalf("expected 3 rebuilt entries, got count=%d rebuilt=%d", count, len(index.rebuilt))
	}
	if len(entries.entries) != 3 {
		t.Fatalf("rebuild must not mutate stored entries")
	}
}
