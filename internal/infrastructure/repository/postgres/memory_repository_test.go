package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/finbotics/business-assistant/internal/core/domain"
)

func TestMemoryRepositoryInsertEntryReturnsID(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	repo := NewMemoryRepository(db)
	mock.ExpectQuery("INSERT INTO memory_entries").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))

	entry := &domain.MemoryEntry{
		ThreadID:   "thread-1",
		UserID:     "u-1",
		Role:       domain.RoleUser,
		Text:       "show pending invoices",
		Importance: 0.3,
	}
	id, err := repo.InsertEntry(context.Background(), entry)
	if err != nil {
		t.Fatalf("InsertEntry() error = %v", err)
	}
	if id != 7 || entry.ID != 7 {
		t.Fatalf("expected id 7, got %d", id)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestMemoryRepositoryRecentEntriesReturnsChronologicalOrder(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	repo := NewMemoryRepository(db)
	now := time.Now()
	cols := []string{"id", "thread_id", "user_id", "role", "content", "message_type", "tool_name", "tool_parameters", "tool_result", "session_id", "importance", "created_at"}
	rows := sqlmock.NewRows(cols).
		AddRow(int64(3), "thread-1", "u-1", "assistant", "newest", "text", "", nil, nil, "", 0.3, now).
		AddRow(int64(2), "thread-1", "u-1", "user", "older", "text", "", nil, nil, "", 0.3, now.Add(-time.Minute))

	mock.ExpectQuery("FROM memory_entries").
		WithArgs("thread-1", 10).
		WillReturnRows(rows)

	entries, err := repo.RecentEntries(context.Background(), "thread-1", 10)
	if err != nil {
		t.Fatalf("RecentEntries() error = %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Text != "older" || entries[1].Text != "newest" {
		t.Fatalf("expected chronological order, got %q then %q", entries[0].Text, entries[1].Text)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestMemoryRepositoryPruneEntriesReturnsDeletedIDs(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	repo := NewMemoryRepository(db)
	mock.ExpectQuery("DELETE FROM memory_entries").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)).AddRow(int64(4)))

	ids, err := repo.PruneEntries(context.Background(), time.Now().Add(-90*24*time.Hour), 0.3)
	if err != nil {
		t.Fatalf("PruneEntries() error = %v", err)
	}
	if len(ids) != 2 || ids[0] != 1 || ids[1] != 4 {
		t.Fatalf("unexpected pruned ids: %v", ids)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
