package chromem

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	chromemgo "github.com/philippgille/chromem-go"

	"github.com/finbotics/business-assistant/internal/core/domain"
	"github.com/finbotics/business-assistant/internal/core/ports"
)

// Index is an embedded vector index over memory entries. It holds no
// durable state of its own: the database is the source of truth and the
// whole index can be rebuilt from it at startup.
type Index struct {
	name     string
	embedder ports.Embedder

	mu         sync.RWMutex
	db         *chromemgo.DB
	collection *chromemgo.Collection
}

func NewIndex(name string, embedder ports.Embedder) (*Index, error) {
	if strings.TrimSpace(name) == "" {
		name = "conversation_memory"
	}
	idx := &Index{
		name:     name,
		embedder: embedder,
		db:       chromemgo.NewDB(),
	}
	collection, err := idx.db.GetOrCreateCollection(name, nil, idx.embedFunc())
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}
	idx.collection = collection
	return idx, nil
}

func (i *Index) embedFunc() chromemgo.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		return i.embedder.EmbedQuery(ctx, text)
	}
}

func (i *Index) Upsert(ctx context.Context, id int64, text string, meta ports.IndexMetadata) error {
	doc := chromemgo.Document{
		ID:      strconv.FormatInt(id, 10),
		Content: text,
		Metadata: map[string]string{
			"user_id":   meta.UserID,
			"thread_id": meta.ThreadID,
			"role":      string(meta.Role),
			"tool_name": meta.ToolName,
		},
	}

	i.mu.RLock()
	collection := i.collection
	i.mu.RUnlock()

	if err := collection.AddDocuments(ctx, []chromemgo.Document{doc}, 1); err != nil {
		return fmt.Errorf("index upsert: %w", err)
	}
	return nil
}

func (i *Index) Search(ctx context.Context, query string, k int, filter ports.IndexFilter) ([]domain.SemanticMatch, error) {
	if k <= 0 {
		k = 5
	}

	i.mu.RLock()
	collection := i.collection
	i.mu.RUnlock()

	count := collection.Count()
	if count == 0 {
		return nil, nil
	}

	// Over-fetch when a thread is excluded so post-filtering still
	// leaves up to k matches. chromem caps nResults at collection size.
	limit := k
	if filter.ExcludeThread != "" {
		limit = k * 3
	}
	if limit > count {
		limit = count
	}

	var where map[string]string
	if filter.UserID != "" {
		where = map[string]string{"user_id": filter.UserID}
	}

	results, err := collection.Query(ctx, query, limit, where, nil)
	if err != nil {
		return nil, fmt.Errorf("index search: %w", err)
	}

	matches := make([]domain.SemanticMatch, 0, len(results))
	for _, r := range results {
		threadID := r.Metadata["thread_id"]
		if filter.ExcludeThread != "" && threadID == filter.ExcludeThread {
			continue
		}
		entryID, err := strconv.ParseInt(r.ID, 10, 64)
		if err != nil {
			continue
		}
		matches = append(matches, domain.SemanticMatch{
			EntryID:    entryID,
			ThreadID:   threadID,
			Role:       domain.Role(r.Metadata["role"]),
			Text:       r.Content,
			Similarity: float64(r.Similarity),
		})
	}

	// Equal-similarity matches resolve to insertion order so repeated
	// searches stay deterministic.
	sort.SliceStable(matches, func(a, b int) bool {
		if matches[a].Similarity != matches[b].Similarity {
			return matches[a].Similarity > matches[b].Similarity
		}
		return matches[a].EntryID < matches[b].EntryID
	})

	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

func (i *Index) Remove(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	docIDs := make([]string, len(ids))
	for n, id := range ids {
		docIDs[n] = strconv.FormatInt(id, 10)
	}

	i.mu.RLock()
	collection := i.collection
	i.mu.RUnlock()

	if err := collection.Delete(ctx, nil, nil, docIDs...); err != nil {
		return fmt.Errorf("index remove: %w", err)
	}
	return nil
}

// Rebuild replaces the collection contents with the given entries. Entries
// are added in ascending id order so insertion-order tie-breaking matches
// the original write order.
func (i *Index) Rebuild(ctx context.Context, entries []domain.MemoryEntry) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if err := i.db.DeleteCollection(i.name); err != nil {
		return fmt.Errorf("index rebuild: drop collection: %w", err)
	}
	collection, err := i.db.GetOrCreateCollection(i.name, nil, i.embedFunc())
	if err != nil {
		return fmt.Errorf("index rebuild: create collection: %w", err)
	}
	i.collection = collection

	sorted := make([]domain.MemoryEntry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(a, b int) bool { return sorted[a].ID < sorted[b].ID })

	docs := make([]chromemgo.Document, 0, len(sorted))
	for _, entry := range sorted {
		docs = append(docs, chromemgo.Document{
			ID:      strconv.FormatInt(entry.ID, 10),
			Content: entry.Text,
			Metadata: map[string]string{
				"user_id":   entry.UserID,
				"thread_id": entry.ThreadID,
				"role":      string(entry.Role),
				"tool_name": entry.ToolName,
			},
		})
	}
	if len(docs) == 0 {
		return nil
	}
	if err := collection.AddDocuments(ctx, docs, 1); err != nil {
		return fmt.Errorf("index rebuild: add documents: %w", err)
	}
	return nil
}

// Size reports how many entries are currently indexed.
func (i *Index) Size() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.collection.Count()
}
