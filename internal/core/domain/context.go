package domain

// SemanticMatch is one relevance-ranked hit from the semantic index.
type SemanticMatch struct {
	EntryID    int64   `json:"entry_id"`
	ThreadID   string  `json:"thread_id"`
	Role       Role    `json:"role"`
	Text       string  `json:"text"`
	Similarity float64 `json:"similarity"`
}

// AssembledContext is the bounded context object handed to planning and to
// language-model prompts. It is built from already-persisted state only.
type AssembledContext struct {
	Recent   []MemoryEntry     `json:"recent"`
	Patterns []UserPattern     `json:"patterns"`
	Relevant []SemanticMatch   `json:"relevant"`
	Session  map[string]string `json:"session"`
	Entities []EntityMention   `json:"entities"`
	Summary  string            `json:"summary"`
}

// TopPattern returns the pattern with the strongest evidence, if any.
func (c *AssembledContext) TopPattern() (UserPattern, bool) {
	var best UserPattern
	found := false
	for _, p := range c.Patterns {
		if !found || p.EvidenceCount > best.EvidenceCount {
			best = p
			found = true
		}
	}
	return best, found
}
