package domain

import (
	"encoding/json"
	"time"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type MessageType string

const (
	MessageTypeText     MessageType = "text"
	MessageTypeToolCall MessageType = "tool_call"
)

type ConversationThread struct {
	ThreadID     string    `json:"thread_id"`
	UserID       string    `json:"user_id"`
	Title        string    `json:"title"`
	ThreadType   string    `json:"thread_type"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
	IsActive     bool      `json:"is_active"`
}

// MemoryEntry is one stored conversation turn. Entries are written once and
// never mutated; retention only prunes low-importance rows past an age cutoff.
type MemoryEntry struct {
	ID             int64           `json:"id"`
	ThreadID       string          `json:"thread_id"`
	UserID         string          `json:"user_id"`
	Role           Role            `json:"role"`
	Text           string          `json:"text"`
	MessageType    MessageType     `json:"message_type"`
	ToolName       string          `json:"tool_name,omitempty"`
	ToolParameters json.RawMessage `json:"tool_parameters,omitempty"`
	ToolResult     json.RawMessage `json:"tool_result,omitempty"`
	SessionID      string          `json:"session_id,omitempty"`
	Importance     float64         `json:"importance"`
	CreatedAt      time.Time       `json:"created_at"`
}

type EntityType string

const (
	EntityInvoice EntityType = "invoice"
	EntityTicket  EntityType = "ticket"
	EntityVendor  EntityType = "vendor"
)

type EntityMention struct {
	ID         int64      `json:"id"`
	EntryID    int64      `json:"entry_id"`
	EntityType EntityType `json:"entity_type"`
	EntityID   string     `json:"entity_id"`
	EntityName string     `json:"entity_name"`
	Context    string     `json:"context"`
	Confidence float64    `json:"confidence"`
}

// UserPattern is a learned per-user behavioral observation. Evidence only grows
// on repeated observation; rows disappear only through explicit cleanup.
type UserPattern struct {
	UserID         string    `json:"user_id"`
	Key            string    `json:"key"`
	Value          string    `json:"value"`
	EvidenceCount  int       `json:"evidence_count"`
	Confidence     float64   `json:"confidence"`
	LastReinforced time.Time `json:"last_reinforced"`
}

type TurnRecord struct {
	UserID         string
	SessionID      string
	ThreadID       string
	Role           Role
	Text           string
	ToolName       string
	ToolParameters map[string]any
	ToolResult     map[string]any
	Importance     float64
}
