package storage

import (
	"encoding/json"
	"time"
)

// Profile is a study-partner profile snapshot. Set-valued facets are stored
// as JSON arrays in SQLite and are immutable for the duration of one ranking
// pass: the matching engine only ever reads them.
type Profile struct {
	UserID           string
	FirstName        string
	LastName         string
	University       string
	Major            string
	Year             int
	Bio              string
	Interests        []string
	Skills           []string
	StudyGoals       []string
	StudyTimes       []string
	Languages        []string
	GPA              *float64
	AvgRating        float64
	TotalMatches     int
	SubscriptionTier string
	Status           string // "active", "suspended"
	Public           bool
	LastActive       time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Decision is one user's like/pass verdict on another. A repeated decision
// on the same pair overwrites the previous row.
type Decision struct {
	ActorID     string
	RecipientID string
	Liked       bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Thread is a conversation thread. Threads are soft-deleted: IsActive flips
// to false and the row stays fetchable by id.
type Thread struct {
	ID        string
	OwnerID   string
	Title     string
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ToolCall is one tool invocation the model requested during a turn.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolResult is the outcome of one tool call, matched by CallID.
type ToolResult struct {
	CallID  string `json:"call_id"`
	Output  string `json:"output"`
	IsError bool   `json:"is_error,omitempty"`
}

// Message is one entry in a thread's append-only log. FeedbackScore of 0
// means no feedback; the feedback fields are the only mutable part of a
// persisted message. Partial marks an assistant message truncated by
// cancellation.
type Message struct {
	ID            string
	ThreadID      string
	Seq           int
	Role          string // "user", "assistant", "tool"
	Content       string
	ToolCalls     []ToolCall
	ToolResults   []ToolResult
	Partial       bool
	FeedbackScore int
	FeedbackText  string
	CreatedAt     time.Time
}

// Material is an ingested study document (syllabus, notes) owned by a user.
type Material struct {
	ID        string
	OwnerID   string
	Title     string
	Content   string
	Source    string
	CreatedAt time.Time
}
