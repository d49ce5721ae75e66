package coresystem

import "time"

// Status is the lifecycle state of a Memo.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	// StatusExpired is reached only from StatusActive, when a memo's
	// todo_date passes unattended. It is terminal; marking a memo expired
	// does not cancel jobs already registered for it, and restart recovery
	// rebuilds jobs for active memos only. It exists so an overdue memo can
	// be recycled after a retention window without being confused with one
	// the user explicitly completed.
	StatusExpired Status = "expired"
)

// Priority mirrors bus.Priority's three-level scheme for memo payloads
// that travel independently of a bus.Message envelope (e.g. row scans).
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// rank orders priorities for min_priority comparisons in QueryMemos.
// Unknown values rank below PriorityLow so malformed rows never satisfy a
// positive min_priority filter.
func (p Priority) rank() int {
	switch p {
	case PriorityLow:
		return 0
	case PriorityNormal:
		return 1
	case PriorityHigh:
		return 2
	default:
		return -1
	}
}

// Memo is the persistent TODO-like entity owned by CoreSystemPlugin.
type Memo struct {
	ID          int64             `json:"id"`
	Content     string            `json:"content"`
	Status      Status            `json:"status"`
	Cron        string            `json:"cron,omitempty"`
	RemindAt    *time.Time        `json:"remind_at,omitempty"`
	Tags        []string          `json:"tags,omitempty"`
	Priority    Priority          `json:"priority"`
	TodoDate    *int64            `json:"todo_date,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// HasTag reports whether the memo carries the given tag.
func (m Memo) HasTag(tag string) bool {
	for _, t := range m.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// MemoUpdate carries a sparse update: a nil field is left untouched, a
// non-nil field replaces the stored value. Tags replaces the whole set
// (there is no partial tag add/remove, matching the original's
// update_memo which accepts a full replacement list).
type MemoUpdate struct {
	Content  *string
	Cron     *string
	RemindAt *time.Time
	Tags     []string
	HasTags  bool
	TodoDate *int64
	Priority *Priority
}

// MemoQueryParams filters system.memo.list's advanced query. The zero
// value matches status=active only, preserving the plain-list behavior
// callers relied on before this query surface existed.
type MemoQueryParams struct {
	Status      Status // "" means the active-only default; "all" via StatusAll matches every status
	MinPriority Priority
	FromDate    *int64
	ToDate      *int64
	Keyword     string
	Tags        []string
	Limit       int
	Offset      int
}

// StatusAll is a MemoQueryParams.Status sentinel meaning "every status,"
// not a value ever persisted on a row.
const StatusAll Status = "all"
