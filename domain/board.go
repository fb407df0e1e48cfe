package domain

import "time"

// TimeLayout is the timestamp format written to board files.
const TimeLayout = "2006-01-02T15:04:05.000Z"

// DefaultColor is the implicit color of columns and cards. It is never persisted.
const DefaultColor = "default"

// Board is the top-level kanban document.
type Board struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Columns   []Column  `json:"columns"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Column is an ordered lane of cards.
type Column struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Color       string `json:"color,omitempty"`
	Cards       []Card `json:"cards,omitempty"`
}

// Card represents a single board item.
type Card struct {
	ID            string          `json:"id"`
	Title         string          `json:"title"`
	Summary       string          `json:"summary,omitempty"`
	Description   string          `json:"description,omitempty"`
	Labels        []string        `json:"labels,omitempty"`
	Checklist     []ChecklistItem `json:"checklist,omitempty"`
	PlanFile      string          `json:"planFile,omitempty"`
	Color         string          `json:"color,omitempty"`
	PRStatus      string          `json:"prStatus,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     *time.Time      `json:"updatedAt,omitempty"`
	ArchivedAt    *time.Time      `json:"archivedAt,omitempty"`
	ArchiveReason string          `json:"archiveReason,omitempty"`
	History       []ChangeEvent   `json:"history,omitempty"`
}

// ChecklistItem is one entry of a card checklist.
type ChecklistItem struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	Completed bool   `json:"completed"`
}

// ChangeType tags a card history entry.
type ChangeType string

const (
	ChangeColumn      ChangeType = "column"
	ChangeTitle       ChangeType = "title"
	ChangeDescription ChangeType = "description"
	ChangeLabels      ChangeType = "labels"
)

// ChangeEvent is an append-only card history entry. Column moves carry
// ColumnID/ColumnTitle, field edits carry From/To.
type ChangeEvent struct {
	Type        ChangeType `json:"type"`
	Timestamp   time.Time  `json:"timestamp"`
	ColumnID    string     `json:"columnId,omitempty"`
	ColumnTitle string     `json:"columnTitle,omitempty"`
	From        string     `json:"from,omitempty"`
	To          string     `json:"to,omitempty"`
}

// BoardSnapshot is a board as read at a specific version.
type BoardSnapshot struct {
	Board   Board  `json:"board"`
	Version string `json:"version"`
}

// BoardSummary describes a board in listings.
type BoardSummary struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// BoardList is the set of boards present at a specific version.
type BoardList struct {
	Boards  []BoardSummary `json:"boards"`
	Version string         `json:"version"`
}

// DefaultColumns returns the columns a board gets when created without any.
func DefaultColumns() []Column {
	return []Column{
		{ID: "backlog", Title: "Backlog"},
		{ID: "in-progress", Title: "In Progress"},
		{ID: "done", Title: "Done"},
	}
}

// FormatTime renders t in the persisted timestamp layout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime parses an ISO-8601 timestamp.
func ParseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// CardCount returns the number of cards across all columns.
func (b Board) CardCount() int {
	n := 0
	for _, col := range b.Columns {
		n += len(col.Cards)
	}
	return n
}

// IsDefaultColor reports whether c should be left out of persisted files.
func IsDefaultColor(c string) bool {
	return c == "" || c == DefaultColor
}
