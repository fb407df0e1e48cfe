package domain

import "time"

// SaveBoardRequest replaces a whole board in one transaction.
type SaveBoardRequest struct {
	BoardID         string   `json:"boardId"`
	Board           Board    `json:"board"`
	ExpectedVersion string   `json:"expectedVersion"`
	DeletedCardIDs  []string `json:"deletedCardIds,omitempty"`
	// Author is the authenticated caller, recorded in the commit message.
	Author string `json:"-"`
}

// CreateBoardRequest creates a board with no cards.
type CreateBoardRequest struct {
	ID      string   `json:"id"`
	Title   string   `json:"title"`
	Columns []Column `json:"columns,omitempty"`
	Author  string   `json:"-"`
}

// Result is the tagged outcome of a mutating board operation.
type Result struct {
	OK         bool      `json:"ok"`
	BoardID    string    `json:"boardId,omitempty"`
	NewVersion string    `json:"newVersion,omitempty"`
	Kind       ErrorKind `json:"kind,omitempty"`
	Message    string    `json:"message,omitempty"`
}

// Committed builds a successful result.
func Committed(boardID, version string) Result {
	return Result{OK: true, BoardID: boardID, NewVersion: version}
}

// Failure converts err into a failed result. Upstream and internal errors
// are reported generically so remote payloads never reach callers.
func Failure(err error) Result {
	kind := KindOf(err)
	msg := err.Error()
	switch kind {
	case KindConflict:
		msg = "board changed since it was loaded; refresh and resubmit"
	case KindUpstream:
		msg = "document store request failed"
	case KindInternal:
		msg = "internal error"
	}
	return Result{OK: false, Kind: kind, Message: msg}
}

// NoticeKind identifies what kind of change a notice describes.
type NoticeKind string

const (
	NoticeBoardCreated NoticeKind = "board.created"
	NoticeBoardSaved   NoticeKind = "board.saved"
)

// ChangeNotice tells downstream consumers that board content changed.
type ChangeNotice struct {
	ID      string     `json:"id"`
	Kind    NoticeKind `json:"kind"`
	BoardID string     `json:"boardId"`
	Title   string     `json:"title"`
	Version string     `json:"version"`
	At      time.Time  `json:"at"`
}
