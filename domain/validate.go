package domain

import (
	"regexp"
	"unicode/utf8"
)

// Policy limits. They bound request size, not the storage format.
const (
	MaxColumns        = 10
	MaxCards          = 500
	MaxTitleLen       = 200
	MaxSummaryLen     = 500
	MaxDescriptionLen = 20000
	MaxLabels         = 20
	MaxLabelLen       = 50
	MaxChecklistItems = 100
	MaxChecklistLen   = 500
	MaxHistory        = 500
	MaxReasonLen      = 500
)

var (
	idPattern      = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,63}$`)
	versionPattern = regexp.MustCompile(`^[0-9a-f]{40}([0-9a-f]{24})?$`)
)

// ValidID reports whether id is safe to map onto a file path.
func ValidID(id string) bool {
	return idPattern.MatchString(id)
}

// ValidVersion reports whether v looks like a commit identifier.
func ValidVersion(v string) bool {
	return versionPattern.MatchString(v)
}

func checkID(field, id string) error {
	if !ValidID(id) {
		return invalid(field, "%q must match %s", id, idPattern.String())
	}
	return nil
}

func checkLen(field, s string, max int, required bool) error {
	if required && s == "" {
		return invalid(field, "is required")
	}
	if n := utf8.RuneCountInString(s); n > max {
		return invalid(field, "length %d exceeds %d", n, max)
	}
	return nil
}

// ValidateCreate checks a create-board request.
func ValidateCreate(req CreateBoardRequest) error {
	if err := checkID("id", req.ID); err != nil {
		return err
	}
	if err := checkLen("title", req.Title, MaxTitleLen, true); err != nil {
		return err
	}
	for _, col := range req.Columns {
		if len(col.Cards) > 0 {
			return invalid("columns", "column %q must not contain cards on create", col.ID)
		}
	}
	return validateColumns(req.Columns)
}

// ValidateSave checks a save request before anything is read or written.
func ValidateSave(req SaveBoardRequest) error {
	if err := checkID("boardId", req.BoardID); err != nil {
		return err
	}
	if req.Board.ID != req.BoardID {
		return invalid("board.id", "%q does not match board id %q", req.Board.ID, req.BoardID)
	}
	if !ValidVersion(req.ExpectedVersion) {
		return invalid("expectedVersion", "%q is not a commit identifier", req.ExpectedVersion)
	}
	if err := ValidateBoard(req.Board); err != nil {
		return err
	}

	present := make(map[string]struct{}, req.Board.CardCount())
	for _, col := range req.Board.Columns {
		for _, card := range col.Cards {
			present[card.ID] = struct{}{}
		}
	}
	seen := make(map[string]struct{}, len(req.DeletedCardIDs))
	for _, id := range req.DeletedCardIDs {
		if err := checkID("deletedCardIds", id); err != nil {
			return err
		}
		if _, ok := present[id]; ok {
			return invalid("deletedCardIds", "card %q is both saved and deleted", id)
		}
		if _, dup := seen[id]; dup {
			return invalid("deletedCardIds", "card %q listed twice", id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

// ValidateBoard checks identifiers, uniqueness and field bounds of a board.
func ValidateBoard(b Board) error {
	if err := checkID("board.id", b.ID); err != nil {
		return err
	}
	if err := checkLen("board.title", b.Title, MaxTitleLen, true); err != nil {
		return err
	}
	if len(b.Columns) == 0 {
		return invalid("board.columns", "at least one column is required")
	}
	if err := validateColumns(b.Columns); err != nil {
		return err
	}
	if n := b.CardCount(); n > MaxCards {
		return invalid("board.columns", "%d cards exceeds %d", n, MaxCards)
	}
	cardIDs := make(map[string]struct{}, b.CardCount())
	for _, col := range b.Columns {
		for _, card := range col.Cards {
			if _, dup := cardIDs[card.ID]; dup {
				return invalid("card.id", "%q is not unique within the board", card.ID)
			}
			cardIDs[card.ID] = struct{}{}
			if err := validateCard(card); err != nil {
				return err
			}
		}
	}
	return nil
}

func validateColumns(cols []Column) error {
	if len(cols) > MaxColumns {
		return invalid("columns", "%d columns exceeds %d", len(cols), MaxColumns)
	}
	ids := make(map[string]struct{}, len(cols))
	for _, col := range cols {
		if err := checkID("column.id", col.ID); err != nil {
			return err
		}
		if _, dup := ids[col.ID]; dup {
			return invalid("column.id", "%q is not unique", col.ID)
		}
		ids[col.ID] = struct{}{}
		if err := checkLen("column.title", col.Title, MaxTitleLen, true); err != nil {
			return err
		}
		if err := checkLen("column.description", col.Description, MaxSummaryLen, false); err != nil {
			return err
		}
	}
	return nil
}

func validateCard(c Card) error {
	if err := checkID("card.id", c.ID); err != nil {
		return err
	}
	if err := checkLen("card.title", c.Title, MaxTitleLen, true); err != nil {
		return err
	}
	if err := checkLen("card.summary", c.Summary, MaxSummaryLen, false); err != nil {
		return err
	}
	if err := checkLen("card.description", c.Description, MaxDescriptionLen, false); err != nil {
		return err
	}
	if err := checkLen("card.archiveReason", c.ArchiveReason, MaxReasonLen, false); err != nil {
		return err
	}
	if c.CreatedAt.IsZero() {
		return invalid("card.createdAt", "card %q has no creation time", c.ID)
	}
	if len(c.Labels) > MaxLabels {
		return invalid("card.labels", "%d labels exceeds %d", len(c.Labels), MaxLabels)
	}
	for _, l := range c.Labels {
		if err := checkLen("card.labels", l, MaxLabelLen, true); err != nil {
			return err
		}
	}
	if len(c.Checklist) > MaxChecklistItems {
		return invalid("card.checklist", "%d items exceeds %d", len(c.Checklist), MaxChecklistItems)
	}
	itemIDs := make(map[string]struct{}, len(c.Checklist))
	for _, item := range c.Checklist {
		if err := checkID("checklist.id", item.ID); err != nil {
			return err
		}
		if _, dup := itemIDs[item.ID]; dup {
			return invalid("checklist.id", "%q is not unique within card %q", item.ID, c.ID)
		}
		itemIDs[item.ID] = struct{}{}
		if err := checkLen("checklist.text", item.Text, MaxChecklistLen, true); err != nil {
			return err
		}
	}
	if len(c.History) > MaxHistory {
		return invalid("card.history", "%d entries exceeds %d", len(c.History), MaxHistory)
	}
	for _, ev := range c.History {
		switch ev.Type {
		case ChangeColumn, ChangeTitle, ChangeDescription, ChangeLabels:
		default:
			return invalid("history.type", "unknown change type %q", ev.Type)
		}
		if ev.Timestamp.IsZero() {
			return invalid("history.timestamp", "missing on card %q", c.ID)
		}
	}
	return nil
}
