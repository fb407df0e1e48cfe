package frontmatter

import (
	"path"
	"strconv"
	"strings"
	"time"

	"prism-board/domain"
)

const (
	delimiter   = "---"
	itemPrefix  = "  - "
	fieldIndent = "    "

	// MetaFile is the name of the board metadata document inside a board directory.
	MetaFile = "_board.md"
	// CardExt is the extension of card documents.
	CardExt = ".md"

	metaBody = "Board metadata. Cards are stored as separate files in this directory."
)

// File is one serialized document and the repository path it belongs at.
type File struct {
	Path    string
	Content string
}

// Layout maps board and card ids onto repository paths under Root.
type Layout struct {
	Root string
}

// CleanRoot canonicalizes a collection root into the slash-free relative
// form the contents API reports. Parent references cannot climb above the
// repository root. The empty string stands for the repository root itself.
func CleanRoot(root string) string {
	return strings.Trim(path.Clean("/"+root), "/")
}

// BoardDir returns the directory holding a board's documents.
func (l Layout) BoardDir(boardID string) string {
	return path.Join(l.Root, boardID)
}

// MetaPath returns the path of a board's metadata document.
func (l Layout) MetaPath(boardID string) string {
	return path.Join(l.Root, boardID, MetaFile)
}

// CardPath returns the path of a card document.
func (l Layout) CardPath(boardID, cardID string) string {
	return path.Join(l.Root, boardID, cardID+CardExt)
}

// CardID extracts the card id from a file name inside a board directory.
// It reports false for the metadata document and foreign files.
func CardID(name string) (string, bool) {
	if name == MetaFile || !strings.HasSuffix(name, CardExt) {
		return "", false
	}
	id := strings.TrimSuffix(name, CardExt)
	return id, domain.ValidID(id)
}

type writer struct {
	b strings.Builder
}

func (w *writer) scalar(indent, key, value string) {
	w.raw(indent, key, EscapeValue(value))
}

func (w *writer) raw(indent, key, value string) {
	w.b.WriteString(indent)
	w.b.WriteString(key)
	w.b.WriteString(": ")
	w.b.WriteString(value)
	w.b.WriteByte('\n')
}

func (w *writer) timestamp(indent, key string, t time.Time) {
	w.b.WriteString(indent)
	w.b.WriteString(key)
	w.b.WriteString(`: "`)
	w.b.WriteString(domain.FormatTime(t))
	w.b.WriteString("\"\n")
}

func (w *writer) key(key string) {
	w.b.WriteString(key)
	w.b.WriteString(":\n")
}

// item starts a sequence entry; following fields of the same entry use itemField.
func (w *writer) item(key, value string) {
	w.scalar(itemPrefix, key, value)
}

func (w *writer) itemField(key, value string) {
	w.scalar(fieldIndent, key, value)
}

func (w *writer) open() {
	w.b.WriteString(delimiter)
	w.b.WriteByte('\n')
}

func (w *writer) close(body string) string {
	w.b.WriteString(delimiter)
	w.b.WriteByte('\n')
	if body != "" {
		w.b.WriteByte('\n')
		w.b.WriteString(body)
		w.b.WriteByte('\n')
	}
	return w.b.String()
}

// SerializeBoardMeta renders the board metadata document. Cards are not
// included; they live in their own files.
func SerializeBoardMeta(b domain.Board) string {
	var w writer
	w.open()
	w.scalar("", "id", b.ID)
	w.scalar("", "title", b.Title)
	w.timestamp("", "createdAt", b.CreatedAt)
	w.timestamp("", "updatedAt", b.UpdatedAt)
	if len(b.Columns) == 0 {
		w.b.WriteString("columns: []\n")
	} else {
		w.key("columns")
		for _, col := range b.Columns {
			w.item("id", col.ID)
			w.itemField("title", col.Title)
			if col.Description != "" {
				w.itemField("description", col.Description)
			}
			if !domain.IsDefaultColor(col.Color) {
				w.itemField("color", col.Color)
			}
		}
	}
	return w.close(metaBody)
}

// SerializeCard renders a card document. The card's description becomes the
// document body.
func SerializeCard(c domain.Card, columnID string) string {
	var w writer
	w.open()
	w.scalar("", "id", c.ID)
	w.scalar("", "title", c.Title)
	w.scalar("", "column", columnID)
	if c.Summary != "" {
		w.scalar("", "summary", c.Summary)
	}
	if len(c.Labels) > 0 {
		w.key("labels")
		for _, l := range c.Labels {
			w.b.WriteString(itemPrefix)
			w.b.WriteString(EscapeValue(l))
			w.b.WriteByte('\n')
		}
	}
	if len(c.Checklist) > 0 {
		w.key("checklist")
		for _, item := range c.Checklist {
			w.item("id", item.ID)
			w.itemField("text", item.Text)
			w.raw(fieldIndent, "completed", strconv.FormatBool(item.Completed))
		}
	}
	if c.PlanFile != "" {
		w.scalar("", "planFile", c.PlanFile)
	}
	if !domain.IsDefaultColor(c.Color) {
		w.scalar("", "color", c.Color)
	}
	if c.PRStatus != "" {
		w.scalar("", "prStatus", c.PRStatus)
	}
	w.timestamp("", "createdAt", c.CreatedAt)
	if c.UpdatedAt != nil {
		w.timestamp("", "updatedAt", *c.UpdatedAt)
	}
	if c.ArchivedAt != nil {
		w.timestamp("", "archivedAt", *c.ArchivedAt)
	}
	if c.ArchiveReason != "" {
		w.scalar("", "archiveReason", c.ArchiveReason)
	}
	if len(c.History) > 0 {
		w.key("history")
		for _, ev := range c.History {
			w.item("type", string(ev.Type))
			w.timestamp(fieldIndent, "timestamp", ev.Timestamp)
			if ev.Type == domain.ChangeColumn {
				w.itemField("columnId", ev.ColumnID)
				if ev.ColumnTitle != "" {
					w.itemField("columnTitle", ev.ColumnTitle)
				}
				continue
			}
			w.itemField("from", ev.From)
			w.itemField("to", ev.To)
		}
	}
	return w.close(c.Description)
}

// SerializeBoard renders the metadata document plus one document per card.
func SerializeBoard(b domain.Board, boardID string, l Layout) []File {
	files := make([]File, 0, 1+b.CardCount())
	files = append(files, File{Path: l.MetaPath(boardID), Content: SerializeBoardMeta(b)})
	for _, col := range b.Columns {
		for _, card := range col.Cards {
			files = append(files, File{Path: l.CardPath(boardID, card.ID), Content: SerializeCard(card, col.ID)})
		}
	}
	return files
}
