package frontmatter

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"prism-board/domain"
)

func errorf(format string, args ...any) error {
	return fmt.Errorf("frontmatter: "+format, args...)
}

// item is one sequence entry: either a bare scalar or a flat map.
type item struct {
	scalar string
	fields map[string]string
}

type document struct {
	fields map[string]string
	lists  map[string][]item
	body   string
}

// parse reads the closed subset of front matter produced by this package.
func parse(content string) (*document, error) {
	rest, ok := strings.CutPrefix(content, delimiter+"\n")
	if !ok {
		return nil, errorf("missing opening delimiter")
	}
	head, body, ok := strings.Cut(rest, "\n"+delimiter+"\n")
	if !ok {
		head, ok = strings.CutSuffix(rest, "\n"+delimiter)
		if !ok {
			return nil, errorf("missing closing delimiter")
		}
	}

	doc := &document{
		fields: make(map[string]string),
		lists:  make(map[string][]item),
	}
	if body != "" {
		doc.body = strings.TrimSuffix(strings.TrimPrefix(body, "\n"), "\n")
	}

	var list string
	for n, line := range strings.Split(head, "\n") {
		lineNo := n + 2
		switch {
		case line == "":
			continue
		case strings.HasPrefix(line, itemPrefix):
			if list == "" {
				return nil, errorf("line %d: sequence entry outside a sequence", lineNo)
			}
			entry := strings.TrimPrefix(line, itemPrefix)
			if strings.HasPrefix(entry, `"`) || !strings.Contains(entry, ":") {
				v, err := unquote(entry)
				if err != nil {
					return nil, fmt.Errorf("line %d: %w", lineNo, err)
				}
				doc.lists[list] = append(doc.lists[list], item{scalar: v})
				continue
			}
			key, v, err := keyValue(entry)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNo, err)
			}
			doc.lists[list] = append(doc.lists[list], item{fields: map[string]string{key: v}})
		case strings.HasPrefix(line, fieldIndent):
			items := doc.lists[list]
			if len(items) == 0 || items[len(items)-1].fields == nil {
				return nil, errorf("line %d: field outside a sequence entry", lineNo)
			}
			key, v, err := keyValue(strings.TrimPrefix(line, fieldIndent))
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNo, err)
			}
			items[len(items)-1].fields[key] = v
		case strings.HasSuffix(line, ":") && !strings.Contains(line, " "):
			list = strings.TrimSuffix(line, ":")
			doc.lists[list] = nil
		case strings.HasSuffix(line, ": []") && !strings.Contains(strings.TrimSuffix(line, ": []"), " "):
			list = ""
			doc.lists[strings.TrimSuffix(line, ": []")] = nil
		default:
			key, v, err := keyValue(line)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNo, err)
			}
			list = ""
			doc.fields[key] = v
		}
	}
	return doc, nil
}

// keyValue splits "key: value" and unquotes quoted values.
func keyValue(s string) (string, string, error) {
	key, raw, ok := strings.Cut(s, ":")
	if !ok || key == "" || strings.ContainsAny(key, ` "`) {
		return "", "", errorf("malformed entry %q", s)
	}
	v, err := unquote(strings.TrimPrefix(raw, " "))
	return key, v, err
}

func (d *document) required(key string) (string, error) {
	v, ok := d.fields[key]
	if !ok {
		return "", errorf("missing %s", key)
	}
	return v, nil
}

func parseTimeField(key, s string) (time.Time, error) {
	t, err := domain.ParseTime(s)
	if err != nil {
		return time.Time{}, errorf("%s: %v", key, err)
	}
	return t, nil
}

func (d *document) timestamp(key string) (time.Time, error) {
	s, err := d.required(key)
	if err != nil {
		return time.Time{}, err
	}
	return parseTimeField(key, s)
}

func (d *document) optionalTime(key string) (*time.Time, error) {
	s, ok := d.fields[key]
	if !ok {
		return nil, nil
	}
	t, err := parseTimeField(key, s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ParseBoardMeta reads a board metadata document. The returned columns carry
// no cards.
func ParseBoardMeta(content string) (domain.Board, error) {
	doc, err := parse(content)
	if err != nil {
		return domain.Board{}, err
	}
	var b domain.Board
	if b.ID, err = doc.required("id"); err != nil {
		return domain.Board{}, err
	}
	if b.Title, err = doc.required("title"); err != nil {
		return domain.Board{}, err
	}
	if b.CreatedAt, err = doc.timestamp("createdAt"); err != nil {
		return domain.Board{}, err
	}
	if b.UpdatedAt, err = doc.timestamp("updatedAt"); err != nil {
		return domain.Board{}, err
	}
	b.Columns = make([]domain.Column, 0, len(doc.lists["columns"]))
	for i, it := range doc.lists["columns"] {
		if it.fields == nil {
			return domain.Board{}, errorf("column %d is not a map", i)
		}
		col := domain.Column{
			ID:          it.fields["id"],
			Title:       it.fields["title"],
			Description: it.fields["description"],
			Color:       it.fields["color"],
		}
		if col.ID == "" {
			return domain.Board{}, errorf("column %d has no id", i)
		}
		b.Columns = append(b.Columns, col)
	}
	return b, nil
}

// ParseCard reads a card document and returns the card with the id of the
// column it belongs to.
func ParseCard(content string) (domain.Card, string, error) {
	doc, err := parse(content)
	if err != nil {
		return domain.Card{}, "", err
	}
	var c domain.Card
	if c.ID, err = doc.required("id"); err != nil {
		return domain.Card{}, "", err
	}
	if c.Title, err = doc.required("title"); err != nil {
		return domain.Card{}, "", err
	}
	column, err := doc.required("column")
	if err != nil {
		return domain.Card{}, "", err
	}
	c.Summary = doc.fields["summary"]
	c.PlanFile = doc.fields["planFile"]
	c.Color = doc.fields["color"]
	c.PRStatus = doc.fields["prStatus"]
	c.ArchiveReason = doc.fields["archiveReason"]
	c.Description = doc.body

	if c.CreatedAt, err = doc.timestamp("createdAt"); err != nil {
		return domain.Card{}, "", err
	}
	if c.UpdatedAt, err = doc.optionalTime("updatedAt"); err != nil {
		return domain.Card{}, "", err
	}
	if c.ArchivedAt, err = doc.optionalTime("archivedAt"); err != nil {
		return domain.Card{}, "", err
	}

	for _, it := range doc.lists["labels"] {
		if it.fields != nil {
			return domain.Card{}, "", errorf("label entries must be scalars")
		}
		c.Labels = append(c.Labels, it.scalar)
	}
	for i, it := range doc.lists["checklist"] {
		if it.fields == nil {
			return domain.Card{}, "", errorf("checklist entry %d is not a map", i)
		}
		done, err := strconv.ParseBool(it.fields["completed"])
		if err != nil {
			return domain.Card{}, "", errorf("checklist entry %d: completed: %v", i, err)
		}
		c.Checklist = append(c.Checklist, domain.ChecklistItem{
			ID:        it.fields["id"],
			Text:      it.fields["text"],
			Completed: done,
		})
	}
	for i, it := range doc.lists["history"] {
		if it.fields == nil {
			return domain.Card{}, "", errorf("history entry %d is not a map", i)
		}
		ts, err := parseTimeField("history.timestamp", it.fields["timestamp"])
		if err != nil {
			return domain.Card{}, "", err
		}
		c.History = append(c.History, domain.ChangeEvent{
			Type:        domain.ChangeType(it.fields["type"]),
			Timestamp:   ts,
			ColumnID:    it.fields["columnId"],
			ColumnTitle: it.fields["columnTitle"],
			From:        it.fields["from"],
			To:          it.fields["to"],
		})
	}
	return c, column, nil
}
