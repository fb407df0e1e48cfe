package frontmatter

import (
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"gopkg.in/yaml.v3"

	"prism-board/domain"
)

var (
	t0 = time.Date(2026, 1, 2, 3, 4, 5, 678_000_000, time.UTC)
	t1 = t0.Add(time.Hour)
)

func sampleCard() domain.Card {
	return domain.Card{
		ID:          "card-1",
		Title:       "Fix: login",
		Summary:     "short",
		Description: "Body text\n\nmore",
		Labels:      []string{"bug", "p1: high"},
		Checklist:   []domain.ChecklistItem{{ID: "a", Text: "Write test", Completed: true}},
		PlanFile:    "plans/fix.md",
		Color:       "red",
		PRStatus:    "open",
		CreatedAt:   t0,
		UpdatedAt:   &t1,
		History: []domain.ChangeEvent{
			{Type: domain.ChangeColumn, Timestamp: t0, ColumnID: "todo", ColumnTitle: "To Do"},
			{Type: domain.ChangeTitle, Timestamp: t1, From: "Old", To: "Fix: login"},
		},
	}
}

func TestSerializeBoardMetaQuotesOnlyWhenNeeded(t *testing.T) {
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	b := domain.Board{
		ID:        "x",
		Title:     "A: B",
		Columns:   []domain.Column{{ID: "c1", Title: "Col 1"}},
		CreatedAt: created,
		UpdatedAt: created,
	}
	got := SerializeBoardMeta(b)
	want := `---
id: x
title: "A: B"
createdAt: "2026-01-01T00:00:00.000Z"
updatedAt: "2026-01-01T00:00:00.000Z"
columns:
  - id: c1
    title: Col 1
---

` + metaBody + "\n"
	if got != want {
		t.Fatalf("unexpected output:\n%s", cmp.Diff(want, got))
	}
}

func TestSerializeBoardMetaOmitsDefaults(t *testing.T) {
	b := domain.Board{
		ID:    "b",
		Title: "B",
		Columns: []domain.Column{
			{ID: "a", Title: "A", Color: domain.DefaultColor},
			{ID: "c", Title: "C", Description: "in flight", Color: "blue"},
		},
		CreatedAt: t0,
		UpdatedAt: t0,
	}
	got := SerializeBoardMeta(b)
	if strings.Contains(got, "default") {
		t.Fatalf("default color must not be written:\n%s", got)
	}
	if !strings.Contains(got, "  - id: c\n    title: C\n    description: in flight\n    color: blue\n") {
		t.Fatalf("unexpected column block:\n%s", got)
	}
	if !strings.Contains(SerializeBoardMeta(domain.Board{ID: "e", Title: "E"}), "\ncolumns: []\n") {
		t.Fatal("expected empty column marker")
	}
}

func TestSerializeCard(t *testing.T) {
	got := SerializeCard(sampleCard(), "todo")
	want := `---
id: card-1
title: "Fix: login"
column: todo
summary: short
labels:
  - bug
  - "p1: high"
checklist:
  - id: a
    text: Write test
    completed: true
planFile: plans/fix.md
color: red
prStatus: open
createdAt: "2026-01-02T03:04:05.678Z"
updatedAt: "2026-01-02T04:04:05.678Z"
history:
  - type: column
    timestamp: "2026-01-02T03:04:05.678Z"
    columnId: todo
    columnTitle: To Do
  - type: title
    timestamp: "2026-01-02T04:04:05.678Z"
    from: Old
    to: "Fix: login"
---

Body text

more
`
	if got != want {
		t.Fatalf("unexpected output:\n%s", cmp.Diff(want, got))
	}
}

func TestSerializeCardMinimal(t *testing.T) {
	got := SerializeCard(domain.Card{ID: "c", Title: "T", CreatedAt: t0, Color: domain.DefaultColor}, "done")
	want := "---\nid: c\ntitle: T\ncolumn: done\ncreatedAt: \"2026-01-02T03:04:05.678Z\"\n---\n"
	if got != want {
		t.Fatalf("unexpected output:\n%s", cmp.Diff(want, got))
	}
}

func TestSerializeIsDeterministic(t *testing.T) {
	first := SerializeCard(sampleCard(), "todo")
	for i := 0; i < 10; i++ {
		if again := SerializeCard(sampleCard(), "todo"); again != first {
			t.Fatalf("serialization %d differs:\n%s", i, cmp.Diff(first, again))
		}
	}
}

func TestCardRoundTrip(t *testing.T) {
	archived := t1.Add(time.Minute)
	cards := []domain.Card{
		sampleCard(),
		{ID: "bare", Title: "Bare", CreatedAt: t0},
		{
			ID:            "tricky",
			Title:         `quotes "and" \ back`,
			Summary:       "true",
			Description:   "---\nnot a delimiter\n",
			Labels:        []string{"#tag", "- dash", "42", ""},
			Checklist:     []domain.ChecklistItem{{ID: "x1", Text: "naïve: yes", Completed: false}},
			CreatedAt:     t0,
			ArchivedAt:    &archived,
			ArchiveReason: "it's done\nfor now",
			History: []domain.ChangeEvent{
				{Type: domain.ChangeDescription, Timestamp: t0, From: "", To: "new"},
				{Type: domain.ChangeLabels, Timestamp: t1, From: "a, b", To: "null"},
			},
		},
	}
	for _, card := range cards {
		t.Run(card.ID, func(t *testing.T) {
			got, column, err := ParseCard(SerializeCard(card, "in-progress"))
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if column != "in-progress" {
				t.Fatalf("unexpected column %q", column)
			}
			if diff := cmp.Diff(card, got); diff != "" {
				t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestBoardMetaRoundTrip(t *testing.T) {
	b := domain.Board{
		ID:    "roadmap",
		Title: "Roadmap: 2026",
		Columns: []domain.Column{
			{ID: "next", Title: "Next", Description: "queued #1"},
			{ID: "now", Title: "Now", Color: "green"},
		},
		CreatedAt: t0,
		UpdatedAt: t1,
	}
	got, err := ParseBoardMeta(SerializeBoardMeta(b))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if diff := cmp.Diff(b, got); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}

	empty, err := ParseBoardMeta(SerializeBoardMeta(domain.Board{ID: "e", Title: "[]", CreatedAt: t0, UpdatedAt: t0}))
	if err != nil {
		t.Fatalf("parse empty: %v", err)
	}
	if empty.Title != "[]" || len(empty.Columns) != 0 {
		t.Fatalf("unexpected board: %+v", empty)
	}
}

func TestFrontMatterIsValidYAML(t *testing.T) {
	content := SerializeCard(sampleCard(), "todo")
	head := strings.TrimPrefix(content, "---\n")
	head, _, _ = strings.Cut(head, "\n---\n")

	var out struct {
		ID        string   `yaml:"id"`
		Title     string   `yaml:"title"`
		Labels    []string `yaml:"labels"`
		Checklist []struct {
			ID        string `yaml:"id"`
			Completed bool   `yaml:"completed"`
		} `yaml:"checklist"`
		CreatedAt string `yaml:"createdAt"`
		History   []map[string]string
	}
	if err := yaml.Unmarshal([]byte(head), &out); err != nil {
		t.Fatalf("yaml: %v\n%s", err, head)
	}
	if out.Title != "Fix: login" || out.Labels[1] != "p1: high" || !out.Checklist[0].Completed {
		t.Fatalf("unexpected decode: %+v", out)
	}
	if out.CreatedAt != "2026-01-02T03:04:05.678Z" {
		t.Fatalf("timestamp should stay a string, got %q", out.CreatedAt)
	}
	if len(out.History) != 2 || out.History[0]["columnId"] != "todo" {
		t.Fatalf("unexpected history: %+v", out.History)
	}
}

func TestSerializeBoardPaths(t *testing.T) {
	b := domain.Board{
		ID:    "my-board",
		Title: "Mine",
		Columns: []domain.Column{
			{ID: "todo", Title: "To Do", Cards: []domain.Card{{ID: "c1", Title: "one", CreatedAt: t0}}},
			{ID: "done", Title: "Done", Cards: []domain.Card{{ID: "c2", Title: "two", CreatedAt: t0}}},
		},
		CreatedAt: t0,
		UpdatedAt: t0,
	}
	files := SerializeBoard(b, "my-board", Layout{Root: "kanban"})
	var paths []string
	for _, f := range files {
		paths = append(paths, f.Path)
	}
	want := []string{"kanban/my-board/_board.md", "kanban/my-board/c1.md", "kanban/my-board/c2.md"}
	if diff := cmp.Diff(want, paths); diff != "" {
		t.Fatalf("unexpected paths (-want +got):\n%s", diff)
	}
	if strings.Contains(files[0].Content, "c1") {
		t.Fatal("meta document must not embed cards")
	}
	if !strings.Contains(files[2].Content, "\ncolumn: done\n") {
		t.Fatalf("card should record its column:\n%s", files[2].Content)
	}
}

func TestCardID(t *testing.T) {
	tests := []struct {
		name string
		id   string
		ok   bool
	}{
		{"card-1.md", "card-1", true},
		{"_board.md", "", false},
		{"README", "", false},
		{"Bad Name.md", "Bad Name", false},
	}
	for _, tt := range tests {
		id, ok := CardID(tt.name)
		if ok != tt.ok || (ok && id != tt.id) {
			t.Fatalf("CardID(%q) = %q, %v", tt.name, id, ok)
		}
	}
}

func TestParseRejectsMalformed(t *testing.T) {
	tests := map[string]string{
		"no delimiter":   "id: x\n",
		"unterminated":   "---\nid: x\ntitle: y\n",
		"missing column": "---\nid: x\ntitle: y\ncreatedAt: \"2026-01-01T00:00:00.000Z\"\n---\n",
		"bad timestamp":  "---\nid: x\ntitle: y\ncolumn: c\ncreatedAt: yesterday\n---\n",
		"stray entry":    "---\nid: x\n  - y\n---\n",
		"bad quote":      "---\nid: \"x\n---\n",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			if _, _, err := ParseCard(content); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestCleanRoot(t *testing.T) {
	tests := []struct{ in, want string }{
		{"kanban", "kanban"},
		{"/kanban", "kanban"},
		{"kanban/", "kanban"},
		{"/data//boards/", "data/boards"},
		{"./kanban", "kanban"},
		{"../kanban", "kanban"},
		{"", ""},
		{"/", ""},
	}
	for _, tt := range tests {
		if got := CleanRoot(tt.in); got != tt.want {
			t.Errorf("CleanRoot(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
