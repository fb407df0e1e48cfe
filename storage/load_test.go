package storage

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"prism-board/domain"
	"prism-board/frontmatter"
	"prism-board/github/githubtest"
)

func TestLoadBoardRoundTrip(t *testing.T) {
	srv := githubtest.New(t)
	s, _ := newTestStore(t, srv.NewClient(t), Options{})
	version := createAndFill(t, s)

	snap, err := s.LoadBoard(context.Background(), "my-board")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if snap.Version != version {
		t.Fatalf("snapshot version %s, want %s", snap.Version, version)
	}
	want := cardsBoard()
	want.CreatedAt = fixedNow
	want.UpdatedAt = fixedNow
	if diff := cmp.Diff(want, snap.Board); diff != "" {
		t.Fatalf("loaded board mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadBoardOrdersAndAdoptsCards(t *testing.T) {
	srv := githubtest.New(t)
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	board := domain.Board{
		ID:        "b",
		Title:     "B",
		Columns:   []domain.Column{{ID: "todo", Title: "To Do"}, {ID: "done", Title: "Done"}},
		CreatedAt: created,
		UpdatedAt: created,
	}
	srv.Commit(map[string]string{
		"kanban/b/_board.md": frontmatter.SerializeBoardMeta(board),
		"kanban/b/late.md":   frontmatter.SerializeCard(domain.Card{ID: "late", Title: "Late", CreatedAt: created.Add(time.Hour)}, "todo"),
		"kanban/b/early.md":  frontmatter.SerializeCard(domain.Card{ID: "early", Title: "Early", CreatedAt: created}, "todo"),
		"kanban/b/alpha.md":  frontmatter.SerializeCard(domain.Card{ID: "alpha", Title: "Alpha", CreatedAt: created.Add(time.Hour)}, "todo"),
		"kanban/b/stray.md":  frontmatter.SerializeCard(domain.Card{ID: "stray", Title: "Stray", CreatedAt: created}, "archived"),
		"kanban/b/NOTES.txt": "not a card",
	}, "seed")
	s, hook := newTestStore(t, srv.NewClient(t), Options{})

	snap, err := s.LoadBoard(context.Background(), "b")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	var ids []string
	for _, c := range snap.Board.Columns[0].Cards {
		ids = append(ids, c.ID)
	}
	if diff := cmp.Diff([]string{"early", "stray", "alpha", "late"}, ids); diff != "" {
		t.Fatalf("unexpected order (-want +got):\n%s", diff)
	}
	if len(snap.Board.Columns[1].Cards) != 0 {
		t.Fatalf("unexpected cards in done: %+v", snap.Board.Columns[1].Cards)
	}
	if !hasEntry(hook, "board.card.unknown_column") {
		t.Fatal("expected unknown column warning")
	}
}

func TestLoadBoardMissing(t *testing.T) {
	srv := githubtest.New(t)
	s, _ := newTestStore(t, srv.NewClient(t), Options{})
	_, err := s.LoadBoard(context.Background(), "nope")
	if domain.KindOf(err) != domain.KindBoardNotFound {
		t.Fatalf("expected board_not_found, got %v", err)
	}
	if _, err := s.LoadBoard(context.Background(), "../x"); domain.KindOf(err) != domain.KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestLoadBoardCorruptCard(t *testing.T) {
	srv := githubtest.New(t)
	s, _ := newTestStore(t, srv.NewClient(t), Options{})
	createAndFill(t, s)
	srv.Commit(map[string]string{"kanban/my-board/broken.md": "no front matter"}, "corrupt")

	if _, err := s.LoadBoard(context.Background(), "my-board"); domain.KindOf(err) != domain.KindInternal {
		t.Fatalf("expected internal error, got %v", err)
	}
}

func TestLoadBoardAtPinnedVersion(t *testing.T) {
	srv := githubtest.New(t)
	s, _ := newTestStore(t, srv.NewClient(t), Options{})
	v1 := createAndFill(t, s)

	board := cardsBoard()
	board.Columns[0].Cards = nil
	res := s.SaveBoard(context.Background(), domain.SaveBoardRequest{BoardID: "my-board", Board: board, ExpectedVersion: v1, DeletedCardIDs: []string{"c1", "c2"}})
	if !res.OK {
		t.Fatalf("save: %+v", res)
	}

	old, err := s.LoadBoardAt(context.Background(), "my-board", v1)
	if err != nil {
		t.Fatalf("load old: %v", err)
	}
	if old.Board.CardCount() != 3 {
		t.Fatalf("expected 3 cards at %s, got %d", v1, old.Board.CardCount())
	}
	cur, err := s.LoadBoard(context.Background(), "my-board")
	if err != nil {
		t.Fatalf("load current: %v", err)
	}
	if cur.Board.CardCount() != 1 || cur.Version != res.NewVersion {
		t.Fatalf("unexpected current board: %d cards at %s", cur.Board.CardCount(), cur.Version)
	}
}

func TestListBoards(t *testing.T) {
	srv := githubtest.New(t)
	s, _ := newTestStore(t, srv.NewClient(t), Options{})
	ctx := context.Background()

	empty, err := s.ListBoards(ctx)
	if err != nil {
		t.Fatalf("list empty: %v", err)
	}
	if len(empty.Boards) != 0 || empty.Version != srv.Head() {
		t.Fatalf("unexpected empty list: %+v", empty)
	}

	for _, req := range []domain.CreateBoardRequest{{ID: "zeta", Title: "Zeta"}, {ID: "alpha", Title: "Alpha: first"}} {
		if res := s.CreateBoard(ctx, req); !res.OK {
			t.Fatalf("create %s: %+v", req.ID, res)
		}
	}
	srv.Commit(map[string]string{
		"kanban/notes/readme.md": "not a board",
		"kanban/README.md":       "root file",
	}, "noise")

	list, err := s.ListBoards(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []domain.BoardSummary{
		{ID: "alpha", Title: "Alpha: first", UpdatedAt: fixedNow},
		{ID: "zeta", Title: "Zeta", UpdatedAt: fixedNow},
	}
	if diff := cmp.Diff(want, list.Boards); diff != "" {
		t.Fatalf("unexpected boards (-want +got):\n%s", diff)
	}
	if list.Version != srv.Head() {
		t.Fatalf("list version %s, want %s", list.Version, srv.Head())
	}
}

func TestListBoardsSkipsUnreadableMeta(t *testing.T) {
	srv := githubtest.New(t)
	s, hook := newTestStore(t, srv.NewClient(t), Options{})
	ctx := context.Background()
	if res := s.CreateBoard(ctx, domain.CreateBoardRequest{ID: "good", Title: "Good"}); !res.OK {
		t.Fatalf("create: %+v", res)
	}
	srv.Commit(map[string]string{"kanban/broken/_board.md": "no front matter"}, "corrupt")

	list, err := s.ListBoards(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list.Boards) != 1 || list.Boards[0].ID != "good" {
		t.Fatalf("unexpected boards: %+v", list.Boards)
	}
	if !hasEntry(hook, "board.meta.unreadable") {
		t.Fatal("expected a warning for the unreadable board")
	}
}

func TestLoadBoardTakesCardIDFromFileName(t *testing.T) {
	srv := githubtest.New(t)
	s, hook := newTestStore(t, srv.NewClient(t), Options{})
	createAndFill(t, s)
	created := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	srv.Commit(map[string]string{
		"kanban/my-board/c3.md": frontmatter.SerializeCard(domain.Card{ID: "renamed", Title: "Shipped", CreatedAt: created}, "done"),
	}, "hand edit")

	snap, err := s.LoadBoard(context.Background(), "my-board")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	done := snap.Board.Columns[2].Cards
	if len(done) != 1 || done[0].ID != "c3" {
		t.Fatalf("unexpected done cards: %+v", done)
	}
	if !hasEntry(hook, "board.card.id_mismatch") {
		t.Fatal("expected an id mismatch warning")
	}

	before := len(srv.Paths())
	res := s.SaveBoard(context.Background(), domain.SaveBoardRequest{BoardID: "my-board", Board: snap.Board, ExpectedVersion: snap.Version})
	if !res.OK {
		t.Fatalf("save: %+v", res)
	}
	if after := len(srv.Paths()); after != before {
		t.Fatalf("save wrote %d paths, had %d", after, before)
	}
	if _, ok := srv.File("kanban/my-board/renamed.md"); ok {
		t.Fatal("save created a second file for the card")
	}
}
