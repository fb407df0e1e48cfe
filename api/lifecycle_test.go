package api

import (
	"net/http"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/sirupsen/logrus/hooks/test"

	"prism-board/domain"
	"prism-board/github/githubtest"
	"prism-board/storage"
)

func TestBoardLifecycleOverRepository(t *testing.T) {
	srv := githubtest.New(t)
	logger, _ := test.NewNullLogger()
	store := storage.New(srv.NewClient(t), storage.Options{Root: "kanban", Logger: logger})
	t.Cleanup(store.Close)
	e := newTestServer(store, mockAuth{}, nil)

	rec := serve(e, http.MethodPost, "/api/boards", `{"id":"roadmap","title":"Roadmap"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", rec.Code, rec.Body.String())
	}
	created := decodeResult(t, rec)
	if created.NewVersion != srv.Head() {
		t.Fatalf("create version %s, head %s", created.NewVersion, srv.Head())
	}

	rec = serve(e, http.MethodPost, "/api/boards", `{"id":"roadmap","title":"Again"}`)
	if rec.Code != http.StatusConflict || decodeResult(t, rec).Kind != domain.KindAlreadyExists {
		t.Fatalf("duplicate create: %d %s", rec.Code, rec.Body.String())
	}

	rec = serve(e, http.MethodGet, "/api/boards/roadmap", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("load: %d %s", rec.Code, rec.Body.String())
	}
	var snap domain.BoardSnapshot
	if err := sonic.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if snap.Version != created.NewVersion || len(snap.Board.Columns) != 3 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}

	snap.Board.Columns[0].Cards = []domain.Card{{ID: "c1", Title: "First", CreatedAt: snap.Board.CreatedAt}}
	body, err := sonic.Marshal(domain.SaveBoardRequest{Board: snap.Board, ExpectedVersion: snap.Version})
	if err != nil {
		t.Fatalf("encode save: %v", err)
	}
	rec = serve(e, http.MethodPut, "/api/boards/roadmap", string(body))
	if rec.Code != http.StatusOK {
		t.Fatalf("save: %d %s", rec.Code, rec.Body.String())
	}
	if _, ok := srv.File("kanban/roadmap/c1.md"); !ok {
		t.Fatalf("card file not committed: %v", srv.Paths())
	}

	// Same expected version again: the head has moved.
	rec = serve(e, http.MethodPut, "/api/boards/roadmap", string(body))
	if rec.Code != http.StatusConflict {
		t.Fatalf("stale save: %d %s", rec.Code, rec.Body.String())
	}

	rec = serve(e, http.MethodGet, "/api/boards", "")
	var list domain.BoardList
	if err := sonic.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list.Boards) != 1 || list.Boards[0].ID != "roadmap" || list.Version != srv.Head() {
		t.Fatalf("unexpected list: %+v", list)
	}
}
