package api

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"

	"prism-board/domain"
)

type recordingAuth struct {
	mu      sync.Mutex
	headers []string
}

func (a *recordingAuth) UserIDFromAuthHeader(h string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.headers = append(a.headers, h)
	return "user", nil
}

func TestBrokerDropsWhenSubscriberIsFull(t *testing.T) {
	b := NewBroker()
	ch := b.subscribe()
	for i := 0; i < subscriberBuffer+4; i++ {
		if err := b.Notify(context.Background(), domain.ChangeNotice{BoardID: "b1"}); err != nil {
			t.Fatalf("notify: %v", err)
		}
	}
	if len(ch) != subscriberBuffer {
		t.Fatalf("expected %d buffered notices, got %d", subscriberBuffer, len(ch))
	}
	b.unsubscribe(ch)
	if b.Subscribers() != 0 {
		t.Fatalf("expected no subscribers, got %d", b.Subscribers())
	}
}

func TestStreamRejectsUnauthenticated(t *testing.T) {
	e := echo.New()
	RegisterStream(e, NewBroker(), mockAuth{err: errMissingAuthorization}, time.Hour)
	rec := serve(e, http.MethodGet, "/api/events", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestStreamRejectsBadBoardFilter(t *testing.T) {
	e := echo.New()
	RegisterStream(e, NewBroker(), mockAuth{}, time.Hour)
	rec := serve(e, http.MethodGet, "/api/events?board=Not_Valid", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if res := decodeResult(t, rec); res.Kind != domain.KindValidation {
		t.Fatalf("expected validation kind, got %q", res.Kind)
	}
}

func TestStreamDeliversFilteredNotices(t *testing.T) {
	broker := NewBroker()
	auth := &recordingAuth{}
	e := echo.New()
	RegisterStream(e, broker, auth, time.Hour)
	srv := httptest.NewServer(e)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/events?board=b1&token=tok", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get(echo.HeaderContentType); ct != streamContentType {
		t.Fatalf("unexpected content type %q", ct)
	}
	r := bufio.NewReader(resp.Body)
	if line, _ := r.ReadString('\n'); line != ": connected\n" {
		t.Fatalf("unexpected preamble %q", line)
	}
	_, _ = r.ReadString('\n')

	other := domain.ChangeNotice{ID: "n1", Kind: domain.NoticeBoardSaved, BoardID: "b2", Version: "v1"}
	want := domain.ChangeNotice{ID: "n2", Kind: domain.NoticeBoardSaved, BoardID: "b1", Version: "v2"}
	_ = broker.Notify(ctx, other)
	_ = broker.Notify(ctx, want)

	var lines []string
	for len(lines) < 3 {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		lines = append(lines, strings.TrimSuffix(line, "\n"))
	}
	if lines[0] != "id: n2" || lines[1] != "event: board.saved" {
		t.Fatalf("unexpected event header %q", lines[:2])
	}
	var got domain.ChangeNotice
	if err := sonic.UnmarshalString(strings.TrimPrefix(lines[2], "data: "), &got); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if got.BoardID != "b1" || got.Version != "v2" {
		t.Fatalf("unexpected notice %+v", got)
	}

	auth.mu.Lock()
	header := auth.headers[0]
	auth.mu.Unlock()
	if header != "Bearer tok" {
		t.Fatalf("expected token from query, got %q", header)
	}

	cancel()
	deadline := time.Now().Add(2 * time.Second)
	for broker.Subscribers() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscriber not released after disconnect")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestBrokerCloseEndsStreams(t *testing.T) {
	b := NewBroker()
	ch := b.subscribe()
	b.Close()
	if _, ok := <-ch; ok {
		t.Fatal("expected closed channel")
	}
	if b.Subscribers() != 0 {
		t.Fatalf("expected no subscribers, got %d", b.Subscribers())
	}
	if _, ok := <-b.subscribe(); ok {
		t.Fatal("subscribe after close must return a closed channel")
	}
	b.unsubscribe(ch)
	b.Close()
}
