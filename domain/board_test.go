package domain

import (
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
)

func TestCardMarshalOmitsUnsetOptionalFields(t *testing.T) {
	card := Card{ID: "c1", Title: "Title", CreatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}

	payload, err := sonic.Marshal(card)
	if err != nil {
		t.Fatalf("marshal card: %v", err)
	}

	for _, field := range []string{"updatedAt", "archivedAt", "history", "labels", "checklist"} {
		if strings.Contains(string(payload), "\""+field+"\"") {
			t.Fatalf("expected %s to be omitted, got %s", field, payload)
		}
	}
	if !strings.Contains(string(payload), "\"createdAt\"") {
		t.Fatalf("expected createdAt to be present, got %s", payload)
	}
}

func TestChecklistMarshalIncludesFalseCompleted(t *testing.T) {
	payload, err := sonic.Marshal(ChecklistItem{ID: "i1", Text: "x"})
	if err != nil {
		t.Fatalf("marshal item: %v", err)
	}
	if !strings.Contains(string(payload), "\"completed\":false") {
		t.Fatalf("expected completed field, got %s", payload)
	}
}

func TestFormatTimeUsesMillisecondUTC(t *testing.T) {
	loc := time.FixedZone("x", 2*60*60)
	ts := time.Date(2026, 3, 4, 7, 8, 9, 120000000, loc)
	if got := FormatTime(ts); got != "2026-03-04T05:08:09.120Z" {
		t.Fatalf("unexpected format: %s", got)
	}
	parsed, err := ParseTime("2026-03-04T05:08:09.120Z")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !parsed.Equal(ts) {
		t.Fatalf("round trip mismatch: %v vs %v", parsed, ts)
	}
}

func TestIsDefaultColor(t *testing.T) {
	if !IsDefaultColor("") || !IsDefaultColor(DefaultColor) {
		t.Fatal("empty and default colors should be default")
	}
	if IsDefaultColor("blue") {
		t.Fatal("blue is not default")
	}
}
