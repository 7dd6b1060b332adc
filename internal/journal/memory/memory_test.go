package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/yanasoup/pos-sub000/internal/journal"
)

func TestRecordFillsDefaults(t *testing.T) {
	r := New()
	ctx := context.Background()

	if err := r.Record(ctx, journal.Entry{Action: "sale_submit", SessionID: "s1"}); err != nil {
		t.Fatalf("record failed: %v", err)
	}

	entries, err := r.List(ctx, 10)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected one entry, got %d", len(entries))
	}
	if entries[0].ID == "" {
		t.Fatal("record should assign an id")
	}
	if entries[0].CreatedAt.IsZero() {
		t.Fatal("record should stamp created_at")
	}
}

func TestRecordRejectsEmptyAction(t *testing.T) {
	r := New()
	err := r.Record(context.Background(), journal.Entry{SessionID: "s1"})
	if !errors.Is(err, journal.ErrInvalidEntry) {
		t.Fatalf("expected invalid entry error, got %v", err)
	}
}

func TestListNewestFirstWithLimit(t *testing.T) {
	r := New()
	ctx := context.Background()

	for _, action := range []string{"first", "second", "third"} {
		if err := r.Record(ctx, journal.Entry{Action: action}); err != nil {
			t.Fatalf("record failed: %v", err)
		}
	}

	entries, err := r.List(ctx, 2)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected two entries, got %d", len(entries))
	}
	if entries[0].Action != "third" || entries[1].Action != "second" {
		t.Fatalf("expected newest first, got %s then %s", entries[0].Action, entries[1].Action)
	}
}
