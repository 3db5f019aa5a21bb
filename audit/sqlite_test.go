package audit

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"
)

func newTestSink(t *testing.T) *SQLiteSink {
	t.Helper()
	sink, err := NewSQLiteSink(filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatalf("NewSQLiteSink: %v", err)
	}
	t.Cleanup(func() { sink.Close() })
	return sink
}

func TestSQLiteSink_AppendAndRecent(t *testing.T) {
	sink := newTestSink(t)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		err := sink.Append(Entry{
			Action:    "task.dispatch",
			SubjectID: fmt.Sprintf("agent-%d", i),
			Detail:    fmt.Sprintf("task-%d", i),
			Success:   i != 1,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
	}

	entries, err := sink.Recent(10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("len = %d, want 3", len(entries))
	}
	if entries[0].SubjectID != "agent-2" {
		t.Errorf("newest first: got %q, want agent-2", entries[0].SubjectID)
	}
	if entries[1].Success {
		t.Error("agent-1 entry should be recorded as failure")
	}
}

func TestSQLiteSink_RecentLimit(t *testing.T) {
	sink := newTestSink(t)

	for i := 0; i < 5; i++ {
		if err := sink.Append(Entry{Action: "secrets.push", Success: true}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	entries, err := sink.Recent(2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("len = %d, want 2", len(entries))
	}
}

func TestSQLiteSink_StampsCreatedAt(t *testing.T) {
	sink := newTestSink(t)
	if err := sink.Append(Entry{Action: "task.timeout"}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	entries, err := sink.Recent(1)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(entries) != 1 || entries[0].CreatedAt.IsZero() {
		t.Fatalf("entries = %+v, want a stamped created_at", entries)
	}
}
