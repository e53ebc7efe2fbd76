package audit

import (
	"path/filepath"
	"testing"
)

func TestStore_LogAndHistory(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "state", "audit.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer store.Close()

	store.LogAction(ActionContainerStarted, "warden-py-1", "python-dev", "sess-1", "")
	store.LogAction(ActionContainerTTLExpired, "warden-py-1", "python-dev", "sess-1", ReasonTTLExpired)

	entries, err := store.History(10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("len(entries) = %d, want 2", len(entries))
	}
	// Newest first.
	if entries[0].Action != ActionContainerTTLExpired {
		t.Fatalf("entries[0].Action = %q", entries[0].Action)
	}
	if entries[0].Reason != ReasonTTLExpired {
		t.Fatalf("entries[0].Reason = %q", entries[0].Reason)
	}
	if entries[0].Session != "sess-1" {
		t.Fatalf("entries[0].Session = %q, want sess-1", entries[0].Session)
	}
	if entries[1].Action != ActionContainerStarted {
		t.Fatalf("entries[1].Action = %q", entries[1].Action)
	}
	if entries[0].At.IsZero() {
		t.Fatal("entry timestamp not recorded")
	}
}

func TestStore_HistoryLimit(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer store.Close()

	for range 5 {
		store.LogAction(ActionApprovalRequested, "req", "bp", "", "")
	}
	entries, err := store.History(3)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("len(entries) = %d, want 3", len(entries))
	}
}
