package persist

import (
	"context"
	"testing"
	"time"

	"github.com/clinsim/voicegate/internal/eventlog"
	"github.com/clinsim/voicegate/internal/scenario"
)

func TestMemoryStore_SnapshotRoundTrip(t *testing.T) {
	t.Parallel()
	s := NewMemoryStore()
	ctx := context.Background()

	got, err := s.LoadSnapshot(ctx, "s1")
	if err != nil || got != nil {
		t.Fatalf("LoadSnapshot on empty store = %v, %v; want nil, nil", got, err)
	}

	saved := Snapshot{
		ScenarioID: "child_asthma_v1",
		State:      scenario.State{ScenarioID: "child_asthma_v1", StageID: "treatment"},
		SavedAt:    time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC),
	}
	if err := s.SaveSnapshot(ctx, "s1", saved); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}

	got, err = s.LoadSnapshot(ctx, "s1")
	if err != nil || got == nil {
		t.Fatalf("LoadSnapshot = %v, %v", got, err)
	}
	if got.ScenarioID != "child_asthma_v1" || got.State.StageID != "treatment" {
		t.Errorf("loaded snapshot = %+v", got)
	}

	// Saving again replaces, never appends.
	saved.State.StageID = "disposition"
	_ = s.SaveSnapshot(ctx, "s1", saved)
	got, _ = s.LoadSnapshot(ctx, "s1")
	if got.State.StageID != "disposition" {
		t.Errorf("StageID = %q after overwrite, want disposition", got.State.StageID)
	}

	// Other sessions stay empty.
	if other, _ := s.LoadSnapshot(ctx, "s2"); other != nil {
		t.Errorf("unrelated session returned a snapshot")
	}
}

func TestMemoryStore_AppendEvent(t *testing.T) {
	t.Parallel()
	s := NewMemoryStore()
	ctx := context.Background()

	for i, typ := range []string{"stage.advanced", "order.submitted"} {
		err := s.AppendEvent(ctx, "s1", eventlog.Entry{Type: typ})
		if err != nil {
			t.Fatalf("AppendEvent %d: %v", i, err)
		}
	}

	events := s.Events("s1")
	if len(events) != 2 {
		t.Fatalf("Events len = %d, want 2", len(events))
	}
	if events[0].Type != "stage.advanced" || events[1].Type != "order.submitted" {
		t.Errorf("events = %+v, want append order preserved", events)
	}

	// The returned slice is a copy.
	events[0].Type = "mutated"
	if s.Events("s1")[0].Type != "stage.advanced" {
		t.Errorf("Events exposed internal storage")
	}
}
