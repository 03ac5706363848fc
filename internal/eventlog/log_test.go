package eventlog

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

type captureForwarder struct {
	entries []Entry
	err     error
}

func (f *captureForwarder) AppendEvent(_ context.Context, _ string, entry Entry) error {
	f.entries = append(f.entries, entry)
	return f.err
}

func TestAppendRecent_OldestFirst(t *testing.T) {
	l := New()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		l.Append(ctx, "s1", Entry{Type: fmt.Sprintf("e%d", i)})
	}

	got := l.Recent("s1", 3)
	if len(got) != 3 {
		t.Fatalf("Recent(3) returned %d entries", len(got))
	}
	for i, want := range []string{"e2", "e3", "e4"} {
		if got[i].Type != want {
			t.Errorf("Recent[%d] = %q, want %q", i, got[i].Type, want)
		}
	}

	// n <= 0 or n beyond the count returns everything.
	if all := l.Recent("s1", 0); len(all) != 5 {
		t.Errorf("Recent(0) returned %d entries, want 5", len(all))
	}
	if all := l.Recent("s1", 50); len(all) != 5 {
		t.Errorf("Recent(50) returned %d entries, want 5", len(all))
	}
}

func TestRing_OverwritesOldest(t *testing.T) {
	l := New(WithCapacity(3))
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		l.Append(ctx, "s1", Entry{Type: fmt.Sprintf("e%d", i)})
	}

	got := l.Recent("s1", 10)
	if len(got) != 3 {
		t.Fatalf("ring holds %d entries, want capacity 3", len(got))
	}
	if got[0].Type != "e2" || got[2].Type != "e4" {
		t.Errorf("ring = %v, want the three most recent", got)
	}
}

func TestSessionsAreIsolated(t *testing.T) {
	l := New()
	ctx := context.Background()
	l.Append(ctx, "a", Entry{Type: "for-a"})
	l.Append(ctx, "b", Entry{Type: "for-b"})

	if got := l.Recent("a", 10); len(got) != 1 || got[0].Type != "for-a" {
		t.Errorf("session a sees %v", got)
	}
	if got := l.Recent("missing", 10); got != nil {
		t.Errorf("unknown session returned %v", got)
	}
}

func TestAppend_SetsTimestampAndForwards(t *testing.T) {
	fwd := &captureForwarder{}
	l := New(WithForwarder(fwd))
	l.Append(context.Background(), "s1", Entry{Type: "x"})

	if len(fwd.entries) != 1 {
		t.Fatalf("forwarder received %d entries", len(fwd.entries))
	}
	if fwd.entries[0].TS.IsZero() {
		t.Errorf("zero timestamp not defaulted before forwarding")
	}

	// An explicit timestamp is preserved.
	ts := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	l.Append(context.Background(), "s1", Entry{Type: "y", TS: ts})
	if !fwd.entries[1].TS.Equal(ts) {
		t.Errorf("explicit timestamp overwritten: %v", fwd.entries[1].TS)
	}
}

func TestAppend_ForwarderFailureIsSwallowed(t *testing.T) {
	fwd := &captureForwarder{err: errors.New("db down")}
	l := New(WithForwarder(fwd))
	l.Append(context.Background(), "s1", Entry{Type: "x"})

	// The ring still holds the entry.
	if got := l.Recent("s1", 1); len(got) != 1 {
		t.Errorf("entry lost on forward failure")
	}
}

func TestDrop(t *testing.T) {
	l := New()
	l.Append(context.Background(), "s1", Entry{Type: "x"})
	l.Drop("s1")
	if got := l.Recent("s1", 10); got != nil {
		t.Errorf("dropped session still returns %v", got)
	}
}
