package session

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestLockWith_Serialises(t *testing.T) {
	l := NewLock()
	var order []int

	done := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = l.With(context.Background(), "first", func() error {
			order = append(order, 1)
			<-release
			return nil
		})
		close(done)
	}()

	// Give the first critical section time to acquire.
	time.Sleep(20 * time.Millisecond)
	if l.TryWith("probe", func() error { return nil }) {
		t.Fatalf("TryWith acquired a held lock")
	}

	close(release)
	<-done
	err := l.With(context.Background(), "second", func() error {
		order = append(order, 2)
		return nil
	})
	if err != nil {
		t.Fatalf("With after release: %v", err)
	}
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Errorf("critical sections ran out of order: %v", order)
	}
}

func TestLockWith_ContextCancel(t *testing.T) {
	l := NewLock()
	release := make(chan struct{})
	defer close(release)
	go func() {
		_ = l.With(context.Background(), "holder", func() error {
			<-release
			return nil
		})
	}()
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := l.With(ctx, "waiter", func() error { return nil })
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want context deadline", err)
	}
}

func TestLockWith_PropagatesError(t *testing.T) {
	l := NewLock()
	sentinel := errors.New("boom")
	if err := l.With(context.Background(), "op", func() error { return sentinel }); !errors.Is(err, sentinel) {
		t.Errorf("err = %v, want sentinel", err)
	}
	// The lock must be free again after an error.
	if !l.TryWith("after", func() error { return nil }) {
		t.Errorf("lock still held after failed critical section")
	}
}

func TestTryWith_ReleasesAfterError(t *testing.T) {
	l := NewLock()
	if !l.TryWith("first", func() error { return errors.New("ignored") }) {
		t.Fatalf("TryWith on a free lock returned false")
	}
	if !l.TryWith("second", func() error { return nil }) {
		t.Errorf("lock leaked by TryWith error path")
	}
}

func TestLocks_GetAndDrop(t *testing.T) {
	ls := NewLocks()
	a := ls.Get("s1")
	if a == nil {
		t.Fatalf("Get returned nil")
	}
	if b := ls.Get("s1"); b != a {
		t.Errorf("Get returned a different lock for the same session")
	}
	ls.Drop("s1")
	if c := ls.Get("s1"); c == a {
		t.Errorf("Drop did not discard the lock")
	}
}
