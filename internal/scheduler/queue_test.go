package scheduler

import (
	"sync"
	"testing"
)

func TestQueue_FIFO(t *testing.T) {
	q := NewQueue[int](4)

	for i := 1; i <= 3; i++ {
		if !q.Push(i) {
			t.Fatalf("Push(%d) returned false", i)
		}
	}

	for want := 1; want <= 3; want++ {
		got, ok := q.TryPop()
		if !ok {
			t.Fatalf("TryPop returned false, want %d", want)
		}
		if got != want {
			t.Errorf("TryPop = %d, want %d", got, want)
		}
	}

	if _, ok := q.TryPop(); ok {
		t.Error("TryPop on empty queue returned true")
	}
}

func TestQueue_GrowPreservesOrder(t *testing.T) {
	q := NewQueue[int](2)

	const n = 100
	for i := 0; i < n; i++ {
		q.Push(i)
	}

	if q.Cap() <= 2 {
		t.Errorf("Cap = %d, expected growth beyond 2", q.Cap())
	}
	if q.Len() != n {
		t.Fatalf("Len = %d, want %d", q.Len(), n)
	}

	for want := 0; want < n; want++ {
		got, ok := q.TryPop()
		if !ok || got != want {
			t.Fatalf("TryPop = %d,%v, want %d,true", got, ok, want)
		}
	}
}

func TestQueue_GrowAfterWraparound(t *testing.T) {
	q := NewQueue[int](8)

	// Advance head so the ring wraps before growing.
	for i := 0; i < 4; i++ {
		q.Push(i)
	}
	for i := 0; i < 4; i++ {
		q.TryPop()
	}

	for i := 10; i < 30; i++ {
		q.Push(i)
	}

	for want := 10; want < 30; want++ {
		got, ok := q.TryPop()
		if !ok || got != want {
			t.Fatalf("TryPop = %d,%v, want %d,true", got, ok, want)
		}
	}
}

func TestQueue_CloseDrains(t *testing.T) {
	q := NewQueue[string](4)
	q.Push("a")
	q.Push("b")
	q.Close()

	if q.Push("c") {
		t.Error("Push after Close returned true")
	}

	if v, ok := q.Pop(); !ok || v != "a" {
		t.Errorf("Pop = %q,%v, want a,true", v, ok)
	}
	if v, ok := q.Pop(); !ok || v != "b" {
		t.Errorf("Pop = %q,%v, want b,true", v, ok)
	}
	if _, ok := q.Pop(); ok {
		t.Error("Pop on closed empty queue returned true")
	}
}

func TestQueue_PopBlocksUntilPush(t *testing.T) {
	q := NewQueue[int](4)

	var wg sync.WaitGroup
	wg.Add(1)

	var got int
	var ok bool
	go func() {
		defer wg.Done()
		got, ok = q.Pop()
	}()

	q.Push(42)
	wg.Wait()

	if !ok || got != 42 {
		t.Errorf("Pop = %d,%v, want 42,true", got, ok)
	}
}
