package ring

import "testing"

type closeTracker struct {
	id     int
	closed *[]int
}

func (c closeTracker) Close() {
	*c.closed = append(*c.closed, c.id)
}

func TestBuffer_TryPushRespectsCapacity(t *testing.T) {
	b := New[int](2)
	if !b.TryPush(1) {
		t.Fatal("expected first push to succeed")
	}
	if !b.TryPush(2) {
		t.Fatal("expected second push to succeed")
	}
	if b.TryPush(3) {
		t.Fatal("expected third push to fail, buffer is full")
	}
	if !b.Full() {
		t.Fatal("expected Full() == true")
	}
}

func TestBuffer_FIFOOrder(t *testing.T) {
	b := New[int](3)
	b.TryPush(1)
	b.TryPush(2)
	b.TryPush(3)

	for _, want := range []int{1, 2, 3} {
		got, ok := b.Pop()
		if !ok || got != want {
			t.Fatalf("Pop() = (%d, %v), want (%d, true)", got, ok, want)
		}
	}
	if _, ok := b.Pop(); ok {
		t.Fatal("expected Pop() on empty buffer to return ok=false")
	}
}

func TestBuffer_PushEvictOldestClosesEvicted(t *testing.T) {
	var closed []int
	b := New[closeTracker](2)
	b.PushEvictOldest(closeTracker{id: 1, closed: &closed})
	b.PushEvictOldest(closeTracker{id: 2, closed: &closed})
	b.PushEvictOldest(closeTracker{id: 3, closed: &closed}) // evicts id 1

	if len(closed) != 1 || closed[0] != 1 {
		t.Fatalf("closed = %v, want [1]", closed)
	}
	if b.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", b.Len())
	}
	if b.Stats().Dropped != 1 {
		t.Fatalf("Dropped = %d, want 1", b.Stats().Dropped)
	}

	got, ok := b.Peek()
	if !ok || got.id != 2 {
		t.Fatalf("Peek() = (%d, %v), want (2, true)", got.id, ok)
	}
}

func TestBuffer_NeverExceedsCapacity(t *testing.T) {
	b := New[int](4)
	for i := 0; i < 100; i++ {
		b.PushEvictOldest(i)
		if b.Len() > b.Cap() {
			t.Fatalf("Len() = %d exceeded Cap() = %d", b.Len(), b.Cap())
		}
	}
	if b.Len() != 4 {
		t.Fatalf("Len() = %d, want 4", b.Len())
	}
	// head should be the last 4 pushed: 96,97,98,99
	want := 96
	for b.Len() > 0 {
		got, _ := b.Pop()
		if got != want {
			t.Fatalf("Pop() = %d, want %d", got, want)
		}
		want++
	}
}

func TestBuffer_DrainClosesAll(t *testing.T) {
	var closed []int
	b := New[closeTracker](4)
	b.TryPush(closeTracker{id: 1, closed: &closed})
	b.TryPush(closeTracker{id: 2, closed: &closed})
	b.Drain()

	if b.Len() != 0 {
		t.Fatalf("Len() after Drain() = %d, want 0", b.Len())
	}
	if len(closed) != 2 {
		t.Fatalf("closed = %v, want 2 entries", closed)
	}
}

func TestNew_ZeroCapacityClampedToOne(t *testing.T) {
	b := New[int](0)
	if b.Cap() != 1 {
		t.Fatalf("Cap() = %d, want 1", b.Cap())
	}
}
