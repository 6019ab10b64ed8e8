package terminal

import "testing"

func TestHistoryZeroCapacityNoOp(t *testing.T) {
	h := NewHistory(0)
	h.Push([]byte("hello"))
	if len(h.Snapshot()) != 0 {
		t.Fatal("expected zero-capacity history to record nothing")
	}
}

func TestHistoryEmptyChunkNoOp(t *testing.T) {
	h := NewHistory(10)
	h.Push(nil)
	h.Push([]byte{})
	if len(h.Snapshot()) != 0 {
		t.Fatal("expected empty pushes to record nothing")
	}
}

func TestHistoryWithinCapacity(t *testing.T) {
	h := NewHistory(10)
	h.Push([]byte("abc"))
	h.Push([]byte("def"))
	if got := string(h.Snapshot()); got != "abcdef" {
		t.Fatalf("got %q", got)
	}
}

func TestHistoryEvictsFromFront(t *testing.T) {
	h := NewHistory(5)
	h.Push([]byte("abc"))
	h.Push([]byte("def"))
	if got := string(h.Snapshot()); got != "cdef" {
		t.Fatalf("got %q, want cdef", got)
	}
}

func TestHistoryChunkLargerThanCapacityKeepsTail(t *testing.T) {
	h := NewHistory(4)
	h.Push([]byte("abcdefgh"))
	if got := string(h.Snapshot()); got != "efgh" {
		t.Fatalf("got %q, want efgh", got)
	}
}

func TestHistoryNeverExceedsCapacity(t *testing.T) {
	h := NewHistory(16)
	for i := 0; i < 100; i++ {
		h.Push([]byte("0123456789"))
	}
	if len(h.Snapshot()) > 16 {
		t.Fatalf("history exceeded capacity: %d bytes", len(h.Snapshot()))
	}
}

func TestChunksSplitsAtBoundary(t *testing.T) {
	data := make([]byte, historyChunkBytes+10)
	chunks := Chunks(data)
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if len(chunks[0]) != historyChunkBytes || len(chunks[1]) != 10 {
		t.Fatalf("unexpected chunk sizes: %d, %d", len(chunks[0]), len(chunks[1]))
	}
}

func TestChunksEmptyInput(t *testing.T) {
	if chunks := Chunks(nil); chunks != nil {
		t.Fatalf("expected nil, got %v", chunks)
	}
}
