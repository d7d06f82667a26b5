package utils

import "testing"

func TestRingBuffer_AppendAndGetAll(t *testing.T) {
	rb := NewRingBuffer(3)

	rb.Append(1)
	rb.Append(2)
	if rb.Size() != 2 {
		t.Errorf("expected size 2, got %d", rb.Size())
	}

	all := rb.GetAll()
	if len(all) != 2 || all[0] != 1 || all[1] != 2 {
		t.Errorf("unexpected contents: %v", all)
	}
}

func TestRingBuffer_WrapsAroundFixedCapacity(t *testing.T) {
	rb := NewRingBuffer(3)

	for i := 1; i <= 5; i++ {
		rb.Append(float64(i))
	}

	if !rb.IsFull() {
		t.Error("expected full buffer")
	}
	if rb.Size() != 3 {
		t.Errorf("size must never exceed capacity, got %d", rb.Size())
	}

	// Oldest two samples were overwritten.
	all := rb.GetAll()
	want := []float64{3, 4, 5}
	for i, v := range want {
		if all[i] != v {
			t.Errorf("index %d: got %v, want %v", i, all[i], v)
		}
	}
}

func TestRingBuffer_GetLatest(t *testing.T) {
	rb := NewRingBuffer(5)
	for i := 1; i <= 4; i++ {
		rb.Append(float64(i))
	}

	latest := rb.GetLatest(2)
	if len(latest) != 2 || latest[0] != 3 || latest[1] != 4 {
		t.Errorf("unexpected latest: %v", latest)
	}

	// Asking for more than stored returns everything.
	if got := rb.GetLatest(100); len(got) != 4 {
		t.Errorf("expected 4 samples, got %d", len(got))
	}
	if got := rb.GetLatest(0); len(got) != 0 {
		t.Errorf("expected empty result, got %v", got)
	}
}

func TestRingBuffer_Clear(t *testing.T) {
	rb := NewRingBuffer(2)
	rb.Append(1)
	rb.Clear()

	if rb.Size() != 0 {
		t.Errorf("expected empty buffer, got size %d", rb.Size())
	}
	if len(rb.GetAll()) != 0 {
		t.Error("expected no samples after clear")
	}
}

func TestRingBuffer_DefaultCapacity(t *testing.T) {
	rb := NewRingBuffer(0)
	if rb.Capacity() <= 0 {
		t.Error("expected a positive fallback capacity")
	}
}
