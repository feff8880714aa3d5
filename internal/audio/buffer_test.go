package audio

import (
	"sync"
	"testing"
)

func TestSampleBuffer_Write(t *testing.T) {
	sb := NewSampleBuffer(10)

	if evicted := sb.Write([]float32{1, 2, 3, 4, 5}); evicted != 0 {
		t.Errorf("Expected no eviction, got %d", evicted)
	}
	if sb.Available() != 5 {
		t.Errorf("Expected available 5, got %d", sb.Available())
	}
}

func TestSampleBuffer_EvictsOldest(t *testing.T) {
	sb := NewSampleBuffer(4)

	sb.Write([]float32{1, 2, 3})
	if evicted := sb.Write([]float32{4, 5, 6}); evicted != 2 {
		t.Errorf("Expected 2 evicted, got %d", evicted)
	}

	out := make([]float32, 4)
	if n := sb.Read(out); n != 4 {
		t.Fatalf("Expected to read 4, got %d", n)
	}
	want := []float32{3, 4, 5, 6}
	for i := range want {
		if out[i] != want[i] {
			t.Errorf("At %d: expected %f, got %f", i, want[i], out[i])
		}
	}
	if sb.Dropped() != 2 {
		t.Errorf("Expected 2 dropped, got %d", sb.Dropped())
	}
}

func TestSampleBuffer_OversizedWrite(t *testing.T) {
	sb := NewSampleBuffer(3)

	if evicted := sb.Write([]float32{1, 2, 3, 4, 5}); evicted != 2 {
		t.Errorf("Expected 2 evicted, got %d", evicted)
	}
	out := make([]float32, 3)
	sb.Read(out)
	if out[0] != 3 || out[2] != 5 {
		t.Errorf("Expected last three samples, got %v", out)
	}
}

func TestSampleBuffer_ReadWraps(t *testing.T) {
	sb := NewSampleBuffer(5)

	sb.Write([]float32{1, 2, 3, 4})
	sb.Read(make([]float32, 3))
	sb.Write([]float32{5, 6, 7})

	out := make([]float32, 10)
	n := sb.Read(out)
	if n != 4 {
		t.Fatalf("Expected to read 4, got %d", n)
	}
	want := []float32{4, 5, 6, 7}
	for i := range want {
		if out[i] != want[i] {
			t.Errorf("At %d: expected %f, got %f", i, want[i], out[i])
		}
	}
	if sb.Available() != 0 {
		t.Errorf("Expected empty buffer, got %d", sb.Available())
	}
}

func TestSampleBuffer_ReadEmpty(t *testing.T) {
	sb := NewSampleBuffer(5)
	if n := sb.Read(make([]float32, 3)); n != 0 {
		t.Errorf("Expected 0 from empty buffer, got %d", n)
	}
}

func TestSampleBuffer_Clear(t *testing.T) {
	sb := NewSampleBuffer(5)
	sb.Write([]float32{1, 2, 3})
	sb.Clear()
	if sb.Available() != 0 {
		t.Errorf("Expected available 0 after clear, got %d", sb.Available())
	}
}

func TestSampleBuffer_Concurrent(t *testing.T) {
	sb := NewSampleBuffer(256)
	var wg sync.WaitGroup

	wg.Add(2)
	go func() {
		defer wg.Done()
		chunk := make([]float32, 32)
		for i := 0; i < 1000; i++ {
			sb.Write(chunk)
		}
	}()
	go func() {
		defer wg.Done()
		out := make([]float32, 48)
		for i := 0; i < 1000; i++ {
			sb.Read(out)
		}
	}()
	wg.Wait()

	if sb.Available() < 0 || sb.Available() > 256 {
		t.Errorf("Available out of range: %d", sb.Available())
	}
}
