package clock

import (
	"sync"
	"testing"
)

func TestTickIncrements(t *testing.T) {
	c := New(0)
	if v := c.Tick(); v != 1 {
		t.Fatalf("expected 1, got %d", v)
	}
	if v := c.Tick(); v != 2 {
		t.Fatalf("expected 2, got %d", v)
	}
}

func TestObserveTakesMax(t *testing.T) {
	c := New(5)
	if v := c.Observe(2); v != 6 {
		t.Fatalf("expected 6 (max(5,2)+1), got %d", v)
	}
	if v := c.Observe(100); v != 101 {
		t.Fatalf("expected 101, got %d", v)
	}
}

func TestConcurrentTickIsMonotoneAndUnique(t *testing.T) {
	c := New(0)
	const n = 200
	values := make([]uint64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			values[i] = c.Tick()
		}(i)
	}
	wg.Wait()

	seen := make(map[uint64]bool, n)
	for _, v := range values {
		if seen[v] {
			t.Fatalf("duplicate tick value %d", v)
		}
		seen[v] = true
	}
	if c.Current() != n {
		t.Fatalf("expected final clock %d, got %d", n, c.Current())
	}
}
