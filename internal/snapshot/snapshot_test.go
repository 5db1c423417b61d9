package snapshot

import (
	"sync"
	"testing"
)

type pair struct {
	a, b int
}

func TestCellPublishLoad(t *testing.T) {
	var c Cell[pair]
	if c.Load() != nil {
		t.Fatalf("zero cell should load nil")
	}
	first := &pair{1, 1}
	c.Publish(first)
	if got := c.Load(); got != first {
		t.Fatalf("load = %p, want %p", got, first)
	}
	second := &pair{2, 2}
	if old := c.Swap(second); old != first {
		t.Fatalf("swap returned %p, want %p", old, first)
	}
	if got := c.Load(); got != second {
		t.Fatalf("load after swap = %p, want %p", got, second)
	}
}

func TestCellReadersNeverSeeTornValue(t *testing.T) {
	c := New(&pair{0, 0})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 1; i <= 10000; i++ {
			c.Publish(&pair{i, i})
		}
	}()
	for i := 0; i < 10000; i++ {
		p := c.Load()
		if p.a != p.b {
			t.Fatalf("torn snapshot %+v", *p)
		}
	}
	wg.Wait()
}
