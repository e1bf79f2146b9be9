package lru

import (
	"sync"
	"testing"
)

func TestIncrementCountsFromOne(t *testing.T) {
	c := New[string](4)
	for i := 1; i <= 5; i++ {
		if got := c.Increment("x/y"); got != int64(i) {
			t.Fatalf("increment %d: expected %d, got %d", i, i, got)
		}
	}
	if got := c.Get("x/y"); got != 5 {
		t.Fatalf("expected 5, got %d", got)
	}
	if got := c.Get("missing"); got != 0 {
		t.Fatalf("expected absent key to read as 0, got %d", got)
	}
}

func TestEvictsLeastRecentlyUsed(t *testing.T) {
	c := New[int64](3)
	c.Increment(1)
	c.Increment(2)
	c.Increment(3)

	// touch 1 so 2 becomes the eviction candidate
	c.Get(1)
	c.Increment(4)

	if c.Len() != 3 {
		t.Fatalf("expected len 3, got %d", c.Len())
	}
	if got := c.Get(2); got != 0 {
		t.Fatalf("expected evicted key to read 0, got %d", got)
	}
	for _, k := range []int64{1, 3, 4} {
		if c.Peek(k) != 1 {
			t.Fatalf("expected key %d to survive", k)
		}
	}
	if ev := c.Stats().Evictions; ev != 1 {
		t.Fatalf("expected one eviction, got %d", ev)
	}
}

func TestMergeSetOverwritesAndTouches(t *testing.T) {
	c := New[string](2)
	c.Increment("a")
	c.Increment("a")
	c.Increment("b")

	c.MergeSet("a", 7)
	if got := c.Get("a"); got != 7 {
		t.Fatalf("expected overwrite to 7, got %d", got)
	}
	c.MergeSet("b", 3)
	c.MergeSet("c", 1)
	if c.Peek("a") != 0 {
		t.Fatalf("expected a to be evicted after b and c were merged")
	}
	c.MergeSet("b", -4)
	if got := c.Peek("b"); got != 0 {
		t.Fatalf("expected negative merge to clamp to 0, got %d", got)
	}
}

func TestPeekDoesNotTouch(t *testing.T) {
	c := New[string](2)
	c.Increment("old")
	c.Increment("new")
	c.Peek("old")
	c.Increment("newest")
	if c.Peek("old") != 0 {
		t.Fatalf("expected Peek to leave old as least recently used")
	}
}

func TestSnapshotMostRecentFirst(t *testing.T) {
	c := New[string](3)
	c.Increment("a")
	c.Increment("b")
	c.Increment("c")
	c.Get("a")

	snap := c.Snapshot()
	want := []string{"a", "c", "b"}
	if len(snap) != len(want) {
		t.Fatalf("expected %d entries, got %d", len(want), len(snap))
	}
	for i, key := range want {
		if snap[i].Key != key {
			t.Fatalf("position %d: expected %s, got %s", i, key, snap[i].Key)
		}
	}
}

func TestNonPositiveCapacityUsesDefault(t *testing.T) {
	if c := New[string](0); c.Cap() != DefaultCapacity {
		t.Fatalf("expected default capacity, got %d", c.Cap())
	}
}

func TestConcurrentIncrementsRespectCapacity(t *testing.T) {
	const capacity = 16
	c := New[int](capacity)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				c.Increment((g*31 + i) % 40)
				c.Get(i % 40)
				if n := c.Len(); n > capacity {
					t.Errorf("capacity exceeded: %d", n)
					return
				}
			}
		}(g)
	}
	wg.Wait()
	if n := c.Len(); n != capacity {
		t.Fatalf("expected cache to be full at %d, got %d", capacity, n)
	}
}

func TestConcurrentIncrementsOnSingleKey(t *testing.T) {
	c := New[string](4)
	var wg sync.WaitGroup
	for g := 0; g < 10; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				c.Increment("hot")
			}
		}()
	}
	wg.Wait()
	if got := c.Get("hot"); got != 1000 {
		t.Fatalf("expected 1000, got %d", got)
	}
}
