package parallel

import (
	"runtime"
	"sync/atomic"
	"testing"
)

func TestLanePool_Create(t *testing.T) {
	pool := NewLanePool(4)
	defer pool.Close()

	if pool.Workers() != 4 {
		t.Errorf("Workers() = %d, want 4", pool.Workers())
	}
	if !pool.IsRunning() {
		t.Error("pool should be running after creation")
	}
}

func TestLanePool_CreateDefaultWorkers(t *testing.T) {
	for _, n := range []int{0, -5} {
		pool := NewLanePool(n)
		if pool.Workers() != runtime.GOMAXPROCS(0) {
			t.Errorf("NewLanePool(%d).Workers() = %d, want GOMAXPROCS", n, pool.Workers())
		}
		pool.Close()
	}
}

func TestLanePool_ExecuteAll(t *testing.T) {
	pool := NewLanePool(4)
	defer pool.Close()

	var counter atomic.Int64
	work := make([]func(), 100)
	for i := range work {
		work[i] = func() { counter.Add(1) }
	}
	pool.ExecuteAll(work)

	if got := counter.Load(); got != 100 {
		t.Errorf("counter = %d, want 100", got)
	}
}

func TestLanePool_RangeCoversEveryIndexOnce(t *testing.T) {
	pool := NewLanePool(3)
	defer pool.Close()

	for _, n := range []int{1, 2, 7, 64, 1000, 4097} {
		hits := make([]atomic.Int32, n)
		pool.Range(n, func(lo, hi int) {
			for i := lo; i < hi; i++ {
				hits[i].Add(1)
			}
		})
		for i := range hits {
			if got := hits[i].Load(); got != 1 {
				t.Fatalf("n=%d: index %d visited %d times, want 1", n, i, got)
			}
		}
	}
}

func TestLanePool_RangeEmpty(t *testing.T) {
	pool := NewLanePool(2)
	defer pool.Close()

	called := false
	pool.Range(0, func(int, int) { called = true })
	if called {
		t.Error("Range(0) should not call fn")
	}
}

func TestLanePool_ClosedRunsInline(t *testing.T) {
	pool := NewLanePool(2)
	pool.Close()
	pool.Close()

	if pool.IsRunning() {
		t.Error("pool should not be running after Close")
	}

	var counter atomic.Int64
	pool.Range(50, func(lo, hi int) { counter.Add(int64(hi - lo)) })
	if got := counter.Load(); got != 50 {
		t.Errorf("counter = %d, want 50", got)
	}
}
