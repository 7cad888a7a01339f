package cache

import (
	"errors"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetOrCreateCachesOnce(t *testing.T) {
	c := New[string, int](0, nil)
	calls := 0
	create := func() (int, error) { calls++; return 42, nil }

	for range 3 {
		v, err := c.GetOrCreate("a", create)
		require.NoError(t, err)
		assert.Equal(t, 42, v)
	}
	assert.Equal(t, 1, calls)
	st := c.Stats()
	assert.Equal(t, uint64(2), st.Hits)
	assert.Equal(t, uint64(1), st.Misses)
}

func TestGetOrCreateErrorCachesNothing(t *testing.T) {
	c := New[string, int](0, nil)
	boom := errors.New("boom")
	_, err := c.GetOrCreate("a", func() (int, error) { return 0, boom })
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, c.Len())
}

func TestEvictsLeastRecentlyUsed(t *testing.T) {
	var released []string
	c := New[string, int](2, func(k string, _ int) { released = append(released, k) })
	mk := func(v int) func() (int, error) { return func() (int, error) { return v, nil } }

	_, _ = c.GetOrCreate("a", mk(1))
	_, _ = c.GetOrCreate("b", mk(2))
	_, ok := c.Get("a")
	require.True(t, ok)
	_, _ = c.GetOrCreate("c", mk(3))

	assert.Equal(t, []string{"b"}, released)
	_, ok = c.Get("b")
	assert.False(t, ok)
	assert.Equal(t, 2, c.Len())
	assert.Equal(t, uint64(1), c.Stats().Evictions)
}

func TestDeleteAndClearRelease(t *testing.T) {
	released := map[string]int{}
	c := New[string, int](0, func(k string, v int) { released[k] = v })
	for i, k := range []string{"a", "b", "c"} {
		_, _ = c.GetOrCreate(k, func() (int, error) { return i, nil })
	}

	assert.True(t, c.Delete("b"))
	assert.False(t, c.Delete("b"))
	assert.Equal(t, map[string]int{"b": 1}, released)

	c.Clear()
	assert.Equal(t, map[string]int{"a": 0, "b": 1, "c": 2}, released)
	assert.Zero(t, c.Len())
	_, ok := c.Get("a")
	assert.False(t, ok)
}

func TestConcurrentGetOrCreate(t *testing.T) {
	c := New[string, int](8, nil)
	var wg sync.WaitGroup
	for g := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 100 {
				k := strconv.Itoa((g + i) % 16)
				_, err := c.GetOrCreate(k, func() (int, error) { return i, nil })
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, c.Len(), 8)
}

func BenchmarkGetOrCreateHit(b *testing.B) {
	c := New[int, int](64, nil)
	_, _ = c.GetOrCreate(1, func() (int, error) { return 1, nil })
	b.ResetTimer()
	for b.Loop() {
		_, _ = c.GetOrCreate(1, func() (int, error) { return 1, nil })
	}
}
