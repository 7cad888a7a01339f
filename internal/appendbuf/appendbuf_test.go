package appendbuf

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendClampsConcurrentProducers(t *testing.T) {
	const (
		capacity  = 100
		producers = 16
		perWorker = 50
	)

	var counter uint32
	records := make([]uint32, capacity)
	var writes atomic.Int32

	var wg sync.WaitGroup
	wg.Add(producers)
	for p := range producers {
		go func() {
			defer wg.Done()
			for i := range perWorker {
				value := uint32(p*perWorker + i + 1)
				Append(&counter, capacity, func(slot uint32) {
					records[slot] = value
					writes.Add(1)
				})
			}
		}()
	}
	wg.Wait()

	c := Count{Raw: counter, Capacity: capacity}
	assert.Equal(t, uint32(producers*perWorker), c.Raw)
	assert.Equal(t, uint32(capacity), c.Valid())
	assert.True(t, c.Saturated())
	assert.Equal(t, uint32(producers*perWorker-capacity), c.Dropped())
	assert.Equal(t, int32(capacity), writes.Load())

	seen := make(map[uint32]bool)
	for i, v := range records {
		require.NotZero(t, v, "slot %d never written", i)
		require.False(t, seen[v], "value %d written twice", v)
		seen[v] = true
	}
}

func TestAppendBelowCapacity(t *testing.T) {
	var counter uint32
	var slots []uint32
	for range 3 {
		ok := Append(&counter, 10, func(slot uint32) { slots = append(slots, slot) })
		assert.True(t, ok)
	}
	assert.Equal(t, []uint32{0, 1, 2}, slots)

	c := Count{Raw: counter, Capacity: 10}
	assert.Equal(t, uint32(3), c.Valid())
	assert.False(t, c.Saturated())
	assert.Zero(t, c.Dropped())
}

func TestAppendZeroCapacity(t *testing.T) {
	var counter uint32
	ok := Append(&counter, 0, func(uint32) { t.Fatal("write called with zero capacity") })
	assert.False(t, ok)
	assert.Equal(t, uint32(1), counter)
}

func TestClamp(t *testing.T) {
	tests := []struct {
		counter, capacity, want uint32
	}{
		{0, 10, 0},
		{5, 10, 5},
		{10, 10, 10},
		{11, 10, 10},
		{1 << 31, 10, 10},
	}
	for _, tt := range tests {
		if got := Clamp(tt.counter, tt.capacity); got != tt.want {
			t.Errorf("Clamp(%d, %d) = %d, want %d", tt.counter, tt.capacity, got, tt.want)
		}
	}
}

func TestDecodeCount(t *testing.T) {
	c, err := DecodeCount([]byte{7, 1, 0, 0}, 100)
	require.NoError(t, err)
	assert.Equal(t, Count{Raw: 263, Capacity: 100}, c)
	assert.Equal(t, uint32(100), c.Valid())

	_, err = DecodeCount([]byte{1, 2}, 100)
	assert.Error(t, err)
}

func TestLayout(t *testing.T) {
	l := Layout{Records: "latest_corners", Counter: "latest_corners_counter", RecordWords: 2, Capacity: 500}
	assert.Equal(t, uint64(8), l.RecordBytes())
	assert.Equal(t, uint64(4000), l.Bytes())
	assert.Equal(t, uint64(24), l.Prefix(3))
	assert.Equal(t, uint64(4000), l.Prefix(9999))
}
