// Package appendbuf implements the bounded append protocol used by kernels
// that emit a variable number of records into a fixed-capacity list.
//
// A list is a pair of buffers: the records and a single 32-bit counter. A
// producer reserves a slot with an atomic fetch-and-add on the counter and
// writes only when the reserved slot is below capacity. The counter can
// therefore exceed capacity; the number of written records is
// min(counter, capacity) and consumers must clamp before reading.
package appendbuf

import (
	"encoding/binary"
	"fmt"
	"sync/atomic"
)

// CounterBytes is the size of an append counter buffer.
const CounterBytes = 4

// Append reserves the next slot of the list whose counter is *counter and
// calls write with it when the slot is below capacity. It reports whether
// the record was written. A rejected reservation still advances the counter.
func Append(counter *uint32, capacity uint32, write func(slot uint32)) bool {
	slot := atomic.AddUint32(counter, 1) - 1
	if slot >= capacity {
		return false
	}
	write(slot)
	return true
}

// Clamp returns the number of records actually written for a raw counter value.
func Clamp(counter, capacity uint32) uint32 {
	return min(counter, capacity)
}

// Count is a counter read back from the device.
type Count struct {
	// Raw is the counter value, including rejected reservations.
	Raw uint32

	// Capacity is the list capacity.
	Capacity uint32
}

// Valid returns the number of readable records.
func (c Count) Valid() uint32 { return Clamp(c.Raw, c.Capacity) }

// Saturated reports whether the list is full. Producers may have dropped
// records when this is true.
func (c Count) Saturated() bool { return c.Raw >= c.Capacity }

// Dropped returns the number of rejected reservations.
func (c Count) Dropped() uint32 {
	if c.Raw <= c.Capacity {
		return 0
	}
	return c.Raw - c.Capacity
}

// DecodeCount decodes a counter buffer read back from the device.
func DecodeCount(b []byte, capacity uint32) (Count, error) {
	if len(b) < CounterBytes {
		return Count{}, fmt.Errorf("appendbuf: counter is %d bytes, want %d", len(b), CounterBytes)
	}
	return Count{Raw: binary.LittleEndian.Uint32(b), Capacity: capacity}, nil
}

// Layout describes the buffers of one append list.
type Layout struct {
	// Records and Counter are the resource names of the two buffers.
	Records string
	Counter string

	// RecordWords is the size of one record in 32-bit words.
	RecordWords uint32

	Capacity uint32
}

// RecordBytes returns the size of one record in bytes.
func (l Layout) RecordBytes() uint64 { return uint64(l.RecordWords) * 4 }

// Bytes returns the size of the record buffer in bytes.
func (l Layout) Bytes() uint64 { return l.RecordBytes() * uint64(l.Capacity) }

// Prefix returns the byte length of the first n records, clamped to capacity.
func (l Layout) Prefix(n uint32) uint64 {
	return l.RecordBytes() * uint64(Clamp(n, l.Capacity))
}
