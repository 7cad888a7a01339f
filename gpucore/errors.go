package gpucore

import (
	"encoding/binary"
	"errors"
)

// Device errors.
var (
	// ErrDeviceLost is returned once the device is lost. Nothing created
	// from the device can be used afterwards.
	ErrDeviceLost = errors.New("gpucore: device lost")

	// ErrReleased is returned when using a released resource.
	ErrReleased = errors.New("gpucore: resource released")

	// ErrForeignResource is returned when a resource from another device is used.
	ErrForeignResource = errors.New("gpucore: resource belongs to another device")

	// ErrInvalidBuffer is returned for a bad buffer descriptor or usage.
	ErrInvalidBuffer = errors.New("gpucore: invalid buffer")

	// ErrInvalidKernel is returned for a bad kernel descriptor.
	ErrInvalidKernel = errors.New("gpucore: invalid kernel")

	// ErrOutOfBounds is returned for copies, writes or maps past a buffer end.
	ErrOutOfBounds = errors.New("gpucore: range out of bounds")

	// ErrMisaligned is returned for offsets or sizes that are not multiples of 4.
	ErrMisaligned = errors.New("gpucore: misaligned range")

	// ErrAlreadyMapped is returned when mapping a buffer that is mapped or
	// has a pending map.
	ErrAlreadyMapped = errors.New("gpucore: buffer is already mapped or mapping is pending")

	// ErrNotMapped is returned when reading a buffer that is not mapped.
	ErrNotMapped = errors.New("gpucore: buffer is not mapped")

	// ErrMapCanceled is returned by a map request that was canceled by
	// Unmap, or rejected by the device.
	ErrMapCanceled = errors.New("gpucore: map canceled")

	// ErrSubmitMapped is returned when submitting work that uses a buffer
	// that is mapped or has a pending map.
	ErrSubmitMapped = errors.New("gpucore: submitted work uses a mapped buffer")
)

// Aligned reports whether v is a multiple of 4.
func Aligned(v uint64) bool { return v&3 == 0 }

// WordsToBytes encodes words as little-endian bytes.
func WordsToBytes(words []uint32) []byte {
	out := make([]byte, len(words)*4)
	for i, w := range words {
		binary.LittleEndian.PutUint32(out[i*4:], w)
	}
	return out
}

// BytesToWords decodes little-endian bytes into words. A trailing partial
// word is ignored.
func BytesToWords(b []byte) []uint32 {
	out := make([]uint32, len(b)/4)
	for i := range out {
		out[i] = binary.LittleEndian.Uint32(b[i*4:])
	}
	return out
}
