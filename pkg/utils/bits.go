package utils

import (
	"golang.org/x/exp/constraints"
)

// AllOnes returns an all-ones bitmask of n bits of the given unsigned integer type.
func AllOnes[T constraints.Unsigned](bits int) T {
	return (T(1) << bits) - T(1)
}

// BitView implements a read/write view over an unsigned integer, allowing individual
// bit ranges to be manipulated without hand-rolled shifting at every call site.
type BitView[T constraints.Unsigned] struct {
	Bits *T
}

// Read extracts a range of bits given a first bit and a width.
func (v BitView[T]) Read(bit int, width int) T {
	mask := AllOnes[T](width)
	return (*v.Bits >> bit) & mask
}

// Write copies a value into a range of bits, given the start and width of the range.
// Any bits of the destination range are cleared before the new value is written, so
// repeated writes to the same range do not accumulate.
func (v BitView[T]) Write(value T, bit int, width int) {
	mask := AllOnes[T](width)
	*v.Bits &^= mask << bit
	*v.Bits |= (value & mask) << bit
}

// CreateBitView creates a bit view out of an unsigned int.
func CreateBitView[T constraints.Unsigned](value *T) BitView[T] {
	return BitView[T]{
		Bits: value,
	}
}
