// Package bitfield provides masked bit insertion and extraction over 32-bit
// containers, plus two's-complement sign extension for arbitrary widths.
//
// All widths must lie in [1,32] and every window must fit in 32 bits. Calls
// outside that range are programming errors and panic.
package bitfield

import "fmt"

// MaxWidth is the widest field supported by the package.
const MaxWidth = 32

// Mask returns a mask selecting the width least significant bits.
func Mask(width uint) uint32 {
	checkWidth(width)
	if width == MaxWidth {
		return 0xFFFFFFFF
	}
	return (uint32(1) << width) - 1
}

// Extract returns the width bits of value starting at bit low.
func Extract(value uint32, low, width uint) uint32 {
	checkWindow(low, width)
	return (value >> low) & Mask(width)
}

// Insert returns container with the width bits at offset replaced by the low
// width bits of value.
func Insert(container uint32, offset, width uint, value uint32) uint32 {
	checkWindow(offset, width)
	m := Mask(width)
	return (container &^ (m << offset)) | ((value & m) << offset)
}

// SignExtend interprets the low width bits of value as a two's-complement
// number and widens it to int32. Bit width-1 is the sign bit.
func SignExtend(value uint32, width uint) int32 {
	m := Mask(width)
	value &= m
	if value&(uint32(1)<<(width-1)) != 0 {
		value |= ^m
	}
	return int32(value)
}

// Indices returns the positions of the set bits among the n least significant
// bits of mask, least significant first.
func Indices(mask uint32, n uint) []int {
	checkWidth(n)
	var inds []int
	for i := uint(0); i < n; i++ {
		if mask&(uint32(1)<<i) != 0 {
			inds = append(inds, int(i))
		}
	}
	return inds
}

func checkWidth(width uint) {
	if width < 1 || width > MaxWidth {
		panic(fmt.Sprintf("bitfield: width %d out of range [1,%d]", width, MaxWidth))
	}
}

func checkWindow(offset, width uint) {
	checkWidth(width)
	if offset+width > MaxWidth {
		panic(fmt.Sprintf("bitfield: window offset %d width %d exceeds %d bits", offset, width, MaxWidth))
	}
}
