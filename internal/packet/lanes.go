package packet

import (
	"fmt"

	"github.com/estutasa/JackTheGripper/internal/bitfield"
)

// Six 16-bit words are packed most significant bit first into the 7-bit lanes
// of bytes 5..18 (98 payload bits, the last two stay zero). Word i occupies
// stream bits [16i, 16i+16); stream bit k lives in byte LaneStart+k/7 at bit
// 6-k%7.
const (
	LaneStart = 5
	LaneEnd   = 18 // inclusive
	LaneWords = 6
	wordBits  = 16
)

// PackLaneWords writes words into the lane bytes of frame. The lane bytes are
// cleared first; bytes outside 5..18 are left untouched.
func PackLaneWords(frame []byte, words [LaneWords]uint16) {
	for i := LaneStart; i <= LaneEnd; i++ {
		frame[i] = 0
	}
	for i, w := range words {
		forEachSegment(i, func(b int, low, n, wordLow uint) {
			chunk := bitfield.Extract(uint32(w), wordLow, n)
			frame[b] = byte(bitfield.Insert(uint32(frame[b]), low, n, chunk))
		})
	}
}

// UnpackLaneWords is the exact inverse of PackLaneWords.
func UnpackLaneWords(frame []byte) [LaneWords]uint16 {
	var words [LaneWords]uint16
	for i := range words {
		words[i] = LaneWord(frame, i)
	}
	return words
}

// LaneWord decodes word i (0..5) from the lane bytes of frame.
func LaneWord(frame []byte, i int) uint16 {
	if i < 0 || i >= LaneWords {
		panic(fmt.Sprintf("packet: lane word index %d out of range [0,%d)", i, LaneWords))
	}
	var w uint32
	forEachSegment(i, func(b int, low, n, wordLow uint) {
		w = bitfield.Insert(w, wordLow, n, lane(frame, b, low, n))
	})
	return uint16(w)
}

// PackLaneU32x3 packs three 32-bit values as word pairs (low half first).
func PackLaneU32x3(frame []byte, values [3]uint32) {
	var words [LaneWords]uint16
	for i, v := range values {
		words[2*i] = uint16(bitfield.Extract(v, 0, wordBits))
		words[2*i+1] = uint16(bitfield.Extract(v, wordBits, wordBits))
	}
	PackLaneWords(frame, words)
}

// UnpackLaneU32x3 is the exact inverse of PackLaneU32x3.
func UnpackLaneU32x3(frame []byte) [3]uint32 {
	words := UnpackLaneWords(frame)
	var values [3]uint32
	for i := range values {
		values[i] = uint32(words[2*i+1])<<wordBits | uint32(words[2*i])
	}
	return values
}

// forEachSegment walks the contiguous pieces of word i, most significant
// first. For each piece it reports the frame byte, the low bit inside that
// byte, the piece width and the low bit of the piece inside the word.
func forEachSegment(i int, fn func(b int, low, n, wordLow uint)) {
	k := uint(i * wordBits)
	remaining := uint(wordBits)
	for remaining > 0 {
		used := k % LaneBits
		n := min(LaneBits-used, remaining)
		b := LaneStart + int(k/LaneBits)
		low := LaneBits - used - n
		remaining -= n
		fn(b, low, n, remaining)
		k += n
	}
}
