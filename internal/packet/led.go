package packet

import "github.com/estutasa/JackTheGripper/internal/bitfield"

// LED color channels are split 7/1: the upper seven bits in the first byte,
// the least significant bit in the next.
const ledOffset = 3

// LEDRGB builds an LED color command frame for id.
func LEDRGB(r, g, b uint8, id NodeID) []byte {
	f := NewFrame(HeaderLED, id)
	for i, c := range [3]uint8{r, g, b} {
		off := ledOffset + 2*i
		f[off] = byte(bitfield.Extract(uint32(c), 1, LaneBits))
		f[off+1] = byte(bitfield.Extract(uint32(c), 0, 1))
	}
	return f
}

// LEDColor builds an LED color command frame from a 0xRRGGBB value.
func LEDColor(rgb uint32, id NodeID) []byte {
	r, g, b := SplitRGB(rgb)
	return LEDRGB(r, g, b, id)
}

// DecodeLEDRGB returns the color carried by an LED command frame.
func DecodeLEDRGB(frame []byte) (r, g, b uint8) {
	var c [3]uint8
	for i := range c {
		off := ledOffset + 2*i
		v := bitfield.Insert(0, 1, LaneBits, uint32(frame[off]))
		v = bitfield.Insert(v, 0, 1, uint32(frame[off+1]))
		c[i] = uint8(v)
	}
	return c[0], c[1], c[2]
}

// RGB packs three 8-bit channels into 0xRRGGBB.
func RGB(r, g, b uint8) uint32 {
	return uint32(r)<<16 | uint32(g)<<8 | uint32(b)
}

// SplitRGB unpacks 0xRRGGBB into its channels.
func SplitRGB(rgb uint32) (r, g, b uint8) {
	return uint8(bitfield.Extract(rgb, 16, 8)), uint8(bitfield.Extract(rgb, 8, 8)), uint8(bitfield.Extract(rgb, 0, 8))
}
