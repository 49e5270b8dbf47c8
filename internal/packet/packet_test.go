package packet

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNodeIDRoundTrip(t *testing.T) {
	frame := make([]byte, FrameSize)
	for id := NodeID(0); id <= NodeIDMax; id++ {
		SetNodeID(frame, id)
		if got := GetNodeID(frame); got != id {
			t.Fatalf("GetNodeID(SetNodeID(%d)) = %d", id, got)
		}
		if frame[1]&0x80 != 0 || frame[2]&0x80 != 0 {
			t.Fatalf("id %d leaked into lane framing bit: % x", id, frame[1:3])
		}
	}
}

func TestNodeIDLanes(t *testing.T) {
	frame := make([]byte, FrameSize)
	SetNodeID(frame, 0x1234)
	assert.Equal(t, byte(0x1234>>7), frame[1])
	assert.Equal(t, byte(0x1234&0x7F), frame[2])

	SetNodeIDAt(frame, 7, 300)
	assert.Equal(t, NodeID(300), GetNodeIDAt(frame, 7))
}

func TestNodeIDTruncation(t *testing.T) {
	frame := make([]byte, FrameSize)
	SetNodeID(frame, 0xFFFF)
	assert.Equal(t, NodeIDAll, GetNodeID(frame))
	SetNodeID(frame, NodeIDAll+6)
	assert.Equal(t, NodeID(5), GetNodeID(frame))
}

func TestNewFrame(t *testing.T) {
	f := NewFrame(HeaderLED, 5)
	require.Len(t, f, FrameSize)
	assert.Equal(t, byte(HeaderLED), f[0])
	assert.Equal(t, byte(Terminator), f[TerminatorByte])
	assert.Equal(t, NodeID(5), GetNodeID(f))
	require.NoError(t, CheckFrame(f))
	assert.ErrorIs(t, CheckFrame(f[:19]), ErrShortFrame)
}

func TestDummyFrame(t *testing.T) {
	f := DummyFrame()
	assert.Equal(t, []byte{
		0xFF, 0x7F, 0x7F, 0x00,
		0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0xAA,
	}, f)
}

func TestLaneWordsRoundTripRandom(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	frame := NewFrame(HeaderEvent, 42)
	for n := 0; n < 20000; n++ {
		var words [LaneWords]uint16
		for i := range words {
			words[i] = uint16(rng.Intn(1 << 16))
		}
		PackLaneWords(frame, words)
		if got := UnpackLaneWords(frame); got != words {
			t.Fatalf("round trip mismatch: got %v want %v", got, words)
		}
	}
}

func TestLaneWordsRoundTripEveryValue(t *testing.T) {
	// Every 16-bit value in every word position, with the neighbours set to
	// all ones so that bleed between words would show up.
	frame := make([]byte, FrameSize)
	for pos := 0; pos < LaneWords; pos++ {
		for v := 0; v <= 0xFFFF; v++ {
			words := [LaneWords]uint16{0xFFFF, 0xFFFF, 0xFFFF, 0xFFFF, 0xFFFF, 0xFFFF}
			words[pos] = uint16(v)
			PackLaneWords(frame, words)
			if got := UnpackLaneWords(frame); got != words {
				t.Fatalf("pos %d value %#04x: got %v", pos, v, got)
			}
		}
	}
}

func TestPackLaneWordsLayout(t *testing.T) {
	frame := NewFrame(HeaderEvent, 1)
	PackLaneWords(frame, [LaneWords]uint16{0xFFFF, 0, 0, 0, 0, 0})
	assert.Equal(t, []byte{0x7F, 0x7F, 0x60, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0}, frame[LaneStart:LaneEnd+1])

	PackLaneWords(frame, [LaneWords]uint16{0, 0, 0, 0, 0, 0xFFFF})
	assert.Equal(t, []byte{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0x0F, 0x7F, 0x7C}, frame[LaneStart:LaneEnd+1])

	PackLaneWords(frame, [LaneWords]uint16{0, 0, 0, 0x8001, 0, 0})
	assert.Equal(t, byte(0x01), frame[11])
	assert.Equal(t, byte(0x40), frame[14])

	// Header, id and terminator are untouched; framing bits stay clear.
	PackLaneWords(frame, [LaneWords]uint16{0xFFFF, 0xFFFF, 0xFFFF, 0xFFFF, 0xFFFF, 0xFFFF})
	assert.Equal(t, byte(HeaderEvent), frame[0])
	assert.Equal(t, NodeID(1), GetNodeID(frame))
	assert.Equal(t, byte(Terminator), frame[TerminatorByte])
	for i := LaneStart; i <= LaneEnd; i++ {
		assert.Zero(t, frame[i]&0x80, "byte %d", i)
	}
	assert.Equal(t, byte(0x7C), frame[LaneEnd])
}

func TestLaneWordIndexContract(t *testing.T) {
	frame := make([]byte, FrameSize)
	assert.Panics(t, func() { LaneWord(frame, -1) })
	assert.Panics(t, func() { LaneWord(frame, LaneWords) })
}

func TestLaneU32x3RoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	frame := make([]byte, FrameSize)
	for n := 0; n < 5000; n++ {
		values := [3]uint32{rng.Uint32(), rng.Uint32(), rng.Uint32()}
		PackLaneU32x3(frame, values)
		require.Equal(t, values, UnpackLaneU32x3(frame))
	}

	PackLaneU32x3(frame, [3]uint32{0x00020001, 0, 0})
	words := UnpackLaneWords(frame)
	assert.Equal(t, uint16(1), words[0])
	assert.Equal(t, uint16(2), words[1])
}

func TestLEDRGB(t *testing.T) {
	f := LEDRGB(255, 0, 0, 5)
	require.Len(t, f, FrameSize)
	assert.Equal(t, byte(HeaderLED), f[0])
	assert.Equal(t, NodeID(5), GetNodeID(f))
	assert.Equal(t, byte(0x7F), f[3])
	assert.Equal(t, byte(0x01), f[4])
	assert.Equal(t, []byte{0, 0, 0, 0}, f[5:9])
	assert.Equal(t, byte(Terminator), f[TerminatorByte])

	r, g, b := DecodeLEDRGB(f)
	assert.Equal(t, [3]uint8{255, 0, 0}, [3]uint8{r, g, b})
}

func TestLEDRoundTrip(t *testing.T) {
	for _, c := range [][3]uint8{{0, 0, 0}, {1, 2, 3}, {127, 128, 129}, {255, 165, 0}, {255, 255, 255}} {
		f := LEDRGB(c[0], c[1], c[2], NodeIDAll)
		r, g, b := DecodeLEDRGB(f)
		assert.Equal(t, c, [3]uint8{r, g, b})
	}
}

func TestLEDColor(t *testing.T) {
	assert.Equal(t, LEDRGB(0xFF, 0xA5, 0x00, 9), LEDColor(0xFFA500, 9))
	assert.Equal(t, uint32(0x7F7F7F), RGB(127, 127, 127))
	r, g, b := SplitRGB(0x00FFFF)
	assert.Equal(t, [3]uint8{0, 255, 255}, [3]uint8{r, g, b})
}
