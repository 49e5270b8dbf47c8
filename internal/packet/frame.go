package packet

import (
	"errors"
	"fmt"

	"github.com/estutasa/JackTheGripper/internal/bitfield"
)

/*
Skin cell frame layout (20 bytes, node addressed):

	B0      header (type tag)
	B1      0 | ID<13:7>
	B2      0 | ID<6:0>
	B3..B18 payload, 7 bits per byte (bit 7 always 0)
	B19     0xAA terminator

Every payload byte carries at most 7 bits so the WI can use bit 7 for its own
framing. Fields wider than 7 bits are spread over consecutive lanes.
*/

// Frame layout constants.
const (
	FrameSize      = 20   // node-addressed frame length in bytes
	Terminator     = 0xAA // last byte of every node-addressed frame
	TerminatorByte = FrameSize - 1
	NodeIDOffset   = 1 // default offset of the two node id lanes
	LaneBits       = 7 // payload bits carried per byte

	HeaderSample = 0xFF // periodic sensor sample
	HeaderEvent  = 0xE2 // event burst
	HeaderLED    = 0xCA // LED color command
)

// NodeID is the 14-bit skin cell address.
type NodeID uint16

const (
	nodeIDBits = 14
	// NodeIDAll addresses every skin cell.
	NodeIDAll NodeID = 1<<nodeIDBits - 1
	// NodeIDMax is the largest addressable id.
	NodeIDMax = NodeIDAll
)

// ErrShortFrame is returned by CheckFrame for undersized datagrams.
var ErrShortFrame = errors.New("frame shorter than node-addressed frame size")

// CheckFrame reports whether b is long enough to be handed to a decoder.
// Decoders index fixed offsets and panic on undersized input, so the link
// layer runs this before dispatch.
func CheckFrame(b []byte) error {
	if len(b) < FrameSize {
		return fmt.Errorf("%w: got %d bytes, want %d", ErrShortFrame, len(b), FrameSize)
	}
	return nil
}

// NewFrame returns a zeroed frame with the header, node id and terminator set.
func NewFrame(header byte, id NodeID) []byte {
	f := make([]byte, FrameSize)
	f[0] = header
	f[TerminatorByte] = Terminator
	SetNodeID(f, id)
	return f
}

// DummyFrame is the probe sent once when the data link opens so the WI learns
// the host endpoint.
func DummyFrame() []byte {
	return NewFrame(HeaderSample, NodeIDAll)
}

// SetNodeID writes id into the default node id lanes of frame.
func SetNodeID(frame []byte, id NodeID) {
	SetNodeIDAt(frame, NodeIDOffset, id)
}

// SetNodeIDAt writes id into the two 7-bit lanes at off and off+1. Ids wider
// than 14 bits are truncated silently.
func SetNodeIDAt(frame []byte, off int, id NodeID) {
	v := uint32(id) & bitfield.Mask(nodeIDBits)
	frame[off] = byte(bitfield.Extract(v, LaneBits, LaneBits))
	frame[off+1] = byte(bitfield.Extract(v, 0, LaneBits))
}

// GetNodeID reads the node id from the default lanes of frame.
func GetNodeID(frame []byte) NodeID {
	return GetNodeIDAt(frame, NodeIDOffset)
}

// GetNodeIDAt reads the node id from the two 7-bit lanes at off and off+1.
func GetNodeIDAt(frame []byte, off int) NodeID {
	v := bitfield.Insert(0, LaneBits, LaneBits, uint32(frame[off]))
	v = bitfield.Insert(v, 0, LaneBits, uint32(frame[off+1]))
	return NodeID(v)
}

// lane returns width bits of frame[i] starting at bit low.
func lane(frame []byte, i int, low, width uint) uint32 {
	return bitfield.Extract(uint32(frame[i]), low, width)
}
