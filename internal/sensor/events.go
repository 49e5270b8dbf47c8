package sensor

import (
	"github.com/estutasa/JackTheGripper/internal/bitfield"
	"github.com/estutasa/JackTheGripper/internal/packet"
)

/*
Event burst frame (header 0xE2):

	B3  0 | PKT_IND<3:0> | ACTIVE<8:7>
	B4  0 | ACTIVE<6:0>
	B5..B18  up to six 16-bit values, six-word lane codec

ACTIVE marks which channels crossed their threshold, least significant bit
first. Values follow in the order of the active channels. A burst with more
than six active channels is split over two frames: packet index 0 carries
the first six values, any other index carries the rest.
*/

const (
	burstHeaderByte = 3
	burstMaskByte   = 4
	activeBits      = 9
	// MaxBurstValues is the number of values one event frame can carry.
	MaxBurstValues = packet.LaneWords
)

// Event is one threshold crossing reported by a skin cell.
type Event struct {
	NodeID packet.NodeID `json:"sc_id"`
	ID     EventID       `json:"id"`
	Value  float64       `json:"value"`
}

// Burst is the header of an event burst frame.
type Burst struct {
	NodeID      packet.NodeID
	PacketIndex uint8
	Active      uint16    // active channel bitmap
	Channels    []Channel // active channels, least significant bit first
}

// Span returns the range [start,end) of Channels carried by this frame.
func (b Burst) Span() (start, end int) {
	n := len(b.Channels)
	if n <= MaxBurstValues {
		return 0, n
	}
	if b.PacketIndex == 0 {
		return 0, MaxBurstValues
	}
	return MaxBurstValues, n
}

// DecodeBurstHeader reads the packet index and active channel bitmap.
func DecodeBurstHeader(frame []byte) Burst {
	active := field(frame, burstHeaderByte, 0, 2)<<7 | field(frame, burstMaskByte, 0, 7)
	b := Burst{
		NodeID:      packet.GetNodeID(frame),
		PacketIndex: uint8(field(frame, burstHeaderByte, 2, 4)),
		Active:      uint16(active),
	}
	for _, i := range bitfield.Indices(active, NumChannels) {
		b.Channels = append(b.Channels, Channel(i))
	}
	return b
}

// DecodeEventBurst decodes the events carried by one event burst frame.
//
// Accelerometer channels are remapped the same way as in DecodeSample: an
// active acc_x channel reports as EventAccY, an active acc_y channel reports
// as EventAccX with its value negated.
func DecodeEventBurst(frame []byte) []Event {
	b := DecodeBurstHeader(frame)
	start, end := b.Span()
	events := make([]Event, 0, end-start)
	for i := start; i < end; i++ {
		c := b.Channels[i]
		v := Convert(c, uint32(packet.LaneWord(frame, i-start)))
		e := Event{NodeID: b.NodeID, ID: EventIDFor(c), Value: v}
		switch c {
		case ChannelAccX:
			e.ID = EventAccY
		case ChannelAccY:
			e.ID = EventAccX
			e.Value = -v
		}
		events = append(events, e)
	}
	return events
}

// EncodeEventBurst builds one event burst frame. values holds the raw values
// this frame carries, at most six.
func EncodeEventBurst(id packet.NodeID, pktIndex uint8, active uint16, values []uint16) []byte {
	f := packet.NewFrame(packet.HeaderEvent, id)
	a := uint32(active) & bitfield.Mask(activeBits)
	hdr := bitfield.Insert(0, 2, 4, uint32(pktIndex))
	hdr = bitfield.Insert(hdr, 0, 2, bitfield.Extract(a, 7, 2))
	f[burstHeaderByte] = byte(hdr)
	f[burstMaskByte] = byte(bitfield.Extract(a, 0, 7))

	var words [packet.LaneWords]uint16
	copy(words[:], values)
	packet.PackLaneWords(f, words)
	return f
}

// EncodeBurstFrames splits the raw values of the active channels of one
// burst into one or two event frames.
func EncodeBurstFrames(id packet.NodeID, active uint16, raw [NumChannels]uint16) [][]byte {
	var values []uint16
	for _, i := range bitfield.Indices(uint32(active), NumChannels) {
		values = append(values, raw[i])
	}
	if len(values) <= MaxBurstValues {
		return [][]byte{EncodeEventBurst(id, 0, active, values)}
	}
	return [][]byte{
		EncodeEventBurst(id, 0, active, values[:MaxBurstValues]),
		EncodeEventBurst(id, 1, active, values[MaxBurstValues:]),
	}
}
