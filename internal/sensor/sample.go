package sensor

import (
	"github.com/estutasa/JackTheGripper/internal/bitfield"
	"github.com/estutasa/JackTheGripper/internal/packet"
)

/*
Sample frame (header 0xFF) lane layout. Sample frames do not use the six-word
lane codec; every channel has its own bit placement:

	prox   (16 bit)  B3<6:0> B4<6:0> B10<4:3>
	force i(12 bit)  B(11+2i)<6:0> B(12+2i)<4:0>         i = 0..2
	acc k  (10 bit)  B(5+k)<6:0> B(8+k)<2:0>             k = 0..2 (physical lanes)
	temp   (8 bit)   B8<6:3> B9<6:3>

The accelerometer is mounted rotated on the cell: physical lane 1 is the
cell's X axis and physical lane 0 is its negated Y axis. Lane 2 is negated
as well.
*/

const (
	proxHi, proxMid, proxLo = 3, 4, 10
	forceBase               = 11
	accHiBase, accLoBase    = 5, 8
	tempHi, tempLo          = 8, 9
)

// RawSample holds the unsigned lane values of a sample frame before unit
// conversion. Acc is indexed by physical lane, not by axis.
type RawSample struct {
	Prox  uint32
	Force [3]uint32
	Acc   [3]uint32
	Temp  uint32
}

// Sample is one decoded sensor reading.
type Sample struct {
	NodeID packet.NodeID `json:"sc_id"`
	Prox   float64       `json:"prox"`  // [0,1)
	Force  [3]float64    `json:"force"` // FC1, FC2, FC3
	Acc    [3]float64    `json:"acc"`   // x, y, z in g
	Temp   float64       `json:"temp"`  // degrees Celsius
}

// Values returns the sample in channel order.
func (s Sample) Values() [NumChannels]float64 {
	return [NumChannels]float64{
		s.Prox,
		s.Force[0], s.Force[1], s.Force[2],
		s.Acc[0], s.Acc[1], s.Acc[2],
		s.Temp,
	}
}

func field(frame []byte, i int, low, width uint) uint32 {
	return bitfield.Extract(uint32(frame[i]), low, width)
}

// DecodeSampleRaw extracts the raw lane values from a sample frame.
func DecodeSampleRaw(frame []byte) RawSample {
	var r RawSample
	r.Prox = field(frame, proxHi, 0, 7)<<9 | field(frame, proxMid, 0, 7)<<2 | field(frame, proxLo, 3, 2)
	for i := range r.Force {
		r.Force[i] = field(frame, forceBase+2*i, 0, 7)<<5 | field(frame, forceBase+2*i+1, 0, 5)
	}
	for k := range r.Acc {
		r.Acc[k] = field(frame, accHiBase+k, 0, 7)<<3 | field(frame, accLoBase+k, 0, 3)
	}
	r.Temp = field(frame, tempHi, 3, 4)<<4 | field(frame, tempLo, 3, 4)
	return r
}

// DecodeSample decodes a sample frame into physical units, applying the
// accelerometer axis remap.
func DecodeSample(frame []byte) Sample {
	r := DecodeSampleRaw(frame)
	s := Sample{
		NodeID: packet.GetNodeID(frame),
		Prox:   ConvProx(r.Prox),
		Temp:   ConvTemp(r.Temp),
	}
	for i, v := range r.Force {
		s.Force[i] = ConvForce(v)
	}
	s.Acc[0] = ConvAcc(r.Acc[1])
	s.Acc[1] = -ConvAcc(r.Acc[0])
	s.Acc[2] = -ConvAcc(r.Acc[2])
	return s
}

// EncodeSampleRaw builds a sample frame carrying r. Values wider than their
// lanes are truncated.
func EncodeSampleRaw(id packet.NodeID, r RawSample) []byte {
	f := packet.NewFrame(packet.HeaderSample, id)
	put := func(i int, low, width uint, v uint32) {
		f[i] = byte(bitfield.Insert(uint32(f[i]), low, width, v))
	}
	put(proxHi, 0, 7, bitfield.Extract(r.Prox, 9, 7))
	put(proxMid, 0, 7, bitfield.Extract(r.Prox, 2, 7))
	put(proxLo, 3, 2, bitfield.Extract(r.Prox, 0, 2))
	for i, v := range r.Force {
		put(forceBase+2*i, 0, 7, bitfield.Extract(v, 5, 7))
		put(forceBase+2*i+1, 0, 5, bitfield.Extract(v, 0, 5))
	}
	for k, v := range r.Acc {
		put(accHiBase+k, 0, 7, bitfield.Extract(v, 3, 7))
		put(accLoBase+k, 0, 3, bitfield.Extract(v, 0, 3))
	}
	put(tempHi, 3, 4, bitfield.Extract(r.Temp, 4, 4))
	put(tempLo, 3, 4, bitfield.Extract(r.Temp, 0, 4))
	return f
}
