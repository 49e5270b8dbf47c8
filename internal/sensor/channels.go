// Package sensor decodes skin cell sensor sample frames and event burst frames
// into physical units, and publishes them to registered listeners.
package sensor

import (
	"fmt"

	"github.com/estutasa/JackTheGripper/internal/bitfield"
)

// Channel indexes the eight sensor channels of a skin cell.
type Channel int

const (
	ChannelProx Channel = iota
	ChannelForce1
	ChannelForce2
	ChannelForce3
	ChannelAccX
	ChannelAccY
	ChannelAccZ
	ChannelTemp

	NumChannels = 8
)

var channelNames = [NumChannels]string{
	"prox", "force1", "force2", "force3", "acc_x", "acc_y", "acc_z", "temp",
}

func (c Channel) String() string {
	if c < 0 || int(c) >= NumChannels {
		return fmt.Sprintf("channel(%d)", int(c))
	}
	return channelNames[c]
}

// ChannelByName looks up a channel by its short name ("prox", "acc_x", ...).
func ChannelByName(name string) (Channel, bool) {
	for i, n := range channelNames {
		if n == name {
			return Channel(i), true
		}
	}
	return 0, false
}

// EventID identifies the sensor channel an event reports on.
type EventID int

const (
	EventProx   EventID = 1001
	EventForce1 EventID = 1002
	EventForce2 EventID = 1003
	EventForce3 EventID = 1004
	EventAccX   EventID = 1005
	EventAccY   EventID = 1006
	EventAccZ   EventID = 1007
	EventTemp   EventID = 1008
)

// EventIDFor maps a channel to its event id.
func EventIDFor(c Channel) EventID {
	return EventProx + EventID(c)
}

// Channel maps an event id back to its channel.
func (e EventID) Channel() Channel {
	return Channel(e - EventProx)
}

func (e EventID) String() string {
	if e < EventProx || e > EventTemp {
		return fmt.Sprintf("event(%d)", int(e))
	}
	return e.Channel().String()
}

// Raw to physical unit conversions shared by samples and events.
const (
	proxScale  = 0x10000
	forceScale = 1024
	accRange   = 2   // g
	accScale   = 512 // counts per full range
	accBits    = 10
	tempBits   = 8
	tempStep   = 0.5 // degrees Celsius per count
	tempOffset = 24  // degrees Celsius at raw 0
)

// ConvProx converts a raw proximity value to [0,1).
func ConvProx(raw uint32) float64 { return float64(raw) / proxScale }

// ConvForce converts a raw force value.
func ConvForce(raw uint32) float64 { return float64(raw) / forceScale }

// ConvAcc converts a raw 10-bit two's-complement acceleration to g.
func ConvAcc(raw uint32) float64 {
	return float64(bitfield.SignExtend(raw, accBits)*accRange) / accScale
}

// ConvTemp converts a raw 8-bit two's-complement temperature to degrees Celsius.
func ConvTemp(raw uint32) float64 {
	return float64(bitfield.SignExtend(raw, tempBits))*tempStep + tempOffset
}

// Convert applies the conversion for channel c.
func Convert(c Channel, raw uint32) float64 {
	switch c {
	case ChannelProx:
		return ConvProx(raw)
	case ChannelForce1, ChannelForce2, ChannelForce3:
		return ConvForce(raw)
	case ChannelAccX, ChannelAccY, ChannelAccZ:
		return ConvAcc(raw)
	case ChannelTemp:
		return ConvTemp(raw)
	}
	panic(fmt.Sprintf("sensor: unknown channel %d", int(c)))
}
