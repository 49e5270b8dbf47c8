package command

import "github.com/estutasa/JackTheGripper/internal/packet"

// NamedColor is one entry of the LED color table.
type NamedColor struct {
	Name string `json:"name"`
	RGB  uint32 `json:"rgb"`
}

var colorTable = [...]NamedColor{
	{"black", packet.RGB(0, 0, 0)},
	{"red", packet.RGB(255, 0, 0)},
	{"green", packet.RGB(0, 255, 0)},
	{"blue", packet.RGB(0, 0, 255)},
	{"white", packet.RGB(255, 255, 255)},
	{"yellow", packet.RGB(255, 255, 0)},
	{"cyan", packet.RGB(0, 255, 255)},
	{"magenta", packet.RGB(255, 0, 255)},
	{"grey", packet.RGB(127, 127, 127)},
	{"orange", packet.RGB(255, 165, 0)},
}

// Colors returns the color table in display order.
func Colors() []NamedColor {
	out := make([]NamedColor, len(colorTable))
	copy(out, colorTable[:])
	return out
}

// ColorByName looks up a color of the table.
func ColorByName(name string) (uint32, bool) {
	for _, c := range colorTable {
		if c.Name == name {
			return c.RGB, true
		}
	}
	return 0, false
}
