// Package command defines the control channel commands of the wireless
// interface box, the LED color table and the text command language of the
// interactive console.
package command

import (
	"bytes"
	"fmt"
)

// Command is one fixed control channel command.
type Command int

const (
	Lock Command = iota
	Unlock
	Start
	Stop
	IDsStore
	IDsClear
	OffsetsStore
	OffsetsClear
	UDR0Hz
	UDR63Hz
	NeighListGet
	CFOn
	CFOff
	EventsOn
	EventsOff

	numCommands
)

// TokenSize is the length of every control token.
const TokenSize = 8

// Control tokens are {0x5C, 'W', 'I', group, code, 0x00, 0x00, 0xAA}.
const (
	tokenStart = 0x5C
	tokenEnd   = 0xAA
)

type tokenDef struct {
	name        string
	group, code byte
}

var commands = [numCommands]tokenDef{
	Lock:         {"LOCK", 'C', 'L'},
	Unlock:       {"UNLOCK", 'C', 'U'},
	Start:        {"START", 'C', 'S'},
	Stop:         {"STOP", 'C', 'P'},
	IDsStore:     {"IDS_STORE", 'I', 'S'},
	IDsClear:     {"IDS_CLEAR", 'I', 'C'},
	OffsetsStore: {"OFFSETS_STORE", 'O', 'S'},
	OffsetsClear: {"OFFSETS_CLEAR", 'O', 'C'},
	UDR0Hz:       {"UDR_0HZ", 'U', 0},
	UDR63Hz:      {"UDR_63HZ", 'U', 63},
	NeighListGet: {"NEIGH_LIST_GET", 'N', 'G'},
	CFOn:         {"CF_ON", 'F', 1},
	CFOff:        {"CF_OFF", 'F', 0},
	EventsOn:     {"E_ON", 'E', 1},
	EventsOff:    {"E_OFF", 'E', 0},
}

func token(group, code byte) []byte {
	return []byte{tokenStart, 'W', 'I', group, code, 0x00, 0x00, tokenEnd}
}

// neighListPageToken prefixes every neighbor list page on the control
// channel.
var neighListPageToken = token('N', 'L')

// NeighListPageToken returns a copy of the neighbor list page prefix.
func NeighListPageToken() []byte {
	return bytes.Clone(neighListPageToken)
}

// IsNeighListPage reports whether data starts with the neighbor page token.
func IsNeighListPage(data []byte) bool {
	return bytes.HasPrefix(data, neighListPageToken)
}

// Valid reports whether c is a known command.
func (c Command) Valid() bool { return c >= 0 && c < numCommands }

func (c Command) String() string {
	if !c.Valid() {
		return fmt.Sprintf("command(%d)", int(c))
	}
	return commands[c].name
}

// Packet returns a fresh copy of the command's control token.
func (c Command) Packet() []byte {
	if !c.Valid() {
		panic(fmt.Sprintf("command: unknown command %d", int(c)))
	}
	s := commands[c]
	return token(s.group, s.code)
}

// Lookup finds the command whose control token equals pkt.
func Lookup(pkt []byte) (Command, bool) {
	for c := Command(0); c < numCommands; c++ {
		s := commands[c]
		if bytes.Equal(pkt, token(s.group, s.code)) {
			return c, true
		}
	}
	return 0, false
}
