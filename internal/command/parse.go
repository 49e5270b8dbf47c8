package command

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/estutasa/JackTheGripper/internal/packet"
)

// ErrUnknownCommand is returned by Parse for lines it does not understand.
var ErrUnknownCommand = errors.New("unknown command")

// ActionKind tags an Action.
type ActionKind int

const (
	// ActionControl writes Command to the control channel.
	ActionControl ActionKind = iota
	// ActionLED writes an LED frame per node to the data channel.
	ActionLED
	ActionListColors
	ActionListUDR
	ActionConnect
	ActionDisconnect
	ActionHelp
)

// Action is the parsed form of one console line.
type Action struct {
	Kind    ActionKind
	Command Command         // ActionControl
	Color   uint32          // ActionLED, 0xRRGGBB
	Nodes   []packet.NodeID // ActionLED; empty means every node
}

var fixedLines = map[string]Action{
	"connect":       {Kind: ActionConnect},
	"disconnect":    {Kind: ActionDisconnect},
	"help":          {Kind: ActionHelp},
	"ls colors":     {Kind: ActionListColors},
	"ls udr":        {Kind: ActionListUDR},
	"udr 0":         {Kind: ActionControl, Command: UDR0Hz},
	"udr 63":        {Kind: ActionControl, Command: UDR63Hz},
	"cf on":         {Kind: ActionControl, Command: CFOn},
	"cf off":        {Kind: ActionControl, Command: CFOff},
	"e on":          {Kind: ActionControl, Command: EventsOn},
	"e off":         {Kind: ActionControl, Command: EventsOff},
	"store ids":     {Kind: ActionControl, Command: IDsStore},
	"clear ids":     {Kind: ActionControl, Command: IDsClear},
	"store offsets": {Kind: ActionControl, Command: OffsetsStore},
	"clear offsets": {Kind: ActionControl, Command: OffsetsClear},
	"neighs get":    {Kind: ActionControl, Command: NeighListGet},
}

// Parse turns a console line into an Action.
//
// LED lines are "<color> [<id> ...]". Ids outside 1..NodeIDAll or not
// numeric are skipped; a line whose ids are all skipped is rejected.
func Parse(line string) (Action, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Action{}, fmt.Errorf("empty line: %w", ErrUnknownCommand)
	}
	if a, ok := fixedLines[strings.Join(fields, " ")]; ok {
		return a, nil
	}

	rgb, ok := ColorByName(fields[0])
	if !ok {
		return Action{}, fmt.Errorf("%q: %w", line, ErrUnknownCommand)
	}
	a := Action{Kind: ActionLED, Color: rgb}
	if len(fields) == 1 {
		return a, nil
	}
	for _, f := range fields[1:] {
		id, err := strconv.Atoi(f)
		if err != nil || id < 1 || id > int(packet.NodeIDAll) {
			continue
		}
		a.Nodes = append(a.Nodes, packet.NodeID(id))
	}
	if len(a.Nodes) == 0 {
		return Action{}, fmt.Errorf("%q: no valid node ids: %w", line, ErrUnknownCommand)
	}
	return a, nil
}
