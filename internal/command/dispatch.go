package command

import (
	"errors"
	"fmt"
	"strings"

	"github.com/estutasa/JackTheGripper/internal/monitoring"
	"github.com/estutasa/JackTheGripper/internal/packet"
)

// Writer sends one datagram.
type Writer interface {
	Write(b []byte) error
}

// Session connects to and disconnects from the interface box.
type Session interface {
	Connect() error
	Disconnect() error
}

// ErrNoSession is returned for connect/disconnect without a Session.
var ErrNoSession = errors.New("no session attached")

// Dispatcher executes actions against the control and data channels.
type Dispatcher struct {
	ctrl    Writer
	data    Writer
	session Session
}

// NewDispatcher returns a dispatcher writing to ctrl and data. session may be
// nil.
func NewDispatcher(ctrl, data Writer, session Session) *Dispatcher {
	return &Dispatcher{ctrl: ctrl, data: data, session: session}
}

// Handle parses and executes one console line. The returned text is the
// console output, if any.
func (d *Dispatcher) Handle(line string) (string, error) {
	a, err := Parse(line)
	if err != nil {
		return "", err
	}
	return d.Execute(a)
}

// Execute runs a parsed action.
func (d *Dispatcher) Execute(a Action) (string, error) {
	switch a.Kind {
	case ActionControl:
		monitoring.Debugf("control command %s", a.Command)
		return "", d.ctrl.Write(a.Command.Packet())
	case ActionLED:
		return "", d.SetColor(a.Color, a.Nodes...)
	case ActionListColors:
		var sb strings.Builder
		for i, c := range colorTable {
			fmt.Fprintf(&sb, "%d: %s\n", i+1, c.Name)
		}
		return sb.String(), nil
	case ActionListUDR:
		return "udr 0\nudr 63\n", nil
	case ActionConnect:
		if d.session == nil {
			return "", ErrNoSession
		}
		return "", d.session.Connect()
	case ActionDisconnect:
		if d.session == nil {
			return "", ErrNoSession
		}
		return "", d.session.Disconnect()
	case ActionHelp:
		return Help(defaultColumnWidth), nil
	}
	return "", fmt.Errorf("action kind %d: %w", a.Kind, ErrUnknownCommand)
}

// SetColor writes one LED frame per node, or one broadcast frame when nodes
// is empty. It stops at the first write error.
func (d *Dispatcher) SetColor(rgb uint32, nodes ...packet.NodeID) error {
	if len(nodes) == 0 {
		nodes = []packet.NodeID{packet.NodeIDAll}
	}
	for _, id := range nodes {
		if err := d.data.Write(packet.LEDColor(rgb, id)); err != nil {
			return fmt.Errorf("set color of node %d: %w", id, err)
		}
	}
	return nil
}

// Send writes one fixed command to the control channel.
func (d *Dispatcher) Send(c Command) error {
	return d.ctrl.Write(c.Packet())
}

const defaultColumnWidth = 30

var helpEntries = [][2]string{
	{"connect", "Lock the interface and start streaming."},
	{"disconnect", "Stop streaming and unlock the interface."},
	{"ls colors", "List all supported color commands."},
	{"<color> [<ID1> <ID2> ...]", "Set led color."},
	{"", "  Valid IDs: 1, ..., ID_MAX"},
	{"ls udr", "List all supported update rate commands."},
	{"udr <freq>", "Set sensor update rate to <freq>."},
	{"cf on", "Enable color feedback."},
	{"cf off", "Disable color feedback."},
	{"e <on | off>", "Enable/Disable event mode."},
	{"store ids", "Store the current sc IDs to the nv memory."},
	{"clear ids", "Clear the sc IDs from the nv memory."},
	{"", "  New sc IDs will be found after a restart."},
	{"store offsets", "Store the current sensor offsets to the nv memory."},
	{"clear offsets", "Clear the sensor offsets from the nv memory."},
	{"neighs get", "Request neighbor list from interface."},
}

// Help returns the console command overview with commands padded to width.
func Help(width int) string {
	var sb strings.Builder
	for _, e := range helpEntries {
		fmt.Fprintf(&sb, "%-*s%s\n", width, e[0], e[1])
	}
	return sb.String()
}
