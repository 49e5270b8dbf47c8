package neighbors

import (
	"github.com/estutasa/JackTheGripper/internal/command"
	"github.com/estutasa/JackTheGripper/internal/link"
	"github.com/estutasa/JackTheGripper/internal/packet"
)

// Manager requests neighbor lists over the control link and reassembles the
// replies.
type Manager struct {
	*Reassembler
	ctrl link.Link
	cbID link.CallbackID
}

// NewManager attaches a new reassembler to the reader of ctrl.
func NewManager(ctrl link.Link) *Manager {
	m := &Manager{Reassembler: NewReassembler(), ctrl: ctrl}
	m.cbID = ctrl.Reader().AddCallback(m.HandlePacket)
	return m
}

// Request asks the interface box for its current neighbor list.
func (m *Manager) Request() error {
	return m.ctrl.Write(command.NeighListGet.Packet())
}

// NodeIDs returns the node ids of the last complete list, ascending.
func (m *Manager) NodeIDs() []packet.NodeID {
	last := m.Last()
	ids := make([]packet.NodeID, len(last))
	for i, r := range last {
		ids[i] = r.NodeID
	}
	return ids
}

// Detach removes the manager from the control link reader.
func (m *Manager) Detach() {
	m.ctrl.Reader().RemoveCallback(m.cbID)
}
