package sensor

import (
	"sync"

	"github.com/estutasa/JackTheGripper/internal/link"
	"github.com/estutasa/JackTheGripper/internal/monitoring"
	"github.com/estutasa/JackTheGripper/internal/packet"
)

// SampleListener receives every decoded sample.
type SampleListener func(Sample)

// EventListener receives the events decoded from one event frame.
type EventListener func([]Event)

// DataPublisher decodes sample frames from the data link, keeps the latest
// sample of every node and fans each sample out to its listeners.
type DataPublisher struct {
	listeners link.Registry[SampleListener]

	mu     sync.Mutex
	order  []packet.NodeID
	latest map[packet.NodeID]Sample
}

// NewDataPublisher returns an empty publisher.
func NewDataPublisher() *DataPublisher {
	return &DataPublisher{latest: make(map[packet.NodeID]Sample)}
}

// Attach registers the publisher on r and returns the callback id.
func (p *DataPublisher) Attach(r *link.Reader) link.CallbackID {
	return r.AddCallback(p.HandleFrame)
}

// AddListener registers fn.
func (p *DataPublisher) AddListener(fn SampleListener) link.CallbackID {
	return p.listeners.Add(fn)
}

// RemoveListener unregisters id.
func (p *DataPublisher) RemoveListener(id link.CallbackID) bool {
	return p.listeners.Remove(id)
}

// HandleFrame decodes frame if it is a sample frame and ignores it otherwise.
func (p *DataPublisher) HandleFrame(frame []byte) {
	if len(frame) < packet.FrameSize || frame[0] != packet.HeaderSample {
		return
	}
	s := DecodeSample(frame)
	if s.NodeID == packet.NodeIDAll {
		// Echo of our own dummy frame.
		return
	}

	p.mu.Lock()
	if _, seen := p.latest[s.NodeID]; !seen {
		p.order = append(p.order, s.NodeID)
		monitoring.Debugf("new skin cell %d", s.NodeID)
	}
	p.latest[s.NodeID] = s
	p.mu.Unlock()

	p.listeners.Dispatch(func(fn SampleListener) { fn(s) })
}

// NodeIDs returns the ids seen so far, in first-seen order.
func (p *DataPublisher) NodeIDs() []packet.NodeID {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]packet.NodeID(nil), p.order...)
}

// Latest returns the most recent sample of id.
func (p *DataPublisher) Latest(id packet.NodeID) (Sample, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.latest[id]
	return s, ok
}

// Snapshot returns the latest sample of every node, in first-seen order.
func (p *DataPublisher) Snapshot() []Sample {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Sample, 0, len(p.order))
	for _, id := range p.order {
		out = append(out, p.latest[id])
	}
	return out
}

// Reset forgets every node.
func (p *DataPublisher) Reset() {
	p.mu.Lock()
	p.order = nil
	p.latest = make(map[packet.NodeID]Sample)
	p.mu.Unlock()
}

// EventsPublisher decodes event burst frames from the data link.
type EventsPublisher struct {
	listeners link.Registry[EventListener]
}

// NewEventsPublisher returns a publisher with no listeners.
func NewEventsPublisher() *EventsPublisher {
	return &EventsPublisher{}
}

// Attach registers the publisher on r and returns the callback id.
func (p *EventsPublisher) Attach(r *link.Reader) link.CallbackID {
	return r.AddCallback(p.HandleFrame)
}

// AddListener registers fn.
func (p *EventsPublisher) AddListener(fn EventListener) link.CallbackID {
	return p.listeners.Add(fn)
}

// RemoveListener unregisters id.
func (p *EventsPublisher) RemoveListener(id link.CallbackID) bool {
	return p.listeners.Remove(id)
}

// HandleFrame decodes frame if it is an event burst frame.
func (p *EventsPublisher) HandleFrame(frame []byte) {
	if len(frame) < packet.FrameSize || frame[0] != packet.HeaderEvent {
		return
	}
	events := DecodeEventBurst(frame)
	if len(events) == 0 {
		return
	}
	p.listeners.Dispatch(func(fn EventListener) { fn(events) })
}
