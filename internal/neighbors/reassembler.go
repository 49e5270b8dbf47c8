package neighbors

import (
	"errors"
	"slices"
	"sync"

	"github.com/estutasa/JackTheGripper/internal/link"
	"github.com/estutasa/JackTheGripper/internal/monitoring"
)

// State is the reassembly state.
type State int

const (
	Idle State = iota
	Accumulating
	Invalid
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Accumulating:
		return "accumulating"
	case Invalid:
		return "invalid"
	}
	return "unknown"
}

// Listener receives every complete list, sorted by node id. The slice is
// shared between listeners and must not be modified.
type Listener func([]Record)

// Reassembler collects neighbor list pages into complete lists.
//
// Page 0 always starts a new cycle. Pages must then arrive in order; a gap,
// a repeat or a truncated page invalidates the cycle until the next page 0.
// When the last page arrives the list is sorted, handed to every listener
// exactly once and the reassembler returns to Idle.
type Reassembler struct {
	listeners link.Registry[Listener]

	mu      sync.Mutex
	state   State
	count   uint8
	next    uint8
	records []Record
	last    []Record
}

// NewReassembler returns an idle reassembler.
func NewReassembler() *Reassembler {
	return &Reassembler{}
}

// AddListener registers fn.
func (r *Reassembler) AddListener(fn Listener) link.CallbackID {
	return r.listeners.Add(fn)
}

// RemoveListener unregisters id.
func (r *Reassembler) RemoveListener(id link.CallbackID) bool {
	return r.listeners.Remove(id)
}

// State returns the current state.
func (r *Reassembler) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Last returns the most recent complete list, or nil.
func (r *Reassembler) Last() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.last)
}

// HandlePacket feeds one control channel datagram. Datagrams that are not
// neighbor list pages are ignored.
func (r *Reassembler) HandlePacket(data []byte) {
	p, err := ParsePage(data)
	if errors.Is(err, ErrNotPage) {
		return
	}
	// Listeners run without r.mu so they may call Last or State.
	if list, done := r.accept(data, p, err); done {
		r.listeners.Dispatch(func(fn Listener) { fn(list) })
	}
}

// accept advances the state machine and reports whether a list completed.
func (r *Reassembler) accept(data []byte, p Page, err error) (list []Record, done bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(data) < headerSize {
		monitoring.Errorf("neighbor list: %v", err)
		if r.state == Accumulating {
			r.state = Invalid
		}
		return nil, false
	}

	if p.Index == 0 {
		r.records = r.records[:0]
		r.count = p.Count
		r.next = 0
		r.state = Accumulating
		if r.count == 0 {
			monitoring.Errorf("neighbor list: page 0 announces zero pages")
			r.state = Invalid
			return nil, false
		}
	}

	switch r.state {
	case Invalid:
		return nil, false
	case Idle:
		monitoring.Debugf("neighbor list: dropped page %d outside a cycle", p.Index)
		return nil, false
	}

	if p.Index != r.next {
		monitoring.Errorf("neighbor list: expected page %d but got %d", r.next, p.Index)
		r.state = Invalid
		return nil, false
	}
	if err != nil {
		monitoring.Errorf("neighbor list: %v", err)
		r.state = Invalid
		return nil, false
	}

	r.records = append(r.records, p.Records...)
	r.next++
	if r.next < r.count {
		return nil, false
	}

	list = make([]Record, len(r.records))
	copy(list, r.records)
	slices.SortStableFunc(list, func(a, b Record) int { return int(a.NodeID) - int(b.NodeID) })
	r.last = list
	r.state = Idle
	r.records = r.records[:0]
	return list, true
}
