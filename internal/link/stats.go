package link

import (
	"sync"
	"time"

	"github.com/estutasa/JackTheGripper/internal/monitoring"
)

// Stats counts link traffic. It is safe for concurrent use.
type Stats struct {
	mu         sync.Mutex
	packets    int64
	bytes      int64
	timeouts   int64
	mismatches int64
	short      int64
	errors     int64
	written    int64
	dropped    int64
	since      time.Time
}

// StatsSnapshot is a point-in-time copy of Stats.
type StatsSnapshot struct {
	Packets    int64         `json:"packets"`
	Bytes      int64         `json:"bytes"`
	Timeouts   int64         `json:"timeouts"`
	Mismatches int64         `json:"mismatches"`
	Short      int64         `json:"short"`
	Errors     int64         `json:"errors"`
	Written    int64         `json:"written"`
	Dropped    int64         `json:"dropped"`
	Elapsed    time.Duration `json:"elapsed_ns"`
}

// NewStats returns zeroed counters.
func NewStats() *Stats {
	return &Stats{since: time.Now()}
}

// Record counts one read result.
func (s *Stats) Record(r ReadResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch r.Status {
	case ReadData:
		s.packets++
		s.bytes += int64(len(r.Data))
	case ReadTimeout:
		s.timeouts++
	case ReadAddressMismatch:
		s.mismatches++
	case ReadShortFrame:
		s.short++
	case ReadError:
		s.errors++
	}
}

func (s *Stats) addWritten() {
	s.mu.Lock()
	s.written++
	s.mu.Unlock()
}

// AddDropped counts one frame dropped by a downstream sink.
func (s *Stats) AddDropped() {
	s.mu.Lock()
	s.dropped++
	s.mu.Unlock()
}

// Snapshot returns the current counters.
func (s *Stats) Snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// GetAndReset returns the counters and starts a new interval.
func (s *Stats) GetAndReset() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.snapshotLocked()
	s.packets, s.bytes, s.timeouts, s.mismatches = 0, 0, 0, 0
	s.short, s.errors, s.written, s.dropped = 0, 0, 0, 0
	s.since = time.Now()
	return snap
}

func (s *Stats) snapshotLocked() StatsSnapshot {
	return StatsSnapshot{
		Packets:    s.packets,
		Bytes:      s.bytes,
		Timeouts:   s.timeouts,
		Mismatches: s.mismatches,
		Short:      s.short,
		Errors:     s.errors,
		Written:    s.written,
		Dropped:    s.dropped,
		Elapsed:    time.Since(s.since),
	}
}

// LogInterval logs and resets the counters for one reporting interval.
func (s *Stats) LogInterval(name string) {
	snap := s.GetAndReset()
	secs := snap.Elapsed.Seconds()
	if secs <= 0 {
		return
	}
	monitoring.Logf("%s link: %d frames (%.1f/s, %d bytes), %d written, %d mismatched, %d short, %d errors, %d dropped",
		name, snap.Packets, float64(snap.Packets)/secs, snap.Bytes, snap.Written,
		snap.Mismatches, snap.Short, snap.Errors, snap.Dropped)
}
