package db

import (
	"context"
	"time"

	"github.com/estutasa/JackTheGripper/internal/monitoring"
	"github.com/estutasa/JackTheGripper/internal/neighbors"
	"github.com/estutasa/JackTheGripper/internal/sensor"
)

const (
	defaultSinkBuffer    = 4096
	defaultFlushInterval = 500 * time.Millisecond
	maxSampleBatch       = 512
)

// DropCounter counts items the sink could not queue.
type DropCounter interface {
	AddDropped()
}

type sinkItem struct {
	sample    *TimedSample
	events    []sensor.Event
	neighbors []neighbors.Record
	at        time.Time
}

// Sink writes decoded data to the database from its own goroutine. The
// Handle methods never block: when the queue is full the item is dropped and
// counted. Samples are written in batches.
type Sink struct {
	db            *DB
	queue         chan sinkItem
	drops         DropCounter
	flushInterval time.Duration
	now           func() time.Time

	done chan struct{}
}

// SinkConfig configures a Sink. Zero values select defaults.
type SinkConfig struct {
	Buffer        int
	FlushInterval time.Duration
	Drops         DropCounter
}

// NewSink returns a sink writing to db. Call Start to begin writing.
func NewSink(db *DB, cfg SinkConfig) *Sink {
	if cfg.Buffer <= 0 {
		cfg.Buffer = defaultSinkBuffer
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = defaultFlushInterval
	}
	return &Sink{
		db:            db,
		queue:         make(chan sinkItem, cfg.Buffer),
		drops:         cfg.Drops,
		flushInterval: cfg.FlushInterval,
		now:           time.Now,
		done:          make(chan struct{}),
	}
}

func (s *Sink) enqueue(it sinkItem) {
	select {
	case s.queue <- it:
	default:
		if s.drops != nil {
			s.drops.AddDropped()
		}
	}
}

// HandleSample queues one sample.
func (s *Sink) HandleSample(sample sensor.Sample) {
	s.enqueue(sinkItem{sample: &TimedSample{Sample: sample, At: s.now()}})
}

// HandleEvents queues the events of one frame.
func (s *Sink) HandleEvents(events []sensor.Event) {
	s.enqueue(sinkItem{events: events, at: s.now()})
}

// HandleNeighbors queues a complete neighbor list.
func (s *Sink) HandleNeighbors(list []neighbors.Record) {
	s.enqueue(sinkItem{neighbors: list, at: s.now()})
}

// Start runs the writer until ctx is cancelled. Queued items are written
// before Done is closed.
func (s *Sink) Start(ctx context.Context) {
	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.flushInterval)
		defer ticker.Stop()

		var batch []TimedSample
		flush := func() {
			if len(batch) == 0 {
				return
			}
			if err := s.db.RecordSamples(batch); err != nil {
				monitoring.Logf("Failed to record %d samples: %v", len(batch), err)
			}
			batch = batch[:0]
		}
		write := func(it sinkItem) {
			switch {
			case it.sample != nil:
				batch = append(batch, *it.sample)
				if len(batch) >= maxSampleBatch {
					flush()
				}
			case it.events != nil:
				if err := s.db.RecordEvents(it.events, it.at); err != nil {
					monitoring.Logf("Failed to record events: %v", err)
				}
			case it.neighbors != nil:
				if _, err := s.db.RecordNeighbors(it.neighbors, it.at); err != nil {
					monitoring.Logf("Failed to record neighbor list: %v", err)
				}
			}
		}

		for {
			select {
			case <-ctx.Done():
				for {
					select {
					case it := <-s.queue:
						write(it)
					default:
						flush()
						return
					}
				}
			case it := <-s.queue:
				write(it)
			case <-ticker.C:
				flush()
			}
		}
	}()
}

// Done is closed once the writer has exited.
func (s *Sink) Done() <-chan struct{} { return s.done }
