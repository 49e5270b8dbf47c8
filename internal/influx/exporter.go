// Package influx mirrors decoded samples, events and neighbor lists into an
// InfluxDB v2 bucket.
package influx

import (
	"errors"
	"strconv"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/estutasa/JackTheGripper/internal/monitoring"
	"github.com/estutasa/JackTheGripper/internal/neighbors"
	"github.com/estutasa/JackTheGripper/internal/sensor"
)

const (
	defaultBatchSize     = 500
	defaultFlushInterval = time.Second

	measurementSample    = "skin_sample"
	measurementEvent     = "skin_event"
	measurementNeighbors = "skin_neighbors"
)

// Config selects the InfluxDB server and bucket.
type Config struct {
	URL           string
	Token         string
	Org           string
	Bucket        string
	BatchSize     uint
	FlushInterval time.Duration
}

func (c Config) validate() error {
	var errs []error
	for _, f := range []struct{ name, v string }{{"url", c.URL}, {"org", c.Org}, {"bucket", c.Bucket}} {
		if f.v == "" {
			errs = append(errs, errors.New("influx "+f.name+" is required"))
		}
	}
	return errors.Join(errs...)
}

// Exporter writes points through the non-blocking write API; points are
// batched and sent in the background so listeners never wait on the network.
type Exporter struct {
	client influxdb2.Client
	write  api.WriteAPI
	now    func() time.Time

	wg        sync.WaitGroup
	closeOnce sync.Once
}

// New connects lazily; the first batch is sent after FlushInterval or once
// BatchSize points are queued.
func New(cfg Config) (*Exporter, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = defaultFlushInterval
	}
	opts := influxdb2.DefaultOptions().
		SetBatchSize(cfg.BatchSize).
		SetFlushInterval(uint(cfg.FlushInterval / time.Millisecond))
	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, opts)

	e := &Exporter{
		client: client,
		write:  client.WriteAPI(cfg.Org, cfg.Bucket),
		now:    time.Now,
	}
	// The write API blocks on this channel until the client is closed.
	errs := e.write.Errors()
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		for err := range errs {
			monitoring.Logf("influx write failed: %v", err)
		}
	}()
	return e, nil
}

func nodeTag(id uint16) map[string]string {
	return map[string]string{"sc_id": strconv.Itoa(int(id))}
}

// HandleSample queues one sample point.
func (e *Exporter) HandleSample(s sensor.Sample) {
	e.write.WritePoint(influxdb2.NewPoint(measurementSample, nodeTag(uint16(s.NodeID)),
		map[string]any{
			"prox":   s.Prox,
			"force1": s.Force[0],
			"force2": s.Force[1],
			"force3": s.Force[2],
			"acc_x":  s.Acc[0],
			"acc_y":  s.Acc[1],
			"acc_z":  s.Acc[2],
			"temp":   s.Temp,
		}, e.now()))
}

// HandleEvents queues one point per event, tagged with the channel name.
func (e *Exporter) HandleEvents(events []sensor.Event) {
	at := e.now()
	for _, ev := range events {
		tags := nodeTag(uint16(ev.NodeID))
		tags["channel"] = ev.ID.String()
		e.write.WritePoint(influxdb2.NewPoint(measurementEvent, tags,
			map[string]any{"value": ev.Value, "id": int(ev.ID)}, at))
	}
}

// HandleNeighbors queues one point per skin cell of a complete list.
func (e *Exporter) HandleNeighbors(list []neighbors.Record) {
	at := e.now()
	for _, r := range list {
		fields := make(map[string]any, len(r.Neighbors))
		for i, n := range r.Neighbors {
			fields["n"+strconv.Itoa(i+1)] = int(n)
		}
		e.write.WritePoint(influxdb2.NewPoint(measurementNeighbors, nodeTag(uint16(r.NodeID)), fields, at))
	}
}

// Flush sends every queued point now.
func (e *Exporter) Flush() {
	e.write.Flush()
}

// Close flushes and releases the client.
func (e *Exporter) Close() {
	e.closeOnce.Do(func() {
		e.client.Close()
		e.wg.Wait()
	})
}
