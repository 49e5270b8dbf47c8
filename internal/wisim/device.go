// Package wisim emulates the wireless interface box on loopback UDP. It
// answers control commands, serves neighbor list pages, keeps the LED color
// of every skin cell and streams sample frames while started, so the host
// side can be exercised end to end without hardware.
package wisim

import (
	"context"
	"errors"
	"fmt"
	"net"
	"slices"
	"sync"
	"time"

	"github.com/estutasa/JackTheGripper/internal/command"
	"github.com/estutasa/JackTheGripper/internal/monitoring"
	"github.com/estutasa/JackTheGripper/internal/neighbors"
	"github.com/estutasa/JackTheGripper/internal/packet"
	"github.com/estutasa/JackTheGripper/internal/sensor"
)

const (
	// DefaultSampleInterval matches the 63 Hz update rate.
	DefaultSampleInterval = 16 * time.Millisecond
	defaultPerPage        = 5
	pollInterval          = 50 * time.Millisecond
)

// SampleFunc produces the raw sample of node id at tick n.
type SampleFunc func(id packet.NodeID, n uint64) sensor.RawSample

// Config configures a Device. Zero values select defaults.
type Config struct {
	Ctrl string // control listen address, default 127.0.0.1:0
	Data string // data listen address, default 127.0.0.1:0

	// Cells is the neighbor list the box reports. Its node ids are also the
	// cells that stream samples.
	Cells   []neighbors.Record
	PerPage int // records per neighbor list page

	SampleInterval time.Duration
	Sample         SampleFunc
}

// Device is one emulated interface box.
type Device struct {
	cfg  Config
	ctrl *net.UDPConn
	data *net.UDPConn

	mu        sync.Mutex
	ctrlPeer  *net.UDPAddr
	dataPeer  *net.UDPAddr
	locked    bool
	started   bool
	rate      bool // false after UDR_0HZ
	events    bool
	feedback  bool
	leds      map[packet.NodeID]uint32
	received  []command.Command
	unknown   int
	tick      uint64
	closed    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New binds both sockets. Call Start to serve.
func New(cfg Config) (*Device, error) {
	if cfg.Ctrl == "" {
		cfg.Ctrl = "127.0.0.1:0"
	}
	if cfg.Data == "" {
		cfg.Data = "127.0.0.1:0"
	}
	if cfg.PerPage <= 0 {
		cfg.PerPage = defaultPerPage
	}
	if cfg.SampleInterval <= 0 {
		cfg.SampleInterval = DefaultSampleInterval
	}
	if cfg.Sample == nil {
		cfg.Sample = Ramp
	}

	ctrl, err := listen(cfg.Ctrl)
	if err != nil {
		return nil, fmt.Errorf("control socket: %w", err)
	}
	data, err := listen(cfg.Data)
	if err != nil {
		ctrl.Close()
		return nil, fmt.Errorf("data socket: %w", err)
	}
	return &Device{
		cfg:    cfg,
		ctrl:   ctrl,
		data:   data,
		rate:   true,
		leds:   make(map[packet.NodeID]uint32),
		closed: make(chan struct{}),
	}, nil
}

func listen(address string) (*net.UDPConn, error) {
	addr, err := net.ResolveUDPAddr("udp4", address)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve UDP address: %w", err)
	}
	return net.ListenUDP("udp4", addr)
}

// CtrlAddr is the bound control endpoint, the host's control remote.
func (d *Device) CtrlAddr() *net.UDPAddr { return d.ctrl.LocalAddr().(*net.UDPAddr) }

// DataAddr is the bound data endpoint, the host's data remote.
func (d *Device) DataAddr() *net.UDPAddr { return d.data.LocalAddr().(*net.UDPAddr) }

// Start serves both channels until ctx is done or Close is called.
func (d *Device) Start(ctx context.Context) {
	d.wg.Add(3)
	go func() {
		defer d.wg.Done()
		d.serve(ctx, d.ctrl, d.handleCtrl)
	}()
	go func() {
		defer d.wg.Done()
		d.serve(ctx, d.data, d.handleData)
	}()
	go func() {
		defer d.wg.Done()
		d.stream(ctx)
	}()
}

// Close closes both sockets and waits for the serving goroutines.
func (d *Device) Close() error {
	var err error
	d.closeOnce.Do(func() {
		close(d.closed)
		err = errors.Join(d.ctrl.Close(), d.data.Close())
	})
	d.wg.Wait()
	return err
}

func (d *Device) serve(ctx context.Context, conn *net.UDPConn, handle func([]byte, *net.UDPAddr)) {
	buf := make([]byte, 2048)
	for {
		if ctx.Err() != nil {
			return
		}
		conn.SetReadDeadline(time.Now().Add(pollInterval))
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			monitoring.Debugf("wisim: read error: %v", err)
			continue
		}
		handle(slices.Clone(buf[:n]), from)
	}
}

func (d *Device) handleCtrl(b []byte, from *net.UDPAddr) {
	c, ok := command.Lookup(b)

	d.mu.Lock()
	d.ctrlPeer = from
	if !ok {
		d.unknown++
		d.mu.Unlock()
		monitoring.Debugf("wisim: unknown control datagram % x", b)
		return
	}
	d.received = append(d.received, c)
	switch c {
	case command.Lock:
		d.locked = true
	case command.Unlock:
		d.locked = false
		d.started = false
	case command.Start:
		d.started = d.locked
	case command.Stop:
		d.started = false
	case command.UDR0Hz:
		d.rate = false
	case command.UDR63Hz:
		d.rate = true
	case command.CFOn:
		d.feedback = true
	case command.CFOff:
		d.feedback = false
	case command.EventsOn:
		d.events = true
	case command.EventsOff:
		d.events = false
	}
	d.mu.Unlock()

	if c == command.NeighListGet {
		if err := d.SendNeighborList(); err != nil {
			monitoring.Logf("wisim: failed to send neighbor list: %v", err)
		}
	}
}

func (d *Device) handleData(b []byte, from *net.UDPAddr) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dataPeer = from
	for len(b) >= packet.FrameSize {
		f := b[:packet.FrameSize]
		b = b[packet.FrameSize:]
		if f[0] != packet.HeaderLED {
			continue
		}
		r, g, bl := packet.DecodeLEDRGB(f)
		rgb := packet.RGB(r, g, bl)
		id := packet.GetNodeID(f)
		if id == packet.NodeIDAll {
			for _, c := range d.cfg.Cells {
				d.leds[c.NodeID] = rgb
			}
			continue
		}
		d.leds[id] = rgb
	}
}

// stream sends one sample frame per cell every SampleInterval while the box
// is started and the data peer is known.
func (d *Device) stream(ctx context.Context) {
	t := time.NewTicker(d.cfg.SampleInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.closed:
			return
		case <-t.C:
		}
		d.mu.Lock()
		peer := d.dataPeer
		active := d.started && d.rate && peer != nil
		n := d.tick
		if active {
			d.tick++
		}
		d.mu.Unlock()
		if !active {
			continue
		}

		buf := make([]byte, 0, len(d.cfg.Cells)*packet.FrameSize)
		for _, c := range d.cfg.Cells {
			buf = append(buf, sensor.EncodeSampleRaw(c.NodeID, d.cfg.Sample(c.NodeID, n))...)
		}
		if len(buf) == 0 {
			continue
		}
		if _, err := d.data.WriteToUDP(buf, peer); err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			monitoring.Debugf("wisim: sample write failed: %v", err)
		}
	}
}

// SendNeighborList sends the configured list to the control peer as pages.
func (d *Device) SendNeighborList() error {
	d.mu.Lock()
	peer := d.ctrlPeer
	d.mu.Unlock()
	if peer == nil {
		return errors.New("control peer unknown")
	}
	for _, page := range neighbors.EncodeList(d.cfg.Cells, d.cfg.PerPage) {
		if _, err := d.ctrl.WriteToUDP(page, peer); err != nil {
			return err
		}
	}
	return nil
}

// SendCtrl sends a raw datagram to the control peer.
func (d *Device) SendCtrl(b []byte) error {
	d.mu.Lock()
	peer := d.ctrlPeer
	d.mu.Unlock()
	if peer == nil {
		return errors.New("control peer unknown")
	}
	_, err := d.ctrl.WriteToUDP(b, peer)
	return err
}

// EmitEvents sends the event burst of one cell to the data peer. Event mode
// must be on.
func (d *Device) EmitEvents(id packet.NodeID, active uint16, raw [sensor.NumChannels]uint16) error {
	d.mu.Lock()
	peer, on := d.dataPeer, d.events
	d.mu.Unlock()
	if !on {
		return errors.New("event mode is off")
	}
	if peer == nil {
		return errors.New("data peer unknown")
	}
	for _, f := range sensor.EncodeBurstFrames(id, active, raw) {
		if _, err := d.data.WriteToUDP(f, peer); err != nil {
			return err
		}
	}
	return nil
}

// Status is a snapshot of the box state.
type Status struct {
	Locked   bool
	Started  bool
	Streams  bool // update rate is not 0 Hz
	Events   bool
	Feedback bool
	Unknown  int // control datagrams that matched no command
}

func (d *Device) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Status{
		Locked:   d.locked,
		Started:  d.started,
		Streams:  d.rate,
		Events:   d.events,
		Feedback: d.feedback,
		Unknown:  d.unknown,
	}
}

// Received returns the control commands received so far, in order.
func (d *Device) Received() []command.Command {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.received)
}

// LED returns the last color set for id.
func (d *Device) LED(id packet.NodeID) (uint32, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	rgb, ok := d.leds[id]
	return rgb, ok
}

// Ramp is the default sample generator: proximity rises with the tick,
// force follows the node id and the accelerometer reads 1 g on z.
func Ramp(id packet.NodeID, n uint64) sensor.RawSample {
	return sensor.RawSample{
		Prox:  uint32(n*256) & 0xFFFF,
		Force: [3]uint32{uint32(id) & 0xFFF, 0, 0},
		// Lane 2 is negated on decode; 0x300 is -256 counts, so +1 g.
		Acc:  [3]uint32{0, 0, 0x300},
		Temp: 0,
	}
}
