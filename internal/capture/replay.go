package capture

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/estutasa/JackTheGripper/internal/link"
	"github.com/estutasa/JackTheGripper/internal/monitoring"
)

const maxReplayGap = time.Second

// ReplayConfig configures a ReplayLink.
type ReplayConfig struct {
	// Source selects the datagrams to replay by sender. Other UDP packets
	// read as ReadAddressMismatch. A nil Source accepts every sender; an
	// unspecified IP matches on port only.
	Source *net.UDPAddr
	// FrameSize splits datagrams as a live link would. 0 keeps datagrams.
	FrameSize int
	// Realtime reproduces the recorded gaps between packets, capped at one
	// second.
	Realtime bool
	// IdleWait is how long a Read blocks after the end of the file. Zero means
	// link.DefaultReadTimeout.
	IdleWait time.Duration
	// Sleep is used for pacing. Nil means time.Sleep.
	Sleep func(time.Duration)
}

// ReplayLink is a link.Source serving datagrams from a pcap stream.
type ReplayLink struct {
	cfg    ReplayConfig
	reader *link.Reader
	stats  *link.Stats

	mu       sync.Mutex
	r        *pcapgo.Reader
	closer   io.Closer
	framer   link.Framer
	last     time.Time
	eof      bool
	packets  int
	done     chan struct{}
	doneOnce sync.Once
}

// NewReplay reads a pcap stream from r.
func NewReplay(r io.Reader, cfg ReplayConfig) (*ReplayLink, error) {
	pr, err := pcapgo.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read pcap header: %w", err)
	}
	if cfg.IdleWait <= 0 {
		cfg.IdleWait = link.DefaultReadTimeout
	}
	if cfg.Sleep == nil {
		cfg.Sleep = time.Sleep
	}
	l := &ReplayLink{
		cfg:    cfg,
		stats:  link.NewStats(),
		r:      pr,
		framer: link.Framer{Size: cfg.FrameSize},
		done:   make(chan struct{}),
	}
	if c, ok := r.(io.Closer); ok {
		l.closer = c
	}
	l.reader = link.NewReader(l)
	return l, nil
}

// OpenReplay opens the pcap file at path.
func OpenReplay(path string, cfg ReplayConfig) (*ReplayLink, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open capture file %s: %w", path, err)
	}
	l, err := NewReplay(f, cfg)
	if err != nil {
		f.Close()
		return nil, err
	}
	monitoring.Logf("Replaying %s", path)
	return l, nil
}

// Reader returns the replay's background reader.
func (l *ReplayLink) Reader() *link.Reader { return l.reader }

// Stats returns the replay's read counters.
func (l *ReplayLink) Stats() *link.Stats { return l.stats }

// Done is closed when the end of the capture has been reached.
func (l *ReplayLink) Done() <-chan struct{} { return l.done }

// IsOpen reports whether the replay has not been closed.
func (l *ReplayLink) IsOpen() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r != nil
}

// Read returns the next datagram or frame of the capture. After the end of
// the capture every Read waits IdleWait and reports ReadTimeout.
func (l *ReplayLink) Read() link.ReadResult {
	res, idle := l.next()
	if idle {
		l.cfg.Sleep(l.cfg.IdleWait)
	}
	l.stats.Record(res)
	return res
}

func (l *ReplayLink) next() (link.ReadResult, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.r == nil {
		return link.ReadResult{Status: link.ReadNotOpen}, false
	}
	if l.framer.Pending() {
		return l.framer.Next(), false
	}

	for !l.eof {
		data, ci, err := l.r.ReadPacketData()
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			l.eof = true
			l.doneOnce.Do(func() { close(l.done) })
			monitoring.Logf("Replay complete: %d packets", l.packets)
			break
		}
		if err != nil {
			return link.ReadResult{Status: link.ReadError, Err: fmt.Errorf("replay: %w", err)}, false
		}
		l.packets++

		pkt := gopacket.NewPacket(data, l.r.LinkType(), gopacket.DecodeOptions{Lazy: true, NoCopy: true})
		udp, ok := pkt.Layer(layers.LayerTypeUDP).(*layers.UDP)
		if !ok || len(udp.Payload) == 0 {
			continue
		}
		from := &net.UDPAddr{Port: int(udp.SrcPort)}
		if ip, ok := pkt.NetworkLayer().(*layers.IPv4); ok {
			from.IP = ip.SrcIP
		}

		l.pace(ci.Timestamp)
		if !l.accepts(from) {
			return link.ReadResult{Status: link.ReadAddressMismatch, From: from}, false
		}
		payload := append([]byte(nil), udp.Payload...)
		return l.framer.Push(payload, from), false
	}
	return link.ReadResult{Status: link.ReadTimeout}, true
}

func (l *ReplayLink) pace(ts time.Time) {
	if l.cfg.Realtime && !l.last.IsZero() {
		if gap := ts.Sub(l.last); gap > 0 {
			l.cfg.Sleep(min(gap, maxReplayGap))
		}
	}
	l.last = ts
}

func (l *ReplayLink) accepts(from *net.UDPAddr) bool {
	src := l.cfg.Source
	if src == nil {
		return true
	}
	if src.Port != from.Port {
		return false
	}
	return src.IP == nil || src.IP.IsUnspecified() || src.IP.Equal(from.IP)
}

// Close stops the reader if it is running and releases the capture.
func (l *ReplayLink) Close() error {
	if l.reader.Running() {
		l.reader.Stop()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.r == nil {
		return link.ErrAlreadyClosed
	}
	l.r = nil
	l.framer.Reset()
	if l.closer != nil {
		return l.closer.Close()
	}
	return nil
}
