package link

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/estutasa/JackTheGripper/internal/monitoring"
)

// Link is one open-able duplex channel to the wireless interface box.
type Link interface {
	Source
	Name() string
	Open() error
	Close() error
	Write(b []byte) error
	Reader() *Reader
	Stats() *Stats
}

// UDPLink is a Link over one bound UDP socket. Datagrams from any address
// other than the configured remote are discarded.
//
// Writes are serialized with each other but not against reads: a Read and a
// Write may run concurrently.
type UDPLink struct {
	cfg     Config
	factory SocketFactory
	sleep   func(time.Duration)
	reader  *Reader
	stats   *Stats

	mu     sync.Mutex // guards sock, local, remote
	sock   Socket
	local  *net.UDPAddr
	remote *net.UDPAddr

	readMu sync.Mutex // guards buf, framer
	buf    []byte
	framer Framer

	writeMu sync.Mutex
}

// NewUDPLink returns a closed link for cfg.
func NewUDPLink(cfg Config) *UDPLink {
	l := &UDPLink{
		cfg:     cfg,
		factory: cfg.Factory,
		sleep:   cfg.Sleep,
		stats:   NewStats(),
		buf:     make([]byte, maxDatagram),
		framer:  Framer{Size: cfg.FrameSize},
	}
	if l.factory == nil {
		l.factory = NetSocketFactory{}
	}
	if l.sleep == nil {
		l.sleep = time.Sleep
	}
	if l.cfg.ReadTimeout <= 0 {
		l.cfg.ReadTimeout = DefaultReadTimeout
	}
	l.reader = NewReader(l)
	l.reader.name = cfg.Name
	return l
}

// Name returns the configured channel name.
func (l *UDPLink) Name() string { return l.cfg.Name }

// Config returns the link configuration.
func (l *UDPLink) Config() Config { return l.cfg }

// Reader returns the link's background reader.
func (l *UDPLink) Reader() *Reader { return l.reader }

// Stats returns the link's traffic counters.
func (l *UDPLink) Stats() *Stats { return l.stats }

// IsOpen reports whether the socket is bound.
func (l *UDPLink) IsOpen() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sock != nil
}

// LocalAddr returns the bound address, or nil when closed.
func (l *UDPLink) LocalAddr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sock == nil {
		return nil
	}
	return l.sock.LocalAddr()
}

// Open binds the local endpoint and sends the probe, if configured.
func (l *UDPLink) Open() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sock != nil {
		return fmt.Errorf("%s link: %w", l.cfg.Name, ErrAlreadyOpen)
	}
	local, err := net.ResolveUDPAddr("udp", l.cfg.Local)
	if err != nil {
		return fmt.Errorf("%s link: resolve local address: %w", l.cfg.Name, err)
	}
	remote, err := net.ResolveUDPAddr("udp", l.cfg.Remote)
	if err != nil {
		return fmt.Errorf("%s link: resolve remote address: %w", l.cfg.Name, err)
	}
	sock, err := l.factory.ListenUDP("udp4", local)
	if err != nil {
		return fmt.Errorf("%s link: bind %s: %w", l.cfg.Name, local, err)
	}
	if l.cfg.ReadBuffer > 0 {
		if err := sock.SetReadBuffer(l.cfg.ReadBuffer); err != nil {
			monitoring.Logf("Warning: %s link: failed to set UDP receive buffer size: %v", l.cfg.Name, err)
		}
	}
	l.sock, l.local, l.remote = sock, local, remote

	l.readMu.Lock()
	l.framer.Reset()
	l.readMu.Unlock()

	monitoring.Logf("Connecting to %s link: %s <-> %s", l.cfg.Name, sock.LocalAddr(), remote)

	if len(l.cfg.Probe) > 0 {
		if _, err := sock.WriteToUDP(l.cfg.Probe, remote); err != nil {
			monitoring.Logf("Warning: %s link: probe failed: %v", l.cfg.Name, err)
		} else {
			l.stats.addWritten()
		}
	}
	return nil
}

// Close stops the link's reader if it is running and closes the socket.
func (l *UDPLink) Close() error {
	if !l.IsOpen() {
		return fmt.Errorf("%s link: %w", l.cfg.Name, ErrAlreadyClosed)
	}
	if l.reader.Running() {
		if err := l.reader.Stop(); err != nil && !errors.Is(err, ErrReaderStopped) {
			monitoring.Debugf("%s link: stop reader: %v", l.cfg.Name, err)
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sock == nil {
		return fmt.Errorf("%s link: %w", l.cfg.Name, ErrAlreadyClosed)
	}
	err := l.sock.Close()
	l.sock = nil
	monitoring.Logf("Disconnected from %s link", l.cfg.Name)
	if err != nil {
		return fmt.Errorf("%s link: close: %w", l.cfg.Name, err)
	}
	return nil
}

// Write sends b to the remote endpoint as one datagram, then sleeps for the
// configured write delay.
func (l *UDPLink) Write(b []byte) error {
	l.mu.Lock()
	sock, remote := l.sock, l.remote
	l.mu.Unlock()
	if sock == nil {
		return fmt.Errorf("%s link: %w", l.cfg.Name, ErrNotOpen)
	}

	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	n, err := sock.WriteToUDP(b, remote)
	if err != nil {
		return fmt.Errorf("%s link: write: %w", l.cfg.Name, err)
	}
	if n != len(b) {
		return fmt.Errorf("%s link: wrote %d of %d bytes: %w", l.cfg.Name, n, len(b), ErrShortWrite)
	}
	l.stats.addWritten()
	if l.cfg.WriteDelay > 0 {
		l.sleep(l.cfg.WriteDelay)
	}
	return nil
}

// Read waits up to the read timeout for the next datagram, or the next frame
// of a buffered datagram when FrameSize is set.
func (l *UDPLink) Read() ReadResult {
	l.mu.Lock()
	sock, remote := l.sock, l.remote
	l.mu.Unlock()
	if sock == nil {
		return ReadResult{Status: ReadNotOpen}
	}

	l.readMu.Lock()
	defer l.readMu.Unlock()

	r := l.read(sock, remote)
	l.stats.Record(r)
	return r
}

func (l *UDPLink) read(sock Socket, remote *net.UDPAddr) ReadResult {
	if l.framer.Pending() {
		return l.framer.Next()
	}

	if err := sock.SetReadDeadline(time.Now().Add(l.cfg.ReadTimeout)); err != nil {
		return ReadResult{Status: ReadError, Err: fmt.Errorf("%s link: set deadline: %w", l.cfg.Name, err)}
	}
	n, addr, err := sock.ReadFromUDP(l.buf)
	if err != nil {
		switch {
		case isTimeout(err):
			return ReadResult{Status: ReadTimeout}
		case errors.Is(err, net.ErrClosed):
			return ReadResult{Status: ReadNotOpen}
		}
		return ReadResult{Status: ReadError, Err: fmt.Errorf("%s link: read: %w", l.cfg.Name, err)}
	}
	if !sameEndpoint(addr, remote) {
		return ReadResult{Status: ReadAddressMismatch, From: addr}
	}

	data := make([]byte, n)
	copy(data, l.buf[:n])
	return l.framer.Push(data, addr)
}

func sameEndpoint(a, b *net.UDPAddr) bool {
	if a == nil || b == nil {
		return false
	}
	return a.Port == b.Port && a.IP.Equal(b.IP)
}
