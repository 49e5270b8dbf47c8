package link

import (
	"net"
	"sync"
	"time"
)

// Socket is the subset of *net.UDPConn used by UDPLink. Tests substitute
// MockSocket.
type Socket interface {
	ReadFromUDP(b []byte) (n int, addr *net.UDPAddr, err error)
	WriteToUDP(b []byte, addr *net.UDPAddr) (int, error)
	SetReadBuffer(bytes int) error
	SetReadDeadline(t time.Time) error
	Close() error
	LocalAddr() net.Addr
}

// SocketFactory creates bound sockets.
type SocketFactory interface {
	ListenUDP(network string, laddr *net.UDPAddr) (Socket, error)
}

// NetSocketFactory binds real sockets with net.ListenUDP.
type NetSocketFactory struct{}

// ListenUDP binds a UDP socket on laddr.
func (NetSocketFactory) ListenUDP(network string, laddr *net.UDPAddr) (Socket, error) {
	conn, err := net.ListenUDP(network, laddr)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// MockDatagram is one datagram queued on a MockSocket.
type MockDatagram struct {
	Data []byte
	Addr *net.UDPAddr
}

// MockSocket implements Socket for tests. Queued datagrams are returned in
// order; an empty queue behaves like a read timeout after waiting until the
// read deadline, capped at MaxWait. It is safe for concurrent use.
type MockSocket struct {
	mu           sync.Mutex
	queue        []MockDatagram
	written      []MockDatagram
	closed       bool
	readErr      error
	deadline     time.Time
	readBuffer   int
	localAddress *net.UDPAddr
	notify       chan struct{}

	// MaxWait bounds how long an empty read blocks. Zero means 5ms.
	MaxWait time.Duration
	// WriteErr is returned by WriteToUDP when set.
	WriteErr error
	// ShortWrite makes WriteToUDP report one byte fewer than requested.
	ShortWrite bool
}

// NewMockSocket returns a MockSocket bound to 127.0.0.1:0 with datagrams
// queued.
func NewMockSocket(datagrams ...MockDatagram) *MockSocket {
	return &MockSocket{
		queue:        datagrams,
		localAddress: &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)},
		notify:       make(chan struct{}, 1),
	}
}

// Push queues a datagram from addr.
func (m *MockSocket) Push(data []byte, addr *net.UDPAddr) {
	m.mu.Lock()
	m.queue = append(m.queue, MockDatagram{Data: append([]byte(nil), data...), Addr: addr})
	m.mu.Unlock()
	select {
	case m.notify <- struct{}{}:
	default:
	}
}

// FailNextRead makes the next ReadFromUDP return err.
func (m *MockSocket) FailNextRead(err error) {
	m.mu.Lock()
	m.readErr = err
	m.mu.Unlock()
}

// Written returns a copy of every datagram written so far.
func (m *MockSocket) Written() []MockDatagram {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockDatagram(nil), m.written...)
}

// Closed reports whether Close was called.
func (m *MockSocket) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// ReadBuffer returns the value set by SetReadBuffer.
func (m *MockSocket) ReadBuffer() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.readBuffer
}

func (m *MockSocket) ReadFromUDP(b []byte) (int, *net.UDPAddr, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return 0, nil, net.ErrClosed
	}
	if m.readErr != nil {
		err := m.readErr
		m.readErr = nil
		m.mu.Unlock()
		return 0, nil, err
	}
	if len(m.queue) == 0 {
		wait := m.MaxWait
		if wait == 0 {
			wait = 5 * time.Millisecond
		}
		if !m.deadline.IsZero() {
			if d := time.Until(m.deadline); d < wait {
				wait = max(d, 0)
			}
		}
		m.mu.Unlock()
		select {
		case <-m.notify:
		case <-time.After(wait):
		}
		m.mu.Lock()
		if len(m.queue) == 0 {
			m.mu.Unlock()
			return 0, nil, &net.OpError{Op: "read", Net: "udp", Err: timeoutError{}}
		}
	}
	d := m.queue[0]
	m.queue = m.queue[1:]
	m.mu.Unlock()
	return copy(b, d.Data), d.Addr, nil
}

func (m *MockSocket) WriteToUDP(b []byte, addr *net.UDPAddr) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, net.ErrClosed
	}
	if m.WriteErr != nil {
		return 0, m.WriteErr
	}
	m.written = append(m.written, MockDatagram{Data: append([]byte(nil), b...), Addr: addr})
	if m.ShortWrite && len(b) > 0 {
		return len(b) - 1, nil
	}
	return len(b), nil
}

func (m *MockSocket) SetReadBuffer(bytes int) error {
	m.mu.Lock()
	m.readBuffer = bytes
	m.mu.Unlock()
	return nil
}

func (m *MockSocket) SetReadDeadline(t time.Time) error {
	m.mu.Lock()
	m.deadline = t
	m.mu.Unlock()
	return nil
}

func (m *MockSocket) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

func (m *MockSocket) LocalAddr() net.Addr { return m.localAddress }

// MockSocketFactory hands out one MockSocket and records ListenUDP calls.
type MockSocketFactory struct {
	Socket *MockSocket
	Err    error
	Calls  []*net.UDPAddr
}

func (f *MockSocketFactory) ListenUDP(network string, laddr *net.UDPAddr) (Socket, error) {
	f.Calls = append(f.Calls, laddr)
	if f.Err != nil {
		return nil, f.Err
	}
	f.Socket.mu.Lock()
	f.Socket.closed = false
	f.Socket.mu.Unlock()
	return f.Socket, nil
}

// timeoutError implements net.Error for timeout simulation.
type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }
