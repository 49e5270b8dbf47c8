package link

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/estutasa/JackTheGripper/internal/monitoring"
)

// DropCounter counts frames the forwarder could not queue.
type DropCounter interface {
	AddDropped()
}

const forwardBuffer = 1000

// Forwarder mirrors frames to another UDP endpoint without blocking the
// caller. Frames that do not fit the buffer are dropped and counted.
type Forwarder struct {
	conn        *net.UDPConn
	channel     chan []byte
	drops       DropCounter
	logInterval time.Duration
	address     string
}

// NewForwarder dials addr (host:port). drops may be nil.
func NewForwarder(addr string, drops DropCounter, logInterval time.Duration) (*Forwarder, error) {
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve forward address: %w", err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, fmt.Errorf("failed to create forward connection: %w", err)
	}
	if drops == nil {
		drops = NewStats()
	}
	if logInterval <= 0 {
		logInterval = time.Minute
	}
	return &Forwarder{
		conn:        conn,
		channel:     make(chan []byte, forwardBuffer),
		drops:       drops,
		logInterval: logInterval,
		address:     raddr.String(),
	}, nil
}

// Start runs the send loop until ctx is cancelled. Send errors are summarized
// once per log interval.
func (f *Forwarder) Start(ctx context.Context) {
	go func() {
		failed := 0
		var lastErr error
		ticker := time.NewTicker(f.logInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case frame, ok := <-f.channel:
				if !ok {
					return
				}
				if _, err := f.conn.Write(frame); err != nil {
					failed++
					lastErr = err
				}
			case <-ticker.C:
				if failed > 0 {
					monitoring.Logf("Dropped %d forwarded frames to %s (latest: %v)", failed, f.address, lastErr)
					failed, lastErr = 0, nil
				}
			}
		}
	}()
	monitoring.Logf("Forwarding frames to %s", f.address)
}

// ForwardAsync queues a copy of frame. It has the Callback signature so it
// can be registered on a Reader directly.
func (f *Forwarder) ForwardAsync(frame []byte) {
	c := make([]byte, len(frame))
	copy(c, frame)
	select {
	case f.channel <- c:
	default:
		f.drops.AddDropped()
	}
}

// Close stops accepting frames and closes the connection. ForwardAsync must
// not be called after Close.
func (f *Forwarder) Close() error {
	close(f.channel)
	return f.conn.Close()
}
