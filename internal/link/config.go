package link

import (
	"fmt"
	"net"
	"time"

	"github.com/estutasa/JackTheGripper/internal/packet"
)

const (
	DefaultReadTimeout = 200 * time.Millisecond
	DefaultWriteDelay  = 10 * time.Millisecond

	maxDatagram = 65535
)

// Config describes one UDP channel to the wireless interface box.
type Config struct {
	Name        string
	Local       string // bind address, host:port
	Remote      string // expected peer, host:port
	ReadTimeout time.Duration
	WriteDelay  time.Duration // sleep after every write
	Probe       []byte        // sent once right after binding, if set
	FrameSize   int           // split datagrams into frames of this size; 0 keeps whole datagrams
	ReadBuffer  int           // SO_RCVBUF, 0 keeps the OS default

	// Factory binds the socket. Nil means NetSocketFactory.
	Factory SocketFactory
	// Sleep implements WriteDelay. Nil means time.Sleep.
	Sleep func(time.Duration)
}

// ControlConfig returns the default control channel configuration.
func ControlConfig() Config {
	return Config{
		Name:        "ctrl",
		Local:       "0.0.0.0:17001",
		Remote:      "192.168.4.1:17000",
		ReadTimeout: DefaultReadTimeout,
	}
}

// DataConfig returns the default data channel configuration.
func DataConfig() Config {
	return Config{
		Name:        "data",
		Local:       "0.0.0.0:17011",
		Remote:      "192.168.4.1:17010",
		ReadTimeout: DefaultReadTimeout,
		WriteDelay:  DefaultWriteDelay,
		Probe:       packet.DummyFrame(),
		FrameSize:   packet.FrameSize,
	}
}

// Validate checks the configuration and resolves both endpoints.
func (c Config) Validate() error {
	if _, err := net.ResolveUDPAddr("udp", c.Local); err != nil {
		return fmt.Errorf("%s link: invalid local address %q: %w", c.Name, c.Local, err)
	}
	if _, err := net.ResolveUDPAddr("udp", c.Remote); err != nil {
		return fmt.Errorf("%s link: invalid remote address %q: %w", c.Name, c.Remote, err)
	}
	if c.ReadTimeout <= 0 {
		return fmt.Errorf("%s link: read timeout must be positive, got %v", c.Name, c.ReadTimeout)
	}
	if c.WriteDelay < 0 {
		return fmt.Errorf("%s link: write delay must not be negative, got %v", c.Name, c.WriteDelay)
	}
	if c.FrameSize < 0 || c.FrameSize > maxDatagram {
		return fmt.Errorf("%s link: frame size %d out of range", c.Name, c.FrameSize)
	}
	return nil
}
