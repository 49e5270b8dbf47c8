// Package hwi bundles the control and data links to one wireless interface
// box and implements the connect and disconnect sequences.
package hwi

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/estutasa/JackTheGripper/internal/command"
	"github.com/estutasa/JackTheGripper/internal/link"
	"github.com/estutasa/JackTheGripper/internal/monitoring"
)

// DefaultDisconnectDelay separates STOP and UNLOCK on disconnect.
const DefaultDisconnectDelay = 100 * time.Millisecond

var (
	ErrAlreadyOpen   = errors.New("interface already open")
	ErrAlreadyClosed = errors.New("interface already closed")
	ErrNotOpen       = errors.New("interface not open")
)

// Config configures an Interface.
type Config struct {
	Name            string
	Ctrl            link.Config
	Data            link.Config
	DisconnectDelay time.Duration
	// Sleep implements DisconnectDelay. Nil means time.Sleep.
	Sleep func(time.Duration)
}

// DefaultConfig returns the factory endpoints of the interface box.
func DefaultConfig() Config {
	return Config{
		Name:            "Default",
		Ctrl:            link.ControlConfig(),
		Data:            link.DataConfig(),
		DisconnectDelay: DefaultDisconnectDelay,
	}
}

// Interface is the host side of one interface box.
type Interface struct {
	name  string
	ctrl  link.Link
	data  link.Link
	delay time.Duration
	sleep func(time.Duration)

	mu     sync.Mutex
	opened bool
}

// New builds UDP links from cfg.
func New(cfg Config) *Interface {
	return NewWithLinks(cfg, link.NewUDPLink(cfg.Ctrl), link.NewUDPLink(cfg.Data))
}

// NewWithLinks uses the given links instead of building them from cfg.
func NewWithLinks(cfg Config, ctrl, data link.Link) *Interface {
	i := &Interface{
		name:  cfg.Name,
		ctrl:  ctrl,
		data:  data,
		delay: cfg.DisconnectDelay,
		sleep: cfg.Sleep,
	}
	if i.sleep == nil {
		i.sleep = time.Sleep
	}
	return i
}

// Ctrl returns the control link.
func (i *Interface) Ctrl() link.Link { return i.ctrl }

// Data returns the data link.
func (i *Interface) Data() link.Link { return i.data }

// IsOpen reports whether Open succeeded and Close has not been called since.
func (i *Interface) IsOpen() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.opened
}

// Open opens the control link, then the data link.
func (i *Interface) Open() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.opened {
		monitoring.Errorf("%s: already opened", i.name)
		return ErrAlreadyOpen
	}
	if err := i.ctrl.Open(); err != nil {
		return fmt.Errorf("open %s: %w", i.name, err)
	}
	if err := i.data.Open(); err != nil {
		if cerr := i.ctrl.Close(); cerr != nil {
			monitoring.Debugf("%s: close ctrl after failed open: %v", i.name, cerr)
		}
		return fmt.Errorf("open %s: %w", i.name, err)
	}
	i.opened = true
	return nil
}

// Close closes both links, stopping their readers.
func (i *Interface) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if !i.opened {
		monitoring.Errorf("%s: already closed", i.name)
		return ErrAlreadyClosed
	}
	i.opened = false
	return errors.Join(i.ctrl.Close(), i.data.Close())
}

// StartReaders starts the readers of both links.
func (i *Interface) StartReaders() error {
	if err := i.ctrl.Reader().Start(); err != nil {
		return err
	}
	if err := i.data.Reader().Start(); err != nil {
		if serr := i.ctrl.Reader().Stop(); serr != nil {
			monitoring.Debugf("%s: roll back ctrl reader: %v", i.name, serr)
		}
		return err
	}
	return nil
}

// StopReaders stops the readers of both links. Readers that are not running
// are skipped.
func (i *Interface) StopReaders() error {
	var errs []error
	for _, l := range []link.Link{i.ctrl, i.data} {
		if err := l.Reader().Stop(); err != nil && !errors.Is(err, link.ErrReaderStopped) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Connect locks the interface box to this host and starts streaming.
func (i *Interface) Connect() error {
	if !i.IsOpen() {
		monitoring.Errorf("%s: device not opened", i.name)
		return ErrNotOpen
	}
	for _, c := range []command.Command{command.Lock, command.Start} {
		if err := i.ctrl.Write(c.Packet()); err != nil {
			return fmt.Errorf("connect: %s: %w", c, err)
		}
	}
	return nil
}

// Disconnect stops streaming, waits the disconnect delay and unlocks the
// interface box.
func (i *Interface) Disconnect() error {
	if !i.IsOpen() {
		monitoring.Errorf("%s: device not opened", i.name)
		return ErrNotOpen
	}
	if err := i.ctrl.Write(command.Stop.Packet()); err != nil {
		return fmt.Errorf("disconnect: %s: %w", command.Stop, err)
	}
	if i.delay > 0 {
		i.sleep(i.delay)
	}
	if err := i.ctrl.Write(command.Unlock.Packet()); err != nil {
		return fmt.Errorf("disconnect: %s: %w", command.Unlock, err)
	}
	return nil
}
