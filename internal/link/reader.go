package link

import (
	"fmt"
	"sync"
	"time"

	"github.com/estutasa/JackTheGripper/internal/monitoring"
)

// Source is anything the Reader can poll. Read must return within a bounded
// time (a read timeout) so that Stop is honoured promptly.
type Source interface {
	IsOpen() bool
	Read() ReadResult
}

// Callback receives one datagram or frame. All callbacks share the slice and
// must not modify it.
//
// Callbacks run on the read loop, so a callback must not call Stop on its
// own reader or Close on the link that owns it: Stop waits for the loop to
// exit and would never return. Hand the stop to another goroutine instead.
type Callback func(payload []byte)

// retryBackoff paces the loop while the source is closed or failing.
const retryBackoff = 50 * time.Millisecond

// Reader polls a Source on its own goroutine and hands every received
// payload to the registered callbacks, synchronously and in registration
// order. Non-data results never reach callbacks.
type Reader struct {
	src       Source
	name      string
	callbacks Registry[Callback]

	mu      sync.Mutex // guards stop, done
	stop    chan struct{}
	done    chan struct{}
	running bool
}

// NewReader returns a stopped reader for src.
func NewReader(src Source) *Reader {
	return &Reader{src: src, name: "reader"}
}

// AddCallback registers cb and returns its id. It is safe to call while the
// reader is running.
func (r *Reader) AddCallback(cb Callback) CallbackID {
	return r.callbacks.Add(cb)
}

// RemoveCallback unregisters id and reports whether it was registered.
func (r *Reader) RemoveCallback(id CallbackID) bool {
	return r.callbacks.Remove(id)
}

// NumCallbacks returns the number of registered callbacks.
func (r *Reader) NumCallbacks() int {
	return r.callbacks.Len()
}

// Running reports whether the read loop is active.
func (r *Reader) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Start launches the read loop.
func (r *Reader) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return fmt.Errorf("%s: %w", r.name, ErrReaderStarted)
	}
	if r.src == nil || !r.src.IsOpen() {
		return fmt.Errorf("%s: %w", r.name, ErrLinkNotOpen)
	}
	r.stop = make(chan struct{})
	r.done = make(chan struct{})
	r.running = true
	go r.run(r.stop, r.done)
	monitoring.Debugf("%s: reader started", r.name)
	return nil
}

// Stop signals the read loop and waits for it to exit. The wait is bounded
// by the source's read timeout.
func (r *Reader) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return fmt.Errorf("%s: %w", r.name, ErrReaderStopped)
	}
	close(r.stop)
	<-r.done
	r.running = false
	monitoring.Debugf("%s: reader stopped", r.name)
	return nil
}

func (r *Reader) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case <-stop:
			return
		default:
		}

		res := r.src.Read()
		switch res.Status {
		case ReadData:
			if len(res.Data) > 0 {
				r.callbacks.Dispatch(func(cb Callback) { cb(res.Data) })
			}
		case ReadError:
			monitoring.Debugf("%s: %v", r.name, res.Err)
			if !r.pause(stop) {
				return
			}
		case ReadNotOpen:
			if !r.pause(stop) {
				return
			}
		}
	}
}

// pause waits retryBackoff and reports whether the loop should go on.
func (r *Reader) pause(stop <-chan struct{}) bool {
	select {
	case <-stop:
		return false
	case <-time.After(retryBackoff):
		return true
	}
}
