// Package link implements the duplex UDP transport to the wireless interface
// box and the background reader that turns received datagrams into listener
// callbacks.
package link

import (
	"errors"
	"fmt"
	"net"
)

var (
	ErrAlreadyOpen   = errors.New("link already open")
	ErrAlreadyClosed = errors.New("link already closed")
	ErrNotOpen       = errors.New("link not open")
	ErrShortWrite    = errors.New("short write")

	ErrReaderStarted = errors.New("reader already started")
	ErrReaderStopped = errors.New("reader not started")
	ErrLinkNotOpen   = errors.New("reader source not open")
)

// ReadStatus tags the outcome of a single Read.
type ReadStatus int

const (
	ReadData ReadStatus = iota
	ReadTimeout
	ReadAddressMismatch
	ReadShortFrame
	ReadNotOpen
	ReadError
)

var readStatusNames = map[ReadStatus]string{
	ReadData:            "data",
	ReadTimeout:         "timeout",
	ReadAddressMismatch: "address-mismatch",
	ReadShortFrame:      "short-frame",
	ReadNotOpen:         "not-open",
	ReadError:           "error",
}

func (s ReadStatus) String() string {
	if n, ok := readStatusNames[s]; ok {
		return n
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// ReadResult is the outcome of one Read. Data is set for ReadData, From for
// ReadData and ReadAddressMismatch, Err for ReadError.
type ReadResult struct {
	Status ReadStatus
	Data   []byte
	From   *net.UDPAddr
	Err    error
}

// OK reports whether the result carries data.
func (r ReadResult) OK() bool { return r.Status == ReadData }

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
