package link

import "net"

// Framer splits datagrams into fixed-size frames. A trailing piece shorter
// than one frame is reported once as ReadShortFrame and dropped. A zero Size
// passes datagrams through whole.
type Framer struct {
	Size    int
	pending []byte
	from    *net.UDPAddr
}

// Pending reports whether frames of the last datagram are still buffered.
func (f *Framer) Pending() bool { return len(f.pending) > 0 }

// Reset drops any buffered bytes.
func (f *Framer) Reset() {
	f.pending, f.from = nil, nil
}

// Push buffers data and returns its first frame. data must not be reused by
// the caller.
func (f *Framer) Push(data []byte, from *net.UDPAddr) ReadResult {
	if f.Size == 0 {
		return ReadResult{Status: ReadData, Data: data, From: from}
	}
	if len(data) < f.Size {
		return ReadResult{Status: ReadShortFrame, From: from}
	}
	f.pending, f.from = data, from
	return f.Next()
}

// Next returns the next buffered frame.
func (f *Framer) Next() ReadResult {
	from := f.from
	if len(f.pending) < f.Size || f.Size == 0 {
		f.Reset()
		return ReadResult{Status: ReadShortFrame, From: from}
	}
	frame := f.pending[:f.Size:f.Size]
	f.pending = f.pending[f.Size:]
	if len(f.pending) == 0 {
		f.Reset()
	}
	return ReadResult{Status: ReadData, Data: frame, From: from}
}
