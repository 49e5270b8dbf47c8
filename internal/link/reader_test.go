package link

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/estutasa/JackTheGripper/internal/packet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type frameSink struct {
	mu     sync.Mutex
	frames [][]byte
}

func (s *frameSink) add(b []byte) {
	s.mu.Lock()
	s.frames = append(s.frames, b)
	s.mu.Unlock()
}

func (s *frameSink) ids() []packet.NodeID {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []packet.NodeID
	for _, f := range s.frames {
		ids = append(ids, packet.GetNodeID(f))
	}
	return ids
}

func (s *frameSink) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

func TestReaderLifecycleErrors(t *testing.T) {
	l, _, _, _ := newMockDataLink(t)
	r := l.Reader()

	assert.ErrorIs(t, r.Start(), ErrLinkNotOpen)
	assert.ErrorIs(t, r.Stop(), ErrReaderStopped)

	require.NoError(t, l.Open())
	defer l.Close()
	require.NoError(t, r.Start())
	assert.True(t, r.Running())
	assert.ErrorIs(t, r.Start(), ErrReaderStarted)
	require.NoError(t, r.Stop())
	assert.False(t, r.Running())
	assert.ErrorIs(t, r.Stop(), ErrReaderStopped)

	// Restart after stop.
	require.NoError(t, r.Start())
	require.NoError(t, r.Stop())
}

func TestReaderNilSource(t *testing.T) {
	assert.ErrorIs(t, NewReader(nil).Start(), ErrLinkNotOpen)
}

func TestReaderDispatchInOrder(t *testing.T) {
	l, sock, _, _ := newMockDataLink(t)
	require.NoError(t, l.Open())
	defer l.Close()

	var first, second frameSink
	var order []string
	var orderMu sync.Mutex
	r := l.Reader()
	r.AddCallback(func(b []byte) {
		first.add(b)
		orderMu.Lock()
		order = append(order, "first")
		orderMu.Unlock()
	})
	r.AddCallback(func(b []byte) {
		second.add(b)
		orderMu.Lock()
		order = append(order, "second")
		orderMu.Unlock()
	})
	require.NoError(t, r.Start())

	sock.Push(append(frameWithID(1), frameWithID(2)...), wiData)
	sock.Push(frameWithID(3), wiData)

	require.Eventually(t, func() bool { return second.len() == 3 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, r.Stop())

	assert.Equal(t, []packet.NodeID{1, 2, 3}, first.ids())
	assert.Equal(t, []packet.NodeID{1, 2, 3}, second.ids())
	orderMu.Lock()
	assert.Equal(t, []string{"first", "second", "first", "second", "first", "second"}, order)
	orderMu.Unlock()
}

func TestReaderSkipsNonData(t *testing.T) {
	l, sock, _, _ := newMockDataLink(t)
	require.NoError(t, l.Open())
	defer l.Close()

	var sink frameSink
	l.Reader().AddCallback(sink.add)
	require.NoError(t, l.Reader().Start())

	sock.Push(frameWithID(1), nil)             // unknown source
	sock.Push([]byte{1, 2, 3}, wiData)         // short
	sock.FailNextRead(errors.New("transient")) // error
	sock.Push(frameWithID(9), wiData)          // good

	require.Eventually(t, func() bool { return sink.len() == 1 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, l.Reader().Stop())
	assert.Equal(t, []packet.NodeID{9}, sink.ids())
}

func TestReaderRemoveCallbackWhileRunning(t *testing.T) {
	l, sock, _, _ := newMockDataLink(t)
	require.NoError(t, l.Open())
	defer l.Close()

	var kept, removed frameSink
	r := l.Reader()
	r.AddCallback(kept.add)
	id := r.AddCallback(removed.add)
	require.NoError(t, r.Start())

	sock.Push(frameWithID(1), wiData)
	require.Eventually(t, func() bool { return removed.len() == 1 }, 2*time.Second, 5*time.Millisecond)

	assert.True(t, r.RemoveCallback(id))
	assert.Equal(t, 1, r.NumCallbacks())
	sock.Push(frameWithID(2), wiData)
	require.Eventually(t, func() bool { return kept.len() == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, removed.len())
}

func TestCloseStopsReader(t *testing.T) {
	l, _, _, _ := newMockDataLink(t)
	require.NoError(t, l.Open())
	require.NoError(t, l.Reader().Start())

	done := make(chan error, 1)
	go func() { done <- l.Close() }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return")
	}
	assert.False(t, l.Reader().Running())
}

// failingSource reports a read error on every poll.
type failingSource struct {
	reads atomic.Int32
}

func (f *failingSource) IsOpen() bool { return true }

func (f *failingSource) Read() ReadResult {
	f.reads.Add(1)
	return ReadResult{Status: ReadError, Err: errors.New("decode failed")}
}

func TestReaderBacksOffOnReadError(t *testing.T) {
	src := &failingSource{}
	r := NewReader(src)
	require.NoError(t, r.Start())
	time.Sleep(4 * retryBackoff)

	start := time.Now()
	require.NoError(t, r.Stop())
	assert.Less(t, time.Since(start), 2*retryBackoff, "Stop must interrupt the backoff")

	n := src.reads.Load()
	assert.GreaterOrEqual(t, n, int32(1))
	assert.LessOrEqual(t, n, int32(10), "persistent errors must not spin the loop")
}

func TestCallbackClosesLinkFromGoroutine(t *testing.T) {
	l, sock, _, _ := newMockDataLink(t)
	require.NoError(t, l.Open())

	closed := make(chan error, 1)
	var once sync.Once
	l.Reader().AddCallback(func([]byte) {
		once.Do(func() {
			go func() { closed <- l.Close() }()
		})
	})
	require.NoError(t, l.Reader().Start())
	sock.Push(frameWithID(1), wiData)

	select {
	case err := <-closed:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Close requested by a callback did not return")
	}
	assert.False(t, l.Reader().Running())
	assert.False(t, l.IsOpen())
}
