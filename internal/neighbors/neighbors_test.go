package neighbors

import (
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/estutasa/JackTheGripper/internal/command"
	"github.com/estutasa/JackTheGripper/internal/link"
	"github.com/estutasa/JackTheGripper/internal/monitoring"
	"github.com/estutasa/JackTheGripper/internal/packet"
)

func captureErrors(t *testing.T) *[]string {
	t.Helper()
	original := monitoring.Logf
	t.Cleanup(func() { monitoring.Logf = original })
	var lines []string
	monitoring.SetLogger(func(format string, v ...interface{}) {
		if msg := fmt.Sprintf(format, v...); strings.HasPrefix(msg, "ERROR") {
			lines = append(lines, msg)
		}
	})
	return &lines
}

func rec(id packet.NodeID, n ...packet.NodeID) Record {
	r := Record{NodeID: id}
	copy(r.Neighbors[:], n)
	return r
}

type collector struct {
	lists [][]Record
}

func (c *collector) add(l []Record) { c.lists = append(c.lists, l) }

func TestPageRoundTrip(t *testing.T) {
	recs := []Record{rec(5, 1, 2, 0, 0), rec(300, 5, 0, 0, 16383)}
	b := EncodePage(2, 4, recs)
	assert.Len(t, b, headerSize+2*recordSize)
	assert.True(t, command.IsNeighListPage(b))
	// Little endian node ids.
	assert.Equal(t, []byte{0x05, 0x00}, b[11:13])
	assert.Equal(t, []byte{0x2C, 0x01}, b[21:23])

	p, err := ParsePage(b)
	require.NoError(t, err)
	assert.Equal(t, uint8(2), p.Index)
	assert.Equal(t, uint8(4), p.Count)
	if diff := cmp.Diff(recs, p.Records); diff != "" {
		t.Errorf("records mismatch (-want +got):\n%s", diff)
	}
}

func TestParsePageErrors(t *testing.T) {
	_, err := ParsePage(command.Lock.Packet())
	assert.ErrorIs(t, err, ErrNotPage)

	_, err = ParsePage(command.NeighListPageToken())
	assert.ErrorIs(t, err, ErrShortPage)

	b := EncodePage(1, 3, []Record{rec(1), rec(2)})
	p, err := ParsePage(b[:len(b)-1])
	assert.ErrorIs(t, err, ErrShortPage)
	assert.Equal(t, uint8(1), p.Index)
}

func TestEncodeList(t *testing.T) {
	recs := []Record{rec(1), rec(2), rec(3), rec(4), rec(5)}
	pages := EncodeList(recs, 2)
	require.Len(t, pages, 3)
	for i, pg := range pages {
		p, err := ParsePage(pg)
		require.NoError(t, err)
		assert.Equal(t, uint8(i), p.Index)
		assert.Equal(t, uint8(3), p.Count)
	}
	assert.Len(t, EncodeList(nil, 4), 1)
}

func TestReassembleInOrder(t *testing.T) {
	r := NewReassembler()
	var c collector
	r.AddListener(c.add)

	r.HandlePacket(EncodePage(0, 3, []Record{rec(9, 3), rec(4, 9)}))
	assert.Equal(t, Accumulating, r.State())
	r.HandlePacket(command.Start.Packet()) // unrelated control traffic
	r.HandlePacket(EncodePage(1, 0, []Record{rec(7)}))
	assert.Empty(t, c.lists)
	r.HandlePacket(EncodePage(2, 0, []Record{rec(1, 4)}))

	require.Len(t, c.lists, 1)
	want := []Record{rec(1, 4), rec(4, 9), rec(7), rec(9, 3)}
	if diff := cmp.Diff(want, c.lists[0]); diff != "" {
		t.Errorf("list mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, Idle, r.State())
	assert.Equal(t, want, r.Last())
}

func TestReassembleSkippedPage(t *testing.T) {
	errs := captureErrors(t)
	r := NewReassembler()
	var c collector
	r.AddListener(c.add)

	r.HandlePacket(EncodePage(0, 3, []Record{rec(1)}))
	r.HandlePacket(EncodePage(2, 0, []Record{rec(3)}))
	assert.Equal(t, Invalid, r.State())
	require.Len(t, *errs, 1)
	assert.Contains(t, (*errs)[0], "expected page 1 but got 2")

	// Everything is dropped until the next page 0.
	r.HandlePacket(EncodePage(1, 0, []Record{rec(2)}))
	r.HandlePacket(EncodePage(2, 0, []Record{rec(3)}))
	assert.Empty(t, c.lists)
	assert.Equal(t, Invalid, r.State())
	assert.Len(t, *errs, 1)
	assert.Nil(t, r.Last())

	// A fresh cycle recovers.
	r.HandlePacket(EncodePage(0, 1, []Record{rec(8), rec(2)}))
	require.Len(t, c.lists, 1)
	assert.Equal(t, []Record{rec(2), rec(8)}, c.lists[0])
}

func TestReassembleRestartMidCycle(t *testing.T) {
	r := NewReassembler()
	var c collector
	r.AddListener(c.add)

	r.HandlePacket(EncodePage(0, 2, []Record{rec(1)}))
	r.HandlePacket(EncodePage(0, 2, []Record{rec(5)}))
	r.HandlePacket(EncodePage(1, 2, []Record{rec(6)}))
	require.Len(t, c.lists, 1)
	assert.Equal(t, []Record{rec(5), rec(6)}, c.lists[0])
}

func TestReassembleIdleDropsPages(t *testing.T) {
	errs := captureErrors(t)
	r := NewReassembler()
	var c collector
	r.AddListener(c.add)

	r.HandlePacket(EncodePage(1, 2, []Record{rec(1)}))
	assert.Equal(t, Idle, r.State())
	assert.Empty(t, c.lists)
	assert.Empty(t, *errs)

	// Completing a list returns to Idle; late pages are ignored.
	r.HandlePacket(EncodePage(0, 1, []Record{rec(1)}))
	r.HandlePacket(EncodePage(1, 1, []Record{rec(2)}))
	assert.Len(t, c.lists, 1)
	assert.Equal(t, Idle, r.State())
}

func TestReassembleTruncatedPage(t *testing.T) {
	errs := captureErrors(t)
	r := NewReassembler()
	var c collector
	r.AddListener(c.add)

	r.HandlePacket(EncodePage(0, 2, []Record{rec(1)}))
	p1 := EncodePage(1, 2, []Record{rec(2), rec(3)})
	r.HandlePacket(p1[:len(p1)-4])
	assert.Equal(t, Invalid, r.State())
	assert.Len(t, *errs, 1)
	assert.Empty(t, c.lists)

	r.HandlePacket(command.NeighListPageToken())
	assert.Equal(t, Invalid, r.State())
}

func TestReassembleZeroPageCount(t *testing.T) {
	captureErrors(t)
	r := NewReassembler()
	var c collector
	r.AddListener(c.add)
	r.HandlePacket(EncodePage(0, 0, nil))
	assert.Equal(t, Invalid, r.State())
	assert.Empty(t, c.lists)
}

func TestReassembleEveryListenerOnce(t *testing.T) {
	r := NewReassembler()
	var a, b collector
	r.AddListener(a.add)
	id := r.AddListener(b.add)
	for _, p := range EncodeList([]Record{rec(3), rec(2), rec(1)}, 1) {
		r.HandlePacket(p)
	}
	assert.Len(t, a.lists, 1)
	assert.Len(t, b.lists, 1)

	assert.True(t, r.RemoveListener(id))
	for _, p := range EncodeList([]Record{rec(4)}, 1) {
		r.HandlePacket(p)
	}
	assert.Len(t, a.lists, 2)
	assert.Len(t, b.lists, 1)
}

func TestReassembleListenerReadsLast(t *testing.T) {
	r := NewReassembler()
	seen := make(chan []Record, 1)
	r.AddListener(func([]Record) {
		seen <- r.Last()
		_ = r.State()
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, p := range EncodeList([]Record{rec(3, 4)}, 1) {
			r.HandlePacket(p)
		}
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("HandlePacket blocked while a listener read the last list")
	}
	assert.Equal(t, []Record{rec(3, 4)}, <-seen)
	assert.Equal(t, Idle, r.State())
}

func TestReassembleEmptyList(t *testing.T) {
	r := NewReassembler()
	var c collector
	r.AddListener(c.add)
	r.HandlePacket(EncodePage(0, 1, nil))
	require.Len(t, c.lists, 1)
	assert.Empty(t, c.lists[0])
}

func TestManager(t *testing.T) {
	sock := link.NewMockSocket()
	cfg := link.ControlConfig()
	cfg.Factory = &link.MockSocketFactory{Socket: sock}
	cfg.ReadTimeout = 20 * time.Millisecond
	ctrl := link.NewUDPLink(cfg)
	require.NoError(t, ctrl.Open())
	defer ctrl.Close()

	m := NewManager(ctrl)
	var mu sync.Mutex
	var got []Record
	m.AddListener(func(l []Record) {
		mu.Lock()
		got = l
		mu.Unlock()
	})
	require.NoError(t, ctrl.Reader().Start())

	require.NoError(t, m.Request())
	written := sock.Written()
	require.Len(t, written, 1)
	assert.Equal(t, command.NeighListGet.Packet(), written[0].Data)

	wi := &net.UDPAddr{IP: net.IPv4(192, 168, 4, 1), Port: 17000}
	for _, p := range EncodeList([]Record{rec(20, 10), rec(10, 20)}, 1) {
		sock.Push(p, wi)
	}
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []packet.NodeID{10, 20}, m.NodeIDs())

	m.Detach()
	assert.Zero(t, ctrl.Reader().NumCallbacks())
}
