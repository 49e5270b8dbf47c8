package command

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/estutasa/JackTheGripper/internal/packet"
)

type recordingWriter struct {
	packets [][]byte
	err     error
}

func (w *recordingWriter) Write(b []byte) error {
	if w.err != nil {
		return w.err
	}
	w.packets = append(w.packets, append([]byte(nil), b...))
	return nil
}

type fakeSession struct{ connects, disconnects int }

func (s *fakeSession) Connect() error    { s.connects++; return nil }
func (s *fakeSession) Disconnect() error { s.disconnects++; return nil }

func TestPacketsAreDistinctTokens(t *testing.T) {
	seen := map[string]Command{}
	for c := Command(0); c < numCommands; c++ {
		p := c.Packet()
		require.Len(t, p, TokenSize, c.String())
		assert.Equal(t, byte(0x5C), p[0])
		assert.Equal(t, []byte("WI"), p[1:3])
		assert.Equal(t, byte(0xAA), p[TokenSize-1])
		if prev, dup := seen[string(p)]; dup {
			t.Errorf("%s and %s share a token", prev, c)
		}
		seen[string(p)] = c

		got, ok := Lookup(p)
		require.True(t, ok)
		assert.Equal(t, c, got)
	}
	assert.False(t, IsNeighListPage(NeighListGet.Packet()))
	_, ok := Lookup(NeighListPageToken())
	assert.False(t, ok, "page token must not collide with a command")
}

func TestPacketIsACopy(t *testing.T) {
	p := Lock.Packet()
	p[3] = 0
	assert.Equal(t, byte('C'), Lock.Packet()[3])

	tok := NeighListPageToken()
	tok[0] = 0
	assert.True(t, IsNeighListPage(append(NeighListPageToken(), 1, 2, 3)))
}

func TestCommandString(t *testing.T) {
	assert.Equal(t, "NEIGH_LIST_GET", NeighListGet.String())
	assert.Equal(t, "command(99)", Command(99).String())
	assert.Panics(t, func() { Command(-1).Packet() })
}

func TestColorTable(t *testing.T) {
	colors := Colors()
	require.Len(t, colors, 10)
	assert.Equal(t, "black", colors[0].Name)
	assert.Equal(t, "orange", colors[9].Name)

	rgb, ok := ColorByName("orange")
	require.True(t, ok)
	assert.Equal(t, uint32(0xFFA500), rgb)
	rgb, ok = ColorByName("grey")
	require.True(t, ok)
	assert.Equal(t, uint32(0x7F7F7F), rgb)
	_, ok = ColorByName("purple")
	assert.False(t, ok)

	colors[0].Name = "changed"
	assert.Equal(t, "black", Colors()[0].Name)
}

func TestParse(t *testing.T) {
	tests := []struct {
		line string
		want Action
	}{
		{"udr 63", Action{Kind: ActionControl, Command: UDR63Hz}},
		{"  e   on ", Action{Kind: ActionControl, Command: EventsOn}},
		{"neighs get", Action{Kind: ActionControl, Command: NeighListGet}},
		{"ls colors", Action{Kind: ActionListColors}},
		{"connect", Action{Kind: ActionConnect}},
		{"red", Action{Kind: ActionLED, Color: 0xFF0000}},
		{"blue 1 x 0 16383 16384 7", Action{Kind: ActionLED, Color: 0x0000FF, Nodes: []packet.NodeID{1, 16383, 7}}},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			got, err := Parse(tt.line)
			require.NoError(t, err)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Parse(%q) mismatch (-want +got):\n%s", tt.line, diff)
			}
		})
	}
}

func TestParseRejects(t *testing.T) {
	for _, line := range []string{"", "udr 5", "purple", "red 0 -1 abc", "cf"} {
		_, err := Parse(line)
		assert.ErrorIs(t, err, ErrUnknownCommand, line)
	}
}

func TestDispatcherControl(t *testing.T) {
	ctrl, data := &recordingWriter{}, &recordingWriter{}
	d := NewDispatcher(ctrl, data, nil)

	out, err := d.Handle("store offsets")
	require.NoError(t, err)
	assert.Empty(t, out)
	require.Len(t, ctrl.packets, 1)
	assert.Equal(t, OffsetsStore.Packet(), ctrl.packets[0])
	assert.Empty(t, data.packets)

	require.NoError(t, d.Send(Stop))
	assert.Equal(t, Stop.Packet(), ctrl.packets[1])
}

func TestDispatcherLED(t *testing.T) {
	ctrl, data := &recordingWriter{}, &recordingWriter{}
	d := NewDispatcher(ctrl, data, nil)

	_, err := d.Handle("green")
	require.NoError(t, err)
	require.Len(t, data.packets, 1)
	assert.Equal(t, packet.LEDRGB(0, 255, 0, packet.NodeIDAll), data.packets[0])

	_, err = d.Handle("orange 3 5")
	require.NoError(t, err)
	require.Len(t, data.packets, 3)
	assert.Equal(t, packet.LEDRGB(255, 165, 0, 3), data.packets[1])
	assert.Equal(t, packet.LEDRGB(255, 165, 0, 5), data.packets[2])
	assert.Empty(t, ctrl.packets)

	data.err = errors.New("link down")
	assert.ErrorIs(t, d.SetColor(0, 1), data.err)
}

func TestDispatcherListings(t *testing.T) {
	d := NewDispatcher(&recordingWriter{}, &recordingWriter{}, nil)
	out, err := d.Handle("ls colors")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "1: black\n2: red\n"))
	assert.True(t, strings.HasSuffix(out, "10: orange\n"))

	out, err = d.Handle("ls udr")
	require.NoError(t, err)
	assert.Equal(t, "udr 0\nudr 63\n", out)

	out, err = d.Handle("help")
	require.NoError(t, err)
	assert.Contains(t, out, "neighs get                    Request neighbor list from interface.\n")
}

func TestDispatcherSession(t *testing.T) {
	d := NewDispatcher(&recordingWriter{}, &recordingWriter{}, nil)
	_, err := d.Handle("connect")
	assert.ErrorIs(t, err, ErrNoSession)

	s := &fakeSession{}
	d = NewDispatcher(&recordingWriter{}, &recordingWriter{}, s)
	_, err = d.Handle("connect")
	require.NoError(t, err)
	_, err = d.Handle("disconnect")
	require.NoError(t, err)
	assert.Equal(t, 1, s.connects)
	assert.Equal(t, 1, s.disconnects)
}
