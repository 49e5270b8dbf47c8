package sensor

import (
	"encoding/hex"
	"math/rand"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/estutasa/JackTheGripper/internal/link"
	"github.com/estutasa/JackTheGripper/internal/packet"
)

func TestConversions(t *testing.T) {
	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"prox zero", ConvProx(0), 0},
		{"prox max", ConvProx(0xFFFF), 65535.0 / 65536.0},
		{"force one", ConvForce(1024), 1},
		{"force max", ConvForce(0xFFF), 4095.0 / 1024.0},
		{"acc +1g", ConvAcc(256), 1},
		{"acc max", ConvAcc(0x1FF), 511.0 * 2 / 512},
		{"acc min", ConvAcc(0x200), -2},
		{"acc -1", ConvAcc(0x3FF), -2.0 / 512},
		{"temp zero", ConvTemp(0), 24},
		{"temp -1", ConvTemp(0xFF), 23.5},
		{"temp max", ConvTemp(0x7F), 87.5},
		{"temp min", ConvTemp(0x80), -40},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.got)
		})
	}
}

func TestConvertDispatch(t *testing.T) {
	assert.Equal(t, ConvProx(100), Convert(ChannelProx, 100))
	assert.Equal(t, ConvForce(100), Convert(ChannelForce2, 100))
	assert.Equal(t, ConvAcc(100), Convert(ChannelAccZ, 100))
	assert.Equal(t, ConvTemp(100), Convert(ChannelTemp, 100))
	assert.Panics(t, func() { Convert(Channel(8), 0) })
}

func TestChannelNames(t *testing.T) {
	for c := ChannelProx; c <= ChannelTemp; c++ {
		got, ok := ChannelByName(c.String())
		require.True(t, ok, c.String())
		assert.Equal(t, c, got)
		assert.Equal(t, c, EventIDFor(c).Channel())
	}
	_, ok := ChannelByName("humidity")
	assert.False(t, ok)
	assert.Equal(t, "acc_z", EventAccZ.String())
	assert.Equal(t, "event(7)", EventID(7).String())
	assert.Equal(t, EventID(1008), EventIDFor(ChannelTemp))
}

func TestDecodeSampleRawLayout(t *testing.T) {
	f := packet.NewFrame(packet.HeaderSample, 12)
	f[3], f[4] = 0x7F, 0x7F
	f[10] = 0x18
	r := DecodeSampleRaw(f)
	assert.Equal(t, uint32(0xFFFF), r.Prox)
	assert.Zero(t, r.Acc[2], "prox low bits must not bleed into acc lane 2")

	f = packet.NewFrame(packet.HeaderSample, 12)
	f[11], f[12] = 0x7F, 0x1F // force 1 all ones
	f[8], f[9] = 0x78, 0x78   // temp all ones, acc lows zero
	r = DecodeSampleRaw(f)
	assert.Equal(t, uint32(0xFFF), r.Force[0])
	assert.Zero(t, r.Force[1])
	assert.Equal(t, uint32(0xFF), r.Temp)
	assert.Equal(t, [3]uint32{}, r.Acc)
}

func TestSampleRawRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	for n := 0; n < 2000; n++ {
		r := RawSample{
			Prox:  uint32(rng.Intn(1 << 16)),
			Force: [3]uint32{uint32(rng.Intn(1 << 12)), uint32(rng.Intn(1 << 12)), uint32(rng.Intn(1 << 12))},
			Acc:   [3]uint32{uint32(rng.Intn(1 << 10)), uint32(rng.Intn(1 << 10)), uint32(rng.Intn(1 << 10))},
			Temp:  uint32(rng.Intn(1 << 8)),
		}
		f := EncodeSampleRaw(packet.NodeID(n), r)
		require.NoError(t, packet.CheckFrame(f))
		for i := 1; i < packet.TerminatorByte; i++ {
			require.Zero(t, f[i]&0x80, "byte %d", i)
		}
		if diff := cmp.Diff(r, DecodeSampleRaw(f)); diff != "" {
			t.Fatalf("raw round trip mismatch (-want +got):\n%s", diff)
		}
	}
}

func TestDecodeSampleAxisRemap(t *testing.T) {
	f := EncodeSampleRaw(42, RawSample{
		Prox:  0,
		Force: [3]uint32{1024, 2048, 0},
		Acc:   [3]uint32{256, 128, 0x3FF}, // physical lanes 0, 1, 2
		Temp:  0xFF,
	})
	want := Sample{
		NodeID: 42,
		Prox:   0,
		Force:  [3]float64{1, 2, 0},
		Acc:    [3]float64{0.5, -1, 2.0 / 512},
		Temp:   23.5,
	}
	if diff := cmp.Diff(want, DecodeSample(f)); diff != "" {
		t.Errorf("DecodeSample mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, [NumChannels]float64{0, 1, 2, 0, 0.5, -1, 2.0 / 512, 23.5}, want.Values())
}

// Captured from the original host; decoded independently of the encoders.
func TestDecodeSampleReferenceFrame(t *testing.T) {
	f, err := hex.DecodeString("ff2210411e7e73786135187c07636e0072443aaa")
	require.NoError(t, err)

	assert.Equal(t, [packet.LaneWords]uint16{64975, 50710, 42558, 1991, 47111, 10382}, packet.UnpackLaneWords(f))

	raw := RawSample{
		Prox:  33403,
		Force: [3]uint32{3975, 3182, 18},
		Acc:   [3]uint32{1009, 925, 960},
		Temp:  198,
	}
	if diff := cmp.Diff(raw, DecodeSampleRaw(f)); diff != "" {
		t.Fatalf("DecodeSampleRaw mismatch (-want +got):\n%s", diff)
	}

	want := Sample{
		NodeID: 4368,
		Prox:   33403.0 / 0x10000,
		Force:  [3]float64{3975.0 / 1024, 3182.0 / 1024, 18.0 / 1024},
		Acc:    [3]float64{-0.38671875, 0.05859375, 0.25},
		Temp:   -5.0,
	}
	if diff := cmp.Diff(want, DecodeSample(f)); diff != "" {
		t.Errorf("DecodeSample mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeBurstHeader(t *testing.T) {
	f := EncodeEventBurst(9, 5, 0x181, nil)
	b := DecodeBurstHeader(f)
	assert.Equal(t, packet.NodeID(9), b.NodeID)
	assert.Equal(t, uint8(5), b.PacketIndex)
	assert.Equal(t, uint16(0x181), b.Active)
	// Bit 8 of the bitmap is outside the eight channels.
	assert.Equal(t, []Channel{ChannelProx, ChannelTemp}, b.Channels)
	assert.Zero(t, f[3]&0x80)
	assert.Zero(t, f[4]&0x80)
}

func TestEventBurstSixActive(t *testing.T) {
	raw := [NumChannels]uint16{0xFFFF, 1024, 2048, 0, 256, 256, 0, 0}
	frames := EncodeBurstFrames(7, 0x3F, raw)
	require.Len(t, frames, 1)

	want := []Event{
		{NodeID: 7, ID: EventProx, Value: 65535.0 / 65536.0},
		{NodeID: 7, ID: EventForce1, Value: 1},
		{NodeID: 7, ID: EventForce2, Value: 2},
		{NodeID: 7, ID: EventForce3, Value: 0},
		{NodeID: 7, ID: EventAccY, Value: 1},
		{NodeID: 7, ID: EventAccX, Value: -1},
	}
	if diff := cmp.Diff(want, DecodeEventBurst(frames[0])); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}
}

func TestEventBurstEightActive(t *testing.T) {
	raw := [NumChannels]uint16{0, 1024, 0, 0, 0, 0, 0x3FF, 0xFF}
	frames := EncodeBurstFrames(300, 0xFF, raw)
	require.Len(t, frames, 2)

	first := DecodeEventBurst(frames[0])
	require.Len(t, first, MaxBurstValues)
	assert.Equal(t, EventProx, first[0].ID)
	assert.Equal(t, 1.0, first[1].Value)

	second := DecodeEventBurst(frames[1])
	want := []Event{
		{NodeID: 300, ID: EventAccZ, Value: -2.0 / 512},
		{NodeID: 300, ID: EventTemp, Value: 23.5},
	}
	if diff := cmp.Diff(want, second); diff != "" {
		t.Errorf("second frame mismatch (-want +got):\n%s", diff)
	}
}

func TestEventBurstSevenActiveSplit(t *testing.T) {
	// Prox off, everything else on: the second frame carries only temp.
	raw := [NumChannels]uint16{0, 1, 2, 3, 4, 5, 6, 0x02}
	frames := EncodeBurstFrames(1, 0xFE, raw)
	require.Len(t, frames, 2)
	assert.Len(t, DecodeEventBurst(frames[0]), 6)
	second := DecodeEventBurst(frames[1])
	require.Len(t, second, 1)
	assert.Equal(t, Event{NodeID: 1, ID: EventTemp, Value: 25}, second[0])
}

func TestEventBurstEmpty(t *testing.T) {
	assert.Empty(t, DecodeEventBurst(EncodeEventBurst(1, 0, 0, nil)))
}

func TestDataPublisher(t *testing.T) {
	p := NewDataPublisher()
	var got []Sample
	id := p.AddListener(func(s Sample) { got = append(got, s) })

	a := EncodeSampleRaw(3, RawSample{Prox: 100})
	b := EncodeSampleRaw(1, RawSample{Prox: 200})
	c := EncodeSampleRaw(3, RawSample{Prox: 300})
	for _, f := range [][]byte{a, b, c} {
		p.HandleFrame(f)
	}
	p.HandleFrame(EncodeEventBurst(3, 0, 1, []uint16{5})) // not a sample
	p.HandleFrame(a[:10])                                 // short
	p.HandleFrame(packet.DummyFrame())                    // broadcast echo

	require.Len(t, got, 3)
	assert.Equal(t, []packet.NodeID{3, 1}, p.NodeIDs())
	latest, ok := p.Latest(3)
	require.True(t, ok)
	assert.Equal(t, ConvProx(300), latest.Prox)
	_, ok = p.Latest(99)
	assert.False(t, ok)

	snap := p.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, packet.NodeID(1), snap[1].NodeID)

	assert.True(t, p.RemoveListener(id))
	p.HandleFrame(a)
	assert.Len(t, got, 3)

	p.Reset()
	assert.Empty(t, p.NodeIDs())
}

func TestEventsPublisher(t *testing.T) {
	p := NewEventsPublisher()
	var got [][]Event
	p.AddListener(func(e []Event) { got = append(got, e) })

	p.HandleFrame(EncodeSampleRaw(3, RawSample{}))
	p.HandleFrame(EncodeEventBurst(3, 0, 0, nil))
	assert.Empty(t, got)

	for _, f := range EncodeBurstFrames(3, 0xFF, [NumChannels]uint16{}) {
		p.HandleFrame(f)
	}
	require.Len(t, got, 2)
	assert.Len(t, got[0], 6)
	assert.Len(t, got[1], 2)
}

func TestPublishersOnReader(t *testing.T) {
	sock := link.NewMockSocket()
	cfg := link.DataConfig()
	cfg.Factory = &link.MockSocketFactory{Socket: sock}
	cfg.ReadTimeout = 20 * time.Millisecond
	l := link.NewUDPLink(cfg)
	require.NoError(t, l.Open())
	defer l.Close()

	data := NewDataPublisher()
	events := NewEventsPublisher()
	data.Attach(l.Reader())
	events.Attach(l.Reader())

	var mu sync.Mutex
	var nEvents int
	events.AddListener(func(e []Event) {
		mu.Lock()
		nEvents += len(e)
		mu.Unlock()
	})
	require.NoError(t, l.Reader().Start())

	wi := &net.UDPAddr{IP: net.IPv4(192, 168, 4, 1), Port: 17010}
	datagram := append(EncodeSampleRaw(5, RawSample{Temp: 2}), EncodeEventBurst(5, 0, 0x81, []uint16{1, 2})...)
	sock.Push(datagram, wi)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return nEvents == 2 && len(data.NodeIDs()) == 1
	}, 2*time.Second, 5*time.Millisecond)
	s, _ := data.Latest(5)
	assert.Equal(t, 25.0, s.Temp)
}
