// Package capture records link traffic to pcap files and replays recorded
// sessions through the same decoders as a live link.
package capture

import (
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/estutasa/JackTheGripper/internal/link"
	"github.com/estutasa/JackTheGripper/internal/monitoring"
)

const snapLen = 65536

var (
	wiMAC   = net.HardwareAddr{0x02, 0x57, 0x49, 0x00, 0x00, 0x01}
	hostMAC = net.HardwareAddr{0x02, 0x57, 0x49, 0x00, 0x00, 0x02}
)

// Recorder writes datagrams as synthetic Ethernet/IPv4/UDP packets to a pcap
// stream. It is safe for concurrent use.
type Recorder struct {
	mu      sync.Mutex
	w       *pcapgo.Writer
	closer  io.Closer
	now     func() time.Time
	packets int
	ipID    uint16
}

// NewRecorder writes the pcap file header to w.
func NewRecorder(w io.Writer) (*Recorder, error) {
	pw := pcapgo.NewWriter(w)
	if err := pw.WriteFileHeader(snapLen, layers.LinkTypeEthernet); err != nil {
		return nil, fmt.Errorf("failed to write pcap header: %w", err)
	}
	r := &Recorder{w: pw, now: time.Now}
	if c, ok := w.(io.Closer); ok {
		r.closer = c
	}
	return r, nil
}

// Create records to a new file at path.
func Create(path string) (*Recorder, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create capture file: %w", err)
	}
	r, err := NewRecorder(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	monitoring.Logf("Recording link traffic to %s", path)
	return r, nil
}

func ipv4(a *net.UDPAddr) net.IP {
	if a != nil {
		if ip := a.IP.To4(); ip != nil {
			return ip
		}
	}
	return net.IPv4zero.To4()
}

func port(a *net.UDPAddr) layers.UDPPort {
	if a == nil {
		return 0
	}
	return layers.UDPPort(a.Port)
}

// Record writes one datagram sent from src to dst.
func (r *Recorder) Record(src, dst *net.UDPAddr, payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.ipID++
	eth := &layers.Ethernet{SrcMAC: wiMAC, DstMAC: hostMAC, EthernetType: layers.EthernetTypeIPv4}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Id:       r.ipID,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    ipv4(src),
		DstIP:    ipv4(dst),
	}
	udp := &layers.UDP{SrcPort: port(src), DstPort: port(dst)}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		return fmt.Errorf("capture: %w", err)
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload(payload)); err != nil {
		return fmt.Errorf("capture: serialize: %w", err)
	}
	data := buf.Bytes()
	ci := gopacket.CaptureInfo{Timestamp: r.now(), CaptureLength: len(data), Length: len(data)}
	if err := r.w.WritePacket(ci, data); err != nil {
		return fmt.Errorf("capture: write: %w", err)
	}
	r.packets++
	return nil
}

// Tap returns a reader callback recording every payload as sent from src to
// dst.
func (r *Recorder) Tap(src, dst *net.UDPAddr) link.Callback {
	return func(payload []byte) {
		if err := r.Record(src, dst, payload); err != nil {
			monitoring.Debugf("%v", err)
		}
	}
}

// Packets returns the number of packets written.
func (r *Recorder) Packets() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.packets
}

// Close closes the underlying writer if it is an io.Closer.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closer == nil {
		return nil
	}
	err := r.closer.Close()
	r.closer = nil
	return err
}
