package pcap

import (
	"FlowSentry/internal/engine/protocol"
	"FlowSentry/internal/logger"
	"FlowSentry/internal/model"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcap"
	"github.com/google/gopacket/pcapgo"
)

// readTimeout bounds a single live read so cancellation is noticed promptly.
const readTimeout = 500 * time.Millisecond

// readDatagrams decodes frames from src and sends the TCP/IPv4 ones to out.
// It returns nil when src is exhausted or ctx is cancelled.
func readDatagrams(ctx context.Context, name string, src gopacket.PacketDataSource, link gopacket.Decoder, out chan<- *model.Datagram) error {
	opts := gopacket.DecodeOptions{Lazy: true, NoCopy: true}
	for {
		if ctx.Err() != nil {
			return nil
		}

		data, ci, err := src.ReadPacketData()
		switch {
		case err == nil:
		case errors.Is(err, pcap.NextErrorTimeoutExpired):
			continue
		case errors.Is(err, io.EOF):
			return nil
		default:
			return fmt.Errorf("capture %s: %w", name, err)
		}

		packet := gopacket.NewPacket(data, link, opts)
		packet.Metadata().CaptureInfo = ci
		d, err := protocol.ParseDatagram(packet)
		if err != nil {
			continue
		}

		select {
		case out <- d:
		case <-ctx.Done():
			return nil
		}
	}
}

// LiveSource captures from a network interface through libpcap.
type LiveSource struct {
	iface  string
	handle *pcap.Handle
}

// OpenLive opens iface for capture, applying bpf when it is not empty.
func OpenLive(iface string, snaplen int32, promisc bool, bpf string) (*LiveSource, error) {
	handle, err := pcap.OpenLive(iface, snaplen, promisc, readTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to open interface '%s': %w", iface, err)
	}
	if bpf != "" {
		if err := handle.SetBPFFilter(bpf); err != nil {
			handle.Close()
			return nil, fmt.Errorf("failed to set BPF filter '%s': %w", bpf, err)
		}
	}
	logger.Info("Capturing live traffic", "interface", iface, "snaplen", snaplen, "bpf", bpf)
	return &LiveSource{iface: iface, handle: handle}, nil
}

func (s *LiveSource) ReadDatagrams(ctx context.Context, out chan<- *model.Datagram) error {
	return readDatagrams(ctx, s.iface, s.handle, s.handle.LinkType(), out)
}

// Stats returns the libpcap receive and drop counters.
func (s *LiveSource) Stats() (*pcap.Stats, error) {
	return s.handle.Stats()
}

func (s *LiveSource) Close() {
	s.handle.Close()
}

// FileSource replays a pcap file.
type FileSource struct {
	path   string
	file   *os.File
	reader *pcapgo.Reader
}

// OpenFile opens a pcap file for replay.
func OpenFile(path string) (*FileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open pcap file: %w", err)
	}
	r, err := pcapgo.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to read pcap header of '%s': %w", path, err)
	}
	logger.Info("Replaying pcap file", "path", path, "link_type", r.LinkType().String())
	return &FileSource{path: path, file: f, reader: r}, nil
}

func (s *FileSource) ReadDatagrams(ctx context.Context, out chan<- *model.Datagram) error {
	return readDatagrams(ctx, s.path, s.reader, s.reader.LinkType(), out)
}

func (s *FileSource) Close() {
	s.file.Close()
}
