package pcap

import (
	"fmt"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// FileWriter writes Ethernet frames to a pcap file.
type FileWriter struct {
	file   *os.File
	writer *pcapgo.Writer
}

// CreateFile creates path and writes the pcap file header.
func CreateFile(path string) (*FileWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create pcap file: %w", err)
	}
	w := pcapgo.NewWriter(f)
	if err := w.WriteFileHeader(65536, layers.LinkTypeEthernet); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write pcap header: %w", err)
	}
	return &FileWriter{file: f, writer: w}, nil
}

// WriteFrame appends one frame captured at ts.
func (w *FileWriter) WriteFrame(ts time.Time, frame []byte) error {
	ci := gopacket.CaptureInfo{
		Timestamp:     ts,
		CaptureLength: len(frame),
		Length:        len(frame),
	}
	return w.writer.WritePacket(ci, frame)
}

func (w *FileWriter) Close() error {
	return w.file.Close()
}
