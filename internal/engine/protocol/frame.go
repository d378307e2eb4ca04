package protocol

import (
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// Segment describes a TCP/IPv4 segment to serialize into an Ethernet frame.
type Segment struct {
	SrcIP, DstIP     net.IP
	SrcPort, DstPort uint16
	Seq, Ack         uint32
	SYN, ACK         bool
	FIN, RST, PSH    bool
	Payload          []byte
}

var (
	frameSrcMAC = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}
	frameDstMAC = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x02}
)

// BuildFrame serializes s with computed lengths and checksums.
func BuildFrame(s Segment) ([]byte, error) {
	eth := &layers.Ethernet{
		SrcMAC:       frameSrcMAC,
		DstMAC:       frameDstMAC,
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolTCP,
		SrcIP:    s.SrcIP.To4(),
		DstIP:    s.DstIP.To4(),
	}
	tcp := &layers.TCP{
		SrcPort: layers.TCPPort(s.SrcPort),
		DstPort: layers.TCPPort(s.DstPort),
		Seq:     s.Seq,
		Ack:     s.Ack,
		SYN:     s.SYN,
		ACK:     s.ACK,
		FIN:     s.FIN,
		RST:     s.RST,
		PSH:     s.PSH,
		Window:  64240,
	}
	if err := tcp.SetNetworkLayerForChecksum(ip); err != nil {
		return nil, err
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, ip, tcp, gopacket.Payload(s.Payload)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
