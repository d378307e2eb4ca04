package protocol

import (
	"FlowSentry/internal/model"
	"errors"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

var (
	// ErrNotIPv4 is returned for frames without an IPv4 layer.
	ErrNotIPv4 = errors.New("not an IPv4 packet")
	// ErrNotTCP is returned for IPv4 frames that do not carry TCP.
	ErrNotTCP = errors.New("not a TCP packet")
)

// ParsePacket decodes a raw Ethernet frame and extracts its TCP/IPv4 metadata.
func ParsePacket(data []byte) (*model.Datagram, error) {
	return ParseDatagram(gopacket.NewPacket(data, layers.LayerTypeEthernet, gopacket.Default))
}

// ParseDatagram extracts the TCP/IPv4 metadata of an already decoded packet.
func ParseDatagram(packet gopacket.Packet) (*model.Datagram, error) {
	d := &model.Datagram{Timestamp: time.Now()}
	if meta := packet.Metadata(); meta != nil && !meta.Timestamp.IsZero() {
		d.Timestamp = meta.Timestamp
	}

	l := packet.Layer(layers.LayerTypeIPv4)
	if l == nil {
		return nil, ErrNotIPv4
	}
	ip := l.(*layers.IPv4)
	d.SrcIP = ip.SrcIP
	d.DstIP = ip.DstIP

	l = packet.Layer(layers.LayerTypeTCP)
	if l == nil {
		return nil, ErrNotTCP
	}
	tcp := l.(*layers.TCP)
	d.SrcPort = uint16(tcp.SrcPort)
	d.DstPort = uint16(tcp.DstPort)
	d.Seq = tcp.Seq
	d.Ack = tcp.Ack
	d.DataOffset = tcp.DataOffset
	d.Flags = flagsOf(tcp)
	d.PayloadBytes = uint32(len(tcp.Payload))

	return d, nil
}

func flagsOf(tcp *layers.TCP) model.TCPFlags {
	var f model.TCPFlags
	set := func(on bool, flag model.TCPFlags) {
		if on {
			f |= flag
		}
	}
	set(tcp.FIN, model.FlagFIN)
	set(tcp.SYN, model.FlagSYN)
	set(tcp.RST, model.FlagRST)
	set(tcp.PSH, model.FlagPSH)
	set(tcp.ACK, model.FlagACK)
	set(tcp.URG, model.FlagURG)
	set(tcp.ECE, model.FlagECE)
	set(tcp.CWR, model.FlagCWR)
	set(tcp.NS, model.FlagNS)
	return f
}
