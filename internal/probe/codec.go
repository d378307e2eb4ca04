package probe

import (
	"FlowSentry/internal/model"
	"fmt"
	"net"
	"time"

	"google.golang.org/protobuf/encoding/protowire"
)

// Wire field numbers of an encoded datagram.
const (
	fieldTimestamp    protowire.Number = 1
	fieldSrcIP        protowire.Number = 2
	fieldDstIP        protowire.Number = 3
	fieldSrcPort      protowire.Number = 4
	fieldDstPort      protowire.Number = 5
	fieldPayloadBytes protowire.Number = 6
	fieldSeq          protowire.Number = 7
	fieldAck          protowire.Number = 8
	fieldFlags        protowire.Number = 9
	fieldDataOffset   protowire.Number = 10
)

// Marshal encodes d in protobuf wire format.
func Marshal(d *model.Datagram) []byte {
	b := make([]byte, 0, 64)
	b = appendVarint(b, fieldTimestamp, uint64(d.Timestamp.UnixNano()))
	b = protowire.AppendTag(b, fieldSrcIP, protowire.BytesType)
	b = protowire.AppendBytes(b, ipBytes(d.SrcIP))
	b = protowire.AppendTag(b, fieldDstIP, protowire.BytesType)
	b = protowire.AppendBytes(b, ipBytes(d.DstIP))
	b = appendVarint(b, fieldSrcPort, uint64(d.SrcPort))
	b = appendVarint(b, fieldDstPort, uint64(d.DstPort))
	b = appendVarint(b, fieldPayloadBytes, uint64(d.PayloadBytes))
	b = appendVarint(b, fieldSeq, uint64(d.Seq))
	b = appendVarint(b, fieldAck, uint64(d.Ack))
	b = appendVarint(b, fieldFlags, uint64(d.Flags))
	b = appendVarint(b, fieldDataOffset, uint64(d.DataOffset))
	return b
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func ipBytes(ip net.IP) []byte {
	if ip4 := ip.To4(); ip4 != nil {
		return ip4
	}
	return ip
}

// Unmarshal decodes a datagram produced by Marshal. Unknown fields are skipped.
func Unmarshal(b []byte) (*model.Datagram, error) {
	d := &model.Datagram{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("invalid tag: %w", protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case typ == protowire.BytesType && (num == fieldSrcIP || num == fieldDstIP):
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, fmt.Errorf("field %d: %w", num, protowire.ParseError(n))
			}
			ip := make(net.IP, len(v))
			copy(ip, v)
			if num == fieldSrcIP {
				d.SrcIP = ip
			} else {
				d.DstIP = ip
			}
			b = b[n:]
		case typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, fmt.Errorf("field %d: %w", num, protowire.ParseError(n))
			}
			setVarint(d, num, v)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, fmt.Errorf("field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	if d.SrcIP == nil || d.DstIP == nil {
		return nil, fmt.Errorf("datagram without addresses")
	}
	return d, nil
}

func setVarint(d *model.Datagram, num protowire.Number, v uint64) {
	switch num {
	case fieldTimestamp:
		d.Timestamp = time.Unix(0, int64(v))
	case fieldSrcPort:
		d.SrcPort = uint16(v)
	case fieldDstPort:
		d.DstPort = uint16(v)
	case fieldPayloadBytes:
		d.PayloadBytes = uint32(v)
	case fieldSeq:
		d.Seq = uint32(v)
	case fieldAck:
		d.Ack = uint32(v)
	case fieldFlags:
		d.Flags = model.TCPFlags(v)
	case fieldDataOffset:
		d.DataOffset = uint8(v)
	}
}
