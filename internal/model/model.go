package model

import (
	"fmt"
	"net"
	"strings"
	"time"
)

// TCPFlags holds the raw TCP control bits of a segment.
type TCPFlags uint16

const (
	FlagFIN TCPFlags = 1 << iota
	FlagSYN
	FlagRST
	FlagPSH
	FlagACK
	FlagURG
	FlagECE
	FlagCWR
	FlagNS
)

var flagNames = []struct {
	flag TCPFlags
	name string
}{
	{FlagNS, "NS"}, {FlagCWR, "CWR"}, {FlagECE, "ECE"}, {FlagURG, "URG"},
	{FlagACK, "ACK"}, {FlagPSH, "PSH"}, {FlagRST, "RST"}, {FlagSYN, "SYN"}, {FlagFIN, "FIN"},
}

// IsSYN reports whether the segment carries SYN and nothing else.
func (f TCPFlags) IsSYN() bool {
	return f == FlagSYN
}

// Has reports whether all bits of other are set.
func (f TCPFlags) Has(other TCPFlags) bool {
	return f&other == other
}

func (f TCPFlags) String() string {
	if f == 0 {
		return "-"
	}
	var names []string
	for _, fn := range flagNames {
		if f.Has(fn.flag) {
			names = append(names, fn.name)
		}
	}
	return strings.Join(names, "|")
}

// Datagram holds the metadata extracted from a single TCP/IPv4 packet.
// It is created once per packet and never mutated afterwards.
type Datagram struct {
	Timestamp    time.Time
	SrcIP        net.IP
	DstIP        net.IP
	SrcPort      uint16
	DstPort      uint16
	PayloadBytes uint32
	Seq          uint32
	Ack          uint32
	Flags        TCPFlags
	DataOffset   uint8
}

// String renders the datagram addressing as "src:port->dst:port".
func (d *Datagram) String() string {
	return fmt.Sprintf("%s:%d->%s:%d", d.SrcIP, d.SrcPort, d.DstIP, d.DstPort)
}

// Endpoint is an (address, port) pair.
type Endpoint struct {
	IP   string `json:"ip"`
	Port uint16 `json:"port"`
}

func (e Endpoint) String() string {
	return fmt.Sprintf("%s:%d", e.IP, e.Port)
}

// Direction tells which canonical endpoint sent a datagram.
type Direction uint8

const (
	// AToZ is a datagram sent by the peer (A) to the local host (Z).
	AToZ Direction = iota + 1
	// ZToA is a datagram sent by the local host (Z) to the peer (A).
	ZToA
)

func (d Direction) String() string {
	switch d {
	case AToZ:
		return "a_to_z"
	case ZToA:
		return "z_to_a"
	default:
		return "unknown"
	}
}

// FlowID is the resolved identity of a datagram's flow.
type FlowID struct {
	Key       string
	A         Endpoint
	Z         Endpoint
	Direction Direction
}

// ConnectionState is the per-flow record kept by a FlowTable.
// It is a value type: tables hand out copies, never references to their own entries.
type ConnectionState struct {
	Key       string    `json:"flow"`
	AEndpoint Endpoint  `json:"a_endpoint"`
	ZEndpoint Endpoint  `json:"z_endpoint"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`

	AToZBytes      uint64 `json:"a_to_z_bytes"`
	ZToABytes      uint64 `json:"z_to_a_bytes"`
	AToZPackets    uint64 `json:"a_to_z_packets"`
	ZToAPackets    uint64 `json:"z_to_a_packets"`
	AToZSynCounter uint32 `json:"a_to_z_syn_counter"`
	ZToASynCounter uint32 `json:"z_to_a_syn_counter"`

	AToZLastSeq uint32 `json:"a_to_z_last_seq"`
	AToZLastAck uint32 `json:"a_to_z_last_ack"`
	ZToALastSeq uint32 `json:"z_to_a_last_seq"`
	ZToALastAck uint32 `json:"z_to_a_last_ack"`
}

// NewConnectionState creates an empty state for id, first seen at ts.
func NewConnectionState(id FlowID, ts time.Time) ConnectionState {
	return ConnectionState{
		Key:       id.Key,
		AEndpoint: id.A,
		ZEndpoint: id.Z,
		FirstSeen: ts,
		LastSeen:  ts,
	}
}

// SynCounter returns the SYN counter for the given direction.
func (c *ConnectionState) SynCounter(dir Direction) uint32 {
	if dir == AToZ {
		return c.AToZSynCounter
	}
	return c.ZToASynCounter
}

// UpdateResult describes the effect of applying one datagram to a flow.
type UpdateResult struct {
	State      ConnectionState
	Created    bool
	SynCounted bool
	SynCount   uint32
}
