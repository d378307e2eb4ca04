package flow

import (
	"FlowSentry/internal/model"
	"bytes"
	"errors"
	"fmt"
	"net"
)

// ErrUnidentifiableFlow is returned when a datagram does not involve the local host.
var ErrUnidentifiableFlow = errors.New("datagram does not involve the local host")

// Key renders the canonical flow key "A_ip:A_port<->Z_ip:Z_port".
func Key(a, z model.Endpoint) string {
	return fmt.Sprintf("%s<->%s", a, z)
}

// Resolve computes the canonical identity of d relative to the local host.
// The peer is always endpoint A and the local host endpoint Z, so both directions
// of a conversation share one key.
func Resolve(d *model.Datagram, local net.IP) (model.FlowID, error) {
	src := model.Endpoint{IP: d.SrcIP.String(), Port: d.SrcPort}
	dst := model.Endpoint{IP: d.DstIP.String(), Port: d.DstPort}

	var id model.FlowID
	switch {
	case local.Equal(d.SrcIP) && local.Equal(d.DstIP):
		// Loopback conversation: both ends are local, so A is the lower endpoint.
		if endpointLess(src, dst) {
			id = model.FlowID{A: src, Z: dst, Direction: model.AToZ}
		} else {
			id = model.FlowID{A: dst, Z: src, Direction: model.ZToA}
		}
	case local.Equal(d.DstIP):
		id = model.FlowID{A: src, Z: dst, Direction: model.AToZ}
	case local.Equal(d.SrcIP):
		id = model.FlowID{A: dst, Z: src, Direction: model.ZToA}
	default:
		return model.FlowID{}, fmt.Errorf("%s: %w", d, ErrUnidentifiableFlow)
	}
	id.Key = Key(id.A, id.Z)
	return id, nil
}

func endpointLess(a, b model.Endpoint) bool {
	if c := bytes.Compare(net.ParseIP(a.IP).To16(), net.ParseIP(b.IP).To16()); c != 0 {
		return c < 0
	}
	return a.Port < b.Port
}
