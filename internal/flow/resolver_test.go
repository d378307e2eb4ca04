package flow

import (
	"FlowSentry/internal/model"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var local = net.ParseIP("10.0.0.5")

func datagram(src string, srcPort uint16, dst string, dstPort uint16) *model.Datagram {
	return &model.Datagram{
		SrcIP:   net.ParseIP(src),
		SrcPort: srcPort,
		DstIP:   net.ParseIP(dst),
		DstPort: dstPort,
	}
}

func TestResolve_Outbound(t *testing.T) {
	id, err := Resolve(datagram("10.0.0.5", 51000, "93.184.216.34", 80), local)
	require.NoError(t, err)

	assert.Equal(t, "93.184.216.34:80<->10.0.0.5:51000", id.Key)
	assert.Equal(t, model.Endpoint{IP: "93.184.216.34", Port: 80}, id.A)
	assert.Equal(t, model.Endpoint{IP: "10.0.0.5", Port: 51000}, id.Z)
	assert.Equal(t, model.ZToA, id.Direction)
}

func TestResolve_Inbound(t *testing.T) {
	id, err := Resolve(datagram("93.184.216.34", 80, "10.0.0.5", 51000), local)
	require.NoError(t, err)

	assert.Equal(t, "93.184.216.34:80<->10.0.0.5:51000", id.Key)
	assert.Equal(t, model.AToZ, id.Direction)
}

func TestResolve_Symmetry(t *testing.T) {
	cases := []struct {
		peer     string
		peerPort uint16
		port     uint16
	}{
		{"93.184.216.34", 443, 40000},
		{"192.168.1.1", 22, 61022},
		{"8.8.8.8", 53, 1024},
		{"10.0.0.6", 8080, 8080},
	}

	for _, tc := range cases {
		t.Run(tc.peer, func(t *testing.T) {
			out, err := Resolve(datagram("10.0.0.5", tc.port, tc.peer, tc.peerPort), local)
			require.NoError(t, err)
			in, err := Resolve(datagram(tc.peer, tc.peerPort, "10.0.0.5", tc.port), local)
			require.NoError(t, err)

			assert.Equal(t, out.Key, in.Key)
			assert.Equal(t, out.A, in.A)
			assert.Equal(t, out.Z, in.Z)
			assert.NotEqual(t, out.Direction, in.Direction)
		})
	}
}

func TestResolve_Unidentifiable(t *testing.T) {
	_, err := Resolve(datagram("1.1.1.1", 1234, "2.2.2.2", 80), local)
	assert.ErrorIs(t, err, ErrUnidentifiableFlow)
}

func TestResolve_IPv4MappedLocal(t *testing.T) {
	// net.ParseIP returns 16-byte forms; decoded packets carry 4-byte forms.
	d := datagram("10.0.0.5", 51000, "93.184.216.34", 80)
	d.SrcIP = d.SrcIP.To4()

	id, err := Resolve(d, local)
	require.NoError(t, err)
	assert.Equal(t, "93.184.216.34:80<->10.0.0.5:51000", id.Key)
}

func TestResolve_SelfConnection(t *testing.T) {
	out, err := Resolve(datagram("10.0.0.5", 40000, "10.0.0.5", 8080), local)
	require.NoError(t, err)
	back, err := Resolve(datagram("10.0.0.5", 8080, "10.0.0.5", 40000), local)
	require.NoError(t, err)

	assert.Equal(t, "10.0.0.5:8080<->10.0.0.5:40000", out.Key)
	assert.Equal(t, out.Key, back.Key)
	assert.Equal(t, model.ZToA, out.Direction)
	assert.Equal(t, model.AToZ, back.Direction)
}
