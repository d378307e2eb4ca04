package flow

import (
	"FlowSentry/internal/model"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestApply_CountersPerDirection(t *testing.T) {
	id := model.FlowID{Key: "k", Direction: model.AToZ}
	state := model.NewConnectionState(id, time.Unix(100, 0))

	payloads := []uint32{10, 0, 512, 1460}
	var sum uint64
	for i, p := range payloads {
		d := &model.Datagram{
			Timestamp:    time.Unix(101+int64(i), 0),
			PayloadBytes: p,
			Seq:          uint32(1000 + i),
			Ack:          uint32(2000 + i),
			Flags:        model.FlagACK,
		}
		Apply(&state, model.AToZ, d, false)
		sum += uint64(p)
	}

	assert.Equal(t, sum, state.AToZBytes)
	assert.Equal(t, uint64(len(payloads)), state.AToZPackets)
	assert.Equal(t, uint32(1003), state.AToZLastSeq)
	assert.Equal(t, uint32(2003), state.AToZLastAck)
	assert.Equal(t, time.Unix(104, 0), state.LastSeen)
	assert.Equal(t, time.Unix(100, 0), state.FirstSeen)

	assert.Zero(t, state.ZToABytes)
	assert.Zero(t, state.ZToAPackets)
	assert.Zero(t, state.AToZSynCounter)
}

func TestApply_SynGated(t *testing.T) {
	state := model.ConnectionState{}

	counted, n := Apply(&state, model.ZToA, &model.Datagram{Flags: model.FlagSYN}, false)
	assert.True(t, counted)
	assert.Equal(t, uint32(1), n)

	counted, n = Apply(&state, model.ZToA, &model.Datagram{Flags: model.FlagSYN | model.FlagACK}, false)
	assert.False(t, counted)
	assert.Equal(t, uint32(1), n)

	counted, n = Apply(&state, model.ZToA, &model.Datagram{Flags: model.FlagACK}, false)
	assert.False(t, counted)
	assert.Equal(t, uint32(1), n)
	assert.Equal(t, uint32(1), state.ZToASynCounter)
}

func TestApply_CountAllSegments(t *testing.T) {
	state := model.ConnectionState{}
	for i := 0; i < 5; i++ {
		Apply(&state, model.AToZ, &model.Datagram{Flags: model.FlagACK | model.FlagPSH, PayloadBytes: 1}, true)
	}
	assert.Equal(t, uint32(5), state.AToZSynCounter)
	assert.Equal(t, uint64(5), state.AToZBytes)
}

func TestTCPFlags(t *testing.T) {
	assert.True(t, model.FlagSYN.IsSYN())
	assert.False(t, (model.FlagSYN | model.FlagACK).IsSYN())
	assert.Equal(t, "ACK|SYN", (model.FlagSYN | model.FlagACK).String())
	assert.Equal(t, "-", model.TCPFlags(0).String())
}
