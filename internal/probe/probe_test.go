package probe

import (
	"FlowSentry/internal/config"
	"FlowSentry/internal/model"
	"context"
	"net"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

func sampleDatagram() *model.Datagram {
	return &model.Datagram{
		Timestamp:    time.Unix(1700000000, 123456789),
		SrcIP:        net.ParseIP("10.0.0.5"),
		DstIP:        net.ParseIP("93.184.216.34"),
		SrcPort:      51000,
		DstPort:      80,
		PayloadBytes: 1460,
		Seq:          4294967295,
		Ack:          17,
		Flags:        model.FlagSYN | model.FlagECE | model.FlagCWR,
		DataOffset:   8,
	}
}

func TestCodec(t *testing.T) {
	in := sampleDatagram()
	out, err := Unmarshal(Marshal(in))
	require.NoError(t, err)

	assert.True(t, in.Timestamp.Equal(out.Timestamp))
	assert.True(t, in.SrcIP.Equal(out.SrcIP))
	assert.True(t, in.DstIP.Equal(out.DstIP))
	assert.Len(t, []byte(out.SrcIP), 4)
	assert.Equal(t, in.String(), out.String())
	assert.Equal(t, in.PayloadBytes, out.PayloadBytes)
	assert.Equal(t, in.Seq, out.Seq)
	assert.Equal(t, in.Ack, out.Ack)
	assert.Equal(t, in.Flags, out.Flags)
	assert.Equal(t, in.DataOffset, out.DataOffset)
}

func TestCodecSkipsUnknownFields(t *testing.T) {
	b := Marshal(sampleDatagram())
	b = protowire.AppendTag(b, 99, protowire.BytesType)
	b = protowire.AppendBytes(b, []byte("future"))

	d, err := Unmarshal(b)
	require.NoError(t, err)
	assert.Equal(t, uint16(80), d.DstPort)
}

func TestCodecRejectsGarbage(t *testing.T) {
	_, err := Unmarshal([]byte{0xff, 0xff, 0xff})
	assert.Error(t, err)

	_, err = Unmarshal(nil)
	assert.Error(t, err)
}

func runServer(t *testing.T) *server.Server {
	t.Helper()
	s, err := server.NewServer(&server.Options{Host: "127.0.0.1", Port: -1})
	require.NoError(t, err)
	go s.Start()
	if !s.ReadyForConnections(5 * time.Second) {
		t.Fatal("nats server did not start")
	}
	t.Cleanup(s.Shutdown)
	return s
}

func TestPublishSubscribe(t *testing.T) {
	s := runServer(t)
	cfg := config.ProbeConfig{NATSURL: s.ClientURL(), Subject: "test.datagrams"}

	sub, err := NewSubscriber(cfg)
	require.NoError(t, err)
	defer sub.Close()
	pub, err := NewPublisher(cfg)
	require.NoError(t, err)
	defer pub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan *model.Datagram, 16)
	done := make(chan error, 1)
	go func() { done <- sub.ReadDatagrams(ctx, out) }()

	var got *model.Datagram
	require.Eventually(t, func() bool {
		assert.NoError(t, pub.Publish(sampleDatagram()))
		assert.NoError(t, pub.Flush())
		select {
		case got = <-out:
			return true
		case <-time.After(20 * time.Millisecond):
			return false
		}
	}, 5*time.Second, 50*time.Millisecond)
	assert.Equal(t, "10.0.0.5:51000->93.184.216.34:80", got.String())

	cancel()
	assert.NoError(t, <-done)
}

func TestSubscriberConnectionClosed(t *testing.T) {
	s := runServer(t)
	sub, err := NewSubscriber(config.ProbeConfig{NATSURL: s.ClientURL(), Subject: "x"})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- sub.ReadDatagrams(context.Background(), make(chan *model.Datagram)) }()
	time.Sleep(50 * time.Millisecond)
	sub.Close()

	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("ReadDatagrams did not return after Close")
	}
}
