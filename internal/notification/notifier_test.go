package notification

import (
	"FlowSentry/internal/config"
	"encoding/json"
	"errors"
	"net/smtp"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmailNotifier(t *testing.T) {
	n := NewEmailNotifier(config.SMTPConfig{
		Host: "smtp.example.com", Port: 587, From: "fs@example.com", To: "a@example.com, b@example.com",
	}).(*EmailNotifier)

	var gotAddr, gotFrom string
	var gotTo []string
	var gotMsg []byte
	n.send = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotTo, gotMsg = addr, from, to, msg
		return nil
	}

	require.NoError(t, n.Send("SYN alert", "<p>body</p>"))
	assert.Equal(t, "smtp.example.com:587", gotAddr)
	assert.Equal(t, "fs@example.com", gotFrom)
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, gotTo)
	assert.Contains(t, string(gotMsg), "Subject: SYN alert\r\n")
	assert.Contains(t, string(gotMsg), "\r\n\r\n<p>body</p>")

	n.send = func(string, smtp.Auth, string, []string, []byte) error { return errors.New("refused") }
	assert.ErrorContains(t, n.Send("x", "y"), "failed to send email")
}

func TestNATSNotifier(t *testing.T) {
	s, err := server.NewServer(&server.Options{Host: "127.0.0.1", Port: -1})
	require.NoError(t, err)
	go s.Start()
	require.True(t, s.ReadyForConnections(5*time.Second))
	defer s.Shutdown()

	nc, err := nats.Connect(s.ClientURL())
	require.NoError(t, err)
	defer nc.Close()
	sub, err := nc.SubscribeSync("alerts")
	require.NoError(t, err)
	require.NoError(t, nc.Flush())

	n, err := NewNATSNotifier(s.ClientURL(), "alerts")
	require.NoError(t, err)
	defer n.Close()
	require.NoError(t, n.Send("digest", "<p>3 flows</p>"))

	msg, err := sub.NextMsg(5 * time.Second)
	require.NoError(t, err)
	var m Message
	require.NoError(t, json.Unmarshal(msg.Data, &m))
	assert.Equal(t, "digest", m.Subject)
	assert.Equal(t, "<p>3 flows</p>", m.Body)
}
