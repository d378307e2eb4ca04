package notification

import (
	"FlowSentry/internal/logger"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// Message is the JSON document published by NATSNotifier.
type Message struct {
	Subject string    `json:"subject"`
	Body    string    `json:"body"`
	Sent    time.Time `json:"sent"`
}

// NATSNotifier publishes notifications to a NATS subject.
type NATSNotifier struct {
	nc      *nats.Conn
	subject string
}

// NewNATSNotifier connects to url and publishes to subject.
func NewNATSNotifier(url, subject string) (*NATSNotifier, error) {
	nc, err := nats.Connect(url, nats.Name("flowsentry-alerts"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	logger.Info("Alert notifications will be published to NATS", "url", url, "subject", subject)
	return &NATSNotifier{nc: nc, subject: subject}, nil
}

func (n *NATSNotifier) Send(subject, body string) error {
	data, err := json.Marshal(Message{Subject: subject, Body: body, Sent: time.Now()})
	if err != nil {
		return err
	}
	if err := n.nc.Publish(n.subject, data); err != nil {
		return fmt.Errorf("failed to publish notification: %w", err)
	}
	return n.nc.Flush()
}

func (n *NATSNotifier) Close() {
	if n.nc != nil {
		n.nc.Drain()
	}
}
