package probe

import (
	"FlowSentry/internal/config"
	"FlowSentry/internal/logger"
	"FlowSentry/internal/model"
	"fmt"

	"github.com/nats-io/nats.go"
)

// Publisher ships datagrams to a NATS subject.
type Publisher struct {
	nc      *nats.Conn
	subject string
}

// NewPublisher creates a new NATS publisher.
func NewPublisher(cfg config.ProbeConfig) (*Publisher, error) {
	nc, err := nats.Connect(cfg.NATSURL, nats.Name("flowsentry-probe"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATSURL, err)
	}
	logger.Info("Connected to NATS server", "url", cfg.NATSURL, "subject", cfg.Subject)
	return &Publisher{nc: nc, subject: cfg.Subject}, nil
}

// Publish encodes d and publishes it to the configured subject.
func (p *Publisher) Publish(d *model.Datagram) error {
	return p.nc.Publish(p.subject, Marshal(d))
}

// Flush waits until the server has received everything published so far.
func (p *Publisher) Flush() error {
	return p.nc.Flush()
}

// Close drains and closes the NATS connection.
func (p *Publisher) Close() {
	if p.nc != nil {
		p.nc.Drain()
		logger.Info("NATS connection drained and closed")
	}
}
