package probe

import (
	"FlowSentry/internal/config"
	"FlowSentry/internal/logger"
	"FlowSentry/internal/model"
	"context"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
)

// ErrConnectionClosed is returned by ReadDatagrams when the NATS connection is lost for good.
var ErrConnectionClosed = errors.New("nats connection closed")

// Subscriber receives datagrams published by a probe. It is a datagram source.
type Subscriber struct {
	nc      *nats.Conn
	subject string
	closed  chan struct{}
}

// NewSubscriber connects to NATS. Subscribing happens in ReadDatagrams.
func NewSubscriber(cfg config.ProbeConfig) (*Subscriber, error) {
	closed := make(chan struct{})
	nc, err := nats.Connect(cfg.NATSURL,
		nats.Name("flowsentry-engine"),
		nats.ClosedHandler(func(*nats.Conn) { close(closed) }),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATSURL, err)
	}
	logger.Info("Connected to NATS server", "url", cfg.NATSURL)
	return &Subscriber{nc: nc, subject: cfg.Subject, closed: closed}, nil
}

// ReadDatagrams subscribes to the probe subject and forwards decoded datagrams
// until ctx is cancelled or the connection closes.
func (s *Subscriber) ReadDatagrams(ctx context.Context, out chan<- *model.Datagram) error {
	msgs := make(chan *nats.Msg, 4096)
	sub, err := s.nc.ChanSubscribe(s.subject, msgs)
	if err != nil {
		return fmt.Errorf("failed to subscribe to '%s': %w", s.subject, err)
	}
	defer sub.Unsubscribe()
	logger.Info("Subscribed to probe subject", "subject", s.subject)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.closed:
			return ErrConnectionClosed
		case msg := <-msgs:
			d, err := Unmarshal(msg.Data)
			if err != nil {
				logger.Warn("Dropping undecodable probe message", "error", err)
				continue
			}
			select {
			case out <- d:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

// Ready reports whether the subscription is established on the server.
func (s *Subscriber) Ready() error {
	return s.nc.Flush()
}

// Close closes the NATS connection.
func (s *Subscriber) Close() {
	if s.nc != nil && !s.nc.IsClosed() {
		s.nc.Close()
		logger.Info("NATS connection closed")
	}
}
