package model

import "context"

// DatagramSource produces decoded datagrams in capture order.
type DatagramSource interface {
	// ReadDatagrams sends datagrams to out until the source is exhausted (nil error),
	// ctx is cancelled, or the source fails. It does not close out.
	ReadDatagrams(ctx context.Context, out chan<- *Datagram) error

	// Close releases the underlying capture handle or connection.
	Close()
}
