package publisher

import (
	"context"
	"fmt"
	"time"

	"task-service/internal/domain"

	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"
)

// NATSForwarder publishes change events to NATS subjects derived from the
// entity and action, so consumers can subscribe to e.g. "tasks.changes.task.>".
type NATSForwarder struct {
	conn   *nats.Conn
	prefix string
}

func NewNATSForwarder(url, prefix string) (*NATSForwarder, error) {
	nc, err := nats.Connect(url,
		nats.Name(serviceName),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}

	log.WithFields(log.Fields{
		"url":    nc.ConnectedUrlRedacted(),
		"prefix": prefix,
	}).Info("Change event NATS connection established")

	return &NATSForwarder{conn: nc, prefix: prefix}, nil
}

// Handle publishes the event and flushes so that a broken connection shows up
// as an error the queue can retry.
func (f *NATSForwarder) Handle(ctx context.Context, event domain.ChangeEvent) error {
	payload, err := encode(event)
	if err != nil {
		return err
	}
	if err := f.conn.Publish(subject(f.prefix, event), payload); err != nil {
		return fmt.Errorf("publishing to NATS: %w", err)
	}
	if err := f.conn.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("flushing NATS connection: %w", err)
	}
	return nil
}

func (f *NATSForwarder) Close() error {
	return f.conn.Drain()
}
