// Package queue carries ingestion notices between the API and the detection
// workers over NATS JetStream. Delivery is at-least-once: consumers must
// tolerate redelivered notices.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const (
	// StreamName is the JetStream stream holding ingestion notices.
	StreamName = "HOSTWATCH"
	// Subject carries one notice per durably-written sample.
	Subject = "metrics.ingested"
	// DurableName identifies the shared worker consumer; all worker
	// replicas pulling under the same durable split the notice flow.
	DurableName = "detectors"
)

// Notice announces that a sample was written. It carries only the natural
// key; consumers read the full row from the store. A notice may arrive
// before its row is visible, or more than once.
type Notice struct {
	Host      string    `json:"host"`
	Timestamp time.Time `json:"timestamp"`
}

// Conn wraps a NATS connection with its JetStream context.
type Conn struct {
	nc     *nats.Conn
	js     nats.JetStreamContext
	logger *zap.Logger
}

// Connect dials NATS and ensures the notice stream exists.
func Connect(url string, logger *zap.Logger) (*Conn, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats %q: %w", url, err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream context: %w", err)
	}

	// Idempotent: AddStream succeeds if an identical stream already exists.
	_, err = js.AddStream(&nats.StreamConfig{
		Name:      StreamName,
		Subjects:  []string{Subject},
		Retention: nats.WorkQueuePolicy,
		Storage:   nats.FileStorage,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure stream %s: %w", StreamName, err)
	}

	return &Conn{nc: nc, js: js, logger: logger}, nil
}

// Close drains and closes the underlying connection.
func (c *Conn) Close() {
	if err := c.nc.Drain(); err != nil {
		c.logger.Warn("nats drain", zap.Error(err))
	}
}

// Publisher emits ingestion notices.
type Publisher struct {
	conn *Conn
}

// NewPublisher creates a Publisher on the given connection.
func NewPublisher(conn *Conn) *Publisher {
	return &Publisher{conn: conn}
}

// Publish emits a notice for the sample at (host, ts). Satisfies
// metrics.NoticePublisher.
func (p *Publisher) Publish(ctx context.Context, host string, ts time.Time) error {
	data, err := json.Marshal(Notice{Host: host, Timestamp: ts.UTC()})
	if err != nil {
		return fmt.Errorf("encode notice: %w", err)
	}
	if _, err := p.conn.js.Publish(Subject, data, nats.Context(ctx)); err != nil {
		return fmt.Errorf("publish notice: %w", err)
	}
	return nil
}

// Delivery is one received notice plus its acknowledgement handle.
type Delivery struct {
	Notice Notice
	ack    func() error
}

// NewDelivery wraps a notice with an ack callback. Exposed for consumers
// that drive the worker loop from sources other than JetStream.
func NewDelivery(n Notice, ack func() error) Delivery {
	return Delivery{Notice: n, ack: ack}
}

// Ack acknowledges the notice. Unacked notices are redelivered after the
// consumer's ack wait elapses.
func (d *Delivery) Ack() error {
	if d.ack == nil {
		return nil
	}
	return d.ack()
}

// Consumer pulls notices from the durable worker consumer.
type Consumer struct {
	sub    *nats.Subscription
	logger *zap.Logger
}

// NewConsumer binds a pull subscription to the shared durable consumer.
// prefetch caps unacknowledged notices in flight; ackWait bounds how long
// a crashed worker holds a notice before redelivery.
func NewConsumer(conn *Conn, prefetch int, ackWait time.Duration) (*Consumer, error) {
	sub, err := conn.js.PullSubscribe(Subject, DurableName,
		nats.AckExplicit(),
		nats.AckWait(ackWait),
		nats.MaxAckPending(prefetch),
	)
	if err != nil {
		return nil, fmt.Errorf("pull subscribe %s: %w", DurableName, err)
	}
	return &Consumer{sub: sub, logger: conn.logger}, nil
}

// Fetch retrieves up to batch notices, waiting briefly if none are ready.
// Returns an empty slice on timeout; callers loop.
func (c *Consumer) Fetch(ctx context.Context, batch int) ([]Delivery, error) {
	msgs, err := c.sub.Fetch(batch, nats.Context(ctx))
	if err != nil {
		if err == nats.ErrTimeout || err == context.DeadlineExceeded {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch notices: %w", err)
	}

	deliveries := make([]Delivery, 0, len(msgs))
	for _, msg := range msgs {
		var n Notice
		if err := json.Unmarshal(msg.Data, &n); err != nil {
			// A malformed notice can never succeed; ack it away.
			c.logger.Warn("discarding malformed notice", zap.Error(err))
			_ = msg.Ack()
			continue
		}
		deliveries = append(deliveries, Delivery{Notice: n, ack: func() error { return msg.Ack() }})
	}
	return deliveries, nil
}

// Unsubscribe detaches from the durable consumer without deleting it.
func (c *Consumer) Unsubscribe() error {
	return c.sub.Drain()
}
