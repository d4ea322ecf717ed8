// Package bus wraps the NATS JetStream connection shared by all three
// processes. The bus is advisory for enqueue/finish events and a durable
// work queue for dispatch notifications; delivery is at-least-once, so
// consumers rely on the store's conditional updates for idempotency, not on
// message dedup.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"k8s.io/klog/v2"
)

// Publisher is the producer-side surface; admission, the scheduler and the
// runner all publish through it.
type Publisher interface {
	Publish(ctx context.Context, subject string, event any) error
}

type Conn struct {
	nc     *nats.Conn
	js     nats.JetStreamContext
	stream string
}

// Connect dials NATS and makes sure the gpu stream exists. Limits-based
// retention with a 24h age cap lets several durable consumer groups share
// the one stream; each group tracks its own ack floor.
func Connect(url, stream string) (*Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name("gpusched"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, err
	}

	if _, err := js.StreamInfo(stream); err != nil {
		if !errors.Is(err, nats.ErrStreamNotFound) {
			nc.Close()
			return nil, fmt.Errorf("stream info %s: %w", stream, err)
		}
		_, err = js.AddStream(&nats.StreamConfig{
			Name:      stream,
			Subjects:  []string{SubjectRoot},
			Storage:   nats.FileStorage,
			Retention: nats.LimitsPolicy,
			MaxAge:    24 * time.Hour,
		})
		if err != nil {
			nc.Close()
			return nil, fmt.Errorf("create stream %s: %w", stream, err)
		}
		klog.Infof("created jetstream stream %s", stream)
	}

	return &Conn{nc: nc, js: js, stream: stream}, nil
}

func (c *Conn) Publish(ctx context.Context, subject string, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event for %s: %w", subject, err)
	}
	_, err = c.js.Publish(subject, data, nats.Context(ctx))
	return err
}

// PullSubscribe binds a durable explicit-ack pull consumer to one dispatch
// subject. Redelivery resumes where a crashed runner left off.
func (c *Conn) PullSubscribe(subject, durable string) (*nats.Subscription, error) {
	return c.js.PullSubscribe(subject, durable,
		nats.BindStream(c.stream),
		nats.AckExplicit(),
		nats.AckWait(30*time.Second),
	)
}

// Close drains in-flight work before disconnecting.
func (c *Conn) Close() {
	if err := c.nc.Drain(); err != nil {
		klog.Errorf("drain nats connection: %v", err)
	}
}
