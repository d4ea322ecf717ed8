// Package runner consumes dispatch notifications for one pool/isolation
// class and executes the jobs they reference. One runner process per
// pool/class topic gives parallel execution without any in-process worker
// pool.
package runner

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/nats-io/nats.go"
	"k8s.io/klog/v2"

	"github.com/modelops/gpusched/pkg/bus"
)

// Subscription is the pull surface of a durable consumer group.
type Subscription interface {
	Fetch(batch int, opts ...nats.PullOpt) ([]*nats.Msg, error)
}

type Consumer struct {
	sub     Subscription
	handler Handler
	batch   int
}

func NewConsumer(sub Subscription, handler Handler, batch int) *Consumer {
	return &Consumer{sub: sub, handler: handler, batch: batch}
}

// Run pulls small batches with a short poll timeout until the context is
// cancelled. Messages are acknowledged only after the handler returns nil;
// anything else stays on the queue for redelivery.
func (c *Consumer) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msgs, err := c.sub.Fetch(c.batch, nats.MaxWait(time.Second))
		if err != nil {
			if !errors.Is(err, nats.ErrTimeout) && !errors.Is(err, context.Canceled) {
				klog.Errorf("fetch dispatch messages: %v", err)
				time.Sleep(time.Second)
			}
			continue
		}

		for _, msg := range msgs {
			c.handleMsg(ctx, msg)
		}
	}
}

func (c *Consumer) handleMsg(ctx context.Context, msg *nats.Msg) {
	var evt bus.DispatchEvent
	if err := json.Unmarshal(msg.Data, &evt); err != nil {
		klog.Errorf("drop malformed dispatch message: %v", err)
		c.ack(msg)
		return
	}
	if evt.JobID == "" || evt.DispatchToken == "" {
		c.ack(msg)
		return
	}

	if err := c.handler.Handle(ctx, evt); err != nil {
		// Leave unacked; the bus redelivers after the ack wait and the
		// token guard keeps the retry idempotent.
		klog.Errorf("handle dispatch for job %s: %v", evt.JobID, err)
		return
	}
	c.ack(msg)
}

func (c *Consumer) ack(msg *nats.Msg) {
	if err := msg.Ack(); err != nil {
		klog.Errorf("ack dispatch message: %v", err)
	}
}
