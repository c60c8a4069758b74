// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package broker is the AMQP adapter (C6): per-type request queues, a
// single durable quorum results queue, and the director queue scenario
// triggers flow through (spec §4.6). It wraps amqp091-go the way the
// teacher's pkg/nats wraps nats.go: a singleton connection, explicit queue
// declaration, and a thin publish/consume surface.
package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/ClusterCockpit/cc-artifactgraph/pkg/log"
)

// MessageType distinguishes the three kinds of message the broker carries
// (spec §4.6 "message-type distinguishes request, result, and
// scenario-trigger").
type MessageType string

const (
	MessageTypeRequest         MessageType = "request"
	MessageTypeResult          MessageType = "result"
	MessageTypeScenarioTrigger MessageType = "scenario-trigger"
)

const expirationHeader = "expiration_ts"
const deliveryCountHeader = "x-delivery-count"

var (
	clientOnce     sync.Once
	clientInstance *Client
)

// Client owns one AMQP connection and channel (spec §4.6's adapter is a
// single logical connection per process).
type Client struct {
	conn *amqp.Connection
	ch   *amqp.Channel
	mu   sync.Mutex

	onRedeliver func()
}

// SetRedeliverHook registers fn to be called every time Consume nacks a
// delivery for requeue, e.g. internal/metrics.Registry.BrokerRedelivery.
func (c *Client) SetRedeliverHook(fn func()) {
	c.onRedeliver = fn
}

// Connect dials url and opens one channel; safe to call more than once,
// only the first call does anything (teacher's pkg/nats.Connect idiom).
func Connect(url string) *Client {
	clientOnce.Do(func() {
		c, err := NewClient(url)
		if err != nil {
			log.Fatalf("broker: connect: %v", err)
		}
		clientInstance = c
	})
	return clientInstance
}

func GetClient() *Client {
	if clientInstance == nil {
		log.Fatalf("broker: Connect was never called")
	}
	return clientInstance
}

func NewClient(url string) (*Client, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("broker: dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("broker: open channel: %w", err)
	}
	return &Client{conn: conn, ch: ch}, nil
}

// DeclareQueue declares a durable queue, optionally a quorum queue (spec
// §4.6's results queue is explicitly "durable, quorum").
func (c *Client) DeclareQueue(name string, quorum bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	args := amqp.Table{}
	if quorum {
		args["x-queue-type"] = "quorum"
	}

	_, err := c.ch.QueueDeclare(name, true, false, false, false, args)
	if err != nil {
		return fmt.Errorf("broker: declare queue %s: %w", name, err)
	}
	return nil
}

// RequestQueueName derives a per-type request queue name so distinct
// backends can consume distinct object types (spec §4.6).
func RequestQueueName(objectType string) string {
	return "work.requests." + objectType
}

// Publish sends body to queue with the message properties spec §4.6 names:
// persistent delivery, application/json content type, the message-type and
// expiration_ts headers, and reply-to.
func (c *Client) Publish(ctx context.Context, queue string, msgType MessageType, correlationID, replyTo string, expiresAt time.Time, body []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	err := c.ch.PublishWithContext(ctx, "", queue, false, false, amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		CorrelationId: correlationID,
		ReplyTo:       replyTo,
		Headers: amqp.Table{
			"message-type":  string(msgType),
			expirationHeader: expiresAt.Unix(),
		},
		Body: body,
	})
	if err != nil {
		return fmt.Errorf("broker: publish to %s: %w", queue, err)
	}
	return nil
}

// Delivery is the broker's view of one consumed message, pre-classified
// against the retry cap and expiration header (spec §4.6 "Retries").
type Delivery struct {
	raw           amqp.Delivery
	CorrelationID string
	ReplyTo       string
	MessageType   MessageType
	Body          []byte
	// ExpiresAt is the expiration_ts header decoded to a time.Time, zero if
	// the header was absent or unparseable.
	ExpiresAt time.Time
	// Forced is "Max retries", "Time out", or "" for a normal delivery
	// (spec §4.6: ">=10 deliveries -> force-complete 'Max retries'";
	// "expiry at consume time -> force-complete 'Time out'").
	Forced string
}

func (d *Delivery) Ack() error   { return d.raw.Ack(false) }
func (d *Delivery) Nack(requeue bool) error { return d.raw.Nack(false, requeue) }

// RemainingTTL returns how long remains before ExpiresAt, relative to now.
// A non-positive (or zero, when no expiration header was present) result
// means the delivery has already expired or carries no deadline at all —
// the caller is expected to have already checked Forced before using this.
func (d *Delivery) RemainingTTL() time.Duration {
	if d.ExpiresAt.IsZero() {
		return 0
	}
	return time.Until(d.ExpiresAt)
}

// Consume starts consuming queue, classifying each delivery before handing
// it to handler. handler returning nil acks; a non-nil error nacks with
// requeue so the broker's own redelivery counter (and eventually the retry
// cap) takes over.
func (c *Client) Consume(ctx context.Context, queue string, retryLimit int, handler func(context.Context, *Delivery) error) error {
	raw, err := c.ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("broker: consume %s: %w", queue, err)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-raw:
				if !ok {
					return
				}
				d := classify(msg, retryLimit)
				if err := handler(ctx, d); err != nil {
					log.Warnf("broker: handler for %s failed, requeueing: %v", queue, err)
					if nerr := d.Nack(true); nerr != nil {
						log.Errorf("broker: nack failed: %v", nerr)
					}
					if c.onRedeliver != nil {
						c.onRedeliver()
					}
					continue
				}
				if aerr := d.Ack(); aerr != nil {
					log.Errorf("broker: ack failed: %v", aerr)
				}
			}
		}
	}()
	return nil
}

func classify(msg amqp.Delivery, retryLimit int) *Delivery {
	d := &Delivery{
		raw:           msg,
		CorrelationID: msg.CorrelationId,
		ReplyTo:       msg.ReplyTo,
		Body:          msg.Body,
	}
	if mt, ok := msg.Headers["message-type"].(string); ok {
		d.MessageType = MessageType(mt)
	}

	var exp int64
	var hasExp bool
	if exp, hasExp = expirationTS(msg.Headers); hasExp {
		d.ExpiresAt = time.Unix(exp, 0)
	}

	if count, ok := deliveryCount(msg.Headers); ok && retryLimit > 0 && count >= int64(retryLimit) {
		d.Forced = "Max retries"
		return d
	}

	if hasExp && time.Now().Unix() >= exp {
		d.Forced = "Time out"
	}
	return d
}

func deliveryCount(headers amqp.Table) (int64, bool) {
	v, ok := headers[deliveryCountHeader]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int64:
		return n, true
	case int32:
		return int64(n), true
	case int:
		return int64(n), true
	default:
		return 0, false
	}
}

func expirationTS(headers amqp.Table) (int64, bool) {
	v, ok := headers[expirationHeader]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int64:
		return n, true
	case int32:
		return int64(n), true
	case int:
		return int64(n), true
	default:
		return 0, false
	}
}

// HealthCheck reports whether the underlying AMQP connection is still open,
// for the Work Manager/Scenario Evaluator daemons' /healthz surface.
func (c *Client) HealthCheck(ctx context.Context) error {
	if c.conn.IsClosed() {
		return fmt.Errorf("broker: connection closed")
	}
	return nil
}

// Close closes the channel and connection (teacher's pkg/nats.Close idiom).
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ch != nil {
		c.ch.Close()
	}
	if c.conn != nil {
		c.conn.Close()
	}
}
