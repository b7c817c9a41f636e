// Package rabbitmq is the alternate bus transport: one durable topic
// exchange, routing key = topic, one durable queue per (group, topic).
package rabbitmq

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ariefcatur/go-order-saga/internal/bus"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

const Exchange = "orders.events"

type Client struct {
	conn   *amqp.Connection
	policy bus.Policy
	log    zerolog.Logger

	mu  sync.Mutex
	pub *amqp.Channel
}

func Dial(url string, policy bus.Policy, log zerolog.Logger) (*Client, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := declareExchange(ch); err != nil {
		_ = conn.Close()
		return nil, err
	}
	policy.Requeue = true
	return &Client{conn: conn, policy: policy, log: log, pub: ch}, nil
}

func declareExchange(ch *amqp.Channel) error {
	if err := ch.ExchangeDeclare(Exchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("exchange declare: %w", err)
	}
	return nil
}

func QueueName(group, topic string) string { return group + "." + topic }

func (c *Client) Publish(ctx context.Context, m bus.Message) error {
	headers := amqp.Table{}
	for k, v := range m.Headers {
		headers[k] = v
	}
	pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	// amqp channel tidak aman dipakai paralel
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pub.PublishWithContext(pctx, Exchange, m.Topic, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    string(m.Key),
		Timestamp:    time.Now().UTC(),
		Headers:      headers,
		Body:         m.Value,
	})
}

// Subscribe consumes with manual ack. Handler success acks; poison and
// exhausted messages are dead-lettered and acked; transient failures are
// nacked with requeue.
func (c *Client) Subscribe(ctx context.Context, topic, group string, h bus.Handler) error {
	ch, err := c.conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	q := QueueName(group, topic)
	if _, err := ch.QueueDeclare(q, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	if err := ch.QueueBind(q, topic, Exchange, false, nil); err != nil {
		return fmt.Errorf("queue bind: %w", err)
	}
	if err := ch.Qos(16, 0, false); err != nil {
		return fmt.Errorf("qos: %w", err)
	}
	msgs, err := ch.Consume(q, group, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}

	c.log.Info().Str("queue", q).Msg("consumer started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				return fmt.Errorf("deliveries channel closed for %s", q)
			}
			c.settle(d, c.policy.Handle(ctx, h, fromDelivery(topic, d)))
		}
	}
}

func (c *Client) settle(d amqp.Delivery, out bus.Outcome) {
	var err error
	switch out {
	case bus.Requeue:
		err = d.Nack(false, true)
	default:
		err = d.Ack(false)
	}
	if err != nil {
		c.log.Error().Err(err).Uint64("tag", d.DeliveryTag).Msg("settle delivery failed")
	}
}

func fromDelivery(topic string, d amqp.Delivery) bus.Message {
	m := bus.Message{Topic: topic, Key: []byte(d.MessageId), Value: d.Body}
	if len(d.Headers) > 0 {
		m.Headers = make(map[string]string, len(d.Headers))
		for k, v := range d.Headers {
			if s, ok := v.(string); ok {
				m.Headers[k] = s
			}
		}
	}
	return m
}

func (c *Client) Close() error { return c.conn.Close() }

var (
	_ bus.Publisher  = (*Client)(nil)
	_ bus.Subscriber = (*Client)(nil)
)
