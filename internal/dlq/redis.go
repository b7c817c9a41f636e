package dlq

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ariefcatur/go-order-saga/internal/bus"
	"github.com/ariefcatur/go-order-saga/internal/metrics"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

type DLQMessage struct {
	At      time.Time         `json:"at"`
	Topic   string            `json:"topic"`
	Key     string            `json:"key,omitempty"`
	Error   string            `json:"error"`
	Headers map[string]string `json:"headers,omitempty"`
	Payload json.RawMessage   `json:"payload"`
}

// Client pushes dead letters onto a redis list per topic (dlq:<topic>).
type Client struct {
	cli redis.Cmdable
	log zerolog.Logger
	now func() time.Time
}

func New(cli redis.Cmdable, log zerolog.Logger) *Client {
	return &Client{cli: cli, log: log, now: time.Now}
}

func Key(topic string) string { return "dlq:" + topic }

func (c *Client) Push(ctx context.Context, m bus.Message, cause error) {
	payload := json.RawMessage(m.Value)
	if !json.Valid(m.Value) {
		// simpan sebagai string supaya list tetap JSON valid
		payload, _ = json.Marshal(string(m.Value))
	}
	msg := DLQMessage{At: c.now().UTC(), Topic: m.Topic, Key: string(m.Key), Headers: m.Headers, Payload: payload}
	if cause != nil {
		msg.Error = cause.Error()
	}
	b, _ := json.Marshal(msg)
	if _, err := c.cli.LPush(ctx, Key(m.Topic), b).Result(); err != nil {
		c.log.Error().Err(err).Str("topic", m.Topic).Msg("redis DLQ push failed")
		return
	}
	metrics.DLQCount.WithLabelValues(m.Topic).Inc()
}

var _ bus.DeadLetters = (*Client)(nil)
