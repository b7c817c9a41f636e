package kafka

import (
	"context"
	"time"

	"github.com/ariefcatur/go-order-saga/internal/bus"
	"github.com/segmentio/kafka-go"
)

// Producer writes synchronously so callers (saga steps, repositories) see
// delivery failures and can retry or compensate.
type Producer struct {
	w *kafka.Writer
}

func NewProducer(brokers []string) *Producer {
	return &Producer{
		w: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Balancer:               &kafka.Hash{}, // key = aggregate id, urutan per key terjaga
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
			WriteTimeout:           5 * time.Second,
		},
	}
}

func (p *Producer) Publish(ctx context.Context, m bus.Message) error {
	return p.w.WriteMessages(ctx, toKafka(m))
}

func (p *Producer) Close() error { return p.w.Close() }

func toKafka(m bus.Message) kafka.Message {
	km := kafka.Message{Topic: m.Topic, Key: m.Key, Value: m.Value, Time: time.Now()}
	for k, v := range m.Headers {
		km.Headers = append(km.Headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	return km
}

func fromKafka(km kafka.Message) bus.Message {
	m := bus.Message{Topic: km.Topic, Key: km.Key, Value: km.Value}
	if len(km.Headers) > 0 {
		m.Headers = make(map[string]string, len(km.Headers))
		for _, h := range km.Headers {
			m.Headers[h.Key] = string(h.Value)
		}
	}
	return m
}

var _ bus.Publisher = (*Producer)(nil)
