package kafka

import (
	"context"
	"hash/fnv"
	"sync"

	"github.com/ariefcatur/go-order-saga/internal/bus"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// reader is the slice of *kafka.Reader the consumer loop needs.
type reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Consumer struct {
	brokers []string
	workers int
	policy  bus.Policy
	log     zerolog.Logger

	newReader func(group, topic string) reader
}

func NewConsumer(brokers []string, workers int, policy bus.Policy, log zerolog.Logger) *Consumer {
	if workers <= 0 {
		workers = 1
	}
	// kafka tidak punya nack: transient failure habis retry -> DLQ + commit
	policy.Requeue = false
	c := &Consumer{brokers: brokers, workers: workers, policy: policy, log: log}
	c.newReader = func(group, topic string) reader {
		return kafka.NewReader(kafka.ReaderConfig{
			Brokers:        brokers,
			GroupID:        group,
			Topic:          topic,
			MinBytes:       1,
			MaxBytes:       10e6,
			CommitInterval: 0, // manual commit
		})
	}
	return c
}

// Subscribe runs the fetch loop and a worker pool. Messages with the same key
// go to the same worker, so per-key order is kept. A partition's offset is
// committed only once every earlier message of that partition succeeded or
// was dead-lettered.
func (c *Consumer) Subscribe(ctx context.Context, topic, group string, h bus.Handler) error {
	r := c.newReader(group, topic)
	defer r.Close()
	offs := newOffsets()

	lanes := make([]chan kafka.Message, c.workers)
	var wg sync.WaitGroup
	for i := range lanes {
		lanes[i] = make(chan kafka.Message, 64)
		wg.Add(1)
		go func(jobs <-chan kafka.Message) {
			defer wg.Done()
			for km := range jobs {
				switch c.policy.Handle(ctx, h, fromKafka(km)) {
				case bus.Ack, bus.DeadLetter:
					if err := offs.ack(ctx, r, km); err != nil && ctx.Err() == nil {
						c.log.Error().Err(err).Str("topic", km.Topic).Int64("offset", km.Offset).Msg("commit failed")
					}
				case bus.Requeue:
					// offset tidak di-commit dan menahan partisinya; redelivered setelah rebalance/restart
				}
			}
		}(lanes[i])
	}
	stop := func() {
		for _, l := range lanes {
			close(l)
		}
		wg.Wait()
	}

	c.log.Info().Str("topic", topic).Str("group", group).Int("workers", c.workers).Msg("consumer started")
	for {
		km, err := r.FetchMessage(ctx)
		if err != nil {
			stop()
			// kecilkan noise saat shutdown
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		offs.track(km)
		select {
		case lanes[c.lane(km.Key)] <- km:
		case <-ctx.Done():
			stop()
			return nil
		}
	}
}

func (c *Consumer) lane(key []byte) int {
	if len(key) == 0 {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write(key)
	return int(h.Sum32() % uint32(c.workers))
}

var _ bus.Subscriber = (*Consumer)(nil)
