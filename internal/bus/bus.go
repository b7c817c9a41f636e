// Package bus is the transport-neutral message contract used by every
// producer and consumer. Kafka and RabbitMQ adapters implement it.
package bus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-order-saga/internal/apperr"
)

type Message struct {
	Topic   string
	Key     []byte
	Value   []byte
	Headers map[string]string
}

type Publisher interface {
	Publish(ctx context.Context, m Message) error
}

// Handler returns nil only when the message may be acknowledged.
type Handler func(ctx context.Context, m Message) error

// Subscriber runs a consume loop for topic until ctx is cancelled.
type Subscriber interface {
	Subscribe(ctx context.Context, topic, group string, h Handler) error
}

// DeadLetters receives messages that will not be redelivered.
type DeadLetters interface {
	Push(ctx context.Context, m Message, cause error)
}

// ErrPoison marks a message that can never succeed; it is dead-lettered
// without retry.
var ErrPoison = errors.New("poison message")

func Poison(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrPoison, fmt.Sprintf(format, args...))
}

// Retry calls fn up to attempts times, sleeping delay between failures.
// Non-retryable errors (validation, business) return immediately.
func Retry(ctx context.Context, attempts int, delay time.Duration, fn func(context.Context) error) error {
	if attempts <= 0 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if errors.Is(err, ErrPoison) || !apperr.Retryable(err) || i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}

// PublishRetry sends m with the bounded publish policy and wraps a final
// failure as a Publish error.
func PublishRetry(ctx context.Context, p Publisher, m Message, attempts int, delay time.Duration) error {
	err := Retry(ctx, attempts, delay, func(ctx context.Context) error { return p.Publish(ctx, m) })
	if err != nil {
		return apperr.Wrap(apperr.KindPublish, err, "publish "+m.Topic)
	}
	return nil
}
