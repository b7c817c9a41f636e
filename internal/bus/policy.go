package bus

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// Outcome tells a transport what to do with a delivered message.
type Outcome int

const (
	Ack Outcome = iota
	// Requeue: transient failure, let the broker redeliver.
	Requeue
	// DeadLetter: pushed to the DLQ, then acknowledged.
	DeadLetter
)

// Policy is the consumer-side retry and poison-message handling shared by
// all transports.
type Policy struct {
	Attempts int
	Backoff  time.Duration
	DLQ      DeadLetters
	Log      zerolog.Logger
	// Requeue lets transports with native redelivery hand transient
	// failures back to the broker instead of dead-lettering.
	Requeue bool
}

func (p Policy) Handle(ctx context.Context, h Handler, m Message) Outcome {
	err := Retry(ctx, p.Attempts, p.Backoff, func(ctx context.Context) error { return h(ctx, m) })
	if err == nil {
		return Ack
	}
	if ctx.Err() != nil {
		return Requeue
	}
	ev := p.Log.Error().Err(err).Str("topic", m.Topic).Str("key", string(m.Key))
	if !errors.Is(err, ErrPoison) && p.Requeue {
		ev.Msg("handler failed, requeue")
		return Requeue
	}
	ev.Msg("handler failed, dead-lettering")
	if p.DLQ != nil {
		p.DLQ.Push(context.WithoutCancel(ctx), m, err)
	}
	return DeadLetter
}
