package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ariefcatur/go-order-saga/internal/bus"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type fakeReader struct {
	mu        sync.Mutex
	msgs      chan kafka.Message
	committed []int64
}

func (f *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case m := <-f.msgs:
		return m, nil
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (f *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range msgs {
		f.committed = append(f.committed, m.Offset)
	}
	return nil
}

func (f *fakeReader) Close() error { return nil }

func (f *fakeReader) commits() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.committed...)
}

type dlqRecorder struct {
	mu   sync.Mutex
	keys []string
}

func (d *dlqRecorder) Push(_ context.Context, m bus.Message, _ error) {
	d.mu.Lock()
	d.keys = append(d.keys, string(m.Key))
	d.mu.Unlock()
}

func (d *dlqRecorder) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.keys)
}

func TestConsumerCommitsHandledAndDeadLettered(t *testing.T) {
	defer goleak.VerifyNone(t)

	fr := &fakeReader{msgs: make(chan kafka.Message, 3)}
	dlq := &dlqRecorder{}
	c := NewConsumer(nil, 2, bus.Policy{Attempts: 2, Backoff: time.Millisecond, DLQ: dlq, Log: zerolog.Nop()}, zerolog.Nop())
	c.newReader = func(string, string) reader { return fr }

	fr.msgs <- kafka.Message{Topic: "t", Key: []byte("a"), Value: []byte("ok"), Offset: 1,
		Headers: []kafka.Header{{Key: "x-event-type", Value: []byte("OrderCreated")}}}
	fr.msgs <- kafka.Message{Topic: "t", Key: []byte("b"), Value: []byte("poison"), Offset: 2}
	fr.msgs <- kafka.Message{Topic: "t", Key: []byte("c"), Value: []byte("flaky"), Offset: 3}

	var mu sync.Mutex
	seenHeader := ""
	h := func(_ context.Context, m bus.Message) error {
		switch string(m.Value) {
		case "poison":
			return bus.Poison("bad")
		case "flaky":
			return errors.New("db down")
		}
		mu.Lock()
		seenHeader = m.Headers["x-event-type"]
		mu.Unlock()
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Subscribe(ctx, "t", "g", h) }()

	require.Eventually(t, func() bool {
		cs := fr.commits()
		return len(cs) > 0 && cs[len(cs)-1] == 3
	}, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	cs := fr.commits()
	assert.IsIncreasing(t, cs)
	assert.Equal(t, 2, dlq.count())
	mu.Lock()
	assert.Equal(t, "OrderCreated", seenHeader)
	mu.Unlock()
}

func TestLaneIsStablePerKey(t *testing.T) {
	c := &Consumer{workers: 8}
	assert.Equal(t, c.lane([]byte("order-1")), c.lane([]byte("order-1")))
	assert.Equal(t, 0, c.lane(nil))
}

func TestMessageConversion(t *testing.T) {
	m := bus.Message{Topic: "t", Key: []byte("k"), Value: []byte("v"), Headers: map[string]string{"x-event-version": "1"}}
	back := fromKafka(toKafka(m))
	assert.Equal(t, m, back)
}

func TestConsumerHoldsCommitBehindSlowLane(t *testing.T) {
	defer goleak.VerifyNone(t)

	fr := &fakeReader{msgs: make(chan kafka.Message, 2)}
	c := NewConsumer(nil, 2, bus.Policy{Attempts: 1, Log: zerolog.Nop()}, zerolog.Nop())
	c.newReader = func(string, string) reader { return fr }

	slow := []byte("order-1")
	fast := []byte("order-2")
	for i := 3; c.lane(fast) == c.lane(slow); i++ {
		fast = []byte(fmt.Sprintf("order-%d", i))
	}
	fr.msgs <- kafka.Message{Topic: "t", Key: slow, Value: []byte("slow"), Offset: 10}
	fr.msgs <- kafka.Message{Topic: "t", Key: fast, Value: []byte("fast"), Offset: 11}

	gate := make(chan struct{})
	fastDone := make(chan struct{})
	h := func(_ context.Context, m bus.Message) error {
		if string(m.Value) == "slow" {
			<-gate
			return nil
		}
		close(fastDone)
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Subscribe(ctx, "t", "g", h) }()

	<-fastDone
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, fr.commits(), "offset 11 must wait for 10")

	close(gate)
	require.Eventually(t, func() bool {
		cs := fr.commits()
		return len(cs) == 1 && cs[0] == 11
	}, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}

func TestOffsetsPerPartition(t *testing.T) {
	o := newOffsets()
	msg := func(p int, off int64) kafka.Message { return kafka.Message{Partition: p, Offset: off} }
	for _, m := range []kafka.Message{msg(0, 1), msg(0, 2), msg(1, 7), msg(0, 3), msg(1, 8)} {
		o.track(m)
	}
	o.track(msg(0, 2)) // refetch

	_, ok := o.finish(msg(0, 2))
	assert.False(t, ok)
	upto, ok := o.finish(msg(1, 7))
	require.True(t, ok)
	assert.EqualValues(t, 7, upto)
	upto, ok = o.finish(msg(0, 1))
	require.True(t, ok)
	assert.EqualValues(t, 2, upto)
	upto, ok = o.finish(msg(0, 3))
	require.True(t, ok)
	assert.EqualValues(t, 3, upto)

	_, ok = o.finish(msg(0, 2))
	assert.False(t, ok, "already committed")
}
