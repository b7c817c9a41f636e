package kafka

import (
	"context"
	"sync"

	"github.com/segmentio/kafka-go"
)

// offsets tracks fetched messages per partition so a lane finishing early
// never commits past a message another lane is still handling.
type offsets struct {
	mu    sync.Mutex
	parts map[int]*partition

	commitMu  sync.Mutex
	committed map[int]int64
}

type partition struct {
	pending []int64 // fetch order, ascending
	done    map[int64]bool
}

func newOffsets() *offsets {
	return &offsets{parts: map[int]*partition{}, committed: map[int]int64{}}
}

// track registers km as in flight. Refetched offsets after a rebalance are
// already pending and are not added twice.
func (o *offsets) track(km kafka.Message) {
	o.mu.Lock()
	defer o.mu.Unlock()
	p := o.parts[km.Partition]
	if p == nil {
		p = &partition{done: map[int64]bool{}}
		o.parts[km.Partition] = p
	}
	if n := len(p.pending); n > 0 && km.Offset <= p.pending[n-1] {
		return
	}
	p.pending = append(p.pending, km.Offset)
}

// finish marks km handled and returns the highest offset of its partition
// whose predecessors are all handled.
func (o *offsets) finish(km kafka.Message) (int64, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	p := o.parts[km.Partition]
	if p == nil || len(p.pending) == 0 || km.Offset < p.pending[0] {
		return 0, false
	}
	p.done[km.Offset] = true
	upto, ok := int64(0), false
	for len(p.pending) > 0 && p.done[p.pending[0]] {
		upto, ok = p.pending[0], true
		delete(p.done, upto)
		p.pending = p.pending[1:]
	}
	return upto, ok
}

// ack finishes km and commits the partition watermark if it moved. Commits
// are serialized so a slower goroutine cannot move the offset backwards.
func (o *offsets) ack(ctx context.Context, r reader, km kafka.Message) error {
	upto, ok := o.finish(km)
	if !ok {
		return nil
	}
	o.commitMu.Lock()
	defer o.commitMu.Unlock()
	if last, seen := o.committed[km.Partition]; seen && upto <= last {
		return nil
	}
	if err := r.CommitMessages(ctx, kafka.Message{Topic: km.Topic, Partition: km.Partition, Offset: upto}); err != nil {
		return err
	}
	o.committed[km.Partition] = upto
	return nil
}
