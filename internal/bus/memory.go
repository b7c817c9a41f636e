package bus

import (
	"context"
	"sync"
)

// Memory is an in-process bus: Publish records the message and delivers it
// synchronously to every subscriber of the topic.
type Memory struct {
	mu        sync.Mutex
	published []Message
	subs      map[string][]Handler
	// Fail, when set, is returned by Publish before anything is recorded.
	Fail func(Message) error
}

func NewMemory() *Memory { return &Memory{subs: map[string][]Handler{}} }

func (b *Memory) Publish(ctx context.Context, m Message) error {
	b.mu.Lock()
	if b.Fail != nil {
		if err := b.Fail(m); err != nil {
			b.mu.Unlock()
			return err
		}
	}
	b.published = append(b.published, m)
	hs := append([]Handler(nil), b.subs[m.Topic]...)
	b.mu.Unlock()

	for _, h := range hs {
		_ = h(ctx, m)
	}
	return nil
}

// Subscribe registers h and blocks until ctx is done.
func (b *Memory) Subscribe(ctx context.Context, topic, _ string, h Handler) error {
	b.On(topic, h)
	<-ctx.Done()
	return nil
}

// On registers h without blocking.
func (b *Memory) On(topic string, h Handler) {
	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], h)
	b.mu.Unlock()
}

func (b *Memory) Published(topic string) []Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []Message
	for _, m := range b.published {
		if topic == "" || m.Topic == topic {
			out = append(out, m)
		}
	}
	return out
}
