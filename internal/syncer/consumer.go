package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/ariefcatur/go-order-saga/internal/bus"
	"github.com/ariefcatur/go-order-saga/internal/metrics"
	"github.com/rs/zerolog"
)

// Applier converges the durable copy of one entity namespace.
type Applier interface {
	Apply(ctx context.Context, op Operation, id string) error
}

// Consumer routes events to the Applier registered for their dataType.
type Consumer struct {
	mu       sync.RWMutex
	appliers map[string]Applier
	log      zerolog.Logger
}

func NewConsumer(log zerolog.Logger) *Consumer {
	return &Consumer{appliers: map[string]Applier{}, log: log}
}

func (c *Consumer) Register(dataType string, a Applier) {
	c.mu.Lock()
	c.appliers[dataType] = a
	c.mu.Unlock()
}

// Handle is the bus.Handler for the data-sync topic. Malformed events and
// unknown data types are poison.
func (c *Consumer) Handle(ctx context.Context, m bus.Message) error {
	var ev Event
	if err := json.Unmarshal(m.Value, &ev); err != nil {
		metrics.SyncApplied.WithLabelValues("unknown", "poison").Inc()
		return bus.Poison("decode sync event: %v", err)
	}
	if !ev.Operation.Valid() {
		metrics.SyncApplied.WithLabelValues(ev.DataType, "poison").Inc()
		return bus.Poison("sync event %s: bad operation %q", ev.Key, ev.Operation)
	}
	dt, id, ok := SplitKey(ev.Key)
	if !ok {
		metrics.SyncApplied.WithLabelValues(ev.DataType, "poison").Inc()
		return bus.Poison("sync event: bad key %q", ev.Key)
	}
	if ev.DataType != "" && ev.DataType != dt {
		metrics.SyncApplied.WithLabelValues(ev.DataType, "poison").Inc()
		return bus.Poison("sync event %s: dataType %q does not match key", ev.Key, ev.DataType)
	}

	c.mu.RLock()
	a, ok := c.appliers[dt]
	c.mu.RUnlock()
	if !ok {
		metrics.SyncApplied.WithLabelValues(dt, "poison").Inc()
		return bus.Poison("sync event %s: unknown dataType %q", ev.Key, dt)
	}

	if err := a.Apply(ctx, ev.Operation, id); err != nil {
		metrics.SyncApplied.WithLabelValues(dt, "error").Inc()
		return fmt.Errorf("apply %s %s: %w", ev.Operation, ev.Key, err)
	}
	metrics.SyncApplied.WithLabelValues(dt, "ok").Inc()
	c.log.Debug().Str("key", ev.Key).Str("op", string(ev.Operation)).Msg("sync applied")
	return nil
}
