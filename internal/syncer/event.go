// Package syncer carries cache mutations to the durable store: repositories
// emit a DataSyncEvent per mutation and the consumer converges the durable
// copy to whatever the cache holds when the event is processed.
package syncer

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/ariefcatur/go-order-saga/internal/bus"
)

type Operation string

const (
	OpCreate Operation = "CREATE"
	OpUpdate Operation = "UPDATE"
	OpDelete Operation = "DELETE"
)

func (o Operation) Valid() bool {
	return o == OpCreate || o == OpUpdate || o == OpDelete
}

// Event is the DataSyncEvent wire format.
type Event struct {
	Key       string    `json:"key"`
	Operation Operation `json:"operation"`
	DataType  string    `json:"dataType"`
	Timestamp time.Time `json:"timestamp"`
}

func NewEvent(key string, op Operation) Event {
	dt, _, _ := SplitKey(key)
	return Event{Key: key, Operation: op, DataType: dt, Timestamp: time.Now().UTC()}
}

// SplitKey splits "order:<id>" into ("order", "<id>").
func SplitKey(key string) (dataType, id string, ok bool) {
	dataType, id, ok = strings.Cut(key, ":")
	if !ok || dataType == "" || id == "" {
		return "", "", false
	}
	return dataType, id, true
}

// Emitter publishes one event per committed cache mutation.
type Emitter interface {
	Emit(ctx context.Context, key string, op Operation) error
}

// BusEmitter publishes events on the service's data-sync topic with the
// bounded publish retry.
type BusEmitter struct {
	Pub      bus.Publisher
	Topic    string
	Attempts int
	Backoff  time.Duration
}

func (e BusEmitter) Emit(ctx context.Context, key string, op Operation) error {
	b, err := json.Marshal(NewEvent(key, op))
	if err != nil {
		return err
	}
	return bus.PublishRetry(ctx, e.Pub, bus.Message{Topic: e.Topic, Key: []byte(key), Value: b}, e.Attempts, e.Backoff)
}
