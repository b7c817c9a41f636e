// Package storetest provides an in-memory durable store for repository tests.
package storetest

import (
	"context"
	"sync"
)

type Durable[T any] struct {
	mu   sync.Mutex
	rows map[string]T
	id   func(T) string
	// Err, when set, fails every call.
	Err error
}

func NewDurable[T any](id func(T) string) *Durable[T] {
	return &Durable[T]{rows: map[string]T{}, id: id}
}

func (d *Durable[T]) Find(_ context.Context, id string) (T, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var zero T
	if d.Err != nil {
		return zero, false, d.Err
	}
	v, ok := d.rows[id]
	return v, ok, nil
}

func (d *Durable[T]) Upsert(_ context.Context, v T) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Err != nil {
		return d.Err
	}
	d.rows[d.id(v)] = v
	return nil
}

func (d *Durable[T]) Delete(_ context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Err != nil {
		return d.Err
	}
	delete(d.rows, id)
	return nil
}

// Row returns the stored row for id.
func (d *Durable[T]) Row(id string) (T, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, ok := d.rows[id]
	return v, ok
}

// Where returns the first row matching pred.
func (d *Durable[T]) Where(pred func(T) bool) (T, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, v := range d.rows {
		if pred(v) {
			return v, true
		}
	}
	var zero T
	return zero, false
}
