// Package store provides the run engine's only shared mutable state: a
// keyed value container with a watch primitive. Three backends are
// supported (in-memory, Redis, PostgreSQL); typed views layer a key
// prefix and a JSON codec on top so one backing store serves run data,
// cancel tokens, resume values and sessions.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
)

// Store is a keyed container of raw JSON values.
//
// Get returns (nil, nil) when the key is absent. Set with a nil value
// deletes the key. Watch yields the value stored by every subsequent Set
// on the key (nil for deletes) until ctx is cancelled; the returned
// channel is closed on detach. If ready is non-nil it is closed once the
// subscription is live, so a producer can begin emitting without racing
// the subscriber.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Watch(ctx context.Context, key string, ready chan<- struct{}) (<-chan []byte, error)
}

// View layers a key prefix and a typed JSON codec over a Store.
type View[T any] struct {
	store  Store
	prefix string
}

// NewView creates a typed view with the given key prefix.
func NewView[T any](s Store, prefix string) *View[T] {
	return &View[T]{store: s, prefix: prefix}
}

func (v *View[T]) key(key string) string {
	return v.prefix + key
}

// Get reads and decodes the value for key, or nil when absent.
func (v *View[T]) Get(ctx context.Context, key string) (*T, error) {
	raw, err := v.store.Get(ctx, v.key(key))
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}
	var value T
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, fmt.Errorf("store: decode %s: %w", v.key(key), err)
	}
	return &value, nil
}

// Set encodes and stores the value for key; nil deletes.
func (v *View[T]) Set(ctx context.Context, key string, value *T) error {
	if value == nil {
		return v.store.Set(ctx, v.key(key), nil)
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("store: encode %s: %w", v.key(key), err)
	}
	return v.store.Set(ctx, v.key(key), raw)
}

// Watch subscribes to the key and decodes every delivered value. Values
// that fail to decode are dropped with a warning; deletes arrive as nil.
func (v *View[T]) Watch(ctx context.Context, key string, ready chan<- struct{}) (<-chan *T, error) {
	raw, err := v.store.Watch(ctx, v.key(key), ready)
	if err != nil {
		return nil, err
	}
	out := make(chan *T)
	go func() {
		defer close(out)
		for data := range raw {
			var value *T
			if data != nil {
				value = new(T)
				if err := json.Unmarshal(data, value); err != nil {
					slog.Warn("Dropping undecodable watched value", "key", v.key(key), "error", err)
					continue
				}
			}
			select {
			case out <- value:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
