package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreGetSet(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(MemoryOptions{})

	value, err := s.Get(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, value)

	require.NoError(t, s.Set(ctx, "k", []byte(`{"a":1}`)))
	value, err = s.Get(ctx, "k")
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(value))

	require.NoError(t, s.Set(ctx, "k", nil))
	value, err = s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Nil(t, value)
}

func TestMemoryStoreIsolation(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(MemoryOptions{})

	original := []byte("abc")
	require.NoError(t, s.Set(ctx, "k", original))
	original[0] = 'X'

	value, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(value), "stored value unaffected by caller mutation")

	value[0] = 'Y'
	again, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(again), "returned value is a copy")
}

func TestMemoryStoreWatchOrdering(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := NewMemoryStore(MemoryOptions{})

	ready := make(chan struct{})
	values, err := s.Watch(ctx, "k", ready)
	require.NoError(t, err)
	<-ready

	const n = 50
	for i := 0; i < n; i++ {
		require.NoError(t, s.Set(ctx, "k", []byte(fmt.Sprintf("%d", i))))
	}

	for i := 0; i < n; i++ {
		select {
		case value := <-values:
			assert.Equal(t, fmt.Sprintf("%d", i), string(value), "values arrive in set order with none dropped")
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for value %d", i)
		}
	}
}

func TestMemoryStoreWatchDeliversDeletes(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := NewMemoryStore(MemoryOptions{})

	values, err := s.Watch(ctx, "k", nil)
	require.NoError(t, err)

	require.NoError(t, s.Set(ctx, "k", []byte("v")))
	require.NoError(t, s.Set(ctx, "k", nil))

	assert.Equal(t, "v", string(<-values))
	assert.Nil(t, <-values, "delete arrives as nil")
}

func TestMemoryStoreWatchScopedToKey(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := NewMemoryStore(MemoryOptions{})

	values, err := s.Watch(ctx, "a", nil)
	require.NoError(t, err)

	require.NoError(t, s.Set(ctx, "b", []byte("other")))
	require.NoError(t, s.Set(ctx, "a", []byte("mine")))

	assert.Equal(t, "mine", string(<-values))
}

func TestMemoryStoreWatchDetachesOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := NewMemoryStore(MemoryOptions{})

	values, err := s.Watch(ctx, "k", nil)
	require.NoError(t, err)

	cancel()
	select {
	case _, open := <-values:
		assert.False(t, open, "channel closes on detach")
	case <-time.After(time.Second):
		t.Fatal("watch did not close after cancellation")
	}
}

func TestMemoryStoreTTL(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(MemoryOptions{TTL: 20 * time.Millisecond})

	require.NoError(t, s.Set(ctx, "k", []byte("v")))
	value, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.NotNil(t, value)

	time.Sleep(40 * time.Millisecond)
	value, err = s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Nil(t, value, "entry expired")
}

func TestMemoryStoreLimitEvictsOldest(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(MemoryOptions{Limit: 2})

	require.NoError(t, s.Set(ctx, "a", []byte("1")))
	require.NoError(t, s.Set(ctx, "b", []byte("2")))
	require.NoError(t, s.Set(ctx, "c", []byte("3")))

	value, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Nil(t, value, "oldest key evicted")

	for _, key := range []string{"b", "c"} {
		value, err := s.Get(ctx, key)
		require.NoError(t, err)
		assert.NotNil(t, value)
	}
}

func TestMemoryStoreLimitRefreshesOnSet(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(MemoryOptions{Limit: 2})

	require.NoError(t, s.Set(ctx, "a", []byte("1")))
	require.NoError(t, s.Set(ctx, "b", []byte("2")))
	require.NoError(t, s.Set(ctx, "a", []byte("1+")))
	require.NoError(t, s.Set(ctx, "c", []byte("3")))

	value, err := s.Get(ctx, "b")
	require.NoError(t, err)
	assert.Nil(t, value, "b became the oldest after a was rewritten")

	value, err = s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "1+", string(value))
}

type record struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestViewRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(MemoryOptions{})
	view := NewView[record](s, "records/")

	got, err := view.Get(ctx, "a")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, view.Set(ctx, "a", &record{Name: "x", Count: 3}))
	got, err = view.Get(ctx, "a")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, record{Name: "x", Count: 3}, *got)

	raw, err := s.Get(ctx, "records/a")
	require.NoError(t, err)
	assert.NotNil(t, raw, "view prefixes the raw key")

	require.NoError(t, view.Set(ctx, "a", nil))
	got, err = view.Get(ctx, "a")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestViewWatchDecodes(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := NewMemoryStore(MemoryOptions{})
	view := NewView[record](s, "records/")

	ready := make(chan struct{})
	values, err := view.Watch(ctx, "a", ready)
	require.NoError(t, err)
	<-ready

	require.NoError(t, view.Set(ctx, "a", &record{Name: "x"}))
	require.NoError(t, view.Set(ctx, "a", nil))

	got := <-values
	require.NotNil(t, got)
	assert.Equal(t, "x", got.Name)
	assert.Nil(t, <-values)
}
