package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// startPostgres spins up a disposable PostgreSQL container and returns
// its DSN.
func startPostgres(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("acp_test"),
		postgres.WithUsername("acp"),
		postgres.WithPassword("acp"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, container.Terminate(context.Background()))
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	return dsn
}

func TestPostgresStoreRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	ctx := context.Background()
	dsn := startPostgres(t)

	s, err := NewPostgresStore(ctx, dsn)
	require.NoError(t, err)
	defer s.Close()

	value, err := s.Get(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, value)

	require.NoError(t, s.Set(ctx, "k", []byte(`{"a":1}`)))
	value, err = s.Get(ctx, "k")
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(value))

	require.NoError(t, s.Set(ctx, "k", []byte(`{"a":2}`)))
	value, err = s.Get(ctx, "k")
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":2}`, string(value), "upsert replaces")

	require.NoError(t, s.Set(ctx, "k", nil))
	value, err = s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Nil(t, value)
}

func TestPostgresStoreWatch(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	dsn := startPostgres(t)

	s, err := NewPostgresStore(ctx, dsn)
	require.NoError(t, err)
	defer s.Close()

	ready := make(chan struct{})
	values, err := s.Watch(ctx, "watched", ready)
	require.NoError(t, err)
	<-ready

	// The watcher re-reads on notification, so writes are interleaved
	// with expectations to pin down which state each wake-up observes.
	require.NoError(t, s.Set(ctx, "watched", []byte(`{"n":1}`)))
	expectValue(t, values, `{"n":1}`)

	require.NoError(t, s.Set(ctx, "other", []byte(`{"n":99}`)))
	require.NoError(t, s.Set(ctx, "watched", []byte(`{"n":2}`)))
	expectValue(t, values, `{"n":2}`)
}

// TestPostgresStoreWatchAcrossInstances exercises the multi-replica
// path: a write through one store instance must wake a watcher on
// another instance of the same database.
func TestPostgresStoreWatchAcrossInstances(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	dsn := startPostgres(t)

	writer, err := NewPostgresStore(ctx, dsn)
	require.NoError(t, err)
	defer writer.Close()

	reader, err := NewPostgresStore(ctx, dsn)
	require.NoError(t, err)
	defer reader.Close()

	ready := make(chan struct{})
	values, err := reader.Watch(ctx, "shared", ready)
	require.NoError(t, err)
	<-ready

	require.NoError(t, writer.Set(ctx, "shared", []byte(`{"from":"writer"}`)))
	expectValue(t, values, `{"from":"writer"}`)
}

func expectValue(t *testing.T, values <-chan []byte, want string) {
	t.Helper()
	select {
	case value := <-values:
		assert.JSONEq(t, want, string(value))
	case <-time.After(10 * time.Second):
		t.Fatalf("timed out waiting for %s", want)
	}
}
