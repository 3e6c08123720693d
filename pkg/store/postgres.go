package store

import (
	"context"
	stdsql "database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver for database/sql (migrations)
)

//go:embed migrations
var migrationsFS embed.FS

// notifyChannel carries the changed key as its payload. A single channel
// serves the whole table; watchers filter on the payload.
const notifyChannel = "acp_store_update"

// PostgresStore persists values in a single key→JSONB table and
// implements watch with LISTEN/NOTIFY. Every Set notifies in the same
// transaction as the write, so a listener that re-reads on notification
// observes the committed value.
type PostgresStore struct {
	pool *pgxpool.Pool
	dsn  string
}

// NewPostgresStore connects a pool, runs migrations and returns the
// store. Retention is the caller's responsibility.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	if err := runMigrations(dsn); err != nil {
		return nil, err
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}
	return &PostgresStore{pool: pool, dsn: dsn}, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Get returns the value for key, or nil when absent.
func (s *PostgresStore) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.pool.QueryRow(ctx, `SELECT value FROM acp_store WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres store: get %s: %w", key, err)
	}
	return value, nil
}

// Set upserts value under key (nil deletes) and notifies watchers in the
// same transaction.
func (s *PostgresStore) Set(ctx context.Context, key string, value []byte) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres store: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if value == nil {
		_, err = tx.Exec(ctx, `DELETE FROM acp_store WHERE key = $1`, key)
	} else {
		_, err = tx.Exec(ctx, `
			INSERT INTO acp_store (key, value)
			VALUES ($1, $2)
			ON CONFLICT (key)
			DO UPDATE SET value = EXCLUDED.value, updated_at = now()`, key, value)
	}
	if err != nil {
		return fmt.Errorf("postgres store: set %s: %w", key, err)
	}
	if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, notifyChannel, key); err != nil {
		return fmt.Errorf("postgres store: notify %s: %w", key, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres store: commit %s: %w", key, err)
	}
	return nil
}

// Sweep deletes every key under prefix not written for olderThan and
// returns the number of rows removed. Sweeps do not notify watchers; a
// swept run is long past its last subscriber.
func (s *PostgresStore) Sweep(ctx context.Context, prefix string, olderThan time.Duration) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM acp_store
		WHERE key LIKE $1 || '%' AND updated_at < now() - ($2 * interval '1 second')`,
		prefix, olderThan.Seconds())
	if err != nil {
		return 0, fmt.Errorf("postgres store: sweep %s: %w", prefix, err)
	}
	return tag.RowsAffected(), nil
}

// Watch opens a dedicated LISTEN connection and re-reads the key on every
// notification whose payload matches. Ready is closed once LISTEN is
// active.
func (s *PostgresStore) Watch(ctx context.Context, key string, ready chan<- struct{}) (<-chan []byte, error) {
	// Dedicated connection: WaitForNotification would otherwise starve
	// pooled queries on the same conn.
	conn, err := pgx.Connect(ctx, s.dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: listen connect: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{notifyChannel}.Sanitize()); err != nil {
		_ = conn.Close(ctx)
		return nil, fmt.Errorf("postgres store: listen: %w", err)
	}
	if ready != nil {
		close(ready)
	}

	out := make(chan []byte)
	go func() {
		defer close(out)
		defer func() {
			if err := conn.Close(context.Background()); err != nil {
				slog.Warn("Closing LISTEN connection failed", "error", err)
			}
		}()
		for {
			notification, err := conn.WaitForNotification(ctx)
			if err != nil {
				if ctx.Err() == nil {
					slog.Warn("LISTEN connection lost", "key", key, "error", err)
				}
				return
			}
			if notification.Payload != key {
				continue
			}
			value, err := s.Get(ctx, key)
			if err != nil {
				slog.Warn("Re-reading watched key failed", "key", key, "error", err)
				continue
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

// runMigrations applies the embedded schema migrations through the
// database/sql pgx driver.
func runMigrations(dsn string) error {
	db, err := stdsql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("postgres store: open for migrations: %w", err)
	}
	defer func() { _ = db.Close() }()

	driver, err := migratepg.WithInstance(db, &migratepg.Config{})
	if err != nil {
		return fmt.Errorf("postgres store: migration driver: %w", err)
	}
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("postgres store: migration source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("postgres store: migrate init: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("postgres store: migrate up: %w", err)
	}
	return nil
}
