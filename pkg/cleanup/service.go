// Package cleanup provides data retention for durable store backends.
package cleanup

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper deletes every key under a prefix not written for olderThan.
// The PostgreSQL store implements it; the in-memory store enforces its
// own retention and needs no sweeping.
type Sweeper interface {
	Sweep(ctx context.Context, prefix string, olderThan time.Duration) (int64, error)
}

// Service periodically removes run records past their retention window.
// Sweeps are idempotent and safe to run from multiple replicas sharing
// one store.
type Service struct {
	sweeper  Sweeper
	prefixes []string
	ttl      time.Duration
	interval time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a retention service sweeping the given key prefixes.
func NewService(sweeper Sweeper, prefixes []string, ttl, interval time.Duration) *Service {
	return &Service{
		sweeper:  sweeper,
		prefixes: prefixes,
		ttl:      ttl,
		interval: interval,
	}
}

// Start launches the background sweep loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("Cleanup service started", "ttl", s.ttl, "interval", s.interval)
}

// Stop signals the sweep loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("Cleanup service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.sweepAll(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepAll(ctx)
		}
	}
}

func (s *Service) sweepAll(ctx context.Context) {
	for _, prefix := range s.prefixes {
		count, err := s.sweeper.Sweep(ctx, prefix, s.ttl)
		if err != nil {
			if ctx.Err() == nil {
				slog.Error("Retention sweep failed", "prefix", prefix, "error", err)
			}
			continue
		}
		if count > 0 {
			slog.Info("Retention sweep removed entries", "prefix", prefix, "count", count)
		}
	}
}
