// Package scheduler drives recurring pipeline runs from a cron schedule.
package scheduler

import (
	"context"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"
)

// Runner executes one pipeline pass for a product.
type Runner interface {
	Run(ctx context.Context, product string) error
}

// Scheduler runs every configured product sequentially on each tick. A tick
// that fires while the previous one is still running is skipped.
type Scheduler struct {
	runner   Runner
	products []string
	schedule string
	log      *slog.Logger

	mu      sync.Mutex
	running bool
}

// New creates a Scheduler. schedule is a standard 5-field cron expression.
func New(runner Runner, products []string, schedule string, log *slog.Logger) *Scheduler {
	return &Scheduler{runner: runner, products: products, schedule: schedule, log: log}
}

// Start registers the cron entry, fires one immediate run and blocks until
// ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	c := cron.New()
	if _, err := c.AddFunc(s.schedule, func() { s.tick(ctx) }); err != nil {
		return err
	}

	s.log.Info("scheduler started", "schedule", s.schedule, "products", s.products)
	s.tick(ctx)

	c.Start()
	<-ctx.Done()

	// Let an in-flight tick finish before returning.
	stopCtx := c.Stop()
	<-stopCtx.Done()
	s.log.Info("scheduler stopped")
	return ctx.Err()
}

func (s *Scheduler) tick(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.log.Warn("previous run still in progress, skipping tick")
		return
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	for _, product := range s.products {
		if ctx.Err() != nil {
			return
		}
		if err := s.runner.Run(ctx, product); err != nil {
			// Keep going; one product's feed trouble must not starve the rest.
			s.log.Error("run failed", "product", product, "error", err)
		}
	}
}
