package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingRunner struct {
	products []string
	err      error
}

func (r *recordingRunner) Run(_ context.Context, product string) error {
	r.products = append(r.products, product)
	if r.err != nil && product == "SKYRIM" {
		return r.err
	}
	return nil
}

func TestTickRunsProductsInOrder(t *testing.T) {
	runner := &recordingRunner{}
	s := New(runner, []string{"FALLOUT4", "SKYRIM", "STARFIELD"}, "* * * * *", discardLogger())

	s.tick(context.Background())

	want := []string{"FALLOUT4", "SKYRIM", "STARFIELD"}
	if diff := cmp.Diff(want, runner.products); diff != "" {
		t.Errorf("products mismatch (-want +got):\n%s", diff)
	}
}

func TestTickContinuesAfterFailure(t *testing.T) {
	runner := &recordingRunner{err: errors.New("feed down")}
	s := New(runner, []string{"FALLOUT4", "SKYRIM", "STARFIELD"}, "* * * * *", discardLogger())

	s.tick(context.Background())

	// SKYRIM fails but STARFIELD still runs.
	want := []string{"FALLOUT4", "SKYRIM", "STARFIELD"}
	if diff := cmp.Diff(want, runner.products); diff != "" {
		t.Errorf("products mismatch (-want +got):\n%s", diff)
	}
}

func TestTickSkipsWhileRunning(t *testing.T) {
	runner := &recordingRunner{}
	s := New(runner, []string{"FALLOUT4"}, "* * * * *", discardLogger())

	s.mu.Lock()
	s.running = true
	s.mu.Unlock()

	s.tick(context.Background())

	if len(runner.products) != 0 {
		t.Errorf("overlapping tick must be skipped, ran %v", runner.products)
	}
}

func TestTickStopsOnCancelledContext(t *testing.T) {
	runner := &recordingRunner{}
	s := New(runner, []string{"FALLOUT4", "SKYRIM"}, "* * * * *", discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s.tick(ctx)

	if len(runner.products) != 0 {
		t.Errorf("cancelled context must stop the tick, ran %v", runner.products)
	}
}
