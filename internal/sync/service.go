package sync

import (
	"context"
	"log/slog"
	"time"

	"vcbot/internal/model"
	"vcbot/internal/storage"
)

// Deliverer posts one event to the configured channels and reports the
// per-channel outcomes. Implementations persist the outcomes themselves.
type Deliverer interface {
	Deliver(ctx context.Context, ev model.Event) (map[model.Channel]model.Delivery, error)
}

// Options tune one pipeline run.
type Options struct {
	PostNew     bool
	PostUpdates bool
	// MaxPosts caps how many events are dispatched in a single run; 0 means
	// unlimited. Events over the cap keep their pending delivery rows and are
	// drained by the retry command.
	MaxPosts int
	Channels []model.Channel
	Rules    Rules
	// DryRun disables cursor advancement so the same run can be replayed.
	DryRun bool
	// SyntheticCutoff, when set, replaces the stored cursor as the walk's
	// lower bound. Used for replays and backfills.
	SyntheticCutoff time.Time
}

// Service runs the pipeline for one product: walk the feed down to the
// cursor, classify each mod, persist it, dispatch postable events and finally
// advance the cursor.
type Service struct {
	store     storage.Storage
	walker    *Walker
	deliverer Deliverer
	opts      Options
	log       *slog.Logger
}

// NewService creates a Service. deliverer may be nil for fetch-only runs.
func NewService(store storage.Storage, walker *Walker, deliverer Deliverer, opts Options, log *slog.Logger) *Service {
	return &Service{store: store, walker: walker, deliverer: deliverer, opts: opts, log: log}
}

// Run executes one pipeline pass for product. The returned stats are valid
// even when err is non-nil.
func (s *Service) Run(ctx context.Context, product string) (*model.RunStats, error) {
	stats := &model.RunStats{Product: product}
	start := time.Now()

	cutoff, err := s.resolveCutoff(ctx, product)
	if err != nil {
		return stats, err
	}
	s.log.Info("starting run", "product", product, "cutoff", cutoff)

	posted := 0
	clean := true
	it := s.walker.Items(ctx, product, cutoff)
	for it.Next() {
		mod := it.Mod()
		stats.Fetched++
		if err := s.processMod(ctx, mod, stats, &posted); err != nil {
			// One bad record must not poison the batch, but it does pin the
			// cursor: advancing past an unprocessed mod would drop it forever.
			stats.Errors++
			clean = false
			s.log.Error("process mod", "product", product, "mod_id", mod.ID, "error", err)
		}
	}
	if err := it.Err(); err != nil {
		stats.Duration = time.Since(start)
		return stats, err
	}

	if clean && !s.opts.DryRun {
		if max := it.MaxFirstPublished(); !max.IsZero() {
			if err := s.store.SetCursor(ctx, product, max); err != nil {
				stats.Duration = time.Since(start)
				return stats, err
			}
			s.log.Info("cursor advanced", "product", product, "cursor", max)
		}
	}

	stats.Duration = time.Since(start)
	s.log.Info("run completed",
		"product", product,
		"fetched", stats.Fetched,
		"creations", stats.Creations,
		"updates", stats.Updates,
		"unchanged", stats.Unchanged,
		"sent", stats.Sent,
		"failed", stats.Failed,
		"skipped", stats.Skipped,
		"errors", stats.Errors,
		"duration", stats.Duration)
	return stats, nil
}

// resolveCutoff picks the walk's lower bound: the synthetic override when
// given, otherwise the stored cursor, raised to the product's hard stop.
func (s *Service) resolveCutoff(ctx context.Context, product string) (time.Time, error) {
	cutoff := s.opts.SyntheticCutoff
	if cutoff.IsZero() {
		cursor, err := s.store.GetCursor(ctx, product)
		if err != nil {
			return time.Time{}, err
		}
		if cursor != nil {
			cutoff = cursor.LastSeenFirstPublished
		}
	}
	if stop, ok := s.opts.Rules.HardStops[product]; ok && stop.After(cutoff) {
		cutoff = stop
	}
	return cutoff, nil
}

func (s *Service) processMod(ctx context.Context, mod model.Mod, stats *model.RunStats, posted *int) error {
	prev, err := s.store.GetRecord(ctx, mod.Product, mod.ID)
	if err != nil {
		return err
	}

	ev := Classify(mod, prev)
	switch ev.Kind {
	case model.KindUnchanged:
		stats.Unchanged++
		return nil
	case model.KindCreation:
		stats.Creations++
	case model.KindUpdate:
		stats.Updates++
	}

	now := time.Now().UTC()
	rec := &model.Record{
		Mod:         mod,
		ContentHash: ContentHash(mod),
		FirstSeenAt: now,
		LastSeenAt:  now,
	}
	if prev != nil {
		rec.FirstSeenAt = prev.FirstSeenAt
	}

	postable := s.shouldPost(ev)
	if postable {
		rec.Deliveries = make(map[model.Channel]model.Delivery, len(s.opts.Channels))
		for _, ch := range s.opts.Channels {
			rec.Deliveries[ch] = model.Delivery{Kind: ev.Kind, Status: model.StatusPending}
		}
	}

	// Pending rows land before any send attempt so a crash mid-dispatch
	// leaves retryable state instead of a silently lost post.
	if err := s.store.UpsertRecord(ctx, rec); err != nil {
		return err
	}

	if !postable || s.deliverer == nil {
		return nil
	}
	if s.opts.MaxPosts > 0 && *posted >= s.opts.MaxPosts {
		s.log.Info("post cap reached, leaving pending", "product", mod.Product, "mod_id", mod.ID)
		return nil
	}
	*posted++

	outcomes, err := s.deliverer.Deliver(ctx, ev)
	for _, d := range outcomes {
		switch d.Status {
		case model.StatusSent:
			stats.Sent++
		case model.StatusFailed:
			stats.Failed++
		case model.StatusSkipped:
			stats.Skipped++
		}
	}
	return err
}

func (s *Service) shouldPost(ev model.Event) bool {
	if len(s.opts.Channels) == 0 {
		return false
	}
	switch ev.Kind {
	case model.KindCreation:
		return s.opts.PostNew && s.opts.Rules.EligibleCreation(ev.Mod)
	case model.KindUpdate:
		return s.opts.PostUpdates
	}
	return false
}
