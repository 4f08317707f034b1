package deliver

import (
	"context"
	"fmt"
	"log/slog"

	"vcbot/internal/model"
	"vcbot/internal/render"
	"vcbot/internal/storage"
)

// Coordinator re-attempts deliveries recorded as pending or failed. It works
// purely from the stored record snapshot, so a retry needs no feed access.
type Coordinator struct {
	store      storage.Storage
	dispatcher *Dispatcher
	log        *slog.Logger
}

// NewCoordinator creates a Coordinator on top of an existing dispatcher.
func NewCoordinator(store storage.Storage, dispatcher *Dispatcher, log *slog.Logger) *Coordinator {
	return &Coordinator{store: store, dispatcher: dispatcher, log: log}
}

// Retry re-attempts every pending and failed delivery for ch, oldest first.
// With force, already-sent deliveries are re-posted too. It returns the
// number of records attempted.
func (c *Coordinator) Retry(ctx context.Context, ch model.Channel, force bool) (int, error) {
	var channel ChannelConfig
	found := false
	for _, cc := range c.dispatcher.channels {
		if cc.Name == ch {
			channel = cc
			found = true
			break
		}
	}
	if !found {
		return 0, fmt.Errorf("channel %s not enabled", ch)
	}

	statuses := []model.DeliveryStatus{model.StatusPending, model.StatusFailed}
	if force {
		statuses = append(statuses, model.StatusSent)
	}
	records, err := c.store.ListDeliveries(ctx, ch, statuses...)
	if err != nil {
		return 0, err
	}
	c.log.Info("retrying deliveries", "channel", ch, "count", len(records), "force", force)

	attempted := 0
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return attempted, err
		}
		prev := rec.Deliveries[ch]

		if c.dispatcher.opts.DryRun {
			// Render-only pass; the stored status must survive so a real
			// retry can still pick the record up.
			title := render.Title(rec.Mod, prev.Kind, false)
			c.log.Info("dry run, would retry", "channel", ch, "mod_id", rec.Mod.ID, "title", title)
			attempted++
			continue
		}

		delivery := c.dispatcher.deliverOne(ctx, channel, prev.Kind, rec.Mod)
		if err := c.store.SetDelivery(ctx, rec.Mod.Product, rec.Mod.ID, ch, delivery); err != nil {
			c.log.Error("record retry outcome", "channel", ch, "mod_id", rec.Mod.ID, "error", err)
			continue
		}
		attempted++
	}
	return attempted, nil
}
