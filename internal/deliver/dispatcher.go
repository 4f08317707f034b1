package deliver

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"vcbot/internal/model"
	"vcbot/internal/render"
	"vcbot/internal/storage"
)

// ChannelConfig binds one channel to its sender and body template. A nil
// Sender means the channel is enabled for bookkeeping but not configured, so
// its deliveries are recorded as skipped.
type ChannelConfig struct {
	Name     model.Channel
	Sender   Sender
	Template string
}

// Options tune dispatch behavior.
type Options struct {
	// DryRun renders and logs but never sends; outcomes are recorded skipped.
	DryRun bool
	// ManualDir, when set, writes rendered posts to disk instead of sending.
	ManualDir string
}

// Dispatcher fans one classified event out to every configured channel and
// persists each outcome. A failure on one channel never blocks another.
type Dispatcher struct {
	store    storage.Storage
	channels []ChannelConfig
	opts     Options
	log      *slog.Logger
}

// New creates a Dispatcher.
func New(store storage.Storage, channels []ChannelConfig, opts Options, log *slog.Logger) *Dispatcher {
	return &Dispatcher{store: store, channels: channels, opts: opts, log: log}
}

// Deliver posts ev to every channel and records the outcomes. The returned
// map always covers all channels; err reports bookkeeping failures only.
func (d *Dispatcher) Deliver(ctx context.Context, ev model.Event) (map[model.Channel]model.Delivery, error) {
	outcomes := make(map[model.Channel]model.Delivery, len(d.channels))
	var firstErr error
	for _, ch := range d.channels {
		delivery := d.deliverOne(ctx, ch, ev.Kind, ev.Mod)
		outcomes[ch.Name] = delivery
		if err := d.store.SetDelivery(ctx, ev.Mod.Product, ev.Mod.ID, ch.Name, delivery); err != nil {
			d.log.Error("record delivery outcome", "channel", ch.Name, "mod_id", ev.Mod.ID, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return outcomes, firstErr
}

func (d *Dispatcher) deliverOne(ctx context.Context, ch ChannelConfig, kind model.EventKind, mod model.Mod) model.Delivery {
	delivery := model.Delivery{Kind: kind, Status: model.StatusSkipped, LastAttemptAt: time.Now().UTC()}

	fields := render.Fields(mod, kind)
	body := render.Render(ch.Template, fields)
	title := render.Title(mod, kind, false)

	switch {
	case d.opts.ManualDir != "":
		if err := d.writeManual(ch.Name, mod, title, body); err != nil {
			delivery.Status = model.StatusFailed
			delivery.Error = err.Error()
		}
		return delivery
	case d.opts.DryRun:
		d.log.Info("dry run, not posting", "channel", ch.Name, "mod_id", mod.ID, "title", title)
		return delivery
	case ch.Sender == nil:
		d.log.Debug("channel not configured", "channel", ch.Name, "mod_id", mod.ID)
		return delivery
	}

	receipt, err := ch.Sender.Send(ctx, Payload{Title: title, Body: body})
	if err != nil {
		delivery.Status = model.StatusFailed
		delivery.Error = err.Error()
		d.log.Error("send failed", "channel", ch.Name, "mod_id", mod.ID,
			"transient", IsTransient(err), "error", err)
		return delivery
	}

	delivery.Status = model.StatusSent
	delivery.PostID = receipt.PostID
	delivery.PostURL = receipt.URL
	d.log.Info("delivered", "channel", ch.Name, "mod_id", mod.ID, "kind", kind, "post_id", receipt.PostID)
	return delivery
}

// writeManual drops the rendered post into <dir>/<channel>/ for hand posting.
func (d *Dispatcher) writeManual(ch model.Channel, mod model.Mod, title, body string) error {
	dir := filepath.Join(d.opts.ManualDir, string(ch))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create manual dir: %w", err)
	}
	name := fmt.Sprintf("%s_%s.md", time.Now().UTC().Format("20060102"), sanitizeFilename(mod.Title))
	path := filepath.Join(dir, name)
	content := fmt.Sprintf("# %s\n\n%s\n", title, body)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write manual post: %w", err)
	}
	d.log.Info("wrote manual post", "channel", ch, "path", path)
	return nil
}

func sanitizeFilename(name string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "post"
	}
	return b.String()
}
