package sync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"vcbot/internal/model"
	"vcbot/internal/storage"
)

// fakeDeliverer mimics the dispatcher: it records events and persists the
// configured outcome for every channel.
type fakeDeliverer struct {
	store    storage.Storage
	outcome  model.Delivery
	channels []model.Channel
	events   []model.Event
}

func (f *fakeDeliverer) Deliver(ctx context.Context, ev model.Event) (map[model.Channel]model.Delivery, error) {
	f.events = append(f.events, ev)
	out := make(map[model.Channel]model.Delivery, len(f.channels))
	for _, ch := range f.channels {
		d := f.outcome
		d.Kind = ev.Kind
		out[ch] = d
		if f.store != nil {
			if err := f.store.SetDelivery(ctx, ev.Mod.Product, ev.Mod.ID, ch, d); err != nil {
				return out, err
			}
		}
	}
	return out, nil
}

func newTestStore(t *testing.T) storage.Storage {
	t.Helper()
	s, err := storage.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func eligibleMod(id string, firstPublished time.Time) model.Mod {
	m := feedMod(id, firstPublished)
	m.AuthorName = "somecreator"
	m.AuthorVerified = true
	m.Prices = []model.Price{{Amount: 500}}
	m.UpdatedAt = firstPublished
	return m
}

func defaultOptions() Options {
	return Options{
		PostNew:     true,
		PostUpdates: true,
		Channels:    []model.Channel{model.ChannelReddit, model.ChannelDiscord},
	}
}

func TestRunCreationFlow(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	feed := &fakeFeed{pages: [][]model.Mod{{
		eligibleMod("b", base.Add(2*time.Hour)),
		eligibleMod("a", base.Add(time.Hour)),
	}}}
	deliverer := &fakeDeliverer{
		store:    store,
		outcome:  model.Delivery{Status: model.StatusSent, PostID: "t3_x"},
		channels: []model.Channel{model.ChannelReddit, model.ChannelDiscord},
	}
	svc := NewService(store, NewWalker(feed, 0, discardLogger()), deliverer, defaultOptions(), discardLogger())

	stats, err := svc.Run(ctx, "FALLOUT4")
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if stats.Fetched != 2 || stats.Creations != 2 || stats.Sent != 4 || stats.Errors != 0 {
		t.Errorf("unexpected stats: %+v", stats)
	}
	if len(deliverer.events) != 2 {
		t.Fatalf("expected 2 dispatched events, got %d", len(deliverer.events))
	}

	cursor, err := store.GetCursor(ctx, "FALLOUT4")
	if err != nil {
		t.Fatalf("get cursor: %v", err)
	}
	if cursor == nil || !cursor.LastSeenFirstPublished.Equal(base.Add(2*time.Hour)) {
		t.Errorf("cursor not advanced to newest item: %+v", cursor)
	}

	rec, err := store.GetRecord(ctx, "FALLOUT4", "a")
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	if rec == nil {
		t.Fatal("record not stored")
	}
	if rec.Deliveries[model.ChannelReddit].Status != model.StatusSent {
		t.Errorf("reddit delivery not marked sent: %+v", rec.Deliveries)
	}
}

func TestRunSecondPassIsUnchanged(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	feed := &fakeFeed{pages: [][]model.Mod{{eligibleMod("a", base.Add(time.Hour))}}}
	deliverer := &fakeDeliverer{
		store:    store,
		outcome:  model.Delivery{Status: model.StatusSent},
		channels: []model.Channel{model.ChannelReddit},
	}
	opts := defaultOptions()
	svc := NewService(store, NewWalker(feed, 0, discardLogger()), deliverer, opts, discardLogger())

	if _, err := svc.Run(ctx, "FALLOUT4"); err != nil {
		t.Fatalf("first run: %v", err)
	}

	// Replay the same feed from before the item; it must classify unchanged
	// and nothing new may be dispatched.
	opts.SyntheticCutoff = base
	svc = NewService(store, NewWalker(feed, 0, discardLogger()), deliverer, opts, discardLogger())
	stats, err := svc.Run(ctx, "FALLOUT4")
	if err != nil {
		t.Fatalf("second run: %v", err)
	}

	if stats.Unchanged != 1 || stats.Creations != 0 {
		t.Errorf("unexpected stats on replay: %+v", stats)
	}
	if len(deliverer.events) != 1 {
		t.Errorf("replay dispatched again: %d events", len(deliverer.events))
	}
}

func TestRunFetchErrorKeepsCursor(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	if err := store.SetCursor(ctx, "FALLOUT4", base); err != nil {
		t.Fatalf("seed cursor: %v", err)
	}

	wantErr := errors.New("feed down")
	feed := &fakeFeed{err: wantErr}
	svc := NewService(store, NewWalker(feed, 0, discardLogger()), nil, defaultOptions(), discardLogger())

	if _, err := svc.Run(ctx, "FALLOUT4"); !errors.Is(err, wantErr) {
		t.Fatalf("expected feed error, got %v", err)
	}

	cursor, err := store.GetCursor(ctx, "FALLOUT4")
	if err != nil {
		t.Fatalf("get cursor: %v", err)
	}
	if !cursor.LastSeenFirstPublished.Equal(base) {
		t.Errorf("cursor moved despite fetch error: %+v", cursor)
	}
}

// flakyStore fails record reads for one mod id.
type flakyStore struct {
	storage.Storage
	failID string
}

func (f *flakyStore) GetRecord(ctx context.Context, product, modID string) (*model.Record, error) {
	if modID == f.failID {
		return nil, &storage.StorageError{Op: "get record", Err: errors.New("disk hiccup")}
	}
	return f.Storage.GetRecord(ctx, product, modID)
}

func TestRunRecordErrorPinsCursor(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	feed := &fakeFeed{pages: [][]model.Mod{{
		eligibleMod("good", base.Add(2*time.Hour)),
		eligibleMod("bad", base.Add(time.Hour)),
	}}}
	flaky := &flakyStore{Storage: store, failID: "bad"}
	deliverer := &fakeDeliverer{
		store:    store,
		outcome:  model.Delivery{Status: model.StatusSent},
		channels: []model.Channel{model.ChannelReddit},
	}
	svc := NewService(flaky, NewWalker(feed, 0, discardLogger()), deliverer, defaultOptions(), discardLogger())

	stats, err := svc.Run(ctx, "FALLOUT4")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if stats.Errors != 1 {
		t.Errorf("expected 1 item error, got %d", stats.Errors)
	}
	// The healthy item still went through.
	if len(deliverer.events) != 1 || deliverer.events[0].Mod.ID != "good" {
		t.Errorf("healthy item not dispatched: %+v", deliverer.events)
	}

	// The cursor must not advance past a mod that was never processed.
	cursor, err := store.GetCursor(ctx, "FALLOUT4")
	if err != nil {
		t.Fatalf("get cursor: %v", err)
	}
	if cursor != nil {
		t.Errorf("cursor advanced despite item error: %+v", cursor)
	}
}

func TestRunMaxPostsLeavesPending(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	feed := &fakeFeed{pages: [][]model.Mod{{
		eligibleMod("first", base.Add(2*time.Hour)),
		eligibleMod("second", base.Add(time.Hour)),
	}}}
	deliverer := &fakeDeliverer{
		store:    store,
		outcome:  model.Delivery{Status: model.StatusSent},
		channels: []model.Channel{model.ChannelReddit},
	}
	opts := defaultOptions()
	opts.Channels = []model.Channel{model.ChannelReddit}
	opts.MaxPosts = 1
	svc := NewService(store, NewWalker(feed, 0, discardLogger()), deliverer, opts, discardLogger())

	if _, err := svc.Run(ctx, "FALLOUT4"); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(deliverer.events) != 1 {
		t.Fatalf("expected 1 dispatch under cap, got %d", len(deliverer.events))
	}

	// The capped item keeps its pending rows for the retry path.
	pending, err := store.ListDeliveries(ctx, model.ChannelReddit, model.StatusPending)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	var ids []string
	for _, rec := range pending {
		ids = append(ids, rec.Mod.ID)
	}
	if diff := cmp.Diff([]string{"second"}, ids); diff != "" {
		t.Errorf("pending ids mismatch (-want +got):\n%s", diff)
	}
}

func TestRunDryRunKeepsCursor(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	feed := &fakeFeed{pages: [][]model.Mod{{eligibleMod("a", base.Add(time.Hour))}}}
	opts := defaultOptions()
	opts.DryRun = true
	svc := NewService(store, NewWalker(feed, 0, discardLogger()), nil, opts, discardLogger())

	if _, err := svc.Run(ctx, "FALLOUT4"); err != nil {
		t.Fatalf("run: %v", err)
	}

	cursor, err := store.GetCursor(ctx, "FALLOUT4")
	if err != nil {
		t.Fatalf("get cursor: %v", err)
	}
	if cursor != nil {
		t.Errorf("dry run advanced the cursor: %+v", cursor)
	}
}

func TestRunUpdateToggle(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	mod := eligibleMod("a", base.Add(time.Hour))
	feed := &fakeFeed{pages: [][]model.Mod{{mod}}}
	deliverer := &fakeDeliverer{
		store:    store,
		outcome:  model.Delivery{Status: model.StatusSent},
		channels: []model.Channel{model.ChannelReddit},
	}
	opts := defaultOptions()
	svc := NewService(store, NewWalker(feed, 0, discardLogger()), deliverer, opts, discardLogger())
	if _, err := svc.Run(ctx, "FALLOUT4"); err != nil {
		t.Fatalf("first run: %v", err)
	}

	// Same mod, newer update time, with update posting switched off.
	changed := mod
	changed.UpdatedAt = mod.UpdatedAt.Add(time.Hour)
	feed.pages = [][]model.Mod{{changed}}
	opts.PostUpdates = false
	opts.SyntheticCutoff = base
	svc = NewService(store, NewWalker(feed, 0, discardLogger()), deliverer, opts, discardLogger())

	stats, err := svc.Run(ctx, "FALLOUT4")
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if stats.Updates != 1 {
		t.Errorf("update not classified: %+v", stats)
	}
	if len(deliverer.events) != 1 {
		t.Errorf("update dispatched despite toggle: %d events", len(deliverer.events))
	}

	// The record itself must still track the new snapshot.
	rec, err := store.GetRecord(ctx, "FALLOUT4", "a")
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	if !rec.Mod.UpdatedAt.Equal(changed.UpdatedAt) {
		t.Errorf("record snapshot not refreshed: %+v", rec.Mod.UpdatedAt)
	}
}
