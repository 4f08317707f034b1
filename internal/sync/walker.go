// Package sync implements the fetch/classify/deliver pipeline for a product.
package sync

import (
	"context"
	"log/slog"
	"time"

	"vcbot/internal/model"
)

// PageFetcher fetches one page of the remote feed for a product. Pages are
// numbered from 1 and sorted newest first by first publish time; an empty
// page means the feed is exhausted.
type PageFetcher interface {
	FetchPage(ctx context.Context, product string, page int) ([]model.Mod, error)
}

// Walker pages through the remote feed and presents the result as a single
// lazy sequence bounded by a cutoff timestamp. It holds no server-side state,
// so walking again from scratch simply re-issues the paging calls.
type Walker struct {
	source   PageFetcher
	maxPages int
	log      *slog.Logger
}

// NewWalker creates a Walker. maxPages of 0 means unlimited.
func NewWalker(source PageFetcher, maxPages int, log *slog.Logger) *Walker {
	return &Walker{source: source, maxPages: maxPages, log: log}
}

// Items starts a walk for product. Items at or before cutoff are never
// yielded; a zero cutoff yields everything up to the page limits.
func (w *Walker) Items(ctx context.Context, product string, cutoff time.Time) *Iterator {
	return &Iterator{
		ctx:     ctx,
		walker:  w,
		product: product,
		cutoff:  cutoff,
		page:    1,
	}
}

// Iterator yields mods in feed order (newest first). Usage mirrors sql.Rows:
// call Next until it returns false, then check Err.
type Iterator struct {
	ctx     context.Context
	walker  *Walker
	product string
	cutoff  time.Time

	page    int
	fetched int
	buf     []model.Mod
	idx     int
	cur     model.Mod
	maxSeen time.Time
	stop    bool
	done    bool
	err     error
}

// Next advances to the next yielded mod. It returns false when the walk is
// finished or failed.
func (it *Iterator) Next() bool {
	for {
		if it.done || it.err != nil {
			return false
		}

		for it.idx < len(it.buf) {
			mod := it.buf[it.idx]
			it.idx++
			if mod.ID == "" {
				it.walker.log.Warn("skipping mod with missing id", "product", it.product)
				continue
			}
			ts := mod.FirstPublished()
			if !it.cutoff.IsZero() && !ts.IsZero() && !ts.After(it.cutoff) {
				// Boundary reached. Finish scanning this page so ties that
				// are strictly newer than the cutoff are not lost, but do
				// not request further pages.
				it.stop = true
				continue
			}
			if ts.After(it.maxSeen) {
				it.maxSeen = ts
			}
			it.cur = mod
			return true
		}

		if it.stop {
			it.done = true
			return false
		}
		if it.walker.maxPages > 0 && it.fetched >= it.walker.maxPages {
			it.done = true
			return false
		}

		mods, err := it.walker.source.FetchPage(it.ctx, it.product, it.page)
		if err != nil {
			it.err = err
			return false
		}
		it.fetched++
		it.page++
		if len(mods) == 0 {
			it.done = true
			return false
		}
		it.buf = mods
		it.idx = 0
	}
}

// Mod returns the mod produced by the last successful call to Next.
func (it *Iterator) Mod() model.Mod { return it.cur }

// Err returns the error that terminated the walk, if any.
func (it *Iterator) Err() error { return it.err }

// MaxFirstPublished returns the newest first-publish time among yielded mods.
// Once the walk completes cleanly this is the new cursor value.
func (it *Iterator) MaxFirstPublished() time.Time { return it.maxSeen }
