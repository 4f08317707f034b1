package sync

import (
	"strings"
	"time"

	"vcbot/internal/model"
)

// Rules gates which creations are announced. Updates are never gated here;
// once a mod has been announced its updates follow the record.
type Rules struct {
	// HardStops holds per-product floors. Creations first published before
	// the floor are backfill noise from the initial import and stay silent.
	HardStops map[string]time.Time
	// PublisherAccount names the first-party author whose free content is
	// still announced (normal authors must carry a paid price).
	PublisherAccount string
	// PublisherIgnoreBefore silences first-party creations older than this,
	// independent of the per-product hard stop.
	PublisherIgnoreBefore time.Time
}

// EligibleCreation reports whether a newly discovered mod should be announced.
func (r Rules) EligibleCreation(mod model.Mod) bool {
	if !mod.AuthorVerified {
		return false
	}

	publisher := r.isPublisher(mod.AuthorName)
	if !mod.HasPaidPrice() && !publisher {
		return false
	}

	ts := mod.FirstPublished()
	if ts.IsZero() {
		return true
	}
	if stop, ok := r.HardStops[mod.Product]; ok && ts.Before(stop) {
		return false
	}
	if publisher && !r.PublisherIgnoreBefore.IsZero() && ts.Before(r.PublisherIgnoreBefore) {
		return false
	}
	return true
}

func (r Rules) isPublisher(author string) bool {
	return r.PublisherAccount != "" && strings.EqualFold(author, r.PublisherAccount)
}
