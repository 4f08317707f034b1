// Package model defines the domain types used across the application.
package model

import "time"

// Channel identifies an outbound delivery target.
type Channel string

// Supported delivery channels.
const (
	ChannelReddit  Channel = "reddit"
	ChannelDiscord Channel = "discord"
)

// Channels lists every channel the bot knows about, in delivery order.
var Channels = []Channel{ChannelReddit, ChannelDiscord}

// DeliveryStatus is the per-channel outcome of posting a record.
type DeliveryStatus string

// Supported delivery statuses.
const (
	StatusPending DeliveryStatus = "pending"
	StatusSent    DeliveryStatus = "sent"
	StatusFailed  DeliveryStatus = "failed"
	StatusSkipped DeliveryStatus = "skipped"
)

// EventKind classifies a fetched mod against the local record.
type EventKind string

// Supported event kinds. Only creation and update are postable.
const (
	KindCreation  EventKind = "creation"
	KindUpdate    EventKind = "update"
	KindUnchanged EventKind = "unchanged"
)

// Price is a single storefront price attached to a mod.
type Price struct {
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency,omitempty"`
}

// Mod is one entry from the remote Creations feed. It is rebuilt on every
// fetch and never persisted verbatim; Record holds the tracked snapshot.
type Mod struct {
	ID               string    `json:"mod_id"`
	Product          string    `json:"product"`
	ProductTitle     string    `json:"product_title,omitempty"`
	Title            string    `json:"title"`
	Summary          string    `json:"summary,omitempty"`
	Description      string    `json:"description,omitempty"`
	ContentType      string    `json:"content_type,omitempty"`
	AuthorName       string    `json:"author_name,omitempty"`
	AuthorVerified   bool      `json:"author_verified"`
	AuthorOfficial   bool      `json:"author_official"`
	Platforms        []string  `json:"platforms,omitempty"`
	Categories       []string  `json:"categories,omitempty"`
	Prices           []Price   `json:"prices,omitempty"`
	Version          string    `json:"version,omitempty"`
	PreviewImageURL  string    `json:"preview_image_url,omitempty"`
	CoverImageURL    string    `json:"cover_image_url,omitempty"`
	ScreenshotURLs   []string  `json:"screenshot_urls,omitempty"`
	DetailsURL       string    `json:"details_url,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	PublishedAt      time.Time `json:"published_at"`
	FirstPublishedAt time.Time `json:"first_published_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// FirstPublished returns the watermark timestamp for cursor comparisons,
// falling back to the publish time when the feed omits first_ptime.
func (m Mod) FirstPublished() time.Time {
	if !m.FirstPublishedAt.IsZero() {
		return m.FirstPublishedAt
	}
	return m.PublishedAt
}

// HasPaidPrice reports whether any price on the mod is above zero.
func (m Mod) HasPaidPrice() bool {
	for _, p := range m.Prices {
		if p.Amount > 0 {
			return true
		}
	}
	return false
}

// Delivery tracks the outcome of posting one record to one channel.
type Delivery struct {
	Kind          EventKind      `json:"kind"`
	Status        DeliveryStatus `json:"status"`
	PostID        string         `json:"post_id,omitempty"`
	PostURL       string         `json:"post_url,omitempty"`
	Error         string         `json:"error,omitempty"`
	LastAttemptAt time.Time      `json:"last_attempt_at"`
}

// Record is the persisted projection of a Mod plus delivery bookkeeping.
// Identity is the (Product, Mod.ID) composite key.
type Record struct {
	Mod         Mod                  `json:"mod"`
	ContentHash string               `json:"content_hash"`
	FirstSeenAt time.Time            `json:"first_seen_at"`
	LastSeenAt  time.Time            `json:"last_seen_at"`
	Deliveries  map[Channel]Delivery `json:"deliveries,omitempty"`
}

// Cursor is the per-product sync watermark. It only ever moves forward.
type Cursor struct {
	Product                string    `json:"product"`
	LastSeenFirstPublished time.Time `json:"last_seen_first_published"`
	UpdatedAt              time.Time `json:"updated_at"`
}

// Event is the ephemeral result of classifying one fetched mod.
type Event struct {
	Kind     EventKind
	Mod      Mod
	Previous *Record
}

// Postable reports whether the event is eligible for delivery at all.
func (e Event) Postable() bool {
	return e.Kind == KindCreation || e.Kind == KindUpdate
}

// RunStats summarizes one pipeline run for a single product.
type RunStats struct {
	Product   string
	Fetched   int
	Creations int
	Updates   int
	Unchanged int
	Sent      int
	Failed    int
	Skipped   int
	Errors    int
	Duration  time.Duration
}

// Dump is the plain serializable form of the whole store, used by the
// export-db and import-db commands.
type Dump struct {
	Records []Record `json:"records"`
	Cursors []Cursor `json:"cursors"`
}
