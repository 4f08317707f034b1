// Package storage defines the persistence interface and its implementations.
package storage

import (
	"context"
	"fmt"
	"time"

	"vcbot/internal/model"
)

// Storage is the interface for all persistence operations. Every method is a
// single-record transaction; there are no cross-record transactions because
// each mod is processed independently.
type Storage interface {
	// GetRecord returns the tracked record for (product, modID), or nil when
	// the mod has never been seen.
	GetRecord(ctx context.Context, product, modID string) (*model.Record, error)
	// UpsertRecord inserts or replaces the record keyed by (product, mod_id).
	// first_seen_at of an existing row is preserved. Delivery rows present in
	// rec.Deliveries are written; other channels' rows are left untouched.
	UpsertRecord(ctx context.Context, rec *model.Record) error
	// SetDelivery records the outcome of one delivery attempt for one channel.
	SetDelivery(ctx context.Context, product, modID string, ch model.Channel, d model.Delivery) error
	// ListDeliveries returns records whose delivery to ch has any of the given
	// statuses, with the full delivery map loaded.
	ListDeliveries(ctx context.Context, ch model.Channel, statuses ...model.DeliveryStatus) ([]model.Record, error)

	// GetCursor returns the sync watermark for a product, or nil on first run.
	GetCursor(ctx context.Context, product string) (*model.Cursor, error)
	// SetCursor advances the watermark. Moving it backwards is a no-op.
	SetCursor(ctx context.Context, product string, ts time.Time) error

	Export(ctx context.Context) (*model.Dump, error)
	Import(ctx context.Context, dump *model.Dump) error

	Close() error
}

// StorageError wraps a failure inside the persistence layer. Callers treat it
// as fatal for the record being processed, never for the whole run.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }
