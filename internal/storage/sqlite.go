package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration.

	"vcbot/internal/model"
	"vcbot/migrations"
)

const timeLayout = "2006-01-02T15:04:05Z"

// SQLite implements Storage backed by a SQLite database.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at dsn and runs pending migrations.
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if err := migrations.Run(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

const recordColumns = `product, mod_id, product_title, title, summary, description,
	content_type, author_name, author_verified, author_official,
	platforms_json, categories_json, prices_json, version,
	preview_image_url, cover_image_url, screenshots_json, details_url,
	created_at, published_at, first_published_at, updated_at,
	content_hash, first_seen_at, last_seen_at`

// GetRecord returns the tracked record for (product, modID), or nil when absent.
func (s *SQLite) GetRecord(ctx context.Context, product, modID string) (*model.Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM records WHERE product = ? AND mod_id = ?`,
		product, modID,
	)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &StorageError{Op: "get record", Err: err}
	}
	if err := s.loadDeliveries(ctx, rec); err != nil {
		return nil, &StorageError{Op: "get record deliveries", Err: err}
	}
	return rec, nil
}

// UpsertRecord inserts or replaces the record and writes any delivery rows
// present in rec.Deliveries. first_seen_at of an existing row is kept.
func (s *SQLite) UpsertRecord(ctx context.Context, rec *model.Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &StorageError{Op: "begin upsert", Err: err}
	}
	defer func() { _ = tx.Rollback() }()

	m := rec.Mod
	_, err = tx.ExecContext(ctx,
		`INSERT INTO records (`+recordColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(product, mod_id) DO UPDATE SET
			product_title = excluded.product_title,
			title = excluded.title,
			summary = excluded.summary,
			description = excluded.description,
			content_type = excluded.content_type,
			author_name = excluded.author_name,
			author_verified = excluded.author_verified,
			author_official = excluded.author_official,
			platforms_json = excluded.platforms_json,
			categories_json = excluded.categories_json,
			prices_json = excluded.prices_json,
			version = excluded.version,
			preview_image_url = excluded.preview_image_url,
			cover_image_url = excluded.cover_image_url,
			screenshots_json = excluded.screenshots_json,
			details_url = excluded.details_url,
			created_at = excluded.created_at,
			published_at = excluded.published_at,
			first_published_at = excluded.first_published_at,
			updated_at = excluded.updated_at,
			content_hash = excluded.content_hash,
			last_seen_at = excluded.last_seen_at,
			first_seen_at = COALESCE(records.first_seen_at, excluded.first_seen_at)`,
		m.Product, m.ID, m.ProductTitle, m.Title, m.Summary, m.Description,
		m.ContentType, m.AuthorName, boolToInt(m.AuthorVerified), boolToInt(m.AuthorOfficial),
		jsonDump(m.Platforms), jsonDump(m.Categories), jsonDump(m.Prices), m.Version,
		m.PreviewImageURL, m.CoverImageURL, jsonDump(m.ScreenshotURLs), m.DetailsURL,
		formatTime(m.CreatedAt), formatTime(m.PublishedAt), formatTime(m.FirstPublishedAt), formatTime(m.UpdatedAt),
		rec.ContentHash, formatTime(rec.FirstSeenAt), formatTime(rec.LastSeenAt),
	)
	if err != nil {
		return &StorageError{Op: "upsert record", Err: err}
	}

	for ch, d := range rec.Deliveries {
		if err := execSetDelivery(ctx, tx, m.Product, m.ID, ch, d); err != nil {
			return &StorageError{Op: "upsert delivery", Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return &StorageError{Op: "commit upsert", Err: err}
	}
	return nil
}

// SetDelivery records the outcome of one delivery attempt.
func (s *SQLite) SetDelivery(ctx context.Context, product, modID string, ch model.Channel, d model.Delivery) error {
	if err := execSetDelivery(ctx, s.db, product, modID, ch, d); err != nil {
		return &StorageError{Op: "set delivery", Err: err}
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func execSetDelivery(ctx context.Context, db execer, product, modID string, ch model.Channel, d model.Delivery) error {
	_, err := db.ExecContext(ctx,
		`INSERT OR REPLACE INTO deliveries
			(product, mod_id, channel, kind, status, post_id, post_url, error_message, last_attempt_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		product, modID, string(ch), string(d.Kind), string(d.Status),
		d.PostID, d.PostURL, d.Error, formatTime(d.LastAttemptAt),
	)
	return err
}

// ListDeliveries returns records whose delivery to ch has any of the given
// statuses, ordered oldest first by first publish time.
func (s *SQLite) ListDeliveries(ctx context.Context, ch model.Channel, statuses ...model.DeliveryStatus) ([]model.Record, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(statuses)), ", ")
	args := []any{string(ch)}
	for _, st := range statuses {
		args = append(args, string(st))
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+prefixColumns("r", recordColumns)+`
		 FROM records r
		 JOIN deliveries d ON d.product = r.product AND d.mod_id = r.mod_id
		 WHERE d.channel = ? AND d.status IN (`+placeholders+`)
		 ORDER BY r.first_published_at`,
		args...,
	)
	if err != nil {
		return nil, &StorageError{Op: "list deliveries", Err: err}
	}
	defer func() { _ = rows.Close() }()

	var recs []model.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, &StorageError{Op: "scan record", Err: err}
		}
		recs = append(recs, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Op: "list deliveries", Err: err}
	}
	for i := range recs {
		if err := s.loadDeliveries(ctx, &recs[i]); err != nil {
			return nil, &StorageError{Op: "load deliveries", Err: err}
		}
	}
	return recs, nil
}

// GetCursor returns the per-product watermark, or nil on first run.
func (s *SQLite) GetCursor(ctx context.Context, product string) (*model.Cursor, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT product, last_seen_first_published, updated_at FROM cursors WHERE product = ?`,
		product,
	)
	var c model.Cursor
	var seen, updated string
	err := row.Scan(&c.Product, &seen, &updated)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &StorageError{Op: "get cursor", Err: err}
	}
	c.LastSeenFirstPublished = parseTime(seen)
	c.UpdatedAt = parseTime(updated)
	return &c, nil
}

// SetCursor advances the watermark. A value at or before the stored one is a
// no-op, which keeps the cursor monotonically non-decreasing.
func (s *SQLite) SetCursor(ctx context.Context, product string, ts time.Time) error {
	now := time.Now().UTC().Format(timeLayout)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cursors (product, last_seen_first_published, updated_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT(product) DO UPDATE SET
			last_seen_first_published = excluded.last_seen_first_published,
			updated_at = excluded.updated_at
		 WHERE excluded.last_seen_first_published > cursors.last_seen_first_published`,
		product, ts.UTC().Format(timeLayout), now,
	)
	if err != nil {
		return &StorageError{Op: "set cursor", Err: err}
	}
	return nil
}

// Export reads the whole store into its plain serializable form.
func (s *SQLite) Export(ctx context.Context) (*model.Dump, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM records ORDER BY product, mod_id`)
	if err != nil {
		return nil, &StorageError{Op: "export records", Err: err}
	}
	defer func() { _ = rows.Close() }()

	dump := &model.Dump{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, &StorageError{Op: "scan record", Err: err}
		}
		dump.Records = append(dump.Records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Op: "export records", Err: err}
	}
	for i := range dump.Records {
		if err := s.loadDeliveries(ctx, &dump.Records[i]); err != nil {
			return nil, &StorageError{Op: "export deliveries", Err: err}
		}
	}

	curRows, err := s.db.QueryContext(ctx,
		`SELECT product, last_seen_first_published, updated_at FROM cursors ORDER BY product`)
	if err != nil {
		return nil, &StorageError{Op: "export cursors", Err: err}
	}
	defer func() { _ = curRows.Close() }()
	for curRows.Next() {
		var c model.Cursor
		var seen, updated string
		if err := curRows.Scan(&c.Product, &seen, &updated); err != nil {
			return nil, &StorageError{Op: "scan cursor", Err: err}
		}
		c.LastSeenFirstPublished = parseTime(seen)
		c.UpdatedAt = parseTime(updated)
		dump.Cursors = append(dump.Cursors, c)
	}
	if err := curRows.Err(); err != nil {
		return nil, &StorageError{Op: "export cursors", Err: err}
	}
	return dump, nil
}

// Import replaces matching records and cursors with the dump's contents.
// Rows not present in the dump are left alone.
func (s *SQLite) Import(ctx context.Context, dump *model.Dump) error {
	for i := range dump.Records {
		if err := s.UpsertRecord(ctx, &dump.Records[i]); err != nil {
			return err
		}
	}
	for _, c := range dump.Cursors {
		if err := s.SetCursor(ctx, c.Product, c.LastSeenFirstPublished); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLite) loadDeliveries(ctx context.Context, rec *model.Record) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT channel, kind, status, post_id, post_url, error_message, last_attempt_at
		 FROM deliveries WHERE product = ? AND mod_id = ?`,
		rec.Mod.Product, rec.Mod.ID,
	)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var ch, kind, status string
		var postID, postURL, errMsg, attempt sql.NullString
		if err := rows.Scan(&ch, &kind, &status, &postID, &postURL, &errMsg, &attempt); err != nil {
			return err
		}
		if rec.Deliveries == nil {
			rec.Deliveries = make(map[model.Channel]model.Delivery)
		}
		rec.Deliveries[model.Channel(ch)] = model.Delivery{
			Kind:          model.EventKind(kind),
			Status:        model.DeliveryStatus(status),
			PostID:        postID.String,
			PostURL:       postURL.String,
			Error:         errMsg.String,
			LastAttemptAt: parseTime(attempt.String),
		}
	}
	return rows.Err()
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRecord(row scannable) (*model.Record, error) {
	var rec model.Record
	m := &rec.Mod
	var verified, official int
	var platforms, categories, prices, screenshots sql.NullString
	var created, published, firstPublished, updated, firstSeen, lastSeen sql.NullString
	err := row.Scan(
		&m.Product, &m.ID, &m.ProductTitle, &m.Title, &m.Summary, &m.Description,
		&m.ContentType, &m.AuthorName, &verified, &official,
		&platforms, &categories, &prices, &m.Version,
		&m.PreviewImageURL, &m.CoverImageURL, &screenshots, &m.DetailsURL,
		&created, &published, &firstPublished, &updated,
		&rec.ContentHash, &firstSeen, &lastSeen,
	)
	if err != nil {
		return nil, err
	}
	m.AuthorVerified = verified == 1
	m.AuthorOfficial = official == 1
	jsonLoad(platforms.String, &m.Platforms)
	jsonLoad(categories.String, &m.Categories)
	jsonLoad(prices.String, &m.Prices)
	jsonLoad(screenshots.String, &m.ScreenshotURLs)
	m.CreatedAt = parseTime(created.String)
	m.PublishedAt = parseTime(published.String)
	m.FirstPublishedAt = parseTime(firstPublished.String)
	m.UpdatedAt = parseTime(updated.String)
	rec.FirstSeenAt = parseTime(firstSeen.String)
	rec.LastSeenAt = parseTime(lastSeen.String)
	return &rec, nil
}

func prefixColumns(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func formatTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, _ := time.Parse(timeLayout, s)
	return t
}

func jsonDump(v any) any {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return string(b)
}

func jsonLoad(s string, v any) {
	if s == "" {
		return
	}
	_ = json.Unmarshal([]byte(s), v)
}

// Ensure the Storage interface is satisfied.
var _ Storage = (*SQLite)(nil)
