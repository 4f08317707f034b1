// Package bethesda talks to the Creations content API and turns its payloads
// into domain mods.
package bethesda

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sethvargo/go-retry"

	"vcbot/internal/model"
)

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// FetchError reports a failed or malformed feed page. A walk that hits one
// aborts the product without advancing its cursor.
type FetchError struct {
	Product string
	Page    int
	Err     error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s page %d: %v", e.Product, e.Page, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// statusError marks HTTP responses worth retrying before giving up.
type statusError struct {
	code int
}

func (e *statusError) Error() string { return "unexpected status " + strconv.Itoa(e.code) }

// Config holds feed client settings.
type Config struct {
	CoreURL        string
	ContentURL     string
	BnetKey        string
	Bearer         string
	Sort           string
	TimePeriod     string
	PageSize       int
	CountsPlatform string
	ModURLTemplate string
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Client fetches mod listing pages for a product.
type Client struct {
	client HTTPClient
	cfg    Config
	log    *slog.Logger

	bnetKey string
}

// New creates a Client with the given HTTP client.
func New(client HTTPClient, cfg Config, log *slog.Logger) *Client {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	return &Client{client: client, cfg: cfg, bnetKey: cfg.BnetKey, log: log}
}

// FetchPage returns one page of mods for a product, newest first as sorted by
// the remote feed. Page numbering starts at 1. An empty slice means the feed
// is exhausted.
func (c *Client) FetchPage(ctx context.Context, product string, page int) ([]model.Mod, error) {
	var mods []model.Mod

	backoff := retry.WithCappedDuration(c.cfg.MaxBackoff,
		retry.WithMaxRetries(uint64(c.cfg.MaxAttempts-1),
			retry.NewExponential(c.cfg.InitialBackoff)))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		var err error
		mods, err = c.fetchPage(ctx, product, page)
		if err != nil && retryable(err) {
			c.log.Warn("feed request failed, retrying", "product", product, "page", page, "error", err)
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		return nil, &FetchError{Product: product, Page: page, Err: err}
	}
	return mods, nil
}

func retryable(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.code == http.StatusTooManyRequests || se.code >= 500
	}
	// Treat transport-level failures as retryable.
	var ue *url.Error
	return errors.As(err, &ue)
}

func (c *Client) fetchPage(ctx context.Context, product string, page int) ([]model.Mod, error) {
	key, err := c.resolveBnetKey(ctx)
	if err != nil {
		return nil, err
	}

	query := url.Values{}
	query.Set("product", product)
	query.Set("sort", c.cfg.Sort)
	query.Set("time_period", c.cfg.TimePeriod)
	query.Set("size", strconv.Itoa(c.cfg.PageSize))
	query.Set("page", strconv.Itoa(page))
	query.Set("counts_platform", c.cfg.CountsPlatform)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.ContentURL+"?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Bnet-Product", product)
	req.Header.Set("X-Bnet-Key", key)
	if c.cfg.Bearer != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Bearer)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, &statusError{code: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10*1024*1024))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	mods, err := parsePage(body, c.cfg.ModURLTemplate)
	if err != nil {
		return nil, fmt.Errorf("parse page: %w", err)
	}
	c.log.Debug("fetched page", "product", product, "page", page, "mods", len(mods))
	return mods, nil
}

// resolveBnetKey returns the configured API key or resolves it from the core
// payload once and caches it for the life of the client.
func (c *Client) resolveBnetKey(ctx context.Context) (string, error) {
	if c.bnetKey != "" {
		return c.bnetKey, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.CoreURL, nil)
	if err != nil {
		return "", fmt.Errorf("create core request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch core payload: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return "", &statusError{code: resp.StatusCode}
	}

	var payload struct {
		UGC struct {
			BnetKey string `json:"bnetKey"`
		} `json:"ugc"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode core payload: %w", err)
	}
	if payload.UGC.BnetKey == "" {
		return "", errors.New("no ugc.bnetKey in core payload")
	}
	c.bnetKey = payload.UGC.BnetKey
	return c.bnetKey, nil
}
