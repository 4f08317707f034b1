package deliver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	redditTokenURL  = "https://www.reddit.com/api/v1/access_token"
	redditSubmitURL = "https://oauth.reddit.com/api/submit"

	// Slack subtracted from the token lifetime so we never race expiry.
	tokenExpirySlack = time.Minute
)

// RedditConfig holds the script-app credentials and target subreddit.
// RefreshToken takes precedence over Username/Password when both are set.
type RedditConfig struct {
	ClientID     string
	ClientSecret string
	Username     string
	Password     string
	RefreshToken string
	UserAgent    string
	Subreddit    string
	// MinInterval spaces out submissions; zero disables the limiter.
	MinInterval time.Duration
}

// Reddit submits self posts to one subreddit via the OAuth API.
type Reddit struct {
	client  HTTPClient
	cfg     RedditConfig
	limiter *rate.Limiter
	log     *slog.Logger

	token       string
	tokenExpiry time.Time
}

// NewReddit validates cfg and creates a sender. The access token is fetched
// lazily on the first submit.
func NewReddit(client HTTPClient, cfg RedditConfig, log *slog.Logger) (*Reddit, error) {
	var missing []string
	for _, field := range []struct {
		name, value string
	}{
		{"client id", cfg.ClientID},
		{"client secret", cfg.ClientSecret},
		{"user agent", cfg.UserAgent},
		{"subreddit", cfg.Subreddit},
	} {
		if field.value == "" {
			missing = append(missing, field.name)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing reddit configuration: %s", strings.Join(missing, ", "))
	}
	if cfg.RefreshToken == "" && (cfg.Username == "" || cfg.Password == "") {
		return nil, fmt.Errorf("missing reddit refresh token or username/password credentials")
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.MinInterval > 0 {
		limiter = rate.NewLimiter(rate.Every(cfg.MinInterval), 1)
	}
	return &Reddit{client: client, cfg: cfg, limiter: limiter, log: log}, nil
}

// Send submits p as a self post and returns the new submission's id and URL.
func (r *Reddit) Send(ctx context.Context, p Payload) (Receipt, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return Receipt{}, err
	}

	token, err := r.accessToken(ctx)
	if err != nil {
		return Receipt{}, fmt.Errorf("reddit auth: %w", err)
	}

	form := url.Values{}
	form.Set("sr", r.cfg.Subreddit)
	form.Set("kind", "self")
	form.Set("title", p.Title)
	form.Set("text", p.Body)
	form.Set("api_type", "json")
	form.Set("resubmit", "true")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, redditSubmitURL, strings.NewReader(form.Encode()))
	if err != nil {
		return Receipt{}, fmt.Errorf("create submit request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("User-Agent", r.cfg.UserAgent)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := r.client.Do(req)
	if err != nil {
		return Receipt{}, transient(fmt.Errorf("submit post: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return Receipt{}, transient(fmt.Errorf("submit post: unexpected status %d", resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		return Receipt{}, fmt.Errorf("submit post: unexpected status %d", resp.StatusCode)
	}

	var payload struct {
		JSON struct {
			Errors [][]any `json:"errors"`
			Data   struct {
				ID   string `json:"id"`
				Name string `json:"name"`
				URL  string `json:"url"`
			} `json:"data"`
		} `json:"json"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&payload); err != nil {
		return Receipt{}, fmt.Errorf("decode submit response: %w", err)
	}
	if len(payload.JSON.Errors) > 0 {
		return Receipt{}, fmt.Errorf("submit rejected: %v", payload.JSON.Errors)
	}

	id := payload.JSON.Data.ID
	if id == "" {
		id = payload.JSON.Data.Name
	}
	r.log.Info("submitted reddit post", "subreddit", r.cfg.Subreddit, "post_id", id)
	return Receipt{PostID: id, URL: payload.JSON.Data.URL}, nil
}

// accessToken returns a cached OAuth token, refreshing it when expired.
func (r *Reddit) accessToken(ctx context.Context) (string, error) {
	if r.token != "" && time.Now().Before(r.tokenExpiry) {
		return r.token, nil
	}

	form := url.Values{}
	if r.cfg.RefreshToken != "" {
		form.Set("grant_type", "refresh_token")
		form.Set("refresh_token", r.cfg.RefreshToken)
	} else {
		form.Set("grant_type", "password")
		form.Set("username", r.cfg.Username)
		form.Set("password", r.cfg.Password)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, redditTokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("create token request: %w", err)
	}
	req.SetBasicAuth(r.cfg.ClientID, r.cfg.ClientSecret)
	req.Header.Set("User-Agent", r.cfg.UserAgent)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := r.client.Do(req)
	if err != nil {
		return "", transient(fmt.Errorf("fetch token: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("fetch token: unexpected status %d", resp.StatusCode)
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return "", transient(err)
		}
		return "", err
	}

	var payload struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if payload.AccessToken == "" {
		return "", fmt.Errorf("token response without access_token")
	}

	r.token = payload.AccessToken
	r.tokenExpiry = time.Now().Add(time.Duration(payload.ExpiresIn)*time.Second - tokenExpirySlack)
	return r.token, nil
}
