// Package config loads the YAML configuration, expanding ${VAR} references
// from the environment (and .env, when present).
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"vcbot/internal/model"
)

// Duration wraps time.Duration so YAML values like "30s" parse. Bare numbers
// are taken as seconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var seconds int64
	if err := value.Decode(&seconds); err == nil {
		*d = Duration(time.Duration(seconds) * time.Second)
		return nil
	}
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Feed     FeedConfig     `yaml:"feed"`
	Sync     SyncConfig     `yaml:"sync"`
	Reddit   RedditConfig   `yaml:"reddit"`
	Discord  DiscordConfig  `yaml:"discord"`
	LogLevel string         `yaml:"log_level"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type FeedConfig struct {
	CoreURL        string      `yaml:"core_url"`
	ContentURL     string      `yaml:"content_url"`
	BnetKey        string      `yaml:"bnet_key"`
	Bearer         string      `yaml:"bearer"`
	Sort           string      `yaml:"sort"`
	TimePeriod     string      `yaml:"time_period"`
	PageSize       int         `yaml:"page_size"`
	CountsPlatform string      `yaml:"counts_platform"`
	ModURLTemplate string      `yaml:"mod_url_template"`
	Timeout        Duration    `yaml:"timeout"`
	Retry          RetryConfig `yaml:"retry"`
}

type RetryConfig struct {
	MaxAttempts    int      `yaml:"max_attempts"`
	InitialBackoff Duration `yaml:"initial_backoff"`
	MaxBackoff     Duration `yaml:"max_backoff"`
}

type SyncConfig struct {
	Products []string `yaml:"products"`
	// Schedule is a cron expression used by the watch command.
	Schedule       string `yaml:"schedule"`
	MaxPagesPerRun int    `yaml:"max_pages_per_run"`
	// PostNew and PostUpdates default to true; pointers keep an explicit
	// `false` in the file distinguishable from an absent key.
	PostNew     *bool `yaml:"post_new"`
	PostUpdates *bool `yaml:"post_updates"`
	// MaxPostsPerRun caps dispatches per run; 0 means unlimited.
	MaxPostsPerRun int `yaml:"max_posts_per_run"`
	// HardStops keeps pre-launch backfill out of the channels, per product.
	HardStops             map[string]time.Time `yaml:"hard_stops"`
	PublisherAccount      string               `yaml:"publisher_account"`
	PublisherIgnoreBefore time.Time            `yaml:"publisher_ignore_before"`
	// SyntheticCutoff replaces the stored cursor for replays and backfills.
	SyntheticCutoff time.Time `yaml:"synthetic_cutoff"`
}

type RedditConfig struct {
	Enabled      bool     `yaml:"enabled"`
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	Username     string   `yaml:"username"`
	Password     string   `yaml:"password"`
	RefreshToken string   `yaml:"refresh_token"`
	UserAgent    string   `yaml:"user_agent"`
	Subreddit    string   `yaml:"subreddit"`
	MinInterval  Duration `yaml:"min_interval"`
	Template     string   `yaml:"template"`
}

// Configured reports whether enough credentials are present to submit posts.
func (r RedditConfig) Configured() bool {
	if r.ClientID == "" || r.ClientSecret == "" || r.UserAgent == "" || r.Subreddit == "" {
		return false
	}
	return r.RefreshToken != "" || (r.Username != "" && r.Password != "")
}

type DiscordConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url"`
	Template   string `yaml:"template"`
}

// Configured reports whether the webhook is set.
func (d DiscordConfig) Configured() bool { return d.WebhookURL != "" }

// Load reads and validates the config at path. Environment variables
// referenced as ${VAR} are expanded after .env is loaded.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) setDefaults() {
	if c.Database.Path == "" {
		c.Database.Path = "data/vcbot.db"
	}
	if c.Feed.CoreURL == "" {
		c.Feed.CoreURL = "https://cdn.bethesda.net/data/core"
	}
	if c.Feed.ContentURL == "" {
		c.Feed.ContentURL = "https://api.bethesda.net/ugcmods/v2/content"
	}
	if c.Feed.Sort == "" {
		c.Feed.Sort = "first_ptime"
	}
	if c.Feed.TimePeriod == "" {
		c.Feed.TimePeriod = "all_time"
	}
	if c.Feed.PageSize == 0 {
		c.Feed.PageSize = 20
	}
	if c.Feed.CountsPlatform == "" {
		c.Feed.CountsPlatform = "ALL"
	}
	if c.Feed.Timeout == 0 {
		c.Feed.Timeout = Duration(30 * time.Second)
	}
	if c.Feed.Retry.MaxAttempts == 0 {
		c.Feed.Retry.MaxAttempts = 3
	}
	if c.Feed.Retry.InitialBackoff == 0 {
		c.Feed.Retry.InitialBackoff = Duration(time.Second)
	}
	if c.Feed.Retry.MaxBackoff == 0 {
		c.Feed.Retry.MaxBackoff = Duration(30 * time.Second)
	}
	if len(c.Sync.Products) == 0 {
		c.Sync.Products = []string{"FALLOUT4"}
	}
	if c.Sync.Schedule == "" {
		c.Sync.Schedule = "*/15 * * * *"
	}
	if c.Sync.MaxPagesPerRun == 0 {
		c.Sync.MaxPagesPerRun = 10
	}
	if c.Sync.PostNew == nil {
		enabled := true
		c.Sync.PostNew = &enabled
	}
	if c.Sync.PostUpdates == nil {
		enabled := true
		c.Sync.PostUpdates = &enabled
	}
	if c.Sync.PublisherAccount == "" {
		c.Sync.PublisherAccount = "bethesdagamestudios"
	}
	if c.Reddit.MinInterval == 0 {
		c.Reddit.MinInterval = Duration(10 * time.Second)
	}
	if c.Reddit.Template == "" {
		c.Reddit.Template = "templates/post.md"
	}
	if c.Discord.Template == "" {
		c.Discord.Template = "templates/discord_post.md"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	for _, product := range c.Sync.Products {
		if product == "" {
			return fmt.Errorf("sync.products contains an empty product")
		}
	}
	if c.Feed.PageSize < 1 {
		return fmt.Errorf("feed.page_size must be positive")
	}
	if c.Sync.MaxPagesPerRun < 0 {
		return fmt.Errorf("sync.max_pages_per_run must not be negative")
	}
	if c.Sync.MaxPostsPerRun < 0 {
		return fmt.Errorf("sync.max_posts_per_run must not be negative")
	}
	if c.Reddit.Enabled && !c.Reddit.Configured() {
		return fmt.Errorf("reddit channel enabled but credentials incomplete")
	}
	if c.Discord.Enabled && !c.Discord.Configured() {
		return fmt.Errorf("discord channel enabled but webhook_url missing")
	}
	return nil
}

// Channels lists the enabled delivery channels in dispatch order.
func (c *Config) Channels() []model.Channel {
	var channels []model.Channel
	if c.Reddit.Enabled {
		channels = append(channels, model.ChannelReddit)
	}
	if c.Discord.Enabled {
		channels = append(channels, model.ChannelDiscord)
	}
	return channels
}
