package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"vcbot/internal/bethesda"
	"vcbot/internal/config"
	"vcbot/internal/deliver"
	"vcbot/internal/model"
	"vcbot/internal/render"
	"vcbot/internal/scheduler"
	"vcbot/internal/storage"
	"vcbot/internal/sync"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	var err error
	switch cmd, args := os.Args[1], os.Args[2:]; cmd {
	case "run":
		err = cmdRun(args, false)
	case "fetch":
		err = cmdRun(args, true)
	case "retry":
		err = cmdRetry(args)
	case "watch":
		err = cmdWatch(args)
	case "export-db":
		err = cmdExport(args)
	case "import-db":
		err = cmdImport(args)
	default:
		usage()
		os.Exit(1)
	}
	if err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: vcbot <command> [flags]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  run        Sync the feed once and post new creations/updates")
	fmt.Fprintln(os.Stderr, "  fetch      Sync the feed once without posting")
	fmt.Fprintln(os.Stderr, "  retry      Re-attempt pending and failed deliveries")
	fmt.Fprintln(os.Stderr, "  watch      Run the sync on a cron schedule until interrupted")
	fmt.Fprintln(os.Stderr, "  export-db  Dump records and cursors as JSON")
	fmt.Fprintln(os.Stderr, "  import-db  Load records and cursors from a JSON dump")
}

// app bundles the pieces every command needs.
type app struct {
	cfg   *config.Config
	store storage.Storage
	log   *slog.Logger
}

func newApp(configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	log := newLogger(cfg.LogLevel)

	if dir := filepath.Dir(cfg.Database.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
	}
	store, err := storage.NewSQLite(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return &app{cfg: cfg, store: store, log: log}, nil
}

func (a *app) close() { _ = a.store.Close() }

// runFlags are the per-run modifiers shared by run, fetch and watch.
type runFlags struct {
	configPath string
	product    string
	dryRun     bool
	noNew      bool
	noUpdates  bool
	maxPosts   int
	manualDir  string
	cutoff     string
}

func (f *runFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&f.configPath, "config", "config.yaml", "path to config file")
	fs.StringVar(&f.product, "product", "", "sync a single product instead of all configured ones")
	fs.BoolVar(&f.dryRun, "dry-run", false, "render and log without posting or advancing cursors")
	fs.BoolVar(&f.noNew, "no-new", false, "do not post new creations")
	fs.BoolVar(&f.noUpdates, "no-updates", false, "do not post updates")
	fs.IntVar(&f.maxPosts, "max-posts", -1, "cap posts for this run (overrides config, 0 = unlimited)")
	fs.StringVar(&f.manualDir, "manual-dir", "", "write rendered posts to this directory instead of sending")
	fs.StringVar(&f.cutoff, "cutoff", "", "RFC3339 timestamp overriding the stored cursor")
}

func cmdRun(args []string, fetchOnly bool) error {
	name := "run"
	if fetchOnly {
		name = "fetch"
	}
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	var flags runFlags
	flags.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := newApp(flags.configPath)
	if err != nil {
		return err
	}
	defer a.close()

	svc, err := buildService(a, flags, fetchOnly)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	for _, product := range products(a.cfg, flags.product) {
		if _, err := svc.Run(ctx, product); err != nil {
			return err
		}
	}
	return nil
}

func cmdWatch(args []string) error {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	var flags runFlags
	flags.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := newApp(flags.configPath)
	if err != nil {
		return err
	}
	defer a.close()

	svc, err := buildService(a, flags, false)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sched := scheduler.New(runnerFunc(func(ctx context.Context, product string) error {
		_, err := svc.Run(ctx, product)
		return err
	}), products(a.cfg, flags.product), a.cfg.Sync.Schedule, a.log)

	if err := sched.Start(ctx); err != nil && err != context.Canceled {
		return err
	}
	return nil
}

func cmdRetry(args []string) error {
	fs := flag.NewFlagSet("retry", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "path to config file")
	channel := fs.String("channel", "", "channel to retry (reddit or discord, empty = all enabled)")
	force := fs.Bool("force", false, "also re-post deliveries already marked sent")
	dryRun := fs.Bool("dry-run", false, "log what would be retried without posting")
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := newApp(*configPath)
	if err != nil {
		return err
	}
	defer a.close()

	dispatcher, err := buildDispatcher(a, deliver.Options{DryRun: *dryRun})
	if err != nil {
		return err
	}
	coordinator := deliver.NewCoordinator(a.store, dispatcher, a.log)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	channels := a.cfg.Channels()
	if *channel != "" {
		channels = []model.Channel{model.Channel(*channel)}
	}
	for _, ch := range channels {
		attempted, err := coordinator.Retry(ctx, ch, *force)
		if err != nil {
			return err
		}
		a.log.Info("retry finished", "channel", ch, "attempted", attempted)
	}
	return nil
}

func cmdExport(args []string) error {
	fs := flag.NewFlagSet("export-db", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "path to config file")
	out := fs.String("out", "", "output file (default stdout)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := newApp(*configPath)
	if err != nil {
		return err
	}
	defer a.close()

	dump, err := a.store.Export(context.Background())
	if err != nil {
		return err
	}
	raw, err := json.MarshalIndent(dump, "", "  ")
	if err != nil {
		return fmt.Errorf("encode dump: %w", err)
	}
	raw = append(raw, '\n')

	if *out == "" {
		_, err = os.Stdout.Write(raw)
		return err
	}
	if err := os.WriteFile(*out, raw, 0o644); err != nil {
		return fmt.Errorf("write dump: %w", err)
	}
	a.log.Info("exported database", "path", *out, "records", len(dump.Records), "cursors", len(dump.Cursors))
	return nil
}

func cmdImport(args []string) error {
	fs := flag.NewFlagSet("import-db", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "path to config file")
	in := fs.String("in", "", "input dump file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *in == "" {
		return fmt.Errorf("import-db requires -in")
	}

	a, err := newApp(*configPath)
	if err != nil {
		return err
	}
	defer a.close()

	raw, err := os.ReadFile(*in)
	if err != nil {
		return fmt.Errorf("read dump: %w", err)
	}
	var dump model.Dump
	if err := json.Unmarshal(raw, &dump); err != nil {
		return fmt.Errorf("decode dump: %w", err)
	}
	if err := a.store.Import(context.Background(), &dump); err != nil {
		return err
	}
	a.log.Info("imported database", "path", *in, "records", len(dump.Records), "cursors", len(dump.Cursors))
	return nil
}

func buildService(a *app, flags runFlags, fetchOnly bool) (*sync.Service, error) {
	httpClient := &http.Client{Timeout: a.cfg.Feed.Timeout.Std()}

	feed := bethesda.New(httpClient, bethesda.Config{
		CoreURL:        a.cfg.Feed.CoreURL,
		ContentURL:     a.cfg.Feed.ContentURL,
		BnetKey:        a.cfg.Feed.BnetKey,
		Bearer:         a.cfg.Feed.Bearer,
		Sort:           a.cfg.Feed.Sort,
		TimePeriod:     a.cfg.Feed.TimePeriod,
		PageSize:       a.cfg.Feed.PageSize,
		CountsPlatform: a.cfg.Feed.CountsPlatform,
		ModURLTemplate: a.cfg.Feed.ModURLTemplate,
		MaxAttempts:    a.cfg.Feed.Retry.MaxAttempts,
		InitialBackoff: a.cfg.Feed.Retry.InitialBackoff.Std(),
		MaxBackoff:     a.cfg.Feed.Retry.MaxBackoff.Std(),
	}, a.log)

	walker := sync.NewWalker(feed, a.cfg.Sync.MaxPagesPerRun, a.log)

	cutoff, err := resolveCutoff(flags.cutoff, a.cfg.Sync.SyntheticCutoff)
	if err != nil {
		return nil, err
	}

	opts := sync.Options{
		PostNew:         *a.cfg.Sync.PostNew && !flags.noNew,
		PostUpdates:     *a.cfg.Sync.PostUpdates && !flags.noUpdates,
		MaxPosts:        a.cfg.Sync.MaxPostsPerRun,
		Channels:        a.cfg.Channels(),
		DryRun:          flags.dryRun,
		SyntheticCutoff: cutoff,
		Rules: sync.Rules{
			HardStops:             a.cfg.Sync.HardStops,
			PublisherAccount:      a.cfg.Sync.PublisherAccount,
			PublisherIgnoreBefore: a.cfg.Sync.PublisherIgnoreBefore,
		},
	}
	if flags.maxPosts >= 0 {
		opts.MaxPosts = flags.maxPosts
	}

	var deliverer sync.Deliverer
	if !fetchOnly {
		dispatcher, err := buildDispatcher(a, deliver.Options{
			DryRun:    flags.dryRun,
			ManualDir: flags.manualDir,
		})
		if err != nil {
			return nil, err
		}
		deliverer = dispatcher
	}

	return sync.NewService(a.store, walker, deliverer, opts, a.log), nil
}

// buildDispatcher wires the enabled channels. Senders are only constructed
// when they will actually be used, so dry runs need no credentials.
func buildDispatcher(a *app, opts deliver.Options) (*deliver.Dispatcher, error) {
	httpClient := &http.Client{Timeout: a.cfg.Feed.Timeout.Std()}
	sending := !opts.DryRun && opts.ManualDir == ""

	var channels []deliver.ChannelConfig
	if a.cfg.Reddit.Enabled {
		tpl, err := render.Load(a.cfg.Reddit.Template)
		if err != nil {
			return nil, err
		}
		cc := deliver.ChannelConfig{Name: model.ChannelReddit, Template: tpl}
		if sending && a.cfg.Reddit.Configured() {
			sender, err := deliver.NewReddit(httpClient, deliver.RedditConfig{
				ClientID:     a.cfg.Reddit.ClientID,
				ClientSecret: a.cfg.Reddit.ClientSecret,
				Username:     a.cfg.Reddit.Username,
				Password:     a.cfg.Reddit.Password,
				RefreshToken: a.cfg.Reddit.RefreshToken,
				UserAgent:    a.cfg.Reddit.UserAgent,
				Subreddit:    a.cfg.Reddit.Subreddit,
				MinInterval:  a.cfg.Reddit.MinInterval.Std(),
			}, a.log)
			if err != nil {
				return nil, err
			}
			cc.Sender = sender
		}
		channels = append(channels, cc)
	}
	if a.cfg.Discord.Enabled {
		tpl, err := render.Load(a.cfg.Discord.Template)
		if err != nil {
			return nil, err
		}
		cc := deliver.ChannelConfig{Name: model.ChannelDiscord, Template: tpl}
		if sending && a.cfg.Discord.Configured() {
			sender, err := deliver.NewDiscord(httpClient, a.cfg.Discord.WebhookURL, a.log)
			if err != nil {
				return nil, err
			}
			cc.Sender = sender
		}
		channels = append(channels, cc)
	}

	return deliver.New(a.store, channels, opts, a.log), nil
}

func products(cfg *config.Config, override string) []string {
	if override != "" {
		return []string{override}
	}
	return cfg.Sync.Products
}

func resolveCutoff(flagValue string, configValue time.Time) (time.Time, error) {
	if flagValue == "" {
		return configValue, nil
	}
	ts, err := time.Parse(time.RFC3339, flagValue)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse -cutoff: %w", err)
	}
	return ts.UTC(), nil
}

// runnerFunc adapts a closure to the scheduler.Runner interface.
type runnerFunc func(ctx context.Context, product string) error

func (f runnerFunc) Run(ctx context.Context, product string) error { return f(ctx, product) }

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
