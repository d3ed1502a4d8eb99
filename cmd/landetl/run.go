package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/urfave/cli/v2"

	"github.com/opengovsl/landetl/alert"
	"github.com/opengovsl/landetl/alert/redis"
	"github.com/opengovsl/landetl/alert/webhook"
	"github.com/opengovsl/landetl/breaker"
	"github.com/opengovsl/landetl/config"
	"github.com/opengovsl/landetl/load"
	"github.com/opengovsl/landetl/metrics"
	"github.com/opengovsl/landetl/pii"
	"github.com/opengovsl/landetl/pipeline"
	"github.com/opengovsl/landetl/source"
	"github.com/opengovsl/landetl/source/rest"
	"github.com/opengovsl/landetl/types"
	"github.com/opengovsl/landetl/watermark"
)

// Environment fallbacks for secrets kept out of the config file.
const (
	envEncryptionKey = "LANDETL_ENCRYPTION_KEY"
	envHashSalt      = "LANDETL_HASH_SALT"
)

func configFlag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Value:   "landetl.yaml",
		Usage:   "path to the YAML config file",
	}
}

func runCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Execute one pipeline run",
		Flags: []cli.Flag{
			configFlag(),
			&cli.StringFlag{
				Name:  "mode",
				Usage: "run mode: FULL, INCREMENTAL, or CDC (overrides config)",
			},
		},
		Action: runAction,
	}
}

func runAction(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	mode := strings.ToUpper(c.String("mode"))
	if mode == "" {
		mode = strings.ToUpper(cfg.Mode)
	}
	if mode == "" {
		mode = string(types.ModeIncremental)
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := metrics.NewRegistry()
	deps, cleanup, err := buildDeps(ctx, cfg, registry)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	defer cleanup()

	if cfg.Metrics.Addr != "" {
		srv := metrics.NewServer(registry, cfg.Metrics.Addr)
		go func() {
			if err := srv.ListenAndServe(); err != nil {
				fmt.Fprintf(os.Stderr, "metrics server: %v\n", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	o := pipeline.New(pipelineConfig(cfg), deps)

	run, err := o.Run(ctx, types.RunMode(mode))
	if err != nil {
		return cli.Exit(fmt.Sprintf("run: %v", err), 1)
	}

	printSummary(c, run)
	if run.Status != types.StatusCompleted {
		return cli.Exit("", 1)
	}
	return nil
}

func serveMetricsCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve-metrics",
		Usage: "Serve /metrics and /health without running the pipeline",
		Flags: []cli.Flag{
			configFlag(),
			&cli.StringFlag{
				Name:  "addr",
				Usage: "listen address (overrides config)",
			},
		},
		Action: func(c *cli.Context) error {
			cfg, err := config.Load(c.String("config"))
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}
			addr := c.String("addr")
			if addr == "" {
				addr = cfg.Metrics.Addr
			}
			if addr == "" {
				addr = ":9090"
			}

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv := metrics.NewServer(metrics.NewRegistry(), addr)
			errCh := make(chan error, 1)
			go func() { errCh <- srv.ListenAndServe() }()
			fmt.Fprintf(c.App.Writer, "serving metrics on %s\n", addr)

			select {
			case err := <-errCh:
				if err != nil {
					return cli.Exit(fmt.Sprintf("metrics server: %v", err), 1)
				}
			case <-ctx.Done():
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = srv.Shutdown(shutdownCtx)
			}
			return nil
		},
	}
}

// buildDeps assembles the orchestrator's collaborators from the config. The
// returned cleanup closes every opened resource.
func buildDeps(ctx context.Context, cfg *config.Config, registry *metrics.Registry) (pipeline.Deps, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (pipeline.Deps, func(), error) {
		cleanup()
		return pipeline.Deps{}, func() {}, err
	}

	sources, err := buildSources(cfg)
	if err != nil {
		return fail(err)
	}

	crypto, err := buildCrypto(cfg)
	if err != nil {
		return fail(err)
	}

	if cfg.Database.DSN == "" {
		return fail(fmt.Errorf("database.dsn is required"))
	}
	db, err := sqlx.Open("pgx", cfg.Database.DSN)
	if err != nil {
		return fail(fmt.Errorf("open database: %w", err))
	}
	closers = append(closers, func() { _ = db.Close() })
	if cfg.Database.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	}
	if cfg.Database.MaxIdleTime.Duration > 0 {
		db.SetConnMaxIdleTime(cfg.Database.MaxIdleTime.Duration)
	}
	pingTimeout := cfg.Database.ConnectTimeout.Duration
	if pingTimeout <= 0 {
		pingTimeout = 2 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		return fail(fmt.Errorf("ping database: %w", err))
	}

	destinations := []load.Destination{load.NewPostgresLoaderWithDB(db, crypto, nil)}
	if cfg.Archive.Enabled {
		archive, err := buildArchive(ctx, cfg)
		if err != nil {
			return fail(err)
		}
		destinations = append(destinations, archive)
	}

	alerts, err := buildAlerts(cfg)
	if err != nil {
		return fail(err)
	}
	if alerts != nil {
		closers = append(closers, func() { _ = alerts.Close() })
	}

	deps := pipeline.Deps{
		Sources:      sources,
		Destinations: destinations,
		Watermarks:   watermark.NewPostgresStore(db),
		Metrics:      registry,
		Breakers:     breaker.NewFactory(cfg.Breaker.Breaker()),
		Runs:         load.NewRunStore(db),
	}
	if alerts != nil {
		deps.Alerts = alerts
	}
	return deps, cleanup, nil
}

func buildSources(cfg *config.Config) ([]source.SourceAdapter, error) {
	if len(cfg.Sources) == 0 {
		return nil, fmt.Errorf("no sources configured")
	}

	names := make([]string, 0, len(cfg.Sources))
	for name := range cfg.Sources {
		names = append(names, name)
	}
	sort.Strings(names)

	adapters := make([]source.SourceAdapter, 0, len(names))
	for _, name := range names {
		sc := cfg.Sources[name]
		a, err := rest.New(rest.Config{
			Name:    name,
			System:  types.SourceSystem(strings.ToUpper(sc.System)),
			BaseURL: sc.BaseURL,
			APIKey:  sc.APIKey,
			Headers: sc.Headers,
			Timeout: sc.Timeout.Duration,
		})
		if err != nil {
			return nil, fmt.Errorf("source %s: %w", name, err)
		}
		adapters = append(adapters, a)
	}
	return adapters, nil
}

func buildCrypto(cfg *config.Config) (pii.Service, error) {
	key := cfg.Encryption.Key
	if key == "" {
		key = os.Getenv(envEncryptionKey)
	}
	if key == "" {
		return nil, fmt.Errorf("encryption key required (encryption.key or %s)", envEncryptionKey)
	}
	salt := cfg.Encryption.HashSalt
	if salt == "" {
		salt = os.Getenv(envHashSalt)
	}
	return pii.NewAESGCMFromHex(key, []byte(salt))
}

func buildArchive(ctx context.Context, cfg *config.Config) (load.Destination, error) {
	ac := load.ArchiveConfig{Dataset: cfg.Archive.Dataset}
	switch cfg.Archive.Backend {
	case "", "fs":
		root := cfg.Archive.Path
		if root == "" {
			root = "./archive"
		}
		return load.NewArchiveDestination(ac, root, nil)
	case "s3":
		return load.NewArchiveS3Destination(ctx, ac, load.S3Config{
			Bucket:       cfg.Archive.Bucket,
			Prefix:       cfg.Archive.Prefix,
			Region:       cfg.Archive.Region,
			Endpoint:     cfg.Archive.Endpoint,
			UsePathStyle: cfg.Archive.S3PathStyle,
		}, nil)
	default:
		return nil, fmt.Errorf("archive.backend must be fs or s3, got %q", cfg.Archive.Backend)
	}
}

func buildAlerts(cfg *config.Config) (*alert.Multi, error) {
	var sinks []alert.Sink
	if cfg.Alerts.Webhook.URL != "" {
		wc := webhook.Config{
			URL:     cfg.Alerts.Webhook.URL,
			Headers: cfg.Alerts.Webhook.Headers,
			Timeout: cfg.Alerts.Webhook.Timeout.Duration,
		}
		if cfg.Alerts.Webhook.Retries != nil {
			wc.Retries = *cfg.Alerts.Webhook.Retries
		} else {
			wc.Retries = webhook.DefaultRetries
		}
		s, err := webhook.New(wc)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, s)
	}
	if cfg.Alerts.Redis.URL != "" {
		s, err := redis.New(redis.Config{
			URL:     cfg.Alerts.Redis.URL,
			Channel: cfg.Alerts.Redis.Channel,
			Timeout: cfg.Alerts.Redis.Timeout.Duration,
			Retries: redis.DefaultRetries,
		})
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, s)
	}
	if len(sinks) == 0 {
		return nil, nil
	}
	return alert.NewMulti(sinks...), nil
}

func pipelineConfig(cfg *config.Config) pipeline.Config {
	return pipeline.Config{
		Pipeline:         cfg.Pipeline,
		BatchSize:        cfg.BatchSize,
		Window:           cfg.MergeWindow,
		QualityThreshold: cfg.QualityThreshold,
		Extract: source.Config{
			BatchSize:       cfg.BatchSize,
			PolitenessDelay: cfg.PolitenessDelay.Duration,
			Retry:           cfg.Retry.Options(),
		},
		LoadRetry: cfg.Retry.Options(),
	}
}

func printSummary(c *cli.Context, run *types.PipelineRun) {
	m := run.Metrics
	fmt.Fprintf(c.App.Writer,
		"run %s %s: extracted=%d transformed=%d merged=%d loaded=%d updated=%d failed=%d duration=%s\n",
		run.RunID, run.Status, m.RecordsExtracted, m.RecordsTransformed, m.RecordsMerged,
		m.RecordsLoaded, m.RecordsUpdated, m.RecordsFailed, m.Duration)
	for _, re := range run.Errors {
		fmt.Fprintf(c.App.ErrWriter, "  error: %s\n", re.Error())
	}
}
