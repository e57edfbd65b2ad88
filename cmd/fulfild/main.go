package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/redis/go-redis/v9"

	"github.com/tidecraft/exchangeset/config"
	"github.com/tidecraft/exchangeset/internal/ancillary"
	"github.com/tidecraft/exchangeset/internal/api"
	"github.com/tidecraft/exchangeset/internal/cache"
	"github.com/tidecraft/exchangeset/internal/callback"
	"github.com/tidecraft/exchangeset/internal/catalogue"
	"github.com/tidecraft/exchangeset/internal/jobs"
	"github.com/tidecraft/exchangeset/internal/partition"
	"github.com/tidecraft/exchangeset/internal/publish"
	"github.com/tidecraft/exchangeset/internal/retrieval"
	"github.com/tidecraft/exchangeset/internal/staging"
	"github.com/tidecraft/exchangeset/internal/store"
)

var (
	version   = "0.3.0"
	buildTime = "unknown"
)

func main() {
	configFile := flag.String("config", "", "Path to config file")
	showVersion := flag.Bool("version", false, "Show version")
	stagingRoot := flag.String("staging", "", "Staging root (overrides config)")
	listenAddr := flag.String("addr", "", "Listen address (overrides config)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("fulfild %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	var cfg *config.Config
	var err error
	if *configFile != "" {
		cfg, err = config.Load(*configFile)
		if err != nil {
			logger.Error("failed to load config", "error", err)
			os.Exit(1)
		}
	} else {
		cfg = config.DefaultConfig()
	}

	if *stagingRoot != "" {
		cfg.Staging.Root = *stagingRoot
	}
	if *listenAddr != "" {
		cfg.Server.Addr = *listenAddr
	}

	if err := os.MkdirAll(cfg.Staging.Root, 0755); err != nil {
		logger.Error("failed to create staging root", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fileStore, err := newFileStore(ctx, cfg)
	if err != nil {
		logger.Error("failed to initialize file store", "error", err)
		os.Exit(1)
	}
	logger.Info("file store ready", "type", cfg.Store.Type)

	jobStore, err := jobs.OpenStore(cfg.Fulfilment.JobStorePath)
	if err != nil {
		logger.Error("failed to open job store", "error", err)
		os.Exit(1)
	}
	defer jobStore.Close()

	var productCache *cache.ProductCache
	if cfg.Cache.Enabled {
		client := redis.NewClient(&redis.Options{Addr: cfg.Cache.Addr})
		defer client.Close()
		productCache = cache.New(client, cfg.Cache.TTL, logger)
		logger.Info("product cache ready", "addr", cfg.Cache.Addr)
	}

	runner := &jobs.Runner{
		Catalogue: catalogue.FileSource{Dir: cfg.Staging.CatalogueDir},
		FileStore: fileStore,
		Jobs:      jobStore,
		Coordinator: &retrieval.Coordinator{
			Store:   fileStore,
			Workers: cfg.Fulfilment.Workers,
			Logger:  logger,
		},
		Planner: partition.Planner{ThresholdBytes: cfg.SizeThresholdBytes()},
		Builder: ancillary.Builder{Validity: cfg.Fulfilment.ReadmeValidity},
		Publisher: &publish.Pipeline{
			Store:        fileStore,
			BlockSize:    cfg.BlockSizeBytes(),
			PollInterval: cfg.Fulfilment.CommitPollInterval,
			WaitBudget:   cfg.Fulfilment.CommitWaitBudget,
			Workers:      cfg.Fulfilment.PublishWorkers,
			Logger:       logger,
		},
		Notifier: &callback.Notifier{
			Client: &http.Client{Timeout: cfg.Fulfilment.CallbackTimeout},
			Logger: logger,
		},
		Logger:      logger,
		StagingRoot: cfg.Staging.Root,
		LinkBase:    cfg.Server.PublicURL,
		JobDeadline: cfg.Fulfilment.JobDeadline,
	}

	if cfg.Staging.Sweep.Enabled {
		sweeper := staging.NewSweeper(
			cfg.Staging.Root,
			cfg.Staging.Sweep.Retention,
			cfg.Staging.Sweep.Interval,
			cfg.Staging.Sweep.DryRun,
			jobStore.IsActive,
			logger,
		)
		sweeper.Start()
		defer sweeper.Stop()
		logger.Info("staging sweep enabled", "retention", cfg.Staging.Sweep.Retention.String())
	}

	var auth api.Authenticator
	switch cfg.Auth.Type {
	case "htpasswd":
		auth, err = api.NewHtpasswdAuth(cfg.Auth.HtpasswdFile)
		if err != nil {
			logger.Error("failed to initialize auth", "error", err)
			os.Exit(1)
		}
		logger.Info("authentication enabled", "htpasswd", cfg.Auth.HtpasswdFile)
	default:
		auth = api.NoAuth{}
		logger.Info("authentication disabled")
	}

	server := api.NewServer(api.Options{
		Addr:              cfg.Server.Addr,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		ShutdownTimeout:   cfg.Server.ShutdownTimeout,
		Auth:              auth,
	}, runner, jobStore, productCache, logger)

	logger.Info("fulfild listening", "addr", cfg.Server.Addr, "version", version)
	if err := server.Start(ctx); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
	logger.Info("fulfild stopped")
}

// newFileStore builds the configured remote file store implementation.
func newFileStore(ctx context.Context, cfg *config.Config) (store.FileStore, error) {
	switch cfg.Store.Type {
	case "s3":
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Store.Region))
		if err != nil {
			return nil, fmt.Errorf("loading AWS config: %w", err)
		}
		client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			if cfg.Store.Endpoint != "" {
				o.BaseEndpoint = &cfg.Store.Endpoint
				o.UsePathStyle = true
			}
		})
		return store.NewS3(client, cfg.Store.Bucket, cfg.Store.Prefix), nil
	case "local":
		return store.NewLocal(cfg.Store.Path)
	default:
		return nil, fmt.Errorf("unknown store type %q", cfg.Store.Type)
	}
}
