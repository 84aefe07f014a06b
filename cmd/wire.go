package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	pubsubapi "cloud.google.com/go/pubsub"
	gcsapi "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/supacrawl/internal/clock/system"
	"github.com/JakeFAU/supacrawl/internal/config"
	"github.com/JakeFAU/supacrawl/internal/crawler"
	"github.com/JakeFAU/supacrawl/internal/dispatcher"
	"github.com/JakeFAU/supacrawl/internal/extract"
	collyfetcher "github.com/JakeFAU/supacrawl/internal/fetcher/colly"
	"github.com/JakeFAU/supacrawl/internal/fetcher/headless"
	"github.com/JakeFAU/supacrawl/internal/hash/sha256"
	"github.com/JakeFAU/supacrawl/internal/headless/detector"
	"github.com/JakeFAU/supacrawl/internal/id/uuid"
	"github.com/JakeFAU/supacrawl/internal/llm"
	"github.com/JakeFAU/supacrawl/internal/notify/email"
	memorygate "github.com/JakeFAU/supacrawl/internal/policy/memory"
	"github.com/JakeFAU/supacrawl/internal/policy/ratelimit"
	"github.com/JakeFAU/supacrawl/internal/policy/scope"
	"github.com/JakeFAU/supacrawl/internal/publisher/pubsub"
	queuememory "github.com/JakeFAU/supacrawl/internal/queue/memory"
	"github.com/JakeFAU/supacrawl/internal/report"
	"github.com/JakeFAU/supacrawl/internal/router"
	"github.com/JakeFAU/supacrawl/internal/storage/gcs"
	"github.com/JakeFAU/supacrawl/internal/storage/local"
	"github.com/JakeFAU/supacrawl/internal/storage/memory"
	"github.com/JakeFAU/supacrawl/internal/storage/postgres"
	"github.com/JakeFAU/supacrawl/internal/storage/sqlite"
	"github.com/JakeFAU/supacrawl/internal/worker"
)

// cleanup runs registered close functions in reverse order.
type cleanup []func()

func (c *cleanup) add(fn func()) { *c = append(*c, fn) }

func (c cleanup) run() {
	for i := len(c) - 1; i >= 0; i-- {
		c[i]()
	}
}

type stores struct {
	pages   crawler.PageStore
	reports crawler.ReportStore
}

func openStores(ctx context.Context, cfg config.DBConfig) (stores, error) {
	switch cfg.Driver {
	case "postgres":
		s, err := postgres.New(ctx, postgres.Config{
			DSN:             cfg.DSN,
			PagesTable:      cfg.PagesTable,
			ReportsTable:    cfg.ReportsTable,
			MaxConns:        cfg.MaxConns,
			MinConns:        cfg.MinConns,
			MaxConnLifetime: time.Duration(cfg.MaxConnLifetimeSeconds) * time.Second,
		})
		if err != nil {
			return stores{}, fmt.Errorf("open postgres store: %w", err)
		}
		return stores{pages: s, reports: s}, nil
	case "sqlite":
		s, err := sqlite.Open(ctx, sqlite.Config{
			DSN:          cfg.DSN,
			PagesTable:   cfg.PagesTable,
			ReportsTable: cfg.ReportsTable,
		})
		if err != nil {
			return stores{}, fmt.Errorf("open sqlite store: %w", err)
		}
		return stores{pages: s, reports: s}, nil
	case "memory":
		return stores{pages: memory.NewPageStore(), reports: memory.NewReportStore()}, nil
	default:
		return stores{}, fmt.Errorf("unsupported db driver %q", cfg.Driver)
	}
}

// newGenerator returns nil without error when no API key is configured and
// the caller can run without a model.
func newGenerator(ctx context.Context, cfg config.Config, required bool, logger *zap.Logger) (llm.Generator, error) {
	if cfg.LLM.APIKey == "" && !required {
		logger.Warn("no llm api key configured, running without a language model")
		return nil, nil
	}
	client, err := llm.New(ctx, llm.Config{
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		Timeout:     cfg.LLMTimeout(),
	})
	if err != nil {
		return nil, fmt.Errorf("init llm: %w", err)
	}
	return client, nil
}

func newRouter(cfg config.Config, pages crawler.PageReader, gen llm.Generator, logger *zap.Logger) (*router.Router, error) {
	limits := router.Limits{
		Latest:    cfg.Chat.DefaultLimit,
		Search:    cfg.Chat.SearchLimit,
		Summaries: cfg.Chat.SearchLimit,
	}
	dispatch, err := router.NewDispatcher(pages, router.Options{
		DefaultLimit:  cfg.Chat.DefaultLimit,
		MaxLimit:      cfg.Chat.MaxLimit,
		ContentBudget: cfg.Chat.ContentBudget,
		PreviewBudget: cfg.Chat.PreviewBudget,
		QueryTimeout:  time.Duration(cfg.Chat.QueryTimeoutSeconds) * time.Second,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("init dispatcher: %w", err)
	}
	var fallback router.IntentParser
	if gen != nil {
		fallback = router.NewFallback(gen, time.Duration(cfg.Chat.LLMTimeoutSeconds)*time.Second, limits, logger)
	}
	r, err := router.New(router.NewMatcher(limits), fallback, dispatch, logger)
	if err != nil {
		return nil, fmt.Errorf("init router: %w", err)
	}
	return r, nil
}

func newBlobStore(ctx context.Context, cfg config.StorageConfig, c *cleanup) (crawler.BlobStore, error) {
	switch cfg.Backend {
	case "", "none":
		return nil, nil
	case "memory":
		return memory.NewBlobStore(), nil
	case "local":
		store, err := local.New(local.Config{BaseDir: cfg.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("init local blob store: %w", err)
		}
		return store, nil
	case "gcs":
		client, err := gcsapi.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("create gcs client: %w", err)
		}
		c.add(func() { _ = client.Close() })
		store, err := gcs.New(client, gcs.Config{Bucket: cfg.GCSBucket, Prefix: cfg.Prefix})
		if err != nil {
			return nil, fmt.Errorf("init gcs blob store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported storage backend %q", cfg.Backend)
	}
}

// newPublisher returns nil when no Pub/Sub project is configured.
func newPublisher(ctx context.Context, cfg config.PubSubConfig, c *cleanup) (crawler.Publisher, error) {
	if cfg.ProjectID == "" {
		return nil, nil
	}
	client, err := pubsubapi.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	pub, err := pubsub.New(client)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("init publisher: %w", err)
	}
	c.add(func() {
		pub.Stop()
		_ = client.Close()
	})
	return pub, nil
}

func newHeadlessFetcher(cfg config.Config, c *cleanup) (crawler.Fetcher, error) {
	if !cfg.Headless.Enabled {
		return headless.NewNoop(), nil
	}
	hcfg := headless.Config{
		MaxParallel:       cfg.Headless.MaxParallel,
		UserAgent:         cfg.Crawler.UserAgent,
		NavigationTimeout: time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
		Stealth:           cfg.Headless.Stealth,
	}
	switch cfg.Headless.Engine {
	case "rod":
		f, err := headless.NewRod(hcfg)
		if err != nil {
			return nil, fmt.Errorf("init rod fetcher: %w", err)
		}
		c.add(f.Close)
		return f, nil
	default:
		f, err := headless.NewChromedp(hcfg)
		if err != nil {
			return nil, fmt.Errorf("init chromedp fetcher: %w", err)
		}
		c.add(f.Close)
		return f, nil
	}
}

func newMailer(cfg config.EmailConfig, logger *zap.Logger) (report.Mailer, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	sender, err := email.NewSender(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		User:     cfg.SMTPUser,
		Password: cfg.SMTPPass,
		From:     cfg.From,
		To:       cfg.To,
		Timeout:  time.Duration(cfg.TimeoutSeconds) * time.Second,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("init email sender: %w", err)
	}
	return sender, nil
}

// pipeline is the crawl engine: a bounded queue drained by a worker pool.
type pipeline struct {
	queue      *queuememory.Queue
	jobs       *memory.JobStore
	dispatcher *dispatcher.Dispatcher
}

func newPipeline(
	ctx context.Context,
	cfg config.Config,
	pages crawler.PageStore,
	gen llm.Generator,
	logger *zap.Logger,
	c *cleanup,
) (*pipeline, error) {
	blobs, err := newBlobStore(ctx, cfg.Storage, c)
	if err != nil {
		return nil, err
	}
	pub, err := newPublisher(ctx, cfg.PubSub, c)
	if err != nil {
		return nil, err
	}
	headlessFetcher, err := newHeadlessFetcher(cfg, c)
	if err != nil {
		return nil, err
	}

	var gate worker.Gate
	if cfg.Crawler.Mode == config.ModeMemoryAdaptive {
		g, err := memorygate.New(memorygate.Config{
			LimitBytes:       uint64(cfg.Crawler.MemoryLimitMB) << 20,
			ThresholdPercent: cfg.Crawler.MemoryThresholdPercent,
			CheckInterval:    time.Duration(cfg.Crawler.MemoryCheckIntervalMs) * time.Millisecond,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("init memory gate: %w", err)
		}
		gate = g
	}

	var summarizer worker.Summarizer
	if gen != nil {
		s, err := extract.NewSummarizer(gen, cfg.LLM.Temperature, cfg.LLM.MaxInputChars)
		if err != nil {
			return nil, fmt.Errorf("init summarizer: %w", err)
		}
		summarizer = s
	}

	queue := queuememory.NewQueue(cfg.Crawler.QueueDepth)
	jobs := memory.NewJobStore()
	clock := system.New()
	deps := worker.Deps{
		Queue:     queue,
		Jobs:      jobs,
		Pages:     pages,
		Blobs:     blobs,
		Publisher: pub,
		Hasher:    sha256.New(),
		Clock:     clock,
		Probe: collyfetcher.New(collyfetcher.Config{
			UserAgent:     cfg.Crawler.UserAgent,
			RespectRobots: cfg.Crawler.RespectRobots,
			Timeout:       cfg.FetchTimeout(),
		}),
		Headless: headlessFetcher,
		Detector: detector.NewHeuristic(cfg.Headless.PromotionThresh),
		Policy:   scope.New(cfg.Crawler.DenyDomains, cfg.Headless.Enabled),
		Limiter: ratelimit.New(ratelimit.Config{
			DelayMin:      time.Duration(cfg.Crawler.DelayMinMs) * time.Millisecond,
			DelayMax:      time.Duration(cfg.Crawler.DelayMaxMs) * time.Millisecond,
			MaxBackoff:    time.Duration(cfg.Crawler.MaxBackoffSeconds) * time.Second,
			MaxRetries:    cfg.Crawler.MaxRetries,
			RetryStatuses: cfg.Crawler.RetryStatuses,
		}),
		Gate:       gate,
		Summarizer: summarizer,
	}
	wcfg := worker.Config{
		ContentType:   cfg.Storage.ContentType,
		BlobPrefix:    cfg.Storage.Prefix,
		Topic:         cfg.PubSub.TopicName,
		ContentBudget: cfg.Crawler.ContentBudget,
	}

	workers := make([]*worker.Worker, 0, cfg.Crawler.Concurrency)
	for i := 0; i < cfg.Crawler.Concurrency; i++ {
		w, err := worker.New(deps, wcfg, logger.With(zap.Int("worker", i)))
		if err != nil {
			return nil, fmt.Errorf("init worker: %w", err)
		}
		workers = append(workers, w)
	}
	if len(workers) == 0 {
		return nil, errors.New("crawler.concurrency must be > 0")
	}

	return &pipeline{
		queue:      queue,
		jobs:       jobs,
		dispatcher: dispatcher.New(queue, jobs, uuid.New(), clock, workers),
	}, nil
}
