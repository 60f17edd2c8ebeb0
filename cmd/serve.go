package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	gcstorage "cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sitescope/siteaudit/internal/ai"
	"github.com/sitescope/siteaudit/internal/api"
	"github.com/sitescope/siteaudit/internal/audit"
	"github.com/sitescope/siteaudit/internal/clock/system"
	"github.com/sitescope/siteaudit/internal/components"
	"github.com/sitescope/siteaudit/internal/config"
	"github.com/sitescope/siteaudit/internal/crawl"
	"github.com/sitescope/siteaudit/internal/dispatcher"
	uuidgen "github.com/sitescope/siteaudit/internal/id/uuid"
	"github.com/sitescope/siteaudit/internal/logging"
	"github.com/sitescope/siteaudit/internal/pipeline"
	"github.com/sitescope/siteaudit/internal/progress"
	"github.com/sitescope/siteaudit/internal/progress/sinks"
	"github.com/sitescope/siteaudit/internal/queue"
	queuememory "github.com/sitescope/siteaudit/internal/queue/memory"
	"github.com/sitescope/siteaudit/internal/render"
	"github.com/sitescope/siteaudit/internal/serp"
	"github.com/sitescope/siteaudit/internal/storage/gcs"
	"github.com/sitescope/siteaudit/internal/storage/local"
	storagememory "github.com/sitescope/siteaudit/internal/storage/memory"
	"github.com/sitescope/siteaudit/internal/storage/postgres"
	"github.com/sitescope/siteaudit/internal/store"
	"github.com/sitescope/siteaudit/internal/worker"
)

const shutdownGrace = 10 * time.Second

// newServeCmd creates the 'serve' subcommand, which runs the audit API server,
// the worker pool, and the retry scheduler in one process.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Runs the audit API server and worker pool",
		Long: `Starts the HTTP API, a pool of audit workers consuming the job queue,
and the retry scheduler that re-enqueues audits whose retry time has come.`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	svc, err := buildServices(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer svc.close(logger)

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           svc.server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		svc.dispatcher.Run(gctx)
		return nil
	})
	g.Go(func() error {
		svc.scheduler.Run(gctx)
		return nil
	})
	g.Go(func() error {
		logger.Info("http server listening", zap.String("addr", httpSrv.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}

// services holds the wired application graph plus the teardown hooks that
// must run after the run group has drained.
type services struct {
	server     *api.Server
	dispatcher *dispatcher.Dispatcher
	scheduler  *worker.Scheduler
	hub        *progress.Hub
	closers    []func()
}

func (s *services) close(logger *zap.Logger) {
	if s.hub != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		if err := s.hub.Close(ctx); err != nil {
			logger.Warn("progress hub close failed", zap.Error(err))
		}
		cancel()
	}
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

func buildServices(ctx context.Context, cfg config.Config, logger *zap.Logger) (*services, error) {
	svc := &services{}
	clk := system.New()
	idGen := uuidgen.New()

	auditStore, runs, err := buildStores(ctx, cfg, svc)
	if err != nil {
		return nil, err
	}
	artifacts, err := buildArtifactStore(ctx, cfg, svc)
	if err != nil {
		return nil, err
	}
	jobQueue, err := buildQueue(ctx, cfg, logger, svc)
	if err != nil {
		return nil, err
	}

	crawler := crawl.New(crawl.Config{
		UserAgent:   cfg.Crawler.UserAgent,
		Timeout:     cfg.CrawlTimeout(),
		Delay:       time.Duration(cfg.Crawler.DelayMs) * time.Millisecond,
		Parallelism: cfg.Crawler.Parallelism,
		MaxDepth:    cfg.Crawler.MaxDepth,
	}, artifacts, logger)

	serpClient := serp.NewHTTPClient(serp.Config{
		BaseURL: cfg.Serp.BaseURL,
		APIKey:  cfg.Serp.APIKey,
		Timeout: time.Duration(cfg.Serp.TimeoutSeconds) * time.Second,
	}, logger)

	aiClient := ai.NewOpenAIClient(ai.Config{
		APIKey:    cfg.AI.APIKey,
		Model:     cfg.AI.Model,
		MaxTokens: cfg.AI.MaxTokens,
	}, logger)

	renderer, err := buildRenderer(cfg, svc)
	if err != nil {
		return nil, err
	}

	registry, err := components.NewDefaultRegistry(components.Deps{
		Serp:     serpClient,
		AI:       aiClient,
		Renderer: renderer,
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("build component registry: %w", err)
	}

	runner := pipeline.NewRunner(registry, auditStore, clk, logger)
	orch := pipeline.NewOrchestrator(runner, registry, auditStore, crawler, artifacts, clk, pipeline.Config{
		RetryDelay:   cfg.RetryDelay(),
		StaleTimeout: cfg.StaleTimeout(),
	}, logger)

	stream := api.NewEventStream()
	hub, err := buildHub(ctx, cfg, logger, runs, stream)
	if err != nil {
		return nil, err
	}
	svc.hub = hub

	workers := make([]*worker.Worker, 0, cfg.Pipeline.Workers)
	for i := 0; i < cfg.Pipeline.Workers; i++ {
		workers = append(workers, worker.New(jobQueue, auditStore, orch, hub, clk, logger))
	}
	svc.dispatcher = dispatcher.New(jobQueue, workers, logger)
	svc.scheduler = worker.NewScheduler(auditStore, jobQueue, clk,
		time.Duration(cfg.Pipeline.SweepIntervalSec)*time.Second, logger)

	svc.server = api.NewServer(auditStore, runs, jobQueue, stream, idGen, clk, cfg, logger)
	return svc, nil
}

func buildStores(ctx context.Context, cfg config.Config, svc *services) (audit.Store, store.ComponentRunRepository, error) {
	if cfg.DB.DSN == "" {
		return storagememory.NewAuditStore(), nil, nil
	}
	pool, err := postgres.NewPool(ctx, postgres.PoolConfig{
		DSN:      cfg.DB.DSN,
		MaxConns: cfg.DB.MaxConns,
		MinConns: cfg.DB.MinConns,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("connect postgres: %w", err)
	}
	svc.closers = append(svc.closers, pool.Close)
	auditStore, err := postgres.NewAuditStoreWithPool(pool)
	if err != nil {
		return nil, nil, err
	}
	runs, err := postgres.NewComponentRunStoreWithPool(pool)
	if err != nil {
		return nil, nil, err
	}
	return auditStore, runs, nil
}

func buildArtifactStore(ctx context.Context, cfg config.Config, svc *services) (audit.ArtifactStore, error) {
	switch cfg.Storage.Provider {
	case "gcs":
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("create gcs client: %w", err)
		}
		svc.closers = append(svc.closers, func() { _ = client.Close() })
		return gcs.New(client, gcs.Config{Bucket: cfg.Storage.GCSBucket})
	case "local":
		return local.New(local.Config{BaseDir: cfg.Storage.LocalDir})
	default:
		return storagememory.NewBlobStore(), nil
	}
}

func buildQueue(ctx context.Context, cfg config.Config, logger *zap.Logger, svc *services) (audit.Queue, error) {
	if cfg.PubSub.ProjectID == "" {
		return queuememory.NewQueue(cfg.Pipeline.QueueDepth), nil
	}
	q, err := queue.NewPubSubQueue(ctx, queue.PubSubConfig{
		ProjectID:    cfg.PubSub.ProjectID,
		TopicID:      cfg.PubSub.TopicName,
		Subscription: cfg.PubSub.Subscription,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("connect pubsub: %w", err)
	}
	svc.closers = append(svc.closers, func() { _ = q.Close() })
	return q, nil
}

func buildRenderer(cfg config.Config, svc *services) (render.Renderer, error) {
	if !cfg.Render.Enabled {
		return render.NewNoop(), nil
	}
	r, err := render.NewChromedp(render.Config{
		MaxParallel:       cfg.Render.MaxParallel,
		UserAgent:         cfg.Crawler.UserAgent,
		NavigationTimeout: time.Duration(cfg.Render.NavTimeoutSec) * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("start renderer: %w", err)
	}
	svc.closers = append(svc.closers, r.Close)
	return r, nil
}

// buildHub assembles the progress hub with every configured sink. The hub owns
// sink teardown: closing the hub closes its sinks.
func buildHub(
	ctx context.Context,
	cfg config.Config,
	logger *zap.Logger,
	runs store.ComponentRunRepository,
	stream *api.EventStream,
) (*progress.Hub, error) {
	promSink, err := sinks.NewPrometheusSink(prometheus.DefaultRegisterer)
	if err != nil {
		return nil, fmt.Errorf("register progress metrics: %w", err)
	}
	hubSinks := []progress.Sink{
		sinks.NewLogSink(logger),
		promSink,
		stream,
	}
	if runs != nil {
		hubSinks = append(hubSinks, sinks.NewStoreSink(runs, logger))
	}
	return progress.NewHub(progress.Config{
		Logger:      logger,
		BaseContext: ctx,
	}, hubSinks...), nil
}
