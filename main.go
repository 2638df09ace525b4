package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/redis/go-redis/v9"

	"conversionupload/config"
	"conversionupload/models"
	"conversionupload/pipeline"
	"conversionupload/server"
	"conversionupload/services"
	"conversionupload/worker"
)

const cloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"

func main() {
	cfg := config.Load()
	logger := hclog.New(&hclog.LoggerOptions{
		Name:       "conversion-upload",
		Level:      hclog.LevelFromString(cfg.LogLevel),
		JSONFormat: cfg.LogJSON,
	})

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger.Info("starting", "mode", cfg.RunMode, "timezone", cfg.Timezone,
		"warehouse", cfg.WarehouseBackend, "queue", cfg.QueueBackend)

	ctx := context.Background()
	app, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	switch cfg.RunMode {
	case config.ModePush:
		if err := app.push(ctx); err != nil {
			app.Close()
			os.Exit(1)
		}
	case config.ModeWorker:
		app.serveWorkers()
	default:
		app.serveHTTP()
	}
}

type app struct {
	cfg     *config.Config
	logger  hclog.Logger
	runner  *pipeline.Runner
	redis   *redis.Client
	closers []func() error
	once    sync.Once
}

func newApp(ctx context.Context, cfg *config.Config, logger hclog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}
	auth := services.GoogleAuth{Credentials: cfg.GoogleCredentials, Impersonate: cfg.ImpersonateServiceAccount}
	gcpOpts, err := auth.ClientOptions(ctx, cloudPlatformScope)
	if err != nil {
		return nil, err
	}

	if cfg.QueueBackend == config.QueueRedis {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := a.redis.Ping(ctx).Err(); err != nil {
			return nil, errors.Join(err, a.redis.Close())
		}
		a.closers = append(a.closers, a.redis.Close)
		logger.Info("connected to redis", "addr", cfg.RedisAddr)
	}

	opts := pipeline.RunnerOptions{
		Gate:           pipeline.NewFreshnessGate(cfg.Location()),
		QueueBatchSize: cfg.QueueBatchSize,
		LogPrefix:      cfg.UploadLogPrefix,
	}

	// Warehouse: needed by every mode that reads tables.
	if cfg.RunMode != config.ModeWorker {
		var warehouse pipeline.Warehouse
		switch cfg.WarehouseBackend {
		case config.WarehousePostgres:
			pg, err := services.NewPostgresWarehouse(cfg.DatabaseURL, cfg.PostgresMetadataTable)
			if err != nil {
				a.Close()
				return nil, err
			}
			a.closers = append(a.closers, pg.Close)
			warehouse = pg
		default:
			bq, err := services.NewBigQueryWarehouse(ctx, cfg.ProjectID, gcpOpts...)
			if err != nil {
				a.Close()
				return nil, err
			}
			a.closers = append(a.closers, bq.Close)
			warehouse = bq
		}
		opts.Source = pipeline.NewRowSource(warehouse, cfg.Location(), logger)
	}

	// Queue: only the delegate endpoint publishes.
	if cfg.RunMode == config.ModeHTTP {
		var queue pipeline.Queue
		switch cfg.QueueBackend {
		case config.QueueRedis:
			queue = services.NewRedisQueue(a.redis, cfg.RedisPrefix)
		default:
			ps, err := services.NewPubSubQueue(ctx, cfg.ProjectID, gcpOpts...)
			if err != nil {
				a.Close()
				return nil, err
			}
			a.closers = append(a.closers, ps.Close)
			queue = ps
		}
		opts.Publisher = pipeline.NewPublisher(queue, logger)
	}

	cm360Client, err := auth.HTTPClient(ctx, services.CM360Scopes...)
	if err != nil {
		a.Close()
		return nil, err
	}
	sa360Client, err := auth.HTTPClient(ctx, services.SA360Scopes...)
	if err != nil {
		a.Close()
		return nil, err
	}
	opts.Uploader = pipeline.NewUploader(cfg.APIBatchSize, logger,
		services.NewCM360(services.NewPlatformClient(cfg.CM360Endpoint, cm360Client, cfg.APIQPS)),
		services.NewSA360(services.NewPlatformClient(cfg.SA360Endpoint, sa360Client, cfg.APIQPS)),
	)

	switch cfg.UploadLogBackend {
	case config.LogSinkGCS:
		sink, err := services.NewGCSLogSink(ctx, cfg.UploadLogBucket, gcpOpts...)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, sink.Close)
		opts.LogSink = sink
	case config.LogSinkS3:
		opts.LogSink = services.NewS3LogSink(cfg)
	}

	a.runner = pipeline.NewRunner(opts, logger)
	return a, nil
}

// Close releases every client in reverse order of creation.
func (a *app) Close() {
	a.once.Do(func() {
		for i := len(a.closers) - 1; i >= 0; i-- {
			if err := a.closers[i](); err != nil {
				a.logger.Warn("close failed", "error", err)
			}
		}
	})
}

// push runs one direct table-to-platform upload.
func (a *app) push(ctx context.Context) error {
	ref := models.TableRef{Project: a.cfg.ProjectID, Dataset: a.cfg.PushDataset, Table: a.cfg.PushTable}
	uploadCfg := &models.UploadConfig{
		Platform:                  a.cfg.Platform,
		ProfileID:                 models.ID(a.cfg.CM360ProfileID),
		FloodlightActivityID:      models.ID(a.cfg.CM360FloodlightActivityID),
		FloodlightConfigurationID: models.ID(a.cfg.CM360FloodlightConfigurationID),
		AgencyID:                  models.ID(a.cfg.SA360AgencyID),
		AdvertiserID:              models.ID(a.cfg.SA360AdvertiserID),
		SegmentationName:          a.cfg.SA360SegmentationName,
		CurrencyCode:              a.cfg.CurrencyCode,
	}
	if a.cfg.WarehouseBackend == config.WarehousePostgres {
		ref.Project = ""
	}

	report, err := a.runner.Push(ctx, ref, uploadCfg)
	if err != nil {
		return err
	}
	a.logger.Info("push finished", "run_id", report.RunID, "status", report.Status)
	return nil
}

func (a *app) serveWorkers() {
	pool := worker.NewPool(worker.Options{
		PendingQueue:    a.cfg.PendingQueue,
		ProcessingQueue: a.cfg.ProcessingQueue,
		DefaultPlatform: a.cfg.Platform,
	}, a.redis, a.runner, a.logger)

	var wg sync.WaitGroup
	ctx, cancel := context.WithCancel(context.Background())

	for i := 0; i < a.cfg.WorkerCount; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			pool.StartWorker(ctx, workerID)
		}(i)
	}
	a.logger.Info("upload workers started", "count", a.cfg.WorkerCount, "queue", a.cfg.PendingQueue)

	waitForSignal()
	a.logger.Info("shutdown signal received, stopping workers")
	cancel()

	// Wait for workers to finish with timeout
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		a.logger.Info("all workers stopped gracefully")
	case <-time.After(30 * time.Second):
		a.logger.Warn("shutdown timeout, forcing exit")
	}
}

func (a *app) serveHTTP() {
	srv := &http.Server{
		Addr:    ":" + a.cfg.Port,
		Handler: server.NewRouter(server.NewHandler(a.runner, a.logger)),
	}

	go func() {
		a.logger.Info("server listening", "port", a.cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	waitForSignal()
	a.logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		a.logger.Warn("server shutdown error", "error", err)
	}
}

func waitForSignal() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
}
