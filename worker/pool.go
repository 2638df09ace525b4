package worker

import (
	"context"
	"errors"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/redis/go-redis/v9"

	"conversionupload/models"
	"conversionupload/pipeline"
)

// Uploader is the part of the runner the pool drives.
type Uploader interface {
	UploadMessage(ctx context.Context, msg *models.QueueMessage, defaultPlatform string) (*pipeline.RunReport, error)
}

type Options struct {
	PendingQueue    string
	ProcessingQueue string
	DefaultPlatform string
	// PopTimeout bounds each blocking pop so shutdown is noticed.
	PopTimeout time.Duration
}

// Pool consumes queue messages from Redis and uploads them. A message is
// moved atomically from the pending list to the processing list, uploaded
// once, then removed. Nothing is requeued.
type Pool struct {
	opts        Options
	redisClient *redis.Client
	uploader    Uploader
	logger      hclog.Logger
}

func NewPool(opts Options, redisClient *redis.Client, uploader Uploader, logger hclog.Logger) *Pool {
	if opts.PopTimeout <= 0 {
		opts.PopTimeout = 30 * time.Second
	}
	return &Pool{
		opts:        opts,
		redisClient: redisClient,
		uploader:    uploader,
		logger:      logger.Named("worker"),
	}
}

func (p *Pool) StartWorker(ctx context.Context, workerID int) {
	logger := p.logger.With("worker", workerID)
	logger.Info("starting")

	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			return
		default:
			if !p.ProcessNext(ctx, logger) {
				select {
				case <-ctx.Done():
				case <-time.After(5 * time.Second):
				}
			}
		}
	}
}

// ProcessNext handles at most one message. It returns false only when Redis
// failed and the caller should back off.
func (p *Pool) ProcessNext(ctx context.Context, logger hclog.Logger) bool {
	// Atomic pop from pending and push to processing
	result, err := p.redisClient.BRPopLPush(
		ctx,
		p.opts.PendingQueue,
		p.opts.ProcessingQueue,
		p.opts.PopTimeout,
	).Result()

	if errors.Is(err, redis.Nil) {
		// Timeout, no messages available
		return true
	}
	if err != nil {
		if ctx.Err() != nil {
			return true
		}
		logger.Error("redis error", "error", err)
		return false
	}
	// Remove from processing queue whatever the outcome
	defer p.redisClient.LRem(context.WithoutCancel(ctx), p.opts.ProcessingQueue, 1, result)

	msg, err := models.DecodeQueueMessage([]byte(result))
	if err != nil {
		logger.Error("dropping malformed message", "error", err)
		return true
	}

	start := time.Now()
	report, err := p.uploader.UploadMessage(ctx, msg, p.opts.DefaultPlatform)
	if err != nil {
		logger.Error("upload aborted", "error", err)
		return true
	}
	logger.Info("message processed", "run_id", report.RunID, "status", report.Status,
		"duration", time.Since(start).Round(time.Millisecond))
	return true
}
