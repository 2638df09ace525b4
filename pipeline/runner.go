package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"

	"conversionupload/models"
)

type RunStatus string

const (
	StatusCompleted RunStatus = "completed"
	// StatusStale means the table was not touched today and nothing was sent.
	StatusStale   RunStatus = "stale"
	StatusSkipped RunStatus = "skipped"
	StatusAborted RunStatus = "aborted"
)

// RunReport describes one run of the runner.
type RunReport struct {
	RunID   string          `json:"runId"`
	Table   string          `json:"table,omitempty"`
	Status  RunStatus       `json:"status"`
	Reason  string          `json:"reason,omitempty"`
	Rows    *ReadStats      `json:"rows,omitempty"`
	Publish *PublishSummary `json:"publish,omitempty"`
	Upload  *UploadReport   `json:"upload,omitempty"`
}

// LogSink stores the plain-text log of an upload run.
type LogSink interface {
	Write(ctx context.Context, name string, data []byte) error
}

// Runner wires the pipeline stages together for the three kinds of run:
// distributing a table to a queue, uploading a queue message, and pushing a
// table straight to a platform.
type Runner struct {
	source    *RowSource
	gate      *FreshnessGate
	publisher *Publisher
	uploader  *Uploader
	logSink   LogSink
	logPrefix string
	queueSize int
	logger    hclog.Logger
}

type RunnerOptions struct {
	Source    *RowSource
	Gate      *FreshnessGate
	Publisher *Publisher
	Uploader  *Uploader
	LogSink   LogSink
	LogPrefix string
	// QueueBatchSize bounds the records per queue message.
	QueueBatchSize int
}

func NewRunner(opts RunnerOptions, logger hclog.Logger) *Runner {
	return &Runner{
		source:    opts.Source,
		gate:      opts.Gate,
		publisher: opts.Publisher,
		uploader:  opts.Uploader,
		logSink:   opts.LogSink,
		logPrefix: opts.LogPrefix,
		queueSize: opts.QueueBatchSize,
		logger:    logger,
	}
}

// Distribute reads the requested table and publishes it to the request's
// topic in queue-sized batches, provided the table was updated today.
func (r *Runner) Distribute(ctx context.Context, req *models.DelegateRequest) (*RunReport, error) {
	report, logger := r.newReport()
	if r.publisher == nil {
		return r.abort(report, logger, fmt.Errorf("%w: no queue configured", ErrInvalidConfig))
	}
	if req.DatasetName == "" || req.TableName == "" {
		return r.abort(report, logger, fmt.Errorf("%w: dataset_name and table_name are required", ErrInvalidConfig))
	}
	ref := models.TableRef{Dataset: req.DatasetName, Table: req.TableName}
	report.Table = ref.String()

	fresh, err := r.checkFreshness(ctx, logger, ref, report)
	if err != nil || !fresh {
		return report, err
	}
	if req.Topic == "" {
		return r.abort(report, logger, fmt.Errorf("%w: no target topic provided", ErrInvalidConfig))
	}

	reader, err := r.source.Open(ctx, ref, r.queueSize)
	if err != nil {
		return r.abort(report, logger, err)
	}
	summary, err := r.publisher.PublishAll(ctx, req.Topic, Rebatch(reader.Batches(), r.queueSize), req.UploadConfig())
	stats := reader.Stats()
	report.Rows, report.Publish = &stats, &summary
	if err != nil {
		return r.abort(report, logger, err)
	}

	report.Status = StatusCompleted
	logger.Info("distribution finished", "table", report.Table, "batches", summary.Attempted,
		"published", summary.Published, "failed", summary.Failed)
	return report, nil
}

// Push uploads ref straight to the platform named by cfg, skipping the queue.
func (r *Runner) Push(ctx context.Context, ref models.TableRef, cfg *models.UploadConfig) (*RunReport, error) {
	report, logger := r.newReport()
	report.Table = ref.String()

	if _, err := r.uploader.Resolve(cfg); err != nil {
		return r.abort(report, logger, err)
	}
	fresh, err := r.checkFreshness(ctx, logger, ref, report)
	if err != nil || !fresh {
		return report, err
	}

	reader, err := r.source.Open(ctx, ref, r.uploader.batchSize)
	if err != nil {
		return r.abort(report, logger, err)
	}
	upload, err := r.uploader.Upload(ctx, reader.Batches(), cfg)
	stats := reader.Stats()
	report.Rows, report.Upload = &stats, upload
	if err != nil {
		return r.abort(report, logger, err)
	}

	report.Status = StatusCompleted
	r.writeUploadLog(ctx, logger, report)
	return report, nil
}

// UploadMessage uploads the conversions carried by one queue message. A
// message without a config, or a config without a platform, is sent to
// defaultPlatform.
func (r *Runner) UploadMessage(ctx context.Context, msg *models.QueueMessage, defaultPlatform string) (*RunReport, error) {
	report, logger := r.newReport()
	if msg == nil || len(msg.Data.Conversions) == 0 {
		report.Status = StatusSkipped
		report.Reason = "no conversion data in message"
		logger.Warn("no conversion data passed in, check the workflow for upstream errors")
		return report, nil
	}

	cfg := models.UploadConfig{}
	if msg.Data.Config != nil {
		cfg = *msg.Data.Config
	}
	if cfg.Platform == "" {
		cfg.Platform = defaultPlatform
	}

	upload, err := r.uploader.Upload(ctx, Batches(msg.Data.Conversions), &cfg)
	report.Upload = upload
	if err != nil {
		return r.abort(report, logger, err)
	}

	report.Status = StatusCompleted
	r.writeUploadLog(ctx, logger, report)
	return report, nil
}

func (r *Runner) newReport() (*RunReport, hclog.Logger) {
	id := uuid.NewString()
	return &RunReport{RunID: id}, r.logger.With("run_id", id)
}

// checkFreshness fills report and returns false when the run must stop.
func (r *Runner) checkFreshness(ctx context.Context, logger hclog.Logger, ref models.TableRef, report *RunReport) (bool, error) {
	meta, err := r.source.Table(ctx, ref)
	if err != nil {
		if errors.Is(err, ErrTableNotFound) {
			err = fmt.Errorf("could not find table %s: %w", ref, err)
		}
		_, err = r.abort(report, logger, err)
		return false, err
	}
	if meta.FullID != "" {
		report.Table = meta.FullID
	}

	if !r.gate.IsFresh(meta) {
		report.Status = StatusStale
		report.Reason = "table was not created or modified today"
		logger.Warn("data may be stale, check that the workflow ran correctly; upload aborted",
			"table", report.Table, "created", meta.Created, "modified", meta.Modified, "today", r.gate.Today().String())
		return false, nil
	}
	logger.Info("table is up to date, continuing", "table", report.Table, "rows", meta.RowCount)
	return true, nil
}

func (r *Runner) abort(report *RunReport, logger hclog.Logger, err error) (*RunReport, error) {
	report.Status = StatusAborted
	report.Reason = err.Error()
	logger.Error("run aborted", "table", report.Table, "error", err)
	return report, err
}

func (r *Runner) writeUploadLog(ctx context.Context, logger hclog.Logger, report *RunReport) {
	if r.logSink == nil || report.Upload == nil {
		return
	}
	name := fmt.Sprintf("%s_upload_log_%s_%s.txt", r.logPrefix, r.gate.Today(), report.RunID)
	if err := r.logSink.Write(ctx, name, []byte(report.Upload.Text())); err != nil {
		logger.Error("failed to store upload log", "name", name, "error", err)
		return
	}
	logger.Info("upload log stored", "name", name)
}
