package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"strings"

	"github.com/hashicorp/go-hclog"

	"conversionupload/models"
)

// Uploader submits batches to a platform and reconciles the per-row statuses
// of each reply. A batch is submitted once: transport errors and rejected rows
// are logged and the next batch is attempted.
type Uploader struct {
	platforms map[string]Platform
	batchSize int
	logger    hclog.Logger
}

func NewUploader(batchSize int, logger hclog.Logger, platforms ...Platform) *Uploader {
	byName := make(map[string]Platform, len(platforms))
	for _, p := range platforms {
		byName[p.Name()] = p
	}
	return &Uploader{platforms: byName, batchSize: batchSize, logger: logger.Named("uploader")}
}

// CodeUnmappableRecord marks a record that was left out of its request
// because the platform cannot represent it.
const CodeUnmappableRecord = "UNMAPPABLE_RECORD"

// BatchOutcome describes one batch. Records left out of the request count as
// failed; a batch with no sendable record is not submitted.
type BatchOutcome struct {
	Number         int                   `json:"number"`
	Records        int                   `json:"records"`
	Submitted      bool                  `json:"submitted"`
	Failed         int                   `json:"failed"`
	TransportError string                `json:"transportError,omitempty"`
	Results        []models.UploadResult `json:"-"`
	// Unmatched holds failure entries that could not be tied to a submitted row.
	Unmatched []models.ConversionStatus `json:"unmatched,omitempty"`
}

// UploadReport summarizes one upload run.
type UploadReport struct {
	Platform        string         `json:"platform"`
	Requests        int            `json:"requests"`
	Records         int            `json:"records"`
	Succeeded       int            `json:"succeeded"`
	Failed          int            `json:"failed"`
	TransportErrors int            `json:"transportErrors"`
	Unmatched       int            `json:"unmatched"`
	Batches         []BatchOutcome `json:"batches"`
}

// Resolve returns the platform cfg names after validating cfg against it.
func (u *Uploader) Resolve(cfg *models.UploadConfig) (Platform, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: no upload config", ErrInvalidConfig)
	}
	platform, ok := u.platforms[cfg.Platform]
	if !ok {
		return nil, fmt.Errorf("%w: unknown platform %q", ErrInvalidConfig, cfg.Platform)
	}
	if err := platform.ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return platform, nil
}

// Upload re-chunks records to the uploader's batch size and submits every
// batch. It only returns an error for an invalid config, in which case nothing
// is submitted, or when the record stream itself fails.
func (u *Uploader) Upload(ctx context.Context, records iter.Seq2[models.Batch, error], cfg *models.UploadConfig) (*UploadReport, error) {
	platform, err := u.Resolve(cfg)
	if err != nil {
		return nil, err
	}
	logger := u.logger.Named(platform.Name())
	report := &UploadReport{Platform: platform.Name()}

	for batch, err := range Rebatch(records, u.batchSize) {
		if err != nil {
			return report, err
		}
		outcome := u.uploadBatch(ctx, logger, platform, len(report.Batches)+1, batch, cfg)
		report.add(outcome)
	}
	logger.Info("upload finished", "requests", report.Requests, "records", report.Records,
		"failed", report.Failed, "transport_errors", report.TransportErrors)
	return report, nil
}

func (u *Uploader) uploadBatch(ctx context.Context, logger hclog.Logger, platform Platform, number int, batch models.Batch, cfg *models.UploadConfig) BatchOutcome {
	outcome := BatchOutcome{Number: number, Records: len(batch)}
	results := make([]models.UploadResult, len(batch))
	sendable := make(models.Batch, 0, len(batch))
	positions := make([]int, 0, len(batch))
	for i, record := range batch {
		if err := platform.CheckRecord(record, cfg); err != nil {
			logger.Error("conversion left out of request", "batch", number, "row", i, "error", err)
			results[i] = models.UploadResult{Index: i, Record: record, Errors: []models.ConversionError{
				{Code: CodeUnmappableRecord, Message: err.Error()},
			}}
			continue
		}
		sendable = append(sendable, record)
		positions = append(positions, i)
	}
	if len(sendable) == 0 {
		logger.Error("no record of the batch can be sent", "batch", number, "records", len(batch))
		outcome.Results = results
		outcome.Failed = len(batch)
		return outcome
	}

	logger.Debug("submitting batch", "batch", number, "records", len(sendable), "left_out", len(batch)-len(sendable))
	outcome.Submitted = true
	resp, err := platform.Insert(ctx, sendable, cfg)
	if err != nil {
		logger.Error("batch upload failed", "batch", number, "records", len(batch), "error", err)
		outcome.TransportError = err.Error()
		outcome.Results = results
		outcome.Failed = len(batch)
		return outcome
	}

	sent, unmatched := Reconcile(sendable, resp)
	for k, result := range sent {
		result.Index = positions[k]
		results[positions[k]] = result
	}
	outcome.Results, outcome.Unmatched = results, unmatched
	for _, result := range outcome.Results {
		if result.Success {
			continue
		}
		outcome.Failed++
		if leftOut(result) {
			continue
		}
		conversion, _ := json.Marshal(result.Record)
		for _, e := range result.Errors {
			logger.Error("conversion rejected", "batch", number, "row", result.Index,
				"conversion", string(conversion), "code", e.Code, "message", e.Message)
		}
	}
	for _, status := range outcome.Unmatched {
		for _, e := range status.Errors {
			logger.Error("unmatched conversion failure", "batch", number,
				"conversion", string(status.Conversion), "gclid", status.Gclid, "code", e.Code, "message", e.Message)
		}
	}

	if outcome.Failed == 0 && len(outcome.Unmatched) == 0 {
		logger.Info("batch inserted", "batch", number, "records", len(batch))
	} else {
		logger.Warn("batch inserted with failures", "batch", number, "records", len(batch),
			"failed", outcome.Failed, "unmatched", len(outcome.Unmatched))
	}
	return outcome
}

func leftOut(result models.UploadResult) bool {
	return len(result.Errors) == 1 && result.Errors[0].Code == CodeUnmappableRecord
}

func (r *UploadReport) add(outcome BatchOutcome) {
	if outcome.Submitted {
		r.Requests++
	}
	r.Records += outcome.Records
	r.Failed += outcome.Failed
	r.Succeeded += outcome.Records - outcome.Failed
	if outcome.TransportError != "" {
		r.TransportErrors++
	}
	r.Unmatched += len(outcome.Unmatched)
	r.Batches = append(r.Batches, outcome)
}

// Text renders the report as the plain-text upload log.
func (r *UploadReport) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "platform=%s requests=%d records=%d succeeded=%d failed=%d transport_errors=%d\n",
		r.Platform, r.Requests, r.Records, r.Succeeded, r.Failed, r.TransportErrors)
	for _, batch := range r.Batches {
		fmt.Fprintf(&b, "batch %d: records=%d failed=%d", batch.Number, batch.Records, batch.Failed)
		if batch.TransportError != "" {
			fmt.Fprintf(&b, " error=%q", batch.TransportError)
		}
		b.WriteString("\n")
		for _, result := range batch.Results {
			if result.Success {
				continue
			}
			line, _ := json.Marshal(result.Record)
			for _, e := range result.Errors {
				fmt.Fprintf(&b, "\trow %d [%s]: %s %s\n", result.Index, e.Code, e.Message, line)
			}
		}
		for _, status := range batch.Unmatched {
			for _, e := range status.Errors {
				fmt.Fprintf(&b, "\tunmatched [%s]: %s %s\n", e.Code, e.Message, status.Conversion)
			}
		}
	}
	return b.String()
}

// Reconcile maps the statuses of resp onto the submitted batch. Rows without a
// failure entry succeed. Failure entries are tied to rows by position when the
// reply has one status per submitted row, and by click id and conversion id
// otherwise; entries that match no row are returned as unmatched rather than
// being counted as successes.
func Reconcile(batch models.Batch, resp *models.BatchResponse) ([]models.UploadResult, []models.ConversionStatus) {
	results := make([]models.UploadResult, len(batch))
	for i, record := range batch {
		results[i] = models.UploadResult{Index: i, Record: record, Success: true}
	}
	if resp == nil {
		return results, nil
	}

	positional := len(resp.Status) == len(batch)
	var unmatched []models.ConversionStatus
	for i, status := range resp.Status {
		if len(status.Errors) == 0 {
			continue
		}
		idx := i
		if !positional {
			idx = matchStatus(batch, status)
		}
		if idx < 0 {
			unmatched = append(unmatched, status)
			continue
		}
		results[idx].Success = false
		results[idx].Errors = append(results[idx].Errors, status.Errors...)
	}
	return results, unmatched
}

// matchStatus finds the submitted row a failure entry refers to, using the
// field names of either platform.
func matchStatus(batch models.Batch, status models.ConversionStatus) int {
	clickID, conversionID := status.Gclid, ""
	if len(status.Conversion) > 0 {
		dec := json.NewDecoder(bytes.NewReader(status.Conversion))
		dec.UseNumber()
		var conv models.ConversionRecord
		if err := dec.Decode(&conv); err == nil {
			for _, key := range []string{"gclid", "clickId"} {
				if s, err := conv.String(key); err == nil && s != "" {
					clickID = s
				}
			}
			for _, key := range []string{"ordinal", "conversionId"} {
				if s, err := conv.String(key); err == nil && s != "" {
					conversionID = s
				}
			}
		}
	}
	if clickID == "" && conversionID == "" {
		return -1
	}
	for i, record := range batch {
		if clickID != "" {
			if s, _ := record.String(models.FieldClickID); s != clickID {
				continue
			}
		}
		if conversionID != "" {
			if s, _ := record.String(models.FieldConversionID); s != conversionID {
				continue
			}
		}
		return i
	}
	return -1
}
