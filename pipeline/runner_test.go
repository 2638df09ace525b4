package pipeline

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conversionupload/models"
)

var runNow = time.Date(2024, 6, 10, 15, 0, 0, 0, time.UTC)

type memorySink struct {
	names []string
	data  [][]byte
}

func (s *memorySink) Write(ctx context.Context, name string, data []byte) error {
	s.names = append(s.names, name)
	s.data = append(s.data, data)
	return nil
}

type runnerFixture struct {
	warehouse *fakeWarehouse
	queue     *fakeQueue
	platform  *fakePlatform
	sink      *memorySink
	runner    *Runner
}

func newRunnerFixture(rows []Row, modified time.Time) *runnerFixture {
	f := &runnerFixture{
		warehouse: &fakeWarehouse{
			meta: &models.TableMetadata{
				FullID:   "proj.ds.conversions",
				RowCount: uint64(len(rows)),
				Created:  modified.AddDate(0, -1, 0),
				Modified: modified,
			},
			rows: rows,
		},
		queue:    &fakeQueue{},
		platform: &fakePlatform{name: models.PlatformCM360},
		sink:     &memorySink{},
	}
	logger := hclog.NewNullLogger()
	gate := NewFreshnessGate(time.UTC)
	gate.now = func() time.Time { return runNow }
	f.runner = NewRunner(RunnerOptions{
		Source:         NewRowSource(f.warehouse, time.UTC, logger),
		Gate:           gate,
		Publisher:      NewPublisher(f.queue, logger),
		Uploader:       NewUploader(100, logger, f.platform),
		LogSink:        f.sink,
		LogPrefix:      "cm360",
		QueueBatchSize: 1000,
	}, logger)
	return f
}

func delegateRequest() *models.DelegateRequest {
	cfg := *cm360Config
	cfg.Platform = ""
	return &models.DelegateRequest{DatasetName: "ds", TableName: "conversions", Topic: "uploads", CM360Config: &cfg}
}

func TestDistributePublishesFreshTable(t *testing.T) {
	f := newRunnerFixture(validRows(2300), runNow.Add(-time.Hour))

	report, err := f.runner.Distribute(context.Background(), delegateRequest())
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, report.Status)
	assert.Equal(t, "proj.ds.conversions", report.Table)
	assert.Equal(t, PublishSummary{Attempted: 3, Published: 3}, *report.Publish)
	assert.Equal(t, 2300, report.Rows.Emitted)
	require.Len(t, f.queue.messages["uploads"], 3)

	msg, err := models.DecodeQueueMessage(f.queue.messages["uploads"][2])
	require.NoError(t, err)
	assert.Len(t, msg.Data.Conversions, 300)
	assert.Equal(t, models.PlatformCM360, msg.Data.Config.Platform)
}

func TestDistributeStaleTableIsANoop(t *testing.T) {
	f := newRunnerFixture(validRows(10), runNow.AddDate(0, 0, -1))

	report, err := f.runner.Distribute(context.Background(), delegateRequest())
	require.NoError(t, err)
	assert.Equal(t, StatusStale, report.Status)
	assert.Zero(t, f.queue.attempts)
	assert.Zero(t, f.warehouse.lists)
}

func TestDistributeConfigurationErrors(t *testing.T) {
	f := newRunnerFixture(validRows(10), runNow)

	req := delegateRequest()
	req.Topic = ""
	report, err := f.runner.Distribute(context.Background(), req)
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.Equal(t, StatusAborted, report.Status)
	assert.Zero(t, f.warehouse.lists)

	req = delegateRequest()
	req.TableName = ""
	_, err = f.runner.Distribute(context.Background(), req)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestDistributeMissingTable(t *testing.T) {
	f := newRunnerFixture(nil, runNow)
	f.warehouse.meta = nil

	report, err := f.runner.Distribute(context.Background(), delegateRequest())
	assert.ErrorIs(t, err, ErrTableNotFound)
	assert.Equal(t, StatusAborted, report.Status)
}

func TestPushUploadsInAPISizedBatches(t *testing.T) {
	f := newRunnerFixture(validRows(250), runNow)
	f.platform.reply = func(call int, batch models.Batch) (*models.BatchResponse, error) {
		if call == 2 {
			return failures(batch, 0, 1, 2), nil
		}
		return &models.BatchResponse{}, nil
	}

	report, err := f.runner.Push(context.Background(), testRef, cm360Config)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, report.Status)
	assert.Equal(t, []int{100, 100, 50}, f.platform.sizes())
	assert.Equal(t, 3, report.Upload.Failed)

	require.Len(t, f.sink.names, 1)
	assert.True(t, strings.HasPrefix(f.sink.names[0], "cm360_upload_log_2024-06-10_"))
	assert.Contains(t, string(f.sink.data[0]), "requests=3")
}

func TestPushInvalidConfigReadsNothing(t *testing.T) {
	f := newRunnerFixture(validRows(5), runNow)
	f.platform.invalid = assert.AnError

	report, err := f.runner.Push(context.Background(), testRef, cm360Config)
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.Equal(t, StatusAborted, report.Status)
	assert.Zero(t, f.warehouse.lists)
	assert.Empty(t, f.platform.calls)
}

// Nothing suppresses resubmission: a second run over an unchanged table sends
// the same requests again.
func TestPushRerunResubmitsSameRequests(t *testing.T) {
	f := newRunnerFixture(validRows(120), runNow)

	_, err := f.runner.Push(context.Background(), testRef, cm360Config)
	require.NoError(t, err)
	first := append([]models.Batch(nil), f.platform.calls...)

	f.platform.calls = nil
	_, err = f.runner.Push(context.Background(), testRef, cm360Config)
	require.NoError(t, err)

	assert.Equal(t, first, f.platform.calls)
}

func TestUploadMessageDefaultsPlatform(t *testing.T) {
	f := newRunnerFixture(nil, runNow)

	msg := &models.QueueMessage{Data: models.MessageData{
		Conversions: records(3),
		Config:      &models.UploadConfig{ProfileID: "1"},
	}}
	report, err := f.runner.UploadMessage(context.Background(), msg, models.PlatformCM360)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, report.Status)
	assert.Equal(t, []int{3}, f.platform.sizes())

	// The message config is copied, so the first default does not stick.
	_, err = f.runner.UploadMessage(context.Background(), msg, "unknown")
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.Empty(t, msg.Data.Config.Platform)
}

func TestUploadMessageWithoutConversionsIsSkipped(t *testing.T) {
	f := newRunnerFixture(nil, runNow)

	report, err := f.runner.UploadMessage(context.Background(), &models.QueueMessage{}, models.PlatformCM360)
	require.NoError(t, err)
	assert.Equal(t, StatusSkipped, report.Status)
	assert.Empty(t, f.platform.calls)
}
