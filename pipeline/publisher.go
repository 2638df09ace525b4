package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"

	"github.com/hashicorp/go-hclog"

	"conversionupload/models"
)

// Publisher fans batches out to a queue destination. Delivery is best effort:
// a failed publish is logged and the next batch is still attempted.
type Publisher struct {
	queue  Queue
	logger hclog.Logger
}

func NewPublisher(queue Queue, logger hclog.Logger) *Publisher {
	return &Publisher{queue: queue, logger: logger.Named("publisher")}
}

// PublishSummary counts the outcome of a publish loop.
type PublishSummary struct {
	Attempted int `json:"attempted"`
	Published int `json:"published"`
	Failed    int `json:"failed"`
}

// Publish sends one batch with its upload config. An empty destination or
// batch is a no-op and returns an empty id and no error.
func (p *Publisher) Publish(ctx context.Context, destination string, batch models.Batch, cfg *models.UploadConfig) (string, error) {
	if destination == "" || len(batch) == 0 {
		p.logger.Warn("missing topic and/or data, nothing published", "topic", destination, "records", len(batch))
		return "", nil
	}

	msg := models.QueueMessage{Data: models.MessageData{Conversions: batch, Config: cfg}}
	body, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("encode queue message: %w", err)
	}

	id, err := p.queue.Publish(ctx, destination, body)
	if err != nil {
		return "", fmt.Errorf("publish to %s: %w", destination, err)
	}
	p.logger.Info("message published", "topic", destination, "message_id", id, "records", len(batch))
	return id, nil
}

// PublishAll publishes every batch of the stream. Publish failures are logged
// and counted; only an error from the stream itself stops the loop.
func (p *Publisher) PublishAll(ctx context.Context, destination string, batches iter.Seq2[models.Batch, error], cfg *models.UploadConfig) (PublishSummary, error) {
	var summary PublishSummary
	for batch, err := range batches {
		if err != nil {
			return summary, err
		}
		summary.Attempted++
		if _, err := p.Publish(ctx, destination, batch, cfg); err != nil {
			summary.Failed++
			p.logger.Error("publish failed", "batch", summary.Attempted, "records", len(batch), "error", err)
			continue
		}
		summary.Published++
	}
	return summary, nil
}
