package services

import (
	"context"
	"fmt"
	"sync"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"
)

// PubSubQueue publishes queue messages to Pub/Sub topics. It is created at the
// start of a run and closed at its end.
type PubSubQueue struct {
	client *pubsub.Client

	mu     sync.Mutex
	topics map[string]*pubsub.Topic
}

func NewPubSubQueue(ctx context.Context, projectID string, opts ...option.ClientOption) (*PubSubQueue, error) {
	client, err := pubsub.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Pub/Sub client: %w", err)
	}
	return &PubSubQueue{client: client, topics: make(map[string]*pubsub.Topic)}, nil
}

func (q *PubSubQueue) topic(name string) *pubsub.Topic {
	q.mu.Lock()
	defer q.mu.Unlock()
	t, ok := q.topics[name]
	if !ok {
		t = q.client.Topic(name)
		q.topics[name] = t
	}
	return t
}

// Publish sends data to the topic and waits for the server-assigned id.
func (q *PubSubQueue) Publish(ctx context.Context, destination string, data []byte) (string, error) {
	result := q.topic(destination).Publish(ctx, &pubsub.Message{Data: data})
	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("pubsub publish: %w", err)
	}
	return id, nil
}

// Close flushes pending messages and releases the client.
func (q *PubSubQueue) Close() error {
	q.mu.Lock()
	for _, t := range q.topics {
		t.Stop()
	}
	q.topics = map[string]*pubsub.Topic{}
	q.mu.Unlock()
	return q.client.Close()
}
