// Package pubsub delivers posting notifications to a Google Cloud
// Pub/Sub topic, for deployments where a downstream bot consumes events
// instead of the monitor talking to a chat API directly.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/placementwatch/tnp-monitor/internal/monitor"
)

// Config identifies the target topic.
type Config struct {
	ProjectID string
	TopicName string
}

// Notifier implements monitor.Notifier by publishing one JSON event per
// posting.
type Notifier struct {
	client *pubsub.Client
	topic  *pubsub.Topic
	logger *zap.Logger
}

// event is the published payload.
type event struct {
	Kind        string    `json:"kind"`
	Category    string    `json:"category,omitempty"`
	Title       string    `json:"title,omitempty"`
	Summary     string    `json:"summary,omitempty"`
	SourceURL   string    `json:"source_url,omitempty"`
	PublishedAt time.Time `json:"published_at,omitzero"`
	Message     string    `json:"message,omitempty"`
}

// New connects to Pub/Sub and verifies the topic exists.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Notifier, error) {
	if cfg.ProjectID == "" || cfg.TopicName == "" {
		return nil, fmt.Errorf("pubsub project id and topic name are required")
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	topic := client.Topic(cfg.TopicName)
	ok, err := topic.Exists(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("check pubsub topic: %w", err)
	}
	if !ok {
		client.Close()
		return nil, fmt.Errorf("pubsub topic %q does not exist", cfg.TopicName)
	}
	return &Notifier{client: client, topic: topic, logger: logger}, nil
}

// Notify publishes each posting as its own message. Publish failures are
// recorded per posting and never abort the batch.
func (n *Notifier) Notify(ctx context.Context, postings []monitor.Posting) monitor.DeliveryReport {
	report := monitor.DeliveryReport{Results: make([]monitor.DeliveryResult, 0, len(postings))}
	for _, p := range postings {
		err := n.publish(ctx, event{
			Kind:        "posting",
			Category:    string(p.Category),
			Title:       p.Title,
			Summary:     p.Summary,
			SourceURL:   p.SourceURL,
			PublishedAt: p.PublishedAt,
		}, map[string]string{"category": string(p.Category)})
		result := monitor.DeliveryResult{Posting: p, Delivered: err == nil, Attempts: 1}
		if err != nil {
			result.Err = &monitor.DeliveryError{Transient: true, Err: err}
			n.logger.Warn("pubsub publish failed",
				zap.String("title", p.Title),
				zap.Error(err),
			)
		}
		report.Results = append(report.Results, result)
	}
	return report
}

// Alert publishes an operational event.
func (n *Notifier) Alert(ctx context.Context, message string) error {
	return n.publish(ctx, event{Kind: "alert", Message: message}, map[string]string{"kind": "alert"})
}

func (n *Notifier) publish(ctx context.Context, ev event, attrs map[string]string) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	result := n.topic.Publish(ctx, &pubsub.Message{Data: data, Attributes: attrs})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Close flushes pending publishes and releases the client.
func (n *Notifier) Close() error {
	n.topic.Stop()
	return n.client.Close()
}
