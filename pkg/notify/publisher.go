package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"
	"github.com/rs/zerolog"

	"github.com/illmade-knight/go-lakesync/pkg/types"
)

// ====================================================================================
// The completion-signal publisher. After each run the summary is published to
// a Pub/Sub topic so downstream schedulers can react to finished ingestion
// without polling the bucket themselves.
// ====================================================================================

// SummaryPublisher publishes run summaries.
type SummaryPublisher interface {
	PublishSummary(ctx context.Context, summary *types.RunSummary) error
	Stop()
}

// GoogleSummaryPublisher implements SummaryPublisher on Google Pub/Sub.
type GoogleSummaryPublisher struct {
	topic  *pubsub.Topic
	logger zerolog.Logger
}

// NewGoogleSummaryPublisher creates the publisher and verifies the topic
// exists; a missing topic is a deployment error worth failing fast on.
func NewGoogleSummaryPublisher(ctx context.Context, client *pubsub.Client, topicID string, logger zerolog.Logger) (*GoogleSummaryPublisher, error) {
	if client == nil {
		return nil, fmt.Errorf("pubsub client cannot be nil")
	}
	if topicID == "" {
		return nil, fmt.Errorf("topic ID cannot be empty")
	}

	topic := client.Topic(topicID)
	exists, err := topic.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("check topic %s exists: %w", topicID, err)
	}
	if !exists {
		return nil, fmt.Errorf("pubsub topic %s does not exist", topicID)
	}

	return &GoogleSummaryPublisher{
		topic:  topic,
		logger: logger.With().Str("component", "GoogleSummaryPublisher").Str("topic_id", topicID).Logger(),
	}, nil
}

// PublishSummary sends the summary as JSON and waits for the server's
// acknowledgement. Attributes carry the run identity and completion state so
// subscribers can filter without decoding the payload.
func (p *GoogleSummaryPublisher) PublishSummary(ctx context.Context, summary *types.RunSummary) error {
	if summary == nil {
		return fmt.Errorf("summary cannot be nil")
	}

	payload, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("encode run summary: %w", err)
	}

	status := "incomplete"
	if summary.Complete() {
		status = "complete"
	}

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data: payload,
		Attributes: map[string]string{
			"run_id": summary.RunID,
			"status": status,
		},
	})

	msgID, err := result.Get(ctx)
	if err != nil {
		return fmt.Errorf("publish run summary: %w", err)
	}
	p.logger.Info().
		Str("run_id", summary.RunID).
		Str("msg_id", msgID).
		Str("status", status).
		Msg("Published run summary.")
	return nil
}

// Stop flushes any pending messages for the topic.
func (p *GoogleSummaryPublisher) Stop() {
	if p.topic != nil {
		p.topic.Stop()
	}
}
