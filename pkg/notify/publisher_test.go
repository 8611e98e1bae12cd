package notify_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/illmade-knight/go-lakesync/pkg/notify"
	"github.com/illmade-knight/go-lakesync/pkg/types"
)

func setupTestPubsub(t *testing.T, projectID, topicID string) (*pubsub.Client, *pstest.Server) {
	t.Helper()
	ctx := context.Background()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	opts := []option.ClientOption{
		option.WithEndpoint(srv.Addr),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		option.WithoutAuthentication(),
	}

	client, err := pubsub.NewClient(ctx, projectID, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	topic, err := client.CreateTopic(ctx, topicID)
	require.NoError(t, err)
	t.Cleanup(topic.Stop)

	return client, srv
}

func sampleSummary(complete bool) *types.RunSummary {
	summary := &types.RunSummary{
		RunID:         "run-123",
		StartedAt:     time.Now().Add(-time.Minute),
		FinishedAt:    time.Now(),
		ExpectedUnits: 4,
		Succeeded:     3,
		TotalBytes:    4096,
	}
	if complete {
		summary.Succeeded = 4
	} else {
		summary.Failed = 1
	}
	return summary
}

func TestGoogleSummaryPublisher_Publish(t *testing.T) {
	ctx := context.Background()
	client, srv := setupTestPubsub(t, "test-project", "ingestion-run-complete")

	publisher, err := notify.NewGoogleSummaryPublisher(ctx, client, "ingestion-run-complete", zerolog.Nop())
	require.NoError(t, err)
	defer publisher.Stop()

	require.NoError(t, publisher.PublishSummary(ctx, sampleSummary(true)))

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "run-123", msgs[0].Attributes["run_id"])
	assert.Equal(t, "complete", msgs[0].Attributes["status"])

	var decoded types.RunSummary
	require.NoError(t, json.Unmarshal(msgs[0].Data, &decoded))
	assert.Equal(t, "run-123", decoded.RunID)
	assert.Equal(t, 4, decoded.Succeeded)
}

func TestGoogleSummaryPublisher_IncompleteStatus(t *testing.T) {
	ctx := context.Background()
	client, srv := setupTestPubsub(t, "test-project", "ingestion-run-complete")

	publisher, err := notify.NewGoogleSummaryPublisher(ctx, client, "ingestion-run-complete", zerolog.Nop())
	require.NoError(t, err)
	defer publisher.Stop()

	require.NoError(t, publisher.PublishSummary(ctx, sampleSummary(false)))

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "incomplete", msgs[0].Attributes["status"])
}

func TestNewGoogleSummaryPublisher_MissingTopic(t *testing.T) {
	ctx := context.Background()
	client, _ := setupTestPubsub(t, "test-project", "some-other-topic")

	_, err := notify.NewGoogleSummaryPublisher(ctx, client, "nonexistent-topic", zerolog.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not exist")
}

func TestNewGoogleSummaryPublisher_Validation(t *testing.T) {
	ctx := context.Background()
	client, _ := setupTestPubsub(t, "test-project", "topic")

	_, err := notify.NewGoogleSummaryPublisher(ctx, nil, "topic", zerolog.Nop())
	assert.Error(t, err)

	_, err = notify.NewGoogleSummaryPublisher(ctx, client, "", zerolog.Nop())
	assert.Error(t, err)
}
