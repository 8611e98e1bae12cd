package bronzestore

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"google.golang.org/api/iterator"
)

// Checkpoint answers "which units are already materialized?" by listing the
// destination bucket. The listing is the pipeline's only durable ledger: no
// side state, no database, just the objects themselves.
type Checkpoint struct {
	client Client
	bucket string
	logger zerolog.Logger
}

// NewCheckpoint creates a Checkpoint over the given bucket.
func NewCheckpoint(client Client, bucket string, logger zerolog.Logger) (*Checkpoint, error) {
	if client == nil {
		return nil, errors.New("storage client cannot be nil")
	}
	if bucket == "" {
		return nil, errors.New("checkpoint bucket name is required")
	}
	return &Checkpoint{
		client: client,
		bucket: bucket,
		logger: logger.With().Str("component", "Checkpoint").Str("bucket", bucket).Logger(),
	}, nil
}

// ListExisting returns the set of object keys under prefix, exactly as they
// exist in the store. A read-only operation; errors are classified into the
// transient/fatal taxonomy for the caller to act on.
func (c *Checkpoint) ListExisting(ctx context.Context, prefix string) (map[string]struct{}, error) {
	existing := make(map[string]struct{})

	it := c.client.Bucket(c.bucket).Objects(ctx, prefix)
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, classify(fmt.Sprintf("list %s", prefix), err)
		}
		existing[attrs.Name] = struct{}{}
	}

	c.logger.Debug().Str("prefix", prefix).Int("count", len(existing)).Msg("Listed existing objects under prefix.")
	return existing, nil
}
