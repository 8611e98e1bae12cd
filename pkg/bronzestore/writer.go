package bronzestore

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

// Writer uploads payloads to the destination bucket with overwrite semantics
// and verifies every write with a follow-up metadata check. Each key is owned
// by exactly one unit of work, so last-write-wins is safe and no locking is
// needed beyond the store's single-object atomicity.
type Writer struct {
	client Client
	bucket string
	logger zerolog.Logger
}

// NewWriter creates a Writer targeting the given bucket.
func NewWriter(client Client, bucket string, logger zerolog.Logger) (*Writer, error) {
	if client == nil {
		return nil, errors.New("storage client cannot be nil")
	}
	if bucket == "" {
		return nil, errors.New("destination bucket name is required")
	}
	return &Writer{
		client: client,
		bucket: bucket,
		logger: logger.With().Str("component", "BronzeWriter").Str("bucket", bucket).Logger(),
	}, nil
}

// Write streams data to key and confirms the object exists afterwards. The
// store's own success acknowledgement is not trusted: if the follow-up Attrs
// call cannot see the object, the write is reported as a
// WriteVerificationError and the unit stays missing for the next run.
func (w *Writer) Write(ctx context.Context, key string, data []byte, contentType string) error {
	obj := w.client.Bucket(w.bucket).Object(key)

	wr := obj.NewWriter(ctx)
	wr.SetContentType(contentType)

	if _, err := wr.Write(data); err != nil {
		_ = wr.Close()
		return classify(fmt.Sprintf("write %s", key), err)
	}
	if err := wr.Close(); err != nil {
		return classify(fmt.Sprintf("close %s", key), err)
	}

	attrs, err := obj.Attrs(ctx)
	if err != nil {
		if errors.Is(err, ErrObjectNotExist) {
			return &WriteVerificationError{Key: key}
		}
		return &WriteVerificationError{Key: key, Err: err}
	}

	w.logger.Info().
		Str("key", key).
		Int64("bytes_written", attrs.Size).
		Str("content_type", contentType).
		Msg("Successfully uploaded and verified object.")
	return nil
}
