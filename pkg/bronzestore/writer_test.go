package bronzestore

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"
)

func TestWriter_WriteAndVerify(t *testing.T) {
	logger := zerolog.Nop()
	client := NewMemoryClient()
	writer, err := NewWriter(client, "bronze-bucket", logger)
	require.NoError(t, err)

	payload := []byte("ride_id,rideable_type\nABC,classic_bike\n")
	err = writer.Write(context.Background(), "divvy-trips/year=2023/month=01/202301-divvy-tripdata.csv", payload, "text/csv")
	require.NoError(t, err)

	stored, ok := client.Get("bronze-bucket", "divvy-trips/year=2023/month=01/202301-divvy-tripdata.csv")
	require.True(t, ok)
	assert.Equal(t, payload, stored)
}

func TestWriter_Overwrite(t *testing.T) {
	client := NewMemoryClient()
	client.Seed("bronze-bucket", "k", []byte("old"))
	writer, err := NewWriter(client, "bronze-bucket", zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, writer.Write(context.Background(), "k", []byte("new"), "text/csv"))

	stored, _ := client.Get("bronze-bucket", "k")
	assert.Equal(t, []byte("new"), stored, "last write wins")
}

func TestWriter_VerificationFailure(t *testing.T) {
	// The store acknowledges the write but the follow-up Attrs check cannot
	// see the object.
	client := &faultClient{inner: NewMemoryClient(), attrsErr: ErrObjectNotExist}
	writer, err := NewWriter(client, "bronze-bucket", zerolog.Nop())
	require.NoError(t, err)

	err = writer.Write(context.Background(), "k", []byte("data"), "text/csv")

	var verification *WriteVerificationError
	require.ErrorAs(t, err, &verification)
	assert.Equal(t, "k", verification.Key)
}

func TestWriter_CloseFailureClassified(t *testing.T) {
	client := &faultClient{
		inner:    NewMemoryClient(),
		closeErr: &googleapi.Error{Code: 503, Message: "backend unavailable"},
	}
	writer, err := NewWriter(client, "bronze-bucket", zerolog.Nop())
	require.NoError(t, err)

	err = writer.Write(context.Background(), "k", []byte("data"), "text/csv")
	assert.True(t, IsTransient(err), "5xx on close should be transient: %v", err)
}

func TestWriter_NilClient(t *testing.T) {
	_, err := NewWriter(nil, "bronze-bucket", zerolog.Nop())
	assert.Error(t, err)

	_, err = NewWriter(NewMemoryClient(), "", zerolog.Nop())
	assert.Error(t, err)
}

func TestClassify(t *testing.T) {
	assert.NoError(t, classify("op", nil))

	err := classify("op", &googleapi.Error{Code: 403, Message: "forbidden"})
	var fatal *FatalError
	require.ErrorAs(t, err, &fatal)
	assert.False(t, IsTransient(err))

	err = classify("op", &googleapi.Error{Code: 500})
	assert.True(t, IsTransient(err))

	err = classify("op", &googleapi.Error{Code: 429})
	assert.True(t, IsTransient(err))

	// Network-level trouble has no HTTP status and is worth retrying.
	err = classify("op", errors.New("connection reset by peer"))
	assert.True(t, IsTransient(err))
}
