package bronzestore

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"
)

func TestCheckpoint_ListExisting(t *testing.T) {
	client := NewMemoryClient()
	client.Seed("bronze-bucket", "divvy-trips/year=2023/month=01/202301-divvy-tripdata.csv", []byte("a"))
	client.Seed("bronze-bucket", "divvy-trips/year=2023/month=02/202302-divvy-tripdata.csv", []byte("b"))
	client.Seed("bronze-bucket", "weather-data/location=chicago/year=2023/month=01/weather_data_chicago_2023_01.csv", []byte("c"))

	cp, err := NewCheckpoint(client, "bronze-bucket", zerolog.Nop())
	require.NoError(t, err)

	existing, err := cp.ListExisting(context.Background(), "divvy-trips/")
	require.NoError(t, err)
	assert.Len(t, existing, 2)
	assert.Contains(t, existing, "divvy-trips/year=2023/month=01/202301-divvy-tripdata.csv")
	assert.NotContains(t, existing, "weather-data/location=chicago/year=2023/month=01/weather_data_chicago_2023_01.csv")
}

func TestCheckpoint_EmptyPrefix(t *testing.T) {
	cp, err := NewCheckpoint(NewMemoryClient(), "bronze-bucket", zerolog.Nop())
	require.NoError(t, err)

	existing, err := cp.ListExisting(context.Background(), "gbfs-data/")
	require.NoError(t, err)
	assert.Empty(t, existing)
}

func TestCheckpoint_TransientListFailure(t *testing.T) {
	client := &faultClient{
		inner:        NewMemoryClient(),
		listErr:      &googleapi.Error{Code: 503, Message: "try again"},
		listErrAfter: 0,
	}
	cp, err := NewCheckpoint(client, "bronze-bucket", zerolog.Nop())
	require.NoError(t, err)

	_, err = cp.ListExisting(context.Background(), "divvy-trips/")
	require.Error(t, err)
	assert.True(t, IsTransient(err))
}

func TestCheckpoint_FatalListFailure(t *testing.T) {
	client := &faultClient{
		inner:   NewMemoryClient(),
		listErr: &googleapi.Error{Code: 401, Message: "unauthorized"},
	}
	cp, err := NewCheckpoint(client, "bronze-bucket", zerolog.Nop())
	require.NoError(t, err)

	_, err = cp.ListExisting(context.Background(), "divvy-trips/")
	require.Error(t, err)

	var fatal *FatalError
	assert.ErrorAs(t, err, &fatal)
}

func TestNewCheckpoint_Validation(t *testing.T) {
	_, err := NewCheckpoint(nil, "bucket", zerolog.Nop())
	assert.Error(t, err)

	_, err = NewCheckpoint(NewMemoryClient(), "", zerolog.Nop())
	assert.Error(t, err)
}
