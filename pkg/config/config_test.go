package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_MinimalConfig(t *testing.T) {
	cfg, err := Parse([]byte("destination:\n  bucket: my-bronze-bucket\n"))
	require.NoError(t, err)

	assert.Equal(t, "my-bronze-bucket", cfg.Destination.Bucket)
	assert.Equal(t, "divvy-tripdata", cfg.Trips.SourceBucket)
	assert.Equal(t, []int{2023, 2024}, cfg.Trips.Years)
	assert.Len(t, cfg.Trips.Months, 12)
	assert.Len(t, cfg.Trips.ExpectedColumns, 13)
	assert.Len(t, cfg.Weather.Locations, 2)
	assert.Len(t, cfg.Weather.Variables, 17)
	assert.Equal(t, "America/Chicago", cfg.Weather.Timezone)
	assert.Equal(t, "https://gbfs.lyft.com/gbfs/2.3/chi/en", cfg.GBFS.BaseURL)
	assert.Equal(t, Duration(30*time.Second), cfg.HTTP.Timeout)
	assert.Equal(t, 4, cfg.Engine.Concurrency)
	assert.Equal(t, "dbt", cfg.DBT.Bin)
	assert.InDelta(t, 100.0, cfg.DBT.MinCompletionPercent, 0.001)
}

func TestParse_MissingBucket(t *testing.T) {
	_, err := Parse([]byte("trips:\n  table: divvy-tripdata\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "destination.bucket")
}

func TestParse_InvalidMonth(t *testing.T) {
	_, err := Parse([]byte(`
destination:
  bucket: b
trips:
  months: [1, 13]
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid month")
}

func TestParse_UnknownHourlyEndpoint(t *testing.T) {
	_, err := Parse([]byte(`
destination:
  bucket: b
gbfs:
  endpoints: [station_information]
  hourly_endpoints: [free_bike_status]
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "free_bike_status")
}

func TestParse_Overrides(t *testing.T) {
	cfg, err := Parse([]byte(`
destination:
  bucket: b
trips:
  years: [2022]
  months: [6]
weather:
  locations:
    oakpark:
      lat: 41.885
      lon: -87.7845
http:
  timeout: 10s
  rate_limit: 2.0
engine:
  concurrency: 8
`))
	require.NoError(t, err)

	assert.Equal(t, []int{2022}, cfg.Trips.Years)
	assert.Equal(t, []int{6}, cfg.Trips.Months)
	require.Contains(t, cfg.Weather.Locations, "oakpark")
	assert.InDelta(t, 41.885, cfg.Weather.Locations["oakpark"].Lat, 0.0001)
	assert.Equal(t, Duration(10*time.Second), cfg.HTTP.Timeout)
	assert.InDelta(t, 2.0, cfg.HTTP.RateLimit, 0.001)
	assert.Equal(t, 8, cfg.Engine.Concurrency)
}

func TestEnumerationConfig_StableAndComplete(t *testing.T) {
	cfg, err := Parse([]byte("destination:\n  bucket: b\n"))
	require.NoError(t, err)

	enumCfg := cfg.EnumerationConfig()
	assert.Equal(t, "divvy-tripdata", enumCfg.TripsTable)
	assert.Equal(t, []string{"chicago", "evanston"}, enumCfg.WeatherLocations, "locations sorted for stable enumeration")
	assert.Equal(t, cfg.GBFS.Endpoints, enumCfg.GBFSEndpoints)
	assert.Equal(t, []string{"station_status"}, enumCfg.HourlyEndpoints)
}

func TestEnumerationConfig_DisabledSources(t *testing.T) {
	cfg, err := Parse([]byte(`
destination:
  bucket: b
trips:
  enabled: false
gbfs:
  enabled: false
`))
	require.NoError(t, err)

	enumCfg := cfg.EnumerationConfig()
	assert.Empty(t, enumCfg.TripsTable)
	assert.Empty(t, enumCfg.GBFSEndpoints)
	assert.NotEmpty(t, enumCfg.WeatherLocations)
}

func TestLoad_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	require.NoError(t, os.WriteFile(path, []byte("destination:\n  bucket: file-bucket\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "file-bucket", cfg.Destination.Bucket)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestSyncEngineConfig_CarriesForce(t *testing.T) {
	cfg, err := Parse([]byte("destination:\n  bucket: b\n"))
	require.NoError(t, err)

	engineCfg := cfg.SyncEngineConfig(true)
	assert.True(t, engineCfg.Force)
	assert.Equal(t, 4, engineCfg.Concurrency)
	assert.Equal(t, cfg.Trips.ExpectedColumns, engineCfg.ExpectedTripColumns)
}
