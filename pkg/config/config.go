package config

import (
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/illmade-knight/go-lakesync/pkg/partition"
	"github.com/illmade-knight/go-lakesync/pkg/sources"
	"github.com/illmade-knight/go-lakesync/pkg/syncengine"
)

// ====================================================================================
// Pipeline configuration, loaded from YAML. Every knob carries a default that
// reproduces the standard Chicago bikeshare deployment, so a minimal file only
// needs the destination bucket.
// ====================================================================================

// Duration wraps time.Duration so values like "30s" parse directly from YAML.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Config is the root pipeline configuration.
type Config struct {
	Destination DestinationConfig `yaml:"destination"`
	Trips       TripsConfig       `yaml:"trips"`
	Weather     WeatherConfig     `yaml:"weather"`
	GBFS        GBFSConfig        `yaml:"gbfs"`
	HTTP        HTTPConfig        `yaml:"http"`
	Engine      EngineConfig      `yaml:"engine"`
	Warehouse   WarehouseConfig   `yaml:"warehouse"`
	Notify      NotifyConfig      `yaml:"notify"`
	DBT         DBTConfig         `yaml:"dbt"`
}

// DestinationConfig names the Bronze-layer bucket.
type DestinationConfig struct {
	Bucket string `yaml:"bucket"`
}

// TripsConfig describes the public trip-archive source.
type TripsConfig struct {
	Enabled      *bool  `yaml:"enabled"`
	SourceBucket string `yaml:"source_bucket"`
	Table        string `yaml:"table"`
	Years        []int  `yaml:"years"`
	Months       []int  `yaml:"months"`

	// ExpectedColumns is the trip CSV header schema checked after extraction.
	ExpectedColumns []string `yaml:"expected_columns"`
}

// WeatherLocation pairs a location key with its coordinates.
type WeatherLocation struct {
	Lat float64 `yaml:"lat"`
	Lon float64 `yaml:"lon"`
}

// WeatherConfig describes the weather API source.
type WeatherConfig struct {
	Enabled   *bool                      `yaml:"enabled"`
	BaseURL   string                     `yaml:"base_url"`
	Locations map[string]WeatherLocation `yaml:"locations"`
	Variables []string                   `yaml:"variables"`
	Timezone  string                     `yaml:"timezone"`
}

// GBFSConfig describes the GBFS feed source.
type GBFSConfig struct {
	Enabled         *bool    `yaml:"enabled"`
	BaseURL         string   `yaml:"base_url"`
	Endpoints       []string `yaml:"endpoints"`
	HourlyEndpoints []string `yaml:"hourly_endpoints"`
}

// HTTPConfig tunes the shared REST client.
type HTTPConfig struct {
	Timeout     Duration `yaml:"timeout"`
	MaxRetries  int      `yaml:"max_retries"`
	BackoffBase Duration `yaml:"backoff_base"`
	RateLimit   float64  `yaml:"rate_limit"`
	RateBurst   int      `yaml:"rate_burst"`
}

// EngineConfig tunes the sync engine.
type EngineConfig struct {
	Concurrency       int      `yaml:"concurrency"`
	CheckpointRetries int      `yaml:"checkpoint_retries"`
	WriteTimeout      Duration `yaml:"write_timeout"`
}

// WarehouseConfig names the analytics destination for trip loads. Empty
// ProjectID disables warehouse loading.
type WarehouseConfig struct {
	ProjectID string `yaml:"project_id"`
	DatasetID string `yaml:"dataset_id"`
	TableID   string `yaml:"table_id"`
	BatchSize int    `yaml:"batch_size"`
}

// NotifyConfig names the completion-signal topic. Empty ProjectID disables
// publishing.
type NotifyConfig struct {
	ProjectID string `yaml:"project_id"`
	TopicID   string `yaml:"topic_id"`
}

// DBTConfig locates the transformation project. Empty ProjectDir disables the
// dbt trigger.
type DBTConfig struct {
	ProjectDir string   `yaml:"project_dir"`
	Bin        string   `yaml:"bin"`
	Timeout    Duration `yaml:"timeout"`

	// MinCompletionPercent gates transformation: below this threshold of
	// materialized units, dbt is not triggered.
	MinCompletionPercent float64 `yaml:"min_completion_percent"`
}

// Load reads, defaults and validates a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes raw YAML into a defaulted, validated Config.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func boolDefault(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

// ApplyDefaults fills every unset field with the standard deployment's value.
func (c *Config) ApplyDefaults() {
	if c.Trips.SourceBucket == "" {
		c.Trips.SourceBucket = "divvy-tripdata"
	}
	if c.Trips.Table == "" {
		c.Trips.Table = "divvy-tripdata"
	}
	if len(c.Trips.Years) == 0 {
		c.Trips.Years = []int{2023, 2024}
	}
	if len(c.Trips.Months) == 0 {
		c.Trips.Months = []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}
	}
	if len(c.Trips.ExpectedColumns) == 0 {
		c.Trips.ExpectedColumns = []string{
			"ride_id", "rideable_type", "started_at", "ended_at",
			"start_station_name", "start_station_id",
			"end_station_name", "end_station_id",
			"start_lat", "start_lng", "end_lat", "end_lng",
			"member_casual",
		}
	}

	if c.Weather.BaseURL == "" {
		c.Weather.BaseURL = "https://archive-api.open-meteo.com/v1/archive"
	}
	if len(c.Weather.Locations) == 0 {
		c.Weather.Locations = map[string]WeatherLocation{
			"chicago":  {Lat: 41.8781, Lon: -87.6298},
			"evanston": {Lat: 42.0451, Lon: -87.6877},
		}
	}
	if len(c.Weather.Variables) == 0 {
		c.Weather.Variables = []string{
			"temperature_2m_max", "temperature_2m_min", "temperature_2m_mean",
			"apparent_temperature_max", "apparent_temperature_min", "apparent_temperature_mean",
			"precipitation_sum", "rain_sum", "snowfall_sum", "precipitation_hours",
			"windspeed_10m_max", "windgusts_10m_max", "winddirection_10m_dominant",
			"shortwave_radiation_sum", "et0_fao_evapotranspiration",
			"sunrise", "sunset",
		}
	}
	if c.Weather.Timezone == "" {
		c.Weather.Timezone = "America/Chicago"
	}

	if c.GBFS.BaseURL == "" {
		c.GBFS.BaseURL = "https://gbfs.lyft.com/gbfs/2.3/chi/en"
	}
	if len(c.GBFS.Endpoints) == 0 {
		c.GBFS.Endpoints = []string{"station_information", "station_status", "system_information"}
	}
	if len(c.GBFS.HourlyEndpoints) == 0 {
		c.GBFS.HourlyEndpoints = []string{"station_status"}
	}

	if c.HTTP.Timeout <= 0 {
		c.HTTP.Timeout = Duration(30 * time.Second)
	}
	if c.HTTP.MaxRetries <= 0 {
		c.HTTP.MaxRetries = 3
	}
	if c.HTTP.BackoffBase <= 0 {
		c.HTTP.BackoffBase = Duration(2 * time.Second)
	}
	if c.HTTP.RateLimit <= 0 {
		c.HTTP.RateLimit = 0.5
	}
	if c.HTTP.RateBurst <= 0 {
		c.HTTP.RateBurst = 1
	}

	if c.Engine.Concurrency <= 0 {
		c.Engine.Concurrency = 4
	}
	if c.Engine.CheckpointRetries <= 0 {
		c.Engine.CheckpointRetries = 2
	}
	if c.Engine.WriteTimeout <= 0 {
		c.Engine.WriteTimeout = Duration(2 * time.Minute)
	}

	if c.Warehouse.DatasetID == "" {
		c.Warehouse.DatasetID = "bikeshare_bronze"
	}
	if c.Warehouse.TableID == "" {
		c.Warehouse.TableID = "trips"
	}
	if c.Warehouse.BatchSize <= 0 {
		c.Warehouse.BatchSize = 500
	}

	if c.Notify.TopicID == "" {
		c.Notify.TopicID = "ingestion-run-complete"
	}

	if c.DBT.Bin == "" {
		c.DBT.Bin = "dbt"
	}
	if c.DBT.Timeout <= 0 {
		c.DBT.Timeout = Duration(30 * time.Minute)
	}
	if c.DBT.MinCompletionPercent <= 0 {
		c.DBT.MinCompletionPercent = 100
	}
}

// Validate checks the invariants defaults cannot supply.
func (c *Config) Validate() error {
	if c.Destination.Bucket == "" {
		return fmt.Errorf("destination.bucket is required")
	}
	for _, month := range c.Trips.Months {
		if month < 1 || month > 12 {
			return fmt.Errorf("trips.months contains invalid month %d", month)
		}
	}
	for _, year := range c.Trips.Years {
		if year < 2000 || year > 2100 {
			return fmt.Errorf("trips.years contains implausible year %d", year)
		}
	}
	if boolDefault(c.Weather.Enabled, true) && len(c.Weather.Locations) == 0 {
		return fmt.Errorf("weather is enabled but has no locations")
	}
	hourly := make(map[string]bool, len(c.GBFS.HourlyEndpoints))
	for _, ep := range c.GBFS.HourlyEndpoints {
		hourly[ep] = true
	}
	known := make(map[string]bool, len(c.GBFS.Endpoints))
	for _, ep := range c.GBFS.Endpoints {
		known[ep] = true
	}
	for ep := range hourly {
		if !known[ep] {
			return fmt.Errorf("gbfs.hourly_endpoints names unknown endpoint %q", ep)
		}
	}
	return nil
}

// EnumerationConfig derives the expected-unit grid, honoring per-source
// enabled flags.
func (c *Config) EnumerationConfig() partition.EnumerationConfig {
	enumCfg := partition.EnumerationConfig{
		Years:  c.Trips.Years,
		Months: c.Trips.Months,
	}
	if boolDefault(c.Trips.Enabled, true) {
		enumCfg.TripsTable = c.Trips.Table
	}
	if boolDefault(c.Weather.Enabled, true) {
		for key := range c.Weather.Locations {
			enumCfg.WeatherLocations = append(enumCfg.WeatherLocations, key)
		}
		// Map iteration order is random; the grid must be stable.
		sort.Strings(enumCfg.WeatherLocations)
	}
	if boolDefault(c.GBFS.Enabled, true) {
		enumCfg.GBFSEndpoints = c.GBFS.Endpoints
		enumCfg.HourlyEndpoints = c.GBFS.HourlyEndpoints
	}
	return enumCfg
}

// HTTPClientConfig derives the shared REST client settings.
func (c *Config) HTTPClientConfig() sources.HTTPClientConfig {
	return sources.HTTPClientConfig{
		Timeout:     time.Duration(c.HTTP.Timeout),
		MaxRetries:  c.HTTP.MaxRetries,
		BackoffBase: time.Duration(c.HTTP.BackoffBase),
		RateLimit:   c.HTTP.RateLimit,
		RateBurst:   c.HTTP.RateBurst,
	}
}

// ArchiveSourceConfig derives the trip-archive adapter settings.
func (c *Config) ArchiveSourceConfig() sources.ArchiveConfig {
	return sources.ArchiveConfig{
		SourceBucket:   c.Trips.SourceBucket,
		MemberFragment: c.Trips.Table,
	}
}

// WeatherSourceConfig derives the weather adapter settings.
func (c *Config) WeatherSourceConfig() sources.WeatherConfig {
	locations := make(map[string]sources.Coordinates, len(c.Weather.Locations))
	for key, loc := range c.Weather.Locations {
		locations[key] = sources.Coordinates{Lat: loc.Lat, Lon: loc.Lon}
	}
	return sources.WeatherConfig{
		BaseURL:   c.Weather.BaseURL,
		Locations: locations,
		Variables: c.Weather.Variables,
		Timezone:  c.Weather.Timezone,
	}
}

// GBFSSourceConfig derives the GBFS adapter settings.
func (c *Config) GBFSSourceConfig() sources.GBFSConfig {
	return sources.GBFSConfig{
		BaseURL:   c.GBFS.BaseURL,
		Endpoints: c.GBFS.Endpoints,
	}
}

// SyncEngineConfig derives the engine settings.
func (c *Config) SyncEngineConfig(force bool) syncengine.Config {
	return syncengine.Config{
		Concurrency:         c.Engine.Concurrency,
		Force:               force,
		CheckpointRetries:   c.Engine.CheckpointRetries,
		WriteTimeout:        time.Duration(c.Engine.WriteTimeout),
		ExpectedTripColumns: c.Trips.ExpectedColumns,
	}
}
