package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/illmade-knight/go-lakesync/pkg/types"
)

// ====================================================================================
// The GBFS feed adapter. Each fetch captures one endpoint snapshot and wraps
// the raw feed in a Bronze-layer envelope carrying capture metadata, so
// downstream consumers can reconstruct when each snapshot was taken without
// parsing object keys.
// ====================================================================================

// GBFSConfig describes the GBFS feed source.
type GBFSConfig struct {
	// BaseURL of the feed root, e.g. "https://gbfs.example.com/gbfs/2.3/chi/en".
	BaseURL string

	// Endpoints are the feed names to capture, e.g. "station_information".
	Endpoints []string
}

// GBFSAdapter implements Adapter for GBFS feed snapshots.
type GBFSAdapter struct {
	cfg    GBFSConfig
	client *HTTPClient
	logger zerolog.Logger
}

// NewGBFSAdapter creates the adapter.
func NewGBFSAdapter(cfg GBFSConfig, client *HTTPClient, logger zerolog.Logger) (*GBFSAdapter, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("gbfs base URL is required")
	}
	if len(cfg.Endpoints) == 0 {
		return nil, fmt.Errorf("at least one gbfs endpoint is required")
	}
	if client == nil {
		return nil, fmt.Errorf("http client cannot be nil")
	}
	return &GBFSAdapter{
		cfg:    cfg,
		client: client,
		logger: logger.With().Str("component", "GBFSAdapter").Logger(),
	}, nil
}

func (a *GBFSAdapter) ContentType() string {
	return "application/json"
}

// gbfsFeed is the envelope every GBFS feed shares.
type gbfsFeed struct {
	Data        json.RawMessage `json:"data"`
	LastUpdated *int64          `json:"last_updated"`
	TTL         *int            `json:"ttl"`
	Version     string          `json:"version"`
}

// snapshotEnvelope is the Bronze-layer record written for each capture.
type snapshotEnvelope struct {
	EndpointName   string          `json:"endpoint_name"`
	FetchTimestamp string          `json:"fetch_timestamp"`
	FetchDate      string          `json:"fetch_date"`
	FetchHour      int             `json:"fetch_hour"`
	DataTimestamp  int64           `json:"data_timestamp"`
	TTL            int             `json:"ttl"`
	Version        string          `json:"version"`
	RecordCount    int             `json:"record_count"`
	RawData        json.RawMessage `json:"raw_data"`
}

// Fetch captures one endpoint snapshot and wraps it in the Bronze envelope. A
// feed without the required `data` and `last_updated` fields fails with a
// SchemaError: a malformed feed written to the lake would poison every
// downstream consumer.
func (a *GBFSAdapter) Fetch(ctx context.Context, unit types.UnitOfWork) (*types.FetchResult, error) {
	feedURL := fmt.Sprintf("%s/%s.json", a.cfg.BaseURL, unit.Table)

	started := time.Now()
	body, status, retries, err := a.client.Get(ctx, feedURL, nil)
	if err != nil {
		return &types.FetchResult{StatusCode: status, Retries: retries, Elapsed: time.Since(started)},
			fmt.Errorf("gbfs fetch for %s: %w", unit.ID(), err)
	}

	var feed gbfsFeed
	if err := json.Unmarshal(body, &feed); err != nil {
		return &types.FetchResult{StatusCode: status, Retries: retries, Elapsed: time.Since(started)},
			fmt.Errorf("gbfs response for %s is not valid JSON: %w", unit.ID(), err)
	}
	if len(feed.Data) == 0 {
		return &types.FetchResult{StatusCode: status, Retries: retries, Elapsed: time.Since(started)},
			&SchemaError{Source: types.SourceGBFS, Subject: unit.Table, Missing: "data"}
	}
	if feed.LastUpdated == nil {
		return &types.FetchResult{StatusCode: status, Retries: retries, Elapsed: time.Since(started)},
			&SchemaError{Source: types.SourceGBFS, Subject: unit.Table, Missing: "last_updated"}
	}

	ttl := 0
	if feed.TTL != nil {
		ttl = *feed.TTL
	}

	fetchedAt := started.UTC()
	envelope := snapshotEnvelope{
		EndpointName:   unit.Table,
		FetchTimestamp: fetchedAt.Format(time.RFC3339),
		FetchDate:      fetchedAt.Format("2006-01-02"),
		FetchHour:      fetchedAt.Hour(),
		DataTimestamp:  *feed.LastUpdated,
		TTL:            ttl,
		Version:        feed.Version,
		RecordCount:    countRecords(feed.Data),
		RawData:        feed.Data,
	}

	payload, err := json.MarshalIndent(envelope, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode gbfs envelope for %s: %w", unit.ID(), err)
	}

	a.logger.Info().
		Str("unit", unit.ID()).
		Int("retries", retries).
		Int("record_count", envelope.RecordCount).
		Msg("Captured GBFS snapshot.")

	return &types.FetchResult{
		Body:        payload,
		StatusCode:  status,
		SourceBytes: int64(len(body)),
		Retries:     retries,
		Elapsed:     time.Since(started),
	}, nil
}

// countRecords reports how many station records a feed carries, or zero for
// feeds without a stations array.
func countRecords(data json.RawMessage) int {
	var probe struct {
		Stations []json.RawMessage `json:"stations"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return 0
	}
	return len(probe.Stations)
}
