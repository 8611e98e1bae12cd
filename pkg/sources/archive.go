package sources

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/illmade-knight/go-lakesync/pkg/archive"
	"github.com/illmade-knight/go-lakesync/pkg/bronzestore"
	"github.com/illmade-knight/go-lakesync/pkg/partition"
	"github.com/illmade-knight/go-lakesync/pkg/types"
)

// ====================================================================================
// The trip-archive adapter. The provider publishes one ZIP per month in a
// public bucket; a fetch downloads the ZIP and extracts the single trip CSV
// inside it. Months the provider has not published yet are a normal condition,
// reported through FetchResult.Missing rather than an error.
// ====================================================================================

// ArchiveConfig describes the public archive bucket.
type ArchiveConfig struct {
	// SourceBucket is the provider's public bucket holding the monthly ZIPs.
	SourceBucket string

	// MemberFragment selects the CSV inside the ZIP: the first .csv member
	// whose name contains this fragment is extracted.
	MemberFragment string
}

// ArchiveAdapter implements Adapter for the monthly trip-archive ZIPs.
type ArchiveAdapter struct {
	cfg    ArchiveConfig
	client bronzestore.Client
	keys   *partition.Builder
	logger zerolog.Logger
}

// NewArchiveAdapter creates the adapter. The storage client points at the
// provider's public bucket, not the destination.
func NewArchiveAdapter(cfg ArchiveConfig, client bronzestore.Client, keys *partition.Builder, logger zerolog.Logger) (*ArchiveAdapter, error) {
	if cfg.SourceBucket == "" {
		return nil, fmt.Errorf("archive source bucket is required")
	}
	if cfg.MemberFragment == "" {
		return nil, fmt.Errorf("archive member fragment is required")
	}
	if client == nil {
		return nil, fmt.Errorf("storage client cannot be nil")
	}
	if keys == nil {
		return nil, fmt.Errorf("key builder cannot be nil")
	}
	return &ArchiveAdapter{
		cfg:    cfg,
		client: client,
		keys:   keys,
		logger: logger.With().Str("component", "ArchiveAdapter").Logger(),
	}, nil
}

func (a *ArchiveAdapter) ContentType() string {
	return "text/csv"
}

// Fetch downloads the unit's monthly ZIP and extracts the trip CSV. The
// result's SourceBytes is the compressed archive size; Body holds the
// extracted CSV.
func (a *ArchiveAdapter) Fetch(ctx context.Context, unit types.UnitOfWork) (*types.FetchResult, error) {
	sourceKey, err := a.keys.ArchiveSourceKey(unit)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	obj := a.client.Bucket(a.cfg.SourceBucket).Object(sourceKey)

	// Cheap existence probe first so an unpublished month never downloads
	// anything.
	if _, err := obj.Attrs(ctx); err != nil {
		if errors.Is(err, bronzestore.ErrObjectNotExist) {
			a.logger.Info().
				Str("unit", unit.ID()).
				Str("source_key", sourceKey).
				Msg("Source archive not yet published, skipping.")
			return &types.FetchResult{Missing: true, Elapsed: time.Since(started)}, nil
		}
		return nil, fmt.Errorf("probe source archive %s: %w", sourceKey, err)
	}

	reader, err := obj.NewReader(ctx)
	if err != nil {
		if errors.Is(err, bronzestore.ErrObjectNotExist) {
			// Deleted between the probe and the read; still just missing.
			return &types.FetchResult{Missing: true, Elapsed: time.Since(started)}, nil
		}
		return nil, fmt.Errorf("open source archive %s: %w", sourceKey, err)
	}
	defer func() {
		_ = reader.Close()
	}()

	zipBytes, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("download source archive %s: %w", sourceKey, err)
	}

	csvData, memberName, err := archive.ExtractCSV(zipBytes, a.cfg.MemberFragment)
	if err != nil {
		return &types.FetchResult{SourceBytes: int64(len(zipBytes)), Elapsed: time.Since(started)},
			fmt.Errorf("extract %s: %w", sourceKey, err)
	}

	a.logger.Info().
		Str("unit", unit.ID()).
		Str("member", memberName).
		Int("zip_bytes", len(zipBytes)).
		Int("csv_bytes", len(csvData)).
		Msg("Downloaded and extracted trip archive.")

	return &types.FetchResult{
		Body:        csvData,
		SourceBytes: int64(len(zipBytes)),
		Elapsed:     time.Since(started),
	}, nil
}
