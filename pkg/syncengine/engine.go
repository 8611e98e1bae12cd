package syncengine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/illmade-knight/go-lakesync/pkg/archive"
	"github.com/illmade-knight/go-lakesync/pkg/bronzestore"
	"github.com/illmade-knight/go-lakesync/pkg/partition"
	"github.com/illmade-knight/go-lakesync/pkg/sources"
	"github.com/illmade-knight/go-lakesync/pkg/types"
)

// ====================================================================================
// The sync engine drives one ingestion run end to end: enumerate the expected
// units, consult the destination listing to skip what already exists, then
// fetch and upload the remainder through a bounded worker pool. Every unit is
// isolated; one failure never stops the others.
// ====================================================================================

// CheckpointLister provides the destination listing used as the idempotence
// checkpoint.
type CheckpointLister interface {
	ListExisting(ctx context.Context, prefix string) (map[string]struct{}, error)
}

// ObjectWriter uploads one finished payload to the destination store.
type ObjectWriter interface {
	Write(ctx context.Context, key string, data []byte, contentType string) error
}

// Config holds the engine's operational knobs.
type Config struct {
	// Concurrency bounds the worker pool. Default 4.
	Concurrency int

	// Force re-ingests units even when the destination already holds them.
	Force bool

	// CheckpointRetries bounds retries of a transiently failing destination
	// listing before the run aborts. Default 2.
	CheckpointRetries int

	// CheckpointBackoff is the linear backoff base between listing retries.
	// Default 2s.
	CheckpointBackoff time.Duration

	// WriteTimeout bounds each destination upload. Uploads of in-flight units
	// are allowed to finish even when the run context is cancelled, so the
	// timeout is what actually bounds them. Default 2m.
	WriteTimeout time.Duration

	// ExpectedTripColumns is the header schema trip CSVs are checked against.
	// Missing columns are logged, not fatal: the Bronze layer stores what the
	// provider published.
	ExpectedTripColumns []string
}

func (c *Config) applyDefaults() {
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	if c.CheckpointRetries <= 0 {
		c.CheckpointRetries = 2
	}
	if c.CheckpointBackoff <= 0 {
		c.CheckpointBackoff = 2 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 2 * time.Minute
	}
}

// Engine coordinates one ingestion run.
type Engine struct {
	cfg        Config
	enumCfg    partition.EnumerationConfig
	keys       *partition.Builder
	adapters   map[types.Source]sources.Adapter
	checkpoint CheckpointLister
	writer     ObjectWriter
	logger     zerolog.Logger
	now        func() time.Time
}

// NewEngine assembles an engine from its collaborators. Every source present
// in the enumeration config must have a registered adapter.
func NewEngine(
	cfg Config,
	enumCfg partition.EnumerationConfig,
	keys *partition.Builder,
	adapters map[types.Source]sources.Adapter,
	checkpoint CheckpointLister,
	writer ObjectWriter,
	logger zerolog.Logger,
) (*Engine, error) {
	cfg.applyDefaults()
	if keys == nil {
		return nil, errors.New("key builder cannot be nil")
	}
	if len(adapters) == 0 {
		return nil, errors.New("at least one source adapter is required")
	}
	if checkpoint == nil {
		return nil, errors.New("checkpoint lister cannot be nil")
	}
	if writer == nil {
		return nil, errors.New("object writer cannot be nil")
	}
	return &Engine{
		cfg:        cfg,
		enumCfg:    enumCfg,
		keys:       keys,
		adapters:   adapters,
		checkpoint: checkpoint,
		writer:     writer,
		logger:     logger.With().Str("component", "Engine").Logger(),
		now:        time.Now,
	}, nil
}

// Run executes one ingestion pass and returns its summary. The returned error
// is non-nil only for run-level failures (a bad enumeration, an unlistable
// destination); per-unit failures are recorded in the summary instead.
func (e *Engine) Run(ctx context.Context) (*types.RunSummary, error) {
	runID := uuid.NewString()
	startedAt := e.now()
	logger := e.logger.With().Str("run_id", runID).Logger()

	units := partition.EnumerateUnits(e.enumCfg, startedAt)
	if len(units) == 0 {
		return nil, errors.New("enumeration produced no units; check the pipeline configuration")
	}
	for _, unit := range units {
		if _, ok := e.adapters[unit.Source]; !ok {
			return nil, fmt.Errorf("no adapter registered for source %q", unit.Source)
		}
	}

	existing, err := e.loadCheckpoint(ctx, units, logger)
	if err != nil {
		return nil, err
	}
	logger.Info().
		Int("expected_units", len(units)).
		Int("existing_objects", len(existing)).
		Bool("force", e.cfg.Force).
		Msg("Starting ingestion run.")

	var (
		mu       sync.Mutex
		outcomes []types.IngestionOutcome
	)
	record := func(o types.IngestionOutcome) {
		o.CompletedAt = e.now()
		mu.Lock()
		outcomes = append(outcomes, o)
		mu.Unlock()
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(e.cfg.Concurrency)

	for _, unit := range units {
		// Cancellation stops scheduling; units already running finish their
		// uploads so the destination never holds half a run's worth less than
		// it could.
		if groupCtx.Err() != nil {
			break
		}

		key, err := e.keys.ObjectKey(unit)
		if err != nil {
			// A key the builder rejects means the expected-unit set itself is
			// wrong; this aborts the run.
			return nil, err
		}

		if !e.cfg.Force && e.materialized(unit, key, existing) {
			logger.Debug().Str("unit", unit.ID()).Str("key", key).Msg("Already materialized, skipping.")
			record(types.IngestionOutcome{Unit: unit, Key: key, Status: types.StatusSkippedExists})
			continue
		}

		unit := unit
		group.Go(func() error {
			record(e.processUnit(groupCtx, unit, key, logger))
			return nil
		})
	}

	// Workers never return errors; Wait only synchronizes.
	_ = group.Wait()

	summary := buildSummary(runID, startedAt, e.now(), len(units), outcomes)
	logger.Info().
		Int("succeeded", summary.Succeeded).
		Int("skipped_exists", summary.SkippedExists).
		Int("source_missing", summary.SourceMissing).
		Int("failed", summary.Failed).
		Float64("completion_percent", summary.CompletionPercent).
		Msg("Ingestion run finished.")

	if err := ctx.Err(); err != nil {
		return summary, fmt.Errorf("run interrupted: %w", err)
	}
	return summary, nil
}

// loadCheckpoint lists the destination under each source prefix present in the
// unit set. Transient listing failures are retried; anything else aborts the
// run, because without a trustworthy listing idempotence cannot be guaranteed.
func (e *Engine) loadCheckpoint(ctx context.Context, units []types.UnitOfWork, logger zerolog.Logger) (map[string]struct{}, error) {
	prefixes := make(map[string]struct{})
	for _, unit := range units {
		prefixes[e.keys.SourcePrefix(unit.Source)] = struct{}{}
	}
	sorted := make([]string, 0, len(prefixes))
	for p := range prefixes {
		sorted = append(sorted, p)
	}
	sort.Strings(sorted)

	existing := make(map[string]struct{})
	for _, prefix := range sorted {
		listing, err := e.listWithRetry(ctx, prefix, logger)
		if err != nil {
			return nil, fmt.Errorf("checkpoint listing for prefix %q: %w", prefix, err)
		}
		for key := range listing {
			existing[key] = struct{}{}
		}
	}
	return existing, nil
}

func (e *Engine) listWithRetry(ctx context.Context, prefix string, logger zerolog.Logger) (map[string]struct{}, error) {
	var lastErr error
	for attempt := 0; attempt <= e.cfg.CheckpointRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt) * e.cfg.CheckpointBackoff
			logger.Warn().
				Str("prefix", prefix).
				Int("attempt", attempt+1).
				Err(lastErr).
				Msg("Checkpoint listing failed, backing off before retry.")
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		listing, err := e.checkpoint.ListExisting(ctx, prefix)
		if err == nil {
			return listing, nil
		}
		if !bronzestore.IsTransient(err) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

// materialized reports whether a unit already exists in the destination.
// Trips and weather keys are deterministic so an exact match suffices; GBFS
// filenames embed a capture stamp, so any object under the unit's partition
// prefix counts.
func (e *Engine) materialized(unit types.UnitOfWork, key string, existing map[string]struct{}) bool {
	if _, ok := existing[key]; ok {
		return true
	}
	if unit.Source != types.SourceGBFS {
		return false
	}
	prefix, err := e.keys.PartitionPrefix(unit)
	if err != nil {
		return false
	}
	prefix += "/"
	for existingKey := range existing {
		if strings.HasPrefix(existingKey, prefix) {
			return true
		}
	}
	return false
}

// processUnit runs one unit through fetch and upload, converting every failure
// into an outcome record.
func (e *Engine) processUnit(ctx context.Context, unit types.UnitOfWork, key string, logger zerolog.Logger) types.IngestionOutcome {
	adapter := e.adapters[unit.Source]

	result, err := adapter.Fetch(ctx, unit)
	if err != nil {
		logger.Error().Err(err).Str("unit", unit.ID()).Msg("Unit fetch failed.")
		outcome := types.IngestionOutcome{Unit: unit, Key: key, Status: types.StatusFailed, Error: err.Error()}
		if result != nil {
			outcome.SourceBytes = result.SourceBytes
			outcome.Retries = result.Retries
		}
		return outcome
	}
	if result.Missing {
		return types.IngestionOutcome{Unit: unit, Key: key, Status: types.StatusSourceMissing}
	}

	if unit.Source == types.SourceTrips && len(e.cfg.ExpectedTripColumns) > 0 {
		missing, err := archive.MissingColumns(result.Body, e.cfg.ExpectedTripColumns)
		if err != nil {
			logger.Warn().Err(err).Str("unit", unit.ID()).Msg("Trip CSV header could not be read.")
		} else if len(missing) > 0 {
			// Schema drift is recorded but the data still lands; the raw layer
			// preserves whatever the provider published.
			logger.Warn().
				Str("unit", unit.ID()).
				Strs("missing_columns", missing).
				Msg("Trip CSV is missing expected columns.")
		}
	}

	// The upload runs on a detached context so a cancelled run never leaves a
	// unit fetched but unwritten; the write timeout still bounds it.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.WriteTimeout)
	defer cancel()

	if err := e.writer.Write(writeCtx, key, result.Body, adapter.ContentType()); err != nil {
		logger.Error().Err(err).Str("unit", unit.ID()).Str("key", key).Msg("Unit upload failed.")
		return types.IngestionOutcome{
			Unit:        unit,
			Key:         key,
			Status:      types.StatusFailed,
			Error:       err.Error(),
			SourceBytes: result.SourceBytes,
			Retries:     result.Retries,
		}
	}

	logger.Info().
		Str("unit", unit.ID()).
		Str("key", key).
		Int("target_bytes", len(result.Body)).
		Msg("Unit ingested.")
	return types.IngestionOutcome{
		Unit:           unit,
		Key:            key,
		Status:         types.StatusSuccess,
		SourceBytes:    result.SourceBytes,
		ExtractedBytes: int64(len(result.Body)),
		TargetBytes:    int64(len(result.Body)),
		Retries:        result.Retries,
	}
}
