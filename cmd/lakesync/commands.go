package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/illmade-knight/go-lakesync/pkg/bronzestore"
	"github.com/illmade-knight/go-lakesync/pkg/config"
	"github.com/illmade-knight/go-lakesync/pkg/dbt"
	"github.com/illmade-knight/go-lakesync/pkg/notify"
	"github.com/illmade-knight/go-lakesync/pkg/partition"
	"github.com/illmade-knight/go-lakesync/pkg/sources"
	"github.com/illmade-knight/go-lakesync/pkg/syncengine"
	"github.com/illmade-knight/go-lakesync/pkg/types"
	"github.com/illmade-knight/go-lakesync/pkg/warehouse"
)

type rootOptions struct {
	configPath string
	logLevel   string
}

func newRootCommand(logger zerolog.Logger) *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:          "lakesync",
		Short:        "Checkpointed batch ingestion into the Bronze data lake",
		SilenceUsage: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			level, err := zerolog.ParseLevel(opts.logLevel)
			if err != nil {
				return fmt.Errorf("invalid log level %q: %w", opts.logLevel, err)
			}
			zerolog.SetGlobalLevel(level)
			return nil
		},
	}

	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "lakesync.yaml", "path to the pipeline configuration file")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "info", "log level (trace, debug, info, warn, error)")

	root.AddCommand(newRunCommand(opts, logger))
	root.AddCommand(newStatusCommand(opts, logger))
	root.AddCommand(newDBTCommand(opts, logger))
	return root
}

func newRunCommand(opts *rootOptions, logger zerolog.Logger) *cobra.Command {
	var (
		force     bool
		dryRun    bool
		transform bool
		load      bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute one ingestion run",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}

			client, err := destinationClient(ctx, dryRun)
			if err != nil {
				return err
			}

			summary, err := executeRun(ctx, cfg, client, force, dryRun, logger)
			if summary != nil {
				printSummary(cmd, summary)
			}
			if err != nil {
				return err
			}

			if dryRun {
				logger.Info().Msg("Dry run: skipping notification, warehouse load and transformation.")
				return nil
			}

			if cfg.Notify.ProjectID != "" {
				if err := publishSummary(ctx, cfg, summary, logger); err != nil {
					return err
				}
			}
			if load && cfg.Warehouse.ProjectID != "" {
				if err := loadWarehouse(ctx, cfg, client, summary, logger); err != nil {
					return err
				}
			}
			if transform && cfg.DBT.ProjectDir != "" {
				runner, err := dbt.NewRunner(dbt.RunnerConfig{
					ProjectDir:           cfg.DBT.ProjectDir,
					Bin:                  cfg.DBT.Bin,
					Timeout:              time.Duration(cfg.DBT.Timeout),
					MinCompletionPercent: cfg.DBT.MinCompletionPercent,
				}, logger)
				if err != nil {
					return err
				}
				if err := runner.TransformAll(ctx, summary); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "re-ingest units that already exist in the destination")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "rehearse the run fully offline: in-memory destination store and canned source responses")
	cmd.Flags().BoolVar(&transform, "transform", false, "trigger the dbt project after a sufficiently complete run")
	cmd.Flags().BoolVar(&load, "load-warehouse", false, "load trip objects into the warehouse after the run")
	return cmd
}

func newStatusCommand(opts *rootOptions, logger zerolog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report how much of the expected grid is materialized",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			client, err := destinationClient(ctx, false)
			if err != nil {
				return err
			}
			checkpoint, err := bronzestore.NewCheckpoint(client, cfg.Destination.Bucket, logger)
			if err != nil {
				return err
			}

			keys := partition.NewBuilder()
			for _, source := range []types.Source{types.SourceTrips, types.SourceWeather, types.SourceGBFS} {
				existing, err := checkpoint.ListExisting(ctx, keys.SourcePrefix(source))
				if err != nil {
					return err
				}
				cmd.Printf("%-8s %d objects\n", source, len(existing))
			}
			return nil
		},
	}
}

func newDBTCommand(opts *rootOptions, logger zerolog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "dbt [command]",
		Short: "Invoke a single dbt command against the configured project",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			runner, err := dbt.NewRunner(dbt.RunnerConfig{
				ProjectDir: cfg.DBT.ProjectDir,
				Bin:        cfg.DBT.Bin,
				Timeout:    time.Duration(cfg.DBT.Timeout),
			}, logger)
			if err != nil {
				return err
			}
			return runner.Invoke(cmd.Context(), dbt.Command(args[0]), args[1:]...)
		},
	}
}

// destinationClient returns the real storage client, or the in-memory store
// for dry runs.
func destinationClient(ctx context.Context, dryRun bool) (bronzestore.Client, error) {
	if dryRun {
		return bronzestore.NewMemoryClient(), nil
	}
	return bronzestore.NewGoogleClient(ctx)
}

// rehearsalTransport serves canned source responses so a dry run never
// touches the network: a minimal daily block for the weather API, an empty
// stations feed for GBFS.
type rehearsalTransport struct{}

func (rehearsalTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	var payload string
	if strings.HasSuffix(req.URL.Path, ".json") {
		payload = fmt.Sprintf(`{"last_updated": %d, "ttl": 60, "version": "2.3", "data": {"stations": []}}`, time.Now().Unix())
	} else {
		payload = fmt.Sprintf(`{"daily": {"time": [%q]}}`, req.URL.Query().Get("start_date"))
	}
	return &http.Response{
		StatusCode: http.StatusOK,
		Status:     "200 OK",
		Body:       io.NopCloser(strings.NewReader(payload)),
		Header:     make(http.Header),
		Request:    req,
	}, nil
}

// executeRun wires the engine from configuration and runs it once. Dry runs
// substitute the rehearsal transport so the REST adapters stay offline, like
// the in-memory destination store already does for storage.
func executeRun(ctx context.Context, cfg *config.Config, client bronzestore.Client, force, dryRun bool, logger zerolog.Logger) (*types.RunSummary, error) {
	keys := partition.NewBuilder()
	httpCfg := cfg.HTTPClientConfig()
	if dryRun {
		httpCfg.Transport = rehearsalTransport{}
	}
	httpClient := sources.NewHTTPClient(httpCfg, logger)

	adapters := make(map[types.Source]sources.Adapter)

	tripsAdapter, err := sources.NewArchiveAdapter(cfg.ArchiveSourceConfig(), client, keys, logger)
	if err != nil {
		return nil, err
	}
	adapters[types.SourceTrips] = tripsAdapter

	weatherAdapter, err := sources.NewWeatherAdapter(cfg.WeatherSourceConfig(), httpClient, logger)
	if err != nil {
		return nil, err
	}
	adapters[types.SourceWeather] = weatherAdapter

	gbfsAdapter, err := sources.NewGBFSAdapter(cfg.GBFSSourceConfig(), httpClient, logger)
	if err != nil {
		return nil, err
	}
	adapters[types.SourceGBFS] = gbfsAdapter

	checkpoint, err := bronzestore.NewCheckpoint(client, cfg.Destination.Bucket, logger)
	if err != nil {
		return nil, err
	}
	writer, err := bronzestore.NewWriter(client, cfg.Destination.Bucket, logger)
	if err != nil {
		return nil, err
	}

	engine, err := syncengine.NewEngine(
		cfg.SyncEngineConfig(force),
		cfg.EnumerationConfig(),
		keys,
		adapters,
		checkpoint,
		writer,
		logger,
	)
	if err != nil {
		return nil, err
	}
	return engine.Run(ctx)
}

func publishSummary(ctx context.Context, cfg *config.Config, summary *types.RunSummary, logger zerolog.Logger) error {
	client, err := pubsub.NewClient(ctx, cfg.Notify.ProjectID)
	if err != nil {
		return fmt.Errorf("create pubsub client: %w", err)
	}
	defer func() {
		_ = client.Close()
	}()

	publisher, err := notify.NewGoogleSummaryPublisher(ctx, client, cfg.Notify.TopicID, logger)
	if err != nil {
		return err
	}
	defer publisher.Stop()
	return publisher.PublishSummary(ctx, summary)
}

// loadWarehouse pushes the trip objects written this run into BigQuery. Only
// freshly ingested objects are loaded; skipped ones are already there.
func loadWarehouse(ctx context.Context, cfg *config.Config, client bronzestore.Client, summary *types.RunSummary, logger zerolog.Logger) error {
	var keys []string
	for _, outcome := range summary.Outcomes {
		if outcome.Status == types.StatusSuccess && outcome.Unit.Source == types.SourceTrips {
			keys = append(keys, outcome.Key)
		}
	}
	if len(keys) == 0 {
		logger.Info().Msg("No new trip objects to load into the warehouse.")
		return nil
	}

	dsCfg := &warehouse.DatasetConfig{
		ProjectID: cfg.Warehouse.ProjectID,
		DatasetID: cfg.Warehouse.DatasetID,
		TableID:   cfg.Warehouse.TableID,
	}
	bqClient, err := warehouse.NewProductionClient(ctx, dsCfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		_ = bqClient.Close()
	}()

	inserter, err := warehouse.NewBigQueryInserter[warehouse.TripRecord](ctx, bqClient, dsCfg, logger)
	if err != nil {
		return err
	}

	loader, err := warehouse.NewTripLoader(warehouse.LoaderConfig{
		Bucket:    cfg.Destination.Bucket,
		BatchSize: cfg.Warehouse.BatchSize,
	}, client, inserter, logger)
	if err != nil {
		return err
	}

	report, err := loader.Load(ctx, keys)
	if err != nil {
		return err
	}
	logger.Info().
		Int("objects", report.ObjectsLoaded).
		Int("rows", report.RowsInserted).
		Int("dropped", report.RowsDropped).
		Msg("Warehouse load finished.")
	return nil
}

func printSummary(cmd *cobra.Command, summary *types.RunSummary) {
	encoded, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "encode summary: %v\n", err)
		return
	}
	cmd.Println(string(encoded))
}
