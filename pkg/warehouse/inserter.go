package warehouse

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/bigquery"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
)

// ====================================================================================
// The BigQuery insertion layer. A generic batch inserter streams typed records
// into a table, creating the table with an inferred schema when it does not
// exist yet.
// ====================================================================================

// DataBatchInserter abstracts batch insertion so the loader can be tested
// without a BigQuery backend.
type DataBatchInserter[T any] interface {
	InsertBatch(ctx context.Context, items []*T) error
	Close() error
}

// DatasetConfig names the destination table.
type DatasetConfig struct {
	ProjectID       string
	DatasetID       string
	TableID         string
	CredentialsFile string
}

// NewProductionClient creates a BigQuery client for production use.
func NewProductionClient(ctx context.Context, cfg *DatasetConfig, logger zerolog.Logger) (*bigquery.Client, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
		logger.Info().Str("credentials_file", cfg.CredentialsFile).Msg("Using specified credentials file for BigQuery client")
	} else {
		logger.Info().Msg("Using Application Default Credentials (ADC) for BigQuery client")
	}

	client, err := bigquery.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("bigquery.NewClient: %w", err)
	}
	return client, nil
}

// BigQueryInserter implements DataBatchInserter[T] for Google BigQuery.
type BigQueryInserter[T any] struct {
	client   *bigquery.Client
	table    *bigquery.Table
	inserter *bigquery.Inserter
	logger   zerolog.Logger
}

// NewBigQueryInserter creates a generic inserter for type T. If the target
// table does not exist it is created with a schema inferred from T's zero
// value; a StartedAt timestamp field triggers daily time partitioning.
func NewBigQueryInserter[T any](
	ctx context.Context,
	client *bigquery.Client,
	cfg *DatasetConfig,
	logger zerolog.Logger,
) (*BigQueryInserter[T], error) {
	if client == nil {
		return nil, errors.New("bigquery client cannot be nil")
	}
	if cfg == nil {
		return nil, errors.New("dataset config cannot be nil")
	}

	logger = logger.With().
		Str("project_id", client.Project()).
		Str("dataset_id", cfg.DatasetID).
		Str("table_id", cfg.TableID).
		Logger()

	tableRef := client.Dataset(cfg.DatasetID).Table(cfg.TableID)
	_, err := tableRef.Metadata(ctx)
	if err != nil {
		if !strings.Contains(err.Error(), "notFound") {
			return nil, fmt.Errorf("get table metadata: %w", err)
		}
		logger.Warn().Msg("BigQuery table not found. Attempting to create with inferred schema.")

		var zero T
		inferredSchema, inferErr := bigquery.InferSchema(zero)
		if inferErr != nil {
			return nil, fmt.Errorf("infer schema for type %T: %w", zero, inferErr)
		}

		tableMetadata := &bigquery.TableMetadata{Schema: inferredSchema}
		for _, field := range inferredSchema {
			if field.Name == "started_at" && field.Type == bigquery.TimestampFieldType {
				tableMetadata.TimePartitioning = &bigquery.TimePartitioning{
					Type:  bigquery.DayPartitioningType,
					Field: "started_at",
				}
				break
			}
		}

		if createErr := tableRef.Create(ctx, tableMetadata); createErr != nil {
			return nil, fmt.Errorf("create table %s.%s: %w", cfg.DatasetID, cfg.TableID, createErr)
		}
		logger.Info().Int("field_count", len(inferredSchema)).Msg("BigQuery table created with inferred schema.")
	}

	return &BigQueryInserter[T]{
		client:   client,
		table:    tableRef,
		inserter: tableRef.Inserter(),
		logger:   logger,
	}, nil
}

// InsertBatch streams one batch of records.
func (i *BigQueryInserter[T]) InsertBatch(ctx context.Context, items []*T) error {
	if len(items) == 0 {
		return nil
	}

	if err := i.inserter.Put(ctx, items); err != nil {
		i.logger.Error().Err(err).Int("batch_size", len(items)).Msg("Failed to insert rows into BigQuery")
		var multiErr bigquery.PutMultiError
		if errors.As(err, &multiErr) {
			for _, rowErr := range multiErr {
				i.logger.Error().
					Int("row_index", rowErr.RowIndex).
					Msgf("BigQuery insert error for row: %v", rowErr.Errors)
			}
		}
		return fmt.Errorf("bigquery Inserter.Put: %w", err)
	}

	i.logger.Debug().Int("batch_size", len(items)).Msg("Inserted batch into BigQuery.")
	return nil
}

// Close is a no-op; the client's lifecycle is managed by the caller so it can
// be shared across inserters.
func (i *BigQueryInserter[T]) Close() error {
	return nil
}
