package types

import (
	"fmt"
	"time"
)

// ====================================================================================
// This file defines the core value types shared across the ingestion pipeline:
// the unit of work, the per-unit outcome record and the aggregate run summary.
// ====================================================================================

// Source identifies which remote system a unit of work pulls from.
type Source string

const (
	// SourceTrips is the public archive bucket of monthly trip ZIPs.
	SourceTrips Source = "trips"
	// SourceWeather is the Open-Meteo historical weather REST API.
	SourceWeather Source = "weather"
	// SourceGBFS is the GBFS feed REST API.
	SourceGBFS Source = "gbfs"
)

// HourUnset marks the Hour dimension as absent. Zero is a valid hour, so the
// sentinel has to be negative.
const HourUnset = -1

// UnitOfWork identifies exactly one fetch/extract/upload task. Units are
// enumerated fresh at the start of each run and are immutable afterwards; a
// unit's storage key is a pure function of its fields.
type UnitOfWork struct {
	Source Source

	// Table is the source-specific name fragment: the archive table name for
	// trips ("divvy-tripdata"), the location key for weather ("chicago"),
	// or the feed endpoint for GBFS ("station_status").
	Table string

	Year  int
	Month int // 1-12; 0 when the source has no monthly dimension
	Day   int // 1-31; 0 when the source has no daily dimension
	Hour  int // 0-23; HourUnset unless the source partitions hourly

	// Stamp is the snapshot timestamp fragment embedded in GBFS object names,
	// e.g. "2025-08-25_14-00-00". Empty for trips and weather.
	Stamp string
}

// ID returns a short human-readable identity for logging and error messages.
func (u UnitOfWork) ID() string {
	switch {
	case u.Hour != HourUnset && u.Day > 0:
		return fmt.Sprintf("%s/%s/%04d-%02d-%02dT%02d", u.Source, u.Table, u.Year, u.Month, u.Day, u.Hour)
	case u.Day > 0:
		return fmt.Sprintf("%s/%s/%04d-%02d-%02d", u.Source, u.Table, u.Year, u.Month, u.Day)
	case u.Month > 0:
		return fmt.Sprintf("%s/%s/%04d-%02d", u.Source, u.Table, u.Year, u.Month)
	default:
		return fmt.Sprintf("%s/%s/%04d", u.Source, u.Table, u.Year)
	}
}

// FetchResult is the transient product of one source fetch.
type FetchResult struct {
	// Body is the payload ready for upload: extracted-and-encoded for REST
	// sources, the raw ZIP bytes for the archive source.
	Body []byte

	// Missing reports that the remote object does not exist. This is an
	// expected business outcome for archive months not yet published, not an
	// error, and is never retried.
	Missing bool

	// StatusCode is the final HTTP status for REST sources, zero otherwise.
	StatusCode int

	// SourceBytes is the size of the remote payload as fetched, before any
	// extraction or re-encoding.
	SourceBytes int64

	// Retries is the number of retry attempts consumed before the final
	// request, zero when the first attempt succeeded.
	Retries int

	Elapsed time.Duration
}

// Status is the terminal state of a unit within one run.
type Status string

const (
	StatusSuccess       Status = "success"
	StatusSkippedExists Status = "skipped_exists"
	StatusSourceMissing Status = "source_missing"
	StatusFailed        Status = "failed"
)

// IngestionOutcome records what happened to one unit during one run. Outcomes
// live only for the duration of the run; the destination bucket listing is the
// durable ledger.
type IngestionOutcome struct {
	Unit   UnitOfWork `json:"unit"`
	Key    string     `json:"key"`
	Status Status     `json:"status"`

	// Error carries the failure message when Status is StatusFailed.
	Error string `json:"error,omitempty"`

	SourceBytes    int64 `json:"source_bytes,omitempty"`
	ExtractedBytes int64 `json:"extracted_bytes,omitempty"`
	TargetBytes    int64 `json:"target_bytes,omitempty"`
	Retries        int   `json:"retries,omitempty"`

	CompletedAt time.Time `json:"completed_at"`
}

// RunSummary aggregates the outcomes of one engine invocation. It is the
// completion signal external schedulers poll before triggering downstream
// transformations.
type RunSummary struct {
	RunID      string    `json:"run_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	ExpectedUnits int `json:"expected_units"`
	Succeeded     int `json:"succeeded"`
	SkippedExists int `json:"skipped_exists"`
	SourceMissing int `json:"source_missing"`
	Failed        int `json:"failed"`

	// TotalBytes is the sum of target bytes written during this run.
	TotalBytes int64 `json:"total_bytes"`

	// CompletionPercent is materialized units over expected units, in [0,100].
	CompletionPercent float64 `json:"completion_percent"`

	Outcomes []IngestionOutcome `json:"outcomes"`
}

// Materialized returns how many expected units exist in the destination store
// after this run: those that were already present plus those written now.
func (s *RunSummary) Materialized() int {
	return s.Succeeded + s.SkippedExists
}

// Complete reports whether every expected unit is materialized.
func (s *RunSummary) Complete() bool {
	return s.ExpectedUnits > 0 && s.Materialized() == s.ExpectedUnits
}
