package partition

import (
	"fmt"

	"github.com/illmade-knight/go-lakesync/pkg/types"
)

// ====================================================================================
// This file derives deterministic storage keys from units of work. The key is
// the correctness anchor for idempotence: no two distinct units may ever map
// to the same key, and identical units must always map to the same key.
// ====================================================================================

// ConfigurationError reports a unit that is missing a dimension its source
// requires. It is fatal for the whole run: a bad enumeration means the
// expected-unit set itself cannot be trusted.
type ConfigurationError struct {
	Unit    types.UnitOfWork
	Missing string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("unit %s is missing required dimension %q", e.Unit.ID(), e.Missing)
}

// Builder turns units of work into destination object keys and partition
// prefixes. The prefixes are configurable so one bucket can host several
// environments side by side.
type Builder struct {
	TripsPrefix   string
	WeatherPrefix string
	GBFSPrefix    string
}

// NewBuilder returns a Builder with the standard Bronze-layer prefixes.
func NewBuilder() *Builder {
	return &Builder{
		TripsPrefix:   "divvy-trips",
		WeatherPrefix: "weather-data",
		GBFSPrefix:    "gbfs-data",
	}
}

// ObjectKey returns the full destination key for a unit, hierarchical
// partition directories followed by a filename embedding the same dimensions.
func (b *Builder) ObjectKey(u types.UnitOfWork) (string, error) {
	prefix, err := b.PartitionPrefix(u)
	if err != nil {
		return "", err
	}

	switch u.Source {
	case types.SourceTrips:
		return fmt.Sprintf("%s/%04d%02d-%s.csv", prefix, u.Year, u.Month, u.Table), nil
	case types.SourceWeather:
		return fmt.Sprintf("%s/weather_data_%s_%04d_%02d.csv", prefix, u.Table, u.Year, u.Month), nil
	case types.SourceGBFS:
		if u.Stamp == "" {
			return "", &ConfigurationError{Unit: u, Missing: "stamp"}
		}
		return fmt.Sprintf("%s/%s_%s.json", prefix, u.Table, u.Stamp), nil
	default:
		return "", &ConfigurationError{Unit: u, Missing: "source"}
	}
}

// PartitionPrefix returns the partition directory for a unit, without the
// filename. For GBFS units this is the granularity at which idempotence is
// judged: any existing object under the prefix counts as materialized.
func (b *Builder) PartitionPrefix(u types.UnitOfWork) (string, error) {
	if u.Table == "" {
		return "", &ConfigurationError{Unit: u, Missing: "table"}
	}
	if u.Year <= 0 {
		return "", &ConfigurationError{Unit: u, Missing: "year"}
	}

	switch u.Source {
	case types.SourceTrips:
		if u.Month < 1 || u.Month > 12 {
			return "", &ConfigurationError{Unit: u, Missing: "month"}
		}
		return fmt.Sprintf("%s/year=%04d/month=%02d", b.TripsPrefix, u.Year, u.Month), nil

	case types.SourceWeather:
		if u.Month < 1 || u.Month > 12 {
			return "", &ConfigurationError{Unit: u, Missing: "month"}
		}
		return fmt.Sprintf("%s/location=%s/year=%04d/month=%02d", b.WeatherPrefix, u.Table, u.Year, u.Month), nil

	case types.SourceGBFS:
		if u.Month < 1 || u.Month > 12 {
			return "", &ConfigurationError{Unit: u, Missing: "month"}
		}
		if u.Day < 1 || u.Day > 31 {
			return "", &ConfigurationError{Unit: u, Missing: "day"}
		}
		prefix := fmt.Sprintf("%s/endpoint=%s/year=%04d/month=%02d/day=%02d", b.GBFSPrefix, u.Table, u.Year, u.Month, u.Day)
		if u.Hour != types.HourUnset {
			if u.Hour < 0 || u.Hour > 23 {
				return "", &ConfigurationError{Unit: u, Missing: "hour"}
			}
			prefix = fmt.Sprintf("%s/hour=%02d", prefix, u.Hour)
		}
		return prefix, nil

	default:
		return "", &ConfigurationError{Unit: u, Missing: "source"}
	}
}

// SourcePrefix returns the top-level destination prefix for a source, used to
// scope checkpoint listings.
func (b *Builder) SourcePrefix(s types.Source) string {
	switch s {
	case types.SourceTrips:
		return b.TripsPrefix + "/"
	case types.SourceWeather:
		return b.WeatherPrefix + "/"
	case types.SourceGBFS:
		return b.GBFSPrefix + "/"
	default:
		return ""
	}
}

// ArchiveSourceKey returns the key of the ZIP in the public source bucket for
// a trips unit, e.g. "202301-divvy-tripdata.zip".
func (b *Builder) ArchiveSourceKey(u types.UnitOfWork) (string, error) {
	if u.Source != types.SourceTrips {
		return "", &ConfigurationError{Unit: u, Missing: "source"}
	}
	if u.Table == "" {
		return "", &ConfigurationError{Unit: u, Missing: "table"}
	}
	if u.Year <= 0 {
		return "", &ConfigurationError{Unit: u, Missing: "year"}
	}
	if u.Month < 1 || u.Month > 12 {
		return "", &ConfigurationError{Unit: u, Missing: "month"}
	}
	return fmt.Sprintf("%04d%02d-%s.zip", u.Year, u.Month, u.Table), nil
}
