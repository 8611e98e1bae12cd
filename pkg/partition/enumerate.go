package partition

import (
	"time"

	"github.com/illmade-knight/go-lakesync/pkg/types"
)

// EnumerationConfig describes the static grid of units a run is expected to
// materialize. It is derived from the pipeline configuration at startup.
type EnumerationConfig struct {
	Years  []int
	Months []int

	// TripsTable is the archive table fragment, empty disables the source.
	TripsTable string

	// WeatherLocations are the location keys to fetch, empty disables the source.
	WeatherLocations []string

	// GBFSEndpoints are the feed names to snapshot, empty disables the source.
	GBFSEndpoints []string

	// HourlyEndpoints names the GBFS feeds that partition hourly rather than
	// daily (high-churn feeds such as station_status).
	HourlyEndpoints []string
}

// stampLayout matches the snapshot filename fragment used by the Bronze layer.
const stampLayout = "2006-01-02_15-04-05"

// EnumerateUnits generates the full expected-unit set for one run. Trips and
// weather units span the configured year/month grid; GBFS units are stamped
// with the run time, one per endpoint. The result is deterministic for a given
// config and clock reading.
func EnumerateUnits(cfg EnumerationConfig, now time.Time) []types.UnitOfWork {
	var units []types.UnitOfWork

	if cfg.TripsTable != "" {
		for _, year := range cfg.Years {
			for _, month := range cfg.Months {
				units = append(units, types.UnitOfWork{
					Source: types.SourceTrips,
					Table:  cfg.TripsTable,
					Year:   year,
					Month:  month,
					Hour:   types.HourUnset,
				})
			}
		}
	}

	for _, location := range cfg.WeatherLocations {
		for _, year := range cfg.Years {
			for _, month := range cfg.Months {
				units = append(units, types.UnitOfWork{
					Source: types.SourceWeather,
					Table:  location,
					Year:   year,
					Month:  month,
					Hour:   types.HourUnset,
				})
			}
		}
	}

	if len(cfg.GBFSEndpoints) > 0 {
		now = now.UTC()
		hourly := make(map[string]bool, len(cfg.HourlyEndpoints))
		for _, ep := range cfg.HourlyEndpoints {
			hourly[ep] = true
		}
		for _, endpoint := range cfg.GBFSEndpoints {
			unit := types.UnitOfWork{
				Source: types.SourceGBFS,
				Table:  endpoint,
				Year:   now.Year(),
				Month:  int(now.Month()),
				Day:    now.Day(),
				Hour:   types.HourUnset,
				Stamp:  now.Format(stampLayout),
			}
			if hourly[endpoint] {
				unit.Hour = now.Hour()
			}
			units = append(units, unit)
		}
	}

	return units
}
