package partition

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/illmade-knight/go-lakesync/pkg/types"
)

func timeForTest(t *testing.T) time.Time {
	t.Helper()
	at, err := time.Parse(time.RFC3339, "2025-08-25T14:00:00Z")
	require.NoError(t, err)
	return at
}

func TestEnumerateUnits_Grid(t *testing.T) {
	cfg := EnumerationConfig{
		Years:            []int{2023, 2024},
		Months:           []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12},
		TripsTable:       "divvy-tripdata",
		WeatherLocations: []string{"chicago", "evanston"},
		GBFSEndpoints:    []string{"station_information", "station_status", "system_information"},
		HourlyEndpoints:  []string{"station_status"},
	}

	units := EnumerateUnits(cfg, timeForTest(t))

	var trips, weather, gbfs int
	for _, u := range units {
		switch u.Source {
		case types.SourceTrips:
			trips++
		case types.SourceWeather:
			weather++
		case types.SourceGBFS:
			gbfs++
		}
	}
	assert.Equal(t, 24, trips, "2 years x 12 months")
	assert.Equal(t, 48, weather, "2 locations x 2 years x 12 months")
	assert.Equal(t, 3, gbfs, "one snapshot per endpoint")
	assert.Len(t, units, 75)
}

func TestEnumerateUnits_GBFSStamping(t *testing.T) {
	cfg := EnumerationConfig{
		GBFSEndpoints:   []string{"station_information", "station_status"},
		HourlyEndpoints: []string{"station_status"},
	}

	units := EnumerateUnits(cfg, timeForTest(t))
	require.Len(t, units, 2)

	info, status := units[0], units[1]
	assert.Equal(t, "station_information", info.Table)
	assert.Equal(t, types.HourUnset, info.Hour, "daily feed carries no hour")
	assert.Equal(t, 2025, info.Year)
	assert.Equal(t, 8, info.Month)
	assert.Equal(t, 25, info.Day)
	assert.Equal(t, "2025-08-25_14-00-00", info.Stamp)

	assert.Equal(t, "station_status", status.Table)
	assert.Equal(t, 14, status.Hour, "hourly feed is stamped with the run hour")
}

func TestEnumerateUnits_DisabledSources(t *testing.T) {
	units := EnumerateUnits(EnumerationConfig{
		Years:  []int{2023},
		Months: []int{1},
	}, timeForTest(t))
	assert.Empty(t, units)
}
