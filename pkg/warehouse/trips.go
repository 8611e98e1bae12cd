package warehouse

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"
)

// ====================================================================================
// Trip record decoding. Bronze-layer trip CSVs are parsed into typed records
// ready for warehouse insertion. Rows with malformed timestamps are dropped
// and counted rather than failing the load: one bad row must never block a
// month.
// ====================================================================================

// TripRecord is one bikeshare trip as stored in the warehouse.
type TripRecord struct {
	RideID           string    `bigquery:"ride_id"`
	RideableType     string    `bigquery:"rideable_type"`
	StartedAt        time.Time `bigquery:"started_at"`
	EndedAt          time.Time `bigquery:"ended_at"`
	StartStationName string    `bigquery:"start_station_name"`
	StartStationID   string    `bigquery:"start_station_id"`
	EndStationName   string    `bigquery:"end_station_name"`
	EndStationID     string    `bigquery:"end_station_id"`
	StartLat         float64   `bigquery:"start_lat"`
	StartLng         float64   `bigquery:"start_lng"`
	EndLat           float64   `bigquery:"end_lat"`
	EndLng           float64   `bigquery:"end_lng"`
	MemberCasual     string    `bigquery:"member_casual"`
}

// tripTimeLayouts are the timestamp formats the provider has used over the
// years; newer exports carry fractional seconds.
var tripTimeLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.000",
	time.RFC3339,
}

// DecodeResult reports what a decode pass produced.
type DecodeResult struct {
	Records     []*TripRecord
	DroppedRows int
}

// DecodeTrips parses a Bronze-layer trip CSV into records. Column positions
// are resolved from the header so column reordering across export vintages is
// harmless; rows missing required fields are dropped and counted.
func DecodeTrips(csvData []byte) (*DecodeResult, error) {
	reader := csv.NewReader(bytes.NewReader(csvData))
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read trip CSV header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[name] = i
	}
	for _, required := range []string{"ride_id", "started_at", "ended_at"} {
		if _, ok := cols[required]; !ok {
			return nil, fmt.Errorf("trip CSV header is missing required column %q", required)
		}
	}

	result := &DecodeResult{}
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read trip CSV row: %w", err)
		}

		record, ok := decodeRow(row, cols)
		if !ok {
			result.DroppedRows++
			continue
		}
		result.Records = append(result.Records, record)
	}
	return result, nil
}

func decodeRow(row []string, cols map[string]int) (*TripRecord, bool) {
	cell := func(name string) string {
		i, ok := cols[name]
		if !ok || i >= len(row) {
			return ""
		}
		return row[i]
	}

	startedAt, ok := parseTripTime(cell("started_at"))
	if !ok {
		return nil, false
	}
	endedAt, ok := parseTripTime(cell("ended_at"))
	if !ok {
		return nil, false
	}
	rideID := cell("ride_id")
	if rideID == "" {
		return nil, false
	}

	return &TripRecord{
		RideID:           rideID,
		RideableType:     cell("rideable_type"),
		StartedAt:        startedAt,
		EndedAt:          endedAt,
		StartStationName: cell("start_station_name"),
		StartStationID:   cell("start_station_id"),
		EndStationName:   cell("end_station_name"),
		EndStationID:     cell("end_station_id"),
		StartLat:         parseFloat(cell("start_lat")),
		StartLng:         parseFloat(cell("start_lng")),
		EndLat:           parseFloat(cell("end_lat")),
		EndLng:           parseFloat(cell("end_lng")),
		MemberCasual:     cell("member_casual"),
	}, true
}

func parseTripTime(s string) (time.Time, bool) {
	for _, layout := range tripTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func parseFloat(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}
