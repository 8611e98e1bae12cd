package sources

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/illmade-knight/go-lakesync/pkg/types"
)

// ====================================================================================
// The Open-Meteo historical weather adapter. One fetch covers one
// (location, year, month) unit: a GET against the archive API followed by
// re-encoding the daily arrays into the Bronze-layer CSV shape.
// ====================================================================================

// Coordinates locates a named collection point.
type Coordinates struct {
	Lat float64 `yaml:"lat"`
	Lon float64 `yaml:"lon"`
}

// WeatherConfig describes the weather source.
type WeatherConfig struct {
	// BaseURL of the archive API, e.g. "https://archive-api.open-meteo.com/v1/archive".
	BaseURL string

	// Locations maps location keys (unit.Table values) to coordinates.
	Locations map[string]Coordinates

	// Variables are the daily variables to request, comma-joined into the
	// `daily` query parameter and emitted as CSV columns in order.
	Variables []string

	// Timezone passed to the API so daily aggregates align to local days.
	Timezone string
}

// WeatherAdapter implements Adapter for the weather REST source.
type WeatherAdapter struct {
	cfg    WeatherConfig
	client *HTTPClient
	logger zerolog.Logger
	now    func() time.Time
}

// NewWeatherAdapter creates the adapter. The HTTP client is shared with other
// REST adapters so they draw from one rate budget.
func NewWeatherAdapter(cfg WeatherConfig, client *HTTPClient, logger zerolog.Logger) (*WeatherAdapter, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("weather base URL is required")
	}
	if len(cfg.Locations) == 0 {
		return nil, fmt.Errorf("at least one weather location is required")
	}
	if len(cfg.Variables) == 0 {
		return nil, fmt.Errorf("at least one weather variable is required")
	}
	if client == nil {
		return nil, fmt.Errorf("http client cannot be nil")
	}
	return &WeatherAdapter{
		cfg:    cfg,
		client: client,
		logger: logger.With().Str("component", "WeatherAdapter").Logger(),
		now:    time.Now,
	}, nil
}

func (a *WeatherAdapter) ContentType() string {
	return "text/csv"
}

// Fetch retrieves one month of daily weather for the unit's location and
// encodes it as CSV with location and partition metadata columns appended.
func (a *WeatherAdapter) Fetch(ctx context.Context, unit types.UnitOfWork) (*types.FetchResult, error) {
	coords, ok := a.cfg.Locations[unit.Table]
	if !ok {
		return nil, fmt.Errorf("unknown weather location %q", unit.Table)
	}

	startDate, endDate := monthRange(unit.Year, unit.Month)
	query := url.Values{}
	query.Set("latitude", strconv.FormatFloat(coords.Lat, 'f', 4, 64))
	query.Set("longitude", strconv.FormatFloat(coords.Lon, 'f', 4, 64))
	query.Set("start_date", startDate)
	query.Set("end_date", endDate)
	query.Set("daily", strings.Join(a.cfg.Variables, ","))
	query.Set("timezone", a.cfg.Timezone)

	started := time.Now()
	body, status, retries, err := a.client.Get(ctx, a.cfg.BaseURL, query)
	if err != nil {
		return &types.FetchResult{StatusCode: status, Retries: retries, Elapsed: time.Since(started)},
			fmt.Errorf("weather fetch for %s: %w", unit.ID(), err)
	}

	csvPayload, err := a.encodeCSV(body, unit, coords)
	if err != nil {
		return &types.FetchResult{StatusCode: status, Retries: retries, Elapsed: time.Since(started)}, err
	}

	a.logger.Info().
		Str("unit", unit.ID()).
		Int("retries", retries).
		Int("source_bytes", len(body)).
		Int("csv_bytes", len(csvPayload)).
		Msg("Fetched and encoded weather month.")

	return &types.FetchResult{
		Body:        csvPayload,
		StatusCode:  status,
		SourceBytes: int64(len(body)),
		Retries:     retries,
		Elapsed:     time.Since(started),
	}, nil
}

// weatherEnvelope is the API response shape; the daily block holds a "time"
// array plus one parallel array per requested variable.
type weatherEnvelope struct {
	Daily map[string]json.RawMessage `json:"daily"`
}

func (a *WeatherAdapter) encodeCSV(body []byte, unit types.UnitOfWork, coords Coordinates) ([]byte, error) {
	var envelope weatherEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("weather response for %s is not valid JSON: %w", unit.ID(), err)
	}
	if envelope.Daily == nil {
		return nil, &SchemaError{Source: types.SourceWeather, Subject: unit.ID(), Missing: "daily"}
	}

	var days []string
	if raw, ok := envelope.Daily["time"]; ok {
		if err := json.Unmarshal(raw, &days); err != nil {
			return nil, fmt.Errorf("weather daily.time for %s is malformed: %w", unit.ID(), err)
		}
	}
	if len(days) == 0 {
		return nil, &SchemaError{Source: types.SourceWeather, Subject: unit.ID(), Missing: "daily.time"}
	}

	// Parallel value arrays, decoded as generic JSON: most variables are
	// numeric but sunrise/sunset arrive as ISO-8601 strings. A variable the
	// API did not return yields empty cells rather than failing the month.
	values := make(map[string][]any, len(a.cfg.Variables))
	for _, variable := range a.cfg.Variables {
		raw, ok := envelope.Daily[variable]
		if !ok {
			continue
		}
		var series []any
		if err := json.Unmarshal(raw, &series); err != nil {
			return nil, fmt.Errorf("weather daily.%s for %s is malformed: %w", variable, unit.ID(), err)
		}
		values[variable] = series
	}

	fetchedAt := a.now().UTC().Format("2006-01-02 15:04:05 UTC")

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := append([]string{"date"}, a.cfg.Variables...)
	header = append(header, "location_key", "location_name", "latitude", "longitude", "year", "month", "fetched_at")
	if err := w.Write(header); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}

	for i, day := range days {
		row := make([]string, 0, len(header))
		row = append(row, day)
		for _, variable := range a.cfg.Variables {
			row = append(row, cellAt(values[variable], i))
		}
		row = append(row,
			unit.Table,
			titleCase(unit.Table),
			strconv.FormatFloat(coords.Lat, 'f', 4, 64),
			strconv.FormatFloat(coords.Lon, 'f', 4, 64),
			strconv.Itoa(unit.Year),
			strconv.Itoa(unit.Month),
			fetchedAt,
		)
		if err := w.Write(row); err != nil {
			return nil, fmt.Errorf("write csv row: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}

func cellAt(series []any, i int) string {
	if i >= len(series) || series[i] == nil {
		return ""
	}
	switch v := series[i].(type) {
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	default:
		return fmt.Sprint(v)
	}
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// monthRange returns the first and last calendar day of a month as
// "YYYY-MM-DD" strings.
func monthRange(year, month int) (string, string) {
	first := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	last := first.AddDate(0, 1, -1)
	return first.Format("2006-01-02"), last.Format("2006-01-02")
}
