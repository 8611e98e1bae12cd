package sources

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastClientConfig() HTTPClientConfig {
	return HTTPClientConfig{
		Timeout:     2 * time.Second,
		MaxRetries:  3,
		BackoffBase: time.Millisecond,
		RateLimit:   1000,
		RateBurst:   10,
	}
}

func TestHTTPClient_RetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte("payload"))
	}))
	defer server.Close()

	client := NewHTTPClient(fastClientConfig(), zerolog.Nop())
	body, status, retries, err := client.Get(context.Background(), server.URL, nil)

	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, []byte("payload"), body)
	assert.Equal(t, 2, retries, "two failed attempts before success")
	assert.Equal(t, int32(3), calls.Load())
}

func TestHTTPClient_RetriesTruncatedBody(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			// Declare more bytes than are sent, so the client's body read
			// fails mid-stream despite the 200.
			w.Header().Set("Content-Length", "100")
			_, _ = w.Write([]byte("short"))
			return
		}
		_, _ = w.Write([]byte("payload"))
	}))
	defer server.Close()

	client := NewHTTPClient(fastClientConfig(), zerolog.Nop())
	body, status, retries, err := client.Get(context.Background(), server.URL, nil)

	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, []byte("payload"), body)
	assert.Equal(t, 1, retries, "truncated body retried like a connection failure")
}

func TestHTTPClient_NoRetryOnClientError(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := NewHTTPClient(fastClientConfig(), zerolog.Nop())
	_, status, retries, err := client.Get(context.Background(), server.URL, nil)

	require.Error(t, err)
	var statusErr *HTTPStatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, 0, retries)
	assert.Equal(t, int32(1), calls.Load(), "4xx must not be retried")
}

func TestHTTPClient_RetriesExhausted(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	cfg := fastClientConfig()
	cfg.MaxRetries = 2
	client := NewHTTPClient(cfg, zerolog.Nop())
	_, status, retries, err := client.Get(context.Background(), server.URL, nil)

	require.Error(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, 2, retries)
	assert.Equal(t, int32(3), calls.Load(), "initial attempt plus two retries")
}

func TestHTTPClient_QueryEncoding(t *testing.T) {
	var gotQuery url.Values
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		_, _ = w.Write([]byte("{}"))
	}))
	defer server.Close()

	client := NewHTTPClient(fastClientConfig(), zerolog.Nop())
	query := url.Values{}
	query.Set("latitude", "41.8781")
	query.Set("daily", "temperature_2m_max,temperature_2m_min")

	_, _, _, err := client.Get(context.Background(), server.URL, query)
	require.NoError(t, err)
	assert.Equal(t, "41.8781", gotQuery.Get("latitude"))
	assert.Equal(t, "temperature_2m_max,temperature_2m_min", gotQuery.Get("daily"))
}

func TestHTTPClient_ContextCancelledDuringBackoff(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	cfg := fastClientConfig()
	cfg.BackoffBase = time.Minute
	client := NewHTTPClient(cfg, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, _, _, err := client.Get(ctx, server.URL, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}
