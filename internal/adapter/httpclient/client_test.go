package httpclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lotus-md/internal/domain"
	"lotus-md/internal/infra/logger"
)

func TestGetJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		assert.Equal(t, "Jakarta", r.URL.Query().Get("q"))
		assert.Equal(t, "k", r.URL.Query().Get("key"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"temp": 31.5}`))
	}))
	defer srv.Close()

	c := New("weather", Config{}, logger.Discard())
	var out struct {
		Temp float64 `json:"temp"`
	}
	err := c.GetJSON(context.Background(), srv.URL+"/current.json?key=k", url.Values{"q": {"Jakarta"}}, &out)
	require.NoError(t, err)
	assert.Equal(t, 31.5, out.Temp)
}

func TestGetJSONStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":{"message":"No matching location found."}}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	c := New("weather", Config{}, logger.Discard())
	var out map[string]any
	err := c.GetJSON(context.Background(), srv.URL, nil, &out)

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadRequest, se.Code)
	assert.Contains(t, se.Body, "No matching location")
}

func TestGetJSONBadBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer srv.Close()

	c := New("weather", Config{}, logger.Discard())
	var out map[string]any
	err := c.GetJSON(context.Background(), srv.URL, nil, &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode weather response")
}

func TestGetJSONInvalidURL(t *testing.T) {
	c := New("weather", Config{}, logger.Discard())
	err := c.GetJSON(context.Background(), "://bad", nil, &struct{}{})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestBreakerOpensOnServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := New("weather", Config{MaxFailures: 2, OpenTimeout: time.Minute}, logger.Discard())
	var out map[string]any
	for range 2 {
		require.Error(t, c.GetJSON(context.Background(), srv.URL, nil, &out))
	}
	assert.Equal(t, gobreaker.StateOpen, c.State())

	err := c.GetJSON(context.Background(), srv.URL, nil, &out)
	assert.ErrorIs(t, err, domain.ErrProviderError)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, int32(2), calls.Load())
}

func TestBreakerIgnoresClientErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New("weather", Config{MaxFailures: 1}, logger.Discard())
	var out map[string]any
	for range 3 {
		require.Error(t, c.GetJSON(context.Background(), srv.URL, nil, &out))
	}
	assert.Equal(t, gobreaker.StateClosed, c.State())
}

func TestTooManyRequestsIsRateLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := New("weather", Config{}, logger.Discard())
	var out map[string]any
	err := c.GetJSON(context.Background(), srv.URL, nil, &out)
	assert.ErrorIs(t, err, domain.ErrRateLimit)
	assert.True(t, domain.IsRetryableError(err))
}
