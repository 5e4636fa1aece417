package exchange

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"positionengine/internal/domain"
)

func newTestClient(url string) *Client {
	return NewClient(ClientConfig{
		BaseURL:           url,
		APIKey:            "key",
		APISecret:         "secret",
		RequestsPerSecond: 1000,
		Timeout:           time.Second,
	})
}

func TestFetchOpenPositions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/account/positions", r.URL.Path)
		assert.Equal(t, "key", r.Header.Get("X-API-KEY"))
		assert.NotEmpty(t, r.Header.Get("X-API-SIGNATURE"))
		assert.NotEmpty(t, r.Header.Get("X-API-TIMESTAMP"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"positions":[
			{"symbol":"BTC-USD","side":"long","amount":"1.5"},
			{"symbol":"ETH-USD","side":"short","amount":"10"}
		]}`))
	}))
	defer srv.Close()

	positions, err := newTestClient(srv.URL).FetchOpenPositions(context.Background())
	require.NoError(t, err)
	require.Len(t, positions, 2)

	assert.Equal(t, "BTC-USD", positions[0].Symbol)
	assert.Equal(t, domain.SideLong, positions[0].Side)
	assert.Equal(t, "1.5", positions[0].Amount.String())
	assert.Equal(t, domain.SideShort, positions[1].Side)
}

func TestFetchOpenPositionsEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"positions":[]}`))
	}))
	defer srv.Close()

	positions, err := newTestClient(srv.URL).FetchOpenPositions(context.Background())
	require.NoError(t, err)
	assert.Empty(t, positions)
}

func TestFetchOpenPositionsBadSide(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"positions":[{"symbol":"BTC-USD","side":"sideways","amount":"1"}]}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).FetchOpenPositions(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown side")
}

func TestFetchBalance(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/account/balance", r.URL.Path)
		w.Write([]byte(`{"currency":"USD","total":"10000.50","available":"7500"}`))
	}))
	defer srv.Close()

	balance, err := newTestClient(srv.URL).FetchBalance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "USD", balance.Currency)
	assert.Equal(t, "10000.5", balance.Total.String())
	assert.Equal(t, "7500", balance.Available.String())
}

func TestErrorStatusMapped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"code":"RATE_LIMIT","message":"slow down"}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).FetchOpenPositions(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limited")
}

func TestRateLimiterRespectsContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"positions":[]}`))
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{
		BaseURL:           srv.URL,
		APIKey:            "key",
		APISecret:         "secret",
		RequestsPerSecond: 0.001,
	})

	// First request consumes the single burst token.
	_, err := c.FetchOpenPositions(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = c.FetchOpenPositions(ctx)
	require.Error(t, err)
}
