package broker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/tradegate/internal/config"
	"github.com/sawpanic/tradegate/internal/store"
)

func brokerConfig(url string) config.BrokerSection {
	return config.BrokerSection{
		URL:            url,
		Token:          "secret-token",
		Timeout:        2 * time.Second,
		RatePerSecond:  100,
		RateBurst:      100,
		BreakerName:    "broker-test",
		BreakerTimeout: 30 * time.Second,
	}
}

func sampleExec() *store.Execution {
	price := 189.50
	return &store.Execution{
		ID:         "exec-1",
		Symbol:     "AAPL",
		Action:     store.ActionBuy,
		Quantity:   10,
		LimitPrice: &price,
	}
}

func TestForwardPostsOrder(t *testing.T) {
	var got orderRequest
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	fwd := NewHTTP(brokerConfig(srv.URL))
	err := fwd.Forward(context.Background(), sampleExec())

	require.NoError(t, err)
	assert.Equal(t, "Bearer secret-token", auth)
	assert.Equal(t, "exec-1", got.ClientOrderID)
	assert.Equal(t, "AAPL", got.Symbol)
	assert.Equal(t, "buy", got.Action)
	assert.Equal(t, 10.0, got.Quantity)
	require.NotNil(t, got.LimitPrice)
	assert.Equal(t, 189.50, *got.LimitPrice)
}

func TestForwardNon2xxIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "margin check failed", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	fwd := NewHTTP(brokerConfig(srv.URL))
	err := fwd.Forward(context.Background(), sampleExec())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "422")
	assert.Contains(t, err.Error(), "margin check failed")
}

func TestForwardBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	fwd := NewHTTP(brokerConfig(srv.URL))
	for i := 0; i < 3; i++ {
		require.Error(t, fwd.Forward(context.Background(), sampleExec()))
	}
	require.EqualValues(t, 3, hits.Load())

	// Fourth attempt fails fast without reaching the bridge.
	err := fwd.Forward(context.Background(), sampleExec())
	require.Error(t, err)
	assert.EqualValues(t, 3, hits.Load(), "open breaker short-circuits")
}

func TestDryRunAlwaysSucceeds(t *testing.T) {
	assert.NoError(t, DryRun{}.Forward(context.Background(), sampleExec()))
}
