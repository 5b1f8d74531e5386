// Package broker forwards executions to the downstream broker bridge.
// Failures are recorded by the caller, never retried here; retry, if
// any, is the scheduler's responsibility.
package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/sawpanic/tradegate/internal/config"
	"github.com/sawpanic/tradegate/internal/store"
)

// Forwarder delivers one execution to the broker synchronously.
type Forwarder interface {
	Forward(ctx context.Context, exec *store.Execution) error
}

// orderRequest is the wire shape the broker bridge accepts.
type orderRequest struct {
	ClientOrderID string   `json:"client_order_id"`
	Symbol        string   `json:"symbol"`
	Action        string   `json:"action"`
	Quantity      float64  `json:"quantity"`
	LimitPrice    *float64 `json:"limit_price,omitempty"`
}

// HTTPForwarder posts orders to a broker bridge URL behind a circuit
// breaker and a client-side rate limit.
type HTTPForwarder struct {
	url     string
	token   string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
}

// NewHTTP creates a forwarder from broker config.
func NewHTTP(cfg config.BrokerSection) *HTTPForwarder {
	st := gobreaker.Settings{Name: cfg.BreakerName}
	st.Interval = 60 * time.Second
	st.Timeout = cfg.BreakerTimeout
	st.ReadyToTrip = func(counts gobreaker.Counts) bool {
		if counts.ConsecutiveFailures >= 3 {
			return true
		}
		total := counts.Requests
		if total < 20 {
			return false
		}
		return float64(counts.TotalFailures)/float64(total) > 0.05
	}

	return &HTTPForwarder{
		url:     cfg.URL,
		token:   cfg.Token,
		client:  &http.Client{Timeout: cfg.Timeout},
		breaker: gobreaker.NewCircuitBreaker(st),
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.RateBurst),
	}
}

// Forward posts the execution as a broker order. A non-2xx response or
// an open breaker surfaces as an error for the caller to record.
func (f *HTTPForwarder) Forward(ctx context.Context, exec *store.Execution) error {
	if err := f.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("broker rate limit: %w", err)
	}

	body, err := json.Marshal(orderRequest{
		ClientOrderID: exec.ID,
		Symbol:        exec.Symbol,
		Action:        string(exec.Action),
		Quantity:      exec.Quantity,
		LimitPrice:    exec.LimitPrice,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal order request: %w", err)
	}

	_, err = f.breaker.Execute(func() (any, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		if f.token != "" {
			req.Header.Set("Authorization", "Bearer "+f.token)
		}

		resp, err := f.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return nil, fmt.Errorf("broker returned %d: %s", resp.StatusCode, string(msg))
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("broker forward failed for %s: %w", exec.Symbol, err)
	}
	return nil
}

// DryRun is used when no broker URL is configured; it logs the order
// and reports success.
type DryRun struct{}

func (DryRun) Forward(ctx context.Context, exec *store.Execution) error {
	log.Info().
		Str("symbol", exec.Symbol).
		Str("action", string(exec.Action)).
		Float64("quantity", exec.Quantity).
		Msg("dry-run broker forward")
	return nil
}
