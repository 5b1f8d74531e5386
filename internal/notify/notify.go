// Package notify dispatches fire-and-forget notifications. Channel
// failures are logged and isolated; they never reach the caller and
// never affect handler results.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// Event is one notification.
type Event struct {
	Kind   string         `json:"kind"`
	Symbol string         `json:"symbol"`
	Detail map[string]any `json:"detail,omitempty"`
	At     time.Time      `json:"at"`
}

// Channel delivers events to one destination.
type Channel interface {
	Name() string
	Send(ctx context.Context, ev Event) error
}

// Notifier is what the engine calls.
type Notifier interface {
	Notify(kind, symbol string, detail map[string]any)
}

// Fanout dispatches each event to every channel in its own goroutine.
type Fanout struct {
	channels []Channel
	timeout  time.Duration
}

// NewFanout builds a notifier over the given channels.
func NewFanout(timeout time.Duration, channels ...Channel) *Fanout {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Fanout{channels: channels, timeout: timeout}
}

// Notify dispatches without blocking the caller. Each channel gets an
// independent timeout; one channel failing never affects another.
func (f *Fanout) Notify(kind, symbol string, detail map[string]any) {
	ev := Event{Kind: kind, Symbol: symbol, Detail: detail, At: time.Now().UTC()}
	for _, ch := range f.channels {
		go func(ch Channel) {
			ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
			defer cancel()
			if err := ch.Send(ctx, ev); err != nil {
				log.Warn().
					Err(err).
					Str("channel", ch.Name()).
					Str("kind", kind).
					Str("symbol", symbol).
					Msg("notification delivery failed")
			}
		}(ch)
	}
}

// LogChannel writes notifications to the structured log.
type LogChannel struct{}

func (LogChannel) Name() string { return "log" }

func (LogChannel) Send(ctx context.Context, ev Event) error {
	log.Info().
		Str("kind", ev.Kind).
		Str("symbol", ev.Symbol).
		Interface("detail", ev.Detail).
		Msg("notification")
	return nil
}

// WebhookChannel posts notifications to an outbound URL (email/push
// relays subscribe there).
type WebhookChannel struct {
	URL    string
	Client *http.Client
}

// NewWebhookChannel creates a webhook channel with its own client.
func NewWebhookChannel(url string, timeout time.Duration) *WebhookChannel {
	return &WebhookChannel{URL: url, Client: &http.Client{Timeout: timeout}}
}

func (c *WebhookChannel) Name() string { return "webhook" }

func (c *WebhookChannel) Send(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("notification webhook returned %d", resp.StatusCode)
	}
	return nil
}
