package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/tradegate/internal/config"
	"github.com/sawpanic/tradegate/internal/engine"
	"github.com/sawpanic/tradegate/internal/signal"
	"github.com/sawpanic/tradegate/internal/store"
)

type stubEngine struct {
	processed []signal.Signal
	actions   []string
	flatRes   *engine.Result
	actionErr error
	mode      config.ExecutionMode
}

func newStubEngine() *stubEngine {
	return &stubEngine{mode: config.ModeSafe}
}

func (s *stubEngine) Process(ctx context.Context, sig signal.Signal) (*engine.Result, error) {
	s.processed = append(s.processed, sig)
	return &engine.Result{Outcome: engine.OutcomeAccepted}, nil
}

func (s *stubEngine) ApproveIntent(ctx context.Context, id string) error {
	s.actions = append(s.actions, "approve:"+id)
	return s.actionErr
}

func (s *stubEngine) DenyIntent(ctx context.Context, id string) error {
	s.actions = append(s.actions, "deny:"+id)
	return s.actionErr
}

func (s *stubEngine) OffIntent(ctx context.Context, id string) error {
	s.actions = append(s.actions, "off:"+id)
	return s.actionErr
}

func (s *stubEngine) ReviveIntent(ctx context.Context, id string) error {
	s.actions = append(s.actions, "revive:"+id)
	return s.actionErr
}

func (s *stubEngine) MarkFlat(ctx context.Context, symbol string) (*engine.Result, error) {
	s.actions = append(s.actions, "flat:"+symbol)
	return s.flatRes, nil
}

func (s *stubEngine) CancelExecution(ctx context.Context, id string) error {
	s.actions = append(s.actions, "cancel:"+id)
	return s.actionErr
}

func (s *stubEngine) ForceExecute(ctx context.Context, id string) error {
	s.actions = append(s.actions, "execute:"+id)
	return s.actionErr
}

func (s *stubEngine) ResetTickerBlocks(ctx context.Context) (int, error) {
	return 3, nil
}

func (s *stubEngine) UpdateTicker(ctx context.Context, symbol string, enabled, alertsBlocked bool) error {
	s.actions = append(s.actions, "ticker:"+symbol)
	return nil
}

func (s *stubEngine) Mode() config.ExecutionMode { return s.mode }

func (s *stubEngine) SetMode(mode config.ExecutionMode) error {
	if mode != config.ModeSafe && mode != config.ModeFull {
		return assert.AnError
	}
	s.mode = mode
	return nil
}

func newTestServer(eng *stubEngine) *Server {
	srv := New(eng, nil, config.ServerSection{Host: "127.0.0.1", Port: 0})
	// Run the engine inline so assertions see the processed signal.
	srv.dispatch = func(sig signal.Signal, requestID string) {
		_, _ = eng.Process(context.Background(), sig)
	}
	return srv
}

func doRequest(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rdr *strings.Reader
	if body == "" {
		rdr = strings.NewReader("")
	} else {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rdr)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestWebhookAcknowledgesValidAlert(t *testing.T) {
	eng := newStubEngine()
	srv := newTestServer(eng)

	rec := doRequest(t, srv, http.MethodPost, "/webhook",
		`{"event": "WALL", "ticker": "AAPL", "direction": "Long", "price": 189.34}`)

	require.Equal(t, http.StatusAccepted, rec.Code)

	var ack ackResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ack))
	assert.Equal(t, "WALL", ack.Event)
	assert.Equal(t, "AAPL", ack.Symbol)
	assert.NotEmpty(t, ack.RequestID)
	assert.Equal(t, ack.RequestID, rec.Header().Get("X-Request-ID"))

	require.Len(t, eng.processed, 1)
	assert.Equal(t, signal.KindWall, eng.processed[0].Kind())
}

func TestWebhookRejectsUnknownEvent(t *testing.T) {
	eng := newStubEngine()
	srv := newTestServer(eng)

	rec := doRequest(t, srv, http.MethodPost, "/webhook",
		`{"event": "BANANA", "ticker": "AAPL"}`)

	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, string(signal.UnknownEvent), resp.Kind)
	assert.Empty(t, eng.processed, "invalid alerts never reach the engine")
}

func TestWebhookRejectsMalformedJSON(t *testing.T) {
	eng := newStubEngine()
	srv := newTestServer(eng)

	rec := doRequest(t, srv, http.MethodPost, "/webhook", `{"event": `)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, eng.processed)
}

func TestIntentDispositionRoutes(t *testing.T) {
	eng := newStubEngine()
	srv := newTestServer(eng)

	for _, action := range []string{"approve", "deny", "off", "revive"} {
		rec := doRequest(t, srv, http.MethodPost, "/intents/abc123/"+action, "")
		assert.Equal(t, http.StatusOK, rec.Code, action)
	}
	assert.Equal(t, []string{"approve:abc123", "deny:abc123", "off:abc123", "revive:abc123"}, eng.actions)
}

func TestIntentRouteNotFound(t *testing.T) {
	eng := newStubEngine()
	eng.actionErr = store.ErrNotFound
	srv := newTestServer(eng)

	rec := doRequest(t, srv, http.MethodPost, "/intents/missing/approve", "")

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestExecutionRouteLockedConflict(t *testing.T) {
	eng := newStubEngine()
	eng.actionErr = engine.ErrLocked
	srv := newTestServer(eng)

	rec := doRequest(t, srv, http.MethodPost, "/executions/ex1/execute", "")

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestMarkFlatStatusMapping(t *testing.T) {
	cases := []struct {
		outcome engine.Outcome
		reason  engine.Reason
		status  int
	}{
		{engine.OutcomeAccepted, "", http.StatusOK},
		{engine.OutcomeRejected, engine.ReasonNoPosition, http.StatusNotFound},
		{engine.OutcomeBlocked, engine.ReasonCloseInProgress, http.StatusConflict},
	}
	for _, tc := range cases {
		eng := newStubEngine()
		eng.flatRes = &engine.Result{Outcome: tc.outcome, Reason: tc.reason}
		srv := newTestServer(eng)

		rec := doRequest(t, srv, http.MethodPost, "/positions/AAPL/flat", "")
		assert.Equal(t, tc.status, rec.Code, string(tc.outcome))
	}
}

func TestExecutionRoutes(t *testing.T) {
	eng := newStubEngine()
	srv := newTestServer(eng)

	rec := doRequest(t, srv, http.MethodPost, "/executions/ex1/cancel", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = doRequest(t, srv, http.MethodPost, "/executions/ex1/execute", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"cancel:ex1", "execute:ex1"}, eng.actions)
}

func TestTickerRoutes(t *testing.T) {
	eng := newStubEngine()
	srv := newTestServer(eng)

	rec := doRequest(t, srv, http.MethodPut, "/tickers/NVDA",
		`{"enabled": false, "alerts_blocked": true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"ticker:NVDA"}, eng.actions)

	rec = doRequest(t, srv, http.MethodPost, "/tickers/reset", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"tickers_reset": 3}`, rec.Body.String())
}

func TestModeRoundTrip(t *testing.T) {
	eng := newStubEngine()
	srv := newTestServer(eng)

	rec := doRequest(t, srv, http.MethodGet, "/mode", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"mode": "safe"}`, rec.Body.String())

	rec = doRequest(t, srv, http.MethodPut, "/mode", `{"mode": "full"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, config.ModeFull, eng.mode)

	rec = doRequest(t, srv, http.MethodPut, "/mode", `{"mode": "yolo"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWebhookRateLimitPerIP(t *testing.T) {
	eng := newStubEngine()
	srv := newTestServer(eng)
	srv.limiter = newIPLimiter(1, 2)

	body := `{"event": "WALL", "ticker": "AAPL", "direction": "Long"}`
	codes := []int{}
	for i := 0; i < 4; i++ {
		rec := doRequest(t, srv, http.MethodPost, "/webhook", body)
		codes = append(codes, rec.Code)
	}

	assert.Equal(t, http.StatusAccepted, codes[0])
	assert.Equal(t, http.StatusAccepted, codes[1])
	assert.Equal(t, http.StatusTooManyRequests, codes[2], "burst of 2 exhausted")
	assert.Equal(t, http.StatusTooManyRequests, codes[3])
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(newStubEngine())

	rec := doRequest(t, srv, http.MethodGet, "/health", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "safe", body["mode"])
}
