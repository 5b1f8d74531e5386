// Package httpapi is the inbound webhook surface and the manual
// control plane: signal ingestion, intent dispositions, admin actions
// and the live event socket.
package httpapi

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/sawpanic/tradegate/internal/config"
	"github.com/sawpanic/tradegate/internal/engine"
	"github.com/sawpanic/tradegate/internal/notify"
	"github.com/sawpanic/tradegate/internal/signal"
)

// Engine is the part of the signal engine the HTTP surface drives.
type Engine interface {
	Process(ctx context.Context, sig signal.Signal) (*engine.Result, error)
	ApproveIntent(ctx context.Context, id string) error
	DenyIntent(ctx context.Context, id string) error
	OffIntent(ctx context.Context, id string) error
	ReviveIntent(ctx context.Context, id string) error
	MarkFlat(ctx context.Context, symbol string) (*engine.Result, error)
	CancelExecution(ctx context.Context, id string) error
	ForceExecute(ctx context.Context, id string) error
	ResetTickerBlocks(ctx context.Context) (int, error)
	UpdateTicker(ctx context.Context, symbol string, enabled, alertsBlocked bool) error
	Mode() config.ExecutionMode
	SetMode(mode config.ExecutionMode) error
}

// Server is the webhook HTTP server.
type Server struct {
	router *mux.Router
	server *http.Server
	engine Engine
	hub    *notify.Hub
	cfg    config.ServerSection

	limiter *ipLimiter

	// dispatch runs one parsed signal through the engine. The default
	// runs in a goroutine so the webhook can acknowledge immediately.
	dispatch func(sig signal.Signal, requestID string)
}

// New creates the server. hub may be nil when the socket channel is
// disabled.
func New(eng Engine, hub *notify.Hub, cfg config.ServerSection) *Server {
	s := &Server{
		router:  mux.NewRouter(),
		engine:  eng,
		hub:     hub,
		cfg:     cfg,
		limiter: newIPLimiter(20, 40),
	}
	s.dispatch = s.dispatchAsync
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.loggingMiddleware)

	s.router.HandleFunc("/webhook", s.rateLimited(s.handleWebhook)).Methods("POST")
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	s.router.HandleFunc("/intents/{id}/approve", s.intentAction(s.engine.ApproveIntent)).Methods("POST")
	s.router.HandleFunc("/intents/{id}/deny", s.intentAction(s.engine.DenyIntent)).Methods("POST")
	s.router.HandleFunc("/intents/{id}/off", s.intentAction(s.engine.OffIntent)).Methods("POST")
	s.router.HandleFunc("/intents/{id}/revive", s.intentAction(s.engine.ReviveIntent)).Methods("POST")

	s.router.HandleFunc("/positions/{symbol}/flat", s.handleMarkFlat).Methods("POST")
	s.router.HandleFunc("/executions/{id}/cancel", s.intentAction(s.engine.CancelExecution)).Methods("POST")
	s.router.HandleFunc("/executions/{id}/execute", s.intentAction(s.engine.ForceExecute)).Methods("POST")

	s.router.HandleFunc("/tickers/{symbol}", s.handleUpdateTicker).Methods("PUT")
	s.router.HandleFunc("/tickers/reset", s.handleResetTickers).Methods("POST")

	s.router.HandleFunc("/mode", s.handleGetMode).Methods("GET")
	s.router.HandleFunc("/mode", s.handleSetMode).Methods("PUT")

	if s.hub != nil {
		s.router.HandleFunc("/ws", s.hub.ServeWS).Methods("GET")
	}
}

// Handler exposes the routed handler for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start blocks serving HTTP until the listener fails or closes.
func (s *Server) Start() error {
	log.Info().Str("addr", s.server.Addr).Msg("webhook server started")
	return s.server.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("webhook server shutting down")
	return s.server.Shutdown(ctx)
}

func (s *Server) dispatchAsync(sig signal.Signal, requestID string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		res, err := s.engine.Process(ctx, sig)
		if err != nil {
			log.Error().Err(err).
				Str("request_id", requestID).
				Str("symbol", sig.Instrument()).
				Str("event", string(sig.Kind())).
				Msg("signal processing failed")
			return
		}
		log.Info().
			Str("request_id", requestID).
			Str("symbol", sig.Instrument()).
			Str("event", string(sig.Kind())).
			Str("outcome", string(res.Outcome)).
			Str("reason", string(res.Reason)).
			Msg("signal processed")
	}()
}

// ipLimiter throttles webhook callers per source IP so one noisy
// strategy cannot starve the rest.
type ipLimiter struct {
	mu    sync.Mutex
	perIP map[string]*rate.Limiter
	limit rate.Limit
	burst int
}

func newIPLimiter(limit rate.Limit, burst int) *ipLimiter {
	return &ipLimiter{
		perIP: make(map[string]*rate.Limiter),
		limit: limit,
		burst: burst,
	}
}

func (l *ipLimiter) allow(ip string) bool {
	l.mu.Lock()
	lim, ok := l.perIP[ip]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.perIP[ip] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}

func (s *Server) rateLimited(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ip := r.RemoteAddr
		if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
			ip = host
		}
		if !s.limiter.allow(ip) {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next(w, r)
	}
}

type ctxKey int

const requestIDKey ctxKey = 0

func requestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()[:8]
		ctx := context.WithValue(r.Context(), requestIDKey, id)
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapper := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapper, r)

		log.Info().
			Str("request_id", requestID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", wrapper.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack lets the websocket upgrade pass through the logging wrapper.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return h.Hijack()
}
