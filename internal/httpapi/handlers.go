package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/sawpanic/tradegate/internal/config"
	"github.com/sawpanic/tradegate/internal/engine"
	"github.com/sawpanic/tradegate/internal/signal"
	"github.com/sawpanic/tradegate/internal/store"
)

// maxPayloadBytes caps inbound webhook bodies.
const maxPayloadBytes = 64 * 1024

type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
	Kind  string `json:"kind,omitempty"`
}

type ackResponse struct {
	RequestID string `json:"request_id"`
	Event     string `json:"event"`
	Symbol    string `json:"symbol"`
	Status    string `json:"status"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// handleWebhook validates the alert synchronously and acknowledges
// before the engine runs it. Malformed alerts are the only 4xx path;
// policy rejections surface through the audit log and notifications,
// not the HTTP response.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxPayloadBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	sig, err := signal.Parse(body)
	if err != nil {
		var verr *signal.ValidationError
		if errors.As(err, &verr) {
			writeJSON(w, http.StatusBadRequest, errorResponse{
				Error: verr.Msg,
				Field: verr.Field,
				Kind:  string(verr.Kind),
			})
			return
		}
		writeError(w, http.StatusBadRequest, "malformed alert payload")
		return
	}

	id := requestID(r.Context())
	s.dispatch(sig, id)

	writeJSON(w, http.StatusAccepted, ackResponse{
		RequestID: id,
		Event:     string(sig.Kind()),
		Symbol:    sig.Instrument(),
		Status:    "accepted",
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"mode":      s.engine.Mode(),
		"timestamp": time.Now().UTC(),
	})
}

// intentAction adapts the one-argument engine operations that share
// the {id} route shape.
func (s *Server) intentAction(fn func(ctx context.Context, id string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		if err := fn(r.Context(), id); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				writeError(w, http.StatusNotFound, "not found: "+id)
				return
			}
			if errors.Is(err, engine.ErrLocked) {
				writeError(w, http.StatusConflict, err.Error())
				return
			}
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "id": id})
	}
}

func (s *Server) handleMarkFlat(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	res, err := s.engine.MarkFlat(r.Context(), symbol)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	switch res.Outcome {
	case engine.OutcomeRejected:
		writeJSON(w, http.StatusNotFound, res)
	case engine.OutcomeBlocked:
		writeJSON(w, http.StatusConflict, res)
	default:
		writeJSON(w, http.StatusOK, res)
	}
}

type tickerUpdateRequest struct {
	Enabled       bool `json:"enabled"`
	AlertsBlocked bool `json:"alerts_blocked"`
}

func (s *Server) handleUpdateTicker(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	var req tickerUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed ticker update")
		return
	}
	if err := s.engine.UpdateTicker(r.Context(), symbol, req.Enabled, req.AlertsBlocked); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"symbol":         symbol,
		"enabled":        req.Enabled,
		"alerts_blocked": req.AlertsBlocked,
	})
}

func (s *Server) handleResetTickers(w http.ResponseWriter, r *http.Request) {
	n, err := s.engine.ResetTickerBlocks(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"tickers_reset": n})
}

func (s *Server) handleGetMode(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]config.ExecutionMode{"mode": s.engine.Mode()})
}

type modeRequest struct {
	Mode config.ExecutionMode `json:"mode"`
}

func (s *Server) handleSetMode(w http.ResponseWriter, r *http.Request) {
	var req modeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed mode request")
		return
	}
	if err := s.engine.SetMode(req.Mode); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]config.ExecutionMode{"mode": req.Mode})
}
